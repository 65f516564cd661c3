package schema

import "testing"

func TestValidSessionID(t *testing.T) {
	tests := map[SessionID]bool{
		"s1":                                   true,
		"run-1.a_b":                            true,
		"6f1c2a9e-1d2b-4c3d-9e8f-0a1b2c3d4e5f": true,
		"":                                     false,
		"a b":                                  false,
		"../x":                                 false,
		".hidden":                              false,
		"-flag":                                false,
		"state-tmp":                            false,
		"a/b":                                  false,
	}
	for id, want := range tests {
		if got := ValidSessionID(id); got != want {
			t.Fatalf("ValidSessionID(%q) = %v, want %v", id, got, want)
		}
	}
}
