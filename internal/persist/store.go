package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/transcriptx/schema"
)

const snapshotExt = ".json"

// SessionSnapshot captures a session transcript for persistence.
type SessionSnapshot struct {
	ID              schema.SessionID    `json:"id"`
	CreatedAt       time.Time           `json:"created_at"`
	SavedAt         time.Time           `json:"saved_at"`
	Usage           schema.Usage        `json:"usage"`
	Chars           int64               `json:"chars"`
	Interrupted     bool                `json:"interrupted,omitempty"`
	AbortGeneration uint64              `json:"abort_generation,omitempty"`
	Lines           []schema.LineRecord `json:"lines"`
}

// NewSessionSnapshot encodes a projection into a snapshot.
func NewSessionSnapshot(info schema.SessionSnapshot, lines []schema.Line) (SessionSnapshot, error) {
	records, err := schema.EncodeLines(lines)
	if err != nil {
		return SessionSnapshot{}, fmt.Errorf("snapshot %s: %w", info.ID, err)
	}
	return SessionSnapshot{
		ID:              info.ID,
		CreatedAt:       info.CreatedAt,
		Usage:           info.Usage,
		Chars:           info.Chars,
		Interrupted:     info.Interrupted,
		AbortGeneration: info.AbortGeneration,
		Lines:           records,
	}, nil
}

// Transcript decodes the persisted lines in order.
func (s SessionSnapshot) Transcript() ([]schema.Line, error) {
	return schema.DecodeLines(s.Lines)
}

// Store persists session snapshots to disk.
type Store struct {
	dir string
	log pslog.Logger
	now func() time.Time
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger, now: time.Now}, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads a session snapshot from disk.
func (s *Store) Load(sessionID schema.SessionID) (SessionSnapshot, bool, error) {
	path, err := s.pathForSession(sessionID)
	if err != nil {
		return SessionSnapshot{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.debug("state load miss", "session", sessionID)
			return SessionSnapshot{}, false, nil
		}
		s.warn("state load failed", "session", sessionID, "err", err)
		return SessionSnapshot{}, false, err
	}
	var snapshot SessionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.warn("state load failed", "session", sessionID, "err", err)
		return SessionSnapshot{}, false, err
	}
	s.debug("state load ok", "session", sessionID, "lines", len(snapshot.Lines))
	return snapshot, true, nil
}

// Save writes a session snapshot to disk, replacing any previous one atomically.
func (s *Store) Save(sessionID schema.SessionID, snapshot SessionSnapshot) error {
	if snapshot.SavedAt.IsZero() {
		snapshot.SavedAt = s.now().UTC()
	}
	if snapshot.ID == "" {
		snapshot.ID = sessionID
	}
	path, err := s.pathForSession(sessionID)
	if err != nil {
		return err
	}
	if err := s.write(path, snapshot); err != nil {
		s.warn("state save failed", "session", sessionID, "err", err)
		return err
	}
	s.trace("state save ok", "session", sessionID, "lines", len(snapshot.Lines))
	return nil
}

// Delete removes a session snapshot. Missing snapshots are not an error.
func (s *Store) Delete(sessionID schema.SessionID) error {
	path, err := s.pathForSession(sessionID)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.warn("state delete failed", "session", sessionID, "err", err)
		return err
	}
	return nil
}

// List returns the persisted session ids in lexical order.
func (s *Store) List() ([]schema.SessionID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.warn("state list failed", "err", err)
		return nil, err
	}
	ids := make([]schema.SessionID, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, snapshotExt) || strings.HasPrefix(name, "state-") {
			continue
		}
		ids = append(ids, schema.SessionID(strings.TrimSuffix(name, snapshotExt)))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) write(path string, snapshot SessionSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) pathForSession(sessionID schema.SessionID) (string, error) {
	if !schema.ValidSessionID(sessionID) {
		return "", fmt.Errorf("snapshot for %q: %w", sessionID, schema.ErrInvalidSession)
	}
	return filepath.Join(s.dir, string(sessionID)+snapshotExt), nil
}

func (s *Store) debug(msg string, kv ...any) {
	if s.log != nil {
		s.log.Debug(msg, kv...)
	}
}

func (s *Store) trace(msg string, kv ...any) {
	if s.log != nil {
		s.log.Trace(msg, kv...)
	}
}

func (s *Store) warn(msg string, kv ...any) {
	if s.log != nil {
		s.log.Warn(msg, kv...)
	}
}
