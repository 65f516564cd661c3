package wire

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/pslog"
	"pkt.systems/transcriptx/schema"
)

// DefaultDebounce coalesces bursts of writes before the file is read again.
const DefaultDebounce = 50 * time.Millisecond

// Item is one result of following a file: an event or a per-line decode error.
type Item struct {
	Event schema.Event
	Err   *DecodeError
}

// FollowOptions tunes Follow.
type FollowOptions struct {
	// FromEnd skips content present when following starts.
	FromEnd  bool
	Debounce time.Duration
}

// Follow streams events appended to a JSONL file. The channel is closed when ctx is
// done or the file is removed or renamed. A trailing partial line is held back until
// its newline arrives.
func Follow(ctx context.Context, path string, opts FollowOptions) (<-chan Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var offset int64
	if opts.FromEnd {
		if offset, err = f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		_ = f.Close()
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	t := &tailer{
		file:     f,
		offset:   offset,
		watcher:  watcher,
		out:      make(chan Item, 64),
		debounce: opts.Debounce,
		log:      pslog.Ctx(ctx).With("path", path),
	}
	go t.loop(ctx)
	return t.out, nil
}

type tailer struct {
	file     *os.File
	offset   int64
	watcher  *fsnotify.Watcher
	out      chan Item
	debounce time.Duration
	pending  []byte
	line     int
	log      pslog.Logger
}

func (t *tailer) loop(ctx context.Context) {
	defer close(t.out)
	defer func() { _ = t.file.Close() }()
	defer func() { _ = t.watcher.Close() }()

	if !t.drain(ctx) {
		return
	}
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) {
				timer.Reset(t.debounce)
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				t.drain(ctx)
				t.log.Info("wire follow stopped", "reason", "file removed")
				return
			}
		case <-timer.C:
			if !t.drain(ctx) {
				return
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.log.Warn("wire follow watcher error", "err", err)
		}
	}
}

// drain reads every complete line currently available. It reports false when ctx
// ended during delivery.
func (t *tailer) drain(ctx context.Context) bool {
	if !t.rewindIfTruncated() {
		return true
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := t.file.Read(buf)
		if n > 0 {
			t.offset += int64(n)
			t.pending = append(t.pending, buf[:n]...)
			if !t.flushLines(ctx) {
				return false
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.log.Warn("wire follow read failed", "err", err)
			}
			return true
		}
	}
}

// rewindIfTruncated restarts from the top when the file shrank below the read
// offset. It reports false when the file can no longer be read.
func (t *tailer) rewindIfTruncated() bool {
	info, err := t.file.Stat()
	if err != nil {
		t.log.Warn("wire follow stat failed", "err", err)
		return false
	}
	if info.Size() >= t.offset {
		return true
	}
	if _, err := t.file.Seek(0, io.SeekStart); err != nil {
		t.log.Warn("wire follow rewind failed", "err", err)
		return false
	}
	t.log.Info("wire follow rewound", "reason", "file truncated", "offset", t.offset, "size", info.Size())
	t.offset = 0
	t.pending = nil
	t.line = 0
	return true
}

func (t *tailer) flushLines(ctx context.Context) bool {
	for {
		idx := bytes.IndexByte(t.pending, '\n')
		if idx < 0 {
			return true
		}
		line := bytes.TrimSpace(t.pending[:idx])
		t.pending = t.pending[idx+1:]
		t.line++
		if len(line) == 0 {
			continue
		}
		var item Item
		event, err := DecodeEvent(line)
		if err != nil {
			item.Err = &DecodeError{line: append([]byte(nil), line...), number: t.line, err: err}
		} else {
			item.Event = event
		}
		select {
		case t.out <- item:
		case <-ctx.Done():
			return false
		}
	}
}
