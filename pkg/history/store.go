// Package history persists chat history as append-only log files plus
// out-of-line voice blobs. There is no indexing and no compaction: one
// .jsonl log per user and per group under history/, one file per blob under
// media/, referenced by path from the record that describes it.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// Store writes history records and voice blobs under a data directory.
// All methods are safe for concurrent use from multiple connection
// handlers.
type Store struct {
	historyDir string
	mediaDir   string
	blobSeq    atomic.Uint64
}

// NewStore creates the history and media directories under dataDir if they
// do not exist yet.
func NewStore(dataDir string) (*Store, error) {
	s := &Store{
		historyDir: filepath.Join(dataDir, "history"),
		mediaDir:   filepath.Join(dataDir, "media"),
	}
	if err := os.MkdirAll(s.historyDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	if err := os.MkdirAll(s.mediaDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return s, nil
}

// GroupKey returns the log key for a group. The '#' sigil keeps group logs
// from colliding with user logs in the shared history directory.
func GroupKey(group string) string {
	return "#" + group
}

func (s *Store) logPath(key string) string {
	return filepath.Join(s.historyDir, key+".jsonl")
}

// Append writes one complete record line to the log for key, creating the
// log on first use. The line is written in a single call on an append-mode
// descriptor, so concurrent appenders to the same key never interleave
// partial lines.
func (s *Store) Append(key, line string) error {
	f, err := os.OpenFile(s.logPath(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", key, err)
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to append to log %s: %w", key, err)
	}
	return nil
}

// AppendRecord formats rec and appends it to the sender's personal log plus
// one target log: the group's shared log for group messages, the
// recipient's personal log otherwise. A direct message is never written to
// a group log and a group message is never fanned out to member logs.
func (s *Store) AppendRecord(rec Record) error {
	line := rec.Format()
	if err := s.Append(rec.From, line); err != nil {
		return err
	}
	if rec.IsGroup {
		return s.Append(GroupKey(rec.Target), line)
	}
	return s.Append(rec.Target, line)
}

// Read returns all record lines for key in append order. A log that has
// never been written reads as empty, not as an error.
func (s *Store) Read(key string) ([]string, error) {
	data, err := os.ReadFile(s.logPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log %s: %w", key, err)
	}
	trimmed := strings.TrimSuffix(string(data), "\n")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// StoreBlob writes data to a fresh file in the media directory and returns
// its path. Names combine a millisecond timestamp with a process-wide
// counter so two blobs stored within the same millisecond cannot collide.
func (s *Store) StoreBlob(data []byte) (string, error) {
	name := fmt.Sprintf("vn_%d_%d.raw", time.Now().UnixMilli(), s.blobSeq.Add(1))
	path := filepath.Join(s.mediaDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return path, nil
}
