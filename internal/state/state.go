// Package state persists small pieces of client session state between runs
// in a bbolt file. The file is opened per call so several processes can share it.
package state

import (
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	sessionBucket = []byte("session")
	lastActiveKey = []byte("last_active_conversation")
)

// Session is the on-disk session state.
type Session struct {
	path string
}

// Open returns the session stored at path. Nothing touches disk until first use.
func Open(path string) *Session {
	if path == "" {
		path = DefaultPath()
	}
	return &Session{path: path}
}

// DefaultPath is $XDG_STATE_HOME/solace/session.bolt or ~/.solace/session.bolt.
func DefaultPath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "solace", "session.bolt")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".solace", "session.bolt")
}

// Path returns the backing file.
func (s *Session) Path() string { return s.path }

// LastActive returns the conversation that was active when the client last
// selected one, or "".
func (s *Session) LastActive() (string, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return "", nil
	}
	db, err := s.open()
	if err != nil {
		return "", err
	}
	defer func() { _ = db.Close() }()

	var id string
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if b == nil {
			return nil
		}
		id = string(b.Get(lastActiveKey))
		return nil
	})
	return id, err
}

// SetLastActive records id; "" clears it.
func (s *Session) SetLastActive(id string) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(sessionBucket)
		if err != nil {
			return err
		}
		if id == "" {
			return b.Delete(lastActiveKey)
		}
		return b.Put(lastActiveKey, []byte(id))
	})
}

func (s *Session) open() (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, err
	}
	return bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
}
