package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

// CacheEntry is the ephemeral on-disk record for the active session.
// It never contains plaintext or the derived key.
type CacheEntry struct {
	CodeHash  string    `json:"session_code_hash"`
	PeerIP    string    `json:"peer_ip"`
	PeerPort  int       `json:"peer_port"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache is the disk-backed session metadata store. Entries exist only
// while a session is active: written at session start, purged at
// session end.
type Cache struct {
	db   *bolt.DB
	path string
}

var bucketSessions = []byte("sessions")

// OpenCache opens (creating if needed) the session cache database under
// the data directory.
func OpenCache(dataDir string) (*Cache, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to prepare data directory: %w", err)
	}
	path := filepath.Join(dataDir, "sessions.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketSessions)
		return e
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db, path: path}, nil
}

// Path returns the cache database file path.
func (c *Cache) Path() string { return c.path }

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// Put writes the entry for the given session ID.
func (c *Cache) Put(sessionID string, entry CacheEntry) error {
	buf, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketSessions)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		return bk.Put([]byte(sessionID), buf)
	})
}

// Get reads the entry for the given session ID.
func (c *Cache) Get(sessionID string) (CacheEntry, bool, error) {
	var entry CacheEntry
	var found bool
	err := c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketSessions)
		if bk == nil {
			return nil
		}
		v := bk.Get([]byte(sessionID))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return err
		}
		found = true
		return nil
	})
	return entry, found, err
}

// Purge removes the entry for the given session ID. Removing an absent
// entry is not an error.
func (c *Cache) Purge(sessionID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketSessions)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		return bk.Delete([]byte(sessionID))
	})
}
