// internal/database/store.go - BoltDB-backed session and cycle metadata store
package database

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	SessionsBucket = []byte("sessions")
	CyclesBucket   = []byte("cycles")
)

// CycleMeta records how a backend's polling has been going. It is operational
// bookkeeping only; snapshots themselves are never persisted.
type CycleMeta struct {
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	Cycles      uint64    `json:"cycles"`
	Failures    uint64    `json:"failures"`
}

// persistedCookie keeps the fields worth restoring after a restart.
type persistedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

type Store struct {
	db   *bbolt.DB
	path string
}

func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &Store{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{SessionsBucket, CyclesBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCookies persists a backend's session cookies. Session-only cookies
// (no expiry) are kept too; the backend decides whether they still work.
func (s *Store) SaveCookies(backend string, cookies []*http.Cookie) error {
	persisted := make([]persistedCookie, 0, len(cookies))
	for _, cookie := range cookies {
		persisted = append(persisted, persistedCookie{
			Name:     cookie.Name,
			Value:    cookie.Value,
			Path:     cookie.Path,
			Domain:   cookie.Domain,
			Expires:  cookie.Expires,
			Secure:   cookie.Secure,
			HttpOnly: cookie.HttpOnly,
		})
	}

	data, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("failed to marshal cookies: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(SessionsBucket).Put([]byte(backend), data)
	})
}

// LoadCookies restores a backend's persisted session cookies. Unknown
// backends and expired cookies yield an empty set, not an error.
func (s *Store) LoadCookies(backend string) ([]*http.Cookie, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(SessionsBucket).Get([]byte(backend)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, err
	}

	var persisted []persistedCookie
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cookies for %s: %w", backend, err)
	}

	now := time.Now()
	cookies := make([]*http.Cookie, 0, len(persisted))
	for _, p := range persisted {
		if !p.Expires.IsZero() && p.Expires.Before(now) {
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name:     p.Name,
			Value:    p.Value,
			Path:     p.Path,
			Domain:   p.Domain,
			Expires:  p.Expires,
			Secure:   p.Secure,
			HttpOnly: p.HttpOnly,
		})
	}
	return cookies, nil
}

func (s *Store) SaveCycleMeta(backend string, meta *CycleMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal cycle metadata: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(CyclesBucket).Put([]byte(backend), data)
	})
}

func (s *Store) LoadCycleMeta(backend string) (*CycleMeta, error) {
	var meta CycleMeta
	found := false

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(CyclesBucket).Get([]byte(backend))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &meta)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load cycle metadata for %s: %w", backend, err)
	}
	if !found {
		return &CycleMeta{}, nil
	}
	return &meta, nil
}
