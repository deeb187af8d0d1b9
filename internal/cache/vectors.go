// Package cache keeps computed vectors on local disk so re-embedding an
// unchanged text costs nothing.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketPrefix = "vectors:"

// VectorStore is a bbolt-backed vector cache with one bucket per model
type VectorStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Open opens or creates the cache file at path
func Open(path string) (*VectorStore, error) {
	if path == "" {
		return nil, fmt.Errorf("vector cache path missing")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open vector cache at %s: %w", path, err)
	}

	logger := slog.Default().With("component", "vector_cache")
	logger.Debug("vector cache opened", "path", path)
	return &VectorStore{db: db, logger: logger}, nil
}

// Close closes the cache file
func (s *VectorStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close vector cache: %w", err)
	}
	return nil
}

// Key hashes the text; raw control prose never becomes a bbolt key
func Key(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte(hex.EncodeToString(sum[:]))
}

func entryKey(variant, text string) []byte {
	return Key(variant + "\x00" + text)
}

// Get returns the cached vector for (model, variant, text). A miss or a
// corrupt entry both report false.
func (s *VectorStore) Get(model, variant, text string) ([]float32, bool) {
	var vec []float32
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketPrefix + model))
		if bucket == nil {
			return bolt.ErrBucketNotFound
		}
		data := bucket.Get(entryKey(variant, text))
		if data == nil {
			return bolt.ErrBucketNotFound
		}
		return json.Unmarshal(data, &vec)
	})
	if err != nil {
		return nil, false
	}
	return vec, true
}

// Put stores a vector for (model, variant, text)
func (s *VectorStore) Put(model, variant, text string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("failed to marshal vector: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(bucketPrefix + model))
		if err != nil {
			return err
		}
		return bucket.Put(entryKey(variant, text), data)
	})
}

// PurgeModel drops every vector cached for model
func (s *VectorStore) PurgeModel(model string) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		name := []byte(bucketPrefix + model)
		bucket := tx.Bucket(name)
		if bucket == nil {
			return nil
		}
		n = bucket.Stats().KeyN
		return tx.DeleteBucket(name)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache for %s: %w", model, err)
	}
	s.logger.Info("vector cache purged", "model", model, "deleted", n)
	return n, nil
}

// Stats counts cached vectors per model
func (s *VectorStore) Stats() (map[string]int, error) {
	out := map[string]int{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if len(name) > len(bucketPrefix) && string(name[:len(bucketPrefix)]) == bucketPrefix {
				out[string(name[len(bucketPrefix):])] = b.Stats().KeyN
			}
			return nil
		})
	})
	return out, err
}
