package archive

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var bucketNewsletters = []byte("newsletters")

// BoltStorage stores records keyed by big-endian sequence IDs
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage creates the archive bucket in db
func NewBoltStorage(db *bolt.DB) (*BoltStorage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNewsletters)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive bucket: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

// Append assigns rec.ID and stores the record
func (s *BoltStorage) Append(ctx context.Context, rec *Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNewsletters)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = int64(seq)

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

// Get returns the record with id
func (s *BoltStorage) Get(ctx context.Context, id int64) (*Record, error) {
	var rec *Record

	err := s.db.View(func(tx *bolt.Tx) error {
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(id))

		data := tx.Bucket(bucketNewsletters).Get(key)
		if data == nil {
			return ErrNotFound
		}
		rec = &Record{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update replaces the stored record with rec.ID
func (s *BoltStorage) Update(ctx context.Context, rec *Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNewsletters)

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(rec.ID))
		if b.Get(key) == nil {
			return ErrNotFound
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		return b.Put(key, data)
	})
}

// List returns all records in insertion order
func (s *BoltStorage) List(ctx context.Context) ([]*Record, error) {
	var result []*Record

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNewsletters).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			result = append(result, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.records) + 1)
	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Update(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.ID == rec.ID {
			cp := *rec
			m.records[i] = &cp
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		cp := *r
		result = append(result, &cp)
	}
	return result, nil
}
