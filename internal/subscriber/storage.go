package subscriber

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketSubscribers = []byte("subscribers")
	bucketEmails      = []byte("subscriber_emails")
)

// BoltStorage stores subscribers in bbolt. Keys are big-endian IDs taken
// from the bucket sequence, so cursor order is insertion order.
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage creates the subscriber buckets in db
func NewBoltStorage(db *bolt.DB) (*BoltStorage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSubscribers); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketEmails); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriber buckets: %w", err)
	}
	return &BoltStorage{db: db}, nil
}

// Insert stores a new subscriber
func (s *BoltStorage) Insert(ctx context.Context, sub *Subscriber) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		subs := tx.Bucket(bucketSubscribers)
		emails := tx.Bucket(bucketEmails)

		if emails.Get([]byte(sub.Email)) != nil {
			return ErrDuplicateEmail
		}

		seq, err := subs.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate id: %w", err)
		}
		id := int64(seq)

		rec := *sub
		rec.ID = id
		data, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal subscriber: %w", err)
		}

		key := idKey(id)
		if err := subs.Put(key, data); err != nil {
			return err
		}
		if err := emails.Put([]byte(sub.Email), key); err != nil {
			return err
		}

		sub.ID = id
		return nil
	})
}

// Delete removes a subscriber and its email index entry
func (s *BoltStorage) Delete(ctx context.Context, id int64) (*Subscriber, error) {
	var removed *Subscriber

	err := s.db.Update(func(tx *bolt.Tx) error {
		subs := tx.Bucket(bucketSubscribers)
		key := idKey(id)

		data := subs.Get(key)
		if data == nil {
			return nil
		}

		var sub Subscriber
		if err := json.Unmarshal(data, &sub); err != nil {
			return fmt.Errorf("failed to unmarshal subscriber: %w", err)
		}

		if err := subs.Delete(key); err != nil {
			return err
		}
		if err := tx.Bucket(bucketEmails).Delete([]byte(sub.Email)); err != nil {
			return err
		}

		removed = &sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// SetStatus updates a subscriber's status
func (s *BoltStorage) SetStatus(ctx context.Context, id int64, status Status) (*Subscriber, error) {
	var updated *Subscriber

	err := s.db.Update(func(tx *bolt.Tx) error {
		subs := tx.Bucket(bucketSubscribers)
		key := idKey(id)

		data := subs.Get(key)
		if data == nil {
			return ErrNotFound
		}

		var sub Subscriber
		if err := json.Unmarshal(data, &sub); err != nil {
			return fmt.Errorf("failed to unmarshal subscriber: %w", err)
		}
		sub.Status = status

		data, err := json.Marshal(&sub)
		if err != nil {
			return fmt.Errorf("failed to marshal subscriber: %w", err)
		}
		updated = &sub
		return subs.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List returns all subscribers in insertion order
func (s *BoltStorage) List(ctx context.Context) ([]*Subscriber, error) {
	var result []*Subscriber

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscribers).ForEach(func(k, v []byte) error {
			var sub Subscriber
			if err := json.Unmarshal(v, &sub); err != nil {
				return fmt.Errorf("failed to unmarshal subscriber: %w", err)
			}
			result = append(result, &sub)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func idKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}
