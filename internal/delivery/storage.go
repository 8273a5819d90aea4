package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotRetryable    = errors.New("only failed messages can be retried")
)

var (
	bucketMessages = []byte("outbox_messages")
	bucketPending  = []byte("outbox_pending")
	bucketDeferred = []byte("outbox_deferred")
)

// BoltStorage implements Queue using bbolt
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage creates the outbox buckets in db
func NewBoltStorage(db *bolt.DB) (*BoltStorage, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMessages, bucketPending, bucketDeferred} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

// Enqueue adds messages to the outbox in a single transaction
func (s *BoltStorage) Enqueue(ctx context.Context, msgs ...*Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		msgBucket := tx.Bucket(bucketMessages)
		pendingBucket := tx.Bucket(bucketPending)

		for _, msg := range msgs {
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = time.Now()
			}
			msg.Status = StatusPending
			msg.UpdatedAt = msg.CreatedAt

			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to marshal message: %w", err)
			}
			if err := msgBucket.Put([]byte(msg.ID), data); err != nil {
				return fmt.Errorf("failed to store message: %w", err)
			}

			indexKey := makeIndexKey(msg.CreatedAt, msg.ID)
			if err := pendingBucket.Put(indexKey, []byte(msg.ID)); err != nil {
				return fmt.Errorf("failed to add to pending index: %w", err)
			}
		}

		return nil
	})
}

// Dequeue claims the next message: deferred messages whose retry time has
// passed first, then pending messages in creation order.
func (s *BoltStorage) Dequeue(ctx context.Context) (*Message, error) {
	var msg *Message

	err := s.db.Update(func(tx *bolt.Tx) error {
		msgBucket := tx.Bucket(bucketMessages)
		now := time.Now()

		claim := func(c *bolt.Cursor, v []byte) (bool, error) {
			msgData := msgBucket.Get(v)
			if msgData == nil {
				// Message was deleted, clean up index
				return false, c.Delete()
			}

			var m Message
			if err := json.Unmarshal(msgData, &m); err != nil {
				return false, nil
			}
			if m.Status != StatusPending && m.Status != StatusDeferred {
				// Stale index entry
				return false, c.Delete()
			}

			m.Status = StatusSending
			m.UpdatedAt = now

			data, err := json.Marshal(&m)
			if err != nil {
				return false, err
			}
			if err := msgBucket.Put([]byte(m.ID), data); err != nil {
				return false, err
			}
			if err := c.Delete(); err != nil {
				return false, err
			}

			msg = &m
			return true, nil
		}

		c := tx.Bucket(bucketDeferred).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if parseTimestampFromKey(k).After(now) {
				break // All remaining are in the future
			}
			if ok, err := claim(c, v); ok || err != nil {
				return err
			}
		}

		c = tx.Bucket(bucketPending).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ok, err := claim(c, v); ok || err != nil {
				return err
			}
		}

		return nil
	})

	return msg, err
}

// Update stores the message and indexes deferred messages by retry time
func (s *BoltStorage) Update(ctx context.Context, msg *Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		msg.UpdatedAt = time.Now()

		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := tx.Bucket(bucketMessages).Put([]byte(msg.ID), data); err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}

		if msg.Status == StatusDeferred {
			indexKey := makeIndexKey(msg.NextRetryAt, msg.ID)
			if err := tx.Bucket(bucketDeferred).Put(indexKey, []byte(msg.ID)); err != nil {
				return fmt.Errorf("failed to add to deferred index: %w", err)
			}
		}

		return nil
	})
}

// Get retrieves a message by ID
func (s *BoltStorage) Get(ctx context.Context, id string) (*Message, error) {
	var msg *Message

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMessages).Get([]byte(id))
		if data == nil {
			return nil
		}

		msg = &Message{}
		return json.Unmarshal(data, msg)
	})

	return msg, err
}

// List returns messages with optional filtering
func (s *BoltStorage) List(ctx context.Context, filter ListFilter) ([]*Message, error) {
	var messages []*Message

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()

		count := 0
		skipped := 0

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				continue
			}

			if filter.Status != "" && msg.Status != filter.Status {
				continue
			}
			if filter.NewsletterID != 0 && msg.NewsletterID != filter.NewsletterID {
				continue
			}

			if skipped < filter.Offset {
				skipped++
				continue
			}

			messages = append(messages, &msg)
			count++

			if filter.Limit > 0 && count >= filter.Limit {
				break
			}
		}

		return nil
	})

	return messages, err
}

// Stats returns outbox statistics
func (s *BoltStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return nil
			}

			stats.Total++
			switch msg.Status {
			case StatusPending:
				stats.Pending++
			case StatusSending:
				stats.Sending++
			case StatusDelivered:
				stats.Delivered++
			case StatusFailed:
				stats.Failed++
			case StatusDeferred:
				stats.Deferred++
			}
			return nil
		})
	})

	return stats, err
}

// Retry moves a failed message back to the pending index
func (s *BoltStorage) Retry(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		msgBucket := tx.Bucket(bucketMessages)

		data := msgBucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrMessageNotFound, id)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
		if msg.Status != StatusFailed {
			return fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, msg.Status)
		}

		msg.Status = StatusPending
		msg.RetryCount = 0
		msg.LastError = ""
		msg.UpdatedAt = time.Now()

		newData, err := json.Marshal(&msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := msgBucket.Put([]byte(id), newData); err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}

		indexKey := makeIndexKey(msg.UpdatedAt, msg.ID)
		return tx.Bucket(bucketPending).Put(indexKey, []byte(msg.ID))
	})
}

// RecoverSending returns messages left in the sending state by an unclean
// shutdown to the pending index. A recovered message may be delivered twice.
func (s *BoltStorage) RecoverSending(ctx context.Context) (int, error) {
	recovered := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		msgBucket := tx.Bucket(bucketMessages)
		pendingBucket := tx.Bucket(bucketPending)

		var stuck []Message
		err := msgBucket.ForEach(func(k, v []byte) error {
			var msg Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return nil
			}
			if msg.Status == StatusSending {
				stuck = append(stuck, msg)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for i := range stuck {
			msg := &stuck[i]
			msg.Status = StatusPending
			msg.UpdatedAt = time.Now()

			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := msgBucket.Put([]byte(msg.ID), data); err != nil {
				return err
			}
			if err := pendingBucket.Put(makeIndexKey(msg.CreatedAt, msg.ID), []byte(msg.ID)); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})

	return recovered, err
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	// Fixed-width UTC timestamp keeps lexical order equal to time order
	return []byte(t.UTC().Format("2006-01-02T15:04:05.000000000Z") + "|" + id)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			ts, _ := time.Parse("2006-01-02T15:04:05.000000000Z", s[:i])
			return ts
		}
	}
	return time.Time{}
}
