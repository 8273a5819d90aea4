package kv

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketSettings = []byte("settings")

// Bolt stores values in a bucket of a shared bbolt database.
// Close does not close the database; its owner does.
type Bolt struct {
	db *bolt.DB
}

// NewBolt creates the settings bucket if needed
func NewBolt(db *bolt.DB) (*Bolt, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettings)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create settings bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Get returns the value for key
func (b *Bolt) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSettings).Get([]byte(key))
		if data != nil {
			value = string(data)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, found, nil
}

// Set stores value under key
func (b *Bolt) Set(ctx context.Context, key, value string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Close is a no-op, the database is shared
func (b *Bolt) Close() error {
	return nil
}
