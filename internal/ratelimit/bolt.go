package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketDispatchCounters = []byte("dispatch_counters")

// Counter is the persisted per-user daily counter
type Counter struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// BoltLimiter keeps one counter record per user in a bbolt file. Confirm
// runs in a single Update transaction, which bbolt serializes.
type BoltLimiter struct {
	db       *bolt.DB
	settings SettingsSource
	clock    Clock
}

// NewBoltLimiter creates a new bbolt backed limiter
func NewBoltLimiter(db *bolt.DB, settings SettingsSource, clock Clock) (*BoltLimiter, error) {
	// Create bucket if not exists
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDispatchCounters)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch counters bucket: %w", err)
	}

	return &BoltLimiter{db: db, settings: settings, clock: clock}, nil
}

func (l *BoltLimiter) Check(ctx context.Context, userID string, n int) (*Result, error) {
	if err := validateCount(n); err != nil {
		return nil, err
	}

	s, err := l.settings.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily limit: %w", err)
	}

	today := l.clock.Today()
	var used int
	err = l.db.View(func(tx *bolt.Tx) error {
		counter, err := readCounter(tx.Bucket(bucketDispatchCounters), userID)
		if err != nil {
			return err
		}
		if counter.Date == today {
			used = counter.Count
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read counter: %w", err)
	}

	return newResult(effectiveLimit(s), used, n), nil
}

func (l *BoltLimiter) Confirm(ctx context.Context, userID string, n int) error {
	if err := validateCount(n); err != nil {
		return err
	}

	today := l.clock.Today()
	err := l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketDispatchCounters)
		counter, err := readCounter(bucket, userID)
		if err != nil {
			return err
		}

		if counter.Date != today {
			counter = Counter{Date: today}
		}
		counter.Count += n

		data, err := json.Marshal(counter)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(userID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to confirm dispatch: %w", err)
	}
	return nil
}

// Stats returns the stored counter of a user
func (l *BoltLimiter) Stats(userID string) (Counter, error) {
	var counter Counter
	err := l.db.View(func(tx *bolt.Tx) error {
		var err error
		counter, err = readCounter(tx.Bucket(bucketDispatchCounters), userID)
		return err
	})
	return counter, err
}

func readCounter(bucket *bolt.Bucket, userID string) (Counter, error) {
	var counter Counter
	data := bucket.Get([]byte(userID))
	if data == nil {
		return counter, nil
	}
	if err := json.Unmarshal(data, &counter); err != nil {
		return counter, fmt.Errorf("corrupt counter for %s: %w", userID, err)
	}
	return counter, nil
}
