package idempotency

import (
	"encoding/json"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "idempotency"

// Bolt is a Store backed by an embedded BoltDB file. It survives process
// restarts, which narrows the replay window on a single instance, but it is
// still not shared between scaled-out instances.
type Bolt struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBolt opens (or creates) the database file and ensures the bucket exists.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db, now: time.Now}, nil
}

// Close releases the database file lock.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func (b *Bolt) Get(key string) (Record, bool) {
	var rec Record
	found := false
	_ = b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if !found {
		return Record{}, false
	}
	if b.now().Sub(rec.CreatedAt) >= CacheTTL {
		_ = b.Delete(key)
		return Record{}, false
	}
	return rec, true
}

func (b *Bolt) Put(key string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), raw)
	})
}

func (b *Bolt) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
}
