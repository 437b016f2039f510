package watermark

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/openmined/remotesync/internal/utils"
	"go.etcd.io/bbolt"
)

var bucketWatermarks = []byte("watermarks")

// BoltStore keeps watermarks in a bbolt database, one big-endian millisecond value per key.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(dbPath string) (*BoltStore, error) {
	if err := utils.EnsureParent(dbPath); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open boltdb %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWatermarks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create watermark bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Read(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *BoltStore) Read(_ context.Context, key string) (time.Time, error) {
	var ms int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWatermarks)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", bucketWatermarks)
		}
		value := bucket.Get([]byte(key))
		if value == nil {
			return ErrNotFound
		}
		if len(value) != 8 {
			return fmt.Errorf("watermark %q: unexpected value length %d", key, len(value))
		}
		ms = int64(binary.BigEndian.Uint64(value))
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (s *BoltStore) Write(_ context.Context, key string, t time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWatermarks)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", bucketWatermarks)
		}
		value := make([]byte, 8)
		binary.BigEndian.PutUint64(value, uint64(t.UnixMilli()))
		if err := bucket.Put([]byte(key), value); err != nil {
			return fmt.Errorf("save watermark %q: %w", key, err)
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*BoltStore)(nil)
