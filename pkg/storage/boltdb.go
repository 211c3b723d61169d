package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketUsers      = []byte("users")
	bucketClasses    = []byte("classes")
	bucketStudents   = []byte("students")
	bucketJournals   = []byte("journals")
	bucketAttendance = []byte("attendance")
	bucketSettings   = []byte("settings")
	bucketQueue      = []byte("mutation_queue")
)

// DBFile is the name of the database file inside the data directory
const DBFile = "burrow.db"

// BoltStore implements Store and Queue using BoltDB
type BoltStore struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to create data directory", err)
	}

	dbPath := filepath.Join(dataDir, DBFile)

	// A second process holding the file lock fails fast instead of hanging
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to open database", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketUsers,
			bucketClasses,
			bucketStudents,
			bucketJournals,
			bucketAttendance,
			bucketSettings,
			bucketQueue,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to initialize buckets", err)
	}

	return &BoltStore{
		db:     db,
		logger: log.WithComponent("storage"),
	}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.db.Path()
}

func bucketFor(collection types.Collection) ([]byte, error) {
	switch collection {
	case types.CollectionUsers:
		return bucketUsers, nil
	case types.CollectionClasses:
		return bucketClasses, nil
	case types.CollectionStudents:
		return bucketStudents, nil
	case types.CollectionJournals:
		return bucketJournals, nil
	case types.CollectionAttendance:
		return bucketAttendance, nil
	case types.CollectionSettings:
		return bucketSettings, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrValidation, "unknown collection %q", collection)
	}
}

func storageErr(op string, collection types.Collection, err error) error {
	if apperrors.CodeOf(err) != "" {
		return err
	}
	return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("%s %s", op, collection), err)
}

// view runs fn against the collection's bucket in a read transaction
func (s *BoltStore) view(op string, collection types.Collection, fn func(b *bolt.Bucket) error) error {
	name, err := bucketFor(collection)
	if err != nil {
		return err
	}
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(name)
		if b == nil {
			return fmt.Errorf("bucket %s missing", name)
		}
		return fn(b)
	})
	if err != nil {
		return storageErr(op, collection, err)
	}
	return nil
}

// update runs fn against the collection's bucket in a write transaction
func (s *BoltStore) update(op string, collection types.Collection, fn func(tx *bolt.Tx, b *bolt.Bucket) error) error {
	name, err := bucketFor(collection)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(name)
		if b == nil {
			return fmt.Errorf("bucket %s missing", name)
		}
		return fn(tx, b)
	})
	if err != nil {
		return storageErr(op, collection, err)
	}
	return nil
}

// Record operations
func (s *BoltStore) GetAll(collection types.Collection) ([]json.RawMessage, error) {
	var records []json.RawMessage
	err := s.view("get all", collection, func(b *bolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			// Values are only valid for the life of the transaction
			records = append(records, append(json.RawMessage(nil), v...))
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) Get(collection types.Collection, id string) (json.RawMessage, error) {
	var record json.RawMessage
	err := s.view("get", collection, func(b *bolt.Bucket) error {
		data := b.Get([]byte(id))
		if data == nil {
			return apperrors.Newf(apperrors.ErrNotFound, "%s record not found: %s", collection, id)
		}
		record = append(json.RawMessage(nil), data...)
		return nil
	})
	return record, err
}

func (s *BoltStore) Put(collection types.Collection, record types.Record) error {
	id := record.RecordID()
	if id == "" {
		return apperrors.Newf(apperrors.ErrValidation, "%s record has no id", collection)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return storageErr("encode", collection, err)
	}
	return s.update("put", collection, func(_ *bolt.Tx, b *bolt.Bucket) error {
		return b.Put([]byte(id), data)
	})
}

func (s *BoltStore) Delete(collection types.Collection, id string) error {
	return s.update("delete", collection, func(_ *bolt.Tx, b *bolt.Bucket) error {
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) Count(collection types.Collection) (int, error) {
	var n int
	err := s.view("count", collection, func(b *bolt.Bucket) error {
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// ReplaceAll clears a collection and inserts records in one transaction.
// Repeated identifiers collapse to the last record given.
func (s *BoltStore) ReplaceAll(collection types.Collection, records []types.Record) error {
	name, err := bucketFor(collection)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return replaceBucket(tx, name, records)
	})
	if err != nil {
		return storageErr("replace", collection, err)
	}

	s.logger.Debug().
		Str("collection", string(collection)).
		Int("records", len(records)).
		Msg("replaced collection")
	return nil
}

// ReplaceDataset replaces every collection in a single transaction, so
// either the whole dataset becomes visible or none of it does.
func (s *BoltStore) ReplaceDataset(dataset *types.Dataset) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, collection := range types.Collections {
			name, err := bucketFor(collection)
			if err != nil {
				return err
			}
			if err := replaceBucket(tx, name, dataset.Records(collection)); err != nil {
				return fmt.Errorf("%s: %w", collection, err)
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "replace dataset", err)
	}
	return nil
}

func replaceBucket(tx *bolt.Tx, name []byte, records []types.Record) error {
	if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
		return err
	}
	b, err := tx.CreateBucket(name)
	if err != nil {
		return err
	}
	for _, record := range records {
		id := record.RecordID()
		if id == "" {
			return fmt.Errorf("record without id in %s", name)
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), data); err != nil {
			return err
		}
	}
	return nil
}

// Queue operations

// Enqueue appends an entry and returns its key. The entry is durable
// once Enqueue returns.
func (s *BoltStore) Enqueue(entry *types.MutationEntry) (uint64, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "encode mutation entry", err)
	}

	var key uint64
	err = s.db.Update(func(tx *bolt.Tx) error {
		key, err = appendEntry(tx, data)
		return err
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "enqueue mutation", err)
	}

	s.logEnqueued(key, entry)
	return key, nil
}

// PutAndEnqueue upserts a record and appends its entry in one transaction.
// Neither is visible unless both succeed.
func (s *BoltStore) PutAndEnqueue(collection types.Collection, record types.Record, entry *types.MutationEntry) (uint64, error) {
	id := record.RecordID()
	if id == "" {
		return 0, apperrors.Newf(apperrors.ErrValidation, "%s record has no id", collection)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return 0, storageErr("encode", collection, err)
	}

	var key uint64
	err = s.update("put", collection, func(tx *bolt.Tx, b *bolt.Bucket) error {
		if err := b.Put([]byte(id), data); err != nil {
			return err
		}
		key, err = enqueueTx(tx, entry)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logEnqueued(key, entry)
	return key, nil
}

// DeleteAndEnqueue removes a record and appends its entry in one transaction
func (s *BoltStore) DeleteAndEnqueue(collection types.Collection, id string, entry *types.MutationEntry) (uint64, error) {
	var key uint64
	err := s.update("delete", collection, func(tx *bolt.Tx, b *bolt.Bucket) error {
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		var err error
		key, err = enqueueTx(tx, entry)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logEnqueued(key, entry)
	return key, nil
}

func enqueueTx(tx *bolt.Tx, entry *types.MutationEntry) (uint64, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("encode mutation entry: %w", err)
	}
	return appendEntry(tx, data)
}

func appendEntry(tx *bolt.Tx, data []byte) (uint64, error) {
	b := tx.Bucket(bucketQueue)
	seq, err := b.NextSequence()
	if err != nil {
		return 0, err
	}
	return seq, b.Put(itob(seq), data)
}

func (s *BoltStore) logEnqueued(key uint64, entry *types.MutationEntry) {
	s.logger.Debug().
		Uint64("key", key).
		Str("action", string(entry.Action)).
		Str("collection", string(entry.Collection)).
		Msg("enqueued mutation")
}

// PeekAll returns every queued entry in enqueue order
func (s *BoltStore) PeekAll() ([]*types.QueuedMutation, error) {
	var items []*types.QueuedMutation
	err := s.db.View(func(tx *bolt.Tx) error {
		// Keys are big-endian so cursor order is insertion order
		return tx.Bucket(bucketQueue).ForEach(func(k, v []byte) error {
			var entry types.MutationEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("corrupt queue entry %d: %w", btoi(k), err)
			}
			items = append(items, &types.QueuedMutation{Key: btoi(k), Entry: &entry})
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "read mutation queue", err)
	}
	return items, nil
}

func (s *BoltStore) Remove(key uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQueue).Delete(itob(key))
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("remove queue entry %d", key), err)
	}
	return nil
}

func (s *BoltStore) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketQueue).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "count mutation queue", err)
	}
	return n, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
