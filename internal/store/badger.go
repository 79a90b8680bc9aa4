package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/i474232898/weather-series/internal/weather"
)

// Key namespace:
//
//	meta:schema_version          schema version (decimal string)
//	t:<dataset>                  table registry entry (empty value)
//	w:<dataset>                  bulk insert in progress; the dataset scans as empty
//	d:<dataset>:<ts>             point value, ts is 8 order-preserving bytes of Unix ms
const (
	prefixTable   = "t:"
	prefixPending = "w:"
	prefixPoint   = "d:"
	keyVersion    = "meta:schema_version"
	scanCtxCheck  = 1024
)

func keyTable(dataset string) []byte {
	return []byte(prefixTable + dataset)
}

func keyPending(dataset string) []byte {
	return []byte(prefixPending + dataset)
}

func keyPointPrefix(dataset string) []byte {
	return []byte(prefixPoint + dataset + ":")
}

func keyPoint(dataset string, ms int64) []byte {
	prefix := keyPointPrefix(dataset)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], encodeMillis(ms))
	return key
}

// encodeMillis flips the sign bit so that negative timestamps sort before
// positive ones under byte order.
func encodeMillis(ms int64) uint64 {
	return uint64(ms) ^ (1 << 63)
}

func decodeMillis(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

func encodeValue(v float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func decodeValue(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("corrupt value: %d bytes", len(b))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// BadgerStore keeps every dataset in a single badger database, one key prefix per table.
type BadgerStore struct {
	path     string
	datasets []string
	version  int

	guard openGuard
	db    *badgerdb.DB

	// writeMu serializes inserts so the duplicate check of a chunked insert
	// stays valid until its last chunk is written.
	writeMu sync.Mutex
}

// NewBadgerStore creates an unopened badger store. An empty cfg.Path keeps the data in memory.
func NewBadgerStore(cfg Config) *BadgerStore {
	return &BadgerStore{
		path:     cfg.Path,
		datasets: append([]string(nil), cfg.Datasets...),
		version:  cfg.SchemaVersion,
	}
}

// Open opens the database and migrates the schema. Safe to call repeatedly and concurrently.
func (s *BadgerStore) Open(ctx context.Context) error {
	return s.guard.do(ctx, func() error {
		opts := badgerdb.DefaultOptions(s.path).WithLogger(nil)
		if s.path == "" {
			opts = opts.WithInMemory(true)
		}

		db, err := badgerdb.Open(opts)
		if err != nil {
			return &weather.StoreError{Op: "open", Err: err}
		}

		if err := s.migrate(db); err != nil {
			db.Close()
			return &weather.StoreError{Op: "migrate", Err: err}
		}

		s.db = db
		return nil
	})
}

func (s *BadgerStore) migrate(db *badgerdb.DB) error {
	stored := 0
	err := db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := strconv.Atoi(string(val))
			if err != nil {
				return fmt.Errorf("corrupt schema version %q: %w", val, err)
			}
			stored = v
			return nil
		})
	})
	if err != nil {
		return err
	}

	if stored != 0 && stored != s.version {
		log.Printf("INFO: store: schema version %d -> %d, dropping dataset tables", stored, s.version)
		if err := db.DropPrefix([]byte(prefixPoint), []byte(prefixTable), []byte(prefixPending)); err != nil {
			return fmt.Errorf("drop tables: %w", err)
		}
	}

	if err := dropPending(db); err != nil {
		return err
	}

	return db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set([]byte(keyVersion), []byte(strconv.Itoa(s.version))); err != nil {
			return err
		}
		for _, name := range s.datasets {
			if err := txn.Set(keyTable(name), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
}

// dropPending removes every dataset whose chunked insert was interrupted by a
// crash. The cache repopulates it on the next miss.
func dropPending(db *badgerdb.DB) error {
	var pending []string
	err := db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixPending)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			pending = append(pending, string(it.Item().Key()[len(prefixPending):]))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, name := range pending {
		log.Printf("INFO: store: dropping %s, its last bulk insert did not complete", name)
		if err := db.DropPrefix(keyPointPrefix(name)); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
		if err := db.Update(func(txn *badgerdb.Txn) error {
			return txn.Delete(keyPending(name))
		}); err != nil {
			return err
		}
	}
	return nil
}

// Scan returns the points of dataset with from <= t < to in ascending order.
func (s *BadgerStore) Scan(ctx context.Context, dataset string, from, to time.Time) ([]weather.Point, error) {
	if err := checkDataset("scan", dataset); err != nil {
		return nil, err
	}
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	prefix := keyPointPrefix(dataset)
	start := prefix
	if !from.IsZero() {
		start = keyPoint(dataset, toMillis(from))
	}
	var stop []byte
	if !to.IsZero() {
		stop = keyPoint(dataset, toMillis(to))
	}

	points := []weather.Point{}

	err := s.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(keyPending(dataset))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}

		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(start); it.Valid(); it.Next() {
			if len(points)%scanCtxCheck == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			key := item.Key()
			if stop != nil && bytes.Compare(key, stop) >= 0 {
				break
			}
			if len(key) != len(prefix)+8 {
				return fmt.Errorf("corrupt key %q", key)
			}
			ts := fromMillis(decodeMillis(key[len(prefix):]))

			err := item.Value(func(val []byte) error {
				v, err := decodeValue(val)
				if err != nil {
					return err
				}
				points = append(points, weather.Point{Timestamp: ts, Value: v})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &weather.StoreError{Op: "scan", Dataset: dataset, Err: err}
	}

	return points, nil
}

// BulkInsert writes points atomically. Any duplicate timestamp aborts the
// whole batch.
//
// A batch that fits in one transaction is written by it. A larger batch is
// checked for duplicates first and then written in chunks while a pending
// marker hides the dataset from Scan; a failed chunked write deletes every
// key it wrote.
func (s *BadgerStore) BulkInsert(ctx context.Context, dataset string, points []weather.Point) error {
	if err := checkDataset("insert", dataset); err != nil {
		return err
	}
	if err := s.Open(ctx); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return insertTxn(txn, dataset, points)
	})
	if errors.Is(err, badgerdb.ErrTxnTooBig) {
		err = s.insertChunked(ctx, dataset, points)
	}
	if err != nil {
		return &weather.StoreError{Op: "insert", Dataset: dataset, Err: err}
	}
	return nil
}

func insertTxn(txn *badgerdb.Txn, dataset string, points []weather.Point) error {
	seen := make(map[int64]struct{}, len(points))
	for _, p := range points {
		ms := toMillis(p.Timestamp)
		if _, dup := seen[ms]; dup {
			return duplicateError(p.Timestamp)
		}
		seen[ms] = struct{}{}

		key := keyPoint(dataset, ms)
		_, err := txn.Get(key)
		if err == nil {
			return duplicateError(p.Timestamp)
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, encodeValue(p.Value)); err != nil {
			return err
		}
	}
	return txn.Set(keyTable(dataset), []byte{})
}

func (s *BadgerStore) insertChunked(ctx context.Context, dataset string, points []weather.Point) error {
	if err := s.checkDuplicates(ctx, dataset, points); err != nil {
		return err
	}

	if err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(keyPending(dataset), []byte{})
	}); err != nil {
		return err
	}

	if err := s.writeChunks(ctx, dataset, points); err != nil {
		if rerr := s.rollbackChunks(dataset, points); rerr != nil {
			log.Printf("ERROR: store: rollback %s: %v; dataset stays hidden until reopen", dataset, rerr)
		}
		return err
	}

	log.Printf("DEBUG: store: inserted %d points into %s in chunks", len(points), dataset)
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyTable(dataset), []byte{}); err != nil {
			return err
		}
		return txn.Delete(keyPending(dataset))
	})
}

// checkDuplicates fails on a timestamp repeated in points or already stored.
func (s *BadgerStore) checkDuplicates(ctx context.Context, dataset string, points []weather.Point) error {
	seen := make(map[int64]struct{}, len(points))
	for _, p := range points {
		ms := toMillis(p.Timestamp)
		if _, dup := seen[ms]; dup {
			return duplicateError(p.Timestamp)
		}
		seen[ms] = struct{}{}
	}

	return s.db.View(func(txn *badgerdb.Txn) error {
		for i, p := range points {
			if i%scanCtxCheck == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			_, err := txn.Get(keyPoint(dataset, toMillis(p.Timestamp)))
			if err == nil {
				return duplicateError(p.Timestamp)
			}
			if !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) writeChunks(ctx context.Context, dataset string, points []weather.Point) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i, p := range points {
		if i%scanCtxCheck == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := wb.Set(keyPoint(dataset, toMillis(p.Timestamp)), encodeValue(p.Value)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// rollbackChunks deletes the keys of points. None of them existed before the
// insert, which checkDuplicates verified under writeMu.
func (s *BadgerStore) rollbackChunks(dataset string, points []weather.Point) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, p := range points {
		if err := wb.Delete(keyPoint(dataset, toMillis(p.Timestamp))); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(keyPending(dataset))
	})
}

// Datasets returns the names of every known table.
func (s *BadgerStore) Datasets(ctx context.Context) ([]string, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixTable)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(prefixTable):]))
		}
		return nil
	})
	if err != nil {
		return nil, &weather.StoreError{Op: "datasets", Err: err}
	}
	return names, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.guard.close(func() error {
		return s.db.Close()
	})
}
