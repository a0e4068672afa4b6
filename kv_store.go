package datamapper

import (
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v2"
)

const metricsOperationGet = "get"
const metricsOperationWrite = "write"
const metricsOperationIterate = "iterate"
const metricsOperationSequence = "sequence"

const kvSequenceBandwidth = 100

type KVConfig interface {
	GetCode() string
	GetPath() string
	IsInMemory() bool
}

type kvConfig struct {
	code     string
	path     string
	inMemory bool
}

func (c *kvConfig) GetCode() string {
	return c.code
}

func (c *kvConfig) GetPath() string {
	return c.path
}

func (c *kvConfig) IsInMemory() bool {
	return c.inMemory
}

// KVStore is an embedded key-value pool backed by BadgerDB.
type KVStore interface {
	GetConfig() KVConfig
	Get(ctx Context, key []byte) (value []byte, has bool, err error)
	Set(ctx Context, key, value []byte) error
	Delete(ctx Context, key []byte) (existed bool, err error)
	Iterate(ctx Context, prefix []byte, handler func(key, value []byte) error) error
	NextSequence(ctx Context, key []byte) (uint64, error)
	DropPrefix(ctx Context, prefix []byte) error
	Close() error
}

type kvStore struct {
	config    KVConfig
	db        *badger.DB
	sequences *xsync.MapOf[string, *badger.Sequence]
}

func openKVStore(config KVConfig) (*kvStore, error) {
	options := badger.DefaultOptions(config.GetPath())
	if config.IsInMemory() {
		options = badger.DefaultOptions("").WithInMemory(true)
	}
	options = options.WithLogger(nil)
	db, err := badger.Open(options)
	if err != nil {
		return nil, err
	}
	return &kvStore{config: config, db: db, sequences: xsync.NewMapOf[*badger.Sequence]()}, nil
}

func (s *kvStore) GetConfig() KVConfig {
	return s.config
}

func (s *kvStore) Get(ctx Context, key []byte) (value []byte, has bool, err error) {
	start := time.Now()
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		has = true
		value, err = item.ValueCopy(nil)
		return err
	})
	s.report(ctx, "GET", string(key), time.Since(start), metricsOperationGet, !has, err)
	return value, has, err
}

func (s *kvStore) Set(ctx Context, key, value []byte) error {
	start := time.Now()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	s.report(ctx, "SET", string(key), time.Since(start), metricsOperationWrite, false, err)
	return err
}

func (s *kvStore) Delete(ctx Context, key []byte) (existed bool, err error) {
	start := time.Now()
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(key)
	})
	s.report(ctx, "DELETE", string(key), time.Since(start), metricsOperationWrite, !existed, err)
	return existed, err
}

func (s *kvStore) Iterate(ctx Context, prefix []byte, handler func(key, value []byte) error) error {
	start := time.Now()
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err = handler(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
	s.report(ctx, "ITERATE", string(prefix), time.Since(start), metricsOperationIterate, false, err)
	return err
}

// NextSequence returns ids starting from 1.
func (s *kvStore) NextSequence(ctx Context, key []byte) (uint64, error) {
	start := time.Now()
	var err error
	sequence, _ := s.sequences.LoadOrCompute(string(key), func() *badger.Sequence {
		var seq *badger.Sequence
		seq, err = s.db.GetSequence(key, kvSequenceBandwidth)
		return seq
	})
	if err != nil || sequence == nil {
		s.sequences.Delete(string(key))
		if err == nil {
			err = errors.New("sequence not available")
		}
		s.report(ctx, "SEQUENCE", string(key), time.Since(start), metricsOperationSequence, false, err)
		return 0, err
	}
	next, err := sequence.Next()
	s.report(ctx, "SEQUENCE", string(key), time.Since(start), metricsOperationSequence, false, err)
	if err != nil {
		return 0, err
	}
	return next + 1, nil
}

func (s *kvStore) DropPrefix(ctx Context, prefix []byte) error {
	start := time.Now()
	s.sequences.Range(func(key string, sequence *badger.Sequence) bool {
		_ = sequence.Release()
		s.sequences.Delete(key)
		return true
	})
	err := s.db.DropPrefix(prefix)
	s.report(ctx, "DROP PREFIX", string(prefix), time.Since(start), metricsOperationWrite, false, err)
	return err
}

func (s *kvStore) Close() error {
	s.sequences.Range(func(key string, sequence *badger.Sequence) bool {
		_ = sequence.Release()
		return true
	})
	s.sequences.Clear()
	return s.db.Close()
}

func (s *kvStore) report(ctx Context, operation, query string, duration time.Duration, metricsOperation string, miss bool, err error) {
	hasLogger, loggers := ctx.getKVLoggers()
	if hasLogger {
		fillLogFields(ctx, loggers, s.config.GetCode(), sourceKV, operation, query, &duration, miss, err)
	}
	metrics, hasMetrics := ctx.Engine().Registry().getMetricsRegistry()
	if hasMetrics {
		metrics.queriesKV.WithLabelValues(metricsOperation, s.config.GetCode()).Observe(duration.Seconds())
	}
}
