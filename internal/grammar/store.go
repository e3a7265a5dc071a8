package grammar

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const keyPrefix = "grammar/"

// Store persists generated documents keyed by backend and input hash.
type Store interface {
	Put(ctx context.Context, doc *Document) error
	Get(ctx context.Context, backend, hash string) (*Document, error)
	Close() error
}

// BadgerStore is a Store backed by BadgerDB with msgpack-encoded values.
type BadgerStore struct {
	db     *badger.DB
	closed atomic.Bool
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Dir is the data directory. Empty runs in memory.
	Dir string

	// Logger receives badger's internal messages. Nil silences them.
	Logger Logger
}

// NewBadgerStore opens a BadgerStore.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.Dir == "" {
		dbOpts = dbOpts.WithInMemory(true)
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("opening grammar store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func storeKey(backend, hash string) []byte {
	return []byte(keyPrefix + backend + "/" + hash)
}

// Put stores doc under its backend and hash, replacing any previous value.
func (s *BadgerStore) Put(_ context.Context, doc *Document) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	val, err := msgpack.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding grammar document: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(doc.Backend, doc.Hash), val)
	})
}

// Get loads a stored document.
func (s *BadgerStore) Get(_ context.Context, backend, hash string) (*Document, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(backend, hash))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading grammar document: %w", err)
	}

	var doc Document
	if err := msgpack.Unmarshal(val, &doc); err != nil {
		return nil, fmt.Errorf("decoding grammar document: %w", err)
	}
	return &doc, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// badgerLogger routes badger output through the package Logger. Badger's
// info chatter is demoted to debug.
type badgerLogger struct{ l Logger }

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
