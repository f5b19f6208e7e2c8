package keyValStore

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

type StoreConfig struct {
	Paths            []string // absolute paths, at the moment only the first path is used
	MinimumFreeSpace int      // in GB
	Logger           *logrus.Logger
}

// KeyValStore is the transactional KV backend every persisted surface of
// the store lives in. It is a thin wrapper over badger: callers that need
// multi-key atomicity run inside View/Update closures, everything else
// uses the keyed helpers.
type KeyValStore struct {
	config   StoreConfig
	badgerDB *badger.DB
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	log = config.Logger

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	opts := badger.DefaultOptions(config.Paths[0])
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100 // 100MB value log files
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger at %s: %w", config.Paths[0], err)
	}

	err = displayDiskUsage(config.Paths)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &KeyValStore{
		config:   config,
		badgerDB: db,
	}, nil
}

func (k *KeyValStore) Close() error {
	return k.badgerDB.Close()
}

// View runs fn in a read-only transaction.
func (k *KeyValStore) View(fn func(txn *badger.Txn) error) error {
	return k.badgerDB.View(fn)
}

// Update runs fn in a read-write transaction. Either every write in fn
// commits or none does; the protocol engine relies on this for its
// all-or-nothing verb semantics.
func (k *KeyValStore) Update(fn func(txn *badger.Txn) error) error {
	return k.badgerDB.Update(fn)
}

// Get reads a key inside txn. Unknown keys return (nil, false, nil), so
// callers can express "zero value for unknown key" without error plumbing.
func Get(txn *badger.Txn, key []byte) ([]byte, bool, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func Set(txn *badger.Txn, key []byte, value []byte) error {
	return txn.Set(key, value)
}

func Delete(txn *badger.Txn, key []byte) error {
	return txn.Delete(key)
}

func Exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Key builds a namespaced key from a single-byte table prefix and parts.
// Parts are joined with 0x00 separators; parts must not contain 0x00
// themselves unless they are fixed-length (hashes are, paths are not but
// contain no NUL by construction).
func Key(prefix byte, parts ...[]byte) []byte {
	key := []byte{prefix}
	for i, p := range parts {
		if i > 0 {
			key = append(key, 0x00)
		}
		key = append(key, p...)
	}
	return key
}

// IteratePrefix walks all keys under prefix inside txn, invoking fn with
// the full key and value.
func IteratePrefix(txn *badger.Txn, prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// Clean triggers a badger value-log garbage collection pass.
func (k *KeyValStore) Clean() error {
	err := k.badgerDB.RunValueLogGC(0.5)
	if err != nil && err != badger.ErrNoRewrite {
		return fmt.Errorf("error cleaning db: %w", err)
	}
	return nil
}
