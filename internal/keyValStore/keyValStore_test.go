package keyValStore

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *KeyValStore {
	t.Helper()

	kv, err := NewKeyValStore(StoreConfig{
		Paths:            []string{t.TempDir()},
		MinimumFreeSpace: 0,
	})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestKeyValStore_ChecksConfig(t *testing.T) {
	_, err := NewKeyValStore(StoreConfig{})
	assert.Error(t, err)

	_, err = NewKeyValStore(StoreConfig{Paths: []string{"/does/not/exist"}})
	assert.Error(t, err)
}

func TestKeyValStore_GetSetDelete(t *testing.T) {
	kv := newTestStore(t)

	key := Key('t', []byte("some"), []byte("key"))

	err := kv.Update(func(txn *badger.Txn) error {
		return Set(txn, key, []byte("value"))
	})
	require.NoError(t, err)

	err = kv.View(func(txn *badger.Txn) error {
		val, found, err := Get(txn, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("value"), val)

		_, found, err = Get(txn, []byte("missing"))
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	})
	require.NoError(t, err)

	err = kv.Update(func(txn *badger.Txn) error {
		return Delete(txn, key)
	})
	require.NoError(t, err)

	err = kv.View(func(txn *badger.Txn) error {
		found, err := Exists(txn, key)
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	})
	require.NoError(t, err)
}

func TestKeyValStore_UpdateIsAtomic(t *testing.T) {
	kv := newTestStore(t)

	boom := assert.AnError
	err := kv.Update(func(txn *badger.Txn) error {
		if err := Set(txn, []byte("a"), []byte("1")); err != nil {
			return err
		}
		if err := Set(txn, []byte("b"), []byte("2")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = kv.View(func(txn *badger.Txn) error {
		for _, key := range [][]byte{[]byte("a"), []byte("b")} {
			found, err := Exists(txn, key)
			require.NoError(t, err)
			assert.False(t, found, "key %q must not survive a failed transaction", key)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestKeyValStore_IteratePrefix(t *testing.T) {
	kv := newTestStore(t)

	err := kv.Update(func(txn *badger.Txn) error {
		for _, kvPair := range [][2]string{
			{"p1", "x"}, {"p2", "y"}, {"q1", "z"},
		} {
			if err := Set(txn, []byte(kvPair[0]), []byte(kvPair[1])); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	seen := map[string]string{}
	err = kv.View(func(txn *badger.Txn) error {
		return IteratePrefix(txn, []byte("p"), func(key, value []byte) error {
			seen[string(key)] = string(value)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p1": "x", "p2": "y"}, seen)
}
