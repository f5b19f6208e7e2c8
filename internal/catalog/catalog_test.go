package catalog

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siteforge/wttpd/internal/chunkstore"
	"github.com/siteforge/wttpd/internal/codec"
	"github.com/siteforge/wttpd/internal/keyValStore"
	"github.com/siteforge/wttpd/pkg/types"
)

func newTestCatalog(t *testing.T, conf Config) (*Catalog, *keyValStore.KeyValStore) {
	t.Helper()

	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths: []string{t.TempDir()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	registry := chunkstore.NewRegistry(chunkstore.NewStore(nil), kv, chunkstore.RegistryConfig{
		Owner:       "owner",
		RoyaltyRate: 1.0,
	})
	return New(registry, conf), kv
}

func update(t *testing.T, kv *keyValStore.KeyValStore, fn func(txn *badger.Txn) error) {
	t.Helper()
	require.NoError(t, kv.Update(fn))
}

func reg(data string, index uint64) types.DataRegistration {
	return types.DataRegistration{Data: []byte(data), ChunkIndex: index, Publisher: "pub"}
}

func TestCreateHeader_IdempotentByContent(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	h := types.Header{AllowedMethods: types.MaskRead, ResourceAdmin: "editors"}

	update(t, kv, func(txn *badger.Txn) error {
		first, err := c.CreateHeader(txn, h)
		require.NoError(t, err)
		second, err := c.CreateHeader(txn, h)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		stored, err := c.ReadHeader(txn, first)
		require.NoError(t, err)
		assert.Equal(t, h, stored)
		return nil
	})
}

func TestCreateHeader_MalformedIsStoredButFlagged(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	bad := types.Header{
		AllowedMethods: 0, // zero mask is illegal
		Redirect:       types.Redirect{Code: 302}, // location missing
	}

	update(t, kv, func(txn *badger.Txn) error {
		hash, err := c.CreateHeader(txn, bad)
		require.NoError(t, err, "permissive policy stores malformed headers")

		stored, err := c.ReadHeader(txn, hash)
		require.NoError(t, err)
		assert.Equal(t, bad, stored)
		return nil
	})
}

func TestCreateHeader_StrictPolicyRejects(t *testing.T) {
	c, kv := newTestCatalog(t, Config{RejectMalformed: true})

	update(t, kv, func(txn *badger.Txn) error {
		_, err := c.CreateHeader(txn, types.Header{AllowedMethods: 0})
		assert.ErrorIs(t, err, ErrMalformedParameter)

		_, err = c.CreateHeader(txn, types.Header{
			AllowedMethods: types.MaskRead,
			Redirect:       types.Redirect{Code: 200, Location: "/x"},
		})
		assert.ErrorIs(t, err, ErrMalformedParameter)

		_, err = c.CreateHeader(txn, types.Header{
			AllowedMethods: types.MaskRead,
			Redirect:       types.Redirect{Code: 301, Location: "/x"},
		})
		assert.NoError(t, err)
		return nil
	})
}

func TestReads_ZeroValuesForUnknownKeys(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	require.NoError(t, kv.View(func(txn *badger.Txn) error {
		h, err := c.ReadHeader(txn, types.ChunkAddress([]byte("no such header")))
		require.NoError(t, err)
		assert.Equal(t, types.Header{}, h)

		meta, err := c.ReadMetadata(txn, "/nowhere")
		require.NoError(t, err)
		assert.Equal(t, types.ResourceMetadata{}, meta)

		list, err := c.ReadChunkList(txn, "/nowhere")
		require.NoError(t, err)
		assert.Nil(t, list)
		return nil
	}))
}

func TestDefaultHeaderSlot(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	def := types.Header{AllowedMethods: types.MaskRead, ResourceAdmin: types.SiteAdminRole}

	update(t, kv, func(txn *badger.Txn) error {
		require.NoError(t, c.SetDefaultHeader(txn, def))

		// A path with no HeaderRef resolves to the default slot.
		h, ref, err := c.HeaderFor(txn, "/unbound")
		require.NoError(t, err)
		assert.True(t, ref.IsZero())
		assert.Equal(t, def, h)
		return nil
	})
}

func TestPutChunk_AppendOverwriteGap(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	update(t, kv, func(txn *badger.Txn) error {
		created, _, err := c.PutChunk(txn, "/f", reg("aaaa", 0), nil)
		require.NoError(t, err)
		assert.True(t, created)

		created, _, err = c.PutChunk(txn, "/f", reg("bb", 1), nil)
		require.NoError(t, err)
		assert.False(t, created)

		meta, err := c.ReadMetadata(txn, "/f")
		require.NoError(t, err)
		assert.Equal(t, uint64(6), meta.Size)
		assert.Equal(t, uint64(2), meta.Version)

		// Overwrite in place adjusts size by the delta.
		_, _, err = c.PutChunk(txn, "/f", reg("cccccc", 0), nil)
		require.NoError(t, err)

		meta, err = c.ReadMetadata(txn, "/f")
		require.NoError(t, err)
		assert.Equal(t, uint64(8), meta.Size)
		assert.Equal(t, uint64(3), meta.Version)

		// A gap is rejected.
		_, _, err = c.PutChunk(txn, "/f", reg("dd", 3), nil)
		assert.ErrorIs(t, err, ErrOutOfBoundsChunk)

		list, err := c.ReadChunkList(txn, "/f")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, types.ChunkAddress([]byte("cccccc")), list[0])
		assert.Equal(t, types.ChunkAddress([]byte("bb")), list[1])
		return nil
	})
}

func TestPutChunk_SizeInvariant(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	chunks := []string{"one", "twotwo", "three", ""}
	update(t, kv, func(txn *badger.Txn) error {
		for i, data := range chunks {
			_, _, err := c.PutChunk(txn, "/s", reg(data, uint64(i)), nil)
			require.NoError(t, err)
		}
		// Overwrite a middle chunk twice.
		_, _, err := c.PutChunk(txn, "/s", reg("2", 1), nil)
		require.NoError(t, err)
		_, _, err = c.PutChunk(txn, "/s", reg("twenty-two", 1), nil)
		require.NoError(t, err)

		meta, err := c.ReadMetadata(txn, "/s")
		require.NoError(t, err)
		list, err := c.ReadChunkList(txn, "/s")
		require.NoError(t, err)

		var sum uint64
		for _, addr := range list {
			size, err := c.Registry().Store().Size(txn, addr)
			require.NoError(t, err)
			sum += size
		}
		assert.Equal(t, sum, meta.Size, "metadata size must equal the chunk-size sum")
		return nil
	})
}

func TestReplaceResource(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	update(t, kv, func(txn *badger.Txn) error {
		fields := types.ResourceMetadata{MimeType: "text/plain", Charset: "utf-8"}
		created, _, err := c.ReplaceResource(txn, "/r", fields, []types.DataRegistration{
			reg("hello ", 0), reg("world", 1),
		}, nil)
		require.NoError(t, err)
		assert.True(t, created)

		meta, err := c.ReadMetadata(txn, "/r")
		require.NoError(t, err)
		assert.Equal(t, uint64(11), meta.Size)
		assert.Equal(t, uint64(1), meta.Version)
		assert.Equal(t, "text/plain", meta.MimeType)

		// Replacing again is not a create and starts the list over.
		created, _, err = c.ReplaceResource(txn, "/r", fields, []types.DataRegistration{
			reg("bye", 0),
		}, nil)
		require.NoError(t, err)
		assert.False(t, created)

		meta, err = c.ReadMetadata(txn, "/r")
		require.NoError(t, err)
		assert.Equal(t, uint64(3), meta.Size)
		assert.Equal(t, uint64(2), meta.Version)

		list, err := c.ReadChunkList(txn, "/r")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		// Chunks must arrive in index order.
		_, _, err = c.ReplaceResource(txn, "/r", fields, []types.DataRegistration{
			reg("x", 1),
		}, nil)
		assert.ErrorIs(t, err, ErrOutOfBoundsChunk)

		// An empty replacement clears content but keeps the path stamped.
		_, _, err = c.ReplaceResource(txn, "/r", fields, nil, nil)
		require.NoError(t, err)
		list, err = c.ReadChunkList(txn, "/r")
		require.NoError(t, err)
		assert.Empty(t, list)
		return nil
	})
}

func TestUpdateMetadata_PreservesDerivedFields(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	update(t, kv, func(txn *badger.Txn) error {
		_, _, err := c.PutChunk(txn, "/m", reg("content", 0), nil)
		require.NoError(t, err)

		before, err := c.ReadMetadata(txn, "/m")
		require.NoError(t, err)

		err = c.UpdateMetadata(txn, "/m", types.ResourceMetadata{
			MimeType: "text/html",
			Language: "en",
			Size:     999999, // caller-set derived fields are ignored
			Version:  999999,
		})
		require.NoError(t, err)

		after, err := c.ReadMetadata(txn, "/m")
		require.NoError(t, err)
		assert.Equal(t, "text/html", after.MimeType)
		assert.Equal(t, "en", after.Language)
		assert.Equal(t, before.Size, after.Size)
		assert.Equal(t, before.Version+1, after.Version)
		return nil
	})
}

func immutableHeader(methods types.Method) types.Header {
	return types.Header{
		AllowedMethods: methods,
		Cache:          types.CacheControl{Immutable: true},
		ResourceAdmin:  types.PublicRole,
	}
}

func TestImmutabilityGuard(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	update(t, kv, func(txn *badger.Txn) error {
		// Content first, then bind an immutable header.
		_, _, err := c.PutChunk(txn, "/locked", reg("forever", 0), nil)
		require.NoError(t, err)

		hash, err := c.CreateHeader(txn, immutableHeader(types.MaskAll))
		require.NoError(t, err)
		meta, err := c.ReadMetadata(txn, "/locked")
		require.NoError(t, err)
		meta.HeaderRef = hash
		require.NoError(t, c.UpdateMetadata(txn, "/locked", meta))

		// All content mutators now fail.
		_, _, err = c.PutChunk(txn, "/locked", reg("change", 0), nil)
		assert.ErrorIs(t, err, ErrResourceImmutable)

		_, _, err = c.ReplaceResource(txn, "/locked", types.ResourceMetadata{}, nil, nil)
		assert.ErrorIs(t, err, ErrResourceImmutable)

		err = c.DeleteResource(txn, "/locked")
		assert.ErrorIs(t, err, ErrResourceImmutable)
		return nil
	})
}

func TestImmutability_EmptyResourceIsNotLocked(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	update(t, kv, func(txn *badger.Txn) error {
		// Immutable header but no content: mutation is still allowed.
		hash, err := c.CreateHeader(txn, immutableHeader(types.MaskAll))
		require.NoError(t, err)
		require.NoError(t, c.UpdateMetadata(txn, "/empty", types.ResourceMetadata{HeaderRef: hash}))

		_, _, err = c.PutChunk(txn, "/empty", reg("first", 0), nil)
		assert.NoError(t, err)
		return nil
	})
}

func TestImmutability_StickyAcrossHeaderRedefinition(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	update(t, kv, func(txn *badger.Txn) error {
		_, _, err := c.PutChunk(txn, "/sticky", reg("payload", 0), nil)
		require.NoError(t, err)

		locked, err := c.CreateHeader(txn, immutableHeader(types.MaskAll))
		require.NoError(t, err)
		meta, err := c.ReadMetadata(txn, "/sticky")
		require.NoError(t, err)
		meta.HeaderRef = locked
		require.NoError(t, c.UpdateMetadata(txn, "/sticky", meta))

		// Try to escape by rebinding to a mutable header.
		open, err := c.CreateHeader(txn, types.Header{
			AllowedMethods: types.MaskAll,
			ResourceAdmin:  types.PublicRole,
		})
		require.NoError(t, err)
		meta, err = c.ReadMetadata(txn, "/sticky")
		require.NoError(t, err)
		meta.HeaderRef = open
		require.NoError(t, c.UpdateMetadata(txn, "/sticky", meta))

		// The committed header was sanitized: still immutable, write bits gone.
		effective, ref, err := c.HeaderFor(txn, "/sticky")
		require.NoError(t, err)
		assert.NotEqual(t, open, ref)
		assert.True(t, effective.Cache.Immutable)
		assert.False(t, types.MethodPut.In(effective.AllowedMethods))
		assert.False(t, types.MethodPatch.In(effective.AllowedMethods))
		assert.False(t, types.MethodDelete.In(effective.AllowedMethods))
		assert.True(t, types.MethodGet.In(effective.AllowedMethods))

		// And content mutation still fails.
		_, _, err = c.PutChunk(txn, "/sticky", reg("escape", 0), nil)
		assert.ErrorIs(t, err, ErrResourceImmutable)
		return nil
	})
}

func TestDeleteResource_Tombstone(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	update(t, kv, func(txn *badger.Txn) error {
		_, _, err := c.PutChunk(txn, "/gone", reg("data", 0), nil)
		require.NoError(t, err)
		err = c.UpdateMetadata(txn, "/gone", types.ResourceMetadata{MimeType: "text/plain"})
		require.NoError(t, err)

		before, err := c.ReadMetadata(txn, "/gone")
		require.NoError(t, err)

		require.NoError(t, c.DeleteResource(txn, "/gone"))

		meta, err := c.ReadMetadata(txn, "/gone")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), meta.Size)
		assert.Empty(t, meta.MimeType)
		assert.True(t, meta.HeaderRef.IsZero())
		assert.Equal(t, before.Version+1, meta.Version)

		list, err := c.ReadChunkList(txn, "/gone")
		require.NoError(t, err)
		assert.Empty(t, list)

		// The chunk itself survives: content-addressed data is shared.
		has, err := c.Registry().Store().Has(txn, types.ChunkAddress([]byte("data")))
		require.NoError(t, err)
		assert.True(t, has)
		return nil
	})
}

func TestWithPathLock_Serializes(t *testing.T) {
	c, _ := newTestCatalog(t, Config{})

	counter := 0
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_ = c.WithPathLock("/same", func() error {
				counter++
				return nil
			})
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, 8, counter)
}

func TestHeaderHash_MatchesCodec(t *testing.T) {
	c, kv := newTestCatalog(t, Config{})

	h := types.Header{AllowedMethods: types.MaskAll, ResourceAdmin: "ops"}
	expected, err := codec.HashOf(h)
	require.NoError(t, err)

	update(t, kv, func(txn *badger.Txn) error {
		got, err := c.CreateHeader(txn, h)
		require.NoError(t, err)
		assert.Equal(t, expected, got)
		return nil
	})
}
