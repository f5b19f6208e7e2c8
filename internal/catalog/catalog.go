// Package catalog owns the three resource maps: header definitions keyed by
// content hash, per-path metadata, and per-path ordered chunk lists. It
// enforces the append-only chunk-list shape, the derived-field rules on
// metadata, and the immutability lock.
package catalog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/siteforge/wttpd/internal/chunkstore"
	"github.com/siteforge/wttpd/internal/codec"
	"github.com/siteforge/wttpd/internal/keyValStore"
	"github.com/siteforge/wttpd/pkg/types"
)

var (
	ErrResourceImmutable  = errors.New("resource is immutable")
	ErrOutOfBoundsChunk   = errors.New("chunk index beyond list length")
	ErrMalformedParameter = errors.New("malformed parameter")
)

const (
	prefixHeader    = 'h'
	prefixMetadata  = 'm'
	prefixChunkList = 'l'
)

type Config struct {
	// RejectMalformed upgrades header validation findings from a logged
	// warning to a hard failure. The permissive default mirrors the
	// observable-but-tolerant validation policy.
	RejectMalformed bool
	Logger          *logrus.Logger
}

type Catalog struct {
	registry *chunkstore.Registry
	conf     Config
	log      *logrus.Logger
	now      func() int64

	mu        sync.Mutex
	pathLocks map[string]*sync.Mutex
}

func New(registry *chunkstore.Registry, conf Config) *Catalog {
	if conf.Logger == nil {
		conf.Logger = logrus.New()
	}
	return &Catalog{
		registry:  registry,
		conf:      conf,
		log:       conf.Logger,
		now:       func() int64 { return time.Now().Unix() },
		pathLocks: make(map[string]*sync.Mutex),
	}
}

func (c *Catalog) Registry() *chunkstore.Registry {
	return c.registry
}

// WithPathLock serializes mutators of one path. Cross-path operations are
// deliberately not atomic as a group; each path's mutation is its own
// transaction.
func (c *Catalog) WithPathLock(path string, fn func() error) error {
	c.mu.Lock()
	lock, ok := c.pathLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		c.pathLocks[path] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func headerKey(hash types.Hash) []byte {
	return keyValStore.Key(prefixHeader, hash.Bytes())
}

func metadataKey(path string) []byte {
	return keyValStore.Key(prefixMetadata, []byte(path))
}

func chunkListKey(path string) []byte {
	return keyValStore.Key(prefixChunkList, []byte(path))
}

// validateHeader flags illegal masks and redirect declarations. Violations
// are non-fatal by default: logged, and the header is stored anyway.
func (c *Catalog) validateHeader(h types.Header) error {
	var complaints []string

	if !types.ValidMask(h.AllowedMethods) {
		complaints = append(complaints, fmt.Sprintf("allowedMethods %#x outside legal bit width", uint16(h.AllowedMethods)))
	}
	if h.Redirect.Code != 0 {
		if !h.Redirect.Code.IsRedirect() {
			complaints = append(complaints, fmt.Sprintf("redirect code %d outside [300,309]", h.Redirect.Code))
		}
		if h.Redirect.Location == "" {
			complaints = append(complaints, "redirect code without location")
		}
	} else if h.Redirect.Location != "" {
		complaints = append(complaints, "redirect location without code")
	}

	if len(complaints) == 0 {
		return nil
	}
	for _, complaint := range complaints {
		c.log.WithFields(logrus.Fields{
			"complaint": complaint,
		}).Warn("malformed header parameter")
	}
	return fmt.Errorf("%w: %s", ErrMalformedParameter, complaints[0])
}

// CreateHeader interns a header by content hash. The first call stores it,
// later calls are lookups. Validation findings are logged; they only fail
// the call when the catalog is configured strict.
func (c *Catalog) CreateHeader(txn *badger.Txn, h types.Header) (types.Hash, error) {
	if err := c.validateHeader(h); err != nil && c.conf.RejectMalformed {
		return types.Hash{}, err
	}

	hash, err := codec.HashOf(h)
	if err != nil {
		return types.Hash{}, err
	}

	exists, err := keyValStore.Exists(txn, headerKey(hash))
	if err != nil {
		return types.Hash{}, err
	}
	if exists {
		return hash, nil
	}

	raw, err := codec.Marshal(h)
	if err != nil {
		return types.Hash{}, err
	}
	if err := keyValStore.Set(txn, headerKey(hash), raw); err != nil {
		return types.Hash{}, err
	}
	return hash, nil
}

// SetDefaultHeader writes the catalog-wide default header into the
// distinguished zero-hash slot.
func (c *Catalog) SetDefaultHeader(txn *badger.Txn, h types.Header) error {
	if err := c.validateHeader(h); err != nil && c.conf.RejectMalformed {
		return err
	}
	raw, err := codec.Marshal(h)
	if err != nil {
		return err
	}
	return keyValStore.Set(txn, headerKey(types.Hash{}), raw)
}

// ReadHeader returns the header stored under hash, the zero value for an
// unknown hash. The zero hash reads the default header slot.
func (c *Catalog) ReadHeader(txn *badger.Txn, hash types.Hash) (types.Header, error) {
	raw, found, err := keyValStore.Get(txn, headerKey(hash))
	if err != nil || !found {
		return types.Header{}, err
	}
	var h types.Header
	if err := codec.Unmarshal(raw, &h); err != nil {
		return types.Header{}, fmt.Errorf("error decoding header %s: %w", hash, err)
	}
	return h, nil
}

// ReadMetadata returns the metadata of path, the zero value for an unknown
// path.
func (c *Catalog) ReadMetadata(txn *badger.Txn, path string) (types.ResourceMetadata, error) {
	raw, found, err := keyValStore.Get(txn, metadataKey(path))
	if err != nil || !found {
		return types.ResourceMetadata{}, err
	}
	var meta types.ResourceMetadata
	if err := codec.Unmarshal(raw, &meta); err != nil {
		return types.ResourceMetadata{}, fmt.Errorf("error decoding metadata of %s: %w", path, err)
	}
	return meta, nil
}

// ReadChunkList returns the ordered chunk addresses of path, nil for an
// unknown path.
func (c *Catalog) ReadChunkList(txn *badger.Txn, path string) ([]types.Hash, error) {
	raw, found, err := keyValStore.Get(txn, chunkListKey(path))
	if err != nil || !found {
		return nil, err
	}
	var list []types.Hash
	if err := codec.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("error decoding chunk list of %s: %w", path, err)
	}
	return list, nil
}

// HeaderFor resolves the effective header of path: its HeaderRef, falling
// back to the default header slot when the path has none.
func (c *Catalog) HeaderFor(txn *badger.Txn, path string) (types.Header, types.Hash, error) {
	meta, err := c.ReadMetadata(txn, path)
	if err != nil {
		return types.Header{}, types.Hash{}, err
	}
	h, err := c.ReadHeader(txn, meta.HeaderRef)
	return h, meta.HeaderRef, err
}

func (c *Catalog) writeMetadata(txn *badger.Txn, path string, meta types.ResourceMetadata) error {
	raw, err := codec.Marshal(meta)
	if err != nil {
		return err
	}
	return keyValStore.Set(txn, metadataKey(path), raw)
}

func (c *Catalog) writeChunkList(txn *badger.Txn, path string, list []types.Hash) error {
	raw, err := codec.Marshal(list)
	if err != nil {
		return err
	}
	return keyValStore.Set(txn, chunkListKey(path), raw)
}

// stamp applies the derived-field bump every committed mutation gets.
func (c *Catalog) stamp(meta *types.ResourceMetadata) {
	meta.Version++
	meta.LastModified = c.now()
}

// NotImmutable is the mutation guard: a path whose current header declares
// immutability and whose chunk list is non-empty refuses content mutation.
func (c *Catalog) NotImmutable(txn *badger.Txn, path string) error {
	h, _, err := c.HeaderFor(txn, path)
	if err != nil {
		return err
	}
	if !h.Cache.Immutable {
		return nil
	}
	list, err := c.ReadChunkList(txn, path)
	if err != nil {
		return err
	}
	if len(list) > 0 {
		return fmt.Errorf("%w: %s", ErrResourceImmutable, path)
	}
	return nil
}

// PutChunk registers one chunk and splices its address into the path's
// chunk list: append at index == len, overwrite in place at index < len,
// reject the gap at index > len. Returns whether the write created the
// resource (first chunk of an empty list) and the royalty drawn from pay.
func (c *Catalog) PutChunk(txn *badger.Txn, path string, reg types.DataRegistration, pay *chunkstore.Payment) (created bool, royalty uint64, err error) {
	if err := c.NotImmutable(txn, path); err != nil {
		return false, 0, err
	}

	list, err := c.ReadChunkList(txn, path)
	if err != nil {
		return false, 0, err
	}
	if reg.ChunkIndex > uint64(len(list)) {
		c.log.WithFields(logrus.Fields{
			"path":  path,
			"index": reg.ChunkIndex,
			"len":   len(list),
		}).Error("chunk index would leave a gap")
		return false, 0, fmt.Errorf("%w: index %d, list length %d", ErrOutOfBoundsChunk, reg.ChunkIndex, len(list))
	}

	meta, err := c.ReadMetadata(txn, path)
	if err != nil {
		return false, 0, err
	}

	addr, royalty, err := c.registry.Register(txn, reg.Data, reg.Publisher, pay)
	if err != nil {
		return false, 0, err
	}
	newSize := uint64(len(reg.Data))

	if reg.ChunkIndex == uint64(len(list)) {
		created = len(list) == 0
		list = append(list, addr)
		meta.Size += newSize
	} else {
		oldSize, err := c.registry.Store().Size(txn, list[reg.ChunkIndex])
		if err != nil {
			return false, 0, err
		}
		list[reg.ChunkIndex] = addr
		meta.Size = meta.Size - oldSize + newSize
	}

	c.stamp(&meta)
	if err := c.writeChunkList(txn, path, list); err != nil {
		return false, 0, err
	}
	if err := c.writeMetadata(txn, path, meta); err != nil {
		return false, 0, err
	}
	return created, royalty, nil
}

// UpdateMetadata replaces the descriptive fields of path from fields,
// preserving the derived ones, then restamps. When the path's current
// header is immutable and content exists, the newly referenced header is
// sanitized before commit: its PUT/PATCH/DELETE bits are cleared and its
// immutable flag pinned, so immutability cannot be talked away by
// redefining the header.
func (c *Catalog) UpdateMetadata(txn *badger.Txn, path string, fields types.ResourceMetadata) error {
	meta, err := c.ReadMetadata(txn, path)
	if err != nil {
		return err
	}

	current, _, err := c.HeaderFor(txn, path)
	if err != nil {
		return err
	}
	list, err := c.ReadChunkList(txn, path)
	if err != nil {
		return err
	}

	headerRef := fields.HeaderRef
	if current.Cache.Immutable && len(list) > 0 && headerRef != meta.HeaderRef {
		next, err := c.ReadHeader(txn, headerRef)
		if err != nil {
			return err
		}
		next.AllowedMethods &^= types.MethodPut | types.MethodPatch | types.MethodDelete
		next.Cache.Immutable = true
		headerRef, err = c.CreateHeader(txn, next)
		if err != nil {
			return err
		}
		c.log.WithFields(logrus.Fields{
			"path": path,
		}).Warn("immutable resource: write methods stripped from redefined header")
	}

	meta.MimeType = fields.MimeType
	meta.Charset = fields.Charset
	meta.Encoding = fields.Encoding
	meta.Language = fields.Language
	meta.HeaderRef = headerRef

	c.stamp(&meta)
	return c.writeMetadata(txn, path, meta)
}

// ReplaceResource is the wholesale PUT transition: existing content is
// discarded, descriptive metadata is taken from fields, and regs become the
// new chunk list in index order. The whole replacement is one state
// transition and bumps the version exactly once.
func (c *Catalog) ReplaceResource(txn *badger.Txn, path string, fields types.ResourceMetadata, regs []types.DataRegistration, pay *chunkstore.Payment) (created bool, royalty uint64, err error) {
	if err := c.NotImmutable(txn, path); err != nil {
		return false, 0, err
	}

	previous, err := c.ReadChunkList(txn, path)
	if err != nil {
		return false, 0, err
	}

	meta, err := c.ReadMetadata(txn, path)
	if err != nil {
		return false, 0, err
	}

	list := make([]types.Hash, 0, len(regs))
	var size uint64
	for _, reg := range regs {
		if reg.ChunkIndex != uint64(len(list)) {
			return false, 0, fmt.Errorf("%w: index %d, list length %d", ErrOutOfBoundsChunk, reg.ChunkIndex, len(list))
		}
		addr, paid, err := c.registry.Register(txn, reg.Data, reg.Publisher, pay)
		if err != nil {
			return false, 0, err
		}
		royalty += paid
		list = append(list, addr)
		size += uint64(len(reg.Data))
	}

	// The header binding survives replacement; PUT never touches it, only
	// DEFINE rebinds.
	meta.MimeType = fields.MimeType
	meta.Charset = fields.Charset
	meta.Encoding = fields.Encoding
	meta.Language = fields.Language
	meta.Size = size
	c.stamp(&meta)

	if len(list) == 0 {
		if err := keyValStore.Delete(txn, chunkListKey(path)); err != nil {
			return false, 0, err
		}
	} else if err := c.writeChunkList(txn, path, list); err != nil {
		return false, 0, err
	}
	if err := c.writeMetadata(txn, path, meta); err != nil {
		return false, 0, err
	}

	created = len(previous) == 0 && len(list) > 0
	return created, royalty, nil
}

// DeleteResource clears the chunk list and zeroes the metadata, leaving a
// tombstone version bump. Header definitions stay: they are content
// addressed and may be shared with other paths.
func (c *Catalog) DeleteResource(txn *badger.Txn, path string) error {
	if err := c.NotImmutable(txn, path); err != nil {
		return err
	}

	meta, err := c.ReadMetadata(txn, path)
	if err != nil {
		return err
	}

	if err := keyValStore.Delete(txn, chunkListKey(path)); err != nil {
		return err
	}

	tombstone := types.ResourceMetadata{Version: meta.Version}
	c.stamp(&tombstone)
	return c.writeMetadata(txn, path, tombstone)
}
