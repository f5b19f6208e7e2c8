// Package chunkstore holds the content-addressed chunk storage and the
// royalty ledger layered on top of it. Chunks are immutable: a write to an
// address that already exists is a no-op and the bytes at an address never
// change. Chunk payloads are lzma-compressed at rest; addresses are always
// computed over the uncompressed bytes, so compression is invisible to
// everything above this package.
package chunkstore

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz/lzma"

	"github.com/siteforge/wttpd/internal/codec"
	"github.com/siteforge/wttpd/internal/keyValStore"
	"github.com/siteforge/wttpd/pkg/types"
)

var (
	ErrChunkNotFound       = errors.New("chunk not found")
	ErrInsufficientPayment = errors.New("payment does not cover royalty")
	ErrInsufficientBalance = errors.New("amount exceeds credited balance")
)

const (
	prefixChunk   = 'c'
	prefixRoyalty = 'r'
	prefixBalance = 'b'
)

// chunkRecord is the persisted form of a chunk: the uncompressed length and
// the lzma-compressed payload. Size is kept explicit so Size() never has to
// decompress.
type chunkRecord struct {
	Size uint64 `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint,omitempty"`
}

// Store is the raw content-addressed chunk table. All methods run inside a
// caller-provided transaction so a verb's chunk writes commit together with
// its catalog writes.
type Store struct {
	log *logrus.Logger
}

func NewStore(logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{log: logger}
}

func chunkKey(addr types.Hash) []byte {
	return keyValStore.Key(prefixChunk, addr.Bytes())
}

// Write stores data under its content address. Writing bytes that are
// already present is a no-op; the existing payload is never touched.
func (s *Store) Write(txn *badger.Txn, data []byte) (types.Hash, error) {
	addr := types.ChunkAddress(data)

	exists, err := keyValStore.Exists(txn, chunkKey(addr))
	if err != nil {
		return types.Hash{}, err
	}
	if exists {
		return addr, nil
	}

	compressed, err := compressWithLzma(data)
	if err != nil {
		return types.Hash{}, fmt.Errorf("error compressing chunk: %w", err)
	}

	record, err := codec.Marshal(chunkRecord{
		Size: uint64(len(data)),
		Data: compressed,
	})
	if err != nil {
		return types.Hash{}, err
	}

	if err := keyValStore.Set(txn, chunkKey(addr), record); err != nil {
		return types.Hash{}, err
	}
	return addr, nil
}

func (s *Store) readRecord(txn *badger.Txn, addr types.Hash) (chunkRecord, error) {
	raw, found, err := keyValStore.Get(txn, chunkKey(addr))
	if err != nil {
		return chunkRecord{}, err
	}
	if !found {
		return chunkRecord{}, ErrChunkNotFound
	}

	var record chunkRecord
	if err := codec.Unmarshal(raw, &record); err != nil {
		return chunkRecord{}, fmt.Errorf("error decoding chunk record %s: %w", addr, err)
	}
	return record, nil
}

// Read returns the uncompressed bytes at addr, ErrChunkNotFound for an
// unknown address. A zero-length chunk reads back as an empty slice;
// callers distinguish "empty resource" from "zero-length chunk" by list
// length, never by byte length.
func (s *Store) Read(txn *badger.Txn, addr types.Hash) ([]byte, error) {
	record, err := s.readRecord(txn, addr)
	if err != nil {
		return nil, err
	}

	data, err := decompressWithLzma(record.Data)
	if err != nil {
		return nil, fmt.Errorf("error decompressing chunk %s: %w", addr, err)
	}
	return data, nil
}

// Size returns the uncompressed length of the chunk at addr.
func (s *Store) Size(txn *badger.Txn, addr types.Hash) (uint64, error) {
	record, err := s.readRecord(txn, addr)
	if err != nil {
		return 0, err
	}
	return record.Size, nil
}

func (s *Store) Has(txn *badger.Txn, addr types.Hash) (bool, error) {
	return keyValStore.Exists(txn, chunkKey(addr))
}

func compressWithLzma(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	_, err = w.Write(data)
	if err != nil {
		return nil, err
	}

	err = w.Close()
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompressWithLzma(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
