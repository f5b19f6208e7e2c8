// Package gateway is the stateless read façade in front of the protocol
// engine. The engine stops at chunk addresses; the gateway adds byte-range
// and chunk-range resolution and full-content reassembly.
package gateway

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/siteforge/wttpd/internal/chunkstore"
	"github.com/siteforge/wttpd/internal/engine"
	"github.com/siteforge/wttpd/internal/keyValStore"
	"github.com/siteforge/wttpd/pkg/types"
)

type Gateway struct {
	engine *engine.Engine
	kv     *keyValStore.KeyValStore
	store  *chunkstore.Store
	log    *logrus.Logger
}

func New(e *engine.Engine, kv *keyValStore.KeyValStore, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gateway{
		engine: e,
		kv:     kv,
		store:  e.Catalog().Registry().Store(),
		log:    logger,
	}
}

// GetRequest carries the HEAD conditionals plus a byte-axis range.
type GetRequest struct {
	engine.HeadRequest
	Range types.Range
}

// GetResponse delivers reassembled bytes. Range holds the resolved
// absolute window; Body is nil unless Status is 200 or 206.
type GetResponse struct {
	engine.HeadResponse
	Range types.Range
	Body  []byte
}

// LocateRequest carries the HEAD conditionals plus a chunk-axis range.
type LocateRequest struct {
	engine.HeadRequest
	Range types.Range
}

// LocateResponse delivers the (possibly sliced) chunk-address array.
type LocateResponse struct {
	engine.HeadResponse
	Range  types.Range
	Chunks []types.Hash
}

// Get runs the GET pipeline and reassembles the requested byte window
// from the chunk store. A full-span range reports 200, a strict subset
// 206, an unresolvable range 416.
func (g *Gateway) Get(req GetRequest) (GetResponse, error) {
	located, err := g.engine.Get(req.HeadRequest)
	if err != nil {
		return GetResponse{}, err
	}
	resp := GetResponse{HeadResponse: located.HeadResponse}
	if located.Status != types.StatusOK {
		return resp, nil
	}

	start, end, partial, err := ResolveRange(req.Range, int64(located.Metadata.Size))
	if err != nil {
		resp.Status = types.StatusRangeNotSatisfiable
		return resp, nil
	}
	resp.Range = types.Range{Start: start, End: end}
	if partial {
		resp.Status = types.StatusPartialContent
	}

	err = g.kv.View(func(txn *badger.Txn) error {
		sizes := make([]int64, len(located.Chunks))
		for i, addr := range located.Chunks {
			size, err := g.store.Size(txn, addr)
			if err != nil {
				return err
			}
			sizes[i] = int64(size)
		}
		resp.Body, err = window(sizes, start, end, func(i int) ([]byte, error) {
			return g.store.Read(txn, located.Chunks[i])
		})
		return err
	})
	if err != nil {
		return GetResponse{}, err
	}
	return resp, nil
}

// Locate runs the LOCATE pipeline and slices the address array by the
// chunk-axis range.
func (g *Gateway) Locate(req LocateRequest) (LocateResponse, error) {
	located, err := g.engine.Locate(req.HeadRequest)
	if err != nil {
		return LocateResponse{}, err
	}
	resp := LocateResponse{HeadResponse: located.HeadResponse}
	if located.Status != types.StatusOK {
		return resp, nil
	}

	start, end, partial, err := ResolveRange(req.Range, int64(len(located.Chunks)))
	if err != nil {
		resp.Status = types.StatusRangeNotSatisfiable
		return resp, nil
	}
	resp.Range = types.Range{Start: start, End: end}
	resp.Chunks = located.Chunks[start:end]
	if partial {
		resp.Status = types.StatusPartialContent
	}
	return resp, nil
}

func (g *Gateway) Head(req engine.HeadRequest) (engine.HeadResponse, error) {
	return g.engine.Head(req)
}

func (g *Gateway) Options(line engine.RequestLine) (engine.OptionsResponse, error) {
	return g.engine.Options(line)
}
