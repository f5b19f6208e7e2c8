// Package engine implements the eight protocol verbs as a response-code
// derivation state machine over the catalog, the access control tables and
// the chunk registry. Status codes 304/404/416 are ordinary return values
// here; hard errors are reserved for permission, immutability, bounds and
// payment violations.
package engine

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/siteforge/wttpd/internal/accesscontrol"
	"github.com/siteforge/wttpd/internal/catalog"
	"github.com/siteforge/wttpd/internal/codec"
	"github.com/siteforge/wttpd/internal/keyValStore"
	"github.com/siteforge/wttpd/pkg/types"
)

type Config struct {
	Logger *logrus.Logger
	// OnAudit receives a copy of every committed-mutation event, after the
	// transaction has committed.
	OnAudit func(AuditEvent)
}

type Engine struct {
	kv      *keyValStore.KeyValStore
	catalog *catalog.Catalog
	ac      *accesscontrol.AccessControl
	log     *logrus.Logger
	onAudit func(AuditEvent)
}

func New(kv *keyValStore.KeyValStore, cat *catalog.Catalog, ac *accesscontrol.AccessControl, conf Config) *Engine {
	if conf.Logger == nil {
		conf.Logger = logrus.New()
	}
	return &Engine{
		kv:      kv,
		catalog: cat,
		ac:      ac,
		log:     conf.Logger,
		onAudit: conf.OnAudit,
	}
}

func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

func (e *Engine) AccessControl() *accesscontrol.AccessControl {
	return e.ac
}

// etagOf is the resource validator: the canonical hash over the metadata
// record and the chunk-address list. It changes whenever content or
// descriptive metadata changes.
func etagOf(meta types.ResourceMetadata, list []types.Hash) (types.Hash, error) {
	return codec.HashOf(struct {
		Meta   types.ResourceMetadata `cbor:"1,keyasint"`
		Chunks []types.Hash           `cbor:"2,keyasint"`
	}{meta, list})
}

// allowed decides the permission step of the pipeline. Read verbs are
// governed by the header's method mask alone. Write verbs additionally
// require the header's resource-admin role; site admins bypass the mask.
func (e *Engine) allowed(txn *badger.Txn, h types.Header, method types.Method, caller types.Identity) (bool, error) {
	if !method.IsWrite() {
		return method.In(h.AllowedMethods), nil
	}

	isSite, err := e.ac.IsSiteAdmin(txn, caller)
	if err != nil || isSite {
		return isSite, err
	}
	if !method.In(h.AllowedMethods) {
		return false, nil
	}
	return e.ac.IsResourceAdmin(txn, h.ResourceAdmin, caller)
}

// preflight runs the pipeline steps shared by every verb: the protocol
// version check and the permission check. A zero status means "continue".
func (e *Engine) preflight(txn *badger.Txn, line RequestLine, method types.Method, caller types.Identity) (types.StatusCode, types.Header, error) {
	if line.Protocol != types.ProtocolVersion {
		return types.StatusVersionMismatch, types.Header{}, nil
	}

	h, _, err := e.catalog.HeaderFor(txn, line.Path)
	if err != nil {
		return 0, types.Header{}, err
	}

	ok, err := e.allowed(txn, h, method, caller)
	if err != nil {
		return 0, h, err
	}
	if !ok {
		return types.StatusMethodNotAllowed, h, nil
	}
	return 0, h, nil
}

// head runs the read pipeline for one path and the given conditionals.
func (e *Engine) head(txn *badger.Txn, method types.Method, req HeadRequest) (HeadResponse, []types.Hash, error) {
	status, h, err := e.preflight(txn, req.RequestLine, method, "")
	if err != nil {
		return HeadResponse{}, nil, err
	}
	if status != 0 {
		return HeadResponse{Status: status, Header: h}, nil, nil
	}

	list, err := e.catalog.ReadChunkList(txn, req.Path)
	if err != nil {
		return HeadResponse{}, nil, err
	}
	meta, err := e.catalog.ReadMetadata(txn, req.Path)
	if err != nil {
		return HeadResponse{}, nil, err
	}

	if len(list) == 0 {
		return HeadResponse{Status: types.StatusNotFound, Metadata: meta, Header: h}, nil, nil
	}

	etag, err := etagOf(meta, list)
	if err != nil {
		return HeadResponse{}, nil, err
	}

	resp := HeadResponse{Metadata: meta, Header: h, ETag: etag}

	if req.IfNoneMatch == etag ||
		(req.IfModifiedSince != 0 && req.IfModifiedSince > meta.LastModified) {
		resp.Status = types.StatusNotModified
		return resp, list, nil
	}

	if h.Redirect.Code != 0 {
		resp.Status = h.Redirect.Code
		return resp, list, nil
	}

	resp.Status = types.StatusOK
	return resp, list, nil
}

// Head returns metadata, header and validator for the path; never bytes.
func (e *Engine) Head(req HeadRequest) (HeadResponse, error) {
	var resp HeadResponse
	err := e.kv.View(func(txn *badger.Txn) error {
		var err error
		resp, _, err = e.head(txn, types.MethodHead, req)
		return err
	})
	return resp, err
}

// Options reports the allowed-method mask for the path.
func (e *Engine) Options(line RequestLine) (OptionsResponse, error) {
	var resp OptionsResponse
	err := e.kv.View(func(txn *badger.Txn) error {
		status, h, err := e.preflight(txn, line, types.MethodOptions, "")
		if err != nil {
			return err
		}
		resp.Allow = h.AllowedMethods
		if status != 0 {
			resp.Status = status
			return nil
		}

		list, err := e.catalog.ReadChunkList(txn, line.Path)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			resp.Status = types.StatusNotFound
			return nil
		}
		resp.Status = types.StatusNoContent
		return nil
	})
	return resp, err
}

func (e *Engine) locate(method types.Method, req HeadRequest) (LocateResponse, error) {
	var resp LocateResponse
	err := e.kv.View(func(txn *badger.Txn) error {
		head, list, err := e.head(txn, method, req)
		if err != nil {
			return err
		}
		resp.HeadResponse = head
		if head.Status == types.StatusOK {
			resp.Chunks = list
		}
		return nil
	})
	return resp, err
}

// Locate returns the full chunk-address array after the HEAD pipeline.
func (e *Engine) Locate(req HeadRequest) (LocateResponse, error) {
	return e.locate(types.MethodLocate, req)
}

// Get is Locate under the GET permission bit; byte delivery and range
// resolution are the gateway's job.
func (e *Engine) Get(req HeadRequest) (LocateResponse, error) {
	return e.locate(types.MethodGet, req)
}
