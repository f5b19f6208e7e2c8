package engine

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/siteforge/wttpd/internal/accesscontrol"
	"github.com/siteforge/wttpd/internal/chunkstore"
	"github.com/siteforge/wttpd/pkg/types"
)

// refresh recomputes the metadata view after a mutation, inside the same
// transaction, so responses always describe the committed state.
func (e *Engine) refresh(txn *badger.Txn, path string, resp *HeadResponse) error {
	meta, err := e.catalog.ReadMetadata(txn, path)
	if err != nil {
		return err
	}
	list, err := e.catalog.ReadChunkList(txn, path)
	if err != nil {
		return err
	}
	h, _, err := e.catalog.HeaderFor(txn, path)
	if err != nil {
		return err
	}
	etag, err := etagOf(meta, list)
	if err != nil {
		return err
	}
	resp.Metadata = meta
	resp.Header = h
	resp.ETag = etag
	return nil
}

// Put replaces the resource wholesale: existing content is discarded, the
// descriptive metadata is rewritten, and the request's chunks become the
// new content. Unused payment is reported back as the refund.
func (e *Engine) Put(caller types.Identity, payment uint64, req PutRequest) (WriteResponse, error) {
	pay := &chunkstore.Payment{Caller: caller, Remaining: payment}
	var resp WriteResponse
	var kind AuditKind

	err := e.catalog.WithPathLock(req.Path, func() error {
		return e.kv.Update(func(txn *badger.Txn) error {
			status, h, err := e.preflight(txn, req.RequestLine, types.MethodPut, caller)
			if err != nil {
				return err
			}
			if status != 0 {
				resp.Status = status
				resp.Header = h
				return nil
			}

			created, _, err := e.catalog.ReplaceResource(txn, req.Path, types.ResourceMetadata{
				MimeType: req.MimeType,
				Charset:  req.Charset,
				Encoding: req.Encoding,
				Language: req.Language,
			}, req.Chunks, pay)
			if err != nil {
				return err
			}

			if err := e.refresh(txn, req.Path, &resp.HeadResponse); err != nil {
				return err
			}

			switch {
			case len(req.Chunks) == 0:
				resp.Status = types.StatusNoContent
			case created:
				resp.Status = types.StatusCreated
			default:
				resp.Status = types.StatusOK
			}
			if created {
				kind = AuditCreated
			} else {
				kind = AuditUpdated
			}
			return nil
		})
	})
	if err != nil {
		return WriteResponse{}, err
	}

	resp.Royalty = pay.Spent
	resp.Refund = pay.Remaining
	if kind != "" {
		e.emit(kind, req.Path, resp.Metadata.Version, caller)
	}
	return resp, nil
}

// Patch registers one or more chunks at their stated indices without
// touching the descriptive metadata. The resource must already exist.
func (e *Engine) Patch(caller types.Identity, payment uint64, req PatchRequest) (WriteResponse, error) {
	pay := &chunkstore.Payment{Caller: caller, Remaining: payment}
	var resp WriteResponse
	mutated := false

	err := e.catalog.WithPathLock(req.Path, func() error {
		return e.kv.Update(func(txn *badger.Txn) error {
			status, h, err := e.preflight(txn, req.RequestLine, types.MethodPatch, caller)
			if err != nil {
				return err
			}
			if status != 0 {
				resp.Status = status
				resp.Header = h
				return nil
			}

			list, err := e.catalog.ReadChunkList(txn, req.Path)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				resp.Status = types.StatusNotFound
				resp.Header = h
				return nil
			}

			for _, chunk := range req.Chunks {
				if _, _, err := e.catalog.PutChunk(txn, req.Path, chunk, pay); err != nil {
					return err
				}
			}

			if err := e.refresh(txn, req.Path, &resp.HeadResponse); err != nil {
				return err
			}
			resp.Status = types.StatusOK
			mutated = true
			return nil
		})
	})
	if err != nil {
		return WriteResponse{}, err
	}

	resp.Royalty = pay.Spent
	resp.Refund = pay.Remaining
	if mutated {
		e.emit(AuditUpdated, req.Path, resp.Metadata.Version, caller)
	}
	return resp, nil
}

// Delete clears the resource. Header definitions survive; they are content
// addressed and may be shared across paths.
func (e *Engine) Delete(caller types.Identity, line RequestLine) (HeadResponse, error) {
	var resp HeadResponse
	mutated := false

	err := e.catalog.WithPathLock(line.Path, func() error {
		return e.kv.Update(func(txn *badger.Txn) error {
			status, h, err := e.preflight(txn, line, types.MethodDelete, caller)
			if err != nil {
				return err
			}
			if status != 0 {
				resp.Status = status
				resp.Header = h
				return nil
			}

			list, err := e.catalog.ReadChunkList(txn, line.Path)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				resp.Status = types.StatusNotFound
				resp.Header = h
				return nil
			}

			if err := e.catalog.DeleteResource(txn, line.Path); err != nil {
				return err
			}

			meta, err := e.catalog.ReadMetadata(txn, line.Path)
			if err != nil {
				return err
			}
			resp.Metadata = meta
			resp.Header = h
			resp.Status = types.StatusNoContent
			mutated = true
			return nil
		})
	})
	if err != nil {
		return HeadResponse{}, err
	}

	if mutated {
		e.emit(AuditDeleted, line.Path, resp.Metadata.Version, caller)
	}
	return resp, nil
}

// Define interns the request's header and rebinds the path to it. The
// rebind commits even when the path has no content; the response still
// reports 404 then, because header existence does not imply resource
// existence.
func (e *Engine) Define(caller types.Identity, req DefineRequest) (DefineResponse, error) {
	var resp DefineResponse
	mutated := false

	err := e.catalog.WithPathLock(req.Path, func() error {
		return e.kv.Update(func(txn *badger.Txn) error {
			status, h, err := e.preflight(txn, req.RequestLine, types.MethodDefine, caller)
			if err != nil {
				return err
			}
			if status != 0 {
				resp.Status = status
				resp.Header = h
				return nil
			}

			hash, err := e.catalog.CreateHeader(txn, req.Header)
			if err != nil {
				return err
			}

			meta, err := e.catalog.ReadMetadata(txn, req.Path)
			if err != nil {
				return err
			}
			meta.HeaderRef = hash
			if err := e.catalog.UpdateMetadata(txn, req.Path, meta); err != nil {
				return err
			}

			if err := e.refresh(txn, req.Path, &resp.HeadResponse); err != nil {
				return err
			}
			// Sanitizing an immutable resource's rebind may re-intern a
			// different header than the one requested; report what stuck.
			resp.HeaderHash = resp.Metadata.HeaderRef

			list, err := e.catalog.ReadChunkList(txn, req.Path)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				resp.Status = types.StatusNotFound
			} else {
				resp.Status = types.StatusOK
			}
			mutated = true
			return nil
		})
	})
	if err != nil {
		return DefineResponse{}, err
	}

	if mutated {
		e.emit(AuditDefined, req.Path, resp.Metadata.Version, caller)
	}
	return resp, nil
}

// SetDefaultHeader installs the catalog-wide default header. Site admins
// only.
func (e *Engine) SetDefaultHeader(caller types.Identity, h types.Header) error {
	return e.kv.Update(func(txn *badger.Txn) error {
		isSite, err := e.ac.IsSiteAdmin(txn, caller)
		if err != nil {
			return err
		}
		if !isSite {
			return accesscontrol.ErrPermissionDenied
		}
		return e.catalog.SetDefaultHeader(txn, h)
	})
}
