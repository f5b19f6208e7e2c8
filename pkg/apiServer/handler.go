package apiServer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/siteforge/wttpd/internal/accesscontrol"
	"github.com/siteforge/wttpd/internal/catalog"
	"github.com/siteforge/wttpd/internal/chunkstore"
	"github.com/siteforge/wttpd/internal/engine"
	"github.com/siteforge/wttpd/pkg/chunker"
	"github.com/siteforge/wttpd/pkg/gateway"
	"github.com/siteforge/wttpd/pkg/types"
)

func requestLine(r *http.Request) engine.RequestLine {
	protocol := r.Header.Get(headerProtocol)
	if protocol == "" {
		protocol = types.ProtocolVersion
	}
	return engine.RequestLine{Protocol: protocol, Path: r.URL.Path}
}

func headRequest(r *http.Request) engine.HeadRequest {
	req := engine.HeadRequest{RequestLine: requestLine(r)}

	if tag := strings.Trim(strings.TrimPrefix(r.Header.Get("If-None-Match"), "W/"), `"`); tag != "" {
		if h, err := types.ParseHash(tag); err == nil {
			req.IfNoneMatch = h
		}
	}
	if since := r.Header.Get("If-Modified-Since"); since != "" {
		if t, err := http.ParseTime(since); err == nil {
			req.IfModifiedSince = t.Unix()
		}
	}
	return req
}

// parseRange reads an HTTP Range header for the given unit. The HTTP
// inclusive end becomes the half-open End; a malformed header is
// ignored, as HTTP requires.
func parseRange(header, unit string) (types.Range, bool) {
	spec, found := strings.CutPrefix(strings.TrimSpace(header), unit+"=")
	if !found {
		return types.Range{}, false
	}
	first, last, found := strings.Cut(spec, "-")
	if !found {
		return types.Range{}, false
	}

	if first == "" { // suffix form: unit=-k
		k, err := strconv.ParseInt(last, 10, 64)
		if err != nil || k <= 0 {
			return types.Range{}, false
		}
		return types.Range{Start: -k}, true
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return types.Range{}, false
	}
	if last == "" { // open end: unit=a-
		return types.Range{Start: start}, true
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return types.Range{}, false
	}
	return types.Range{Start: start, End: end + 1}, true
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (types.Identity, bool) {
	id, err := s.auth(r)
	if err != nil {
		s.log.WithError(err).Warn("authentication failed")
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return "", false
	}
	return id, true
}

func (s *Server) payment(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.Header.Get(headerPayment)
	if raw == "" {
		return 0, true
	}
	amount, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid payment header", http.StatusBadRequest)
		return 0, false
	}
	return amount, true
}

// writeError maps the hard-failure taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, accesscontrol.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, catalog.ErrResourceImmutable),
		errors.Is(err, catalog.ErrOutOfBoundsChunk):
		status = http.StatusConflict
	case errors.Is(err, catalog.ErrMalformedParameter):
		status = http.StatusBadRequest
	case errors.Is(err, chunkstore.ErrInsufficientPayment),
		errors.Is(err, chunkstore.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	default:
		s.log.WithError(err).Error("request failed")
		status = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), status)
}

func setCommonHeaders(w http.ResponseWriter, head engine.HeadResponse) {
	h := w.Header()
	if !head.ETag.IsZero() {
		h.Set("ETag", `"`+head.ETag.String()+`"`)
	}
	if head.Metadata.LastModified > 0 {
		h.Set("Last-Modified", time.Unix(head.Metadata.LastModified, 0).UTC().Format(http.TimeFormat))
	}
	if head.Metadata.Version > 0 {
		h.Set(headerVersion, strconv.FormatUint(head.Metadata.Version, 10))
	}
	if head.Metadata.MimeType != "" {
		ct := head.Metadata.MimeType
		if head.Metadata.Charset != "" {
			ct += "; charset=" + head.Metadata.Charset
		}
		h.Set("Content-Type", ct)
	}
	if head.Metadata.Encoding != "" {
		h.Set("Content-Encoding", head.Metadata.Encoding)
	}
	if head.Metadata.Language != "" {
		h.Set("Content-Language", head.Metadata.Language)
	}
	if head.Status.IsRedirect() && head.Header.Redirect.Location != "" {
		h.Set("Location", head.Header.Redirect.Location)
	}
}

func allowList(mask types.Method) string {
	var names []string
	for bit := 0; bit < 9; bit++ {
		m := types.Method(1 << bit)
		if m.In(mask) {
			names = append(names, m.String())
		}
	}
	return strings.Join(names, ", ")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	resp, err := s.store.Gateway().Head(headRequest(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	setCommonHeaders(w, resp)
	w.WriteHeader(int(resp.Status.Norm()))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	req := gateway.GetRequest{HeadRequest: headRequest(r)}
	req.Range, _ = parseRange(r.Header.Get("Range"), "bytes")

	resp, err := s.store.Gateway().Get(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	setCommonHeaders(w, resp.HeadResponse)

	status := resp.Status.Norm()
	if status != types.StatusOK && status != types.StatusPartialContent {
		w.WriteHeader(int(status))
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	if status == types.StatusPartialContent && resp.Range.End > resp.Range.Start {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d",
			resp.Range.Start, resp.Range.End-1, resp.Metadata.Size))
	}
	w.WriteHeader(int(status))
	if _, err := w.Write(resp.Body); err != nil {
		s.log.WithError(err).Warn("failed to write response body")
	}
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	req := gateway.LocateRequest{HeadRequest: headRequest(r)}
	req.Range, _ = parseRange(r.Header.Get("Range"), "chunks")

	resp, err := s.store.Gateway().Locate(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	setCommonHeaders(w, resp.HeadResponse)

	status := resp.Status.Norm()
	if status != types.StatusOK && status != types.StatusPartialContent {
		w.WriteHeader(int(status))
		return
	}

	body := locateResponse{
		Start:  resp.Range.Start,
		End:    resp.Range.End,
		Chunks: make([]string, len(resp.Chunks)),
	}
	for i, addr := range resp.Chunks {
		body.Chunks[i] = addr.String()
	}
	writeJSON(w, int(status), body)
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	resp, err := s.store.Gateway().Options(requestLine(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Allow", allowList(resp.Allow))
	w.WriteHeader(int(resp.Status.Norm()))
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	payment, ok := s.payment(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	regs, err := chunker.Split(body, caller)
	if err != nil {
		s.writeError(w, err)
		return
	}

	mimeType := r.Header.Get("Content-Type")
	var charset string
	if base, param, found := strings.Cut(mimeType, ";"); found {
		mimeType = strings.TrimSpace(base)
		if v, ok := strings.CutPrefix(strings.TrimSpace(param), "charset="); ok {
			charset = v
		}
	}

	resp, err := s.store.Engine().Put(caller, payment, engine.PutRequest{
		RequestLine: requestLine(r),
		MimeType:    mimeType,
		Charset:     charset,
		Encoding:    r.Header.Get("Content-Encoding"),
		Language:    r.Header.Get("Content-Language"),
		Chunks:      regs,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	setCommonHeaders(w, resp.HeadResponse)
	w.Header().Set(headerRoyalty, strconv.FormatUint(resp.Royalty, 10))
	w.Header().Set(headerRefund, strconv.FormatUint(resp.Refund, 10))
	w.WriteHeader(int(resp.Status.Norm()))
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	payment, ok := s.payment(w, r)
	if !ok {
		return
	}

	var index uint64
	if raw := r.Header.Get(headerChunkIndex); raw != "" {
		var err error
		index, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid chunk index header", http.StatusBadRequest)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	resp, err := s.store.Engine().Patch(caller, payment, engine.PatchRequest{
		RequestLine: requestLine(r),
		Chunks: []types.DataRegistration{
			{Data: body, ChunkIndex: index, Publisher: caller},
		},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	setCommonHeaders(w, resp.HeadResponse)
	w.Header().Set(headerRoyalty, strconv.FormatUint(resp.Royalty, 10))
	w.Header().Set(headerRefund, strconv.FormatUint(resp.Refund, 10))
	w.WriteHeader(int(resp.Status.Norm()))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}

	resp, err := s.store.Engine().Delete(caller, requestLine(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	setCommonHeaders(w, resp)
	w.WriteHeader(int(resp.Status.Norm()))
}

func (s *Server) handleDefine(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}

	var req defineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid header document: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := s.store.Engine().Define(caller, engine.DefineRequest{
		RequestLine: requestLine(r),
		Header:      req.Header,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	setCommonHeaders(w, resp.HeadResponse)
	w.Header().Set(headerHeaderHash, resp.HeaderHash.String())
	w.WriteHeader(int(resp.Status.Norm()))
}
