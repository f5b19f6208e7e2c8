package apiServer

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wttpd "github.com/siteforge/wttpd"
	"github.com/siteforge/wttpd/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := wttpd.New(wttpd.Config{
		Paths:                     []string{t.TempDir()},
		Owner:                     "owner",
		SuperAdmin:                "root",
		GarbageCollectionInterval: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return New(store)
}

func do(t *testing.T, s *Server, method, path string, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func asRoot(extra map[string]string) map[string]string {
	h := map[string]string{headerIdentity: "root"}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func TestBridge_PutGetRoundTrip(t *testing.T) {
	s := newTestServer(t)

	put := do(t, s, http.MethodPut, "/hello.txt", "hello world",
		asRoot(map[string]string{"Content-Type": "text/plain; charset=utf-8"}))
	assert.Equal(t, http.StatusCreated, put.Code)
	assert.Equal(t, "1", put.Header().Get(headerVersion))

	get := do(t, s, http.MethodGet, "/hello.txt", "", nil)
	assert.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, "hello world", get.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", get.Header().Get("Content-Type"))
	assert.NotEmpty(t, get.Header().Get("ETag"))
	assert.NotEmpty(t, get.Header().Get("Last-Modified"))
}

func TestBridge_ByteRange(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPut, "/a.txt", "HELLO", asRoot(nil))

	get := do(t, s, http.MethodGet, "/a.txt", "", map[string]string{"Range": "bytes=-2"})
	assert.Equal(t, http.StatusPartialContent, get.Code)
	assert.Equal(t, "LO", get.Body.String())
	assert.Equal(t, "bytes 3-4/5", get.Header().Get("Content-Range"))

	get = do(t, s, http.MethodGet, "/a.txt", "", map[string]string{"Range": "bytes=0-99"})
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, get.Code)
}

func TestBridge_ConditionalGet(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPut, "/c", "cacheable", asRoot(nil))

	head := do(t, s, http.MethodHead, "/c", "", nil)
	require.Equal(t, http.StatusOK, head.Code)
	etag := head.Header().Get("ETag")
	require.NotEmpty(t, etag)

	get := do(t, s, http.MethodGet, "/c", "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, get.Code)
	assert.Empty(t, get.Body.String())
}

func TestBridge_PatchAndDelete(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPut, "/p", "hello", asRoot(nil))

	patch := do(t, s, http.MethodPatch, "/p", "HELLO",
		asRoot(map[string]string{headerChunkIndex: "0"}))
	assert.Equal(t, http.StatusOK, patch.Code)
	assert.Equal(t, "2", patch.Header().Get(headerVersion))

	get := do(t, s, http.MethodGet, "/p", "", nil)
	assert.Equal(t, "HELLO", get.Body.String())

	del := do(t, s, http.MethodDelete, "/p", "", asRoot(nil))
	assert.Equal(t, http.StatusNoContent, del.Code)

	get = do(t, s, http.MethodGet, "/p", "", nil)
	assert.Equal(t, http.StatusNotFound, get.Code)
}

func TestBridge_Locate(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPut, "/l", "addressable", asRoot(nil))

	resp := do(t, s, "LOCATE", "/l", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body locateResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Chunks, 1)
	assert.Equal(t, types.ChunkAddress([]byte("addressable")).String(), body.Chunks[0])
}

func TestBridge_DefineAndOptions(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPut, "/d", "content", asRoot(nil))

	define := do(t, s, "DEFINE", "/d",
		`{"header":{"AllowedMethods":67,"ResourceAdmin":"site-admin"}}`, asRoot(nil))
	require.Equal(t, http.StatusOK, define.Code)
	assert.NotEmpty(t, define.Header().Get(headerHeaderHash))

	// 67 = HEAD + GET + OPTIONS.
	opts := do(t, s, http.MethodOptions, "/d", "", nil)
	assert.Equal(t, http.StatusNoContent, opts.Code)
	assert.Equal(t, "HEAD, GET, OPTIONS", opts.Header().Get("Allow"))
}

func TestBridge_CORSPreflightIsNotProtocolOptions(t *testing.T) {
	s := newTestServer(t)

	preflight := do(t, s, http.MethodOptions, "/anything", "", map[string]string{
		"Access-Control-Request-Method": "PUT",
		"Origin":                        "https://example.com",
	})
	assert.Equal(t, http.StatusNoContent, preflight.Code)
	assert.Empty(t, preflight.Header().Get("Allow"))

	// A plain OPTIONS reaches the protocol engine: unknown path is 404.
	plain := do(t, s, http.MethodOptions, "/anything", "", nil)
	assert.Equal(t, http.StatusNotFound, plain.Code)
}

func TestBridge_AnonymousWriteRefused(t *testing.T) {
	s := newTestServer(t)

	put := do(t, s, http.MethodPut, "/nope", "data", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, put.Code)
}

func TestBridge_ProtocolHeaderOverride(t *testing.T) {
	s := newTestServer(t)

	head := do(t, s, http.MethodHead, "/x", "", map[string]string{headerProtocol: "WTTP/1.0"})
	assert.Equal(t, http.StatusHTTPVersionNotSupported, head.Code)
}
