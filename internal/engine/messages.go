package engine

import "github.com/siteforge/wttpd/pkg/types"

// RequestLine is the envelope every verb carries: the protocol revision the
// client speaks and the path it addresses.
type RequestLine struct {
	Protocol string
	Path     string
}

// HeadRequest adds the conditional headers shared by the HEAD-derived
// verbs. A zero IfModifiedSince or IfNoneMatch means the condition is
// absent.
type HeadRequest struct {
	RequestLine
	IfModifiedSince int64
	IfNoneMatch     types.Hash
}

type PutRequest struct {
	RequestLine
	MimeType string
	Charset  string
	Encoding string
	Language string
	Chunks   []types.DataRegistration
}

type PatchRequest struct {
	RequestLine
	Chunks []types.DataRegistration
}

type DefineRequest struct {
	RequestLine
	Header types.Header
}

// HeadResponse is the metadata view every verb response embeds. The ETag is
// recomputed on each call from the current metadata and chunk list, never
// cached.
type HeadResponse struct {
	Status   types.StatusCode
	Metadata types.ResourceMetadata
	Header   types.Header
	ETag     types.Hash
}

type OptionsResponse struct {
	Status types.StatusCode
	Allow  types.Method
}

// LocateResponse carries the full ordered chunk-address list; bytes are the
// gateway's business, the engine never assembles content.
type LocateResponse struct {
	HeadResponse
	Chunks []types.Hash
}

// WriteResponse reports a committed PUT or PATCH. Royalty is what the call
// actually spent from the payment budget; Refund is what is handed back.
type WriteResponse struct {
	HeadResponse
	Royalty uint64
	Refund  uint64
}

type DefineResponse struct {
	HeadResponse
	HeaderHash types.Hash
}
