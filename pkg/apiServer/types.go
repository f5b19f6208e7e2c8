package apiServer

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/siteforge/wttpd/pkg/types"
)

// Request headers understood by the bridge.
const (
	headerProtocol   = "X-Wttp-Protocol"
	headerIdentity   = "X-Wttp-Identity"
	headerPayment    = "X-Wttp-Payment"
	headerChunkIndex = "X-Wttp-Chunk-Index"
)

// Response headers emitted alongside the standard HTTP set.
const (
	headerVersion    = "X-Wttp-Version"
	headerHeaderHash = "X-Wttp-Header"
	headerRoyalty    = "X-Wttp-Royalty"
	headerRefund     = "X-Wttp-Refund"
)

// AuthFunc resolves the calling identity from a request. Returning an
// error rejects the request with 401; an empty identity is an anonymous
// caller (reads only, under the header mask).
type AuthFunc func(r *http.Request) (types.Identity, error)

type Option func(*Server)

func WithLogger(log *logrus.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

func WithAuth(auth AuthFunc) Option {
	return func(s *Server) {
		if auth != nil {
			s.auth = auth
		}
	}
}

// defaultAuth trusts the identity header as-is. Deployments put real
// authentication in front via WithAuth.
func defaultAuth(r *http.Request) (types.Identity, error) {
	return types.Identity(r.Header.Get(headerIdentity)), nil
}

type locateResponse struct {
	Start  int64    `json:"start"`
	End    int64    `json:"end"`
	Chunks []string `json:"chunks"`
}

type defineRequest struct {
	Header types.Header `json:"header"`
}
