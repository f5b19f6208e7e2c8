// Package apiServer serves the store over HTTP. Standard verbs map
// straight through; the two extension verbs LOCATE and DEFINE ride the
// HTTP method token, which net/http routes like any other.
package apiServer

import (
	"net/http"

	"github.com/sirupsen/logrus"

	wttpd "github.com/siteforge/wttpd"
)

type Server struct {
	mux   *http.ServeMux
	store *wttpd.Storefront
	log   *logrus.Logger
	auth  AuthFunc
}

func New(store *wttpd.Storefront, opts ...Option) *Server {
	s := &Server{
		mux:   http.NewServeMux(),
		store: store,
		log:   logrus.StandardLogger(),
		auth:  defaultAuth,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("HEAD /", s.handleHead)
	s.mux.HandleFunc("GET /", s.handleGet)
	s.mux.HandleFunc("PUT /", s.handlePut)
	s.mux.HandleFunc("PATCH /", s.handlePatch)
	s.mux.HandleFunc("DELETE /", s.handleDelete)
	s.mux.HandleFunc("OPTIONS /", s.handleOptions)
	s.mux.HandleFunc("LOCATE /", s.handleLocate)
	s.mux.HandleFunc("DEFINE /", s.handleDefine)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)

	allowedHeaders := "Content-Type, Accept, Range, If-None-Match, If-Modified-Since, " +
		headerProtocol + ", " + headerIdentity + ", " + headerPayment + ", " + headerChunkIndex
	w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
	w.Header().Set("Access-Control-Allow-Methods", "HEAD,GET,PUT,PATCH,DELETE,OPTIONS,LOCATE,DEFINE")
	w.Header().Set("Access-Control-Expose-Headers",
		"Content-Type, Content-Length, Content-Range, ETag, Last-Modified, Allow, Location, "+
			headerVersion+", "+headerHeaderHash+", "+headerRoyalty+", "+headerRefund)
	w.Header().Set("Access-Control-Max-Age", "86400")

	// A CORS preflight is an OPTIONS with a requested method; a plain
	// OPTIONS is the protocol verb and falls through to the mux.
	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.mux.ServeHTTP(w, r)
}
