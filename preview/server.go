// Package preview serves a local browser view of mailboxes loaded through the backend.
// It only ever talks to the backend through a mailcore.Client.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/mailview/mailcore"
	"github.com/guseggert/mailview/rpc"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

type Server struct {
	logger     *zap.SugaredLogger
	client     *mailcore.Client
	listenAddr string
	exportDir  string
	now        func() time.Time

	mut        sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

type Option func(s *Server)

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// WithExportDir sets where exports go when a request names no text path.
func WithExportDir(dir string) Option {
	return func(s *Server) {
		s.exportDir = dir
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l.Named("preview_server").Sugar()
	}
}

func NewServer(client *mailcore.Client, opts ...Option) *Server {
	s := &Server{
		logger:     zap.NewNop().Sugar(),
		client:     client,
		listenAddr: "127.0.0.1:8765",
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/ping", s.ping)
	router.GET("/mailbox/*path", s.mailbox)
	router.GET("/message/*path", s.message)
	router.POST("/export", s.export)
	return router
}

// Run serves until Stop is called.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}
	server := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.mut.Lock()
	s.httpServer = server
	s.listener = l
	s.mut.Unlock()

	s.logger.Infof("serving on http://%s", l.Addr())
	err = server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the address being served, or nil before Run has started listening.
func (s *Server) Addr() net.Addr {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mut.Lock()
	server := s.httpServer
	s.mut.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) ping(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	ok, err := s.client.Ping(callContext(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: ok})
}

func (s *Server) mailbox(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	mb, err := s.client.LoadMailbox(callContext(r), pathParam(params))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mb)
}

func (s *Server) message(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	path := pathParam(params)
	msg, err := s.client.LoadMessage(callContext(r), path)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		s.writeJSON(w, http.StatusOK, msg)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := renderMessage(w, msg); err != nil {
		s.logger.Debugf("error rendering message %q: %s", path, err)
	}
}

// ExportRequest is the body of POST /export. When TextPath is empty, a path is made up
// in the server's export directory from Label.
type ExportRequest struct {
	mailcore.Selection
	Label              string `json:"label"`
	TextPath           string `json:"text_path"`
	IncludeAttachments bool   `json:"include_attachments"`
	IncludeJSON        bool   `json:"include_json"`
	JSONPath           string `json:"json_path"`
	IncludeHashes      bool   `json:"include_hashes"`
	HashesPath         string `json:"hashes_path"`
	Encoding           string `json:"encoding"`
}

func (s *Server) export(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := mailcore.ExportOptions{
		TextPath:           req.TextPath,
		IncludeAttachments: req.IncludeAttachments,
		IncludeJSON:        req.IncludeJSON,
		JSONPath:           req.JSONPath,
		IncludeHashes:      req.IncludeHashes,
		HashesPath:         req.HashesPath,
		SourceLabel:        req.Label,
		Encoding:           req.Encoding,
	}
	if opts.TextPath == "" {
		opts.TextPath = mailcore.DefaultExportPath(req.Label, s.exportDir, s.now())
	}
	opts = opts.DeriveSidecarPaths()

	res, err := s.client.ExportBundle(callContext(r), req.Selection, opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// callContext detaches a backend call from the HTTP request. The rpc client kills the
// backend when a call's context ends, and a browser going away must not cost the loaded
// mailbox; only the client's call timeout may abort the call.
func callContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// pathParam returns the file path a route names. A Windows drive path arrives as /C:/...
func pathParam(params httprouter.Params) string {
	p := params.ByName("path")
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		return p[1:]
	}
	return p
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warnf("backend call failed: %s", err)
	}
	http.Error(w, err.Error(), status)
}

func errorStatus(err error) int {
	var remoteErr *rpc.RemoteError
	switch {
	case errors.As(err, &remoteErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mailcore.ErrNothingToExport), errors.Is(err, mailcore.ErrNoTextPath):
		return http.StatusBadRequest
	case errors.Is(err, rpc.ErrCallAborted):
		return http.StatusGatewayTimeout
	case errors.Is(err, rpc.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, rpc.ErrStartup), errors.Is(err, rpc.ErrTransport),
		errors.Is(err, rpc.ErrBackendTerminated), errors.Is(err, rpc.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
