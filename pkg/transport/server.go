// Package transport exposes the relay over HTTP and websockets and serves the
// access-controlled admin endpoints.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/karipov/nostrust/pkg/api"
	"github.com/karipov/nostrust/pkg/auth"
	"github.com/karipov/nostrust/pkg/blobstore"
	"github.com/karipov/nostrust/pkg/message"
	"github.com/karipov/nostrust/pkg/relay"
)

// MaxMessageSize caps a single client message body or frame.
const MaxMessageSize = 1 << 20

// NostrJSON is the media type clients send in Accept to fetch the relay
// descriptor.
const NostrJSON = "application/nostr+json"

// Handler applies one client message. *relay.Engine implements it.
type Handler interface {
	Handle(ctx context.Context, msg message.ClientMessage) (message.RelayMessage, error)
}

// Persistence saves and reloads the relay state. *relay.Persister
// implements it.
type Persistence interface {
	Save(ctx context.Context) error
	Load(ctx context.Context) error
}

// Options wires a Server.
type Options struct {
	Engine      Handler
	Persistence Persistence
	// Validator authenticates admin requests. Nil rejects every admin call.
	Validator *auth.JWTValidator
	// Limiter rate limits per client IP. Nil disables limiting.
	Limiter *api.GlobalRateLimiter
	// Shutdown is invoked after a successful admin shutdown save.
	Shutdown func()
	// AllowedOrigins for CORS; empty allows every origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server routes HTTP and websocket traffic to the relay.
type Server struct {
	engine   Handler
	persist  Persistence
	auth     func(http.Handler) http.Handler
	limiter  *api.GlobalRateLimiter
	shutdown func()
	origins  []string
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "transport")
	}
	shutdown := opts.Shutdown
	if shutdown == nil {
		shutdown = func() {}
	}
	return &Server{
		engine:   opts.Engine,
		persist:  opts.Persistence,
		auth:     auth.NewMiddleware(opts.Validator),
		limiter:  opts.Limiter,
		shutdown: shutdown,
		origins:  opts.AllowedOrigins,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Routes returns the full handler with middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", s.handleMessage)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.Handle("POST /admin/save", s.auth(http.HandlerFunc(s.handleSave)))
	mux.Handle("POST /admin/load", s.auth(http.HandlerFunc(s.handleLoad)))
	mux.Handle("POST /admin/shutdown", s.auth(http.HandlerFunc(s.handleShutdown)))

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = auth.CORSMiddleware(s.origins)(h)
	return auth.RequestIDMiddleware(h)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxMessageSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "message exceeds size limit")
			return
		}
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "failed to read message body")
		return
	}
	msg, err := message.DecodeClient(body)
	if err != nil {
		api.WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	resp, err := s.engine.Handle(r.Context(), msg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, "application/json", resp)
}

// handleRoot upgrades websocket clients and serves the relay descriptor
// (NIP-11) to everyone else.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebsocket(w, r)
		return
	}
	if !acceptsNostrJSON(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("nostrust relay: connect over websocket or request " + NostrJSON + "\n"))
		return
	}
	resp, err := s.engine.Handle(r.Context(), message.Info{})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, ok := resp.(message.InfoResponse)
	if !ok {
		api.WriteInternal(w, errors.New("info returned "+resp.Variant()))
		return
	}
	writeJSON(w, NostrJSON, info.Descriptor)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.persist.Save(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "save")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if err := s.persist.Load(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "load")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if err := s.persist.Save(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "shutdown")
	w.WriteHeader(http.StatusAccepted)
	go s.shutdown()
}

func (s *Server) audit(r *http.Request, op string) {
	p, _ := auth.GetPrincipal(r.Context())
	s.logger.InfoContext(r.Context(), "admin operation", "op", op, "subject", p.Subject,
		"request_id", auth.GetRequestID(r.Context()))
}

// statusFor maps relay errors onto HTTP statuses. Zero means internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, message.ErrMalformedMessage), errors.Is(err, relay.ErrDegenerateFilter):
		return http.StatusBadRequest
	case errors.Is(err, relay.ErrUnknownSubscriber), errors.Is(err, blobstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, blobstore.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return 0
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch status := statusFor(err); status {
	case 0:
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err,
			"request_id", auth.GetRequestID(r.Context()))
		api.WriteInternal(w, err)
	case http.StatusServiceUnavailable:
		s.logger.WarnContext(r.Context(), "backend unavailable", "path", r.URL.Path, "error", err)
		api.WriteServiceUnavailable(w, 5)
	default:
		api.WriteErrorR(w, r, status, http.StatusText(status), err.Error())
	}
}

func writeJSON(w http.ResponseWriter, contentType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func acceptsNostrJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), NostrJSON)
}
