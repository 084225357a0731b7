// Package api serves the JSON-RPC protocol over HTTP. Requests are posted
// one at a time to /v1/rpc; notifications are streamed to the client as
// Server-Sent Events from /v1/events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"querydeck/internal/jsonrpc"
	"querydeck/internal/middleware"
)

// maxRequestBytes bounds a posted request body.
const maxRequestBytes = 64 << 20

// defaultClientID receives the notifications of requests without a client id.
const defaultClientID = "default"

// Options configures the HTTP transport.
type Options struct {
	AllowedOrigins []string
	RateLimit      middleware.RateLimitConfig
	Heartbeat      time.Duration
	Backlog        int
}

// Server is the HTTP transport.
type Server struct {
	registry  *jsonrpc.Registry
	hub       *Hub
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewServer creates the HTTP transport over registry.
func NewServer(registry *jsonrpc.Registry, opts Options, logger *slog.Logger) *Server {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &Server{
		registry:  registry,
		hub:       NewHub(opts.Backlog),
		heartbeat: opts.Heartbeat,
		logger:    logger.With("component", "api"),
	}
}

// Router builds the chi router. ctx bounds background work such as rate
// limiter pruning.
func (s *Server) Router(ctx context.Context, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.AccessLog(s.logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", middleware.ClientIDHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimit.RequestsPerSecond > 0 {
			r.Use(middleware.RateLimiter(ctx, opts.RateLimit))
		}
		r.Post("/rpc", s.handleRPC)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// clientID reads the client id from the header, or from the clientId query
// parameter for EventSource clients that cannot set headers.
func clientID(r *http.Request) (string, error) {
	id := r.Header.Get(middleware.ClientIDHeader)
	if id == "" {
		id = r.URL.Query().Get("clientId")
	}
	if id == "" {
		return defaultClientID, nil
	}
	if !middleware.ValidID(id) {
		return "", fmt.Errorf("invalid client id")
	}
	return id, nil
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	client, err := clientID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rpcError(nil, jsonrpc.CodeInvalidRequest, err.Error()))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, rpcError(nil, jsonrpc.CodeParseError, err.Error()))
		return
	}
	if len(body) > maxRequestBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, rpcError(nil, jsonrpc.CodeInvalidRequest, "request body too large"))
		return
	}

	var m jsonrpc.Message
	if err := json.Unmarshal(body, &m); err != nil {
		writeJSON(w, http.StatusOK, rpcError(nil, jsonrpc.CodeParseError, err.Error()))
		return
	}
	switch {
	case m.IsNotification():
		s.registry.DispatchNotification(r.Context(), &m)
		w.WriteHeader(http.StatusAccepted)
		return
	case !m.IsRequest():
		writeJSON(w, http.StatusOK, rpcError(m.ID, jsonrpc.CodeInvalidRequest, "expected a request or notification"))
		return
	}

	// Work started by a request outlives the HTTP exchange.
	ctx := context.WithoutCancel(r.Context())
	reply := newReplyCapture()
	s.registry.DispatchRequest(ctx, &m, reply, s.hub.Sender(client))

	select {
	case resp := <-reply.ch:
		writeJSON(w, http.StatusOK, resp)
	default:
		s.logger.Error("handler returned without answering", "method", m.Method)
		writeJSON(w, http.StatusOK, rpcError(m.ID, jsonrpc.CodeInternalError, "no response produced"))
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	client, err := clientID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	q := s.hub.queue(client)
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		msgs, dropped := q.drain()
		if dropped > 0 {
			s.logger.Warn("dropped notifications", "client_id", client, "count", dropped)
		}
		for _, m := range msgs {
			if err := writeEvent(w, m); err != nil {
				return
			}
		}
		if len(msgs) > 0 {
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-q.wake:
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, m *jsonrpc.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.Method, data)
	return err
}

func rpcError(id *json.RawMessage, code int, msg string) *jsonrpc.Message {
	return &jsonrpc.Message{JSONRPC: jsonrpc.Version, ID: id, Error: &jsonrpc.Error{Code: code, Message: msg}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves handler on addr until ctx is done, then shuts the
// server down gracefully. Request contexts derive from ctx so open event
// streams end with it.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP transport listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}
