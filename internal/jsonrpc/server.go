package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Lifecycle methods handled by the server itself.
const (
	MethodShutdown = "shutdown"
	MethodExit     = "exit"
)

// Server reads framed messages from a stream and dispatches them. Requests
// run on their own goroutines; notifications run in arrival order.
type Server struct {
	registry   *Registry
	logger     *slog.Logger
	onShutdown func(ctx context.Context) error

	wg           sync.WaitGroup
	shuttingDown atomic.Bool
}

// NewServer returns a server dispatching through registry. onShutdown runs
// when the client sends a shutdown request and may be nil.
func NewServer(registry *Registry, logger *slog.Logger, onShutdown func(ctx context.Context) error) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: registry, logger: logger.With("component", "jsonrpc-server"), onShutdown: onShutdown}
}

// Serve processes messages from r and writes replies to w until the client
// sends exit, the input ends, or ctx is cancelled. In-flight requests are
// awaited before it returns.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.wg.Wait()

	reader := NewReader(r)
	writer := NewWriter(w)

	type readResult struct {
		body []byte
		err  error
	}
	next := make(chan readResult)
	go func() {
		for {
			body, err := reader.ReadRaw()
			select {
			case next <- readResult{body, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		var res readResult
		select {
		case <-ctx.Done():
			return nil
		case res = <-next:
		}
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				s.logger.Info("input closed")
				return nil
			}
			return res.err
		}

		var m Message
		if err := json.Unmarshal(res.body, &m); err != nil {
			_ = writer.Send(newErrorResponse(nil, &Error{Code: CodeParseError, Message: err.Error()}))
			continue
		}
		if m.Method == "" {
			// Replies to server-initiated requests are not used.
			continue
		}
		if m.IsNotification() {
			if m.Method == MethodExit {
				s.logger.Info("exit received")
				return nil
			}
			s.registry.DispatchNotification(ctx, &m)
			continue
		}
		s.handleRequest(ctx, &m, writer)
	}
}

func (s *Server) handleRequest(ctx context.Context, m *Message, writer *Writer) {
	if m.Method == MethodShutdown {
		s.shuttingDown.Store(true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			var result any
			if s.onShutdown != nil {
				if err := s.onShutdown(ctx); err != nil {
					s.logger.Warn("shutdown hook failed", "error", err)
				}
			}
			resp, _ := newResponse(m.ID, result)
			_ = writer.Send(resp)
		}()
		return
	}
	if s.shuttingDown.Load() {
		_ = writer.Send(newErrorResponse(m.ID, &Error{Code: CodeServerShuttingDown, Message: "server is shutting down"}))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.registry.DispatchRequest(ctx, m, writer, writer)
	}()
}
