package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"querydeck/internal/domain"
)

// Sender delivers an outgoing message.
// Implemented by Writer and by the HTTP transport.
type Sender interface {
	Send(m *Message) error
}

// Handler serves a request. It must answer through rc exactly once, with
// SendResponse or SendError, and may keep sending notifications on rc
// after that.
type Handler func(ctx context.Context, params json.RawMessage, rc domain.RequestContext)

// NotificationHandler serves a notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// Registry maps method names to handlers.
type Registry struct {
	mu            sync.RWMutex
	requests      map[string]Handler
	notifications map[string]NotificationHandler
	logger        *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		requests:      make(map[string]Handler),
		notifications: make(map[string]NotificationHandler),
		logger:        logger.With("component", "jsonrpc"),
	}
}

// Handle registers the handler for a request method.
func (r *Registry) Handle(method string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[method] = h
}

// HandleNotification registers the handler for a notification method.
func (r *Registry) HandleNotification(method string, h NotificationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[method] = h
}

// Methods returns the registered request methods in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.requests))
	for m := range r.requests {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Decode unmarshals request params into T. Missing or malformed params are
// reported as a ValidationError.
func Decode[T any](params json.RawMessage) (T, error) {
	var v T
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return v, domain.ErrValidation("params are required")
	}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return v, domain.ErrValidation("invalid params: %v", err)
	}
	return v, nil
}

// Typed adapts a function taking decoded params and returning one result.
func Typed[P, R any](fn func(ctx context.Context, p P) (R, error)) Handler {
	return func(ctx context.Context, params json.RawMessage, rc domain.RequestContext) {
		p, err := Decode[P](params)
		if err != nil {
			_ = rc.SendError(err)
			return
		}
		res, err := fn(ctx, p)
		if err != nil {
			_ = rc.SendError(err)
			return
		}
		_ = rc.SendResponse(res)
	}
}

// Streaming adapts a function that answers through rc itself and may keep
// sending notifications. A returned error is sent as the answer.
func Streaming[P any](fn func(ctx context.Context, p P, rc domain.RequestContext) error) Handler {
	return func(ctx context.Context, params json.RawMessage, rc domain.RequestContext) {
		p, err := Decode[P](params)
		if err != nil {
			_ = rc.SendError(err)
			return
		}
		if err := fn(ctx, p, rc); err != nil {
			_ = rc.SendError(err)
		}
	}
}

// DispatchRequest runs the handler for a request on the calling goroutine.
// replies receives the response; events receives notifications.
func (r *Registry) DispatchRequest(ctx context.Context, m *Message, replies, events Sender) {
	rc := newRequestContext(m.ID, m.Method, replies, events, r.logger)

	r.mu.RLock()
	h, ok := r.requests[m.Method]
	r.mu.RUnlock()
	if !ok {
		_ = rc.SendError(&Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", m.Method)})
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("request handler panicked", "method", m.Method, "panic", p, "stack", string(debug.Stack()))
			_ = rc.SendError(&Error{Code: CodeInternalError, Message: fmt.Sprintf("internal error handling %s", m.Method)})
		}
	}()
	h(ctx, m.Params, rc)
}

// DispatchNotification runs the handler for a notification. Unknown
// notifications are ignored.
func (r *Registry) DispatchNotification(ctx context.Context, m *Message) {
	r.mu.RLock()
	h, ok := r.notifications[m.Method]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("ignoring notification", "method", m.Method)
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("notification handler panicked", "method", m.Method, "panic", p)
		}
	}()
	if err := h(ctx, m.Params); err != nil {
		r.logger.Warn("notification failed", "method", m.Method, "error", err)
	}
}

// requestContext answers one request. Only the first answer is sent.
type requestContext struct {
	id      *json.RawMessage
	method  string
	replies Sender
	events  Sender
	logger  *slog.Logger

	mu       sync.Mutex
	answered bool
}

var _ domain.RequestContext = (*requestContext)(nil)

func newRequestContext(id *json.RawMessage, method string, replies, events Sender, logger *slog.Logger) *requestContext {
	return &requestContext{id: id, method: method, replies: replies, events: events, logger: logger}
}

func (c *requestContext) claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answered {
		c.logger.Warn("request answered twice", "method", c.method)
		return false
	}
	c.answered = true
	return true
}

// SendResponse implements domain.RequestContext.
func (c *requestContext) SendResponse(result any) error {
	if !c.claim() {
		return nil
	}
	m, err := newResponse(c.id, result)
	if err != nil {
		return c.replies.Send(newErrorResponse(c.id, &Error{Code: CodeInternalError, Message: err.Error()}))
	}
	return c.replies.Send(m)
}

// SendError implements domain.RequestContext.
func (c *requestContext) SendError(err error) error {
	if !c.claim() {
		return nil
	}
	return c.replies.Send(newErrorResponse(c.id, ErrorFromDomain(err)))
}

// SendNotification implements domain.RequestContext.
func (c *requestContext) SendNotification(method string, params any) error {
	m, err := newNotification(method, params)
	if err != nil {
		return err
	}
	return c.events.Send(m)
}
