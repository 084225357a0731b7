// Package jsonrpc implements the JSON-RPC 2.0 request and notification
// protocol spoken by clients, with Content-Length framing for streams.
package jsonrpc

import (
	"encoding/json"
	"errors"

	"querydeck/internal/domain"
)

// Version is the protocol version carried by every message.
const Version = "2.0"

// Error codes. The server-defined range starts at -32000.
const (
	CodeParseError            = -32700
	CodeInvalidRequest        = -32600
	CodeMethodNotFound        = -32601
	CodeInvalidParams         = -32602
	CodeInternalError         = -32603
	CodeConnectionUnavailable = -32001
	CodeAlreadyExecuting      = -32002
	CodeNotFound              = -32003
	CodeServerShuttingDown    = -32004
)

// Message is any JSON-RPC message. Requests carry an ID and a Method,
// notifications only a Method, responses an ID and a Result or an Error.
type Message struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// IsRequest reports whether m expects a response.
func (m *Message) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsNotification reports whether m is a notification.
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// Error is the error object of a failed response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// ErrorFromDomain maps an error to its protocol error object.
func ErrorFromDomain(err error) *Error {
	var rpcErr *Error
	var validation *domain.ValidationError
	var addressing *domain.SubsetAddressingError
	var unavailable *domain.ConnectionUnavailableError
	var executing *domain.AlreadyExecutingError
	var notFound *domain.NotFoundError
	var conflict *domain.ConflictError

	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.As(err, &validation), errors.As(err, &addressing):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	case errors.As(err, &unavailable):
		return &Error{Code: CodeConnectionUnavailable, Message: err.Error()}
	case errors.As(err, &executing), errors.As(err, &conflict):
		return &Error{Code: CodeAlreadyExecuting, Message: err.Error()}
	case errors.As(err, &notFound):
		return &Error{Code: CodeNotFound, Message: err.Error()}
	default:
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
}

func newNotification(method string, params any) (*Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, Method: method, Params: raw}, nil
}

func newResponse(id *json.RawMessage, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: Version, ID: id, Result: raw}, nil
}

func newErrorResponse(id *json.RawMessage, e *Error) *Message {
	return &Message{JSONRPC: Version, ID: id, Error: e}
}
