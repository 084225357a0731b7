package api

import (
	"sync"

	"querydeck/internal/jsonrpc"
)

// defaultBacklog bounds the notifications held for a client between reads.
const defaultBacklog = 4096

// clientQueue buffers the notifications of one client until its event
// stream reads them.
type clientQueue struct {
	mu      sync.Mutex
	pending []*jsonrpc.Message
	dropped int
	wake    chan struct{}
}

func newClientQueue() *clientQueue {
	return &clientQueue{wake: make(chan struct{}, 1)}
}

func (q *clientQueue) push(m *jsonrpc.Message, limit int) {
	q.mu.Lock()
	if len(q.pending) >= limit {
		q.pending = q.pending[1:]
		q.dropped++
	}
	q.pending = append(q.pending, m)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *clientQueue) drain() ([]*jsonrpc.Message, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out, dropped := q.pending, q.dropped
	q.pending, q.dropped = nil, 0
	return out, dropped
}

// Hub routes notifications to the event stream of the client that issued
// the originating request. Notifications sent before the client subscribes
// are queued, oldest dropped first once the backlog is full.
type Hub struct {
	backlog int

	mu      sync.Mutex
	clients map[string]*clientQueue
}

// NewHub creates a hub. backlog <= 0 selects the default.
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Hub{backlog: backlog, clients: make(map[string]*clientQueue)}
}

func (h *Hub) queue(clientID string) *clientQueue {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.clients[clientID]
	if !ok {
		q = newClientQueue()
		h.clients[clientID] = q
	}
	return q
}

// Forget drops the queue of a client.
func (h *Hub) Forget(clientID string) {
	h.mu.Lock()
	delete(h.clients, clientID)
	h.mu.Unlock()
}

// Sender returns a jsonrpc.Sender that queues messages for clientID.
func (h *Hub) Sender(clientID string) jsonrpc.Sender {
	return clientSender{hub: h, clientID: clientID}
}

type clientSender struct {
	hub      *Hub
	clientID string
}

func (s clientSender) Send(m *jsonrpc.Message) error {
	s.hub.queue(s.clientID).push(m, s.hub.backlog)
	return nil
}

// replyCapture keeps the single response of an HTTP request.
type replyCapture struct {
	ch chan *jsonrpc.Message
}

func newReplyCapture() *replyCapture {
	return &replyCapture{ch: make(chan *jsonrpc.Message, 1)}
}

func (c *replyCapture) Send(m *jsonrpc.Message) error {
	select {
	case c.ch <- m:
	default:
	}
	return nil
}
