package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	apperrors "polarcli/internal/errors"
	"polarcli/internal/infrastructure"
	"polarcli/pkg/contracts/domain"
)

// Message types sent to clients
const (
	TypeConnection = "connection"
	TypeProgress   = "progress"
	TypeBatch      = "batch"
	TypeError      = "error"
	TypeSession    = "session"
)

// Message is the envelope of every frame sent to clients
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
}

// ErrorPayload describes a failed file for clients
type ErrorPayload struct {
	Source  string   `json:"source"`
	Type    string   `json:"type,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Message string   `json:"message"`
	Hints   []string `json:"hints,omitempty"`
}

type outbound struct {
	kind    string
	payload []byte
}

// Hub maintains the set of connected clients and fans progress messages
// out to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	running bool
	quit    chan struct{}
	done    chan struct{}

	logger  *slog.Logger
	metrics *infrastructure.Metrics

	totalConnections int64
	messagesSent     int64
	messagesDropped  int64
}

// NewHub creates a hub. A nil metrics records nothing.
func NewHub(logger *slog.Logger, metrics *infrastructure.Metrics) *Hub {
	if metrics == nil {
		metrics = infrastructure.NoopMetrics()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     infrastructure.WithComponent(logger, "websocket.hub"),
		metrics:    metrics,
	}
}

// Start runs the hub loop in its own goroutine. Calling Start twice is a
// no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.run()
}

// Stop ends the hub loop and closes every client send channel
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)
	ctx := context.Background()

	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalConnections++
			count := len(h.clients)
			h.mu.Unlock()

			h.metrics.RecordWebSocketClients(ctx, 1)
			h.logger.InfoContext(client.context(), "Client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

			if payload, err := encode(TypeConnection, map[string]string{
				"status":    "connected",
				"client_id": client.id,
			}, client.traceID); err == nil {
				select {
				case client.send <- payload:
				default:
					h.logger.Warn("Client buffer full before welcome message", slog.String("client_id", client.id))
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				count := len(h.clients)
				h.mu.Unlock()

				h.metrics.RecordWebSocketClients(ctx, -1)
				h.logger.InfoContext(client.context(), "Client unregistered",
					slog.Int("total_clients", count),
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
			} else {
				h.mu.Unlock()
			}

		case msg := <-h.broadcast:
			h.deliver(ctx, msg)
		}
	}
}

// deliver sends msg to every client, disconnecting clients whose buffer is
// full
func (h *Hub) deliver(ctx context.Context, msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered, dropped := 0, 0
	for client := range h.clients {
		select {
		case client.send <- msg.payload:
			delivered++
		default:
			dropped++
			close(client.send)
			delete(h.clients, client)
			h.metrics.RecordWebSocketClients(ctx, -1)
			h.logger.Warn("Client send buffer full, disconnecting", slog.String("client_id", client.id))
		}
	}
	h.messagesSent += int64(delivered)
	h.messagesDropped += int64(dropped)
	h.metrics.RecordWebSocketBroadcast(ctx, msg.kind, delivered, dropped)

	h.logger.Debug("Broadcast delivered",
		slog.String("type", msg.kind),
		slog.Int("delivered", delivered),
		slog.Int("dropped", dropped))
}

// Broadcast sends a message of messageType to all clients. Messages sent
// while the hub is not running are dropped.
func (h *Hub) Broadcast(messageType string, data any) {
	h.BroadcastWithTrace(messageType, data, "")
}

// BroadcastWithTrace is Broadcast with a trace id attached to the envelope
func (h *Hub) BroadcastWithTrace(messageType string, data any, traceID string) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return
	}

	payload, err := encode(messageType, data, traceID)
	if err != nil {
		h.logger.Error("Error marshaling message",
			slog.String("type", messageType),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- outbound{kind: messageType, payload: payload}:
	case <-h.quit:
	}
}

// BroadcastProgress sends a file progress update
func (h *Hub) BroadcastProgress(p domain.Progress) {
	h.Broadcast(TypeProgress, p)
}

// BroadcastError sends the failure of source, with reason and hints when
// err is an application error
func (h *Hub) BroadcastError(source string, err error) {
	payload := ErrorPayload{Source: source, Message: err.Error()}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		payload.Type = string(appErr.Type)
		payload.Reason = string(appErr.Reason)
		payload.Message = appErr.Message
		payload.Hints = appErr.Hints
	}
	h.Broadcast(TypeError, payload)
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns hub counters
func (h *Hub) Stats() map[string]int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]int64{
		"active_clients":    int64(len(h.clients)),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
		"messages_dropped":  h.messagesDropped,
	}
}

func encode(messageType string, data any, traceID string) ([]byte, error) {
	return json.Marshal(Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		TraceID:   traceID,
	})
}
