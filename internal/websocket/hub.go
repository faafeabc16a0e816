package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"emprofiler/internal/infrastructure"
	"emprofiler/internal/operations"
)

// Message types sent to clients
const (
	TypeConnection  = "connection"
	TypeRunSnapshot = "run:snapshot"
	TypeError       = "error"
)

const (
	defaultPongWait  = 60 * time.Second
	broadcastBuffer  = 256
	clientSendBuffer = 256
)

// Message is the envelope every client receives
type Message struct {
	Type      string      `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	Target    string      `json:"target,omitempty"`
	Status    string      `json:"status,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// outbound is an encoded message plus the keys clients filter on
type outbound struct {
	runID  string
	target string
	data   []byte
}

// HubStats is a point-in-time view of hub activity
type HubStats struct {
	ActiveClients    int   `json:"active_clients"`
	TotalConnections int64 `json:"total_connections"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesDropped  int64 `json:"messages_dropped"`
}

// Hub maintains the set of active clients and fans run events out to them
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	metrics    *infrastructure.PipelineMetrics
	snapshots  SnapshotSource
	pongWait   time.Duration
	pingPeriod time.Duration

	totalConnections int64
	messagesSent     int64
	messagesDropped  int64

	quit    chan struct{}
	done    chan struct{}
	running bool
	stopped bool
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithSnapshots replays in-flight run snapshots to each new client
func WithSnapshots(source SnapshotSource) HubOption {
	return func(h *Hub) { h.snapshots = source }
}

// WithMetrics records client and message counts on the pipeline meter
func WithMetrics(metrics *infrastructure.PipelineMetrics) HubOption {
	return func(h *Hub) { h.metrics = metrics }
}

// WithKeepalive sets the ping period and pong deadline. pingPeriod must be less than pongWait.
func WithKeepalive(pingPeriod, pongWait time.Duration) HubOption {
	return func(h *Hub) {
		if pongWait > 0 {
			h.pongWait = pongWait
		}
		if pingPeriod > 0 && pingPeriod < h.pongWait {
			h.pingPeriod = pingPeriod
		} else {
			h.pingPeriod = (h.pongWait * 9) / 10
		}
	}
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		pongWait:   defaultPongWait,
		pingPeriod: (defaultPongWait * 9) / 10,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetSnapshotSource sets the snapshot replay source. It must be called before Start.
func (h *Hub) SetSnapshotSource(source SnapshotSource) {
	h.snapshots = source
}

// Start runs the hub loop in the background. Calling it twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running || h.stopped {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
}

// Run is the hub's main loop. It owns every client's send channel.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			h.closeAll()
			h.logger.Info("hub stopped")
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client, "closed")

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.totalConnections++
	h.mu.Unlock()

	ctx := client.context()
	h.logger.InfoContext(ctx, "client registered",
		slog.String("client_id", client.id),
		slog.String("remote_addr", client.remoteAddr),
		slog.Int("total_clients", count),
	)
	if h.metrics != nil {
		h.metrics.WebSocketClients.Add(ctx, 1)
	}

	h.sendTo(client, Message{
		Type: TypeConnection,
		Data: map[string]interface{}{
			"status":    "connected",
			"client_id": client.id,
		},
		TraceID: client.traceID,
	})

	if h.snapshots == nil {
		return
	}
	for _, snapshot := range h.snapshots.GetAllSnapshots() {
		h.sendTo(client, snapshotMessage(snapshot))
	}
}

func (h *Hub) removeClient(client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	ctx := client.context()
	h.logger.InfoContext(ctx, "client unregistered",
		slog.String("client_id", client.id),
		slog.String("reason", reason),
		slog.Int("total_clients", count),
		slog.Duration("connection_duration", time.Since(client.connectedAt)),
	)
	if h.metrics != nil {
		h.metrics.WebSocketClients.Add(ctx, -1)
	}
}

func (h *Hub) fanOut(msg outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var sent, slow int
	for _, client := range clients {
		if !client.wants(msg.runID, msg.target) {
			continue
		}
		select {
		case client.send <- msg.data:
			sent++
		default:
			// A client that cannot keep up is dropped rather than stalling the hub
			slow++
			h.removeClient(client, "send buffer full")
		}
	}

	h.mu.Lock()
	h.messagesSent += int64(sent)
	h.mu.Unlock()

	ctx := context.Background()
	if h.metrics != nil {
		h.metrics.WebSocketMessages.Add(ctx, int64(sent))
	}
	if slow > 0 {
		h.logger.Warn("dropped slow websocket clients",
			slog.Int("delivered", sent),
			slog.Int("dropped_clients", slow),
		)
	}
}

// sendTo queues a message for a single client, called from the hub loop only
func (h *Hub) sendTo(client *Client, msg Message) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", slog.String("type", msg.Type), slog.String("error", err.Error()))
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("client buffer full, skipping message",
			slog.String("client_id", client.id),
			slog.String("type", msg.Type),
		)
	}
}

// BroadcastUpdate queues an event for every interested client. It never blocks:
// when the hub is saturated or stopped the event is dropped and counted.
func (h *Hub) BroadcastUpdate(eventType, target, status string, metadata interface{}) {
	msg := Message{
		Type:   eventType,
		Target: target,
		Status: status,
		Data:   metadata,
	}
	if snapshot, ok := metadata.(*operations.RunSnapshot); ok && snapshot != nil {
		msg.RunID = snapshot.RunID
	}
	h.enqueue(msg)
}

func snapshotMessage(snapshot *operations.RunSnapshot) Message {
	return Message{
		Type:   TypeRunSnapshot,
		RunID:  snapshot.RunID,
		Target: snapshot.Target,
		Status: snapshot.Status,
		Data:   snapshot,
	}
}

func (h *Hub) enqueue(msg Message) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()),
		)
		return
	}

	select {
	case <-h.quit:
		return
	default:
	}

	select {
	case h.broadcast <- outbound{runID: msg.RunID, target: msg.Target, data: data}:
	default:
		h.mu.Lock()
		h.messagesDropped++
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.WebSocketDropped.Add(context.Background(), 1)
		}
		h.logger.Warn("broadcast queue full, dropping message",
			slog.String("type", msg.Type),
			slog.String("run_id", msg.RunID),
		)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) leave(client *Client) {
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

// Stats returns current hub counters
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		ActiveClients:    len(h.clients),
		TotalConnections: h.totalConnections,
		MessagesSent:     h.messagesSent,
		MessagesDropped:  h.messagesDropped,
	}
}

// Stop disconnects every client and ends the hub loop
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	wasRunning := h.running
	h.mu.Unlock()

	close(h.quit)
	if wasRunning {
		<-h.done
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
