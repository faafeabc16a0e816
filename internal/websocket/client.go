package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"emprofiler/internal/infrastructure"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// clientMessage is what browsers and CLI tails may send
type clientMessage struct {
	Type    string   `json:"type"`
	RunIDs  []string `json:"run_ids,omitempty"`
	Targets []string `json:"targets,omitempty"`
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub  *Hub
	conn Connection

	// Buffered channel of outbound messages, closed by the hub
	send chan []byte

	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time
	logger      *slog.Logger

	// Subscription filter. Empty sets mean everything.
	mu      sync.RWMutex
	runIDs  map[string]bool
	targets map[string]bool
}

// NewClient creates a client for an upgraded connection
func NewClient(hub *Hub, conn Connection, remoteAddr, traceID string) *Client {
	id := uuid.New().String()
	logger := hub.logger.With(
		slog.String("component", "websocket.client"),
		slog.String("client_id", id),
	)
	if traceID != "" {
		logger = logger.With(slog.String("trace_id", traceID))
	}

	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, clientSendBuffer),
		id:          id,
		traceID:     traceID,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		logger:      logger,
	}
}

// ID returns the client's generated identifier
func (c *Client) ID() string {
	return c.id
}

func (c *Client) context() context.Context {
	ctx := context.Background()
	if c.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, c.traceID)
	}
	return ctx
}

// wants reports whether the client subscribed to a run or target
func (c *Client) wants(runID, target string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.runIDs) == 0 && len(c.targets) == 0 {
		return true
	}
	return (runID != "" && c.runIDs[runID]) || (target != "" && c.targets[target])
}

func (c *Client) subscribe(runIDs, targets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runIDs = make(map[string]bool, len(runIDs))
	for _, id := range runIDs {
		c.runIDs[id] = true
	}
	c.targets = make(map[string]bool, len(targets))
	for _, t := range targets {
		c.targets[t] = true
	}
}

// ReadPump pumps control messages from the connection until it closes
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	pongWait := c.hub.pongWait
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WarnContext(c.context(), "unexpected websocket close", slog.String("error", err.Error()))
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("ignoring malformed client message", slog.String("error", err.Error()))
			continue
		}

		switch msg.Type {
		case "heartbeat":
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		case "subscribe":
			c.subscribe(msg.RunIDs, msg.Targets)
			c.logger.Debug("client subscribed",
				slog.Any("run_ids", msg.RunIDs),
				slog.Any("targets", msg.Targets),
			)
		case "unsubscribe":
			c.subscribe(nil, nil)
		default:
			c.logger.Debug("ignoring client message", slog.String("type", msg.Type))
		}
	}
}

// WritePump pumps messages from the hub to the connection and keeps it alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.DebugContext(c.context(), "write failed", slog.String("error", err.Error()))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(c.context(), "ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// ServeWS registers an upgraded connection with the hub and starts its pumps
func ServeWS(hub *Hub, conn Connection, remoteAddr, traceID string) *Client {
	client := NewClient(hub, conn, remoteAddr, traceID)
	if !hub.Register(client) {
		conn.Close()
		return client
	}

	go client.WritePump()
	go client.ReadPump()
	return client
}
