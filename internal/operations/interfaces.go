package operations

// WebSocketHub interface for sending run events to connected clients
type WebSocketHub interface {
	BroadcastUpdate(eventType, target, status string, metadata interface{})
}
