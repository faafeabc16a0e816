package websocket

import (
	"time"

	"emprofiler/internal/operations"
)

// Connection is the subset of *websocket.Conn the client pumps use.
// Tests substitute an in-memory implementation.
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// SnapshotSource supplies the live state of in-flight runs to newly connected clients
type SnapshotSource interface {
	GetAllSnapshots() []*operations.RunSnapshot
}
