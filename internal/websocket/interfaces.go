package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"polarcli/pkg/contracts/domain"
)

// Connection is the part of a websocket connection a Client uses
type Connection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	RemoteAddr() string
}

// ProgressBroadcaster is implemented by Hub and consumed by services that
// report file progress
type ProgressBroadcaster interface {
	Broadcast(messageType string, data any)
	BroadcastProgress(p domain.Progress)
	BroadcastError(source string, err error)
}

var _ ProgressBroadcaster = (*Hub)(nil)

// gorillaConn adapts *websocket.Conn to Connection
type gorillaConn struct {
	*websocket.Conn
}

func (c gorillaConn) RemoteAddr() string {
	if addr := c.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
