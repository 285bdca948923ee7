// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
)

var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

// Dialer opens a new transport to url. Each call yields an independent Conn.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
	ProtocolType() string
}

// Conn is one live transport instance.
//
// Read blocks until the next frame arrives. Once Read returns an error the
// Conn is finished; that error is the single terminal close event.
type Conn interface {
	Read(ctx context.Context) (Message, error)
	Send(ctx context.Context, data []byte, msgType MessageType) error
	Close() error
}

type Message struct {
	Payload []byte
	Type    MessageType
}

type MessageType int

const (
	MsgText    MessageType = iota // JSON text
	MsgBinary                     // binary payloads, ignored by the bridge
	MsgControl                    // control frames
)

func (t MessageType) String() string {
	switch t {
	case MsgText:
		return "text"
	case MsgBinary:
		return "binary"
	default:
		return "control"
	}
}
