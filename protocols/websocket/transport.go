// protocols/websocket/transport.go
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/webui-bridge-go/pkg/interfaces"
)

var (
	_ interfaces.Dialer = (*WSDialer)(nil)
	_ interfaces.Conn   = (*WSConn)(nil)
)

// Config 定义websocket特有的配置
type Config struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

type WSDialer struct {
	config Config
}

func NewWebSocketDialer(config Config) *WSDialer {
	return &WSDialer{config: config}
}

func (d *WSDialer) ProtocolType() string { return "websocket" }

func (d *WSDialer) Dial(ctx context.Context, url string) (interfaces.Conn, error) {
	dialer := *websocket.DefaultDialer
	if d.config.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = d.config.HandshakeTimeout
	}

	conn, _, err := dialer.DialContext(ctx, url, d.config.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	if d.config.ReadLimit > 0 {
		conn.SetReadLimit(d.config.ReadLimit)
	}
	return &WSConn{conn: conn, writeTimeout: d.config.WriteTimeout}, nil
}

// WSConn wraps a gorilla connection. Writes are serialized by mu; gorilla
// allows one concurrent reader and one concurrent writer.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

func (c *WSConn) Read(ctx context.Context) (interfaces.Message, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Message{}, err
	}
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return interfaces.Message{}, fmt.Errorf("%w: %v", interfaces.ErrConnectionClosed, err)
	}
	return interfaces.Message{
		Payload: data,
		Type:    convertMsgType(msgType),
	}, nil
}

func convertMsgType(wsType int) interfaces.MessageType {
	switch wsType {
	case websocket.TextMessage:
		return interfaces.MsgText
	case websocket.BinaryMessage:
		return interfaces.MsgBinary
	default:
		return interfaces.MsgControl
	}
}

func (c *WSConn) Send(ctx context.Context, data []byte, msgType interfaces.MessageType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	} else if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	wsType := websocket.TextMessage
	if msgType == interfaces.MsgBinary {
		wsType = websocket.BinaryMessage
	}
	return c.conn.WriteMessage(wsType, data)
}

func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
