// Package nhooyr provides a transport backed by nhooyr.io/websocket.
// It is selected with transport: nhooyr and behaves like the default
// gorilla backend.
package nhooyr

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lisuiheng/webui-bridge-go/pkg/interfaces"
	"nhooyr.io/websocket"
)

var (
	_ interfaces.Dialer = (*Dialer)(nil)
	_ interfaces.Conn   = (*Conn)(nil)
)

type Config struct {
	Header       http.Header
	WriteTimeout time.Duration
	ReadLimit    int64
}

type Dialer struct {
	config Config
}

func NewDialer(config Config) *Dialer {
	return &Dialer{config: config}
}

func (d *Dialer) ProtocolType() string { return "nhooyr" }

func (d *Dialer) Dial(ctx context.Context, url string) (interfaces.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: d.config.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	if d.config.ReadLimit > 0 {
		conn.SetReadLimit(d.config.ReadLimit)
	}
	return &Conn{conn: conn, writeTimeout: d.config.WriteTimeout}, nil
}

type Conn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *Conn) Read(ctx context.Context) (interfaces.Message, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return interfaces.Message{}, fmt.Errorf("%w: %v", interfaces.ErrConnectionClosed, err)
	}
	msgType := interfaces.MsgText
	if typ == websocket.MessageBinary {
		msgType = interfaces.MsgBinary
	}
	return interfaces.Message{Payload: data, Type: msgType}, nil
}

// Send writes one frame. nhooyr serializes concurrent writers internally.
func (c *Conn) Send(ctx context.Context, data []byte, msgType interfaces.MessageType) error {
	if _, ok := ctx.Deadline(); !ok && c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	typ := websocket.MessageText
	if msgType == interfaces.MsgBinary {
		typ = websocket.MessageBinary
	}
	return c.conn.Write(ctx, typ, data)
}

func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
