package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lisuiheng/webui-bridge-go/logger"
	"github.com/lisuiheng/webui-bridge-go/pkg/interfaces"
	"github.com/lisuiheng/webui-bridge-go/utils"
)

type dialResult struct {
	conn interfaces.Conn
	err  error
}

type pendingDial struct {
	url   string
	reply chan dialResult
}

// fakeDialer hands every Dial call to the test through dials; the test
// decides when and how it completes.
type fakeDialer struct {
	dials     chan *pendingDial
	ignoreCtx bool
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dials: make(chan *pendingDial, 16)}
}

func (d *fakeDialer) ProtocolType() string { return "fake" }

func (d *fakeDialer) Dial(ctx context.Context, url string) (interfaces.Conn, error) {
	p := &pendingDial{url: url, reply: make(chan dialResult, 1)}
	d.dials <- p
	if d.ignoreCtx {
		r := <-p.reply
		return r.conn, r.err
	}
	select {
	case r := <-p.reply:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) next(t *testing.T) *pendingDial {
	t.Helper()
	select {
	case p := <-d.dials:
		return p
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dial")
		return nil
	}
}

func (d *fakeDialer) expectNoDial(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-d.dials:
		t.Fatalf("unexpected dial")
	case <-time.After(wait):
	}
}

func (p *pendingDial) open(conn *fakeConn) { p.reply <- dialResult{conn: conn} }

func (p *pendingDial) fail() {
	p.reply <- dialResult{err: interfaces.ErrConnectionFailed}
}

type fakeConn struct {
	mu        sync.Mutex
	sent      [][]byte
	failSends bool
	inbound   chan interfaces.Message
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan interfaces.Message, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (interfaces.Message, error) {
	select {
	case m := <-c.inbound:
		return m, nil
	case <-c.closed:
		return interfaces.Message{}, interfaces.ErrConnectionClosed
	case <-ctx.Done():
		return interfaces.Message{}, ctx.Err()
	}
}

func (c *fakeConn) Send(ctx context.Context, data []byte, msgType interfaces.MessageType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSends {
		return errors.New("write failed")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(frame string) {
	c.inbound <- interfaces.Message{Payload: []byte(frame), Type: interfaces.MsgText}
}

func (c *fakeConn) sentFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, f := range c.sent {
		out[i] = string(f)
	}
	return out
}

func (c *fakeConn) setFailSends(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSends = v
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *recordingSink) DispatchMessage(data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, string(data))
}

func (s *recordingSink) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Origin = "https://bridge.test:8443"
	return cfg
}

// newTestBridge builds a bridge on a fake dialer with millisecond backoff.
func newTestBridge(t *testing.T, opts ...Option) (*Bridge, *fakeDialer, *recordingSink) {
	t.Helper()
	dialer := newFakeDialer()
	sink := &recordingSink{}
	all := append([]Option{
		WithDialer(dialer),
		WithViewSink(sink),
		WithBackoff(utils.NewExponentialBackoffWith(time.Millisecond, 4*time.Millisecond)),
	}, opts...)
	b, err := New(testConfig(), logger.Discard(), all...)
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, dialer, sink
}
