package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/lisuiheng/webui-bridge-go/logger"
	"github.com/lisuiheng/webui-bridge-go/pkg/interfaces"
)

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Origin = ""
	if _, err := New(cfg, logger.Discard()); !errors.Is(err, ErrMissingOrigin) {
		t.Fatalf("expected ErrMissingOrigin, got %v", err)
	}

	cfg = testConfig()
	cfg.Transport = "carrier-pigeon"
	if _, err := New(cfg, logger.Discard()); !errors.Is(err, interfaces.ErrUnsupportedProtocol) {
		t.Fatalf("expected ErrUnsupportedProtocol, got %v", err)
	}

	if _, err := New(testConfig(), nil); err == nil {
		t.Fatalf("expected error for nil logger")
	}
}

func TestNewDialerSelectsTransport(t *testing.T) {
	for transport, want := range map[string]string{"": "websocket", "websocket": "websocket", "nhooyr": "nhooyr"} {
		cfg := testConfig()
		cfg.Transport = transport
		d, err := NewDialer(cfg)
		if err != nil {
			t.Fatalf("%q: %v", transport, err)
		}
		if d.ProtocolType() != want {
			t.Fatalf("%q: got=%s want=%s", transport, d.ProtocolType(), want)
		}
	}
}

func TestFacadeAccessors(t *testing.T) {
	cfg := testConfig()
	cfg.BuildFlavor = nil
	cfg.SentryInitOptions = map[string]interface{}{"dsn": "https://sentry.example", "codexAppSessionId": "s-1"}
	b, err := New(cfg, logger.Discard(), WithDialer(newFakeDialer()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if b.WindowType() != "web" {
		t.Fatalf("window type: %s", b.WindowType())
	}
	if b.GetBuildFlavor() != "prod" {
		t.Fatalf("build flavor: %s", b.GetBuildFlavor())
	}
	if b.GetAppSessionID() != "s-1" {
		t.Fatalf("session id: %s", b.GetAppSessionID())
	}
	if b.GetSentryInitOptions()["dsn"] != "https://sentry.example" {
		t.Fatalf("sentry options: %v", b.GetSentryInitOptions())
	}
	if b.GetPathForFile("anything") != "" {
		t.Fatalf("path for file should be empty")
	}
	if menu, err := b.ShowContextMenu(nil); menu != nil || err != nil {
		t.Fatalf("context menu: %s %v", menu, err)
	}
}

func TestSubscribeReturnsUnsubscribe(t *testing.T) {
	b, _, _ := newTestBridge(t)
	unsubscribe := b.SubscribeToWorkerMessages("w1", func(json.RawMessage) {})
	if !b.registry.Has("w1") {
		t.Fatalf("subscription missing")
	}
	unsubscribe()
	unsubscribe()
	if b.registry.Has("w1") {
		t.Fatalf("worker entry left after unsubscribe")
	}
}

func TestKeyedSubscriptionIsIdempotent(t *testing.T) {
	b, d, _ := newTestBridge(t)
	calls := make(chan struct{}, 4)
	cb := func(json.RawMessage) { calls <- struct{}{} }
	key := NewSubscriberKey()
	first := b.SubscribeToWorkerMessagesKeyed("w1", key, cb)
	b.SubscribeToWorkerMessagesKeyed("w1", key, cb)
	first.Release()

	b.Start()
	conn := openBridge(t, b, d)
	conn.push(`{"kind":"worker-message-for-view","workerId":"w1","payload":1}`)
	conn.push(`{"kind":"message-for-view","payload":"marker"}`)

	select {
	case <-calls:
		t.Fatalf("released subscriber was invoked")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestTriggerSentryTestErrorEnqueuesProbe(t *testing.T) {
	b, d, _ := newTestBridge(t)
	if err := b.TriggerSentryTestError(); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	b.Start()
	conn := openBridge(t, b, d)
	if got := conn.sentFrames(); len(got) != 1 || got[0] != `{"kind":"trigger-sentry-test"}` {
		t.Fatalf("probe frame: %v", got)
	}
}

// hostServer is a minimal host endpoint speaking the bridge wire format.
type hostServer struct {
	*httptest.Server
	received chan string
	conns    chan *gorilla.Conn
}

func newHostServer(t *testing.T) *hostServer {
	t.Helper()
	h := &hostServer{received: make(chan string, 16), conns: make(chan *gorilla.Conn, 4)}
	upgrader := gorilla.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			h.received <- string(data)
		}
	})
	h.Server = httptest.NewServer(mux)
	t.Cleanup(h.Close)
	return h
}

func (h *hostServer) nextFrame(t *testing.T) string {
	t.Helper()
	select {
	case f := <-h.received:
		return f
	case <-time.After(3 * time.Second):
		t.Fatalf("host did not receive a frame")
		return ""
	}
}

func (h *hostServer) nextConn(t *testing.T) *gorilla.Conn {
	t.Helper()
	select {
	case c := <-h.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatalf("bridge did not connect")
		return nil
	}
}

func TestBridgeAgainstWebSocketHost(t *testing.T) {
	host := newHostServer(t)

	cfg := DefaultConfig()
	cfg.Origin = host.URL
	sink := &recordingSink{}
	b, err := New(cfg, logger.Discard(), WithViewSink(sink))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer b.Close()

	workerMsgs := make(chan string, 4)
	b.SubscribeToWorkerMessages("w1", func(p json.RawMessage) { workerMsgs <- string(p) })

	if err := b.SendMessageFromView(map[string]string{"type": "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	b.Start()
	conn := host.nextConn(t)

	if got := host.nextFrame(t); got != `{"kind":"message-from-view","payload":{"type":"hello"}}` {
		t.Fatalf("host received: %s", got)
	}

	frames := []string{
		`{"kind":"message-for-view","payload":{"type":"pong"}}`,
		`not json at all`,
		`{"kind":"worker-message-for-view","workerId":"w1","payload":[1,2,3]}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(gorilla.TextMessage, []byte(f)); err != nil {
			t.Fatalf("host write: %v", err)
		}
	}

	select {
	case p := <-workerMsgs:
		if p != "[1,2,3]" {
			t.Fatalf("worker payload: %s", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("worker message not delivered")
	}
	waitFor(t, "view messages", func() bool { return len(sink.messages()) == 2 })
	msgs := sink.messages()
	if msgs[0] != connectedEvent || msgs[1] != `{"type":"pong"}` {
		t.Fatalf("view messages: %v", msgs)
	}

	// host drops the socket; the bridge reconnects and keeps serving
	conn.Close()
	second := host.nextConn(t)
	defer second.Close()
	if err := b.SendWorkerMessageFromView("w1", "again"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := host.nextFrame(t); !strings.Contains(got, `"payload":"again"`) {
		t.Fatalf("host received after reconnect: %s", got)
	}
}
