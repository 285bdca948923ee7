package core

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lisuiheng/webui-bridge-go/pkg/interfaces"
	"github.com/lisuiheng/webui-bridge-go/protocols/nhooyr"
	"github.com/lisuiheng/webui-bridge-go/protocols/websocket"
	"github.com/lisuiheng/webui-bridge-go/utils"
	"github.com/prometheus/client_golang/prometheus"
)

// WindowType is reported to view code that branches on the host kind.
const WindowType = "web"

// Bridge is the session object exposing the same operations a native host
// bridge offers. It owns the outbound queue, the worker registry and the
// connection manager for the lifetime of the process.
type Bridge struct {
	config   Config
	registry *Registry
	conn     *ConnectionManager
	logger   *slog.Logger
}

// Option customizes New.
type Option func(*bridgeOptions)

type bridgeOptions struct {
	dialer     interfaces.Dialer
	view       ViewSink
	metricsReg prometheus.Registerer
	backoff    utils.ReconnectStrategy
}

// WithDialer overrides the transport chosen from Config.Transport.
func WithDialer(d interfaces.Dialer) Option {
	return func(o *bridgeOptions) { o.dialer = d }
}

// WithViewSink sets the receiver of page-level notifications.
func WithViewSink(v ViewSink) Option {
	return func(o *bridgeOptions) { o.view = v }
}

// WithMetrics registers bridge metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *bridgeOptions) { o.metricsReg = reg }
}

// WithBackoff overrides the reconnect strategy built from Config.Reconnect.
func WithBackoff(b utils.ReconnectStrategy) Option {
	return func(o *bridgeOptions) { o.backoff = b }
}

// New builds a bridge session. Call Start to begin connecting.
func New(cfg Config, log *slog.Logger, opts ...Option) (*Bridge, error) {
	if log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.Origin == "" {
		return nil, ErrMissingOrigin
	}

	var o bridgeOptions
	for _, opt := range opts {
		opt(&o)
	}

	url, err := cfg.EndpointURL()
	if err != nil {
		return nil, err
	}
	if o.dialer == nil {
		o.dialer, err = NewDialer(cfg)
		if err != nil {
			return nil, err
		}
	}
	if o.backoff == nil {
		o.backoff = utils.NewExponentialBackoffWith(cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxDelay)
	}

	metrics := NewMetrics(o.metricsReg)
	registry := NewRegistry()
	router := NewRouter(o.view, registry, NewErrorSuppressor(cfg.SuppressTransientErrors), metrics, log)

	return &Bridge{
		config:   cfg,
		registry: registry,
		conn: newConnectionManager(connectionOptions{
			dialer:       o.dialer,
			url:          url,
			dialTimeout:  cfg.DialTimeout,
			writeTimeout: cfg.WriteTimeout,
			backoff:      o.backoff,
			router:       router,
			metrics:      metrics,
			logger:       log,
		}),
		logger: log,
	}, nil
}

// NewDialer picks the transport named by cfg.Transport.
func NewDialer(cfg Config) (interfaces.Dialer, error) {
	switch cfg.Transport {
	case "", "websocket", "gorilla":
		return websocket.NewWebSocketDialer(websocket.Config{
			HandshakeTimeout: cfg.DialTimeout,
			WriteTimeout:     cfg.WriteTimeout,
		}), nil
	case "nhooyr":
		return nhooyr.NewDialer(nhooyr.Config{
			WriteTimeout: cfg.WriteTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnsupportedProtocol, cfg.Transport)
	}
}

// Start begins connecting. Reconnection after a drop is automatic.
func (b *Bridge) Start() {
	b.logger.Info("Starting bridge",
		"window_type", WindowType,
		"build_flavor", b.GetBuildFlavor())
	b.conn.Connect()
}

// Reconnect drops the current transport and dials again immediately.
func (b *Bridge) Reconnect() {
	b.conn.Reconnect()
}

func (b *Bridge) Close() error {
	return b.conn.Close()
}

func (b *Bridge) State() ConnState {
	return b.conn.State()
}

// Pending returns the number of frames waiting for an open transport.
func (b *Bridge) Pending() int {
	return b.conn.QueueLen()
}

func (b *Bridge) WindowType() string {
	return WindowType
}

// SendMessageFromView submits a message-for-host. It does not wait for
// delivery.
func (b *Bridge) SendMessageFromView(message any) error {
	return b.send(KindMessageFromView, nil, message)
}

// SendWorkerMessageFromView submits a message on a worker channel.
func (b *Bridge) SendWorkerMessageFromView(workerID string, message any) error {
	return b.send(KindWorkerMessageFromView, &workerID, message)
}

// TriggerSentryTestError asks the host to raise its diagnostics probe.
func (b *Bridge) TriggerSentryTestError() error {
	return b.send(KindTriggerSentryTest, nil, nil)
}

func (b *Bridge) send(kind PacketKind, workerID *string, payload any) error {
	frame, err := EncodePacket(kind, workerID, payload)
	if err != nil {
		return err
	}
	return b.conn.Enqueue(frame)
}

// SubscribeToWorkerMessages registers cb for workerID and returns the
// function that unsubscribes it.
func (b *Bridge) SubscribeToWorkerMessages(workerID string, cb WorkerCallback) func() {
	return b.registry.Subscribe(workerID, nil, cb).Release
}

// SubscribeToWorkerMessagesKeyed registers cb under key. Registering the
// same key twice for a worker keeps one subscriber.
func (b *Bridge) SubscribeToWorkerMessagesKeyed(workerID string, key *SubscriberKey, cb WorkerCallback) *Subscription {
	return b.registry.Subscribe(workerID, key, cb)
}

// GetPathForFile has no filesystem to consult over this transport.
func (b *Bridge) GetPathForFile(file any) string {
	return ""
}

// ShowContextMenu has no native menu over this transport.
func (b *Bridge) ShowContextMenu(menu any) (json.RawMessage, error) {
	return nil, nil
}

func (b *Bridge) GetSentryInitOptions() map[string]interface{} {
	return b.config.SentryInitOptions
}

func (b *Bridge) GetAppSessionID() string {
	id, _ := b.config.SessionID()
	return id
}

func (b *Bridge) GetBuildFlavor() string {
	return b.config.Flavor()
}
