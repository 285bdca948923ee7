package core

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/webui-bridge-go/pkg/interfaces"
	"github.com/lisuiheng/webui-bridge-go/utils"
	"github.com/oklog/ulid/v2"
)

// ConnState is the lifecycle state of the managed transport.
type ConnState string

const (
	StateIdle         ConnState = "idle"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateDisconnected ConnState = "disconnected"
	StateClosed       ConnState = "closed"
)

// statusConnectedEvent is dispatched to the view on every successful open,
// shaped like the host's client-status-changed broadcast.
var statusConnectedEvent = json.RawMessage(`{"type":"ipc-broadcast","method":"client-status-changed","sourceClientId":null,"version":1,"params":{"status":"connected"}}`)

// ConnectionManager owns the transport lifecycle.
//
// Every dial and read goroutine captures the token current when it was
// started. Work whose token no longer matches m.token belongs to a
// superseded attempt and changes nothing.
type ConnectionManager struct {
	mu sync.Mutex

	dialer       interfaces.Dialer
	url          string
	dialTimeout  time.Duration
	writeTimeout time.Duration

	token  uint64
	state  ConnState
	conn   interfaces.Conn
	cancel context.CancelFunc

	queue   *OutboundQueue
	backoff utils.ReconnectStrategy
	timer   *time.Timer

	router  *Router
	metrics *Metrics
	logger  *slog.Logger
}

type connectionOptions struct {
	dialer       interfaces.Dialer
	url          string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	backoff      utils.ReconnectStrategy
	router       *Router
	metrics      *Metrics
	logger       *slog.Logger
}

func newConnectionManager(opts connectionOptions) *ConnectionManager {
	if opts.dialTimeout <= 0 {
		opts.dialTimeout = DefaultDialTimeout
	}
	if opts.writeTimeout <= 0 {
		opts.writeTimeout = DefaultWriteTimeout
	}
	if opts.backoff == nil {
		opts.backoff = utils.NewExponentialBackoff()
	}
	return &ConnectionManager{
		dialer:       opts.dialer,
		url:          opts.url,
		dialTimeout:  opts.dialTimeout,
		writeTimeout: opts.writeTimeout,
		state:        StateIdle,
		queue:        NewOutboundQueue(),
		backoff:      opts.backoff,
		router:       opts.router,
		metrics:      opts.metrics,
		logger:       opts.logger,
	}
}

// Connect starts a connection attempt unless one is already connecting or
// open.
func (m *ConnectionManager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectLocked(false)
}

// Reconnect abandons the current transport, if any, and starts a fresh
// attempt under a new token.
func (m *ConnectionManager) Reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectLocked(true)
}

func (m *ConnectionManager) connectLocked(force bool) {
	if m.state == StateClosed {
		return
	}
	if !force && (m.state == StateConnecting || m.state == StateOpen) {
		return
	}
	m.dropTransportLocked()

	m.token++
	token := m.token
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.state = StateConnecting

	connID := ulid.Make().String()
	m.logger.Info("Connecting to host",
		"url", m.url,
		"transport", m.dialer.ProtocolType(),
		"conn_id", connID,
		"token", token)

	go m.run(ctx, token, connID)
}

// dropTransportLocked cancels the in-flight attempt and closes the current
// conn. Its goroutines will observe a stale token.
func (m *ConnectionManager) dropTransportLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Debug("Failed to close superseded transport", "error", err)
		}
		m.conn = nil
	}
}

func (m *ConnectionManager) run(ctx context.Context, token uint64, connID string) {
	dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	conn, err := m.dialer.Dial(dialCtx, m.url)
	cancel()
	if err != nil {
		m.handleClose(token, connID, err)
		return
	}

	if !m.handleOpen(token, connID, conn) {
		_ = conn.Close()
		return
	}
	m.readLoop(ctx, token, connID, conn)
}

func (m *ConnectionManager) handleOpen(token uint64, connID string, conn interfaces.Conn) bool {
	m.mu.Lock()
	if token != m.token {
		m.mu.Unlock()
		m.logger.Debug("Discarding stale transport", "conn_id", connID, "token", token)
		return false
	}
	m.state = StateOpen
	m.conn = conn
	m.backoff.Reset()
	m.metrics.connectionOpened()

	sent, err := m.queue.Flush(m.sendFunc(conn))
	m.metrics.setQueued(m.queue.Len())
	if err != nil {
		m.logger.Warn("Flush interrupted, frames remain queued",
			"conn_id", connID,
			"sent", sent,
			"error", err)
		m.abandonTransportLocked(err)
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	m.logger.Info("Connected to host", "conn_id", connID, "flushed", sent)

	m.router.dispatchView(statusConnectedEvent)
	return true
}

func (m *ConnectionManager) readLoop(ctx context.Context, token uint64, connID string, conn interfaces.Conn) {
	for {
		msg, err := conn.Read(ctx)
		if err != nil {
			m.handleClose(token, connID, err)
			return
		}
		// Route runs outside the lock so callbacks can re-enter the bridge.
		// A frame read just before a Reconnect may still be routed once; the
		// next read on the superseded conn fails and ends the loop.
		if !m.isActive(token) {
			return
		}
		if msg.Type != interfaces.MsgText {
			continue
		}
		packet, ok := DecodePacket(msg.Payload)
		if !ok {
			m.metrics.frameMalformed()
			continue
		}
		m.router.Route(packet)
	}
}

func (m *ConnectionManager) handleClose(token uint64, connID string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.token {
		return
	}
	m.state = StateDisconnected
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	if errors.Is(cause, interfaces.ErrConnectionFailed) {
		m.logger.Warn("Connection attempt failed", "conn_id", connID, "error", cause)
	} else {
		m.logger.Info("Connection closed", "conn_id", connID, "error", cause)
	}
	m.scheduleReconnectLocked()
}

func (m *ConnectionManager) scheduleReconnectLocked() {
	if m.state == StateOpen || m.state == StateClosed {
		return
	}
	if m.timer != nil {
		return
	}

	attempt := m.backoff.Attempt()
	delay := m.backoff.NextDelay()
	m.metrics.reconnectScheduled()
	m.logger.Info("Scheduling reconnect", "attempt", attempt, "delay", delay)

	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.timer = nil
		m.connectLocked(false)
	})
}

// abandonTransportLocked handles a failed write on the open transport. The
// conn is closed and a reconnect scheduled, so queued frames go out on the
// next successful open.
func (m *ConnectionManager) abandonTransportLocked(cause error) {
	if m.state != StateOpen {
		return
	}
	m.logger.Warn("Write failed, dropping transport", "token", m.token, "error", cause)
	m.dropTransportLocked()
	m.state = StateDisconnected
	m.scheduleReconnectLocked()
}

func (m *ConnectionManager) isActive(token uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return token == m.token
}

func (m *ConnectionManager) sendFunc(conn interfaces.Conn) SendFunc {
	return func(frame []byte) error {
		ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
		defer cancel()
		if err := conn.Send(ctx, frame, interfaces.MsgText); err != nil {
			return err
		}
		m.metrics.frameSent()
		return nil
	}
}

// Enqueue writes frame now if the transport is open, otherwise buffers it
// for the next successful open.
func (m *ConnectionManager) Enqueue(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return ErrBridgeClosed
	}
	var (
		send     SendFunc
		writeErr error
	)
	if m.state == StateOpen && m.conn != nil {
		write := m.sendFunc(m.conn)
		send = func(frame []byte) error {
			writeErr = write(frame)
			return writeErr
		}
	}
	if !m.queue.Enqueue(frame, send) {
		m.logger.Debug("Frame queued", "pending", m.queue.Len(), "state", m.state)
	}
	m.metrics.setQueued(m.queue.Len())
	if writeErr != nil {
		m.abandonTransportLocked(writeErr)
	}
	return nil
}

func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnectionManager) Token() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *ConnectionManager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// ReconnectPending reports whether a reconnect timer is outstanding.
func (m *ConnectionManager) ReconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// Close stops reconnecting and closes the transport. Queued frames are
// discarded with the manager.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return nil
	}
	m.state = StateClosed
	m.token++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	var err error
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		err = m.conn.Close()
		m.conn = nil
	}
	m.logger.Info("Connection manager closed", "pending", m.queue.Len())
	return err
}
