package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"inventorybus/internal/platform/observability"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// State is the lifecycle state of the broker connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrNotConnected is returned when no channel could be obtained from the broker.
	ErrNotConnected = errors.New("rabbitmq: no broker channel available")
	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("rabbitmq: connection manager closed")
)

// OnConnectFunc runs against every freshly opened channel before it is handed out.
type OnConnectFunc func(ctx context.Context, ch Channel) error

// Options configures a ConnectionManager.
type Options struct {
	URL      string
	Attempts int
	Delay    time.Duration
	Prefetch int
	Dial     Dialer
}

// ConnectionManager owns the broker connection and its single operating channel.
// Concurrent connect requests share one in-flight attempt; a broker-initiated
// close tears everything down and re-enters the retry loop.
type ConnectionManager struct {
	opts    Options
	logger  observability.Logger
	metrics *observability.Metrics

	life context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	state    State
	conn     Connection
	ch       Channel
	inflight *connectAttempt
	hooks    []OnConnectFunc
	closed   bool
}

type connectAttempt struct {
	done chan struct{}
	err  error
}

// NewConnectionManager creates a manager in the Disconnected state. Nothing is
// dialled until Connect or Channel is called.
func NewConnectionManager(opts Options, logger observability.Logger, metrics *observability.Metrics) *ConnectionManager {
	if opts.Dial == nil {
		opts.Dial = DialAMQP
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	life, stop := context.WithCancel(context.Background())
	return &ConnectionManager{
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		life:    life,
		stop:    stop,
		state:   StateDisconnected,
	}
}

// OnConnect registers fn to run on every successful (re)connect, in registration
// order. Hooks registered while connected take effect from the next connect.
func (m *ConnectionManager) OnConnect(fn OnConnectFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// State returns the current connection state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the connection if there is none.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	_, err := m.Channel(ctx)
	return err
}

// Channel returns the live channel, connecting on demand. ctx bounds only the
// wait; the attempt itself keeps running for other waiters.
func (m *ConnectionManager) Channel(ctx context.Context) (Channel, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.ch != nil {
		ch := m.ch
		m.mu.Unlock()
		return ch, nil
	}
	a := m.startAttemptLocked()
	m.mu.Unlock()

	select {
	case <-a.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if a.err != nil {
		return nil, a.err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch == nil {
		return nil, ErrNotConnected
	}
	return m.ch, nil
}

// Reconnect discards stale if it is still the current channel and returns a
// fresh one. A stale channel that was already replaced is not touched.
func (m *ConnectionManager) Reconnect(ctx context.Context, stale Channel) (Channel, error) {
	m.mu.Lock()
	if !m.closed && stale != nil && m.ch == stale {
		m.teardownLocked()
		m.state = StateReconnecting
	}
	m.mu.Unlock()
	return m.Channel(ctx)
}

// Close shuts the connection down without reconnecting and waits for the
// background goroutines to exit.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stop()

	var err error
	if m.ch != nil {
		err = errors.Join(err, m.ch.Close())
		m.ch = nil
	}
	if m.conn != nil {
		err = errors.Join(err, m.conn.Close())
		m.conn = nil
	}
	m.state = StateDisconnected
	m.mu.Unlock()

	m.wg.Wait()
	return err
}

func (m *ConnectionManager) startAttemptLocked() *connectAttempt {
	if m.inflight != nil {
		return m.inflight
	}
	a := &connectAttempt{done: make(chan struct{})}
	m.inflight = a
	if m.state != StateReconnecting {
		m.state = StateConnecting
	}
	hooks := append([]OnConnectFunc(nil), m.hooks...)

	m.wg.Add(1)
	go m.runAttempt(a, hooks)
	return a
}

func (m *ConnectionManager) runAttempt(a *connectAttempt, hooks []OnConnectFunc) {
	defer m.wg.Done()

	conn, ch, err := m.dialWithRetry(hooks)

	m.mu.Lock()
	if err == nil && m.closed {
		_ = ch.Close()
		_ = conn.Close()
		err = ErrClosed
	}
	if err != nil {
		m.state = StateDisconnected
	} else {
		m.conn, m.ch = conn, ch
		m.state = StateConnected
		m.watchLocked(conn, ch)
	}
	m.inflight = nil
	a.err = err
	m.mu.Unlock()

	close(a.done)
}

func (m *ConnectionManager) dialWithRetry(hooks []OnConnectFunc) (Connection, Channel, error) {
	var (
		conn    Connection
		ch      Channel
		attempt int
	)

	op := func() error {
		attempt++
		c, channel, err := m.open(hooks)
		if err != nil {
			return err
		}
		conn, ch = c, channel
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.opts.Delay), uint64(m.opts.Attempts-1)),
		m.life,
	)
	notify := func(err error, next time.Duration) {
		m.logger.Warn("⏳ Broker connection attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.opts.Attempts),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		m.metrics.BrokerConnect(context.Background(), "failed")
		m.logger.Error("❌ Giving up on broker connection",
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return nil, nil, fmt.Errorf("%w after %d attempts: %w", ErrNotConnected, attempt, err)
	}

	m.metrics.BrokerConnect(context.Background(), "connected")
	m.logger.Info("✅ Connected to broker", zap.Int("attempt", attempt))
	return conn, ch, nil
}

// open dials once, opens the channel and runs the on-connect hooks against it.
func (m *ConnectionManager) open(hooks []OnConnectFunc) (Connection, Channel, error) {
	conn, err := m.opts.Dial(m.opts.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	fail := func(err error) (Connection, Channel, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}

	if m.opts.Prefetch > 0 {
		if err := ch.Qos(m.opts.Prefetch, 0, false); err != nil {
			return fail(fmt.Errorf("set prefetch: %w", err))
		}
	}
	for _, hook := range hooks {
		if err := hook(m.life, ch); err != nil {
			return fail(fmt.Errorf("on-connect hook: %w", err))
		}
	}
	return conn, ch, nil
}

func (m *ConnectionManager) watchLocked(conn Connection, ch Channel) {
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		var reason *amqp.Error
		select {
		case reason = <-connClosed:
		case reason = <-chClosed:
		case <-m.life.Done():
			return
		}
		m.handleClose(ch, reason)
	}()
}

func (m *ConnectionManager) handleClose(ch Channel, reason *amqp.Error) {
	m.mu.Lock()
	if m.closed || m.ch != ch {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.state = StateReconnecting
	m.mu.Unlock()

	fields := []zap.Field{}
	if reason != nil {
		fields = append(fields,
			zap.Int("code", reason.Code),
			zap.String("reason", reason.Reason),
			zap.Bool("server", reason.Server),
		)
	}
	m.logger.Warn("🔌 Broker connection lost, reconnecting", fields...)

	if _, err := m.Channel(m.life); err != nil && m.life.Err() == nil {
		m.logger.Error("❌ Reconnect failed; the next broker request will retry", zap.Error(err))
	}
}

func (m *ConnectionManager) teardownLocked() {
	if m.ch != nil {
		_ = m.ch.Close()
		m.ch = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
}
