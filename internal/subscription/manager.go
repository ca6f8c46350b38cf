// Package subscription maintains the single live websocket subscription to
// the upstream parsed-transaction feed and hands matched notifications to
// the dedup/enqueue layer. Connection drops never terminate the process;
// they schedule a reconnect.
package subscription

import (
	"context"
	"encoding/json"
	"math"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/solwatch/swapfeed/internal/classifier"
	"github.com/solwatch/swapfeed/internal/domain"
)

// State of the subscription connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateSubscribed
	StateReconnectWait
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateSubscribed:
		return "subscribed"
	case StateReconnectWait:
		return "reconnect_wait"
	default:
		return "disconnected"
	}
}

// Sink receives matched notifications from the pre-check. Implementations
// must be safe for concurrent use and must not block indefinitely.
type Sink interface {
	Enqueue(ctx context.Context, n domain.RawTxNotification) error
}

// Options configures the subscription manager.
type Options struct {
	URL            string
	ConnectTimeout time.Duration
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	PingInterval   time.Duration
	BatchSize      int
	BatchStagger   time.Duration
}

func (o *Options) withDefaults() {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = 5 * time.Second
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = 60 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.BatchSize == 0 {
		o.BatchSize = 50
	}
	if o.BatchStagger == 0 {
		o.BatchStagger = 100 * time.Millisecond
	}
}

// Manager owns one websocket connection and its reconnect loop.
type Manager struct {
	opts     Options
	accounts *domain.AccountSet
	sink     Sink
	logger   *zap.Logger

	state  atomic.Int32
	reqID  atomic.Int64
	notifs atomic.Int64
}

func NewManager(opts Options, accounts *domain.AccountSet, sink Sink, logger *zap.Logger) *Manager {
	opts.withDefaults()
	return &Manager{
		opts:     opts,
		accounts: accounts,
		sink:     sink,
		logger:   logger.Named("subscription"),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// NotificationCount returns the number of transaction notifications handled
// since start.
func (m *Manager) NotificationCount() int64 {
	return m.notifs.Load()
}

// ReconnectDelay computes the schedule base*1.5^attempt capped at MaxDelay.
func ReconnectDelay(attempt int, base, max time.Duration) time.Duration {
	d := time.Duration(float64(base) * math.Pow(1.5, float64(attempt)))
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Run drives the connect/subscribe/read/reconnect loop until the context is
// cancelled. It only returns the context error; transport failures are
// logged and retried.
func (m *Manager) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			m.state.Store(int32(StateDisconnected))
			return err
		}

		err := m.runSession(ctx, &attempt)
		if ctx.Err() != nil {
			m.state.Store(int32(StateDisconnected))
			return ctx.Err()
		}

		delay := ReconnectDelay(attempt, m.opts.BaseDelay, m.opts.MaxDelay)
		attempt++
		m.state.Store(int32(StateReconnectWait))
		m.logger.Warn("connection lost, scheduling reconnect",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.state.Store(int32(StateDisconnected))
			return ctx.Err()
		}
	}
}

// runSession performs one connect + subscribe + read cycle. The attempt
// counter resets once the socket reaches OPEN.
func (m *Manager) runSession(ctx context.Context, attempt *int) error {
	m.state.Store(int32(StateConnecting))

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.opts.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, m.opts.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	m.state.Store(int32(StateOpen))
	*attempt = 0
	m.logger.Info("connected to transaction feed", zap.Int("tracked_accounts", m.accounts.Len()))

	if err := m.subscribe(ctx, conn); err != nil {
		return err
	}
	m.state.Store(int32(StateSubscribed))

	// Close the socket when the context dies so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go m.keepalive(ctx, conn, done)

	return m.readLoop(ctx, conn)
}

// subscribe sends one request covering every tracked address when the list
// fits, otherwise staggered batches for providers that cap filter sizes.
func (m *Manager) subscribe(ctx context.Context, conn *websocket.Conn) error {
	addrs := m.accounts.Addresses()

	if len(addrs) <= m.opts.BatchSize {
		return m.writeSubscribe(conn, addrs)
	}

	for i, batch := range BatchAddresses(addrs, m.opts.BatchSize) {
		if i > 0 {
			select {
			case <-time.After(m.opts.BatchStagger):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := m.writeSubscribe(conn, batch); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) writeSubscribe(conn *websocket.Conn, addresses []string) error {
	req := newSubscribeRequest(m.reqID.Add(1), addresses)
	return conn.WriteJSON(req)
}

// keepalive sends a protocol-level ping every interval while the session is
// live.
func (m *Manager) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				m.logger.Debug("ping failed", zap.Error(err))
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.handleMessage(ctx, data)
	}
}

// handleMessage classifies one frame: subscription ack, error, or
// transaction notification. Parser failures are logged and swallowed; they
// must not kill the session.
func (m *Manager) handleMessage(ctx context.Context, data []byte) {
	var msg feedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Warn("undecodable feed message", zap.Error(err))
		return
	}

	if msg.Error != nil {
		m.logger.Warn("feed error message", zap.Error(msg.Error))
		return
	}

	if msg.Method != "transactionNotification" {
		if len(msg.Result) > 0 {
			m.logger.Debug("subscription ack", zap.ByteString("id", msg.ID))
		}
		return
	}

	tx, err := parseNotification(msg.Params)
	if err != nil {
		m.logger.Warn("bad transaction notification", zap.Error(err))
		return
	}

	m.notifs.Add(1)
	m.precheck(ctx, tx)
}

// precheck applies the cheap rejections before anything touches Redis or the
// queue: missing signature or meta, on-chain error, and no tracked-account
// match. Each surviving match becomes one enqueue attempt.
func (m *Manager) precheck(ctx context.Context, tx *domain.RawTransaction) {
	if tx.Signature == "" || tx.Meta == nil {
		return
	}
	if tx.Meta.Err != nil {
		return
	}

	matches := classifier.MatchAccounts(tx, m.accounts)
	if len(matches) == 0 {
		return
	}

	raw, err := json.Marshal(tx)
	if err != nil {
		m.logger.Warn("marshal raw tx", zap.String("signature", tx.Signature), zap.Error(err))
		raw = nil
	}

	for _, match := range matches {
		n := domain.RawTxNotification{
			Signature: tx.Signature,
			Account:   match.Account.Address,
			Kind:      match.Account.Kind,
			RawTx:     raw,
		}
		if err := m.sink.Enqueue(ctx, n); err != nil {
			m.logger.Warn("enqueue failed",
				zap.String("signature", tx.Signature),
				zap.String("account", match.Account.Address),
				zap.Error(err))
		}
	}
}
