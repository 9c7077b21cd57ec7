// Package session is the client side of realtime delivery: it keeps one
// connection to the fan-out server joined to the user's room, reconnects with
// capped exponential backoff and falls back to polling the message store when
// no live connection can be kept.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/proto"
)

// State is the connection state of a session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	FailedPolling
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case FailedPolling:
		return "failed_polling"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("session already started")

const (
	defaultMaxAttempts  = 10
	defaultDelay        = time.Second
	defaultDelayMax     = 5 * time.Second
	defaultPollInterval = 10 * time.Second
)

// Config describes whose session this is and how it recovers.
type Config struct {
	UserID string
	// JobID is the conversation in view. Pushes for other jobs are ignored.
	JobID string

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ReconnectDelayMax    time.Duration
	PollInterval         time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultMaxAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultDelay
	}
	if c.ReconnectDelayMax <= 0 {
		c.ReconnectDelayMax = defaultDelayMax
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
}

// Update describes a visible change. Exactly one of the fields besides State
// is set, or none for a plain state change.
type Update struct {
	State   State
	Message *proto.MessagePayload
	Receipt *proto.MessagesReadData
	// Polled is the number of messages a poll added.
	Polled int
}

// Manager runs one session.
type Manager struct {
	cfg      Config
	dialer   Dialer
	api      API
	conv     *Conversation
	log      *zerolog.Logger
	observer func(Update)

	state   atomic.Int32
	polling atomic.Bool
	stopped atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	conn   Conn
	wg     sync.WaitGroup
}

// New creates a session manager. Nothing happens until Start.
func New(cfg Config, dialer Dialer, api API, logger *zerolog.Logger) *Manager {
	cfg.setDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		api:    api,
		conv:   NewConversation(),
		log:    logger,
	}
}

// OnUpdate registers fn to be called on every change. It must be set before
// Start and is never called after Stop returns.
func (m *Manager) OnUpdate(fn func(Update)) {
	m.observer = fn
}

// Start launches the session in the background.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil || m.stopped.Load() {
		return ErrAlreadyStarted
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
	return nil
}

// Stop closes the connection and waits for background work. No updates are
// applied afterwards.
func (m *Manager) Stop() {
	m.stopped.Store(true)

	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	m.wg.Wait()
	m.state.Store(int32(Disconnected))
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Messages returns the conversation, oldest first.
func (m *Manager) Messages() []proto.MessagePayload {
	return m.conv.Messages()
}

// Send stores a message through the API, adds it locally and announces it
// on the live connection if there is one.
func (m *Manager) Send(ctx context.Context, receiverID, content string) (proto.MessagePayload, error) {
	msg, err := m.api.SendMessage(ctx, m.cfg.JobID, receiverID, content)
	if err != nil {
		return proto.MessagePayload{}, err
	}
	if m.stopped.Load() {
		return msg, nil
	}
	m.conv.Apply(msg)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		if err := conn.SendHint(ctx, msg.ID); err != nil {
			m.log.Debug().Err(err).Str("message_id", msg.ID).Msg("send hint failed")
		}
	}
	return msg, nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	m.setState(Connecting)
	for {
		conn, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn().Err(err).Int("attempts", m.cfg.MaxReconnectAttempts).Msg("realtime unavailable, polling")
			m.setState(FailedPolling)
			m.pollLoop(ctx)
			return
		}

		m.setConn(conn)
		m.setState(Connected)
		err = m.serve(ctx, conn)
		m.setConn(nil)
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		m.log.Warn().Err(err).Msg("realtime connection lost")
		m.setState(Reconnecting)
	}
}

// connect dials and joins the user's room, retrying with capped exponential
// backoff. Room membership does not survive a reconnect, so every successful
// dial joins again.
func (m *Manager) connect(ctx context.Context) (Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.ReconnectDelay
	b.MaxInterval = m.cfg.ReconnectDelayMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.cfg.MaxReconnectAttempts)), ctx)

	return backoff.RetryNotifyWithData(func() (Conn, error) {
		conn, err := m.dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		if err := conn.Join(ctx, m.cfg.UserID); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}, policy, func(err error, wait time.Duration) {
		m.setState(Reconnecting)
		m.log.Debug().Err(err).Dur("retry_in", wait).Msg("realtime connect failed")
	})
}

func (m *Manager) serve(ctx context.Context, conn Conn) error {
	// Anything sent while disconnected is only in the store.
	m.pollOnce(ctx)

	for {
		ev, err := conn.Next(ctx)
		if err != nil {
			return err
		}
		m.handle(ctx, ev)
	}
}

func (m *Manager) handle(ctx context.Context, ev Event) {
	if m.stopped.Load() {
		return
	}

	switch ev.Name {
	case proto.EventNewMessage:
		msg := ev.Message
		if msg == nil || msg.JobID != m.cfg.JobID {
			return
		}
		if m.conv.Apply(*msg) {
			m.notify(Update{Message: msg})
		}
		if msg.ReceiverID == m.cfg.UserID && !msg.IsRead {
			m.markRead(ctx, msg.SenderID)
		}
	case proto.EventMessagesRead:
		r := ev.Receipt
		if r == nil || r.JobID != m.cfg.JobID {
			return
		}
		m.conv.MarkReadBy(m.cfg.UserID, r.ReadBy)
		m.notify(Update{Receipt: r})
	case proto.OutboundTypeError:
		if ev.Error != nil {
			m.log.Warn().Str("code", ev.Error.Code).Str("msg", ev.Error.Msg).Msg("server error")
		}
	}
}

// markRead reports the conversation as seen. The store call is idempotent,
// so repeated pushes are harmless.
func (m *Manager) markRead(ctx context.Context, senderID string) {
	n, err := m.api.MarkRead(ctx, m.cfg.JobID)
	if err != nil {
		m.log.Warn().Err(err).Str("job_id", m.cfg.JobID).Msg("mark read failed")
		return
	}
	if n > 0 && !m.stopped.Load() {
		m.conv.MarkReadBy(senderID, m.cfg.UserID)
	}
}

func (m *Manager) pollLoop(ctx context.Context) {
	m.pollOnce(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

// pollOnce starts a poll unless one is already in flight.
func (m *Manager) pollOnce(ctx context.Context) {
	if !m.polling.CompareAndSwap(false, true) {
		m.log.Debug().Msg("poll still in flight, skipping")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.polling.Store(false)

		msgs, err := m.api.ListMessages(ctx, m.cfg.JobID, m.cfg.UserID)
		if err != nil {
			if ctx.Err() == nil {
				m.log.Warn().Err(err).Str("job_id", m.cfg.JobID).Msg("poll failed")
			}
			return
		}
		if m.stopped.Load() {
			return
		}
		if added := m.conv.Merge(msgs); added > 0 {
			m.notify(Update{Polled: added})
		}
	}()
}

func (m *Manager) setConn(conn Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
}

func (m *Manager) setState(s State) {
	if m.stopped.Load() {
		return
	}
	if State(m.state.Swap(int32(s))) != s {
		m.log.Info().Str("state", s.String()).Msg("session state")
		m.notify(Update{})
	}
}

func (m *Manager) notify(u Update) {
	if m.observer == nil || m.stopped.Load() {
		return
	}
	u.State = m.State()
	m.observer(u)
}
