package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat-server/internal/store"
)

const (
	// DefaultChannel is the NOTIFY channel the message triggers publish on.
	DefaultChannel = "message_events"

	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 90 * time.Second
)

// Notification ops published by the database triggers.
const (
	OpInsert = "insert"
	OpRead   = "read"
)

// Notification is the JSON payload carried by a NOTIFY.
type Notification struct {
	Op         string `json:"op"`
	ID         string `json:"id,omitempty"`
	JobID      string `json:"jobId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	ReadBy     string `json:"readBy,omitempty"`
}

// Source is the subset of *pq.Listener the bridge uses.
type Source interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// ListenerConfig tunes the notification listener.
type ListenerConfig struct {
	Channel string
	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay time.Duration
	// PingInterval is how often an idle connection is checked.
	PingInterval time.Duration
}

func (c *ListenerConfig) setDefaults() {
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
}

// Listener consumes database notifications on one long-lived connection,
// re-fetches the affected rows and forwards them to the hub.
type Listener struct {
	src     Source
	store   store.Store
	emitter Emitter
	cfg     ListenerConfig
	log     *zerolog.Logger
}

// NewPQListener builds a Listener on a dedicated lib/pq connection that
// reconnects after a fixed delay, indefinitely.
func NewPQListener(dsn string, cfg ListenerConfig, st store.Store, emitter Emitter, logger *zerolog.Logger) *Listener {
	l := newListener(cfg, st, emitter, logger)
	l.src = pq.NewListener(dsn, l.cfg.ReconnectDelay, l.cfg.ReconnectDelay, l.onConnEvent)
	return l
}

// NewListener builds a Listener on an existing notification source.
func NewListener(src Source, cfg ListenerConfig, st store.Store, emitter Emitter, logger *zerolog.Logger) *Listener {
	l := newListener(cfg, st, emitter, logger)
	l.src = src
	return l
}

func newListener(cfg ListenerConfig, st store.Store, emitter Emitter, logger *zerolog.Logger) *Listener {
	cfg.setDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Listener{store: st, emitter: emitter, cfg: cfg, log: logger}
}

func (l *Listener) onConnEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.log.Info().Str("channel", l.cfg.Channel).Msg("notification listener connected")
	case pq.ListenerEventDisconnected:
		l.log.Warn().Err(err).Dur("retry_in", l.cfg.ReconnectDelay).Msg("notification listener disconnected")
	case pq.ListenerEventReconnected:
		l.log.Info().Str("channel", l.cfg.Channel).Msg("notification listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.log.Warn().Err(err).Dur("retry_in", l.cfg.ReconnectDelay).Msg("notification listener connect failed")
	}
}

// Run listens until ctx is cancelled. Connection loss is handled by the source,
// which keeps retrying; Run only returns early if the source is closed.
func (l *Listener) Run(ctx context.Context) error {
	defer l.src.Close()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- l.src.Listen(l.cfg.Channel)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("listen %s: %w", l.cfg.Channel, err)
		}
	case <-ctx.Done():
		return nil
	}
	l.log.Info().Str("channel", l.cfg.Channel).Msg("listening for message notifications")

	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()

	notifications := l.src.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return errors.New("notification channel closed")
			}
			if n == nil {
				// Sent after a reconnect; anything published while down is lost
				// and clients recover it by polling.
				l.log.Info().Msg("notification connection re-established")
				continue
			}
			l.Handle(ctx, n.Extra)
		case <-ticker.C:
			go func() {
				if err := l.src.Ping(); err != nil {
					l.log.Warn().Err(err).Msg("notification listener ping failed")
				}
			}()
		}
	}
}

// Handle processes one notification payload.
func (l *Listener) Handle(ctx context.Context, payload string) {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		l.log.Warn().Err(err).Str("payload", payload).Msg("malformed notification dropped")
		return
	}

	switch n.Op {
	case OpInsert:
		// The trigger payload only routes; the row itself is re-read.
		msg, err := l.store.GetMessage(ctx, n.ID)
		if err != nil {
			l.log.Warn().Err(err).Str("message_id", n.ID).Msg("notified message re-fetch failed")
			return
		}
		err = l.emitter.EmitNewMessage(Delivery(ctx, l.store, msg, l.log))
		logEmitError(l.log, err, "new_message", msg.JobID)
	case OpRead:
		err := l.emitter.EmitMessagesRead(n.JobID, n.ReadBy, n.SenderID)
		logEmitError(l.log, err, "messages_read", n.JobID)
	default:
		l.log.Warn().Str("op", n.Op).Msg("unknown notification op dropped")
	}
}
