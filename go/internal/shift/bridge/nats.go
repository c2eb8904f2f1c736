package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	natsMaxReconnects = -1
	natsReconnectWait = 2 * time.Second

	// DefaultRequestTimeout bounds a shift request to the editor host
	DefaultRequestTimeout = 10 * time.Second
)

// Commands is what the host may drive over NATS
type Commands interface {
	StartShiftInterval(ctx context.Context) error
	PauseShiftInterval(ctx context.Context) error
	ResetShiftInterval(ctx context.Context) error
}

// reply is the body of every response on the bridge
type reply struct {
	Error string `json:"error,omitempty"`
}

// StatusEvent is published on <prefix>.status
type StatusEvent struct {
	ServerID string `json:"server_id"`
	Text     string `json:"text"`
	SentAt   int64  `json:"sent_at"`
}

// NATS talks to the editor host over NATS. Shifts are request/reply so the
// coordinator learns whether the host applied them.
type NATS struct {
	nc       *nats.Conn
	owned    bool
	prefix   string
	serverID string
	timeout  time.Duration
}

// ConnectNATS dials url and returns a bridge that owns the connection
func ConnectNATS(url, prefix, serverID string) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("shifter-" + serverID),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	b := NewNATS(nc, prefix, serverID)
	b.owned = true
	return b, nil
}

// NewNATS wraps an existing connection
func NewNATS(nc *nats.Conn, prefix, serverID string) *NATS {
	return &NATS{
		nc:       nc,
		prefix:   prefix,
		serverID: serverID,
		timeout:  DefaultRequestTimeout,
	}
}

// WithTimeout sets the shift request timeout
func (b *NATS) WithTimeout(d time.Duration) *NATS {
	if d > 0 {
		b.timeout = d
	}
	return b
}

// ShiftColorTheme asks the host to apply the next color theme
func (b *NATS) ShiftColorTheme(ctx context.Context) error {
	return b.request(ctx, ShiftColorThemeSubject(b.prefix))
}

// ShiftFontFamily asks the host to apply the next font family
func (b *NATS) ShiftFontFamily(ctx context.Context) error {
	return b.request(ctx, ShiftFontFamilySubject(b.prefix))
}

// UpdateStatusBarText publishes text; failures are only logged
func (b *NATS) UpdateStatusBarText(text string) {
	data, err := json.Marshal(StatusEvent{
		ServerID: b.serverID,
		Text:     text,
		SentAt:   time.Now().UnixMilli(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal status event")
		return
	}
	if err := b.nc.Publish(StatusSubject(b.prefix), data); err != nil {
		log.Warn().Err(err).Str("subject", StatusSubject(b.prefix)).Msg("failed to publish status")
	}
}

// ServeCommands answers start, pause and reset requests from the host until
// the returned stop function is called. Every window of a prefix joins the
// same queue group, so each request reaches exactly one of them.
func (b *NATS) ServeCommands(cmds Commands) (stop func(), err error) {
	handlers := map[string]func(context.Context) error{
		CommandSubject(b.prefix, "start"): cmds.StartShiftInterval,
		CommandSubject(b.prefix, "pause"): cmds.PauseShiftInterval,
		CommandSubject(b.prefix, "reset"): cmds.ResetShiftInterval,
	}

	subs := make([]*nats.Subscription, 0, len(handlers))
	unsubscribe := func() {
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil {
				log.Debug().Err(err).Str("subject", sub.Subject).Msg("failed to unsubscribe")
			}
		}
	}

	for subject, fn := range handlers {
		sub, err := b.nc.QueueSubscribe(subject, CommandQueue(b.prefix), b.commandHandler(subject, fn))
		if err != nil {
			unsubscribe()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	log.Info().Str("prefix", b.prefix).Msg("serving shift interval commands over NATS")
	return unsubscribe, nil
}

func (b *NATS) commandHandler(subject string, fn func(context.Context) error) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		var r reply
		if err := fn(ctx); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("command failed")
			r.Error = err.Error()
		}

		if msg.Reply == "" {
			return
		}
		data, _ := json.Marshal(r)
		if err := msg.Respond(data); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("failed to respond to command")
		}
	}
}

// Check reports whether the connection is usable, for health checks
func (b *NATS) Check() error {
	if !b.nc.IsConnected() {
		return fmt.Errorf("nats %s", b.nc.Status())
	}
	return nil
}

// Close closes the connection if the bridge dialed it
func (b *NATS) Close() {
	if b.owned {
		b.nc.Close()
	}
}

func (b *NATS) request(ctx context.Context, subject string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	msg, err := b.nc.RequestWithContext(ctx, subject, nil)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	return decodeReply(msg.Data)
}

// decodeReply maps a host reply to an error; an empty body is success
func decodeReply(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("invalid reply: %w", err)
	}
	if r.Error != "" {
		return errors.New(r.Error)
	}
	return nil
}

// ShiftColorThemeSubject is where color theme shifts are requested
func ShiftColorThemeSubject(prefix string) string { return prefix + ".shift.color_theme" }

// ShiftFontFamilySubject is where font family shifts are requested
func ShiftFontFamilySubject(prefix string) string { return prefix + ".shift.font_family" }

// StatusSubject carries StatusEvent publications
func StatusSubject(prefix string) string { return prefix + ".status" }

// CommandSubject is where the host sends start, pause and reset
func CommandSubject(prefix, command string) string {
	return prefix + ".command." + command
}

// CommandQueue is the queue group shared by the windows of a prefix
func CommandQueue(prefix string) string {
	return prefix + "-commands"
}
