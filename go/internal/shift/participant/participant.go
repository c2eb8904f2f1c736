package participant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/mcdev12/shifter/go/internal/shift/transport"
	"github.com/rs/zerolog/log"
)

// DefaultConnectTimeout bounds dialing plus registration
const DefaultConnectTimeout = 2 * time.Second

// ErrClosed is returned by requests issued after Close
var ErrClosed = errors.New("participant closed")

// Options configures a participant
type Options struct {
	events.ConnectionOptions

	// OnStatus receives every status the coordinator sends, in order
	OnStatus func(events.UpdateStatus)
	// OnDisconnect runs on its own goroutine when the coordinator goes away
	// without this participant having closed
	OnDisconnect func(*Participant)

	ConnectTimeout time.Duration
	Transport      transport.Config
}

type request struct {
	expect events.MessageType
	done   chan error
}

// Participant mirrors the coordinator's status and forwards commands to it
type Participant struct {
	id   string
	opts Options
	conn *transport.Conn

	reqMu sync.Mutex // one request on the wire at a time

	mu         sync.Mutex
	last       events.UpdateStatus
	received   int64
	isBackup   bool
	sawState   bool
	registered bool
	closing    bool
	closed     bool
	pending    *request

	registeredCh chan struct{}
	done         chan struct{}
}

// Connect dials opts.Address and registers. It returns once REGISTER_COMPLETE
// arrives; failing to reach a coordinator in time is transport.ErrConnectionRefused.
func Connect(ctx context.Context, opts Options) (*Participant, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	p := &Participant{
		id:           uuid.New().String(),
		opts:         opts,
		registeredCh: make(chan struct{}),
		done:         make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	conn, err := transport.Dial(ctx, opts.Address, opts.Transport, p)
	if err != nil {
		return nil, err
	}
	p.conn = conn

	env, err := events.NewEnvelope(events.MessageRegister, p.id, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Send(env); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", transport.ErrConnectionRefused, opts.Address, err)
	}

	select {
	case <-p.registeredCh:
	case <-p.done:
		return nil, fmt.Errorf("%w: %s: disconnected during registration", transport.ErrConnectionRefused, opts.Address)
	case <-ctx.Done():
		p.mu.Lock()
		p.closing = true
		p.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("%w: %s: %w", transport.ErrConnectionRefused, opts.Address, ctx.Err())
	}

	log.Info().
		Str("participant_id", p.id).
		Str("address", opts.Address).
		Bool("is_backup", p.IsBackup()).
		Msg("participant registered")

	return p, nil
}

// ID returns the participant id
func (p *Participant) ID() string {
	return p.id
}

// IsBackup reports whether the coordinator designated this participant as backup
func (p *Participant) IsBackup() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isBackup
}

// StatusMessagesReceived counts UPDATE_STATUS messages received
func (p *Participant) StatusMessagesReceived() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.received
}

// LastUpdateStatusMessage returns the most recent status received
func (p *Participant) LastUpdateStatusMessage() events.UpdateStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// HasCoordinatorState reports whether a status with a shift timestamp was ever seen
func (p *Participant) HasCoordinatorState() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sawState
}

// ConnectionOptions returns the options for the next connection attempt,
// seeded with the latest observed timestamps
func (p *Participant) ConnectionOptions() events.ConnectionOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sawState {
		return p.opts.ConnectionOptions
	}
	return p.opts.ConnectionOptions.WithStatus(p.last)
}

// Done is closed once the connection is gone
func (p *Participant) Done() <-chan struct{} {
	return p.done
}

// PauseShiftInterval asks the coordinator to pause. It returns at once when
// the cached status is already paused.
func (p *Participant) PauseShiftInterval(ctx context.Context) error {
	if p.LastUpdateStatusMessage().Paused() {
		return nil
	}
	return p.request(ctx, events.MessagePause)
}

// StartShiftInterval asks the coordinator to start. It returns at once when
// the cached status is already running.
func (p *Participant) StartShiftInterval(ctx context.Context) error {
	if p.LastUpdateStatusMessage().Running() {
		return nil
	}
	return p.request(ctx, events.MessageStart)
}

// ResetShiftInterval asks the coordinator to restart both countdowns
func (p *Participant) ResetShiftInterval(ctx context.Context) error {
	return p.request(ctx, events.MessageReset)
}

// Close leaves gracefully: it sends CLOSE, waits for CLOSE_COMPLETE and hangs up.
// Losing the coordinator meanwhile is not an error.
func (p *Participant) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	p.mu.Unlock()

	err := p.request(ctx, events.MessageClose)
	p.conn.Close()

	if err != nil && !errors.Is(err, transport.ErrDisconnected) {
		return fmt.Errorf("failed to close participant: %w", err)
	}

	log.Info().Str("participant_id", p.id).Msg("participant closed")
	return nil
}

// request sends t and waits for its acknowledgement or the disconnect
func (p *Participant) request(ctx context.Context, t events.MessageType) error {
	expect, ok := events.CompletionFor(t)
	if !ok {
		return fmt.Errorf("%s is not a request", t)
	}

	p.reqMu.Lock()
	defer p.reqMu.Unlock()

	p.mu.Lock()
	if p.closing && t != events.MessageClose {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.closed {
		p.mu.Unlock()
		return transport.ErrDisconnected
	}
	req := &request{expect: expect, done: make(chan error, 1)}
	p.pending = req
	p.mu.Unlock()

	env, err := events.NewEnvelope(t, p.id, nil)
	if err == nil {
		err = p.conn.Send(env)
	}
	if err != nil {
		p.clearPending(req)
		return err
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		p.clearPending(req)
		return ctx.Err()
	}
}

func (p *Participant) clearPending(req *request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == req {
		p.pending = nil
	}
}
