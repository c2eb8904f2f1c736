package interval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/shifter/go/internal/shift/coordinator"
	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/mcdev12/shifter/go/internal/shift/metrics"
	"github.com/mcdev12/shifter/go/internal/shift/participant"
	"github.com/mcdev12/shifter/go/internal/shift/settings"
	"github.com/mcdev12/shifter/go/internal/shift/status"
	"github.com/mcdev12/shifter/go/internal/shift/transport"
	"github.com/rs/zerolog/log"
)

// Role is the part this process currently plays
type Role string

const (
	RoleNone        Role = "none"
	RoleCoordinator Role = "coordinator"
	RoleParticipant Role = "participant"
)

// ErrClosed is returned by commands issued after Close
var ErrClosed = errors.New("shift interval closed")

// Options configures a Manager
type Options struct {
	ServerID string
	// Address defaults to transport.AddressFor(SocketDir, ServerID)
	Address   string
	SocketDir string

	Settings settings.Settings
	Shifter  coordinator.Shifter
	Sink     coordinator.StatusSink
	Clock    clockwork.Clock
	Metrics  metrics.Collector

	TickInterval   time.Duration
	ConnectTimeout time.Duration
	Transport      transport.Config
	Retry          RetryConfig
}

// commander is what both roles expose to the command palette
type commander interface {
	PauseShiftInterval(ctx context.Context) error
	StartShiftInterval(ctx context.Context) error
	ResetShiftInterval(ctx context.Context) error
}

// Manager keeps this process attached to the shared interval as either
// coordinator or participant, and survives the coordinator going away.
type Manager struct {
	opts  Options
	clock clockwork.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	role    Role
	coord   *coordinator.Coordinator
	part    *participant.Participant
	last    events.UpdateStatus
	changed chan struct{}
	closed  bool
}

// Activate joins the interval for opts.ServerID, connecting to a live
// coordinator or becoming it.
func Activate(ctx context.Context, opts Options) (*Manager, error) {
	m, err := newManager(opts)
	if err != nil {
		return nil, err
	}

	if err := m.establish(ctx, m.baseOptions()); err != nil {
		m.cancel()
		return nil, fmt.Errorf("failed to activate shift interval: %w", err)
	}
	return m, nil
}

// newManager validates opts and returns a manager that holds no role yet
func newManager(opts Options) (*Manager, error) {
	if opts.ServerID == "" {
		return nil, fmt.Errorf("server id is required")
	}
	if opts.Settings == nil || opts.Shifter == nil {
		return nil, fmt.Errorf("settings and shifter are required")
	}
	if opts.Address == "" {
		opts.Address = transport.AddressFor(opts.SocketDir, opts.ServerID)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoOp{}
	}
	opts.Retry = opts.Retry.withDefaults()

	m := &Manager{
		opts:    opts,
		clock:   opts.Clock,
		role:    RoleNone,
		changed: make(chan struct{}),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Role returns the current role
func (m *Manager) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// RoleChanged is closed the next time the role changes
func (m *Manager) RoleChanged() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// Address returns the socket path shared by every window
func (m *Manager) Address() string {
	return m.opts.Address
}

// StartShiftInterval forwards start to the current role
func (m *Manager) StartShiftInterval(ctx context.Context) error {
	return m.forward(ctx, "start", func(c commander) error { return c.StartShiftInterval(ctx) })
}

// PauseShiftInterval forwards pause to the current role
func (m *Manager) PauseShiftInterval(ctx context.Context) error {
	return m.forward(ctx, "pause", func(c commander) error { return c.PauseShiftInterval(ctx) })
}

// ResetShiftInterval forwards reset to the current role
func (m *Manager) ResetShiftInterval(ctx context.Context) error {
	return m.forward(ctx, "reset", func(c commander) error { return c.ResetShiftInterval(ctx) })
}

// LastStatus returns the freshest status this process knows
func (m *Manager) LastStatus() events.UpdateStatus {
	m.mu.Lock()
	coord, part, last := m.coord, m.part, m.last
	m.mu.Unlock()

	switch {
	case coord != nil:
		if st, err := coord.Status(); err == nil {
			return st
		}
	case part != nil:
		return part.LastUpdateStatusMessage()
	}
	return last
}

// RemainingTime derives both countdowns from the last known status
func (m *Manager) RemainingTime() status.Remaining {
	return status.RemainingTime(
		m.clock.Now(),
		m.LastStatus(),
		m.opts.Settings.ColorThemeInterval(),
		m.opts.Settings.FontFamilyInterval(),
	)
}

// Close leaves the interval. A coordinator releases the address so the
// backup can take over.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	coord, part := m.coord, m.part
	m.coord, m.part = nil, nil
	m.role = RoleNone
	close(m.changed)
	m.mu.Unlock()

	m.cancel()

	var errs []error
	if part != nil {
		errs = append(errs, part.Close(ctx))
	}
	if coord != nil {
		errs = append(errs, coord.Close())
	}
	m.wg.Wait()

	log.Info().Str("server_id", m.opts.ServerID).Msg("shift interval closed")
	return errors.Join(errs...)
}

// forward runs fn against the current role. A request cut off by the loss of
// the coordinator is retried once the failover settles.
func (m *Manager) forward(ctx context.Context, name string, fn func(commander) error) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		var cmd commander
		switch {
		case m.coord != nil:
			cmd = m.coord
		case m.part != nil:
			cmd = m.part
		}
		changed := m.changed
		m.mu.Unlock()

		if cmd != nil {
			err := fn(cmd)
			if !retryable(err) {
				return err
			}
			log.Debug().Err(err).Str("command", name).Msg("command interrupted by failover, retrying")
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, transport.ErrDisconnected) ||
		errors.Is(err, participant.ErrClosed) ||
		errors.Is(err, coordinator.ErrClosed)
}

func (m *Manager) baseOptions() events.ConnectionOptions {
	return events.ConnectionOptions{
		ServerID: m.opts.ServerID,
		Address:  m.opts.Address,
	}
}

func (m *Manager) coordinatorOptions(conn events.ConnectionOptions) coordinator.Options {
	return coordinator.Options{
		ConnectionOptions: conn,
		Settings:          m.opts.Settings,
		Shifter:           m.opts.Shifter,
		Sink:              m.opts.Sink,
		Clock:             m.clock,
		TickInterval:      m.opts.TickInterval,
		Transport:         m.opts.Transport,
		Metrics:           m.opts.Metrics,
	}
}

func (m *Manager) participantOptions(conn events.ConnectionOptions) participant.Options {
	return participant.Options{
		ConnectionOptions: conn,
		OnStatus:          m.handleStatus,
		OnDisconnect:      m.handleLost,
		ConnectTimeout:    m.opts.ConnectTimeout,
		Transport:         m.opts.Transport,
	}
}

func (m *Manager) handleStatus(st events.UpdateStatus) {
	m.mu.Lock()
	m.last = st
	m.mu.Unlock()

	if m.opts.Sink != nil {
		m.opts.Sink.UpdateStatusBarText(st.Text)
	}
}

// becomeCoordinator installs c unless the manager closed meanwhile
func (m *Manager) becomeCoordinator(c *coordinator.Coordinator) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.Close()
		return false
	}
	m.coord, m.part = c, nil
	m.setRoleLocked(RoleCoordinator)
	m.mu.Unlock()

	log.Info().Str("address", m.opts.Address).Msg("acting as coordinator")
	return true
}

func (m *Manager) becomeParticipant(p *participant.Participant) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		p.Close(context.Background())
		return false
	}
	m.coord, m.part = nil, p
	m.last = p.LastUpdateStatusMessage()
	m.setRoleLocked(RoleParticipant)
	m.mu.Unlock()

	log.Info().
		Str("participant_id", p.ID()).
		Bool("is_backup", p.IsBackup()).
		Msg("acting as participant")

	// A coordinator lost before p was installed made handleLost skip it
	select {
	case <-p.Done():
		log.Info().Str("participant_id", p.ID()).Msg("coordinator lost during role change")
		m.handleLost(p)
	default:
	}
	return true
}

func (m *Manager) setRoleLocked(role Role) {
	m.role = role
	close(m.changed)
	m.changed = make(chan struct{})
	m.opts.Metrics.RecordRoleChange(string(role))
}
