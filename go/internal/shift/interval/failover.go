package interval

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mcdev12/shifter/go/internal/shift/coordinator"
	"github.com/mcdev12/shifter/go/internal/shift/election"
	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/mcdev12/shifter/go/internal/shift/participant"
	"github.com/mcdev12/shifter/go/internal/shift/transport"
	"github.com/rs/zerolog/log"
)

// RetryConfig bounds the connect-or-start negotiation and the reconnect wait
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// EstablishTimeout caps the whole connect-or-start negotiation
	EstablishTimeout time.Duration
	// ReconnectTimeout is how long a follower waits for the backup to take
	// over before negotiating from scratch
	ReconnectTimeout time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 25 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 500 * time.Millisecond
	}
	if c.EstablishTimeout <= 0 {
		c.EstablishTimeout = 30 * time.Second
	}
	if c.ReconnectTimeout <= 0 {
		c.ReconnectTimeout = 5 * time.Second
	}
	return c
}

func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	return b
}

// establish connects to a live coordinator or becomes one. Losing a race to
// bind the address sends it back to connecting. A coordinator started here
// is seeded from conn.
func (m *Manager) establish(ctx context.Context, conn events.ConnectionOptions) error {
	attempt := 0
	op := func() (Role, error) {
		attempt++
		if m.isClosed() {
			return RoleNone, backoff.Permanent(ErrClosed)
		}

		p, err := participant.Connect(ctx, m.participantOptions(conn))
		if err == nil {
			m.becomeParticipant(p)
			return m.Role(), nil
		}
		if !errors.Is(err, transport.ErrConnectionRefused) {
			return RoleNone, err
		}

		c, err := coordinator.Start(m.coordinatorOptions(conn))
		if err == nil {
			m.becomeCoordinator(c)
			return RoleCoordinator, nil
		}
		if errors.Is(err, transport.ErrAddressInUse) {
			return RoleNone, err
		}
		return RoleNone, backoff.Permanent(err)
	}

	role, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(m.opts.Retry.backOff()),
		backoff.WithMaxElapsedTime(m.opts.Retry.EstablishTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().
				Err(err).
				Int("attempt", attempt).
				Dur("retry_in", next).
				Msg("role negotiation retrying")
		}),
	)
	if err != nil {
		return err
	}

	log.Debug().Str("role", string(role)).Int("attempts", attempt).Msg("role established")
	return nil
}

// handleLost runs the failover decision for a participant whose coordinator
// went away without it closing
func (m *Manager) handleLost(p *participant.Participant) {
	m.mu.Lock()
	if m.closed || m.part != p {
		m.mu.Unlock()
		return
	}
	m.part = nil
	m.last = p.LastUpdateStatusMessage()
	m.setRoleLocked(RoleNone)
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	branch := election.Decide(p.IsBackup(), p.HasCoordinatorState())
	m.opts.Metrics.RecordFailover(string(branch))
	seed := p.ConnectionOptions()

	log.Info().
		Str("participant_id", p.ID()).
		Str("branch", string(branch)).
		Int64("last_color_theme_shift_time", events.Millis(seed.LastColorThemeShiftTime)).
		Int64("last_font_family_shift_time", events.Millis(seed.LastFontFamilyShiftTime)).
		Msg("coordinator lost, failing over")

	var err error
	switch branch {
	case election.BranchPromote:
		err = m.promote(m.ctx, seed)
	case election.BranchReconnect:
		err = m.reconnect(m.ctx, seed)
	case election.BranchBootstrap:
		err = m.promote(m.ctx, m.baseOptions())
	}

	if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("branch", string(branch)).Msg("failover failed")
	}
}

// promote starts a coordinator seeded with conn. When another window bound
// the address first it joins that one instead.
func (m *Manager) promote(ctx context.Context, conn events.ConnectionOptions) error {
	c, err := coordinator.Start(m.coordinatorOptions(conn))
	if err == nil {
		m.becomeCoordinator(c)
		return nil
	}

	log.Info().Err(err).Msg("promotion lost, negotiating role")
	return m.establish(ctx, conn)
}

// reconnect waits for the backup to come up and rejoins it. If nobody takes
// over in time it negotiates from scratch, still seeded with conn.
func (m *Manager) reconnect(ctx context.Context, conn events.ConnectionOptions) error {
	op := func() (*participant.Participant, error) {
		if m.isClosed() {
			return nil, backoff.Permanent(ErrClosed)
		}
		return participant.Connect(ctx, m.participantOptions(conn))
	}

	p, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(m.opts.Retry.backOff()),
		backoff.WithMaxElapsedTime(m.opts.Retry.ReconnectTimeout),
	)
	if err == nil {
		m.becomeParticipant(p)
		return nil
	}
	if errors.Is(err, ErrClosed) || ctx.Err() != nil {
		return err
	}

	log.Warn().Err(err).Msg("backup did not take over, negotiating role")
	return m.establish(ctx, conn)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
