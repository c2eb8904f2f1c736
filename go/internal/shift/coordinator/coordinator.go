package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/shifter/go/internal/shift/election"
	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/mcdev12/shifter/go/internal/shift/metrics"
	"github.com/mcdev12/shifter/go/internal/shift/settings"
	"github.com/mcdev12/shifter/go/internal/shift/transport"
	"github.com/rs/zerolog/log"
)

// DefaultTickInterval is the production tick cadence
const DefaultTickInterval = time.Second

// ErrClosed is returned by operations on a closed coordinator
var ErrClosed = errors.New("coordinator closed")

// Shifter applies a new color theme or font family to the editor
type Shifter interface {
	ShiftColorTheme(ctx context.Context) error
	ShiftFontFamily(ctx context.Context) error
}

// StatusSink receives the countdown text of every broadcast
type StatusSink interface {
	UpdateStatusBarText(text string)
}

// Options configures a coordinator
type Options struct {
	events.ConnectionOptions

	Settings     settings.Settings
	Shifter      Shifter
	Sink         StatusSink
	Clock        clockwork.Clock
	TickInterval time.Duration
	Transport    transport.Config
	Metrics      metrics.Collector
}

// Coordinator owns the shared countdown for one address.
// All state below the loop marker is touched only by the run goroutine.
type Coordinator struct {
	opts    Options
	clock   clockwork.Clock
	metrics metrics.Collector
	server  *transport.Server

	calls     chan func()
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	shifts    sync.WaitGroup

	// loop
	lastColorThemeShiftTime int64
	lastFontFamilyShiftTime int64
	lastPauseTime           int64
	roster                  *election.Roster[*transport.Conn]
	ticker                  clockwork.Ticker
	shiftInFlight           bool
}

// Start binds opts.Address and begins serving participants.
// It fails with transport.ErrAddressInUse when another coordinator owns the address.
func Start(opts Options) (*Coordinator, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("coordinator requires settings")
	}
	if opts.Shifter == nil {
		return nil, fmt.Errorf("coordinator requires a shifter")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoOp{}
	}

	seed := opts.Seed()
	c := &Coordinator{
		opts:                    opts,
		clock:                   opts.Clock,
		metrics:                 opts.Metrics,
		calls:                   make(chan func()),
		stop:                    make(chan struct{}),
		done:                    make(chan struct{}),
		lastColorThemeShiftTime: seed.LastColorThemeShiftTime,
		lastFontFamilyShiftTime: seed.LastFontFamilyShiftTime,
		lastPauseTime:           seed.LastPauseTime,
		roster:                  election.NewRoster[*transport.Conn](),
	}

	server, err := transport.Listen(opts.Address, opts.Transport, c)
	if err != nil {
		return nil, err
	}
	c.server = server

	go c.run()

	log.Info().
		Str("server_id", opts.ServerID).
		Str("address", opts.Address).
		Int64("last_color_theme_shift_time", seed.LastColorThemeShiftTime).
		Int64("last_font_family_shift_time", seed.LastFontFamilyShiftTime).
		Int64("last_pause_time", seed.LastPauseTime).
		Msg("coordinator started")

	return c, nil
}

// Address returns the bound socket path
func (c *Coordinator) Address() string {
	return c.server.Address()
}

// Close stops ticking, waits for an in-flight shift and releases the address.
// Participants are not told; they observe the disconnect.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
		c.shifts.Wait()
		c.closeErr = c.server.Close()
		log.Info().Str("address", c.opts.Address).Msg("coordinator closed")
	})
	return c.closeErr
}

// PauseShiftInterval stops the countdown. Pausing twice is a no-op.
func (c *Coordinator) PauseShiftInterval(ctx context.Context) error {
	return c.do(ctx, func() { c.pause() })
}

// StartShiftInterval starts or resumes the countdown. Starting while running is a no-op.
func (c *Coordinator) StartShiftInterval(ctx context.Context) error {
	return c.do(ctx, func() { c.start() })
}

// ResetShiftInterval restarts both countdowns from now. It does nothing while paused.
func (c *Coordinator) ResetShiftInterval(ctx context.Context) error {
	return c.do(ctx, func() { c.reset() })
}

// ConnectedParticipants returns participant ids in join order
func (c *Coordinator) ConnectedParticipants() []string {
	var ids []string
	_ = c.do(context.Background(), func() { ids = c.roster.IDs() })
	return ids
}

// BackupParticipantID returns the designated backup, or "" when there is none
func (c *Coordinator) BackupParticipantID() string {
	var id string
	_ = c.do(context.Background(), func() { id, _ = c.roster.Backup() })
	return id
}

// Status returns the status a broadcast would carry right now
func (c *Coordinator) Status() (events.UpdateStatus, error) {
	var st events.UpdateStatus
	err := c.do(context.Background(), func() { st = c.status() })
	return st, err
}

// run is the event loop. It owns every field below the loop marker.
func (c *Coordinator) run() {
	defer close(c.done)

	c.boot()

	for {
		var tick <-chan time.Time
		if c.ticker != nil {
			tick = c.ticker.Chan()
		}

		select {
		case fn := <-c.calls:
			fn()
		case <-tick:
			c.tick()
		case <-c.stop:
			c.stopTicking()
			return
		}
	}
}

// do runs fn on the loop and waits for it
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	call := func() {
		defer close(finished)
		fn()
	}

	select {
	case c.calls <- call:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// submit hands fn to the loop without waiting for it to run.
// Work submitted after the loop exits is dropped.
func (c *Coordinator) submit(fn func()) {
	select {
	case c.calls <- fn:
	case <-c.done:
	}
}

// boot decides the initial run state from the seed
func (c *Coordinator) boot() {
	switch {
	case c.lastPauseTime > 0:
		log.Info().Int64("last_pause_time", c.lastPauseTime).Msg("coordinator inherited a paused interval")
	case c.started():
		c.startTicking()
	case c.opts.Settings.AutomaticallyStart():
		c.start()
		return
	}
	c.publish(c.status())
}

func (c *Coordinator) started() bool {
	return c.lastColorThemeShiftTime > 0 || c.lastFontFamilyShiftTime > 0
}

func (c *Coordinator) startTicking() {
	if c.ticker != nil {
		return
	}
	c.ticker = c.clock.NewTicker(c.opts.TickInterval)
}

func (c *Coordinator) stopTicking() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	c.ticker = nil
}

func (c *Coordinator) now() int64 {
	return c.clock.Now().UnixMilli()
}

// status computes the snapshot carried by UPDATE_STATUS.
// Text is empty until the interval has been started.
func (c *Coordinator) status() events.UpdateStatus {
	st := events.UpdateStatus{
		LastColorThemeShiftTime: c.lastColorThemeShiftTime,
		LastFontFamilyShiftTime: c.lastFontFamilyShiftTime,
		LastPauseTime:           c.lastPauseTime,
	}
	if !c.started() {
		return st
	}
	st.Text = computeText(c.now(), st, c.opts.Settings)
	return st
}

func (c *Coordinator) pause() {
	if c.lastPauseTime > 0 {
		return
	}
	if !c.started() {
		log.Debug().Msg("pause ignored, interval not started")
		return
	}

	c.stopTicking()
	c.lastPauseTime = c.now()
	c.broadcast(c.status())

	log.Info().Int64("last_pause_time", c.lastPauseTime).Msg("shift interval paused")
}

func (c *Coordinator) start() {
	if c.ticker != nil {
		return
	}

	now := c.now()
	var offset int64
	if c.lastPauseTime > 0 {
		offset = now - c.lastPauseTime
	}
	c.lastColorThemeShiftTime = resume(c.lastColorThemeShiftTime, offset, now)
	c.lastFontFamilyShiftTime = resume(c.lastFontFamilyShiftTime, offset, now)
	c.lastPauseTime = 0

	c.startTicking()
	c.broadcast(c.status())

	log.Info().
		Int64("paused_ms", offset).
		Int64("last_color_theme_shift_time", c.lastColorThemeShiftTime).
		Int64("last_font_family_shift_time", c.lastFontFamilyShiftTime).
		Msg("shift interval started")
}

// resume moves a timestamp past a pause; an unset timestamp starts now
func resume(last, offset, now int64) int64 {
	if last == 0 {
		return now
	}
	return last + offset
}

func (c *Coordinator) reset() {
	if c.lastPauseTime > 0 {
		log.Debug().Msg("reset ignored while paused")
		return
	}

	now := c.now()
	c.lastColorThemeShiftTime = now
	c.lastFontFamilyShiftTime = now
	c.startTicking()
	c.broadcast(c.status())

	log.Info().Int64("reset_at", now).Msg("shift interval reset")
}

// tick broadcasts the countdown and fires whichever shifts are due
func (c *Coordinator) tick() {
	c.metrics.RecordTick()
	c.broadcast(c.status())
	c.evaluateShifts()
}

// publish updates this process's own status bar
func (c *Coordinator) publish(st events.UpdateStatus) {
	if c.opts.Sink != nil {
		c.opts.Sink.UpdateStatusBarText(st.Text)
	}
}

func (c *Coordinator) broadcast(st events.UpdateStatus) {
	c.publish(st)

	members := c.roster.Members()
	if len(members) == 0 {
		return
	}

	env, err := events.NewEnvelope(events.MessageUpdateStatus, "", st)
	if err != nil {
		log.Error().Err(err).Msg("failed to build status update")
		return
	}

	sent := 0
	for _, m := range members {
		if err := m.Handle.Send(env); err != nil {
			// The disconnect arrives on its own and removes the member
			log.Debug().Err(err).Str("participant_id", m.ID).Msg("failed to send status update")
			continue
		}
		sent++
	}
	c.metrics.RecordBroadcast(sent)
}
