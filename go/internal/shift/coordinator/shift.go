package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/mcdev12/shifter/go/internal/shift/metrics"
	"github.com/mcdev12/shifter/go/internal/shift/settings"
	"github.com/mcdev12/shifter/go/internal/shift/status"
	"github.com/rs/zerolog/log"
)

func computeText(now int64, st events.UpdateStatus, s settings.Settings) string {
	return status.ComputeStatusText(
		now,
		st.LastColorThemeShiftTime,
		st.LastFontFamilyShiftTime,
		st.LastPauseTime,
		s.ColorThemeInterval().Milliseconds(),
		s.FontFamilyInterval().Milliseconds(),
	)
}

// due reports whether an enabled timer has run its full interval
func due(now, last int64, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	return now-last >= interval.Milliseconds()
}

// evaluateShifts starts the due shifts on a helper goroutine.
// shiftInFlight keeps a slow shift from overlapping the next tick's.
func (c *Coordinator) evaluateShifts() {
	if c.shiftInFlight {
		log.Debug().Msg("shift still in flight, skipping evaluation")
		return
	}

	now := c.now()
	colorTheme := due(now, c.lastColorThemeShiftTime, c.opts.Settings.ColorThemeInterval())
	fontFamily := due(now, c.lastFontFamilyShiftTime, c.opts.Settings.FontFamilyInterval())
	if !colorTheme && !fontFamily {
		return
	}

	c.shiftInFlight = true
	c.shifts.Add(1)
	go c.runShifts(colorTheme, fontFamily)
}

// runShifts performs the due shifts one after the other and reports each
// success back to the loop. The flag is cleared even when a shift fails.
func (c *Coordinator) runShifts(colorTheme, fontFamily bool) {
	defer c.shifts.Done()
	defer c.submit(func() { c.shiftInFlight = false })

	// Shifts mutate editor configuration; they are never cut short
	ctx := context.Background()

	if colorTheme && c.shift(ctx, metrics.KindColorTheme, c.opts.Shifter.ShiftColorTheme) {
		c.submit(func() { c.lastColorThemeShiftTime = c.shiftedAt() })
	}
	if fontFamily && c.shift(ctx, metrics.KindFontFamily, c.opts.Shifter.ShiftFontFamily) {
		c.submit(func() { c.lastFontFamilyShiftTime = c.shiftedAt() })
	}
}

// shiftedAt is the timestamp recorded for a completed shift. A shift that
// finishes after a pause counts from the pause so resume offsets stay right.
func (c *Coordinator) shiftedAt() int64 {
	if c.lastPauseTime > 0 {
		return c.lastPauseTime
	}
	return c.now()
}

func (c *Coordinator) shift(ctx context.Context, kind string, fn func(context.Context) error) bool {
	start := c.clock.Now()
	err := callShift(ctx, fn)
	c.metrics.RecordShift(kind, err == nil, c.clock.Since(start))

	if err != nil {
		log.Error().
			Err(err).
			Str("kind", kind).
			Msg("shift failed, skipped this tick")
		return false
	}

	log.Info().Str("kind", kind).Msg("shift completed")
	return true
}

// callShift converts a panicking collaborator into an error
func callShift(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("shift panicked: %v", r)
		}
	}()
	return fn(ctx)
}
