package status

import (
	"fmt"
	"time"

	"github.com/mcdev12/shifter/go/internal/shift/events"
)

const (
	colorThemeSuffix = "(color theme)"
	fontFamilySuffix = "(font family)"
	pausedSuffix     = "(paused)"
)

// ComputeStatusText renders the countdown of whichever enabled timer fires first.
// All arguments are epoch milliseconds or millisecond durations; an interval
// of 0 or less disables that timer. While paused, time is frozen at the pause.
// An empty result means no timer is enabled.
func ComputeStatusText(now, lastColorThemeShiftTime, lastFontFamilyShiftTime, lastPauseTime, colorThemeIntervalMs, fontFamilyIntervalMs int64) string {
	colorEnabled := colorThemeIntervalMs > 0
	fontEnabled := fontFamilyIntervalMs > 0
	if !colorEnabled && !fontEnabled {
		return ""
	}

	paused := lastPauseTime > 0
	if paused {
		now = lastPauseTime
	}

	var colorRemaining, fontRemaining int64
	if colorEnabled {
		colorRemaining = RemainingSeconds(now, lastColorThemeShiftTime, colorThemeIntervalMs)
	}
	if fontEnabled {
		fontRemaining = RemainingSeconds(now, lastFontFamilyShiftTime, fontFamilyIntervalMs)
	}

	var seconds int64
	var suffix string
	switch {
	case colorEnabled && fontEnabled && colorRemaining == fontRemaining:
		seconds = colorRemaining
	case colorEnabled && fontEnabled && colorRemaining < fontRemaining:
		seconds, suffix = colorRemaining, colorThemeSuffix
	case colorEnabled && fontEnabled:
		seconds, suffix = fontRemaining, fontFamilySuffix
	case colorEnabled:
		seconds = colorRemaining
	default:
		seconds = fontRemaining
	}

	if paused {
		suffix = pausedSuffix
	}

	text := FormatClock(seconds)
	if suffix != "" {
		text += " " + suffix
	}
	return text
}

// RemainingSeconds is ceil((lastShiftTime + intervalMs - now) / 1000), floored at 0
func RemainingSeconds(now, lastShiftTime, intervalMs int64) int64 {
	remainingMs := lastShiftTime + intervalMs - now
	if remainingMs <= 0 {
		return 0
	}
	return (remainingMs + 999) / 1000
}

// FormatClock formats seconds as zero-padded mm:ss
func FormatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Remaining holds per-timer countdowns derived from a status snapshot
type Remaining struct {
	ColorTheme        time.Duration `json:"color_theme"`
	FontFamily        time.Duration `json:"font_family"`
	ColorThemeEnabled bool          `json:"color_theme_enabled"`
	FontFamilyEnabled bool          `json:"font_family_enabled"`
	Started           bool          `json:"started"`
	Paused            bool          `json:"paused"`
}

// RemainingTime computes how long each timer has left at now.
// Disabled timers report zero with their Enabled flag unset.
func RemainingTime(now time.Time, st events.UpdateStatus, colorThemeInterval, fontFamilyInterval time.Duration) Remaining {
	nowMs := now.UnixMilli()
	if st.Paused() {
		nowMs = st.LastPauseTime
	}

	r := Remaining{Started: st.HasShiftState(), Paused: st.Paused()}
	if colorThemeInterval > 0 {
		r.ColorThemeEnabled = true
		r.ColorTheme = time.Duration(RemainingSeconds(nowMs, st.LastColorThemeShiftTime, colorThemeInterval.Milliseconds())) * time.Second
	}
	if fontFamilyInterval > 0 {
		r.FontFamilyEnabled = true
		r.FontFamily = time.Duration(RemainingSeconds(nowMs, st.LastFontFamilyShiftTime, fontFamilyInterval.Milliseconds())) * time.Second
	}
	return r
}
