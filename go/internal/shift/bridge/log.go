package bridge

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Log stands in for an editor host: shifts are logged and succeed, status
// text is logged when it changes
type Log struct {
	ServerID string

	mu   sync.Mutex
	last string
}

// ShiftColorTheme logs the request and reports success
func (l *Log) ShiftColorTheme(ctx context.Context) error {
	log.Info().Str("server_id", l.ServerID).Msg("color theme shift requested")
	return nil
}

// ShiftFontFamily logs the request and reports success
func (l *Log) ShiftFontFamily(ctx context.Context) error {
	log.Info().Str("server_id", l.ServerID).Msg("font family shift requested")
	return nil
}

// UpdateStatusBarText records text and logs it when it changed
func (l *Log) UpdateStatusBarText(text string) {
	l.mu.Lock()
	changed := text != l.last
	l.last = text
	l.mu.Unlock()

	if changed {
		log.Debug().Str("server_id", l.ServerID).Str("text", text).Msg("status bar updated")
	}
}

// Text returns the last status text seen
func (l *Log) Text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}
