package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies a message exchanged between coordinator and participants
type MessageType string

const (
	// Participant -> coordinator
	MessageRegister MessageType = "REGISTER"
	MessageClose    MessageType = "CLOSE"
	MessagePause    MessageType = "PAUSE"
	MessageStart    MessageType = "START"
	MessageReset    MessageType = "RESET"

	// Coordinator -> participant
	MessageRegisterBackup   MessageType = "REGISTER_BACKUP"
	MessageRegisterComplete MessageType = "REGISTER_COMPLETE"
	MessageCloseComplete    MessageType = "CLOSE_COMPLETE"
	MessageUpdateStatus     MessageType = "UPDATE_STATUS"
	MessagePauseComplete    MessageType = "PAUSE_COMPLETE"
	MessageStartComplete    MessageType = "START_COMPLETE"
	MessageResetComplete    MessageType = "RESET_COMPLETE"
)

// CompletionFor returns the acknowledgement type the coordinator sends for a request
func CompletionFor(t MessageType) (MessageType, bool) {
	switch t {
	case MessageRegister:
		return MessageRegisterComplete, true
	case MessageClose:
		return MessageCloseComplete, true
	case MessagePause:
		return MessagePauseComplete, true
	case MessageStart:
		return MessageStartComplete, true
	case MessageReset:
		return MessageResetComplete, true
	default:
		return "", false
	}
}

// Envelope is the frame every message travels in
type Envelope struct {
	Type          MessageType     `json:"type"`
	ParticipantID string          `json:"participant_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope builds an envelope, marshaling payload into Data when it is non-nil
func NewEnvelope(t MessageType, participantID string, payload interface{}) (Envelope, error) {
	env := Envelope{Type: t, ParticipantID: participantID}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	env.Data = data
	return env, nil
}

// Decode unmarshals the envelope payload into v
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s message has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// UpdateStatus is the status snapshot broadcast by the coordinator.
// Timestamps are epoch milliseconds; 0 means unset.
type UpdateStatus struct {
	LastColorThemeShiftTime int64  `json:"last_color_theme_shift_time"`
	LastFontFamilyShiftTime int64  `json:"last_font_family_shift_time"`
	LastPauseTime           int64  `json:"last_pause_time"`
	Text                    string `json:"text"`
}

// Paused reports whether the snapshot was taken while the interval was paused
func (u UpdateStatus) Paused() bool {
	return u.LastPauseTime > 0
}

// HasShiftState reports whether a coordinator has ever recorded a shift time
func (u UpdateStatus) HasShiftState() bool {
	return u.LastColorThemeShiftTime > 0 || u.LastFontFamilyShiftTime > 0
}

// Running mirrors the coordinator's notion of an active countdown
func (u UpdateStatus) Running() bool {
	return !u.Paused() && u.HasShiftState()
}

// ConnectionOptions locates the shared channel and seeds recovered state.
// It is re-derived from the latest observed status on every reconnect.
type ConnectionOptions struct {
	ServerID                string
	Address                 string
	LastColorThemeShiftTime time.Time
	LastFontFamilyShiftTime time.Time
	LastPauseTime           time.Time
}

// WithStatus returns a copy of o seeded with the timestamps of s
func (o ConnectionOptions) WithStatus(s UpdateStatus) ConnectionOptions {
	o.LastColorThemeShiftTime = FromMillis(s.LastColorThemeShiftTime)
	o.LastFontFamilyShiftTime = FromMillis(s.LastFontFamilyShiftTime)
	o.LastPauseTime = FromMillis(s.LastPauseTime)
	return o
}

// Seed returns the timestamps of o as an UpdateStatus without text
func (o ConnectionOptions) Seed() UpdateStatus {
	return UpdateStatus{
		LastColorThemeShiftTime: Millis(o.LastColorThemeShiftTime),
		LastFontFamilyShiftTime: Millis(o.LastFontFamilyShiftTime),
		LastPauseTime:           Millis(o.LastPauseTime),
	}
}

// Millis converts t to epoch milliseconds, mapping the zero time to 0
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
