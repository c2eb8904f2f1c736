package interval

import (
	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/mcdev12/shifter/go/internal/shift/status"
)

// Snapshot describes this process's view of the interval
type Snapshot struct {
	Role          Role                `json:"role"`
	ServerID      string              `json:"server_id"`
	Address       string              `json:"address"`
	ParticipantID string              `json:"participant_id,omitempty"`
	IsBackup      bool                `json:"is_backup"`
	Status        events.UpdateStatus `json:"status"`
	Remaining     status.Remaining    `json:"remaining"`

	// Set only while coordinating
	Participants        []string `json:"participants,omitempty"`
	BackupParticipantID string   `json:"backup_participant_id,omitempty"`
}

// Snapshot captures role, status and roster
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	role, coord, part := m.role, m.coord, m.part
	m.mu.Unlock()

	s := Snapshot{
		Role:      role,
		ServerID:  m.opts.ServerID,
		Address:   m.opts.Address,
		Status:    m.LastStatus(),
		Remaining: m.RemainingTime(),
	}
	if part != nil {
		s.ParticipantID = part.ID()
		s.IsBackup = part.IsBackup()
	}
	if coord != nil {
		s.Participants = coord.ConnectedParticipants()
		s.BackupParticipantID = coord.BackupParticipantID()
	}
	return s
}
