package participant

import (
	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/mcdev12/shifter/go/internal/shift/transport"
	"github.com/rs/zerolog/log"
)

// HandleMessage implements transport.Handler
func (p *Participant) HandleMessage(_ *transport.Conn, env events.Envelope) {
	switch env.Type {
	case events.MessageUpdateStatus:
		p.handleStatus(env, true)
	case events.MessageRegisterComplete:
		p.handleStatus(env, false)
		p.markRegistered()
	case events.MessageRegisterBackup:
		p.mu.Lock()
		p.isBackup = true
		p.mu.Unlock()
		log.Info().Str("participant_id", p.id).Msg("designated as backup")
	case events.MessageCloseComplete,
		events.MessagePauseComplete,
		events.MessageStartComplete,
		events.MessageResetComplete:
		p.resolve(env.Type)
	default:
		log.Warn().
			Str("participant_id", p.id).
			Str("message_type", string(env.Type)).
			Msg("unknown message type")
	}
}

// HandleDisconnect implements transport.Handler
func (p *Participant) HandleDisconnect(_ *transport.Conn, err error) {
	p.mu.Lock()
	p.closed = true
	if p.pending != nil {
		p.pending.done <- transport.ErrDisconnected
		p.pending = nil
	}
	unexpected := p.registered && !p.closing
	p.mu.Unlock()

	close(p.done)

	if !unexpected {
		return
	}

	log.Warn().
		Err(err).
		Str("participant_id", p.id).
		Bool("is_backup", p.IsBackup()).
		Msg("lost coordinator")

	if p.opts.OnDisconnect != nil {
		go p.opts.OnDisconnect(p)
	}
}

func (p *Participant) handleStatus(env events.Envelope, broadcast bool) {
	var st events.UpdateStatus
	if err := env.Decode(&st); err != nil {
		log.Warn().Err(err).Str("participant_id", p.id).Msg("dropping malformed status")
		return
	}

	p.mu.Lock()
	p.last = st
	if broadcast {
		p.received++
	}
	if st.HasShiftState() {
		p.sawState = true
	}
	p.mu.Unlock()

	if p.opts.OnStatus != nil {
		p.opts.OnStatus(st)
	}
}

func (p *Participant) markRegistered() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.registered {
		return
	}
	p.registered = true
	close(p.registeredCh)
}

func (p *Participant) resolve(t events.MessageType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil || p.pending.expect != t {
		log.Debug().
			Str("participant_id", p.id).
			Str("message_type", string(t)).
			Msg("unsolicited acknowledgement")
		return
	}
	p.pending.done <- nil
	p.pending = nil
}
