package coordinator

import (
	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/mcdev12/shifter/go/internal/shift/transport"
	"github.com/rs/zerolog/log"
)

// HandleConnect implements transport.ServerHandler
func (c *Coordinator) HandleConnect(conn *transport.Conn) {
	log.Debug().Str("connection_id", conn.ID).Msg("participant connection accepted")
}

// HandleMessage implements transport.Handler. Messages are queued onto the
// loop in arrival order.
func (c *Coordinator) HandleMessage(conn *transport.Conn, env events.Envelope) {
	c.submit(func() { c.dispatch(conn, env) })
}

// HandleDisconnect implements transport.Handler. A drop without CLOSE is
// handled like CLOSE minus the acknowledgement.
func (c *Coordinator) HandleDisconnect(conn *transport.Conn, err error) {
	c.submit(func() { c.handleDrop(conn, err) })
}

// dispatch routes a participant message to its handler
func (c *Coordinator) dispatch(conn *transport.Conn, env events.Envelope) {
	switch env.Type {
	case events.MessageRegister:
		c.handleRegister(conn, env)
	case events.MessageClose:
		c.handleClose(conn, env)
	case events.MessagePause:
		c.pause()
		c.reply(conn, events.MessagePauseComplete, nil)
	case events.MessageStart:
		c.start()
		c.reply(conn, events.MessageStartComplete, nil)
	case events.MessageReset:
		c.reset()
		c.reply(conn, events.MessageResetComplete, nil)
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Str("message_type", string(env.Type)).
			Msg("unknown message type")
	}
}

func (c *Coordinator) handleRegister(conn *transport.Conn, env events.Envelope) {
	id := env.ParticipantID
	if id == "" {
		id = conn.ID
	}

	isBackup := c.roster.Join(id, conn)
	c.metrics.SetParticipants(c.roster.Len())

	if isBackup {
		c.reply(conn, events.MessageRegisterBackup, nil)
	}
	c.reply(conn, events.MessageRegisterComplete, c.status())

	log.Info().
		Str("participant_id", id).
		Bool("is_backup", isBackup).
		Int("participants", c.roster.Len()).
		Msg("participant registered")
}

func (c *Coordinator) handleClose(conn *transport.Conn, env events.Envelope) {
	id := env.ParticipantID
	if m, ok := c.roster.Member(id); ok && m.Handle == conn {
		c.leave(id)
	}
	c.reply(conn, events.MessageCloseComplete, nil)
}

func (c *Coordinator) handleDrop(conn *transport.Conn, err error) {
	for _, m := range c.roster.Members() {
		if m.Handle != conn {
			continue
		}
		log.Info().
			Err(err).
			Str("participant_id", m.ID).
			Msg("participant disconnected without closing")
		c.leave(m.ID)
	}
}

// leave removes a participant and hands the backup role on when needed
func (c *Coordinator) leave(id string) {
	next, reassigned := c.roster.Leave(id)
	c.metrics.SetParticipants(c.roster.Len())

	log.Info().
		Str("participant_id", id).
		Int("participants", c.roster.Len()).
		Msg("participant left")

	if !reassigned {
		return
	}
	c.reply(next.Handle, events.MessageRegisterBackup, nil)
	log.Info().Str("participant_id", next.ID).Msg("backup reassigned")
}

func (c *Coordinator) reply(conn *transport.Conn, t events.MessageType, payload interface{}) {
	env, err := events.NewEnvelope(t, "", payload)
	if err != nil {
		log.Error().Err(err).Str("message_type", string(t)).Msg("failed to build reply")
		return
	}
	if err := conn.Send(env); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", conn.ID).
			Str("message_type", string(t)).
			Msg("failed to send reply")
	}
}
