package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// socketURL is the request target for the upgrade; the host part is ignored
// because the dialer always connects to the unix socket.
const socketURL = "ws://shift/interval"

// Dial connects to the coordinator listening on address.
// Any failure to reach a live coordinator, including ctx expiring, is reported
// as ErrConnectionRefused.
func Dial(ctx context.Context, address string, config Config, handler Handler) (*Conn, error) {
	config = config.withDefaults()

	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", address)
		},
		HandshakeTimeout: config.HandshakeTimeout,
		ReadBufferSize:   config.ReadBufferSize,
		WriteBufferSize:  config.WriteBufferSize,
	}

	ws, resp, err := dialer.DialContext(ctx, socketURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionRefused, address, err)
	}

	conn := newConn(ws, config, handler)
	conn.start()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("address", address).
		Msg("connected to socket server")

	return conn, nil
}
