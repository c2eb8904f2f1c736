package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Handler/ServerHandler that forwards everything to channels
type recorder struct {
	connects    chan *Conn
	messages    chan events.Envelope
	disconnects chan error
}

func newRecorder() *recorder {
	return &recorder{
		connects:    make(chan *Conn, 16),
		messages:    make(chan events.Envelope, 16),
		disconnects: make(chan error, 16),
	}
}

func (r *recorder) HandleConnect(conn *Conn) { r.connects <- conn }

func (r *recorder) HandleMessage(_ *Conn, env events.Envelope) { r.messages <- env }

func (r *recorder) HandleDisconnect(_ *Conn, err error) { r.disconnects <- err }

// socketAddress keeps paths short enough for sun_path
func socketAddress(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "shift")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "test.sock")
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestListenRejectsSecondOwner(t *testing.T) {
	addr := socketAddress(t)

	first, err := Listen(addr, DefaultConfig(), newRecorder())
	require.NoError(t, err)
	defer first.Close()

	_, err = Listen(addr, DefaultConfig(), newRecorder())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAddressInUse)
}

func TestListenAfterCloseSucceeds(t *testing.T) {
	addr := socketAddress(t)

	first, err := Listen(addr, DefaultConfig(), newRecorder())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Listen(addr, DefaultConfig(), newRecorder())
	require.NoError(t, err)
	assert.Equal(t, addr, second.Address())
	require.NoError(t, second.Close())
}

func TestListenReclaimsStaleSocketFile(t *testing.T) {
	addr := socketAddress(t)
	require.NoError(t, os.WriteFile(addr, []byte("stale"), 0o600))

	srv, err := Listen(addr, DefaultConfig(), newRecorder())
	require.NoError(t, err)
	defer srv.Close()
}

func TestDialWithoutServerIsRefused(t *testing.T) {
	addr := socketAddress(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, addr, DefaultConfig(), newRecorder())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionRefused)
}

func TestMessagesFlowBothWaysInOrder(t *testing.T) {
	addr := socketAddress(t)
	serverSide := newRecorder()
	srv, err := Listen(addr, DefaultConfig(), serverSide)
	require.NoError(t, err)
	defer srv.Close()

	clientSide := newRecorder()
	client, err := Dial(context.Background(), addr, DefaultConfig(), clientSide)
	require.NoError(t, err)
	defer client.Close()

	accepted := receive(t, serverSide.connects)

	env, err := events.NewEnvelope(events.MessageRegister, "participant-1", nil)
	require.NoError(t, err)
	require.NoError(t, client.Send(env))

	got := receive(t, serverSide.messages)
	assert.Equal(t, events.MessageRegister, got.Type)
	assert.Equal(t, "participant-1", got.ParticipantID)

	for i := int64(1); i <= 5; i++ {
		update, err := events.NewEnvelope(events.MessageUpdateStatus, "", events.UpdateStatus{LastColorThemeShiftTime: i})
		require.NoError(t, err)
		require.NoError(t, accepted.Send(update))
	}
	for i := int64(1); i <= 5; i++ {
		msg := receive(t, clientSide.messages)
		var st events.UpdateStatus
		require.NoError(t, msg.Decode(&st))
		assert.Equal(t, i, st.LastColorThemeShiftTime)
	}
}

func TestServerCloseDisconnectsClients(t *testing.T) {
	addr := socketAddress(t)
	srv, err := Listen(addr, DefaultConfig(), newRecorder())
	require.NoError(t, err)

	clientSide := newRecorder()
	client, err := Dial(context.Background(), addr, DefaultConfig(), clientSide)
	require.NoError(t, err)

	require.NoError(t, srv.Close())

	receive(t, clientSide.disconnects)

	env, err := events.NewEnvelope(events.MessagePause, "", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, client.Send(env), ErrDisconnected)
}

func TestClientCloseIsObservedByServer(t *testing.T) {
	addr := socketAddress(t)
	serverSide := newRecorder()
	srv, err := Listen(addr, DefaultConfig(), serverSide)
	require.NoError(t, err)
	defer srv.Close()

	client, err := Dial(context.Background(), addr, DefaultConfig(), newRecorder())
	require.NoError(t, err)
	receive(t, serverSide.connects)
	assert.Equal(t, 1, srv.ConnectionCount())

	require.NoError(t, client.Close())
	receive(t, serverSide.disconnects)

	assert.Eventually(t, func() bool { return srv.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestAddressFor(t *testing.T) {
	assert.Equal(t, filepath.Join("/run/user/1000", "shifter.sock"), AddressFor("/run/user/1000", "shifter"))
	assert.Equal(t, filepath.Join(os.TempDir(), "shifter.sock"), AddressFor("", "shifter"))
}
