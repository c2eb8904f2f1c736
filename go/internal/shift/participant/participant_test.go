package participant_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/shifter/go/internal/shift/coordinator"
	"github.com/mcdev12/shifter/go/internal/shift/events"
	"github.com/mcdev12/shifter/go/internal/shift/participant"
	"github.com/mcdev12/shifter/go/internal/shift/settings"
	"github.com/mcdev12/shifter/go/internal/shift/transport"
)

type nopShifter struct{}

func (nopShifter) ShiftColorTheme(context.Context) error { return nil }
func (nopShifter) ShiftFontFamily(context.Context) error { return nil }

func socketAddress(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "part")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "p.sock")
}

func startCoordinator(t *testing.T, address string, opts coordinator.Options) *coordinator.Coordinator {
	t.Helper()
	opts.Address = address
	if opts.Settings == nil {
		opts.Settings = settings.Static{ColorTheme: 5 * time.Minute, FontFamily: 10 * time.Minute, AutoStart: true}
	}
	opts.Shifter = nopShifter{}
	c, err := coordinator.Start(opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func connect(t *testing.T, address string, opts participant.Options) *participant.Participant {
	t.Helper()
	opts.Address = address
	p, err := participant.Connect(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close(context.Background()) })
	return p
}

func TestConnectWithoutCoordinatorIsRefused(t *testing.T) {
	_, err := participant.Connect(context.Background(), participant.Options{
		ConnectionOptions: events.ConnectionOptions{Address: socketAddress(t)},
		ConnectTimeout:    200 * time.Millisecond,
	})
	assert.ErrorIs(t, err, transport.ErrConnectionRefused)
}

func TestConnectReceivesInitialStatus(t *testing.T) {
	address := socketAddress(t)
	startCoordinator(t, address, coordinator.Options{})

	p := connect(t, address, participant.Options{})

	assert.NotEmpty(t, p.ID())
	assert.True(t, p.IsBackup())
	assert.True(t, p.HasCoordinatorState())
	assert.True(t, p.LastUpdateStatusMessage().Running())
	assert.Zero(t, p.StatusMessagesReceived(), "registration reply is not a broadcast")
}

func TestBackupFollowsJoinOrder(t *testing.T) {
	address := socketAddress(t)
	c := startCoordinator(t, address, coordinator.Options{})

	a := connect(t, address, participant.Options{})
	b := connect(t, address, participant.Options{})
	cc := connect(t, address, participant.Options{})

	assert.True(t, a.IsBackup())
	assert.False(t, b.IsBackup())
	assert.False(t, cc.IsBackup())
	assert.Equal(t, []string{a.ID(), b.ID(), cc.ID()}, c.ConnectedParticipants())

	require.NoError(t, a.Close(context.Background()))
	assert.Eventually(t, b.IsBackup, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, b.ID(), c.BackupParticipantID())

	require.NoError(t, b.Close(context.Background()))
	assert.Eventually(t, cc.IsBackup, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, cc.ID(), c.BackupParticipantID())
}

func TestStatusBroadcastsAreCounted(t *testing.T) {
	address := socketAddress(t)
	startCoordinator(t, address, coordinator.Options{TickInterval: 5 * time.Millisecond})

	statuses := make(chan events.UpdateStatus, 64)
	p := connect(t, address, participant.Options{
		OnStatus: func(st events.UpdateStatus) {
			select {
			case statuses <- st:
			default:
			}
		},
	})

	require.Eventually(t, func() bool { return p.StatusMessagesReceived() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, p.LastUpdateStatusMessage().Text, "(color theme)")

	select {
	case st := <-statuses:
		assert.True(t, st.HasShiftState())
	case <-time.After(time.Second):
		t.Fatal("status callback never ran")
	}
}

func TestPauseAndStartThroughParticipant(t *testing.T) {
	address := socketAddress(t)
	clock := clockwork.NewFakeClock()
	c := startCoordinator(t, address, coordinator.Options{Clock: clock})

	p := connect(t, address, participant.Options{})

	require.NoError(t, p.PauseShiftInterval(context.Background()))
	st, err := c.Status()
	require.NoError(t, err)
	assert.True(t, st.Paused())
	assert.True(t, p.LastUpdateStatusMessage().Paused(), "status arrives before the acknowledgement")

	received := p.StatusMessagesReceived()
	require.NoError(t, p.PauseShiftInterval(context.Background()))
	assert.Equal(t, received, p.StatusMessagesReceived(), "cached pause answers locally")

	clock.Advance(time.Minute)
	require.NoError(t, p.StartShiftInterval(context.Background()))
	st, _ = c.Status()
	assert.False(t, st.Paused())
	assert.True(t, p.LastUpdateStatusMessage().Running())

	require.NoError(t, p.StartShiftInterval(context.Background()))
	require.NoError(t, p.ResetShiftInterval(context.Background()))
	st, _ = c.Status()
	assert.Equal(t, clock.Now().UnixMilli(), st.LastColorThemeShiftTime)
}

func TestCoordinatorLossTriggersDisconnectCallback(t *testing.T) {
	address := socketAddress(t)
	c := startCoordinator(t, address, coordinator.Options{})

	lost := make(chan *participant.Participant, 1)
	p := connect(t, address, participant.Options{
		ConnectionOptions: events.ConnectionOptions{ServerID: "window"},
		OnDisconnect:      func(p *participant.Participant) { lost <- p },
	})
	seen := p.LastUpdateStatusMessage()

	require.NoError(t, c.Close())

	select {
	case got := <-lost:
		assert.Same(t, p, got)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback did not run")
	}

	opts := p.ConnectionOptions()
	assert.Equal(t, "window", opts.ServerID)
	assert.Equal(t, address, opts.Address)
	assert.Equal(t, seen.LastColorThemeShiftTime, events.Millis(opts.LastColorThemeShiftTime))
	assert.Equal(t, seen.LastFontFamilyShiftTime, events.Millis(opts.LastFontFamilyShiftTime))

	assert.ErrorIs(t, p.ResetShiftInterval(context.Background()), transport.ErrDisconnected)
	assert.NoError(t, p.Close(context.Background()), "closing after the loss is quiet")
}

func TestGracefulCloseDoesNotFailOver(t *testing.T) {
	address := socketAddress(t)
	c := startCoordinator(t, address, coordinator.Options{})

	lost := make(chan struct{}, 1)
	p := connect(t, address, participant.Options{
		OnDisconnect: func(*participant.Participant) { lost <- struct{}{} },
	})

	require.NoError(t, p.Close(context.Background()))
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not torn down")
	}

	assert.Empty(t, c.ConnectedParticipants())
	assert.ErrorIs(t, p.ResetShiftInterval(context.Background()), participant.ErrClosed)

	select {
	case <-lost:
		t.Fatal("graceful close must not fail over")
	case <-time.After(50 * time.Millisecond):
	}
}
