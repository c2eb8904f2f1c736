package interval

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/shifter/go/internal/shift/coordinator"
	"github.com/mcdev12/shifter/go/internal/shift/participant"
	"github.com/mcdev12/shifter/go/internal/shift/settings"
)

type nopShifter struct{}

func (nopShifter) ShiftColorTheme(context.Context) error { return nil }
func (nopShifter) ShiftFontFamily(context.Context) error { return nil }

type textSink struct {
	mu   sync.Mutex
	text string
}

func (s *textSink) UpdateStatusBarText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
}

func (s *textSink) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func socketDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ivl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func testOptions(dir string, s settings.Settings) Options {
	return Options{
		ServerID:     "t",
		SocketDir:    dir,
		Settings:     s,
		Shifter:      nopShifter{},
		TickInterval: 10 * time.Millisecond,
		Retry: RetryConfig{
			InitialInterval:  5 * time.Millisecond,
			MaxInterval:      50 * time.Millisecond,
			EstablishTimeout: 5 * time.Second,
			ReconnectTimeout: 500 * time.Millisecond,
		},
	}
}

var running = settings.Static{ColorTheme: 5 * time.Minute, FontFamily: 10 * time.Minute, AutoStart: true}

func activate(t *testing.T, opts Options) *Manager {
	t.Helper()
	m, err := Activate(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func TestActivateValidatesOptions(t *testing.T) {
	_, err := Activate(context.Background(), Options{Settings: running, Shifter: nopShifter{}})
	assert.Error(t, err)

	_, err = Activate(context.Background(), Options{ServerID: "t"})
	assert.Error(t, err)
}

func TestFirstWindowCoordinatesAndOthersParticipate(t *testing.T) {
	dir := socketDir(t)
	first := activate(t, testOptions(dir, running))
	second := activate(t, testOptions(dir, running))

	assert.Equal(t, RoleCoordinator, first.Role())
	assert.Equal(t, RoleParticipant, second.Role())
	assert.Equal(t, first.Address(), second.Address())

	snap := first.Snapshot()
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, second.Snapshot().ParticipantID, snap.Participants[0])
	assert.Equal(t, snap.Participants[0], snap.BackupParticipantID)
	assert.True(t, second.Snapshot().IsBackup)
}

func TestConcurrentActivationElectsOneCoordinator(t *testing.T) {
	dir := socketDir(t)
	const n = 6

	managers := make([]*Manager, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := Activate(context.Background(), testOptions(dir, running))
			if assert.NoError(t, err) {
				managers[i] = m
			}
		}(i)
	}
	wg.Wait()

	coordinators := 0
	var coord *Manager
	for _, m := range managers {
		require.NotNil(t, m)
		t.Cleanup(func() { m.Close(context.Background()) })
		if m.Role() == RoleCoordinator {
			coordinators++
			coord = m
		} else {
			assert.Equal(t, RoleParticipant, m.Role())
		}
	}

	require.Equal(t, 1, coordinators)
	assert.Eventually(t, func() bool {
		return len(coord.Snapshot().Participants) == n-1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBackupInheritsCountdownOnFailover(t *testing.T) {
	dir := socketDir(t)
	first := activate(t, testOptions(dir, running))
	backup := activate(t, testOptions(dir, running))
	follower := activate(t, testOptions(dir, running))

	require.Equal(t, RoleCoordinator, first.Role())
	require.True(t, backup.Snapshot().IsBackup)
	require.False(t, follower.Snapshot().IsBackup)

	before := first.LastStatus()
	require.True(t, before.Running())

	require.NoError(t, first.Close(context.Background()))

	require.Eventually(t, func() bool { return backup.Role() == RoleCoordinator }, 5*time.Second, 10*time.Millisecond)
	after := backup.LastStatus()
	assert.Equal(t, before.LastColorThemeShiftTime, after.LastColorThemeShiftTime)
	assert.Equal(t, before.LastFontFamilyShiftTime, after.LastFontFamilyShiftTime)

	require.Eventually(t, func() bool { return follower.Role() == RoleParticipant }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(backup.Snapshot().Participants) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, follower.Snapshot().ParticipantID, backup.Snapshot().BackupParticipantID)
}

func TestFailoverPreservesPause(t *testing.T) {
	dir := socketDir(t)
	first := activate(t, testOptions(dir, running))
	backup := activate(t, testOptions(dir, running))

	require.NoError(t, backup.PauseShiftInterval(context.Background()))
	paused := first.LastStatus()
	require.True(t, paused.Paused())

	require.NoError(t, first.Close(context.Background()))
	require.Eventually(t, func() bool { return backup.Role() == RoleCoordinator }, 5*time.Second, 10*time.Millisecond)

	st := backup.LastStatus()
	assert.Equal(t, paused.LastPauseTime, st.LastPauseTime)
	assert.Contains(t, st.Text, "(paused)")
}

func TestWindowsWithoutStateBootstrap(t *testing.T) {
	dir := socketDir(t)
	idle := settings.Static{ColorTheme: 5 * time.Minute}
	first := activate(t, testOptions(dir, idle))
	second := activate(t, testOptions(dir, idle))
	third := activate(t, testOptions(dir, idle))

	require.False(t, first.LastStatus().HasShiftState())
	require.NoError(t, first.Close(context.Background()))

	require.Eventually(t, func() bool {
		roles := map[Role]int{}
		roles[second.Role()]++
		roles[third.Role()]++
		return roles[RoleCoordinator] == 1 && roles[RoleParticipant] == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCommandsForwardToCoordinator(t *testing.T) {
	dir := socketDir(t)
	first := activate(t, testOptions(dir, running))
	second := activate(t, testOptions(dir, running))
	ctx := context.Background()

	require.NoError(t, second.PauseShiftInterval(ctx))
	assert.True(t, first.LastStatus().Paused())
	assert.True(t, second.LastStatus().Paused())

	require.NoError(t, second.StartShiftInterval(ctx))
	assert.False(t, first.LastStatus().Paused())

	require.NoError(t, first.ResetShiftInterval(ctx))
	require.NoError(t, first.PauseShiftInterval(ctx))
	require.Eventually(t, func() bool { return second.LastStatus().Paused() }, 2*time.Second, 10*time.Millisecond)
}

func TestCommandIssuedDuringFailoverCompletes(t *testing.T) {
	dir := socketDir(t)
	first := activate(t, testOptions(dir, running))
	backup := activate(t, testOptions(dir, running))

	require.NoError(t, first.Close(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, backup.PauseShiftInterval(ctx))

	require.Eventually(t, func() bool { return backup.Role() == RoleCoordinator }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, backup.LastStatus().Paused())
}

func TestParticipantLostBeforeInstallStillFailsOver(t *testing.T) {
	m, err := newManager(testOptions(socketDir(t), running))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close(context.Background()) })

	c, err := coordinator.Start(m.coordinatorOptions(m.baseOptions()))
	require.NoError(t, err)

	p, err := participant.Connect(context.Background(), m.participantOptions(m.baseOptions()))
	require.NoError(t, err)
	require.True(t, p.IsBackup())
	require.True(t, p.HasCoordinatorState())

	// The coordinator goes away before the manager adopts p
	require.NoError(t, c.Close())
	<-p.Done()

	m.becomeParticipant(p)

	require.Eventually(t, func() bool { return m.Role() == RoleCoordinator }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.PauseShiftInterval(ctx))
	assert.True(t, m.LastStatus().Paused())
}

func TestParticipantMirrorsStatusToSink(t *testing.T) {
	dir := socketDir(t)
	activate(t, testOptions(dir, running))

	sink := &textSink{}
	opts := testOptions(dir, running)
	opts.Sink = sink
	second := activate(t, opts)

	require.Eventually(t, func() bool { return sink.Text() != "" }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, sink.Text(), "(color theme)")

	r := second.RemainingTime()
	assert.True(t, r.Started)
	assert.True(t, r.ColorThemeEnabled)
	assert.True(t, r.FontFamilyEnabled)
	assert.InDelta(t, (5 * time.Minute).Seconds(), r.ColorTheme.Seconds(), 5)
	assert.Less(t, r.ColorTheme, r.FontFamily)
}

func TestCloseIsIdempotentAndRejectsCommands(t *testing.T) {
	m := activate(t, testOptions(socketDir(t), running))

	require.NoError(t, m.Close(context.Background()))
	assert.NoError(t, m.Close(context.Background()))
	assert.Equal(t, RoleNone, m.Role())
	assert.ErrorIs(t, m.StartShiftInterval(context.Background()), ErrClosed)
}
