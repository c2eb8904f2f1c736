package election

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterFirstJoinerIsBackup(t *testing.T) {
	r := NewRoster[int]()

	assert.True(t, r.Join("a", 1))
	assert.False(t, r.Join("b", 2))
	assert.False(t, r.Join("c", 3))

	backup, ok := r.Backup()
	require.True(t, ok)
	assert.Equal(t, "a", backup)
	assert.Equal(t, []string{"a", "b", "c"}, r.IDs())
}

func TestRosterBackupReassignedInJoinOrder(t *testing.T) {
	r := NewRoster[int]()
	r.Join("a", 1)
	r.Join("b", 2)
	r.Join("c", 3)

	next, reassigned := r.Leave("a")
	require.True(t, reassigned)
	assert.Equal(t, "b", next.ID)
	assert.Equal(t, 2, next.Handle)

	next, reassigned = r.Leave("b")
	require.True(t, reassigned)
	assert.Equal(t, "c", next.ID)

	_, reassigned = r.Leave("c")
	assert.False(t, reassigned)
	_, ok := r.Backup()
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRosterNonBackupLeaveKeepsBackup(t *testing.T) {
	r := NewRoster[int]()
	r.Join("a", 1)
	r.Join("b", 2)
	r.Join("c", 3)

	_, reassigned := r.Leave("b")
	assert.False(t, reassigned)

	backup, _ := r.Backup()
	assert.Equal(t, "a", backup)
	assert.Equal(t, []string{"a", "c"}, r.IDs())
}

func TestRosterLeaveUnknownIsNoop(t *testing.T) {
	r := NewRoster[int]()
	r.Join("a", 1)

	_, reassigned := r.Leave("zzz")
	assert.False(t, reassigned)
	assert.Equal(t, 1, r.Len())
}

func TestRosterRejoinKeepsPosition(t *testing.T) {
	r := NewRoster[int]()
	r.Join("a", 1)
	r.Join("b", 2)

	assert.True(t, r.Join("a", 10), "rejoining backup stays backup")
	assert.False(t, r.Join("b", 20))
	assert.Equal(t, []string{"a", "b"}, r.IDs())

	m, ok := r.Member("a")
	require.True(t, ok)
	assert.Equal(t, 10, m.Handle)
}

func TestRosterJoinAfterEmptyDesignatesNewBackup(t *testing.T) {
	r := NewRoster[int]()
	r.Join("a", 1)
	r.Leave("a")

	assert.True(t, r.Join("b", 2))
	backup, _ := r.Backup()
	assert.Equal(t, "b", backup)
}

func TestRosterMembersIsSnapshot(t *testing.T) {
	r := NewRoster[int]()
	r.Join("a", 1)

	members := r.Members()
	members[0].ID = "mutated"

	assert.Equal(t, []string{"a"}, r.IDs())
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		isBackup bool
		sawState bool
		expected Branch
	}{
		{name: "backup with state promotes", isBackup: true, sawState: true, expected: BranchPromote},
		{name: "backup without state promotes", isBackup: true, sawState: false, expected: BranchPromote},
		{name: "follower with state reconnects", isBackup: false, sawState: true, expected: BranchReconnect},
		{name: "follower without state bootstraps", isBackup: false, sawState: false, expected: BranchBootstrap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Decide(tt.isBackup, tt.sawState))
		})
	}
}
