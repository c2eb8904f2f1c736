package election

// Branch is the action a participant takes after losing its coordinator
type Branch string

const (
	// BranchPromote: the backup becomes coordinator, inheriting the last known timers
	BranchPromote Branch = "promote"
	// BranchReconnect: a coordinator with state existed; wait for the backup and rejoin it
	BranchReconnect Branch = "reconnect"
	// BranchBootstrap: nothing was ever observed; start a fresh coordinator
	BranchBootstrap Branch = "bootstrap"
)

// Decide picks the failover branch. Order matters: being the backup wins over
// having seen state.
func Decide(isBackup, sawCoordinatorState bool) Branch {
	switch {
	case isBackup:
		return BranchPromote
	case sawCoordinatorState:
		return BranchReconnect
	default:
		return BranchBootstrap
	}
}
