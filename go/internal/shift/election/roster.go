package election

// Member is one registered participant
type Member[H any] struct {
	ID     string
	Handle H
}

// Roster keeps participants in join order and tracks the designated backup.
// The backup is always the earliest-joined member still present.
// Roster is not safe for concurrent use; the coordinator's event loop owns it.
type Roster[H any] struct {
	members []Member[H]
	backup  string
}

// NewRoster creates an empty roster
func NewRoster[H any]() *Roster[H] {
	return &Roster[H]{}
}

// Join appends a participant and reports whether it is the backup.
// A participant that joins again keeps its place and only swaps its handle.
func (r *Roster[H]) Join(id string, handle H) (isBackup bool) {
	if i := r.index(id); i >= 0 {
		r.members[i].Handle = handle
		return r.backup == id
	}

	r.members = append(r.members, Member[H]{ID: id, Handle: handle})
	if r.backup == "" {
		r.backup = id
		return true
	}
	return false
}

// Leave removes a participant. When the backup leaves, the earliest remaining
// member is designated and returned with reassigned set.
func (r *Roster[H]) Leave(id string) (next Member[H], reassigned bool) {
	i := r.index(id)
	if i < 0 {
		return next, false
	}
	r.members = append(r.members[:i], r.members[i+1:]...)

	if r.backup != id {
		return next, false
	}
	r.backup = ""
	if len(r.members) == 0 {
		return next, false
	}
	r.backup = r.members[0].ID
	return r.members[0], true
}

// Member looks up a participant by id
func (r *Roster[H]) Member(id string) (Member[H], bool) {
	if i := r.index(id); i >= 0 {
		return r.members[i], true
	}
	return Member[H]{}, false
}

// Backup returns the designated backup id, if any
func (r *Roster[H]) Backup() (string, bool) {
	return r.backup, r.backup != ""
}

// IDs returns participant ids in join order
func (r *Roster[H]) IDs() []string {
	ids := make([]string, len(r.members))
	for i, m := range r.members {
		ids[i] = m.ID
	}
	return ids
}

// Members returns a snapshot of the members in join order
func (r *Roster[H]) Members() []Member[H] {
	out := make([]Member[H], len(r.members))
	copy(out, r.members)
	return out
}

// Len returns the number of members
func (r *Roster[H]) Len() int {
	return len(r.members)
}

func (r *Roster[H]) index(id string) int {
	for i, m := range r.members {
		if m.ID == id {
			return i
		}
	}
	return -1
}
