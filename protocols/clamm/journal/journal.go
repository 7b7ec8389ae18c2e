package journal

// Journal records undo closures for every state change made while an
// operation is in flight. Revert replays them newest first; Commit drops them.
//
// A nil *Journal is valid and records nothing, which lets components be
// used standalone in tests.
type Journal struct {
	entries []func()
}

func New() *Journal {
	return &Journal{}
}

// Append registers the closure that undoes the change about to be made.
func (j *Journal) Append(undo func()) {
	if j == nil {
		return
	}
	j.entries = append(j.entries, undo)
}

// Revert undoes every recorded change in reverse order and empties the journal.
func (j *Journal) Revert() {
	if j == nil {
		return
	}
	for i := len(j.entries) - 1; i >= 0; i-- {
		j.entries[i]()
	}
	j.entries = j.entries[:0]
}

// Commit forgets the recorded changes.
func (j *Journal) Commit() {
	if j == nil {
		return
	}
	clear(j.entries)
	j.entries = j.entries[:0]
}

func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return len(j.entries)
}
