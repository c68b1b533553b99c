package domain

// PostingStatus is the lifecycle state of a posting.
type PostingStatus string

const (
	PostingActive    PostingStatus = "ACTIVE"
	PostingCompleted PostingStatus = "COMPLETED"
	PostingCancelled PostingStatus = "CANCELLED"
	PostingExpired   PostingStatus = "EXPIRED"
)

// postingTransitions is the complete set of allowed moves. Terminal states have none.
var postingTransitions = map[PostingStatus]map[PostingStatus]struct{}{
	PostingActive: {
		PostingCompleted: {},
		PostingCancelled: {},
		PostingExpired:   {},
	},
	PostingCompleted: {},
	PostingCancelled: {},
	PostingExpired:   {},
}

// Valid reports whether s is a known status.
func (s PostingStatus) Valid() bool {
	_, ok := postingTransitions[s]
	return ok
}

// CanTransition reports whether s may move to next.
func (s PostingStatus) CanTransition(next PostingStatus) bool {
	nextStates, ok := postingTransitions[s]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// Terminal reports whether s is a final state.
func (s PostingStatus) Terminal() bool {
	return s == PostingCompleted || s == PostingCancelled || s == PostingExpired
}
