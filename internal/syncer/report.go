package syncer

import (
	"fmt"
	"strings"
)

// Phase of a sync run
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseDiffing
	PhaseTransferring
	PhaseCommitting
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDiffing:
		return "diffing"
	case PhaseTransferring:
		return "transferring"
	case PhaseCommitting:
		return "committing"
	case PhaseFailed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// ItemError is a failure confined to one ID. The run went on without it and
// the next run retries it.
type ItemError struct {
	ID    string
	Phase Phase
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.ID, e.Phase, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// ConflictResolved describes how one conflict was settled. It is
// informational; the run is not failed by it.
type ConflictResolved struct {
	ID           string
	Winner       string // "local" or "remote"
	PreservedKey string // remote key holding the losing version
}

func (c ConflictResolved) String() string {
	return fmt.Sprintf("%s: kept %s version, other preserved at %s", c.ID, c.Winner, c.PreservedKey)
}

// Report is returned by every run, including failed ones
type Report struct {
	Pushed    int
	Pulled    int
	Conflicts int
	Deleted   int // local and remote deletes applied
	Errors    []*ItemError
	Resolved  []ConflictResolved
	Committed bool // the remote manifest was rewritten
}

// Changed reports whether the run moved any data
func (r *Report) Changed() bool {
	return r.Pushed+r.Pulled+r.Conflicts+r.Deleted > 0 || r.Committed
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pushed %d, pulled %d, conflicts %d, deleted %d", r.Pushed, r.Pulled, r.Conflicts, r.Deleted)
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, ", errors %d", len(r.Errors))
	}
	return b.String()
}
