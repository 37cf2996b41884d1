package syncer

import (
	"sort"

	"github.com/illarion/cryptovault/internal/storage"
)

// Action is what a sync run does for one ID
type Action int

const (
	ActionSkip Action = iota
	ActionPush
	ActionPull
	ActionKeepLocal    // conflict, local wins; remote copy preserved
	ActionKeepRemote   // conflict, remote wins; local copy preserved
	ActionDeleteRemote // local tombstone is at least as new as the remote file
	ActionDeleteLocal  // remote tombstone is at least as new as the local file
	ActionMergeTombstone
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionPush:
		return "push"
	case ActionPull:
		return "pull"
	case ActionKeepLocal:
		return "conflict-keep-local"
	case ActionKeepRemote:
		return "conflict-keep-remote"
	case ActionDeleteRemote:
		return "delete-remote"
	case ActionDeleteLocal:
		return "delete-local"
	case ActionMergeTombstone:
		return "merge-tombstone"
	}
	return "unknown"
}

// Step is the planned action for one ID with the entries it was derived from
type Step struct {
	ID     string
	Action Action
	Local  *storage.ManifestEntry
	Remote *storage.ManifestEntry
}

// Plan classifies every ID present on either side. It does no I/O.
// The result is ordered by ID.
func Plan(local, remote storage.Manifest) []Step {
	ids := make(map[string]struct{}, len(local)+len(remote))
	for _, e := range local {
		ids[e.ID] = struct{}{}
	}
	for _, e := range remote {
		ids[e.ID] = struct{}{}
	}

	steps := make([]Step, 0, len(ids))
	for id := range ids {
		step := Step{ID: id}
		if e, ok := local.Find(id); ok {
			step.Local = &e
		}
		if e, ok := remote.Find(id); ok {
			step.Remote = &e
		}
		step.Action = classify(step.Local, step.Remote)
		steps = append(steps, step)
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
	return steps
}

func classify(l, r *storage.ManifestEntry) Action {
	switch {
	case l == nil && r == nil:
		return ActionSkip

	case r == nil:
		if l.Deleted {
			return ActionMergeTombstone
		}
		return ActionPush

	case l == nil:
		if r.Deleted {
			return ActionMergeTombstone
		}
		return ActionPull

	case l.Deleted && r.Deleted:
		if l.SyncVersion == r.SyncVersion {
			return ActionSkip
		}
		return ActionMergeTombstone

	case l.Deleted:
		if r.SyncVersion > l.SyncVersion {
			return ActionPull
		}
		return ActionDeleteRemote

	case r.Deleted:
		if l.SyncVersion > r.SyncVersion {
			return ActionPush
		}
		return ActionDeleteLocal
	}

	// Both live. Same content only needs the version brought in line.
	if l.ContentHash == r.ContentHash {
		switch {
		case l.SyncVersion > r.SyncVersion:
			return ActionPush
		case r.SyncVersion > l.SyncVersion:
			return ActionPull
		}
		return ActionSkip
	}

	if localWins(l, r) {
		return ActionKeepLocal
	}
	return ActionKeepRemote
}

// localWins orders two live versions: higher sync version first, then later
// modification time. Exact ties go to the local side.
func localWins(l, r *storage.ManifestEntry) bool {
	if l.SyncVersion != r.SyncVersion {
		return l.SyncVersion > r.SyncVersion
	}
	return !r.ModifiedAt.After(l.ModifiedAt)
}
