package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/illarion/cryptovault/internal/backend"
	"github.com/illarion/cryptovault/internal/crypto"
	"github.com/illarion/cryptovault/internal/logging"
	"github.com/illarion/cryptovault/internal/storage"
)

var ErrRemoteCorrupt = errors.New("remote blob does not match its record")

// Store is the local side of a sync. Each call is its own locked session on
// the vault, so no lock is held across network calls.
type Store interface {
	Manifest(ctx context.Context) (storage.Manifest, error)
	Export(ctx context.Context, id string) (*storage.FileRecord, []byte, error)
	Import(ctx context.Context, rec storage.FileRecord, blob []byte) error
	ApplyRemoteDelete(ctx context.Context, tomb storage.Tombstone) error
	RecordTombstone(ctx context.Context, tomb storage.Tombstone) error
	SyncState(ctx context.Context) (storage.SyncState, error)
	SaveSyncState(ctx context.Context, state storage.SyncState) error
}

// Engine reconciles a Store with a remote backend
type Engine struct {
	store  Store
	remote backend.Backend
	log    *logrus.Logger
	phase  atomic.Int32
	now    func() time.Time
}

func NewEngine(store Store, remote backend.Backend, log *logrus.Logger) *Engine {
	return &Engine{
		store:  store,
		remote: remote,
		log:    logging.OrDefault(log),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Phase returns the current phase of the engine
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
	e.log.WithField("phase", p).Debug("sync phase")
}

// run holds the state of one sync run
type run struct {
	*Engine
	report    *Report
	keys      map[string]struct{}
	published *RemoteManifest // remote manifest as fetched
	merged    *RemoteManifest
	obsolete  []string // remote keys to drop once the new manifest is committed
}

// Run performs one sync. The report is returned even when err is not nil.
// Auth failures and cancellation abort the run before anything is committed;
// other per-ID failures are collected in the report.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	r := &run{Engine: e, report: &Report{}}
	if err := r.execute(ctx); err != nil {
		e.setPhase(PhaseFailed)
		e.log.WithError(err).Warn("sync failed")
		return r.report, err
	}
	e.setPhase(PhaseIdle)
	return r.report, nil
}

func (r *run) execute(ctx context.Context) error {
	r.setPhase(PhaseDiffing)

	local, err := r.store.Manifest(ctx)
	if err != nil {
		return fmt.Errorf("read local manifest: %w", err)
	}
	if r.published, err = loadManifest(ctx, r.Engine.remote); err != nil {
		return err
	}
	if r.keys, err = r.Engine.remote.ListKeys(ctx); err != nil {
		return fmt.Errorf("list remote keys: %w", err)
	}
	r.merged = r.published.clone()

	steps := Plan(local, r.published.Manifest())

	r.setPhase(PhaseTransferring)
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if step.Action == ActionSkip {
			continue
		}

		err := r.apply(ctx, step)
		if err == nil {
			continue
		}
		if fatal(ctx, err) {
			return err
		}
		r.log.WithFields(logrus.Fields{"id": step.ID, "action": step.Action}).WithError(err).Warn("sync item failed")
		r.report.Errors = append(r.report.Errors, &ItemError{ID: step.ID, Phase: PhaseTransferring, Err: err})
	}

	r.setPhase(PhaseCommitting)
	if err := r.commit(ctx); err != nil {
		return err
	}

	state, err := r.store.SyncState(ctx)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	state.LastSyncAt = r.now()
	state.LastManifestDigest = r.merged.Manifest().Digest()
	if err := r.store.SaveSyncState(ctx, state); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}

	r.log.WithField("report", r.report.String()).Info("sync finished")
	return nil
}

func fatal(ctx context.Context, err error) bool {
	return errors.Is(err, backend.ErrAuth) || ctx.Err() != nil
}

// commit writes the merged manifest in one Put when it differs from what the
// remote already has, then drops blobs the new manifest no longer references.
func (r *run) commit(ctx context.Context) error {
	before, err := r.published.encode()
	if err != nil {
		return err
	}
	after, err := r.merged.encode()
	if err != nil {
		return err
	}
	if bytes.Equal(before, after) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.Engine.remote.Put(ctx, ManifestKey, after); err != nil {
		return fmt.Errorf("commit remote manifest: %w", err)
	}
	r.report.Committed = true

	for _, key := range r.obsolete {
		if err := r.Engine.remote.Delete(ctx, key); err != nil {
			if fatal(ctx, err) {
				return err
			}
			// Leftovers are unreferenced and harmless
			r.log.WithField("key", key).WithError(err).Warn("failed to remove obsolete blob")
		}
	}
	return nil
}

func (r *run) apply(ctx context.Context, step Step) error {
	log := r.log.WithFields(logrus.Fields{"id": step.ID, "action": step.Action})
	log.Debug("applying sync step")

	switch step.Action {
	case ActionPush:
		return r.push(ctx, step.ID)

	case ActionPull:
		return r.pull(ctx, step.ID)

	case ActionKeepLocal:
		prev := r.published.Entries[step.ID]
		preserved := conflictKey(prev.ID, prev.ContentHash)
		if err := r.copyRemote(ctx, blobKey(prev.ID, prev.ContentHash), preserved); err != nil {
			return err
		}
		if err := r.push(ctx, step.ID); err != nil {
			return err
		}
		r.preserve(step.ID, "local", preserved, prev.FileRecord)
		return nil

	case ActionKeepRemote:
		rec, blob, err := r.store.Export(ctx, step.ID)
		if err != nil {
			return err
		}
		preserved := conflictKey(rec.ID, rec.ContentHash)
		if err := r.putOnce(ctx, preserved, blob); err != nil {
			return err
		}
		if err := r.pull(ctx, step.ID); err != nil {
			return err
		}
		r.preserve(step.ID, "remote", preserved, *rec)
		return nil

	case ActionDeleteRemote:
		prev := r.published.Entries[step.ID]
		r.merged.Entries[step.ID] = tombstoneEntry(step.ID, step.Local.SyncVersion, step.Local.ModifiedAt)
		r.obsolete = append(r.obsolete, blobKey(prev.ID, prev.ContentHash))
		r.report.Deleted++
		return nil

	case ActionDeleteLocal:
		err := r.store.ApplyRemoteDelete(ctx, storage.Tombstone{
			ID:          step.ID,
			SyncVersion: step.Remote.SyncVersion,
			DeletedAt:   step.Remote.ModifiedAt,
		})
		if err != nil {
			return err
		}
		r.report.Deleted++
		return nil

	case ActionMergeTombstone:
		return r.mergeTombstone(ctx, step)
	}
	return nil
}

// push uploads the local version of id unless the remote already holds that
// exact blob, then points the merged manifest at it.
func (r *run) push(ctx context.Context, id string) error {
	rec, blob, err := r.store.Export(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted locally since the diff; the tombstone goes out next run
		r.log.WithField("id", id).Debug("file vanished before push")
		return nil
	}
	if err != nil {
		return err
	}

	key := blobKey(rec.ID, rec.ContentHash)
	if err := r.putOnce(ctx, key, blob); err != nil {
		return err
	}

	if prev, ok := r.published.Entries[id]; ok && !prev.Deleted {
		if old := blobKey(prev.ID, prev.ContentHash); old != key {
			r.obsolete = append(r.obsolete, old)
		}
	}
	r.merged.Entries[id] = recordEntry(*rec)
	r.report.Pushed++
	return nil
}

// pull downloads the remote version of id and stores it locally
func (r *run) pull(ctx context.Context, id string) error {
	entry := r.published.Entries[id]
	blob, err := r.Engine.remote.Get(ctx, blobKey(entry.ID, entry.ContentHash))
	if err != nil {
		return err
	}
	if int64(len(blob)) != entry.SizeBytes+crypto.TagSize {
		return fmt.Errorf("%w: %s has %d bytes, want %d", ErrRemoteCorrupt, id, len(blob), entry.SizeBytes+crypto.TagSize)
	}

	if err := r.store.Import(ctx, entry.FileRecord, blob); err != nil {
		return err
	}
	r.report.Pulled++
	return nil
}

func (r *run) putOnce(ctx context.Context, key string, blob []byte) error {
	if _, ok := r.keys[key]; ok {
		return nil
	}
	if err := r.Engine.remote.Put(ctx, key, blob); err != nil {
		return err
	}
	r.keys[key] = struct{}{}
	return nil
}

func (r *run) copyRemote(ctx context.Context, from, to string) error {
	if _, ok := r.keys[to]; ok {
		return nil
	}
	blob, err := r.Engine.remote.Get(ctx, from)
	if err != nil {
		return err
	}
	return r.putOnce(ctx, to, blob)
}

func (r *run) preserve(id, winner, key string, loser storage.FileRecord) {
	found := false
	for _, c := range r.merged.Conflicts {
		if c.Key == key {
			found = true
			break
		}
	}
	if !found {
		r.merged.Conflicts = append(r.merged.Conflicts, ConflictCopy{
			Key:         key,
			Record:      loser,
			PreservedAt: r.now(),
		})
	}

	resolved := ConflictResolved{ID: id, Winner: winner, PreservedKey: key}
	r.report.Conflicts++
	r.report.Resolved = append(r.report.Resolved, resolved)
	r.log.WithFields(logrus.Fields{"id": id, "winner": winner, "key": key}).Info("conflict resolved")
}

// mergeTombstone keeps the newer of the two tombstones on both sides
func (r *run) mergeTombstone(ctx context.Context, step Step) error {
	winner := step.Local
	if winner == nil || (step.Remote != nil && step.Remote.SyncVersion > winner.SyncVersion) {
		winner = step.Remote
	}

	if winner != step.Local {
		err := r.store.RecordTombstone(ctx, storage.Tombstone{
			ID:          step.ID,
			SyncVersion: winner.SyncVersion,
			DeletedAt:   winner.ModifiedAt,
		})
		if err != nil {
			return err
		}
	}
	if winner != step.Remote {
		r.merged.Entries[step.ID] = tombstoneEntry(step.ID, winner.SyncVersion, winner.ModifiedAt)
	}
	return nil
}
