package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/illarion/cryptovault/internal/storage"
)

// Manifest returns a snapshot of all live records and tombstones
func (v *Vault) Manifest(ctx context.Context) (storage.Manifest, error) {
	var m storage.Manifest
	err := v.session(ctx, func(db *storage.Storage) error {
		var err error
		m, err = db.Manifest()
		return err
	})
	return m, err
}

// Export returns a record and its sealed blob for upload
func (v *Vault) Export(ctx context.Context, id string) (*storage.FileRecord, []byte, error) {
	var (
		rec  *storage.FileRecord
		blob []byte
	)
	err := v.session(ctx, func(db *storage.Storage) error {
		var err error
		rec, blob, err = db.GetFile(id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return rec, blob, nil
}

// Import stores a record pulled from a remote as is. Its sync version is
// kept and any local tombstone for the ID is cleared.
func (v *Vault) Import(ctx context.Context, rec storage.FileRecord, blob []byte) error {
	if rec.ID == "" {
		return errors.New("import: empty file id")
	}
	if !safeName(rec.OriginalName) {
		return fmt.Errorf("%w: import %s: %q", ErrUnsafeName, rec.ID, rec.OriginalName)
	}
	err := v.session(ctx, func(db *storage.Storage) error {
		return db.PutFile(rec, blob)
	})
	if err != nil {
		return fmt.Errorf("failed to import %s: %w", rec.ID, err)
	}

	v.log.WithFields(logrus.Fields{"id": rec.ID, "version": rec.SyncVersion}).Debug("imported remote file")
	return nil
}

// ApplyRemoteDelete removes a local file because the remote deleted it.
// The remote tombstone replaces the local record. Missing files only get
// the tombstone, unless a newer one is already stored.
func (v *Vault) ApplyRemoteDelete(ctx context.Context, tomb storage.Tombstone) error {
	err := v.session(ctx, func(db *storage.Storage) error {
		err := db.DeleteFile(tomb.ID, &tomb)
		if errors.Is(err, storage.ErrNotFound) {
			return putNewerTombstone(db, tomb)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to apply remote delete of %s: %w", tomb.ID, err)
	}

	v.log.WithFields(logrus.Fields{"id": tomb.ID, "version": tomb.SyncVersion}).Debug("applied remote delete")
	return nil
}

// RecordTombstone stores a tombstone learned from a remote for an ID the
// vault has no live record of. Older tombstones are replaced; newer ones kept.
func (v *Vault) RecordTombstone(ctx context.Context, tomb storage.Tombstone) error {
	return v.session(ctx, func(db *storage.Storage) error {
		return putNewerTombstone(db, tomb)
	})
}

func putNewerTombstone(db *storage.Storage, tomb storage.Tombstone) error {
	existing, err := db.GetTombstone(tomb.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.SyncVersion >= tomb.SyncVersion {
		return nil
	}
	return db.PutTombstone(tomb)
}

// SyncConfig returns the stored sync configuration, or nil if none
func (v *Vault) SyncConfig(ctx context.Context) (*storage.SyncConfig, error) {
	var cfg *storage.SyncConfig
	err := v.session(ctx, func(db *storage.Storage) error {
		var err error
		cfg, err = db.LoadSyncConfig()
		return err
	})
	return cfg, err
}

func (v *Vault) SaveSyncConfig(ctx context.Context, cfg storage.SyncConfig) error {
	return v.session(ctx, func(db *storage.Storage) error {
		return db.SaveSyncConfig(cfg)
	})
}

// SyncState returns the stored sync state; zero value if sync never ran
func (v *Vault) SyncState(ctx context.Context) (storage.SyncState, error) {
	var state storage.SyncState
	err := v.session(ctx, func(db *storage.Storage) error {
		var err error
		state, err = db.LoadSyncState()
		return err
	})
	return state, err
}

func (v *Vault) SaveSyncState(ctx context.Context, state storage.SyncState) error {
	return v.session(ctx, func(db *storage.Storage) error {
		return db.SaveSyncState(state)
	})
}
