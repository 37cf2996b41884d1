package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/illarion/cryptovault/internal/backend"
	"github.com/illarion/cryptovault/internal/storage"
)

const (
	ManifestKey     = "manifest.json"
	BlobPrefix      = "blobs/"
	ConflictPrefix  = "conflicts/"
	ManifestVersion = 1

	keyHashLen = 16
)

var ErrManifestVersion = errors.New("unsupported remote manifest version")

// RemoteEntry is a full file record as published on the remote, or a
// tombstone when Deleted is set. Tombstones carry only ID, SyncVersion and
// ModifiedAt (the deletion time).
type RemoteEntry struct {
	storage.FileRecord
	Deleted bool `json:"deleted,omitempty"`
}

// ConflictCopy is a losing version kept on the remote after a conflict
type ConflictCopy struct {
	Key         string             `json:"key"`
	Record      storage.FileRecord `json:"record"`
	PreservedAt time.Time          `json:"preserved_at"`
}

// RemoteManifest is the reserved blob describing the remote vault state
type RemoteManifest struct {
	Version   int                    `json:"version"`
	Entries   map[string]RemoteEntry `json:"entries"`
	Conflicts []ConflictCopy         `json:"conflicts,omitempty"`
}

func newRemoteManifest() *RemoteManifest {
	return &RemoteManifest{Version: ManifestVersion, Entries: make(map[string]RemoteEntry)}
}

func (m *RemoteManifest) clone() *RemoteManifest {
	c := &RemoteManifest{
		Version:   m.Version,
		Entries:   make(map[string]RemoteEntry, len(m.Entries)),
		Conflicts: append([]ConflictCopy(nil), m.Conflicts...),
	}
	for id, e := range m.Entries {
		c.Entries[id] = e
	}
	return c
}

// Manifest converts the remote entries into the form used for planning
func (m *RemoteManifest) Manifest() storage.Manifest {
	out := make(storage.Manifest, 0, len(m.Entries))
	for _, e := range m.Entries {
		entry := storage.ManifestEntry{
			ID:          e.ID,
			SyncVersion: e.SyncVersion,
			ModifiedAt:  e.ModifiedAt,
			Deleted:     e.Deleted,
		}
		if !e.Deleted {
			entry.ContentHash = e.ContentHash
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *RemoteManifest) encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func recordEntry(rec storage.FileRecord) RemoteEntry {
	return RemoteEntry{FileRecord: rec}
}

func tombstoneEntry(id string, version uint64, deletedAt time.Time) RemoteEntry {
	return RemoteEntry{
		FileRecord: storage.FileRecord{ID: id, SyncVersion: version, ModifiedAt: deletedAt},
		Deleted:    true,
	}
}

func shortHash(hash string) string {
	if len(hash) > keyHashLen {
		return hash[:keyHashLen]
	}
	return hash
}

// blobKey addresses a blob by ID and content, so a re-push of the same
// version lands on the same key.
func blobKey(id, contentHash string) string {
	return BlobPrefix + id + "." + shortHash(contentHash)
}

func conflictKey(id, contentHash string) string {
	return ConflictPrefix + id + "." + shortHash(contentHash)
}

// loadManifest fetches the remote manifest. A missing manifest is an empty
// remote.
func loadManifest(ctx context.Context, b backend.Backend) (*RemoteManifest, error) {
	data, err := b.Get(ctx, ManifestKey)
	if errors.Is(err, backend.ErrNotFound) {
		return newRemoteManifest(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch remote manifest: %w", err)
	}

	m := newRemoteManifest()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode remote manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("%w: %d", ErrManifestVersion, m.Version)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]RemoteEntry)
	}
	for id, e := range m.Entries {
		if e.ID != id {
			return nil, fmt.Errorf("decode remote manifest: entry %q carries id %q", id, e.ID)
		}
	}
	return m, nil
}
