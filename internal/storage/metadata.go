package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// FileRecord describes one vaulted file. The encrypted payload lives in the
// blobs bucket under the same ID.
type FileRecord struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`
	Salt         []byte    `json:"salt"`
	Nonce        []byte    `json:"nonce"`
	Iterations   int       `json:"iterations"`
	ContentHash  string    `json:"content_hash"` // hex SHA-256 of the plaintext
	SyncVersion  uint64    `json:"sync_version"`
}

// Tombstone records a local delete so sync can propagate it
type Tombstone struct {
	ID          string    `json:"id"`
	SyncVersion uint64    `json:"sync_version"`
	DeletedAt   time.Time `json:"deleted_at"`
}

// ManifestEntry is one line of a Manifest
type ManifestEntry struct {
	ID          string    `json:"id"`
	SyncVersion uint64    `json:"sync_version"`
	ContentHash string    `json:"content_hash,omitempty"`
	ModifiedAt  time.Time `json:"modified_at"`
	Deleted     bool      `json:"deleted,omitempty"`
}

// Manifest is a snapshot of every live record and tombstone, ordered by ID
type Manifest []ManifestEntry

// NewManifest builds a manifest from records and tombstones.
// A record wins over a tombstone with the same ID.
func NewManifest(records []FileRecord, tombstones []Tombstone) Manifest {
	byID := make(map[string]ManifestEntry, len(records)+len(tombstones))
	for _, t := range tombstones {
		byID[t.ID] = ManifestEntry{
			ID:          t.ID,
			SyncVersion: t.SyncVersion,
			ModifiedAt:  t.DeletedAt,
			Deleted:     true,
		}
	}
	for _, r := range records {
		byID[r.ID] = ManifestEntry{
			ID:          r.ID,
			SyncVersion: r.SyncVersion,
			ContentHash: r.ContentHash,
			ModifiedAt:  r.ModifiedAt,
		}
	}

	m := make(Manifest, 0, len(byID))
	for _, e := range byID {
		m = append(m, e)
	}
	sort.Slice(m, func(i, j int) bool { return m[i].ID < m[j].ID })
	return m
}

// Find returns the entry for id
func (m Manifest) Find(id string) (ManifestEntry, bool) {
	i := sort.Search(len(m), func(i int) bool { return m[i].ID >= id })
	if i < len(m) && m[i].ID == id {
		return m[i], true
	}
	return ManifestEntry{}, false
}

// Digest returns a stable hex SHA-256 over the manifest contents
func (m Manifest) Digest() string {
	h := sha256.New()
	for _, e := range m {
		// Times are normalized so that a round trip through JSON keeps the digest.
		line, _ := json.Marshal(ManifestEntry{
			ID:          e.ID,
			SyncVersion: e.SyncVersion,
			ContentHash: e.ContentHash,
			ModifiedAt:  e.ModifiedAt.UTC().Truncate(time.Microsecond),
			Deleted:     e.Deleted,
		})
		h.Write(line)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SyncConfig is the persisted remote backend selection
type SyncConfig struct {
	Kind     string            `json:"kind"`
	Settings map[string]string `json:"settings"`
}

// SyncState is the persisted outcome of the last sync run
type SyncState struct {
	Enabled            bool      `json:"enabled"`
	LastSyncAt         time.Time `json:"last_sync_at"`
	LastManifestDigest string    `json:"last_manifest_digest"`
	LastPhase          string    `json:"last_phase,omitempty"` // phase the last run ended in
	LastError          string    `json:"last_error,omitempty"`
}
