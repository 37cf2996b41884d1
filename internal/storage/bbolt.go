package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

// Bucket names
var (
	ConfigBucket     = []byte("config")     // Schema version, timestamps, vault ID
	RecordsBucket    = []byte("records")    // id -> FileRecord (with insertion sequence)
	BlobsBucket      = []byte("blobs")      // id -> sealed ciphertext
	TombstonesBucket = []byte("tombstones") // id -> Tombstone
	OrderBucket      = []byte("order")      // sequence -> id, for insertion order
	SyncBucket       = []byte("sync")       // sync config and state
)

// Config keys
var (
	ConfigVersion  = []byte("version")
	ConfigCreated  = []byte("created")
	ConfigModified = []byte("modified")
	ConfigVaultID  = []byte("vault_id")

	SyncConfigKey = []byte("config")
	SyncStateKey  = []byte("state")
)

var (
	ErrNotFound = errors.New("file not found")
	ErrLocked   = errors.New("vault is locked by another process")
)

// failpoint lets tests interrupt a write transaction between its steps.
var failpoint = func(stage string) error { return nil }

// Storage provides BBolt-based storage for the vault.
// An open Storage holds an exclusive file lock on the database.
type Storage struct {
	db *bolt.DB
}

type storedRecord struct {
	Seq    uint64     `json:"seq"`
	Record FileRecord `json:"record"`
}

// Open opens or creates a vault database, blocking until the file lock is
// free. A zero timeout waits indefinitely.
func Open(path string, timeout time.Duration) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database and releases the file lock
func (s *Storage) Close() error {
	return s.db.Close()
}

// Initialize creates the bucket structure. It is safe to call on an
// existing vault.
func (s *Storage) Initialize(vaultID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, RecordsBucket, BlobsBucket, TombstonesBucket, OrderBucket, SyncBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if config.Get(ConfigVersion) != nil {
			return nil
		}
		if err := config.Put(ConfigVersion, []byte("1")); err != nil {
			return err
		}
		if err := config.Put(ConfigVaultID, []byte(vaultID)); err != nil {
			return err
		}

		created, _ := time.Now().MarshalBinary()
		if err := config.Put(ConfigCreated, created); err != nil {
			return err
		}
		return config.Put(ConfigModified, created)
	})
}

// IsInitialized checks if the database has been initialized
func (s *Storage) IsInitialized() (bool, error) {
	var initialized bool
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config != nil && config.Get(ConfigVersion) != nil {
			initialized = true
		}
		return nil
	})
	return initialized, err
}

// GetVaultID retrieves the vault ID from config bucket
func (s *Storage) GetVaultID() (string, error) {
	var vaultID string
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		data := config.Get(ConfigVaultID)
		if data == nil {
			return fmt.Errorf("vault_id not found")
		}
		vaultID = string(data)
		return nil
	})
	return vaultID, err
}

// GetModified retrieves the last modified timestamp
func (s *Storage) GetModified() (time.Time, error) {
	var modified time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}
		data := config.Get(ConfigModified)
		if data == nil {
			return fmt.Errorf("modified time not found")
		}
		return modified.UnmarshalBinary(data)
	})
	return modified, err
}

func touchModified(tx *bolt.Tx) error {
	modified, _ := time.Now().MarshalBinary()
	return tx.Bucket(ConfigBucket).Put(ConfigModified, modified)
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// PutFile stores a record and its blob in a single transaction and clears
// any tombstone for the ID. Replacing an existing record keeps its position.
func (s *Storage) PutFile(rec FileRecord, blob []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(RecordsBucket)
		order := tx.Bucket(OrderBucket)
		id := []byte(rec.ID)

		stored := storedRecord{Record: rec}
		if existing := records.Get(id); existing != nil {
			var prev storedRecord
			if err := json.Unmarshal(existing, &prev); err != nil {
				return fmt.Errorf("corrupt record %s: %w", rec.ID, err)
			}
			stored.Seq = prev.Seq
		} else {
			seq, err := order.NextSequence()
			if err != nil {
				return err
			}
			stored.Seq = seq
			if err := order.Put(seqKey(seq), id); err != nil {
				return err
			}
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := records.Put(id, data); err != nil {
			return err
		}

		if err := failpoint("put:record"); err != nil {
			return err
		}

		if err := tx.Bucket(BlobsBucket).Put(id, blob); err != nil {
			return err
		}
		if err := tx.Bucket(TombstonesBucket).Delete(id); err != nil {
			return err
		}
		return touchModified(tx)
	})
}

func getRecord(tx *bolt.Tx, id string) (*storedRecord, error) {
	data := tx.Bucket(RecordsBucket).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var stored storedRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", id, err)
	}
	return &stored, nil
}

// GetRecord returns the record for id
func (s *Storage) GetRecord(id string) (*FileRecord, error) {
	var rec *FileRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		stored, err := getRecord(tx, id)
		if err != nil {
			return err
		}
		rec = &stored.Record
		return nil
	})
	return rec, err
}

// GetBlob retrieves the sealed blob for id
func (s *Storage) GetBlob(id string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data = tx.Bucket(BlobsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		// Make a copy since the slice is only valid during the transaction
		data = append([]byte(nil), data...)
		return nil
	})
	return data, err
}

// GetFile returns the record and blob for id from one snapshot
func (s *Storage) GetFile(id string) (*FileRecord, []byte, error) {
	var (
		rec  *FileRecord
		blob []byte
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		stored, err := getRecord(tx, id)
		if err != nil {
			return err
		}
		data := tx.Bucket(BlobsBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: blob for %s", ErrNotFound, id)
		}
		rec = &stored.Record
		blob = append([]byte(nil), data...)
		return nil
	})
	return rec, blob, err
}

// DeleteFile removes a record and its blob and stores the tombstone, all in
// one transaction. A nil tombstone deletes without leaving one.
func (s *Storage) DeleteFile(id string, tomb *Tombstone) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		stored, err := getRecord(tx, id)
		if err != nil {
			return err
		}

		if err := tx.Bucket(RecordsBucket).Delete([]byte(id)); err != nil {
			return err
		}
		if err := tx.Bucket(OrderBucket).Delete(seqKey(stored.Seq)); err != nil {
			return err
		}

		if err := failpoint("delete:record"); err != nil {
			return err
		}

		if err := tx.Bucket(BlobsBucket).Delete([]byte(id)); err != nil {
			return err
		}
		if tomb != nil {
			if err := putTombstone(tx, *tomb); err != nil {
				return err
			}
		}
		return touchModified(tx)
	})
}

func putTombstone(tx *bolt.Tx, tomb Tombstone) error {
	data, err := json.Marshal(tomb)
	if err != nil {
		return err
	}
	return tx.Bucket(TombstonesBucket).Put([]byte(tomb.ID), data)
}

// PutTombstone stores a tombstone for an ID that has no live record
func (s *Storage) PutTombstone(tomb Tombstone) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(RecordsBucket).Get([]byte(tomb.ID)) != nil {
			return fmt.Errorf("record %s is live", tomb.ID)
		}
		return putTombstone(tx, tomb)
	})
}

// GetTombstone returns the tombstone for id, or nil
func (s *Storage) GetTombstone(id string) (*Tombstone, error) {
	var tomb *Tombstone
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(TombstonesBucket).Get([]byte(id))
		if data == nil {
			return nil
		}
		tomb = &Tombstone{}
		return json.Unmarshal(data, tomb)
	})
	return tomb, err
}

func listRecords(tx *bolt.Tx) ([]FileRecord, error) {
	records := tx.Bucket(RecordsBucket)
	var result []FileRecord
	err := tx.Bucket(OrderBucket).ForEach(func(_, id []byte) error {
		data := records.Get(id)
		if data == nil {
			return nil
		}
		var stored storedRecord
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("corrupt record %s: %w", id, err)
		}
		result = append(result, stored.Record)
		return nil
	})
	return result, err
}

func listTombstones(tx *bolt.Tx) ([]Tombstone, error) {
	var result []Tombstone
	err := tx.Bucket(TombstonesBucket).ForEach(func(_, v []byte) error {
		var tomb Tombstone
		if err := json.Unmarshal(v, &tomb); err != nil {
			return err
		}
		result = append(result, tomb)
		return nil
	})
	return result, err
}

// ListRecords returns all records in insertion order
func (s *Storage) ListRecords() ([]FileRecord, error) {
	var result []FileRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		result, err = listRecords(tx)
		return err
	})
	return result, err
}

// ListTombstones returns all tombstones
func (s *Storage) ListTombstones() ([]Tombstone, error) {
	var result []Tombstone
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		result, err = listTombstones(tx)
		return err
	})
	return result, err
}

// Manifest returns a snapshot of records and tombstones
func (s *Storage) Manifest() (Manifest, error) {
	var m Manifest
	err := s.db.View(func(tx *bolt.Tx) error {
		records, err := listRecords(tx)
		if err != nil {
			return err
		}
		tombstones, err := listTombstones(tx)
		if err != nil {
			return err
		}
		m = NewManifest(records, tombstones)
		return nil
	})
	return m, err
}

// BlobSizes returns the total size of all stored blobs
func (s *Storage) BlobSizes() (int64, error) {
	var total int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BlobsBucket).ForEach(func(_, v []byte) error {
			total += int64(len(v))
			return nil
		})
	})
	return total, err
}

// Orphans returns IDs that have a record without a blob or a blob without a
// record. A healthy vault returns none.
func (s *Storage) Orphans() ([]string, error) {
	var orphans []string
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket(RecordsBucket)
		blobs := tx.Bucket(BlobsBucket)
		if err := records.ForEach(func(k, _ []byte) error {
			if blobs.Get(k) == nil {
				orphans = append(orphans, string(k))
			}
			return nil
		}); err != nil {
			return err
		}
		return blobs.ForEach(func(k, _ []byte) error {
			if records.Get(k) == nil {
				orphans = append(orphans, string(k))
			}
			return nil
		})
	})
	return orphans, err
}

// SaveSyncConfig persists the sync backend configuration
func (s *Storage) SaveSyncConfig(cfg SyncConfig) error {
	return s.putJSON(SyncBucket, SyncConfigKey, cfg)
}

// LoadSyncConfig returns the persisted sync configuration, or nil
func (s *Storage) LoadSyncConfig() (*SyncConfig, error) {
	var cfg SyncConfig
	found, err := s.getJSON(SyncBucket, SyncConfigKey, &cfg)
	if err != nil || !found {
		return nil, err
	}
	return &cfg, nil
}

// SaveSyncState persists the sync state
func (s *Storage) SaveSyncState(state SyncState) error {
	return s.putJSON(SyncBucket, SyncStateKey, state)
}

// LoadSyncState returns the persisted sync state; a vault that never synced
// returns the zero state.
func (s *Storage) LoadSyncState() (SyncState, error) {
	var state SyncState
	_, err := s.getJSON(SyncBucket, SyncStateKey, &state)
	return state, err
}

func (s *Storage) putJSON(bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, data)
	})
}

func (s *Storage) getJSON(bucket, key []byte, v any) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	return found, err
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after deleting files to reclaim disk space.
func (s *Storage) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	// Create new database
	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	// Copy all buckets
	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				if err := dstBucket.SetSequence(srcBucket.Sequence()); err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace database: %w", err)
	}

	// Reopen database
	s.db, err = bolt.Open(srcPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}
