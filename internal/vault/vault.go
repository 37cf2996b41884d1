package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/illarion/cryptovault/internal/crypto"
	"github.com/illarion/cryptovault/internal/logging"
	"github.com/illarion/cryptovault/internal/storage"
)

const (
	DatabaseFile   = "vault.db"
	DirPermSecure  = 0700 // Directory: owner rwx only
	FilePermSecure = 0600 // File: owner rw only
)

var (
	ErrNotFound    = storage.ErrNotFound
	ErrLocked      = storage.ErrLocked
	ErrWrongSecret = errors.New("wrong secret or tampered data")
	ErrCorruption  = errors.New("content hash mismatch")
	ErrIO          = errors.New("i/o error")
	ErrAmbiguous   = errors.New("id prefix matches more than one file")
	ErrUnsafeName  = errors.New("original name is not a plain file name")
)

// Options tune a Vault
type Options struct {
	Iterations  int           // PBKDF2 iterations for newly encrypted files
	LockTimeout time.Duration // 0 waits for the lock indefinitely
	Logger      *logrus.Logger
}

// Vault is a handle on an encrypted file vault directory.
// Each operation runs in its own session holding the database file lock,
// so several processes can share a vault.
type Vault struct {
	dir  string
	path string
	opts Options
	log  *logrus.Logger
	mu   sync.Mutex
}

// Open creates the vault directory and database if needed and returns a
// handle on it.
func Open(dir string, opts Options) (*Vault, error) {
	if opts.Iterations == 0 {
		opts.Iterations = crypto.DefaultIterations
	}
	if opts.Iterations < crypto.MinIterations {
		return nil, fmt.Errorf("%w: %d iterations", crypto.ErrWeakParameter, opts.Iterations)
	}

	if err := os.MkdirAll(dir, DirPermSecure); err != nil {
		return nil, fmt.Errorf("%w: create vault dir: %w", ErrIO, err)
	}

	v := &Vault{
		dir:  dir,
		path: filepath.Join(dir, DatabaseFile),
		opts: opts,
		log:  logging.OrDefault(opts.Logger),
	}

	err := v.session(context.Background(), func(db *storage.Storage) error {
		return db.Initialize(uuid.NewString())
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Dir returns the vault directory
func (v *Vault) Dir() string {
	return v.dir
}

// session opens the database, holding its exclusive lock for the duration
// of fn.
func (v *Vault) session(ctx context.Context, fn func(db *storage.Storage) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	db, err := storage.Open(v.path, v.opts.LockTimeout)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, db.Close())
	}()

	return fn(db)
}

// Encrypt seals the file at path under a key derived from secret and stores
// it. Nothing is stored unless every step succeeds.
func (v *Vault) Encrypt(ctx context.Context, path string, secret []byte) (string, error) {
	plaintext, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}
	defer crypto.ClearBytes(plaintext)

	id := uuid.NewString()

	salt, err := crypto.NewSalt()
	if err != nil {
		return "", err
	}
	nonce, err := crypto.NewNonce()
	if err != nil {
		return "", err
	}

	key, err := crypto.DeriveKey(secret, salt, v.opts.Iterations)
	if err != nil {
		return "", err
	}
	defer crypto.ClearBytes(key)

	sealed, err := crypto.Seal(key, nonce, plaintext, []byte(id))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt %s: %w", path, err)
	}

	now := time.Now().UTC()
	rec := storage.FileRecord{
		ID:           id,
		OriginalName: filepath.Base(path),
		SizeBytes:    int64(len(plaintext)),
		CreatedAt:    now,
		ModifiedAt:   now,
		Salt:         salt,
		Nonce:        nonce,
		Iterations:   v.opts.Iterations,
		ContentHash:  crypto.HashContent(plaintext),
		SyncVersion:  1,
	}

	err = v.session(ctx, func(db *storage.Storage) error {
		return db.PutFile(rec, sealed)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store %s: %w", path, err)
	}

	v.log.WithFields(logrus.Fields{"id": id, "name": rec.OriginalName, "size": rec.SizeBytes}).Info("encrypted file")
	return id, nil
}

// Read decrypts the file with the given ID into memory.
// The caller should clear the returned plaintext.
func (v *Vault) Read(ctx context.Context, id string, secret []byte) ([]byte, *storage.FileRecord, error) {
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

	key, err := crypto.DeriveKey(secret, rec.Salt, rec.Iterations)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.ClearBytes(key)

	plaintext, err := crypto.Open(key, rec.Nonce, blob, []byte(rec.ID))
	if err != nil {
		if errors.Is(err, crypto.ErrAuthFailed) {
			v.log.WithField("id", id).Warn("decryption rejected")
			return nil, nil, ErrWrongSecret
		}
		return nil, nil, err
	}

	if crypto.HashContent(plaintext) != rec.ContentHash {
		crypto.ClearBytes(plaintext)
		v.log.WithField("id", id).Error("content hash mismatch after decryption")
		return nil, nil, fmt.Errorf("%w: %s", ErrCorruption, id)
	}

	return plaintext, rec, nil
}

// safeName reports whether name is a single path element that stays in the
// directory it is written to.
func safeName(name string) bool {
	return name != "" && name != "." &&
		name == filepath.Base(name) &&
		filepath.IsLocal(name) &&
		!strings.ContainsAny(name, `/\`)
}

// Decrypt writes the plaintext of the file with the given ID to outPath.
// An empty outPath uses the original file name in the current directory.
func (v *Vault) Decrypt(ctx context.Context, id string, secret []byte, outPath string) (string, error) {
	plaintext, rec, err := v.Read(ctx, id, secret)
	if err != nil {
		return "", err
	}
	defer crypto.ClearBytes(plaintext)

	if outPath == "" {
		if !safeName(rec.OriginalName) {
			return "", fmt.Errorf("%w: %q, pass an output path", ErrUnsafeName, rec.OriginalName)
		}
		outPath = rec.OriginalName
	}
	if err := writeFileAtomic(outPath, plaintext, FilePermSecure); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", ErrIO, outPath, err)
	}

	v.log.WithFields(logrus.Fields{"id": id, "out": outPath}).Info("decrypted file")
	return outPath, nil
}

// List returns all file records in insertion order without decrypting
func (v *Vault) List(ctx context.Context) ([]storage.FileRecord, error) {
	var records []storage.FileRecord
	err := v.session(ctx, func(db *storage.Storage) error {
		var err error
		records, err = db.ListRecords()
		return err
	})
	return records, err
}

// Get returns the record for id
func (v *Vault) Get(ctx context.Context, id string) (*storage.FileRecord, error) {
	var rec *storage.FileRecord
	err := v.session(ctx, func(db *storage.Storage) error {
		var err error
		rec, err = db.GetRecord(id)
		return err
	})
	return rec, err
}

// Resolve expands an ID prefix to the full ID of a live file
func (v *Vault) Resolve(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}
	records, err := v.List(ctx)
	if err != nil {
		return "", err
	}

	var match string
	for _, r := range records {
		if r.ID == prefix {
			return r.ID, nil
		}
		if strings.HasPrefix(r.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("%w: %s", ErrAmbiguous, prefix)
			}
			match = r.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	}
	return match, nil
}

// Delete removes a file and its blob and leaves a tombstone for sync
func (v *Vault) Delete(ctx context.Context, id string) error {
	err := v.session(ctx, func(db *storage.Storage) error {
		rec, err := db.GetRecord(id)
		if err != nil {
			return err
		}
		return db.DeleteFile(id, &storage.Tombstone{
			ID:          id,
			SyncVersion: rec.SyncVersion + 1,
			DeletedAt:   time.Now().UTC(),
		})
	})
	if err != nil {
		return err
	}

	v.log.WithField("id", id).Info("deleted file")
	return nil
}

// Info summarizes the vault contents
type Info struct {
	Path        string
	VaultID     string
	Files       int
	PlainBytes  int64
	StoredBytes int64
	Tombstones  int
	Orphans     []string
	Modified    time.Time
}

// Info reports vault statistics without decrypting anything
func (v *Vault) Info(ctx context.Context) (*Info, error) {
	info := &Info{Path: v.path}
	err := v.session(ctx, func(db *storage.Storage) error {
		var err error
		if info.VaultID, err = db.GetVaultID(); err != nil {
			return err
		}
		records, err := db.ListRecords()
		if err != nil {
			return err
		}
		info.Files = len(records)
		for _, r := range records {
			info.PlainBytes += r.SizeBytes
		}
		if info.StoredBytes, err = db.BlobSizes(); err != nil {
			return err
		}
		tombstones, err := db.ListTombstones()
		if err != nil {
			return err
		}
		info.Tombstones = len(tombstones)
		if info.Orphans, err = db.Orphans(); err != nil {
			return err
		}
		info.Modified, err = db.GetModified()
		return err
	})
	return info, err
}

// ID returns the vault's stable identifier
func (v *Vault) ID(ctx context.Context) (string, error) {
	var id string
	err := v.session(ctx, func(db *storage.Storage) error {
		var err error
		id, err = db.GetVaultID()
		return err
	})
	return id, err
}

// Compact compacts the database to reclaim unused space.
// This is useful after deleting files from the vault.
func (v *Vault) Compact(ctx context.Context) error {
	return v.session(ctx, func(db *storage.Storage) error {
		return db.Compact()
	})
}

// writeFileAtomic writes data to a temp file next to path, then renames it
// over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(perm); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
