package backend

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const tmpMarker = ".tmp-"

var (
	ErrKeyEscapes = errors.New("key escapes sync directory")
	ErrEmptyKey   = errors.New("empty key not allowed")
)

// Local mirrors blobs into a directory. All access goes through an os.Root,
// so keys and symlinks cannot reach outside the directory.
type Local struct {
	dir  string
	root *os.Root
}

// NewLocal opens dir as a sync target, creating it if needed
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sync dir: %w", err)
	}

	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync dir: %w", err)
	}
	return &Local{dir: abs, root: root}, nil
}

// Close releases the directory handle
func (l *Local) Close() error {
	return l.root.Close()
}

// validateKey turns a slash-separated key into a local relative path.
// It rejects empty keys, absolute keys and keys that climb out with "..".
func validateKey(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	if strings.Contains(key, tmpMarker) {
		return "", fmt.Errorf("%w: %s", ErrKeyEscapes, key)
	}
	if path.Clean(key) != key {
		return "", fmt.Errorf("%w: %s", ErrKeyEscapes, key)
	}

	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrKeyEscapes, key)
	}
	return rel, nil
}

func (l *Local) mkdirs(rel string) error {
	dir := filepath.Dir(rel)
	if dir == "." {
		return nil
	}

	var cur string
	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		if err := l.root.Mkdir(cur, 0700); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

// Put writes blob to a temp file, then renames it over the key
func (l *Local) Put(ctx context.Context, key string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := validateKey(key)
	if err != nil {
		return err
	}
	if err := l.mkdirs(rel); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %w", ErrUnavailable, key, err)
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return err
	}
	tmp := rel + tmpMarker + hex.EncodeToString(suffix)

	f, err := l.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrUnavailable, key, err)
	}
	defer func() { _ = l.root.Remove(tmp) }()

	if _, err := f.Write(blob); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write %s: %w", ErrUnavailable, key, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: sync %s: %w", ErrUnavailable, key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrUnavailable, key, err)
	}

	if err := os.Rename(filepath.Join(l.dir, tmp), filepath.Join(l.dir, rel)); err != nil {
		return fmt.Errorf("%w: rename %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, err := validateKey(key)
	if err != nil {
		return nil, err
	}

	f, err := l.root.Open(rel)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrUnavailable, key, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrUnavailable, key, err)
	}
	return data, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := validateKey(key)
	if err != nil {
		return err
	}

	err = l.root.Remove(rel)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", ErrUnavailable, key, err)
	}
	return nil
}

// ListKeys walks the directory. Leftover temp files are skipped.
func (l *Local) ListKeys(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	err := fs.WalkDir(l.root.FS(), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), tmpMarker) {
			return nil
		}
		keys[p] = struct{}{}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: list %s: %w", ErrUnavailable, l.dir, err)
	}
	return keys, nil
}
