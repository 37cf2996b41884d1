package vault

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/illarion/cryptovault/internal/crypto"
	"github.com/illarion/cryptovault/internal/logging"
	"github.com/illarion/cryptovault/internal/storage"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(filepath.Join(t.TempDir(), "vault"), Options{
		Iterations:  crypto.MinIterations,
		LockTimeout: time.Second,
		Logger:      logging.Discard(),
	})
	require.NoError(t, err)
	return v
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestScenarioHello(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)
	src := writeFile(t, "hello.txt", "hello1234")
	out := filepath.Join(t.TempDir(), "out.txt")

	id, err := v.Encrypt(ctx, src, []byte("pw"))
	require.NoError(t, err)

	records, err := v.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, id, records[0].ID)
	require.Equal(t, int64(9), records[0].SizeBytes)
	require.Equal(t, "hello.txt", records[0].OriginalName)
	require.Equal(t, uint64(1), records[0].SyncVersion)

	_, err = v.Decrypt(ctx, id, []byte("pw"), out)
	require.NoError(t, err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "hello1234", string(got))

	_, err = v.Decrypt(ctx, id, []byte("wrong"), out)
	require.ErrorIs(t, err, ErrWrongSecret)

	require.NoError(t, v.Delete(ctx, id))

	_, err = v.Decrypt(ctx, id, []byte("pw"), out)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	binary := make([]byte, 3000)
	for i := range binary {
		binary[i] = byte(i * 7)
	}

	tests := []struct {
		name    string
		content []byte
	}{
		{"empty", nil},
		{"text", []byte("API_KEY=secret\nDB=postgres://\n")},
		{"binary", binary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := filepath.Join(t.TempDir(), tt.name)
			require.NoError(t, os.WriteFile(src, tt.content, 0644))

			id, err := v.Encrypt(ctx, src, []byte("s3cret"))
			require.NoError(t, err)

			plaintext, rec, err := v.Read(ctx, id, []byte("s3cret"))
			require.NoError(t, err)
			require.Equal(t, len(tt.content), len(plaintext))
			require.Equal(t, string(tt.content), string(plaintext))
			require.Equal(t, crypto.HashContent(tt.content), rec.ContentHash)
		})
	}
}

func TestDecryptDefaultsToOriginalName(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)
	src := writeFile(t, "notes.md", "# notes")

	id, err := v.Encrypt(ctx, src, []byte("pw"))
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	out, err := v.Decrypt(ctx, id, []byte("pw"), "")
	require.NoError(t, err)
	require.Equal(t, "notes.md", out)

	info, err := os.Stat(filepath.Join(dir, "notes.md"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(FilePermSecure), info.Mode().Perm())
}

func TestTamperedBlobIsWrongSecret(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)
	src := writeFile(t, "a.txt", "tamper me please")

	id, err := v.Encrypt(ctx, src, []byte("pw"))
	require.NoError(t, err)

	rec, blob, err := v.Export(ctx, id)
	require.NoError(t, err)

	for _, pos := range []int{0, len(blob) / 2, len(blob) - 1} {
		flipped := append([]byte(nil), blob...)
		flipped[pos] ^= 0x80
		require.NoError(t, v.Import(ctx, *rec, flipped))

		_, _, err := v.Read(ctx, id, []byte("pw"))
		require.ErrorIs(t, err, ErrWrongSecret, "bit flip at %d", pos)
	}
}

func TestRelabeledBlobIsWrongSecret(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	id1, err := v.Encrypt(ctx, writeFile(t, "one", "one"), []byte("pw"))
	require.NoError(t, err)
	id2, err := v.Encrypt(ctx, writeFile(t, "two", "two"), []byte("pw"))
	require.NoError(t, err)

	rec1, blob1, err := v.Export(ctx, id1)
	require.NoError(t, err)
	rec2, _, err := v.Export(ctx, id2)
	require.NoError(t, err)

	// id2 keeps its own salt and nonce but gets id1's ciphertext
	forged := *rec2
	forged.Salt, forged.Nonce = rec1.Salt, rec1.Nonce
	require.NoError(t, v.Import(ctx, forged, blob1))

	_, _, err = v.Read(ctx, id2, []byte("pw"))
	require.ErrorIs(t, err, ErrWrongSecret)
}

func TestCorruptedHashIsCorruption(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	id, err := v.Encrypt(ctx, writeFile(t, "a", "data"), []byte("pw"))
	require.NoError(t, err)

	rec, blob, err := v.Export(ctx, id)
	require.NoError(t, err)
	rec.ContentHash = crypto.HashContent([]byte("other"))
	require.NoError(t, v.Import(ctx, *rec, blob))

	_, _, err = v.Read(ctx, id, []byte("pw"))
	require.ErrorIs(t, err, ErrCorruption)
}

func TestEncryptUnreadableSourceLeavesNothing(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	_, err := v.Encrypt(ctx, filepath.Join(t.TempDir(), "missing"), []byte("pw"))
	require.ErrorIs(t, err, ErrIO)

	records, err := v.List(ctx)
	require.NoError(t, err)
	require.Empty(t, records)

	info, err := v.Info(ctx)
	require.NoError(t, err)
	require.Zero(t, info.Files)
	require.Empty(t, info.Orphans)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	require.ErrorIs(t, v.Delete(ctx, "nope"), ErrNotFound)

	_, err := v.Decrypt(ctx, "nope", []byte("pw"), filepath.Join(t.TempDir(), "x"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = v.Get(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListInsertionOrderAndDeleteTombstone(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	var ids []string
	for _, name := range []string{"c", "a", "b"} {
		id, err := v.Encrypt(ctx, writeFile(t, name, name), []byte("pw"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	records, err := v.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		require.Equal(t, ids[i], r.ID)
	}

	require.NoError(t, v.Delete(ctx, ids[1]))

	m, err := v.Manifest(ctx)
	require.NoError(t, err)
	require.Len(t, m, 3)
	entry, ok := m.Find(ids[1])
	require.True(t, ok)
	require.True(t, entry.Deleted)
	require.Equal(t, uint64(2), entry.SyncVersion)

	info, err := v.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, info.Files)
	require.Equal(t, 1, info.Tombstones)
	require.Equal(t, int64(2), info.PlainBytes)
	require.Equal(t, int64(2+2*crypto.TagSize), info.StoredBytes)
}

func TestApplyRemoteDeleteAndImport(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	id, err := v.Encrypt(ctx, writeFile(t, "a", "alpha"), []byte("pw"))
	require.NoError(t, err)
	rec, blob, err := v.Export(ctx, id)
	require.NoError(t, err)

	require.NoError(t, v.ApplyRemoteDelete(ctx, storage.Tombstone{ID: id, SyncVersion: 5, DeletedAt: time.Now()}))
	_, err = v.Get(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)

	m, err := v.Manifest(ctx)
	require.NoError(t, err)
	entry, ok := m.Find(id)
	require.True(t, ok)
	require.True(t, entry.Deleted)
	require.Equal(t, uint64(5), entry.SyncVersion)

	// Applying again for an already missing file only updates the tombstone
	require.NoError(t, v.ApplyRemoteDelete(ctx, storage.Tombstone{ID: id, SyncVersion: 6, DeletedAt: time.Now()}))

	// Older remote tombstones do not replace newer local ones
	require.NoError(t, v.RecordTombstone(ctx, storage.Tombstone{ID: id, SyncVersion: 3}))
	m, _ = v.Manifest(ctx)
	entry, _ = m.Find(id)
	require.Equal(t, uint64(6), entry.SyncVersion)

	// Resurrection from a newer remote version
	rec.SyncVersion = 7
	require.NoError(t, v.Import(ctx, *rec, blob))
	plaintext, _, err := v.Read(ctx, id, []byte("pw"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(plaintext))

	m, _ = v.Manifest(ctx)
	entry, _ = m.Find(id)
	require.False(t, entry.Deleted)
	require.Equal(t, uint64(7), entry.SyncVersion)
}

func TestImportRejectsUnsafeNames(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	id, err := v.Encrypt(ctx, writeFile(t, "a.txt", "alpha"), []byte("pw"))
	require.NoError(t, err)
	rec, blob, err := v.Export(ctx, id)
	require.NoError(t, err)

	for _, name := range []string{"", ".", "..", "../escaped.txt", "/etc/passwd", "sub/a.txt", `..\escaped.txt`} {
		bad := *rec
		bad.OriginalName = name
		bad.SyncVersion = rec.SyncVersion + 1
		require.ErrorIs(t, v.Import(ctx, bad, blob), ErrUnsafeName, name)
	}

	// The stored record is untouched
	got, err := v.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "a.txt", got.OriginalName)
	require.Equal(t, rec.SyncVersion, got.SyncVersion)
}

func TestSafeName(t *testing.T) {
	require.True(t, safeName("notes.md"))
	require.True(t, safeName(".env"))
	require.True(t, safeName("..hidden"))
	require.False(t, safeName(".."))
	require.False(t, safeName("../x"))
	require.False(t, safeName("a/b"))
	require.False(t, safeName(`a\b`))
	require.False(t, safeName("/abs"))
}

func TestApplyRemoteDeleteKeepsNewerTombstone(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	id, err := v.Encrypt(ctx, writeFile(t, "a.txt", "alpha"), []byte("pw"))
	require.NoError(t, err)
	require.NoError(t, v.ApplyRemoteDelete(ctx, storage.Tombstone{ID: id, SyncVersion: 5}))

	require.NoError(t, v.ApplyRemoteDelete(ctx, storage.Tombstone{ID: id, SyncVersion: 3}))

	m, err := v.Manifest(ctx)
	require.NoError(t, err)
	entry, ok := m.Find(id)
	require.True(t, ok)
	require.True(t, entry.Deleted)
	require.Equal(t, uint64(5), entry.SyncVersion)
}

func TestSyncConfigAndStatePersist(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	cfg, err := v.SyncConfig(ctx)
	require.NoError(t, err)
	require.Nil(t, cfg)

	require.NoError(t, v.SaveSyncConfig(ctx, storage.SyncConfig{Kind: "local", Settings: map[string]string{"sync_dir": "/x"}}))
	require.NoError(t, v.SaveSyncState(ctx, storage.SyncState{Enabled: true}))

	reopened, err := Open(v.Dir(), Options{Iterations: crypto.MinIterations, Logger: logging.Discard()})
	require.NoError(t, err)

	cfg, err = reopened.SyncConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, "local", cfg.Kind)

	state, err := reopened.SyncState(ctx)
	require.NoError(t, err)
	require.True(t, state.Enabled)

	// Reopening keeps the vault identity
	id1, err := v.ID(ctx)
	require.NoError(t, err)
	id2, err := reopened.ID(ctx)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestOpenRejectsWeakIterations(t *testing.T) {
	_, err := Open(t.TempDir(), Options{Iterations: 1000})
	require.True(t, errors.Is(err, crypto.ErrWeakParameter))
}

func TestCanceledContext(t *testing.T) {
	v := newTestVault(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.List(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	src := writeFile(t, "app.env", "A=1\nB=2\n")
	id, err := v.Encrypt(ctx, src, []byte("pw"))
	require.NoError(t, err)

	out, err := v.Diff(ctx, id, []byte("pw"), src)
	require.NoError(t, err)
	require.Empty(t, out)

	require.NoError(t, os.WriteFile(src, []byte("A=1\nB=3\n"), 0644))
	out, err = v.Diff(ctx, id, []byte("pw"), src)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "--- vault/app.env\n+++ local/app.env\n"))
	require.Contains(t, out, "-B=2")
	require.Contains(t, out, "+B=3")

	_, err = v.Diff(ctx, id, []byte("bad"), src)
	require.ErrorIs(t, err, ErrWrongSecret)
}

func TestIsText(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    bool
	}{
		{"plain ASCII", []byte("Hello, World!\n"), true},
		{"UTF-8", []byte("Hello 世界! café"), true},
		{"empty", nil, true},
		{"null bytes", []byte("Hello\x00World"), false},
		{"invalid UTF-8", []byte{0x80, 0x81, 0x82}, false},
		{"control chars", []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x0B, 0x0C}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsText(tt.content); got != tt.want {
				t.Errorf("IsText() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTextSampleEndsMidRune(t *testing.T) {
	// "é" is two bytes and "世" three, so the sample boundary splits a rune
	for _, r := range []string{"é", "世"} {
		data := []byte("x" + strings.Repeat(r, BinarySampleSize))
		require.True(t, IsText(data), r)
	}

	// A real encoding error right at the boundary still counts
	data := append(bytes.Repeat([]byte("a"), BinarySampleSize-1), 0xff, 'a')
	require.False(t, IsText(data))
}

func TestTrimPartialRune(t *testing.T) {
	require.Equal(t, []byte("ab"), trimPartialRune([]byte("ab")))
	require.Equal(t, []byte("a"), trimPartialRune([]byte("a\xc3")))
	require.Equal(t, []byte("a"), trimPartialRune([]byte("a\xe4\xb8")))
	require.Equal(t, []byte("a\xe4\xb8\x96"), trimPartialRune([]byte("a\xe4\xb8\x96")))
	require.Equal(t, []byte("a\x80"), trimPartialRune([]byte("a\x80")))
}

func TestUnifiedDiffBinary(t *testing.T) {
	out := UnifiedDiff("img.bin", []byte{0, 1, 2}, []byte{0, 1, 3})
	require.Equal(t, "Binary file img.bin has changed\n", out)
}

func TestResolvePrefix(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t)

	for _, id := range []string{"abc-111", "abd-222", "xyz-333"} {
		require.NoError(t, v.Import(ctx, storage.FileRecord{ID: id, SyncVersion: 1}, []byte("blob")))
	}

	tests := []struct {
		prefix string
		want   string
		err    error
	}{
		{"abc", "abc-111", nil},
		{"xyz-333", "xyz-333", nil},
		{"x", "xyz-333", nil},
		{"ab", "", ErrAmbiguous},
		{"q", "", ErrNotFound},
		{"", "", ErrNotFound},
	}
	for _, tt := range tests {
		got, err := v.Resolve(ctx, tt.prefix)
		if tt.err != nil {
			require.ErrorIs(t, err, tt.err, tt.prefix)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}

	require.NoError(t, v.Delete(ctx, "xyz-333"))
	_, err := v.Resolve(ctx, "x")
	require.ErrorIs(t, err, ErrNotFound)
}
