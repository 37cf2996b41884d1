package vault

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/illarion/cryptovault/internal/crypto"
)

const (
	BinarySampleSize   = 8192 // Bytes to sample for text/binary detection
	BinaryThresholdPct = 10   // Max % non-printable chars for text files
)

// IsText reports whether data looks like text.
//
// Heuristic, in order:
//  1. Null bytes present → binary
//  2. Invalid UTF-8 in the sample → binary
//  3. More than 10% non-printable control chars → binary
func IsText(data []byte) bool {
	if len(data) == 0 {
		return true
	}

	if bytes.IndexByte(data, 0) != -1 {
		return false
	}

	sample := data
	if len(sample) > BinarySampleSize {
		sample = trimPartialRune(sample[:BinarySampleSize])
	}
	if !utf8.Valid(sample) {
		return false
	}

	nonPrintable := 0
	for _, b := range sample {
		// tab, newline and carriage return are fine
		if b < 32 && b != 9 && b != 10 && b != 13 {
			nonPrintable++
		}
		if b == 127 {
			nonPrintable++
		}
	}

	return nonPrintable <= len(sample)*BinaryThresholdPct/100
}

// trimPartialRune drops a multi-byte sequence cut off at the end of b
func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		if !utf8.RuneStart(b[len(b)-i]) {
			continue
		}
		if !utf8.FullRune(b[len(b)-i:]) {
			return b[:len(b)-i]
		}
		break
	}
	return b
}

// SameContent compares two contents by SHA-256
func SameContent(a, b []byte) bool {
	ha := sha256.Sum256(a)
	hb := sha256.Sum256(b)
	return crypto.ConstantTimeCompare(ha[:], hb[:])
}

// UnifiedDiff renders a patch from vaultData to localData.
// Returns an empty string if they are identical.
func UnifiedDiff(name string, vaultData, localData []byte) string {
	if SameContent(vaultData, localData) {
		return ""
	}

	if !IsText(vaultData) || !IsText(localData) {
		return fmt.Sprintf("Binary file %s has changed\n", name)
	}

	dmp := diffmatchpatch.New()

	vaultStr, localStr := string(vaultData), string(localData)
	a, b, lineArray := dmp.DiffLinesToChars(vaultStr, localStr)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	patches := dmp.PatchMake(vaultStr, diffs)
	if len(patches) == 0 {
		return ""
	}

	var out strings.Builder
	fmt.Fprintf(&out, "--- vault/%s\n", name)
	fmt.Fprintf(&out, "+++ local/%s\n", name)
	out.WriteString(dmp.PatchToText(patches))
	return out.String()
}

// Diff decrypts the file with the given ID and diffs it against localPath
func (v *Vault) Diff(ctx context.Context, id string, secret []byte, localPath string) (string, error) {
	localData, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrIO, localPath, err)
	}
	defer crypto.ClearBytes(localData)

	vaultData, rec, err := v.Read(ctx, id, secret)
	if err != nil {
		return "", err
	}
	defer crypto.ClearBytes(vaultData)

	return UnifiedDiff(rec.OriginalName, vaultData, localData), nil
}
