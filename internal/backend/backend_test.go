package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		settings map[string]string
		want     Kind
		wantErr  bool
	}{
		{"local", "local", map[string]string{"sync_dir": "/tmp/x"}, KindLocal, false},
		{"local missing dir", "local", map[string]string{}, "", true},
		{"local blank dir", "local", map[string]string{"sync_dir": "  "}, "", true},
		{"object store", "object_store", map[string]string{
			"access_key": "a", "secret_key": "s", "bucket": "b", "region": "r",
		}, KindObjectStore, false},
		{"s3 alias", "S3", map[string]string{
			"access_key": "a", "secret_key": "s", "bucket": "b", "region": "r", "extra": "ignored",
		}, KindObjectStore, false},
		{"object store missing region", "object_store", map[string]string{
			"access_key": "a", "secret_key": "s", "bucket": "b",
		}, "", true},
		{"token drive", "token_drive", map[string]string{"access_token": "t"}, KindTokenDrive, false},
		{"dropbox alias", "dropbox", map[string]string{"access_token": "t"}, KindTokenDrive, false},
		{"token drive missing token", "token_drive", nil, "", true},
		{"unknown kind", "ftp", map[string]string{"sync_dir": "x"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig(tt.kind, tt.settings)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, cfg.Kind)
		})
	}
}

func TestParseConfigNamesMissingKeys(t *testing.T) {
	_, err := ParseConfig("object_store", map[string]string{"bucket": "b"})
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Contains(t, err.Error(), "access_key, region, secret_key")
}

func TestParseConfigCopiesSettings(t *testing.T) {
	settings := map[string]string{"sync_dir": "/a"}
	cfg, err := ParseConfig("local", settings)
	require.NoError(t, err)

	settings["sync_dir"] = "/b"
	require.Equal(t, "/a", cfg.Settings["sync_dir"])
}

func TestNewDispatchesOnKind(t *testing.T) {
	ctx := context.Background()

	b, err := New(ctx, Config{Kind: KindLocal, Settings: map[string]string{"sync_dir": t.TempDir()}})
	require.NoError(t, err)
	require.IsType(t, &Local{}, b)
	require.NoError(t, b.(*Local).Close())

	b, err = New(ctx, Config{Kind: "dropbox", Settings: map[string]string{"access_token": "tok"}})
	require.NoError(t, err)
	require.IsType(t, &TokenDrive{}, b)

	_, err = New(ctx, Config{Kind: KindTokenDrive, Settings: map[string]string{"access_token": "tok", "timeout": "soon"}})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(ctx, Config{Kind: KindLocal})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
