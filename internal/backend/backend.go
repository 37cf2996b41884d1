package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrUnavailable   = errors.New("backend unavailable")
	ErrAuth          = errors.New("backend rejected credentials")
	ErrNotFound      = errors.New("key not found")
	ErrInvalidConfig = errors.New("invalid sync configuration")
)

// Backend stores opaque blobs under string keys.
// Keys use '/' as separator regardless of platform.
type Backend interface {
	Put(ctx context.Context, key string, blob []byte) error
	// Get returns ErrNotFound for a missing key
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete of a missing key is not an error
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context) (map[string]struct{}, error)
}

// Kind names a backend variant
type Kind string

const (
	KindLocal       Kind = "local"
	KindObjectStore Kind = "object_store"
	KindTokenDrive  Kind = "token_drive"
)

var aliases = map[string]Kind{
	"s3":      KindObjectStore,
	"dropbox": KindTokenDrive,
}

var required = map[Kind][]string{
	KindLocal:       {"sync_dir"},
	KindObjectStore: {"access_key", "secret_key", "bucket", "region"},
	KindTokenDrive:  {"access_token"},
}

// Config selects and parameterizes a backend
type Config struct {
	Kind     Kind
	Settings map[string]string
}

// ParseKind resolves a kind name, accepting the s3 and dropbox aliases
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if k, ok := aliases[name]; ok {
		return k, nil
	}
	k := Kind(name)
	if _, ok := required[k]; !ok {
		return "", fmt.Errorf("%w: unknown backend kind %q", ErrInvalidConfig, name)
	}
	return k, nil
}

// ParseConfig validates settings for kind. Unknown keys are kept but ignored.
func ParseConfig(kind string, settings map[string]string) (Config, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return Config{}, err
	}

	var missing []string
	for _, key := range required[k] {
		if strings.TrimSpace(settings[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Config{}, fmt.Errorf("%w: %s requires %s", ErrInvalidConfig, k, strings.Join(missing, ", "))
	}

	copied := make(map[string]string, len(settings))
	for key, v := range settings {
		copied[key] = v
	}
	return Config{Kind: k, Settings: copied}, nil
}

// New builds the backend variant named by cfg.Kind
func New(ctx context.Context, cfg Config) (Backend, error) {
	cfg, err := ParseConfig(string(cfg.Kind), cfg.Settings)
	if err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case KindLocal:
		return NewLocal(cfg.Settings["sync_dir"])
	case KindObjectStore:
		return NewObjectStore(ctx, ObjectStoreOptions{
			AccessKey: cfg.Settings["access_key"],
			SecretKey: cfg.Settings["secret_key"],
			Bucket:    cfg.Settings["bucket"],
			Region:    cfg.Settings["region"],
			Endpoint:  cfg.Settings["endpoint"],
			Prefix:    cfg.Settings["prefix"],
		})
	case KindTokenDrive:
		opts := TokenDriveOptions{
			AccessToken: cfg.Settings["access_token"],
			Root:        cfg.Settings["root"],
			APIURL:      cfg.Settings["api_url"],
			ContentURL:  cfg.Settings["content_url"],
		}
		if t := cfg.Settings["timeout"]; t != "" {
			d, err := time.ParseDuration(t)
			if err != nil {
				return nil, fmt.Errorf("%w: timeout: %w", ErrInvalidConfig, err)
			}
			opts.Timeout = d
		}
		return NewTokenDrive(ctx, opts)
	}
	return nil, fmt.Errorf("%w: unknown backend kind %q", ErrInvalidConfig, cfg.Kind)
}
