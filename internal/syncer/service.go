package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/illarion/cryptovault/internal/backend"
	"github.com/illarion/cryptovault/internal/logging"
	"github.com/illarion/cryptovault/internal/storage"
)

var (
	ErrSyncDisabled  = errors.New("sync is disabled")
	ErrNotConfigured = errors.New("sync is not configured")
)

// ConfigStore is a Store that also persists the backend selection
type ConfigStore interface {
	Store
	SyncConfig(ctx context.Context) (*storage.SyncConfig, error)
	SaveSyncConfig(ctx context.Context, cfg storage.SyncConfig) error
}

// BackendFactory builds a backend from a validated config
type BackendFactory func(ctx context.Context, cfg backend.Config) (backend.Backend, error)

type ServiceOptions struct {
	RetryAttempts int
	RetryBase     time.Duration
	Logger        *logrus.Logger
	NewBackend    BackendFactory // defaults to backend.New
}

// Service is the sync surface used by the CLI: configure, run, status,
// disable and a periodic watch loop.
type Service struct {
	store ConfigStore
	opts  ServiceOptions
	log   *logrus.Logger

	mu sync.Mutex // one run at a time
}

func NewService(store ConfigStore, opts ServiceOptions) *Service {
	if opts.NewBackend == nil {
		opts.NewBackend = backend.New
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = backend.DefaultRetryAttempts
	}
	if opts.RetryBase == 0 {
		opts.RetryBase = backend.DefaultRetryBase
	}
	return &Service{store: store, opts: opts, log: logging.OrDefault(opts.Logger)}
}

func closeBackend(b backend.Backend) error {
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Configure validates and stores the backend selection and enables sync.
// The backend is built once so that bad settings fail here rather than on
// the first run.
func (s *Service) Configure(ctx context.Context, kind string, settings map[string]string) (err error) {
	cfg, err := backend.ParseConfig(kind, settings)
	if err != nil {
		return err
	}

	b, err := s.opts.NewBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, closeBackend(b))
	}()

	if err := s.store.SaveSyncConfig(ctx, storage.SyncConfig{Kind: string(cfg.Kind), Settings: cfg.Settings}); err != nil {
		return fmt.Errorf("save sync config: %w", err)
	}

	state, err := s.store.SyncState(ctx)
	if err != nil {
		return err
	}
	state.Enabled = true
	// A new remote has never seen this vault
	state.LastManifestDigest = ""
	if err := s.store.SaveSyncState(ctx, state); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}

	s.log.WithField("kind", cfg.Kind).Info("sync configured")
	return nil
}

// Run performs one sync against the configured backend
func (s *Service) Run(ctx context.Context) (report *Report, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.store.SyncState(ctx)
	if err != nil {
		return &Report{}, err
	}
	if !state.Enabled {
		return &Report{}, ErrSyncDisabled
	}

	stored, err := s.store.SyncConfig(ctx)
	if err != nil {
		return &Report{}, err
	}
	if stored == nil {
		return &Report{}, ErrNotConfigured
	}

	cfg, err := backend.ParseConfig(stored.Kind, stored.Settings)
	if err != nil {
		return &Report{}, err
	}
	b, err := s.opts.NewBackend(ctx, cfg)
	if err != nil {
		return &Report{}, err
	}
	defer func() {
		err = multierr.Append(err, closeBackend(b))
	}()

	engine := NewEngine(s.store, backend.WithRetry(b, s.opts.RetryAttempts, s.opts.RetryBase), s.log)
	report, err = engine.Run(ctx)
	if rerr := s.recordOutcome(ctx, engine.Phase(), err); rerr != nil {
		s.log.WithError(rerr).Warn("failed to record sync outcome")
	}
	return report, err
}

// recordOutcome persists how the last run ended so that Status can report it
// from another process.
func (s *Service) recordOutcome(ctx context.Context, phase Phase, runErr error) error {
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	state, err := s.store.SyncState(ctx)
	if err != nil {
		return err
	}
	state.LastPhase = phase.String()
	state.LastError = ""
	if runErr != nil {
		state.LastError = runErr.Error()
	}
	return s.store.SaveSyncState(ctx, state)
}

// Status describes the sync setup without touching data
type Status struct {
	storage.SyncState
	Kind        string
	LocalDigest string
	InSync      bool // local vault matches what the last run committed
}

func (s *Service) Status(ctx context.Context) (*Status, error) {
	state, err := s.store.SyncState(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{SyncState: state}

	cfg, err := s.store.SyncConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		st.Kind = cfg.Kind
	}

	m, err := s.store.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	st.LocalDigest = m.Digest()
	st.InSync = state.LastManifestDigest != "" && state.LastManifestDigest == st.LocalDigest
	return st, nil
}

// Disable turns sync off. Config and data are left in place.
func (s *Service) Disable(ctx context.Context) error {
	state, err := s.store.SyncState(ctx)
	if err != nil {
		return err
	}
	state.Enabled = false
	if err := s.store.SaveSyncState(ctx, state); err != nil {
		return err
	}
	s.log.Info("sync disabled")
	return nil
}

// Watch runs a sync immediately and then every interval until ctx is done.
// fn sees every run. Disabled sync and rejected credentials stop the loop.
func (s *Service) Watch(ctx context.Context, interval time.Duration, fn func(*Report, error)) error {
	if interval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := s.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if fn != nil {
			fn(report, err)
		}
		if errors.Is(err, ErrSyncDisabled) || errors.Is(err, ErrNotConfigured) || errors.Is(err, backend.ErrAuth) {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
