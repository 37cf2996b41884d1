package backend

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 500 * time.Millisecond
)

// Retrying retries ErrUnavailable failures of the wrapped backend with
// exponential backoff. Other errors, ErrAuth included, return at once.
type Retrying struct {
	next     Backend
	attempts int
	base     time.Duration
}

// WithRetry wraps b. attempts counts the first try.
func WithRetry(b Backend, attempts int, base time.Duration) *Retrying {
	if attempts < 1 {
		attempts = DefaultRetryAttempts
	}
	if base <= 0 {
		base = DefaultRetryBase
	}
	return &Retrying{next: b, attempts: attempts, base: base}
}

func (r *Retrying) do(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(r.attempts-1), retry.NewExponential(r.base))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *Retrying) Put(ctx context.Context, key string, blob []byte) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.next.Put(ctx, key, blob)
	})
}

func (r *Retrying) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		data, err = r.next.Get(ctx, key)
		return err
	})
	return data, err
}

func (r *Retrying) Delete(ctx context.Context, key string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.next.Delete(ctx, key)
	})
}

func (r *Retrying) ListKeys(ctx context.Context) (map[string]struct{}, error) {
	var keys map[string]struct{}
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		keys, err = r.next.ListKeys(ctx)
		return err
	})
	return keys, err
}
