package blobstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/karipov/nostrust/pkg/observability"
)

// RetryConfig bounds every call made through a RetryingStore.
type RetryConfig struct {
	// Timeout applies to each individual attempt.
	Timeout time.Duration
	// MaxTries caps attempts per call, including the first.
	MaxTries uint
	// MaxElapsed caps the total time spent on one call.
	MaxElapsed time.Duration
	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
}

// DefaultRetryConfig returns conservative production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Timeout:         10 * time.Second,
		MaxTries:        5,
		MaxElapsed:      time.Minute,
		InitialInterval: 200 * time.Millisecond,
	}
}

// RetryingStore retries ErrUnavailable with exponential backoff. ErrNotFound
// and every other error are returned immediately.
type RetryingStore struct {
	next    Store
	backend string
	cfg     RetryConfig
	obs     *observability.Provider
	logger  *slog.Logger
}

// NewRetryingStore wraps next. backend names the store in logs and metrics.
func NewRetryingStore(next Store, backend string, cfg RetryConfig, obs *observability.Provider) *RetryingStore {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 1
	}
	return &RetryingStore{
		next:    next,
		backend: backend,
		cfg:     cfg,
		obs:     obs,
		logger:  slog.Default().With("component", "blobstore", "backend", backend),
	}
}

// Backend returns the wrapped backend name.
func (s *RetryingStore) Backend() string { return s.backend }

// Get implements Store.
func (s *RetryingStore) Get(ctx context.Context, name string) ([]byte, error) {
	ctx, finish := observability.Track(ctx, s.obs, "blobstore.get", observability.BlobOperation(s.backend, name)...)
	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		attemptCtx, cancel := s.attemptContext(ctx)
		defer cancel()
		data, err := s.next.Get(attemptCtx, name)
		return data, s.classify(ctx, "get", name, err)
	}, s.options()...)
	finish(err)
	return data, err
}

// Put implements Store.
func (s *RetryingStore) Put(ctx context.Context, name string, data []byte) error {
	ctx, finish := observability.Track(ctx, s.obs, "blobstore.put", observability.BlobOperation(s.backend, name)...)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attemptCtx, cancel := s.attemptContext(ctx)
		defer cancel()
		err := s.next.Put(attemptCtx, name, data)
		return struct{}{}, s.classify(ctx, "put", name, err)
	}, s.options()...)
	finish(err)
	return err
}

func (s *RetryingStore) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// classify marks everything except ErrUnavailable and attempt timeouts as
// permanent.
func (s *RetryingStore) classify(ctx context.Context, op, name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = unavailable(op, name, err)
	}
	if !errors.Is(err, ErrUnavailable) {
		return backoff.Permanent(err)
	}
	s.logger.WarnContext(ctx, "blob store call failed, retrying", "op", op, "blob", name, "error", err)
	return err
}

func (s *RetryingStore) options() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	if s.cfg.InitialInterval > 0 {
		b.InitialInterval = s.cfg.InitialInterval
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.MaxTries),
	}
	if s.cfg.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(s.cfg.MaxElapsed))
	}
	return opts
}
