package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/karipov/nostrust/pkg/api"
	"github.com/karipov/nostrust/pkg/attestation"
	"github.com/karipov/nostrust/pkg/auth"
	"github.com/karipov/nostrust/pkg/blobstore"
	"github.com/karipov/nostrust/pkg/config"
	"github.com/karipov/nostrust/pkg/observability"
	"github.com/karipov/nostrust/pkg/policy"
	"github.com/karipov/nostrust/pkg/relay"
	"github.com/karipov/nostrust/pkg/sealing"
	"github.com/karipov/nostrust/pkg/transport"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Run the relay",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config.LoadEnvFiles()
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			slog.SetDefault(newLogger(cfg, cmd.ErrOrStderr()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// components is everything runServer wires together.
type components struct {
	persister *relay.Persister
	server    *transport.Server
	limiter   *api.GlobalRateLimiter
	store     blobstore.Store
	obs       *observability.Provider
}

func (c *components) close(ctx context.Context) {
	c.limiter.Stop()
	if closer, ok := c.store.(io.Closer); ok {
		_ = closer.Close()
	}
	if err := c.obs.Shutdown(ctx); err != nil {
		slog.Warn("observability shutdown failed", "error", err)
	}
}

// build wires the relay from cfg. shutdown is called by the admin endpoint.
func build(ctx context.Context, cfg *config.Config, shutdown func()) (*components, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.OTLPEndpoint = cfg.OTelEndpoint
	obsCfg.Insecure = cfg.OTelInsecure
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}

	measurer, keys, err := sealingFor(ctx, cfg)
	if err != nil {
		return nil, err
	}

	md := config.DefaultRelayInfo(version)
	if cfg.RelayInfoFile != "" {
		if md, err = config.LoadRelayInfo(cfg.RelayInfoFile, version); err != nil {
			return nil, err
		}
	}

	opts := []relay.Option{relay.WithObservability(obs)}
	if cfg.AdmissionPolicy != "" {
		admission, err := policy.NewAdmission(cfg.AdmissionPolicy)
		if err != nil {
			return nil, fmt.Errorf("admission policy: %w", err)
		}
		opts = append(opts, relay.WithAdmission(admission))
	}
	engine := relay.NewEngine(relay.NewDispatcher(relay.NewState(), attestation.NewBuilder(md, measurer), opts...), obs)

	backend, err := blobstore.New(ctx, cfg.Blob())
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	store := blobstore.NewRetryingStore(backend, string(cfg.BlobStore), cfg.Retry(), obs)
	persister := relay.NewPersister(engine, keys, store, relay.PersisterConfig{
		Backend:    string(cfg.BlobStore),
		KeyTimeout: cfg.KeyTimeout,
		Obs:        obs,
	})

	var validator *auth.JWTValidator
	if cfg.AdminJWTSecret != "" {
		ks, err := auth.NewHMACKeySet([]byte(cfg.AdminJWTSecret))
		if err != nil {
			return nil, fmt.Errorf("admin auth: %w", err)
		}
		validator = auth.NewJWTValidator(ks)
	} else {
		slog.Warn("ADMIN_JWT_SECRET not set, admin endpoints are disabled")
	}

	limiter := api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	server := transport.New(transport.Options{
		Engine:      engine,
		Persistence: persister,
		Validator:   validator,
		Limiter:     limiter,
		Shutdown:    shutdown,
	})

	return &components{
		persister: persister,
		server:    server,
		limiter:   limiter,
		store:     backend,
		obs:       obs,
	}, nil
}

// sealingFor returns the measurer and key provider for the configured
// platform. Both are bound to the same code identity.
func sealingFor(ctx context.Context, cfg *config.Config) (attestation.Measurer, sealing.KeyProvider, error) {
	if cfg.KeyProvider == config.KeyProviderGramine {
		return attestation.GramineMeasurer{Dir: cfg.GramineDir}, sealing.NewGramineKeyProvider(cfg.GramineDir), nil
	}

	measurer := attestation.ExecutableMeasurer{}
	measurement, err := measurer.Measure(ctx)
	if err != nil {
		return nil, nil, err
	}
	ks, err := sealing.OpenKeystore(cfg.KeystoreFile())
	if err != nil {
		return nil, nil, fmt.Errorf("keystore: %w", err)
	}
	keys, err := sealing.NewSoftwareKeyProvider(ks, sealing.CodeIdentity{Measurement: measurement, Version: version})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("software sealing enabled", "measurement", attestation.Hex(measurement), "keystore", cfg.KeystoreFile())
	return measurer, keys, nil
}

// restore loads the saved state. Missing blobs mean a first start; every
// other failure is fatal, since an unreachable store is not an empty one.
func restore(ctx context.Context, p *relay.Persister) error {
	err := p.Load(ctx)
	switch {
	case err == nil:
		slog.Info("relay state restored")
		return nil
	case errors.Is(err, blobstore.ErrNotFound):
		slog.Info("no saved state, starting empty")
		return nil
	default:
		return fmt.Errorf("restore state: %w", err)
	}
}

// runServer serves until a signal or an admin shutdown, then stops accepting
// requests and saves the drained state.
func runServer(ctx context.Context, cfg *config.Config) error {
	shutdownRequested := make(chan struct{})
	var once sync.Once
	c, err := build(ctx, cfg, func() {
		once.Do(func() { close(shutdownRequested) })
	})
	if err != nil {
		return err
	}
	defer c.close(context.Background())

	if cfg.LoadOnStart {
		if err := restore(ctx, c.persister); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("relay listening", "addr", srv.Addr, "blob_store", cfg.BlobStore, "key_provider", cfg.KeyProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-shutdownRequested:
		slog.Info("shutdown requested by admin")
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	if err := c.persister.Save(shutdownCtx); err != nil {
		return fmt.Errorf("save on shutdown: %w", err)
	}
	slog.Info("relay state saved")
	return nil
}
