package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karipov/nostrust/pkg/blobstore"
	"github.com/karipov/nostrust/pkg/observability"
	"github.com/karipov/nostrust/pkg/sealing"
)

// DefaultKeyTimeout bounds each key derivation call.
const DefaultKeyTimeout = 10 * time.Second

// Persister saves and loads the engine state through a blob store, sealed
// under a key only the running code identity can re-derive. The ciphertext
// is stored as blob "db" and the seal material as blob "sealdata".
type Persister struct {
	engine     *Engine
	keys       sealing.KeyProvider
	store      blobstore.Store
	backend    string
	keyTimeout time.Duration
	obs        *observability.Provider
	logger     *slog.Logger

	// mu keeps a save and a load from interleaving their blob writes/reads.
	mu sync.Mutex
}

// PersisterConfig carries the optional Persister settings.
type PersisterConfig struct {
	// Backend names the blob store in logs and metrics.
	Backend    string
	KeyTimeout time.Duration
	Obs        *observability.Provider
}

// NewPersister creates a persister for engine.
func NewPersister(engine *Engine, keys sealing.KeyProvider, store blobstore.Store, cfg PersisterConfig) *Persister {
	if cfg.KeyTimeout <= 0 {
		cfg.KeyTimeout = DefaultKeyTimeout
	}
	if cfg.Obs == nil {
		cfg.Obs = observability.Nop()
	}
	return &Persister{
		engine:     engine,
		keys:       keys,
		store:      store,
		backend:    cfg.Backend,
		keyTimeout: cfg.KeyTimeout,
		obs:        cfg.Obs,
		logger:     slog.Default().With("component", "persister", "backend", cfg.Backend),
	}
}

// Save snapshots the state under the engine lock, then seals and writes it.
// Dispatches may continue while the blobs are written; they are not part of
// the saved snapshot.
func (p *Persister) Save(ctx context.Context) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, finish := observability.Track(ctx, p.obs, "relay.save", observability.PersistOperation("save", p.backend)...)
	defer func() {
		finish(err)
		p.obs.RecordPersistence(ctx, "save", err)
	}()

	snap := p.engine.Snapshot()
	plaintext, err := EncodeState(snap)
	if err != nil {
		return err
	}

	keyCtx, cancel := context.WithTimeout(ctx, p.keyTimeout)
	key, material, err := p.keys.SealKey(keyCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("seal key: %w", err)
	}

	ciphertext, err := sealing.Encrypt(key, plaintext)
	if err != nil {
		return err
	}
	sealdata, err := json.Marshal(material)
	if err != nil {
		return fmt.Errorf("encode seal material: %w", err)
	}

	if err := p.store.Put(ctx, blobstore.BlobDB, []byte(ciphertext)); err != nil {
		return fmt.Errorf("write %s: %w", blobstore.BlobDB, err)
	}
	if err := p.store.Put(ctx, blobstore.BlobSealData, sealdata); err != nil {
		return fmt.Errorf("write %s: %w", blobstore.BlobSealData, err)
	}

	p.logger.InfoContext(ctx, "state saved",
		"authors", len(snap.Ledger.Authors()),
		"events", snap.Ledger.Len(),
		"bytes", len(ciphertext),
		"key_version", material.KeyVersion,
	)
	return nil
}

// Load reads, unseals and decodes the persisted state and replaces the live
// state with it. On any error the live state is left untouched. A missing
// blob is reported as blobstore.ErrNotFound; callers decide whether that
// means "start empty".
func (p *Persister) Load(ctx context.Context) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, finish := observability.Track(ctx, p.obs, "relay.load", observability.PersistOperation("load", p.backend)...)
	defer func() {
		finish(err)
		p.obs.RecordPersistence(ctx, "load", err)
	}()

	ciphertext, err := p.store.Get(ctx, blobstore.BlobDB)
	if err != nil {
		return fmt.Errorf("read %s: %w", blobstore.BlobDB, err)
	}
	sealdata, err := p.store.Get(ctx, blobstore.BlobSealData)
	if err != nil {
		return fmt.Errorf("read %s: %w", blobstore.BlobSealData, err)
	}

	var material sealing.SealMaterial
	if err := json.Unmarshal(sealdata, &material); err != nil {
		return fmt.Errorf("%w: malformed seal material: %v", blobstore.ErrUnavailable, err)
	}

	keyCtx, cancel := context.WithTimeout(ctx, p.keyTimeout)
	key, err := p.keys.UnsealKey(keyCtx, material)
	cancel()
	if err != nil {
		return fmt.Errorf("unseal key: %w", err)
	}

	plaintext, err := sealing.Decrypt(key, string(ciphertext))
	if err != nil {
		return err
	}
	state, err := DecodeState(plaintext)
	if err != nil {
		return err
	}

	p.engine.Replace(state)
	p.logger.InfoContext(ctx, "state loaded",
		"authors", len(state.Ledger.Authors()),
		"events", state.Ledger.Len(),
		"key_version", material.KeyVersion,
	)
	return nil
}
