package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karipov/nostrust/pkg/blobstore"
	"github.com/karipov/nostrust/pkg/event"
	"github.com/karipov/nostrust/pkg/message"
	"github.com/karipov/nostrust/pkg/sealing"
)

var testRootSecret = bytes.Repeat([]byte{0x42}, 32)

func newKeys(t *testing.T, measurement [32]byte, version string) sealing.KeyProvider {
	t.Helper()
	ks, err := sealing.NewMemoryKeystore(testRootSecret)
	require.NoError(t, err)
	kp, err := sealing.NewSoftwareKeyProvider(ks, sealing.CodeIdentity{Measurement: measurement, Version: version})
	require.NoError(t, err)
	return kp
}

type recordingStore struct {
	mu     sync.Mutex
	inner  *blobstore.MemoryStore
	puts   []string
	getErr error
	putErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{inner: blobstore.NewMemoryStore()}
}

func (s *recordingStore) Get(ctx context.Context, name string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.inner.Get(ctx, name)
}

func (s *recordingStore) Put(ctx context.Context, name string, data []byte) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.mu.Lock()
	s.puts = append(s.puts, name)
	s.mu.Unlock()
	return s.inner.Put(ctx, name, data)
}

// populated returns an engine holding two authors, a follow graph with a
// duplicate pair, and the events it stored.
func populated(t *testing.T) (*Engine, []event.Event) {
	t.Helper()
	engine := newTestEngine(t)
	alice := newAuthor(t)
	bob := newAuthor(t)

	events := []event.Event{alice.post(t, 1, "a1"), bob.post(t, 1, "<b1> & \"quotes\""), alice.post(t, 1, "a2")}
	for _, e := range events {
		send(t, engine, message.Event{Event: e})
	}
	send(t, engine, follow("sub", alice.pubkey))
	send(t, engine, follow("sub", bob.pubkey))
	send(t, engine, follow("sub", alice.pubkey))
	send(t, engine, follow("other", bob.pubkey))
	return engine, events
}

func TestPersister_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	keys := newKeys(t, testMeasurement, "1.2.3")

	engine, _ := populated(t)
	want := getEvents(t, engine, "sub")
	require.NoError(t, NewPersister(engine, keys, store, PersisterConfig{Backend: "memory"}).Save(ctx))
	assert.Equal(t, []string{blobstore.BlobDB, blobstore.BlobSealData}, store.puts)

	restored := newTestEngine(t)
	require.NoError(t, NewPersister(restored, keys, store, PersisterConfig{}).Load(ctx))

	assert.Equal(t, want, getEvents(t, restored, "sub"))
	assert.Equal(t, engine.Snapshot(), restored.Snapshot())
}

func TestPersister_PatchReleaseCanLoad(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()

	engine, _ := populated(t)
	require.NoError(t, NewPersister(engine, newKeys(t, testMeasurement, "1.2.3"), store, PersisterConfig{}).Save(ctx))

	restored := newTestEngine(t)
	require.NoError(t, NewPersister(restored, newKeys(t, testMeasurement, "1.2.9"), store, PersisterConfig{}).Load(ctx))
	assert.Equal(t, engine.Snapshot(), restored.Snapshot())
}

func TestPersister_BlobsAreOpaque(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	engine, events := populated(t)
	require.NoError(t, NewPersister(engine, newKeys(t, testMeasurement, "1.0.0"), store, PersisterConfig{}).Save(ctx))

	db, err := store.inner.Get(ctx, blobstore.BlobDB)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(string(db))
	require.NoError(t, err)
	for _, e := range events {
		assert.NotContains(t, string(raw), e.Content)
		assert.NotContains(t, string(raw), e.PubKey)
	}
}

// loadFailure loads store into a fresh engine with loadKeys, expects an
// error, and checks the engine kept its prior state.
func loadFailure(t *testing.T, store *recordingStore, loadKeys sealing.KeyProvider) error {
	t.Helper()
	target := newTestEngine(t)
	send(t, target, follow("live", "author"))
	before := target.Snapshot()

	err := NewPersister(target, loadKeys, store, PersisterConfig{}).Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, target.Snapshot(), "failed load must leave live state untouched")
	return err
}

func savedStore(t *testing.T) *recordingStore {
	t.Helper()
	store := newRecordingStore()
	engine, _ := populated(t)
	require.NoError(t, NewPersister(engine, newKeys(t, testMeasurement, "1.2.0"), store, PersisterConfig{}).Save(context.Background()))
	return store
}

func TestPersister_OtherCodeIdentityCannotLoad(t *testing.T) {
	other := testMeasurement
	other[31] ^= 0x01

	err := loadFailure(t, savedStore(t), newKeys(t, other, "1.2.0"))
	assert.ErrorIs(t, err, sealing.ErrKeyDerivationFailed)
}

func TestPersister_OlderVersionCannotLoad(t *testing.T) {
	err := loadFailure(t, savedStore(t), newKeys(t, testMeasurement, "1.1.0"))
	assert.ErrorIs(t, err, sealing.ErrKeyDerivationFailed)
}

func TestPersister_TamperedCiphertext(t *testing.T) {
	ctx := context.Background()
	store := savedStore(t)

	db, err := store.inner.Get(ctx, blobstore.BlobDB)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(string(db))
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x80
	require.NoError(t, store.inner.Put(ctx, blobstore.BlobDB, []byte(base64.StdEncoding.EncodeToString(raw))))

	err = loadFailure(t, store, newKeys(t, testMeasurement, "1.2.0"))
	assert.ErrorIs(t, err, sealing.ErrAuthenticationFailed)
}

func TestPersister_MalformedSealData(t *testing.T) {
	store := savedStore(t)
	require.NoError(t, store.inner.Put(context.Background(), blobstore.BlobSealData, []byte("not json")))

	err := loadFailure(t, store, newKeys(t, testMeasurement, "1.2.0"))
	assert.ErrorIs(t, err, blobstore.ErrUnavailable)
}

func TestPersister_NothingSavedYet(t *testing.T) {
	err := loadFailure(t, newRecordingStore(), newKeys(t, testMeasurement, "1.2.0"))
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestPersister_UnavailableIsNeverEmpty(t *testing.T) {
	store := savedStore(t)
	store.getErr = outage()

	err := loadFailure(t, store, newKeys(t, testMeasurement, "1.2.0"))
	assert.ErrorIs(t, err, blobstore.ErrUnavailable)
	assert.NotErrorIs(t, err, blobstore.ErrNotFound)
}

func TestPersister_SaveFailureReported(t *testing.T) {
	store := newRecordingStore()
	store.putErr = outage()
	engine, _ := populated(t)

	err := NewPersister(engine, newKeys(t, testMeasurement, "1.0.0"), store, PersisterConfig{}).Save(context.Background())
	assert.ErrorIs(t, err, blobstore.ErrUnavailable)
	assert.Empty(t, store.puts)
}

func TestPersister_ConcurrentSaveAndDispatch(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	keys := newKeys(t, testMeasurement, "1.0.0")
	engine, _ := populated(t)
	p := NewPersister(engine, keys, store, PersisterConfig{})
	alice := newAuthor(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Save(ctx))
		}()
		e := alice.post(t, 1, "concurrent")
		go func() {
			defer wg.Done()
			_, _ = engine.Handle(ctx, message.Event{Event: e})
		}()
	}
	wg.Wait()

	require.NoError(t, p.Save(ctx))
	restored := newTestEngine(t)
	require.NoError(t, NewPersister(restored, keys, store, PersisterConfig{}).Load(ctx))
	assert.Equal(t, engine.Snapshot(), restored.Snapshot())
}

func outage() error {
	return errors.Join(blobstore.ErrUnavailable, errors.New("connection refused"))
}
