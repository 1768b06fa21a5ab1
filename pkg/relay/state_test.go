package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karipov/nostrust/pkg/event"
	"github.com/karipov/nostrust/pkg/message"
)

func TestEncodeState_Shape(t *testing.T) {
	s := NewState()
	s.Graph.Follow("sub", "author")

	data, err := EncodeState(s)
	require.NoError(t, err)
	assert.Equal(t, `{"events":{},"subscribers":{"author":["sub"]},"subscriptions":{"sub":["author"]}}`, string(data))
}

func TestEncodeState_Deterministic(t *testing.T) {
	engine, _ := populated(t)
	snap := engine.Snapshot()

	first, err := EncodeState(snap)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := EncodeState(snap.Clone())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDecodeState_RoundTrip(t *testing.T) {
	engine, _ := populated(t)
	snap := engine.Snapshot()

	data, err := EncodeState(snap)
	require.NoError(t, err)
	back, err := DecodeState(data)
	require.NoError(t, err)
	assert.Equal(t, snap, back)
}

func TestDecodeState_Empty(t *testing.T) {
	s, err := DecodeState([]byte(`{"events":{},"subscribers":{},"subscriptions":{}}`))
	require.NoError(t, err)
	assert.Zero(t, s.Ledger.Len())
	_, ok := s.Graph.Follows("anyone")
	assert.False(t, ok)
}

func TestDecodeState_Corrupt(t *testing.T) {
	inputs := map[string]string{
		"not json":           `{{`,
		"unknown field":      `{"events":{},"subscribers":{},"subscriptions":{},"extra":1}`,
		"inconsistent graph": `{"events":{},"subscribers":{},"subscriptions":{"s":["a"]}}`,
		"multiplicity":       `{"events":{},"subscribers":{"a":["s"]},"subscriptions":{"s":["a","a"]}}`,
		"misfiled event":     `{"events":{"a":[{"id":"x","pubkey":"b","created_at":1,"kind":1,"tags":[],"content":"","sig":""}]},"subscribers":{},"subscriptions":{}}`,
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeState([]byte(in))
			assert.ErrorIs(t, err, ErrCorruptState)
		})
	}
}

func TestSnapshotUsesPersistedNames(t *testing.T) {
	engine, _ := populated(t)
	data, err := EncodeState(engine.Snapshot())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw, 3)
	for _, k := range []string{"events", "subscribers", "subscriptions"} {
		assert.Contains(t, raw, k)
	}
}

func TestState_TimestampsBeyondDoublePrecisionAreNotStored(t *testing.T) {
	engine := newTestEngine(t)
	a := newAuthor(t)

	e := event.Event{PubKey: a.pubkey, CreatedAt: 1<<53 + 1, Kind: 1, Tags: [][]string{}, Content: "far future"}
	e.ID = event.ComputeID(e)
	sig, err := event.Sign(e, a.priv)
	require.NoError(t, err)
	e.Sig = sig

	send(t, engine, message.Event{Event: e})
	assert.Zero(t, engine.Snapshot().Ledger.Len())
}

func TestState_MaxTimestampSurvivesEncoding(t *testing.T) {
	engine := newTestEngine(t)
	a := newAuthor(t)

	e, err := event.NewSigned(a.priv, 1, [][]string{{"t", "edge"}}, "edge", event.MaxInteger)
	require.NoError(t, err)
	send(t, engine, message.Event{Event: e})

	data, err := EncodeState(engine.Snapshot())
	require.NoError(t, err)
	back, err := DecodeState(data)
	require.NoError(t, err)

	stored := back.Ledger.EventsOf(a.pubkey)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(event.MaxInteger), stored[0].CreatedAt)
	assert.True(t, event.Verify(stored[0]))
}
