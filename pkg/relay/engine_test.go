package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karipov/nostrust/pkg/event"
	"github.com/karipov/nostrust/pkg/message"
)

func TestEngine_ConcurrentDispatchIsSerialized(t *testing.T) {
	engine := newTestEngine(t)
	alice := newAuthor(t)

	posts := make([]event.Event, 50)
	for i := range posts {
		posts[i] = alice.post(t, 1, fmt.Sprintf("post %d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := fmt.Sprintf("sub-%d", i%5)
			_, _ = engine.Handle(context.Background(), follow(sub, alice.pubkey))
			_, _ = engine.Handle(context.Background(), message.Get{SubscriberID: sub})
		}(i)
	}
	for _, p := range posts {
		wg.Add(1)
		go func(p event.Event) {
			defer wg.Done()
			_, _ = engine.Handle(context.Background(), message.Event{Event: p})
		}(p)
	}
	wg.Wait()

	snap := engine.Snapshot()
	assert.Equal(t, 50, snap.Ledger.Len())
	assert.Len(t, snap.Graph.Followers(alice.pubkey), 20)
	require.NoError(t, snap.Graph.Consistent())
}

func TestEngine_SnapshotIsIndependent(t *testing.T) {
	engine := newTestEngine(t)
	send(t, engine, follow("sub", "a"))

	snap := engine.Snapshot()
	send(t, engine, follow("sub", "b"))

	authors, ok := snap.Graph.Follows("sub")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, authors)
}

func TestEngine_Replace(t *testing.T) {
	engine := newTestEngine(t)
	send(t, engine, follow("old", "a"))

	next := NewState()
	next.Graph.Follow("new", "b")
	engine.Replace(next)

	_, err := engine.Handle(context.Background(), message.Get{SubscriberID: "old"})
	assert.ErrorIs(t, err, ErrUnknownSubscriber)
	assert.Empty(t, getEvents(t, engine, "new"))
}
