package relay

import (
	"context"
	"sync"

	"github.com/karipov/nostrust/pkg/message"
	"github.com/karipov/nostrust/pkg/observability"
)

// Engine is the single owner of the relay state. Every dispatch, snapshot
// and replacement runs under one mutex, so concurrent callers observe a
// total order.
type Engine struct {
	mu  sync.Mutex
	d   *Dispatcher
	obs *observability.Provider
}

// NewEngine wraps d. obs may be nil.
func NewEngine(d *Dispatcher, obs *observability.Provider) *Engine {
	return &Engine{d: d, obs: obs}
}

// Handle dispatches one client message. Info reads no state and is served
// without taking the lock.
func (e *Engine) Handle(ctx context.Context, msg message.ClientMessage) (resp message.RelayMessage, err error) {
	ctx, finish := observability.Track(ctx, e.obs, "relay.dispatch", observability.DispatchOperation(msg.Variant())...)
	defer func() { finish(err) }()

	if _, ok := msg.(message.Info); ok {
		return message.Dispatch(ctx, e.d, msg)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return message.Dispatch(ctx, e.d, msg)
}

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.d.state.Clone()
}

// Replace swaps the state wholesale.
func (e *Engine) Replace(s *State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.d.state = s
}
