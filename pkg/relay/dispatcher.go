package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/karipov/nostrust/pkg/attestation"
	"github.com/karipov/nostrust/pkg/event"
	"github.com/karipov/nostrust/pkg/message"
	"github.com/karipov/nostrust/pkg/observability"
	"github.com/karipov/nostrust/pkg/policy"
)

var (
	// ErrDegenerateFilter is returned for a Req or Close whose filter list is
	// empty or whose first filter names no author.
	ErrDegenerateFilter = errors.New("degenerate filter: first filter names no author")

	// ErrUnknownSubscriber is returned for a Get from a subscriber that has
	// never followed anyone.
	ErrUnknownSubscriber = errors.New("unknown subscriber")
)

// Rejection reasons reported to metrics and logs.
const (
	RejectVerification = "verification"
	RejectPolicy       = "policy"
	RejectPolicyError  = "policy_error"
)

// Dispatcher applies client messages to a State. It is not safe for
// concurrent use; Engine provides the exclusive access it needs.
type Dispatcher struct {
	state     *State
	info      *attestation.Builder
	admission *policy.Admission
	obs       *observability.Provider
	logger    *slog.Logger
}

var _ message.ClientHandler = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAdmission installs an admission policy evaluated after signature
// verification. A rejected event is dropped exactly like a forged one.
func WithAdmission(a *policy.Admission) Option {
	return func(d *Dispatcher) { d.admission = a }
}

// WithObservability reports rejections to p.
func WithObservability(p *observability.Provider) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.obs = p
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher over state. info builds the descriptor
// returned for Info messages.
func NewDispatcher(state *State, info *attestation.Builder, opts ...Option) *Dispatcher {
	if state == nil {
		state = NewState()
	}
	d := &Dispatcher{
		state:  state,
		info:   info,
		obs:    observability.Nop(),
		logger: slog.Default().With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleEvent stores, erases or ignores a verified event. Rejected events
// produce no response and no error.
func (d *Dispatcher) HandleEvent(ctx context.Context, msg message.Event) (message.RelayMessage, error) {
	e := msg.Event
	if !event.Verify(e) {
		d.reject(ctx, e, RejectVerification, nil)
		return nil, nil
	}
	if d.admission != nil {
		ok, err := d.admission.Admit(ctx, e)
		if err != nil {
			d.reject(ctx, e, RejectPolicyError, err)
			return nil, nil
		}
		if !ok {
			d.reject(ctx, e, RejectPolicy, nil)
			return nil, nil
		}
	}

	switch e.Kind {
	case event.KindMetadata:
		d.logger.DebugContext(ctx, "metadata event ignored", "pubkey", e.PubKey)
	case event.KindDeletion:
		d.state.Ledger.EraseAuthor(e.PubKey)
		d.logger.InfoContext(ctx, "author erased", "pubkey", e.PubKey)
	default:
		d.state.Ledger.Append(e)
	}
	return nil, nil
}

func (d *Dispatcher) reject(ctx context.Context, e event.Event, reason string, err error) {
	attrs := []any{"reason", reason, "id", e.ID, "pubkey", e.PubKey}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	d.logger.DebugContext(ctx, "event rejected", attrs...)
	d.obs.RecordRejected(ctx, reason, e.Kind)
}

// HandleReq follows the first author of the first filter.
func (d *Dispatcher) HandleReq(_ context.Context, msg message.Req) (message.RelayMessage, error) {
	author, err := firstAuthor(msg.Filters)
	if err != nil {
		return nil, fmt.Errorf("req from %s: %w", msg.SubscriberID, err)
	}
	d.state.Graph.Follow(msg.SubscriberID, author)
	return nil, nil
}

// HandleClose unfollows the first author of the first filter.
func (d *Dispatcher) HandleClose(_ context.Context, msg message.Close) (message.RelayMessage, error) {
	author, err := firstAuthor(msg.Filters)
	if err != nil {
		return nil, fmt.Errorf("close from %s: %w", msg.SubscriberID, err)
	}
	d.state.Graph.Unfollow(msg.SubscriberID, author)
	return nil, nil
}

func firstAuthor(filters []event.Filter) (string, error) {
	if len(filters) == 0 {
		return "", ErrDegenerateFilter
	}
	author, ok := filters[0].FirstAuthor()
	if !ok {
		return "", ErrDegenerateFilter
	}
	return author, nil
}

// HandleGet returns the events of every followed author, authors in follow
// order and each author's events in insertion order. An author followed twice
// contributes its events twice.
func (d *Dispatcher) HandleGet(_ context.Context, msg message.Get) (message.RelayMessage, error) {
	authors, ok := d.state.Graph.Follows(msg.SubscriberID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubscriber, msg.SubscriberID)
	}
	collected := make([]event.Event, 0)
	for _, author := range authors {
		collected = append(collected, d.state.Ledger.EventsOf(author)...)
	}
	return message.Events{Events: collected}, nil
}

// HandleInfo returns the relay descriptor with a fresh code measurement.
func (d *Dispatcher) HandleInfo(ctx context.Context, _ message.Info) (message.RelayMessage, error) {
	if d.info == nil {
		return nil, fmt.Errorf("relay info is not configured")
	}
	desc, err := d.info.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build relay info: %w", err)
	}
	return message.InfoResponse{Descriptor: desc}, nil
}
