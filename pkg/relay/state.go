// Package relay is the protocol state machine: it applies client messages to
// the event ledger and subscription graph, serializes access to them, and
// persists the whole state sealed to the running code identity.
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/karipov/nostrust/pkg/event"
	"github.com/karipov/nostrust/pkg/ledger"
	"github.com/karipov/nostrust/pkg/subscription"
)

// ErrCorruptState is returned when a decrypted snapshot cannot be decoded or
// its subscription graph is inconsistent.
var ErrCorruptState = errors.New("corrupt relay state")

// State is the aggregate the dispatcher mutates.
type State struct {
	Ledger *ledger.Ledger
	Graph  *subscription.Graph
}

// NewState returns an empty state.
func NewState() *State {
	return &State{Ledger: ledger.New(), Graph: subscription.New()}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	return &State{Ledger: s.Ledger.Clone(), Graph: s.Graph.Clone()}
}

// snapshot is the persisted form. subscribers maps an author to its followers
// and subscriptions maps a subscriber to the authors it follows.
type snapshot struct {
	Events        map[string][]event.Event `json:"events"`
	Subscribers   map[string][]string      `json:"subscribers"`
	Subscriptions map[string][]string      `json:"subscriptions"`
}

// EncodeState renders s as canonical JSON (RFC 8785), so equal states always
// produce identical plaintext.
func EncodeState(s *State) ([]byte, error) {
	raw, err := json.Marshal(snapshot{
		Events:        s.Ledger.Map(),
		Subscribers:   s.Graph.FollowersMap(),
		Subscriptions: s.Graph.FollowsMap(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize state: %w", err)
	}
	return canonical, nil
}

// DecodeState parses a snapshot produced by EncodeState.
func DecodeState(data []byte) (*State, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var snap snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	graph, err := subscription.FromMaps(snap.Subscriptions, snap.Subscribers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	for author, events := range snap.Events {
		for _, e := range events {
			if e.PubKey != author {
				return nil, fmt.Errorf("%w: event %s filed under author %s", ErrCorruptState, e.ID, author)
			}
		}
	}
	return &State{Ledger: ledger.FromMap(snap.Events), Graph: graph}, nil
}
