// Package ledger stores accepted events per author.
//
//   - Events are kept in insertion order per author
//   - Append-only; the only removal is EraseAuthor, which drops the author
//     entirely (no tombstone is kept)
package ledger

import (
	"sort"

	"github.com/karipov/nostrust/pkg/event"
)

// Ledger maps author pubkey to that author's events. A Ledger is not safe for
// concurrent use; the relay engine serializes access.
type Ledger struct {
	events map[string][]event.Event
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{events: make(map[string][]event.Event)}
}

// FromMap builds a ledger from a persisted author -> events map.
func FromMap(m map[string][]event.Event) *Ledger {
	l := New()
	for author, events := range m {
		l.events[author] = cloneEvents(events)
	}
	return l
}

// Append stores e under its author.
func (l *Ledger) Append(e event.Event) {
	l.events[e.PubKey] = append(l.events[e.PubKey], e.Clone())
}

// EraseAuthor irreversibly removes every event of pubkey.
func (l *Ledger) EraseAuthor(pubkey string) {
	delete(l.events, pubkey)
}

// EventsOf returns a copy of the author's events, or an empty slice.
func (l *Ledger) EventsOf(pubkey string) []event.Event {
	return cloneEvents(l.events[pubkey])
}

// Authors returns every author with stored events, sorted.
func (l *Ledger) Authors() []string {
	out := make([]string, 0, len(l.events))
	for author := range l.events {
		out = append(out, author)
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of stored events.
func (l *Ledger) Len() int {
	n := 0
	for _, events := range l.events {
		n += len(events)
	}
	return n
}

// Map returns a deep copy of the author -> events mapping.
func (l *Ledger) Map() map[string][]event.Event {
	out := make(map[string][]event.Event, len(l.events))
	for author, events := range l.events {
		out[author] = cloneEvents(events)
	}
	return out
}

// Clone returns an independent copy of l.
func (l *Ledger) Clone() *Ledger {
	return &Ledger{events: l.Map()}
}

func cloneEvents(events []event.Event) []event.Event {
	out := make([]event.Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}
