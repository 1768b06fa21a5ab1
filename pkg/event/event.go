// Package event implements Nostr event identity and authenticity: canonical
// id derivation and secp256k1 signature verification.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/nbd-wtf/go-nostr"
)

// Reserved event kinds with relay-side semantics.
const (
	KindMetadata = 0
	KindDeletion = 5
)

// MaxInteger bounds created_at and kind. Larger values do not survive a
// round trip through an IEEE-754 double, which canonical JSON uses.
const MaxInteger = 1<<53 - 1

// ErrVerificationFailed is returned by callers that need an error value for an
// event whose id or signature does not check out.
var ErrVerificationFailed = errors.New("event verification failed")

// Event is a signed, content-addressed message.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// InRange reports whether created_at and kind lie in [0, MaxInteger].
func (e Event) InRange() bool {
	return e.CreatedAt >= 0 && e.CreatedAt <= MaxInteger &&
		e.Kind >= 0 && e.Kind <= MaxInteger
}

type eventFields Event

// MarshalJSON writes nil tags, and nil entries within them, as empty lists.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventFields(e)
	out.Tags = make([][]string, len(e.Tags))
	for i, t := range e.Tags {
		if t == nil {
			t = []string{}
		}
		out.Tags[i] = t
	}
	return json.Marshal(out)
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	out := e
	if e.Tags != nil {
		out.Tags = make([][]string, len(e.Tags))
		for i, t := range e.Tags {
			out.Tags[i] = append([]string(nil), t...)
		}
	}
	return out
}

// Serialize returns the NIP-01 commitment `[0,pubkey,created_at,kind,tags,content]`.
// The id and sig fields never participate.
func (e Event) Serialize() []byte {
	ne := nostr.Event{
		PubKey:    e.PubKey,
		CreatedAt: nostr.Timestamp(e.CreatedAt),
		Kind:      e.Kind,
		Tags:      make(nostr.Tags, len(e.Tags)),
		Content:   e.Content,
	}
	for i, t := range e.Tags {
		ne.Tags[i] = nostr.Tag(t)
	}
	return ne.Serialize()
}

// ComputeID derives the canonical event id: hex(sha256(Serialize())).
func ComputeID(e Event) string {
	sum := sha256.Sum256(e.Serialize())
	return hex.EncodeToString(sum[:])
}
