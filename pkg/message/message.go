// Package message defines the relay wire protocol: the ClientMessage and
// RelayMessage sum types and their externally tagged JSON encoding.
//
//	{"Event": {...}}
//	{"Req": ["<subscriber>", [<filter>, ...]]}
//	{"Close": ["<subscriber>", [<filter>, ...]]}
//	{"Get": "<subscriber>"}
//	"Info"
//
// Relay responses are {"Events": [...]} and {"Info": {...}}.
package message

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/karipov/nostrust/pkg/event"
)

// ErrMalformedMessage is returned for input that does not decode to a known variant.
var ErrMalformedMessage = errors.New("malformed message")

// ClientHandler receives one call per ClientMessage variant. Adding a variant
// adds a method here, so every handler must be extended before it compiles.
type ClientHandler interface {
	HandleEvent(ctx context.Context, msg Event) (RelayMessage, error)
	HandleReq(ctx context.Context, msg Req) (RelayMessage, error)
	HandleClose(ctx context.Context, msg Close) (RelayMessage, error)
	HandleGet(ctx context.Context, msg Get) (RelayMessage, error)
	HandleInfo(ctx context.Context, msg Info) (RelayMessage, error)
}

// ClientMessage is a message sent by a client to the relay.
type ClientMessage interface {
	json.Marshaler
	// Variant returns the wire tag, e.g. "Req".
	Variant() string
	dispatch(ctx context.Context, h ClientHandler) (RelayMessage, error)
}

// Dispatch routes msg to the matching handler method. A nil RelayMessage
// means the transition produces no response.
func Dispatch(ctx context.Context, h ClientHandler, msg ClientMessage) (RelayMessage, error) {
	return msg.dispatch(ctx, h)
}

// Event publishes a signed event.
type Event struct {
	Event event.Event
}

// Req follows the first author of the first filter.
type Req struct {
	SubscriberID string
	Filters      []event.Filter
}

// Close unfollows the first author of the first filter.
type Close struct {
	SubscriberID string
	Filters      []event.Filter
}

// Get fetches all events of the authors the subscriber follows.
type Get struct {
	SubscriberID string
}

// Info requests the relay descriptor.
type Info struct{}

func (Event) Variant() string { return "Event" }
func (Req) Variant() string   { return "Req" }
func (Close) Variant() string { return "Close" }
func (Get) Variant() string   { return "Get" }
func (Info) Variant() string  { return "Info" }

func (m Event) dispatch(ctx context.Context, h ClientHandler) (RelayMessage, error) {
	return h.HandleEvent(ctx, m)
}

func (m Req) dispatch(ctx context.Context, h ClientHandler) (RelayMessage, error) {
	return h.HandleReq(ctx, m)
}

func (m Close) dispatch(ctx context.Context, h ClientHandler) (RelayMessage, error) {
	return h.HandleClose(ctx, m)
}

func (m Get) dispatch(ctx context.Context, h ClientHandler) (RelayMessage, error) {
	return h.HandleGet(ctx, m)
}

func (m Info) dispatch(ctx context.Context, h ClientHandler) (RelayMessage, error) {
	return h.HandleInfo(ctx, m)
}

// RelayMessage is a response sent by the relay.
type RelayMessage interface {
	json.Marshaler
	Variant() string
	relayMessage()
}

// Events carries the events collected for a Get.
type Events struct {
	Events []event.Event
}

// InfoResponse carries the relay descriptor.
type InfoResponse struct {
	Descriptor InfoDescriptor
}

func (Events) Variant() string       { return "Events" }
func (InfoResponse) Variant() string { return "Info" }
func (Events) relayMessage()         {}
func (InfoResponse) relayMessage()   {}

// InfoDescriptor describes the relay (NIP-11) together with the measurement
// of the code currently serving it.
type InfoDescriptor struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Banner        *string  `json:"banner"`
	Icon          *string  `json:"icon"`
	Contact       *string  `json:"contact"`
	SupportedNIPs []int    `json:"supported_nips"`
	Software      string   `json:"software"`
	Version       string   `json:"version"`
	Attestation   [32]byte `json:"attestation"`
}
