package message

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/karipov/nostrust/pkg/event"
)

//go:embed schema.json
var clientSchemaJSON string

const clientSchemaURL = "https://nostrust.schemas.local/client-message.schema.json"

var (
	clientSchemaOnce sync.Once
	clientSchema     *jsonschema.Schema
	clientSchemaErr  error
)

func compiledClientSchema() (*jsonschema.Schema, error) {
	clientSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(clientSchemaURL, bytes.NewReader([]byte(clientSchemaJSON))); err != nil {
			clientSchemaErr = fmt.Errorf("client schema load failed: %w", err)
			return
		}
		clientSchema, clientSchemaErr = c.Compile(clientSchemaURL)
		if clientSchemaErr != nil {
			clientSchemaErr = fmt.Errorf("client schema compile failed: %w", clientSchemaErr)
		}
	})
	return clientSchema, clientSchemaErr
}

func tagged(variant string, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{variant: payload})
}

func nonNilFilters(filters []event.Filter) []event.Filter {
	if filters == nil {
		return []event.Filter{}
	}
	return filters
}

func (m Event) MarshalJSON() ([]byte, error) { return tagged("Event", m.Event) }

func (m Req) MarshalJSON() ([]byte, error) {
	return tagged("Req", []any{m.SubscriberID, nonNilFilters(m.Filters)})
}

func (m Close) MarshalJSON() ([]byte, error) {
	return tagged("Close", []any{m.SubscriberID, nonNilFilters(m.Filters)})
}

func (m Get) MarshalJSON() ([]byte, error) { return tagged("Get", m.SubscriberID) }

// MarshalJSON encodes the unit variant as a bare string.
func (Info) MarshalJSON() ([]byte, error) { return []byte(`"Info"`), nil }

func (m Events) MarshalJSON() ([]byte, error) {
	events := m.Events
	if events == nil {
		events = []event.Event{}
	}
	return tagged("Events", events)
}

func (m InfoResponse) MarshalJSON() ([]byte, error) { return tagged("Info", m.Descriptor) }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// DecodeClient parses and validates one client message. Every failure wraps
// ErrMalformedMessage.
func DecodeClient(data []byte) (ClientMessage, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, malformed("invalid json: %v", err)
	}
	schema, err := compiledClientSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, malformed("schema validation failed: %v", err)
	}

	if s, ok := doc.(string); ok && s == "Info" {
		return Info{}, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, malformed("invalid envelope: %v", err)
	}
	for variant, payload := range envelope {
		switch variant {
		case "Event":
			var e event.Event
			if err := json.Unmarshal(payload, &e); err != nil {
				return nil, malformed("event: %v", err)
			}
			return Event{Event: e}, nil
		case "Req":
			sub, filters, err := decodeSubscription(payload)
			if err != nil {
				return nil, err
			}
			return Req{SubscriberID: sub, Filters: filters}, nil
		case "Close":
			sub, filters, err := decodeSubscription(payload)
			if err != nil {
				return nil, err
			}
			return Close{SubscriberID: sub, Filters: filters}, nil
		case "Get":
			var sub string
			if err := json.Unmarshal(payload, &sub); err != nil {
				return nil, malformed("get: %v", err)
			}
			return Get{SubscriberID: sub}, nil
		case "Info":
			return Info{}, nil
		}
	}
	return nil, malformed("unknown variant")
}

func decodeSubscription(payload json.RawMessage) (string, []event.Filter, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(payload, &parts); err != nil || len(parts) != 2 {
		return "", nil, malformed("subscription must be [subscriber, filters]")
	}
	var sub string
	if err := json.Unmarshal(parts[0], &sub); err != nil {
		return "", nil, malformed("subscriber: %v", err)
	}
	var filters []event.Filter
	if err := json.Unmarshal(parts[1], &filters); err != nil {
		return "", nil, malformed("filters: %v", err)
	}
	if filters == nil {
		filters = []event.Filter{}
	}
	return sub, filters, nil
}

// DecodeRelay parses a relay response.
func DecodeRelay(data []byte) (RelayMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, malformed("invalid envelope: %v", err)
	}
	if len(envelope) != 1 {
		return nil, malformed("expected exactly one variant, got %d", len(envelope))
	}
	for variant, payload := range envelope {
		switch variant {
		case "Events":
			var events []event.Event
			if err := json.Unmarshal(payload, &events); err != nil {
				return nil, malformed("events: %v", err)
			}
			if events == nil {
				events = []event.Event{}
			}
			return Events{Events: events}, nil
		case "Info":
			var d InfoDescriptor
			if err := json.Unmarshal(payload, &d); err != nil {
				return nil, malformed("info: %v", err)
			}
			return InfoResponse{Descriptor: d}, nil
		}
	}
	return nil, malformed("unknown variant")
}
