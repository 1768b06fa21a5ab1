package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
)

// Relay semantic convention attributes.
var (
	AttrMessageVariant = attribute.Key("nostrust.message.variant")
	AttrEventKind      = attribute.Key("nostrust.event.kind")
	AttrRejectReason   = attribute.Key("nostrust.reject.reason")
	AttrPersistOp      = attribute.Key("nostrust.persist.op")
	AttrBlobName       = attribute.Key("nostrust.blob.name")
	AttrBlobBackend    = attribute.Key("nostrust.blob.backend")
)

// Nop returns a disabled provider whose instruments are no-ops. It is the
// zero-configuration default for components that accept an optional Provider.
func Nop() *Provider {
	p := &Provider{
		config: &Config{Enabled: false},
		logger: slog.Default().With("component", "observability"),
	}
	_ = p.initInstruments()
	return p
}

// DispatchOperation returns attributes for a dispatcher call.
func DispatchOperation(variant string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrMessageVariant.String(variant)}
}

// PersistOperation returns attributes for a save or load cycle.
func PersistOperation(op, backend string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPersistOp.String(op),
		AttrBlobBackend.String(backend),
	}
}

// BlobOperation returns attributes for a single blob store call.
func BlobOperation(backend, name string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBlobBackend.String(backend),
		AttrBlobName.String(name),
	}
}

// Track is TrackOperation on a possibly nil provider.
func Track(ctx context.Context, p *Provider, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if p == nil {
		return ctx, func(error) {}
	}
	return p.TrackOperation(ctx, name, attrs...)
}
