// Package attestation measures the running code and builds the relay
// descriptor that clients use to decide whether to trust the relay.
package attestation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/karipov/nostrust/pkg/message"
)

// Measurer returns a 32-byte measurement of the currently executing code.
// Implementations measure on every call.
type Measurer interface {
	Measure(ctx context.Context) ([32]byte, error)
}

// ExecutableMeasurer hashes the running binary with SHA-256.
type ExecutableMeasurer struct {
	// Path overrides the executable location; empty means os.Executable.
	Path string
}

// Measure implements Measurer.
func (m ExecutableMeasurer) Measure(ctx context.Context) ([32]byte, error) {
	var out [32]byte

	path := m.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return out, fmt.Errorf("attestation: locate executable: %w", err)
		}
		path = exe
	}

	f, err := os.Open(path)
	if err != nil {
		return out, fmt.Errorf("attestation: open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, contextReader{ctx: ctx, r: f}); err != nil {
		return out, fmt.Errorf("attestation: hash %s: %w", path, err)
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

// StaticMeasurer returns a fixed measurement.
type StaticMeasurer [32]byte

// Measure implements Measurer.
func (m StaticMeasurer) Measure(context.Context) ([32]byte, error) { return m, nil }

// Hex renders a measurement the way operators compare it.
func Hex(m [32]byte) string { return hex.EncodeToString(m[:]) }

// Metadata is the static part of the relay descriptor.
type Metadata struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Banner        string `yaml:"banner"`
	Icon          string `yaml:"icon"`
	Contact       string `yaml:"contact"`
	SupportedNIPs []int  `yaml:"supported_nips"`
	Software      string `yaml:"software"`
	Version       string `yaml:"version"`
}

// Builder combines Metadata with a fresh measurement.
type Builder struct {
	Metadata Metadata
	Measurer Measurer
}

// NewBuilder creates a descriptor builder.
func NewBuilder(md Metadata, m Measurer) *Builder {
	return &Builder{Metadata: md, Measurer: m}
}

// Build measures the running code and returns the descriptor.
func (b *Builder) Build(ctx context.Context) (message.InfoDescriptor, error) {
	if b.Measurer == nil {
		return message.InfoDescriptor{}, fmt.Errorf("attestation: no measurer configured")
	}
	measurement, err := b.Measurer.Measure(ctx)
	if err != nil {
		return message.InfoDescriptor{}, err
	}

	nips := append([]int{}, b.Metadata.SupportedNIPs...)
	return message.InfoDescriptor{
		Name:          b.Metadata.Name,
		Description:   b.Metadata.Description,
		Banner:        optional(b.Metadata.Banner),
		Icon:          optional(b.Metadata.Icon),
		Contact:       optional(b.Metadata.Contact),
		SupportedNIPs: nips,
		Software:      b.Metadata.Software,
		Version:       b.Metadata.Version,
		Attestation:   measurement,
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
