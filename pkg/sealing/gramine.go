package sealing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/karipov/nostrust/pkg/attestation"
)

// mrenclaveKeyPath is the Gramine pseudo-file exposing the enclave sealing
// key derived under the MRENCLAVE policy.
const mrenclaveKeyPath = "keys/_sgx_mrenclave"

// GramineKeyProvider derives keys from the SGX sealing key that Gramine
// exposes inside the enclave. A different enclave build reads a different
// root key and therefore cannot reproduce the sealed key.
type GramineKeyProvider struct {
	dir string
}

// NewGramineKeyProvider uses the attestation filesystem rooted at dir
// (attestation.DefaultGramineDir when empty).
func NewGramineKeyProvider(dir string) *GramineKeyProvider {
	if dir == "" {
		dir = attestation.DefaultGramineDir
	}
	return &GramineKeyProvider{dir: dir}
}

// SealKey implements KeyProvider.
func (p *GramineKeyProvider) SealKey(ctx context.Context) ([]byte, SealMaterial, error) {
	id, err := p.identity(ctx)
	if err != nil {
		return nil, SealMaterial{}, err
	}
	return seal(id, 0)
}

// UnsealKey implements KeyProvider.
func (p *GramineKeyProvider) UnsealKey(ctx context.Context, m SealMaterial) ([]byte, error) {
	id, err := p.identity(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}
	return unseal(id, m)
}

func (p *GramineKeyProvider) identity(ctx context.Context) (identity, error) {
	report, err := attestation.ReadReport(ctx, p.dir)
	if err != nil {
		return identity{}, err
	}
	root, err := os.ReadFile(filepath.Join(p.dir, mrenclaveKeyPath))
	if err != nil {
		return identity{}, fmt.Errorf("sealing: read enclave sealing key: %w", err)
	}
	if len(root) != 16 {
		return identity{}, fmt.Errorf("sealing: enclave sealing key has %d bytes, want 16", len(root))
	}
	return identity{
		root:        root,
		measurement: report.MREnclave,
		isvsvn:      report.ISVSVN,
		cpusvn:      report.CPUSVN,
	}, nil
}

var _ KeyProvider = (*GramineKeyProvider)(nil)
