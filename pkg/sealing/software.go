package sealing

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CodeIdentity names the code a software provider binds keys to: the
// measurement published in the relay descriptor and the release version.
type CodeIdentity struct {
	Measurement [32]byte
	Version     string
}

// SecurityVersion maps a semantic version onto a 16-bit security version
// number: major in the high byte, minor in the low byte. Patch releases share
// a number, so they can read each other's state; a newer minor or major can
// read older state but not the reverse.
func SecurityVersion(version string) (uint16, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return 0, fmt.Errorf("sealing: invalid version %q: %w", version, err)
	}
	if v.Major() > 0xff || v.Minor() > 0xff {
		return 0, fmt.Errorf("sealing: version %s out of range for a security version", v)
	}
	return uint16(v.Major())<<8 | uint16(v.Minor()), nil
}

// SoftwareKeyProvider derives keys from a local keystore secret bound to a
// CodeIdentity. It stands in for hardware sealing in development and tests.
type SoftwareKeyProvider struct {
	keystore    *Keystore
	measurement [32]byte
	isvsvn      uint16
}

// NewSoftwareKeyProvider creates a provider for the given identity.
func NewSoftwareKeyProvider(ks *Keystore, id CodeIdentity) (*SoftwareKeyProvider, error) {
	if ks == nil {
		return nil, fmt.Errorf("sealing: keystore is required")
	}
	svn, err := SecurityVersion(id.Version)
	if err != nil {
		return nil, err
	}
	return &SoftwareKeyProvider{keystore: ks, measurement: id.Measurement, isvsvn: svn}, nil
}

// SealKey implements KeyProvider using the active keystore secret.
func (p *SoftwareKeyProvider) SealKey(ctx context.Context) ([]byte, SealMaterial, error) {
	if err := ctx.Err(); err != nil {
		return nil, SealMaterial{}, err
	}
	version, root := p.keystore.active()
	return seal(p.identity(root), version)
}

// UnsealKey implements KeyProvider.
func (p *SoftwareKeyProvider) UnsealKey(ctx context.Context, m SealMaterial) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, ok := p.keystore.secret(m.KeyVersion)
	if !ok {
		return nil, fmt.Errorf("%w: keystore has no secret version %d", ErrKeyDerivationFailed, m.KeyVersion)
	}
	return unseal(p.identity(root), m)
}

func (p *SoftwareKeyProvider) identity(root []byte) identity {
	return identity{root: root, measurement: p.measurement, isvsvn: p.isvsvn}
}

var _ KeyProvider = (*SoftwareKeyProvider)(nil)
