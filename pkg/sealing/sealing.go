// Package sealing binds the relay's persisted state to the code identity
// that wrote it.
//
// A KeyProvider derives a fresh symmetric key together with SealMaterial.
// Stored next to the ciphertext, the material lets the same code identity
// derive the identical key later. Any other identity (another build, another
// enclave, another root secret) fails with ErrKeyDerivationFailed before a
// single byte is decrypted.
package sealing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrKeyDerivationFailed means the running identity cannot reproduce the
	// key recorded by a SealMaterial.
	ErrKeyDerivationFailed = errors.New("sealing: key derivation failed")
	// ErrAuthenticationFailed means a sealed blob was tampered with, truncated,
	// or opened with the wrong key.
	ErrAuthenticationFailed = errors.New("sealing: authentication failed")
)

// KeySize is the length of derived sealing keys (AES-256).
const KeySize = 32

const (
	derivationLabel = "nostrust-seal-v1"
	checkLabel      = "nostrust-seal-check"
)

// sealKeyLabel prefixes the key id; the random half follows it.
var sealKeyLabel [16]byte

// KeyProvider derives sealing keys bound to the current code identity.
type KeyProvider interface {
	// SealKey returns a fresh key and the material needed to re-derive it.
	SealKey(ctx context.Context) ([]byte, SealMaterial, error)
	// UnsealKey re-derives the key recorded by m, or fails with
	// ErrKeyDerivationFailed.
	UnsealKey(ctx context.Context, m SealMaterial) ([]byte, error)
}

// SealMaterial is stored alongside sealed data. It is not secret.
type SealMaterial struct {
	Rand       [16]byte `json:"rand"`
	ISVSVN     uint16   `json:"isvsvn"`
	CPUSVN     [16]byte `json:"cpusvn"`
	KeyVersion int      `json:"key_version,omitempty"`
	Check      string   `json:"check"`
}

// identity is what a provider binds keys to.
type identity struct {
	root        []byte
	measurement [32]byte
	isvsvn      uint16
	cpusvn      [16]byte
}

func freshMaterial(id identity, keyVersion int) (SealMaterial, error) {
	m := SealMaterial{
		ISVSVN:     id.isvsvn,
		CPUSVN:     id.cpusvn,
		KeyVersion: keyVersion,
	}
	if _, err := io.ReadFull(rand.Reader, m.Rand[:]); err != nil {
		return SealMaterial{}, fmt.Errorf("sealing: randomness: %w", err)
	}
	return m, nil
}

// derive runs HKDF-SHA256 over the identity root secret. The key id
// (label || rand) is the salt; the code measurement and the SVNs recorded in
// the material form the info.
func derive(id identity, m SealMaterial) ([]byte, error) {
	if m.ISVSVN > id.isvsvn {
		return nil, fmt.Errorf("%w: material isvsvn %d is newer than running %d", ErrKeyDerivationFailed, m.ISVSVN, id.isvsvn)
	}
	if bytes.Compare(m.CPUSVN[:], id.cpusvn[:]) > 0 {
		return nil, fmt.Errorf("%w: material cpusvn is newer than running", ErrKeyDerivationFailed)
	}

	salt := make([]byte, 0, 32)
	salt = append(salt, sealKeyLabel[:]...)
	salt = append(salt, m.Rand[:]...)

	info := make([]byte, 0, len(derivationLabel)+32+2+16)
	info = append(info, derivationLabel...)
	info = append(info, id.measurement[:]...)
	info = binary.LittleEndian.AppendUint16(info, m.ISVSVN)
	info = append(info, m.CPUSVN[:]...)

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, id.root, salt, info), key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivationFailed, err)
	}
	return key, nil
}

func keyCheck(key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(checkLabel))
	return hex.EncodeToString(mac.Sum(nil))
}

func seal(id identity, keyVersion int) ([]byte, SealMaterial, error) {
	m, err := freshMaterial(id, keyVersion)
	if err != nil {
		return nil, SealMaterial{}, err
	}
	key, err := derive(id, m)
	if err != nil {
		return nil, SealMaterial{}, err
	}
	m.Check = keyCheck(key)
	return key, m, nil
}

func unseal(id identity, m SealMaterial) ([]byte, error) {
	want, err := hex.DecodeString(m.Check)
	if err != nil || len(want) != sha256.Size {
		return nil, fmt.Errorf("%w: material carries no valid check value", ErrKeyDerivationFailed)
	}
	key, err := derive(id, m)
	if err != nil {
		return nil, err
	}
	got, _ := hex.DecodeString(keyCheck(key))
	if !hmac.Equal(got, want) {
		return nil, fmt.Errorf("%w: running identity does not match the sealing identity", ErrKeyDerivationFailed)
	}
	return key, nil
}
