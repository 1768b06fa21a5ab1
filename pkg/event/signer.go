package event

import (
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// SignatureSize is the length of a compact R||S signature.
const SignatureSize = 64

// GenerateKey creates a fresh secp256k1 key pair.
func GenerateKey() (*btcec.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return priv, nil
}

// ParsePrivateKey decodes a hex-encoded 32-byte secp256k1 private key.
func ParsePrivateKey(privHex string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid private key size: %d", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

// PublicKeyHex returns the compressed SEC1 public key of priv, hex encoded.
func PublicKeyHex(priv *btcec.PrivateKey) string {
	return hex.EncodeToString(priv.PubKey().SerializeCompressed())
}

// Sign signs the digest carried in e.ID and returns the hex compact signature.
func Sign(e Event, priv *btcec.PrivateKey) (string, error) {
	digest, err := hex.DecodeString(e.ID)
	if err != nil {
		return "", fmt.Errorf("invalid id hex: %w", err)
	}
	if len(digest) != 32 {
		return "", fmt.Errorf("invalid id size: %d", len(digest))
	}

	der := ecdsa.Sign(priv, digest).Serialize()

	var parsed struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(der, &parsed); err != nil {
		return "", fmt.Errorf("signature encoding failed: %w", err)
	}

	compact := make([]byte, SignatureSize)
	parsed.R.FillBytes(compact[:32])
	parsed.S.FillBytes(compact[32:])
	return hex.EncodeToString(compact), nil
}

// NewSigned builds an event authored by priv with id and sig filled in.
// A zero createdAt means now.
func NewSigned(priv *btcec.PrivateKey, kind int, tags [][]string, content string, createdAt int64) (Event, error) {
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}
	if createdAt < 0 || createdAt > MaxInteger {
		return Event{}, fmt.Errorf("created_at out of range: %d", createdAt)
	}
	if kind < 0 || kind > MaxInteger {
		return Event{}, fmt.Errorf("kind out of range: %d", kind)
	}
	if tags == nil {
		tags = [][]string{}
	}
	e := Event{
		PubKey:    PublicKeyHex(priv),
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	e.ID = ComputeID(e)

	sig, err := Sign(e, priv)
	if err != nil {
		return Event{}, err
	}
	e.Sig = sig
	return e, nil
}

// Verify reports whether e carries the canonical id for its content and a
// valid signature by e.PubKey over that id. Events whose created_at or kind
// fall outside [0, MaxInteger] never verify. It never panics.
func Verify(e Event) bool {
	if !e.InRange() {
		return false
	}
	blank := e.Clone()
	blank.ID, blank.Sig = "", ""
	recomputed := ComputeID(blank)
	if e.ID != recomputed {
		return false
	}

	digest, err := hex.DecodeString(recomputed)
	if err != nil {
		return false
	}
	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return false
	}
	pub, err := btcec.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil || len(sigBytes) != SignatureSize {
		return false
	}

	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(sigBytes[:32]); overflow || r.IsZero() {
		return false
	}
	if overflow := s.SetByteSlice(sigBytes[32:]); overflow || s.IsZero() {
		return false
	}
	return ecdsa.NewSignature(&r, &s).Verify(digest, pub)
}
