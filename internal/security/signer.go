// Package security holds the keyed-MAC signer and the rotating keyring used to sign
// attendance tokens. Key material is never logged.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
)

// Algorithm names a MAC construction.
type Algorithm string

const (
	// AlgHMACSHA256 is HMAC with SHA-256.
	AlgHMACSHA256 Algorithm = "hmac-sha256"
	// AlgBLAKE3 is BLAKE3 in keyed mode.
	AlgBLAKE3 Algorithm = "blake3"
)

// MACSize is the length in bytes of every signature produced by this package.
const MACSize = 32

// MinSecretLen is the shortest accepted shared secret.
const MinSecretLen = 32

var (
	// ErrSecretTooShort is returned when a secret is shorter than MinSecretLen.
	ErrSecretTooShort = errors.New("signing secret too short")
	// ErrUnknownAlgorithm is returned for an unsupported Algorithm.
	ErrUnknownAlgorithm = errors.New("unknown mac algorithm")
)

// Signer produces and checks a MAC over a canonical payload.
type Signer interface {
	// Sign returns the MAC of payload.
	Sign(payload []byte) []byte
	// Verify reports whether sig is a valid MAC of payload. It never panics on malformed input.
	Verify(payload, sig []byte) bool
	// Size is the fixed signature length.
	Size() int
}

// ParseAlgorithm maps a config value to an Algorithm. Empty selects HMAC-SHA256.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", AlgHMACSHA256:
		return AlgHMACSHA256, nil
	case AlgBLAKE3:
		return AlgBLAKE3, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
	}
}

// macKey is a derived key bound to one algorithm.
type macKey struct {
	alg Algorithm
	key []byte
}

// newMACKey derives the MAC key from secret with HKDF-SHA256. The algorithm is part of the
// info label so the same secret never yields the same key for two constructions.
func newMACKey(alg Algorithm, secret []byte) (macKey, error) {
	if secret == nil {
		panic("security: nil signing secret")
	}
	if alg != AlgHMACSHA256 && alg != AlgBLAKE3 {
		return macKey{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
	if len(secret) < MinSecretLen {
		return macKey{}, ErrSecretTooShort
	}
	key := make([]byte, MACSize)
	r := hkdf.New(sha256.New, secret, nil, []byte("qr-attendance token mac v1 "+string(alg)))
	if _, err := io.ReadFull(r, key); err != nil {
		return macKey{}, err
	}
	return macKey{alg: alg, key: key}, nil
}

func (k macKey) sum(payload []byte) []byte {
	switch k.alg {
	case AlgBLAKE3:
		h, err := blake3.NewKeyed(k.key)
		if err != nil {
			// key is always MACSize bytes, which is the only length NewKeyed rejects otherwise
			panic("security: blake3 keyed hasher: " + err.Error())
		}
		_, _ = h.Write(payload)
		return h.Sum(nil)
	default:
		h := hmac.New(sha256.New, k.key)
		_, _ = h.Write(payload)
		return h.Sum(nil)
	}
}

func (k macKey) verify(payload, sig []byte) bool {
	if len(sig) != MACSize {
		return false
	}
	return subtle.ConstantTimeCompare(k.sum(payload), sig) == 1
}

// StaticSigner signs and verifies with a single key.
type StaticSigner struct {
	key macKey
}

// NewSigner returns a single-key Signer. It panics on a nil secret.
func NewSigner(alg Algorithm, secret []byte) (*StaticSigner, error) {
	k, err := newMACKey(alg, secret)
	if err != nil {
		return nil, err
	}
	return &StaticSigner{key: k}, nil
}

// Sign returns the MAC of payload.
func (s *StaticSigner) Sign(payload []byte) []byte { return s.key.sum(payload) }

// Verify reports whether sig is the MAC of payload.
func (s *StaticSigner) Verify(payload, sig []byte) bool { return s.key.verify(payload, sig) }

// Size returns MACSize.
func (s *StaticSigner) Size() int { return MACSize }
