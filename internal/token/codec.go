// Package token encodes and verifies attendance tokens.
//
// # Wire format
//
// A token is the base64url (unpadded) encoding of
//
//	[CBOR payload bytes] [MAC over the payload bytes]
//
// The payload is a Core Deterministic CBOR array
// [version, sessionID, issuedAtUnixNano, expiresAtUnixNano, nonce]. Every CBOR item carries
// its own length, so no field can bleed into the next one. The MAC size is fixed by the
// signer, so the split point is always len(raw) - signer.Size().
package token

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"

	"qr-attendance/backend/internal/security"
)

const (
	// Version is the payload layout version written by Encode.
	Version = 1
	// NonceSize is the length of the random nonce carried by every token.
	NonceSize = 16
	// MaxSessionIDLen bounds the session id carried in a token.
	MaxSessionIDLen = 256
	// maxEncodedLen bounds the input Decode will look at.
	maxEncodedLen = 1024
)

// ErrInvalidClaims is returned by Encode for claims that could never decode.
var ErrInvalidClaims = errors.New("token: invalid claims")

// Timestamps travel as Unix nanoseconds, which cover MinTime through MaxTime.
var (
	MinTime = time.Unix(0, math.MinInt64).UTC()
	MaxTime = time.Unix(0, math.MaxInt64).UTC()
)

// InRange reports whether t can be carried in a token.
func InRange(t time.Time) bool {
	return !t.Before(MinTime) && !t.After(MaxTime)
}

// Claims are the verified contents of a token.
type Claims struct {
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Nonce     []byte
}

type payload struct {
	_         struct{} `cbor:",toarray"`
	Version   uint64
	SessionID string
	IssuedAt  int64
	ExpiresAt int64
	Nonce     []byte
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("token: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		TagsMd:          cbor.TagsForbidden,
		MaxNestedLevels: 4,
	}.DecMode()
	if err != nil {
		panic("token: CBOR decoder initialization failed: " + err.Error())
	}
}

// Codec turns claims into signed transport strings and back.
type Codec struct {
	signer security.Signer
}

// NewCodec returns a Codec that signs with s. It panics if s is nil.
func NewCodec(s security.Signer) *Codec {
	if s == nil {
		panic("token: nil signer")
	}
	return &Codec{signer: s}
}

// Encode signs the claims and returns the transport string.
func (c *Codec) Encode(sessionID string, issuedAt, expiresAt time.Time, nonce []byte) (string, error) {
	if sessionID == "" || len(sessionID) > MaxSessionIDLen {
		return "", fmt.Errorf("%w: session id length %d", ErrInvalidClaims, len(sessionID))
	}
	if len(nonce) != NonceSize {
		return "", fmt.Errorf("%w: nonce length %d", ErrInvalidClaims, len(nonce))
	}
	if !InRange(issuedAt) || !InRange(expiresAt) {
		return "", fmt.Errorf("%w: timestamp outside %v..%v", ErrInvalidClaims, MinTime, MaxTime)
	}
	if expiresAt.Before(issuedAt) {
		return "", fmt.Errorf("%w: expiry before issue", ErrInvalidClaims)
	}
	body, err := encMode.Marshal(payload{
		Version:   Version,
		SessionID: sessionID,
		IssuedAt:  issuedAt.UnixNano(),
		ExpiresAt: expiresAt.UnixNano(),
		Nonce:     nonce,
	})
	if err != nil {
		return "", fmt.Errorf("token: encoding payload: %w", err)
	}
	sig := c.signer.Sign(body)
	raw := make([]byte, 0, len(body)+len(sig))
	raw = append(raw, body...)
	raw = append(raw, sig...)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode verifies tok and returns its claims. Any anomaly yields ok == false and zero Claims;
// claims are never returned before the MAC has been checked.
func (c *Codec) Decode(tok string) (Claims, bool) {
	if tok == "" || len(tok) > maxEncodedLen {
		return Claims{}, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return Claims{}, false
	}
	size := c.signer.Size()
	if len(raw) <= size {
		return Claims{}, false
	}
	body, sig := raw[:len(raw)-size], raw[len(raw)-size:]
	if !c.signer.Verify(body, sig) {
		return Claims{}, false
	}

	var p payload
	if err := decMode.Unmarshal(body, &p); err != nil {
		return Claims{}, false
	}
	// reject non-canonical encodings of the same claims
	canonical, err := encMode.Marshal(p)
	if err != nil || !bytes.Equal(canonical, body) {
		return Claims{}, false
	}
	if p.Version != Version || p.SessionID == "" || len(p.SessionID) > MaxSessionIDLen ||
		len(p.Nonce) != NonceSize || p.ExpiresAt < p.IssuedAt {
		return Claims{}, false
	}
	return Claims{
		SessionID: p.SessionID,
		IssuedAt:  time.Unix(0, p.IssuedAt).UTC(),
		ExpiresAt: time.Unix(0, p.ExpiresAt).UTC(),
		Nonce:     p.Nonce,
	}, true
}

// NewNonce returns NonceSize bytes from crypto/rand.
func NewNonce() ([]byte, error) {
	n := make([]byte, NonceSize)
	if _, err := rand.Read(n); err != nil {
		return nil, fmt.Errorf("token: generating nonce: %w", err)
	}
	return n, nil
}
