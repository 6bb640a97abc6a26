package security

import (
	"sync"
	"sync/atomic"
	"time"

	"qr-attendance/backend/internal/clock"
)

type retiredKey struct {
	key   macKey
	until time.Time
}

// keyringState is immutable once published.
type keyringState struct {
	current macKey
	retired []retiredKey
}

// Keyring is a Signer that signs with the current key and also verifies with retired keys
// until their grace period ends, so tokens minted just before a rotation stay valid.
// Readers never lock; Rotate and Retire swap the state atomically.
type Keyring struct {
	alg   Algorithm
	clock clock.Clock

	mu    sync.Mutex // serializes writers
	state atomic.Pointer[keyringState]
}

// NewKeyring returns a Keyring whose current key is derived from secret. It panics on a nil secret.
func NewKeyring(alg Algorithm, secret []byte, c clock.Clock) (*Keyring, error) {
	k, err := newMACKey(alg, secret)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = clock.Real()
	}
	kr := &Keyring{alg: alg, clock: c}
	kr.state.Store(&keyringState{current: k})
	return kr, nil
}

// Rotate installs secret as the current key. The previous current key keeps verifying for grace.
func (kr *Keyring) Rotate(secret []byte, grace time.Duration) error {
	k, err := newMACKey(kr.alg, secret)
	if err != nil {
		return err
	}
	kr.mu.Lock()
	defer kr.mu.Unlock()
	now := kr.clock.Now()
	old := kr.state.Load()
	next := &keyringState{current: k, retired: liveRetired(old.retired, now)}
	if grace > 0 {
		next.retired = append(next.retired, retiredKey{key: old.current, until: now.Add(grace)})
	}
	kr.state.Store(next)
	return nil
}

// Retire adds secret as a verify-only key until the given time. Used at startup for the
// secret that was current before the last deploy.
func (kr *Keyring) Retire(secret []byte, until time.Time) error {
	k, err := newMACKey(kr.alg, secret)
	if err != nil {
		return err
	}
	kr.mu.Lock()
	defer kr.mu.Unlock()
	old := kr.state.Load()
	next := &keyringState{
		current: old.current,
		retired: append(liveRetired(old.retired, kr.clock.Now()), retiredKey{key: k, until: until}),
	}
	kr.state.Store(next)
	return nil
}

// Sign returns the MAC of payload under the current key.
func (kr *Keyring) Sign(payload []byte) []byte {
	return kr.state.Load().current.sum(payload)
}

// Verify accepts a MAC from the current key or from any retired key still in its grace period.
func (kr *Keyring) Verify(payload, sig []byte) bool {
	if len(sig) != MACSize {
		return false
	}
	st := kr.state.Load()
	if st.current.verify(payload, sig) {
		return true
	}
	if len(st.retired) == 0 {
		return false
	}
	now := kr.clock.Now()
	for _, r := range st.retired {
		if now.After(r.until) {
			continue
		}
		if r.key.verify(payload, sig) {
			return true
		}
	}
	return false
}

// Size returns MACSize.
func (kr *Keyring) Size() int { return MACSize }

// Algorithm returns the MAC construction used by every key in the ring.
func (kr *Keyring) Algorithm() Algorithm { return kr.alg }

func liveRetired(in []retiredKey, now time.Time) []retiredKey {
	out := make([]retiredKey, 0, len(in)+1)
	for _, r := range in {
		if !now.After(r.until) {
			out = append(out, r)
		}
	}
	return out
}
