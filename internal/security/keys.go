package security

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

// ErrInvalidSecret is returned when a configured secret cannot be decoded or read.
var ErrInvalidSecret = errors.New("invalid secret")

// LoadSecret decodes a configured signing secret. s is "hex:<hex>", "base64:<std or url base64>",
// or a path to a file whose trimmed contents are the raw secret bytes.
func LoadSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidSecret
	}
	switch {
	case strings.HasPrefix(s, "hex:"):
		b, err := hex.DecodeString(strings.TrimPrefix(s, "hex:"))
		if err != nil || len(b) == 0 {
			return nil, ErrInvalidSecret
		}
		return b, nil
	case strings.HasPrefix(s, "base64:"):
		raw := strings.TrimPrefix(s, "base64:")
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			b, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
		}
		if err != nil || len(b) == 0 {
			return nil, ErrInvalidSecret
		}
		return b, nil
	}
	b, err := os.ReadFile(s)
	if err != nil {
		return nil, ErrInvalidSecret
	}
	b = []byte(strings.TrimSpace(string(b)))
	if len(b) == 0 {
		return nil, ErrInvalidSecret
	}
	return b, nil
}
