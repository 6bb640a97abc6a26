package security

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSecret_Hex(t *testing.T) {
	want := bytes.Repeat([]byte{0xab}, 32)
	got, err := LoadSecret("hex:" + hex.EncodeToString(want))
	if err != nil {
		t.Fatalf("LoadSecret: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("LoadSecret = %x, want %x", got, want)
	}
}

func TestLoadSecret_Base64(t *testing.T) {
	want := bytes.Repeat([]byte{0xfe, 0x01}, 16)
	for _, enc := range []string{
		base64.StdEncoding.EncodeToString(want),
		base64.RawURLEncoding.EncodeToString(want),
	} {
		got, err := LoadSecret("base64:" + enc)
		if err != nil {
			t.Fatalf("LoadSecret(%q): %v", enc, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("LoadSecret(%q) = %x, want %x", enc, got, want)
		}
	}
}

func TestLoadSecret_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.key")
	if err := os.WriteFile(path, []byte("0123456789abcdef0123456789abcdef\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadSecret(path)
	if err != nil {
		t.Fatalf("LoadSecret: %v", err)
	}
	if string(got) != "0123456789abcdef0123456789abcdef" {
		t.Errorf("LoadSecret = %q, want trimmed file contents", got)
	}
}

func TestLoadSecret_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"bad hex", "hex:zz"},
		{"empty hex", "hex:"},
		{"bad base64", "base64:!!!"},
		{"missing file", filepath.Join(t.TempDir(), "nope")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadSecret(tc.in); err != ErrInvalidSecret {
				t.Errorf("LoadSecret(%q) err = %v, want ErrInvalidSecret", tc.in, err)
			}
		})
	}
}
