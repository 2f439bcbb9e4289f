package keyvault

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/floodyc/AfterLiving/internal/common"
)

func testMasterKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, MasterKeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(testMasterKey(t))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return v
}

func TestNew_RejectsBadMasterKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not base64", "%%%not-base64%%%"},
		{"too short", base64.StdEncoding.EncodeToString(make([]byte, 16))},
		{"too long", base64.StdEncoding.EncodeToString(make([]byte, 48))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.key); !errors.Is(err, ErrBadMasterKey) {
				t.Fatalf("expected ErrBadMasterKey, got %v", err)
			}
		})
	}
}

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	v := newTestVault(t)

	dek, err := v.NewDataKey()
	if err != nil {
		t.Fatalf("NewDataKey error: %v", err)
	}
	if len(dek) != DataKeySize {
		t.Fatalf("expected %d-byte DEK, got %d", DataKeySize, len(dek))
	}

	wrapped, err := v.Wrap(dek)
	if err != nil {
		t.Fatalf("Wrap error: %v", err)
	}
	if got := strings.Count(wrapped, ":"); got != 2 {
		t.Fatalf("expected iv:tag:ciphertext encoding, got %q", wrapped)
	}

	got, err := v.Unwrap(wrapped)
	if err != nil {
		t.Fatalf("Unwrap error: %v", err)
	}
	if !bytes.Equal(got, dek) {
		t.Fatalf("round trip mismatch")
	}
}

func TestWrap_FreshIVPerCall(t *testing.T) {
	v := newTestVault(t)
	dek, _ := v.NewDataKey()

	a, err := v.Wrap(dek)
	if err != nil {
		t.Fatalf("Wrap error: %v", err)
	}
	b, err := v.Wrap(dek)
	if err != nil {
		t.Fatalf("Wrap error: %v", err)
	}
	if a == b {
		t.Fatalf("two wraps of the same DEK produced identical envelopes")
	}
}

func TestWrap_RejectsWrongDEKLength(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Wrap(make([]byte, 16)); err == nil {
		t.Fatalf("expected error for 16-byte DEK")
	}
}

func TestUnwrap_TamperedTagFails(t *testing.T) {
	v := newTestVault(t)
	dek, _ := v.NewDataKey()
	wrapped, err := v.Wrap(dek)
	if err != nil {
		t.Fatalf("Wrap error: %v", err)
	}

	parts := strings.Split(wrapped, ":")
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode tag: %v", err)
	}
	tag[0] ^= 0x01 // single bit flip
	parts[1] = base64.StdEncoding.EncodeToString(tag)

	got, err := v.Unwrap(strings.Join(parts, ":"))
	if !errors.Is(err, common.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if got != nil {
		t.Fatalf("tampered unwrap must never return a value")
	}
}

func TestUnwrap_WrongMasterKeyFails(t *testing.T) {
	v := newTestVault(t)
	dek, _ := v.NewDataKey()
	wrapped, _ := v.Wrap(dek)

	other, err := New(base64.StdEncoding.EncodeToString(common.GenerateRandByteArray(32)))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := other.Unwrap(wrapped); !errors.Is(err, common.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestUnwrap_MalformedEnvelopes(t *testing.T) {
	v := newTestVault(t)

	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"one part", "abcd"},
		{"two parts", "abcd:abcd"},
		{"four parts", "a:b:c:d"},
		{"bad base64 iv", "@@@@:" + base64.StdEncoding.EncodeToString(make([]byte, 16)) + ":AAAA"},
		{"short iv", base64.StdEncoding.EncodeToString(make([]byte, 8)) + ":" + base64.StdEncoding.EncodeToString(make([]byte, 16)) + ":AAAA"},
		{"short tag", base64.StdEncoding.EncodeToString(make([]byte, 16)) + ":" + base64.StdEncoding.EncodeToString(make([]byte, 4)) + ":AAAA"},
		{"empty ciphertext", base64.StdEncoding.EncodeToString(make([]byte, 16)) + ":" + base64.StdEncoding.EncodeToString(make([]byte, 16)) + ":"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Unwrap(tc.in); !errors.Is(err, common.ErrMalformedKeyEnvelope) {
				t.Fatalf("expected ErrMalformedKeyEnvelope, got %v", err)
			}
		})
	}
}
