// Package keyvault implements envelope encryption for per-message data keys.
//
// Every video message is encrypted under its own 32-byte data key (DEK).
// The vault wraps each DEK under a single long-lived master key using
// AES-256-GCM and serializes the result as "iv:tag:ciphertext" with each
// part base64-encoded. Plaintext key material only ever exists in the
// buffers returned to the caller; the vault itself never persists or logs it.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/floodyc/AfterLiving/internal/common"
)

const (
	// MasterKeySize is the required master key length in bytes.
	MasterKeySize = 32
	// DataKeySize is the length of every generated data key.
	DataKeySize = 32
	// ivSize is the GCM nonce length used for wrapping.
	ivSize = 16
	// tagSize is the GCM authentication tag length.
	tagSize = 16
)

// ErrBadMasterKey is returned by New when the configured master key does not
// decode to exactly MasterKeySize bytes. This is a fatal configuration error:
// the process must not serve traffic with a malformed master key.
var ErrBadMasterKey = errors.New("master key must be base64 of exactly 32 bytes")

// Vault wraps and unwraps data keys under the process master key.
type Vault struct {
	aead cipher.AEAD
}

// New validates the base64-encoded master key and constructs the vault.
func New(masterKeyB64 string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(masterKeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMasterKey, err)
	}
	if len(key) != MasterKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrBadMasterKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, err
	}

	common.WipeByteArray(key)

	return &Vault{aead: aead}, nil
}

// NewDataKey returns a fresh 32-byte data key from the CSPRNG.
func (v *Vault) NewDataKey() ([]byte, error) {
	return common.GenerateRandByteArray(DataKeySize), nil
}

// Wrap encrypts a data key under the master key and returns the textual
// envelope "iv:tag:ciphertext" (base64 parts).
func (v *Vault) Wrap(dek []byte) (string, error) {
	if len(dek) != DataKeySize {
		return "", fmt.Errorf("data key must be %d bytes, got %d", DataKeySize, len(dek))
	}

	iv := common.GenerateRandByteArray(ivSize)

	// Seal appends the 16-byte tag to the ciphertext.
	sealed := v.aead.Seal(nil, iv, dek, nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	enc := base64.StdEncoding
	return enc.EncodeToString(iv) + ":" + enc.EncodeToString(tag) + ":" + enc.EncodeToString(ct), nil
}

// Unwrap parses the three-part envelope and decrypts the data key.
//
// It returns common.ErrMalformedKeyEnvelope if the encoding is broken and
// common.ErrAuthenticationFailed if the tag check fails (tamper or wrong
// master key). Authentication failure is a security event, never a transient
// one, and must not be retried.
func (v *Vault) Unwrap(encrypted string) ([]byte, error) {
	parts := strings.Split(encrypted, ":")
	if len(parts) != 3 {
		return nil, common.ErrMalformedKeyEnvelope
	}

	enc := base64.StdEncoding
	iv, err := enc.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return nil, common.ErrMalformedKeyEnvelope
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, common.ErrMalformedKeyEnvelope
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil || len(ct) == 0 {
		return nil, common.ErrMalformedKeyEnvelope
	}

	dek, err := v.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, common.ErrAuthenticationFailed
	}

	return dek, nil
}
