// Package secrets seals configuration values with AES-256-GCM so that token
// and JWT secrets can live in a config file without being stored in clear.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// MasterKeyEnv holds the base64 version 1 key. Rotated keys use
	// MasterKeyEnv_V2, MasterKeyEnv_V3 and so on.
	MasterKeyEnv = "TA_MASTER_KEY"

	sealedPrefix = "ENC[v"
	maxVersions  = 10
)

var (
	ErrInvalidKey     = errors.New("invalid master key: must be 32 bytes")
	ErrNoKey          = errors.New("no master key configured")
	ErrMalformed      = errors.New("malformed sealed value")
	ErrUnsealFailed   = errors.New("unseal failed")
	ErrUnknownVersion = errors.New("sealed with an unknown key version")
)

// Keyring holds every loaded key version and seals with the newest one.
type Keyring struct {
	keys    map[int]cipher.AEAD
	current int
}

// NewKeyring builds a keyring from raw keys indexed by version.
func NewKeyring(keys map[int][]byte) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, ErrNoKey
	}
	kr := &Keyring{keys: make(map[int]cipher.AEAD, len(keys))}
	for v, key := range keys {
		if len(key) != KeySize {
			return nil, fmt.Errorf("key v%d: %w", v, ErrInvalidKey)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("key v%d: %w", v, err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("key v%d: %w", v, err)
		}
		kr.keys[v] = gcm
		if v > kr.current {
			kr.current = v
		}
	}
	return kr, nil
}

// FromEnv loads MasterKeyEnv and any rotated versions from the environment.
func FromEnv() (*Keyring, error) {
	keys := make(map[int][]byte)
	for v := 1; v <= maxVersions; v++ {
		name := MasterKeyEnv
		if v > 1 {
			name = fmt.Sprintf("%s_V%d", MasterKeyEnv, v)
		}
		raw := os.Getenv(name)
		if raw == "" {
			continue
		}
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		keys[v] = key
	}
	return NewKeyring(keys)
}

// Version is the key version new values are sealed with.
func (k *Keyring) Version() int { return k.current }

// Seal encrypts plaintext as ENC[vN]:base64(nonce|ciphertext).
func (k *Keyring) Seal(plaintext string) (string, error) {
	gcm := k.keys[k.current]
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("%s%d]:%s", sealedPrefix, k.current, base64.StdEncoding.EncodeToString(out)), nil
}

// Open decrypts a value produced by Seal with whichever key version sealed it.
func (k *Keyring) Open(sealed string) (string, error) {
	version, payload, err := split(sealed)
	if err != nil {
		return "", err
	}
	gcm, ok := k.keys[version]
	if !ok {
		return "", fmt.Errorf("v%d: %w", version, ErrUnknownVersion)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) < gcm.NonceSize() {
		return "", ErrMalformed
	}
	n := gcm.NonceSize()
	plain, err := gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", ErrUnsealFailed
	}
	return string(plain), nil
}

// Reseal moves a sealed value onto the current key version.
func (k *Keyring) Reseal(sealed string) (string, error) {
	plain, err := k.Open(sealed)
	if err != nil {
		return "", err
	}
	return k.Seal(plain)
}

// IsSealed reports whether v carries the sealed prefix.
func IsSealed(v string) bool { return strings.HasPrefix(v, sealedPrefix) }

// GenerateKey returns a fresh base64 master key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func split(sealed string) (int, string, error) {
	if !IsSealed(sealed) {
		return 0, "", ErrMalformed
	}
	rest := sealed[len(sealedPrefix):]
	end := strings.Index(rest, "]:")
	if end <= 0 {
		return 0, "", ErrMalformed
	}
	var version int
	if _, err := fmt.Sscanf(rest[:end], "%d", &version); err != nil || version < 1 {
		return 0, "", ErrMalformed
	}
	return version, rest[end+2:], nil
}
