package secrets

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(seed byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return key
}

func TestSealOpen(t *testing.T) {
	kr, err := NewKeyring(map[int][]byte{1: testKey(1)})
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}

	tests := []struct {
		name  string
		plain string
	}{
		{"empty", ""},
		{"jwt secret", "s3cr3t-jwt"},
		{"long", strings.Repeat("token", 40)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := kr.Seal(tt.plain)
			if err != nil {
				t.Fatalf("Seal: %v", err)
			}
			if !IsSealed(sealed) || !strings.HasPrefix(sealed, "ENC[v1]:") {
				t.Fatalf("sealed=%q, expected ENC[v1] prefix", sealed)
			}
			got, err := kr.Open(sealed)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if got != tt.plain {
				t.Fatalf("Open=%q, expected %q", got, tt.plain)
			}
		})
	}
}

func TestSealIsRandomised(t *testing.T) {
	kr, _ := NewKeyring(map[int][]byte{1: testKey(1)})
	a, _ := kr.Seal("same")
	b, _ := kr.Seal("same")
	if a == b {
		t.Fatalf("two seals of the same value are identical")
	}
}

func TestRotation(t *testing.T) {
	old, _ := NewKeyring(map[int][]byte{1: testKey(1)})
	sealed, _ := old.Seal("rotate-me")

	kr, err := NewKeyring(map[int][]byte{1: testKey(1), 2: testKey(9)})
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	if kr.Version() != 2 {
		t.Fatalf("Version=%d, expected 2", kr.Version())
	}
	resealed, err := kr.Reseal(sealed)
	if err != nil {
		t.Fatalf("Reseal: %v", err)
	}
	if !strings.HasPrefix(resealed, "ENC[v2]:") {
		t.Fatalf("resealed=%q, expected v2", resealed)
	}
	if got, _ := kr.Open(resealed); got != "rotate-me" {
		t.Fatalf("Open=%q", got)
	}
	if _, err := old.Open(resealed); !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("err=%v, expected ErrUnknownVersion", err)
	}
}

func TestOpenFailures(t *testing.T) {
	kr, _ := NewKeyring(map[int][]byte{1: testKey(1)})
	other, _ := NewKeyring(map[int][]byte{1: testKey(7)})
	foreign, _ := other.Seal("x")

	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"plain", "not sealed", ErrMalformed},
		{"no separator", "ENC[v1]abc", ErrMalformed},
		{"bad version", "ENC[vx]:abc", ErrMalformed},
		{"bad base64", "ENC[v1]:!!!", ErrMalformed},
		{"wrong key", foreign, ErrUnsealFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := kr.Open(tt.input); !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, expected %v", err, tt.want)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(MasterKeyEnv, base64.StdEncoding.EncodeToString(testKey(1)))
	t.Setenv(MasterKeyEnv+"_V3", base64.StdEncoding.EncodeToString(testKey(3)))
	kr, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if kr.Version() != 3 {
		t.Fatalf("Version=%d, expected 3", kr.Version())
	}

	t.Setenv(MasterKeyEnv, "")
	t.Setenv(MasterKeyEnv+"_V3", "")
	if _, err := FromEnv(); !errors.Is(err, ErrNoKey) {
		t.Fatalf("err=%v, expected ErrNoKey", err)
	}
}

func TestNewKeyringRejectsShortKey(t *testing.T) {
	if _, err := NewKeyring(map[int][]byte{1: []byte("short")}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("err=%v, expected ErrInvalidKey", err)
	}
}

func TestGenerateKey(t *testing.T) {
	k, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(k)
	if err != nil || len(raw) != KeySize {
		t.Fatalf("key=%q len=%d err=%v", k, len(raw), err)
	}
}
