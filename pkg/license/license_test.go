package license

import (
	"testing"
	"time"
)

func TestRegistrationRoundTrip(t *testing.T) {
	r := NewRegistrar("s3cret", "assistant", "1.0.0")
	reg, err := r.Registration()
	if err != nil {
		t.Fatalf("Registration: %v", err)
	}
	if reg.ClientID == "" || reg.Token == "" {
		t.Fatalf("incomplete registration: %+v", reg)
	}
	if err := Validate("s3cret", reg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := Validate("other", reg); err == nil {
		t.Fatalf("expected signature failure with wrong secret")
	}
	reg.ClientID = "someone-else"
	if err := Validate("s3cret", reg); err == nil {
		t.Fatalf("expected client mismatch")
	}
}

func TestRegistrationWithoutSecret(t *testing.T) {
	r := NewRegistrar("", "assistant", "1.0.0")
	reg, err := r.Registration()
	if err != nil || reg.Token != "" {
		t.Fatalf("reg=%+v err=%v", reg, err)
	}
	if err := Validate("", reg); err != nil {
		t.Fatalf("open host should accept: %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	tok, err := CreateToken("k", "m", "c", -time.Minute)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if _, err := ParseToken("k", tok); err == nil {
		t.Fatalf("expected expired token error")
	}
}
