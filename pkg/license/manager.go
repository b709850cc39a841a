package license

import (
	"errors"
	"fmt"
	"time"

	"trading-assistant/internal/transport"
)

// DefaultTTL bounds how long a registration token stays valid.
const DefaultTTL = 5 * time.Minute

// Registrar builds handshake registrations. With an empty Secret the token is omitted.
type Registrar struct {
	Secret  string
	Name    string
	Version string
	TTL     time.Duration

	clientID string
}

func NewRegistrar(secret, name, version string) *Registrar {
	return &Registrar{
		Secret:   secret,
		Name:     name,
		Version:  version,
		TTL:      DefaultTTL,
		clientID: ClientID(name),
	}
}

// ClientID returns the identity sent on every handshake.
func (r *Registrar) ClientID() string { return r.clientID }

// Registration returns a fresh handshake payload.
func (r *Registrar) Registration() (transport.Registration, error) {
	reg := transport.Registration{ClientID: r.clientID, Name: r.Name, Version: r.Version}
	if r.Secret == "" {
		return reg, nil
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	tok, err := CreateToken(r.Secret, r.clientID, r.Name, ttl)
	if err != nil {
		return transport.Registration{}, fmt.Errorf("sign registration: %w", err)
	}
	reg.Token = tok
	return reg, nil
}

// Validate checks a registration on the host side: the token must be signed
// with secret, unexpired and issued for reg.ClientID.
func Validate(secret string, reg transport.Registration) error {
	if secret == "" {
		return nil
	}
	if reg.Token == "" {
		return errors.New("registration token missing")
	}
	claims, err := ParseToken(secret, reg.Token)
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if claims.Machine != reg.ClientID {
		return errors.New("registration client mismatch")
	}
	return nil
}
