package license

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Machine string `json:"machine"`
	Client  string `json:"client,omitempty"`
	jwt.RegisteredClaims
}

// CreateToken signs a short-lived registration token for the handshake.
func CreateToken(secret, machine, client string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Machine: machine,
		Client:  client,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies the signature and returns claims.
func ParseToken(secret, token string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := tok.Claims.(*Claims); ok && tok.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
