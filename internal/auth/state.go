package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const stateIssuer = "mailmerge"

// ErrInvalidState is returned for a tampered, expired or foreign state value
var ErrInvalidState = errors.New("invalid oauth state")

// StateClaims are carried in the OAuth state parameter
type StateClaims struct {
	jwt.RegisteredClaims
	// ReturnTo is where the browser goes after the callback
	ReturnTo string `json:"rt,omitempty"`
}

// StateSigner issues and verifies signed OAuth state values
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner creates a StateSigner. An empty secret is replaced by a
// random one, which invalidates outstanding states on restart.
func NewStateSigner(secret string, ttl time.Duration) (*StateSigner, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate state secret: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateSigner{secret: key, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed state value
func (s *StateSigner) Issue(returnTo string) (string, error) {
	now := s.now()
	claims := StateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.New().String(),
		},
		ReturnTo: returnTo,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Verify checks a state value and returns its claims
func (s *StateSigner) Verify(state string) (*StateClaims, error) {
	token, err := jwt.ParseWithClaims(state, &StateClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	claims, ok := token.Claims.(*StateClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidState
	}
	return claims, nil
}
