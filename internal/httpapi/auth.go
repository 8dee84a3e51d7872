package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is how long minted admin tokens stay valid.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrEmptySubject is returned when minting a token without a subject
	ErrEmptySubject = errors.New("subject cannot be empty")
	// ErrEmptyToken is returned when validating an empty token
	ErrEmptyToken = errors.New("token cannot be empty")
)

// Claims are the admin token claims. Subject names the operator the token was issued to.
type Claims struct {
	Admin bool `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth mints and checks HS256 admin tokens.
type JWTAuth struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewJWTAuth creates a token authority. A non-positive ttl uses DefaultTokenTTL.
func NewJWTAuth(secretKey string, ttl time.Duration) *JWTAuth {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTAuth{
		secretKey: []byte(secretKey),
		ttl:       ttl,
		now:       time.Now,
	}
}

// GenerateToken creates a signed token for subject.
func (j *JWTAuth) GenerateToken(subject string, admin bool) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, ErrEmptySubject
	}

	now := j.now()
	expiresAt := now.Add(j.ttl)
	claims := Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "topicrelay",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses a token, with or without a "Bearer " prefix, and returns its claims.
func (j *JWTAuth) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return j.secretKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("topicrelay"),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}
