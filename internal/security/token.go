package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-pcg-core/internal/model"
)

var (
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenMalformed    = errors.New("token malformed")
	ErrTokenKindMismatch = errors.New("token kind mismatch")
)

const issuer = "pcg-core"

type tokenClaims struct {
	Kind       model.TokenKind `json:"typ"`
	Generation int64           `json:"gen"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 bearer tokens for every token kind.
type TokenCodec struct {
	key []byte
	now func() time.Time
}

func NewTokenCodec(secret string) (*TokenCodec, error) {
	if secret == "" {
		return nil, errors.New("token signing key is empty")
	}
	return &TokenCodec{key: []byte(secret), now: time.Now}, nil
}

func (c *TokenCodec) SetClock(now func() time.Time) {
	c.now = now
}

// Issue mints a token of kind for subject. id becomes the jti; an empty id gets a fresh UUID.
func (c *TokenCodec) Issue(subject string, kind model.TokenKind, ttl time.Duration, generation int64, id string) (string, model.TokenClaims, error) {
	if subject == "" {
		return "", model.TokenClaims{}, errors.New("token subject is empty")
	}
	if id == "" {
		id = uuid.NewString()
	}

	now := c.now().UTC()
	claims := tokenClaims{
		Kind:       kind,
		Generation: generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", model.TokenClaims{}, fmt.Errorf("sign %s token: %w", kind, err)
	}

	return signed, toModel(claims), nil
}

// Verify checks signature, expiry and kind. A token is expired from the instant
// now reaches its expiry.
func (c *TokenCodec) Verify(token string, expected model.TokenKind) (model.TokenClaims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.TokenClaims{}, ErrTokenExpired
		}
		return model.TokenClaims{}, ErrTokenMalformed
	}

	if claims.Subject == "" {
		return model.TokenClaims{}, ErrTokenMalformed
	}

	if claims.Kind != expected {
		return model.TokenClaims{}, ErrTokenKindMismatch
	}

	return toModel(claims), nil
}

func toModel(claims tokenClaims) model.TokenClaims {
	out := model.TokenClaims{
		Subject:    claims.Subject,
		Kind:       claims.Kind,
		ID:         claims.ID,
		Generation: claims.Generation,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out
}
