package model

import "time"

type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
	TokenReset   TokenKind = "reset"
)

// TokenClaims is the verified content of an access, refresh or reset token.
type TokenClaims struct {
	Subject    string
	Kind       TokenKind
	ID         string
	Generation int64
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}
