package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go-pcg-core/internal/metrics"
	"go-pcg-core/internal/model"
	"go-pcg-core/internal/repository"
	"go-pcg-core/internal/security"
)

// SessionService issues and rotates access/refresh token pairs.
type SessionService struct {
	identities  repository.IdentityStore
	hasher      security.Hasher
	codec       *security.TokenCodec
	accessTTL   time.Duration
	refreshTTL  time.Duration
	dummyDigest string
	logger      *slog.Logger
}

func NewSessionService(identities repository.IdentityStore, hasher security.Hasher, codec *security.TokenCodec, accessTTL time.Duration, refreshTTL time.Duration, logger *slog.Logger) (*SessionService, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Verified against when the identity is unknown so both paths cost one hash.
	dummy, err := hasher.Hash("pcg-core-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy digest: %w", err)
	}

	return &SessionService{
		identities:  identities,
		hasher:      hasher,
		codec:       codec,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		dummyDigest: dummy,
		logger:      logger,
	}, nil
}

func (s *SessionService) Login(ctx context.Context, username string, password string) (model.TokenPair, error) {
	identity, err := s.identities.FindByEmail(ctx, strings.TrimSpace(username))
	if errors.Is(err, model.ErrIdentityNotFound) {
		s.hasher.Verify(password, s.dummyDigest)
		metrics.AuthOutcomes.WithLabelValues("login", "invalid_credentials").Inc()
		return model.TokenPair{}, model.ErrInvalidCredentials
	}
	if err != nil {
		metrics.AuthOutcomes.WithLabelValues("login", "error").Inc()
		return model.TokenPair{}, fmt.Errorf("load identity: %w", err)
	}

	if !s.hasher.Verify(password, identity.PasswordHash) {
		metrics.AuthOutcomes.WithLabelValues("login", "invalid_credentials").Inc()
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	if !identity.IsActive() {
		metrics.AuthOutcomes.WithLabelValues("login", "inactive").Inc()
		return model.TokenPair{}, model.ErrAccountInactive
	}

	pair, err := s.issuePair(identity.ID, identity.TokenGeneration)
	if err != nil {
		metrics.AuthOutcomes.WithLabelValues("login", "error").Inc()
		return model.TokenPair{}, err
	}

	metrics.AuthOutcomes.WithLabelValues("login", "success").Inc()
	return pair, nil
}

// Refresh rotates a refresh token. Only a token carrying the identity's current
// generation is accepted, and the generation is advanced with a compare-and-set
// so concurrent use of one token yields exactly one new pair.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	pair, err := s.refresh(ctx, refreshToken)
	switch {
	case err == nil:
		metrics.AuthOutcomes.WithLabelValues("refresh", "success").Inc()
	case errors.Is(err, model.ErrInvalidRefreshToken):
		metrics.AuthOutcomes.WithLabelValues("refresh", "invalid").Inc()
	default:
		metrics.AuthOutcomes.WithLabelValues("refresh", "error").Inc()
	}
	return pair, err
}

func (s *SessionService) refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	claims, err := s.codec.Verify(strings.TrimSpace(refreshToken), model.TokenRefresh)
	if err != nil {
		s.logger.DebugContext(ctx, "refresh token rejected", "reason", err)
		return model.TokenPair{}, model.ErrInvalidRefreshToken
	}

	identity, err := s.identities.FindByID(ctx, claims.Subject)
	if errors.Is(err, model.ErrIdentityNotFound) {
		return model.TokenPair{}, model.ErrInvalidRefreshToken
	}
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("load identity: %w", err)
	}

	if !identity.IsActive() || identity.TokenGeneration != claims.Generation {
		return model.TokenPair{}, model.ErrInvalidRefreshToken
	}

	generation, err := s.identities.AdvanceGeneration(ctx, identity.ID, claims.Generation)
	if errors.Is(err, model.ErrGenerationConflict) {
		return model.TokenPair{}, model.ErrInvalidRefreshToken
	}
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	return s.issuePair(identity.ID, generation)
}

// Logout revokes every outstanding token of the identity.
func (s *SessionService) Logout(ctx context.Context, identityID string) error {
	if _, err := s.identities.BumpGeneration(ctx, identityID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	metrics.AuthOutcomes.WithLabelValues("logout", "success").Inc()
	return nil
}

func (s *SessionService) Me(ctx context.Context, identityID string) (model.AuthUser, error) {
	identity, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		return model.AuthUser{}, err
	}
	return identity.Public(), nil
}

func (s *SessionService) issuePair(subject string, generation int64) (model.TokenPair, error) {
	access, _, err := s.codec.Issue(subject, model.TokenAccess, s.accessTTL, generation, "")
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}

	refresh, _, err := s.codec.Issue(subject, model.TokenRefresh, s.refreshTTL, generation, "")
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}

	return model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}
