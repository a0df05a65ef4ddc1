package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go-pcg-core/internal/model"
	"go-pcg-core/internal/notify"
	"go-pcg-core/internal/repository"
	"go-pcg-core/internal/security"
)

const minPasswordLength = 8

const notifyTimeout = 30 * time.Second

// validatePassword checks length in runes for the minimum and in bytes for the
// maximum, since the hasher's limit is on encoded bytes.
func validatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", model.ErrInvalidInput, minPasswordLength)
	}
	if len(password) > security.MaxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", model.ErrInvalidInput, security.MaxPasswordBytes)
	}
	return nil
}

// ResetService runs the password-reset flow. A reset token is a reset-kind JWT
// whose jti is a random secret; only the secret's digest is stored.
type ResetService struct {
	identities repository.IdentityStore
	hasher     security.Hasher
	codec      *security.TokenCodec
	notifier   notify.Notifier
	ttl        time.Duration
	linkBase   string
	now        func() time.Time
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewResetService(identities repository.IdentityStore, hasher security.Hasher, codec *security.TokenCodec, notifier notify.Notifier, ttl time.Duration, linkBase string, logger *slog.Logger) *ResetService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetService{
		identities: identities,
		hasher:     hasher,
		codec:      codec,
		notifier:   notifier,
		ttl:        ttl,
		linkBase:   linkBase,
		now:        time.Now,
		logger:     logger,
	}
}

func (s *ResetService) SetClock(now func() time.Time) {
	s.now = now
}

// RequestReset starts a reset for email. Unknown and inactive accounts get the
// same nil result as known ones.
func (s *ResetService) RequestReset(ctx context.Context, email string) error {
	identity, err := s.identities.FindByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, model.ErrIdentityNotFound) {
		s.logger.DebugContext(ctx, "password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if !identity.IsActive() {
		s.logger.InfoContext(ctx, "password reset skipped for inactive account", "identity_id", identity.ID)
		return nil
	}

	secret, err := security.NewSecret()
	if err != nil {
		return err
	}

	now := s.now().UTC()
	if err := s.identities.SetResetSecret(ctx, identity.ID, security.HashSecret(secret), now.Add(s.ttl)); err != nil {
		return fmt.Errorf("store reset secret: %w", err)
	}

	token, _, err := s.codec.Issue(identity.ID, model.TokenReset, s.ttl, identity.TokenGeneration, secret)
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}

	msg := notify.Message{
		Kind:      notify.KindPasswordReset,
		Recipient: identity.Email,
		Subject:   "Password reset",
		Body:      fmt.Sprintf("Use this link to choose a new password. It expires in %s.\n%s", s.ttl, s.link(token)),
		Data:      map[string]string{"identity_id": identity.ID},
	}
	s.dispatch(ctx, msg, identity.ID)

	return nil
}

// dispatch sends msg off the request path so a known email answers as fast as
// an unknown one.
func (s *ResetService) dispatch(ctx context.Context, msg notify.Message, identityID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(sendCtx, msg); err != nil {
			s.logger.ErrorContext(sendCtx, "dispatch password reset", "identity_id", identityID, "error", err)
		}
	}()
}

// Wait blocks until every reset message handed to the notifier has been sent
// or has failed.
func (s *ResetService) Wait() {
	s.wg.Wait()
}

// CompleteReset consumes a reset token. Every token problem, including reuse
// and expiry, surfaces as ErrInvalidOrExpiredToken.
func (s *ResetService) CompleteReset(ctx context.Context, token string, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	claims, err := s.codec.Verify(strings.TrimSpace(token), model.TokenReset)
	if err != nil {
		s.logger.DebugContext(ctx, "reset token rejected", "reason", err)
		return model.ErrInvalidOrExpiredToken
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	_, err = s.identities.ConsumeResetSecret(ctx, claims.Subject, security.HashSecret(claims.ID), s.now().UTC(), digest)
	if errors.Is(err, model.ErrInvalidOrExpiredToken) {
		return model.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return fmt.Errorf("consume reset secret: %w", err)
	}

	s.logger.InfoContext(ctx, "password reset completed", "identity_id", claims.Subject)
	return nil
}

func (s *ResetService) link(token string) string {
	if s.linkBase == "" {
		return token
	}
	sep := "?"
	if strings.Contains(s.linkBase, "?") {
		sep = "&"
	}
	return s.linkBase + sep + "token=" + url.QueryEscape(token)
}
