package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-pcg-core/internal/model"
	"go-pcg-core/internal/repository"
	"go-pcg-core/internal/security"
	"go-pcg-core/pkg/apierror"
)

// IdentityService manages accounts on behalf of administrators.
type IdentityService struct {
	identities repository.IdentityStore
	hasher     security.Hasher
	logger     *slog.Logger
	now        func() time.Time
}

func NewIdentityService(identities repository.IdentityStore, hasher security.Hasher, logger *slog.Logger) *IdentityService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityService{identities: identities, hasher: hasher, logger: logger, now: time.Now}
}

func (s *IdentityService) Register(ctx context.Context, req model.CreateIdentityRequest) (model.AuthUser, error) {
	role, err := model.ParseRole(req.Role)
	if err != nil {
		return model.AuthUser{}, apierror.BadRequest("invalid role", req.Role)
	}
	if err := validatePassword(req.Password); err != nil {
		return model.AuthUser{}, err
	}

	digest, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.AuthUser{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	identity := model.Identity{
		ID:           uuid.NewString(),
		Email:        strings.TrimSpace(req.Email),
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: digest,
		Role:         role,
		Status:       model.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, model.ErrIdentityExists) {
			return model.AuthUser{}, apierror.Wrap(err, "ALREADY_EXISTS", "email already registered", http.StatusConflict)
		}
		return model.AuthUser{}, fmt.Errorf("create identity: %w", err)
	}

	s.logger.InfoContext(ctx, "identity registered", "identity_id", identity.ID, "role", identity.Role)
	return identity.Public(), nil
}

func (s *IdentityService) Get(ctx context.Context, id string) (model.Identity, error) {
	return s.identities.FindByID(ctx, id)
}

// SetStatus activates or deactivates an account. Deactivation also revokes
// every outstanding token. Administrators cannot deactivate themselves.
func (s *IdentityService) SetStatus(ctx context.Context, id string, status model.AccountStatus, actorID string) (model.Identity, error) {
	if status == model.StatusInactive && id == actorID {
		return model.Identity{}, apierror.BadRequest("cannot deactivate your own account", "status")
	}

	if err := s.identities.UpdateStatus(ctx, id, status); err != nil {
		return model.Identity{}, err
	}

	if status == model.StatusInactive {
		if _, err := s.identities.BumpGeneration(ctx, id); err != nil {
			return model.Identity{}, fmt.Errorf("revoke sessions: %w", err)
		}
	}

	return s.identities.FindByID(ctx, id)
}

// SeedAdmin creates the bootstrap administrator when the store is empty.
func (s *IdentityService) SeedAdmin(ctx context.Context, email string, password string) error {
	count, err := s.identities.Count(ctx)
	if err != nil {
		return fmt.Errorf("count identities: %w", err)
	}
	if count > 0 {
		return nil
	}
	if strings.TrimSpace(email) == "" || validatePassword(password) != nil {
		s.logger.WarnContext(ctx, "identity store is empty and no usable seed admin credentials are configured")
		return nil
	}

	_, err = s.Register(ctx, model.CreateIdentityRequest{
		Email:    email,
		Name:     "Administrator",
		Password: password,
		Role:     string(model.RoleAdmin),
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	s.logger.InfoContext(ctx, "seeded bootstrap administrator", "email", email)
	return nil
}
