package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go-pcg-core/internal/model"
	"go-pcg-core/internal/repository"
	"go-pcg-core/internal/security"
)

// AccessGuard resolves bearer tokens to live identities.
type AccessGuard struct {
	identities repository.IdentityStore
	codec      *security.TokenCodec
	logger     *slog.Logger
}

func NewAccessGuard(identities repository.IdentityStore, codec *security.TokenCodec, logger *slog.Logger) *AccessGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessGuard{identities: identities, codec: codec, logger: logger}
}

// Authenticate accepts only access tokens whose subject still exists, is
// active, and has not revoked its sessions since the token was issued.
func (g *AccessGuard) Authenticate(ctx context.Context, bearer string) (model.Identity, error) {
	token := strings.TrimSpace(bearer)
	if token == "" {
		return model.Identity{}, model.ErrUnauthorized
	}

	claims, err := g.codec.Verify(token, model.TokenAccess)
	if err != nil {
		g.logger.DebugContext(ctx, "access token rejected", "reason", err)
		return model.Identity{}, model.ErrUnauthorized
	}

	identity, err := g.identities.FindByID(ctx, claims.Subject)
	if errors.Is(err, model.ErrIdentityNotFound) {
		return model.Identity{}, model.ErrUnauthorized
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("resolve token subject: %w", err)
	}

	if !identity.IsActive() || claims.Generation < identity.TokenGeneration {
		return model.Identity{}, model.ErrUnauthorized
	}

	return identity, nil
}

// Authorize returns ErrForbidden unless identity holds one of allowed.
func (g *AccessGuard) Authorize(identity model.Identity, allowed ...model.Role) error {
	if !model.Authorize(identity, allowed...) {
		return model.ErrForbidden
	}
	return nil
}
