// Package memory holds process-local stores used when no database is configured.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go-pcg-core/internal/model"
)

type IdentityStore struct {
	mu         sync.RWMutex
	identities map[string]model.Identity
	byEmail    map[string]string
	now        func() time.Time
}

func NewIdentityStore() *IdentityStore {
	return &IdentityStore{
		identities: make(map[string]model.Identity),
		byEmail:    make(map[string]string),
		now:        time.Now,
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *IdentityStore) FindByID(_ context.Context, id string) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return model.Identity{}, model.ErrIdentityNotFound
	}
	return cloneIdentity(identity), nil
}

func (s *IdentityStore) FindByEmail(_ context.Context, email string) (model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return model.Identity{}, model.ErrIdentityNotFound
	}
	return cloneIdentity(s.identities[id]), nil
}

func (s *IdentityStore) Create(_ context.Context, identity model.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(identity.Email)
	if _, exists := s.byEmail[key]; exists {
		return model.ErrIdentityExists
	}
	if _, exists := s.identities[identity.ID]; exists {
		return model.ErrIdentityExists
	}

	s.identities[identity.ID] = cloneIdentity(identity)
	s.byEmail[key] = identity.ID
	return nil
}

func (s *IdentityStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.identities), nil
}

func (s *IdentityStore) UpdateCredentialHash(_ context.Context, id string, passwordHash string) error {
	return s.update(id, func(identity *model.Identity) error {
		identity.PasswordHash = passwordHash
		return nil
	})
}

func (s *IdentityStore) UpdateStatus(_ context.Context, id string, status model.AccountStatus) error {
	return s.update(id, func(identity *model.Identity) error {
		identity.Status = status
		return nil
	})
}

func (s *IdentityStore) SetResetSecret(_ context.Context, id string, secretHash string, expiresAt time.Time) error {
	return s.update(id, func(identity *model.Identity) error {
		identity.ResetSecretHash = &secretHash
		identity.ResetExpiresAt = &expiresAt
		return nil
	})
}

func (s *IdentityStore) ConsumeResetSecret(_ context.Context, id string, secretHash string, now time.Time, passwordHash string) (int64, error) {
	var generation int64
	err := s.update(id, func(identity *model.Identity) error {
		if !identity.HasPendingReset(now) || *identity.ResetSecretHash != secretHash {
			return model.ErrInvalidOrExpiredToken
		}
		identity.PasswordHash = passwordHash
		identity.ResetSecretHash = nil
		identity.ResetExpiresAt = nil
		identity.TokenGeneration++
		generation = identity.TokenGeneration
		return nil
	})
	if errors.Is(err, model.ErrIdentityNotFound) {
		return 0, model.ErrInvalidOrExpiredToken
	}
	return generation, err
}

func (s *IdentityStore) AdvanceGeneration(_ context.Context, id string, expected int64) (int64, error) {
	var generation int64
	err := s.update(id, func(identity *model.Identity) error {
		if identity.TokenGeneration != expected {
			return model.ErrGenerationConflict
		}
		identity.TokenGeneration++
		generation = identity.TokenGeneration
		return nil
	})
	if errors.Is(err, model.ErrIdentityNotFound) {
		return 0, model.ErrGenerationConflict
	}
	return generation, err
}

func (s *IdentityStore) BumpGeneration(_ context.Context, id string) (int64, error) {
	var generation int64
	err := s.update(id, func(identity *model.Identity) error {
		identity.TokenGeneration++
		generation = identity.TokenGeneration
		return nil
	})
	return generation, err
}

// update applies fn to the stored identity under the write lock; the change
// is discarded when fn fails.
func (s *IdentityStore) update(id string, fn func(*model.Identity) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, ok := s.identities[id]
	if !ok {
		return model.ErrIdentityNotFound
	}

	identity = cloneIdentity(identity)
	if err := fn(&identity); err != nil {
		return err
	}
	identity.UpdatedAt = s.now().UTC()
	s.identities[id] = identity
	return nil
}

func cloneIdentity(identity model.Identity) model.Identity {
	if identity.ResetSecretHash != nil {
		hash := *identity.ResetSecretHash
		identity.ResetSecretHash = &hash
	}
	if identity.ResetExpiresAt != nil {
		at := *identity.ResetExpiresAt
		identity.ResetExpiresAt = &at
	}
	return identity
}
