package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go-pcg-core/internal/model"
	"go-pcg-core/internal/notify"
	"go-pcg-core/internal/repository/memory"
	"go-pcg-core/internal/security"
)

const testPassword = "s3cret-passw0rd"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, msg notify.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type fixture struct {
	clock      *testClock
	identities *memory.IdentityStore
	hasher     security.Hasher
	codec      *security.TokenCodec
	logger     *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := newTestClock()
	codec, err := security.NewTokenCodec("unit-test-signing-key-0001")
	require.NoError(t, err)
	codec.SetClock(clock.Now)

	return &fixture{
		clock:      clock,
		identities: memory.NewIdentityStore(),
		hasher:     security.NewBcryptHasher(bcrypt.MinCost),
		codec:      codec,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (f *fixture) addIdentity(t *testing.T, id string, email string, role model.Role, status model.AccountStatus) model.Identity {
	t.Helper()

	digest, err := f.hasher.Hash(testPassword)
	require.NoError(t, err)

	identity := model.Identity{
		ID:           id,
		Email:        email,
		Name:         id,
		PasswordHash: digest,
		Role:         role,
		Status:       status,
		CreatedAt:    f.clock.Now(),
		UpdatedAt:    f.clock.Now(),
	}
	require.NoError(t, f.identities.Create(context.Background(), identity))
	return identity
}

func (f *fixture) sessions(t *testing.T) *SessionService {
	t.Helper()
	svc, err := NewSessionService(f.identities, f.hasher, f.codec, 15*time.Minute, 7*24*time.Hour, f.logger)
	require.NoError(t, err)
	return svc
}
