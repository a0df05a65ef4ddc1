package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"go-pcg-core/internal/database"
	"go-pcg-core/internal/model"
)

const identityColumns = `id, email, name, password_hash, role, status,
		        reset_secret_hash, reset_expires_at, token_generation, created_at, updated_at`

type IdentityRepository struct {
	pool database.Querier
	now  func() time.Time
}

func NewIdentityRepository(pool database.Querier) *IdentityRepository {
	return &IdentityRepository{pool: pool, now: time.Now}
}

func scanIdentity(row pgx.Row) (model.Identity, error) {
	var i model.Identity
	err := row.Scan(&i.ID, &i.Email, &i.Name, &i.PasswordHash, &i.Role, &i.Status,
		&i.ResetSecretHash, &i.ResetExpiresAt, &i.TokenGeneration, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

func (r *IdentityRepository) FindByID(ctx context.Context, id string) (model.Identity, error) {
	i, err := scanIdentity(r.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Identity{}, model.ErrIdentityNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("find identity by id: %w", err)
	}
	return i, nil
}

func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (model.Identity, error) {
	i, err := scanIdentity(r.pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE lower(email) = lower($1)`, strings.TrimSpace(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Identity{}, model.ErrIdentityNotFound
	}
	if err != nil {
		return model.Identity{}, fmt.Errorf("find identity by email: %w", err)
	}
	return i, nil
}

func (r *IdentityRepository) Create(ctx context.Context, i model.Identity) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO identities (id, email, name, password_hash, role, status, token_generation, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		i.ID, i.Email, i.Name, i.PasswordHash, i.Role, i.Status, i.TokenGeneration, i.CreatedAt, i.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.ErrIdentityExists
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM identities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

func (r *IdentityRepository) UpdateCredentialHash(ctx context.Context, id string, passwordHash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, r.now().UTC())
	if err != nil {
		return fmt.Errorf("update credential hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrIdentityNotFound
	}
	return nil
}

func (r *IdentityRepository) UpdateStatus(ctx context.Context, id string, status model.AccountStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE identities SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, r.now().UTC())
	if err != nil {
		return fmt.Errorf("update identity status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrIdentityNotFound
	}
	return nil
}

func (r *IdentityRepository) SetResetSecret(ctx context.Context, id string, secretHash string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE identities SET reset_secret_hash = $2, reset_expires_at = $3, updated_at = $4 WHERE id = $1`,
		id, secretHash, expiresAt, r.now().UTC())
	if err != nil {
		return fmt.Errorf("set reset secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrIdentityNotFound
	}
	return nil
}

func (r *IdentityRepository) ConsumeResetSecret(ctx context.Context, id string, secretHash string, now time.Time, passwordHash string) (int64, error) {
	var generation int64
	err := r.pool.QueryRow(ctx,
		`UPDATE identities
		 SET password_hash = $4, reset_secret_hash = NULL, reset_expires_at = NULL,
		     token_generation = token_generation + 1, updated_at = $3
		 WHERE id = $1 AND reset_secret_hash = $2 AND reset_expires_at > $3
		 RETURNING token_generation`,
		id, secretHash, now, passwordHash).Scan(&generation)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, model.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return 0, fmt.Errorf("consume reset secret: %w", err)
	}
	return generation, nil
}

func (r *IdentityRepository) AdvanceGeneration(ctx context.Context, id string, expected int64) (int64, error) {
	var generation int64
	err := r.pool.QueryRow(ctx,
		`UPDATE identities SET token_generation = token_generation + 1, updated_at = $3
		 WHERE id = $1 AND token_generation = $2
		 RETURNING token_generation`,
		id, expected, r.now().UTC()).Scan(&generation)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, model.ErrGenerationConflict
	}
	if err != nil {
		return 0, fmt.Errorf("advance token generation: %w", err)
	}
	return generation, nil
}

func (r *IdentityRepository) BumpGeneration(ctx context.Context, id string) (int64, error) {
	var generation int64
	err := r.pool.QueryRow(ctx,
		`UPDATE identities SET token_generation = token_generation + 1, updated_at = $2
		 WHERE id = $1
		 RETURNING token_generation`,
		id, r.now().UTC()).Scan(&generation)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, model.ErrIdentityNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("bump token generation: %w", err)
	}
	return generation, nil
}
