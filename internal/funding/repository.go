package funding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/infra"
)

// Repository persists deposit intents.
type Repository interface {
	Create(ctx context.Context, i Intent) (Intent, error)
	Get(ctx context.Context, reference string) (Intent, error)
	// UpdateStatus is a compare-and-set from one status to another.
	UpdateStatus(ctx context.Context, reference string, from, to Status, at time.Time) (Intent, error)
}

// PostgresRepository stores intents in deposit_intents.
type PostgresRepository struct {
	db infra.DBTX
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db infra.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const intentColumns = `reference, owner_id, amount, status, checkout_url, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, i Intent) (Intent, error) {
	query := `
        INSERT INTO deposit_intents (reference, owner_id, amount, status, checkout_url, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)
        RETURNING ` + intentColumns

	rows, _ := r.db.Query(ctx, query, i.Reference, i.OwnerID, i.Amount, string(i.Status), i.CheckoutURL, i.CreatedAt)
	created, err := pgx.CollectOneRow(rows, scanIntent)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Intent{}, fmt.Errorf("%w: deposit reference %s exists", apperrors.ErrConflict, i.Reference)
		}
		return Intent{}, apperrors.Storage("create deposit intent", err)
	}
	return created, nil
}

func (r *PostgresRepository) Get(ctx context.Context, reference string) (Intent, error) {
	query := `SELECT ` + intentColumns + ` FROM deposit_intents WHERE reference = $1`

	rows, _ := r.db.Query(ctx, query, reference)
	i, err := pgx.CollectOneRow(rows, scanIntent)
	switch {
	case err == nil:
		return i, nil
	case errors.Is(err, pgx.ErrNoRows):
		return Intent{}, fmt.Errorf("%w: deposit %s", apperrors.ErrNotFound, reference)
	default:
		return Intent{}, apperrors.Storage("get deposit intent", err)
	}
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, reference string, from, to Status, at time.Time) (Intent, error) {
	query := `
        UPDATE deposit_intents SET status = $3, updated_at = $4
        WHERE reference = $1 AND status = $2
        RETURNING ` + intentColumns

	rows, _ := r.db.Query(ctx, query, reference, string(from), string(to), at)
	i, err := pgx.CollectOneRow(rows, scanIntent)
	switch {
	case err == nil:
		return i, nil
	case errors.Is(err, pgx.ErrNoRows):
		current, getErr := r.Get(ctx, reference)
		if getErr != nil {
			return Intent{}, getErr
		}
		return Intent{}, apperrors.InvalidState("deposit %s is %s", reference, current.Status)
	default:
		return Intent{}, apperrors.Storage("update deposit intent", err)
	}
}

func scanIntent(row pgx.CollectableRow) (Intent, error) {
	var (
		i      Intent
		status string
	)
	err := row.Scan(&i.Reference, &i.OwnerID, &i.Amount, &status, &i.CheckoutURL, &i.CreatedAt, &i.UpdatedAt)
	i.Status = Status(status)
	i.CreatedAt = i.CreatedAt.UTC()
	i.UpdatedAt = i.UpdatedAt.UTC()
	return i, err
}
