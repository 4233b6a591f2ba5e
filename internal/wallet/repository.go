package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/infra"
)

// Repository persists wallet aggregates.
type Repository interface {
	// Get returns the owner's account, creating a zeroed one when absent.
	Get(ctx context.Context, ownerID string) (Account, error)
	// ApplyDelta must run in the transaction that appends the matching ledger entry.
	ApplyDelta(ctx context.Context, ownerID string, d Delta) (Account, error)
}

// PostgresRepository stores accounts in the wallets table.
type PostgresRepository struct {
	db infra.DBTX
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db infra.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `owner_id, available, pending, total_earned, total_withdrawn, created_at, updated_at`

// Get fetches the account, inserting a zeroed row on first access.
func (r *PostgresRepository) Get(ctx context.Context, ownerID string) (Account, error) {
	if ownerID == "" {
		return Account{}, apperrors.Validation("wallet owner is required")
	}

	query := `
        INSERT INTO wallets (owner_id) VALUES ($1)
        ON CONFLICT (owner_id) DO UPDATE SET owner_id = EXCLUDED.owner_id
        RETURNING ` + accountColumns

	rows, _ := r.db.Query(ctx, query, ownerID)
	acc, err := pgx.CollectOneRow(rows, scanAccount)
	if err != nil {
		return Account{}, apperrors.Storage("get wallet", err)
	}
	return acc, nil
}

// ApplyDelta adds d to the owner's row. The table's CHECK constraints reject negative available
// or pending balances, which surfaces as apperrors.ErrInsufficientFunds.
func (r *PostgresRepository) ApplyDelta(ctx context.Context, ownerID string, d Delta) (Account, error) {
	if ownerID == "" {
		return Account{}, apperrors.Validation("wallet owner is required")
	}
	if err := d.Validate(); err != nil {
		return Account{}, err
	}

	query := `
        INSERT INTO wallets (owner_id, available, pending, total_earned, total_withdrawn)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (owner_id) DO UPDATE SET
            available       = wallets.available + EXCLUDED.available,
            pending         = wallets.pending + EXCLUDED.pending,
            total_earned    = wallets.total_earned + EXCLUDED.total_earned,
            total_withdrawn = wallets.total_withdrawn + EXCLUDED.total_withdrawn,
            updated_at      = now()
        RETURNING ` + accountColumns

	rows, _ := r.db.Query(ctx, query, ownerID, d.Available, d.Pending, d.Earned, d.Withdrawn)
	acc, err := pgx.CollectOneRow(rows, scanAccount)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return Account{}, fmt.Errorf("%w: wallet %s", apperrors.ErrInsufficientFunds, ownerID)
		}
		return Account{}, apperrors.Storage("apply wallet delta", err)
	}
	return acc, nil
}

func scanAccount(row pgx.CollectableRow) (Account, error) {
	var a Account
	err := row.Scan(&a.OwnerID, &a.Available, &a.Pending, &a.TotalEarned, &a.TotalWithdrawn, &a.CreatedAt, &a.UpdatedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, err
}
