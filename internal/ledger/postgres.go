package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/infra"
)

// PostgresRepository appends entries to the ledger_entries table.
type PostgresRepository struct {
	db infra.DBTX
}

// NewPostgresRepository builds a ledger repository over a pool or a transaction.
func NewPostgresRepository(db infra.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts the entry. The deposit reference index turns a second confirmation of the
// same checkout into apperrors.ErrConfirmationReplay.
func (r *PostgresRepository) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	const query = `
        INSERT INTO ledger_entries (id, owner_id, type, amount, contract_id, reference, note, created_at)
        VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
        RETURNING seq`

	err := r.db.QueryRow(ctx, query,
		e.ID, e.OwnerID, string(e.Type), e.Amount, e.ContractID, e.Reference, e.Note, e.CreatedAt,
	).Scan(&e.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Entry{}, fmt.Errorf("%w: reference %s", apperrors.ErrConfirmationReplay, e.Reference)
		}
		return Entry{}, apperrors.Storage("append ledger entry", err)
	}
	return e, nil
}

// ListByOwner returns one page of the owner's entries in append order.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string, page Page) ([]Entry, error) {
	page = page.Normalize()

	const query = `
        SELECT id, seq, owner_id, type, amount, COALESCE(contract_id, ''), COALESCE(reference, ''), note, created_at
        FROM ledger_entries
        WHERE owner_id = $1 AND seq > $2
        ORDER BY seq
        LIMIT $3`

	rows, _ := r.db.Query(ctx, query, ownerID, page.AfterSeq, page.Limit)
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e   Entry
			typ string
		)
		err := row.Scan(&e.ID, &e.Seq, &e.OwnerID, &typ, &e.Amount, &e.ContractID, &e.Reference, &e.Note, &e.CreatedAt)
		e.Type = Type(typ)
		e.CreatedAt = e.CreatedAt.UTC()
		return e, err
	})
	if err != nil {
		return nil, apperrors.Storage("list ledger entries", err)
	}
	return entries, nil
}

// SumByOwnerAndType totals the owner's entries per type.
func (r *PostgresRepository) SumByOwnerAndType(ctx context.Context, ownerID string) (Sums, error) {
	const query = `
        SELECT type, COALESCE(SUM(amount), 0)
        FROM ledger_entries
        WHERE owner_id = $1
        GROUP BY type`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, apperrors.Storage("sum ledger entries", err)
	}
	defer rows.Close()

	sums := Sums{}
	for rows.Next() {
		var (
			typ string
			e   Entry
		)
		if err := rows.Scan(&typ, &e.Amount); err != nil {
			return nil, apperrors.Storage("scan ledger sum", err)
		}
		sums[Type(typ)] = e.Amount
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("sum ledger entries", err)
	}
	return sums, nil
}
