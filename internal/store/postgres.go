package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/escrow"
	"github.com/workbridge/escrow/internal/funding"
	"github.com/workbridge/escrow/internal/infra"
	"github.com/workbridge/escrow/internal/ledger"
	"github.com/workbridge/escrow/internal/wallet"
)

// Postgres is the PostgreSQL store. Keys map to transaction-scoped advisory locks.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a migrated pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

type pgRepos struct {
	db infra.DBTX
}

func (r pgRepos) Ledger() ledger.Repository    { return ledger.NewPostgresRepository(r.db) }
func (r pgRepos) Wallets() wallet.Repository   { return wallet.NewPostgresRepository(r.db) }
func (r pgRepos) Escrows() escrow.Repository   { return escrow.NewPostgresRepository(r.db) }
func (r pgRepos) Deposits() funding.Repository { return funding.NewPostgresRepository(r.db) }

func (p *Postgres) Ledger() ledger.Repository    { return pgRepos{db: p.pool}.Ledger() }
func (p *Postgres) Wallets() wallet.Repository   { return pgRepos{db: p.pool}.Wallets() }
func (p *Postgres) Escrows() escrow.Repository   { return pgRepos{db: p.pool}.Escrows() }
func (p *Postgres) Deposits() funding.Repository { return pgRepos{db: p.pool}.Deposits() }

const advisoryLock = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

// InTx begins a transaction, takes the advisory locks in sorted order and commits when fn
// succeeds. Locks are released with the transaction.
func (p *Postgres) InTx(ctx context.Context, keys []string, fn func(Tx) error) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return apperrors.Storage("begin tx", err)
	}

	defer func() {
		if err == nil {
			return
		}
		rbErr := tx.Rollback(context.WithoutCancel(ctx))
		if rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = errors.Join(err, apperrors.Storage("rollback tx", rbErr))
		}
	}()

	for _, key := range lockOrder(keys) {
		if _, err = tx.Exec(ctx, advisoryLock, key); err != nil {
			return apperrors.Storage("lock "+key, err)
		}
	}

	if err = fn(pgRepos{db: tx}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return apperrors.Storage("commit tx", err)
	}
	return nil
}
