package escrow

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

// Repository persists escrow bindings and their history.
type Repository interface {
	// Create fails with apperrors.ErrConflict when the contract already has escrow.
	Create(ctx context.Context, b Binding) (Binding, error)
	Get(ctx context.Context, contractID string) (Binding, error)
	ListByStatus(ctx context.Context, status Status) ([]Binding, error)
	// Transition is a compare-and-set on the current status.
	Transition(ctx context.Context, contractID string, t Transition) (Binding, error)
	AppendEvent(ctx context.Context, e Event) (Event, error)
	Events(ctx context.Context, contractID string) ([]Event, error)
}

// PostgresRepository stores bindings in escrow_bindings and history in escrow_events.
type PostgresRepository struct {
	db infra.DBTX
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db infra.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const bindingColumns = `contract_id, client_id, freelancer_id, amount, balance, status,
        dispute_reason, disputed_by, disputed_at, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, b Binding) (Binding, error) {
	query := `
        INSERT INTO escrow_bindings (contract_id, client_id, freelancer_id, amount, balance, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
        RETURNING ` + bindingColumns

	rows, _ := r.db.Query(ctx, query, b.ContractID, b.ClientID, b.FreelancerID, b.Amount, b.Balance, string(b.Status), b.CreatedAt)
	created, err := pgx.CollectOneRow(rows, scanBinding)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return Binding{}, fmt.Errorf("%w: escrow already funded for contract %s", apperrors.ErrConflict, b.ContractID)
		}
		return Binding{}, apperrors.Storage("create escrow", err)
	}
	return created, nil
}

func (r *PostgresRepository) Get(ctx context.Context, contractID string) (Binding, error) {
	query := `SELECT ` + bindingColumns + ` FROM escrow_bindings WHERE contract_id = $1`

	rows, _ := r.db.Query(ctx, query, contractID)
	b, err := pgx.CollectOneRow(rows, scanBinding)
	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, pgx.ErrNoRows):
		return Binding{}, fmt.Errorf("%w: escrow for contract %s", apperrors.ErrNotFound, contractID)
	default:
		return Binding{}, apperrors.Storage("get escrow", err)
	}
}

func (r *PostgresRepository) ListByStatus(ctx context.Context, status Status) ([]Binding, error) {
	query := `SELECT ` + bindingColumns + ` FROM escrow_bindings WHERE status = $1 ORDER BY updated_at, contract_id`

	rows, _ := r.db.Query(ctx, query, string(status))
	list, err := pgx.CollectRows(rows, scanBinding)
	if err != nil {
		return nil, apperrors.Storage("list escrows", err)
	}
	return list, nil
}

// Transition updates the row only while its status is one of t.From. Zero affected rows means
// another writer got there first, or the escrow is in the wrong state.
func (r *PostgresRepository) Transition(ctx context.Context, contractID string, t Transition) (Binding, error) {
	if err := t.Validate(); err != nil {
		return Binding{}, err
	}
	from := make([]string, len(t.From))
	for i, s := range t.From {
		from[i] = string(s)
	}

	query := `
        UPDATE escrow_bindings SET
            status         = $3,
            balance        = $4,
            dispute_reason = CASE WHEN $3 = 'disputed' THEN $5 ELSE dispute_reason END,
            disputed_by    = CASE WHEN $3 = 'disputed' THEN $6 ELSE disputed_by END,
            disputed_at    = CASE WHEN $3 = 'disputed' THEN $7 ELSE disputed_at END,
            updated_at     = $7
        WHERE contract_id = $1 AND status = ANY($2::text[])
        RETURNING ` + bindingColumns

	rows, _ := r.db.Query(ctx, query, contractID, from, string(t.To), t.Balance, t.Reason, t.By, t.At)
	b, err := pgx.CollectOneRow(rows, scanBinding)
	switch {
	case err == nil:
		return b, nil
	case errors.Is(err, pgx.ErrNoRows):
		current, getErr := r.Get(ctx, contractID)
		if getErr != nil {
			return Binding{}, getErr
		}
		return Binding{}, t.Refusal(contractID, current.Status)
	default:
		return Binding{}, apperrors.Storage("transition escrow", err)
	}
}

func (r *PostgresRepository) AppendEvent(ctx context.Context, e Event) (Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	const query = `
        INSERT INTO escrow_events (id, contract_id, action, actor_id, note, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING seq`

	if err := r.db.QueryRow(ctx, query, e.ID, e.ContractID, string(e.Action), e.ActorID, e.Note, e.CreatedAt).Scan(&e.Seq); err != nil {
		return Event{}, apperrors.Storage("append escrow event", err)
	}
	return e, nil
}

func (r *PostgresRepository) Events(ctx context.Context, contractID string) ([]Event, error) {
	const query = `
        SELECT id, seq, contract_id, action, actor_id, note, created_at
        FROM escrow_events WHERE contract_id = $1 ORDER BY seq`

	rows, _ := r.db.Query(ctx, query, contractID)
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var (
			e      Event
			action string
		)
		err := row.Scan(&e.ID, &e.Seq, &e.ContractID, &action, &e.ActorID, &e.Note, &e.CreatedAt)
		e.Action = Action(action)
		e.CreatedAt = e.CreatedAt.UTC()
		return e, err
	})
	if err != nil {
		return nil, apperrors.Storage("list escrow events", err)
	}
	return events, nil
}

func scanBinding(row pgx.CollectableRow) (Binding, error) {
	var (
		b      Binding
		status string
	)
	err := row.Scan(&b.ContractID, &b.ClientID, &b.FreelancerID, &b.Amount, &b.Balance, &status,
		&b.DisputeReason, &b.DisputedBy, &b.DisputedAt, &b.CreatedAt, &b.UpdatedAt)
	b.Status = Status(status)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, err
}
