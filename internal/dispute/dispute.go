// Package dispute adjudicates contested escrows. It never writes the ledger itself: resolutions
// are settlements performed by the payments service under the contract lock.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/escrow"
	"github.com/workbridge/escrow/internal/notification"
	"github.com/workbridge/escrow/internal/payments"
	"github.com/workbridge/escrow/internal/store"
)

// Outcome is the administrator's verdict. Splitting the escrow is not supported.
type Outcome = escrow.Action

// Case is the dispute view of an escrow binding.
type Case struct {
	ContractID     string
	ClientID       string
	FreelancerID   string
	Amount         decimal.Decimal
	Status         escrow.Status
	Reason         string
	OpenedBy       string
	OpenedAt       time.Time
	Outcome        Outcome
	ResolvedBy     string
	ResolutionNote string
	ResolvedAt     *time.Time
}

// Open reports whether the case awaits a verdict.
func (c Case) Open() bool {
	return c.Status == escrow.StatusDisputed
}

// Settler performs terminal escrow settlements.
type Settler interface {
	Settle(ctx context.Context, st payments.Settlement) (escrow.Binding, error)
}

// Service opens and resolves disputes.
type Service struct {
	store    store.Store
	settler  Settler
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs the dispute service.
func NewService(st store.Store, settler Settler, notifier notification.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, settler: settler, notifier: notifier, logger: logger}
}

// Open freezes a funded escrow pending adjudication. Either party may raise it.
func (s *Service) Open(ctx context.Context, contractID, raisedBy, reason string) (Case, error) {
	if contractID == "" {
		return Case{}, apperrors.Validation("contract is required")
	}
	if reason == "" {
		return Case{}, apperrors.Validation("dispute reason is required")
	}

	var (
		binding escrow.Binding
		events  []escrow.Event
	)
	err := s.store.InTx(ctx, []string{store.ContractKey(contractID)}, func(tx store.Tx) error {
		current, err := tx.Escrows().Get(ctx, contractID)
		if err != nil {
			return err
		}
		if !current.IsParty(raisedBy) {
			return fmt.Errorf("%w: not a party to contract %s", apperrors.ErrForbidden, contractID)
		}

		now := time.Now().UTC()
		binding, err = tx.Escrows().Transition(ctx, contractID, escrow.Transition{
			From:    []escrow.Status{escrow.StatusFunded},
			To:      escrow.StatusDisputed,
			Balance: current.Balance,
			Reason:  reason,
			By:      raisedBy,
			At:      now,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Escrows().AppendEvent(ctx, escrow.Event{
			ContractID: contractID,
			Action:     escrow.ActionDisputed,
			ActorID:    raisedBy,
			Note:       reason,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		events, err = tx.Escrows().Events(ctx, contractID)
		return err
	})
	if err != nil {
		return Case{}, err
	}

	s.logger.Info("dispute opened", slog.String("contract_id", contractID), slog.String("raised_by", raisedBy))
	counterparty := binding.ClientID
	if raisedBy == binding.ClientID {
		counterparty = binding.FreelancerID
	}
	if err := s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindDisputeOpened,
		Destination: counterparty,
		ContractID:  contractID,
		Amount:      binding.Balance.StringFixed(2),
		Body:        fmt.Sprintf("A dispute was opened on contract %s", contractID),
	}); err != nil {
		s.logger.Warn("notification failed", slog.String("kind", notification.KindDisputeOpened), slog.Any("error", err))
	}
	return caseOf(binding, events), nil
}

// ListOpen returns the disputes awaiting a verdict, oldest first.
func (s *Service) ListOpen(ctx context.Context) ([]Case, error) {
	bindings, err := s.store.Escrows().ListByStatus(ctx, escrow.StatusDisputed)
	if err != nil {
		return nil, err
	}
	cases := make([]Case, 0, len(bindings))
	for _, b := range bindings {
		events, err := s.store.Escrows().Events(ctx, b.ContractID)
		if err != nil {
			return nil, err
		}
		cases = append(cases, caseOf(b, events))
	}
	return cases, nil
}

// Get returns the dispute of a contract, open or resolved.
func (s *Service) Get(ctx context.Context, contractID string) (Case, error) {
	b, err := s.store.Escrows().Get(ctx, contractID)
	if err != nil {
		return Case{}, err
	}
	if b.DisputedAt == nil {
		return Case{}, fmt.Errorf("%w: no dispute on contract %s", apperrors.ErrNotFound, contractID)
	}
	events, err := s.store.Escrows().Events(ctx, contractID)
	if err != nil {
		return Case{}, err
	}
	return caseOf(b, events), nil
}

// ResolveToFreelancer releases the disputed escrow to the freelancer.
func (s *Service) ResolveToFreelancer(ctx context.Context, contractID, adminID, note string) (Case, error) {
	return s.resolve(ctx, contractID, adminID, note, escrow.StatusReleased)
}

// ResolveToClient refunds the disputed escrow to the client.
func (s *Service) ResolveToClient(ctx context.Context, contractID, adminID, note string) (Case, error) {
	return s.resolve(ctx, contractID, adminID, note, escrow.StatusRefunded)
}

// resolve is final. Of concurrent resolutions exactly one succeeds; the rest, and any later
// call, fail with apperrors.ErrInvalidState.
func (s *Service) resolve(ctx context.Context, contractID, adminID, note string, outcome escrow.Status) (Case, error) {
	if adminID == "" {
		return Case{}, apperrors.Validation("admin is required")
	}
	_, err := s.settler.Settle(ctx, payments.Settlement{
		ContractID:      contractID,
		Outcome:         outcome,
		ActorID:         adminID,
		Note:            note,
		RequireDisputed: true,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidState) {
			s.logger.Info("dispute resolution rejected", slog.String("contract_id", contractID), slog.String("admin_id", adminID), slog.Any("error", err))
		}
		return Case{}, err
	}

	s.logger.Info("dispute resolved",
		slog.String("contract_id", contractID),
		slog.String("admin_id", adminID),
		slog.String("outcome", string(outcome)),
	)
	return s.Get(ctx, contractID)
}

func caseOf(b escrow.Binding, events []escrow.Event) Case {
	c := Case{
		ContractID:   b.ContractID,
		ClientID:     b.ClientID,
		FreelancerID: b.FreelancerID,
		Amount:       b.Amount,
		Status:       b.Status,
		Reason:       b.DisputeReason,
		OpenedBy:     b.DisputedBy,
	}
	if b.DisputedAt != nil {
		c.OpenedAt = *b.DisputedAt
	}
	for _, e := range events {
		if e.Action == escrow.ActionResolvedToFreelancer || e.Action == escrow.ActionResolvedToClient {
			at := e.CreatedAt
			c.Outcome = e.Action
			c.ResolvedBy = e.ActorID
			c.ResolutionNote = e.Note
			c.ResolvedAt = &at
		}
	}
	return c
}
