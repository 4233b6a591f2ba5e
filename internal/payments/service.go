package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/escrow"
	"github.com/workbridge/escrow/internal/funding"
	"github.com/workbridge/escrow/internal/ledger"
	"github.com/workbridge/escrow/internal/notification"
	"github.com/workbridge/escrow/internal/store"
	"github.com/workbridge/escrow/internal/wallet"
)

// Service is the only component that moves money. Every operation appends its ledger entries
// and updates the affected wallets inside one store transaction.
type Service struct {
	store    store.Store
	checkout funding.Checkout
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the wallet service.
func NewService(st store.Store, checkout funding.Checkout, notifier notification.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		checkout: checkout,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Settlement describes a terminal escrow disbursement.
type Settlement struct {
	ContractID string
	// Outcome is escrow.StatusReleased or escrow.StatusRefunded.
	Outcome escrow.Status
	ActorID string
	Note    string
	// RequireDisputed restricts the settlement to escrows under dispute. Admin resolutions set it.
	RequireDisputed bool
}

// Balances are the four wallet aggregates.
type Balances struct {
	Available      decimal.Decimal `json:"availableBalance"`
	Pending        decimal.Decimal `json:"pendingBalance"`
	TotalEarned    decimal.Decimal `json:"totalEarning"`
	TotalWithdrawn decimal.Decimal `json:"totalWithdraw"`
}

func balancesOf(a wallet.Account) Balances {
	return Balances{Available: a.Available, Pending: a.Pending, TotalEarned: a.TotalEarned, TotalWithdrawn: a.TotalWithdrawn}
}

// Equal compares all four aggregates.
func (b Balances) Equal(o Balances) bool {
	return b.Available.Equal(o.Available) && b.Pending.Equal(o.Pending) &&
		b.TotalEarned.Equal(o.TotalEarned) && b.TotalWithdrawn.Equal(o.TotalWithdrawn)
}

// Reconciliation compares a wallet's cached aggregates with those replayed from its ledger.
type Reconciliation struct {
	OwnerID    string   `json:"ownerId"`
	Cached     Balances `json:"cached"`
	Ledger     Balances `json:"ledger"`
	Consistent bool     `json:"consistent"`
	Entries    int      `json:"entries"`
}

// maxAmount is the first value a numeric(20,2) column cannot hold.
var maxAmount = decimal.New(1, 18)

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.Validation("amount must be positive")
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return apperrors.Validation("amount must be below %s", maxAmount)
	}
	if !amount.Equal(amount.Round(2)) {
		return apperrors.Validation("amount %s has more than two decimal places", amount)
	}
	return nil
}

// Deposit opens a checkout session. Nothing reaches the ledger until the provider confirms it.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (funding.Session, error) {
	if userID == "" {
		return funding.Session{}, apperrors.Validation("user is required")
	}
	if err := validateAmount(amount); err != nil {
		return funding.Session{}, err
	}

	ref := uuid.NewString()
	url, err := s.checkout.CreateSession(ctx, funding.SessionRequest{Reference: ref, OwnerID: userID, Amount: amount})
	if err != nil {
		return funding.Session{}, fmt.Errorf("create checkout session: %w", err)
	}

	now := s.now()
	err = s.store.InTx(ctx, []string{store.DepositKey(ref)}, func(tx store.Tx) error {
		_, err := tx.Deposits().Create(ctx, funding.Intent{
			Reference:   ref,
			OwnerID:     userID,
			Amount:      amount,
			Status:      funding.StatusPending,
			CheckoutURL: url,
			CreatedAt:   now,
		})
		return err
	})
	if err != nil {
		return funding.Session{}, err
	}

	s.logger.Info("deposit opened", slog.String("owner_id", userID), slog.String("reference", ref), slog.String("amount", amount.String()))
	return funding.Session{Reference: ref, URL: url}, nil
}

// ConfirmDeposit applies the provider's verdict on a deposit. A reference that was already
// applied is reported as Replayed and changes nothing.
func (s *Service) ConfirmDeposit(ctx context.Context, c funding.Confirmation) (funding.ConfirmResult, error) {
	if c.Reference == "" {
		return funding.ConfirmResult{}, apperrors.Validation("reference is required")
	}
	if c.Outcome != funding.OutcomeSucceeded && c.Outcome != funding.OutcomeFailed {
		return funding.ConfirmResult{}, apperrors.Validation("unknown payment status %q", c.Outcome)
	}

	// The owner never changes, so it is safe to learn it before taking the locks.
	known, err := s.store.Deposits().Get(ctx, c.Reference)
	if err != nil {
		return funding.ConfirmResult{}, err
	}

	var (
		res   funding.ConfirmResult
		entry ledger.Entry
	)
	keys := []string{store.DepositKey(c.Reference), store.WalletKey(known.OwnerID)}
	err = s.store.InTx(ctx, keys, func(tx store.Tx) error {
		intent, err := tx.Deposits().Get(ctx, c.Reference)
		if err != nil {
			return err
		}

		switch {
		case intent.Status == funding.StatusConfirmed && c.Outcome == funding.OutcomeSucceeded,
			intent.Status == funding.StatusFailed && c.Outcome == funding.OutcomeFailed:
			res = funding.ConfirmResult{Intent: intent, Replayed: true}
			return nil
		case intent.Status != funding.StatusPending:
			return apperrors.InvalidState("deposit %s is %s", intent.Reference, intent.Status)
		}

		now := s.now()
		if c.Outcome == funding.OutcomeFailed {
			intent, err = tx.Deposits().UpdateStatus(ctx, intent.Reference, funding.StatusPending, funding.StatusFailed, now)
			res = funding.ConfirmResult{Intent: intent}
			return err
		}

		if !c.Amount.Equal(intent.Amount) {
			return apperrors.Validation("deposit %s amount %s does not match %s", intent.Reference, c.Amount, intent.Amount)
		}
		entry, err = tx.Ledger().Append(ctx, ledger.Entry{
			OwnerID:   intent.OwnerID,
			Type:      ledger.TypeDeposit,
			Amount:    intent.Amount,
			Reference: intent.Reference,
			Note:      "deposit",
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Wallets().ApplyDelta(ctx, intent.OwnerID, wallet.Delta{Available: intent.Amount}); err != nil {
			return err
		}
		intent, err = tx.Deposits().UpdateStatus(ctx, intent.Reference, funding.StatusPending, funding.StatusConfirmed, now)
		res = funding.ConfirmResult{Intent: intent}
		return err
	})
	if errors.Is(err, apperrors.ErrConfirmationReplay) {
		intent, getErr := s.store.Deposits().Get(ctx, c.Reference)
		if getErr != nil {
			return funding.ConfirmResult{}, getErr
		}
		return funding.ConfirmResult{Intent: intent, Replayed: true}, nil
	}
	if err != nil {
		return funding.ConfirmResult{}, err
	}

	if res.Replayed {
		s.logger.Info("deposit confirmation replayed", slog.String("reference", c.Reference))
		return res, nil
	}
	if res.Intent.Status == funding.StatusFailed {
		s.logger.Info("deposit failed", slog.String("owner_id", res.Intent.OwnerID), slog.String("reference", c.Reference))
		s.notify(ctx, notification.Message{
			Kind:        notification.KindDepositFailed,
			Destination: res.Intent.OwnerID,
			Amount:      res.Intent.Amount.StringFixed(2),
			Body:        fmt.Sprintf("Your deposit of %s failed", res.Intent.Amount.StringFixed(2)),
		})
		return res, nil
	}

	s.logMovement(entry)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindDepositConfirmed,
		Destination: entry.OwnerID,
		Amount:      entry.Amount.StringFixed(2),
		Body:        fmt.Sprintf("Your deposit of %s was credited", entry.Amount.StringFixed(2)),
	})
	return res, nil
}

// CancelDeposit abandons one of the caller's pending deposits.
func (s *Service) CancelDeposit(ctx context.Context, userID, reference string) (funding.Intent, error) {
	if reference == "" {
		return funding.Intent{}, apperrors.Validation("reference is required")
	}

	var intent funding.Intent
	err := s.store.InTx(ctx, []string{store.DepositKey(reference)}, func(tx store.Tx) error {
		current, err := tx.Deposits().Get(ctx, reference)
		if err != nil {
			return err
		}
		if current.OwnerID != userID {
			return fmt.Errorf("%w: deposit %s", apperrors.ErrNotFound, reference)
		}
		if current.Status != funding.StatusPending {
			return apperrors.InvalidState("deposit %s is %s", reference, current.Status)
		}
		intent, err = tx.Deposits().UpdateStatus(ctx, reference, funding.StatusPending, funding.StatusCancelled, s.now())
		return err
	})
	if err != nil {
		return funding.Intent{}, err
	}

	s.logger.Info("deposit cancelled", slog.String("owner_id", userID), slog.String("reference", reference))
	return intent, nil
}

// Withdraw debits the caller's available balance. Payout settlement happens outside this service;
// destinationRef identifies where it is sent.
func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal, destinationRef string) (wallet.Account, error) {
	if userID == "" {
		return wallet.Account{}, apperrors.Validation("user is required")
	}
	if err := validateAmount(amount); err != nil {
		return wallet.Account{}, err
	}
	if destinationRef == "" {
		return wallet.Account{}, apperrors.Validation("destination is required")
	}

	var (
		acc   wallet.Account
		entry ledger.Entry
	)
	err := s.store.InTx(ctx, []string{store.WalletKey(userID)}, func(tx store.Tx) error {
		current, err := tx.Wallets().Get(ctx, userID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(current.Available) {
			return fmt.Errorf("%w: available %s, requested %s", apperrors.ErrInsufficientFunds, current.Available, amount)
		}
		entry, err = tx.Ledger().Append(ctx, ledger.Entry{
			OwnerID:   userID,
			Type:      ledger.TypeWithdraw,
			Amount:    amount.Neg(),
			Reference: destinationRef,
			Note:      "withdrawal",
			CreatedAt: s.now(),
		})
		if err != nil {
			return err
		}
		acc, err = tx.Wallets().ApplyDelta(ctx, userID, wallet.Delta{Available: amount.Neg(), Withdrawn: amount})
		return err
	})
	if err != nil {
		return wallet.Account{}, err
	}

	s.logMovement(entry)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindWithdrawal,
		Destination: userID,
		Amount:      amount.StringFixed(2),
		Body:        fmt.Sprintf("Your withdrawal of %s is being processed", amount.StringFixed(2)),
	})
	return acc, nil
}

// FundEscrow moves amount from the client's available balance into a new escrow for the contract.
func (s *Service) FundEscrow(ctx context.Context, contractID, clientID, freelancerID string, amount decimal.Decimal) (escrow.Binding, error) {
	switch {
	case contractID == "":
		return escrow.Binding{}, apperrors.Validation("contract is required")
	case clientID == "" || freelancerID == "":
		return escrow.Binding{}, apperrors.Validation("client and freelancer are required")
	case clientID == freelancerID:
		return escrow.Binding{}, apperrors.Validation("client and freelancer must differ")
	}
	if err := validateAmount(amount); err != nil {
		return escrow.Binding{}, err
	}

	var (
		binding escrow.Binding
		entry   ledger.Entry
	)
	keys := []string{store.ContractKey(contractID), store.WalletKey(clientID)}
	err := s.store.InTx(ctx, keys, func(tx store.Tx) error {
		_, err := tx.Escrows().Get(ctx, contractID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: escrow already funded for contract %s", apperrors.ErrConflict, contractID)
		case !errors.Is(err, apperrors.ErrNotFound):
			return err
		}

		acc, err := tx.Wallets().Get(ctx, clientID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(acc.Available) {
			return fmt.Errorf("%w: available %s, escrow %s", apperrors.ErrInsufficientFunds, acc.Available, amount)
		}

		now := s.now()
		entry, err = tx.Ledger().Append(ctx, ledger.Entry{
			OwnerID:    clientID,
			Type:       ledger.TypeEscrowFunded,
			Amount:     amount.Neg(),
			ContractID: contractID,
			Note:       "escrow funded",
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Wallets().ApplyDelta(ctx, clientID, wallet.Delta{Available: amount.Neg()}); err != nil {
			return err
		}
		binding, err = tx.Escrows().Create(ctx, escrow.Binding{
			ContractID:   contractID,
			ClientID:     clientID,
			FreelancerID: freelancerID,
			Amount:       amount,
			Balance:      amount,
			Status:       escrow.StatusFunded,
			CreatedAt:    now,
		})
		if err != nil {
			return err
		}
		_, err = tx.Escrows().AppendEvent(ctx, escrow.Event{
			ContractID: contractID,
			Action:     escrow.ActionFunded,
			ActorID:    clientID,
			CreatedAt:  now,
		})
		return err
	})
	if err != nil {
		return escrow.Binding{}, err
	}

	s.logMovement(entry)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindEscrowFunded,
		Destination: freelancerID,
		ContractID:  contractID,
		Amount:      amount.StringFixed(2),
		Body:        fmt.Sprintf("The client funded %s in escrow", amount.StringFixed(2)),
	})
	return binding, nil
}

// ReleaseToFreelancer pays the escrow out to the freelancer. Only the contract's client may
// approve a release; the escrow must be funded or disputed.
func (s *Service) ReleaseToFreelancer(ctx context.Context, contractID, actorID, note string) (escrow.Binding, error) {
	return s.settle(ctx, Settlement{ContractID: contractID, Outcome: escrow.StatusReleased, ActorID: actorID, Note: note},
		func(b escrow.Binding) error {
			if actorID != b.ClientID {
				return fmt.Errorf("%w: only the client can release escrow", apperrors.ErrForbidden)
			}
			return nil
		})
}

// RefundToClient returns the escrow to the client. Only the contract's freelancer may refund.
func (s *Service) RefundToClient(ctx context.Context, contractID, actorID, note string) (escrow.Binding, error) {
	return s.settle(ctx, Settlement{ContractID: contractID, Outcome: escrow.StatusRefunded, ActorID: actorID, Note: note},
		func(b escrow.Binding) error {
			if actorID != b.FreelancerID {
				return fmt.Errorf("%w: only the freelancer can refund escrow", apperrors.ErrForbidden)
			}
			return nil
		})
}

// Settle performs a terminal disbursement without a party check. Exactly one concurrent
// settlement of a contract succeeds; the others fail with apperrors.ErrInvalidState.
func (s *Service) Settle(ctx context.Context, st Settlement) (escrow.Binding, error) {
	return s.settle(ctx, st, nil)
}

func (s *Service) settle(ctx context.Context, st Settlement, authorize func(escrow.Binding) error) (escrow.Binding, error) {
	if st.ContractID == "" {
		return escrow.Binding{}, apperrors.Validation("contract is required")
	}
	if st.Outcome != escrow.StatusReleased && st.Outcome != escrow.StatusRefunded {
		return escrow.Binding{}, apperrors.Validation("unknown settlement outcome %q", st.Outcome)
	}

	// Parties are immutable; read them first to know which wallet to lock.
	known, err := s.store.Escrows().Get(ctx, st.ContractID)
	if err != nil {
		return escrow.Binding{}, err
	}
	if authorize != nil {
		if err := authorize(known); err != nil {
			return escrow.Binding{}, err
		}
	}
	beneficiary := known.ClientID
	if st.Outcome == escrow.StatusReleased {
		beneficiary = known.FreelancerID
	}

	transition := escrow.Transition{
		From:    []escrow.Status{escrow.StatusFunded, escrow.StatusDisputed},
		To:      st.Outcome,
		Balance: decimal.Zero,
	}
	if st.RequireDisputed {
		transition.From = []escrow.Status{escrow.StatusDisputed}
	}

	var (
		binding escrow.Binding
		entry   ledger.Entry
	)
	keys := []string{store.ContractKey(st.ContractID), store.WalletKey(beneficiary)}
	err = s.store.InTx(ctx, keys, func(tx store.Tx) error {
		current, err := tx.Escrows().Get(ctx, st.ContractID)
		if err != nil {
			return err
		}
		if !transition.Allows(current.Status) {
			return transition.Refusal(current.ContractID, current.Status)
		}

		now := s.now()
		transition.At = now
		amount := current.Balance

		entry = ledger.Entry{
			OwnerID:    beneficiary,
			Type:       ledger.TypeRefund,
			Amount:     amount,
			ContractID: current.ContractID,
			Note:       st.Note,
			CreatedAt:  now,
		}
		if st.Outcome == escrow.StatusReleased {
			entry.Type = ledger.TypeEscrowReleased
		}
		if entry, err = tx.Ledger().Append(ctx, entry); err != nil {
			return err
		}

		if st.Outcome == escrow.StatusReleased {
			if _, err := tx.Wallets().ApplyDelta(ctx, beneficiary, wallet.Delta{Pending: amount}); err != nil {
				return err
			}
			promote := wallet.Delta{Pending: amount.Neg(), Available: amount, Earned: amount}
			if _, err := tx.Wallets().ApplyDelta(ctx, beneficiary, promote); err != nil {
				return err
			}
		} else if _, err := tx.Wallets().ApplyDelta(ctx, beneficiary, wallet.Delta{Available: amount}); err != nil {
			return err
		}

		if binding, err = tx.Escrows().Transition(ctx, current.ContractID, transition); err != nil {
			return err
		}
		_, err = tx.Escrows().AppendEvent(ctx, escrow.Event{
			ContractID: current.ContractID,
			Action:     settlementAction(st),
			ActorID:    st.ActorID,
			Note:       st.Note,
			CreatedAt:  now,
		})
		return err
	})
	if err != nil {
		return escrow.Binding{}, err
	}

	s.logMovement(entry)
	s.notify(ctx, settlementMessages(binding, entry, st)...)
	return binding, nil
}

func settlementAction(st Settlement) escrow.Action {
	switch {
	case st.RequireDisputed && st.Outcome == escrow.StatusReleased:
		return escrow.ActionResolvedToFreelancer
	case st.RequireDisputed:
		return escrow.ActionResolvedToClient
	case st.Outcome == escrow.StatusReleased:
		return escrow.ActionReleased
	default:
		return escrow.ActionRefunded
	}
}

func settlementMessages(b escrow.Binding, entry ledger.Entry, st Settlement) []notification.Message {
	amount := entry.Amount.StringFixed(2)
	if st.RequireDisputed {
		body := fmt.Sprintf("Dispute on contract %s resolved: %s", b.ContractID, b.Status)
		return []notification.Message{
			{Kind: notification.KindDisputeResolved, Destination: b.ClientID, ContractID: b.ContractID, Amount: amount, Body: body},
			{Kind: notification.KindDisputeResolved, Destination: b.FreelancerID, ContractID: b.ContractID, Amount: amount, Body: body},
		}
	}
	if st.Outcome == escrow.StatusReleased {
		return []notification.Message{{
			Kind: notification.KindEscrowReleased, Destination: b.FreelancerID, ContractID: b.ContractID, Amount: amount,
			Body: fmt.Sprintf("%s was released to you", amount),
		}}
	}
	return []notification.Message{{
		Kind: notification.KindEscrowRefunded, Destination: b.ClientID, ContractID: b.ContractID, Amount: amount,
		Body: fmt.Sprintf("%s was refunded to you", amount),
	}}
}

// Wallet returns the owner's aggregates and one page of their ledger.
func (s *Service) Wallet(ctx context.Context, userID string, page ledger.Page) (wallet.Overview, error) {
	if userID == "" {
		return wallet.Overview{}, apperrors.Validation("user is required")
	}
	page = page.Normalize()

	// Every balance change holds the wallet key, so the aggregates match the entries read here.
	var overview wallet.Overview
	err := s.store.InTx(ctx, []string{store.WalletKey(userID)}, func(tx store.Tx) error {
		acc, err := tx.Wallets().Get(ctx, userID)
		if err != nil {
			return err
		}
		entries, err := tx.Ledger().ListByOwner(ctx, userID, page)
		if err != nil {
			return err
		}
		overview = wallet.Overview{Account: acc, Entries: entries}
		return nil
	})
	if err != nil {
		return wallet.Overview{}, err
	}
	if n := len(overview.Entries); n == page.Limit {
		overview.NextAfter = overview.Entries[n-1].Seq
	}
	return overview, nil
}

// Escrow returns the contract's binding and its history.
func (s *Service) Escrow(ctx context.Context, contractID string) (escrow.Binding, []escrow.Event, error) {
	b, err := s.store.Escrows().Get(ctx, contractID)
	if err != nil {
		return escrow.Binding{}, nil, err
	}
	events, err := s.store.Escrows().Events(ctx, contractID)
	if err != nil {
		return escrow.Binding{}, nil, err
	}
	return b, events, nil
}

// Reconcile replays the owner's ledger and compares the result with the cached aggregates.
func (s *Service) Reconcile(ctx context.Context, userID string) (Reconciliation, error) {
	if userID == "" {
		return Reconciliation{}, apperrors.Validation("user is required")
	}

	var rec Reconciliation
	err := s.store.InTx(ctx, []string{store.WalletKey(userID)}, func(tx store.Tx) error {
		acc, err := tx.Wallets().Get(ctx, userID)
		if err != nil {
			return err
		}
		sums, err := tx.Ledger().SumByOwnerAndType(ctx, userID)
		if err != nil {
			return err
		}
		count := 0
		for page := (ledger.Page{}); ; {
			entries, err := tx.Ledger().ListByOwner(ctx, userID, page)
			if err != nil {
				return err
			}
			count += len(entries)
			if len(entries) < page.Normalize().Limit {
				break
			}
			page.AfterSeq = entries[len(entries)-1].Seq
		}

		rec = Reconciliation{
			OwnerID: userID,
			Cached:  balancesOf(acc),
			Ledger: Balances{
				Available:      sums.Total(),
				Pending:        decimal.Zero,
				TotalEarned:    sums.Of(ledger.TypeEscrowReleased),
				TotalWithdrawn: sums.Of(ledger.TypeWithdraw).Neg(),
			},
			Entries: count,
		}
		rec.Consistent = rec.Cached.Equal(rec.Ledger)
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}

	if !rec.Consistent {
		s.logger.Error("wallet drift detected",
			slog.String("owner_id", userID),
			slog.Any("cached", rec.Cached),
			slog.Any("ledger", rec.Ledger),
		)
	}
	return rec, nil
}

func (s *Service) logMovement(e ledger.Entry) {
	s.logger.Info("ledger movement",
		slog.String("owner_id", e.OwnerID),
		slog.String("type", string(e.Type)),
		slog.String("amount", e.Amount.String()),
		slog.String("contract_id", e.ContractID),
		slog.Int64("seq", e.Seq),
	)
}

// notify runs after commit. Delivery failures are logged and never undo the movement.
func (s *Service) notify(ctx context.Context, msgs ...notification.Message) {
	for _, msg := range msgs {
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("notification failed", slog.String("kind", msg.Kind), slog.String("destination", msg.Destination), slog.Any("error", err))
		}
	}
}
