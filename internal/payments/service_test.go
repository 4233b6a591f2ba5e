package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/escrow"
	"github.com/workbridge/escrow/internal/funding"
	"github.com/workbridge/escrow/internal/ledger"
	"github.com/workbridge/escrow/internal/logging"
	"github.com/workbridge/escrow/internal/notification"
	"github.com/workbridge/escrow/internal/store"
	"github.com/workbridge/escrow/internal/wallet"
)

type recorder struct {
	mu   sync.Mutex
	msgs []notification.Message
	err  error
}

func (r *recorder) Send(_ context.Context, msg notification.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Kind)
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireAmount(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func newTestService(t *testing.T) (*Service, *store.Memory, *recorder) {
	t.Helper()
	mem := store.NewMemory()
	rec := &recorder{}
	svc := NewService(mem, funding.StaticCheckout{BaseURL: "https://pay.example.com/checkout"}, rec, logging.Discard())
	return svc, mem, rec
}

// credit deposits amount into userID's wallet through a confirmed checkout.
func credit(t *testing.T, svc *Service, userID, amount string) funding.Session {
	t.Helper()
	ctx := context.Background()
	session, err := svc.Deposit(ctx, userID, dec(amount))
	require.NoError(t, err)
	res, err := svc.ConfirmDeposit(ctx, funding.Confirmation{Reference: session.Reference, Amount: dec(amount), Outcome: funding.OutcomeSucceeded})
	require.NoError(t, err)
	require.False(t, res.Replayed)
	return session
}

func available(t *testing.T, svc *Service, userID string) decimal.Decimal {
	t.Helper()
	o, err := svc.Wallet(context.Background(), userID, ledger.Page{})
	require.NoError(t, err)
	return o.Account.Available
}

func entries(t *testing.T, svc *Service, userID string) []ledger.Entry {
	t.Helper()
	o, err := svc.Wallet(context.Background(), userID, ledger.Page{Limit: 500})
	require.NoError(t, err)
	return o.Entries
}

func markDisputed(t *testing.T, mem *store.Memory, contractID, by string) {
	t.Helper()
	ctx := context.Background()
	err := mem.InTx(ctx, []string{store.ContractKey(contractID)}, func(tx store.Tx) error {
		b, err := tx.Escrows().Get(ctx, contractID)
		if err != nil {
			return err
		}
		_, err = tx.Escrows().Transition(ctx, contractID, escrow.Transition{
			From:    []escrow.Status{escrow.StatusFunded},
			To:      escrow.StatusDisputed,
			Balance: b.Balance,
			Reason:  "work not delivered",
			By:      by,
			At:      time.Now().UTC(),
		})
		return err
	})
	require.NoError(t, err)
}

func TestDeposit(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Deposit(ctx, "u1", dec("500"))
	require.NoError(t, err)
	require.NotEmpty(t, session.Reference)
	require.Contains(t, session.URL, session.Reference)

	intent, err := mem.Deposits().Get(ctx, session.Reference)
	require.NoError(t, err)
	require.Equal(t, funding.StatusPending, intent.Status)
	require.Empty(t, entries(t, svc, "u1"), "nothing reaches the ledger before confirmation")
	requireAmount(t, "0", available(t, svc, "u1"))

	for _, bad := range []string{"0", "-5", "10.001", "1000000000000000000", "1e19"} {
		_, err := svc.Deposit(ctx, "u1", dec(bad))
		require.ErrorIs(t, err, apperrors.ErrValidation, bad)
	}
	_, err = svc.Deposit(ctx, "u1", dec("999999999999999999.99"))
	require.NoError(t, err, "largest amount a numeric(20,2) column holds")
}

func TestAmountUpperBound(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	credit(t, svc, "client", "500")
	huge := dec("1000000000000000000")

	_, err := svc.Withdraw(ctx, "client", huge, "iban:DE00")
	require.ErrorIs(t, err, apperrors.ErrValidation)
	require.NotErrorIs(t, err, apperrors.ErrInsufficientFunds)
	_, err = svc.FundEscrow(ctx, "c1", "client", "freelancer", huge)
	require.ErrorIs(t, err, apperrors.ErrValidation)
	requireAmount(t, "500", available(t, svc, "client"))
}

func TestConfirmDeposit(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()

	session, err := svc.Deposit(ctx, "u1", dec("500"))
	require.NoError(t, err)
	confirm := funding.Confirmation{Reference: session.Reference, Amount: dec("500.00"), Outcome: funding.OutcomeSucceeded}

	res, err := svc.ConfirmDeposit(ctx, confirm)
	require.NoError(t, err)
	require.False(t, res.Replayed)
	require.Equal(t, funding.StatusConfirmed, res.Intent.Status)
	requireAmount(t, "500", available(t, svc, "u1"))

	for range 5 {
		res, err := svc.ConfirmDeposit(ctx, confirm)
		require.NoError(t, err)
		require.True(t, res.Replayed)
	}
	requireAmount(t, "500", available(t, svc, "u1"), "replays change nothing")
	require.Len(t, entries(t, svc, "u1"), 1)
	require.Equal(t, []string{notification.KindDepositConfirmed}, rec.kinds())

	t.Run("amount mismatch", func(t *testing.T) {
		s, err := svc.Deposit(ctx, "u2", dec("50"))
		require.NoError(t, err)
		_, err = svc.ConfirmDeposit(ctx, funding.Confirmation{Reference: s.Reference, Amount: dec("49.99"), Outcome: funding.OutcomeSucceeded})
		require.ErrorIs(t, err, apperrors.ErrValidation)
		requireAmount(t, "0", available(t, svc, "u2"))
	})

	t.Run("failed payment", func(t *testing.T) {
		s, err := svc.Deposit(ctx, "u3", dec("50"))
		require.NoError(t, err)
		failed := funding.Confirmation{Reference: s.Reference, Amount: dec("50"), Outcome: funding.OutcomeFailed}

		res, err := svc.ConfirmDeposit(ctx, failed)
		require.NoError(t, err)
		require.Equal(t, funding.StatusFailed, res.Intent.Status)

		res, err = svc.ConfirmDeposit(ctx, failed)
		require.NoError(t, err)
		require.True(t, res.Replayed)

		failed.Outcome = funding.OutcomeSucceeded
		_, err = svc.ConfirmDeposit(ctx, failed)
		require.ErrorIs(t, err, apperrors.ErrInvalidState)
		require.Empty(t, entries(t, svc, "u3"))
	})

	t.Run("cancelled deposit", func(t *testing.T) {
		s, err := svc.Deposit(ctx, "u4", dec("50"))
		require.NoError(t, err)

		_, err = svc.CancelDeposit(ctx, "someone-else", s.Reference)
		require.ErrorIs(t, err, apperrors.ErrNotFound)

		intent, err := svc.CancelDeposit(ctx, "u4", s.Reference)
		require.NoError(t, err)
		require.Equal(t, funding.StatusCancelled, intent.Status)

		_, err = svc.CancelDeposit(ctx, "u4", s.Reference)
		require.ErrorIs(t, err, apperrors.ErrInvalidState)

		_, err = svc.ConfirmDeposit(ctx, funding.Confirmation{Reference: s.Reference, Amount: dec("50"), Outcome: funding.OutcomeSucceeded})
		require.ErrorIs(t, err, apperrors.ErrInvalidState)
	})

	t.Run("unknown reference", func(t *testing.T) {
		_, err := svc.ConfirmDeposit(ctx, funding.Confirmation{Reference: "nope", Amount: dec("1"), Outcome: funding.OutcomeSucceeded})
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestConfirmDepositConcurrentReplays(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Deposit(ctx, "u1", dec("75"))
	require.NoError(t, err)

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.ConfirmDeposit(ctx, funding.Confirmation{Reference: session.Reference, Amount: dec("75"), Outcome: funding.OutcomeSucceeded})
			if !assert.NoError(t, err) {
				return
			}
			if !res.Replayed {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, applied)
	requireAmount(t, "75", available(t, svc, "u1"))
	require.Len(t, entries(t, svc, "u1"), 1)
}

func TestWithdraw(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	credit(t, svc, "u1", "500")

	acc, err := svc.Withdraw(ctx, "u1", dec("120.50"), "iban:DE00123")
	require.NoError(t, err)
	requireAmount(t, "379.50", acc.Available)
	requireAmount(t, "120.50", acc.TotalWithdrawn)

	list := entries(t, svc, "u1")
	require.Len(t, list, 2)
	require.Equal(t, ledger.TypeWithdraw, list[1].Type)
	requireAmount(t, "-120.50", list[1].Amount)
	require.Equal(t, "iban:DE00123", list[1].Reference)
	require.Contains(t, rec.kinds(), notification.KindWithdrawal)

	_, err = svc.Withdraw(ctx, "u1", dec("10"), "")
	require.ErrorIs(t, err, apperrors.ErrValidation)
	_, err = svc.Withdraw(ctx, "u1", dec("0"), "iban:DE00123")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

// Scenario D: an overdraft writes nothing.
func TestWithdrawInsufficientFunds(t *testing.T) {
	svc, _, _ := newTestService(t)
	credit(t, svc, "u1", "500")

	_, err := svc.Withdraw(context.Background(), "u1", dec("1000"), "iban:DE00123")

	require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
	requireAmount(t, "500", available(t, svc, "u1"))
	require.Len(t, entries(t, svc, "u1"), 1)
}

func TestWithdrawConcurrentNeverOverdraws(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	credit(t, svc, "u1", "100")

	const n = 30
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Withdraw(ctx, "u1", dec("10"), "iban:DE00123")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	require.Equal(t, 10, succeeded)
	requireAmount(t, "0", available(t, svc, "u1"))
}

func TestWalletViewMatchesLedgerUnderWrites(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	credit(t, svc, "u1", "1000")

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				_, err := svc.Withdraw(ctx, "u1", dec("1"), "iban:DE00123")
				assert.NoError(t, err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for reading := true; reading; {
		select {
		case <-done:
			reading = false
		default:
		}
		o, err := svc.Wallet(ctx, "u1", ledger.Page{Limit: 500})
		require.NoError(t, err)
		sum := decimal.Zero
		for _, e := range o.Entries {
			sum = sum.Add(e.Amount)
		}
		requireAmount(t, sum.String(), o.Account.Available, "balance and entries read together")
	}
	requireAmount(t, "900", available(t, svc, "u1"))
}

// Scenario A.
func TestFundEscrow(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	credit(t, svc, "client", "500")

	b, err := svc.FundEscrow(ctx, "contract-x", "client", "freelancer", dec("200"))
	require.NoError(t, err)
	require.Equal(t, escrow.StatusFunded, b.Status)
	requireAmount(t, "200", b.Balance)
	requireAmount(t, "300", available(t, svc, "client"))

	_, events, err := svc.Escrow(ctx, "contract-x")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, escrow.ActionFunded, events[0].Action)
	require.Equal(t, "client", events[0].ActorID)
	require.Contains(t, rec.kinds(), notification.KindEscrowFunded)

	t.Run("no double funding", func(t *testing.T) {
		_, err := svc.FundEscrow(ctx, "contract-x", "client", "freelancer", dec("200"))
		require.ErrorIs(t, err, apperrors.ErrConflict)
		requireAmount(t, "300", available(t, svc, "client"))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := svc.FundEscrow(ctx, "contract-y", "client", "freelancer", dec("301"))
		require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
		_, _, err = svc.Escrow(ctx, "contract-y")
		require.ErrorIs(t, err, apperrors.ErrNotFound)
		requireAmount(t, "300", available(t, svc, "client"))
	})

	t.Run("same party", func(t *testing.T) {
		_, err := svc.FundEscrow(ctx, "contract-z", "client", "client", dec("1"))
		require.ErrorIs(t, err, apperrors.ErrValidation)
	})
}

func TestFundEscrowConcurrentOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	credit(t, svc, "client", "1000")

	const n = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		funded int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.FundEscrow(ctx, "contract-x", "client", "freelancer", dec("100"))
			if err == nil {
				mu.Lock()
				funded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, apperrors.ErrConflict)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, funded)
	requireAmount(t, "900", available(t, svc, "client"))
}

// Scenario B.
func TestReleaseToFreelancer(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	credit(t, svc, "client", "500")
	_, err := svc.FundEscrow(ctx, "contract-x", "client", "freelancer", dec("200"))
	require.NoError(t, err)

	_, err = svc.ReleaseToFreelancer(ctx, "contract-x", "freelancer", "approved")
	require.ErrorIs(t, err, apperrors.ErrForbidden, "only the client approves a release")

	b, err := svc.ReleaseToFreelancer(ctx, "contract-x", "client", "approved")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusReleased, b.Status)
	requireAmount(t, "0", b.Balance)

	o, err := svc.Wallet(ctx, "freelancer", ledger.Page{})
	require.NoError(t, err)
	requireAmount(t, "200", o.Account.Available)
	requireAmount(t, "200", o.Account.TotalEarned)
	requireAmount(t, "0", o.Account.Pending)
	require.Len(t, o.Entries, 1)
	require.Equal(t, ledger.TypeEscrowReleased, o.Entries[0].Type)
	require.Equal(t, "approved", o.Entries[0].Note)

	_, err = svc.ReleaseToFreelancer(ctx, "contract-x", "client", "again")
	require.ErrorIs(t, err, apperrors.ErrInvalidState)
	requireAmount(t, "200", available(t, svc, "freelancer"))
	require.Contains(t, rec.kinds(), notification.KindEscrowReleased)

	_, err = svc.RefundToClient(ctx, "contract-x", "freelancer", "")
	require.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestRefundToClient(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	credit(t, svc, "client", "500")
	_, err := svc.FundEscrow(ctx, "contract-x", "client", "freelancer", dec("200"))
	require.NoError(t, err)

	_, err = svc.RefundToClient(ctx, "contract-x", "client", "")
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	b, err := svc.RefundToClient(ctx, "contract-x", "freelancer", "cannot deliver")
	require.NoError(t, err)
	require.Equal(t, escrow.StatusRefunded, b.Status)

	o, err := svc.Wallet(ctx, "client", ledger.Page{})
	require.NoError(t, err)
	requireAmount(t, "500", o.Account.Available)
	requireAmount(t, "0", o.Account.TotalEarned)
	require.Equal(t, ledger.TypeRefund, o.Entries[len(o.Entries)-1].Type)
}

// Scenario C.
func TestSettleDisputed(t *testing.T) {
	svc, mem, rec := newTestService(t)
	ctx := context.Background()
	credit(t, svc, "client", "500")
	_, err := svc.FundEscrow(ctx, "contract-x", "client", "freelancer", dec("200"))
	require.NoError(t, err)

	_, err = svc.Settle(ctx, Settlement{ContractID: "contract-x", Outcome: escrow.StatusRefunded, ActorID: "admin", RequireDisputed: true})
	require.ErrorIs(t, err, apperrors.ErrInvalidState, "admin resolution needs an open dispute")

	markDisputed(t, mem, "contract-x", "client")

	b, err := svc.Settle(ctx, Settlement{
		ContractID:      "contract-x",
		Outcome:         escrow.StatusRefunded,
		ActorID:         "admin",
		Note:            "freelancer did not deliver",
		RequireDisputed: true,
	})
	require.NoError(t, err)
	require.Equal(t, escrow.StatusRefunded, b.Status)
	requireAmount(t, "500", available(t, svc, "client"))

	_, events, err := svc.Escrow(ctx, "contract-x")
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, escrow.ActionResolvedToClient, last.Action)
	require.Equal(t, "admin", last.ActorID)
	require.Equal(t, "freelancer did not deliver", last.Note)

	_, err = svc.Settle(ctx, Settlement{ContractID: "contract-x", Outcome: escrow.StatusReleased, ActorID: "admin", RequireDisputed: true})
	require.ErrorIs(t, err, apperrors.ErrInvalidState)
	requireAmount(t, "0", available(t, svc, "freelancer"))
	require.Contains(t, rec.kinds(), notification.KindDisputeResolved)
}

func TestSettleConcurrentExactlyOnce(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	credit(t, svc, "client", "500")
	_, err := svc.FundEscrow(ctx, "contract-x", "client", "freelancer", dec("200"))
	require.NoError(t, err)
	markDisputed(t, mem, "contract-x", "freelancer")

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for i := range n {
		outcome := escrow.StatusReleased
		if i%2 == 0 {
			outcome = escrow.StatusRefunded
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Settle(ctx, Settlement{ContractID: "contract-x", Outcome: outcome, ActorID: "admin", RequireDisputed: true})
			if err == nil {
				mu.Lock()
				settled++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, apperrors.ErrInvalidState)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, settled)
	total := available(t, svc, "client").Add(available(t, svc, "freelancer"))
	requireAmount(t, "500", total, "money is conserved")
}

func TestStorageFailureRollsBack(t *testing.T) {
	svc, mem, rec := newTestService(t)
	ctx := context.Background()
	credit(t, svc, "client", "500")
	sent := len(rec.kinds())

	mem.FailCommits(1)
	_, err := svc.FundEscrow(ctx, "contract-x", "client", "freelancer", dec("200"))
	require.ErrorIs(t, err, apperrors.ErrStorage)

	requireAmount(t, "500", available(t, svc, "client"))
	require.Len(t, entries(t, svc, "client"), 1)
	_, _, err = svc.Escrow(ctx, "contract-x")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Len(t, rec.kinds(), sent, "no notification for a rolled back operation")

	_, err = svc.FundEscrow(ctx, "contract-x", "client", "freelancer", dec("200"))
	require.NoError(t, err, "storage failures are retry safe")
	requireAmount(t, "300", available(t, svc, "client"))
}

func TestNotificationFailureDoesNotUndo(t *testing.T) {
	svc, _, rec := newTestService(t)
	rec.err = errors.New("broker down")

	credit(t, svc, "u1", "40")

	requireAmount(t, "40", available(t, svc, "u1"))
}

func TestWalletPaging(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for _, amount := range []string{"10", "20", "30"} {
		credit(t, svc, "u1", amount)
	}

	first, err := svc.Wallet(ctx, "u1", ledger.Page{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	require.Equal(t, first.Entries[1].Seq, first.NextAfter)
	requireAmount(t, "60", first.Account.Available)

	second, err := svc.Wallet(ctx, "u1", ledger.Page{AfterSeq: first.NextAfter, Limit: 2})
	require.NoError(t, err)
	require.Len(t, second.Entries, 1)
	requireAmount(t, "30", second.Entries[0].Amount)
	require.Zero(t, second.NextAfter)
}

func TestReconcile(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	credit(t, svc, "client", "500")
	_, err := svc.FundEscrow(ctx, "contract-x", "client", "freelancer", dec("200"))
	require.NoError(t, err)
	_, err = svc.ReleaseToFreelancer(ctx, "contract-x", "client", "")
	require.NoError(t, err)
	_, err = svc.Withdraw(ctx, "freelancer", dec("50"), "iban:DE00123")
	require.NoError(t, err)

	for _, user := range []string{"client", "freelancer"} {
		rec, err := svc.Reconcile(ctx, user)
		require.NoError(t, err)
		require.True(t, rec.Consistent, user)
	}

	rec, err := svc.Reconcile(ctx, "freelancer")
	require.NoError(t, err)
	require.Equal(t, 2, rec.Entries)
	requireAmount(t, "150", rec.Ledger.Available)
	requireAmount(t, "200", rec.Ledger.TotalEarned)
	requireAmount(t, "50", rec.Ledger.TotalWithdrawn)

	// A write that bypasses the ledger shows up as drift.
	_, err = mem.Wallets().ApplyDelta(ctx, "freelancer", wallet.Delta{Available: dec("1")})
	require.NoError(t, err)
	rec, err = svc.Reconcile(ctx, "freelancer")
	require.NoError(t, err)
	require.False(t, rec.Consistent)
}
