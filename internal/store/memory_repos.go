package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/escrow"
	"github.com/workbridge/escrow/internal/funding"
	"github.com/workbridge/escrow/internal/ledger"
	"github.com/workbridge/escrow/internal/wallet"
)

type memLedger struct{ tx *memTx }

func (r *memLedger) Append(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	if err := e.Validate(); err != nil {
		return ledger.Entry{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if e.Type == ledger.TypeDeposit {
		var dup bool
		r.tx.read(func(d *memData, o *overlay) {
			_, dup = d.depositRefs[e.Reference]
			if o != nil {
				for _, pending := range o.entries {
					dup = dup || (pending.Type == ledger.TypeDeposit && pending.Reference == e.Reference)
				}
			}
		})
		if dup {
			return ledger.Entry{}, fmt.Errorf("%w: reference %s", apperrors.ErrConfirmationReplay, e.Reference)
		}
	}

	e.Seq = r.tx.m.seq.Add(1)
	err := r.tx.write(func(o *overlay) error {
		o.entries = append(o.entries, e)
		return nil
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func (r *memLedger) owned(ownerID string) []ledger.Entry {
	var out []ledger.Entry
	r.tx.read(func(d *memData, o *overlay) {
		out = slices.Clone(d.entries[ownerID])
		if o != nil {
			for _, e := range o.entries {
				if e.OwnerID == ownerID {
					out = append(out, e)
				}
			}
		}
	})
	slices.SortFunc(out, func(a, b ledger.Entry) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

func (r *memLedger) ListByOwner(_ context.Context, ownerID string, page ledger.Page) ([]ledger.Entry, error) {
	page = page.Normalize()

	entries := make([]ledger.Entry, 0, page.Limit)
	for _, e := range r.owned(ownerID) {
		if e.Seq <= page.AfterSeq {
			continue
		}
		entries = append(entries, e)
		if len(entries) == page.Limit {
			break
		}
	}
	return entries, nil
}

func (r *memLedger) SumByOwnerAndType(_ context.Context, ownerID string) (ledger.Sums, error) {
	sums := ledger.Sums{}
	for _, e := range r.owned(ownerID) {
		sums[e.Type] = sums.Of(e.Type).Add(e.Amount)
	}
	return sums, nil
}

type memWallets struct{ tx *memTx }

func (r *memWallets) current(ownerID string) (wallet.Account, bool) {
	var (
		acc wallet.Account
		ok  bool
	)
	r.tx.read(func(d *memData, o *overlay) {
		if o != nil {
			if acc, ok = o.wallets[ownerID]; ok {
				return
			}
		}
		acc, ok = d.wallets[ownerID]
	})
	return acc, ok
}

func (r *memWallets) Get(_ context.Context, ownerID string) (wallet.Account, error) {
	if ownerID == "" {
		return wallet.Account{}, apperrors.Validation("wallet owner is required")
	}
	if acc, ok := r.current(ownerID); ok {
		return acc, nil
	}

	acc := wallet.NewAccount(ownerID, time.Now().UTC())
	if r.tx.o == nil {
		// Reads outside a transaction do not persist; the first delta creates the row.
		return acc, nil
	}
	err := r.tx.write(func(o *overlay) error {
		o.wallets[ownerID] = acc
		return nil
	})
	if err != nil {
		return wallet.Account{}, err
	}
	return acc, nil
}

func (r *memWallets) ApplyDelta(_ context.Context, ownerID string, d wallet.Delta) (wallet.Account, error) {
	if ownerID == "" {
		return wallet.Account{}, apperrors.Validation("wallet owner is required")
	}
	now := time.Now().UTC()
	acc, ok := r.current(ownerID)
	if !ok {
		acc = wallet.NewAccount(ownerID, now)
	}

	next, err := acc.Apply(d, now)
	if err != nil {
		return wallet.Account{}, err
	}
	err = r.tx.write(func(o *overlay) error {
		o.wallets[ownerID] = next
		return nil
	})
	if err != nil {
		return wallet.Account{}, err
	}
	return next, nil
}

type memEscrows struct{ tx *memTx }

func (r *memEscrows) current(contractID string) (escrow.Binding, bool) {
	var (
		b  escrow.Binding
		ok bool
	)
	r.tx.read(func(d *memData, o *overlay) {
		if o != nil {
			if b, ok = o.escrows[contractID]; ok {
				return
			}
		}
		b, ok = d.escrows[contractID]
	})
	return b, ok
}

func (r *memEscrows) Create(_ context.Context, b escrow.Binding) (escrow.Binding, error) {
	if _, exists := r.current(b.ContractID); exists {
		return escrow.Binding{}, fmt.Errorf("%w: escrow already funded for contract %s", apperrors.ErrConflict, b.ContractID)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	b.UpdatedAt = b.CreatedAt

	err := r.tx.write(func(o *overlay) error {
		o.escrows[b.ContractID] = b
		o.createdEscrows[b.ContractID] = struct{}{}
		return nil
	})
	if err != nil {
		return escrow.Binding{}, err
	}
	return b, nil
}

func (r *memEscrows) Get(_ context.Context, contractID string) (escrow.Binding, error) {
	b, ok := r.current(contractID)
	if !ok {
		return escrow.Binding{}, fmt.Errorf("%w: escrow for contract %s", apperrors.ErrNotFound, contractID)
	}
	return b, nil
}

func (r *memEscrows) ListByStatus(_ context.Context, status escrow.Status) ([]escrow.Binding, error) {
	merged := make(map[string]escrow.Binding)
	r.tx.read(func(d *memData, o *overlay) {
		for id, b := range d.escrows {
			merged[id] = b
		}
		if o != nil {
			for id, b := range o.escrows {
				merged[id] = b
			}
		}
	})

	var list []escrow.Binding
	for _, b := range merged {
		if b.Status == status {
			list = append(list, b)
		}
	}
	slices.SortFunc(list, func(a, b escrow.Binding) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ContractID, b.ContractID)
	})
	return list, nil
}

func (r *memEscrows) Transition(ctx context.Context, contractID string, t escrow.Transition) (escrow.Binding, error) {
	current, err := r.Get(ctx, contractID)
	if err != nil {
		return escrow.Binding{}, err
	}
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	next, err := t.Apply(current)
	if err != nil {
		return escrow.Binding{}, err
	}

	err = r.tx.write(func(o *overlay) error {
		o.escrows[contractID] = next
		return nil
	})
	if err != nil {
		return escrow.Binding{}, err
	}
	return next, nil
}

func (r *memEscrows) AppendEvent(ctx context.Context, e escrow.Event) (escrow.Event, error) {
	if _, err := r.Get(ctx, e.ContractID); err != nil {
		return escrow.Event{}, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.Seq = r.tx.m.eventSeq.Add(1)

	err := r.tx.write(func(o *overlay) error {
		o.events = append(o.events, e)
		return nil
	})
	if err != nil {
		return escrow.Event{}, err
	}
	return e, nil
}

func (r *memEscrows) Events(_ context.Context, contractID string) ([]escrow.Event, error) {
	var out []escrow.Event
	r.tx.read(func(d *memData, o *overlay) {
		out = slices.Clone(d.events[contractID])
		if o != nil {
			for _, e := range o.events {
				if e.ContractID == contractID {
					out = append(out, e)
				}
			}
		}
	})
	slices.SortFunc(out, func(a, b escrow.Event) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}

type memDeposits struct{ tx *memTx }

func (r *memDeposits) current(reference string) (funding.Intent, bool) {
	var (
		i  funding.Intent
		ok bool
	)
	r.tx.read(func(d *memData, o *overlay) {
		if o != nil {
			if i, ok = o.intents[reference]; ok {
				return
			}
		}
		i, ok = d.intents[reference]
	})
	return i, ok
}

func (r *memDeposits) Create(_ context.Context, i funding.Intent) (funding.Intent, error) {
	if _, exists := r.current(i.Reference); exists {
		return funding.Intent{}, fmt.Errorf("%w: deposit reference %s exists", apperrors.ErrConflict, i.Reference)
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	i.UpdatedAt = i.CreatedAt

	err := r.tx.write(func(o *overlay) error {
		o.intents[i.Reference] = i
		o.createdIntents[i.Reference] = struct{}{}
		return nil
	})
	if err != nil {
		return funding.Intent{}, err
	}
	return i, nil
}

func (r *memDeposits) Get(_ context.Context, reference string) (funding.Intent, error) {
	i, ok := r.current(reference)
	if !ok {
		return funding.Intent{}, fmt.Errorf("%w: deposit %s", apperrors.ErrNotFound, reference)
	}
	return i, nil
}

func (r *memDeposits) UpdateStatus(ctx context.Context, reference string, from, to funding.Status, at time.Time) (funding.Intent, error) {
	i, err := r.Get(ctx, reference)
	if err != nil {
		return funding.Intent{}, err
	}
	if i.Status != from {
		return funding.Intent{}, apperrors.InvalidState("deposit %s is %s", reference, i.Status)
	}
	i.Status = to
	i.UpdatedAt = at

	err = r.tx.write(func(o *overlay) error {
		o.intents[reference] = i
		return nil
	})
	if err != nil {
		return funding.Intent{}, err
	}
	return i, nil
}
