package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/workbridge/escrow/internal/apperrors"
	"github.com/workbridge/escrow/internal/escrow"
	"github.com/workbridge/escrow/internal/funding"
	"github.com/workbridge/escrow/internal/ledger"
	"github.com/workbridge/escrow/internal/wallet"
)

// ErrInjectedFailure is the cause of commits failed by Memory.FailCommits.
var ErrInjectedFailure = errors.New("injected commit failure")

// Memory is an in-process store for development and tests. Each transaction buffers its writes
// and applies them atomically on commit.
type Memory struct {
	locks keyLocks

	mu   sync.RWMutex
	data memData

	seq       atomic.Int64
	eventSeq  atomic.Int64
	failNext  atomic.Int64
	committed atomic.Int64
}

type memData struct {
	entries     map[string][]ledger.Entry
	depositRefs map[string]struct{}
	wallets     map[string]wallet.Account
	escrows     map[string]escrow.Binding
	events      map[string][]escrow.Event
	intents     map[string]funding.Intent
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		locks: keyLocks{locks: make(map[string]*keyLock)},
		data: memData{
			entries:     make(map[string][]ledger.Entry),
			depositRefs: make(map[string]struct{}),
			wallets:     make(map[string]wallet.Account),
			escrows:     make(map[string]escrow.Binding),
			events:      make(map[string][]escrow.Event),
			intents:     make(map[string]funding.Intent),
		},
	}
}

// FailCommits makes the next n commits fail with apperrors.ErrStorage. Nothing those
// transactions wrote becomes visible.
func (m *Memory) FailCommits(n int) {
	m.failNext.Store(int64(n))
}

// Commits returns the number of transactions committed so far.
func (m *Memory) Commits() int64 {
	return m.committed.Load()
}

func (m *Memory) Ledger() ledger.Repository    { return &memLedger{m.autocommit()} }
func (m *Memory) Wallets() wallet.Repository   { return &memWallets{m.autocommit()} }
func (m *Memory) Escrows() escrow.Repository   { return &memEscrows{m.autocommit()} }
func (m *Memory) Deposits() funding.Repository { return &memDeposits{m.autocommit()} }

// InTx takes the per-key locks in sorted order, runs fn against a fresh overlay and commits it.
func (m *Memory) InTx(ctx context.Context, keys []string, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Storage("begin tx", err)
	}

	ordered := lockOrder(keys)
	for _, key := range ordered {
		m.locks.lock(key)
	}
	defer func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			m.locks.unlock(ordered[i])
		}
	}()

	tx := &memTx{m: m, o: newOverlay()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Storage("commit tx", err)
	}
	return m.commit(tx.o)
}

func (m *Memory) autocommit() *memTx {
	return &memTx{m: m}
}

// commit applies o under the data lock. Unique constraints are checked again here so writes
// made outside InTx cannot slip past them.
func (m *Memory) commit(o *overlay) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext.Load() > 0 {
		m.failNext.Add(-1)
		return apperrors.Storage("commit tx", ErrInjectedFailure)
	}

	for _, e := range o.entries {
		if e.Type == ledger.TypeDeposit {
			if _, dup := m.data.depositRefs[e.Reference]; dup {
				return fmt.Errorf("%w: reference %s", apperrors.ErrConfirmationReplay, e.Reference)
			}
		}
	}
	for id := range o.createdEscrows {
		if _, exists := m.data.escrows[id]; exists {
			return fmt.Errorf("%w: escrow already funded for contract %s", apperrors.ErrConflict, id)
		}
	}
	for ref := range o.createdIntents {
		if _, exists := m.data.intents[ref]; exists {
			return fmt.Errorf("%w: deposit reference %s exists", apperrors.ErrConflict, ref)
		}
	}

	// Callers may hand in strings that alias request buffers, so everything kept past the
	// transaction is copied.
	for _, e := range o.entries {
		e = detachEntry(e)
		m.data.entries[e.OwnerID] = append(m.data.entries[e.OwnerID], e)
		if e.Type == ledger.TypeDeposit {
			m.data.depositRefs[e.Reference] = struct{}{}
		}
	}
	for _, acc := range o.wallets {
		acc.OwnerID = strings.Clone(acc.OwnerID)
		m.data.wallets[acc.OwnerID] = acc
	}
	for _, b := range o.escrows {
		b = detachBinding(b)
		m.data.escrows[b.ContractID] = b
	}
	for _, e := range o.events {
		e = detachEvent(e)
		m.data.events[e.ContractID] = append(m.data.events[e.ContractID], e)
	}
	for _, i := range o.intents {
		i = detachIntent(i)
		m.data.intents[i.Reference] = i
	}

	m.committed.Add(1)
	return nil
}

// overlay holds the writes of one transaction.
type overlay struct {
	entries        []ledger.Entry
	wallets        map[string]wallet.Account
	escrows        map[string]escrow.Binding
	createdEscrows map[string]struct{}
	events         []escrow.Event
	intents        map[string]funding.Intent
	createdIntents map[string]struct{}
}

func newOverlay() *overlay {
	return &overlay{
		wallets:        make(map[string]wallet.Account),
		escrows:        make(map[string]escrow.Binding),
		createdEscrows: make(map[string]struct{}),
		intents:        make(map[string]funding.Intent),
		createdIntents: make(map[string]struct{}),
	}
}

// memTx reads through its overlay to the committed data. Without an overlay every write is
// committed on its own.
type memTx struct {
	m *Memory
	o *overlay
}

func (t *memTx) Ledger() ledger.Repository    { return &memLedger{t} }
func (t *memTx) Wallets() wallet.Repository   { return &memWallets{t} }
func (t *memTx) Escrows() escrow.Repository   { return &memEscrows{t} }
func (t *memTx) Deposits() funding.Repository { return &memDeposits{t} }

// write runs fn against the transaction's overlay, or against a single-use one that is
// committed immediately.
func (t *memTx) write(fn func(o *overlay) error) error {
	if t.o != nil {
		return fn(t.o)
	}
	o := newOverlay()
	if err := fn(o); err != nil {
		return err
	}
	return t.m.commit(o)
}

// read runs fn with the committed data locked for reading.
func (t *memTx) read(fn func(d *memData, o *overlay)) {
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	fn(&t.m.data, t.o)
}

type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyLocks) lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
}

func (k *keyLocks) unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.mu.Unlock()
}

func detachEntry(e ledger.Entry) ledger.Entry {
	e.ID = strings.Clone(e.ID)
	e.OwnerID = strings.Clone(e.OwnerID)
	e.ContractID = strings.Clone(e.ContractID)
	e.Reference = strings.Clone(e.Reference)
	e.Note = strings.Clone(e.Note)
	return e
}

func detachBinding(b escrow.Binding) escrow.Binding {
	b.ContractID = strings.Clone(b.ContractID)
	b.ClientID = strings.Clone(b.ClientID)
	b.FreelancerID = strings.Clone(b.FreelancerID)
	b.DisputeReason = strings.Clone(b.DisputeReason)
	b.DisputedBy = strings.Clone(b.DisputedBy)
	return b
}

func detachEvent(e escrow.Event) escrow.Event {
	e.ID = strings.Clone(e.ID)
	e.ContractID = strings.Clone(e.ContractID)
	e.ActorID = strings.Clone(e.ActorID)
	e.Note = strings.Clone(e.Note)
	return e
}

func detachIntent(i funding.Intent) funding.Intent {
	i.Reference = strings.Clone(i.Reference)
	i.OwnerID = strings.Clone(i.OwnerID)
	i.CheckoutURL = strings.Clone(i.CheckoutURL)
	return i
}
