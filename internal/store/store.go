// Package store provides the unit of work every balance-changing operation runs in.
package store

import (
	"context"
	"slices"

	"github.com/workbridge/escrow/internal/escrow"
	"github.com/workbridge/escrow/internal/funding"
	"github.com/workbridge/escrow/internal/ledger"
	"github.com/workbridge/escrow/internal/wallet"
)

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Ledger() ledger.Repository
	Wallets() wallet.Repository
	Escrows() escrow.Repository
	Deposits() funding.Repository
}

// Store is the transactional store. Its own repositories run outside any transaction and are
// meant for reads.
type Store interface {
	Tx
	// InTx runs fn in one transaction holding an exclusive lock on every key. Operations sharing
	// a key serialize; the rest run in parallel. fn's writes commit together or not at all, and a
	// failed commit is reported as apperrors.ErrStorage.
	InTx(ctx context.Context, keys []string, fn func(Tx) error) error
}

// WalletKey locks one owner's wallet.
func WalletKey(ownerID string) string { return "wallet:" + ownerID }

// ContractKey locks one contract's escrow.
func ContractKey(contractID string) string { return "contract:" + contractID }

// DepositKey locks one deposit reference.
func DepositKey(reference string) string { return "deposit:" + reference }

// lockOrder dedupes and sorts keys so concurrent transactions acquire them in the same order.
func lockOrder(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}
