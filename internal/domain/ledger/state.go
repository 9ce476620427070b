// Package ledger implements the credit/capacity/subscription/ingestion
// accounting core described by the accompanying specification: the
// state machine that commits and refunds credit as blobs are added,
// renewed, deleted, and resolved, keeping the global running totals,
// per-account balances, and secondary indexes consistent.
//
// State is a single in-memory value with no internal synchronization:
// callers serialize access (see usecase.LedgerUseCase), exactly as a
// single-threaded deterministic host would. Every exported method
// either returns early with the receiver untouched or falls through to
// an unconditional mutation block — partial failure inside one call is
// not possible.
package ledger

import (
	"math/big"

	"blobsubnet/internal/domain/model"
)

// State is the whole accounting core: the five running totals, the
// fixed credit/token exchange rate, and the four maps keyed by address,
// hash, and epoch.
type State struct {
	CapacityTotal   *big.Int
	CapacityUsed    *big.Int
	CreditSold      *big.Int
	CreditCommitted *big.Int
	CreditDebited   *big.Int
	CreditDebitRate *big.Int

	Accounts map[model.Address]*model.Account
	Blobs    map[model.Hash]*model.Blob

	Expiries ExpiryIndex
	Added    IngestionIndex
	Pending  IngestionIndex
}

// New builds an empty ledger with the given total capacity and fixed
// credit-per-token-atto exchange rate.
func New(capacityTotal, creditDebitRate *big.Int) *State {
	return &State{
		CapacityTotal:   new(big.Int).Set(capacityTotal),
		CapacityUsed:    new(big.Int),
		CreditSold:      new(big.Int),
		CreditCommitted: new(big.Int),
		CreditDebited:   new(big.Int),
		CreditDebitRate: new(big.Int).Set(creditDebitRate),
		Accounts:        make(map[model.Address]*model.Account),
		Blobs:           make(map[model.Hash]*model.Blob),
		Expiries:        NewExpiryIndex(),
		Added:           NewIngestionIndex(),
		Pending:         NewIngestionIndex(),
	}
}

// CapacityAvailable returns capacity_total - capacity_used.
func (s *State) CapacityAvailable() *big.Int {
	return new(big.Int).Sub(s.CapacityTotal, s.CapacityUsed)
}

// account returns the account for addr, creating it if absent.
func (s *State) account(addr model.Address) *model.Account {
	a, ok := s.Accounts[addr]
	if !ok {
		a = model.NewAccount()
		s.Accounts[addr] = a
	}
	return a
}

// getAccount returns the account for addr without creating it.
func (s *State) getAccount(addr model.Address) (*model.Account, bool) {
	a, ok := s.Accounts[addr]
	return a, ok
}
