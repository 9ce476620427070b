// Package chain supplies the epoch clock the accounting core ticks on.
// This host has no consensus layer: TickerEpochSource advances one
// epoch per DebitWorker firing. The interface is kept distinct from the
// worker's internal counter so a future blockchain-backed deployment
// can substitute real block heights without touching usecase code.
package chain

import (
	"sync"

	"github.com/holiman/uint256"
)

// EpochSource returns the current accounting epoch.
type EpochSource interface {
	Epoch() int64
}

// TickerEpochSource is an in-process monotonic counter seeded at
// construction and advanced by Advance() once per debit tick. The
// counter is kept as a uint256 internally since on-chain epoch/block
// height values are unsigned fixed-width quantities on the source
// chain; Epoch() narrows to int64 for the ledger core's signed-epoch
// parameters, which never need more than that range in practice.
type TickerEpochSource struct {
	mu    sync.Mutex
	epoch *uint256.Int
}

func NewTickerEpochSource(start int64) *TickerEpochSource {
	return &TickerEpochSource{epoch: uint256.NewInt(uint64(start))}
}

func (t *TickerEpochSource) Epoch() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(t.epoch.Uint64())
}

// Advance moves the epoch forward by one and returns the new value.
func (t *TickerEpochSource) Advance() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch.AddUint64(t.epoch, 1)
	return int64(t.epoch.Uint64())
}
