//go:build !integration

package usecase_test

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"blobsubnet/internal/domain/ledger"
	"blobsubnet/internal/domain/model"
	"blobsubnet/internal/domain/ports/repository"
	"blobsubnet/internal/usecase"
)

// memLedgerRepo is a small in-memory LedgerStateRepository used by unit
// tests, in the teacher's mem-repo-with-Func-fields style.
type memLedgerRepo struct {
	mu       sync.Mutex
	snap     *ledger.Snapshot
	ops      []string
	SaveFunc func(ctx context.Context, snap ledger.Snapshot) error
}

func newMemLedgerRepo() *memLedgerRepo { return &memLedgerRepo{} }

func (m *memLedgerRepo) SaveSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, snap)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := snap
	m.snap = &cp
	return nil
}

func (m *memLedgerRepo) SaveSnapshotTx(ctx context.Context, tx repository.Tx, snap ledger.Snapshot) error {
	return m.SaveSnapshot(ctx, snap)
}

func (m *memLedgerRepo) LoadSnapshot(ctx context.Context) (*ledger.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, false, nil
	}
	return m.snap, true, nil
}

func (m *memLedgerRepo) AppendOperation(ctx context.Context, epoch int64, kind string, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, kind)
	return nil
}

func (m *memLedgerRepo) AppendOperationTx(ctx context.Context, tx repository.Tx, epoch int64, kind string, detail string) error {
	return m.AppendOperation(ctx, epoch, kind, detail)
}

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func addr(b byte) model.Address {
	var a model.Address
	a[31] = b
	return a
}

func hash(b byte) model.Hash {
	var h model.Hash
	h[31] = b
	return h
}

func newTestUC() (*usecase.LedgerUseCase, *memLedgerRepo) {
	st := ledger.New(big.NewInt(1_000_000), big.NewInt(1))
	repo := newMemLedgerRepo()
	return usecase.NewLedgerUseCase(st, repo, nil, testLogger()), repo
}

func TestLedgerUseCase_BuyCreditPersists(t *testing.T) {
	ctx := context.Background()
	uc, repo := newTestUC()

	account, err := uc.BuyCredit(ctx, addr(1), big.NewInt(100), 10)
	require.NoError(t, err)
	require.Equal(t, 0, account.CreditFree.Cmp(big.NewInt(100)))

	snap, ok, err := repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, snap)
	require.Len(t, repo.ops, 1)
	require.Equal(t, "buy_credit", repo.ops[0])
}

func TestLedgerUseCase_AddBlobThenStats(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestUC()

	_, err := uc.BuyCredit(ctx, addr(1), big.NewInt(10_000_000), 0)
	require.NoError(t, err)

	ttl := int64(3600)
	res, err := uc.AddBlob(ctx, ledger.AddBlobParams{
		Origin:     addr(1),
		Caller:     addr(1),
		Subscriber: addr(1),
		Epoch:      0,
		Hash:       hash(1),
		ID:         model.NewSubscriptionID([]byte("sub-1")),
		Size:       1000,
		TTL:        &ttl,
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	stats := uc.GetStats(ctx)
	require.Equal(t, uint64(1), stats.NumBlobs)
	require.Equal(t, uint64(1), stats.NumAdded)
}

func TestLedgerUseCase_PersistenceFailureDoesNotBlockMutation(t *testing.T) {
	ctx := context.Background()
	uc, repo := newTestUC()
	repo.SaveFunc = func(ctx context.Context, snap ledger.Snapshot) error {
		return context.DeadlineExceeded
	}

	account, err := uc.BuyCredit(ctx, addr(2), big.NewInt(50), 1)
	require.NoError(t, err)
	require.Equal(t, 0, account.CreditFree.Cmp(big.NewInt(50)))
}

func TestLedgerUseCase_DebitAccountsWithNoBlobsRemovesNothing(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestUC()

	_, err := uc.BuyCredit(ctx, addr(3), big.NewInt(100), 0)
	require.NoError(t, err)

	removed, warnings := uc.DebitAccounts(ctx, 100)
	require.Empty(t, removed)
	require.Empty(t, warnings)
}
