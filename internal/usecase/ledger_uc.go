// File: internal/usecase/ledger_uc.go
package usecase

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/rs/zerolog"

	"blobsubnet/internal/domain/ledger"
	"blobsubnet/internal/domain/model"
	"blobsubnet/internal/domain/ports/repository"
	"blobsubnet/internal/infra/worker"
)

// LedgerUseCase guards the single in-memory accounting core with a
// mutex and persists a snapshot plus an audit-log row after every
// mutating call, mirroring the teacher's tx-per-call usecase shape
// while the core itself stays a plain un-synchronized value.
type LedgerUseCase struct {
	mu     sync.Mutex
	state  *ledger.State
	repo   repository.LedgerStateRepository
	pool   *worker.Pool
	logger *zerolog.Logger
}

// NewLedgerUseCase constructs the use case around an already-loaded (or
// freshly-built) core state. pool may be nil, in which case persistence
// runs synchronously on the caller's goroutine.
func NewLedgerUseCase(state *ledger.State, repo repository.LedgerStateRepository, pool *worker.Pool, logger *zerolog.Logger) *LedgerUseCase {
	return &LedgerUseCase{state: state, repo: repo, pool: pool, logger: logger}
}

// persist snapshots the current state (while the core is still locked by
// the caller) and dispatches the repo round trip to the worker pool so a
// slow Postgres write does not hold the caller's lock. With no pool, or
// when the pool's queue is full, the write runs synchronously while the
// lock is still held. Persistence
// errors are logged but not returned: the in-memory state is
// authoritative for serving requests, and a hiccup must not roll back
// an already-applied mutation (the next successful persist catches up).
func (uc *LedgerUseCase) persist(ctx context.Context, epoch int64, kind, detail string) {
	if uc.repo == nil {
		return
	}
	snap := uc.state.Export()
	save := func(ctx context.Context) error {
		if err := uc.repo.SaveSnapshot(ctx, snap); err != nil {
			uc.logger.Error().Err(err).Str("op", kind).Msg("failed to persist ledger snapshot")
		}
		if err := uc.repo.AppendOperation(ctx, epoch, kind, detail); err != nil {
			uc.logger.Error().Err(err).Str("op", kind).Msg("failed to append ledger operation log")
		}
		return nil
	}
	if uc.pool == nil {
		_ = save(ctx)
		return
	}
	if err := uc.pool.Submit(save); err != nil {
		uc.logger.Warn().Err(err).Str("op", kind).Msg("persistence queue full, writing synchronously")
		_ = save(context.Background())
	}
}

// BuyCredit credits recipient with amount atto tokens worth of credit.
func (uc *LedgerUseCase) BuyCredit(ctx context.Context, recipient model.Address, amount *big.Int, epoch int64) (*model.Account, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	account, err := uc.state.BuyCredit(recipient, amount, epoch)
	if err != nil {
		return nil, err
	}
	uc.persist(ctx, epoch, "buy_credit", fmt.Sprintf("recipient=%s amount=%s", recipient, amount))
	return account, nil
}

// ApproveCredit grants or updates an approval from -> to (optionally
// scoped to a single caller).
func (uc *LedgerUseCase) ApproveCredit(ctx context.Context, from, to model.Address, requireCaller *model.Address, epoch int64, limit *big.Int, ttl *int64) (*model.Approval, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	appr, err := uc.state.ApproveCredit(from, to, requireCaller, epoch, limit, ttl)
	if err != nil {
		return nil, err
	}
	uc.persist(ctx, epoch, "approve_credit", fmt.Sprintf("from=%s to=%s", from, to))
	return appr, nil
}

// ApproveCreditAllowlist expands a caller_allowlist into one approval per
// listed caller, each scoped the way a single requireCaller approval would
// be. All approvals share the same from/to/limit/ttl and are persisted as
// one snapshot write.
func (uc *LedgerUseCase) ApproveCreditAllowlist(ctx context.Context, from, to model.Address, callers []model.Address, epoch int64, limit *big.Int, ttl *int64) ([]*model.Approval, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	out := make([]*model.Approval, 0, len(callers))
	for i := range callers {
		appr, err := uc.state.ApproveCredit(from, to, &callers[i], epoch, limit, ttl)
		if err != nil {
			return nil, err
		}
		out = append(out, appr)
	}
	uc.persist(ctx, epoch, "approve_credit", fmt.Sprintf("from=%s to=%s callers=%d", from, to, len(callers)))
	return out, nil
}

// RevokeCredit removes an approval from -> to (optionally scoped to a
// single caller).
func (uc *LedgerUseCase) RevokeCredit(ctx context.Context, from, to model.Address, forCaller *model.Address, epoch int64) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if err := uc.state.RevokeCredit(from, to, forCaller); err != nil {
		return err
	}
	uc.persist(ctx, epoch, "revoke_credit", fmt.Sprintf("from=%s to=%s", from, to))
	return nil
}

// SetCreditSponsor sets or clears the account's default sponsor.
func (uc *LedgerUseCase) SetCreditSponsor(ctx context.Context, from model.Address, sponsor *model.Address, epoch int64) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	uc.state.SetCreditSponsor(from, sponsor)
	uc.persist(ctx, epoch, "set_credit_sponsor", fmt.Sprintf("from=%s", from))
	return nil
}

// UpdateCredit applies a signed credit adjustment to sponsor's account
// (or to from's when sponsor is nil); requires isAdmin or a self-keyed
// approval from sponsor to from.
func (uc *LedgerUseCase) UpdateCredit(ctx context.Context, from model.Address, sponsor *model.Address, addAmount *big.Int, isAdmin bool, epoch int64) (*model.Account, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	account, err := uc.state.UpdateCredit(from, sponsor, addAmount, isAdmin)
	if err != nil {
		return nil, err
	}
	uc.persist(ctx, epoch, "update_credit", fmt.Sprintf("from=%s amount=%s", from, addAmount))
	return account, nil
}

// AddBlob registers a new blob subscription, buying or charging credit
// as needed.
func (uc *LedgerUseCase) AddBlob(ctx context.Context, p ledger.AddBlobParams) (*ledger.AddBlobResult, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	res, err := uc.state.AddBlob(p)
	if err != nil {
		return nil, err
	}
	uc.persist(ctx, p.Epoch, "add_blob", fmt.Sprintf("hash=%s subscriber=%s id=%s", p.Hash, p.Subscriber, p.ID))
	return res, nil
}

// RenewBlob extends an existing subscription's TTL.
func (uc *LedgerUseCase) RenewBlob(ctx context.Context, subscriber model.Address, epoch int64, hash model.Hash, id model.SubscriptionID) (*model.Subscription, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	sub, err := uc.state.RenewBlob(subscriber, epoch, hash, id)
	if err != nil {
		return nil, err
	}
	uc.persist(ctx, epoch, "renew_blob", fmt.Sprintf("hash=%s subscriber=%s id=%s", hash, subscriber, id))
	return sub, nil
}

// DeleteBlob removes one subscription from a blob, refunding unused
// committed credit; returns whether the blob itself was fully removed.
func (uc *LedgerUseCase) DeleteBlob(ctx context.Context, origin, caller, subscriber model.Address, epoch int64, hash model.Hash, id model.SubscriptionID) (bool, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	removed, err := uc.state.DeleteBlob(origin, caller, subscriber, epoch, hash, id)
	if err != nil {
		return false, err
	}
	uc.persist(ctx, epoch, "delete_blob", fmt.Sprintf("hash=%s subscriber=%s id=%s", hash, subscriber, id))
	return removed, nil
}

// OverwriteBlob atomically deletes oldHash's subscription and adds a
// replacement blob subscription.
func (uc *LedgerUseCase) OverwriteBlob(ctx context.Context, oldHash model.Hash, p ledger.AddBlobParams) (*ledger.AddBlobResult, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	res, err := uc.state.OverwriteBlob(oldHash, p)
	if err != nil {
		return nil, err
	}
	uc.persist(ctx, p.Epoch, "overwrite_blob", fmt.Sprintf("old=%s new=%s subscriber=%s", oldHash, p.Hash, p.Subscriber))
	return res, nil
}

// SetBlobPending is the admin-only transition marking a blob as handed
// off to resolvers.
func (uc *LedgerUseCase) SetBlobPending(ctx context.Context, epoch int64, subscriber model.Address, hash model.Hash, id model.SubscriptionID, source model.PublicKey) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	uc.state.SetBlobPending(subscriber, hash, id, source)
	uc.persist(ctx, epoch, "set_blob_pending", fmt.Sprintf("hash=%s subscriber=%s id=%s", hash, subscriber, id))
	return nil
}

// FinalizeBlob is the admin-only transition resolving or failing a
// pending blob.
func (uc *LedgerUseCase) FinalizeBlob(ctx context.Context, subscriber model.Address, epoch int64, hash model.Hash, id model.SubscriptionID, status model.BlobStatus) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if err := uc.state.FinalizeBlob(subscriber, epoch, hash, id, status); err != nil {
		return err
	}
	uc.persist(ctx, epoch, "finalize_blob", fmt.Sprintf("hash=%s subscriber=%s id=%s status=%s", hash, subscriber, id, status))
	return nil
}

// SetAccountBlobTtlStatus is the admin-only setter of an account's stored
// TtlStatus.
func (uc *LedgerUseCase) SetAccountBlobTtlStatus(ctx context.Context, epoch int64, addr model.Address, status model.TtlStatus) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	uc.state.SetAccountBlobTtlStatus(addr, status)
	uc.persist(ctx, epoch, "set_account_blob_ttl_status", fmt.Sprintf("addr=%s status=%s", addr, status))
	return nil
}

// DebitAccounts runs one accounting tick: processes expiries up to
// epoch, then charges every account for elapsed committed credit.
func (uc *LedgerUseCase) DebitAccounts(ctx context.Context, epoch int64) ([]model.Hash, []error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	removed, warnings := uc.state.DebitAccounts(epoch)
	uc.persist(ctx, epoch, "debit_accounts", fmt.Sprintf("removed=%d warnings=%d", len(removed), len(warnings)))
	for _, w := range warnings {
		uc.logger.Warn().Err(w).Msg("debit_accounts warning")
	}
	return removed, warnings
}

// --- read-only queries: no mutation, no persist ---

func (uc *LedgerUseCase) GetStats(ctx context.Context) model.Stats {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.state.GetStats()
}

func (uc *LedgerUseCase) GetAccount(ctx context.Context, addr model.Address) (*model.Account, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.state.GetAccount(addr)
}

func (uc *LedgerUseCase) GetCreditApproval(ctx context.Context, from, to model.Address) (*model.Approval, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.state.GetCreditApproval(from, to)
}

func (uc *LedgerUseCase) GetCreditAllowance(ctx context.Context, addr model.Address) (*model.CreditAllowance, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.state.GetCreditAllowance(addr)
}

func (uc *LedgerUseCase) GetBlob(ctx context.Context, hash model.Hash) (*model.Blob, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.state.GetBlob(hash)
}

func (uc *LedgerUseCase) GetBlobStatus(ctx context.Context, subscriber model.Address, hash model.Hash, id model.SubscriptionID) (model.BlobStatus, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.state.GetBlobStatus(subscriber, hash, id)
}

func (uc *LedgerUseCase) GetAddedBlobs(ctx context.Context, n int) []model.Hash {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.state.GetAddedBlobs(n)
}

func (uc *LedgerUseCase) GetPendingBlobs(ctx context.Context, n int) []model.Hash {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.state.GetPendingBlobs(n)
}
