package ledger

import (
	"fmt"
	"math/big"
	"sort"

	"blobsubnet/internal/domain"
	"blobsubnet/internal/domain/model"
)

// GetStats returns the running totals plus derived counts over accounts
// and blobs.
func (s *State) GetStats() model.Stats {
	st := model.Stats{
		Balance:         new(big.Int).Set(s.CreditSold),
		CapacityFree:    s.CapacityAvailable(),
		CapacityUsed:    new(big.Int).Set(s.CapacityUsed),
		CreditSold:      new(big.Int).Set(s.CreditSold),
		CreditCommitted: new(big.Int).Set(s.CreditCommitted),
		CreditDebited:   new(big.Int).Set(s.CreditDebited),
		CreditDebitRate: new(big.Int).Set(s.CreditDebitRate),
		NumAccounts:     uint64(len(s.Accounts)),
		NumBlobs:        uint64(len(s.Blobs)),
	}
	for hash, blob := range s.Blobs {
		if s.Pending.Has(hash) {
			st.NumResolving++
			st.BytesResolving += blob.Size
		}
		if s.Added.Has(hash) {
			st.NumAdded++
			st.BytesAdded += blob.Size
		}
	}
	return st
}

// GetAccount returns a's account, or (nil, false) if never created.
func (s *State) GetAccount(addr model.Address) (*model.Account, bool) {
	return s.getAccount(addr)
}

// GetCreditApproval returns the exact approval at (from -> to, to),
// i.e. the wildcard approval `from` granted `to` -- callers wanting the
// delegation-resolution lookup (wildcard-then-specific) should use
// model.Account.FindApproval directly.
func (s *State) GetCreditApproval(from, to model.Address) (*model.Approval, bool) {
	account, ok := s.getAccount(from)
	if !ok {
		return nil, false
	}
	byCaller, ok := account.Approvals[to]
	if !ok {
		return nil, false
	}
	appr, ok := byCaller[to]
	return appr, ok
}

// GetCreditAllowance enumerates every approval `addr` has extended, plus
// its own free/committed balances (supplemented query, spec §4.15).
func (s *State) GetCreditAllowance(addr model.Address) (*model.CreditAllowance, error) {
	account, ok := s.getAccount(addr)
	if !ok {
		return nil, fmt.Errorf("%w: account %s", domain.ErrNotFound, addr)
	}
	out := &model.CreditAllowance{
		CreditFree:      new(big.Int).Set(account.CreditFree),
		CreditCommitted: new(big.Int).Set(account.CreditCommitted),
	}
	tos := make([]model.Address, 0, len(account.Approvals))
	for to := range account.Approvals {
		tos = append(tos, to)
	}
	sort.Slice(tos, func(i, j int) bool { return lessAddress(tos[i], tos[j]) })
	for _, to := range tos {
		callers := make([]model.Address, 0, len(account.Approvals[to]))
		for c := range account.Approvals[to] {
			callers = append(callers, c)
		}
		sort.Slice(callers, func(i, j int) bool { return lessAddress(callers[i], callers[j]) })
		for _, caller := range callers {
			appr := account.Approvals[to][caller]
			out.Approvals = append(out.Approvals, model.CreditApprovalView{
				To: to, Caller: caller, Limit: appr.Limit, Expiry: appr.Expiry, Used: appr.Used,
			})
		}
	}
	return out, nil
}

// GetBlob returns the blob stored at hash.
func (s *State) GetBlob(hash model.Hash) (*model.Blob, bool) {
	b, ok := s.Blobs[hash]
	return b, ok
}

// GetBlobStatus returns the status of one subscription on a blob. A
// subscription whose individual Failed flag is set reports Failed even
// when the blob as a whole has not (yet, or ever will) transition --
// this distinguishes the blob's global lifecycle from one subscriber's
// view of it.
func (s *State) GetBlobStatus(subscriber model.Address, hash model.Hash, id model.SubscriptionID) (model.BlobStatus, error) {
	blob, ok := s.Blobs[hash]
	if !ok {
		return "", fmt.Errorf("%w: blob %s", domain.ErrNotFound, hash)
	}
	group, ok := blob.Subscribers[subscriber]
	if !ok {
		return "", fmt.Errorf("%w: subscriber %s not subscribed to blob %s", domain.ErrNotFound, subscriber, hash)
	}
	sub, ok := group.Subscriptions[id]
	if !ok {
		return "", fmt.Errorf("%w: subscription %s", domain.ErrNotFound, id)
	}
	if sub.Failed {
		return model.BlobStatusFailed, nil
	}
	return blob.Status, nil
}

// GetAddedBlobs returns up to n hashes currently in the Added ingestion
// index, in ascending hash order.
func (s *State) GetAddedBlobs(n int) []model.Hash {
	return firstNHashes(s.Added, n)
}

// GetPendingBlobs returns up to n hashes currently in the Pending
// ingestion index, in ascending hash order.
func (s *State) GetPendingBlobs(n int) []model.Hash {
	return firstNHashes(s.Pending, n)
}

func firstNHashes(idx IngestionIndex, n int) []model.Hash {
	hashes := make([]model.Hash, 0, len(idx))
	for h := range idx {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return lessHash(hashes[i], hashes[j]) })
	if n >= 0 && n < len(hashes) {
		hashes = hashes[:n]
	}
	return hashes
}

// SetAccountBlobTtlStatus is the admin operation that stores an
// account's TtlStatus (spec §6's admin-only SetAccountBlobTtlStatus).
// AddBlob applies MinTTL whatever the stored status is.
func (s *State) SetAccountBlobTtlStatus(addr model.Address, status model.TtlStatus) {
	account := s.account(addr)
	account.TtlStatus = status
}
