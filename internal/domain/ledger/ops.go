package ledger

import (
	"fmt"
	"math/big"

	"blobsubnet/internal/domain"
	"blobsubnet/internal/domain/model"
)

// BuyCredit mints credit for recipient from a received token amount.
// amount is signed so the caller can surface a clean "must be positive"
// error rather than rejecting at the type boundary.
func (s *State) BuyCredit(recipient model.Address, amount *big.Int, epoch int64) (*model.Account, error) {
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: token amount must be positive", domain.ErrInvalidArgument)
	}
	if s.CapacityAvailable().Sign() == 0 {
		return nil, fmt.Errorf("%w: no storage capacity available", domain.ErrForbidden)
	}
	credits := new(big.Int).Mul(s.CreditDebitRate, amount)
	account := s.account(recipient)
	account.CreditFree.Add(account.CreditFree, credits)
	s.CreditSold.Add(s.CreditSold, credits)
	return account, nil
}

// ApproveCredit upserts a single approval from `from` to `to`, scoped to
// requireCaller if given (else a wildcard valid for any caller). Callers
// expanding a caller_allowlist should invoke this once per listed caller.
func (s *State) ApproveCredit(from, to model.Address, requireCaller *model.Address, epoch int64, limit *big.Int, ttl *int64) (*model.Approval, error) {
	var expiry *int64
	if ttl != nil {
		if *ttl < MinTTL {
			return nil, fmt.Errorf("%w: minimum approval TTL is %d", domain.ErrInvalidArgument, MinTTL)
		}
		e := epoch + *ttl
		expiry = &e
	}
	effectiveCaller := to
	if requireCaller != nil {
		effectiveCaller = *requireCaller
	}

	account := s.account(from)
	var used *model.Amount
	if byCaller, ok := account.Approvals[to]; ok {
		if existing, ok := byCaller[effectiveCaller]; ok {
			if limit != nil && existing.Used.Cmp(limit) > 0 {
				return nil, fmt.Errorf("%w: approval limit below already-used credit", domain.ErrInvalidArgument)
			}
			used = existing.Used
		}
	}
	if used == nil {
		used = model.ZeroAmount()
	}

	appr := &model.Approval{Limit: limit, Expiry: expiry, Used: used}
	account.SetApproval(to, effectiveCaller, appr)
	return appr, nil
}

// RevokeCredit removes the (to, forCaller|to) approval entry. Any credit
// already committed through it remains committed; revocation does not
// confiscate in-flight commitments.
func (s *State) RevokeCredit(from, to model.Address, forCaller *model.Address) error {
	account, ok := s.getAccount(from)
	if !ok {
		return fmt.Errorf("%w: account %s", domain.ErrNotFound, from)
	}
	effectiveCaller := to
	if forCaller != nil {
		effectiveCaller = *forCaller
	}
	account.RemoveApproval(to, effectiveCaller)
	return nil
}

// SetCreditSponsor stores (or clears, when sponsor is nil) the account's
// default sponsor. The value is kept and snapshotted; no ledger operation
// reads it.
func (s *State) SetCreditSponsor(from model.Address, sponsor *model.Address) {
	account := s.account(from)
	account.DefaultSponsor = sponsor
}

// UpdateCredit applies a signed administrative credit adjustment to the
// resolved target account (sponsor, if given and authorized via a
// self-keyed approval sponsor->from, else from itself when the caller
// holds admin privilege).
func (s *State) UpdateCredit(from model.Address, sponsor *model.Address, addAmount *big.Int, isAdmin bool) (*model.Account, error) {
	target := from
	if sponsor != nil {
		target = *sponsor
		if !isAdmin {
			sponsorAccount, ok := s.getAccount(*sponsor)
			if !ok {
				return nil, fmt.Errorf("%w: sponsor %s", domain.ErrNotFound, *sponsor)
			}
			byCaller, ok := sponsorAccount.Approvals[from]
			if !ok {
				return nil, fmt.Errorf("%w: %s has not delegated to %s", domain.ErrForbidden, *sponsor, from)
			}
			if _, ok := byCaller[from]; !ok {
				return nil, fmt.Errorf("%w: %s has not delegated to %s", domain.ErrForbidden, *sponsor, from)
			}
		}
	} else if !isAdmin {
		return nil, fmt.Errorf("%w: update_credit requires admin privilege or a sponsor approval", domain.ErrForbidden)
	}

	account := s.account(target)
	if addAmount.Sign() >= 0 {
		account.CreditFree.Add(account.CreditFree, addAmount)
		s.CreditSold.Add(s.CreditSold, addAmount)
	} else {
		debit := new(big.Int).Neg(addAmount)
		if account.CreditFree.Cmp(debit) < 0 {
			return nil, fmt.Errorf("%w: update_credit would drive credit_free negative", domain.ErrInvalidArgument)
		}
		account.CreditFree.Sub(account.CreditFree, debit)
		s.CreditSold.Sub(s.CreditSold, debit)
	}
	return account, nil
}

// AddBlobParams bundles add_blob's inputs.
type AddBlobParams struct {
	Origin         model.Address
	Caller         model.Address
	Subscriber     model.Address
	Epoch          int64
	Hash           model.Hash
	MetadataHash   model.Hash
	ID             model.SubscriptionID
	Size           uint64
	TTL            *int64
	Source         model.PublicKey
	TokensReceived *big.Int
}

// AddBlobResult is add_blob's return value.
type AddBlobResult struct {
	Subscription  model.Subscription
	TokensUnspent *big.Int
}

func delegationPtr(cd *CreditDelegation) *model.Delegation {
	if cd == nil {
		return nil
	}
	return &model.Delegation{Origin: cd.Origin, Caller: cd.Caller}
}

func applyStaleDebitRefund(s *State, account *model.Account, groupExpiryBefore *int64, size uint64) {
	if groupExpiryBefore == nil {
		return
	}
	if account.LastDebitEpoch > *groupExpiryBefore {
		r := bigFromDelta(account.LastDebitEpoch-*groupExpiryBefore, size)
		s.CreditDebited.Sub(s.CreditDebited, r)
		s.CreditCommitted.Add(s.CreditCommitted, r)
		account.CreditCommitted.Add(account.CreditCommitted, r)
	}
}

// AddBlob is the heart of the engine: see spec §4.5's eleven steps.
func (s *State) AddBlob(p AddBlobParams) (*AddBlobResult, error) {
	ttl := AutoTTL
	autoRenew := true
	if p.TTL != nil {
		if *p.TTL < MinTTL {
			return nil, fmt.Errorf("%w: minimum blob TTL is %d", domain.ErrInvalidArgument, MinTTL)
		}
		ttl = *p.TTL
		autoRenew = false
	}
	targetExpiry := p.Epoch + ttl

	if p.TokensReceived == nil {
		p.TokensReceived = new(big.Int)
	}

	subscriberAccount := s.account(p.Subscriber)

	var delegation *CreditDelegation
	if p.Origin != p.Subscriber {
		var err error
		delegation, err = resolveDelegation(subscriberAccount, p.Origin, p.Caller, p.Subscriber)
		if err != nil {
			return nil, err
		}
	}

	blob, blobExists := s.Blobs[p.Hash]
	var group *model.SubscriptionGroup
	var existingSub *model.Subscription
	groupExisted := false
	if blobExists {
		group = blob.Subscribers[p.Subscriber]
		if group != nil {
			groupExisted = true
			existingSub = group.Subscriptions[p.ID]
		}
	}

	var groupExpiryBefore, groupExpiryAfter *int64
	if groupExisted {
		groupExpiryBefore, groupExpiryAfter = group.MaxExpiries(p.ID, &targetExpiry)
	} else {
		v := targetExpiry
		groupExpiryAfter = &v
	}

	var creditRequired *big.Int
	if groupExisted {
		base := derefOr(groupExpiryBefore, p.Epoch)
		maxBase := maxInt64(base, p.Epoch)
		creditRequired = bigFromDelta(*groupExpiryAfter-maxBase, p.Size)
	} else {
		creditRequired = bigFromDelta(ttl, p.Size)
	}

	if !blobExists {
		if new(big.Int).SetUint64(p.Size).Cmp(s.CapacityAvailable()) > 0 {
			return nil, fmt.Errorf("%w: insufficient capacity available", domain.ErrForbidden)
		}
	}

	tokensUnspent, err := ensureCreditOrBuy(s, subscriberAccount, delegation, p.Epoch, creditRequired, p.TokensReceived)
	if err != nil {
		return nil, err
	}

	applyStaleDebitRefund(s, subscriberAccount, groupExpiryBefore, p.Size)

	if !blobExists {
		blob = model.NewBlob(p.Size, p.MetadataHash)
		s.Blobs[p.Hash] = blob
	} else if blob.Status == model.BlobStatusPending || blob.Status == model.BlobStatusFailed {
		blob.Status = model.BlobStatusAdded
	}

	isNewSubscriberOnBlob := false
	if group == nil {
		group = model.NewSubscriptionGroup()
		blob.Subscribers[p.Subscriber] = group
		isNewSubscriberOnBlob = true
	}

	addedEpoch := p.Epoch
	if existingSub != nil {
		addedEpoch = existingSub.Added
		s.Expiries.Remove(existingSub.Expiry, p.Subscriber, ExpiryKey{Hash: p.Hash, ID: p.ID})
	}
	newSub := &model.Subscription{
		Added:     addedEpoch,
		Expiry:    targetExpiry,
		AutoRenew: autoRenew,
		Source:    p.Source,
		Delegate:  delegationPtr(delegation),
		Failed:    false,
	}
	group.Subscriptions[p.ID] = newSub
	s.Expiries.Insert(targetExpiry, p.Subscriber, ExpiryKey{Hash: p.Hash, ID: p.ID}, autoRenew)

	if blob.Status != model.BlobStatusResolved {
		s.Added.Insert(p.Hash, IngestionKey{Subscriber: p.Subscriber, ID: p.ID, Source: p.Source})
	}

	elapsed := p.Epoch - subscriberAccount.LastDebitEpoch
	if elapsed > 0 {
		charge := new(big.Int).Mul(big.NewInt(elapsed), subscriberAccount.CapacityUsed)
		subscriberAccount.CreditCommitted.Sub(subscriberAccount.CreditCommitted, charge)
		s.CreditCommitted.Sub(s.CreditCommitted, charge)
		s.CreditDebited.Add(s.CreditDebited, charge)
	}
	subscriberAccount.LastDebitEpoch = p.Epoch

	if !blobExists {
		s.CapacityUsed.Add(s.CapacityUsed, bigSize(p.Size))
	}
	if isNewSubscriberOnBlob {
		subscriberAccount.CapacityUsed.Add(subscriberAccount.CapacityUsed, bigSize(p.Size))
	}
	subscriberAccount.CreditFree.Sub(subscriberAccount.CreditFree, creditRequired)
	subscriberAccount.CreditCommitted.Add(subscriberAccount.CreditCommitted, creditRequired)
	s.CreditCommitted.Add(s.CreditCommitted, creditRequired)
	if delegation != nil {
		delegation.Approval.Used.Add(delegation.Approval.Used, creditRequired)
	}

	return &AddBlobResult{Subscription: *newSub, TokensUnspent: tokensUnspent}, nil
}

// RenewBlob is invoked by the auto-debit tick for auto-renewing
// subscriptions whose expiry has been reached (at or before the tick's
// epoch). Never creates blobs or subscriptions.
func (s *State) RenewBlob(subscriber model.Address, epoch int64, hash model.Hash, id model.SubscriptionID) (*model.Subscription, error) {
	blob, ok := s.Blobs[hash]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", domain.ErrNotFound, hash)
	}
	if blob.Status == model.BlobStatusFailed {
		return nil, fmt.Errorf("%w: cannot renew a failed blob", domain.ErrForbidden)
	}
	group, ok := blob.Subscribers[subscriber]
	if !ok {
		return nil, fmt.Errorf("%w: subscriber %s not subscribed to blob %s", domain.ErrForbidden, subscriber, hash)
	}
	sub, ok := group.Subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s", domain.ErrNotFound, id)
	}

	account := s.account(subscriber)

	var delegation *CreditDelegation
	if sub.Delegate != nil {
		appr, ok := account.FindApproval(sub.Delegate.Origin, sub.Delegate.Caller)
		if !ok {
			return nil, fmt.Errorf("%w: delegation no longer approved", domain.ErrForbidden)
		}
		delegation = &CreditDelegation{Origin: sub.Delegate.Origin, Caller: sub.Delegate.Caller, Approval: appr}
	}

	newExpiry := epoch + AutoTTL
	groupExpiryBefore, groupExpiryAfter := group.MaxExpiries(id, &newExpiry)

	base := maxInt64(derefOr(groupExpiryBefore, account.LastDebitEpoch), account.LastDebitEpoch)
	creditRequired := bigFromDelta(*groupExpiryAfter-base, blob.Size)

	_, err := ensureCreditOrBuy(s, account, delegation, epoch, creditRequired, new(big.Int))
	if err != nil {
		return nil, err
	}

	applyStaleDebitRefund(s, account, groupExpiryBefore, blob.Size)

	s.Expiries.Remove(sub.Expiry, subscriber, ExpiryKey{Hash: hash, ID: id})
	sub.Expiry = newExpiry
	s.Expiries.Insert(newExpiry, subscriber, ExpiryKey{Hash: hash, ID: id}, sub.AutoRenew)

	account.CreditFree.Sub(account.CreditFree, creditRequired)
	account.CreditCommitted.Add(account.CreditCommitted, creditRequired)
	s.CreditCommitted.Add(s.CreditCommitted, creditRequired)
	if delegation != nil {
		delegation.Approval.Used.Add(delegation.Approval.Used, creditRequired)
	}

	return sub, nil
}

// DeleteBlob removes one subscription, reclaiming capacity/credit and
// returning true iff the blob itself was fully removed (no subscribers
// remain). A missing blob is a no-op: (false, nil). A subscriber never
// subscribed to the blob is forbidden; an absent subscription id on an
// otherwise-subscribed subscriber is not found.
func (s *State) DeleteBlob(origin, caller, subscriber model.Address, epoch int64, hash model.Hash, id model.SubscriptionID) (bool, error) {
	blob, ok := s.Blobs[hash]
	if !ok {
		return false, nil
	}
	group, ok := blob.Subscribers[subscriber]
	if !ok {
		return false, fmt.Errorf("%w: subscriber %s not subscribed to blob %s", domain.ErrForbidden, subscriber, hash)
	}
	sub, ok := group.Subscriptions[id]
	if !ok {
		return false, fmt.Errorf("%w: subscription %s", domain.ErrNotFound, id)
	}

	account := s.account(subscriber)

	var delegatedApproval *model.Approval
	if sub.Delegate != nil {
		appr, found := account.FindApproval(sub.Delegate.Origin, sub.Delegate.Caller)
		if !found {
			if origin != subscriber {
				return false, fmt.Errorf("%w: delegation no longer approved", domain.ErrForbidden)
			}
		} else {
			authorized := (origin == sub.Delegate.Origin && caller == sub.Delegate.Caller) || origin == subscriber
			if !authorized {
				return false, fmt.Errorf("%w: caller not authorized to delete subscription", domain.ErrForbidden)
			}
			if appr.IsExpired(epoch) {
				return false, fmt.Errorf("%w: approval expired", domain.ErrForbidden)
			}
			delegatedApproval = appr
		}
	} else if origin != subscriber {
		return false, fmt.Errorf("%w: caller not authorized to delete subscription", domain.ErrForbidden)
	}

	groupExpiryBefore, groupExpiryAfter := group.MaxExpiries(id, nil)

	debitEpoch := min64(derefOr(groupExpiryBefore, epoch), epoch)
	if account.LastDebitEpoch < debitEpoch {
		charge := new(big.Int).Mul(big.NewInt(debitEpoch-account.LastDebitEpoch), account.CapacityUsed)
		account.CreditCommitted.Sub(account.CreditCommitted, charge)
		s.CreditCommitted.Sub(s.CreditCommitted, charge)
		s.CreditDebited.Add(s.CreditDebited, charge)
		account.LastDebitEpoch = debitEpoch
	} else {
		applyStaleDebitRefund(s, account, groupExpiryBefore, blob.Size)
	}

	if blob.Status != model.BlobStatusFailed {
		if groupExpiryAfter == nil {
			account.CapacityUsed.Sub(account.CapacityUsed, bigSize(blob.Size))
			if len(blob.Subscribers) == 1 {
				s.CapacityUsed.Sub(s.CapacityUsed, bigSize(blob.Size))
			}
		}
		if groupExpiryBefore != nil && account.LastDebitEpoch < *groupExpiryBefore {
			var reclaim *big.Int
			if groupExpiryAfter != nil {
				reclaim = bigFromDelta(*groupExpiryBefore-maxInt64(*groupExpiryAfter, account.LastDebitEpoch), blob.Size)
			} else {
				reclaim = bigFromDelta(*groupExpiryBefore-account.LastDebitEpoch, blob.Size)
			}
			account.CreditCommitted.Sub(account.CreditCommitted, reclaim)
			s.CreditCommitted.Sub(s.CreditCommitted, reclaim)
			account.CreditFree.Add(account.CreditFree, reclaim)
			if delegatedApproval != nil {
				delegatedApproval.Used.Sub(delegatedApproval.Used, reclaim)
			}
		}
	}

	s.Expiries.Remove(sub.Expiry, subscriber, ExpiryKey{Hash: hash, ID: id})
	s.Added.Remove(hash, IngestionKey{Subscriber: subscriber, ID: id, Source: sub.Source})
	s.Pending.Remove(hash, IngestionKey{Subscriber: subscriber, ID: id, Source: sub.Source})
	delete(group.Subscriptions, id)

	blobRemoved := false
	if len(group.Subscriptions) == 0 {
		delete(blob.Subscribers, subscriber)
	}
	if len(blob.Subscribers) == 0 {
		delete(s.Blobs, hash)
		blobRemoved = true
	}

	return blobRemoved, nil
}

// OverwriteBlob is an atomic delete-then-add pair: both succeed or
// neither mutates state. Because the core holds no transaction log below
// the operation level, atomicity is implemented by cloning state before
// the attempt and restoring the clone on failure.
func (s *State) OverwriteBlob(oldHash model.Hash, p AddBlobParams) (*AddBlobResult, error) {
	snapshot := s.clone()

	if _, err := s.DeleteBlob(p.Origin, p.Caller, p.Subscriber, p.Epoch, oldHash, p.ID); err != nil {
		s.restore(snapshot)
		return nil, err
	}
	result, err := s.AddBlob(p)
	if err != nil {
		s.restore(snapshot)
		return nil, err
	}
	return result, nil
}

// SetBlobPending moves a blob into the Pending ingestion state. A
// missing blob is a no-op (it was deleted concurrently with the
// validator's claim). Clears the entire added-index entry for hash, not
// just this (subscriber, id, source) triple -- see spec §9 open question.
func (s *State) SetBlobPending(subscriber model.Address, hash model.Hash, id model.SubscriptionID, source model.PublicKey) {
	blob, ok := s.Blobs[hash]
	if !ok {
		return
	}
	blob.Status = model.BlobStatusPending
	s.Pending.Insert(hash, IngestionKey{Subscriber: subscriber, ID: id, Source: source})
	s.Added.RemoveHash(hash)
}

// FinalizeBlob transitions a blob out of Pending into Resolved or Failed.
func (s *State) FinalizeBlob(subscriber model.Address, epoch int64, hash model.Hash, id model.SubscriptionID, status model.BlobStatus) error {
	if status != model.BlobStatusResolved && status != model.BlobStatusFailed {
		return fmt.Errorf("%w: finalize status must be Resolved or Failed", domain.ErrInvalidArgument)
	}
	blob, ok := s.Blobs[hash]
	if !ok {
		return nil
	}
	if blob.Status == model.BlobStatusAdded {
		return fmt.Errorf("%w: cannot finalize a blob still in the Added state", domain.ErrIllegalState)
	}
	if blob.Status == model.BlobStatusResolved {
		return nil
	}

	group, ok := blob.Subscribers[subscriber]
	if !ok {
		return fmt.Errorf("%w: subscriber %s not subscribed to blob %s", domain.ErrForbidden, subscriber, hash)
	}
	sub, ok := group.Subscriptions[id]
	if !ok {
		return fmt.Errorf("%w: subscription %s", domain.ErrNotFound, id)
	}

	account := s.account(subscriber)

	if status == model.BlobStatusResolved {
		blob.Status = model.BlobStatusResolved
		s.Pending.Remove(hash, IngestionKey{Subscriber: subscriber, ID: id, Source: sub.Source})
		return nil
	}

	// Failed
	sub.Failed = true
	groupExpiryBefore, groupExpiryAfter := group.MaxExpiries(id, nil)
	isMin, nextMinAdded := group.IsMinAdded(id)

	if isMin && account.LastDebitEpoch > sub.Added {
		upper := account.LastDebitEpoch
		if nextMinAdded != nil && *nextMinAdded < upper {
			upper = *nextMinAdded
		}
		r := bigFromDelta(upper-sub.Added, blob.Size)
		s.CreditDebited.Sub(s.CreditDebited, r)
		account.CreditFree.Add(account.CreditFree, r)
	}

	if groupExpiryAfter == nil {
		account.CapacityUsed.Sub(account.CapacityUsed, bigSize(blob.Size))
		if len(blob.Subscribers) == 1 {
			s.CapacityUsed.Sub(s.CapacityUsed, bigSize(blob.Size))
		}
	}

	if groupExpiryBefore != nil && account.LastDebitEpoch < *groupExpiryBefore {
		var reclaim *big.Int
		if groupExpiryAfter != nil {
			reclaim = bigFromDelta(*groupExpiryBefore-maxInt64(*groupExpiryAfter, account.LastDebitEpoch), blob.Size)
		} else {
			reclaim = bigFromDelta(*groupExpiryBefore-account.LastDebitEpoch, blob.Size)
		}
		account.CreditCommitted.Sub(account.CreditCommitted, reclaim)
		s.CreditCommitted.Sub(s.CreditCommitted, reclaim)
		account.CreditFree.Add(account.CreditFree, reclaim)
		if sub.Delegate != nil {
			if appr, ok := account.FindApproval(sub.Delegate.Origin, sub.Delegate.Caller); ok {
				appr.Used.Sub(appr.Used, reclaim)
			}
		}
	}

	s.Pending.Remove(hash, IngestionKey{Subscriber: subscriber, ID: id, Source: sub.Source})
	return nil
}

// DebitAccounts is the auto-debit tick: it renews or deletes every
// subscription expiring at or before epoch, then charges every account
// for elapsed epochs against its current capacity usage. Per-subscription
// errors are collected as warnings rather than aborting the tick; the
// account debit phase is unconditional and cannot itself fail.
func (s *State) DebitAccounts(epoch int64) (removedHashes []model.Hash, warnings []error) {
	entries := s.Expiries.RangeUpTo(epoch)

	for _, e := range entries {
		var renewErr error
		if e.AutoRenew {
			_, renewErr = s.RenewBlob(e.Subscriber, epoch, e.Key.Hash, e.Key.ID)
		}
		if !e.AutoRenew || renewErr != nil {
			if renewErr != nil {
				warnings = append(warnings, fmt.Errorf("renew %s/%s for %s: %w", e.Key.Hash, e.Key.ID, e.Subscriber, renewErr))
			}
			removed, delErr := s.DeleteBlob(e.Subscriber, e.Subscriber, e.Subscriber, epoch, e.Key.Hash, e.Key.ID)
			if delErr != nil {
				warnings = append(warnings, fmt.Errorf("delete %s/%s for %s: %w", e.Key.Hash, e.Key.ID, e.Subscriber, delErr))
				continue
			}
			if removed {
				removedHashes = append(removedHashes, e.Key.Hash)
			}
		}
	}

	for _, account := range s.Accounts {
		elapsed := epoch - account.LastDebitEpoch
		if elapsed > 0 {
			charge := new(big.Int).Mul(big.NewInt(elapsed), account.CapacityUsed)
			account.CreditCommitted.Sub(account.CreditCommitted, charge)
			s.CreditCommitted.Sub(s.CreditCommitted, charge)
			s.CreditDebited.Add(s.CreditDebited, charge)
		}
		account.LastDebitEpoch = epoch
	}

	return removedHashes, warnings
}
