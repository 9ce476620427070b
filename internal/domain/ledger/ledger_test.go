package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"blobsubnet/internal/domain"
	"blobsubnet/internal/domain/model"
)

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

func pubkey(b byte) model.PublicKey {
	var p model.PublicKey
	p[31] = b
	return p
}

func newTestState() *State {
	return New(big.NewInt(1048576), big.NewInt(1))
}

// checkInvariants asserts spec §8's universal invariants hold for s.
func checkInvariants(t *testing.T, s *State) {
	t.Helper()

	committedSum := new(big.Int)
	freeSum := new(big.Int)
	for _, a := range s.Accounts {
		committedSum.Add(committedSum, a.CreditCommitted)
		freeSum.Add(freeSum, a.CreditFree)
		require.True(t, a.CreditFree.Sign() >= 0, "account credit_free must be non-negative")
		require.True(t, a.CreditCommitted.Sign() >= 0, "account credit_committed must be non-negative")
		require.True(t, a.CapacityUsed.Sign() >= 0, "account capacity_used must be non-negative")
	}
	require.Equal(t, 0, s.CreditCommitted.Cmp(committedSum), "global credit_committed must equal sum of account credit_committed")

	conserved := new(big.Int).Sub(s.CreditSold, s.CreditDebited)
	require.Equal(t, 0, conserved.Cmp(new(big.Int).Add(freeSum, committedSum)), "credit_sold - credit_debited must equal sum(free+committed)")

	require.True(t, s.CreditSold.Sign() >= 0)
	require.True(t, s.CreditDebited.Sign() >= 0)
	require.True(t, s.CapacityUsed.Sign() >= 0)
	require.True(t, s.CapacityUsed.Cmp(s.CapacityTotal) <= 0, "capacity_used must not exceed capacity_total")

	for epoch, bySub := range s.Expiries {
		for subscriber, byKey := range bySub {
			for key := range byKey {
				blob, ok := s.Blobs[key.Hash]
				require.True(t, ok, "expiry index references a missing blob")
				group, ok := blob.Subscribers[subscriber]
				require.True(t, ok, "expiry index references a missing subscriber group")
				sub, ok := group.Subscriptions[key.ID]
				require.True(t, ok, "expiry index references a missing subscription")
				require.Equal(t, epoch, sub.Expiry, "expiry index epoch must match subscription expiry")
			}
		}
	}
}

func TestBuyCredit(t *testing.T) {
	s := newTestState()
	s.CreditDebitRate = big.NewInt(1)
	a := addr(1)

	oneToken := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	account, err := s.BuyCredit(a, oneToken, 1)
	require.NoError(t, err)
	require.Equal(t, 0, account.CreditFree.Cmp(oneToken))
	require.Equal(t, 0, s.CreditSold.Cmp(oneToken))
	checkInvariants(t, s)
}

func TestBuyCreditNegativeAmount(t *testing.T) {
	s := newTestState()
	_, err := s.BuyCredit(addr(1), big.NewInt(-1), 1)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestApproveCreditBelowMinTTL(t *testing.T) {
	s := newTestState()
	ttl := int64(3599)
	_, err := s.ApproveCredit(addr(1), addr(2), nil, 1, nil, &ttl)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAddResolveRenew(t *testing.T) {
	s := newTestState()
	a := addr(1)
	h := hash(1)
	src := pubkey(1)

	_, err := s.BuyCredit(a, new(big.Int).Mul(big.NewInt(10), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)), 1)
	require.NoError(t, err)

	res, err := s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 1,
		Hash: h, ID: model.DefaultSubscriptionID, Size: 1024, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Subscription.Added)
	checkInvariants(t, s)

	expectedCommit := big.NewInt(3600 * 1024)
	require.Equal(t, 0, s.CreditCommitted.Cmp(expectedCommit))

	s.SetBlobPending(a, h, model.DefaultSubscriptionID, src)
	require.NoError(t, s.FinalizeBlob(a, 11, h, model.DefaultSubscriptionID, model.BlobStatusResolved))

	_, err = s.RenewBlob(a, 21, h, model.DefaultSubscriptionID)
	require.NoError(t, err)

	total := big.NewInt(3620 * 1024)
	require.Equal(t, 0, s.CreditCommitted.Cmp(total), "committed should be 3620*1024 after renewal")
	checkInvariants(t, s)
}

func TestDoubleAddDifferentID(t *testing.T) {
	s := newTestState()
	a := addr(1)
	h := hash(1)
	src := pubkey(1)

	_, err := s.BuyCredit(a, big.NewInt(100000000), 1)
	require.NoError(t, err)

	ttl := int64(3600)
	_, err = s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 1,
		Hash: h, ID: model.DefaultSubscriptionID, Size: 1024, TTL: &ttl, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)

	fooID := model.NewSubscriptionID([]byte("foo"))
	_, err = s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 21,
		Hash: h, ID: fooID, Size: 1024, TTL: &ttl, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)
	checkInvariants(t, s)

	_, warnings := s.DebitAccounts(3611)
	_ = warnings
	checkInvariants(t, s)

	blob, ok := s.GetBlob(h)
	require.True(t, ok)
	group, ok := blob.Subscribers[a]
	require.True(t, ok)
	_, hasDefault := group.Subscriptions[model.DefaultSubscriptionID]
	require.False(t, hasDefault, "default subscription should have expired and been purged")
	_, hasFoo := group.Subscriptions[fooID]
	require.True(t, hasFoo)

	account, _ := s.GetAccount(a)
	require.Equal(t, 0, account.CapacityUsed.Cmp(big.NewInt(1024)))

	expected := big.NewInt((3600 - (3611 - 21)) * 1024)
	require.Equal(t, 0, s.CreditCommitted.Cmp(expected))
}

func TestDeleteRefund(t *testing.T) {
	s := newTestState()
	a := addr(1)
	h1 := hash(1)
	h2 := hash(2)
	src := pubkey(1)

	_, err := s.BuyCredit(a, big.NewInt(100000000), 1)
	require.NoError(t, err)

	_, err = s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 1,
		Hash: h1, ID: model.DefaultSubscriptionID, Size: 1024, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)

	_, err = s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 3610,
		Hash: h2, ID: model.DefaultSubscriptionID, Size: 2048, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)
	checkInvariants(t, s)

	removed, err := s.DeleteBlob(a, a, a, 3620, h1, model.DefaultSubscriptionID)
	require.NoError(t, err)
	require.True(t, removed)
	checkInvariants(t, s)

	expectedCommitted := big.NewInt(3600 * 2048)
	require.Equal(t, 0, s.CreditCommitted.Cmp(expectedCommitted))

	account, _ := s.GetAccount(a)
	require.Equal(t, 0, account.CapacityUsed.Cmp(big.NewInt(2048)))
}

func TestFailedRefund(t *testing.T) {
	s := newTestState()
	a := addr(1)
	h := hash(1)
	src := pubkey(1)

	_, err := s.BuyCredit(a, big.NewInt(100000000), 1)
	require.NoError(t, err)

	_, err = s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 1,
		Hash: h, ID: model.DefaultSubscriptionID, Size: 1024, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)

	_, warnings := s.DebitAccounts(11)
	require.Empty(t, warnings)

	s.SetBlobPending(a, h, model.DefaultSubscriptionID, src)
	require.NoError(t, s.FinalizeBlob(a, 21, h, model.DefaultSubscriptionID, model.BlobStatusFailed))
	checkInvariants(t, s)

	account, _ := s.GetAccount(a)
	require.Equal(t, 0, account.CapacityUsed.Sign())
	require.Equal(t, 0, s.CreditCommitted.Sign())
	require.Equal(t, 0, s.CreditDebited.Sign())
}

func TestDeleteMissingBlobIsNoop(t *testing.T) {
	s := newTestState()
	removed, err := s.DeleteBlob(addr(1), addr(1), addr(1), 1, hash(9), model.DefaultSubscriptionID)
	require.NoError(t, err)
	require.False(t, removed)
}

func TestDeleteUnsubscribedSubscriberIsForbidden(t *testing.T) {
	s := newTestState()
	a := addr(1)
	other := addr(2)
	h := hash(1)
	src := pubkey(1)

	_, err := s.BuyCredit(a, big.NewInt(100000000), 1)
	require.NoError(t, err)
	_, err = s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 1,
		Hash: h, ID: model.DefaultSubscriptionID, Size: 1024, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)

	_, err = s.DeleteBlob(other, other, other, 1, h, model.DefaultSubscriptionID)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestDeleteMissingSubscriptionIDIsNotFound(t *testing.T) {
	s := newTestState()
	a := addr(1)
	h := hash(1)
	src := pubkey(1)

	_, err := s.BuyCredit(a, big.NewInt(100000000), 1)
	require.NoError(t, err)
	_, err = s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 1,
		Hash: h, ID: model.DefaultSubscriptionID, Size: 1024, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)

	other := model.NewSubscriptionID([]byte("other"))
	_, err = s.DeleteBlob(a, a, a, 1, h, other)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddBlobIdempotentSameParams(t *testing.T) {
	s := newTestState()
	a := addr(1)
	h := hash(1)
	src := pubkey(1)
	ttl := int64(3600)

	_, err := s.BuyCredit(a, big.NewInt(100000000), 1)
	require.NoError(t, err)

	_, err = s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 1,
		Hash: h, ID: model.DefaultSubscriptionID, Size: 1024, TTL: &ttl, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)
	before := new(big.Int).Set(s.CreditCommitted)

	_, err = s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 1,
		Hash: h, ID: model.DefaultSubscriptionID, Size: 1024, TTL: &ttl, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)
	require.Equal(t, 0, before.Cmp(s.CreditCommitted), "re-adding with unchanged expiry must be a zero-credit-delta no-op")
}

func TestFinalizeResolvedIsIdempotent(t *testing.T) {
	s := newTestState()
	a := addr(1)
	h := hash(1)
	src := pubkey(1)

	_, err := s.BuyCredit(a, big.NewInt(100000000), 1)
	require.NoError(t, err)
	_, err = s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 1,
		Hash: h, ID: model.DefaultSubscriptionID, Size: 1024, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)

	s.SetBlobPending(a, h, model.DefaultSubscriptionID, src)
	require.NoError(t, s.FinalizeBlob(a, 5, h, model.DefaultSubscriptionID, model.BlobStatusResolved))
	require.NoError(t, s.FinalizeBlob(a, 6, h, model.DefaultSubscriptionID, model.BlobStatusResolved))
}

func TestFinalizeAddedIsIllegalState(t *testing.T) {
	s := newTestState()
	a := addr(1)
	h := hash(1)
	src := pubkey(1)

	_, err := s.BuyCredit(a, big.NewInt(100000000), 1)
	require.NoError(t, err)
	_, err = s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 1,
		Hash: h, ID: model.DefaultSubscriptionID, Size: 1024, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)

	err = s.FinalizeBlob(a, 5, h, model.DefaultSubscriptionID, model.BlobStatusResolved)
	require.ErrorIs(t, err, domain.ErrIllegalState)
}

func TestDelegatedAddBlobRequiresApproval(t *testing.T) {
	s := newTestState()
	subscriber := addr(1)
	origin := addr(2)
	h := hash(1)
	src := pubkey(1)

	_, err := s.BuyCredit(subscriber, big.NewInt(100000000), 1)
	require.NoError(t, err)

	_, err = s.AddBlob(AddBlobParams{
		Origin: origin, Caller: origin, Subscriber: subscriber, Epoch: 1,
		Hash: h, ID: model.DefaultSubscriptionID, Size: 1024, Source: src,
		TokensReceived: new(big.Int),
	})
	require.ErrorIs(t, err, domain.ErrForbidden)

	ttl := int64(7200)
	_, err = s.ApproveCredit(subscriber, origin, nil, 1, nil, &ttl)
	require.NoError(t, err)

	_, err = s.AddBlob(AddBlobParams{
		Origin: origin, Caller: origin, Subscriber: subscriber, Epoch: 1,
		Hash: h, ID: model.DefaultSubscriptionID, Size: 1024, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)

	appr, ok := s.GetCreditApproval(subscriber, origin)
	require.True(t, ok)
	require.Equal(t, 0, appr.Used.Cmp(big.NewInt(3600*1024)))
}

func TestTokensPlusDelegationForbidden(t *testing.T) {
	s := newTestState()
	subscriber := addr(1)
	origin := addr(2)
	h := hash(1)
	src := pubkey(1)

	ttl := int64(7200)
	_, err := s.ApproveCredit(subscriber, origin, nil, 1, nil, &ttl)
	require.NoError(t, err)

	_, err = s.AddBlob(AddBlobParams{
		Origin: origin, Caller: origin, Subscriber: subscriber, Epoch: 1,
		Hash: h, ID: model.DefaultSubscriptionID, Size: 1024, Source: src,
		TokensReceived: big.NewInt(1),
	})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestOverwriteBlobAtomic(t *testing.T) {
	s := newTestState()
	a := addr(1)
	oldHash := hash(1)
	newHash := hash(2)
	src := pubkey(1)

	_, err := s.BuyCredit(a, big.NewInt(100000000), 1)
	require.NoError(t, err)
	_, err = s.AddBlob(AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 1,
		Hash: oldHash, ID: model.DefaultSubscriptionID, Size: 1024, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)

	_, err = s.OverwriteBlob(oldHash, AddBlobParams{
		Origin: a, Caller: a, Subscriber: a, Epoch: 2,
		Hash: newHash, ID: model.DefaultSubscriptionID, Size: 2048, Source: src,
		TokensReceived: new(big.Int),
	})
	require.NoError(t, err)

	_, oldExists := s.GetBlob(oldHash)
	require.False(t, oldExists)
	_, newExists := s.GetBlob(newHash)
	require.True(t, newExists)
	checkInvariants(t, s)
}
