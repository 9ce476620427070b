package ledger

import (
	"sort"

	"blobsubnet/internal/domain/model"
)

// ExpiryKey identifies one subscription within the expiry index.
type ExpiryKey struct {
	Hash model.Hash
	ID   model.SubscriptionID
}

// ExpiryIndex is an epoch-ordered index of active subscriptions, one
// entry per (subscriber, hash, id) keyed by its current expiry. The
// auto-debit tick range-scans it for entries at or before the current
// epoch.
type ExpiryIndex map[int64]map[model.Address]map[ExpiryKey]bool

// NewExpiryIndex builds an empty index.
func NewExpiryIndex() ExpiryIndex {
	return make(ExpiryIndex)
}

// Insert records a subscription's current expiry.
func (idx ExpiryIndex) Insert(epoch int64, subscriber model.Address, key ExpiryKey, autoRenew bool) {
	bySub, ok := idx[epoch]
	if !ok {
		bySub = make(map[model.Address]map[ExpiryKey]bool)
		idx[epoch] = bySub
	}
	byKey, ok := bySub[subscriber]
	if !ok {
		byKey = make(map[ExpiryKey]bool)
		bySub[subscriber] = byKey
	}
	byKey[key] = autoRenew
}

// Remove deletes a subscription's entry at the given expiry, pruning
// empty intermediate maps.
func (idx ExpiryIndex) Remove(epoch int64, subscriber model.Address, key ExpiryKey) {
	bySub, ok := idx[epoch]
	if !ok {
		return
	}
	byKey, ok := bySub[subscriber]
	if !ok {
		return
	}
	delete(byKey, key)
	if len(byKey) == 0 {
		delete(bySub, subscriber)
	}
	if len(bySub) == 0 {
		delete(idx, epoch)
	}
}

// ExpiryEntry is one flattened row from a range scan.
type ExpiryEntry struct {
	Epoch      int64
	Subscriber model.Address
	Key        ExpiryKey
	AutoRenew  bool
}

// RangeUpTo returns every entry with epoch <= upTo, in ascending epoch
// order. Order within an epoch is deterministic (subscriber then key,
// lexically) but the spec requires the final state to be independent of
// this intra-epoch order; determinism here only makes tests reproducible.
func (idx ExpiryIndex) RangeUpTo(upTo int64) []ExpiryEntry {
	epochs := make([]int64, 0, len(idx))
	for e := range idx {
		if e <= upTo {
			epochs = append(epochs, e)
		}
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] < epochs[j] })

	var out []ExpiryEntry
	for _, e := range epochs {
		bySub := idx[e]
		subs := make([]model.Address, 0, len(bySub))
		for sub := range bySub {
			subs = append(subs, sub)
		}
		sort.Slice(subs, func(i, j int) bool { return lessAddress(subs[i], subs[j]) })
		for _, sub := range subs {
			byKey := bySub[sub]
			keys := make([]ExpiryKey, 0, len(byKey))
			for k := range byKey {
				keys = append(keys, k)
			}
			sort.Slice(keys, func(i, j int) bool { return lessExpiryKey(keys[i], keys[j]) })
			for _, k := range keys {
				out = append(out, ExpiryEntry{Epoch: e, Subscriber: sub, Key: k, AutoRenew: byKey[k]})
			}
		}
	}
	return out
}

func lessAddress(a, b model.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func lessExpiryKey(a, b ExpiryKey) bool {
	if a.Hash != b.Hash {
		for i := range a.Hash {
			if a.Hash[i] != b.Hash[i] {
				return a.Hash[i] < b.Hash[i]
			}
		}
	}
	for i := range a.ID {
		if a.ID[i] != b.ID[i] {
			return a.ID[i] < b.ID[i]
		}
	}
	return false
}
