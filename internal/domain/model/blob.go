package model

// Subscription is one subscriber's claim against a blob under a given
// subscription id, paying for coverage until Expiry.
type Subscription struct {
	Added     int64
	Expiry    int64
	AutoRenew bool
	Source    PublicKey
	Delegate  *Delegation
	Failed    bool
}

// SubscriptionGroup is the set of subscriptions one subscriber holds on
// one blob, keyed by SubscriptionID. The group is billed as a single
// maximum-expiry envelope, not per individual subscription.
type SubscriptionGroup struct {
	Subscriptions map[SubscriptionID]*Subscription
}

// NewSubscriptionGroup builds an empty group.
func NewSubscriptionGroup() *SubscriptionGroup {
	return &SubscriptionGroup{Subscriptions: make(map[SubscriptionID]*Subscription)}
}

// MaxExpiries returns (before, after): the group's maximum expiry before
// any change, and the maximum expiry after replacing id's contribution
// with newExpiry (or removing id's contribution entirely when newExpiry
// is nil). Either return is nil when the corresponding group is empty.
func (g *SubscriptionGroup) MaxExpiries(id SubscriptionID, newExpiry *int64) (before, after *int64) {
	for subID, sub := range g.Subscriptions {
		e := sub.Expiry
		if before == nil || e > *before {
			v := e
			before = &v
		}
		var candidate *int64
		if subID == id {
			candidate = newExpiry
		} else {
			v := e
			candidate = &v
		}
		if candidate == nil {
			continue
		}
		if after == nil || *candidate > *after {
			v := *candidate
			after = &v
		}
	}
	// id may be new (not yet present in the group); account for its
	// candidate contribution to `after` even if absent from the map.
	if _, present := g.Subscriptions[id]; !present && newExpiry != nil {
		if after == nil || *newExpiry > *after {
			v := *newExpiry
			after = &v
		}
	}
	return before, after
}

// IsMinAdded reports whether id holds the group's earliest Added epoch,
// and if so, the next-smallest Added epoch among the remaining
// subscriptions (nil if id is the only subscription in the group).
func (g *SubscriptionGroup) IsMinAdded(id SubscriptionID) (isMin bool, nextMinAdded *int64) {
	sub, ok := g.Subscriptions[id]
	if !ok {
		return false, nil
	}
	minAdded := sub.Added
	for otherID, other := range g.Subscriptions {
		if otherID == id {
			continue
		}
		if other.Added < minAdded {
			return false, nil
		}
	}
	for otherID, other := range g.Subscriptions {
		if otherID == id {
			continue
		}
		v := other.Added
		if nextMinAdded == nil || v < *nextMinAdded {
			next := v
			nextMinAdded = &next
		}
	}
	return true, nextMinAdded
}

// Blob is a content-addressed object under ingestion/storage management.
type Blob struct {
	Size         uint64
	MetadataHash Hash
	Status       BlobStatus
	Subscribers  map[Address]*SubscriptionGroup
}

// NewBlob builds a freshly-created blob in the Added state.
func NewBlob(size uint64, metadataHash Hash) *Blob {
	return &Blob{
		Size:         size,
		MetadataHash: metadataHash,
		Status:       BlobStatusAdded,
		Subscribers:  make(map[Address]*SubscriptionGroup),
	}
}
