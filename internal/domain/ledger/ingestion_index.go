package ledger

import "blobsubnet/internal/domain/model"

// IngestionKey identifies one subscriber's claim on a blob within the
// added/pending indexes.
type IngestionKey struct {
	Subscriber model.Address
	ID         model.SubscriptionID
	Source     model.PublicKey
}

// IngestionIndex maps a blob hash to the set of (subscriber, id, source)
// triples currently claiming that hash in a given ingestion state
// (added or pending). Backs GetAddedBlobs/GetPendingBlobs.
type IngestionIndex map[model.Hash]map[IngestionKey]struct{}

// NewIngestionIndex builds an empty index.
func NewIngestionIndex() IngestionIndex {
	return make(IngestionIndex)
}

// Insert records a claim.
func (idx IngestionIndex) Insert(hash model.Hash, key IngestionKey) {
	set, ok := idx[hash]
	if !ok {
		set = make(map[IngestionKey]struct{})
		idx[hash] = set
	}
	set[key] = struct{}{}
}

// Remove deletes one claim, pruning the hash entry when it becomes
// empty.
func (idx IngestionIndex) Remove(hash model.Hash, key IngestionKey) {
	set, ok := idx[hash]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(idx, hash)
	}
}

// RemoveHash deletes every claim under hash, regardless of which
// subscriber/id/source triple holds it. set_blob_pending uses this: the
// added index is cleared for the whole hash, not just the triple being
// promoted to pending.
func (idx IngestionIndex) RemoveHash(hash model.Hash) {
	delete(idx, hash)
}

// Has reports whether hash has any claim recorded.
func (idx IngestionIndex) Has(hash model.Hash) bool {
	_, ok := idx[hash]
	return ok
}
