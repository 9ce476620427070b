package ledger

import (
	"math/big"
	"sort"

	"blobsubnet/internal/domain/model"
)

// clone deep-copies the entire state, used by OverwriteBlob to provide
// all-or-nothing atomicity across its delete+add pair (see spec §5:
// "a transactional copy of the state may be used and swapped on success").
func (s *State) clone() *State {
	c := &State{
		CapacityTotal:   new(big.Int).Set(s.CapacityTotal),
		CapacityUsed:    new(big.Int).Set(s.CapacityUsed),
		CreditSold:      new(big.Int).Set(s.CreditSold),
		CreditCommitted: new(big.Int).Set(s.CreditCommitted),
		CreditDebited:   new(big.Int).Set(s.CreditDebited),
		CreditDebitRate: new(big.Int).Set(s.CreditDebitRate),
		Accounts:        make(map[model.Address]*model.Account, len(s.Accounts)),
		Blobs:           make(map[model.Hash]*model.Blob, len(s.Blobs)),
		Expiries:        NewExpiryIndex(),
		Added:           NewIngestionIndex(),
		Pending:         NewIngestionIndex(),
	}
	for addr, acct := range s.Accounts {
		c.Accounts[addr] = cloneAccount(acct)
	}
	for hash, blob := range s.Blobs {
		c.Blobs[hash] = cloneBlob(blob)
	}
	for epoch, bySub := range s.Expiries {
		nb := make(map[model.Address]map[ExpiryKey]bool, len(bySub))
		for sub, byKey := range bySub {
			nk := make(map[ExpiryKey]bool, len(byKey))
			for k, v := range byKey {
				nk[k] = v
			}
			nb[sub] = nk
		}
		c.Expiries[epoch] = nb
	}
	for h, set := range s.Added {
		ns := make(map[IngestionKey]struct{}, len(set))
		for k := range set {
			ns[k] = struct{}{}
		}
		c.Added[h] = ns
	}
	for h, set := range s.Pending {
		ns := make(map[IngestionKey]struct{}, len(set))
		for k := range set {
			ns[k] = struct{}{}
		}
		c.Pending[h] = ns
	}
	return c
}

// restore replaces the receiver's contents in place with those of other,
// so callers holding a *State reference (the usecase layer) see the
// rollback without re-wiring pointers.
func (s *State) restore(other *State) {
	*s = *other
}

func cloneAccount(a *model.Account) *model.Account {
	c := &model.Account{
		CreditFree:      new(big.Int).Set(a.CreditFree),
		CreditCommitted: new(big.Int).Set(a.CreditCommitted),
		CapacityUsed:    new(big.Int).Set(a.CapacityUsed),
		LastDebitEpoch:  a.LastDebitEpoch,
		Approvals:       make(map[model.Address]map[model.Address]*model.Approval, len(a.Approvals)),
		TtlStatus:       a.TtlStatus,
	}
	if a.DefaultSponsor != nil {
		v := *a.DefaultSponsor
		c.DefaultSponsor = &v
	}
	for to, byCaller := range a.Approvals {
		nb := make(map[model.Address]*model.Approval, len(byCaller))
		for caller, appr := range byCaller {
			nb[caller] = cloneApproval(appr)
		}
		c.Approvals[to] = nb
	}
	return c
}

func cloneApproval(a *model.Approval) *model.Approval {
	c := &model.Approval{Used: new(big.Int).Set(a.Used)}
	if a.Limit != nil {
		c.Limit = new(big.Int).Set(a.Limit)
	}
	if a.Expiry != nil {
		v := *a.Expiry
		c.Expiry = &v
	}
	return c
}

func cloneBlob(b *model.Blob) *model.Blob {
	c := &model.Blob{
		Size:         b.Size,
		MetadataHash: b.MetadataHash,
		Status:       b.Status,
		Subscribers:  make(map[model.Address]*model.SubscriptionGroup, len(b.Subscribers)),
	}
	for addr, group := range b.Subscribers {
		ng := model.NewSubscriptionGroup()
		for id, sub := range group.Subscriptions {
			ns := *sub
			if sub.Delegate != nil {
				d := *sub.Delegate
				ns.Delegate = &d
			}
			ng.Subscriptions[id] = &ns
		}
		c.Subscribers[addr] = ng
	}
	return c
}

// Snapshot is the deterministic export format for durable persistence: a
// flat, canonically-ordered record of the five scalars, the rate, and
// every account/blob, mirroring the data model's persistence layout
// (spec §6). Map keys are sorted on export so two exports of identical
// state always serialize identically.
type Snapshot struct {
	CapacityTotal   string
	CapacityUsed    string
	CreditSold      string
	CreditCommitted string
	CreditDebited   string
	CreditDebitRate string
	Accounts        []AccountSnapshot
	Blobs           []BlobSnapshot
}

type ApprovalSnapshot struct {
	To     model.Address
	Caller model.Address
	Limit  *string
	Expiry *int64
	Used   string
}

type AccountSnapshot struct {
	Address         model.Address
	CreditFree      string
	CreditCommitted string
	CapacityUsed    string
	LastDebitEpoch  int64
	TtlStatus       model.TtlStatus
	DefaultSponsor  *model.Address
	Approvals       []ApprovalSnapshot
}

type SubscriptionSnapshot struct {
	ID        model.SubscriptionID
	Added     int64
	Expiry    int64
	AutoRenew bool
	Source    model.PublicKey
	Delegate  *model.Delegation
	Failed    bool
}

type SubscriberGroupSnapshot struct {
	Subscriber    model.Address
	Subscriptions []SubscriptionSnapshot
}

type BlobSnapshot struct {
	Hash         model.Hash
	Size         uint64
	MetadataHash model.Hash
	Status       model.BlobStatus
	Subscribers  []SubscriberGroupSnapshot
}

// Export serializes the current state into its canonical snapshot form.
func (s *State) Export() Snapshot {
	out := Snapshot{
		CapacityTotal:   s.CapacityTotal.String(),
		CapacityUsed:    s.CapacityUsed.String(),
		CreditSold:      s.CreditSold.String(),
		CreditCommitted: s.CreditCommitted.String(),
		CreditDebited:   s.CreditDebited.String(),
		CreditDebitRate: s.CreditDebitRate.String(),
	}

	addrs := make([]model.Address, 0, len(s.Accounts))
	for addr := range s.Accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return lessAddress(addrs[i], addrs[j]) })
	for _, addr := range addrs {
		out.Accounts = append(out.Accounts, exportAccount(addr, s.Accounts[addr]))
	}

	hashes := make([]model.Hash, 0, len(s.Blobs))
	for h := range s.Blobs {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return lessHash(hashes[i], hashes[j]) })
	for _, h := range hashes {
		out.Blobs = append(out.Blobs, exportBlob(h, s.Blobs[h]))
	}

	return out
}

func exportAccount(addr model.Address, a *model.Account) AccountSnapshot {
	as := AccountSnapshot{
		Address:         addr,
		CreditFree:      a.CreditFree.String(),
		CreditCommitted: a.CreditCommitted.String(),
		CapacityUsed:    a.CapacityUsed.String(),
		LastDebitEpoch:  a.LastDebitEpoch,
		TtlStatus:       a.TtlStatus,
		DefaultSponsor:  a.DefaultSponsor,
	}
	tos := make([]model.Address, 0, len(a.Approvals))
	for to := range a.Approvals {
		tos = append(tos, to)
	}
	sort.Slice(tos, func(i, j int) bool { return lessAddress(tos[i], tos[j]) })
	for _, to := range tos {
		callers := make([]model.Address, 0, len(a.Approvals[to]))
		for c := range a.Approvals[to] {
			callers = append(callers, c)
		}
		sort.Slice(callers, func(i, j int) bool { return lessAddress(callers[i], callers[j]) })
		for _, caller := range callers {
			appr := a.Approvals[to][caller]
			var limit *string
			if appr.Limit != nil {
				l := appr.Limit.String()
				limit = &l
			}
			as.Approvals = append(as.Approvals, ApprovalSnapshot{
				To: to, Caller: caller, Limit: limit, Expiry: appr.Expiry, Used: appr.Used.String(),
			})
		}
	}
	return as
}

func exportBlob(h model.Hash, b *model.Blob) BlobSnapshot {
	bs := BlobSnapshot{Hash: h, Size: b.Size, MetadataHash: b.MetadataHash, Status: b.Status}
	subs := make([]model.Address, 0, len(b.Subscribers))
	for addr := range b.Subscribers {
		subs = append(subs, addr)
	}
	sort.Slice(subs, func(i, j int) bool { return lessAddress(subs[i], subs[j]) })
	for _, addr := range subs {
		group := b.Subscribers[addr]
		ids := make([]model.SubscriptionID, 0, len(group.Subscriptions))
		for id := range group.Subscriptions {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return lessSubscriptionID(ids[i], ids[j]) })
		gs := SubscriberGroupSnapshot{Subscriber: addr}
		for _, id := range ids {
			sub := group.Subscriptions[id]
			gs.Subscriptions = append(gs.Subscriptions, SubscriptionSnapshot{
				ID: id, Added: sub.Added, Expiry: sub.Expiry, AutoRenew: sub.AutoRenew,
				Source: sub.Source, Delegate: sub.Delegate, Failed: sub.Failed,
			})
		}
		bs.Subscribers = append(bs.Subscribers, gs)
	}
	return bs
}

func lessHash(a, b model.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func lessSubscriptionID(a, b model.SubscriptionID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Import rebuilds a State from a previously Exported snapshot, including
// rebuilding the expiry and ingestion indexes from the reconstructed
// blobs (the indexes are derived data, not independently persisted).
func Import(snap Snapshot) (*State, error) {
	capacityTotal, ok := new(big.Int).SetString(snap.CapacityTotal, 10)
	if !ok {
		capacityTotal = new(big.Int)
	}
	rate, ok := new(big.Int).SetString(snap.CreditDebitRate, 10)
	if !ok {
		rate = big.NewInt(1)
	}
	s := New(capacityTotal, rate)
	s.CapacityUsed, _ = new(big.Int).SetString(snap.CapacityUsed, 10)
	s.CreditSold, _ = new(big.Int).SetString(snap.CreditSold, 10)
	s.CreditCommitted, _ = new(big.Int).SetString(snap.CreditCommitted, 10)
	s.CreditDebited, _ = new(big.Int).SetString(snap.CreditDebited, 10)

	for _, as := range snap.Accounts {
		acct := model.NewAccount()
		acct.CreditFree, _ = new(big.Int).SetString(as.CreditFree, 10)
		acct.CreditCommitted, _ = new(big.Int).SetString(as.CreditCommitted, 10)
		acct.CapacityUsed, _ = new(big.Int).SetString(as.CapacityUsed, 10)
		acct.LastDebitEpoch = as.LastDebitEpoch
		acct.TtlStatus = as.TtlStatus
		acct.DefaultSponsor = as.DefaultSponsor
		for _, apprSnap := range as.Approvals {
			var limit *big.Int
			if apprSnap.Limit != nil {
				limit, _ = new(big.Int).SetString(*apprSnap.Limit, 10)
			}
			used, _ := new(big.Int).SetString(apprSnap.Used, 10)
			acct.SetApproval(apprSnap.To, apprSnap.Caller, &model.Approval{Limit: limit, Expiry: apprSnap.Expiry, Used: used})
		}
		s.Accounts[as.Address] = acct
	}

	for _, bs := range snap.Blobs {
		blob := &model.Blob{
			Size:         bs.Size,
			MetadataHash: bs.MetadataHash,
			Status:       bs.Status,
			Subscribers:  make(map[model.Address]*model.SubscriptionGroup),
		}
		for _, gs := range bs.Subscribers {
			group := model.NewSubscriptionGroup()
			for _, ss := range gs.Subscriptions {
				sub := &model.Subscription{
					Added: ss.Added, Expiry: ss.Expiry, AutoRenew: ss.AutoRenew,
					Source: ss.Source, Delegate: ss.Delegate, Failed: ss.Failed,
				}
				group.Subscriptions[ss.ID] = sub
				s.Expiries.Insert(ss.Expiry, gs.Subscriber, ExpiryKey{Hash: bs.Hash, ID: ss.ID}, ss.AutoRenew)
				key := IngestionKey{Subscriber: gs.Subscriber, ID: ss.ID, Source: ss.Source}
				switch blob.Status {
				case model.BlobStatusAdded:
					s.Added.Insert(bs.Hash, key)
				case model.BlobStatusPending:
					s.Pending.Insert(bs.Hash, key)
				}
			}
			blob.Subscribers[gs.Subscriber] = group
		}
		s.Blobs[bs.Hash] = blob
	}

	return s, nil
}
