package model

// Delegation records the (origin, caller) pair that authorized a
// credit-spending subscription, so later operations (delete, renew) can
// verify the same pair still holds a valid approval.
type Delegation struct {
	Origin Address
	Caller Address
}

// Account holds one address's credit balances, capacity usage, and the
// approvals it has granted to other addresses.
type Account struct {
	CreditFree      *Amount
	CreditCommitted *Amount
	CapacityUsed    *Amount
	LastDebitEpoch  int64
	// Approvals is keyed grantee-address -> caller-address -> Approval, so
	// a self-keyed entry (Approvals[to][to]) is the wildcard "valid for
	// any caller" form and Approvals[to][caller] is the caller-scoped form.
	Approvals map[Address]map[Address]*Approval
	TtlStatus TtlStatus
	// DefaultSponsor is set by SetCreditSponsor and kept in snapshots.
	// AddBlob and DeleteBlob take the subscriber explicitly and do not
	// fall back to this address.
	DefaultSponsor *Address
}

// NewAccount builds a zeroed account ready to receive credit.
func NewAccount() *Account {
	return &Account{
		CreditFree:      ZeroAmount(),
		CreditCommitted: ZeroAmount(),
		CapacityUsed:    ZeroAmount(),
		Approvals:       make(map[Address]map[Address]*Approval),
		TtlStatus:       TtlStatusUnrestricted,
	}
}

// FindApproval resolves the effective approval for a delegated call,
// preferring the wildcard self-keyed entry (Approvals[to][to]) over the
// caller-scoped one (Approvals[to][caller]). This order is load-bearing:
// it must never be merged or reversed.
func (a *Account) FindApproval(to, caller Address) (*Approval, bool) {
	byCaller, ok := a.Approvals[to]
	if !ok {
		return nil, false
	}
	if wildcard, ok := byCaller[to]; ok {
		return wildcard, true
	}
	if specific, ok := byCaller[caller]; ok {
		return specific, true
	}
	return nil, false
}

// SetApproval upserts the approval keyed by (to, effectiveCaller).
func (a *Account) SetApproval(to, effectiveCaller Address, appr *Approval) {
	byCaller, ok := a.Approvals[to]
	if !ok {
		byCaller = make(map[Address]*Approval)
		a.Approvals[to] = byCaller
	}
	byCaller[effectiveCaller] = appr
}

// RemoveApproval deletes the (to, effectiveCaller) entry, pruning the
// outer map when it becomes empty.
func (a *Account) RemoveApproval(to, effectiveCaller Address) bool {
	byCaller, ok := a.Approvals[to]
	if !ok {
		return false
	}
	if _, ok := byCaller[effectiveCaller]; !ok {
		return false
	}
	delete(byCaller, effectiveCaller)
	if len(byCaller) == 0 {
		delete(a.Approvals, to)
	}
	return true
}
