package model

// Approval is a scoped permission letting one address spend another's
// credit, optionally bounded by a limit and an expiry epoch.
type Approval struct {
	Limit  *Amount // nil means unlimited
	Expiry *int64  // nil means no expiry
	Used   *Amount
}

// NewApproval builds an approval with zero usage.
func NewApproval(limit *Amount, expiry *int64) *Approval {
	return &Approval{
		Limit:  limit,
		Expiry: expiry,
		Used:   ZeroAmount(),
	}
}

// IsExpired reports whether the approval has expired as of epoch.
func (ap *Approval) IsExpired(epoch int64) bool {
	return ap.Expiry != nil && *ap.Expiry <= epoch
}

// Remaining returns the unused portion of the limit, or nil when the
// approval is unlimited.
func (ap *Approval) Remaining() *Amount {
	if ap.Limit == nil {
		return nil
	}
	return new(Amount).Sub(ap.Limit, ap.Used)
}
