package model

// Stats is the snapshot returned by GetStats: the running totals plus
// derived counts over accounts and blobs.
type Stats struct {
	Balance         *Amount
	CapacityFree    *Amount
	CapacityUsed    *Amount
	CreditSold      *Amount
	CreditCommitted *Amount
	CreditDebited   *Amount
	CreditDebitRate *Amount
	NumAccounts     uint64
	NumBlobs        uint64
	NumResolving    uint64
	BytesResolving  uint64
	NumAdded        uint64
	BytesAdded      uint64
}

// CreditApprovalView is the enumerable form of an approval returned by
// GetCreditAllowance, naming the grantee/caller pair it belongs to.
type CreditApprovalView struct {
	To       Address
	Caller   Address
	Limit    *Amount
	Expiry   *int64
	Used     *Amount
}

// CreditAllowance is the GetCreditAllowance query result: a subscriber's
// own free/committed balances plus every approval it has extended.
type CreditAllowance struct {
	CreditFree      *Amount
	CreditCommitted *Amount
	Approvals       []CreditApprovalView
}
