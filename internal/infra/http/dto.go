// File: internal/infra/http/dto.go
package http

import (
	"fmt"
	"math/big"

	"blobsubnet/internal/domain/model"
)

func parseAddress(s string) (model.Address, error) {
	return model.ParseAddress(s)
}

func parseHash(s string) (model.Hash, error) {
	a, err := model.ParseAddress(s)
	return model.Hash(a), err
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", s)
	}
	return v, nil
}

// accountDTO is the JSON projection of model.Account returned by
// GetAccount.
type accountDTO struct {
	CreditFree      string `json:"credit_free"`
	CreditCommitted string `json:"credit_committed"`
	CapacityUsed    string `json:"capacity_used"`
	LastDebitEpoch  int64  `json:"last_debit_epoch"`
	TtlStatus       string `json:"ttl_status"`
}

func toAccountDTO(a *model.Account) accountDTO {
	return accountDTO{
		CreditFree:      a.CreditFree.String(),
		CreditCommitted: a.CreditCommitted.String(),
		CapacityUsed:    a.CapacityUsed.String(),
		LastDebitEpoch:  a.LastDebitEpoch,
		TtlStatus:       string(a.TtlStatus),
	}
}

type approvalDTO struct {
	Limit  *string `json:"limit,omitempty"`
	Expiry *int64  `json:"expiry,omitempty"`
	Used   string  `json:"used"`
}

func toApprovalDTO(a *model.Approval) approvalDTO {
	var limit *string
	if a.Limit != nil {
		s := a.Limit.String()
		limit = &s
	}
	return approvalDTO{Limit: limit, Expiry: a.Expiry, Used: a.Used.String()}
}

type creditAllowanceDTO struct {
	CreditFree      string                `json:"credit_free"`
	CreditCommitted string                `json:"credit_committed"`
	Approvals       []creditApprovalViewD `json:"approvals"`
}

type creditApprovalViewD struct {
	To     string  `json:"to"`
	Caller string  `json:"caller"`
	Limit  *string `json:"limit,omitempty"`
	Expiry *int64  `json:"expiry,omitempty"`
	Used   string  `json:"used"`
}

func toCreditAllowanceDTO(a *model.CreditAllowance) creditAllowanceDTO {
	out := creditAllowanceDTO{
		CreditFree:      a.CreditFree.String(),
		CreditCommitted: a.CreditCommitted.String(),
	}
	for _, v := range a.Approvals {
		var limit *string
		if v.Limit != nil {
			s := v.Limit.String()
			limit = &s
		}
		out.Approvals = append(out.Approvals, creditApprovalViewD{
			To: v.To.String(), Caller: v.Caller.String(), Limit: limit, Expiry: v.Expiry, Used: v.Used.String(),
		})
	}
	return out
}

type statsDTO struct {
	Balance         string `json:"balance"`
	CapacityFree    string `json:"capacity_free"`
	CapacityUsed    string `json:"capacity_used"`
	CreditSold      string `json:"credit_sold"`
	CreditCommitted string `json:"credit_committed"`
	CreditDebited   string `json:"credit_debited"`
	CreditDebitRate string `json:"credit_debit_rate"`
	NumAccounts     uint64 `json:"num_accounts"`
	NumBlobs        uint64 `json:"num_blobs"`
	NumResolving    uint64 `json:"num_resolving"`
	BytesResolving  uint64 `json:"bytes_resolving"`
	NumAdded        uint64 `json:"num_added"`
	BytesAdded      uint64 `json:"bytes_added"`
}

func toStatsDTO(s model.Stats) statsDTO {
	return statsDTO{
		Balance:         s.Balance.String(),
		CapacityFree:    s.CapacityFree.String(),
		CapacityUsed:    s.CapacityUsed.String(),
		CreditSold:      s.CreditSold.String(),
		CreditCommitted: s.CreditCommitted.String(),
		CreditDebited:   s.CreditDebited.String(),
		CreditDebitRate: s.CreditDebitRate.String(),
		NumAccounts:     s.NumAccounts,
		NumBlobs:        s.NumBlobs,
		NumResolving:    s.NumResolving,
		BytesResolving:  s.BytesResolving,
		NumAdded:        s.NumAdded,
		BytesAdded:      s.BytesAdded,
	}
}

type subscriptionDTO struct {
	Added     int64  `json:"added"`
	Expiry    int64  `json:"expiry"`
	AutoRenew bool   `json:"auto_renew"`
	Source    string `json:"source"`
	Failed    bool   `json:"failed"`
}

func toSubscriptionDTO(s model.Subscription) subscriptionDTO {
	return subscriptionDTO{
		Added:     s.Added,
		Expiry:    s.Expiry,
		AutoRenew: s.AutoRenew,
		Source:    s.Source.String(),
		Failed:    s.Failed,
	}
}

type blobDTO struct {
	Size         uint64 `json:"size"`
	MetadataHash string `json:"metadata_hash"`
	Status       string `json:"status"`
	Subscribers  int    `json:"num_subscribers"`
}

func toBlobDTO(b *model.Blob) blobDTO {
	return blobDTO{
		Size:         b.Size,
		MetadataHash: b.MetadataHash.String(),
		Status:       string(b.Status),
		Subscribers:  len(b.Subscribers),
	}
}
