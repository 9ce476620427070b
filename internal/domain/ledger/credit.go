package ledger

import (
	"fmt"
	"math/big"

	"blobsubnet/internal/domain/model"
	"blobsubnet/internal/domain"
)

// CreditDelegation names the (origin, caller) pair resolved for a
// delegated call, together with the approval that authorized it.
type CreditDelegation struct {
	Origin   model.Address
	Caller   model.Address
	Approval *model.Approval
}

// resolveDelegation looks up the approval authorizing origin to spend on
// subscriber's behalf, preferring the wildcard self-keyed entry over the
// caller-scoped one (model.Account.FindApproval preserves that order).
// Returns (nil, nil) when origin == subscriber (no delegation needed).
func resolveDelegation(subscriberAccount *model.Account, origin, caller, subscriber model.Address) (*CreditDelegation, error) {
	if origin == subscriber {
		return nil, nil
	}
	appr, ok := subscriberAccount.FindApproval(origin, caller)
	if !ok {
		return nil, fmt.Errorf("%w: no approval from %s for caller %s", domain.ErrForbidden, origin, caller)
	}
	return &CreditDelegation{Origin: origin, Caller: caller, Approval: appr}, nil
}

// ensureCreditOrBuy ensures account.CreditFree covers creditRequired,
// buying credit from tokensReceived when supplied, or checking the
// delegated approval's headroom otherwise. It never moves credit into
// CreditCommitted or increments approval usage — that happens
// unconditionally in the caller's commit step once this succeeds.
func ensureCreditOrBuy(s *State, account *model.Account, delegation *CreditDelegation, epoch int64, creditRequired, tokensReceived *big.Int) (tokensUnspent *big.Int, err error) {
	hasTokens := tokensReceived.Sign() > 0
	hasDelegation := delegation != nil

	switch {
	case hasTokens && hasDelegation:
		return nil, fmt.Errorf("%w: cannot buy credits inline for a delegated call", domain.ErrInvalidArgument)

	case hasTokens:
		if account.CreditFree.Cmp(creditRequired) >= 0 {
			return new(big.Int).Set(tokensReceived), nil
		}
		deficit := new(big.Int).Sub(creditRequired, account.CreditFree)
		neededAtto := new(big.Int).Div(deficit, s.CreditDebitRate)
		if tokensReceived.Cmp(neededAtto) < 0 {
			return nil, fmt.Errorf("%w: tokens received insufficient to cover required credit", domain.ErrInsufficientCredit)
		}
		minted := new(big.Int).Mul(neededAtto, s.CreditDebitRate)
		account.CreditFree.Add(account.CreditFree, minted)
		s.CreditSold.Add(s.CreditSold, minted)
		return new(big.Int).Sub(tokensReceived, neededAtto), nil

	default:
		if account.CreditFree.Cmp(creditRequired) < 0 {
			return nil, fmt.Errorf("%w: account credit below requirement", domain.ErrInsufficientCredit)
		}
		if hasDelegation {
			appr := delegation.Approval
			if appr.IsExpired(epoch) {
				return nil, fmt.Errorf("%w: approval expired", domain.ErrForbidden)
			}
			if appr.Limit != nil {
				newUsed := new(big.Int).Add(appr.Used, creditRequired)
				if newUsed.Cmp(appr.Limit) > 0 {
					return nil, fmt.Errorf("%w: approval limit exhausted", domain.ErrInsufficientCredit)
				}
			}
		}
		return new(big.Int), nil
	}
}
