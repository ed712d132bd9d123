package service

import (
	"fmt"
	"time"

	"github.com/punchamoorthee/mandates/internal/amount"
	"github.com/punchamoorthee/mandates/internal/domain"
)

// CountLimitPolicy decides how a multi-use mandate without a usage count
// limit is bounded by count.
type CountLimitPolicy int

const (
	// CountLimitUnbounded never exhausts a mandate by count when no limit is
	// set; only the amount limit applies.
	CountLimitUnbounded CountLimitPolicy = iota
	// CountLimitZeroFallback treats a missing limit as 0, so the first use
	// exhausts the mandate.
	CountLimitZeroFallback
)

// DefaultCountLimitPolicy is the policy used by UseValidPaymentMandate.
const DefaultCountLimitPolicy = CountLimitUnbounded

// UseValidPaymentMandate returns the state of m after one use of amt.
//
// The caller must guarantee that m is active and unexpired and that this
// transition is applied at most once per use. Nothing here re-checks that:
// calling it twice on a single-use mandate overwrites UsedAmount.
// UsePaymentMandate is the guarded caller.
func UseValidPaymentMandate(amt amount.Amount, m domain.PaymentMandate, now time.Time) domain.PaymentMandate {
	return useValidPaymentMandate(amt, m, now, DefaultCountLimitPolicy)
}

func useValidPaymentMandate(amt amount.Amount, m domain.PaymentMandate, now time.Time, policy CountLimitPolicy) domain.PaymentMandate {
	usedAt := now
	m.UsedAt = &usedAt

	switch d := m.Details.(type) {
	case domain.SingleUse:
		used := amount.MapPositive(&amt)
		d.UsedAmount = &used
		m.Details = d
		return m.Deactivate(domain.InactiveUsed)

	case domain.MultiUse:
		previous := d.TotalUsedAmount.Amount()
		d.TotalUsedAmount = amount.MapPositive(&previous).Add(amount.MapPositive(&amt))
		d.TotalUsedCount++
		m.Details = d

		usedAllAmount := d.TotalUsedAmount.GreaterThanOrEqual(d.AmountLimit)
		usedAllCount := false
		switch {
		case d.UsageCountLimit != nil:
			usedAllCount = d.TotalUsedCount >= *d.UsageCountLimit
		case policy == CountLimitZeroFallback:
			usedAllCount = d.TotalUsedCount >= 0
		}

		if usedAllAmount || usedAllCount {
			return m.Deactivate(domain.InactiveUsed)
		}
		return m

	default:
		panic(fmt.Sprintf("payment mandate %s: unsupported variant %T", m.ID, m.Details))
	}
}
