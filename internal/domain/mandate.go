package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/mandates/internal/amount"
)

type MandateStatus string

const (
	MandateActive   MandateStatus = "active"
	MandateInactive MandateStatus = "inactive"
)

type InactiveReason string

const (
	InactiveUsed    InactiveReason = "used"
	InactiveRevoked InactiveReason = "revoked"
	InactiveExpired InactiveReason = "expired"
)

type MandateType string

const (
	MandateSingleUse MandateType = "single_use"
	MandateMultiUse  MandateType = "multi_use"
)

var ErrUnknownMandateType = errors.New("unknown payment mandate type")

// MandateDetails is the variant part of a PaymentMandate. The set of
// implementations is closed: SingleUse and MultiUse.
type MandateDetails interface {
	MandateType() MandateType
	sealed()
}

// SingleUse authorizes exactly one pull of funds.
type SingleUse struct {
	// UsedAmount is set once, when the mandate is used.
	UsedAmount *amount.PositiveAmount `json:"used_amount,omitempty"`
}

func (SingleUse) MandateType() MandateType { return MandateSingleUse }
func (SingleUse) sealed()                  {}

// MultiUse authorizes repeated pulls up to AmountLimit and, optionally,
// UsageCountLimit uses.
type MultiUse struct {
	AmountLimit     amount.PositiveAmount `json:"amount_limit"`
	UsageCountLimit *int64                `json:"usage_count_limit,omitempty"`
	TotalUsedAmount amount.PositiveAmount `json:"total_used_amount"`
	TotalUsedCount  int64                 `json:"total_used_count"`
}

func (MultiUse) MandateType() MandateType { return MandateMultiUse }
func (MultiUse) sealed()                  {}

// RemainingAmount is the part of AmountLimit not yet consumed.
func (m MultiUse) RemainingAmount() amount.Amount {
	rest := m.AmountLimit.Amount().Sub(m.TotalUsedAmount.Amount())
	if rest.IsNegative() {
		return amount.Zero
	}
	return rest
}

// PaymentMandate is a stored authorization letting a flow pull funds from
// the owning account. Status never moves from inactive back to active.
type PaymentMandate struct {
	ID             string
	Secret         string
	Live           bool
	AccountID      string
	Status         MandateStatus
	InactiveReason InactiveReason
	Details        MandateDetails
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	UsedAt         *time.Time

	// Version is bumped by the repository on every successful write and is
	// the compare-and-swap token for concurrent writers.
	Version int64
}

func (m PaymentMandate) Type() MandateType {
	if m.Details == nil {
		return ""
	}
	return m.Details.MandateType()
}

func (m PaymentMandate) IsActive() bool {
	return m.Status == MandateActive
}

// IsExpired reports an active mandate whose expiry has passed. Mandates that
// are already inactive are never reported as expired.
func (m PaymentMandate) IsExpired(now time.Time) bool {
	return m.Status == MandateActive && m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// Deactivate returns a copy moved to inactive with the given reason.
func (m PaymentMandate) Deactivate(reason InactiveReason) PaymentMandate {
	m.Status = MandateInactive
	m.InactiveReason = reason
	return m
}

type mandateJSON struct {
	ID             string         `json:"id"`
	Secret         string         `json:"secret,omitempty"`
	Live           bool           `json:"live"`
	AccountID      string         `json:"account_id"`
	Status         MandateStatus  `json:"status"`
	InactiveReason InactiveReason `json:"inactive_reason,omitempty"`
	Type           MandateType    `json:"type"`
	SingleUse      *SingleUse     `json:"single_use,omitempty"`
	MultiUse       *MultiUse      `json:"multi_use,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	UsedAt         *time.Time     `json:"used_at,omitempty"`
	Version        int64          `json:"version"`
}

func (m PaymentMandate) MarshalJSON() ([]byte, error) {
	out := mandateJSON{
		ID:             m.ID,
		Secret:         m.Secret,
		Live:           m.Live,
		AccountID:      m.AccountID,
		Status:         m.Status,
		InactiveReason: m.InactiveReason,
		CreatedAt:      m.CreatedAt,
		ExpiresAt:      m.ExpiresAt,
		UsedAt:         m.UsedAt,
		Version:        m.Version,
	}
	switch d := m.Details.(type) {
	case SingleUse:
		out.Type = MandateSingleUse
		out.SingleUse = &d
	case MultiUse:
		out.Type = MandateMultiUse
		out.MultiUse = &d
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMandateType, m.Details)
	}
	return json.Marshal(out)
}

func (m *PaymentMandate) UnmarshalJSON(data []byte) error {
	var in mandateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = PaymentMandate{
		ID:             in.ID,
		Secret:         in.Secret,
		Live:           in.Live,
		AccountID:      in.AccountID,
		Status:         in.Status,
		InactiveReason: in.InactiveReason,
		CreatedAt:      in.CreatedAt,
		ExpiresAt:      in.ExpiresAt,
		UsedAt:         in.UsedAt,
		Version:        in.Version,
	}
	switch in.Type {
	case MandateSingleUse:
		if in.SingleUse == nil {
			in.SingleUse = &SingleUse{}
		}
		m.Details = *in.SingleUse
	case MandateMultiUse:
		if in.MultiUse == nil {
			return fmt.Errorf("%w: multi_use mandate %s has no limits", ErrUnknownMandateType, in.ID)
		}
		m.Details = *in.MultiUse
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMandateType, in.Type)
	}
	return nil
}
