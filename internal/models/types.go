package models

import (
	"time"

	"github.com/punchamoorthee/mandates/internal/amount"
	"github.com/punchamoorthee/mandates/internal/domain"
)

const (
	ObjectMandate        = "payment_mandate"
	ObjectCapture        = "payment_capture"
	ObjectReconciliation = "payment_capture_reconciliation"
	ObjectBalance        = "balance"
	ObjectList           = "list"
)

// CreateMandateRequest is the payload for creating a mandate.
type CreateMandateRequest struct {
	Type            domain.MandateType     `json:"type"`
	AmountLimit     *amount.PositiveAmount `json:"amount_limit,omitempty"`
	UsageCountLimit *int64                 `json:"usage_count_limit,omitempty"`
	ExpiresAt       *time.Time             `json:"expires_at,omitempty"`
}

// UseMandateRequest pulls Amount against a mandate. A signed ledger amount
// is accepted; only its magnitude counts towards usage.
type UseMandateRequest struct {
	Amount amount.Amount `json:"amount"`
}

// CreateCaptureRequest charges Amount through PaymentMandate, given as the
// mandate id or its secret.
type CreateCaptureRequest struct {
	PaymentMandate string                `json:"payment_mandate"`
	Amount         amount.PositiveAmount `json:"amount"`
	Currency       string                `json:"currency"`
}

// MultiUse adds the derived remaining amount to the stored counters.
type MultiUse struct {
	domain.MultiUse
	RemainingAmount amount.Amount `json:"remaining_amount"`
}

// Mandate is the API representation of a payment mandate. The storage
// version is not exposed.
type Mandate struct {
	Object         string                `json:"object"`
	ID             string                `json:"id"`
	Secret         string                `json:"secret"`
	Live           bool                  `json:"live"`
	AccountID      string                `json:"account_id"`
	Status         domain.MandateStatus  `json:"status"`
	InactiveReason domain.InactiveReason `json:"inactive_reason,omitempty"`
	Type           domain.MandateType    `json:"type"`
	SingleUse      *domain.SingleUse     `json:"single_use,omitempty"`
	MultiUse       *MultiUse             `json:"multi_use,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	ExpiresAt      *time.Time            `json:"expires_at,omitempty"`
	UsedAt         *time.Time            `json:"used_at,omitempty"`
}

func NewMandate(m domain.PaymentMandate) Mandate {
	out := Mandate{
		Object:         ObjectMandate,
		ID:             m.ID,
		Secret:         m.Secret,
		Live:           m.Live,
		AccountID:      m.AccountID,
		Status:         m.Status,
		InactiveReason: m.InactiveReason,
		Type:           m.Type(),
		CreatedAt:      m.CreatedAt,
		ExpiresAt:      m.ExpiresAt,
		UsedAt:         m.UsedAt,
	}
	switch d := m.Details.(type) {
	case domain.SingleUse:
		out.SingleUse = &d
	case domain.MultiUse:
		out.MultiUse = &MultiUse{MultiUse: d, RemainingAmount: d.RemainingAmount()}
	}
	return out
}

type Capture struct {
	Object string `json:"object"`
	domain.PaymentCapture
}

func NewCapture(c domain.PaymentCapture) Capture {
	return Capture{Object: ObjectCapture, PaymentCapture: c}
}

// Reconciliation reports the capture after folding in its transactions and
// whether that changed anything.
type Reconciliation struct {
	Object  string  `json:"object"`
	Capture Capture `json:"capture"`
	Changed bool    `json:"changed"`
}

func NewReconciliation(c domain.PaymentCapture, changed bool) Reconciliation {
	return Reconciliation{Object: ObjectReconciliation, Capture: NewCapture(c), Changed: changed}
}

type Balance struct {
	Object string `json:"object"`
	domain.Balance
}

// List wraps a collection in the "list" envelope. Data is never null.
type List[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

func NewList[T any](items []T) List[T] {
	if items == nil {
		items = []T{}
	}
	return List[T]{Object: ObjectList, Data: items}
}

func NewMandateList(ms []domain.PaymentMandate) List[Mandate] {
	out := make([]Mandate, 0, len(ms))
	for _, m := range ms {
		out = append(out, NewMandate(m))
	}
	return NewList(out)
}

func NewBalanceList(bs []domain.Balance) List[Balance] {
	out := make([]Balance, 0, len(bs))
	for _, b := range bs {
		out = append(out, Balance{Object: ObjectBalance, Balance: b})
	}
	return NewList(out)
}
