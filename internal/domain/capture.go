package domain

import (
	"time"

	"github.com/punchamoorthee/mandates/internal/amount"
)

type CaptureStatus string

const (
	CapturePending    CaptureStatus = "pending"
	CaptureProcessing CaptureStatus = "processing"
	CaptureSucceeded  CaptureStatus = "succeeded"
	CaptureFailed     CaptureStatus = "failed"
)

// PaymentCapture is the merchant-facing view of collecting a payment. It is
// only mutated by reconciliation against its transactions.
type PaymentCapture struct {
	ID               string                `json:"id"`
	Live             bool                  `json:"live"`
	AccountID        string                `json:"account_id"`
	PaymentMandateID string                `json:"payment_mandate_id,omitempty"`
	Amount           amount.PositiveAmount `json:"amount"`
	Currency         string                `json:"currency"`
	Status           CaptureStatus         `json:"status"`
	FailureReason    *string               `json:"failure_reason,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	FailedAt         *time.Time            `json:"failed_at,omitempty"`
	FinishedAt       *time.Time            `json:"finished_at,omitempty"`
}
