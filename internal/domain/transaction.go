package domain

import (
	"time"

	"github.com/punchamoorthee/mandates/internal/amount"
)

type TransactionStatus string

const (
	TransactionQueued    TransactionStatus = "queued"
	TransactionSent      TransactionStatus = "sent"
	TransactionConfirmed TransactionStatus = "confirmed"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
	TransactionCanceled  TransactionStatus = "canceled"
)

// Valid reports whether s is one of the known settlement statuses.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionQueued, TransactionSent, TransactionConfirmed,
		TransactionCompleted, TransactionFailed, TransactionCanceled:
		return true
	}
	return false
}

// IsFinal reports statuses after which the settlement layer sends no more
// updates.
func (s TransactionStatus) IsFinal() bool {
	switch s {
	case TransactionCompleted, TransactionFailed, TransactionCanceled:
		return true
	}
	return false
}

type TransactionType string

const (
	TransactionPayment TransactionType = "payment"
	TransactionFee     TransactionType = "fee"
)

func (t TransactionType) Valid() bool {
	return t == TransactionPayment || t == TransactionFee
}

// Fee is charged on top of a transaction amount and always debits the source.
type Fee struct {
	Type     string                `json:"type"`
	Amount   amount.PositiveAmount `json:"amount"`
	Currency string                `json:"currency"`
}

// Transaction is an immutable settlement fact reported by the settlement
// subsystem. Captures are projections derived from these records.
type Transaction struct {
	ID                   string            `json:"id"`
	Live                 bool              `json:"live"`
	AccountID            string            `json:"account_id"`
	CaptureID            string            `json:"capture_id,omitempty"`
	Type                 TransactionType   `json:"type"`
	Status               TransactionStatus `json:"status"`
	Amount               amount.Amount     `json:"amount"`
	Currency             string            `json:"currency"`
	Fees                 []Fee             `json:"fees,omitempty"`
	SourceAccountID      string            `json:"source_account_id,omitempty"`
	DestinationAccountID string            `json:"destination_account_id,omitempty"`
	BlockchainRef        *string           `json:"blockchain_ref,omitempty"`
	ProcessorRef         *string           `json:"processor_ref,omitempty"`
	Fingerprint          string            `json:"fingerprint"`
	FailureReason        *string           `json:"failure_reason,omitempty"`
	CancellationReason   *string           `json:"cancellation_reason,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	FailedAt             *time.Time        `json:"failed_at,omitempty"`
	CanceledAt           *time.Time        `json:"canceled_at,omitempty"`
	FinishedAt           *time.Time        `json:"finished_at,omitempty"`
}
