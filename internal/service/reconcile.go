package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/punchamoorthee/mandates/internal/amount"
	"github.com/punchamoorthee/mandates/internal/domain"
)

var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidCapture     = errors.New("invalid payment capture")
)

// SyncResult is a capture after reconciliation and whether any reconciled
// field differs from the input.
type SyncResult struct {
	Capture domain.PaymentCapture
	Changed bool
}

// SyncPaymentCapturesWithTransactions folds the status of the capture's
// payment transaction into the capture. It does no I/O; saving the result
// is up to the caller.
//
//	transaction   capture     failure_reason        failed_at     finished_at
//	failed        failed      failure_reason        failed_at     finished_at
//	canceled      failed      cancellation_reason   canceled_at   finished_at
//	completed     succeeded   -                     -             finished_at
//	queued/sent/  processing  -                     -             -
//	confirmed
func SyncPaymentCapturesWithTransactions(capture domain.PaymentCapture, txs []domain.Transaction) SyncResult {
	if len(txs) == 0 {
		return SyncResult{Capture: capture}
	}

	payment := findPayment(txs)
	if payment == nil {
		return SyncResult{Capture: capture}
	}

	next := capture
	switch payment.Status {
	case domain.TransactionFailed:
		next.Status = domain.CaptureFailed
		next.FailureReason = payment.FailureReason
		next.FailedAt = firstTime(payment.FailedAt, payment.FinishedAt)
		next.FinishedAt = payment.FinishedAt
	case domain.TransactionCanceled:
		next.Status = domain.CaptureFailed
		next.FailureReason = payment.CancellationReason
		next.FailedAt = firstTime(payment.CanceledAt, payment.FinishedAt)
		next.FinishedAt = payment.FinishedAt
	case domain.TransactionCompleted:
		next.Status = domain.CaptureSucceeded
		next.FinishedAt = payment.FinishedAt
	case domain.TransactionQueued, domain.TransactionSent, domain.TransactionConfirmed:
		next.Status = domain.CaptureProcessing
	default:
		// RecordTransaction refuses unknown statuses, so none is ever stored.
		return SyncResult{Capture: capture}
	}

	changed := next.Status != capture.Status ||
		!sameString(next.FailureReason, capture.FailureReason) ||
		!sameTime(next.FailedAt, capture.FailedAt) ||
		!sameTime(next.FinishedAt, capture.FinishedAt)

	return SyncResult{Capture: next, Changed: changed}
}

// findPayment returns the capture's payment transaction. A capture has at
// most one; fee transactions are ignored.
func findPayment(txs []domain.Transaction) *domain.Transaction {
	for i := range txs {
		if txs[i].Type == domain.TransactionPayment {
			return &txs[i]
		}
	}
	return nil
}

func firstTime(ts ...*time.Time) *time.Time {
	for _, t := range ts {
		if t != nil {
			return t
		}
	}
	return nil
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

type CaptureService struct {
	repo     CaptureRepository
	mandates MandateUser
	logger   *zap.Logger
	now      func() time.Time
}

// NewCaptureService builds the capture service. mandates charges the mandate
// behind each new capture; it may be nil when captures are never created.
func NewCaptureService(repo CaptureRepository, mandates MandateUser, logger *zap.Logger) *CaptureService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaptureService{
		repo:     repo,
		mandates: mandates,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateCaptureInput describes a payment pulled through a mandate.
type CreateCaptureInput struct {
	AccountID      string
	Live           bool
	// PaymentMandate is the id or secret of the mandate to charge.
	PaymentMandate string
	Amount         amount.PositiveAmount
	Currency       string
}

// CreateCapture uses the mandate for in.Amount and stores a pending capture
// linked to it. found is false when the mandate does not exist. Mandate
// errors (inactive, over the limit, conflict) are returned as is and no
// capture is written.
func (s *CaptureService) CreateCapture(ctx context.Context, in CreateCaptureInput) (domain.PaymentCapture, bool, error) {
	switch {
	case in.AccountID == "" || in.PaymentMandate == "":
		return domain.PaymentCapture{}, false, fmt.Errorf("%w: account and payment_mandate are required", ErrInvalidCapture)
	case in.Currency == "":
		return domain.PaymentCapture{}, false, fmt.Errorf("%w: currency is required", ErrInvalidCapture)
	case in.Amount.IsZero():
		return domain.PaymentCapture{}, false, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidCapture)
	case s.mandates == nil:
		return domain.PaymentCapture{}, false, errors.New("capture service has no mandate service")
	}

	m, found, err := s.mandates.UsePaymentMandate(ctx, in.AccountID, in.Live, in.PaymentMandate, in.Amount.Amount())
	if err != nil || !found {
		return domain.PaymentCapture{}, found, err
	}

	capture := domain.PaymentCapture{
		ID:               uuid.NewString(),
		Live:             in.Live,
		AccountID:        in.AccountID,
		PaymentMandateID: m.ID,
		Amount:           in.Amount,
		Currency:         in.Currency,
		Status:           domain.CapturePending,
		CreatedAt:        s.now(),
	}
	if err := s.repo.SaveCapture(ctx, capture); err != nil {
		s.logger.Error("mandate used but capture not saved",
			zap.String("mandate_id", m.ID),
			zap.String("account_id", in.AccountID),
			zap.String("amount", in.Amount.String()),
			zap.Error(err),
		)
		return domain.PaymentCapture{}, true, fmt.Errorf("save capture: %w", err)
	}

	s.logger.Info("payment capture created",
		zap.String("capture_id", capture.ID),
		zap.String("mandate_id", m.ID),
		zap.String("account_id", in.AccountID),
		zap.Bool("live", in.Live),
	)
	return capture, true, nil
}

// ReconcileCapture re-derives a capture from its stored transactions and
// saves it when something changed. Running it again with no new
// transactions performs no write.
func (s *CaptureService) ReconcileCapture(ctx context.Context, accountID string, live bool, captureID string) (SyncResult, bool, error) {
	capture, err := s.repo.LoadCapture(ctx, accountID, live, captureID)
	if err != nil {
		return SyncResult{}, false, fmt.Errorf("load capture: %w", err)
	}
	if capture == nil {
		return SyncResult{}, false, nil
	}

	txs, err := s.repo.ListCaptureTransactions(ctx, accountID, live, captureID)
	if err != nil {
		return SyncResult{}, true, fmt.Errorf("list capture transactions: %w", err)
	}

	result := SyncPaymentCapturesWithTransactions(*capture, txs)
	captureReconciliations.WithLabelValues(strconv.FormatBool(result.Changed)).Inc()
	if !result.Changed {
		return result, true, nil
	}

	if err := s.repo.SaveCapture(ctx, result.Capture); err != nil {
		return SyncResult{}, true, fmt.Errorf("save capture: %w", err)
	}

	s.logger.Info("payment capture reconciled",
		zap.String("capture_id", captureID),
		zap.String("account_id", accountID),
		zap.Bool("live", live),
		zap.String("from_status", string(capture.Status)),
		zap.String("to_status", string(result.Capture.Status)),
	)
	return result, true, nil
}

// RecordTransaction stores a settlement update reported by the settlement
// subsystem and reconciles the capture it belongs to.
func (s *CaptureService) RecordTransaction(ctx context.Context, tx domain.Transaction) (SyncResult, bool, error) {
	if err := validateTransaction(tx); err != nil {
		return SyncResult{}, false, err
	}
	if err := s.repo.RecordTransaction(ctx, tx); err != nil {
		return SyncResult{}, false, fmt.Errorf("record transaction: %w", err)
	}
	if tx.CaptureID == "" {
		return SyncResult{}, false, nil
	}
	return s.ReconcileCapture(ctx, tx.AccountID, tx.Live, tx.CaptureID)
}

// GetCapture loads a capture as stored, without reconciling it.
func (s *CaptureService) GetCapture(ctx context.Context, accountID string, live bool, captureID string) (domain.PaymentCapture, bool, error) {
	c, err := s.repo.LoadCapture(ctx, accountID, live, captureID)
	if err != nil {
		return domain.PaymentCapture{}, false, fmt.Errorf("load capture: %w", err)
	}
	if c == nil {
		return domain.PaymentCapture{}, false, nil
	}
	return *c, true, nil
}

// CaptureBalances nets the capture's completed transactions into
// per-currency balances for the owning account.
func (s *CaptureService) CaptureBalances(ctx context.Context, accountID string, live bool, captureID string) ([]domain.Balance, bool, error) {
	c, err := s.repo.LoadCapture(ctx, accountID, live, captureID)
	if err != nil {
		return nil, false, fmt.Errorf("load capture: %w", err)
	}
	if c == nil {
		return nil, false, nil
	}
	txs, err := s.repo.ListCaptureTransactions(ctx, accountID, live, captureID)
	if err != nil {
		return nil, true, fmt.Errorf("list capture transactions: %w", err)
	}
	return domain.AggregateBalances(accountID, txs), true, nil
}

func validateTransaction(tx domain.Transaction) error {
	switch {
	case tx.ID == "" || tx.AccountID == "" || tx.Fingerprint == "":
		return fmt.Errorf("%w: id, account_id and fingerprint are required", ErrInvalidTransaction)
	case !tx.Type.Valid():
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidTransaction, tx.Type)
	case !tx.Status.Valid():
		return fmt.Errorf("%w: unknown transaction status %q", ErrInvalidTransaction, tx.Status)
	case tx.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidTransaction)
	}
	return nil
}
