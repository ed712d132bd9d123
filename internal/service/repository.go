package service

import (
	"context"
	"time"

	"github.com/punchamoorthee/mandates/internal/amount"
	"github.com/punchamoorthee/mandates/internal/domain"
	"github.com/punchamoorthee/mandates/internal/store"
)

// MandateRepository is the persistence contract for payment mandates.
// Load methods return (nil, nil) when nothing matches. Save methods write
// only if the stored version still equals m.Version and otherwise fail with
// store.ErrConflict; the returned copy carries the new version.
//
// Implementations may block on I/O and impose no timeout of their own.
type MandateRepository interface {
	LoadMandate(ctx context.Context, accountID string, live bool, idOrSecret string) (*domain.PaymentMandate, error)
	CreateMandate(ctx context.Context, m domain.PaymentMandate) (domain.PaymentMandate, error)
	SaveMandate(ctx context.Context, m domain.PaymentMandate) (domain.PaymentMandate, error)
	// SaveManyMandates writes each mandate independently. It returns the
	// mandates that were written and the joined errors of those that were not.
	SaveManyMandates(ctx context.Context, ms []domain.PaymentMandate) ([]domain.PaymentMandate, error)
	ListMandates(ctx context.Context, accountID string, live bool, opts store.ListOptions) ([]domain.PaymentMandate, error)
	ListAccountsWithExpiredMandates(ctx context.Context, live bool, now time.Time) ([]string, error)
	DeleteAccountMandates(ctx context.Context, accountID string, live bool) (int, error)
}

// CaptureRepository is the persistence contract for captures and the
// settlement transactions they are derived from.
type CaptureRepository interface {
	LoadCapture(ctx context.Context, accountID string, live bool, captureID string) (*domain.PaymentCapture, error)
	SaveCapture(ctx context.Context, c domain.PaymentCapture) error
	RecordTransaction(ctx context.Context, tx domain.Transaction) error
	ListCaptureTransactions(ctx context.Context, accountID string, live bool, captureID string) ([]domain.Transaction, error)
	DeleteAccountCaptures(ctx context.Context, accountID string, live bool) (int, error)
}

// MandateUser charges one use against a mandate. *MandateService is the
// implementation; CaptureService depends on this narrower view.
type MandateUser interface {
	UsePaymentMandate(ctx context.Context, accountID string, live bool, idOrSecret string, amt amount.Amount) (domain.PaymentMandate, bool, error)
}

// Locker serializes read-modify-write cycles on a single key across
// processes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type noopLocker struct{}

func (noopLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
