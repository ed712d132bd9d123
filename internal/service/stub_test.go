package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/mandates/internal/domain"
	"github.com/punchamoorthee/mandates/internal/store"
)

// stubRepo is an in-memory repository that counts mutating writes and
// enforces the same version compare-and-swap as the real stores.
type stubRepo struct {
	mu            sync.Mutex
	mandates      map[string]domain.PaymentMandate
	captures      map[string]domain.PaymentCapture
	transactions  []domain.Transaction
	mandateWrites int
	captureWrites int

	// failSave makes SaveMandate fail for the given mandate ids.
	failSave map[string]error
	// beforeSave runs before each SaveMandate; tests use it to simulate a
	// concurrent writer.
	beforeSave func(m domain.PaymentMandate)
	// captureErr makes every SaveCapture fail.
	captureErr error
}

func newStubRepo(ms ...domain.PaymentMandate) *stubRepo {
	r := &stubRepo{
		mandates: map[string]domain.PaymentMandate{},
		captures: map[string]domain.PaymentCapture{},
		failSave: map[string]error{},
	}
	for _, m := range ms {
		if m.Version == 0 {
			m.Version = 1
		}
		r.mandates[m.ID] = m
	}
	return r
}

func (r *stubRepo) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mandateWrites
}

func (r *stubRepo) get(id string) domain.PaymentMandate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mandates[id]
}

func (r *stubRepo) LoadMandate(_ context.Context, accountID string, live bool, idOrSecret string) (*domain.PaymentMandate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mandates {
		if m.AccountID != accountID || m.Live != live {
			continue
		}
		if m.ID == idOrSecret || (m.Secret != "" && m.Secret == idOrSecret) {
			found := m
			return &found, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) CreateMandate(_ context.Context, m domain.PaymentMandate) (domain.PaymentMandate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mandates[m.ID]; ok {
		return domain.PaymentMandate{}, store.ErrDuplicate
	}
	m.Version = 1
	r.mandates[m.ID] = m
	r.mandateWrites++
	return m, nil
}

func (r *stubRepo) SaveMandate(_ context.Context, m domain.PaymentMandate) (domain.PaymentMandate, error) {
	if r.beforeSave != nil {
		r.beforeSave(m)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failSave[m.ID]; ok {
		return domain.PaymentMandate{}, err
	}
	stored, ok := r.mandates[m.ID]
	if !ok || stored.Version != m.Version {
		return domain.PaymentMandate{}, store.ErrConflict
	}
	m.Version++
	r.mandates[m.ID] = m
	r.mandateWrites++
	return m, nil
}

func (r *stubRepo) SaveManyMandates(ctx context.Context, ms []domain.PaymentMandate) ([]domain.PaymentMandate, error) {
	var (
		saved []domain.PaymentMandate
		errs  []error
	)
	for _, m := range ms {
		s, err := r.SaveMandate(ctx, m)
		if err != nil {
			errs = append(errs, fmt.Errorf("mandate %s: %w", m.ID, err))
			continue
		}
		saved = append(saved, s)
	}
	return saved, errors.Join(errs...)
}

func (r *stubRepo) ListMandates(_ context.Context, accountID string, live bool, _ store.ListOptions) ([]domain.PaymentMandate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.PaymentMandate
	for _, m := range r.mandates {
		if m.AccountID == accountID && m.Live == live {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubRepo) ListAccountsWithExpiredMandates(_ context.Context, live bool, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, m := range r.mandates {
		if m.Live == live && m.IsExpired(now) && !seen[m.AccountID] {
			seen[m.AccountID] = true
			out = append(out, m.AccountID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *stubRepo) DeleteAccountMandates(_ context.Context, accountID string, live bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, m := range r.mandates {
		if m.AccountID == accountID && m.Live == live {
			delete(r.mandates, id)
			n++
		}
	}
	return n, nil
}

func (r *stubRepo) LoadCapture(_ context.Context, accountID string, live bool, captureID string) (*domain.PaymentCapture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.captures[captureID]
	if !ok || c.AccountID != accountID || c.Live != live {
		return nil, nil
	}
	return &c, nil
}

func (r *stubRepo) SaveCapture(_ context.Context, c domain.PaymentCapture) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.captureErr != nil {
		return r.captureErr
	}
	r.captures[c.ID] = c
	r.captureWrites++
	return nil
}

func (r *stubRepo) RecordTransaction(_ context.Context, tx domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.transactions {
		if r.transactions[i].ID == tx.ID {
			if r.transactions[i].AccountID != tx.AccountID {
				return store.ErrOwnerMismatch
			}
			r.transactions[i] = tx
			return nil
		}
	}
	r.transactions = append(r.transactions, tx)
	return nil
}

func (r *stubRepo) ListCaptureTransactions(_ context.Context, accountID string, live bool, captureID string) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.transactions {
		if tx.CaptureID == captureID && tx.AccountID == accountID && tx.Live == live {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r *stubRepo) DeleteAccountCaptures(_ context.Context, accountID string, live bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, c := range r.captures {
		if c.AccountID == accountID && c.Live == live {
			delete(r.captures, id)
			n++
		}
	}
	return n, nil
}
