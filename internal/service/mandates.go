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
	"github.com/punchamoorthee/mandates/internal/store"
)

var (
	ErrMandateConflict     = errors.New("payment mandate was modified concurrently")
	ErrAmountLimitExceeded = errors.New("amount exceeds the mandate's remaining limit")
	ErrZeroAmount          = errors.New("amount must not be zero")
	ErrInvalidMandate      = errors.New("invalid payment mandate")
)

var _ MandateUser = (*MandateService)(nil)

// SecretPrefix marks a mandate secret as opposed to its id.
const SecretPrefix = "pm_secret_"

type MandateService struct {
	repo   MandateRepository
	locker Locker
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*MandateService)

// WithLocker serializes use and revoke per mandate across processes.
func WithLocker(l Locker) Option {
	return func(s *MandateService) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *MandateService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *MandateService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMandateService(repo MandateRepository, opts ...Option) *MandateService {
	s := &MandateService{
		repo:   repo,
		locker: noopLocker{},
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateMandateInput describes a new mandate. AmountLimit is required for
// multi-use mandates and ignored for single-use ones.
type CreateMandateInput struct {
	AccountID       string
	Live            bool
	Type            domain.MandateType
	AmountLimit     *amount.PositiveAmount
	UsageCountLimit *int64
	ExpiresAt       *time.Time
}

// CreatePaymentMandate stores a new active mandate.
func (s *MandateService) CreatePaymentMandate(ctx context.Context, in CreateMandateInput) (domain.PaymentMandate, error) {
	now := s.now()

	if in.AccountID == "" {
		return domain.PaymentMandate{}, fmt.Errorf("%w: account is required", ErrInvalidMandate)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return domain.PaymentMandate{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidMandate)
	}

	var details domain.MandateDetails
	switch in.Type {
	case domain.MandateSingleUse:
		details = domain.SingleUse{}
	case domain.MandateMultiUse:
		if in.AmountLimit == nil || in.AmountLimit.IsZero() {
			return domain.PaymentMandate{}, fmt.Errorf("%w: amount_limit must be greater than zero", ErrInvalidMandate)
		}
		if in.UsageCountLimit != nil && *in.UsageCountLimit < 1 {
			return domain.PaymentMandate{}, fmt.Errorf("%w: usage_count_limit must be at least 1", ErrInvalidMandate)
		}
		details = domain.MultiUse{AmountLimit: *in.AmountLimit, UsageCountLimit: in.UsageCountLimit}
	default:
		return domain.PaymentMandate{}, fmt.Errorf("%w: %w %q", ErrInvalidMandate, domain.ErrUnknownMandateType, in.Type)
	}

	m := domain.PaymentMandate{
		ID:        uuid.NewString(),
		Secret:    SecretPrefix + uuid.NewString(),
		Live:      in.Live,
		AccountID: in.AccountID,
		Status:    domain.MandateActive,
		Details:   details,
		CreatedAt: now,
		ExpiresAt: in.ExpiresAt,
	}

	created, err := s.repo.CreateMandate(ctx, m)
	if err != nil {
		return domain.PaymentMandate{}, fmt.Errorf("create mandate: %w", err)
	}

	s.logger.Info("payment mandate created",
		zap.String("mandate_id", created.ID),
		zap.String("account_id", created.AccountID),
		zap.Bool("live", created.Live),
		zap.String("type", string(created.Type())),
	)
	return created, nil
}

// ListPaymentMandates returns the account's mandates, first moving every
// active mandate whose expiry has passed to inactive/expired. The expiry
// writes go out as one batch; a mandate that is already inactive is never
// rewritten, so repeating the sweep converges after partial failures.
func (s *MandateService) ListPaymentMandates(ctx context.Context, accountID string, live bool, opts store.ListOptions) ([]domain.PaymentMandate, error) {
	mandates, err := s.repo.ListMandates(ctx, accountID, live, opts)
	if err != nil {
		return nil, fmt.Errorf("list mandates: %w", err)
	}

	now := s.now()
	var expired []domain.PaymentMandate
	index := map[string]int{}
	for i, m := range mandates {
		if m.IsExpired(now) {
			expired = append(expired, m.Deactivate(domain.InactiveExpired))
			index[m.ID] = i
		}
	}
	if len(expired) == 0 {
		return mandates, nil
	}

	saved, err := s.repo.SaveManyMandates(ctx, expired)
	for _, m := range saved {
		mandates[index[m.ID]] = m
	}
	mandatesExpired.Add(float64(len(saved)))

	if err != nil {
		if !onlyConflicts(err) {
			s.logger.Error("expiry sweep partially failed",
				zap.String("account_id", accountID),
				zap.Bool("live", live),
				zap.Int("expired", len(expired)),
				zap.Int("saved", len(saved)),
				zap.Error(err),
			)
			return nil, fmt.Errorf("expire mandates: %w", err)
		}
		// Another writer got there first; its state is authoritative.
		s.logger.Warn("expiry sweep lost a race, reloading",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		mandates, err = s.repo.ListMandates(ctx, accountID, live, opts)
		if err != nil {
			return nil, fmt.Errorf("list mandates: %w", err)
		}
	}

	s.logger.Info("expired payment mandates",
		zap.String("account_id", accountID),
		zap.Bool("live", live),
		zap.Int("count", len(saved)),
	)
	return mandates, nil
}

// GetPaymentMandate loads one mandate, applying the same lazy expiry as
// ListPaymentMandates.
func (s *MandateService) GetPaymentMandate(ctx context.Context, accountID string, live bool, idOrSecret string) (domain.PaymentMandate, bool, error) {
	m, err := s.repo.LoadMandate(ctx, accountID, live, idOrSecret)
	if err != nil {
		return domain.PaymentMandate{}, false, fmt.Errorf("load mandate: %w", err)
	}
	if m == nil {
		return domain.PaymentMandate{}, false, nil
	}
	if m.IsExpired(s.now()) {
		current, err := s.expire(ctx, *m)
		if err != nil {
			return domain.PaymentMandate{}, false, err
		}
		return current, true, nil
	}
	return *m, true, nil
}

// RevokePaymentMandate moves an active mandate to inactive/revoked. A
// missing mandate yields found=false and no error. A mandate that is not
// active yields a *domain.MandateInactiveError carrying its reason, so a
// retried revoke reports "already revoked" instead of succeeding twice.
func (s *MandateService) RevokePaymentMandate(ctx context.Context, accountID string, live bool, idOrSecret string) (domain.PaymentMandate, bool, error) {
	var (
		revoked domain.PaymentMandate
		found   bool
	)

	err := s.withMandate(ctx, accountID, live, idOrSecret, func(ctx context.Context, m domain.PaymentMandate) error {
		found = true
		if err := s.requireActive(ctx, m); err != nil {
			return err
		}
		saved, err := s.save(ctx, m.Deactivate(domain.InactiveRevoked))
		if err != nil {
			return err
		}
		revoked = saved
		return nil
	})

	var inactive *domain.MandateInactiveError
	switch {
	case err == nil && found:
		mandateRevocations.WithLabelValues("revoked").Inc()
		s.logger.Info("payment mandate revoked",
			zap.String("mandate_id", revoked.ID),
			zap.String("account_id", accountID),
			zap.Bool("live", live),
		)
	case errors.As(err, &inactive):
		mandateRevocations.WithLabelValues("already_" + string(inactive.Reason)).Inc()
	case err != nil:
		mandateRevocations.WithLabelValues("error").Inc()
	}

	if err != nil {
		return domain.PaymentMandate{}, found, err
	}
	return revoked, found, nil
}

// UsePaymentMandate is the guarded path around UseValidPaymentMandate. Under
// the mandate's lock it re-reads the mandate, checks it is active and
// unexpired, checks the amount fits the remaining limit, applies the usage
// transition and saves it with compare-and-swap. If another writer saved the
// mandate in between, ErrMandateConflict is returned and nothing is applied.
func (s *MandateService) UsePaymentMandate(ctx context.Context, accountID string, live bool, idOrSecret string, amt amount.Amount) (domain.PaymentMandate, bool, error) {
	if amt.IsZero() {
		return domain.PaymentMandate{}, false, ErrZeroAmount
	}

	var (
		used    domain.PaymentMandate
		variant domain.MandateType
		found   bool
	)

	err := s.withMandate(ctx, accountID, live, idOrSecret, func(ctx context.Context, m domain.PaymentMandate) error {
		found = true
		variant = m.Type()
		if err := s.requireActive(ctx, m); err != nil {
			return err
		}
		if multi, ok := m.Details.(domain.MultiUse); ok {
			if amount.MapAmount(&amt, false).GreaterThan(multi.RemainingAmount()) {
				return fmt.Errorf("%w: requested %s, remaining %s", ErrAmountLimitExceeded, amount.MapAmount(&amt, false), multi.RemainingAmount())
			}
		}
		saved, err := s.save(ctx, UseValidPaymentMandate(amt, m, s.now()))
		if err != nil {
			return err
		}
		used = saved
		return nil
	})

	outcome := "used"
	if err != nil {
		outcome = "rejected"
	}
	if found {
		mandateUsages.WithLabelValues(string(variant), outcome).Inc()
	}
	if err != nil {
		return domain.PaymentMandate{}, found, err
	}

	s.logger.Info("payment mandate used",
		zap.String("mandate_id", used.ID),
		zap.String("account_id", accountID),
		zap.Bool("live", live),
		zap.String("amount", amount.MapAmount(&amt, false).String()),
		zap.String("status", string(used.Status)),
	)
	return used, true, nil
}

// withMandate resolves idOrSecret to a mandate id, takes the mandate's lock
// and runs fn against a fresh read made under that lock. fn is not called
// when the mandate does not exist.
func (s *MandateService) withMandate(ctx context.Context, accountID string, live bool, idOrSecret string, fn func(context.Context, domain.PaymentMandate) error) error {
	m, err := s.repo.LoadMandate(ctx, accountID, live, idOrSecret)
	if err != nil {
		return fmt.Errorf("load mandate: %w", err)
	}
	if m == nil {
		return nil
	}

	return s.locker.WithLock(ctx, lockKey(*m), func(ctx context.Context) error {
		current, err := s.repo.LoadMandate(ctx, accountID, live, m.ID)
		if err != nil {
			return fmt.Errorf("load mandate: %w", err)
		}
		if current == nil {
			return nil
		}
		return fn(ctx, *current)
	})
}

// requireActive fails with *domain.MandateInactiveError unless m is active
// and unexpired. An expired mandate is persisted as such on the way out.
func (s *MandateService) requireActive(ctx context.Context, m domain.PaymentMandate) error {
	if m.IsExpired(s.now()) {
		current, err := s.expire(ctx, m)
		if err != nil {
			return err
		}
		reason := current.InactiveReason
		if current.IsActive() {
			reason = domain.InactiveExpired
		}
		return &domain.MandateInactiveError{MandateID: m.ID, Reason: reason}
	}
	if !m.IsActive() {
		return &domain.MandateInactiveError{MandateID: m.ID, Reason: m.InactiveReason}
	}
	return nil
}

// expire persists the expiry transition. Losing the race to another writer
// is fine: the stored state is reloaded and returned.
func (s *MandateService) expire(ctx context.Context, m domain.PaymentMandate) (domain.PaymentMandate, error) {
	saved, err := s.repo.SaveMandate(ctx, m.Deactivate(domain.InactiveExpired))
	if err == nil {
		mandatesExpired.Inc()
		return saved, nil
	}
	if !errors.Is(err, store.ErrConflict) {
		return domain.PaymentMandate{}, fmt.Errorf("expire mandate: %w", err)
	}
	current, err := s.repo.LoadMandate(ctx, m.AccountID, m.Live, m.ID)
	if err != nil {
		return domain.PaymentMandate{}, fmt.Errorf("load mandate: %w", err)
	}
	if current == nil {
		return m.Deactivate(domain.InactiveExpired), nil
	}
	return *current, nil
}

func (s *MandateService) save(ctx context.Context, m domain.PaymentMandate) (domain.PaymentMandate, error) {
	saved, err := s.repo.SaveMandate(ctx, m)
	if errors.Is(err, store.ErrConflict) {
		s.logger.Warn("payment mandate write lost compare-and-swap",
			zap.String("mandate_id", m.ID),
			zap.Int64("version", m.Version),
		)
		return domain.PaymentMandate{}, fmt.Errorf("%w: %s", ErrMandateConflict, m.ID)
	}
	if err != nil {
		return domain.PaymentMandate{}, fmt.Errorf("save mandate: %w", err)
	}
	return saved, nil
}

func lockKey(m domain.PaymentMandate) string {
	return "lock:payment_mandate:" + strconv.FormatBool(m.Live) + ":" + m.ID
}

func onlyConflicts(err error) bool {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			if !errors.Is(e, store.ErrConflict) {
				return false
			}
		}
		return true
	}
	return errors.Is(err, store.ErrConflict)
}

// SweepExpiredMandates runs the list sweep for every account in the namespace
// that still holds an active mandate past its expiry. It returns the accounts
// that were swept; failures for one account do not stop the others.
func (s *MandateService) SweepExpiredMandates(ctx context.Context, live bool) ([]string, error) {
	accounts, err := s.repo.ListAccountsWithExpiredMandates(ctx, live, s.now())
	if err != nil {
		return nil, fmt.Errorf("list accounts with expired mandates: %w", err)
	}

	var swept []string
	var errs []error
	for _, accountID := range accounts {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, err := s.ListPaymentMandates(ctx, accountID, live, store.ListOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", accountID, err))
			continue
		}
		swept = append(swept, accountID)
	}
	return swept, errors.Join(errs...)
}
