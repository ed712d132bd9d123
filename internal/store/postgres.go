package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/mandates/internal/amount"
	"github.com/punchamoorthee/mandates/internal/domain"
)

const uniqueViolation = "23505"

const mandateColumns = `id, secret, live, account_id, status, inactive_reason, type,
	used_amount, amount_limit, usage_count_limit, total_used_amount, total_used_count,
	created_at, expires_at, used_at, version`

const captureColumns = `id, live, account_id, payment_mandate_id, amount, currency, status,
	failure_reason, created_at, failed_at, finished_at`

const transactionColumns = `id, live, account_id, capture_id, type, status, amount, currency, fees,
	source_account_id, destination_account_id, blockchain_ref, processor_ref, fingerprint,
	failure_reason, cancellation_reason, created_at, failed_at, canceled_at, finished_at`

// Postgres stores mandates, captures and transactions in PostgreSQL.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{db: pool}, nil
}

func (s *Postgres) Close() {
	s.db.Close()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// CountMandates counts mandates across both namespaces.
func (s *Postgres) CountMandates(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM payment_mandates").Scan(&n)
	return n, err
}

// LoadMandate finds a mandate by id or secret within one account namespace.
func (s *Postgres) LoadMandate(ctx context.Context, accountID string, live bool, idOrSecret string) (*domain.PaymentMandate, error) {
	row := s.db.QueryRow(ctx,
		"SELECT "+mandateColumns+" FROM payment_mandates WHERE account_id = $1 AND live = $2 AND (id = $3 OR secret = $3)",
		accountID, live, idOrSecret)
	m, err := scanMandate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Postgres) CreateMandate(ctx context.Context, m domain.PaymentMandate) (domain.PaymentMandate, error) {
	m.Version = 1
	_, err := s.db.Exec(ctx,
		"INSERT INTO payment_mandates ("+mandateColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)",
		mandateArgs(m)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.PaymentMandate{}, ErrDuplicate
		}
		return domain.PaymentMandate{}, fmt.Errorf("insert mandate: %w", err)
	}
	return m, nil
}

// SaveMandate writes m only if the stored version still equals m.Version.
func (s *Postgres) SaveMandate(ctx context.Context, m domain.PaymentMandate) (domain.PaymentMandate, error) {
	return saveMandate(ctx, s.db, m)
}

// SaveManyMandates writes each mandate in its own statement so that one
// failure does not roll back the others.
func (s *Postgres) SaveManyMandates(ctx context.Context, ms []domain.PaymentMandate) ([]domain.PaymentMandate, error) {
	var (
		saved []domain.PaymentMandate
		errs  []error
	)
	for _, m := range ms {
		out, err := saveMandate(ctx, s.db, m)
		if err != nil {
			errs = append(errs, fmt.Errorf("mandate %s: %w", m.ID, err))
			continue
		}
		saved = append(saved, out)
	}
	return saved, errors.Join(errs...)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func saveMandate(ctx context.Context, q querier, m domain.PaymentMandate) (domain.PaymentMandate, error) {
	args := mandateArgs(m)
	var version int64
	err := q.QueryRow(ctx, `
		UPDATE payment_mandates SET
			status = $3, inactive_reason = $4,
			used_amount = $5, amount_limit = $6, usage_count_limit = $7,
			total_used_amount = $8, total_used_count = $9,
			expires_at = $10, used_at = $11, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version`,
		m.ID, m.Version, args[4], args[5], args[7], args[8], args[9], args[10], args[11], m.ExpiresAt, m.UsedAt,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentMandate{}, ErrConflict
	}
	if err != nil {
		return domain.PaymentMandate{}, fmt.Errorf("update mandate: %w", err)
	}
	m.Version = version
	return m, nil
}

// ListMandates returns the account's mandates, newest first.
func (s *Postgres) ListMandates(ctx context.Context, accountID string, live bool, opts ListOptions) ([]domain.PaymentMandate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+mandateColumns+` FROM payment_mandates
		WHERE account_id = $1 AND live = $2
			AND ($3::timestamptz IS NULL OR created_at >= $3)
			AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at DESC, id`,
		accountID, live, opts.From, opts.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mandates []domain.PaymentMandate
	for rows.Next() {
		m, err := scanMandate(rows)
		if err != nil {
			return nil, err
		}
		mandates = append(mandates, m)
	}
	return mandates, rows.Err()
}

func (s *Postgres) ListAccountsWithExpiredMandates(ctx context.Context, live bool, now time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT account_id FROM payment_mandates
		WHERE live = $1 AND status = 'active' AND expires_at < $2
		ORDER BY account_id`,
		live, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Postgres) DeleteAccountMandates(ctx context.Context, accountID string, live bool) (int, error) {
	tag, err := s.db.Exec(ctx, "DELETE FROM payment_mandates WHERE account_id = $1 AND live = $2", accountID, live)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CopyMandates bulk-loads mandates with COPY. Versions start at 1.
func (s *Postgres) CopyMandates(ctx context.Context, ms []domain.PaymentMandate) (int64, error) {
	rows := make([][]any, 0, len(ms))
	for _, m := range ms {
		m.Version = 1
		row := mandateArgs(m)
		// COPY is binary only; numerics go through pgtype rather than the
		// text Valuer.
		for _, i := range []int{7, 8, 10} {
			row[i] = numeric(row[i].(*amount.PositiveAmount))
		}
		rows = append(rows, row)
	}
	return s.db.CopyFrom(ctx,
		pgx.Identifier{"payment_mandates"},
		[]string{
			"id", "secret", "live", "account_id", "status", "inactive_reason", "type",
			"used_amount", "amount_limit", "usage_count_limit", "total_used_amount", "total_used_count",
			"created_at", "expires_at", "used_at", "version",
		},
		pgx.CopyFromRows(rows))
}

func (s *Postgres) LoadCapture(ctx context.Context, accountID string, live bool, captureID string) (*domain.PaymentCapture, error) {
	var (
		c         domain.PaymentCapture
		mandateID *string
		status    string
	)
	err := s.db.QueryRow(ctx,
		"SELECT "+captureColumns+" FROM payment_captures WHERE id = $1 AND account_id = $2 AND live = $3",
		captureID, accountID, live).Scan(
		&c.ID, &c.Live, &c.AccountID, &mandateID, &c.Amount, &c.Currency, &status,
		&c.FailureReason, &c.CreatedAt, &c.FailedAt, &c.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.PaymentMandateID = deref(mandateID)
	c.Status = domain.CaptureStatus(status)
	return &c, nil
}

// SaveCapture inserts the capture or overwrites its reconciled fields.
func (s *Postgres) SaveCapture(ctx context.Context, c domain.PaymentCapture) error {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO payment_captures (`+captureColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason,
			failed_at = EXCLUDED.failed_at,
			finished_at = EXCLUDED.finished_at
		WHERE payment_captures.account_id = EXCLUDED.account_id
			AND payment_captures.live = EXCLUDED.live`,
		c.ID, c.Live, c.AccountID, nullString(c.PaymentMandateID), c.Amount, c.Currency, string(c.Status),
		c.FailureReason, createdAt(c.CreatedAt), c.FailedAt, c.FinishedAt)
	if err != nil {
		return fmt.Errorf("upsert capture: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("capture %s: %w", c.ID, ErrOwnerMismatch)
	}
	return nil
}

// RecordTransaction stores the latest known state of a settlement
// transaction.
func (s *Postgres) RecordTransaction(ctx context.Context, tx domain.Transaction) error {
	fees := tx.Fees
	if fees == nil {
		fees = []domain.Fee{}
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			fees = EXCLUDED.fees,
			blockchain_ref = EXCLUDED.blockchain_ref,
			processor_ref = EXCLUDED.processor_ref,
			failure_reason = EXCLUDED.failure_reason,
			cancellation_reason = EXCLUDED.cancellation_reason,
			failed_at = EXCLUDED.failed_at,
			canceled_at = EXCLUDED.canceled_at,
			finished_at = EXCLUDED.finished_at
		WHERE transactions.account_id = EXCLUDED.account_id
			AND transactions.live = EXCLUDED.live`,
		tx.ID, tx.Live, tx.AccountID, nullString(tx.CaptureID), string(tx.Type), string(tx.Status),
		tx.Amount, tx.Currency, fees,
		nullString(tx.SourceAccountID), nullString(tx.DestinationAccountID), tx.BlockchainRef, tx.ProcessorRef,
		tx.Fingerprint, tx.FailureReason, tx.CancellationReason,
		createdAt(tx.CreatedAt), tx.FailedAt, tx.CanceledAt, tx.FinishedAt)
	if err != nil {
		return fmt.Errorf("upsert transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrOwnerMismatch)
	}
	return nil
}

func (s *Postgres) ListCaptureTransactions(ctx context.Context, accountID string, live bool, captureID string) ([]domain.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE capture_id = $1 AND account_id = $2 AND live = $3
		ORDER BY created_at, id`,
		captureID, accountID, live)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var (
			tx                       domain.Transaction
			captureRef, source, dest *string
			typ, status              string
		)
		err := rows.Scan(
			&tx.ID, &tx.Live, &tx.AccountID, &captureRef, &typ, &status, &tx.Amount, &tx.Currency, &tx.Fees,
			&source, &dest, &tx.BlockchainRef, &tx.ProcessorRef, &tx.Fingerprint,
			&tx.FailureReason, &tx.CancellationReason, &tx.CreatedAt, &tx.FailedAt, &tx.CanceledAt, &tx.FinishedAt)
		if err != nil {
			return nil, err
		}
		tx.CaptureID = deref(captureRef)
		tx.SourceAccountID = deref(source)
		tx.DestinationAccountID = deref(dest)
		tx.Type = domain.TransactionType(typ)
		tx.Status = domain.TransactionStatus(status)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// DeleteAccountCaptures removes the account's captures together with their
// transactions.
func (s *Postgres) DeleteAccountCaptures(ctx context.Context, accountID string, live bool) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM transactions WHERE account_id = $1 AND live = $2", accountID, live); err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	tag, err := tx.Exec(ctx, "DELETE FROM payment_captures WHERE account_id = $1 AND live = $2", accountID, live)
	if err != nil {
		return 0, fmt.Errorf("delete captures: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("tx commit failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func mandateArgs(m domain.PaymentMandate) []any {
	var (
		usedAmount, amountLimit, totalUsed *amount.PositiveAmount
		countLimit, totalCount             *int64
	)
	switch d := m.Details.(type) {
	case domain.SingleUse:
		usedAmount = d.UsedAmount
	case domain.MultiUse:
		amountLimit = &d.AmountLimit
		countLimit = d.UsageCountLimit
		totalUsed = &d.TotalUsedAmount
		totalCount = &d.TotalUsedCount
	}
	return []any{
		m.ID, m.Secret, m.Live, m.AccountID, string(m.Status), nullString(string(m.InactiveReason)), string(m.Type()),
		usedAmount, amountLimit, countLimit, totalUsed, totalCount,
		createdAt(m.CreatedAt), m.ExpiresAt, m.UsedAt, m.Version,
	}
}

func scanMandate(row pgx.Row) (domain.PaymentMandate, error) {
	var (
		m                                  domain.PaymentMandate
		status, typ                        string
		reason                             *string
		usedAmount, amountLimit, totalUsed *amount.PositiveAmount
		countLimit, totalCount             *int64
	)
	err := row.Scan(
		&m.ID, &m.Secret, &m.Live, &m.AccountID, &status, &reason, &typ,
		&usedAmount, &amountLimit, &countLimit, &totalUsed, &totalCount,
		&m.CreatedAt, &m.ExpiresAt, &m.UsedAt, &m.Version)
	if err != nil {
		return domain.PaymentMandate{}, err
	}
	m.Status = domain.MandateStatus(status)
	m.InactiveReason = domain.InactiveReason(deref(reason))

	switch domain.MandateType(typ) {
	case domain.MandateSingleUse:
		m.Details = domain.SingleUse{UsedAmount: usedAmount}
	case domain.MandateMultiUse:
		multi := domain.MultiUse{UsageCountLimit: countLimit}
		if amountLimit != nil {
			multi.AmountLimit = *amountLimit
		}
		if totalUsed != nil {
			multi.TotalUsedAmount = *totalUsed
		}
		if totalCount != nil {
			multi.TotalUsedCount = *totalCount
		}
		m.Details = multi
	default:
		return domain.PaymentMandate{}, fmt.Errorf("mandate %s: %w: %q", m.ID, domain.ErrUnknownMandateType, typ)
	}
	return m, nil
}

func numeric(p *amount.PositiveAmount) pgtype.Numeric {
	if p == nil {
		return pgtype.Numeric{}
	}
	d := p.Decimal()
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
