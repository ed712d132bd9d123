package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/mandates/internal/amount"
	"github.com/punchamoorthee/mandates/internal/domain"
	"github.com/punchamoorthee/mandates/internal/service"
	"github.com/punchamoorthee/mandates/internal/store"
)

type repository interface {
	service.MandateRepository
	service.CaptureRepository
}

var (
	_ repository = (*store.Bolt)(nil)
	_ repository = (*store.Postgres)(nil)
)

var base = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func newMandate(id, account string, created time.Time, details domain.MandateDetails) domain.PaymentMandate {
	return domain.PaymentMandate{
		ID:        id,
		Secret:    "pm_secret_" + id,
		AccountID: account,
		Status:    domain.MandateActive,
		Details:   details,
		CreatedAt: created,
	}
}

func multi(limit string) domain.MultiUse {
	return domain.MultiUse{AmountLimit: amount.MustParsePositive(limit)}
}

// testRepository exercises the behaviour every backend must share.
func testRepository(t *testing.T, newRepo func(t *testing.T) repository) {
	ctx := context.Background()

	t.Run("create and load by id or secret", func(t *testing.T) {
		repo := newRepo(t)
		limit := int64(3)
		expires := base.Add(48 * time.Hour)
		m := newMandate("pm_1", "acct_1", base, domain.MultiUse{
			AmountLimit:     amount.MustParsePositive("250.75"),
			UsageCountLimit: &limit,
		})
		m.ExpiresAt = &expires

		created, err := repo.CreateMandate(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)

		for _, key := range []string{"pm_1", "pm_secret_pm_1"} {
			got, err := repo.LoadMandate(ctx, "acct_1", false, key)
			require.NoError(t, err)
			require.NotNil(t, got, key)
			assert.Equal(t, "pm_1", got.ID)
			assert.Equal(t, domain.MandateMultiUse, got.Type())
			details := got.Details.(domain.MultiUse)
			assert.Equal(t, "250.75", details.AmountLimit.String())
			require.NotNil(t, details.UsageCountLimit)
			assert.Equal(t, int64(3), *details.UsageCountLimit)
			require.NotNil(t, got.ExpiresAt)
			assert.True(t, got.ExpiresAt.Equal(expires))
			assert.True(t, got.CreatedAt.Equal(base))
		}

		got, err := repo.LoadMandate(ctx, "acct_2", false, "pm_1")
		require.NoError(t, err)
		assert.Nil(t, got, "other accounts cannot see the mandate")

		got, err = repo.LoadMandate(ctx, "acct_1", true, "pm_1")
		require.NoError(t, err)
		assert.Nil(t, got, "live namespace is separate from test")

		got, err = repo.LoadMandate(ctx, "acct_1", false, "pm_missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("duplicate create is rejected", func(t *testing.T) {
		repo := newRepo(t)
		m := newMandate("pm_dup", "acct_1", base, domain.SingleUse{})
		_, err := repo.CreateMandate(ctx, m)
		require.NoError(t, err)

		_, err = repo.CreateMandate(ctx, m)
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("save is a compare-and-swap on version", func(t *testing.T) {
		repo := newRepo(t)
		created, err := repo.CreateMandate(ctx, newMandate("pm_cas", "acct_1", base, domain.SingleUse{}))
		require.NoError(t, err)

		usedAt := base.Add(time.Hour)
		usedAmount := amount.MustParsePositive("12.5")
		used := created.Deactivate(domain.InactiveUsed)
		used.Details = domain.SingleUse{UsedAmount: &usedAmount}
		used.UsedAt = &usedAt

		saved, err := repo.SaveMandate(ctx, used)
		require.NoError(t, err)
		assert.Equal(t, int64(2), saved.Version)

		_, err = repo.SaveMandate(ctx, created.Deactivate(domain.InactiveRevoked))
		assert.ErrorIs(t, err, store.ErrConflict, "stale version must not overwrite")

		got, err := repo.LoadMandate(ctx, "acct_1", false, "pm_cas")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.InactiveUsed, got.InactiveReason)
		assert.Equal(t, int64(2), got.Version)
		single := got.Details.(domain.SingleUse)
		require.NotNil(t, single.UsedAmount)
		assert.Equal(t, "12.5", single.UsedAmount.String())
		require.NotNil(t, got.UsedAt)
		assert.True(t, got.UsedAt.Equal(usedAt))
	})

	t.Run("save many reports each failure", func(t *testing.T) {
		repo := newRepo(t)
		a, err := repo.CreateMandate(ctx, newMandate("pm_a", "acct_1", base, multi("10")))
		require.NoError(t, err)
		b, err := repo.CreateMandate(ctx, newMandate("pm_b", "acct_1", base, multi("10")))
		require.NoError(t, err)

		stale := b
		stale.Version = 7

		saved, err := repo.SaveManyMandates(ctx, []domain.PaymentMandate{
			a.Deactivate(domain.InactiveExpired),
			stale.Deactivate(domain.InactiveExpired),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrConflict)
		require.Len(t, saved, 1)
		assert.Equal(t, "pm_a", saved[0].ID)

		got, err := repo.LoadMandate(ctx, "acct_1", false, "pm_b")
		require.NoError(t, err)
		assert.True(t, got.IsActive())
	})

	t.Run("list filters by account and creation window", func(t *testing.T) {
		repo := newRepo(t)
		for i, id := range []string{"pm_old", "pm_mid", "pm_new"} {
			_, err := repo.CreateMandate(ctx, newMandate(id, "acct_1", base.Add(time.Duration(i)*time.Hour), domain.SingleUse{}))
			require.NoError(t, err)
		}
		_, err := repo.CreateMandate(ctx, newMandate("pm_other", "acct_2", base, domain.SingleUse{}))
		require.NoError(t, err)

		all, err := repo.ListMandates(ctx, "acct_1", false, store.ListOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"pm_new", "pm_mid", "pm_old"}, ids(all))

		from, to := base.Add(time.Hour), base.Add(2*time.Hour)
		window, err := repo.ListMandates(ctx, "acct_1", false, store.ListOptions{From: &from, To: &to})
		require.NoError(t, err)
		assert.Equal(t, []string{"pm_mid"}, ids(window))

		live, err := repo.ListMandates(ctx, "acct_1", true, store.ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, live)
	})

	t.Run("accounts with expired mandates", func(t *testing.T) {
		repo := newRepo(t)
		past := base.Add(-time.Hour)
		future := base.Add(time.Hour)

		expiring := newMandate("pm_exp", "acct_b", base.Add(-2*time.Hour), domain.SingleUse{})
		expiring.ExpiresAt = &past
		fresh := newMandate("pm_fresh", "acct_a", base.Add(-2*time.Hour), domain.SingleUse{})
		fresh.ExpiresAt = &future
		revoked := newMandate("pm_rev", "acct_c", base.Add(-2*time.Hour), domain.SingleUse{}).Deactivate(domain.InactiveRevoked)
		revoked.ExpiresAt = &past

		for _, m := range []domain.PaymentMandate{expiring, fresh, revoked} {
			_, err := repo.CreateMandate(ctx, m)
			require.NoError(t, err)
		}

		accounts, err := repo.ListAccountsWithExpiredMandates(ctx, false, base)
		require.NoError(t, err)
		assert.Equal(t, []string{"acct_b"}, accounts)

		accounts, err = repo.ListAccountsWithExpiredMandates(ctx, true, base)
		require.NoError(t, err)
		assert.Empty(t, accounts)
	})

	t.Run("captures and transactions", func(t *testing.T) {
		repo := newRepo(t)
		capture := domain.PaymentCapture{
			ID: "cap_1", AccountID: "acct_1", PaymentMandateID: "pm_1",
			Amount: amount.MustParsePositive("20"), Currency: "USDC",
			Status: domain.CapturePending, CreatedAt: base,
		}
		require.NoError(t, repo.SaveCapture(ctx, capture))

		ref := "0xabc"
		tx := domain.Transaction{
			ID: "tx_1", AccountID: "acct_1", CaptureID: "cap_1",
			Type: domain.TransactionPayment, Status: domain.TransactionQueued,
			Amount: amount.MustParse("20"), Currency: "USDC",
			Fees:            []domain.Fee{{Type: "network", Amount: amount.MustParsePositive("0.01"), Currency: "USDC"}},
			SourceAccountID: "acct_1", BlockchainRef: &ref,
			Fingerprint: "fp_1", CreatedAt: base,
		}
		require.NoError(t, repo.RecordTransaction(ctx, tx))

		finished := base.Add(time.Minute)
		tx.Status = domain.TransactionCompleted
		tx.FinishedAt = &finished
		require.NoError(t, repo.RecordTransaction(ctx, tx))

		txs, err := repo.ListCaptureTransactions(ctx, "acct_1", false, "cap_1")
		require.NoError(t, err)
		require.Len(t, txs, 1, "recording the same id again updates it")
		assert.Equal(t, domain.TransactionCompleted, txs[0].Status)
		require.Len(t, txs[0].Fees, 1)
		assert.Equal(t, "0.01", txs[0].Fees[0].Amount.String())
		assert.Equal(t, "acct_1", txs[0].SourceAccountID)
		assert.Empty(t, txs[0].DestinationAccountID)

		capture.Status = domain.CaptureSucceeded
		capture.FinishedAt = &finished
		require.NoError(t, repo.SaveCapture(ctx, capture))

		got, err := repo.LoadCapture(ctx, "acct_1", false, "cap_1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.CaptureSucceeded, got.Status)
		assert.Equal(t, "pm_1", got.PaymentMandateID)
		assert.Equal(t, "20", got.Amount.String())
		require.NotNil(t, got.FinishedAt)
		assert.True(t, got.FinishedAt.Equal(finished))

		got, err = repo.LoadCapture(ctx, "acct_2", false, "cap_1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("upserts never move a record to another account", func(t *testing.T) {
		repo := newRepo(t)
		capture := domain.PaymentCapture{
			ID: "cap_owned", AccountID: "acct_1",
			Amount: amount.MustParsePositive("5"), Currency: "USDC",
			Status: domain.CapturePending, CreatedAt: base,
		}
		require.NoError(t, repo.SaveCapture(ctx, capture))
		tx := domain.Transaction{
			ID: "tx_owned", AccountID: "acct_1", CaptureID: "cap_owned",
			Type: domain.TransactionPayment, Status: domain.TransactionQueued,
			Amount: amount.MustParse("5"), Currency: "USDC",
			Fingerprint: "fp_owned", CreatedAt: base,
		}
		require.NoError(t, repo.RecordTransaction(ctx, tx))

		hijack := tx
		hijack.AccountID = "acct_2"
		hijack.Status = domain.TransactionFailed
		err := repo.RecordTransaction(ctx, hijack)
		require.ErrorIs(t, err, store.ErrOwnerMismatch)

		stolen := capture
		stolen.AccountID = "acct_2"
		stolen.Status = domain.CaptureFailed
		err = repo.SaveCapture(ctx, stolen)
		require.ErrorIs(t, err, store.ErrOwnerMismatch)

		txs, err := repo.ListCaptureTransactions(ctx, "acct_1", false, "cap_owned")
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, domain.TransactionQueued, txs[0].Status)

		txs, err = repo.ListCaptureTransactions(ctx, "acct_2", false, "cap_owned")
		require.NoError(t, err)
		assert.Empty(t, txs)

		got, err := repo.LoadCapture(ctx, "acct_1", false, "cap_owned")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.CapturePending, got.Status)

		got, err = repo.LoadCapture(ctx, "acct_2", false, "cap_owned")
		require.NoError(t, err)
		assert.Nil(t, got)

		// The owner can still update its own records.
		tx.Status = domain.TransactionCompleted
		require.NoError(t, repo.RecordTransaction(ctx, tx))
	})

	t.Run("delete account data", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.CreateMandate(ctx, newMandate("pm_x", "acct_1", base, domain.SingleUse{}))
		require.NoError(t, err)
		_, err = repo.CreateMandate(ctx, newMandate("pm_y", "acct_2", base, domain.SingleUse{}))
		require.NoError(t, err)
		require.NoError(t, repo.SaveCapture(ctx, domain.PaymentCapture{
			ID: "cap_x", AccountID: "acct_1", Amount: amount.MustParsePositive("1"),
			Currency: "USDC", Status: domain.CapturePending, CreatedAt: base,
		}))

		n, err := repo.DeleteAccountMandates(ctx, "acct_1", false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = repo.DeleteAccountCaptures(ctx, "acct_1", false)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := repo.LoadMandate(ctx, "acct_1", false, "pm_secret_pm_x")
		require.NoError(t, err)
		assert.Nil(t, got)
		other, err := repo.LoadMandate(ctx, "acct_2", false, "pm_y")
		require.NoError(t, err)
		assert.NotNil(t, other)

		_, err = repo.CreateMandate(ctx, newMandate("pm_x", "acct_1", base, domain.SingleUse{}))
		assert.NoError(t, err, "secret is free again after erasure")
	})
}

func ids(ms []domain.PaymentMandate) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}
