package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/mandates/internal/amount"
	"github.com/punchamoorthee/mandates/internal/domain"
)

func TestMandateIsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	active := domain.PaymentMandate{Status: domain.MandateActive, Details: domain.SingleUse{}}

	assert.False(t, active.IsExpired(now), "no expiry set")

	active.ExpiresAt = &future
	assert.False(t, active.IsExpired(now))

	active.ExpiresAt = &past
	assert.True(t, active.IsExpired(now))

	used := active.Deactivate(domain.InactiveUsed)
	assert.False(t, used.IsExpired(now), "inactive mandates are never reported as expired")
	assert.Equal(t, domain.MandateActive, active.Status, "Deactivate must not touch the receiver")
}

func TestMandateJSONKeepsVariant(t *testing.T) {
	limit := int64(3)
	m := domain.PaymentMandate{
		ID:        "pm_1",
		AccountID: "acct_1",
		Live:      true,
		Status:    domain.MandateActive,
		CreatedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		Details: domain.MultiUse{
			AmountLimit:     amount.MustParsePositive("100.00"),
			UsageCountLimit: &limit,
			TotalUsedAmount: amount.MustParsePositive("30"),
			TotalUsedCount:  1,
		},
		Version: 4,
	}

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"multi_use"`)
	assert.Contains(t, string(raw), `"amount_limit":"100"`)

	var decoded domain.PaymentMandate
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, domain.MandateMultiUse, decoded.Type())
	multi := decoded.Details.(domain.MultiUse)
	assert.Equal(t, "30", multi.TotalUsedAmount.String())
	assert.Equal(t, int64(3), *multi.UsageCountLimit)
	assert.Equal(t, int64(4), decoded.Version)

	var bad domain.PaymentMandate
	err = json.Unmarshal([]byte(`{"id":"x","type":"recurring"}`), &bad)
	assert.ErrorIs(t, err, domain.ErrUnknownMandateType)

	_, err = json.Marshal(domain.PaymentMandate{ID: "y"})
	assert.Error(t, err)
}

func TestMultiUseRemainingAmount(t *testing.T) {
	m := domain.MultiUse{AmountLimit: amount.MustParsePositive("10"), TotalUsedAmount: amount.MustParsePositive("7.5")}
	assert.Equal(t, "2.5", m.RemainingAmount().String())

	m.TotalUsedAmount = amount.MustParsePositive("12")
	assert.Equal(t, "0", m.RemainingAmount().String())
}

func TestMoneyAdd(t *testing.T) {
	a := domain.Money{Amount: amount.MustParse("1.10"), Currency: "USDC"}
	b := domain.Money{Amount: amount.MustParse("2.20"), Currency: "USDC"}

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "3.3 USDC", sum.String())

	_, err = a.Add(domain.Money{Amount: amount.MustParse("1"), Currency: "EURC"})
	assert.ErrorIs(t, err, domain.ErrCurrencyMismatch)
}

func TestAggregateBalances(t *testing.T) {
	txs := []domain.Transaction{
		{Status: domain.TransactionCompleted, Amount: amount.MustParse("100"), Currency: "USDC", DestinationAccountID: "alice", SourceAccountID: "bob"},
		{Status: domain.TransactionCompleted, Amount: amount.MustParse("-30.25"), Currency: "USDC", SourceAccountID: "alice", DestinationAccountID: "carol",
			Fees: []domain.Fee{{Type: "network", Amount: amount.MustParsePositive("0.01"), Currency: "USDC"}}},
		{Status: domain.TransactionFailed, Amount: amount.MustParse("500"), Currency: "USDC", DestinationAccountID: "alice"},
		{Status: domain.TransactionCompleted, Amount: amount.MustParse("5"), Currency: "EURC", DestinationAccountID: "alice"},
	}

	balances := domain.AggregateBalances("alice", txs)
	require.Len(t, balances, 2)
	assert.Equal(t, "EURC", balances[0].Currency)
	assert.Equal(t, "5", balances[0].Amount.String())
	assert.Equal(t, "USDC", balances[1].Currency)
	assert.Equal(t, "69.74", balances[1].Amount.String())

	assert.Empty(t, domain.AggregateBalances("nobody", txs))
}

func TestMandateInactiveErrorMessage(t *testing.T) {
	err := &domain.MandateInactiveError{MandateID: "pm_9", Reason: domain.InactiveRevoked}
	assert.Equal(t, "payment mandate pm_9 already revoked", err.Error())
}

func TestTransactionEnumsValid(t *testing.T) {
	for _, s := range []domain.TransactionStatus{
		domain.TransactionQueued, domain.TransactionSent, domain.TransactionConfirmed,
		domain.TransactionCompleted, domain.TransactionFailed, domain.TransactionCanceled,
	} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, domain.TransactionStatus("settled").Valid())
	assert.False(t, domain.TransactionStatus("").Valid())

	assert.True(t, domain.TransactionPayment.Valid())
	assert.True(t, domain.TransactionFee.Valid())
	assert.False(t, domain.TransactionType("refund").Valid())
}
