package domain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/punchamoorthee/mandates/internal/amount"
)

var ErrCurrencyMismatch = errors.New("currency mismatch")

// Money is an amount tagged with its currency.
type Money struct {
	Amount   amount.Amount `json:"amount"`
	Currency string        `json:"currency"`
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

func (m Money) String() string {
	return m.Amount.String() + " " + m.Currency
}

// Balance is the net position of one holder in one currency.
type Balance struct {
	Holder   string        `json:"holder"`
	Currency string        `json:"currency"`
	Amount   amount.Amount `json:"amount"`
}

// AggregateBalances folds completed transactions into per-currency balances
// for holder. Incoming transfers credit the holder; outgoing transfers debit
// it together with their fees. Results are ordered by currency.
func AggregateBalances(holder string, txs []Transaction) []Balance {
	totals := map[string]amount.Amount{}

	for _, tx := range txs {
		if tx.Status != TransactionCompleted {
			continue
		}
		value := tx.Amount.Abs()
		if tx.DestinationAccountID == holder {
			totals[tx.Currency] = totals[tx.Currency].Add(value)
		}
		if tx.SourceAccountID == holder {
			totals[tx.Currency] = totals[tx.Currency].Sub(value)
			for _, fee := range tx.Fees {
				totals[fee.Currency] = totals[fee.Currency].Sub(fee.Amount.Amount())
			}
		}
	}

	balances := make([]Balance, 0, len(totals))
	for currency, total := range totals {
		balances = append(balances, Balance{Holder: holder, Currency: currency, Amount: total})
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Currency < balances[j].Currency })
	return balances
}
