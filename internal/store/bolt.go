package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/punchamoorthee/mandates/internal/domain"
)

var (
	bucketLive = []byte("live")
	bucketTest = []byte("test")

	bucketMandates     = []byte("payment_mandates")
	bucketSecrets      = []byte("payment_mandate_secrets")
	bucketCaptures     = []byte("payment_captures")
	bucketTransactions = []byte("transactions")
)

// Bolt keeps everything in a single BoltDB file. Live and test data live in
// separate top-level buckets so a lookup can never cross namespaces.
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens (or creates) the database at path and ensures every bucket
// exists.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, ns := range [][]byte{bucketLive, bucketTest} {
			root, err := tx.CreateBucketIfNotExists(ns)
			if err != nil {
				return err
			}
			for _, name := range [][]byte{bucketMandates, bucketSecrets, bucketCaptures, bucketTransactions} {
				if _, err := root.CreateBucketIfNotExists(name); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Bolt{db: db}, nil
}

func (s *Bolt) Close() error {
	return s.db.Close()
}

func namespace(tx *bolt.Tx, live bool, name []byte) *bolt.Bucket {
	ns := bucketTest
	if live {
		ns = bucketLive
	}
	return tx.Bucket(ns).Bucket(name)
}

func (s *Bolt) LoadMandate(_ context.Context, accountID string, live bool, idOrSecret string) (*domain.PaymentMandate, error) {
	var found *domain.PaymentMandate

	err := s.db.View(func(tx *bolt.Tx) error {
		mandates := namespace(tx, live, bucketMandates)
		v := mandates.Get([]byte(idOrSecret))
		if v == nil {
			if id := namespace(tx, live, bucketSecrets).Get([]byte(idOrSecret)); id != nil {
				v = mandates.Get(id)
			}
		}
		if v == nil {
			return nil
		}
		var m domain.PaymentMandate
		if err := json.Unmarshal(v, &m); err != nil {
			return err
		}
		if m.AccountID == accountID {
			found = &m
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *Bolt) CreateMandate(_ context.Context, m domain.PaymentMandate) (domain.PaymentMandate, error) {
	m.Version = 1
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		mandates := namespace(tx, m.Live, bucketMandates)
		secrets := namespace(tx, m.Live, bucketSecrets)
		if mandates.Get([]byte(m.ID)) != nil || secrets.Get([]byte(m.Secret)) != nil {
			return ErrDuplicate
		}

		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := mandates.Put([]byte(m.ID), data); err != nil {
			return err
		}
		return secrets.Put([]byte(m.Secret), []byte(m.ID))
	})
	if err != nil {
		return domain.PaymentMandate{}, err
	}
	return m, nil
}

// SaveMandate writes m only if the stored version still equals m.Version.
// The read and the write happen in one bolt transaction.
func (s *Bolt) SaveMandate(_ context.Context, m domain.PaymentMandate) (domain.PaymentMandate, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		mandates := namespace(tx, m.Live, bucketMandates)

		existingBytes := mandates.Get([]byte(m.ID))
		if existingBytes == nil {
			return ErrConflict
		}
		var existing domain.PaymentMandate
		if err := json.Unmarshal(existingBytes, &existing); err != nil {
			return err
		}
		if existing.Version != m.Version {
			return ErrConflict
		}

		m.Version++
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return mandates.Put([]byte(m.ID), data)
	})
	if err != nil {
		return domain.PaymentMandate{}, err
	}
	return m, nil
}

func (s *Bolt) SaveManyMandates(ctx context.Context, ms []domain.PaymentMandate) ([]domain.PaymentMandate, error) {
	var (
		saved []domain.PaymentMandate
		errs  []error
	)
	for _, m := range ms {
		out, err := s.SaveMandate(ctx, m)
		if err != nil {
			errs = append(errs, fmt.Errorf("mandate %s: %w", m.ID, err))
			continue
		}
		saved = append(saved, out)
	}
	return saved, errors.Join(errs...)
}

// ListMandates returns the account's mandates, newest first.
func (s *Bolt) ListMandates(_ context.Context, accountID string, live bool, opts ListOptions) ([]domain.PaymentMandate, error) {
	var items []domain.PaymentMandate

	err := s.db.View(func(tx *bolt.Tx) error {
		return namespace(tx, live, bucketMandates).ForEach(func(_, v []byte) error {
			var m domain.PaymentMandate
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.AccountID == accountID && opts.contains(m.CreatedAt) {
				items = append(items, m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *Bolt) ListAccountsWithExpiredMandates(_ context.Context, live bool, now time.Time) ([]string, error) {
	seen := map[string]bool{}
	var accounts []string

	err := s.db.View(func(tx *bolt.Tx) error {
		return namespace(tx, live, bucketMandates).ForEach(func(_, v []byte) error {
			var m domain.PaymentMandate
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.IsExpired(now) && !seen[m.AccountID] {
				seen[m.AccountID] = true
				accounts = append(accounts, m.AccountID)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (s *Bolt) DeleteAccountMandates(_ context.Context, accountID string, live bool) (int, error) {
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		mandates := namespace(tx, live, bucketMandates)
		secrets := namespace(tx, live, bucketSecrets)

		var owned []domain.PaymentMandate
		err := mandates.ForEach(func(_, v []byte) error {
			var m domain.PaymentMandate
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.AccountID == accountID {
				owned = append(owned, m)
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Deleting while iterating with ForEach is not allowed.
		for _, m := range owned {
			if err := mandates.Delete([]byte(m.ID)); err != nil {
				return err
			}
			if err := secrets.Delete([]byte(m.Secret)); err != nil {
				return err
			}
		}
		deleted = len(owned)
		return nil
	})
	return deleted, err
}

func (s *Bolt) LoadCapture(_ context.Context, accountID string, live bool, captureID string) (*domain.PaymentCapture, error) {
	var found *domain.PaymentCapture

	err := s.db.View(func(tx *bolt.Tx) error {
		v := namespace(tx, live, bucketCaptures).Get([]byte(captureID))
		if v == nil {
			return nil
		}
		var c domain.PaymentCapture
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		if c.AccountID == accountID {
			found = &c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *Bolt) SaveCapture(_ context.Context, c domain.PaymentCapture) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := namespace(tx, c.Live, bucketCaptures)
		if existing := b.Get([]byte(c.ID)); existing != nil {
			var prev domain.PaymentCapture
			if err := json.Unmarshal(existing, &prev); err != nil {
				return err
			}
			if prev.AccountID != c.AccountID {
				return fmt.Errorf("capture %s: %w", c.ID, ErrOwnerMismatch)
			}
		}
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put([]byte(c.ID), data)
	})
}

// RecordTransaction stores the transaction, skipping the write when the
// stored copy is byte-identical.
func (s *Bolt) RecordTransaction(_ context.Context, t domain.Transaction) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := namespace(tx, t.Live, bucketTransactions)

		if existing := b.Get([]byte(t.ID)); existing != nil {
			var prev domain.Transaction
			if err := json.Unmarshal(existing, &prev); err != nil {
				return err
			}
			if prev.AccountID != t.AccountID {
				return fmt.Errorf("transaction %s: %w", t.ID, ErrOwnerMismatch)
			}
			t.CreatedAt = prev.CreatedAt
		}

		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if string(b.Get([]byte(t.ID))) == string(data) {
			return nil
		}
		return b.Put([]byte(t.ID), data)
	})
}

func (s *Bolt) ListCaptureTransactions(_ context.Context, accountID string, live bool, captureID string) ([]domain.Transaction, error) {
	var items []domain.Transaction

	err := s.db.View(func(tx *bolt.Tx) error {
		return namespace(tx, live, bucketTransactions).ForEach(func(_, v []byte) error {
			var t domain.Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.CaptureID == captureID && t.AccountID == accountID {
				items = append(items, t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// DeleteAccountCaptures removes the account's captures together with their
// transactions.
func (s *Bolt) DeleteAccountCaptures(_ context.Context, accountID string, live bool) (int, error) {
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		captures := namespace(tx, live, bucketCaptures)
		transactions := namespace(tx, live, bucketTransactions)

		captureIDs, err := ownedKeys(captures, accountID)
		if err != nil {
			return err
		}
		txIDs, err := ownedKeys(transactions, accountID)
		if err != nil {
			return err
		}

		for _, id := range captureIDs {
			if err := captures.Delete(id); err != nil {
				return err
			}
		}
		for _, id := range txIDs {
			if err := transactions.Delete(id); err != nil {
				return err
			}
		}
		deleted = len(captureIDs)
		return nil
	})
	return deleted, err
}

// ownedKeys collects the keys of records whose account_id matches.
func ownedKeys(b *bolt.Bucket, accountID string) ([][]byte, error) {
	var keys [][]byte
	err := b.ForEach(func(k, v []byte) error {
		var owner struct {
			AccountID string `json:"account_id"`
		}
		if err := json.Unmarshal(v, &owner); err != nil {
			return err
		}
		if owner.AccountID == accountID {
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	})
	return keys, err
}
