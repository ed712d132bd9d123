package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/punchamoorthee/mandates/internal/config"
)

var ErrErasureDisabled = errors.New("account erasure is disabled")

type AccountService struct {
	mandates MandateRepository
	captures CaptureRepository
	logger   *zap.Logger
}

func NewAccountService(mandates MandateRepository, captures CaptureRepository, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{mandates: mandates, captures: captures, logger: logger}
}

// EraseAccount removes every mandate and capture the account owns in the
// given namespace. It is the only path that deletes captures and runs only
// when features allow it.
func (s *AccountService) EraseAccount(ctx context.Context, accountID string, live bool, features config.Features) error {
	if !features.EraseOnAccountDelete {
		return ErrErasureDisabled
	}

	mandates, err := s.mandates.DeleteAccountMandates(ctx, accountID, live)
	if err != nil {
		return fmt.Errorf("erase mandates: %w", err)
	}
	captures, err := s.captures.DeleteAccountCaptures(ctx, accountID, live)
	if err != nil {
		return fmt.Errorf("erase captures: %w", err)
	}

	s.logger.Info("account data erased",
		zap.String("account_id", accountID),
		zap.Bool("live", live),
		zap.Int("mandates", mandates),
		zap.Int("captures", captures),
	)
	return nil
}
