package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreditService gates segment generation on the user's balance. Authorize is
// called before any provider call; Charge only after the segment has been
// persisted, so a failed generation never costs the user anything.
type CreditService interface {
	// Authorize verifies the user can afford amountUSD. Returns
	// models.ErrInsufficientCredits when the balance is too low.
	Authorize(ctx context.Context, userID uuid.UUID, amountUSD float64) error
	// Charge records the debit for a delivered segment of the given story.
	// The amount is the provider-estimated actual cost of the generation.
	Charge(ctx context.Context, userID, storyID uuid.UUID, amountUSD float64, reason string) error
}

type unmeteredCreditService struct {
	logger *zap.Logger
}

// NewUnmeteredCreditService returns a CreditService that authorizes everything
// and only logs charges. It stands in until a billing backend is wired up.
func NewUnmeteredCreditService(logger *zap.Logger) CreditService {
	return &unmeteredCreditService{logger: logger.Named("UnmeteredCreditService")}
}

func (s *unmeteredCreditService) Authorize(ctx context.Context, userID uuid.UUID, amountUSD float64) error {
	return nil
}

func (s *unmeteredCreditService) Charge(ctx context.Context, userID, storyID uuid.UUID, amountUSD float64, reason string) error {
	s.logger.Info("Segment charge recorded",
		zap.Stringer("userID", userID),
		zap.Stringer("storyID", storyID),
		zap.Float64("amountUSD", amountUSD),
		zap.String("reason", reason))
	return nil
}
