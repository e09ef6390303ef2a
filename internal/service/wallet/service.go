package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/pkg/logger"
)

// Service implements the wallet ledger operations. Every mutating method
// takes the owning user's lock first, so reservation math for one user is
// never interleaved. Reads are lock-free.
type Service struct {
	repo  Repository
	locks *userLocks
}

// NewService creates a wallet service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, locks: newUserLocks()}
}

// Owner returns a user's wallet profile.
func (s *Service) Owner(ctx context.Context, userID string) (*domain.WalletOwner, error) {
	return s.repo.Owner(ctx, userID)
}

// Balance returns a user's cached ledger balance in cents.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	o, err := s.repo.Owner(ctx, userID)
	if err != nil {
		return 0, err
	}
	return o.BalanceCents, nil
}

// AvailableBalance returns the balance minus all pending reservations.
// This is the number every funding decision is made against.
func (s *Service) AvailableBalance(ctx context.Context, userID string) (int64, error) {
	o, err := s.repo.Owner(ctx, userID)
	if err != nil {
		return 0, err
	}
	pending, err := s.repo.PendingTotal(ctx, userID)
	if err != nil {
		return 0, err
	}
	return o.BalanceCents - pending, nil
}

// Transactions returns a user's recent ledger rows, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, limit int) ([]domain.WalletTransaction, error) {
	return s.repo.Transactions(ctx, userID, limit)
}

// Reserve earmarks funds for a gift without decrementing the balance.
// Calling it again while a reservation is already pending for the same gift
// is a no-op returning the existing row. Fails with ErrInsufficientFunds
// when the available balance can't cover the amount.
func (s *Service) Reserve(ctx context.Context, userID, giftID string, amountCents int64) (*domain.WalletTransaction, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := s.locks.acquire(userID)
	defer unlock()

	if existing, err := s.repo.PendingReservation(ctx, giftID); err == nil {
		return existing, nil
	} else if err != ErrNoPendingReservation {
		return nil, err
	}

	o, err := s.repo.Owner(ctx, userID)
	if err != nil {
		return nil, err
	}
	pending, err := s.repo.PendingTotal(ctx, userID)
	if err != nil {
		return nil, err
	}
	if o.BalanceCents-pending < amountCents {
		return nil, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	tx := &domain.WalletTransaction{
		ID:                uuid.New().String(),
		UserID:            userID,
		AmountCents:       amountCents,
		BalanceAfterCents: o.BalanceCents, // reservations don't move money
		Type:              domain.TxReservation,
		Status:            domain.TxPending,
		ScheduledGiftID:   &giftID,
		Description:       "funds reserved for scheduled gift",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	logger.Info("wallet reservation created",
		"user_id", userID, "gift_id", giftID, "amount_cents", amountCents)
	return tx, nil
}

// ChargeReservation converts a gift's pending reservation into a completed
// charge and decrements the cached balance. The balance may have been spent
// elsewhere since the reservation was taken; the repository recomputes it
// under the owner row lock and fails with ErrInsufficientFunds if the
// charge would push it negative, in which case nothing moves.
func (s *Service) ChargeReservation(ctx context.Context, giftID string) (*domain.WalletTransaction, error) {
	// Peek at the reservation to learn which user to lock, then re-read
	// under the lock.
	peek, err := s.repo.PendingReservation(ctx, giftID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.acquire(peek.UserID)
	defer unlock()

	res, err := s.repo.PendingReservation(ctx, giftID)
	if err != nil {
		return nil, err
	}

	newBalance, err := s.repo.Capture(ctx, res.ID, res.UserID, res.AmountCents)
	if err == ErrInsufficientFunds || err == ErrNoPendingReservation {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("capture reservation: %w", err)
	}

	charged := *res
	charged.Type = domain.TxCharge
	charged.Status = domain.TxCompleted
	charged.AmountCents = -res.AmountCents
	charged.BalanceAfterCents = newBalance
	charged.UpdatedAt = time.Now().UTC()

	logger.Info("wallet reservation charged",
		"user_id", res.UserID, "gift_id", giftID,
		"amount_cents", res.AmountCents, "balance_cents", newBalance)
	return &charged, nil
}

// Refund compensates the gift's most recent completed charge by appending
// a refund row of the same amount and restoring the balance. Refunding a
// gift that was never charged fails with ErrNoChargeFound. Idempotency is
// keyed to the charge row, not the gift: a gift can go through several
// charge/refund cycles across failed fulfillment attempts, and each charge
// is refunded exactly once. Refunding an already-refunded charge returns
// the existing refund row without crediting again.
func (s *Service) Refund(ctx context.Context, giftID string) (*domain.WalletTransaction, error) {
	charge, err := s.repo.CompletedCharge(ctx, giftID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.acquire(charge.UserID)
	defer unlock()

	if existing, err := s.repo.RefundOfCharge(ctx, charge.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	amount := charge.AmountCents
	if amount < 0 {
		amount = -amount
	}

	now := time.Now().UTC()
	tx := &domain.WalletTransaction{
		ID:              uuid.New().String(),
		UserID:          charge.UserID,
		AmountCents:     amount,
		Type:            domain.TxRefund,
		Status:          domain.TxCompleted,
		ScheduledGiftID: &giftID,
		RelatedTxID:     &charge.ID,
		Description:     "refund for failed gift order",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Credit(ctx, tx); err != nil {
		return nil, fmt.Errorf("credit refund: %w", err)
	}

	logger.Info("wallet charge refunded",
		"user_id", charge.UserID, "gift_id", giftID, "amount_cents", amount)
	return tx, nil
}

// Deposit credits the wallet from a user top-up or an auto-reload charge.
// source must be TxDeposit or TxAutoReload.
func (s *Service) Deposit(ctx context.Context, userID string, amountCents int64, source domain.TransactionType, description string) (*domain.WalletTransaction, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if source != domain.TxDeposit && source != domain.TxAutoReload {
		return nil, fmt.Errorf("invalid deposit source %q", source)
	}

	unlock := s.locks.acquire(userID)
	defer unlock()

	if _, err := s.repo.Owner(ctx, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tx := &domain.WalletTransaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		AmountCents: amountCents,
		Type:        source,
		Status:      domain.TxCompleted,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Credit(ctx, tx); err != nil {
		return nil, fmt.Errorf("credit deposit: %w", err)
	}

	logger.Info("wallet deposit", "user_id", userID,
		"amount_cents", amountCents, "source", string(source))
	return tx, nil
}

// ReleaseReservation cancels a gift's pending reservation without charging.
// The cached balance is untouched since reserving never decremented it.
// Releasing a gift with no pending reservation is a no-op, which makes the
// expiration and escalation stages safe to re-run.
func (s *Service) ReleaseReservation(ctx context.Context, giftID string) error {
	peek, err := s.repo.PendingReservation(ctx, giftID)
	if err == ErrNoPendingReservation {
		return nil
	}
	if err != nil {
		return err
	}

	unlock := s.locks.acquire(peek.UserID)
	defer unlock()

	res, err := s.repo.PendingReservation(ctx, giftID)
	if err == ErrNoPendingReservation {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.repo.Cancel(ctx, res.ID); err != nil {
		return fmt.Errorf("cancel reservation: %w", err)
	}

	logger.Info("wallet reservation released",
		"user_id", res.UserID, "gift_id", giftID, "amount_cents", res.AmountCents)
	return nil
}

// DisableAutoReload turns off a user's auto-reload after a failed charge so
// the engine doesn't hammer a dead payment instrument every run.
func (s *Service) DisableAutoReload(ctx context.Context, userID string) error {
	return s.repo.SetAutoReload(ctx, userID, false)
}
