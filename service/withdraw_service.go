package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bolt-mining/withdraw-service/model"
	"github.com/bolt-mining/withdraw-service/repository"
	"github.com/sirupsen/logrus"
)

// TokenDecimals is the jetton's decimal count; balances and amounts are kept
// in smallest units ("nano") everywhere below the HTTP boundary.
const TokenDecimals = 9

const nanoPerToken = 1_000_000_000

const refundAttempts = 3

// WithdrawRequest is the inbound contract from the game layer. userId is
// trusted as already authenticated upstream.
type WithdrawRequest struct {
	UserID        string  `json:"userId"`
	WalletAddress string  `json:"walletAddress"`
	Amount        float64 `json:"amount"`
}

// WithdrawResult is the uniform response shape for every exit path.
type WithdrawResult struct {
	OK      bool   `json:"ok"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// ChainTransfer is what the pipeline needs from the transfer engine.
type ChainTransfer interface {
	Transfer(ctx context.Context, dest string, amountNano int64) (string, error)
}

// WithdrawService runs the withdrawal pipeline: validate, guard config, gate
// on balance, debit, transfer on-chain, reconcile.
type WithdrawService struct {
	repo          *repository.LedgerRepository
	engine        ChainTransfer // nil when chain config is incomplete
	locks         LockService
	notifier      Notifier
	minWithdrawal float64
	log           *logrus.Entry
}

func NewWithdrawService(repo *repository.LedgerRepository, engine ChainTransfer, locks LockService, notifier Notifier, minWithdrawal float64) *WithdrawService {
	return &WithdrawService{
		repo:          repo,
		engine:        engine,
		locks:         locks,
		notifier:      notifier,
		minWithdrawal: minWithdrawal,
		log:           logrus.WithField("component", "withdraw_service"),
	}
}

func (s *WithdrawService) MinWithdrawal() float64 { return s.minWithdrawal }

// Withdraw executes one withdrawal attempt end to end. Every failure is
// converted to a WithdrawResult; nothing escapes as a raw error. Failures
// after the ledger debit refund the user before returning.
func (s *WithdrawService) Withdraw(ctx context.Context, req WithdrawRequest) *WithdrawResult {
	if err := s.validate(req); err != nil {
		return s.resultFromError(err)
	}

	// Config guard runs before any balance read or write, so a partially
	// configured deployment can never debit a user.
	if s.engine == nil {
		return s.resultFromError(E(CodeSystemNotConfigured, "withdrawal system is not configured"))
	}

	amountNano := ToNano(req.Amount)

	releaseUser, err := s.locks.AcquireUserLock(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			return s.resultFromError(E(CodeWithdrawalAlreadyPending, "a withdrawal is already being processed"))
		}
		return s.resultFromError(Wrap(CodeLedgerWriteFailed, "could not acquire withdrawal lock", err))
	}
	defer releaseUser()

	user, err := s.repo.GetUser(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return s.resultFromError(E(CodeUserNotFound, "user not found"))
		}
		return s.resultFromError(Wrap(CodeLedgerWriteFailed, "failed to read account", err))
	}

	pending, err := s.repo.HasProcessing(ctx, req.UserID)
	if err != nil {
		return s.resultFromError(Wrap(CodeLedgerWriteFailed, "failed to check pending withdrawals", err))
	}
	if pending {
		return s.resultFromError(E(CodeWithdrawalAlreadyPending, "a withdrawal is already being processed"))
	}
	if user.Balance < amountNano {
		return s.resultFromError(E(CodeInsufficientBalance,
			fmt.Sprintf("balance %s is below requested %s", FormatTokens(user.Balance), FormatTokens(amountNano))))
	}

	// The lock: from here on the amount is in flight and any failure must be
	// compensated before returning.
	w, err := s.repo.CreateProcessing(ctx, req.UserID, req.WalletAddress, amountNano)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrWithdrawalPending):
			return s.resultFromError(E(CodeWithdrawalAlreadyPending, "a withdrawal is already being processed"))
		case errors.Is(err, repository.ErrInsufficientBalance):
			return s.resultFromError(E(CodeInsufficientBalance, "insufficient balance"))
		default:
			return s.resultFromError(Wrap(CodeLedgerWriteFailed, "failed to record withdrawal", err))
		}
	}

	s.log.WithFields(logrus.Fields{
		"withdrawal_id": w.ID,
		"user_id":       req.UserID,
		"amount":        FormatTokens(amountNano),
	}).Info("withdrawal locked, starting chain transfer")

	// Broadcasts share one hot wallet seqno, so they are serialized globally.
	releaseWallet, err := s.locks.AcquireWalletLock(ctx)
	if err != nil {
		return s.failAndRefund(ctx, w, Wrap(CodeTransferFailed, "could not acquire hot wallet lock", err))
	}
	txHash, terr := s.engine.Transfer(ctx, req.WalletAddress, amountNano)
	releaseWallet()

	if terr != nil {
		return s.failAndRefund(ctx, w, terr)
	}

	if err := s.repo.MarkCompleted(ctx, w.ID, txHash); err != nil {
		// The transfer is already on-chain; the ledger row is stale, not the
		// funds. Escalate instead of refunding.
		s.log.WithError(err).WithField("withdrawal_id", w.ID).Error("transfer broadcast but completion write failed")
		s.notifier.NotifyAlert(fmt.Sprintf("withdrawal %d broadcast (tx %s) but could not be marked completed: %v", w.ID, txHash, err))
	}
	if err := s.repo.SetLastWithdrawalAddress(ctx, req.UserID, req.WalletAddress); err != nil {
		s.log.WithError(err).Warn("failed to store last withdrawal address")
	}

	s.notifier.NotifyWithdrawalCompleted(req.UserID, req.WalletAddress, amountNano, txHash)

	return &WithdrawResult{OK: true, TxHash: txHash}
}

func (s *WithdrawService) validate(req WithdrawRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return E(CodeInvalidInput, "userId is required")
	}
	if strings.TrimSpace(req.WalletAddress) == "" {
		return E(CodeInvalidInput, "walletAddress is required")
	}
	if req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return E(CodeInvalidInput, "amount must be a positive number")
	}
	if req.Amount < s.minWithdrawal {
		return E(CodeBelowMinimum, fmt.Sprintf("minimum withdrawal is %s tokens", strconv.FormatFloat(s.minWithdrawal, 'f', -1, 64)))
	}
	return nil
}

// failAndRefund reverses the ledger debit after a chain-transfer failure. The
// reversal is retried; if it cannot be completed the failure is surfaced as
// ReversalFailed and escalated, never masked as a generic error, because the
// user's balance is still debited at that point.
func (s *WithdrawService) failAndRefund(ctx context.Context, w *model.Withdrawal, terr error) *WithdrawResult {
	s.log.WithError(terr).WithField("withdrawal_id", w.ID).Error("chain transfer failed, reversing debit")

	// The refund must complete even if the inbound request was cancelled.
	rctx := context.WithoutCancel(ctx)

	var err error
	for attempt := 1; attempt <= refundAttempts; attempt++ {
		if err = s.repo.MarkFailedAndRefund(rctx, w, terr.Error()); err == nil {
			code := CodeOf(terr, CodeTransferFailed)
			return &WithdrawResult{
				OK:      false,
				Error:   string(code),
				Details: DetailOf(terr) + "; your balance has been refunded",
			}
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}

	s.log.WithError(err).WithField("withdrawal_id", w.ID).Error("balance reversal failed, manual intervention required")
	s.notifier.NotifyAlert(fmt.Sprintf("REVERSAL FAILED: withdrawal %d (user %s, %s BOLT) needs manual refund: %v",
		w.ID, w.UserID, FormatTokens(w.Amount), err))

	return &WithdrawResult{
		OK:      false,
		Error:   string(CodeReversalFailed),
		Details: "transfer failed and the automatic refund did not complete; support has been notified",
	}
}

func (s *WithdrawService) resultFromError(err error) *WithdrawResult {
	return &WithdrawResult{
		OK:      false,
		Error:   string(CodeOf(err, CodeTransferFailed)),
		Details: DetailOf(err),
	}
}

// ToNano converts a whole-token amount from the API into smallest units.
func ToNano(amount float64) int64 {
	return int64(math.Round(amount * nanoPerToken))
}

// FormatTokens renders a nano amount as a whole-token decimal string.
func FormatTokens(nano int64) string {
	return strconv.FormatFloat(float64(nano)/nanoPerToken, 'f', -1, 64)
}
