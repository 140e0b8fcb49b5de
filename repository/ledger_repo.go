package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bolt-mining/withdraw-service/model"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWithdrawalPending   = errors.New("withdrawal already pending")
	ErrNotProcessing       = errors.New("withdrawal is not in processing state")
)

// LedgerRepository owns every balance mutation the withdrawal pipeline makes.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *LedgerRepository) GetWithdrawal(ctx context.Context, id uint) (*model.Withdrawal, error) {
	var w model.Withdrawal
	if err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// HasProcessing reports whether the user already has an in-flight withdrawal.
// Read-only gate; the authoritative check is the unique index hit inside
// CreateProcessing.
func (r *LedgerRepository) HasProcessing(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Withdrawal{}).
		Where("user_id = ? AND status = ?", userID, model.StatusProcessing).
		Count(&count).Error
	return count > 0, err
}

// CreateProcessing inserts a processing withdrawal and debits the user's
// balance as a single transaction. The partial unique index rejects a second
// concurrent processing row (ErrWithdrawalPending) and the conditional debit
// rejects overdraw (ErrInsufficientBalance); either failure rolls back both
// writes.
func (r *LedgerRepository) CreateProcessing(ctx context.Context, userID, toAddress string, amount int64) (*model.Withdrawal, error) {
	w := &model.Withdrawal{
		UserID:    userID,
		ToAddress: toAddress,
		Amount:    amount,
		Status:    model.StatusProcessing,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(w).Error; err != nil {
			if isDuplicateErr(err) {
				return ErrWithdrawalPending
			}
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		res := tx.Model(&model.User{}).
			Where("id = ? AND balance >= ?", userID, amount).
			Update("balance", gorm.Expr("balance - ?", amount))
		if res.Error != nil {
			return fmt.Errorf("debit balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// MarkCompleted finalizes a successful withdrawal. Only a processing row may
// transition; a terminal row is immutable.
func (r *LedgerRepository) MarkCompleted(ctx context.Context, id uint, txHash string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.Withdrawal{}).
		Where("id = ? AND status = ?", id, model.StatusProcessing).
		Updates(map[string]interface{}{
			"status":       model.StatusCompleted,
			"tx_hash":      txHash,
			"completed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotProcessing
	}
	return nil
}

// MarkFailedAndRefund finalizes a failed withdrawal and restores the debited
// amount, in one transaction, so the user's balance after a failed attempt
// equals the balance before it.
func (r *LedgerRepository) MarkFailedAndRefund(ctx context.Context, w *model.Withdrawal, detail string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Withdrawal{}).
			Where("id = ? AND status = ?", w.ID, model.StatusProcessing).
			Updates(map[string]interface{}{
				"status":       model.StatusFailed,
				"error_detail": detail,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotProcessing
		}
		if err := tx.Model(&model.User{}).
			Where("id = ?", w.UserID).
			Update("balance", gorm.Expr("balance + ?", w.Amount)).Error; err != nil {
			return fmt.Errorf("refund balance: %w", err)
		}
		return nil
	})
}

// ListStaleProcessing returns processing withdrawals created before the
// cutoff, for the reconciler to flag.
func (r *LedgerRepository) ListStaleProcessing(ctx context.Context, olderThan time.Time, limit int) ([]model.Withdrawal, error) {
	var list []model.Withdrawal
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.StatusProcessing, olderThan).
		Order("created_at asc").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *LedgerRepository) ListByUser(ctx context.Context, userID string, page, size int) ([]model.Withdrawal, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	var list []model.Withdrawal
	var total int64
	q := r.db.WithContext(ctx).Model(&model.Withdrawal{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("created_at desc").Offset((page - 1) * size).Limit(size).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// SetLastWithdrawalAddress remembers the destination for prefill on the next
// request. Best-effort.
func (r *LedgerRepository) SetLastWithdrawalAddress(ctx context.Context, userID, address string) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Update("last_withdrawal_address", address).Error
}

func isDuplicateErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
