package model

import (
	"time"

	"gorm.io/gorm"
)

// Withdrawal status values. A withdrawal moves processing -> completed or
// processing -> failed, exactly once, and never backward.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// User holds a player's off-chain token balance. Balance is stored in the
// jetton's smallest unit (nano, 9 decimals); only the withdrawal pipeline and
// its compensating refund may decrement it.
type User struct {
	ID                    string `gorm:"primaryKey;size:64"`
	Balance               int64  `gorm:"not null;default:0"`
	LastWithdrawalAddress string `gorm:"size:128"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Withdrawal records one attempt to move balance on-chain.
type Withdrawal struct {
	ID          uint    `gorm:"primaryKey"`
	UserID      string  `gorm:"size:64;index;not null"`
	ToAddress   string  `gorm:"size:128;not null"`
	Amount      int64   `gorm:"not null"` // nano units
	Status      string  `gorm:"size:16;index;not null"`
	TxHash      *string `gorm:"size:128"`
	ErrorDetail *string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// AutoMigrate creates the tables plus the partial unique index that enforces
// at most one processing withdrawal per user. The index is the concurrency
// gate: a second concurrent insert fails at the storage layer instead of
// racing past an application-level read check.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &Withdrawal{}); err != nil {
		return err
	}
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_withdrawals_one_processing
		 ON withdrawals (user_id) WHERE status = 'processing'`,
	).Error
}
