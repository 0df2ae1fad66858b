// 包 mysql 交易仓储的 GORM 实现
package mysql

import (
	"context"
	"errors"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/wyfcoding/corebanking/internal/router/domain"
)

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository 创建交易仓储
func NewTransactionRepository(db *gorm.DB) domain.TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Save(ctx context.Context, tx *domain.Transaction) error {
	err := r.db.WithContext(ctx).Save(tx).Error
	if isDuplicateKey(err) {
		return domain.ErrDuplicateIdempotencyKey
	}
	return err
}

// isDuplicateKey 识别幂等键唯一索引冲突（MySQL 1062）
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *driver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

func (r *transactionRepository) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) ListHeldDue(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?", domain.StatusHeld, now).
		Order("next_attempt_at asc").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}
