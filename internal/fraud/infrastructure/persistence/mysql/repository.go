// 包 mysql 欺诈告警仓储的 MySQL 实现，基于 GORM
package mysql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/wyfcoding/corebanking/internal/fraud/domain"
)

type alertRepository struct {
	db *gorm.DB
}

// NewAlertRepository 创建告警仓储
func NewAlertRepository(db *gorm.DB) domain.AlertRepository {
	return &alertRepository{db: db}
}

func (r *alertRepository) Save(ctx context.Context, alert *domain.Alert) error {
	return r.db.WithContext(ctx).Save(alert).Error
}

func (r *alertRepository) Get(ctx context.Context, alertID string) (*domain.Alert, error) {
	var alert domain.Alert
	err := r.db.WithContext(ctx).Where("alert_id = ?", alertID).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAlertNotFound
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (r *alertRepository) ListByStatus(ctx context.Context, status domain.AlertStatus, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	var alerts []*domain.Alert
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id desc").
		Limit(limit).
		Find(&alerts).Error
	return alerts, err
}

func (r *alertRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.Alert, error) {
	var alerts []*domain.Alert
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id desc").
		Find(&alerts).Error
	return alerts, err
}
