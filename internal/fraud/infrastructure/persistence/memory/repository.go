// 包 memory 欺诈告警仓储的内存实现，用于测试
package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/corebanking/internal/fraud/domain"
)

type alertRepository struct {
	mu     sync.RWMutex
	alerts map[string]*domain.Alert
}

// NewAlertRepository 创建内存告警仓储
func NewAlertRepository() domain.AlertRepository {
	return &alertRepository{alerts: make(map[string]*domain.Alert)}
}

func (r *alertRepository) Save(ctx context.Context, alert *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *alert
	r.alerts[alert.AlertID] = &clone
	return nil
}

func (r *alertRepository) Get(ctx context.Context, alertID string) (*domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert, exists := r.alerts[alertID]
	if !exists {
		return nil, domain.ErrAlertNotFound
	}
	clone := *alert
	return &clone, nil
}

func (r *alertRepository) ListByStatus(ctx context.Context, status domain.AlertStatus, limit int) ([]*domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var alerts []*domain.Alert
	for _, alert := range r.alerts {
		if alert.Status == status {
			clone := *alert
			alerts = append(alerts, &clone)
			if len(alerts) == limit {
				break
			}
		}
	}
	return alerts, nil
}

func (r *alertRepository) ListByAccount(ctx context.Context, accountID string) ([]*domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var alerts []*domain.Alert
	for _, alert := range r.alerts {
		if alert.AccountID == accountID {
			clone := *alert
			alerts = append(alerts, &clone)
		}
	}
	return alerts, nil
}
