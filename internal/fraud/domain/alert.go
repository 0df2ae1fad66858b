package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrAlertNotFound 告警不存在
	ErrAlertNotFound = errors.New("fraud alert not found")
)

// AlertStatus 告警状态，生命周期独立于产生它的交易
type AlertStatus string

const (
	AlertStatusOpen          AlertStatus = "open"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusFalsePositive AlertStatus = "false_positive"
)

// Alert 欺诈告警，仅在处置动作为 hold/block 时创建，归合规协作方处理
type Alert struct {
	gorm.Model
	AlertID       string      `gorm:"column:alert_id;type:varchar(32);uniqueIndex;not null" json:"alert_id"`
	TransactionID string      `gorm:"column:transaction_id;type:varchar(32);index;not null" json:"transaction_id"`
	AccountID     string      `gorm:"column:account_id;type:varchar(32);index;not null" json:"account_id"`
	Score         float64     `gorm:"column:score;type:decimal(3,2);not null" json:"score"`
	RiskLevel     string      `gorm:"column:risk_level;type:varchar(20);not null" json:"risk_level"`
	IndicatorsRaw string      `gorm:"column:indicators;type:text" json:"-"`
	Status        AlertStatus `gorm:"column:status;type:varchar(20);not null;default:'open'" json:"status"`
	ResolvedBy    string      `gorm:"column:resolved_by;type:varchar(64)" json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time  `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	Resolution    string      `gorm:"column:resolution;type:text" json:"resolution,omitempty"`
}

// TableName 表名
func (Alert) TableName() string { return "fraud_alerts" }

// Indicators 反序列化触发指标
func (a *Alert) Indicators() []Indicator {
	var indicators []Indicator
	if a.IndicatorsRaw != "" {
		_ = json.Unmarshal([]byte(a.IndicatorsRaw), &indicators)
	}
	return indicators
}

// AlertRepository 告警仓储接口
type AlertRepository interface {
	Save(ctx context.Context, alert *Alert) error
	Get(ctx context.Context, alertID string) (*Alert, error)
	ListByStatus(ctx context.Context, status AlertStatus, limit int) ([]*Alert, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Alert, error)
}

// AlertManager 告警生命周期管理
type AlertManager struct {
	repo  AlertRepository
	newID func(prefix string) string
	now   func() time.Time
}

// NewAlertManager 创建告警管理器
func NewAlertManager(repo AlertRepository, newID func(prefix string) string) *AlertManager {
	return &AlertManager{repo: repo, newID: newID, now: time.Now}
}

// CreateFromAssessment 由 hold/block 评估创建告警
func (m *AlertManager) CreateFromAssessment(ctx context.Context, accountID string, assessment *Assessment) (*Alert, error) {
	raw, err := json.Marshal(assessment.Indicators)
	if err != nil {
		return nil, err
	}
	alert := &Alert{
		AlertID:       m.newID("ALT"),
		TransactionID: assessment.TransactionID,
		AccountID:     accountID,
		Score:         assessment.Score,
		RiskLevel:     string(assessment.RiskLevel),
		IndicatorsRaw: string(raw),
		Status:        AlertStatusOpen,
	}
	if err := m.repo.Save(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// Resolve 结案
func (m *AlertManager) Resolve(ctx context.Context, alertID, resolvedBy, resolution string) error {
	return m.close(ctx, alertID, resolvedBy, resolution, AlertStatusResolved)
}

// MarkFalsePositive 误报结案
func (m *AlertManager) MarkFalsePositive(ctx context.Context, alertID, resolvedBy, resolution string) error {
	return m.close(ctx, alertID, resolvedBy, resolution, AlertStatusFalsePositive)
}

func (m *AlertManager) close(ctx context.Context, alertID, resolvedBy, resolution string, status AlertStatus) error {
	alert, err := m.repo.Get(ctx, alertID)
	if err != nil {
		return err
	}
	now := m.now()
	alert.Status = status
	alert.ResolvedBy = resolvedBy
	alert.ResolvedAt = &now
	alert.Resolution = resolution
	return m.repo.Save(ctx, alert)
}
