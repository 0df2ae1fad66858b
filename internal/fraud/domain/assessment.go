// 包 domain 欺诈评分门的领域模型
package domain

import "time"

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Action 评分决定的处置动作
type Action string

const (
	ActionAllow Action = "allow"
	ActionHold  Action = "hold"
	ActionBlock Action = "block"
)

// Indicator 触发的风险指标，供审计与人工复核
type Indicator struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
	Signal      float64 `json:"signal"`
}

// Assessment 一次评分的完整结果，交易进入终态后不可变
type Assessment struct {
	TransactionID string      `json:"transaction_id"`
	Score         float64     `json:"score"`
	RiskLevel     RiskLevel   `json:"risk_level"`
	Indicators    []Indicator `json:"indicators"`
	Action        Action      `json:"action"`
	ComputedAt    time.Time   `json:"computed_at"`
}
