package domain

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	ledger "github.com/wyfcoding/corebanking/internal/ledger/domain"
)

// Config 评分配置：权重、阈值与硬规则均来自部署配置
type Config struct {
	VelocityWeight            float64
	AmountDeviationWeight     float64
	CounterpartyNoveltyWeight float64
	TimeAnomalyWeight         float64

	MaxTxPerHour     int
	MaxAmountPerHour decimal.Decimal
	MaxTxPerDay      int
	MaxAmountPerDay  decimal.Decimal

	DeviationSigma float64

	NightStartHour int
	NightEndHour   int

	AbsoluteCeiling decimal.Decimal
	CeilingFloor    float64

	CustomerRiskBar   float64
	CustomerRiskFloor float64

	MediumThreshold   float64
	HighThreshold     float64
	CriticalThreshold float64

	Actions map[RiskLevel]Action
}

// DefaultConfig 返回缺省评分配置
func DefaultConfig() Config {
	return Config{
		VelocityWeight:            0.4,
		AmountDeviationWeight:     0.3,
		CounterpartyNoveltyWeight: 0.2,
		TimeAnomalyWeight:         0.1,
		MaxTxPerHour:              10,
		MaxAmountPerHour:          decimal.NewFromInt(5000),
		MaxTxPerDay:               20,
		MaxAmountPerDay:           decimal.NewFromInt(50000),
		DeviationSigma:            3.0,
		NightStartHour:            0,
		NightEndHour:              5,
		AbsoluteCeiling:           decimal.NewFromInt(50000),
		CeilingFloor:              0.9,
		CustomerRiskBar:           0.6,
		CustomerRiskFloor:         0.6,
		MediumThreshold:           0.3,
		HighThreshold:             0.6,
		CriticalThreshold:         0.85,
		Actions: map[RiskLevel]Action{
			RiskLevelLow:      ActionAllow,
			RiskLevelMedium:   ActionHold,
			RiskLevelHigh:     ActionBlock,
			RiskLevelCritical: ActionBlock,
		},
	}
}

// Candidate 待评分的候选交易
type Candidate struct {
	TransactionID string
	AccountID     string
	Type          string
	Amount        decimal.Decimal
	Currency      string
	Counterparty  string
	At            time.Time
}

// History 账户近期活动聚合，由 HistoryProvider 提供
type History struct {
	CountLastHour int             `json:"count_last_hour"`
	SumLastHour   decimal.Decimal `json:"sum_last_hour"`
	CountLastDay  int             `json:"count_last_day"`
	SumLastDay    decimal.Decimal `json:"sum_last_day"`
	// 30 天金额均值与标准差
	Mean30d   float64 `json:"mean_30d"`
	StdDev30d float64 `json:"std_dev_30d"`
	// 90 天内出现过的交易对手
	Counterparties map[string]bool `json:"counterparties"`
}

// HistoryProvider 提供账户的近期活动聚合
type HistoryProvider interface {
	History(ctx context.Context, accountID string, at time.Time) (*History, error)
}

// Scorer 欺诈评分器：对账户近期活动与候选交易的纯函数，无副作用
type Scorer struct {
	cfg Config
	now func() time.Time
}

// NewScorer 创建评分器
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg, now: time.Now}
}

// Score 计算候选交易的欺诈评估
//
// 加权信号分与硬规则下限取较大者作为最终分，再按阈值映射到风险等级与
// 处置动作；触发的指标按固定顺序完整输出。
func (s *Scorer) Score(account *ledger.Account, candidate Candidate, history *History) *Assessment {
	if history == nil {
		history = &History{}
	}

	var weighted float64
	var indicators []Indicator

	// 速度信号：1h/24h 窗口内的笔数与金额
	if signal, desc := s.velocitySignal(candidate, history); signal > 0 {
		weighted += signal * s.cfg.VelocityWeight
		indicators = append(indicators, Indicator{
			Code:        "velocity",
			Description: desc,
			Severity:    "high",
			Signal:      signal,
		})
	}

	// 金额偏离信号：与 30 天均值的标准差倍数
	if signal, desc := s.deviationSignal(candidate, history); signal > 0 {
		weighted += signal * s.cfg.AmountDeviationWeight
		indicators = append(indicators, Indicator{
			Code:        "amount_deviation",
			Description: desc,
			Severity:    "medium",
			Signal:      signal,
		})
	}

	// 交易对手新颖性信号
	if candidate.Counterparty != "" && !history.Counterparties[candidate.Counterparty] {
		signal := 0.7
		weighted += signal * s.cfg.CounterpartyNoveltyWeight
		indicators = append(indicators, Indicator{
			Code:        "counterparty_novelty",
			Description: fmt.Sprintf("counterparty %s not seen in trailing window", candidate.Counterparty),
			Severity:    "medium",
			Signal:      signal,
		})
	}

	// 时间异常信号：夜间时段
	hour := candidate.At.Hour()
	if hour >= s.cfg.NightStartHour && hour < s.cfg.NightEndHour {
		signal := 0.5
		weighted += signal * s.cfg.TimeAnomalyWeight
		indicators = append(indicators, Indicator{
			Code:        "time_anomaly",
			Description: fmt.Sprintf("transaction at unusual hour %02d", hour),
			Severity:    "low",
			Signal:      signal,
		})
	}

	weighted = math.Min(1.0, weighted)

	// 硬规则强制分数下限，与加权分无关
	var floor float64
	if candidate.Amount.GreaterThan(s.cfg.AbsoluteCeiling) {
		floor = math.Max(floor, s.cfg.CeilingFloor)
		indicators = append(indicators, Indicator{
			Code:        "absolute_ceiling",
			Description: fmt.Sprintf("amount %s exceeds absolute ceiling %s", candidate.Amount, s.cfg.AbsoluteCeiling),
			Severity:    "critical",
			Signal:      s.cfg.CeilingFloor,
		})
	}
	if account != nil && account.DeclaredRiskScore >= s.cfg.CustomerRiskBar {
		floor = math.Max(floor, s.cfg.CustomerRiskFloor)
		indicators = append(indicators, Indicator{
			Code:        "customer_risk",
			Description: fmt.Sprintf("declared customer risk score %.2f at or above bar %.2f", account.DeclaredRiskScore, s.cfg.CustomerRiskBar),
			Severity:    "high",
			Signal:      s.cfg.CustomerRiskFloor,
		})
	}

	final := math.Max(weighted, floor)
	level := s.riskLevel(final)

	return &Assessment{
		TransactionID: candidate.TransactionID,
		Score:         final,
		RiskLevel:     level,
		Indicators:    indicators,
		Action:        s.action(level),
		ComputedAt:    s.now(),
	}
}

func (s *Scorer) velocitySignal(candidate Candidate, history *History) (float64, string) {
	countHour := history.CountLastHour + 1
	sumHour := history.SumLastHour.Add(candidate.Amount.Abs())
	if countHour > s.cfg.MaxTxPerHour || sumHour.GreaterThan(s.cfg.MaxAmountPerHour) {
		return 0.8, fmt.Sprintf("hourly velocity exceeded: %d transactions, total %s", countHour, sumHour)
	}

	countDay := history.CountLastDay + 1
	sumDay := history.SumLastDay.Add(candidate.Amount.Abs())
	if countDay > s.cfg.MaxTxPerDay || sumDay.GreaterThan(s.cfg.MaxAmountPerDay) {
		return 0.8, fmt.Sprintf("daily velocity exceeded: %d transactions, total %s", countDay, sumDay)
	}
	return 0, ""
}

func (s *Scorer) deviationSignal(candidate Candidate, history *History) (float64, string) {
	amount, _ := candidate.Amount.Abs().Float64()
	if history.StdDev30d > 0 {
		z := math.Abs(amount-history.Mean30d) / history.StdDev30d
		if z >= s.cfg.DeviationSigma {
			return 0.6, fmt.Sprintf("amount deviates %.1f sigma from 30d mean %.2f", z, history.Mean30d)
		}
		return 0, ""
	}
	// 标准差不可用时退化为均值倍数判断
	if history.Mean30d > 0 && amount > history.Mean30d*s.cfg.DeviationSigma {
		return 0.6, fmt.Sprintf("amount %.2f exceeds %.0fx the 30d mean %.2f", amount, s.cfg.DeviationSigma, history.Mean30d)
	}
	return 0, ""
}

func (s *Scorer) riskLevel(score float64) RiskLevel {
	switch {
	case score >= s.cfg.CriticalThreshold:
		return RiskLevelCritical
	case score >= s.cfg.HighThreshold:
		return RiskLevelHigh
	case score >= s.cfg.MediumThreshold:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

func (s *Scorer) action(level RiskLevel) Action {
	if action, ok := s.cfg.Actions[level]; ok {
		return action
	}
	// 未配置映射时按保守缺省处理
	switch level {
	case RiskLevelLow:
		return ActionAllow
	case RiskLevelMedium:
		return ActionHold
	default:
		return ActionBlock
	}
}
