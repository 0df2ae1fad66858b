package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	ledger "github.com/wyfcoding/corebanking/internal/ledger/domain"
)

func testAccount(riskScore float64) *ledger.Account {
	return &ledger.Account{
		AccountID:         "ACC-1",
		Currency:          "USD",
		Status:            ledger.AccountStatusActive,
		DeclaredRiskScore: riskScore,
	}
}

func candidateAt(amount string, hour int) Candidate {
	return Candidate{
		TransactionID: "TXN-1",
		AccountID:     "ACC-1",
		Type:          "withdrawal",
		Amount:        decimal.RequireFromString(amount),
		Currency:      "USD",
		At:            time.Date(2025, 6, 15, hour, 0, 0, 0, time.UTC),
	}
}

func TestScoreQuietHistoryAllows(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	history := &History{Mean30d: 100, StdDev30d: 20, Counterparties: map[string]bool{}}

	assessment := scorer.Score(testAccount(0), candidateAt("100", 14), history)
	if assessment.RiskLevel != RiskLevelLow {
		t.Errorf("risk level = %s, want low", assessment.RiskLevel)
	}
	if assessment.Action != ActionAllow {
		t.Errorf("action = %s, want allow", assessment.Action)
	}
	if len(assessment.Indicators) != 0 {
		t.Errorf("expected no indicators, got %d", len(assessment.Indicators))
	}
}

func TestScoreVelocityHoldsAtMediumBand(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	// 仅速度信号触发：0.8 * 0.4 = 0.32，落在 medium 档
	history := &History{CountLastHour: 10, SumLastHour: decimal.NewFromInt(500)}

	assessment := scorer.Score(testAccount(0), candidateAt("50", 14), history)
	if assessment.RiskLevel != RiskLevelMedium {
		t.Errorf("risk level = %s, want medium (score %.2f)", assessment.RiskLevel, assessment.Score)
	}
	if assessment.Action != ActionHold {
		t.Errorf("action = %s, want hold", assessment.Action)
	}
	if len(assessment.Indicators) != 1 || assessment.Indicators[0].Code != "velocity" {
		t.Errorf("indicators = %+v, want single velocity", assessment.Indicators)
	}
}

func TestScoreAbsoluteCeilingForcesCritical(t *testing.T) {
	scorer := NewScorer(DefaultConfig())

	// 历史再干净也压不住硬规则下限
	history := &History{Mean30d: 100, StdDev30d: 20}
	assessment := scorer.Score(testAccount(0), candidateAt("9000000", 14), history)

	if assessment.Score < 0.9 {
		t.Errorf("score = %.2f, want >= 0.9", assessment.Score)
	}
	if assessment.RiskLevel != RiskLevelCritical {
		t.Errorf("risk level = %s, want critical", assessment.RiskLevel)
	}
	if assessment.Action != ActionBlock {
		t.Errorf("action = %s, want block", assessment.Action)
	}

	var found bool
	for _, ind := range assessment.Indicators {
		if ind.Code == "absolute_ceiling" {
			found = true
		}
	}
	if !found {
		t.Error("missing absolute_ceiling indicator")
	}
}

func TestScoreCustomerRiskFloor(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	history := &History{Mean30d: 100, StdDev30d: 20}

	assessment := scorer.Score(testAccount(0.7), candidateAt("100", 14), history)
	if assessment.Score < 0.6 {
		t.Errorf("score = %.2f, want >= 0.6", assessment.Score)
	}
	if assessment.RiskLevel != RiskLevelHigh {
		t.Errorf("risk level = %s, want high", assessment.RiskLevel)
	}
}

func TestScoreCombinedSignals(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	// 四个信号全触发：0.32 + 0.18 + 0.14 + 0.05 = 0.69 → high
	history := &History{
		CountLastHour:  10,
		SumLastHour:    decimal.NewFromInt(4000),
		Mean30d:        10,
		StdDev30d:      5,
		Counterparties: map[string]bool{"KNOWN-1": true},
	}
	candidate := candidateAt("900", 3)
	candidate.Counterparty = "NEW-BILLER"

	assessment := scorer.Score(testAccount(0), candidate, history)
	if assessment.RiskLevel != RiskLevelHigh {
		t.Errorf("risk level = %s (score %.2f), want high", assessment.RiskLevel, assessment.Score)
	}
	if len(assessment.Indicators) != 4 {
		t.Errorf("indicators = %d, want 4", len(assessment.Indicators))
	}
}

func TestScoreDeviationFallbackWithoutStdDev(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	// 标准差不可用时退化为均值倍数判断
	history := &History{Mean30d: 100}

	assessment := scorer.Score(testAccount(0), candidateAt("400", 14), history)
	var found bool
	for _, ind := range assessment.Indicators {
		if ind.Code == "amount_deviation" {
			found = true
		}
	}
	if !found {
		t.Error("expected amount_deviation indicator via mean-multiple fallback")
	}
}

func TestScoreKnownCounterpartyNotNovel(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	history := &History{
		Mean30d:        100,
		StdDev30d:      20,
		Counterparties: map[string]bool{"BILLER-1": true},
	}
	candidate := candidateAt("100", 14)
	candidate.Counterparty = "BILLER-1"

	assessment := scorer.Score(testAccount(0), candidate, history)
	for _, ind := range assessment.Indicators {
		if ind.Code == "counterparty_novelty" {
			t.Error("known counterparty flagged as novel")
		}
	}
}

func TestScoreNilHistory(t *testing.T) {
	scorer := NewScorer(DefaultConfig())
	assessment := scorer.Score(testAccount(0), candidateAt("100", 14), nil)
	if assessment.Action != ActionAllow {
		t.Errorf("action = %s, want allow for small amount with no history", assessment.Action)
	}
}

func TestActionMappingFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Actions = map[RiskLevel]Action{
		RiskLevelLow:      ActionAllow,
		RiskLevelMedium:   ActionAllow,
		RiskLevelHigh:     ActionHold,
		RiskLevelCritical: ActionBlock,
	}
	scorer := NewScorer(cfg)

	history := &History{CountLastHour: 10}
	assessment := scorer.Score(testAccount(0), candidateAt("50", 14), history)
	if assessment.Action != ActionAllow {
		t.Errorf("action = %s, want allow under relaxed mapping", assessment.Action)
	}
}
