// 包 application 交易路由器应用服务
//
// 路由器是资金移动的唯一入口：意图分解、欺诈评分、过账提交与状态机
// 推进都在这里串联，账本存储只接受路由器固化后的腿集。
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/corebanking/internal/audit"
	fraud "github.com/wyfcoding/corebanking/internal/fraud/domain"
	ledger "github.com/wyfcoding/corebanking/internal/ledger/domain"
	"github.com/wyfcoding/corebanking/internal/posting"
	"github.com/wyfcoding/corebanking/internal/router/domain"
	"github.com/wyfcoding/corebanking/pkg/logger"
	"github.com/wyfcoding/corebanking/pkg/metrics"
)

// SystemAccounts 模板分解使用的系统过渡账户
type SystemAccounts struct {
	Cash        string
	LoanFunding string
}

// Options 路由器运行参数
type Options struct {
	// 版本冲突最大提交尝试次数
	MaxCommitRetries int
	// 冲突重试间隔
	RetryDelay time.Duration
	// 重试累计延迟超过该值时，提交前重新评分
	RescoreAfter time.Duration
	// 系统过渡账户
	System SystemAccounts
}

// Service 交易路由器
type Service struct {
	repo    domain.TransactionRepository
	store   ledger.Store
	engine  *posting.Engine
	scorer  *fraud.Scorer
	history fraud.HistoryProvider
	alerts  *fraud.AlertManager
	auditor audit.Publisher
	metrics *metrics.Metrics

	system           SystemAccounts
	maxCommitRetries int
	retryDelay       time.Duration
	rescoreAfter     time.Duration

	newID func(prefix string) string
	now   func() time.Time
}

// NewService 创建交易路由器
func NewService(
	repo domain.TransactionRepository,
	store ledger.Store,
	engine *posting.Engine,
	scorer *fraud.Scorer,
	history fraud.HistoryProvider,
	alerts *fraud.AlertManager,
	auditor audit.Publisher,
	m *metrics.Metrics,
	opts Options,
	newID func(prefix string) string,
) *Service {
	if opts.MaxCommitRetries <= 0 {
		opts.MaxCommitRetries = 3
	}
	return &Service{
		repo:             repo,
		store:            store,
		engine:           engine,
		scorer:           scorer,
		history:          history,
		alerts:           alerts,
		auditor:          auditor,
		metrics:          m,
		system:           opts.System,
		maxCommitRetries: opts.MaxCommitRetries,
		retryDelay:       opts.RetryDelay,
		rescoreAfter:     opts.RescoreAfter,
		newID:            newID,
		now:              time.Now,
	}
}

// Submit 受理一笔银行意图并推进到终态或挂起
//
// 幂等键重复提交直接返回已有交易，不产生任何新的账务影响。
func (s *Service) Submit(ctx context.Context, intent domain.Intent) (*domain.Transaction, error) {
	if intent.IdempotencyKey == "" {
		return nil, domain.ErrMissingIdempotencyKey
	}
	if existing, err := s.repo.GetByIdempotencyKey(ctx, intent.IdempotencyKey); err == nil {
		logger.Info(ctx, "duplicate submission, returning existing transaction",
			"transaction_id", existing.TransactionID, "idempotency_key", intent.IdempotencyKey)
		return existing, nil
	} else if !errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, err
	}

	dec, err := s.decompose(intent)
	if err != nil {
		return nil, err
	}
	if err := posting.ValidateBalance(dec.legs); err != nil {
		return nil, err
	}

	now := s.now()
	tx := &domain.Transaction{
		TransactionID:  s.newID("TXN"),
		Type:           intent.Type,
		Status:         domain.StatusPending,
		IdempotencyKey: intent.IdempotencyKey,
		AccountID:      dec.accountID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
	}
	if err := tx.SetLegs(dec.legs); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, tx); err != nil {
		// 并发提交输掉幂等键唯一约束的竞争时返回先行者，不再产生新账务
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			logger.Info(ctx, "lost idempotency race, returning winning transaction",
				"idempotency_key", intent.IdempotencyKey)
			return s.repo.GetByIdempotencyKey(ctx, intent.IdempotencyKey)
		}
		return nil, err
	}
	createDetails := map[string]interface{}{"type": string(tx.Type), "amount": tx.Amount.String()}
	if len(intent.Metadata) > 0 {
		createDetails["metadata"] = intent.Metadata
	}
	s.publishAudit(ctx, tx, "create", createDetails)

	candidate := fraud.Candidate{
		TransactionID: tx.TransactionID,
		AccountID:     dec.accountID,
		Type:          string(tx.Type),
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Counterparty:  dec.counterparty,
		At:            now,
	}
	assessment, err := s.score(ctx, tx, candidate)
	if err != nil {
		return s.fail(ctx, tx, err.Error(), err)
	}

	switch assessment.Action {
	case fraud.ActionAllow:
		s.metrics.FraudAllowed.Inc()
		if err := s.commit(ctx, tx, dec.legs, candidate); err != nil {
			return tx, err
		}
		return tx, nil

	case fraud.ActionHold:
		s.metrics.FraudHeld.Inc()
		return s.hold(ctx, tx, assessment)

	default: // block
		s.metrics.FraudBlocked.Inc()
		if _, err := s.alerts.CreateFromAssessment(ctx, tx.AccountID, assessment); err != nil {
			logger.Error(ctx, "failed to create fraud alert", "transaction_id", tx.TransactionID, "error", err)
		}
		if _, err := s.fail(ctx, tx, "blocked by fraud gate", nil); err != nil {
			return tx, err
		}
		return tx, domain.ErrFraudBlocked
	}
}

// Get 查询交易
func (s *Service) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return s.repo.Get(ctx, transactionID)
}

// GetByIdempotencyKey 按幂等键查询交易
func (s *Service) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	return s.repo.GetByIdempotencyKey(ctx, key)
}

// ResolveHeld 人工复核挂起交易：通过则提交过账，否则置为失败
func (s *Service) ResolveHeld(ctx context.Context, transactionID string, approve bool, note string) (*domain.Transaction, error) {
	tx, err := s.repo.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusHeld {
		return nil, domain.ErrInvalidTransition
	}
	if !approve {
		reason := "rejected on review"
		if note != "" {
			reason = fmt.Sprintf("rejected on review: %s", note)
		}
		return s.fail(ctx, tx, reason, nil)
	}

	legs, err := tx.Legs()
	if err != nil {
		return nil, err
	}
	// 复核通过即视为最终放行，不再重新评分
	if err := s.commitOnce(ctx, tx, legs); err != nil {
		return tx, err
	}
	return tx, nil
}

// CompleteHeld 恢复监督确认放行挂起交易
func (s *Service) CompleteHeld(ctx context.Context, tx *domain.Transaction) error {
	legs, err := tx.Legs()
	if err != nil {
		return err
	}
	return s.commitOnce(ctx, tx, legs)
}

// Cancel 取消 pending/held 交易，终态交易只能冲正
func (s *Service) Cancel(ctx context.Context, transactionID, reason string) (*domain.Transaction, error) {
	tx, err := s.repo.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status.Terminal() {
		return nil, domain.ErrNotCancellable
	}
	if reason == "" {
		reason = "cancelled"
	} else {
		reason = fmt.Sprintf("cancelled: %s", reason)
	}
	return s.fail(ctx, tx, reason, nil)
}

// Reverse 为已过账交易签发补偿冲正
//
// 冲正腿集是原腿集的精确取反，绕过欺诈评分直接提交；幂等键由原交易
// 派生，同一笔交易的重复冲正返回首次冲正结果。
func (s *Service) Reverse(ctx context.Context, transactionID, reason string) (*domain.Transaction, error) {
	original, err := s.repo.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Status != domain.StatusPosted {
		return nil, domain.ErrNotReversible
	}

	key := "REV-" + original.TransactionID
	if existing, err := s.repo.GetByIdempotencyKey(ctx, key); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, err
	}

	legs, err := original.Legs()
	if err != nil {
		return nil, err
	}
	reversal := &domain.Transaction{
		TransactionID:  s.newID("TXN"),
		Type:           domain.TypeReversal,
		Status:         domain.StatusPending,
		IdempotencyKey: key,
		AccountID:      original.AccountID,
		Amount:         original.Amount,
		Currency:       original.Currency,
		ReversalOf:     original.TransactionID,
	}
	negated := posting.Negate(legs)
	if err := reversal.SetLegs(negated); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, reversal); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			return s.repo.GetByIdempotencyKey(ctx, key)
		}
		return nil, err
	}
	s.publishAudit(ctx, reversal, "reverse", map[string]interface{}{
		"reversal_of": original.TransactionID,
		"reason":      reason,
	})

	if err := s.commitWithRetry(ctx, reversal, negated, nil); err != nil {
		return reversal, err
	}
	s.metrics.ReversalsIssued.Inc()
	return reversal, nil
}

// score 调用欺诈评分并把摘要写回交易
func (s *Service) score(ctx context.Context, tx *domain.Transaction, candidate fraud.Candidate) (*fraud.Assessment, error) {
	account, err := s.store.GetAccount(ctx, candidate.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load scored account: %w", err)
	}

	var history *fraud.History
	if s.history != nil {
		history, err = s.history.History(ctx, candidate.AccountID, candidate.At)
		if err != nil {
			// 历史聚合不可用时按空历史评分，硬规则仍然生效
			logger.Warn(ctx, "history provider unavailable, scoring with empty history",
				"account_id", candidate.AccountID, "error", err)
			history = nil
		}
	}

	start := s.now()
	assessment := s.scorer.Score(account, candidate, history)
	s.metrics.ScoreDuration.Observe(s.now().Sub(start).Seconds())

	tx.FraudScore = assessment.Score
	tx.RiskLevel = string(assessment.RiskLevel)
	tx.FraudAction = string(assessment.Action)
	indicators := make([]string, 0, len(assessment.Indicators))
	for _, indicator := range assessment.Indicators {
		indicators = append(indicators, indicator.Code)
	}
	s.publishAudit(ctx, tx, "score", map[string]interface{}{
		"score":      assessment.Score,
		"risk_level": string(assessment.RiskLevel),
		"action":     string(assessment.Action),
		"indicators": indicators,
	})
	return assessment, nil
}

// hold 置为挂起并创建告警，等待复核或恢复监督确认
func (s *Service) hold(ctx context.Context, tx *domain.Transaction, assessment *fraud.Assessment) (*domain.Transaction, error) {
	if err := tx.MarkHeld(); err != nil {
		return nil, err
	}
	now := s.now()
	tx.NextAttemptAt = &now
	if err := s.repo.Save(ctx, tx); err != nil {
		return nil, err
	}
	if _, err := s.alerts.CreateFromAssessment(ctx, tx.AccountID, assessment); err != nil {
		logger.Error(ctx, "failed to create fraud alert", "transaction_id", tx.TransactionID, "error", err)
	}
	s.metrics.TransactionsHeld.Inc()
	s.publishAudit(ctx, tx, "hold", map[string]interface{}{"score": assessment.Score})
	logger.Info(ctx, "transaction held for review",
		"transaction_id", tx.TransactionID, "score", assessment.Score, "risk_level", tx.RiskLevel)
	return tx, nil
}

// fail 置为失败终态
func (s *Service) fail(ctx context.Context, tx *domain.Transaction, reason string, cause error) (*domain.Transaction, error) {
	if err := tx.MarkFailed(reason); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, tx); err != nil {
		return nil, err
	}
	s.metrics.TransactionsFailed.Inc()
	s.publishAudit(ctx, tx, "fail", map[string]interface{}{"reason": reason})
	logger.Info(ctx, "transaction failed", "transaction_id", tx.TransactionID, "reason", reason)
	if cause != nil {
		return tx, cause
	}
	return tx, nil
}

// commit 提交已放行交易，版本冲突按配置重试并在延迟过大时重新评分
func (s *Service) commit(ctx context.Context, tx *domain.Transaction, legs []posting.Leg, candidate fraud.Candidate) error {
	return s.commitWithRetry(ctx, tx, legs, &candidate)
}

func (s *Service) commitWithRetry(ctx context.Context, tx *domain.Transaction, legs []posting.Leg, candidate *fraud.Candidate) error {
	var elapsed time.Duration
	for attempt := 1; ; attempt++ {
		err := s.post(ctx, tx, legs)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ledger.ErrVersionConflict) {
			_, failErr := s.fail(ctx, tx, err.Error(), err)
			if failErr != nil {
				return failErr
			}
			return err
		}

		s.metrics.VersionConflicts.Inc()
		if attempt >= s.maxCommitRetries {
			_, failErr := s.fail(ctx, tx, "commit retries exhausted on version conflict", domain.ErrCommitConflictExhausted)
			if failErr != nil {
				return failErr
			}
			return domain.ErrCommitConflictExhausted
		}

		logger.Warn(ctx, "version conflict, retrying commit",
			"transaction_id", tx.TransactionID, "attempt", attempt)
		if err := sleep(ctx, s.retryDelay); err != nil {
			return err
		}
		elapsed += s.retryDelay

		// 累计延迟超过新鲜度阈值后原评分视为过期，提交前重新评分
		if candidate != nil && s.rescoreAfter > 0 && elapsed >= s.rescoreAfter {
			elapsed = 0
			refreshed := *candidate
			refreshed.At = s.now()
			assessment, err := s.score(ctx, tx, refreshed)
			if err != nil {
				_, failErr := s.fail(ctx, tx, err.Error(), err)
				if failErr != nil {
					return failErr
				}
				return err
			}
			switch assessment.Action {
			case fraud.ActionAllow:
			case fraud.ActionHold:
				s.metrics.FraudHeld.Inc()
				_, err := s.hold(ctx, tx, assessment)
				return err
			default:
				s.metrics.FraudBlocked.Inc()
				if _, err := s.alerts.CreateFromAssessment(ctx, tx.AccountID, assessment); err != nil {
					logger.Error(ctx, "failed to create fraud alert", "transaction_id", tx.TransactionID, "error", err)
				}
				_, failErr := s.fail(ctx, tx, "blocked by fraud gate on rescore", domain.ErrFraudBlocked)
				if failErr != nil {
					return failErr
				}
				return domain.ErrFraudBlocked
			}
		}
	}
}

// commitOnce 单次提交，版本冲突也直接返回给调用方
func (s *Service) commitOnce(ctx context.Context, tx *domain.Transaction, legs []posting.Leg) error {
	return s.post(ctx, tx, legs)
}

// post 过账并推进到 posted
func (s *Service) post(ctx context.Context, tx *domain.Transaction, legs []posting.Leg) error {
	start := s.now()
	balances, err := s.engine.Commit(ctx, tx.TransactionID, legs)
	s.metrics.CommitDuration.Observe(s.now().Sub(start).Seconds())
	if err != nil {
		return err
	}

	if err := tx.MarkPosted(s.now()); err != nil {
		return err
	}
	tx.NextAttemptAt = nil
	if err := s.repo.Save(ctx, tx); err != nil {
		// 分录已落账，状态落库失败交由恢复监督补齐
		logger.Error(ctx, "ledger committed but status save failed",
			"transaction_id", tx.TransactionID, "error", err)
		return err
	}
	s.metrics.TransactionsPosted.Inc()
	s.publishAudit(ctx, tx, "post", map[string]interface{}{"balances": stringBalances(balances)})
	logger.Info(ctx, "transaction posted",
		"transaction_id", tx.TransactionID, "type", string(tx.Type), "amount", tx.Amount.String())
	return nil
}

func (s *Service) publishAudit(ctx context.Context, tx *domain.Transaction, action string, details map[string]interface{}) {
	event := audit.Event{
		EventType:  "transaction." + action,
		EntityType: "transaction",
		EntityID:   tx.TransactionID,
		Action:     action,
		Status:     tx.Status.String(),
		Details:    details,
		CreatedAt:  s.now(),
	}
	if err := s.auditor.Publish(ctx, event); err != nil {
		logger.Warn(ctx, "audit publish failed", "transaction_id", tx.TransactionID, "error", err)
	}
}

func stringBalances(balances map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(balances))
	for accountID, balance := range balances {
		out[accountID] = balance.String()
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
