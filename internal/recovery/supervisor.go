// 包 recovery 恢复监督：挂起交易的确认推进与账本对账巡检
//
// 监督器周期性扫描到期的挂起交易，向外部确认渠道询问处置结果；确认
// 耗尽或被拒绝的交易收敛到失败终态，已落账但状态未推进的交易补齐为
// 已过账，必要时签发补偿冲正。崩溃后重启即恢复，无需额外状态。
package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wyfcoding/corebanking/internal/audit"
	ledger "github.com/wyfcoding/corebanking/internal/ledger/domain"
	"github.com/wyfcoding/corebanking/internal/router/application"
	"github.com/wyfcoding/corebanking/internal/router/domain"
	"github.com/wyfcoding/corebanking/pkg/logger"
	"github.com/wyfcoding/corebanking/pkg/metrics"
	"github.com/wyfcoding/corebanking/pkg/retry"
)

// Decision 外部确认渠道的处置结果
type Decision int8

const (
	DecisionPending  Decision = 0
	DecisionApproved Decision = 1
	DecisionRejected Decision = 2
)

// ConfirmationProvider 外部确认渠道
//
// 返回 DecisionPending 表示结果尚未可知，监督器按退避稍后再问。
type ConfirmationProvider interface {
	Confirm(ctx context.Context, tx *domain.Transaction) (Decision, error)
}

// Options 监督器运行参数
type Options struct {
	ScanInterval time.Duration
	// 确认退避初始值与上限
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// 最大确认尝试次数，超过后收敛到失败
	MaxAttempts int
	// 对账巡检周期，0 表示禁用
	ReconcileInterval time.Duration
	// 单次扫描的最大交易数
	ScanBatch int
}

// Supervisor 恢复监督器
type Supervisor struct {
	repo     domain.TransactionRepository
	store    ledger.Store
	router   *application.Service
	provider ConfirmationProvider
	auditor  audit.Publisher
	metrics  *metrics.Metrics
	opts     Options

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor 创建恢复监督器
func NewSupervisor(
	repo domain.TransactionRepository,
	store ledger.Store,
	router *application.Service,
	provider ConfirmationProvider,
	auditor audit.Publisher,
	m *metrics.Metrics,
	opts Options,
) *Supervisor {
	if opts.ScanBatch <= 0 {
		opts.ScanBatch = 100
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Supervisor{
		repo:     repo,
		store:    store,
		router:   router,
		provider: provider,
		auditor:  auditor,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// Start 启动扫描与对账巡检循环
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.scanLoop(ctx)

	if s.opts.ReconcileInterval > 0 {
		s.wg.Add(1)
		go s.reconcileLoop(ctx)
	}
	logger.Info(ctx, "recovery supervisor started",
		"scan_interval", s.opts.ScanInterval.String(), "max_attempts", s.opts.MaxAttempts)
}

// Stop 停止监督器并等待循环退出
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Supervisor) scanLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil {
				logger.Error(ctx, "held transaction scan failed", "error", err)
			}
		}
	}
}

func (s *Supervisor) reconcileLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ReconcileOnce(ctx); err != nil {
				logger.Error(ctx, "reconciliation sweep failed", "error", err)
			}
		}
	}
}

// ScanOnce 处理一批到期的挂起交易
func (s *Supervisor) ScanOnce(ctx context.Context) error {
	due, err := s.repo.ListHeldDue(ctx, s.now(), s.opts.ScanBatch)
	if err != nil {
		return err
	}
	for _, tx := range due {
		if err := s.process(ctx, tx); err != nil {
			logger.Error(ctx, "failed to advance held transaction",
				"transaction_id", tx.TransactionID, "error", err)
		}
	}
	return nil
}

// process 推进单笔挂起交易
func (s *Supervisor) process(ctx context.Context, tx *domain.Transaction) error {
	// 崩溃修复：分录已落账而状态未推进的交易直接补齐为已过账
	entries, err := s.store.EntriesByTransaction(ctx, tx.TransactionID)
	if err != nil {
		return err
	}
	committed := len(entries) > 0

	decision := DecisionPending
	if s.provider != nil {
		decision, err = s.provider.Confirm(ctx, tx)
		if err != nil {
			logger.Warn(ctx, "confirmation provider unavailable",
				"transaction_id", tx.TransactionID, "error", err)
			decision = DecisionPending
		}
	}

	switch decision {
	case DecisionApproved:
		if committed {
			return s.finalizePosted(ctx, tx)
		}
		if err := s.router.CompleteHeld(ctx, tx); err != nil {
			if errors.Is(err, ledger.ErrVersionConflict) {
				s.metrics.VersionConflicts.Inc()
				return s.reschedule(ctx, tx)
			}
			// 放行时余额已不足等校验失败，收敛到失败
			return s.fail(ctx, tx, err.Error())
		}
		return nil

	case DecisionRejected:
		if committed {
			// 已落账交易被拒绝：补齐为已过账并签发补偿冲正
			if err := s.finalizePosted(ctx, tx); err != nil {
				return err
			}
			_, err := s.router.Reverse(ctx, tx.TransactionID, "rejected after provisional commit")
			return err
		}
		return s.fail(ctx, tx, "rejected by confirmation provider")

	default: // pending
		if committed {
			return s.finalizePosted(ctx, tx)
		}
		tx.ConfirmationAttempts++
		if tx.ConfirmationAttempts >= s.opts.MaxAttempts {
			return s.fail(ctx, tx, "confirmation attempts exhausted")
		}
		return s.reschedule(ctx, tx)
	}
}

// reschedule 按指数退避安排下一次确认尝试
func (s *Supervisor) reschedule(ctx context.Context, tx *domain.Transaction) error {
	backoff := s.opts.InitialBackoff
	for i := 1; i < tx.ConfirmationAttempts; i++ {
		backoff = retry.NextDelay(backoff, s.opts.MaxBackoff)
	}
	next := s.now().Add(backoff)
	tx.NextAttemptAt = &next
	if err := s.repo.Save(ctx, tx); err != nil {
		return err
	}
	logger.Info(ctx, "held transaction rescheduled",
		"transaction_id", tx.TransactionID, "attempt", tx.ConfirmationAttempts, "next_attempt_at", next)
	return nil
}

func (s *Supervisor) finalizePosted(ctx context.Context, tx *domain.Transaction) error {
	if err := tx.MarkPosted(s.now()); err != nil {
		return err
	}
	tx.NextAttemptAt = nil
	if err := s.repo.Save(ctx, tx); err != nil {
		return err
	}
	s.metrics.TransactionsPosted.Inc()
	s.publishAudit(ctx, tx, "recover", map[string]interface{}{"outcome": "posted"})
	logger.Info(ctx, "held transaction finalized as posted", "transaction_id", tx.TransactionID)
	return nil
}

func (s *Supervisor) fail(ctx context.Context, tx *domain.Transaction, reason string) error {
	if err := tx.MarkFailed(reason); err != nil {
		return err
	}
	tx.NextAttemptAt = nil
	if err := s.repo.Save(ctx, tx); err != nil {
		return err
	}
	s.metrics.TransactionsFailed.Inc()
	s.publishAudit(ctx, tx, "recover", map[string]interface{}{"outcome": "failed", "reason": reason})
	logger.Info(ctx, "held transaction failed during recovery",
		"transaction_id", tx.TransactionID, "reason", reason)
	return nil
}

// ReconcileOnce 对全部账户执行一次余额对账
func (s *Supervisor) ReconcileOnce(ctx context.Context) error {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	var mismatches int
	for _, account := range accounts {
		report, err := s.store.Reconcile(ctx, account.AccountID)
		if err != nil {
			logger.Error(ctx, "reconcile failed", "account_id", account.AccountID, "error", err)
			continue
		}
		if report.Consistent {
			continue
		}
		mismatches++
		s.metrics.ReconciliationMismatches.Inc()
		logger.Error(ctx, "reconciliation mismatch",
			"account_id", report.AccountID,
			"stored_balance", report.StoredBalance.String(),
			"computed_balance", report.ComputedBalance.String(),
			"entry_count", report.EntryCount)
		if s.auditor != nil {
			event := audit.Event{
				EventType:  "ledger.mismatch",
				EntityType: "account",
				EntityID:   report.AccountID,
				Action:     "reconcile",
				Status:     "mismatch",
				Details: map[string]interface{}{
					"stored_balance":   report.StoredBalance.String(),
					"computed_balance": report.ComputedBalance.String(),
				},
				CreatedAt: s.now(),
			}
			if err := s.auditor.Publish(ctx, event); err != nil {
				logger.Warn(ctx, "audit publish failed", "account_id", report.AccountID, "error", err)
			}
		}
	}
	logger.Info(ctx, "reconciliation sweep finished",
		"accounts", len(accounts), "mismatches", mismatches)
	return nil
}

func (s *Supervisor) publishAudit(ctx context.Context, tx *domain.Transaction, action string, details map[string]interface{}) {
	if s.auditor == nil {
		return
	}
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
