package recovery

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/corebanking/internal/audit"
	fraud "github.com/wyfcoding/corebanking/internal/fraud/domain"
	fraudmemory "github.com/wyfcoding/corebanking/internal/fraud/infrastructure/persistence/memory"
	ledger "github.com/wyfcoding/corebanking/internal/ledger/domain"
	ledgermemory "github.com/wyfcoding/corebanking/internal/ledger/infrastructure/persistence/memory"
	"github.com/wyfcoding/corebanking/internal/posting"
	"github.com/wyfcoding/corebanking/internal/router/application"
	"github.com/wyfcoding/corebanking/internal/router/domain"
	routermemory "github.com/wyfcoding/corebanking/internal/router/infrastructure/persistence/memory"
	"github.com/wyfcoding/corebanking/pkg/metrics"
)

// scriptedProvider 按固定结果应答确认询问
type scriptedProvider struct {
	decision Decision
	err      error
	calls    int
}

func (p *scriptedProvider) Confirm(ctx context.Context, tx *domain.Transaction) (Decision, error) {
	p.calls++
	return p.decision, p.err
}

type harness struct {
	store      ledger.Store
	repo       domain.TransactionRepository
	router     *application.Service
	provider   *scriptedProvider
	supervisor *Supervisor
	newID      func(string) string
}

func newHarness(t *testing.T, decision Decision) *harness {
	t.Helper()
	var n int64
	newID := func(prefix string) string {
		return fmt.Sprintf("%s%d", prefix, atomic.AddInt64(&n, 1))
	}

	store := ledgermemory.NewStore()
	repo := routermemory.NewTransactionRepository()
	m := metrics.New("test")

	router := application.NewService(
		repo,
		store,
		posting.NewEngine(store, newID),
		fraud.NewScorer(fraud.DefaultConfig()),
		nil,
		fraud.NewAlertManager(fraudmemory.NewAlertRepository(), newID),
		audit.NewRecorder(),
		m,
		application.Options{
			MaxCommitRetries: 3,
			RetryDelay:       time.Millisecond,
			System:           application.SystemAccounts{Cash: "SYS-CASH", LoanFunding: "SYS-LOAN-FUNDING"},
		},
		newID,
	)

	provider := &scriptedProvider{decision: decision}
	supervisor := NewSupervisor(repo, store, router, provider, audit.NewRecorder(), m,
		Options{
			ScanInterval:   time.Second,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     8 * time.Millisecond,
			MaxAttempts:    3,
			ScanBatch:      10,
		})
	return &harness{
		store:      store,
		repo:       repo,
		router:     router,
		provider:   provider,
		supervisor: supervisor,
		newID:      newID,
	}
}

func (h *harness) seedAccount(t *testing.T, id string, overdraft string) {
	t.Helper()
	account := &ledger.Account{
		AccountID:        id,
		CustomerID:       "CUST-1",
		Currency:         "USD",
		Balance:          decimal.Zero,
		AvailableBalance: decimal.Zero,
		OverdraftLimit:   decimal.RequireFromString(overdraft),
		Status:           ledger.AccountStatusActive,
	}
	if err := h.store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
}

// heldTransaction 直接构造一笔到期的挂起交易
func (h *harness) heldTransaction(t *testing.T, accountID, amount string) *domain.Transaction {
	t.Helper()
	due := time.Now().Add(-time.Minute)
	tx := &domain.Transaction{
		TransactionID:  h.newID("TXN"),
		Type:           domain.TypeWithdrawal,
		Status:         domain.StatusHeld,
		IdempotencyKey: h.newID("KEY"),
		AccountID:      accountID,
		Amount:         decimal.RequireFromString(amount),
		Currency:       "USD",
		NextAttemptAt:  &due,
	}
	legs := []posting.Leg{
		{AccountID: accountID, Amount: decimal.RequireFromString(amount).Neg(), Currency: "USD"},
		{AccountID: "SYS-CASH", Amount: decimal.RequireFromString(amount), Currency: "USD"},
	}
	if err := tx.SetLegs(legs); err != nil {
		t.Fatalf("set legs: %v", err)
	}
	if err := h.repo.Save(context.Background(), tx); err != nil {
		t.Fatalf("save held tx: %v", err)
	}
	return tx
}

func (h *harness) fund(t *testing.T, accountID, amount string) {
	t.Helper()
	engine := posting.NewEngine(h.store, h.newID)
	legs := []posting.Leg{
		{AccountID: accountID, Amount: decimal.RequireFromString(amount), Currency: "USD"},
		{AccountID: "SYS-CASH", Amount: decimal.RequireFromString(amount).Neg(), Currency: "USD"},
	}
	if _, err := engine.Commit(context.Background(), h.newID("FUND"), legs); err != nil {
		t.Fatalf("fund %s: %v", accountID, err)
	}
}

func (h *harness) get(t *testing.T, txID string) *domain.Transaction {
	t.Helper()
	tx, err := h.repo.Get(context.Background(), txID)
	if err != nil {
		t.Fatalf("get %s: %v", txID, err)
	}
	return tx
}

func TestScanApprovedCommitsHeld(t *testing.T) {
	h := newHarness(t, DecisionApproved)
	h.seedAccount(t, "SYS-CASH", "1000000000")
	h.seedAccount(t, "ACC-A", "0")
	h.fund(t, "ACC-A", "100")
	tx := h.heldTransaction(t, "ACC-A", "40")

	if err := h.supervisor.ScanOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	got := h.get(t, tx.TransactionID)
	if got.Status != domain.StatusPosted {
		t.Fatalf("status = %s, want POSTED", got.Status)
	}
	account, _ := h.store.GetAccount(context.Background(), "ACC-A")
	if !account.Balance.Equal(decimal.RequireFromString("60")) {
		t.Errorf("balance = %s, want 60", account.Balance)
	}
}

func TestScanRejectedFailsHeld(t *testing.T) {
	h := newHarness(t, DecisionRejected)
	h.seedAccount(t, "SYS-CASH", "1000000000")
	h.seedAccount(t, "ACC-A", "0")
	h.fund(t, "ACC-A", "100")
	tx := h.heldTransaction(t, "ACC-A", "40")

	if err := h.supervisor.ScanOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	got := h.get(t, tx.TransactionID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	account, _ := h.store.GetAccount(context.Background(), "ACC-A")
	if !account.Balance.Equal(decimal.RequireFromString("100")) {
		t.Errorf("rejected hold moved money: %s", account.Balance)
	}
}

func TestScanPendingBacksOffThenExhausts(t *testing.T) {
	h := newHarness(t, DecisionPending)
	h.seedAccount(t, "SYS-CASH", "1000000000")
	h.seedAccount(t, "ACC-A", "0")
	h.fund(t, "ACC-A", "100")
	tx := h.heldTransaction(t, "ACC-A", "40")

	// 第一轮：仍挂起，尝试数加一，下一次尝试在未来
	if err := h.supervisor.ScanOnce(context.Background()); err != nil {
		t.Fatalf("scan 1: %v", err)
	}
	got := h.get(t, tx.TransactionID)
	if got.Status != domain.StatusHeld {
		t.Fatalf("status = %s, want HELD after first scan", got.Status)
	}
	if got.ConfirmationAttempts != 1 {
		t.Errorf("attempts = %d, want 1", got.ConfirmationAttempts)
	}
	if got.NextAttemptAt == nil || !got.NextAttemptAt.After(time.Now().Add(-time.Millisecond)) {
		t.Error("NextAttemptAt not pushed into the future")
	}

	// 把到期时间拨回过去，模拟后续扫描周期
	for i := 0; i < 2; i++ {
		due := time.Now().Add(-time.Minute)
		got.NextAttemptAt = &due
		if err := h.repo.Save(context.Background(), got); err != nil {
			t.Fatalf("rewind: %v", err)
		}
		if err := h.supervisor.ScanOnce(context.Background()); err != nil {
			t.Fatalf("scan %d: %v", i+2, err)
		}
		got = h.get(t, tx.TransactionID)
	}

	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want FAILED after exhaustion", got.Status)
	}
	if got.FailureReason != "confirmation attempts exhausted" {
		t.Errorf("reason = %q", got.FailureReason)
	}
}

// 崩溃修复：分录已落账而状态仍为挂起，扫描补齐为已过账
func TestScanRepairsCommittedHeld(t *testing.T) {
	h := newHarness(t, DecisionPending)
	h.seedAccount(t, "SYS-CASH", "1000000000")
	h.seedAccount(t, "ACC-A", "0")
	h.fund(t, "ACC-A", "100")
	tx := h.heldTransaction(t, "ACC-A", "40")

	// 模拟提交后状态未推进的崩溃窗口
	engine := posting.NewEngine(h.store, h.newID)
	legs, _ := tx.Legs()
	if _, err := engine.Commit(context.Background(), tx.TransactionID, legs); err != nil {
		t.Fatalf("simulate committed legs: %v", err)
	}

	if err := h.supervisor.ScanOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	got := h.get(t, tx.TransactionID)
	if got.Status != domain.StatusPosted {
		t.Fatalf("status = %s, want POSTED via crash repair", got.Status)
	}
	entries, _ := h.store.EntriesByTransaction(context.Background(), tx.TransactionID)
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2 (no double post)", len(entries))
	}
}

// 已落账交易被确认渠道拒绝：补齐为已过账并签发补偿冲正
func TestScanRejectedAfterCommitIssuesReversal(t *testing.T) {
	h := newHarness(t, DecisionRejected)
	h.seedAccount(t, "SYS-CASH", "1000000000")
	h.seedAccount(t, "ACC-A", "0")
	h.fund(t, "ACC-A", "100")
	tx := h.heldTransaction(t, "ACC-A", "40")

	engine := posting.NewEngine(h.store, h.newID)
	legs, _ := tx.Legs()
	if _, err := engine.Commit(context.Background(), tx.TransactionID, legs); err != nil {
		t.Fatalf("simulate committed legs: %v", err)
	}

	if err := h.supervisor.ScanOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}

	got := h.get(t, tx.TransactionID)
	if got.Status != domain.StatusPosted {
		t.Fatalf("original status = %s, want POSTED", got.Status)
	}

	reversal, err := h.repo.GetByIdempotencyKey(context.Background(), "REV-"+tx.TransactionID)
	if err != nil {
		t.Fatalf("reversal not found: %v", err)
	}
	if reversal.Status != domain.StatusPosted {
		t.Fatalf("reversal status = %s, want POSTED", reversal.Status)
	}

	// 冲正后余额复原
	account, _ := h.store.GetAccount(context.Background(), "ACC-A")
	if !account.Balance.Equal(decimal.RequireFromString("100")) {
		t.Errorf("balance = %s, want 100 after reversal", account.Balance)
	}
}

func TestScanSkipsFutureHeld(t *testing.T) {
	h := newHarness(t, DecisionApproved)
	h.seedAccount(t, "SYS-CASH", "1000000000")
	h.seedAccount(t, "ACC-A", "0")
	h.fund(t, "ACC-A", "100")

	tx := h.heldTransaction(t, "ACC-A", "40")
	future := time.Now().Add(time.Hour)
	tx.NextAttemptAt = &future
	if err := h.repo.Save(context.Background(), tx); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := h.supervisor.ScanOnce(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if h.provider.calls != 0 {
		t.Errorf("provider called %d times for future-dated hold", h.provider.calls)
	}
}

func TestReconcileOnce(t *testing.T) {
	h := newHarness(t, DecisionPending)
	h.seedAccount(t, "SYS-CASH", "1000000000")
	h.seedAccount(t, "ACC-A", "0")
	h.fund(t, "ACC-A", "100")

	if err := h.supervisor.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("reconcile sweep: %v", err)
	}
}
