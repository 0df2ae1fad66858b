package posting_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"

	ledger "github.com/wyfcoding/corebanking/internal/ledger/domain"
	"github.com/wyfcoding/corebanking/internal/ledger/infrastructure/persistence/memory"
	"github.com/wyfcoding/corebanking/internal/posting"
)

func newIDGen() func(string) string {
	var n int64
	return func(prefix string) string {
		return fmt.Sprintf("%s%d", prefix, atomic.AddInt64(&n, 1))
	}
}

func setup(t *testing.T) (ledger.Store, *posting.Engine) {
	t.Helper()
	store := memory.NewStore()
	engine := posting.NewEngine(store, newIDGen())
	return store, engine
}

// fund 通过一笔过账给账户注入期初余额，对侧记到现金过渡账户
func fund(t *testing.T, store ledger.Store, engine *posting.Engine, accountID, amount string) {
	t.Helper()
	txID := fmt.Sprintf("FUND-%s", accountID)
	legs := []posting.Leg{
		{AccountID: accountID, Amount: decimal.RequireFromString(amount), Currency: "USD"},
		{AccountID: "SYS-CASH", Amount: decimal.RequireFromString(amount).Neg(), Currency: "USD"},
	}
	if _, err := engine.Commit(context.Background(), txID, legs); err != nil {
		t.Fatalf("fund %s: %v", accountID, err)
	}
}

func create(t *testing.T, store ledger.Store, id string, status ledger.AccountStatus, overdraft string) {
	t.Helper()
	account := &ledger.Account{
		AccountID:        id,
		CustomerID:       "CUST-1",
		Currency:         "USD",
		Balance:          decimal.Zero,
		AvailableBalance: decimal.Zero,
		OverdraftLimit:   decimal.RequireFromString(overdraft),
		Status:           status,
	}
	if err := store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func createCash(t *testing.T, store ledger.Store) {
	t.Helper()
	create(t, store, "SYS-CASH", ledger.AccountStatusActive, "1000000000")
}

func TestValidateBalance(t *testing.T) {
	tests := []struct {
		name string
		legs []posting.Leg
		want error
	}{
		{
			name: "balanced pair",
			legs: []posting.Leg{
				{AccountID: "A", Amount: decimal.NewFromInt(10), Currency: "USD"},
				{AccountID: "B", Amount: decimal.NewFromInt(-10), Currency: "USD"},
			},
			want: nil,
		},
		{
			name: "single leg",
			legs: []posting.Leg{{AccountID: "A", Amount: decimal.NewFromInt(10), Currency: "USD"}},
			want: posting.ErrTooFewLegs,
		},
		{
			name: "unbalanced",
			legs: []posting.Leg{
				{AccountID: "A", Amount: decimal.NewFromInt(10), Currency: "USD"},
				{AccountID: "B", Amount: decimal.NewFromInt(-9), Currency: "USD"},
			},
			want: posting.ErrUnbalancedLegs,
		},
		{
			name: "balanced per currency",
			legs: []posting.Leg{
				{AccountID: "A", Amount: decimal.NewFromInt(10), Currency: "USD"},
				{AccountID: "B", Amount: decimal.NewFromInt(-10), Currency: "USD"},
				{AccountID: "C", Amount: decimal.NewFromInt(5), Currency: "EUR"},
				{AccountID: "D", Amount: decimal.NewFromInt(-5), Currency: "EUR"},
			},
			want: nil,
		},
		{
			name: "cross currency mismatch",
			legs: []posting.Leg{
				{AccountID: "A", Amount: decimal.NewFromInt(10), Currency: "USD"},
				{AccountID: "B", Amount: decimal.NewFromInt(-10), Currency: "EUR"},
			},
			want: posting.ErrUnbalancedLegs,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := posting.ValidateBalance(tt.legs); !errors.Is(err, tt.want) {
				t.Errorf("ValidateBalance() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCommitTransfer(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t)
	createCash(t, store)
	create(t, store, "ACC-A", ledger.AccountStatusActive, "0")
	create(t, store, "ACC-B", ledger.AccountStatusActive, "0")
	fund(t, store, engine, "ACC-A", "60")

	legs := []posting.Leg{
		{AccountID: "ACC-A", Amount: decimal.RequireFromString("-40"), Currency: "USD"},
		{AccountID: "ACC-B", Amount: decimal.RequireFromString("40"), Currency: "USD"},
	}
	balances, err := engine.Commit(ctx, "TXN-1", legs)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !balances["ACC-A"].Equal(decimal.RequireFromString("20")) {
		t.Errorf("ACC-A = %s, want 20", balances["ACC-A"])
	}
	if !balances["ACC-B"].Equal(decimal.RequireFromString("40")) {
		t.Errorf("ACC-B = %s, want 40", balances["ACC-B"])
	}

	for _, id := range []string{"ACC-A", "ACC-B", "SYS-CASH"} {
		report, err := store.Reconcile(ctx, id)
		if err != nil {
			t.Fatalf("reconcile %s: %v", id, err)
		}
		if !report.Consistent {
			t.Errorf("%s inconsistent after commit", id)
		}
	}
}

func TestCommitInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t)
	createCash(t, store)
	create(t, store, "ACC-A", ledger.AccountStatusActive, "0")
	fund(t, store, engine, "ACC-A", "30")

	legs := []posting.Leg{
		{AccountID: "ACC-A", Amount: decimal.RequireFromString("-31"), Currency: "USD"},
		{AccountID: "SYS-CASH", Amount: decimal.RequireFromString("31"), Currency: "USD"},
	}
	if _, err := engine.Commit(ctx, "TXN-1", legs); !errors.Is(err, posting.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	entries, _ := store.EntriesByTransaction(ctx, "TXN-1")
	if len(entries) != 0 {
		t.Errorf("rejected commit left %d entries", len(entries))
	}
}

func TestCommitOverdraftCoversDebit(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t)
	createCash(t, store)
	create(t, store, "ACC-A", ledger.AccountStatusActive, "50")
	fund(t, store, engine, "ACC-A", "30")

	legs := []posting.Leg{
		{AccountID: "ACC-A", Amount: decimal.RequireFromString("-70"), Currency: "USD"},
		{AccountID: "SYS-CASH", Amount: decimal.RequireFromString("70"), Currency: "USD"},
	}
	balances, err := engine.Commit(ctx, "TXN-1", legs)
	if err != nil {
		t.Fatalf("commit within overdraft: %v", err)
	}
	if !balances["ACC-A"].Equal(decimal.RequireFromString("-40")) {
		t.Errorf("ACC-A = %s, want -40", balances["ACC-A"])
	}
}

func TestCommitFrozenAccount(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t)
	createCash(t, store)
	create(t, store, "ACC-A", ledger.AccountStatusActive, "0")
	fund(t, store, engine, "ACC-A", "100")
	if err := store.SetAccountStatus(ctx, "ACC-A", ledger.AccountStatusFrozen); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	debit := []posting.Leg{
		{AccountID: "ACC-A", Amount: decimal.RequireFromString("-10"), Currency: "USD"},
		{AccountID: "SYS-CASH", Amount: decimal.RequireFromString("10"), Currency: "USD"},
	}
	if _, err := engine.Commit(ctx, "TXN-1", debit); !errors.Is(err, posting.ErrAccountFrozen) {
		t.Fatalf("expected ErrAccountFrozen on debit, got %v", err)
	}

	// 冻结账户仍然接受贷记
	credit := []posting.Leg{
		{AccountID: "ACC-A", Amount: decimal.RequireFromString("10"), Currency: "USD"},
		{AccountID: "SYS-CASH", Amount: decimal.RequireFromString("-10"), Currency: "USD"},
	}
	if _, err := engine.Commit(ctx, "TXN-2", credit); err != nil {
		t.Fatalf("credit to frozen account: %v", err)
	}
}

// 同账户的贷记腿不能抵消借记腿：冻结校验按腿执行，净贷记也不放行
func TestCommitFrozenAccountDebitLegWithNetCredit(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t)
	createCash(t, store)
	create(t, store, "ACC-F", ledger.AccountStatusActive, "0")
	create(t, store, "ACC-B", ledger.AccountStatusActive, "0")
	fund(t, store, engine, "ACC-B", "50")
	if err := store.SetAccountStatus(ctx, "ACC-F", ledger.AccountStatusFrozen); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	legs := []posting.Leg{
		{AccountID: "ACC-F", Amount: decimal.RequireFromString("-100"), Currency: "USD"},
		{AccountID: "ACC-F", Amount: decimal.RequireFromString("150"), Currency: "USD"},
		{AccountID: "ACC-B", Amount: decimal.RequireFromString("-50"), Currency: "USD"},
	}
	if _, err := engine.Commit(ctx, "TXN-1", legs); !errors.Is(err, posting.ErrAccountFrozen) {
		t.Fatalf("expected ErrAccountFrozen, got %v", err)
	}
	entries, _ := store.EntriesByTransaction(ctx, "TXN-1")
	if len(entries) != 0 {
		t.Errorf("rejected commit left %d entries", len(entries))
	}
}

// 资金校验按腿执行：余额为零的借记腿即使被同笔贷记腿覆盖也不放行
func TestCommitUnfundedDebitLegWithNetCredit(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t)
	createCash(t, store)
	create(t, store, "ACC-A", ledger.AccountStatusActive, "0")
	create(t, store, "ACC-B", ledger.AccountStatusActive, "0")
	fund(t, store, engine, "ACC-B", "150")

	legs := []posting.Leg{
		{AccountID: "ACC-A", Amount: decimal.RequireFromString("-100"), Currency: "USD"},
		{AccountID: "ACC-A", Amount: decimal.RequireFromString("150"), Currency: "USD"},
		{AccountID: "ACC-B", Amount: decimal.RequireFromString("-50"), Currency: "USD"},
	}
	if _, err := engine.Commit(ctx, "TXN-1", legs); !errors.Is(err, posting.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

// 多条借记腿逐条通过后仍需覆盖净流出
func TestCommitMultipleDebitLegsExceedNetCapacity(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t)
	createCash(t, store)
	create(t, store, "ACC-A", ledger.AccountStatusActive, "0")
	create(t, store, "ACC-B", ledger.AccountStatusActive, "0")
	fund(t, store, engine, "ACC-A", "80")

	legs := []posting.Leg{
		{AccountID: "ACC-A", Amount: decimal.RequireFromString("-60"), Currency: "USD"},
		{AccountID: "ACC-A", Amount: decimal.RequireFromString("-40"), Currency: "USD"},
		{AccountID: "ACC-B", Amount: decimal.RequireFromString("100"), Currency: "USD"},
	}
	if _, err := engine.Commit(ctx, "TXN-1", legs); !errors.Is(err, posting.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestCommitClosedAccount(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t)
	createCash(t, store)
	create(t, store, "ACC-A", ledger.AccountStatusClosed, "0")

	legs := []posting.Leg{
		{AccountID: "ACC-A", Amount: decimal.RequireFromString("10"), Currency: "USD"},
		{AccountID: "SYS-CASH", Amount: decimal.RequireFromString("-10"), Currency: "USD"},
	}
	if _, err := engine.Commit(ctx, "TXN-1", legs); !errors.Is(err, posting.ErrAccountClosed) {
		t.Fatalf("expected ErrAccountClosed, got %v", err)
	}
}

func TestCommitCurrencyMismatch(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t)
	createCash(t, store)
	create(t, store, "ACC-A", ledger.AccountStatusActive, "0")

	legs := []posting.Leg{
		{AccountID: "ACC-A", Amount: decimal.RequireFromString("10"), Currency: "EUR"},
		{AccountID: "SYS-CASH", Amount: decimal.RequireFromString("-10"), Currency: "EUR"},
	}
	if _, err := engine.Commit(ctx, "TXN-1", legs); !errors.Is(err, posting.ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
}

// 并发提交两笔借记：版本冲突方重试后以新快照重新校验，余额永不透支
func TestCommitConcurrentDebits(t *testing.T) {
	ctx := context.Background()
	store, engine := setup(t)
	createCash(t, store)
	create(t, store, "ACC-A", ledger.AccountStatusActive, "0")
	fund(t, store, engine, "ACC-A", "60")

	withdraw := func(txID, amount string) error {
		for {
			legs := []posting.Leg{
				{AccountID: "ACC-A", Amount: decimal.RequireFromString(amount).Neg(), Currency: "USD"},
				{AccountID: "SYS-CASH", Amount: decimal.RequireFromString(amount), Currency: "USD"},
			}
			_, err := engine.Commit(ctx, txID, legs)
			if errors.Is(err, ledger.ErrVersionConflict) {
				continue
			}
			return err
		}
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); results[0] = withdraw("TXN-40", "40") }()
	go func() { defer wg.Done(); results[1] = withdraw("TXN-30", "30") }()
	wg.Wait()

	var failures int
	for _, err := range results {
		if err != nil {
			if !errors.Is(err, posting.ErrInsufficientFunds) {
				t.Fatalf("unexpected error: %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one insufficient-funds failure, got %d", failures)
	}

	account, _ := store.GetAccount(ctx, "ACC-A")
	if account.Balance.IsNegative() {
		t.Errorf("balance went negative: %s", account.Balance)
	}
	report, _ := store.Reconcile(ctx, "ACC-A")
	if !report.Consistent {
		t.Errorf("ledger inconsistent after concurrent commits")
	}
}

func TestNegate(t *testing.T) {
	legs := []posting.Leg{
		{AccountID: "A", Amount: decimal.RequireFromString("12.34"), Currency: "USD"},
		{AccountID: "B", Amount: decimal.RequireFromString("-12.34"), Currency: "USD"},
	}
	negated := posting.Negate(legs)
	if !negated[0].Amount.Equal(decimal.RequireFromString("-12.34")) {
		t.Errorf("negated[0] = %s", negated[0].Amount)
	}
	if err := posting.ValidateBalance(negated); err != nil {
		t.Errorf("negated legs unbalanced: %v", err)
	}
}
