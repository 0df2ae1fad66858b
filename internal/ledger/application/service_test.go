package application

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/corebanking/internal/audit"
	"github.com/wyfcoding/corebanking/internal/ledger/domain"
	"github.com/wyfcoding/corebanking/internal/ledger/infrastructure/persistence/memory"
)

func newService(t *testing.T) (*AccountService, *audit.Recorder, domain.Store) {
	t.Helper()
	var n int
	newID := func(prefix string) string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
	store := memory.NewStore()
	recorder := audit.NewRecorder()
	return NewAccountService(store, recorder, newID), recorder, store
}

func TestOpenAccountStartsEmpty(t *testing.T) {
	service, recorder, _ := newService(t)

	account, err := service.OpenAccount(context.Background(), "CUST-1", "USD", decimal.RequireFromString("500"), 0.2)
	if err != nil {
		t.Fatalf("open account: %v", err)
	}
	if !account.Balance.IsZero() || !account.AvailableBalance.IsZero() {
		t.Errorf("new account not empty: balance=%s available=%s", account.Balance, account.AvailableBalance)
	}
	if account.Status != domain.AccountStatusActive {
		t.Errorf("status = %s, want ACTIVE", account.Status)
	}
	if account.Version != 0 {
		t.Errorf("version = %d, want 0", account.Version)
	}

	events := recorder.Events()
	if len(events) != 1 || events[0].EventType != "account.open" {
		t.Errorf("audit events = %+v, want single account.open", events)
	}
}

func TestAccountStatusLifecycle(t *testing.T) {
	service, _, store := newService(t)
	account, err := service.OpenAccount(context.Background(), "CUST-1", "USD", decimal.Zero, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := service.Freeze(context.Background(), account.AccountID); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	got, _ := store.GetAccount(context.Background(), account.AccountID)
	if got.Status != domain.AccountStatusFrozen {
		t.Errorf("status = %s, want FROZEN", got.Status)
	}

	if err := service.Unfreeze(context.Background(), account.AccountID); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	got, _ = store.GetAccount(context.Background(), account.AccountID)
	if got.Status != domain.AccountStatusActive {
		t.Errorf("status = %s, want ACTIVE", got.Status)
	}

	if err := service.Close(context.Background(), account.AccountID); err != nil {
		t.Fatalf("close: %v", err)
	}
	got, _ = store.GetAccount(context.Background(), account.AccountID)
	if got.Status != domain.AccountStatusClosed {
		t.Errorf("status = %s, want CLOSED", got.Status)
	}
}

func TestFreezeUnknownAccount(t *testing.T) {
	service, _, _ := newService(t)
	if err := service.Freeze(context.Background(), "NOPE"); err != domain.ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
