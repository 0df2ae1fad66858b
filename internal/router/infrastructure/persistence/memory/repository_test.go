package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wyfcoding/corebanking/internal/router/domain"
)

func TestSaveRejectsDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository()

	first := &domain.Transaction{TransactionID: "TXN-1", IdempotencyKey: "key-1", Status: domain.StatusPending}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}

	// 同一交易的后续保存是更新，不触发唯一约束
	first.Status = domain.StatusPosted
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("update first: %v", err)
	}

	second := &domain.Transaction{TransactionID: "TXN-2", IdempotencyKey: "key-1", Status: domain.StatusPending}
	if err := repo.Save(ctx, second); !errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	// 输掉竞争的保存不留痕迹
	if _, err := repo.Get(ctx, "TXN-2"); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("loser transaction persisted: %v", err)
	}
	winner, err := repo.GetByIdempotencyKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("get winner: %v", err)
	}
	if winner.TransactionID != "TXN-1" {
		t.Errorf("winner = %s, want TXN-1", winner.TransactionID)
	}
}

func TestListHeldDueSkipsFuture(t *testing.T) {
	ctx := context.Background()
	repo := NewTransactionRepository()
	now := time.Now()

	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)
	due := &domain.Transaction{TransactionID: "TXN-1", IdempotencyKey: "k1", Status: domain.StatusHeld, NextAttemptAt: &past}
	notYet := &domain.Transaction{TransactionID: "TXN-2", IdempotencyKey: "k2", Status: domain.StatusHeld, NextAttemptAt: &future}
	for _, tx := range []*domain.Transaction{due, notYet} {
		if err := repo.Save(ctx, tx); err != nil {
			t.Fatalf("save %s: %v", tx.TransactionID, err)
		}
	}

	got, err := repo.ListHeldDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("list held due: %v", err)
	}
	if len(got) != 1 || got[0].TransactionID != "TXN-1" {
		t.Fatalf("ListHeldDue() = %v, want only TXN-1", got)
	}
}
