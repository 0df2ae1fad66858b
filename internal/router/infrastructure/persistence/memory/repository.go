// 包 memory 交易仓储的内存实现，测试与单机演示用
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/corebanking/internal/router/domain"
)

type transactionRepository struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Transaction
	byKey map[string]string
}

// NewTransactionRepository 创建内存交易仓储
func NewTransactionRepository() domain.TransactionRepository {
	return &transactionRepository{
		byID:  make(map[string]*domain.Transaction),
		byKey: make(map[string]string),
	}
}

func (r *transactionRepository) Save(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// 幂等键唯一约束，与 mysql 实现的 uniqueIndex 同语义
	if existing, ok := r.byKey[tx.IdempotencyKey]; ok && existing != tx.TransactionID {
		return domain.ErrDuplicateIdempotencyKey
	}
	cloned := *tx
	r.byID[tx.TransactionID] = &cloned
	r.byKey[tx.IdempotencyKey] = tx.TransactionID
	return nil
}

func (r *transactionRepository) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.byID[transactionID]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	cloned := *tx
	return &cloned, nil
}

func (r *transactionRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	cloned := *r.byID[id]
	return &cloned, nil
}

func (r *transactionRepository) ListHeldDue(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var due []*domain.Transaction
	for _, tx := range r.byID {
		if tx.Status != domain.StatusHeld || tx.NextAttemptAt == nil || tx.NextAttemptAt.After(now) {
			continue
		}
		cloned := *tx
		due = append(due, &cloned)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}
