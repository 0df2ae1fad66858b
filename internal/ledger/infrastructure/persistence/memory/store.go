// 包 memory 账本存储的内存实现，用于测试与本地开发，契约与 MySQL 实现一致
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/corebanking/internal/ledger/domain"
)

type ledgerStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	entries  []*domain.Entry
	nextID   uint
}

// NewStore 创建内存账本存储
func NewStore() domain.Store {
	return &ledgerStore{
		accounts: make(map[string]*domain.Account),
		nextID:   1,
	}
}

func (s *ledgerStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.AccountID]; exists {
		return domain.ErrAccountExists
	}
	clone := *account
	if clone.Status == 0 {
		clone.Status = domain.AccountStatusActive
	}
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	s.accounts[account.AccountID] = &clone
	return nil
}

func (s *ledgerStore) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[accountID]
	if !exists {
		return nil, domain.ErrAccountNotFound
	}
	clone := *account
	return &clone, nil
}

func (s *ledgerStore) SetAccountStatus(ctx context.Context, accountID string, status domain.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[accountID]
	if !exists {
		return domain.ErrAccountNotFound
	}
	account.Status = status
	account.UpdatedAt = time.Now()
	return nil
}

func (s *ledgerStore) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]*domain.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		clone := *account
		accounts = append(accounts, &clone)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].AccountID < accounts[j].AccountID })
	return accounts, nil
}

func (s *ledgerStore) AppendEntries(ctx context.Context, transactionID string, entries []*domain.Entry, expected map[string]int64) (map[string]decimal.Decimal, error) {
	deltas := make(map[string]decimal.Decimal)
	for _, e := range entries {
		deltas[e.AccountID] = deltas[e.AccountID].Add(e.Amount)
	}

	accountIDs := make([]string, 0, len(deltas))
	for id := range deltas {
		accountIDs = append(accountIDs, id)
	}
	sort.Strings(accountIDs)

	s.mu.Lock()
	defer s.mu.Unlock()

	// 先整体校验，任一冲突则不产生任何变更
	for _, accountID := range accountIDs {
		account, exists := s.accounts[accountID]
		if !exists {
			return nil, domain.ErrAccountNotFound
		}
		version, ok := expected[accountID]
		if !ok {
			return nil, fmt.Errorf("missing expected version for account %s", accountID)
		}
		if account.Version != version {
			return nil, domain.ErrVersionConflict
		}
	}

	now := time.Now()
	balances := make(map[string]decimal.Decimal, len(accountIDs))
	for _, accountID := range accountIDs {
		account := s.accounts[accountID]
		delta := deltas[accountID]
		account.Balance = account.Balance.Add(delta)
		account.AvailableBalance = account.AvailableBalance.Add(delta)
		account.Version++
		account.UpdatedAt = now
		balances[accountID] = account.Balance
	}
	for _, e := range entries {
		clone := *e
		clone.ID = s.nextID
		clone.CreatedAt = now
		clone.UpdatedAt = now
		s.nextID++
		s.entries = append(s.entries, &clone)
	}
	return balances, nil
}

func (s *ledgerStore) ListEntries(ctx context.Context, accountID string, r domain.Range) (*domain.EntryPage, error) {
	limit := r.Limit
	if limit <= 0 {
		limit = 100
	}

	var afterID uint64
	if r.Cursor != "" {
		parsed, err := strconv.ParseUint(r.Cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", r.Cursor, err)
		}
		afterID = parsed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	page := &domain.EntryPage{}
	for _, e := range s.entries {
		if e.AccountID != accountID {
			continue
		}
		if uint64(e.ID) <= afterID {
			continue
		}
		if !r.From.IsZero() && e.CreatedAt.Before(r.From) {
			continue
		}
		if !r.To.IsZero() && !e.CreatedAt.Before(r.To) {
			continue
		}
		clone := *e
		page.Entries = append(page.Entries, &clone)
		if len(page.Entries) == limit {
			page.NextCursor = strconv.FormatUint(uint64(e.ID), 10)
			break
		}
	}
	return page, nil
}

func (s *ledgerStore) EntriesByTransaction(ctx context.Context, transactionID string) ([]*domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*domain.Entry
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			clone := *e
			entries = append(entries, &clone)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })
	return entries, nil
}

func (s *ledgerStore) Reconcile(ctx context.Context, accountID string) (*domain.ReconciliationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[accountID]
	if !exists {
		return nil, domain.ErrAccountNotFound
	}

	total := decimal.Zero
	count := 0
	for _, e := range s.entries {
		if e.AccountID == accountID {
			total = total.Add(e.Amount)
			count++
		}
	}

	return &domain.ReconciliationReport{
		AccountID:       accountID,
		StoredBalance:   account.Balance,
		ComputedBalance: total,
		EntryCount:      count,
		Consistent:      account.Balance.Equal(total),
		CheckedAt:       time.Now(),
	}, nil
}
