// 包 mysql 账本存储的 MySQL 实现，基于 GORM
//
// 条件写入依赖 version 列的比较更新：UPDATE … WHERE version = ? 影响行数
// 为零即判定冲突并整体回滚，不依赖任何跨事务锁。
package mysql

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wyfcoding/corebanking/internal/ledger/domain"
)

type ledgerStore struct {
	db *gorm.DB
}

// NewStore 创建 MySQL 账本存储
func NewStore(db *gorm.DB) domain.Store {
	return &ledgerStore{db: db}
}

func (s *ledgerStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.Account{}).
		Where("account_id = ?", account.AccountID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return domain.ErrAccountExists
	}
	return s.db.WithContext(ctx).Create(account).Error
}

func (s *ledgerStore) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	var account domain.Account
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *ledgerStore) SetAccountStatus(ctx context.Context, accountID string, status domain.AccountStatus) error {
	res := s.db.WithContext(ctx).Model(&domain.Account{}).
		Where("account_id = ?", accountID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (s *ledgerStore) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	var accounts []*domain.Account
	err := s.db.WithContext(ctx).Order("account_id asc").Find(&accounts).Error
	return accounts, err
}

func (s *ledgerStore) AppendEntries(ctx context.Context, transactionID string, entries []*domain.Entry, expected map[string]int64) (map[string]decimal.Decimal, error) {
	// 每个账户的净变动
	deltas := make(map[string]decimal.Decimal, len(expected))
	for _, e := range entries {
		deltas[e.AccountID] = deltas[e.AccountID].Add(e.Amount)
	}
	for accountID := range deltas {
		if _, ok := expected[accountID]; !ok {
			return nil, fmt.Errorf("missing expected version for account %s", accountID)
		}
	}

	// 账户 ID 升序处理，避免跨交易的锁序环
	accountIDs := make([]string, 0, len(deltas))
	for id := range deltas {
		accountIDs = append(accountIDs, id)
	}
	sort.Strings(accountIDs)

	balances := make(map[string]decimal.Decimal, len(accountIDs))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, accountID := range accountIDs {
			delta := deltas[accountID]
			res := tx.Model(&domain.Account{}).
				Where("account_id = ? AND version = ?", accountID, expected[accountID]).
				Updates(map[string]interface{}{
					"balance":           gorm.Expr("balance + ?", delta),
					"available_balance": gorm.Expr("available_balance + ?", delta),
					"version":           gorm.Expr("version + 1"),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return domain.ErrVersionConflict
			}

			var account domain.Account
			if err := tx.Where("account_id = ?", accountID).First(&account).Error; err != nil {
				return err
			}
			balances[accountID] = account.Balance
		}
		return tx.Create(entries).Error
	})
	if err != nil {
		return nil, err
	}
	return balances, nil
}

func (s *ledgerStore) ListEntries(ctx context.Context, accountID string, r domain.Range) (*domain.EntryPage, error) {
	limit := r.Limit
	if limit <= 0 {
		limit = 100
	}

	q := s.db.WithContext(ctx).Where("account_id = ?", accountID)
	if !r.From.IsZero() {
		q = q.Where("created_at >= ?", r.From)
	}
	if !r.To.IsZero() {
		q = q.Where("created_at < ?", r.To)
	}
	if r.Cursor != "" {
		afterID, err := strconv.ParseUint(r.Cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", r.Cursor, err)
		}
		q = q.Where("id > ?", afterID)
	}

	var entries []*domain.Entry
	if err := q.Order("id asc").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	page := &domain.EntryPage{Entries: entries}
	if len(entries) == limit {
		page.NextCursor = strconv.FormatUint(uint64(entries[len(entries)-1].ID), 10)
	}
	return page, nil
}

func (s *ledgerStore) EntriesByTransaction(ctx context.Context, transactionID string) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	err := s.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("sequence asc").
		Find(&entries).Error
	return entries, err
}

func (s *ledgerStore) Reconcile(ctx context.Context, accountID string) (*domain.ReconciliationReport, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var row struct {
		Total decimal.Decimal
		Count int
	}
	err = s.db.WithContext(ctx).Model(&domain.Entry{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("account_id = ?", accountID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	report := &domain.ReconciliationReport{
		AccountID:       accountID,
		StoredBalance:   account.Balance,
		ComputedBalance: row.Total,
		EntryCount:      row.Count,
		Consistent:      account.Balance.Equal(row.Total),
		CheckedAt:       time.Now(),
	}
	return report, nil
}
