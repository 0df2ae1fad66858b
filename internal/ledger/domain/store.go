package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound 账户不存在
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists 账户已存在
	ErrAccountExists = errors.New("account already exists")
	// ErrVersionConflict 条件写入时版本不匹配，调用方应刷新快照后重试
	ErrVersionConflict = errors.New("account version conflict")
	// ErrLedgerCorrupted 对账发现存储余额与分录之和不一致
	ErrLedgerCorrupted = errors.New("ledger corrupted: stored balance diverges from entry sum")
)

// Range 分录查询区间与游标
type Range struct {
	From   time.Time
	To     time.Time
	Cursor string
	Limit  int
}

// EntryPage 一页分录，NextCursor 为空表示已到末尾
type EntryPage struct {
	Entries    []*Entry
	NextCursor string
}

// ReconciliationReport 对账结果，不一致时只报告、绝不自动修正
type ReconciliationReport struct {
	AccountID       string          `json:"account_id"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ComputedBalance decimal.Decimal `json:"computed_balance"`
	EntryCount      int             `json:"entry_count"`
	Consistent      bool            `json:"consistent"`
	CheckedAt       time.Time       `json:"checked_at"`
}

// Store 账本存储契约
//
// AppendEntries 是唯一的写入路径：当且仅当 expected 中每个账户的当前
// version 与快照一致时，在一个全有或全无的步骤中写入全部分录并更新
// 每个涉及账户的余额与版本号；任一版本不匹配则返回 ErrVersionConflict
// 且不产生任何状态变更。
type Store interface {
	// CreateAccount 开户
	CreateAccount(ctx context.Context, account *Account) error
	// GetAccount 按账户 ID 查询
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	// SetAccountStatus 变更账户状态（冻结/解冻/销户）
	SetAccountStatus(ctx context.Context, accountID string, status AccountStatus) error
	// ListAccounts 列出全部账户（对账巡检用）
	ListAccounts(ctx context.Context) ([]*Account, error)
	// AppendEntries 条件多账户写入，返回每个涉及账户写入后的余额
	AppendEntries(ctx context.Context, transactionID string, entries []*Entry, expected map[string]int64) (map[string]decimal.Decimal, error)
	// ListEntries 按序号升序分页列出某账户的分录
	ListEntries(ctx context.Context, accountID string, r Range) (*EntryPage, error)
	// EntriesByTransaction 列出某交易的全部分录
	EntriesByTransaction(ctx context.Context, transactionID string) ([]*Entry, error)
	// Reconcile 重算分录之和并与存储余额比对
	Reconcile(ctx context.Context, accountID string) (*ReconciliationReport, error)
}
