// 包 domain 交易路由器的领域模型与状态机
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/wyfcoding/corebanking/internal/posting"
)

var (
	// ErrTransactionNotFound 交易不存在
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInvalidTransition 非法状态迁移：posted/failed 为终态
	ErrInvalidTransition = errors.New("invalid transaction state transition")
	// ErrNotCancellable 仅 pending/held 可取消
	ErrNotCancellable = errors.New("only pending or held transactions can be cancelled")
	// ErrNotReversible 仅 posted 交易可冲正
	ErrNotReversible = errors.New("only posted transactions can be reversed")
	// ErrUnknownIntentType 未知交易类型
	ErrUnknownIntentType = errors.New("unknown intent type")
	// ErrMissingIdempotencyKey 缺少幂等键
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
	// ErrDuplicateIdempotencyKey 幂等键已被另一笔交易占用
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used by another transaction")
	// ErrFraudBlocked 欺诈评分拦截
	ErrFraudBlocked = errors.New("transaction blocked by fraud gate")
	// ErrCommitConflictExhausted 版本冲突重试耗尽
	ErrCommitConflictExhausted = errors.New("commit retries exhausted on version conflict")
)

// Type 交易类型
type Type string

const (
	TypeDeposit          Type = "deposit"
	TypeWithdrawal       Type = "withdrawal"
	TypeTransfer         Type = "transfer"
	TypeBillPayment      Type = "bill_payment"
	TypeLoanDisbursement Type = "loan_disbursement"
	TypeTradeSettlement  Type = "trade_settlement"
	TypeReversal         Type = "reversal"
)

// Status 交易状态
type Status int8

const (
	StatusPending Status = 1 // 非终态
	StatusHeld    Status = 2 // 非终态，等待复核或外部确认
	StatusPosted  Status = 3 // 终态
	StatusFailed  Status = 4 // 终态
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusHeld:
		return "HELD"
	case StatusPosted:
		return "POSTED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal 是否终态
func (s Status) Terminal() bool {
	return s == StatusPosted || s == StatusFailed
}

// Transaction 交易聚合根
type Transaction struct {
	gorm.Model
	TransactionID  string          `gorm:"column:transaction_id;type:varchar(32);uniqueIndex;not null" json:"transaction_id"`
	Type           Type            `gorm:"column:type;type:varchar(20);not null" json:"type"`
	Status         Status          `gorm:"column:status;type:tinyint;not null;default:1" json:"status"`
	IdempotencyKey string          `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex;not null" json:"idempotency_key"`
	AccountID      string          `gorm:"column:account_id;type:varchar(32);index;not null" json:"account_id"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	Currency       string          `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	// 腿集序列化快照，过账前即固定
	LegsRaw string `gorm:"column:legs;type:text;not null" json:"-"`
	// 评分摘要，完整指标随告警保存
	FraudScore  float64 `gorm:"column:fraud_score;type:decimal(3,2);default:0" json:"fraud_score"`
	RiskLevel   string  `gorm:"column:risk_level;type:varchar(20)" json:"risk_level"`
	FraudAction string  `gorm:"column:action;type:varchar(10)" json:"action"`
	// 终态原因码
	FailureReason string `gorm:"column:failure_reason;type:varchar(255)" json:"failure_reason,omitempty"`
	// 冲正交易指向的原交易
	ReversalOf string     `gorm:"column:reversal_of;type:varchar(32);index" json:"reversal_of,omitempty"`
	PostedAt   *time.Time `gorm:"column:posted_at" json:"posted_at,omitempty"`
	// 恢复监督簿记
	ConfirmationAttempts int        `gorm:"column:confirmation_attempts;default:0" json:"confirmation_attempts"`
	NextAttemptAt        *time.Time `gorm:"column:next_attempt_at;index" json:"next_attempt_at,omitempty"`
}

// TableName 表名
func (Transaction) TableName() string { return "transactions" }

// SetLegs 序列化腿集
func (t *Transaction) SetLegs(legs []posting.Leg) error {
	raw, err := json.Marshal(legs)
	if err != nil {
		return err
	}
	t.LegsRaw = string(raw)
	return nil
}

// Legs 反序列化腿集
func (t *Transaction) Legs() ([]posting.Leg, error) {
	var legs []posting.Leg
	if err := json.Unmarshal([]byte(t.LegsRaw), &legs); err != nil {
		return nil, err
	}
	return legs, nil
}

// MarkPosted pending/held → posted
func (t *Transaction) MarkPosted(at time.Time) error {
	if t.Status.Terminal() {
		return ErrInvalidTransition
	}
	t.Status = StatusPosted
	t.PostedAt = &at
	return nil
}

// MarkHeld pending → held
func (t *Transaction) MarkHeld() error {
	if t.Status != StatusPending && t.Status != StatusHeld {
		return ErrInvalidTransition
	}
	t.Status = StatusHeld
	return nil
}

// MarkFailed pending/held → failed，附带原因码
func (t *Transaction) MarkFailed(reason string) error {
	if t.Status.Terminal() {
		return ErrInvalidTransition
	}
	t.Status = StatusFailed
	t.FailureReason = reason
	return nil
}

// Intent 来自传输层的高层银行意图
type Intent struct {
	Type            Type              `json:"type"`
	SourceAccountID string            `json:"source_account_id,omitempty"`
	DestAccountID   string            `json:"dest_account_id,omitempty"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	// 交易对手标识（外部账单方、证券交收对手等）
	Counterparty string `json:"counterparty,omitempty"`
	// trade_settlement 专用：buy 或 sell
	Side           string            `json:"side,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TransactionRepository 交易仓储接口
type TransactionRepository interface {
	Save(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, transactionID string) (*Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	// ListHeldDue 列出下一次确认尝试时间早于 now 的 held 交易
	ListHeldDue(ctx context.Context, now time.Time, limit int) ([]*Transaction, error)
}
