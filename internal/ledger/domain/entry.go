package domain

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Entry 账本分录，一经写入不可修改或删除；更正只能通过新的冲正分录
type Entry struct {
	gorm.Model
	// 分录 ID（业务主键）
	EntryID string `gorm:"column:entry_id;type:varchar(32);uniqueIndex;not null" json:"entry_id"`
	// 账户 ID
	AccountID string `gorm:"column:account_id;type:varchar(32);index;not null" json:"account_id"`
	// 所属交易 ID
	TransactionID string `gorm:"column:transaction_id;type:varchar(32);index;not null" json:"transaction_id"`
	// 带符号金额，借记为负，贷记为正
	Amount decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	// 货币
	Currency string `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	// 交易内序号
	Sequence int `gorm:"column:sequence;not null" json:"sequence"`
}

// TableName 表名
func (Entry) TableName() string { return "ledger_entries" }
