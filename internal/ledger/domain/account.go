// 包 domain 账本存储的领域模型
package domain

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountStatus 账户状态
type AccountStatus int8

const (
	AccountStatusActive AccountStatus = 1 // 正常
	AccountStatusFrozen AccountStatus = 2 // 冻结，拒绝借记
	AccountStatusClosed AccountStatus = 3 // 已销户
)

func (s AccountStatus) String() string {
	switch s {
	case AccountStatusActive:
		return "ACTIVE"
	case AccountStatusFrozen:
		return "FROZEN"
	case AccountStatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Account 账户实体
// 余额恒等于开户以来全部已过账分录之和；version 随每次条件写入单调递增
type Account struct {
	gorm.Model
	// 账户 ID（业务主键），全局唯一
	AccountID string `gorm:"column:account_id;type:varchar(32);uniqueIndex;not null" json:"account_id"`
	// 所属客户 ID
	CustomerID string `gorm:"column:customer_id;type:varchar(32);index" json:"customer_id"`
	// 货币（ISO 4217，如 USD）
	Currency string `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	// 账面余额
	Balance decimal.Decimal `gorm:"column:balance;type:decimal(20,2);default:0;not null" json:"balance"`
	// 可用余额，恒不大于账面余额
	AvailableBalance decimal.Decimal `gorm:"column:available_balance;type:decimal(20,2);default:0;not null" json:"available_balance"`
	// 透支额度
	OverdraftLimit decimal.Decimal `gorm:"column:overdraft_limit;type:decimal(20,2);default:0;not null" json:"overdraft_limit"`
	// 状态
	Status AccountStatus `gorm:"column:status;type:tinyint;not null;default:1" json:"status"`
	// 乐观并发版本号
	Version int64 `gorm:"column:version;not null;default:0" json:"version"`
	// 客户申报风险分 [0,1]，欺诈评分的只读输入
	DeclaredRiskScore float64 `gorm:"column:declared_risk_score;type:decimal(3,2);default:0" json:"declared_risk_score"`
}

// TableName 表名
func (Account) TableName() string { return "accounts" }
