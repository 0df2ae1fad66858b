// 包 posting 复式记账过账引擎
//
// 提交前完成全部前置校验，随后把快照版本交给账本存储的条件写入：
// 所有分录要么全部落账、要么全部不落账，外部永远观察不到中间状态。
package posting

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	ledger "github.com/wyfcoding/corebanking/internal/ledger/domain"
)

var (
	// ErrTooFewLegs 合法交易至少包含两条腿
	ErrTooFewLegs = errors.New("transaction requires at least two legs")
	// ErrUnbalancedLegs 同币种腿的带符号金额之和不为零
	ErrUnbalancedLegs = errors.New("legs do not sum to zero per currency")
	// ErrCurrencyMismatch 腿的币种与账户币种不一致
	ErrCurrencyMismatch = errors.New("leg currency does not match account currency")
	// ErrInsufficientFunds 可用余额加透支额度不足以覆盖借记
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountFrozen 冻结账户拒绝借记
	ErrAccountFrozen = errors.New("account frozen")
	// ErrAccountClosed 已销户账户拒绝任何过账
	ErrAccountClosed = errors.New("account closed")
)

// Leg 交易的一条腿：对单个账户的一笔带符号过账
type Leg struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// Engine 过账引擎
type Engine struct {
	store ledger.Store
	newID func(prefix string) string
}

// NewEngine 创建过账引擎
func NewEngine(store ledger.Store, newID func(prefix string) string) *Engine {
	return &Engine{store: store, newID: newID}
}

// ValidateBalance 校验腿集按币种分组后各组之和恰为零
func ValidateBalance(legs []Leg) error {
	if len(legs) < 2 {
		return ErrTooFewLegs
	}
	sums := make(map[string]decimal.Decimal)
	for _, leg := range legs {
		sums[leg.Currency] = sums[leg.Currency].Add(leg.Amount)
	}
	for _, sum := range sums {
		if !sum.IsZero() {
			return ErrUnbalancedLegs
		}
	}
	return nil
}

// Negate 返回腿集的精确取反，用于构造冲正交易
func Negate(legs []Leg) []Leg {
	negated := make([]Leg, len(legs))
	for i, leg := range legs {
		negated[i] = Leg{AccountID: leg.AccountID, Amount: leg.Amount.Neg(), Currency: leg.Currency}
	}
	return negated
}

// Commit 原子提交一笔平衡的腿集，返回每个账户过账后的余额
//
// 账户快照按账户 ID 升序获取，避免跨交易死锁；版本不匹配时由账本存储
// 返回 ledger.ErrVersionConflict，调用方负责重试。
func (e *Engine) Commit(ctx context.Context, transactionID string, legs []Leg) (map[string]decimal.Decimal, error) {
	if err := ValidateBalance(legs); err != nil {
		return nil, err
	}

	// 每个账户的净变动
	deltas := make(map[string]decimal.Decimal)
	for _, leg := range legs {
		deltas[leg.AccountID] = deltas[leg.AccountID].Add(leg.Amount)
	}
	accountIDs := make([]string, 0, len(deltas))
	for id := range deltas {
		accountIDs = append(accountIDs, id)
	}
	sort.Strings(accountIDs)

	accounts := make(map[string]*ledger.Account, len(accountIDs))
	expected := make(map[string]int64, len(accountIDs))
	for _, accountID := range accountIDs {
		account, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		accounts[accountID] = account
		expected[accountID] = account.Version
	}

	// 冻结与资金校验按借记腿逐条执行，同账户的贷记腿不能抵消借记腿
	for _, leg := range legs {
		account := accounts[leg.AccountID]
		if leg.Currency != account.Currency {
			return nil, ErrCurrencyMismatch
		}
		if account.Status == ledger.AccountStatusClosed {
			return nil, ErrAccountClosed
		}
		if leg.Amount.IsNegative() {
			if account.Status == ledger.AccountStatusFrozen {
				return nil, ErrAccountFrozen
			}
			if account.AvailableBalance.Add(account.OverdraftLimit).LessThan(leg.Amount.Neg()) {
				return nil, ErrInsufficientFunds
			}
		}
	}
	// 同一账户多条借记腿逐条通过后，净流出仍不得超出可用承受能力
	for _, accountID := range accountIDs {
		account := accounts[accountID]
		delta := deltas[accountID]
		if delta.IsNegative() && account.AvailableBalance.Add(account.OverdraftLimit).LessThan(delta.Neg()) {
			return nil, ErrInsufficientFunds
		}
	}

	entries := make([]*ledger.Entry, len(legs))
	for i, leg := range legs {
		entries[i] = &ledger.Entry{
			EntryID:       e.newID("ENT"),
			AccountID:     leg.AccountID,
			TransactionID: transactionID,
			Amount:        leg.Amount,
			Currency:      leg.Currency,
			Sequence:      i,
		}
	}

	return e.store.AppendEntries(ctx, transactionID, entries, expected)
}
