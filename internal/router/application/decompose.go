package application

import (
	"errors"
	"fmt"

	"github.com/wyfcoding/corebanking/internal/posting"
	"github.com/wyfcoding/corebanking/internal/router/domain"
)

var (
	// ErrInvalidAmount 金额必须为正
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrMissingAccount 意图缺少必需的账户
	ErrMissingAccount = errors.New("intent is missing a required account")
	// ErrSameAccount 转账双方不能是同一账户
	ErrSameAccount = errors.New("source and destination accounts must differ")
	// ErrInvalidSide 证券交收方向必须为 buy 或 sell
	ErrInvalidSide = errors.New("trade settlement side must be buy or sell")
)

// decomposition 意图分解结果：受评分账户、完整腿集与交易对手标识
type decomposition struct {
	accountID    string
	legs         []posting.Leg
	counterparty string
}

// decompose 把高层银行意图展开为平衡的复式腿集
//
// 每种交易类型对应一个固定模板，系统过渡账户承担客户账户的对侧腿。
// 腿集在此处即固定，过账、挂起重试与冲正都引用同一份快照。
func (s *Service) decompose(intent domain.Intent) (*decomposition, error) {
	if !intent.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	amount := intent.Amount
	currency := intent.Currency

	leg := func(accountID string, negate bool) posting.Leg {
		if negate {
			return posting.Leg{AccountID: accountID, Amount: amount.Neg(), Currency: currency}
		}
		return posting.Leg{AccountID: accountID, Amount: amount, Currency: currency}
	}

	switch intent.Type {
	case domain.TypeDeposit:
		if intent.DestAccountID == "" {
			return nil, ErrMissingAccount
		}
		return &decomposition{
			accountID:    intent.DestAccountID,
			legs:         []posting.Leg{leg(intent.DestAccountID, false), leg(s.system.Cash, true)},
			counterparty: intent.Counterparty,
		}, nil

	case domain.TypeWithdrawal:
		if intent.SourceAccountID == "" {
			return nil, ErrMissingAccount
		}
		return &decomposition{
			accountID:    intent.SourceAccountID,
			legs:         []posting.Leg{leg(intent.SourceAccountID, true), leg(s.system.Cash, false)},
			counterparty: intent.Counterparty,
		}, nil

	case domain.TypeBillPayment:
		if intent.SourceAccountID == "" {
			return nil, ErrMissingAccount
		}
		// 账单方是外部机构，资金经现金过渡账户流出
		return &decomposition{
			accountID:    intent.SourceAccountID,
			legs:         []posting.Leg{leg(intent.SourceAccountID, true), leg(s.system.Cash, false)},
			counterparty: intent.Counterparty,
		}, nil

	case domain.TypeTransfer:
		if intent.SourceAccountID == "" || intent.DestAccountID == "" {
			return nil, ErrMissingAccount
		}
		if intent.SourceAccountID == intent.DestAccountID {
			return nil, ErrSameAccount
		}
		return &decomposition{
			accountID:    intent.SourceAccountID,
			legs:         []posting.Leg{leg(intent.SourceAccountID, true), leg(intent.DestAccountID, false)},
			counterparty: intent.DestAccountID,
		}, nil

	case domain.TypeLoanDisbursement:
		if intent.DestAccountID == "" {
			return nil, ErrMissingAccount
		}
		return &decomposition{
			accountID:    intent.DestAccountID,
			legs:         []posting.Leg{leg(intent.DestAccountID, false), leg(s.system.LoanFunding, true)},
			counterparty: intent.Counterparty,
		}, nil

	case domain.TypeTradeSettlement:
		if intent.SourceAccountID == "" || intent.DestAccountID == "" {
			return nil, ErrMissingAccount
		}
		counterparty := intent.Counterparty
		if counterparty == "" {
			counterparty = intent.DestAccountID
		}
		switch intent.Side {
		case "buy":
			// 买入：客户现金账户借记，交收账户贷记
			return &decomposition{
				accountID:    intent.SourceAccountID,
				legs:         []posting.Leg{leg(intent.SourceAccountID, true), leg(intent.DestAccountID, false)},
				counterparty: counterparty,
			}, nil
		case "sell":
			return &decomposition{
				accountID:    intent.SourceAccountID,
				legs:         []posting.Leg{leg(intent.SourceAccountID, false), leg(intent.DestAccountID, true)},
				counterparty: counterparty,
			}, nil
		default:
			return nil, ErrInvalidSide
		}

	default:
		// 冲正交易只能通过 Reverse 发起
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownIntentType, intent.Type)
	}
}
