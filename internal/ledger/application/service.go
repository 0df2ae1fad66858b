// 包 application 账户生命周期应用服务
package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wyfcoding/corebanking/internal/audit"
	"github.com/wyfcoding/corebanking/internal/ledger/domain"
	"github.com/wyfcoding/corebanking/pkg/logger"
)

// AccountService 账户应用服务
//
// 只负责账户生命周期与查询，余额变动一律走交易路由器。
type AccountService struct {
	store   domain.Store
	auditor audit.Publisher
	newID   func(prefix string) string
}

// NewAccountService 创建账户应用服务
func NewAccountService(store domain.Store, auditor audit.Publisher, newID func(prefix string) string) *AccountService {
	return &AccountService{store: store, auditor: auditor, newID: newID}
}

// OpenAccount 开户，余额从零开始，期初资金以存款交易注入
func (s *AccountService) OpenAccount(ctx context.Context, customerID, currency string, overdraftLimit decimal.Decimal, declaredRiskScore float64) (*domain.Account, error) {
	account := &domain.Account{
		AccountID:         s.newID("ACC"),
		CustomerID:        customerID,
		Currency:          currency,
		Balance:           decimal.Zero,
		AvailableBalance:  decimal.Zero,
		OverdraftLimit:    overdraftLimit,
		Status:            domain.AccountStatusActive,
		Version:           0,
		DeclaredRiskScore: declaredRiskScore,
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	s.publishAudit(ctx, account.AccountID, "open", account.Status.String())
	logger.Info(ctx, "account opened",
		"account_id", account.AccountID, "customer_id", customerID, "currency", currency)
	return account, nil
}

// Get 查询账户
func (s *AccountService) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// Freeze 冻结账户，冻结后拒绝借记、允许贷记
func (s *AccountService) Freeze(ctx context.Context, accountID string) error {
	return s.setStatus(ctx, accountID, domain.AccountStatusFrozen, "freeze")
}

// Unfreeze 解冻账户
func (s *AccountService) Unfreeze(ctx context.Context, accountID string) error {
	return s.setStatus(ctx, accountID, domain.AccountStatusActive, "unfreeze")
}

// Close 销户，销户后拒绝任何过账
func (s *AccountService) Close(ctx context.Context, accountID string) error {
	return s.setStatus(ctx, accountID, domain.AccountStatusClosed, "close")
}

func (s *AccountService) setStatus(ctx context.Context, accountID string, status domain.AccountStatus, action string) error {
	if err := s.store.SetAccountStatus(ctx, accountID, status); err != nil {
		return err
	}
	s.publishAudit(ctx, accountID, action, status.String())
	logger.Info(ctx, "account status changed", "account_id", accountID, "status", status.String())
	return nil
}

// Entries 分页列出账户分录
func (s *AccountService) Entries(ctx context.Context, accountID string, r domain.Range) (*domain.EntryPage, error) {
	return s.store.ListEntries(ctx, accountID, r)
}

// Reconcile 重算并比对单个账户的余额
func (s *AccountService) Reconcile(ctx context.Context, accountID string) (*domain.ReconciliationReport, error) {
	return s.store.Reconcile(ctx, accountID)
}

func (s *AccountService) publishAudit(ctx context.Context, accountID, action, status string) {
	if s.auditor == nil {
		return
	}
	event := audit.Event{
		EventType:  "account." + action,
		EntityType: "account",
		EntityID:   accountID,
		Action:     action,
		Status:     status,
		CreatedAt:  time.Now(),
	}
	if err := s.auditor.Publish(ctx, event); err != nil {
		logger.Warn(ctx, "audit publish failed", "account_id", accountID, "error", err)
	}
}
