// 包 infrastructure 欺诈评分的基础设施：账本回溯的历史聚合与 Redis 画像缓存
package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wyfcoding/corebanking/internal/fraud/domain"
	ledger "github.com/wyfcoding/corebanking/internal/ledger/domain"
	"github.com/wyfcoding/corebanking/pkg/cache"
	"github.com/wyfcoding/corebanking/pkg/logger"
)

const historyPageSize = 500

// LedgerHistoryProvider 从账本分录回溯计算账户近期活动聚合
type LedgerHistoryProvider struct {
	store ledger.Store
}

// NewLedgerHistoryProvider 创建账本历史提供者
func NewLedgerHistoryProvider(store ledger.Store) *LedgerHistoryProvider {
	return &LedgerHistoryProvider{store: store}
}

// History 聚合 90 天内该账户的分录
func (p *LedgerHistoryProvider) History(ctx context.Context, accountID string, at time.Time) (*domain.History, error) {
	history := &domain.History{Counterparties: make(map[string]bool)}

	hourAgo := at.Add(-time.Hour)
	dayAgo := at.Add(-24 * time.Hour)
	monthAgo := at.Add(-30 * 24 * time.Hour)

	var amounts30d []float64
	var txIDs []string
	seenTx := make(map[string]bool)

	r := ledger.Range{From: at.Add(-90 * 24 * time.Hour), To: at, Limit: historyPageSize}
	for {
		page, err := p.store.ListEntries(ctx, accountID, r)
		if err != nil {
			return nil, err
		}
		for _, e := range page.Entries {
			if !seenTx[e.TransactionID] {
				seenTx[e.TransactionID] = true
				txIDs = append(txIDs, e.TransactionID)
			}
			amount, _ := e.Amount.Abs().Float64()
			if !e.CreatedAt.Before(monthAgo) {
				amounts30d = append(amounts30d, amount)
			}
			if !e.CreatedAt.Before(dayAgo) {
				history.CountLastDay++
				history.SumLastDay = history.SumLastDay.Add(e.Amount.Abs())
			}
			if !e.CreatedAt.Before(hourAgo) {
				history.CountLastHour++
				history.SumLastHour = history.SumLastHour.Add(e.Amount.Abs())
			}
		}
		if page.NextCursor == "" {
			break
		}
		r.Cursor = page.NextCursor
	}

	if len(amounts30d) > 0 {
		var sum float64
		for _, a := range amounts30d {
			sum += a
		}
		mean := sum / float64(len(amounts30d))
		var variance float64
		for _, a := range amounts30d {
			variance += (a - mean) * (a - mean)
		}
		history.Mean30d = mean
		history.StdDev30d = math.Sqrt(variance / float64(len(amounts30d)))
	}

	// 对手方为同一交易中其他分录的账户
	for _, txID := range txIDs {
		entries, err := p.store.EntriesByTransaction(ctx, txID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.AccountID != accountID {
				history.Counterparties[e.AccountID] = true
			}
		}
	}
	return history, nil
}

// CachedHistoryProvider 带 Redis 缓存的历史提供者
//
// 画像过期只影响评分输入的新鲜度，不影响过账正确性。
type CachedHistoryProvider struct {
	inner domain.HistoryProvider
	cache ProfileCache
	ttl   time.Duration
}

// ProfileCache 画像缓存的最小读写接口，未命中返回 cache.ErrCacheMiss
type ProfileCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// NewCachedHistoryProvider 创建缓存包装
func NewCachedHistoryProvider(inner domain.HistoryProvider, c ProfileCache, ttl time.Duration) *CachedHistoryProvider {
	return &CachedHistoryProvider{inner: inner, cache: c, ttl: ttl}
}

// History 先查缓存，未命中时回源并写入
func (p *CachedHistoryProvider) History(ctx context.Context, accountID string, at time.Time) (*domain.History, error) {
	key := fmt.Sprintf("fraud:profile:%s", accountID)

	var cached domain.History
	err := p.cache.Get(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		logger.Warn(ctx, "profile cache read failed, falling back to ledger", "account_id", accountID, "error", err)
	}

	history, err := p.inner.History(ctx, accountID, at)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, key, history, p.ttl); err != nil {
		logger.Warn(ctx, "profile cache write failed", "account_id", accountID, "error", err)
	}
	return history, nil
}
