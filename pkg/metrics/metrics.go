// Package metrics 提供 Prometheus 指标集合与 /metrics 暴露端点
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wyfcoding/corebanking/pkg/logger"
)

// Metrics 指标集合
type Metrics struct {
	// 交易按终态计数
	TransactionsPosted prometheus.Counter
	TransactionsFailed prometheus.Counter
	TransactionsHeld   prometheus.Counter
	// 欺诈决策按动作计数
	FraudAllowed prometheus.Counter
	FraudHeld    prometheus.Counter
	FraudBlocked prometheus.Counter
	// 乐观并发冲突计数
	VersionConflicts prometheus.Counter
	// 冲正交易计数
	ReversalsIssued prometheus.Counter
	// 对账不一致计数
	ReconciliationMismatches prometheus.Counter
	// 提交耗时
	CommitDuration prometheus.Histogram
	// 评分耗时
	ScoreDuration prometheus.Histogram
}

// New 创建指标实例，调用方负责注册
func New(serviceName string) *Metrics {
	return &Metrics{
		TransactionsPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corebanking",
			Subsystem: serviceName,
			Name:      "transactions_posted_total",
			Help:      "Total transactions committed to the ledger",
		}),
		TransactionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corebanking",
			Subsystem: serviceName,
			Name:      "transactions_failed_total",
			Help:      "Total transactions that reached the failed state",
		}),
		TransactionsHeld: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corebanking",
			Subsystem: serviceName,
			Name:      "transactions_held_total",
			Help:      "Total transactions placed on hold",
		}),
		FraudAllowed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corebanking",
			Subsystem: serviceName,
			Name:      "fraud_allowed_total",
			Help:      "Fraud gate allow decisions",
		}),
		FraudHeld: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corebanking",
			Subsystem: serviceName,
			Name:      "fraud_held_total",
			Help:      "Fraud gate hold decisions",
		}),
		FraudBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corebanking",
			Subsystem: serviceName,
			Name:      "fraud_blocked_total",
			Help:      "Fraud gate block decisions",
		}),
		VersionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corebanking",
			Subsystem: serviceName,
			Name:      "version_conflicts_total",
			Help:      "Optimistic concurrency conflicts during commit",
		}),
		ReversalsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corebanking",
			Subsystem: serviceName,
			Name:      "reversals_issued_total",
			Help:      "Compensating reversal transactions issued",
		}),
		ReconciliationMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corebanking",
			Subsystem: serviceName,
			Name:      "reconciliation_mismatches_total",
			Help:      "Accounts whose stored balance diverged from the entry sum",
		}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corebanking",
			Subsystem: serviceName,
			Name:      "commit_duration_seconds",
			Help:      "Ledger commit duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ScoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "corebanking",
			Subsystem: serviceName,
			Name:      "score_duration_seconds",
			Help:      "Fraud scoring duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Register 将全部指标注册到 registry
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.TransactionsPosted, m.TransactionsFailed, m.TransactionsHeld,
		m.FraudAllowed, m.FraudHeld, m.FraudBlocked,
		m.VersionConflicts, m.ReversalsIssued, m.ReconciliationMismatches,
		m.CommitDuration, m.ScoreDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Serve 启动 /metrics HTTP 端点
func Serve(port int, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error(context.Background(), "metrics endpoint stopped", "error", err)
		}
	}()
}
