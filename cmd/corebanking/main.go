package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/corebanking/internal/audit"
	fraud "github.com/wyfcoding/corebanking/internal/fraud/domain"
	fraudinfra "github.com/wyfcoding/corebanking/internal/fraud/infrastructure"
	fraudmysql "github.com/wyfcoding/corebanking/internal/fraud/infrastructure/persistence/mysql"
	fraudhttp "github.com/wyfcoding/corebanking/internal/fraud/interfaces/http"
	ledgerapp "github.com/wyfcoding/corebanking/internal/ledger/application"
	ledger "github.com/wyfcoding/corebanking/internal/ledger/domain"
	ledgermysql "github.com/wyfcoding/corebanking/internal/ledger/infrastructure/persistence/mysql"
	ledgerhttp "github.com/wyfcoding/corebanking/internal/ledger/interfaces/http"
	"github.com/wyfcoding/corebanking/internal/posting"
	"github.com/wyfcoding/corebanking/internal/recovery"
	routerapp "github.com/wyfcoding/corebanking/internal/router/application"
	routerdomain "github.com/wyfcoding/corebanking/internal/router/domain"
	routermysql "github.com/wyfcoding/corebanking/internal/router/infrastructure/persistence/mysql"
	routerhttp "github.com/wyfcoding/corebanking/internal/router/interfaces/http"
	"github.com/wyfcoding/corebanking/pkg/cache"
	"github.com/wyfcoding/corebanking/pkg/config"
	"github.com/wyfcoding/corebanking/pkg/db"
	"github.com/wyfcoding/corebanking/pkg/idgen"
	"github.com/wyfcoding/corebanking/pkg/logger"
	"github.com/wyfcoding/corebanking/pkg/metrics"
	"github.com/wyfcoding/corebanking/pkg/mq"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/corebanking/config.toml", "path to config file")
	flag.Parse()

	ctx := context.Background()

	// 1. Config
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("load config failed: %v", err))
	}

	// 2. Logger
	if err := logger.Init(cfg.Logger); err != nil {
		panic(fmt.Sprintf("init logger failed: %v", err))
	}
	logger.Info(ctx, "starting corebanking",
		"environment", cfg.Environment, "service", cfg.ServiceName)

	// 3. Database
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Environment != "production",
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "connect database failed", "error", err)
	}
	defer database.Close()

	if err := database.AutoMigrate(
		&ledger.Account{},
		&ledger.Entry{},
		&routerdomain.Transaction{},
		&fraud.Alert{},
	); err != nil {
		logger.Fatal(ctx, "migrate database failed", "error", err)
	}

	// 4. Metrics
	m := metrics.New("router")
	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		logger.Fatal(ctx, "register metrics failed", "error", err)
	}
	if cfg.Metrics.Enabled {
		metrics.Serve(cfg.Metrics.Port, registry)
	}

	// 5. Infrastructure
	gen := idgen.New(1)
	newID := gen.WithPrefix

	store := ledgermysql.NewStore(database.DB)
	txRepo := routermysql.NewTransactionRepository(database.DB)
	alertRepo := fraudmysql.NewAlertRepository(database.DB)

	var auditor audit.Publisher = audit.LogPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			logger.Fatal(ctx, "connect kafka failed", "error", err)
		}
		defer producer.Close()
		auditor = audit.NewKafkaPublisher(producer, cfg.Kafka.AuditTopic)
	}

	var history fraud.HistoryProvider = fraudinfra.NewLedgerHistoryProvider(store)
	if cfg.Redis.Enabled {
		redisCache, err := cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			logger.Fatal(ctx, "connect redis failed", "error", err)
		}
		defer redisCache.Close()
		history = fraudinfra.NewCachedHistoryProvider(history, redisCache,
			time.Duration(cfg.Redis.ProfileTTL)*time.Second)
	}

	// 6. Domain & Application
	engine := posting.NewEngine(store, newID)
	scorer := fraud.NewScorer(scorerConfig(cfg.Fraud))
	alertManager := fraud.NewAlertManager(alertRepo, newID)
	accountService := ledgerapp.NewAccountService(store, auditor, newID)

	routerService := routerapp.NewService(
		txRepo, store, engine, scorer, history, alertManager, auditor, m,
		routerapp.Options{
			MaxCommitRetries: cfg.Router.MaxCommitRetries,
			RetryDelay:       cfg.Router.RetryDelayDuration(),
			RescoreAfter:     cfg.Router.RescoreAfterDuration(),
			System: routerapp.SystemAccounts{
				Cash:        cfg.SystemAccounts.Cash,
				LoanFunding: cfg.SystemAccounts.LoanFunding,
			},
		},
		newID,
	)

	ensureSystemAccounts(ctx, store, cfg.SystemAccounts)

	// 7. Recovery supervisor
	supervisor := recovery.NewSupervisor(txRepo, store, routerService, nil, auditor, m,
		recovery.Options{
			ScanInterval:      time.Duration(cfg.Recovery.ScanInterval) * time.Second,
			InitialBackoff:    time.Duration(cfg.Recovery.InitialBackoff) * time.Millisecond,
			MaxBackoff:        time.Duration(cfg.Recovery.MaxBackoff) * time.Millisecond,
			MaxAttempts:       cfg.Recovery.MaxAttempts,
			ReconcileInterval: time.Duration(cfg.Recovery.ReconcileInterval) * time.Second,
		})
	supervisor.Start()
	defer supervisor.Stop()

	// 8. Interfaces
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName})
	})
	ledgerhttp.NewAccountHandler(accountService).RegisterRoutes(router)
	routerhttp.NewTransactionHandler(routerService).RegisterRoutes(router)
	fraudhttp.NewAlertHandler(alertManager, alertRepo).RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 9. Start
	go func() {
		logger.Info(ctx, "http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", "error", err)
		}
	}()

	// 10. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "http shutdown failed", "error", err)
	}
	logger.Info(ctx, "server exiting")
}

// ensureSystemAccounts 系统过渡账户不存在时自动开立
func ensureSystemAccounts(ctx context.Context, store ledger.Store, cfg config.SystemAccountsConfig) {
	for _, accountID := range []string{cfg.Cash, cfg.LoanFunding} {
		if _, err := store.GetAccount(ctx, accountID); err == nil {
			continue
		}
		account := &ledger.Account{
			AccountID:  accountID,
			CustomerID: "SYSTEM",
			Currency:   "USD",
			Balance:    decimal.Zero,
			// 系统账户承担客户腿的对侧，允许无限透支
			AvailableBalance: decimal.Zero,
			OverdraftLimit:   decimal.New(1, 15),
			Status:           ledger.AccountStatusActive,
		}
		if err := store.CreateAccount(ctx, account); err != nil {
			logger.Warn(ctx, "failed to seed system account", "account_id", accountID, "error", err)
			continue
		}
		logger.Info(ctx, "seeded system account", "account_id", accountID)
	}
}

// scorerConfig 把部署配置转换为评分器配置，非法金额字符串回退到缺省值
func scorerConfig(cfg config.FraudConfig) fraud.Config {
	sc := fraud.DefaultConfig()
	sc.VelocityWeight = cfg.VelocityWeight
	sc.AmountDeviationWeight = cfg.AmountDeviationWeight
	sc.CounterpartyNoveltyWeight = cfg.CounterpartyNoveltyWeight
	sc.TimeAnomalyWeight = cfg.TimeAnomalyWeight
	sc.MaxTxPerHour = cfg.MaxTxPerHour
	sc.MaxTxPerDay = cfg.MaxTxPerDay
	sc.DeviationSigma = cfg.DeviationSigma
	sc.NightStartHour = cfg.NightStartHour
	sc.NightEndHour = cfg.NightEndHour
	sc.CeilingFloor = cfg.CeilingFloor
	sc.CustomerRiskBar = cfg.CustomerRiskBar
	sc.CustomerRiskFloor = cfg.CustomerRiskFloor
	sc.MediumThreshold = cfg.MediumThreshold
	sc.HighThreshold = cfg.HighThreshold
	sc.CriticalThreshold = cfg.CriticalThreshold

	if v, err := decimal.NewFromString(cfg.MaxAmountPerHour); err == nil {
		sc.MaxAmountPerHour = v
	}
	if v, err := decimal.NewFromString(cfg.MaxAmountPerDay); err == nil {
		sc.MaxAmountPerDay = v
	}
	if v, err := decimal.NewFromString(cfg.AbsoluteCeiling); err == nil {
		sc.AbsoluteCeiling = v
	}

	if len(cfg.Actions) > 0 {
		actions := make(map[fraud.RiskLevel]fraud.Action, len(cfg.Actions))
		for level, action := range cfg.Actions {
			actions[fraud.RiskLevel(level)] = fraud.Action(action)
		}
		sc.Actions = actions
	}
	return sc
}
