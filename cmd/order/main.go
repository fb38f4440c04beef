// OrderService 主程序
// 功能：外汇订单撮合后的结算编排，包括下单冻结、对手方成交、撤单退款与未决记账对账
// 架构：基于 DDD，账本与汇率通过 gRPC 访问，成交通知经 Kafka 投递
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/fxsettlement/internal/order/application"
	"github.com/wyfcoding/fxsettlement/internal/order/infrastructure/client"
	"github.com/wyfcoding/fxsettlement/internal/order/infrastructure/messaging"
	"github.com/wyfcoding/fxsettlement/internal/order/infrastructure/persistence/mysql"
	httphandler "github.com/wyfcoding/fxsettlement/internal/order/interfaces/http"
	"github.com/wyfcoding/fxsettlement/pkg/cache"
	"github.com/wyfcoding/fxsettlement/pkg/config"
	"github.com/wyfcoding/fxsettlement/pkg/db"
	"github.com/wyfcoding/fxsettlement/pkg/grpcclient"
	"github.com/wyfcoding/fxsettlement/pkg/logger"
	"github.com/wyfcoding/fxsettlement/pkg/metrics"
	"github.com/wyfcoding/fxsettlement/pkg/middleware"
	"github.com/wyfcoding/fxsettlement/pkg/mq"
	"github.com/wyfcoding/fxsettlement/pkg/ratelimit"
	"github.com/wyfcoding/fxsettlement/pkg/trace"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. 加载配置
	configPath := flag.String("config", "configs/order/config.toml", "config file path")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	loggerCfg := logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}
	if err := logger.Init(loggerCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info(ctx, "Starting OrderService",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	// 3. 初始化追踪
	if cfg.Tracing.Enabled {
		shutdown, err := trace.InitTracer(ctx, cfg.ServiceName, cfg.Tracing.CollectorEndpoint, cfg.Tracing.SamplingRate)
		if err != nil {
			logger.Error(ctx, "Failed to initialize tracer", "error", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error(ctx, "Failed to shutdown tracer", "error", err)
				}
			}()
			logger.Info(ctx, "Tracer initialized", "endpoint", cfg.Tracing.CollectorEndpoint)
		}
	}

	// 4. 初始化数据库
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize database", "error", err)
	}
	defer database.Close()
	if cfg.Database.AutoMigrate {
		if err := mysql.AutoMigrate(database.DB); err != nil {
			logger.Fatal(ctx, "Failed to migrate schema", "error", err)
		}
	}

	// 5. 初始化 Redis 与限流器
	var rateLimiter ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		redisCache, err := cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			logger.Fatal(ctx, "Failed to initialize Redis", "error", err)
		}
		defer redisCache.Close()
		rateLimiter = ratelimit.NewRedisRateLimiter(redisCache.GetClient(), cfg.ServiceName)
	}

	// 6. 初始化指标
	m := metrics.New(cfg.ServiceName)

	// 7. 初始化下游 gRPC 客户端
	ledgerConn, err := grpcclient.NewClient(rpcClientConfig("ledger", cfg.Ledger, client.MethodGetWalletByCurrency))
	if err != nil {
		logger.Fatal(ctx, "Failed to create ledger client", "error", err)
	}
	defer ledgerConn.Close()
	ratesConn, err := grpcclient.NewClient(rpcClientConfig("rates", cfg.Rates, client.MethodGetExchangeRates))
	if err != nil {
		logger.Fatal(ctx, "Failed to create rates client", "error", err)
	}
	defer ratesConn.Close()

	// 8. 初始化 Kafka 通知
	producer, err := mq.NewProducer(mq.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		MaxRetries:   cfg.Kafka.MaxRetries,
		RetryBackoff: cfg.Kafka.RetryBackoff,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to create kafka producer", "error", err)
	}
	defer producer.Close()

	// 9. 组装应用服务
	orderRepo := mysql.NewOrderRepository(database)
	ledger := client.NewLedgerClient(ledgerConn, m)
	executor := application.NewPostingExecutor(ledger, orderRepo, application.ExecutorConfig{
		CallTimeout: cfg.Settlement.CallTimeout,
		MaxAttempts: cfg.Settlement.MaxAttempts,
		MaxElapsed:  cfg.Settlement.SettleTimeout,
	}, m, logger.Get())
	manager := application.NewOrderManager(
		orderRepo,
		ledger,
		client.NewRateClient(ratesConn),
		messaging.NewKafkaNotifier(producer, cfg.Notification.Topic),
		executor,
		application.ManagerConfig{
			Currencies:    cfg.Currencies,
			NotifyTimeout: time.Duration(cfg.Notification.Timeout) * time.Millisecond,
			SettleTimeout: cfg.Settlement.SettleTimeout,
		},
		m,
		logger.Get(),
	)
	orderService := application.NewOrderService(manager, application.NewOrderQuery(orderRepo))
	reconciler := application.NewReconciler(orderRepo, manager, application.ReconcilerConfig{
		Interval:     cfg.Settlement.ReconcileInterval,
		Grace:        cfg.Settlement.ReconcileGrace,
		Batch:        cfg.Settlement.ReconcileBatch,
		ServiceToken: cfg.Settlement.ServiceToken,
	}, m, logger.Get())

	// 10. 创建 HTTP 服务器
	httpServer := createHTTPServer(cfg, orderService, rateLimiter, m)

	// 11. 启动并等待退出
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		reconciler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutting down OrderService")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(context.Background(), "OrderService exited with error", "error", err)
	}
	logger.Info(context.Background(), "OrderService stopped")
}

func rpcClientConfig(name string, c config.RPCClientConfig, readOnly ...string) grpcclient.ClientConfig {
	return grpcclient.ClientConfig{
		Name:              name,
		Target:            c.Target,
		ConnTimeout:       c.ConnTimeout,
		RequestTimeout:    time.Duration(c.RequestTimeout) * time.Millisecond,
		MaxRetries:        2,
		RetryDelay:        100 * time.Millisecond,
		ReadOnlyMethods:   readOnly,
		KeepaliveInterval: c.KeepaliveInterval,
		BreakerFailures:   c.BreakerFailures,
		BreakerTimeout:    time.Duration(c.BreakerTimeout) * time.Second,
	}
}

// createHTTPServer 创建 HTTP 服务器
func createHTTPServer(cfg *config.Config, svc *application.OrderService, rateLimiter ratelimit.RateLimiter, m *metrics.Metrics) *http.Server {
	router := gin.New()

	// 添加中间件
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.GinLoggingMiddleware())
	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(m.GinMiddleware())

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   cfg.ServiceName,
			"timestamp": time.Now().Unix(),
		})
	})
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}

	api := router.Group("/", middleware.RequireIdentity())
	if rateLimiter != nil {
		api.Use(middleware.RateLimitMiddleware(rateLimiter, ratelimit.PerSecond(cfg.RateLimit.QPS, cfg.RateLimit.Burst)))
	}
	httphandler.NewOrderHandler(svc).RegisterRoutes(api)

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}
