package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hedgeguard/internal/chain"
	"hedgeguard/internal/client/settlement"
	"hedgeguard/internal/config"
	cronrunner "hedgeguard/internal/cron"
	"hedgeguard/internal/db"
	"hedgeguard/internal/executor"
	"hedgeguard/internal/handler"
	"hedgeguard/internal/logger"
	gormrepository "hedgeguard/internal/repository/gorm"
	"hedgeguard/internal/service"
)

func main() {
	cfgPath := os.Getenv("HG_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("HG_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	accessor := chain.NewAccessor(cfg.Chain, logger)
	gatewayHTTP := &http.Client{Timeout: cfg.Chain.CallTimeout}
	gatewayClient := settlement.NewClient(gatewayHTTP, cfg.Chain.Endpoint)
	chainExecutor := &executor.ChainExecutor{
		Accessor: accessor,
		Client:   gatewayClient,
		Logger:   logger,
		Config:   cfg.Executor,
	}
	priceFeed := &settlement.PriceService{Client: gatewayClient, Accessor: accessor}
	riskOracle := &settlement.RiskService{Client: gatewayClient, Accessor: accessor}
	valuation := &settlement.ValuationService{Client: gatewayClient, Accessor: accessor}

	hedgeSvc := &service.HedgeService{
		Repo:     store,
		Executor: chainExecutor,
		Logger:   logger,
	}
	autoHedge := service.NewAutoHedgeService(store, riskOracle, hedgeSvc, logger, settingsSvc, cfg.AutoHedge)
	autoRebalance := service.NewAutoRebalanceService(store, valuation, chainExecutor, logger, settingsSvc, cfg.AutoRebalance)
	monitor := service.NewMonitorService(store, hedgeSvc, priceFeed, logger, settingsSvc, cfg.Monitor)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)

	// Everything registered below this line requires the shared secret.
	engine.Use(handler.RequireEngineSecret(cfg.Monitor.TriggerSecret))

	positionsHandler := &handler.HedgePositionHandler{Repo: store, Hedges: hedgeSvc}
	positionsHandler.Register(engine)
	hedgeConfigHandler := &handler.AutoHedgeConfigHandler{Repo: store, Service: autoHedge}
	hedgeConfigHandler.Register(engine)
	rebalanceConfigHandler := &handler.AutoRebalanceConfigHandler{Repo: store, Service: autoRebalance}
	rebalanceConfigHandler.Register(engine)
	monitorHandler := &handler.MonitorHandler{Repo: store, Monitor: monitor}
	monitorHandler.Register(engine)
	settingsHandler := &handler.SystemSettingsHandler{Repo: store, Settings: settingsSvc}
	settingsHandler.Register(engine)
	chainHandler := &handler.ChainHandler{Accessor: accessor}
	chainHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	_, err = cronRunner.Add(cfg.Monitor.CronSpec, func(ctx context.Context) {
		if _, err := monitor.RunOnce(ctx); err != nil {
			logger.Warn("cron monitor pass failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("cron register monitor failed", zap.Error(err))
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	go func() {
		if err := autoHedge.Run(ctx, cfg.AutoHedge.ScanInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("auto hedge controller stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := autoRebalance.Run(ctx, cfg.AutoRebalance.ScanInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("auto rebalance controller stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,X-Engine-Secret")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
