// Command api runs the inventory backend HTTP server
// 在庫バックエンドHTTPサーバーを起動するコマンド
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nemonet1337/uriageGoBackend/internal/config"
	"github.com/nemonet1337/uriageGoBackend/pkg/cache"
	"github.com/nemonet1337/uriageGoBackend/pkg/forecast"
	"github.com/nemonet1337/uriageGoBackend/pkg/inventory"
	"github.com/nemonet1337/uriageGoBackend/pkg/inventory/storage"
	"github.com/nemonet1337/uriageGoBackend/pkg/jobs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("設定の読み込みに失敗しました: " + err.Error())
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic("ロガーの初期化に失敗しました: " + err.Error())
	}
	defer logger.Sync()

	db, err := storage.Open(cfg.Database.DSN(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		logger.Fatal("データベース接続に失敗しました", zap.Error(err))
	}
	defer db.Close()

	store := storage.NewStore(db, logger)
	c := cache.New(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL, logger)
	alerts := inventory.NewAlertManager(store, c, logger)
	manager := inventory.NewManager(store, alerts, c, logger)
	engine := forecast.NewEngine(store, store, logger)

	runner := jobs.NewRunner(alerts, engine, c, jobs.Intervals{
		AlertSweep:    cfg.Jobs.AlertSweepInterval,
		Prediction:    cfg.Jobs.PredictionInterval,
		SeasonalTrend: cfg.Jobs.SeasonalTrendInterval,
		CacheCleanup:  cfg.Jobs.CacheCleanupInterval,
	}, logger)
	runner.Start(context.Background())

	server := NewServer(store, manager, alerts, engine, c, logger)
	httpServer := &http.Server{
		Addr:         cfg.API.Addr(),
		Handler:      server.Router(),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		logger.Info("HTTPサーバーを起動します", zap.String("addr", cfg.API.Addr()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTPサーバーの起動に失敗しました", zap.Error(err))
		}
	}()

	// SIGINT/SIGTERMでグレースフルシャットダウン
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("シャットダウンを開始します")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTPサーバーのシャットダウンに失敗しました", zap.Error(err))
	}
	runner.Stop()

	logger.Info("シャットダウン完了")
}

// newLogger builds the zap logger from configuration
// 設定からzapロガーを構築
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
