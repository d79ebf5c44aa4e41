// Package jobs runs the periodic background work: alert sweeps, forecast
// batches and cache cleanup
// 定期バックグラウンド処理を実行：アラートスイープ、予測バッチ、
// キャッシュ掃除
package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/nemonet1337/uriageGoBackend/pkg/cache"
	"github.com/nemonet1337/uriageGoBackend/pkg/forecast"
	"github.com/nemonet1337/uriageGoBackend/pkg/inventory"
)

var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uriage_job_runs_total",
		Help: "Total background job runs by job name and outcome",
	}, []string{"job", "outcome"})

	jobSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uriage_job_ticks_skipped_total",
		Help: "Ticks skipped because the previous run was still in progress",
	}, []string{"job"})
)

// Intervals is the schedule for the background jobs. A zero interval
// disables that job.
// バックグラウンドジョブのスケジュール。間隔ゼロはそのジョブを無効化。
type Intervals struct {
	AlertSweep    time.Duration // アラートスイープ間隔
	Prediction    time.Duration // 需要予測バッチ間隔
	SeasonalTrend time.Duration // 季節トレンド分析間隔
	CacheCleanup  time.Duration // キャッシュ掃除間隔
}

// Runner owns the background tickers. Each job carries a re-entrancy guard:
// if a run is still in progress when the next tick fires, the tick is
// skipped and counted, never queued.
// バックグラウンドティッカーを所有。各ジョブは再入ガードを持ち、次の
// ティック時に前回の実行が継続中であればそのティックはスキップして
// カウントし、キューには積まない。
type Runner struct {
	alerts   *inventory.AlertManager
	forecast *forecast.Engine
	cache    *cache.Cache
	logger   *zap.Logger

	intervals Intervals

	alertRunning      atomic.Bool
	predictionRunning atomic.Bool
	seasonalRunning   atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a new background job runner
// 新しいバックグラウンドジョブランナーを作成
func NewRunner(alerts *inventory.AlertManager, engine *forecast.Engine, c *cache.Cache, intervals Intervals, logger *zap.Logger) *Runner {
	return &Runner{
		alerts:    alerts,
		forecast:  engine,
		cache:     c,
		logger:    logger,
		intervals: intervals,
	}
}

// Start launches the enabled job loops. Call Stop to shut them down.
// 有効なジョブループを起動。停止にはStopを呼ぶ。
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	if r.intervals.AlertSweep > 0 {
		r.launch(ctx, "alert_sweep", r.intervals.AlertSweep, func(ctx context.Context) {
			r.runGuarded(ctx, "alert_sweep", &r.alertRunning, func(ctx context.Context) error {
				_, err := r.alerts.CheckLowStockAlerts(ctx)
				return err
			})
		})
	}

	if r.intervals.Prediction > 0 {
		r.launch(ctx, "demand_prediction", r.intervals.Prediction, func(ctx context.Context) {
			r.runGuarded(ctx, "demand_prediction", &r.predictionRunning, func(ctx context.Context) error {
				_, err := r.forecast.GenerateDemandPredictions(ctx)
				return err
			})
		})
	}

	if r.intervals.SeasonalTrend > 0 {
		r.launch(ctx, "seasonal_trend", r.intervals.SeasonalTrend, func(ctx context.Context) {
			r.runGuarded(ctx, "seasonal_trend", &r.seasonalRunning, func(ctx context.Context) error {
				_, err := r.forecast.AnalyzeSeasonalTrends(ctx, time.Now().Year())
				return err
			})
		})
	}

	if r.intervals.CacheCleanup > 0 && r.cache != nil {
		// Sweepは短時間で完了するため再入ガードは不要
		r.launch(ctx, "cache_cleanup", r.intervals.CacheCleanup, func(ctx context.Context) {
			removed := r.cache.Sweep()
			jobRunsTotal.WithLabelValues("cache_cleanup", "success").Inc()
			if removed > 0 {
				r.logger.Debug("期限切れキャッシュエントリを削除しました", zap.Int("removed", removed))
			}
		})
	}

	r.logger.Info("バックグラウンドジョブを開始しました",
		zap.Duration("alert_sweep", r.intervals.AlertSweep),
		zap.Duration("prediction", r.intervals.Prediction),
		zap.Duration("seasonal_trend", r.intervals.SeasonalTrend),
		zap.Duration("cache_cleanup", r.intervals.CacheCleanup),
	)
}

// Stop cancels the job loops and waits for in-flight runs to finish
// ジョブループをキャンセルし、実行中の処理の完了を待つ
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("バックグラウンドジョブを停止しました")
}

// launch runs fn on every tick until the context is cancelled
// コンテキストがキャンセルされるまで各ティックでfnを実行
func (r *Runner) launch(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	r.logger.Debug("ジョブループ起動", zap.String("job", name), zap.Duration("interval", interval))
}

// runGuarded executes fn unless the previous run is still in progress
// 前回の実行が継続中でない限りfnを実行
func (r *Runner) runGuarded(ctx context.Context, name string, running *atomic.Bool, fn func(context.Context) error) {
	if !running.CompareAndSwap(false, true) {
		jobSkippedTotal.WithLabelValues(name).Inc()
		r.logger.Warn("前回の実行が継続中のためティックをスキップします", zap.String("job", name))
		return
	}
	defer running.Store(false)

	start := time.Now()
	if err := fn(ctx); err != nil {
		jobRunsTotal.WithLabelValues(name, "failure").Inc()
		r.logger.Error("バックグラウンドジョブが失敗しました",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}

	jobRunsTotal.WithLabelValues(name, "success").Inc()
	r.logger.Debug("バックグラウンドジョブ完了",
		zap.String("job", name),
		zap.Duration("elapsed", time.Since(start)),
	)
}
