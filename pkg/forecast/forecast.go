// Package forecast provides demand prediction and seasonal trend analysis
// over the historical sales ledger
// 販売履歴台帳に基づく需要予測と季節トレンド分析を提供
package forecast

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/uriageGoBackend/pkg/inventory"
)

// Ensemble weights. Normalized over the estimators actually available.
// アンサンブル重み。実際に利用可能な推定器に対して正規化される。
const (
	weightMA7   = 0.3
	weightMA30  = 0.5
	weightTrend = 0.2

	// confidencePerEstimator accumulates per contributing estimator.
	// Informal score, not a true probability.
	// 寄与する推定器ごとに加算される。正式な確率ではない略式スコア。
	confidencePerEstimator = 0.33
)

// DailyQuantity is one calendar day's total sold quantity for a product
// 商品の1暦日の合計販売数量
type DailyQuantity struct {
	Date     time.Time `json:"date" db:"date"`         // 暦日
	Quantity int64     `json:"quantity" db:"quantity"` // 販売数量
}

// DemandPrediction is one forecast run's output for a product. Append-only.
// 商品に対する1回の予測実行の出力。追記のみ。
type DemandPrediction struct {
	ID              string    `json:"id" db:"id"`                             // 予測ID
	ProductID       string    `json:"product_id" db:"product_id"`             // 商品ID
	PredictedDemand int64     `json:"predicted_demand" db:"predicted_demand"` // 予測需要（0以上の整数）
	ConfidenceLevel float64   `json:"confidence_level" db:"confidence_level"` // 信頼度（0〜1）
	Period          string    `json:"period" db:"period"`                     // 予測期間ラベル
	MA7             *float64  `json:"ma_7" db:"ma_7"`                         // 7日移動平均（計算不能ならnil）
	MA30            *float64  `json:"ma_30" db:"ma_30"`                       // 30日移動平均（計算不能ならnil）
	Trend           *float64  `json:"trend" db:"trend"`                       // 線形トレンド外挿（計算不能ならnil）
	CreatedAt       time.Time `json:"created_at" db:"created_at"`             // 実行日時
}

// HistoryReader provides read access to historical sales for forecasting
// 予測用の販売履歴への読み取りアクセスを提供
type HistoryReader interface {
	// DailySalesTotals returns per-day sold quantities over the trailing
	// window, grouped by calendar day, ascending. Days without sales are
	// absent.
	// 遡及ウィンドウ内の日別販売数量を暦日でグループ化して昇順で返す。
	// 販売のない日は含まれない。
	DailySalesTotals(ctx context.Context, productID string, days int) ([]DailyQuantity, error)
	MonthlySalesTotals(ctx context.Context, productID string, year int) ([]MonthlyBucket, error)
	ListActiveProductIDs(ctx context.Context) ([]string, error)
}

// PredictionWriter persists forecast outputs
// 予測出力を永続化
type PredictionWriter interface {
	InsertPrediction(ctx context.Context, prediction *DemandPrediction) error
	UpsertSeasonalTrend(ctx context.Context, trend *SeasonalTrend) error
}

// BatchSummary is the result of a batch forecast run
// バッチ予測実行の結果
type BatchSummary struct {
	ProductsProcessed int `json:"products_processed"` // 処理した商品数
	Skipped           int `json:"skipped"`            // データ不足でスキップした商品数
	Failures          int `json:"failures"`           // 失敗した商品数
}

// Engine computes demand predictions and seasonal trends. It only reads the
// ledger and writes its own records; it never participates in the
// transactional mutation path.
// 需要予測と季節トレンドを計算するエンジン。台帳の読み取りと自身の記録
// の書き込みのみを行い、トランザクション変更経路には一切関与しない。
type Engine struct {
	history HistoryReader
	writer  PredictionWriter
	logger  *zap.Logger

	// defaultWindowDays is the trailing window used by batch runs
	// バッチ実行で使用される遡及ウィンドウ
	defaultWindowDays int
}

// NewEngine creates a new forecast engine
// 新しい予測エンジンを作成
func NewEngine(history HistoryReader, writer PredictionWriter, logger *zap.Logger) *Engine {
	return &Engine{
		history:           history,
		writer:            writer,
		logger:            logger,
		defaultWindowDays: 30,
	}
}

// PredictProductDemand predicts next-day demand for a product from its
// trailing window of daily sales. An empty window yields
// ErrInsufficientData, never a zero prediction.
// 日別売上の遡及ウィンドウから商品の翌日需要を予測。空のウィンドウは
// ゼロ予測ではなくErrInsufficientDataを返す。
func (e *Engine) PredictProductDemand(ctx context.Context, productID string, days int) (*DemandPrediction, error) {
	if err := inventory.ValidateProductID(productID); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = e.defaultWindowDays
	}

	daily, err := e.history.DailySalesTotals(ctx, productID, days)
	if err != nil {
		return nil, inventory.NewStorageError("daily_sales_totals", "日別売上取得に失敗しました", err)
	}
	if len(daily) == 0 {
		return nil, inventory.ErrInsufficientData
	}

	ma7 := movingAverage(daily, 7)
	ma30 := movingAverage(daily, 30)
	trend := linearTrend(daily)

	weightedSum := 0.0
	weightTotal := 0.0
	confidence := 0.0

	if ma7 != nil {
		weightedSum += *ma7 * weightMA7
		weightTotal += weightMA7
		confidence += confidencePerEstimator
	}
	if ma30 != nil {
		weightedSum += *ma30 * weightMA30
		weightTotal += weightMA30
		confidence += confidencePerEstimator
	}
	if trend != nil {
		weightedSum += *trend * weightTrend
		weightTotal += weightTrend
		confidence += confidencePerEstimator
	}

	if weightTotal == 0 {
		return nil, inventory.ErrInsufficientData
	}

	predicted := int64(math.Round(weightedSum / weightTotal))
	if predicted < 0 {
		predicted = 0
	}

	prediction := &DemandPrediction{
		ID:              inventory.NewRecordID(),
		ProductID:       productID,
		PredictedDemand: predicted,
		ConfidenceLevel: confidence,
		Period:          "daily",
		MA7:             ma7,
		MA30:            ma30,
		Trend:           trend,
		CreatedAt:       time.Now(),
	}

	// 後の精度監査のため、使用した特徴量ごと永続化する
	if err := e.writer.InsertPrediction(ctx, prediction); err != nil {
		return nil, inventory.NewStorageError("insert_prediction", "予測記録の保存に失敗しました", err)
	}

	e.logger.Info("需要予測完了",
		zap.String("product_id", productID),
		zap.Int("window_days", days),
		zap.Int64("predicted_demand", predicted),
		zap.Float64("confidence", confidence),
	)

	return prediction, nil
}

// GenerateDemandPredictions runs demand prediction for all active products.
// A product with insufficient data is skipped; one product's failure never
// aborts the remaining products.
// 全アクティブ商品の需要予測を実行。データ不足の商品はスキップし、
// 1商品の失敗が残りの商品を中断することはない。
func (e *Engine) GenerateDemandPredictions(ctx context.Context) (*BatchSummary, error) {
	productIDs, err := e.history.ListActiveProductIDs(ctx)
	if err != nil {
		return nil, inventory.NewStorageError("list_active_products", "アクティブ商品一覧取得に失敗しました", err)
	}

	summary := &BatchSummary{}
	for _, productID := range productIDs {
		_, err := e.PredictProductDemand(ctx, productID, e.defaultWindowDays)
		switch {
		case err == inventory.ErrInsufficientData:
			summary.Skipped++
		case err != nil:
			summary.Failures++
			e.logger.Error("商品の需要予測に失敗しました",
				zap.String("product_id", productID),
				zap.Error(err),
			)
		default:
			summary.ProductsProcessed++
		}
	}

	e.logger.Info("需要予測バッチ完了",
		zap.Int("processed", summary.ProductsProcessed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failures", summary.Failures),
	)

	return summary, nil
}

// movingAverage returns the mean of the last size observed days, or nil when
// fewer than size days of data exist
// 直近size日分の観測値の平均を返す。size日未満のデータしかない場合はnil。
func movingAverage(daily []DailyQuantity, size int) *float64 {
	if len(daily) < size {
		return nil
	}

	sum := int64(0)
	for _, d := range daily[len(daily)-size:] {
		sum += d.Quantity
	}

	avg := float64(sum) / float64(size)
	return &avg
}

// linearTrend fits a least-squares line over (day offset, quantity) pairs
// and extrapolates one step past the last observed day, clamped to >= 0.
// Returns nil when a slope cannot be determined.
// (日オフセット, 数量)のペアに最小二乗直線を当てはめ、最終観測日の1歩先
// へ外挿する（0以上にクランプ）。傾きが求められない場合はnil。
func linearTrend(daily []DailyQuantity) *float64 {
	if len(daily) < 2 {
		return nil
	}

	base := daily[0].Date
	n := float64(len(daily))

	var sumX, sumY, sumXY, sumXX float64
	for _, d := range daily {
		x := d.Date.Sub(base).Hours() / 24
		y := float64(d.Quantity)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denominator := n*sumXX - sumX*sumX
	if denominator == 0 {
		return nil
	}

	slope := (n*sumXY - sumX*sumY) / denominator
	intercept := (sumY - slope*sumX) / n

	lastX := daily[len(daily)-1].Date.Sub(base).Hours() / 24
	estimate := intercept + slope*(lastX+1)
	if estimate < 0 {
		estimate = 0
	}

	return &estimate
}
