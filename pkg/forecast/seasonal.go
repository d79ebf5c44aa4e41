package forecast

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/uriageGoBackend/pkg/inventory"
)

// MonthlyBucket is one calendar month's sales aggregate for a product
// 商品の1暦月の売上集計
type MonthlyBucket struct {
	Month        int     `json:"month" db:"month"`               // 月（1〜12）
	Quantity     int64   `json:"quantity" db:"quantity"`         // 販売数量
	Revenue      float64 `json:"revenue" db:"revenue"`           // 売上金額
	Transactions int64   `json:"transactions" db:"transactions"` // 取引件数
}

// SeasonalTrend is the per-product, per-year seasonal decomposition.
// Upserted on each analysis run; one row per (product, year).
// 商品・年ごとの季節分解。分析実行ごとにアップサートされ、
// (商品, 年)ごとに1行。
type SeasonalTrend struct {
	ID                  string    `json:"id" db:"id"`                                       // トレンドID
	ProductID           string    `json:"product_id" db:"product_id"`                       // 商品ID
	Year                int       `json:"year" db:"year"`                                   // 対象年
	MonthlyQuantities   []int64   `json:"monthly_quantities" db:"monthly_quantities"`       // 月別販売数量（12要素）
	MonthlyRevenue      []float64 `json:"monthly_revenue" db:"monthly_revenue"`             // 月別売上金額（12要素）
	MonthlyTransactions []int64   `json:"monthly_transactions" db:"monthly_transactions"`   // 月別取引件数（12要素）
	SeasonalIndices     []float64 `json:"seasonal_indices" db:"seasonal_indices"`           // 季節指数（12要素）
	PeakMonth           int       `json:"peak_month" db:"peak_month"`                       // ピーク月
	LowMonth            int       `json:"low_month" db:"low_month"`                         // 最低月
	TrendStrength       float64   `json:"trend_strength" db:"trend_strength"`               // 季節性の強さ（0〜1）
	AnalyzedAt          time.Time `json:"analyzed_at" db:"analyzed_at"`                     // 分析日時
}

// AnalyzeProductSeasonalTrend decomposes one product's sales for a calendar
// year into monthly buckets, seasonal indices, peak/low months and a trend
// strength score. Ties on peak or low resolve to the earliest month.
// 1商品の暦年の売上を月別バケット、季節指数、ピーク月/最低月、季節性の
// 強さスコアに分解。ピーク/最低の同値は最も早い月に解決される。
func (e *Engine) AnalyzeProductSeasonalTrend(ctx context.Context, productID string, year int) (*SeasonalTrend, error) {
	if err := inventory.ValidateProductID(productID); err != nil {
		return nil, err
	}
	if year <= 0 {
		year = time.Now().Year()
	}

	buckets, err := e.history.MonthlySalesTotals(ctx, productID, year)
	if err != nil {
		return nil, inventory.NewStorageError("monthly_sales_totals", "月別売上取得に失敗しました", err)
	}

	// 売上のない月もゼロ値の月として扱うため、常に12要素へ展開する
	quantities := make([]int64, 12)
	revenue := make([]float64, 12)
	transactions := make([]int64, 12)
	for _, b := range buckets {
		if b.Month < 1 || b.Month > 12 {
			continue
		}
		quantities[b.Month-1] = b.Quantity
		revenue[b.Month-1] = b.Revenue
		transactions[b.Month-1] = b.Transactions
	}

	indices := seasonalIndices(quantities)
	peak, low := peakAndLowMonths(quantities)

	trend := &SeasonalTrend{
		ID:                  inventory.NewRecordID(),
		ProductID:           productID,
		Year:                year,
		MonthlyQuantities:   quantities,
		MonthlyRevenue:      revenue,
		MonthlyTransactions: transactions,
		SeasonalIndices:     indices,
		PeakMonth:           peak,
		LowMonth:            low,
		TrendStrength:       trendStrength(indices),
		AnalyzedAt:          time.Now(),
	}

	if err := e.writer.UpsertSeasonalTrend(ctx, trend); err != nil {
		return nil, inventory.NewStorageError("upsert_seasonal_trend", "季節トレンドの保存に失敗しました", err)
	}

	e.logger.Info("季節トレンド分析完了",
		zap.String("product_id", productID),
		zap.Int("year", year),
		zap.Int("peak_month", peak),
		zap.Int("low_month", low),
		zap.Float64("trend_strength", trend.TrendStrength),
	)

	return trend, nil
}

// AnalyzeSeasonalTrends analyzes the seasonal trend of every active product
// for the given year. One product's failure never aborts the batch.
// 全アクティブ商品の指定年の季節トレンドを分析。1商品の失敗がバッチ
// 全体を中断することはない。
func (e *Engine) AnalyzeSeasonalTrends(ctx context.Context, year int) (*BatchSummary, error) {
	productIDs, err := e.history.ListActiveProductIDs(ctx)
	if err != nil {
		return nil, inventory.NewStorageError("list_active_products", "アクティブ商品一覧取得に失敗しました", err)
	}

	summary := &BatchSummary{}
	for _, productID := range productIDs {
		if _, err := e.AnalyzeProductSeasonalTrend(ctx, productID, year); err != nil {
			summary.Failures++
			e.logger.Error("商品の季節トレンド分析に失敗しました",
				zap.String("product_id", productID),
				zap.Error(err),
			)
			continue
		}
		summary.ProductsProcessed++
	}

	e.logger.Info("季節トレンド分析バッチ完了",
		zap.Int("processed", summary.ProductsProcessed),
		zap.Int("failures", summary.Failures),
	)

	return summary, nil
}

// seasonalIndices returns each month's quantity divided by the monthly mean.
// With zero annual sales every index defaults to 1.0 (flat seasonality).
// 各月の数量を月平均で割った値を返す。年間売上がゼロの場合は全指数が
// 1.0（季節性なし）となる。
func seasonalIndices(quantities []int64) []float64 {
	indices := make([]float64, 12)

	total := int64(0)
	for _, q := range quantities {
		total += q
	}
	if total == 0 {
		for i := range indices {
			indices[i] = 1.0
		}
		return indices
	}

	mean := float64(total) / 12.0
	for i, q := range quantities {
		indices[i] = float64(q) / mean
	}
	return indices
}

// peakAndLowMonths returns the 1-based months with the highest and lowest
// quantities. Strict comparison keeps the earliest month on ties.
// 数量が最大・最小の月（1始まり）を返す。厳密比較により同値では最も
// 早い月が選ばれる。
func peakAndLowMonths(quantities []int64) (peak, low int) {
	peak, low = 1, 1
	for i, q := range quantities {
		if q > quantities[peak-1] {
			peak = i + 1
		}
		if q < quantities[low-1] {
			low = i + 1
		}
	}
	return peak, low
}

// trendStrength scores how pronounced the seasonality is as the population
// coefficient of variation of the indices, clamped to [0, 1]
// 季節性の顕著さを指数の母集団変動係数としてスコア化し、[0, 1]に
// クランプする
func trendStrength(indices []float64) float64 {
	n := float64(len(indices))
	if n == 0 {
		return 0
	}

	mean := 0.0
	for _, v := range indices {
		mean += v
	}
	mean /= n
	if mean == 0 {
		return 0
	}

	variance := 0.0
	for _, v := range indices {
		d := v - mean
		variance += d * d
	}
	variance /= n

	cv := math.Sqrt(variance) / mean
	if cv > 1 {
		return 1
	}
	if cv < 0 {
		return 0
	}
	return cv
}
