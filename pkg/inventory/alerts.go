package inventory

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/nemonet1337/uriageGoBackend/pkg/cache"
)

// Hysteresis band: alerts trigger at quantity <= threshold but only
// auto-resolve once quantity exceeds threshold * 1.5. The gap prevents
// create/resolve oscillation while stock hovers near the threshold.
// ヒステリシス帯：アラートは数量 <= 閾値で発生するが、自動解決は数量が
// 閾値 × 1.5 を超えた場合のみ。このギャップにより在庫が閾値付近で変動
// しても作成/解決が振動しない。
const (
	alertResolveMultiplier  = 1.5
	alertCriticalMultiplier = 0.5
)

// AlertSweepSummary is the result of a full alert sweep
// 全商品アラートスイープの結果
type AlertSweepSummary struct {
	ProductsChecked int `json:"products_checked"` // 確認した商品数
	AlertsCreated   int `json:"alerts_created"`   // 作成したアラート数
	AlertsResolved  int `json:"alerts_resolved"`  // 解決したアラート数
	Failures        int `json:"failures"`         // 失敗した商品数
}

// AlertManager drives the low stock alert state machine:
// none → active → {resolved, ignored}, and back to active if conditions
// recur. Uniqueness applies only to active alerts.
// 低在庫アラートの状態機械を駆動：
// none → active → {resolved, ignored}、条件が再発すれば再びactiveへ。
// 一意性はactiveなアラートにのみ適用される。
type AlertManager struct {
	store  AlertStore
	cache  *cache.Cache
	logger *zap.Logger
}

// NewAlertManager creates a new alert lifecycle manager
// 新しいアラートライフサイクルマネージャーを作成
func NewAlertManager(store AlertStore, c *cache.Cache, logger *zap.Logger) *AlertManager {
	return &AlertManager{
		store:  store,
		cache:  c,
		logger: logger,
	}
}

// EvaluateProduct evaluates the alert state machine for one product against
// its current quantity and threshold
// 現在の数量と閾値に対して1商品のアラート状態機械を評価
func (am *AlertManager) EvaluateProduct(ctx context.Context, productID string) error {
	_, _, err := am.evaluate(ctx, productID)
	return err
}

// evaluate applies the transition rules and reports what happened
// 遷移ルールを適用して結果を報告
func (am *AlertManager) evaluate(ctx context.Context, productID string) (created, resolved bool, err error) {
	product, err := am.store.GetProduct(ctx, productID)
	if err != nil {
		return false, false, err
	}

	threshold := product.EffectiveThreshold()

	active, err := am.store.GetActiveAlert(ctx, productID)
	if err != nil && err != ErrAlertNotFound {
		return false, false, err
	}
	hasActive := err == nil

	switch {
	case product.Quantity <= threshold && !hasActive:
		// アクティブなアラートが存在しない場合のみ新規作成
		if err := am.createAlert(ctx, product, threshold); err != nil {
			return false, false, err
		}
		created = true

	case hasActive && float64(product.Quantity) > float64(threshold)*alertResolveMultiplier:
		// ヒステリシス帯を超えたら自動解決
		if err := am.store.UpdateAlertStatus(ctx, active.ID, AlertStatusResolved, time.Now()); err != nil {
			return false, false, err
		}
		am.invalidate()
		am.logger.Info("低在庫アラート自動解決",
			zap.String("alert_id", active.ID),
			zap.String("product_id", productID),
			zap.Int64("quantity", product.Quantity),
			zap.Int64("threshold", threshold),
		)
		resolved = true
	}

	return created, resolved, nil
}

// classifyAlert classifies severity at creation time
// 作成時点の重大度を分類
func classifyAlert(quantity, threshold int64) (AlertType, AlertPriority) {
	switch {
	case quantity == 0:
		return AlertTypeOutOfStock, AlertPriorityCritical
	case float64(quantity) <= float64(threshold)*alertCriticalMultiplier:
		return AlertTypeCritical, AlertPriorityHigh
	default:
		return AlertTypeLowStock, AlertPriorityMedium
	}
}

// createAlert inserts a new active alert and records notification intent
// 新しいアクティブアラートを挿入し、通知の意図を記録
func (am *AlertManager) createAlert(ctx context.Context, product *Product, threshold int64) error {
	alertType, priority := classifyAlert(product.Quantity, threshold)

	alert := &LowStockAlert{
		ID:                NewRecordID(),
		ProductID:         product.ID,
		Status:            AlertStatusActive,
		AlertType:         alertType,
		Priority:          priority,
		ThresholdQuantity: threshold,
		QuantityAtAlert:   product.Quantity,
		CreatedAt:         time.Now(),
	}

	if err := am.store.InsertAlert(ctx, alert); err != nil {
		return err
	}

	// 通知はアウトボックスに意図のみ記録する。実際の配送はディスパッチャーの責務。
	payload, _ := json.Marshal(map[string]interface{}{
		"alert_id":   alert.ID,
		"product_id": product.ID,
		"alert_type": alertType,
		"priority":   priority,
		"quantity":   product.Quantity,
		"threshold":  threshold,
	})
	if err := am.store.InsertOutbox(ctx, &OutboxEntry{
		ID:        NewRecordID(),
		Topic:     "alert_created",
		Payload:   string(payload),
		CreatedAt: time.Now(),
	}); err != nil {
		am.logger.Error("アウトボックス記録に失敗しました", zap.Error(err))
	}

	am.invalidate()

	am.logger.Info("低在庫アラート作成",
		zap.String("alert_id", alert.ID),
		zap.String("product_id", product.ID),
		zap.String("alert_type", string(alertType)),
		zap.String("priority", string(priority)),
		zap.Int64("quantity", product.Quantity),
		zap.Int64("threshold", threshold),
	)

	return nil
}

// CheckLowStockAlerts sweeps all products and applies the transition rules.
// One product's failure is logged and skipped; it never aborts the sweep.
// 全商品をスイープして遷移ルールを適用。1商品の失敗はログに残して
// スキップし、スイープ全体を中断しない。
func (am *AlertManager) CheckLowStockAlerts(ctx context.Context) (*AlertSweepSummary, error) {
	summary := &AlertSweepSummary{}

	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		products, err := am.store.ListProducts(ctx, offset, pageSize)
		if err != nil {
			return nil, NewStorageError("list_products", "商品一覧取得に失敗しました", err)
		}
		if len(products) == 0 {
			break
		}

		for _, product := range products {
			created, resolved, err := am.evaluate(ctx, product.ID)
			summary.ProductsChecked++
			if err != nil {
				summary.Failures++
				am.logger.Error("商品のアラート評価に失敗しました",
					zap.String("product_id", product.ID),
					zap.Error(err),
				)
				continue
			}
			if created {
				summary.AlertsCreated++
			}
			if resolved {
				summary.AlertsResolved++
			}
		}

		if len(products) < pageSize {
			break
		}
	}

	am.logger.Info("低在庫アラートスイープ完了",
		zap.Int("products_checked", summary.ProductsChecked),
		zap.Int("alerts_created", summary.AlertsCreated),
		zap.Int("alerts_resolved", summary.AlertsResolved),
		zap.Int("failures", summary.Failures),
	)

	return summary, nil
}

// GetActiveLowStockAlerts returns all active alerts, served through the
// bounded cache
// すべてのアクティブアラートを容量制限付きキャッシュ経由で返す
func (am *AlertManager) GetActiveLowStockAlerts(ctx context.Context) ([]LowStockAlert, error) {
	if am.cache == nil {
		return am.store.ListActiveAlerts(ctx)
	}

	value, err := am.cache.GetOrFetch(CacheKeyActiveAlerts, func() (interface{}, error) {
		return am.store.ListActiveAlerts(ctx)
	}, 30*time.Second)
	if err != nil {
		return nil, err
	}

	alerts, ok := value.([]LowStockAlert)
	if !ok {
		return am.store.ListActiveAlerts(ctx)
	}
	return alerts, nil
}

// ResolveLowStockAlert manually resolves the active alert for a product
// 商品のアクティブアラートを手動で解決
func (am *AlertManager) ResolveLowStockAlert(ctx context.Context, productID string) error {
	return am.closeAlert(ctx, productID, AlertStatusResolved)
}

// IgnoreLowStockAlert marks the active alert for a product as ignored
// 商品のアクティブアラートを無視として記録
func (am *AlertManager) IgnoreLowStockAlert(ctx context.Context, productID string) error {
	return am.closeAlert(ctx, productID, AlertStatusIgnored)
}

// closeAlert transitions the active alert into a terminal state
// アクティブアラートを終端状態に遷移
func (am *AlertManager) closeAlert(ctx context.Context, productID string, status AlertStatus) error {
	if err := ValidateProductID(productID); err != nil {
		return err
	}

	active, err := am.store.GetActiveAlert(ctx, productID)
	if err != nil {
		return err
	}

	if err := am.store.UpdateAlertStatus(ctx, active.ID, status, time.Now()); err != nil {
		return err
	}

	am.invalidate()

	am.logger.Info("低在庫アラート終了",
		zap.String("alert_id", active.ID),
		zap.String("product_id", productID),
		zap.String("status", string(status)),
	)

	return nil
}

// invalidate drops the cached active alert list
// キャッシュされたアクティブアラート一覧を破棄
func (am *AlertManager) invalidate() {
	if am.cache != nil {
		am.cache.Delete(CacheKeyActiveAlerts)
	}
}
