package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/nemonet1337/uriageGoBackend/pkg/cache"
)

var (
	salesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uriage_sales_recorded_total",
		Help: "Total number of sales recorded",
	})
	returnsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uriage_returns_processed_total",
		Help: "Total number of returns processed",
	})
	bulkUpdatesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uriage_bulk_updates_total",
		Help: "Total number of bulk inventory updates applied",
	})
)

// Cache keys invalidated by mutation paths. TTL alone is not enough because
// cached values may be stale relative to a just-committed mutation.
// 変更経路で無効化されるキャッシュキー。コミット直後の変更に対して
// キャッシュ値が古くなる可能性があるため、TTLだけでは不十分。

// CacheKeyProduct 商品キャッシュキーを生成
func CacheKeyProduct(productID string) string {
	return "product:" + productID
}

// CacheKeyActiveAlerts アクティブアラートキャッシュキー
const CacheKeyActiveAlerts = "alerts:active"

// Manager implements the stock mutation operations. Every quantity change
// runs inside one transactional unit and is paired with exactly one audit
// row.
// 在庫変更操作を実装。すべての数量変更は1つのトランザクション単位内で
// 実行され、正確に1つの監査行と対になる。
type Manager struct {
	runner TxRunner
	alerts *AlertManager
	cache  *cache.Cache
	logger *zap.Logger
}

// NewManager creates a new stock mutation manager. alerts and cache are
// optional collaborators.
// 新しい在庫変更マネージャーを作成。alertsとcacheは任意のコラボレーター。
func NewManager(runner TxRunner, alerts *AlertManager, c *cache.Cache, logger *zap.Logger) *Manager {
	return &Manager{
		runner: runner,
		alerts: alerts,
		cache:  c,
		logger: logger,
	}
}

// RecordSale records a sale inside one transactional unit: inserts the
// SaleRecord, decrements the product quantity, and writes the audit row.
// Sufficiency is validated before the decrement is written, so a transient
// negative quantity is never observable.
// 1つのトランザクション単位内で売上を記録：SaleRecordを挿入し、商品数量
// を減算し、監査行を書き込む。減算の書き込み前に在庫十分性を検証する
// ため、一時的な負の数量が観測されることはない。
func (m *Manager) RecordSale(ctx context.Context, productID string, quantitySold int64, salePrice float64, platform string) (*SaleResult, error) {
	if err := ValidateProductID(productID); err != nil {
		return nil, err
	}
	if err := ValidatePositiveQuantity("quantity_sold", quantitySold); err != nil {
		return nil, err
	}
	if err := ValidatePositivePrice("sale_price", salePrice); err != nil {
		return nil, err
	}
	if err := ValidatePlatform(platform); err != nil {
		return nil, err
	}

	var result *SaleResult

	err := m.runner.Transaction(ctx, func(store TxStore) error {
		product, err := store.GetProduct(ctx, productID)
		if err != nil {
			return err
		}

		// 在庫十分性チェックは減算の書き込みより前に行う
		if product.Quantity-quantitySold < 0 {
			return NewInsufficientStockError(productID, quantitySold, product.Quantity)
		}

		totalAmount := float64(quantitySold) * salePrice
		sale := &SaleRecord{
			ID:           NewRecordID(),
			ProductID:    productID,
			QuantitySold: quantitySold,
			SalePrice:    salePrice,
			TotalAmount:  totalAmount,
			Platform:     platform,
			SoldAt:       time.Now(),
		}
		if err := store.InsertSale(ctx, sale); err != nil {
			return err
		}

		newQuantity := product.Quantity - quantitySold
		if err := store.UpdateProductQuantity(ctx, productID, newQuantity); err != nil {
			return err
		}

		if err := store.InsertInventoryLog(ctx, &InventoryLogEntry{
			ID:               NewRecordID(),
			ProductID:        productID,
			PreviousQuantity: product.Quantity,
			NewQuantity:      newQuantity,
			Change:           -quantitySold,
			Reason:           fmt.Sprintf("sale:%s", sale.ID),
			CreatedAt:        time.Now(),
		}); err != nil {
			return err
		}

		// コミット後の数量を読み戻す
		updated, err := store.GetProduct(ctx, productID)
		if err != nil {
			return err
		}

		result = &SaleResult{
			SaleID:          sale.ID,
			TotalAmount:     totalAmount,
			RemainingStock:  updated.Quantity,
			NeedsRestocking: updated.Quantity < updated.EffectiveThreshold(),
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	salesRecorded.Inc()
	m.invalidateProduct(productID)
	m.reevaluateAlerts(ctx, productID)

	m.logger.Info("売上記録完了",
		zap.String("sale_id", result.SaleID),
		zap.String("product_id", productID),
		zap.Int64("quantity_sold", quantitySold),
		zap.Float64("total_amount", result.TotalAmount),
		zap.Int64("remaining_stock", result.RemainingStock),
	)

	return result, nil
}

// ProcessReturnInput carries the parameters for processing a return
// 返品処理のパラメーターを保持
type ProcessReturnInput struct {
	ReturnID        string  `json:"return_id"`        // 返品ID
	ProcessedBy     string  `json:"processed_by"`     // 処理者
	RefundAmount    float64 `json:"refund_amount"`    // 返金額
	RefundMethod    string  `json:"refund_method"`    // 返金方法
	RestockQuantity int64   `json:"restock_quantity"` // 再入庫数量（0で再入庫なし）
	ProductID       string  `json:"product_id"`       // 再入庫先商品ID
}

// ProcessReturn processes an approved return: records the refund, marks the
// return processed, optionally restocks, and writes an audit activity entry.
// A return not in the approved state fails with a conflict error and
// performs no writes.
// 承認済みの返品を処理：返金を記録し、返品を処理済みにし、必要に応じて
// 再入庫し、監査アクティビティを書き込む。承認済み状態でない返品は状態
// 競合エラーで失敗し、書き込みは一切行わない。
func (m *Manager) ProcessReturn(ctx context.Context, input ProcessReturnInput) (*ReturnResult, error) {
	if input.ReturnID == "" {
		return nil, NewValidationError("return_id", "返品IDが空です", input.ReturnID)
	}
	if input.RefundAmount < 0 {
		return nil, NewValidationError("refund_amount", "返金額は0以上である必要があります", fmt.Sprintf("%.2f", input.RefundAmount))
	}
	if input.RestockQuantity < 0 {
		return nil, NewValidationError("restock_quantity", "再入庫数量は0以上である必要があります", fmt.Sprintf("%d", input.RestockQuantity))
	}
	if input.RestockQuantity > 0 {
		if err := ValidateProductID(input.ProductID); err != nil {
			return nil, err
		}
	}

	var result *ReturnResult

	err := m.runner.Transaction(ctx, func(store TxStore) error {
		ret, err := store.GetReturn(ctx, input.ReturnID)
		if err != nil {
			return err
		}

		if ret.Status != ReturnStatusApproved {
			return NewConflictError("return", ret.ID, string(ret.Status), "承認済みの返品のみ処理できます")
		}

		now := time.Now()
		ret.Status = ReturnStatusProcessed
		ret.RefundAmount = input.RefundAmount
		ret.RefundMethod = input.RefundMethod
		ret.ProcessedBy = input.ProcessedBy
		ret.ProcessedAt = &now
		ret.Restocked = true

		if err := store.UpdateReturn(ctx, ret); err != nil {
			return err
		}

		restocked := false
		var newQuantity int64
		if input.RestockQuantity > 0 && input.ProductID != "" {
			product, err := store.GetProduct(ctx, input.ProductID)
			if err != nil {
				return err
			}

			newQuantity = product.Quantity + input.RestockQuantity
			if err := store.UpdateProductQuantity(ctx, input.ProductID, newQuantity); err != nil {
				return err
			}

			if err := store.InsertInventoryLog(ctx, &InventoryLogEntry{
				ID:               NewRecordID(),
				ProductID:        input.ProductID,
				PreviousQuantity: product.Quantity,
				NewQuantity:      newQuantity,
				Change:           input.RestockQuantity,
				Reason:           fmt.Sprintf("return:%s", ret.ID),
				CreatedAt:        now,
			}); err != nil {
				return err
			}
			restocked = true
		}

		if err := store.InsertActivity(ctx, &ActivityEntry{
			ID:        NewRecordID(),
			Action:    "process_return",
			Detail:    fmt.Sprintf("返品 %s を処理しました (返金: %.2f %s)", ret.ID, input.RefundAmount, input.RefundMethod),
			ActorID:   input.ProcessedBy,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		result = &ReturnResult{
			ReturnUpdated: true,
			Restocked:     restocked,
			NewQuantity:   newQuantity,
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	returnsProcessed.Inc()
	if result.Restocked {
		m.invalidateProduct(input.ProductID)
		m.reevaluateAlerts(ctx, input.ProductID)
	}

	m.logger.Info("返品処理完了",
		zap.String("return_id", input.ReturnID),
		zap.String("processed_by", input.ProcessedBy),
		zap.Bool("restocked", result.Restocked),
	)

	return result, nil
}

// BulkInventoryUpdate applies a list of quantity deltas as one logical
// adjustment. If any single item would drive its product negative, the
// entire batch is rejected and no effects are visible.
// 数量差分のリストを1つの論理的な調整として適用。いずれかのアイテムが
// 商品を負にしてしまう場合、バッチ全体を拒否し、効果は一切可視化されない。
func (m *Manager) BulkInventoryUpdate(ctx context.Context, items []BulkUpdateItem) ([]BulkUpdateResult, error) {
	if len(items) == 0 {
		return nil, NewValidationError("items", "更新アイテムが空です", "")
	}
	for _, item := range items {
		if err := ValidateProductID(item.ProductID); err != nil {
			return nil, err
		}
		if err := ValidateReason(item.Reason); err != nil {
			return nil, err
		}
		if item.QuantityChange == 0 {
			return nil, NewValidationError("quantity_change", "数量変更は0以外である必要があります", item.ProductID)
		}
	}

	results := make([]BulkUpdateResult, 0, len(items))

	err := m.runner.Transaction(ctx, func(store TxStore) error {
		for _, item := range items {
			product, err := store.GetProduct(ctx, item.ProductID)
			if err != nil {
				return err
			}

			newQuantity := product.Quantity + item.QuantityChange
			if newQuantity < 0 {
				return NewInsufficientStockError(item.ProductID, -item.QuantityChange, product.Quantity)
			}

			if err := store.UpdateProductQuantity(ctx, item.ProductID, newQuantity); err != nil {
				return err
			}

			if err := store.InsertInventoryLog(ctx, &InventoryLogEntry{
				ID:               NewRecordID(),
				ProductID:        item.ProductID,
				PreviousQuantity: product.Quantity,
				NewQuantity:      newQuantity,
				Change:           item.QuantityChange,
				Reason:           item.Reason,
				CreatedAt:        time.Now(),
			}); err != nil {
				return err
			}

			results = append(results, BulkUpdateResult{
				ProductID:        item.ProductID,
				PreviousQuantity: product.Quantity,
				NewQuantity:      newQuantity,
				Change:           item.QuantityChange,
			})
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	bulkUpdatesApplied.Inc()
	for _, r := range results {
		m.invalidateProduct(r.ProductID)
		m.reevaluateAlerts(ctx, r.ProductID)
	}

	m.logger.Info("一括在庫更新完了", zap.Int("item_count", len(results)))

	return results, nil
}

// invalidateProduct removes the product's cache entries after a committed
// mutation
// コミットされた変更後に商品のキャッシュエントリーを削除
func (m *Manager) invalidateProduct(productID string) {
	if m.cache == nil {
		return
	}
	m.cache.Delete(CacheKeyProduct(productID))
	m.cache.Delete(CacheKeyActiveAlerts)
}

// reevaluateAlerts re-evaluates the alert state machine for a product after
// a committed mutation. Failure here never fails the mutation.
// コミットされた変更後に商品のアラート状態機械を再評価。ここでの失敗は
// 変更自体を失敗させない。
func (m *Manager) reevaluateAlerts(ctx context.Context, productID string) {
	if m.alerts == nil {
		return
	}
	if err := m.alerts.EvaluateProduct(ctx, productID); err != nil {
		m.logger.Error("アラート再評価に失敗しました",
			zap.String("product_id", productID),
			zap.Error(err),
		)
	}
}
