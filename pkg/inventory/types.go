// Package inventory provides the inventory consistency core: atomic stock
// mutations, the low-stock alert lifecycle, and their audit ledger
// 在庫整合性コアを提供：アトミックな在庫変更、低在庫アラートのライフ
// サイクル、およびその監査台帳
package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Product represents a sellable product and its current stock level
// 販売可能な商品と現在の在庫レベルを表現
type Product struct {
	ID                string    `json:"id" db:"id"`                                   // 商品ID
	Name              string    `json:"name" db:"name"`                               // 商品名
	Quantity          int64     `json:"quantity" db:"quantity"`                       // 在庫数量（0以上）
	CostPrice         float64   `json:"cost_price" db:"cost_price"`                   // 原価
	SellingPrice      float64   `json:"selling_price" db:"selling_price"`             // 販売価格
	LowStockThreshold int64     `json:"low_stock_threshold" db:"low_stock_threshold"` // 低在庫閾値
	CreatedAt         time.Time `json:"created_at" db:"created_at"`                   // 作成日時
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`                   // 更新日時
}

// DefaultLowStockThreshold is applied when a product has no threshold set
// 閾値未設定の商品に適用されるデフォルト低在庫閾値
const DefaultLowStockThreshold int64 = 10

// EffectiveThreshold returns the product's threshold, or the default if unset
// 商品の閾値、未設定ならデフォルト値を返す
func (p *Product) EffectiveThreshold() int64 {
	if p.LowStockThreshold <= 0 {
		return DefaultLowStockThreshold
	}
	return p.LowStockThreshold
}

// SaleRecord represents a single sale. Immutable once written.
// 単一の売上を表現。書き込み後は不変。
type SaleRecord struct {
	ID           string    `json:"id" db:"id"`                       // 売上ID
	ProductID    string    `json:"product_id" db:"product_id"`       // 商品ID
	QuantitySold int64     `json:"quantity_sold" db:"quantity_sold"` // 販売数量（正の値）
	SalePrice    float64   `json:"sale_price" db:"sale_price"`       // 販売単価（正の値）
	TotalAmount  float64   `json:"total_amount" db:"total_amount"`   // 合計金額（数量×単価、計算値）
	Platform     string    `json:"platform" db:"platform"`           // 販売プラットフォーム
	SoldAt       time.Time `json:"sold_at" db:"sold_at"`             // 販売日時
}

// ReturnStatus defines the state of a return record
// 返品記録の状態を定義
type ReturnStatus string

const (
	ReturnStatusPending   ReturnStatus = "pending"   // 保留中
	ReturnStatusApproved  ReturnStatus = "approved"  // 承認済み
	ReturnStatusRejected  ReturnStatus = "rejected"  // 却下
	ReturnStatusProcessed ReturnStatus = "processed" // 処理済み
	ReturnStatusCancelled ReturnStatus = "cancelled" // キャンセル
)

// ReturnRecord represents a customer return and its processing state.
// Status transitions are one-directional: pending → approved → processed.
// 顧客返品とその処理状態を表現。状態遷移は一方向：
// pending → approved → processed。
type ReturnRecord struct {
	ID           string       `json:"id" db:"id"`                       // 返品ID
	SaleID       *string      `json:"sale_id" db:"sale_id"`             // 元売上ID（任意）
	ProductID    string       `json:"product_id" db:"product_id"`       // 商品ID
	Quantity     int64        `json:"quantity" db:"quantity"`           // 返品数量（正の値）
	Status       ReturnStatus `json:"status" db:"status"`               // 状態
	RefundAmount float64      `json:"refund_amount" db:"refund_amount"` // 返金額
	RefundMethod string       `json:"refund_method" db:"refund_method"` // 返金方法
	Restocked    bool         `json:"restocked" db:"restocked"`         // 再入庫済みフラグ
	ProcessedBy  string       `json:"processed_by" db:"processed_by"`   // 処理者
	ProcessedAt  *time.Time   `json:"processed_at" db:"processed_at"`   // 処理日時
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`       // 作成日時
}

// InventoryLogEntry is an immutable audit row recording one quantity change.
// Never updated or deleted.
// 1回の数量変更を記録する不変の監査行。更新・削除は行わない。
type InventoryLogEntry struct {
	ID               string    `json:"id" db:"id"`                               // ログID
	ProductID        string    `json:"product_id" db:"product_id"`               // 商品ID
	PreviousQuantity int64     `json:"previous_quantity" db:"previous_quantity"` // 変更前数量
	NewQuantity      int64     `json:"new_quantity" db:"new_quantity"`           // 変更後数量
	Change           int64     `json:"change" db:"change"`                       // 符号付き差分
	Reason           string    `json:"reason" db:"reason"`                       // 理由
	CreatedAt        time.Time `json:"created_at" db:"created_at"`               // 記録日時
}

// AlertStatus defines the lifecycle state of a low stock alert
// 低在庫アラートのライフサイクル状態を定義
type AlertStatus string

const (
	AlertStatusActive   AlertStatus = "active"   // アクティブ
	AlertStatusResolved AlertStatus = "resolved" // 解決済み
	AlertStatusIgnored  AlertStatus = "ignored"  // 無視
)

// AlertType defines the severity classification of a low stock alert
// 低在庫アラートの重大度分類を定義
type AlertType string

const (
	AlertTypeLowStock   AlertType = "low_stock"    // 低在庫
	AlertTypeOutOfStock AlertType = "out_of_stock" // 在庫切れ
	AlertTypeCritical   AlertType = "critical"     // 危機的低在庫
)

// AlertPriority defines the priority assigned at alert creation
// アラート作成時に割り当てられる優先度を定義
type AlertPriority string

const (
	AlertPriorityMedium   AlertPriority = "medium"   // 中
	AlertPriorityHigh     AlertPriority = "high"     // 高
	AlertPriorityCritical AlertPriority = "critical" // 緊急
)

// LowStockAlert represents a low stock alert for a product.
// Invariant: at most one active alert per product at any time.
// 商品の低在庫アラートを表現。
// 不変条件：商品ごとにアクティブなアラートは常に最大1件。
type LowStockAlert struct {
	ID                string        `json:"id" db:"id"`                                 // アラートID
	ProductID         string        `json:"product_id" db:"product_id"`                 // 商品ID
	Status            AlertStatus   `json:"status" db:"status"`                         // 状態
	AlertType         AlertType     `json:"alert_type" db:"alert_type"`                 // アラートタイプ
	Priority          AlertPriority `json:"priority" db:"priority"`                     // 優先度
	ThresholdQuantity int64         `json:"threshold_quantity" db:"threshold_quantity"` // 作成時の閾値
	QuantityAtAlert   int64         `json:"quantity_at_alert" db:"quantity_at_alert"`   // 作成時の数量
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`                 // 作成日時
	ResolvedAt        *time.Time    `json:"resolved_at" db:"resolved_at"`               // 解決日時
}

// ActivityEntry is an audit activity row written by administrative actions
// 管理操作によって書き込まれる監査アクティビティ行
type ActivityEntry struct {
	ID        string    `json:"id" db:"id"`                 // アクティビティID
	Action    string    `json:"action" db:"action"`         // 操作名
	Detail    string    `json:"detail" db:"detail"`         // 詳細
	ActorID   string    `json:"actor_id" db:"actor_id"`     // 実行者
	CreatedAt time.Time `json:"created_at" db:"created_at"` // 記録日時
}

// OutboxEntry records notification intent; actual delivery is out of scope
// 通知の意図を記録する。実際の配送はスコープ外。
type OutboxEntry struct {
	ID        string     `json:"id" db:"id"`                 // 通知ID
	Topic     string     `json:"topic" db:"topic"`           // トピック（alert_created等）
	Payload   string     `json:"payload" db:"payload"`       // JSONペイロード
	CreatedAt time.Time  `json:"created_at" db:"created_at"` // 記録日時
	SentAt    *time.Time `json:"sent_at" db:"sent_at"`       // 送信日時（ディスパッチャー管理）
}

// SaleResult is the result of recording a sale
// 売上記録の結果
type SaleResult struct {
	SaleID          string  `json:"sale_id"`          // 売上ID
	TotalAmount     float64 `json:"total_amount"`     // 合計金額
	RemainingStock  int64   `json:"remaining_stock"`  // 残在庫
	NeedsRestocking bool    `json:"needs_restocking"` // 補充要否
}

// ReturnResult is the result of processing a return
// 返品処理の結果
type ReturnResult struct {
	ReturnUpdated bool  `json:"return_updated"` // 返品更新済み
	Restocked     bool  `json:"restocked"`      // 再入庫済み
	NewQuantity   int64 `json:"new_quantity"`   // 再入庫後の数量
}

// BulkUpdateItem is a single delta in a bulk inventory update
// 一括在庫更新内の単一の差分
type BulkUpdateItem struct {
	ProductID      string `json:"product_id"`      // 商品ID
	QuantityChange int64  `json:"quantity_change"` // 数量変更（符号付き）
	Reason         string `json:"reason"`          // 理由
}

// BulkUpdateResult is the per-item result of a bulk inventory update
// 一括在庫更新のアイテムごとの結果
type BulkUpdateResult struct {
	ProductID        string `json:"product_id"`        // 商品ID
	PreviousQuantity int64  `json:"previous_quantity"` // 変更前数量
	NewQuantity      int64  `json:"new_quantity"`      // 変更後数量
	Change           int64  `json:"change"`            // 差分
}

// NewRecordID generates a new record ID
// 新しい記録IDを生成
func NewRecordID() string {
	return uuid.New().String()
}
