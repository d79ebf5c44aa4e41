package inventory

import (
	"context"
	"time"
)

// TxStore is the transactional view of storage. Every method runs inside the
// transactional unit that produced the handle; effects become visible only on
// commit.
// ストレージのトランザクションビュー。各メソッドはハンドルを生成した
// トランザクション単位内で実行され、効果はコミット時にのみ可視化される。
type TxStore interface {
	// Product state
	GetProduct(ctx context.Context, productID string) (*Product, error)
	UpdateProductQuantity(ctx context.Context, productID string, newQuantity int64) error

	// Ledger rows
	InsertSale(ctx context.Context, sale *SaleRecord) error
	GetReturn(ctx context.Context, returnID string) (*ReturnRecord, error)
	UpdateReturn(ctx context.Context, ret *ReturnRecord) error
	InsertInventoryLog(ctx context.Context, entry *InventoryLogEntry) error

	// Audit and notification intent
	InsertActivity(ctx context.Context, activity *ActivityEntry) error
	InsertOutbox(ctx context.Context, outbox *OutboxEntry) error
}

// TxRunner executes work inside one atomic transactional unit
// 1つのアトミックなトランザクション単位内でワークを実行
type TxRunner interface {
	Transaction(ctx context.Context, work func(TxStore) error) error
}

// ProductStore provides non-transactional product reads and management
// トランザクション外の商品読み取りと管理を提供
type ProductStore interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
	ListProducts(ctx context.Context, offset, limit int) ([]Product, error)
	CreateProduct(ctx context.Context, product *Product) error
	UpdateProduct(ctx context.Context, product *Product) error
	DeleteProduct(ctx context.Context, productID string) error
}

// AlertStore provides alert lifecycle persistence
// アラートライフサイクルの永続化を提供
type AlertStore interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
	ListProducts(ctx context.Context, offset, limit int) ([]Product, error)
	GetActiveAlert(ctx context.Context, productID string) (*LowStockAlert, error)
	ListActiveAlerts(ctx context.Context) ([]LowStockAlert, error)
	InsertAlert(ctx context.Context, alert *LowStockAlert) error
	UpdateAlertStatus(ctx context.Context, alertID string, status AlertStatus, resolvedAt time.Time) error
	InsertOutbox(ctx context.Context, outbox *OutboxEntry) error
}

// HistoryStore provides read access to the sales ledger for reporting
// レポート用に販売台帳への読み取りアクセスを提供
type HistoryStore interface {
	ListSalesByProduct(ctx context.Context, productID string, from, to time.Time) ([]SaleRecord, error)
	ListInventoryLog(ctx context.Context, productID string, limit int) ([]InventoryLogEntry, error)
}
