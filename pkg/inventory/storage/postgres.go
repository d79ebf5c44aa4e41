// Package storage provides the PostgreSQL implementation of the inventory
// and forecast store interfaces
// 在庫・予測ストアインターフェースのPostgreSQL実装を提供
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/uriageGoBackend/pkg/forecast"
	"github.com/nemonet1337/uriageGoBackend/pkg/inventory"
	"github.com/nemonet1337/uriageGoBackend/pkg/ledger"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations
// PostgreSQLの一意制約違反エラーコード
const uniqueViolation = "23505"

// Store is the PostgreSQL-backed storage. Transactional mutations flow
// through the ledger coordinator; reads outside a transactional unit go
// straight to the pool.
// PostgreSQLベースのストレージ。トランザクション変更は台帳コーディネー
// ターを経由し、トランザクション単位外の読み取りはプールへ直接行く。
type Store struct {
	db     *sql.DB
	coord  *ledger.Coordinator
	logger *zap.Logger
}

// NewStore creates a new PostgreSQL store
// 新しいPostgreSQLストアを作成
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		coord:  ledger.NewCoordinator(db, logger),
		logger: logger,
	}
}

// Open opens a PostgreSQL connection pool and verifies connectivity
// PostgreSQL接続プールを開いて接続を検証
func Open(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続のオープンに失敗しました: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗しました: %w", err)
	}

	return db, nil
}

// Transaction runs work inside one atomic transactional unit
// 1つのアトミックなトランザクション単位内でワークを実行
func (s *Store) Transaction(ctx context.Context, work func(inventory.TxStore) error) error {
	return s.coord.Transaction(ctx, func(tx *ledger.Tx) error {
		return work(&txStore{tx: tx})
	})
}

// txStore adapts a ledger transaction handle to the transactional store view
// 台帳トランザクションハンドルをトランザクションストアビューに適合させる
type txStore struct {
	tx *ledger.Tx
}

// GetProduct reads a product row and locks it for the rest of the unit
// 商品行を読み取り、単位の残りの間ロックする
func (t *txStore) GetProduct(ctx context.Context, productID string) (*inventory.Product, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, name, quantity, cost_price, selling_price, low_stock_threshold, created_at, updated_at
		FROM products
		WHERE id = $1
		FOR UPDATE`, productID)
	return scanProduct(row)
}

func (t *txStore) UpdateProductQuantity(ctx context.Context, productID string, newQuantity int64) error {
	affected, err := t.tx.Run(ctx, `
		UPDATE products
		SET quantity = $2, updated_at = NOW()
		WHERE id = $1`, productID, newQuantity)
	if err != nil {
		return err
	}
	if affected == 0 {
		return inventory.ErrProductNotFound
	}
	return nil
}

func (t *txStore) InsertSale(ctx context.Context, sale *inventory.SaleRecord) error {
	_, err := t.tx.Run(ctx, `
		INSERT INTO sales (id, product_id, quantity_sold, sale_price, total_amount, platform, sold_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sale.ID, sale.ProductID, sale.QuantitySold, sale.SalePrice, sale.TotalAmount, sale.Platform, sale.SoldAt)
	return err
}

func (t *txStore) GetReturn(ctx context.Context, returnID string) (*inventory.ReturnRecord, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, sale_id, product_id, quantity, status, refund_amount, refund_method,
		       restocked, processed_by, processed_at, created_at
		FROM returns
		WHERE id = $1
		FOR UPDATE`, returnID)

	ret := &inventory.ReturnRecord{}
	err := row.Scan(&ret.ID, &ret.SaleID, &ret.ProductID, &ret.Quantity, &ret.Status,
		&ret.RefundAmount, &ret.RefundMethod, &ret.Restocked, &ret.ProcessedBy,
		&ret.ProcessedAt, &ret.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, inventory.ErrReturnNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("返品記録の取得に失敗しました: %w", err)
	}
	return ret, nil
}

func (t *txStore) UpdateReturn(ctx context.Context, ret *inventory.ReturnRecord) error {
	affected, err := t.tx.Run(ctx, `
		UPDATE returns
		SET status = $2, refund_amount = $3, refund_method = $4, restocked = $5,
		    processed_by = $6, processed_at = $7
		WHERE id = $1`,
		ret.ID, ret.Status, ret.RefundAmount, ret.RefundMethod, ret.Restocked,
		ret.ProcessedBy, ret.ProcessedAt)
	if err != nil {
		return err
	}
	if affected == 0 {
		return inventory.ErrReturnNotFound
	}
	return nil
}

func (t *txStore) InsertInventoryLog(ctx context.Context, entry *inventory.InventoryLogEntry) error {
	_, err := t.tx.Run(ctx, `
		INSERT INTO inventory_log (id, product_id, previous_quantity, new_quantity, change, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.ProductID, entry.PreviousQuantity, entry.NewQuantity,
		entry.Change, entry.Reason, entry.CreatedAt)
	return err
}

func (t *txStore) InsertActivity(ctx context.Context, activity *inventory.ActivityEntry) error {
	_, err := t.tx.Run(ctx, `
		INSERT INTO activity_log (id, action, detail, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		activity.ID, activity.Action, activity.Detail, activity.ActorID, activity.CreatedAt)
	return err
}

func (t *txStore) InsertOutbox(ctx context.Context, outbox *inventory.OutboxEntry) error {
	_, err := t.tx.Run(ctx, `
		INSERT INTO notification_outbox (id, topic, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		outbox.ID, outbox.Topic, outbox.Payload, outbox.CreatedAt)
	return err
}

// GetProduct 商品を取得
func (s *Store) GetProduct(ctx context.Context, productID string) (*inventory.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, quantity, cost_price, selling_price, low_stock_threshold, created_at, updated_at
		FROM products
		WHERE id = $1`, productID)
	return scanProduct(row)
}

// ListProducts 商品一覧をページングで取得
func (s *Store) ListProducts(ctx context.Context, offset, limit int) ([]inventory.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, quantity, cost_price, selling_price, low_stock_threshold, created_at, updated_at
		FROM products
		ORDER BY id
		OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("商品一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	products := []inventory.Product{}
	for rows.Next() {
		var p inventory.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Quantity, &p.CostPrice, &p.SellingPrice,
			&p.LowStockThreshold, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("商品行の読み取りに失敗しました: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CreateProduct 商品を作成
func (s *Store) CreateProduct(ctx context.Context, product *inventory.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, quantity, cost_price, selling_price, low_stock_threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		product.ID, product.Name, product.Quantity, product.CostPrice,
		product.SellingPrice, product.LowStockThreshold)
	if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
		return inventory.ErrDuplicateProduct
	}
	if err != nil {
		return fmt.Errorf("商品の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateProduct 商品を更新
func (s *Store) UpdateProduct(ctx context.Context, product *inventory.Product) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, cost_price = $3, selling_price = $4, low_stock_threshold = $5, updated_at = NOW()
		WHERE id = $1`,
		product.ID, product.Name, product.CostPrice, product.SellingPrice, product.LowStockThreshold)
	if err != nil {
		return fmt.Errorf("商品の更新に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return inventory.ErrProductNotFound
	}
	return nil
}

// DeleteProduct 商品を削除
func (s *Store) DeleteProduct(ctx context.Context, productID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return fmt.Errorf("商品の削除に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return inventory.ErrProductNotFound
	}
	return nil
}

// GetActiveAlert returns the single active alert for a product, if any
// 商品のアクティブアラート（存在すれば1件）を返す
func (s *Store) GetActiveAlert(ctx context.Context, productID string) (*inventory.LowStockAlert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, status, alert_type, priority, threshold_quantity,
		       quantity_at_alert, created_at, resolved_at
		FROM low_stock_alerts
		WHERE product_id = $1 AND status = 'active'`, productID)
	return scanAlert(row)
}

// ListActiveAlerts 全アクティブアラートを取得
func (s *Store) ListActiveAlerts(ctx context.Context) ([]inventory.LowStockAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, status, alert_type, priority, threshold_quantity,
		       quantity_at_alert, created_at, resolved_at
		FROM low_stock_alerts
		WHERE status = 'active'
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("アクティブアラート一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	alerts := []inventory.LowStockAlert{}
	for rows.Next() {
		var a inventory.LowStockAlert
		if err := rows.Scan(&a.ID, &a.ProductID, &a.Status, &a.AlertType, &a.Priority,
			&a.ThresholdQuantity, &a.QuantityAtAlert, &a.CreatedAt, &a.ResolvedAt); err != nil {
			return nil, fmt.Errorf("アラート行の読み取りに失敗しました: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// InsertAlert アラートを挿入
func (s *Store) InsertAlert(ctx context.Context, alert *inventory.LowStockAlert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO low_stock_alerts (id, product_id, status, alert_type, priority,
		                              threshold_quantity, quantity_at_alert, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		alert.ID, alert.ProductID, alert.Status, alert.AlertType, alert.Priority,
		alert.ThresholdQuantity, alert.QuantityAtAlert, alert.CreatedAt)
	if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
		// 商品ごとにアクティブなアラートは最大1件。部分一意インデックスが最後の砦。
		return inventory.NewConflictError("alert", alert.ProductID, string(inventory.AlertStatusActive),
			"この商品には既にアクティブなアラートが存在します")
	}
	if err != nil {
		return fmt.Errorf("アラートの挿入に失敗しました: %w", err)
	}
	return nil
}

// UpdateAlertStatus アラート状態を更新
func (s *Store) UpdateAlertStatus(ctx context.Context, alertID string, status inventory.AlertStatus, resolvedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE low_stock_alerts
		SET status = $2, resolved_at = $3
		WHERE id = $1`, alertID, status, resolvedAt)
	if err != nil {
		return fmt.Errorf("アラート状態の更新に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return inventory.ErrAlertNotFound
	}
	return nil
}

// InsertOutbox 通知アウトボックスに挿入
func (s *Store) InsertOutbox(ctx context.Context, outbox *inventory.OutboxEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_outbox (id, topic, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		outbox.ID, outbox.Topic, outbox.Payload, outbox.CreatedAt)
	if err != nil {
		return fmt.Errorf("アウトボックスへの挿入に失敗しました: %w", err)
	}
	return nil
}

// ListSalesByProduct 商品の売上履歴を期間指定で取得
func (s *Store) ListSalesByProduct(ctx context.Context, productID string, from, to time.Time) ([]inventory.SaleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, quantity_sold, sale_price, total_amount, platform, sold_at
		FROM sales
		WHERE product_id = $1 AND sold_at >= $2 AND sold_at < $3
		ORDER BY sold_at`, productID, from, to)
	if err != nil {
		return nil, fmt.Errorf("売上履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	sales := []inventory.SaleRecord{}
	for rows.Next() {
		var sale inventory.SaleRecord
		if err := rows.Scan(&sale.ID, &sale.ProductID, &sale.QuantitySold, &sale.SalePrice,
			&sale.TotalAmount, &sale.Platform, &sale.SoldAt); err != nil {
			return nil, fmt.Errorf("売上行の読み取りに失敗しました: %w", err)
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

// ListInventoryLog 商品の在庫変更ログを新しい順に取得
func (s *Store) ListInventoryLog(ctx context.Context, productID string, limit int) ([]inventory.InventoryLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, previous_quantity, new_quantity, change, reason, created_at
		FROM inventory_log
		WHERE product_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("在庫ログの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	entries := []inventory.InventoryLogEntry{}
	for rows.Next() {
		var e inventory.InventoryLogEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.PreviousQuantity, &e.NewQuantity,
			&e.Change, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("在庫ログ行の読み取りに失敗しました: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DailySalesTotals returns per-day sold quantities over the trailing window
// 遡及ウィンドウ内の日別販売数量を返す
func (s *Store) DailySalesTotals(ctx context.Context, productID string, days int) ([]forecast.DailyQuantity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DATE(sold_at) AS sale_date, SUM(quantity_sold) AS quantity
		FROM sales
		WHERE product_id = $1 AND sold_at >= NOW() - make_interval(days => $2)
		GROUP BY DATE(sold_at)
		ORDER BY sale_date`, productID, days)
	if err != nil {
		return nil, fmt.Errorf("日別売上集計の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	daily := []forecast.DailyQuantity{}
	for rows.Next() {
		var d forecast.DailyQuantity
		if err := rows.Scan(&d.Date, &d.Quantity); err != nil {
			return nil, fmt.Errorf("日別売上行の読み取りに失敗しました: %w", err)
		}
		daily = append(daily, d)
	}
	return daily, rows.Err()
}

// MonthlySalesTotals returns per-month sales aggregates for a calendar year
// 暦年の月別売上集計を返す
func (s *Store) MonthlySalesTotals(ctx context.Context, productID string, year int) ([]forecast.MonthlyBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT EXTRACT(MONTH FROM sold_at)::INT AS month,
		       SUM(quantity_sold) AS quantity,
		       SUM(total_amount) AS revenue,
		       COUNT(*) AS transactions
		FROM sales
		WHERE product_id = $1 AND EXTRACT(YEAR FROM sold_at) = $2
		GROUP BY EXTRACT(MONTH FROM sold_at)
		ORDER BY month`, productID, year)
	if err != nil {
		return nil, fmt.Errorf("月別売上集計の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	buckets := []forecast.MonthlyBucket{}
	for rows.Next() {
		var b forecast.MonthlyBucket
		if err := rows.Scan(&b.Month, &b.Quantity, &b.Revenue, &b.Transactions); err != nil {
			return nil, fmt.Errorf("月別売上行の読み取りに失敗しました: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// ListActiveProductIDs 全商品IDを取得
func (s *Store) ListActiveProductIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("商品ID一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("商品ID行の読み取りに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertPrediction appends one forecast run's output
// 1回の予測実行の出力を追記
func (s *Store) InsertPrediction(ctx context.Context, prediction *forecast.DemandPrediction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO demand_predictions (id, product_id, predicted_demand, confidence_level,
		                                period, ma_7, ma_30, trend, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		prediction.ID, prediction.ProductID, prediction.PredictedDemand,
		prediction.ConfidenceLevel, prediction.Period, prediction.MA7, prediction.MA30,
		prediction.Trend, prediction.CreatedAt)
	if err != nil {
		return fmt.Errorf("予測記録の挿入に失敗しました: %w", err)
	}
	return nil
}

// UpsertSeasonalTrend writes the seasonal decomposition for (product, year),
// replacing any previous analysis for the same pair
// (商品, 年)の季節分解を書き込み、同一ペアの過去の分析結果を置き換える
func (s *Store) UpsertSeasonalTrend(ctx context.Context, trend *forecast.SeasonalTrend) error {
	quantities, err := json.Marshal(trend.MonthlyQuantities)
	if err != nil {
		return fmt.Errorf("月別数量のエンコードに失敗しました: %w", err)
	}
	revenue, err := json.Marshal(trend.MonthlyRevenue)
	if err != nil {
		return fmt.Errorf("月別売上のエンコードに失敗しました: %w", err)
	}
	transactions, err := json.Marshal(trend.MonthlyTransactions)
	if err != nil {
		return fmt.Errorf("月別取引件数のエンコードに失敗しました: %w", err)
	}
	indices, err := json.Marshal(trend.SeasonalIndices)
	if err != nil {
		return fmt.Errorf("季節指数のエンコードに失敗しました: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO seasonal_trends (id, product_id, year, monthly_quantities, monthly_revenue,
		                             monthly_transactions, seasonal_indices, peak_month, low_month,
		                             trend_strength, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (product_id, year) DO UPDATE
		SET monthly_quantities = EXCLUDED.monthly_quantities,
		    monthly_revenue = EXCLUDED.monthly_revenue,
		    monthly_transactions = EXCLUDED.monthly_transactions,
		    seasonal_indices = EXCLUDED.seasonal_indices,
		    peak_month = EXCLUDED.peak_month,
		    low_month = EXCLUDED.low_month,
		    trend_strength = EXCLUDED.trend_strength,
		    analyzed_at = EXCLUDED.analyzed_at`,
		trend.ID, trend.ProductID, trend.Year, quantities, revenue, transactions,
		indices, trend.PeakMonth, trend.LowMonth, trend.TrendStrength, trend.AnalyzedAt)
	if err != nil {
		return fmt.Errorf("季節トレンドの保存に失敗しました: %w", err)
	}
	return nil
}

// scanProduct 商品行をスキャン
func scanProduct(row *sql.Row) (*inventory.Product, error) {
	p := &inventory.Product{}
	err := row.Scan(&p.ID, &p.Name, &p.Quantity, &p.CostPrice, &p.SellingPrice,
		&p.LowStockThreshold, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, inventory.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("商品行の読み取りに失敗しました: %w", err)
	}
	return p, nil
}

// scanAlert アラート行をスキャン
func scanAlert(row *sql.Row) (*inventory.LowStockAlert, error) {
	a := &inventory.LowStockAlert{}
	err := row.Scan(&a.ID, &a.ProductID, &a.Status, &a.AlertType, &a.Priority,
		&a.ThresholdQuantity, &a.QuantityAtAlert, &a.CreatedAt, &a.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, inventory.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("アラート行の読み取りに失敗しました: %w", err)
	}
	return a, nil
}

// インターフェース実装のコンパイル時検証
var (
	_ inventory.TxRunner        = (*Store)(nil)
	_ inventory.TxStore         = (*txStore)(nil)
	_ inventory.ProductStore    = (*Store)(nil)
	_ inventory.AlertStore      = (*Store)(nil)
	_ inventory.HistoryStore    = (*Store)(nil)
	_ forecast.HistoryReader    = (*Store)(nil)
	_ forecast.PredictionWriter = (*Store)(nil)
)
