package inventory

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore is an in-memory TxRunner/TxStore with snapshot-based rollback
// スナップショットベースのロールバックを持つインメモリTxRunner/TxStore
type fakeStore struct {
	products   map[string]*Product
	sales      map[string]*SaleRecord
	returns    map[string]*ReturnRecord
	logs       []InventoryLogEntry
	activities []ActivityEntry
	outbox     []OutboxEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: map[string]*Product{},
		sales:    map[string]*SaleRecord{},
		returns:  map[string]*ReturnRecord{},
	}
}

func (f *fakeStore) snapshot() *fakeStore {
	s := newFakeStore()
	for id, p := range f.products {
		copied := *p
		s.products[id] = &copied
	}
	for id, sale := range f.sales {
		copied := *sale
		s.sales[id] = &copied
	}
	for id, ret := range f.returns {
		copied := *ret
		s.returns[id] = &copied
	}
	s.logs = append([]InventoryLogEntry{}, f.logs...)
	s.activities = append([]ActivityEntry{}, f.activities...)
	s.outbox = append([]OutboxEntry{}, f.outbox...)
	return s
}

// Transaction runs work against the live state and restores the snapshot on
// error, mirroring rollback visibility
// ライブ状態に対してワークを実行し、エラー時はスナップショットを復元
// してロールバックの可視性を再現
func (f *fakeStore) Transaction(ctx context.Context, work func(TxStore) error) error {
	before := f.snapshot()
	if err := work(f); err != nil {
		*f = *before
		return err
	}
	return nil
}

func (f *fakeStore) GetProduct(ctx context.Context, productID string) (*Product, error) {
	p, ok := f.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakeStore) UpdateProductQuantity(ctx context.Context, productID string, newQuantity int64) error {
	p, ok := f.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	p.Quantity = newQuantity
	return nil
}

func (f *fakeStore) InsertSale(ctx context.Context, sale *SaleRecord) error {
	copied := *sale
	f.sales[sale.ID] = &copied
	return nil
}

func (f *fakeStore) GetReturn(ctx context.Context, returnID string) (*ReturnRecord, error) {
	ret, ok := f.returns[returnID]
	if !ok {
		return nil, ErrReturnNotFound
	}
	copied := *ret
	return &copied, nil
}

func (f *fakeStore) UpdateReturn(ctx context.Context, ret *ReturnRecord) error {
	if _, ok := f.returns[ret.ID]; !ok {
		return ErrReturnNotFound
	}
	copied := *ret
	f.returns[ret.ID] = &copied
	return nil
}

func (f *fakeStore) InsertInventoryLog(ctx context.Context, entry *InventoryLogEntry) error {
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeStore) InsertActivity(ctx context.Context, activity *ActivityEntry) error {
	f.activities = append(f.activities, *activity)
	return nil
}

func (f *fakeStore) InsertOutbox(ctx context.Context, outbox *OutboxEntry) error {
	f.outbox = append(f.outbox, *outbox)
	return nil
}

func newTestManager(store *fakeStore) *Manager {
	return NewManager(store, nil, nil, zap.NewNop())
}

func TestRecordSale(t *testing.T) {
	store := newFakeStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Name: "ウィジェット", Quantity: 10, LowStockThreshold: 3}
	m := newTestManager(store)

	result, err := m.RecordSale(context.Background(), "widget-1", 4, 1200, "web")
	require.NoError(t, err)

	assert.Equal(t, 4800.0, result.TotalAmount)
	assert.Equal(t, int64(6), result.RemainingStock)
	assert.False(t, result.NeedsRestocking)

	// 数量変更1回につき監査行が正確に1行
	require.Len(t, store.logs, 1)
	assert.Equal(t, int64(10), store.logs[0].PreviousQuantity)
	assert.Equal(t, int64(6), store.logs[0].NewQuantity)
	assert.Equal(t, int64(-4), store.logs[0].Change)
	assert.Equal(t, fmt.Sprintf("sale:%s", result.SaleID), store.logs[0].Reason)

	sale, ok := store.sales[result.SaleID]
	require.True(t, ok)
	assert.Equal(t, sale.TotalAmount, float64(sale.QuantitySold)*sale.SalePrice)
}

func TestRecordSaleNeedsRestocking(t *testing.T) {
	store := newFakeStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 10, LowStockThreshold: 8}
	m := newTestManager(store)

	result, err := m.RecordSale(context.Background(), "widget-1", 5, 100, "web")
	require.NoError(t, err)
	assert.True(t, result.NeedsRestocking)
}

func TestRecordSaleInsufficientStock(t *testing.T) {
	store := newFakeStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 3}
	m := newTestManager(store)

	_, err := m.RecordSale(context.Background(), "widget-1", 5, 100, "web")
	require.Error(t, err)

	stockErr, ok := err.(*InsufficientStockError)
	require.True(t, ok)
	assert.Equal(t, int64(5), stockErr.Requested)
	assert.Equal(t, int64(3), stockErr.Available)

	// 拒否された売上は一切の効果を残さない
	assert.Equal(t, int64(3), store.products["widget-1"].Quantity)
	assert.Empty(t, store.sales)
	assert.Empty(t, store.logs)
}

func TestRecordSaleValidation(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	cases := []struct {
		name      string
		productID string
		quantity  int64
		price     float64
		platform  string
	}{
		{"空の商品ID", "", 1, 100, "web"},
		{"不正な商品ID", "bad id!", 1, 100, "web"},
		{"数量ゼロ", "widget-1", 0, 100, "web"},
		{"負の数量", "widget-1", -2, 100, "web"},
		{"価格ゼロ", "widget-1", 1, 0, "web"},
		{"空のプラットフォーム", "widget-1", 1, 100, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.RecordSale(context.Background(), tc.productID, tc.quantity, tc.price, tc.platform)
			require.Error(t, err)
			_, ok := err.(*ValidationError)
			assert.True(t, ok)
		})
	}
}

func TestRecordSaleProductNotFound(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	_, err := m.RecordSale(context.Background(), "missing", 1, 100, "web")
	assert.Equal(t, ErrProductNotFound, err)
}

func TestProcessReturn(t *testing.T) {
	store := newFakeStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 5}
	store.returns["ret-1"] = &ReturnRecord{ID: "ret-1", ProductID: "widget-1", Quantity: 2, Status: ReturnStatusApproved}
	m := newTestManager(store)

	result, err := m.ProcessReturn(context.Background(), ProcessReturnInput{
		ReturnID:        "ret-1",
		ProcessedBy:     "operator-7",
		RefundAmount:    2400,
		RefundMethod:    "credit_card",
		RestockQuantity: 2,
		ProductID:       "widget-1",
	})
	require.NoError(t, err)

	assert.True(t, result.ReturnUpdated)
	assert.True(t, result.Restocked)
	assert.Equal(t, int64(7), result.NewQuantity)

	ret := store.returns["ret-1"]
	assert.Equal(t, ReturnStatusProcessed, ret.Status)
	assert.Equal(t, 2400.0, ret.RefundAmount)
	assert.NotNil(t, ret.ProcessedAt)

	require.Len(t, store.logs, 1)
	assert.Equal(t, int64(2), store.logs[0].Change)
	assert.Equal(t, "return:ret-1", store.logs[0].Reason)

	require.Len(t, store.activities, 1)
	assert.Equal(t, "process_return", store.activities[0].Action)
	assert.Equal(t, "operator-7", store.activities[0].ActorID)
}

func TestProcessReturnWithoutRestock(t *testing.T) {
	store := newFakeStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 5}
	store.returns["ret-1"] = &ReturnRecord{ID: "ret-1", ProductID: "widget-1", Quantity: 2, Status: ReturnStatusApproved}
	m := newTestManager(store)

	result, err := m.ProcessReturn(context.Background(), ProcessReturnInput{
		ReturnID:     "ret-1",
		ProcessedBy:  "operator-7",
		RefundAmount: 2400,
		RefundMethod: "cash",
	})
	require.NoError(t, err)

	assert.False(t, result.Restocked)
	assert.Equal(t, int64(5), store.products["widget-1"].Quantity)
	assert.Empty(t, store.logs)
}

func TestProcessReturnNotApproved(t *testing.T) {
	store := newFakeStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 5}
	m := newTestManager(store)

	for _, status := range []ReturnStatus{ReturnStatusPending, ReturnStatusRejected, ReturnStatusProcessed, ReturnStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			store.returns["ret-1"] = &ReturnRecord{ID: "ret-1", ProductID: "widget-1", Quantity: 2, Status: status}

			_, err := m.ProcessReturn(context.Background(), ProcessReturnInput{
				ReturnID:        "ret-1",
				RestockQuantity: 2,
				ProductID:       "widget-1",
			})
			require.Error(t, err)

			conflictErr, ok := err.(*ConflictError)
			require.True(t, ok)
			assert.Equal(t, string(status), conflictErr.CurrentState)

			// 状態競合は一切の書き込みを行わない
			assert.Equal(t, status, store.returns["ret-1"].Status)
			assert.Equal(t, int64(5), store.products["widget-1"].Quantity)
			assert.Empty(t, store.logs)
		})
	}
}

func TestProcessReturnNotFound(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	_, err := m.ProcessReturn(context.Background(), ProcessReturnInput{ReturnID: "missing"})
	assert.Equal(t, ErrReturnNotFound, err)
}

func TestBulkInventoryUpdate(t *testing.T) {
	store := newFakeStore()
	store.products["a"] = &Product{ID: "a", Quantity: 5}
	store.products["b"] = &Product{ID: "b", Quantity: 10}
	m := newTestManager(store)

	results, err := m.BulkInventoryUpdate(context.Background(), []BulkUpdateItem{
		{ProductID: "a", QuantityChange: 3, Reason: "入荷"},
		{ProductID: "b", QuantityChange: -4, Reason: "棚卸調整"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 結果は入力と同じ順序
	assert.Equal(t, "a", results[0].ProductID)
	assert.Equal(t, int64(5), results[0].PreviousQuantity)
	assert.Equal(t, int64(8), results[0].NewQuantity)
	assert.Equal(t, "b", results[1].ProductID)
	assert.Equal(t, int64(6), results[1].NewQuantity)

	// アイテムごとに監査行1行
	require.Len(t, store.logs, 2)
	reasons := []string{store.logs[0].Reason, store.logs[1].Reason}
	sort.Strings(reasons)
	assert.Equal(t, []string{"入荷", "棚卸調整"}, reasons)
}

func TestBulkInventoryUpdateAllOrNothing(t *testing.T) {
	store := newFakeStore()
	store.products["a"] = &Product{ID: "a", Quantity: 5}
	store.products["b"] = &Product{ID: "b", Quantity: 1}
	m := newTestManager(store)

	_, err := m.BulkInventoryUpdate(context.Background(), []BulkUpdateItem{
		{ProductID: "a", QuantityChange: 3, Reason: "入荷"},
		{ProductID: "b", QuantityChange: -4, Reason: "棚卸調整"},
	})
	require.Error(t, err)

	_, ok := err.(*InsufficientStockError)
	require.True(t, ok)

	// 1アイテムの失敗でバッチ全体がロールバックされる
	assert.Equal(t, int64(5), store.products["a"].Quantity)
	assert.Equal(t, int64(1), store.products["b"].Quantity)
	assert.Empty(t, store.logs)
}

func TestBulkInventoryUpdateValidation(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	_, err := m.BulkInventoryUpdate(context.Background(), nil)
	require.Error(t, err)

	_, err = m.BulkInventoryUpdate(context.Background(), []BulkUpdateItem{
		{ProductID: "a", QuantityChange: 0, Reason: "理由"},
	})
	require.Error(t, err)

	_, err = m.BulkInventoryUpdate(context.Background(), []BulkUpdateItem{
		{ProductID: "a", QuantityChange: 1, Reason: ""},
	})
	require.Error(t, err)
}
