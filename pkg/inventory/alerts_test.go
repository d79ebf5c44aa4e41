package inventory

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAlertStore is an in-memory AlertStore
// インメモリのAlertStore
type fakeAlertStore struct {
	products map[string]*Product
	alerts   map[string]*LowStockAlert
	outbox   []OutboxEntry
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{
		products: map[string]*Product{},
		alerts:   map[string]*LowStockAlert{},
	}
}

func (f *fakeAlertStore) GetProduct(ctx context.Context, productID string) (*Product, error) {
	p, ok := f.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakeAlertStore) ListProducts(ctx context.Context, offset, limit int) ([]Product, error) {
	ids := make([]string, 0, len(f.products))
	for id := range f.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	products := []Product{}
	for i := offset; i < len(ids) && i < offset+limit; i++ {
		products = append(products, *f.products[ids[i]])
	}
	return products, nil
}

func (f *fakeAlertStore) GetActiveAlert(ctx context.Context, productID string) (*LowStockAlert, error) {
	for _, a := range f.alerts {
		if a.ProductID == productID && a.Status == AlertStatusActive {
			copied := *a
			return &copied, nil
		}
	}
	return nil, ErrAlertNotFound
}

func (f *fakeAlertStore) ListActiveAlerts(ctx context.Context) ([]LowStockAlert, error) {
	alerts := []LowStockAlert{}
	for _, a := range f.alerts {
		if a.Status == AlertStatusActive {
			alerts = append(alerts, *a)
		}
	}
	return alerts, nil
}

func (f *fakeAlertStore) InsertAlert(ctx context.Context, alert *LowStockAlert) error {
	copied := *alert
	f.alerts[alert.ID] = &copied
	return nil
}

func (f *fakeAlertStore) UpdateAlertStatus(ctx context.Context, alertID string, status AlertStatus, resolvedAt time.Time) error {
	a, ok := f.alerts[alertID]
	if !ok {
		return ErrAlertNotFound
	}
	a.Status = status
	a.ResolvedAt = &resolvedAt
	return nil
}

func (f *fakeAlertStore) InsertOutbox(ctx context.Context, outbox *OutboxEntry) error {
	f.outbox = append(f.outbox, *outbox)
	return nil
}

func (f *fakeAlertStore) activeCount() int {
	count := 0
	for _, a := range f.alerts {
		if a.Status == AlertStatusActive {
			count++
		}
	}
	return count
}

func newTestAlertManager(store *fakeAlertStore) *AlertManager {
	return NewAlertManager(store, nil, zap.NewNop())
}

func TestEvaluateCreatesAlert(t *testing.T) {
	store := newFakeAlertStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 8, LowStockThreshold: 10}
	am := newTestAlertManager(store)

	require.NoError(t, am.EvaluateProduct(context.Background(), "widget-1"))

	alert, err := store.GetActiveAlert(context.Background(), "widget-1")
	require.NoError(t, err)
	assert.Equal(t, AlertTypeLowStock, alert.AlertType)
	assert.Equal(t, AlertPriorityMedium, alert.Priority)
	assert.Equal(t, int64(10), alert.ThresholdQuantity)
	assert.Equal(t, int64(8), alert.QuantityAtAlert)

	// 通知の意図がアウトボックスに記録される
	require.Len(t, store.outbox, 1)
	assert.Equal(t, "alert_created", store.outbox[0].Topic)
}

func TestEvaluateUsesDefaultThreshold(t *testing.T) {
	store := newFakeAlertStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 10}
	am := newTestAlertManager(store)

	require.NoError(t, am.EvaluateProduct(context.Background(), "widget-1"))

	alert, err := store.GetActiveAlert(context.Background(), "widget-1")
	require.NoError(t, err)
	assert.Equal(t, DefaultLowStockThreshold, alert.ThresholdQuantity)
}

func TestActiveAlertUniqueness(t *testing.T) {
	store := newFakeAlertStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 8, LowStockThreshold: 10}
	am := newTestAlertManager(store)

	require.NoError(t, am.EvaluateProduct(context.Background(), "widget-1"))
	require.NoError(t, am.EvaluateProduct(context.Background(), "widget-1"))

	// 条件が継続してもアクティブなアラートは1件のまま
	assert.Equal(t, 1, store.activeCount())
	assert.Len(t, store.outbox, 1)
}

func TestHysteresisBand(t *testing.T) {
	store := newFakeAlertStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 8, LowStockThreshold: 10}
	am := newTestAlertManager(store)

	require.NoError(t, am.EvaluateProduct(context.Background(), "widget-1"))
	require.Equal(t, 1, store.activeCount())

	// 閾値超でも1.5倍以下ならアクティブのまま
	for _, quantity := range []int64{11, 14, 15} {
		store.products["widget-1"].Quantity = quantity
		require.NoError(t, am.EvaluateProduct(context.Background(), "widget-1"))
		assert.Equal(t, 1, store.activeCount(), "数量 %d でアラートが解決されてしまった", quantity)
	}

	// 1.5倍を超えたら自動解決
	store.products["widget-1"].Quantity = 16
	require.NoError(t, am.EvaluateProduct(context.Background(), "widget-1"))
	assert.Equal(t, 0, store.activeCount())
}

func TestAlertRecreatedAfterResolve(t *testing.T) {
	store := newFakeAlertStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 8, LowStockThreshold: 10}
	am := newTestAlertManager(store)

	require.NoError(t, am.EvaluateProduct(context.Background(), "widget-1"))
	require.NoError(t, am.ResolveLowStockAlert(context.Background(), "widget-1"))
	require.Equal(t, 0, store.activeCount())

	// 条件が再発すれば新しいアラートが作られる
	require.NoError(t, am.EvaluateProduct(context.Background(), "widget-1"))
	assert.Equal(t, 1, store.activeCount())
	assert.Len(t, store.alerts, 2)
}

func TestClassifyAlert(t *testing.T) {
	cases := []struct {
		name      string
		quantity  int64
		threshold int64
		alertType AlertType
		priority  AlertPriority
	}{
		{"在庫切れ", 0, 10, AlertTypeOutOfStock, AlertPriorityCritical},
		{"危機的", 5, 10, AlertTypeCritical, AlertPriorityHigh},
		{"危機的下限", 3, 10, AlertTypeCritical, AlertPriorityHigh},
		{"低在庫", 6, 10, AlertTypeLowStock, AlertPriorityMedium},
		{"低在庫閾値ちょうど", 10, 10, AlertTypeLowStock, AlertPriorityMedium},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alertType, priority := classifyAlert(tc.quantity, tc.threshold)
			assert.Equal(t, tc.alertType, alertType)
			assert.Equal(t, tc.priority, priority)
		})
	}
}

func TestIgnoreLowStockAlert(t *testing.T) {
	store := newFakeAlertStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 0, LowStockThreshold: 10}
	am := newTestAlertManager(store)

	require.NoError(t, am.EvaluateProduct(context.Background(), "widget-1"))
	require.NoError(t, am.IgnoreLowStockAlert(context.Background(), "widget-1"))

	assert.Equal(t, 0, store.activeCount())
	for _, a := range store.alerts {
		assert.Equal(t, AlertStatusIgnored, a.Status)
		assert.NotNil(t, a.ResolvedAt)
	}
}

func TestResolveWithoutActiveAlert(t *testing.T) {
	store := newFakeAlertStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 100}
	am := newTestAlertManager(store)

	err := am.ResolveLowStockAlert(context.Background(), "widget-1")
	assert.Equal(t, ErrAlertNotFound, err)
}

func TestCheckLowStockAlertsSweep(t *testing.T) {
	store := newFakeAlertStore()
	store.products["low"] = &Product{ID: "low", Quantity: 2, LowStockThreshold: 10}
	store.products["ok"] = &Product{ID: "ok", Quantity: 100, LowStockThreshold: 10}
	store.products["recovered"] = &Product{ID: "recovered", Quantity: 30, LowStockThreshold: 10}
	am := newTestAlertManager(store)

	// recoveredには既存のアクティブアラートを置く
	require.NoError(t, store.InsertAlert(context.Background(), &LowStockAlert{
		ID:        NewRecordID(),
		ProductID: "recovered",
		Status:    AlertStatusActive,
		CreatedAt: time.Now(),
	}))

	summary, err := am.CheckLowStockAlerts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.ProductsChecked)
	assert.Equal(t, 1, summary.AlertsCreated)
	assert.Equal(t, 1, summary.AlertsResolved)
	assert.Equal(t, 0, summary.Failures)

	_, err = store.GetActiveAlert(context.Background(), "low")
	assert.NoError(t, err)
	_, err = store.GetActiveAlert(context.Background(), "recovered")
	assert.Equal(t, ErrAlertNotFound, err)
}

func TestGetActiveLowStockAlertsWithoutCache(t *testing.T) {
	store := newFakeAlertStore()
	store.products["widget-1"] = &Product{ID: "widget-1", Quantity: 0, LowStockThreshold: 10}
	am := newTestAlertManager(store)

	require.NoError(t, am.EvaluateProduct(context.Background(), "widget-1"))

	alerts, err := am.GetActiveLowStockAlerts(context.Background())
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}
