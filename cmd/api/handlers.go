package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nemonet1337/uriageGoBackend/pkg/cache"
	"github.com/nemonet1337/uriageGoBackend/pkg/forecast"
	"github.com/nemonet1337/uriageGoBackend/pkg/inventory"
	"github.com/nemonet1337/uriageGoBackend/pkg/inventory/storage"
)

// APIResponse 統一APIレスポンス形式
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Server holds the HTTP handlers and their collaborators
// HTTPハンドラーとそのコラボレーターを保持
type Server struct {
	store    *storage.Store
	manager  *inventory.Manager
	alerts   *inventory.AlertManager
	forecast *forecast.Engine
	cache    *cache.Cache
	logger   *zap.Logger
}

// NewServer creates a new API server
// 新しいAPIサーバーを作成
func NewServer(store *storage.Store, manager *inventory.Manager, alerts *inventory.AlertManager, engine *forecast.Engine, c *cache.Cache, logger *zap.Logger) *Server {
	return &Server{
		store:    store,
		manager:  manager,
		alerts:   alerts,
		forecast: engine,
		cache:    c,
		logger:   logger,
	}
}

// Router builds the HTTP route table
// HTTPルートテーブルを構築
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(corsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// 在庫変更
	api.HandleFunc("/sales", s.handleRecordSale).Methods(http.MethodPost)
	api.HandleFunc("/returns/{id}/process", s.handleProcessReturn).Methods(http.MethodPost)
	api.HandleFunc("/inventory/bulk", s.handleBulkUpdate).Methods(http.MethodPost)

	// 商品管理
	api.HandleFunc("/products", s.handleListProducts).Methods(http.MethodGet)
	api.HandleFunc("/products", s.handleCreateProduct).Methods(http.MethodPost)
	api.HandleFunc("/products/{id}", s.handleGetProduct).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", s.handleUpdateProduct).Methods(http.MethodPut)
	api.HandleFunc("/products/{id}", s.handleDeleteProduct).Methods(http.MethodDelete)
	api.HandleFunc("/products/{id}/history", s.handleInventoryHistory).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}/sales", s.handleSalesHistory).Methods(http.MethodGet)

	// アラート
	api.HandleFunc("/alerts", s.handleActiveAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/check", s.handleCheckAlerts).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{productID}/resolve", s.handleResolveAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{productID}/ignore", s.handleIgnoreAlert).Methods(http.MethodPost)

	// 予測
	api.HandleFunc("/forecast/run", s.handleRunPredictions).Methods(http.MethodPost)
	api.HandleFunc("/forecast/{productID}", s.handlePredictDemand).Methods(http.MethodGet)
	api.HandleFunc("/seasonal/run", s.handleRunSeasonalTrends).Methods(http.MethodPost)
	api.HandleFunc("/seasonal/{productID}", s.handleSeasonalTrend).Methods(http.MethodGet)

	// キャッシュ管理
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/cache/clear", s.handleCacheClear).Methods(http.MethodPost)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRecordSale 売上を記録
func (s *Server) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID    string  `json:"product_id"`
		QuantitySold int64   `json:"quantity_sold"`
		SalePrice    float64 `json:"sale_price"`
		Platform     string  `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, inventory.NewValidationError("body", "リクエストボディが不正です", ""))
		return
	}

	result, err := s.manager.RecordSale(r.Context(), req.ProductID, req.QuantitySold, req.SalePrice, req.Platform)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

// handleProcessReturn 返品を処理
func (s *Server) handleProcessReturn(w http.ResponseWriter, r *http.Request) {
	var input inventory.ProcessReturnInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, inventory.NewValidationError("body", "リクエストボディが不正です", ""))
		return
	}
	input.ReturnID = mux.Vars(r)["id"]

	result, err := s.manager.ProcessReturn(r.Context(), input)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// handleBulkUpdate 一括在庫更新
func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []inventory.BulkUpdateItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, inventory.NewValidationError("body", "リクエストボディが不正です", ""))
		return
	}

	results, err := s.manager.BulkInventoryUpdate(r.Context(), req.Items)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, results)
}

// handleListProducts 商品一覧を取得
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)
	if limit > 1000 {
		limit = 1000
	}

	products, err := s.store.ListProducts(r.Context(), offset, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, products)
}

// handleGetProduct 商品を取得（キャッシュ経由）
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	if err := inventory.ValidateProductID(productID); err != nil {
		s.respondError(w, err)
		return
	}

	value, err := s.cache.GetOrFetch(inventory.CacheKeyProduct(productID), func() (interface{}, error) {
		return s.store.GetProduct(r.Context(), productID)
	}, 30*time.Second)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, value)
}

// handleCreateProduct 商品を作成
func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var product inventory.Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		s.respondError(w, inventory.NewValidationError("body", "リクエストボディが不正です", ""))
		return
	}
	if err := inventory.ValidateProductID(product.ID); err != nil {
		s.respondError(w, err)
		return
	}
	if err := inventory.ValidateProductName(product.Name); err != nil {
		s.respondError(w, err)
		return
	}
	if product.Quantity < 0 {
		s.respondError(w, inventory.NewValidationError("quantity", "数量は0以上である必要があります", strconv.FormatInt(product.Quantity, 10)))
		return
	}

	if err := s.store.CreateProduct(r.Context(), &product); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, product)
}

// handleUpdateProduct 商品を更新
func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]

	var product inventory.Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		s.respondError(w, inventory.NewValidationError("body", "リクエストボディが不正です", ""))
		return
	}
	product.ID = productID

	if err := inventory.ValidateProductName(product.Name); err != nil {
		s.respondError(w, err)
		return
	}

	if err := s.store.UpdateProduct(r.Context(), &product); err != nil {
		s.respondError(w, err)
		return
	}

	s.cache.Delete(inventory.CacheKeyProduct(productID))
	s.respondJSON(w, http.StatusOK, product)
}

// handleDeleteProduct 商品を削除
func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]

	if err := s.store.DeleteProduct(r.Context(), productID); err != nil {
		s.respondError(w, err)
		return
	}

	s.cache.Delete(inventory.CacheKeyProduct(productID))
	s.respondJSON(w, http.StatusOK, map[string]string{"deleted": productID})
}

// handleInventoryHistory 在庫変更ログを取得
func (s *Server) handleInventoryHistory(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	if err := inventory.ValidateProductID(productID); err != nil {
		s.respondError(w, err)
		return
	}
	limit := queryInt(r, "limit", 100)

	entries, err := s.store.ListInventoryLog(r.Context(), productID, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, entries)
}

// handleSalesHistory 売上履歴を期間指定で取得
func (s *Server) handleSalesHistory(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["id"]
	if err := inventory.ValidateProductID(productID); err != nil {
		s.respondError(w, err)
		return
	}

	to := time.Now()
	from := to.AddDate(0, -1, 0)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, inventory.NewValidationError("from", "日時の形式が不正です", v))
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, inventory.NewValidationError("to", "日時の形式が不正です", v))
			return
		}
		to = parsed
	}

	sales, err := s.store.ListSalesByProduct(r.Context(), productID, from, to)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sales)
}

// handleActiveAlerts アクティブアラート一覧を取得
func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.alerts.GetActiveLowStockAlerts(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, alerts)
}

// handleCheckAlerts 全商品のアラートスイープを実行
func (s *Server) handleCheckAlerts(w http.ResponseWriter, r *http.Request) {
	summary, err := s.alerts.CheckLowStockAlerts(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// handleResolveAlert アラートを手動解決
func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productID"]
	if err := s.alerts.ResolveLowStockAlert(r.Context(), productID); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"resolved": productID})
}

// handleIgnoreAlert アラートを無視
func (s *Server) handleIgnoreAlert(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productID"]
	if err := s.alerts.IgnoreLowStockAlert(r.Context(), productID); err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"ignored": productID})
}

// handlePredictDemand 単一商品の需要を予測
func (s *Server) handlePredictDemand(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productID"]
	days := queryInt(r, "days", 30)

	prediction, err := s.forecast.PredictProductDemand(r.Context(), productID, days)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, prediction)
}

// handleRunPredictions 全商品の需要予測バッチを実行
func (s *Server) handleRunPredictions(w http.ResponseWriter, r *http.Request) {
	summary, err := s.forecast.GenerateDemandPredictions(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// handleSeasonalTrend 単一商品の季節トレンドを分析
func (s *Server) handleSeasonalTrend(w http.ResponseWriter, r *http.Request) {
	productID := mux.Vars(r)["productID"]
	year := queryInt(r, "year", time.Now().Year())

	trend, err := s.forecast.AnalyzeProductSeasonalTrend(r.Context(), productID, year)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, trend)
}

// handleRunSeasonalTrends 全商品の季節トレンド分析バッチを実行
func (s *Server) handleRunSeasonalTrends(w http.ResponseWriter, r *http.Request) {
	year := queryInt(r, "year", time.Now().Year())

	summary, err := s.forecast.AnalyzeSeasonalTrends(r.Context(), year)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

// handleCacheStats キャッシュ統計を取得
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.cache.Stats())
}

// handleCacheClear キャッシュを全消去
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// respondJSON 成功レスポンスを書き込む
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data}); err != nil {
		s.logger.Error("レスポンスの書き込みに失敗しました", zap.Error(err))
	}
}

// respondError maps the error taxonomy onto HTTP status codes and writes the
// error response
// エラー分類をHTTPステータスコードにマッピングしてエラーレスポンスを
// 書き込む
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var validationErr *inventory.ValidationError
	var stockErr *inventory.InsufficientStockError
	var conflictErr *inventory.ConflictError

	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &stockErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &conflictErr):
		status = http.StatusConflict
	case errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, inventory.ErrSaleNotFound),
		errors.Is(err, inventory.ErrReturnNotFound),
		errors.Is(err, inventory.ErrAlertNotFound):
		status = http.StatusNotFound
	case errors.Is(err, inventory.ErrDuplicateProduct):
		status = http.StatusConflict
	case errors.Is(err, inventory.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("リクエスト処理に失敗しました", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(APIResponse{Success: false, Error: err.Error()}); encodeErr != nil {
		s.logger.Error("レスポンスの書き込みに失敗しました", zap.Error(encodeErr))
	}
}

// loggingMiddleware リクエストログを記録
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("リクエスト処理",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// corsMiddleware CORSヘッダーを付与
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// queryInt クエリパラメーターを整数として取得
func queryInt(r *http.Request, key string, defaultValue int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}
