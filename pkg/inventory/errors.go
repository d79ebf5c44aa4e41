package inventory

import (
	"errors"
	"fmt"
)

// Common inventory errors
// 共通の在庫エラー定義

var (
	// ErrProductNotFound is returned when a referenced product doesn't exist
	// 参照された商品が存在しない場合のエラー
	ErrProductNotFound = errors.New("商品が見つかりません")

	// ErrSaleNotFound is returned when a referenced sale doesn't exist
	// 参照された売上が存在しない場合のエラー
	ErrSaleNotFound = errors.New("売上記録が見つかりません")

	// ErrReturnNotFound is returned when a referenced return doesn't exist
	// 参照された返品が存在しない場合のエラー
	ErrReturnNotFound = errors.New("返品記録が見つかりません")

	// ErrAlertNotFound is returned when no matching alert exists
	// 対象のアラートが存在しない場合のエラー
	ErrAlertNotFound = errors.New("アラートが見つかりません")

	// ErrDuplicateProduct is returned when creating a product that already exists
	// 既に存在する商品を作成しようとした場合のエラー
	ErrDuplicateProduct = errors.New("商品は既に存在します")
)

// ValidationError represents malformed or missing input, rejected before
// touching storage
// ストレージに触れる前に拒否される、不正または欠落した入力を表現
type ValidationError struct {
	Field   string `json:"field"`   // エラーフィールド
	Message string `json:"message"` // エラーメッセージ
	Value   string `json:"value"`   // 無効な値
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("バリデーションエラー [%s]: %s (値: %s)", e.Field, e.Message, e.Value)
}

// InsufficientStockError represents a mutation that would drive quantity
// negative. Carries requested vs available for meaningful upstream messages.
// 数量を負にしてしまう変更を表現。上流で意味のあるメッセージを表示する
// ため、要求量と利用可能量を保持する。
type InsufficientStockError struct {
	ProductID string `json:"product_id"` // 商品ID
	Requested int64  `json:"requested"`  // 要求数量
	Available int64  `json:"available"`  // 利用可能数量
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("在庫が不足しています [商品: %s]: 要求 %d, 在庫 %d", e.ProductID, e.Requested, e.Available)
}

// ConflictError represents a state-machine violation, such as processing a
// non-approved return
// 未承認の返品を処理するなど、状態機械違反を表現
type ConflictError struct {
	Resource     string `json:"resource"`      // リソース
	ResourceID   string `json:"resource_id"`   // リソースID
	CurrentState string `json:"current_state"` // 現在の状態
	Message      string `json:"message"`       // エラーメッセージ
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("状態競合エラー [%s:%s]: %s (現在の状態: %s)", e.Resource, e.ResourceID, e.Message, e.CurrentState)
}

// StorageError represents a failure of the underlying transaction mechanism
// 基盤となるトランザクション機構自体の失敗を表現
type StorageError struct {
	Operation string `json:"operation"` // 操作名
	Message   string `json:"message"`   // エラーメッセージ
	Cause     error  `json:"cause"`     // 原因エラー
}

func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ストレージエラー [%s]: %s (原因: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("ストレージエラー [%s]: %s", e.Operation, e.Message)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ErrInsufficientData is returned by the forecast engine when a product has
// no history in the requested window
// 要求ウィンドウ内に履歴がない商品に対して予測エンジンが返すエラー
var ErrInsufficientData = errors.New("予測に必要なデータが不足しています")

// NewValidationError creates a new validation error
// 新しいバリデーションエラーを作成
func NewValidationError(field, message, value string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewInsufficientStockError creates a new insufficient stock error
// 新しい在庫不足エラーを作成
func NewInsufficientStockError(productID string, requested, available int64) *InsufficientStockError {
	return &InsufficientStockError{
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

// NewConflictError creates a new state conflict error
// 新しい状態競合エラーを作成
func NewConflictError(resource, resourceID, currentState, message string) *ConflictError {
	return &ConflictError{
		Resource:     resource,
		ResourceID:   resourceID,
		CurrentState: currentState,
		Message:      message,
	}
}

// NewStorageError creates a new storage error
// 新しいストレージエラーを作成
func NewStorageError(operation, message string, cause error) *StorageError {
	return &StorageError{
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}
