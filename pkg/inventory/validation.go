package inventory

import (
	"fmt"
	"regexp"
	"strings"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateProductID 商品IDの形式をバリデーション
func ValidateProductID(productID string) error {
	if productID == "" {
		return NewValidationError("product_id", "商品IDが空です", productID)
	}
	if len(productID) > 255 {
		return NewValidationError("product_id", "商品IDが長すぎます", productID)
	}
	// 英数字、ハイフン、アンダースコアのみ許可
	if !idPattern.MatchString(productID) {
		return NewValidationError("product_id", "商品IDに無効な文字が含まれています", productID)
	}
	return nil
}

// ValidateProductName 商品名をバリデーション
func ValidateProductName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("name", "商品名が空です", name)
	}
	if len(name) > 500 {
		return NewValidationError("name", "商品名が長すぎます", name)
	}
	return nil
}

// ValidatePositiveQuantity 数量が正であることをバリデーション
func ValidatePositiveQuantity(field string, quantity int64) error {
	if quantity <= 0 {
		return NewValidationError(field, "数量は正の値である必要があります", fmt.Sprintf("%d", quantity))
	}
	if quantity > 999999999 {
		return NewValidationError(field, "数量が有効範囲を超えています", fmt.Sprintf("%d", quantity))
	}
	return nil
}

// ValidatePositivePrice 価格が正であることをバリデーション
func ValidatePositivePrice(field string, price float64) error {
	if price <= 0 {
		return NewValidationError(field, "価格は正の値である必要があります", fmt.Sprintf("%.2f", price))
	}
	return nil
}

// ValidatePlatform 販売プラットフォームをバリデーション
func ValidatePlatform(platform string) error {
	if strings.TrimSpace(platform) == "" {
		return NewValidationError("platform", "プラットフォームが空です", platform)
	}
	if len(platform) > 100 {
		return NewValidationError("platform", "プラットフォーム名が長すぎます", platform)
	}
	return nil
}

// ValidateReason 在庫変更理由をバリデーション
func ValidateReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return NewValidationError("reason", "理由が空です", reason)
	}
	if len(reason) > 500 {
		return NewValidationError("reason", "理由が長すぎます", reason)
	}
	return nil
}

// sortableSaleFields is the allow-list of fields accepted for sale history
// sorting. Anything else is rejected before query composition.
// 売上履歴のソートに許可されるフィールドの許可リスト。それ以外はクエリ
// 組み立て前に拒否される。
var sortableSaleFields = map[string]bool{
	"sold_at":       true,
	"total_amount":  true,
	"quantity_sold": true,
}

// ValidateSortField ソートフィールドを許可リストに対してバリデーション
func ValidateSortField(field string) error {
	if field == "" {
		return nil // デフォルトのソート順を使用
	}
	if !sortableSaleFields[field] {
		return NewValidationError("sort", "ソートに使用できないフィールドです", field)
	}
	return nil
}
