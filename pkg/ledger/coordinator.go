// Package ledger provides the transaction coordinator for the sales ledger
// 販売台帳用のトランザクションコーディネーターを提供
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Coordinator wraps a database handle and executes transactional units
// データベースハンドルをラップしてトランザクション単位を実行
type Coordinator struct {
	db     *sql.DB
	mu     sync.Mutex // トランザクション単位を直列化（同一セッション上の多重BEGINを防止）
	logger *zap.Logger
}

// NewCoordinator creates a new transaction coordinator
// 新しいトランザクションコーディネーターを作成
func NewCoordinator(db *sql.DB, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		db:     db,
		logger: logger,
	}
}

// Tx is the handle passed to work functions inside a transactional unit
// トランザクション単位内のワーク関数に渡されるハンドル
type Tx struct {
	tx *sql.Tx
}

// Run executes a statement and returns the number of affected rows
// ステートメントを実行して影響を受けた行数を返す
func (t *Tx) Run(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	result, err := t.tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("ステートメント実行に失敗しました: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}

	return rowsAffected, nil
}

// QueryRow executes a query that returns at most one row
// 最大1行を返すクエリを実行
func (t *Tx) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Query executes a query that returns multiple rows
// 複数行を返すクエリを実行
func (t *Tx) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("クエリ実行に失敗しました: %w", err)
	}
	return rows, nil
}

// Transaction begins an atomic unit, invokes work, and commits on normal
// return. Any error from work rolls the whole unit back and is re-returned
// unchanged; a rollback failure is logged but never replaces the original
// error.
// アトミック単位を開始してワークを実行し、正常終了時にコミットする。
// ワークがエラーを返した場合は単位全体をロールバックし、元のエラーを
// そのまま返す。ロールバック自体の失敗はログに残すのみで元のエラーを
// 置き換えない。
func (c *Coordinator) Transaction(ctx context.Context, work func(*Tx) error) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sqlTx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗しました: %w", err)
	}

	// すべての脱出経路（panic含む）で必ず解放する
	completed := false
	defer func() {
		if !completed {
			if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				c.logger.Error("ロールバックに失敗しました", zap.Error(rbErr))
			}
		}
	}()

	if workErr := work(&Tx{tx: sqlTx}); workErr != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			c.logger.Error("ロールバックに失敗しました",
				zap.Error(rbErr),
				zap.NamedError("original_error", workErr),
			)
		}
		completed = true
		return workErr
	}

	if commitErr := sqlTx.Commit(); commitErr != nil {
		completed = true
		return fmt.Errorf("コミットに失敗しました: %w", commitErr)
	}

	completed = true
	return nil
}

// BatchOperation is a single operation executed inside a batch unit
// バッチ単位内で実行される単一の操作
type BatchOperation func(*Tx) (interface{}, error)

// BatchTransaction runs independent operations inside one transactional unit
// and returns their results in order. If any operation fails, none of the
// batch's effects are visible.
// 独立した複数の操作を1つのトランザクション単位内で実行し、結果を順番に
// 返す。いずれかの操作が失敗した場合、バッチの効果は一切可視化されない。
func (c *Coordinator) BatchTransaction(ctx context.Context, operations []BatchOperation) ([]interface{}, error) {
	results := make([]interface{}, 0, len(operations))

	err := c.Transaction(ctx, func(tx *Tx) error {
		for i, op := range operations {
			result, err := op(tx)
			if err != nil {
				return fmt.Errorf("バッチ操作 %d が失敗しました: %w", i, err)
			}
			results = append(results, result)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return results, nil
}
