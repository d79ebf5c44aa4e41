// Command migrate applies the SQL migrations in order
// SQLマイグレーションを順番に適用するコマンド
package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/nemonet1337/uriageGoBackend/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("設定の読み込みに失敗しました: " + err.Error())
	}

	logger, err := zap.NewProduction()
	if err != nil {
		panic("ロガーの初期化に失敗しました: " + err.Error())
	}
	defer logger.Sync()

	migrationsDir := "migrations"
	if len(os.Args) > 1 {
		migrationsDir = os.Args[1]
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Fatal("データベース接続のオープンに失敗しました", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal("データベースへの疎通確認に失敗しました", zap.Error(err))
	}

	if err := run(db, migrationsDir, logger); err != nil {
		logger.Fatal("マイグレーションに失敗しました", zap.Error(err))
	}

	logger.Info("マイグレーション完了")
}

// run applies each unapplied .sql file in lexical order inside a transaction
// 未適用の.sqlファイルを辞書順にトランザクション内で適用
func run(db *sql.DB, dir string, logger *zap.Logger) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("マイグレーションテーブルの作成に失敗しました: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("マイグレーションディレクトリの読み取りに失敗しました: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("適用状態の確認に失敗しました: %w", err)
		}
		if applied {
			logger.Info("適用済みのためスキップします", zap.String("version", name))
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("マイグレーションファイルの読み取りに失敗しました: %w", err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("トランザクション開始に失敗しました: %w", err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("マイグレーション %s の適用に失敗しました: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			tx.Rollback()
			return fmt.Errorf("適用記録の挿入に失敗しました: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("コミットに失敗しました: %w", err)
		}

		logger.Info("マイグレーションを適用しました", zap.String("version", name))
	}

	return nil
}
