package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/botdash/internal/store"
)

// PostgresDocumentRepo はstore.BackendのPostgreSQL実装。
// ドキュメント1つをdocumentsテーブルの1行（JSONB）として保存する。
type PostgresDocumentRepo struct {
	db *sql.DB
}

// NewPostgresDocumentRepo はPostgresDocumentRepoを生成する。
func NewPostgresDocumentRepo(db *sql.DB) *PostgresDocumentRepo {
	return &PostgresDocumentRepo{db: db}
}

// Load はドキュメント本体を取得する。行が無い場合はstore.ErrDocumentNotExistを返す。
func (r *PostgresDocumentRepo) Load(ctx context.Context, doc store.Document) ([]byte, error) {
	var body []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE name = $1`,
		string(doc),
	).Scan(&body)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDocumentNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return body, nil
}

// Save はドキュメント全体を置き換える。
func (r *PostgresDocumentRepo) Save(ctx context.Context, doc store.Document, data []byte) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (name, body, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE
		 SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		string(doc), string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// compile-time interface check
var _ store.Backend = (*PostgresDocumentRepo)(nil)
