// Package store は管理者リストと手動コマンドリストのJSONドキュメント永続化を提供する。
//
// 各ドキュメントは丸ごと読み書きされる（部分更新なし）。存在しないドキュメントは
// 初回アクセス時に既定値で作成されるため、呼び出し元が未存在エラーを見ることはない。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/botdash/internal/model"
)

// Document は永続化されるドキュメントの識別子。
type Document string

const (
	// DocumentAdmins は管理者IDの配列。
	DocumentAdmins Document = "admins"
	// DocumentManualCommands は手動コマンドの配列。
	DocumentManualCommands Document = "manualCommands"
)

// ErrDocumentNotExist はバックエンドにドキュメントが存在しないことを示す。
var ErrDocumentNotExist = errors.New("document does not exist")

// Backend はドキュメントのバイト列を保存する層のインターフェース。
type Backend interface {
	// Load はドキュメントを読み込む。存在しない場合はErrDocumentNotExistを返す。
	Load(ctx context.Context, doc Document) ([]byte, error)
	// Save はドキュメント全体を置き換える。
	Save(ctx context.Context, doc Document, data []byte) error
}

// Store はBackend上に型付きのJSON読み書きと既定値の初期化を提供する。
//
// Updateはドキュメントごとのミューテックスで読み取り→変更→書き込みを直列化する。
// Readはロックを取らない。プロセス間の原子性は保証しない（最後の書き込みが勝つ）。
type Store struct {
	backend  Backend
	defaults map[Document]any

	mu    sync.Mutex
	locks map[Document]*sync.Mutex
}

// New はStoreを生成する。
// protectedIDは管理者ドキュメントの既定値（唯一のメンバー）になる。
func New(backend Backend, protectedID string) *Store {
	return &Store{
		backend: backend,
		defaults: map[Document]any{
			DocumentAdmins:         []string{protectedID},
			DocumentManualCommands: []model.ManualCommand{},
		},
		locks: make(map[Document]*sync.Mutex),
	}
}

// EnsureDefaults は全ドキュメントが存在することを保証する。起動時に一度呼ぶ。
func (s *Store) EnsureDefaults(ctx context.Context) error {
	for _, doc := range []Document{DocumentAdmins, DocumentManualCommands} {
		if _, err := s.load(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Read はドキュメントを読み込みvにデコードする。
// 存在しない場合は既定値を書き込んでから返す。
func (s *Store) Read(ctx context.Context, doc Document, v any) error {
	data, err := s.load(ctx, doc)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Error("stored document is not valid JSON",
			slog.String("document", string(doc)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("decode document %q: %w: %w", doc, model.ErrStorageCorrupt, err)
	}
	return nil
}

// Write はvをエンコードしてドキュメント全体を置き換える。
func (s *Store) Write(ctx context.Context, doc Document, v any) error {
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("encode document %q: %w", doc, err)
	}
	if err := s.backend.Save(ctx, doc, data); err != nil {
		return fmt.Errorf("save document %q: %w: %w", doc, model.ErrStorageUnavailable, err)
	}
	return nil
}

// Update はドキュメントのロックを取得した状態でvへ読み込み、mutateを呼び、
// mutateが成功した場合のみvを書き戻す。
func (s *Store) Update(ctx context.Context, doc Document, v any, mutate func() error) error {
	lock := s.lockFor(doc)
	lock.Lock()
	defer lock.Unlock()

	if err := s.Read(ctx, doc, v); err != nil {
		return err
	}
	if err := mutate(); err != nil {
		return err
	}
	return s.Write(ctx, doc, v)
}

// load はバイト列を読み込み、未存在なら既定値を保存して返す。
func (s *Store) load(ctx context.Context, doc Document) ([]byte, error) {
	data, err := s.backend.Load(ctx, doc)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, ErrDocumentNotExist) {
		return nil, fmt.Errorf("load document %q: %w: %w", doc, model.ErrStorageUnavailable, err)
	}

	def, ok := s.defaults[doc]
	if !ok {
		return nil, fmt.Errorf("unknown document %q", doc)
	}
	data, err = encode(def)
	if err != nil {
		return nil, fmt.Errorf("encode default for %q: %w", doc, err)
	}
	if err := s.backend.Save(ctx, doc, data); err != nil {
		return nil, fmt.Errorf("seed document %q: %w: %w", doc, model.ErrStorageUnavailable, err)
	}

	slog.Info("document created with default value", slog.String("document", string(doc)))
	return data, nil
}

func (s *Store) lockFor(doc Document) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[doc]
	if !ok {
		l = &sync.Mutex{}
		s.locks[doc] = l
	}
	return l
}

// encode は元のダッシュボードと同じ2スペースインデントでJSONを生成する。
func encode(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
