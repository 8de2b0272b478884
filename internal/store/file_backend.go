package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend はディレクトリ配下の <document>.json としてドキュメントを保存する。
type FileBackend struct {
	dir string
}

// NewFileBackend はFileBackendを生成する。ディレクトリは初回保存時に作成される。
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Path はドキュメントのファイルパスを返す。
func (b *FileBackend) Path(doc Document) string {
	return filepath.Join(b.dir, string(doc)+".json")
}

// Load はファイルを読み込む。
func (b *FileBackend) Load(_ context.Context, doc Document) ([]byte, error) {
	data, err := os.ReadFile(b.Path(doc))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrDocumentNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.Path(doc), err)
	}
	return data, nil
}

// Save は一時ファイルに書いてからrenameで置き換える。
// 読み手が書きかけのファイルを観測することはない。
func (b *FileBackend) Save(_ context.Context, doc Document, data []byte) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, "."+string(doc)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.Path(doc)); err != nil {
		return fmt.Errorf("replace %s: %w", b.Path(doc), err)
	}
	return nil
}

var _ Backend = (*FileBackend)(nil)
