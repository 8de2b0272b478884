package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// NewStaticHandler はdir配下の静的ファイルを配信するハンドラーを返す。
// 存在しないパスにはSPAのindex.htmlを返す。
func NewStaticHandler(dir string) http.Handler {
	fileServer := http.FileServer(http.Dir(dir))
	index := filepath.Join(dir, "index.html")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return
		}

		clean := filepath.Clean("/" + r.URL.Path)
		if clean == "/" || isFile(filepath.Join(dir, filepath.FromSlash(clean))) {
			fileServer.ServeHTTP(w, r)
			return
		}
		if strings.HasPrefix(clean, "/api/") {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, index)
	})
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
