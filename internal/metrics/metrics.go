// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とHTTP層から利用する。
type MetricsCollector interface {
	RecordHTTPRequest(route string, statusCode int, duration time.Duration)
	RecordOAuthLogin(outcome string)
	RecordCatalogFetch(duration time.Duration, err error)
	RecordAdminChange(op string)
	SetInvocationLogSize(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	oauthLogins   *prometheus.CounterVec
	catalogFetch  *prometheus.HistogramVec
	adminChanges  *prometheus.CounterVec
	invocationLog prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botdash_http_requests_total",
			Help: "ルート・ステータス別のHTTPリクエスト数",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botdash_http_request_duration_seconds",
			Help:    "ルート別のHTTPリクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		oauthLogins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botdash_oauth_logins_total",
			Help: "結果別のOAuthログイン試行数",
		}, []string{"outcome"}),
		catalogFetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botdash_catalog_fetch_duration_seconds",
			Help:    "リモートコマンド一覧取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		adminChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botdash_admin_changes_total",
			Help: "管理者リストの変更数",
		}, []string{"op"}),
		invocationLog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botdash_invocation_log_size",
			Help: "メモリ内コマンド実行ログの件数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.oauthLogins,
		c.catalogFetch,
		c.adminChanges,
		c.invocationLog,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエスト1件を記録する。
func (c *Collector) RecordHTTPRequest(route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordOAuthLogin はOAuthログインの結果を記録する。
func (c *Collector) RecordOAuthLogin(outcome string) {
	c.oauthLogins.WithLabelValues(outcome).Inc()
}

// RecordCatalogFetch はリモートコマンド取得のレイテンシを記録する。
func (c *Collector) RecordCatalogFetch(duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.catalogFetch.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordAdminChange は管理者の追加・削除を記録する。
func (c *Collector) RecordAdminChange(op string) {
	c.adminChanges.WithLabelValues(op).Inc()
}

// SetInvocationLogSize はコマンド実行ログの件数を設定する。
func (c *Collector) SetInvocationLogSize(n int) {
	c.invocationLog.Set(float64(n))
}

// NewHTTPMiddleware はchiのルートパターン単位でリクエスト数と処理時間を記録するミドルウェアを返す。
// パターンが解決できないリクエスト（静的ファイル等）は "other" にまとめる。
func NewHTTPMiddleware(collector MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "other"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" && p != "/*" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			collector.RecordHTTPRequest(route, status, time.Since(start))
		})
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
