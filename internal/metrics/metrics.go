// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン・ログアウトの結果ラベル。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// AuthRecorder は認証処理のメトリクス記録インターフェース。
type AuthRecorder interface {
	RecordLogin(result string)
	RecordLogout(result string)
	RecordTokenValidation(allowed bool)
}

// HTTPRecorder はHTTPレスポンスのメトリクス記録インターフェース。
type HTTPRecorder interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// CleanupRecorder は台帳クリーンアップのメトリクス記録インターフェース。
type CleanupRecorder interface {
	RecordTokenHistoriesPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	login           *prometheus.CounterVec
	logout          *prometheus.CounterVec
	tokenValidation *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	requestLatency  prometheus.Histogram
	historiesPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		login: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minimalapi_login_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		logout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minimalapi_logout_total",
			Help: "結果別のログアウト数",
		}, []string{"result"}),
		tokenValidation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minimalapi_token_validation_total",
			Help: "トークン検証の結果別件数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minimalapi_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "minimalapi_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		historiesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minimalapi_token_histories_purged_total",
			Help: "保持期間を過ぎて削除された台帳レコードの合計数",
		}),
	}

	reg.MustRegister(
		c.login,
		c.logout,
		c.tokenValidation,
		c.httpStatus,
		c.requestLatency,
		c.historiesPurged,
	)

	return c
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.login.WithLabelValues(result).Inc()
}

// RecordLogout はログアウト結果を記録する。
func (c *Collector) RecordLogout(result string) {
	c.logout.WithLabelValues(result).Inc()
}

// RecordTokenValidation はトークン検証の結果を記録する。
func (c *Collector) RecordTokenValidation(allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	c.tokenValidation.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordTokenHistoriesPurged は削除した台帳レコード数を記録する。
func (c *Collector) RecordTokenHistoriesPurged(count int64) {
	c.historiesPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ AuthRecorder    = (*Collector)(nil)
	_ HTTPRecorder    = (*Collector)(nil)
	_ CleanupRecorder = (*Collector)(nil)
)
