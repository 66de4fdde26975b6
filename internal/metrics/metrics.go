// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// サインイン結果のラベル値
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、HTTPミドルウェア、マイグレーションから利用する。
type MetricsCollector interface {
	RecordSignUp(provider string)
	RecordSignIn(method, result string)
	RecordSignOut()
	RecordAuditFailure()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordMigrationsApplied(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signUps           *prometheus.CounterVec
	signIns           *prometheus.CounterVec
	signOuts          prometheus.Counter
	auditFail         prometheus.Counter
	httpStatus        *prometheus.CounterVec
	requestLatency    prometheus.Histogram
	migrationsApplied prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_signups_total",
			Help: "作成されたアカウントの合計数",
		}, []string{"provider"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_signins_total",
			Help: "方式・結果別のサインイン試行数",
		}, []string{"method", "result"}),
		signOuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_signouts_total",
			Help: "サインアウトの合計数",
		}),
		auditFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_audit_append_fail_total",
			Help: "監査イベントの追記失敗数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authd_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authd_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		migrationsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_migrations_applied_total",
			Help: "適用されたマイグレーションスクリプトの合計数",
		}),
	}

	reg.MustRegister(
		c.signUps,
		c.signIns,
		c.signOuts,
		c.auditFail,
		c.httpStatus,
		c.requestLatency,
		c.migrationsApplied,
	)

	return c
}

// RecordSignUp はアカウント作成を記録する。
func (c *Collector) RecordSignUp(provider string) {
	c.signUps.WithLabelValues(provider).Inc()
}

// RecordSignIn はサインイン試行を記録する。
func (c *Collector) RecordSignIn(method, result string) {
	c.signIns.WithLabelValues(method, result).Inc()
}

// RecordSignOut はサインアウトを記録する。
func (c *Collector) RecordSignOut() {
	c.signOuts.Inc()
}

// RecordAuditFailure は監査イベントの追記失敗を記録する。
func (c *Collector) RecordAuditFailure() {
	c.auditFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordMigrationsApplied は適用されたスクリプト数を記録する。
func (c *Collector) RecordMigrationsApplied(count int) {
	c.migrationsApplied.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordSignUp(string)                {}
func (Nop) RecordSignIn(string, string)        {}
func (Nop) RecordSignOut()                     {}
func (Nop) RecordAuditFailure()                {}
func (Nop) RecordHTTPStatus(int)               {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordMigrationsApplied(int)        {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
