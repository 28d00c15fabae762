// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// アップストリームクライアント・ビルダー・ハンドラーから利用する。
type MetricsCollector interface {
	RecordUpstreamSuccess(identifier string)
	RecordUpstreamFailure(identifier string, reason string)
	RecordUpstreamLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordCacheBuild(mode string)
	RecordCacheItems(count int)
	RecordLiveFetch(outcome string)
	RecordServedPage(source string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	upstreamSuccess prometheus.Counter
	upstreamFail    prometheus.Counter
	upstreamLatency prometheus.Histogram
	httpStatus      *prometheus.CounterVec
	cacheBuild      *prometheus.CounterVec
	cacheItems      prometheus.Gauge
	liveFetch       *prometheus.CounterVec
	servedPage      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coindeck_upstream_success_total",
			Help: "アップストリームページ取得成功の合計数",
		}),
		upstreamFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coindeck_upstream_fail_total",
			Help: "アップストリームページ取得失敗の合計数",
		}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "coindeck_upstream_latency_seconds",
			Help:    "アップストリームページ取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coindeck_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cacheBuild: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coindeck_cache_build_total",
			Help: "キャッシュビルド実行のモード別合計数",
		}, []string{"mode"}),
		cacheItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coindeck_cache_items",
			Help: "スナップショットに含まれるアイテム数",
		}),
		liveFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coindeck_live_fetch_total",
			Help: "ライブフェッチの結果別合計数",
		}, []string{"outcome"}),
		servedPage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coindeck_served_page_total",
			Help: "提供したフィードページのsource別合計数",
		}, []string{"source"}),
	}

	reg.MustRegister(
		c.upstreamSuccess,
		c.upstreamFail,
		c.upstreamLatency,
		c.httpStatus,
		c.cacheBuild,
		c.cacheItems,
		c.liveFetch,
		c.servedPage,
	)

	return c
}

// RecordUpstreamSuccess はアップストリーム取得成功を記録する。
func (c *Collector) RecordUpstreamSuccess(identifier string) {
	c.upstreamSuccess.Inc()
}

// RecordUpstreamFailure はアップストリーム取得失敗を記録する。
func (c *Collector) RecordUpstreamFailure(identifier string, reason string) {
	c.upstreamFail.Inc()
}

// RecordUpstreamLatency はアップストリーム取得のレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(duration time.Duration) {
	c.upstreamLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCacheBuild はキャッシュビルドの実行を記録する。
func (c *Collector) RecordCacheBuild(mode string) {
	c.cacheBuild.WithLabelValues(mode).Inc()
}

// RecordCacheItems はスナップショットのアイテム数を記録する。
func (c *Collector) RecordCacheItems(count int) {
	c.cacheItems.Set(float64(count))
}

// RecordLiveFetch はライブフェッチの結果を記録する。
// outcomeはsuccess/timeout/errorのいずれか。
func (c *Collector) RecordLiveFetch(outcome string) {
	c.liveFetch.WithLabelValues(outcome).Inc()
}

// RecordServedPage は提供したフィードページのsourceを記録する。
func (c *Collector) RecordServedPage(source string) {
	c.servedPage.WithLabelValues(source).Inc()
}

// NopCollector は何も記録しないMetricsCollector実装。
// バッチコマンドやテストで使用する。
type NopCollector struct{}

func (NopCollector) RecordUpstreamSuccess(identifier string)        {}
func (NopCollector) RecordUpstreamFailure(identifier, reason string) {}
func (NopCollector) RecordUpstreamLatency(duration time.Duration)   {}
func (NopCollector) RecordHTTPStatus(statusCode int)                {}
func (NopCollector) RecordCacheBuild(mode string)                   {}
func (NopCollector) RecordCacheItems(count int)                     {}
func (NopCollector) RecordLiveFetch(outcome string)                 {}
func (NopCollector) RecordServedPage(source string)                 {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
