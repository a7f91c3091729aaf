package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	sweeps        *prom.CounterVec
	sweepDuration prom.Histogram
	tasks         *prom.CounterVec
	articles      *prom.CounterVec
	waits         *prom.CounterVec
	syncs         *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		sweeps: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cascade",
			Name:      "sweeps_total",
			Help:      "Due-task sweeps by result (run or skipped)",
		}, []string{"result"}),
		sweepDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: "cascade",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of due-task sweeps that ran",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		tasks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cascade",
			Name:      "tasks_total",
			Help:      "Publish task executions by result",
		}, []string{"result"}),
		articles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cascade",
			Name:      "articles_total",
			Help:      "Article status transitions by target status",
		}, []string{"status"}),
		waits: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cascade",
			Name:      "wait_outcomes_total",
			Help:      "Smart wait outcomes by resolution",
		}, []string{"via"}),
		syncs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cascade",
			Name:      "syncs_total",
			Help:      "Feed sync executions by result",
		}, []string{"result"}),
	}
	reg.MustRegister(pr.sweeps, pr.sweepDuration, pr.tasks, pr.articles, pr.waits, pr.syncs)
	return pr
}

func (p *PrometheusRecorder) ObserveSweep(result string, d time.Duration) {
	p.sweeps.WithLabelValues(result).Inc()
	if result != "skipped" {
		p.sweepDuration.Observe(d.Seconds())
	}
}

func (p *PrometheusRecorder) IncTask(result string)    { p.tasks.WithLabelValues(result).Inc() }
func (p *PrometheusRecorder) IncArticle(status string) { p.articles.WithLabelValues(status).Inc() }
func (p *PrometheusRecorder) IncWait(via string)       { p.waits.WithLabelValues(via).Inc() }
func (p *PrometheusRecorder) IncSync(result string)    { p.syncs.WithLabelValues(result).Inc() }

// Handler exposes reg in the Prometheus text format.
func Handler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
