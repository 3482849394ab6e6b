package jobmetrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the worker side collectors: generic job run stats plus the
// period close gauges the alert rules watch.
type Metrics struct {
	runs          *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	lastSuccess   *prometheus.GaugeVec
	expiredLocks  prometheus.Gauge
	overdue       prometheus.Gauge
	unbalanced    *prometheus.CounterVec
	notifications *prometheus.CounterVec
	now           func() time.Time
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer. A nil registerer shares a
// single instance on the default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() { defaultMetrics = build(prometheus.DefaultRegisterer) })
		return defaultMetrics
	}
	return build(registerer)
}

func build(registerer prometheus.Registerer) *Metrics {
	f := promauto.With(registerer)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_jobs_total",
			Help: "Job executions by job name and status.",
		}, []string{"job", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_job_duration_seconds",
			Help:    "Duration of background job executions.",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120},
		}, []string{"job"}),
		lastSuccess: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "odyssey_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		expiredLocks: f.NewGauge(prometheus.GaugeOpts{
			Name: "odyssey_period_close_expired_locks",
			Help: "Locked period closes older than the maximum lock age at the last sweep.",
		}),
		overdue: f.NewGauge(prometheus.GaugeOpts{
			Name: "odyssey_period_close_overdue_reopens",
			Help: "Reopened period closes past their reopen deadline at the last sweep.",
		}),
		unbalanced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_period_close_unbalanced_periods_total",
			Help: "Closing periods found with an unbalanced trial balance, by company.",
		}, []string{"company"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_period_close_notifications_total",
			Help: "Period close notifications by event and delivery status.",
		}, []string{"event", "status"}),
		now: time.Now,
	}
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job. It is safe on a nil receiver.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run outcome and hands err back so callers can
// `return tracker.End(err)`. Errors wrapping asynq.SkipRetry count as
// "skipped" rather than failures.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	m := t.metrics
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	switch {
	case err == nil:
		m.runs.WithLabelValues(t.job, "success").Inc()
		m.lastSuccess.WithLabelValues(t.job).Set(float64(m.now().Unix()))
	case errors.Is(err, asynq.SkipRetry):
		m.runs.WithLabelValues(t.job, "skipped").Inc()
	default:
		m.runs.WithLabelValues(t.job, "failure").Inc()
	}
	return err
}

// SetExpiredLocks publishes how many locked closes are past their maximum age.
func (m *Metrics) SetExpiredLocks(count int) {
	if m == nil {
		return
	}
	m.expiredLocks.Set(float64(count))
}

// SetOverdueReopens publishes how many reopened closes missed their deadline.
func (m *Metrics) SetOverdueReopens(count int) {
	if m == nil {
		return
	}
	m.overdue.Set(float64(count))
}

// AddUnbalanced counts closing periods whose trial balance failed.
func (m *Metrics) AddUnbalanced(companyID int64, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.unbalanced.WithLabelValues(strconv.FormatInt(max(companyID, 0), 10)).Add(float64(count))
}

// CountNotification records one notification attempt for an event.
func (m *Metrics) CountNotification(event, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(event, status).Inc()
}
