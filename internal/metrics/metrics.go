package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/reminder-dispatch/internal/domain"
	"github.com/notifyhub/reminder-dispatch/internal/service"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	RemindersEnqueued    *prometheus.CounterVec
	DispatchOutcomes     *prometheus.CounterVec
	ProviderSendLatency  *prometheus.HistogramVec
	StaleClaimsReleased  prometheus.Counter
	QueueItems           *prometheus.GaugeVec
	SchedulerCycleErrors *prometheus.CounterVec
}

// New registers all instruments with reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RemindersEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminders_enqueued_total",
			Help: "Queue items inserted by the reminder enqueuer.",
		}, []string{"business_id"}),

		DispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_dispatch_outcomes_total",
			Help: "Dispatch transitions by channel and outcome (sent, cancelled, failed, skipped, requeued, deferred).",
		}, []string{"channel", "outcome"}),

		ProviderSendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reminder_provider_send_seconds",
			Help:    "Latency of a single provider send call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel", "provider", "result"}),

		StaleClaimsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reminder_stale_claims_released_total",
			Help: "Claimed queue items returned to pending after their lease expired.",
		}),

		QueueItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "reminder_queue_items",
			Help: "Queue items per business and status, sampled after each scheduler cycle.",
		}, []string{"business_id", "status"}),

		SchedulerCycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reminder_scheduler_cycle_errors_total",
			Help: "Scheduler cycles that ended with an error, by stage.",
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.RemindersEnqueued,
		m.DispatchOutcomes,
		m.ProviderSendLatency,
		m.StaleClaimsReleased,
		m.QueueItems,
		m.SchedulerCycleErrors,
	)

	return m
}

// DispatchHooks returns the callbacks expected by dispatch.Hooks so the
// dispatch package stays free of prometheus imports.
func (m *Metrics) DispatchHooks() (
	onOutcome func(domain.Channel, string),
	onSend func(domain.Channel, string, bool, time.Duration),
) {
	onOutcome = func(ch domain.Channel, outcome string) {
		m.DispatchOutcomes.WithLabelValues(string(ch), outcome).Inc()
	}
	onSend = func(ch domain.Channel, provider string, ok bool, latency time.Duration) {
		result := "error"
		if ok {
			result = "ok"
		}
		m.ProviderSendLatency.WithLabelValues(string(ch), provider, result).Observe(latency.Seconds())
	}
	return
}

// SchedulerHooks returns the callbacks for worker.SchedulerHooks.
func (m *Metrics) SchedulerHooks() (
	onCycle func(int64, service.CycleResult, error),
	onQueueCounts func(int64, map[domain.QueueStatus]int),
) {
	onCycle = func(businessID int64, res service.CycleResult, err error) {
		if err != nil {
			stage := res.FailedStage
			if stage == "" {
				stage = "unknown"
			}
			m.SchedulerCycleErrors.WithLabelValues(stage).Inc()
		}
		if res.Enqueue.Enqueued > 0 {
			m.RemindersEnqueued.WithLabelValues(strconv.FormatInt(businessID, 10)).Add(float64(res.Enqueue.Enqueued))
		}
	}
	onQueueCounts = func(businessID int64, counts map[domain.QueueStatus]int) {
		id := strconv.FormatInt(businessID, 10)
		for _, status := range domain.QueueStatuses() {
			m.QueueItems.WithLabelValues(id, string(status)).Set(float64(counts[status]))
		}
	}
	return
}

// OnStaleClaimsReleased feeds the lease sweeper's release count.
func (m *Metrics) OnStaleClaimsReleased(n int64) {
	m.StaleClaimsReleased.Add(float64(n))
}
