package onewire

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "owbridge"

// Command results used as the result label of owbridge_commands_total.
const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultFailed   = "failed"
)

// Metrics collects runtime counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	firings            prometheus.Counter
	reads              prometheus.Counter
	readErrors         prometheus.Counter
	published          prometheus.Counter
	suppressed         prometheus.Counter
	staleRegistrations prometheus.Counter
	commands           *prometheus.CounterVec
	scheduledJobs      prometheus.Gauge
	bindings           prometheus.Gauge
}

// NewMetrics creates the runtime collectors. Register the result with
// a prometheus.Registry.
func NewMetrics() *Metrics {
	return &Metrics{
		firings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_firings_total",
			Help:      "Property refreshes run, scheduled and on demand.",
		}),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "device_reads_total",
			Help:      "Successful device property reads.",
		}),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "device_read_errors_total",
			Help:      "Failed device property reads or conversions.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "state_updates_published_total",
			Help:      "State updates delivered to the host.",
		}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "state_updates_suppressed_total",
			Help:      "State updates skipped because the value did not change.",
		}),
		staleRegistrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stale_registrations_total",
			Help:      "Refresh jobs removed because their binding was gone.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Commands received, by result.",
		}, []string{"result"}),
		scheduledJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "scheduled_jobs",
			Help:      "Recurring refresh jobs currently registered.",
		}),
		bindings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "bindings",
			Help:      "Bindings known to the runtime.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.firings.Describe(ch)
	m.reads.Describe(ch)
	m.readErrors.Describe(ch)
	m.published.Describe(ch)
	m.suppressed.Describe(ch)
	m.staleRegistrations.Describe(ch)
	m.commands.Describe(ch)
	m.scheduledJobs.Describe(ch)
	m.bindings.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.firings.Collect(ch)
	m.reads.Collect(ch)
	m.readErrors.Collect(ch)
	m.published.Collect(ch)
	m.suppressed.Collect(ch)
	m.staleRegistrations.Collect(ch)
	m.commands.Collect(ch)
	m.scheduledJobs.Collect(ch)
	m.bindings.Collect(ch)
}

func (m *Metrics) incFirings() {
	if m != nil {
		m.firings.Inc()
	}
}

func (m *Metrics) incReads() {
	if m != nil {
		m.reads.Inc()
	}
}

func (m *Metrics) incReadErrors() {
	if m != nil {
		m.readErrors.Inc()
	}
}

func (m *Metrics) incPublished() {
	if m != nil {
		m.published.Inc()
	}
}

func (m *Metrics) incSuppressed() {
	if m != nil {
		m.suppressed.Inc()
	}
}

func (m *Metrics) incStale() {
	if m != nil {
		m.staleRegistrations.Inc()
	}
}

func (m *Metrics) incCommand(result string) {
	if m != nil {
		m.commands.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) setTopology(jobs, bindings int) {
	if m != nil {
		m.scheduledJobs.Set(float64(jobs))
		m.bindings.Set(float64(bindings))
	}
}
