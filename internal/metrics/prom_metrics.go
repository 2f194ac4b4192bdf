package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nightscout-easyview/internal/model"
)

// Metrics is the relay's Prometheus instrumentation.
type Metrics struct {
	cycles        *prometheus.CounterVec
	errors        *prometheus.CounterVec
	skipped       *prometheus.CounterVec
	logins        prometheus.Counter
	uploaded      prometheus.Counter
	uploadLatency prometheus.Histogram
	state         *prometheus.GaugeVec
	lastReading   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_poll_cycles_total",
			Help: "Poll cycles by outcome.",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Handled errors by kind.",
		}, []string{"kind"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_readings_skipped_total",
			Help: "Readings not uploaded, by reason.",
		}, []string{"reason"}),
		logins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_vendor_logins_total",
			Help: "Successful EasyView logins.",
		}),
		uploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_entries_uploaded_total",
			Help: "Entries accepted by Nightscout.",
		}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_upload_latency_seconds",
			Help:    "Nightscout upload round trip.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_state",
			Help: "1 for the poll loop's current state.",
		}, []string{"state"}),
		lastReading: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_last_reading_timestamp_seconds",
			Help: "Timestamp of the newest reading fetched from EasyView.",
		}),
	}
	reg.MustRegister(m.cycles, m.errors, m.skipped, m.logins, m.uploaded, m.uploadLatency, m.state, m.lastReading)
	return m
}

func (m *Metrics) SetState(s model.State) {
	for _, st := range model.States {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(string(st)).Set(v)
	}
}

func (m *Metrics) ObserveCycle(outcome string) {
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveError(err error) {
	if err == nil {
		return
	}
	m.errors.WithLabelValues(model.ErrorKind(err)).Inc()
}

func (m *Metrics) ObserveLogin() {
	m.logins.Inc()
}

func (m *Metrics) ObserveSkipped(reason string, n int) {
	if n <= 0 {
		return
	}
	m.skipped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) ObserveUpload(accepted int, took time.Duration) {
	m.uploaded.Add(float64(accepted))
	m.uploadLatency.Observe(took.Seconds())
}

func (m *Metrics) MarkReading(ts time.Time) {
	m.lastReading.Set(float64(ts.Unix()))
}
