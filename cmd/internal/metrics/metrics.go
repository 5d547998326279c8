// Package metrics holds the Prometheus collectors exported by the loyalty service
// and the expiration job.
//
// All methods are nil-safe so components can run without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of loyalty collectors registered on one registry.
type Metrics struct {
	verifications *prometheus.CounterVec
	redemptions   *prometheus.CounterVec
	issued        *prometheus.CounterVec

	jobRuns          *prometheus.CounterVec
	jobLastSuccess   *prometheus.GaugeVec
	usersExpired     prometheus.Counter
	pointsExpired    prometheus.Counter
	warningsEnqueued prometheus.Counter

	liveClients prometheus.Gauge
}

// New creates and registers the collectors on reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "qr",
			Name:      "verifications_total",
			Help:      "Scanned QR tokens by class and outcome.",
		}, []string{"class", "result"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "voucher",
			Name:      "redemptions_total",
			Help:      "Voucher redemption attempts by outcome.",
		}, []string{"result"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "qr",
			Name:      "tokens_issued_total",
			Help:      "QR tokens issued by class.",
		}, []string{"class"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "expiration",
			Name:      "sweeps_total",
			Help:      "Expiration job sweeps by sweep kind and outcome.",
		}, []string{"sweep", "result"}),
		jobLastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "loyalty",
			Subsystem: "expiration",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful sweep.",
		}, []string{"sweep"}),
		usersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "expiration",
			Name:      "users_expired_total",
			Help:      "Customers whose balance was zeroed by the expiration sweep.",
		}),
		pointsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "expiration",
			Name:      "points_expired_total",
			Help:      "Points removed by the expiration sweep.",
		}),
		warningsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loyalty",
			Subsystem: "expiration",
			Name:      "warnings_enqueued_total",
			Help:      "Points-expiring warnings enqueued.",
		}),
		liveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loyalty",
			Subsystem: "live",
			Name:      "clients",
			Help:      "Connected live scan feed clients.",
		}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.verifications, m.redemptions, m.issued,
		m.jobRuns, m.jobLastSuccess, m.usersExpired, m.pointsExpired, m.warningsEnqueued,
		m.liveClients,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveVerification(class, result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(class, result).Inc()
}

func (m *Metrics) ObserveRedemption(result string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveIssued(class string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(class).Inc()
}

// ObserveSweep records one sweep run. ok=false counts a failure.
func (m *Metrics) ObserveSweep(sweep string, ok bool, at time.Time) {
	if m == nil {
		return
	}
	if !ok {
		m.jobRuns.WithLabelValues(sweep, "error").Inc()
		return
	}
	m.jobRuns.WithLabelValues(sweep, "ok").Inc()
	m.jobLastSuccess.WithLabelValues(sweep).Set(float64(at.Unix()))
}

func (m *Metrics) AddExpired(users int, points int64) {
	if m == nil {
		return
	}
	m.usersExpired.Add(float64(users))
	m.pointsExpired.Add(float64(points))
}

func (m *Metrics) AddWarnings(n int) {
	if m == nil {
		return
	}
	m.warningsEnqueued.Add(float64(n))
}

func (m *Metrics) LiveClientDelta(d int) {
	if m == nil {
		return
	}
	m.liveClients.Add(float64(d))
}
