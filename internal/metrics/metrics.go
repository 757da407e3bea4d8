package metrics

import (
	"errors"
	"time"

	"github.com/glimte/mmate-outbound/contracts"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmate_outbound_sent_total",
			Help: "Total number of envelopes handed to a transport successfully.",
		},
		[]string{"destination"},
	)

	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmate_outbound_attempts_total",
			Help: "Total number of send attempts by result.",
		},
		[]string{"destination", "result"}, // success, failure
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmate_outbound_retries_total",
			Help: "Total number of envelopes re-queued after a failed attempt.",
		},
		[]string{"destination"},
	)

	DiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmate_outbound_discarded_total",
			Help: "Total number of envelopes dropped after exhausting their attempts.",
		},
		[]string{"destination"},
	)

	AttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mmate_outbound_attempt_duration_seconds",
			Help:    "Duration of individual send attempts.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"destination"},
	)

	Queued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mmate_outbound_queued",
			Help: "Number of envelopes waiting in a sending queue.",
		},
		[]string{"destination"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mmate_outbound_circuit_state",
			Help: "Circuit breaker state per destination (0 closed, 1 open, 2 half-open).",
		},
		[]string{"destination"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		SentTotal, AttemptsTotal, RetriesTotal, DiscardedTotal, AttemptDuration, Queued, CircuitState,
	}
}

func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(collectors()...)
}

// Register registers every collector, skipping ones reg already holds
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}

// BlockRecorder reports retry block activity for one destination
type BlockRecorder struct {
	destination string
}

// NewBlockRecorder returns a recorder labelled with destination
func NewBlockRecorder(destination string) *BlockRecorder {
	return &BlockRecorder{destination: destination}
}

func (r *BlockRecorder) ObserveAttempt(d time.Duration, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	AttemptsTotal.WithLabelValues(r.destination, result).Inc()
	AttemptDuration.WithLabelValues(r.destination).Observe(d.Seconds())
}

// AddCompleted is a no-op; completions are counted by SentLogger
func (r *BlockRecorder) AddCompleted(int) {}

func (r *BlockRecorder) AddRetries(n int) {
	RetriesTotal.WithLabelValues(r.destination).Add(float64(n))
}

func (r *BlockRecorder) AddDiscarded(n int) {
	DiscardedTotal.WithLabelValues(r.destination).Add(float64(n))
}

func (r *BlockRecorder) SetQueued(n int) {
	Queued.WithLabelValues(r.destination).Set(float64(n))
}

// SentLogger counts successfully sent envelopes
type SentLogger struct{}

func (SentLogger) Sent(env *contracts.Envelope) {
	SentTotal.WithLabelValues(DestinationLabel(env)).Inc()
}

// DestinationLabel returns the label value used for an envelope's destination
func DestinationLabel(env *contracts.Envelope) string {
	if env == nil || env.Destination == nil {
		return "unknown"
	}
	return env.Destination.String()
}
