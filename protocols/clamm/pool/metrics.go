package pool

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK     = "ok"
	resultError  = "error"
	resultLocked = "locked"
)

// Metrics are shared by every pool registered on the same Registerer.
type Metrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	ticksCrossed prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	operations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clamm",
		Subsystem: "pool",
		Name:      "operations_total",
		Help:      "Pool operations by name and result.",
	}, []string{"op", "result"}))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clamm",
		Subsystem: "pool",
		Name:      "operation_duration_seconds",
		Help:      "Time spent inside the pool lock.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
	}, []string{"op"}))
	if err != nil {
		return nil, err
	}

	ticksCrossed, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "clamm",
		Subsystem: "pool",
		Name:      "swap_ticks_crossed",
		Help:      "Initialized ticks crossed per committed swap.",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
	}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		operations:   operations,
		duration:     duration,
		ticksCrossed: ticksCrossed,
	}, nil
}

// register adds c to reg, reusing a collector that is already registered
// under the same descriptor.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func (m *Metrics) timer(op string) *prometheus.Timer {
	return prometheus.NewTimer(m.duration.WithLabelValues(op))
}

func (m *Metrics) observe(op string, err error) {
	result := resultOK
	switch {
	case errors.Is(err, ErrLocked):
		result = resultLocked
	case err != nil:
		result = resultError
	}
	m.operations.WithLabelValues(op, result).Inc()
}
