package lock

import "github.com/prometheus/client_golang/prometheus"

const (
	resultAcquired  = "acquired"
	resultContended = "contended"
	resultDisabled  = "disabled"
	resultOK        = "ok"
	resultNotHeld   = "not_held"
	resultError     = "error"
)

var (
	// AcquireTotal counts single acquisition attempts by result.
	AcquireTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "distlock_acquire_total",
		Help: "Total number of lock acquisition attempts",
	}, []string{"result"})
	// ReleaseTotal counts release calls by result.
	ReleaseTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "distlock_release_total",
		Help: "Total number of lock releases",
	}, []string{"result"})
	// RenewTotal counts renew calls by result.
	RenewTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "distlock_renew_total",
		Help: "Total number of lock renewals",
	}, []string{"result"})
	// TimeoutTotal counts Acquire calls that gave up.
	TimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "distlock_acquire_timeout_total",
		Help: "Total number of lock acquisitions that timed out",
	})
	// OperationDuration observes backend round trips and Acquire waits.
	OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "distlock_operation_duration_seconds",
		Help:    "Duration of lock operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

// RegisterMetrics registers the lock metrics on the provided registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireTotal, ReleaseTotal, RenewTotal, TimeoutTotal, OperationDuration)
}
