package siteserver

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the executor's Prometheus collectors, generalized from
// the teacher's hand-rolled NodeMetrics struct into
// prometheus/client_golang counters and gauges.
type metrics struct {
	committed    prometheus.Counter
	aborted      prometheus.Counter
	deadlocked   prometheus.Counter
	lockTimeouts prometheus.Counter
	sqlErrors    prometheus.Counter
	inFlight     prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distribtx_site_transactions_committed_total",
			Help: "Number of client transactions committed on this site.",
		}),
		aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distribtx_site_transactions_aborted_total",
			Help: "Number of client transactions aborted on this site.",
		}),
		deadlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distribtx_site_transactions_deadlocked_total",
			Help: "Number of client transactions aborted by deadlock detection.",
		}),
		lockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distribtx_site_transactions_lock_timeout_total",
			Help: "Number of client transactions aborted after their lock wait exceeded the configured timeout.",
		}),
		sqlErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distribtx_site_sql_errors_total",
			Help: "Number of statement executions that failed at the SQL engine.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "distribtx_site_transactions_in_flight",
			Help: "Number of transactions currently open on this site.",
		}),
	}

	reg.MustRegister(m.committed, m.aborted, m.deadlocked, m.lockTimeouts, m.sqlErrors, m.inFlight)
	return m
}
