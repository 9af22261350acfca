package controller

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the controller's Prometheus collectors, registered
// against a caller-supplied registry so cmd/controller can expose them
// on its own /metrics route.
type metrics struct {
	locksGranted          prometheus.Counter
	locksBlocked          prometheus.Counter
	deadlocksAborted      prometheus.Counter
	lockTimeoutsAborted   prometheus.Counter
	transactionsCommitted prometheus.Counter
	transactionsAborted   prometheus.Counter
	replicationFailures   prometheus.Counter
	activeTransactions    prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		locksGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distribtx_controller_locks_granted_total",
			Help: "Number of lock requests granted, including promotions.",
		}),
		locksBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distribtx_controller_locks_blocked_total",
			Help: "Number of lock requests newly granted through the wait queue, whether or not they had to wait.",
		}),
		deadlocksAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distribtx_controller_deadlocks_aborted_total",
			Help: "Number of transactions aborted by deadlock detection.",
		}),
		lockTimeoutsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distribtx_controller_lock_timeouts_aborted_total",
			Help: "Number of transactions aborted after a lock wait exceeded lock_wait_timeout.",
		}),
		transactionsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distribtx_controller_transactions_committed_total",
			Help: "Number of transactions that reached the Committed state.",
		}),
		transactionsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distribtx_controller_transactions_aborted_total",
			Help: "Number of transactions that reached the Aborted state.",
		}),
		replicationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "distribtx_controller_replication_failures_total",
			Help: "Number of commit attempts that failed during replication fan-out.",
		}),
		activeTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "distribtx_controller_active_transactions",
			Help: "Number of transactions currently registered with the controller.",
		}),
	}

	reg.MustRegister(
		m.locksGranted, m.locksBlocked, m.deadlocksAborted, m.lockTimeoutsAborted,
		m.transactionsCommitted, m.transactionsAborted,
		m.replicationFailures, m.activeTransactions,
	)
	return m
}
