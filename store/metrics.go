package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// engineMetrics are the counters and gauges the engine maintains. They are
// registered on the Registerer passed in Options, so several engines can
// live in one process.
type engineMetrics struct {
	SentTotal     *prometheus.CounterVec
	ReceivedTotal *prometheus.CounterVec
	DeletedTotal  *prometheus.CounterVec
	RedriveTotal  *prometheus.CounterVec
	MovedTotal    *prometheus.CounterVec
	MoveTasks     *prometheus.CounterVec
	Waiters       prometheus.Gauge
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	m := &engineMetrics{
		SentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memq_messages_sent_total",
				Help: "Total number of messages stored by send operations",
			},
			[]string{"queue"},
		),
		ReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memq_messages_received_total",
				Help: "Total number of message deliveries",
			},
			[]string{"queue"},
		),
		DeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memq_messages_deleted_total",
				Help: "Total number of messages deleted by receipt handle",
			},
			[]string{"queue"},
		),
		RedriveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memq_messages_redriven_total",
				Help: "Total number of messages moved to a dead-letter queue after exceeding maxReceiveCount",
			},
			[]string{"queue", "dlq"},
		),
		MovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memq_messages_moved_total",
				Help: "Total number of messages moved by message move tasks",
			},
			[]string{"source"},
		),
		MoveTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memq_move_tasks_total",
				Help: "Message move tasks by terminal status",
			},
			[]string{"status"},
		),
		Waiters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "memq_long_poll_waiters",
				Help: "Number of receive calls currently suspended in a long poll",
			},
		),
	}

	reg.MustRegister(
		m.SentTotal,
		m.ReceivedTotal,
		m.DeletedTotal,
		m.RedriveTotal,
		m.MovedTotal,
		m.MoveTasks,
		m.Waiters,
	)
	return m
}

func (m *engineMetrics) forgetQueue(name string) {
	m.SentTotal.DeleteLabelValues(name)
	m.ReceivedTotal.DeleteLabelValues(name)
	m.DeletedTotal.DeleteLabelValues(name)
	m.RedriveTotal.DeletePartialMatch(prometheus.Labels{"queue": name})
}
