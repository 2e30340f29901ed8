// Package metrics holds the prometheus collectors for the message core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	MessagesAppended    prometheus.Counter
	AppendFailures      prometheus.Counter
	Delivered           prometheus.Counter
	SubscribersDropped  prometheus.Counter
	ActiveSubscriptions prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dm_chat",
			Name:      "messages_appended_total",
			Help:      "Messages durably appended to the store.",
		}),
		AppendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dm_chat",
			Name:      "append_failures_total",
			Help:      "Appends rejected or failed before commit.",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dm_chat",
			Name:      "fanout_enqueued_total",
			Help:      "Live messages enqueued to subscriber queues.",
		}),
		SubscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dm_chat",
			Name:      "fanout_subscribers_dropped_total",
			Help:      "Subscribers dropped because their queue overflowed.",
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dm_chat",
			Name:      "fanout_active_subscriptions",
			Help:      "Currently registered conversation subscriptions.",
		}),
	}
	reg.MustRegister(m.MessagesAppended, m.AppendFailures, m.Delivered, m.SubscribersDropped, m.ActiveSubscriptions)
	return m
}

// NewNop returns collectors that are not registered anywhere.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
