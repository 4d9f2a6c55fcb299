package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ConnectionsActive prometheus.Gauge
	MessagesSent      prometheus.Counter
	MessagesRecovered prometheus.Counter
	BusEvents         *prometheus.CounterVec
	PushNotifications *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Live websocket connections held by this process.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Private messages persisted and acknowledged.",
		}),
		MessagesRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_recovered_total",
			Help: "Undelivered messages handed over by the offline-recovery sweep.",
		}),
		BusEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_bus_events_total",
			Help: "Fan-out events received from the bus, by kind.",
		}, []string{"kind"}),
		PushNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_push_notifications_total",
			Help: "Push fallback attempts, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ConnectionsActive,
		m.MessagesSent,
		m.MessagesRecovered,
		m.BusEvents,
		m.PushNotifications,
	)
	return m
}
