package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_connections_active",
		Help: "Number of currently registered client sessions.",
	})
	metricMessagesRouted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_messages_routed_total",
		Help: "Chat envelopes accepted and forwarded by the router.",
	})
	metricReceiptsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_receipts_sent_total",
		Help: "Delivery receipts sent back to senders.",
	})
	metricRouteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_route_errors_total",
		Help: "Routing failures by reason code.",
	}, []string{"reason"})
)
