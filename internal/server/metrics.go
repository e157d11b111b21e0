package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_connections_active",
		Help: "Open websocket connections on this instance",
	})

	authenticatedConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_connections_authenticated",
		Help: "Identities registered on this instance",
	})

	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_frames_received_total",
		Help: "Client frames received, by type",
	}, []string{"type"})

	frameRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_frame_rejections_total",
		Help: "Client frames answered with an error frame, by error kind",
	}, []string{"kind"})

	messagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_messages_relayed_total",
		Help: "Messages accepted and persisted",
	})

	fanoutPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_fanout_publish_total",
		Help: "Fanout publish attempts, by result",
	}, []string{"result"}) // "ok" or "error"

	fanoutEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_fanout_events_total",
		Help: "Fanout events received, by channel and outcome",
	}, []string{"channel", "outcome"}) // "delivered", "dropped", "skipped_own"

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_http_requests_total",
		Help: "HTTP requests, by route and status",
	}, []string{"route", "status"})
)
