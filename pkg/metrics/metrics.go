// Package metrics holds the process wide prometheus collectors.
package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsPublished counts events handed to the bus, by topic.
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "events_published_total",
		Help:      "Events published on the realtime bus.",
	}, []string{"topic"})

	// EventsDelivered counts handler invocations, by topic.
	EventsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "events_delivered_total",
		Help:      "Events delivered to subscribers.",
	}, []string{"topic"})

	// EventsDropped counts events that could not be decoded or exported.
	EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "events_dropped_total",
		Help:      "Events dropped by the bus or exporter.",
	}, []string{"reason"})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "messages_sent_total",
		Help:      "Messages persisted.",
	})

	AttachmentFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chat",
		Name:      "attachment_upload_failures_total",
		Help:      "Attachment uploads that failed and were skipped.",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chat",
		Name:      "active_sessions",
		Help:      "Connected websocket sessions.",
	})
)

func init() {
	prometheus.MustRegister(
		EventsPublished,
		EventsDelivered,
		EventsDropped,
		MessagesSent,
		AttachmentFailures,
		ActiveSessions,
	)
}

// Handler exposes the default registry on a fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
