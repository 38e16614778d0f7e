package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentra",
		Name:      "api_requests_total",
		Help:      "API requests by method and path.",
	}, []string{"method", "path"})

	eventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sentra",
		Name:      "events_ingested_total",
		Help:      "Audit events accepted through the API.",
	})
)
