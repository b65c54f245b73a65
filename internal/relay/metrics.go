package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onvifrelay",
		Name:      "requests_total",
		Help:      "Client requests by method and outcome.",
	}, []string{"method", "outcome"})

	registryDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "onvifrelay",
		Name:      "registry_devices",
		Help:      "Devices found by last successful discovery.",
	})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "onvifrelay",
		Name:      "active_sessions",
		Help:      "Open websocket sessions.",
	})
)

func observe(method string, err string) {
	outcome := "ok"
	if err != "" {
		outcome = "error"
	}
	requestsTotal.WithLabelValues(method, outcome).Inc()
}
