package network

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

func testLogger() *logger.Logger {
	log := logger.New("error")
	log.SetOutput(io.Discard)
	return log
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}
