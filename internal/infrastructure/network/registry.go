package network

import (
	"affsync/internal/domain"
	"affsync/pkg/config"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

// NewAdapters builds one adapter per supported network in sync order.
// Adapters without credentials are still registered; they report empty
// results.
func NewAdapters(cfg *config.Config, logger *logger.Logger, metrics *metrics.Metrics) []domain.NetworkAdapter {
	timeout := cfg.Sync.RequestTimeout
	return []domain.NetworkAdapter{
		NewAwinAdapter(cfg.Awin, timeout, logger, metrics),
		NewCJAdapter(cfg.CJ, timeout, logger, metrics),
		NewRakutenAdapter(cfg.Rakuten, timeout, logger, metrics),
		NewImpactAdapter(cfg.Impact, timeout, logger, metrics),
	}
}
