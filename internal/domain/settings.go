package domain

import (
	"slices"
	"time"
)

const SettingsKey = "global"

// Settings is the singleton configuration blob shared with operator tooling
type Settings struct {
	LastFullSyncAt *time.Time           `json:"lastFullSyncAt,omitempty"`
	LastSyncAt     map[string]time.Time `json:"lastSyncAt,omitempty"`
	PausedNetworks []string             `json:"pausedNetworks,omitempty"`
}

func (s Settings) IsPaused(network Network) bool {
	return slices.Contains(s.PausedNetworks, string(network))
}
