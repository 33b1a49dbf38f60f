package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{}), "")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 400, cfg.Sync.PruneBatchSize)
	assert.Equal(t, 50, cfg.Sync.LogoLookupQuota)
	assert.Equal(t, 3*time.Second, cfg.Awin.Delay)
	assert.Equal(t, 2500*time.Millisecond, cfg.CJ.Delay)
	assert.Equal(t, DefaultUserAgent, cfg.Images.UserAgent)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.GetServerAddr())
}

func TestLoadEnvironment(t *testing.T) {
	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"STORE_DRIVER":           "memory",
		"AWIN_TOKEN":             "secret",
		"RAKUTEN_DELAY":          "250ms",
		"SYNC_LOGO_LOOKUP_QUOTA": "5",
	}), "")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "secret", cfg.Awin.Token)
	assert.Equal(t, 250*time.Millisecond, cfg.Rakuten.Delay)
	assert.Equal(t, 5, cfg.Sync.LogoLookupQuota)
}

func TestLoadFileTakesPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "affsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
impact:
  delay: 2s
  account_sid: IR123
sync:
  prune_batch_size: 100
`), 0o600))

	cfg, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"IMPACT_DELAY":      "5s",
		"IMPACT_AUTH_TOKEN": "tok",
	}), path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Impact.Delay)
	assert.Equal(t, "IR123", cfg.Impact.AccountSID)
	assert.Equal(t, "tok", cfg.Impact.AuthToken)
	assert.Equal(t, 100, cfg.Sync.PruneBatchSize)
	assert.Equal(t, "https://api.impact.com", cfg.Impact.BaseURL)
}

func TestValidate(t *testing.T) {
	_, err := LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"SYNC_PRUNE_BATCH_SIZE": "500",
	}), "")
	assert.Error(t, err)

	_, err = LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"STORE_DRIVER": "mongo",
	}), "")
	assert.Error(t, err)

	_, err = LoadWith(context.Background(), envconfig.MapLookuper(map[string]string{
		"IMAGES_BACKEND": "s3",
	}), "")
	assert.Error(t, err)
}
