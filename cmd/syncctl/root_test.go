package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affsync/internal/domain"
)

func testRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	opts := &RootOptions{lookuper: envconfig.MapLookuper(map[string]string{
		"STORE_DRIVER":     "memory",
		"IMAGES_LOCAL_DIR": t.TempDir(),
		"LOG_LEVEL":        "error",
	})}
	cmd := newRootCommand(opts)

	var out, logs bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"sync", "reconcile", "history", "serve"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	_, err := testRoot(t, "history", "awin", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSyncWithoutCredentials(t *testing.T) {
	out, err := testRoot(t, "sync", "--format", "json")
	require.NoError(t, err)

	var states []domain.SyncRunState
	require.NoError(t, json.Unmarshal([]byte(out), &states))
	require.Len(t, states, len(domain.AllNetworks))
	for _, s := range states {
		assert.Equal(t, domain.SyncComplete, s.Status, s.Network)
		assert.Zero(t, s.Counters.Advertisers.Checked)
	}
}

func TestSyncUnknownNetwork(t *testing.T) {
	_, err := testRoot(t, "sync", "linkshare")
	assert.ErrorIs(t, err, domain.ErrUnknownNetwork)
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestHistoryText(t *testing.T) {
	out, err := testRoot(t, "history", "cj")
	require.NoError(t, err)
	assert.Contains(t, out, "FINISHED")
}

func TestReconcileJSON(t *testing.T) {
	out, err := testRoot(t, "reconcile", "--network", "impact", "--format", "json")
	require.NoError(t, err)

	var summary domain.ReconcileSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Zero(t, summary.Advertisers)
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, exitPartial, exitCode(&partialError{err: errors.New("awin: 401")}))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
}
