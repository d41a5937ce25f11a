package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	safety, err := cfg.SafetyModules()
	require.NoError(t, err)
	assert.Equal(t, []router.Module{router.Arachnid, router.Tardigrade}, safety)

	routes, err := cfg.RouteTable()
	require.NoError(t, err)
	assert.Equal(t, []router.Module{router.Arachnid, router.AntColony}, routes.Match("order.paid"))
	assert.Equal(t, []router.Module{router.Arachnid, router.Mycelium}, routes.Match("invoice.overdue"))
	assert.Empty(t, routes.Match("invoice.paid"))
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
router:
  handler_timeout: 750ms
  max_retries: 2
scoring:
  escalation_threshold: 35
store:
  driver: redis
  redis:
    addr: redis:6379
    ttl: 24h
logging:
  format: json
routes:
  "order.paid": [swarm]
`))
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.Router.HandlerTimeout)
	assert.Equal(t, 2, cfg.Router.MaxRetries)
	assert.Equal(t, 8, cfg.Router.MaxConcurrency)
	assert.Equal(t, 35.0, cfg.Scoring.EscalationThreshold)
	assert.Equal(t, StoreRedis, cfg.Store.Driver)
	assert.Equal(t, "biocore:", cfg.Store.Redis.KeyPrefix)
	assert.Equal(t, 24*time.Hour, cfg.Store.Redis.TTL)
	assert.True(t, cfg.JSONLogs())
	assert.Equal(t, map[string][]string{"order.paid": {"swarm"}}, cfg.Routes)
}

func TestParseAcceptsJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"conflict": {"retention": 5, "safety_modules": ["tardigrade"]}}`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Conflict.Retention)
	assert.Equal(t, DefaultRoutes(), cfg.Routes)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"negative timeout", "router: {handler_timeout: -1s}"},
		{"zero retention", "conflict: {retention: 0}"},
		{"unknown safety module", "conflict: {safety_modules: [octopus]}"},
		{"threshold too high", "scoring: {escalation_threshold: 101}"},
		{"unknown store driver", "store: {driver: etcd}"},
		{"redis without addr", "store: {driver: redis, redis: {addr: ''}}"},
		{"unknown route module", "routes: {'order.#': [kraken]}"},
		{"bad log format", "logging: {format: xml}"},
		{"bad location", "scheduler: {location: Mars/Olympus}"},
		{"malformed yaml", "router: [unterminated"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)
			assert.True(t, biocore.HasCode(err, biocore.CodeInvalidConfig), "got %v", err)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biocore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dashboard: {recent_limit: 7}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Dashboard.RecentLimit)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, biocore.HasCode(err, biocore.CodeInvalidConfig))
}
