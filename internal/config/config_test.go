package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
postgres:
  host: db
  database: campaigns
scylla:
  hosts: [scylla]
  keyspace: campaign_engine
kafka:
  brokers: [kafka:9092]
redis:
  address: redis:6379
call_bridge:
  provider_name: mock
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 5, cfg.Engine.BatchSize)
	assert.Equal(t, 10, cfg.Engine.LowWaterMark)
	assert.Equal(t, 2*time.Second, cfg.Engine.DispatchDelay)
	assert.True(t, cfg.Engine.RequireTrunk)
	assert.Equal(t, 10*time.Second, cfg.CallBridge.RequestTimeout)
	assert.Equal(t, "campaign.call-events", cfg.Kafka.EventTopic)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("OUTBOUND_ENGINE_BATCH_SIZE", "12")
	t.Setenv("OUTBOUND_ENGINE_REQUIRE_TRUNK", "false")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Engine.BatchSize)
	assert.False(t, cfg.Engine.RequireTrunk)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"success rate above one": minimalYAML + "  request_timeout: 5s\n  mock_success_rate: 2\n",
		"zero batch":             minimalYAML + "engine:\n  batch_size: 0\n",
		"missing postgres":       "scylla:\n  hosts: [s]\n  keyspace: k\nkafka:\n  brokers: [k]\nredis:\n  address: r\ncall_bridge:\n  provider_name: mock\n",
		"livekit no secret":      "postgres:\n  host: db\n  database: c\nscylla:\n  hosts: [s]\n  keyspace: k\nkafka:\n  brokers: [k]\nredis:\n  address: r\ncall_bridge:\n  provider_name: livekit\n  url: wss://lk\n  api_key: key\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestSampleConfigKeepsFailingCampaignsRunning(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Scheduler.ErrorThreshold)
	assert.Greater(t, cfg.Scheduler.LockTTL, cfg.Scheduler.TickInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
