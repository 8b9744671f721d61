package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validYAML = `
logging:
  level: debug
  console: true
http:
  addr: "127.0.0.1:0"
storage:
  driver: sqlite
  path: ./courier.db
  busy_timeout: 2s
delivery:
  mode: queued
  sender: noreply@courier.local
smtp:
  host: relay.example.com
  port: 587
  username: courier
  password: secret
consumer:
  workers: 4
  retry_base: 250ms
maintenance:
  schedule: "@every 30s"
  retention: 12h
`

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "queued", cfg.Delivery.Mode)
	require.Equal(t, "noreply@courier.local", cfg.Delivery.Sender)
	require.Equal(t, 587, cfg.SMTP.Port)
	require.NotNil(t, cfg.Consumer)
	require.Equal(t, 4, cfg.Consumer.Workers)
	require.Same(t, cfg, m.Get())
}

func TestLoadJSON(t *testing.T) {
	m := NewManager(writeFile(t, "config.json", `{
		"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
		"http": {"addr": "127.0.0.1:0"},
		"storage": {"driver": "memory", "path": ""},
		"delivery": {"mode": "smtp", "sender": "noreply@courier.local"},
		"smtp": {"host": "relay.example.com", "port": 25}
	}`))
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "smtp", cfg.Delivery.Mode)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeFile(t, "config.yaml", validYAML+"\nnot_a_real_section:\n  x: 1\n"))
	_, err := m.Load()
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		edit func(c *Config)
	}{
		{"unknown delivery mode", func(c *Config) { c.Delivery.Mode = "pigeon" }},
		{"missing sender", func(c *Config) { c.Delivery.Sender = " " }},
		{"unknown storage driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"missing smtp host", func(c *Config) { c.SMTP.Host = "" }},
		{"bad smtp port", func(c *Config) { c.SMTP.Port = 70000 }},
		{"bad duration", func(c *Config) { c.SMTP.Timeout = "soon" }},
		{"negative duration", func(c *Config) { c.Storage.BusyTimeout = "-3s" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Delivery: DeliveryConfig{Mode: "smtp", Sender: "noreply@courier.local"},
				SMTP:     SMTPConfig{Host: "relay.example.com", Port: 25},
			}
			require.NoError(t, cfg.Validate())
			tt.edit(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", " 90s ")
	require.NoError(t, err)
	require.Equal(t, "1m30s", d.String())

	d, err = ParseDurationField("x", "")
	require.NoError(t, err)
	require.Zero(t, d)

	_, err = ParseDurationField("x", "five minutes")
	require.Error(t, err)

	d, err = ParseDurationOrDefault("x", "", 42)
	require.NoError(t, err)
	require.EqualValues(t, 42, d)
}
