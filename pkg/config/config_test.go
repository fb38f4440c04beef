package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
service_name = "order"
currencies = ["ngn", "usd", "eur"]

[database]
driver = "postgres"
dsn = "host=localhost user=order dbname=order"

[ledger]
target = "wallet:50051"

[rates]
target = "rate:50051"

[settlement]
max_attempts = 3
call_timeout = "2s"
service_token = "reconciler-token"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("default http port = %d", cfg.HTTP.Port)
	}
	if cfg.Settlement.CallTimeout != 2*time.Second {
		t.Errorf("call timeout = %v", cfg.Settlement.CallTimeout)
	}
	if cfg.Settlement.ReconcileInterval != 30*time.Second {
		t.Errorf("reconcile interval = %v", cfg.Settlement.ReconcileInterval)
	}
	if cfg.Settlement.SettleTimeout != 20*time.Second {
		t.Errorf("settle timeout = %v", cfg.Settlement.SettleTimeout)
	}
	if got := cfg.Currencies; len(got) != 3 || got[0] != "NGN" || got[2] != "EUR" {
		t.Errorf("currencies not normalised: %v", got)
	}
	if cfg.Notification.Topic != "notification.worker" {
		t.Errorf("topic = %q", cfg.Notification.Topic)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("APP_LEDGER_TARGET", "ledger.internal:9000")
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ledger.Target != "ledger.internal:9000" {
		t.Errorf("ledger target = %q", cfg.Ledger.Target)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			ServiceName: "order",
			HTTP:        HTTPConfig{Port: 8080},
			Database:    DatabaseConfig{Driver: "mysql", DSN: "dsn"},
			Ledger:      RPCClientConfig{Target: "l"},
			Rates:       RPCClientConfig{Target: "r"},
			Settlement:  SettlementConfig{MaxAttempts: 1, ServiceToken: "svc", ReconcileGrace: time.Minute},
			Currencies:  []string{"NGN", "USD"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing service", func(c *Config) { c.ServiceName = "" }},
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
		{"missing ledger", func(c *Config) { c.Ledger.Target = "" }},
		{"missing rates", func(c *Config) { c.Rates.Target = "" }},
		{"zero attempts", func(c *Config) { c.Settlement.MaxAttempts = 0 }},
		{"one currency", func(c *Config) { c.Currencies = []string{"USD"} }},
		{"missing service token", func(c *Config) { c.Settlement.ServiceToken = "" }},
		{"settle outlasts write timeout", func(c *Config) { c.HTTP.WriteTimeout = 10 }},
		{"settle outlasts reconcile grace", func(c *Config) { c.Settlement.ReconcileGrace = 15 * time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	ok := base()
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if ok.Environment != "dev" {
		t.Errorf("environment default = %q", ok.Environment)
	}
	if ok.Settlement.SettleTimeout != 20*time.Second {
		t.Errorf("settle timeout default = %v", ok.Settlement.SettleTimeout)
	}
}
