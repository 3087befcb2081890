package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:             "test",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       10,
			DialTimeoutMs:  5000,
			ReadTimeoutMs:  3000,
			WriteTimeoutMs: 3000,
		},
		Ingest: IngestConfig{
			RetryBudget:       5,
			BatchSize:         500,
			ChannelBufferSize: 16,
		},
		Overlay: OverlayConfig{
			ClientDataSeparator: ",",
			NumClients:          100,
			NumDestinations:     100,
		},
		Graph: GraphConfig{
			OutputPrefix: "popmap",
		},
		Workers: WorkersConfig{
			ValleyFreeWorkers: 4,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_NoRedisAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty redis.addr")
	}
}

func TestValidate_BatchSizeZero(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for batch_size = 0")
	}
}

func TestValidate_ChannelBufferSizeZero(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.ChannelBufferSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for channel_buffer_size = 0")
	}
}

func TestValidate_RetryBudgetNegative(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.RetryBudget = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative retry_budget")
	}
}

func TestValidate_ValleyFreeWorkersZero(t *testing.T) {
	cfg := validConfig()
	cfg.Workers.ValleyFreeWorkers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for workers.valley_free_workers = 0")
	}
}

func TestValidate_NumClientsNegative(t *testing.T) {
	cfg := validConfig()
	cfg.Overlay.NumClients = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative overlay.num_clients")
	}
}

func TestValidate_ShutdownTimeoutZero(t *testing.T) {
	cfg := validConfig()
	cfg.Service.ShutdownTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for shutdown_timeout_seconds = 0")
	}
}

func TestValidate_MissingGeoIPDatabaseFile(t *testing.T) {
	cfg := validConfig()
	cfg.GeoIP.ASNDatabasePath = filepath.Join(t.TempDir(), "does-not-exist.mmdb")
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing geoip database file")
	}
}

func writeMinimalYAML(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
redis:
  addr: "localhost:6379"
ingest:
  batch_size: 250
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_EnvOverrideRedisAddr(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("POPMAPPER_REDIS__ADDR", "redis.internal:6380")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("expected addr from env, got %q", cfg.Redis.Addr)
	}
}

func TestLoad_EnvOverrideLogLevel(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("POPMAPPER_SERVICE__LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug' from env, got %q", cfg.Service.LogLevel)
	}
}

func TestLoad_EnvEmptyAddrFailsValidation(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("POPMAPPER_REDIS__ADDR", "")

	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error for empty redis.addr via env")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	p := writeMinimalYAML(t)

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers.ValleyFreeWorkers != 4 {
		t.Errorf("expected default valley_free_workers 4, got %d", cfg.Workers.ValleyFreeWorkers)
	}
	if cfg.Ingest.BatchSize != 250 {
		t.Errorf("expected yaml-provided batch_size 250, got %d", cfg.Ingest.BatchSize)
	}
}
