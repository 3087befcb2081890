package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Service ServiceConfig `koanf:"service"`
	Redis   RedisConfig   `koanf:"redis"`
	GeoIP   GeoIPConfig   `koanf:"geoip"`
	Peering PeeringConfig `koanf:"peering"`
	Ingest  IngestConfig  `koanf:"ingest"`
	Overlay OverlayConfig `koanf:"overlay"`
	Graph   GraphConfig   `koanf:"graph"`
	Workers WorkersConfig `koanf:"workers"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

type RedisConfig struct {
	Addr           string    `koanf:"addr"`
	Password       string    `koanf:"password"`
	DB             int       `koanf:"db"`
	PoolSize       int       `koanf:"pool_size"`
	DialTimeoutMs  int       `koanf:"dial_timeout_ms"`
	ReadTimeoutMs  int       `koanf:"read_timeout_ms"`
	WriteTimeoutMs int       `koanf:"write_timeout_ms"`
	TLS            TLSConfig `koanf:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type GeoIPConfig struct {
	ASNDatabasePath     string `koanf:"asn_database_path"`
	CountryDatabasePath string `koanf:"country_database_path"`
}

type PeeringConfig struct {
	DatabasePath string `koanf:"database_path"`
}

type IngestConfig struct {
	RetryBudget       int `koanf:"retry_budget"`
	BatchSize         int `koanf:"batch_size"`
	ChannelBufferSize int `koanf:"channel_buffer_size"`
}

type OverlayConfig struct {
	ClientDataPath      string `koanf:"client_data_path"`
	ClientDataSeparator string `koanf:"client_data_separator"`
	NumClients          int    `koanf:"num_clients"`
	RelayDataPath       string `koanf:"relay_data_path"`
	DestinationsPath    string `koanf:"destinations_path"`
	NumDestinations     int    `koanf:"num_destinations"`
}

type GraphConfig struct {
	OutputPrefix string `koanf:"output_prefix"`
	WriteDOT     bool   `koanf:"write_dot"`
}

type WorkersConfig struct {
	ValleyFreeWorkers int `koanf:"valley_free_workers"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML file first.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: POPMAPPER_REDIS__ADDR → redis.addr
	if err := k.Load(env.Provider("POPMAPPER_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "POPMAPPER_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "popmapper-1",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Redis: RedisConfig{
			Addr:           "127.0.0.1:6379",
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

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("config: ingest.batch_size must be > 0 (got %d)", c.Ingest.BatchSize)
	}
	if c.Ingest.ChannelBufferSize <= 0 {
		return fmt.Errorf("config: ingest.channel_buffer_size must be > 0 (got %d)", c.Ingest.ChannelBufferSize)
	}
	if c.Ingest.RetryBudget < 0 {
		return fmt.Errorf("config: ingest.retry_budget must be >= 0 (got %d)", c.Ingest.RetryBudget)
	}
	if c.Workers.ValleyFreeWorkers <= 0 {
		return fmt.Errorf("config: workers.valley_free_workers must be > 0 (got %d)", c.Workers.ValleyFreeWorkers)
	}
	if c.Overlay.NumClients < 0 {
		return fmt.Errorf("config: overlay.num_clients must be >= 0 (got %d)", c.Overlay.NumClients)
	}
	if c.Overlay.NumDestinations < 0 {
		return fmt.Errorf("config: overlay.num_destinations must be >= 0 (got %d)", c.Overlay.NumDestinations)
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if c.GeoIP.ASNDatabasePath != "" {
		if _, err := os.Stat(c.GeoIP.ASNDatabasePath); err != nil {
			return fmt.Errorf("config: geoip.asn_database_path: %w", err)
		}
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the Redis TLS settings. Returns
// nil if TLS is disabled.
func (r *RedisConfig) BuildTLSConfig() (*tls.Config, error) {
	if !r.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if r.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(r.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if r.TLS.CertFile != "" && r.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(r.TLS.CertFile, r.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

func (r *RedisConfig) DialTimeout() time.Duration {
	return time.Duration(r.DialTimeoutMs) * time.Millisecond
}

func (r *RedisConfig) ReadTimeout() time.Duration {
	return time.Duration(r.ReadTimeoutMs) * time.Millisecond
}

func (r *RedisConfig) WriteTimeout() time.Duration {
	return time.Duration(r.WriteTimeoutMs) * time.Millisecond
}
