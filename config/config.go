package config

import (
	"os"
	"time"

	"github.com/ipfs-force-community/metrics"
	"github.com/pelletier/go-toml"
)

const (
	// Configuration file name
	ConfigFile = "config.toml"
)

type Config struct {
	API       *APIConfig
	DApp      *DAppConfig
	Datastore *DatastoreConfig
	Approval  *ApprovalConfig
	Metrics   *metrics.MetricsConfig
	Trace     *metrics.TraceConfig
}

type APIConfig struct {
	ListenAddress string
}

type DAppConfig struct {
	// PortRangeStart/End bound the loopback port scan for the dApp
	// transport; the injected provider tries the same range.
	PortRangeStart int
	PortRangeEnd   int
}

type DatastoreConfig struct {
	Path string
}

type ApprovalConfig struct {
	MaxPendingPerSession int
	MinSubmitInterval    time.Duration
	Timeout              time.Duration
	ClearInterval        time.Duration
	SessionIdleTimeout   time.Duration
}

func DefaultConfig() *Config {
	cfg := &Config{
		API:       &APIConfig{ListenAddress: "/ip4/127.0.0.1/tcp/45132"},
		DApp:      &DAppConfig{PortRangeStart: 8766, PortRangeEnd: 8800},
		Datastore: &DatastoreConfig{Path: "vaughan.db"},
		Approval: &ApprovalConfig{
			MaxPendingPerSession: 10,
			MinSubmitInterval:    time.Second,
			Timeout:              time.Minute * 5,
			ClearInterval:        time.Second * 30,
			SessionIdleTimeout:   time.Hour * 24,
		},
		Metrics: metrics.DefaultMetricsConfig(),
		Trace:   metrics.DefaultTraceConfig(),
	}
	namespace := "vaughan"
	cfg.Metrics.Exporter.Prometheus.Namespace = namespace
	cfg.Metrics.Exporter.Graphite.Namespace = namespace
	cfg.Metrics.Exporter.Prometheus.EndPoint = "/ip4/0.0.0.0/tcp/4569"
	cfg.Metrics.Exporter.Graphite.Port = 4569
	cfg.Trace.ServerName = "vaughan-gateway"
	cfg.Trace.JaegerEndpoint = ""

	return cfg
}

func ReadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = toml.Unmarshal(data, cfg)

	return cfg, err
}

func WriteConfig(filePath string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(filePath, data, 0644)
}
