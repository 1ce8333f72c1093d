package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the warden.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Warden   WardenConfig   `yaml:"warden"`
	Fleet    FleetConfig    `yaml:"fleet"`
	Policies PoliciesConfig `yaml:"policies"`
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP control listener and the metrics listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// WardenConfig tunes the detection and healing scheduler.
type WardenConfig struct {
	TickInterval     time.Duration `yaml:"tickInterval"`
	WarmupDelay      time.Duration `yaml:"warmupDelay"`
	WarmupSamples    int           `yaml:"warmupSamples"`
	DetectionWindow  time.Duration `yaml:"detectionWindow"`
	ThresholdStdDev  float64       `yaml:"thresholdStdDev"`
	ApprovalSeverity float64       `yaml:"approvalSeverity"`
	HealingStepDelay time.Duration `yaml:"healingStepDelay"`
	TelemetryCap     int           `yaml:"telemetryCap"`
	ActionLogMax     int           `yaml:"actionLogMax"`
	DrainTimeout     time.Duration `yaml:"drainTimeout"`
	DrainOnShutdown  bool          `yaml:"drainOnShutdown"`
}

// FleetConfig sizes the simulated fleet and its chaos schedule.
type FleetConfig struct {
	Research      int           `yaml:"research"`
	Data          int           `yaml:"data"`
	Analytics     int           `yaml:"analytics"`
	Coordinator   int           `yaml:"coordinator"`
	Seed          int64         `yaml:"seed"`
	ChaosStart    time.Duration `yaml:"chaosStart"`
	ChaosSpacing  time.Duration `yaml:"chaosSpacing"`
	ChaosInterval time.Duration `yaml:"chaosInterval"`
	ChaosChance   float64       `yaml:"chaosChance"`
}

// PoliciesConfig controls healing policy-pack loading.
type PoliciesConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend string       `yaml:"backend"` // memory | influx | remote
	Influx  InfluxConfig `yaml:"influx"`
	Remote  RemoteConfig `yaml:"remote"`
}

// InfluxConfig configures the InfluxDB time-series backend.
type InfluxConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Org     string        `yaml:"org"`
	Bucket  string        `yaml:"bucket"`
	Timeout time.Duration `yaml:"timeout"`
}

// RemoteConfig configures the remote persistence API backend.
type RemoteConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	Timeout     time.Duration `yaml:"timeout"`
	BaselineTTL time.Duration `yaml:"baselineTTL"`
	PatternsTTL time.Duration `yaml:"patternsTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed caching of remote-store reads.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	TLS          bool          `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("WARDEN_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Warden: WardenConfig{
			TickInterval:     time.Second,
			WarmupDelay:      15 * time.Second,
			WarmupSamples:    15,
			DetectionWindow:  10 * time.Second,
			ThresholdStdDev:  2.5,
			ApprovalSeverity: 7.0,
			HealingStepDelay: 1500 * time.Millisecond,
			TelemetryCap:     300,
			ActionLogMax:     80,
			DrainTimeout:     120 * time.Second,
			DrainOnShutdown:  true,
		},
		Fleet: FleetConfig{
			Research:      2,
			Data:          2,
			Analytics:     1,
			Coordinator:   1,
			Seed:          42,
			ChaosStart:    25 * time.Second,
			ChaosSpacing:  20 * time.Second,
			ChaosInterval: 30 * time.Second,
			ChaosChance:   0.25,
		},
		Policies: PoliciesConfig{Path: "configs/policies/default.yaml"},
		Store: StoreConfig{
			Backend: "memory",
			Influx: InfluxConfig{
				Bucket:  "fleet-warden",
				Timeout: 5 * time.Second,
			},
			Remote: RemoteConfig{
				Timeout:     5 * time.Second,
				BaselineTTL: 5 * time.Minute,
				PatternsTTL: 2 * time.Minute,
			},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WARDEN_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("WARDEN_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("WARDEN_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Warden.TickInterval = d
		}
	}
	if v := os.Getenv("WARDEN_WARMUP_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Warden.WarmupDelay = d
		}
	}
	if v := os.Getenv("WARDEN_WARMUP_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Warden.WarmupSamples = n
		}
	}
	if v := os.Getenv("WARDEN_DETECTION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Warden.DetectionWindow = d
		}
	}
	if v := os.Getenv("WARDEN_THRESHOLD_STDDEV"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Warden.ThresholdStdDev = f
		}
	}
	if v := os.Getenv("WARDEN_APPROVAL_SEVERITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Warden.ApprovalSeverity = f
		}
	}
	if v := os.Getenv("WARDEN_HEALING_STEP_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Warden.HealingStepDelay = d
		}
	}
	if v := os.Getenv("WARDEN_DRAIN_ON_SHUTDOWN"); v != "" {
		cfg.Warden.DrainOnShutdown = isTruthy(v)
	}
	if v := os.Getenv("WARDEN_POLICIES_PATH"); v != "" {
		cfg.Policies.Path = v
	}
	if v := os.Getenv("WARDEN_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("WARDEN_INFLUX_URL"); v != "" {
		cfg.Store.Influx.URL = v
	}
	if v := os.Getenv("WARDEN_INFLUX_TOKEN"); v != "" {
		cfg.Store.Influx.Token = v
	}
	if v := os.Getenv("WARDEN_INFLUX_ORG"); v != "" {
		cfg.Store.Influx.Org = v
	}
	if v := os.Getenv("WARDEN_INFLUX_BUCKET"); v != "" {
		cfg.Store.Influx.Bucket = v
	}
	if v := os.Getenv("WARDEN_REMOTE_BASE_URL"); v != "" {
		cfg.Store.Remote.BaseURL = v
	}
	if v := os.Getenv("WARDEN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WARDEN_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("WARDEN_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTruthy(v)
	}
	if v := os.Getenv("WARDEN_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("WARDEN_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("WARDEN_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("WARDEN_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("WARDEN_CACHE_TLS"); isTruthy(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("WARDEN_FLEET_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Fleet.Seed = seed
		}
	}
}

func isTruthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
