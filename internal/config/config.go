package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the diagnosis service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Calendar CalendarConfig `yaml:"calendar"`
	Tuning   TuningConfig   `yaml:"tuning"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	StageTimeout    time.Duration `yaml:"stageTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// StorageConfig locates the SQLite database holding fact tables and sessions.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CalendarConfig locates the festival reference calendar.
type CalendarConfig struct {
	Path string `yaml:"path"`
}

// TuningConfig exposes the hand-tuned detection thresholds and confidence
// bars. Threshold values are percent deltas; bars are confidence scores in
// [0,1]. Defaults match the values the product shipped with.
type TuningConfig struct {
	RevenueWoWThreshold     float64 `yaml:"revenueWowThreshold"`
	RevenueWoWCritical      float64 `yaml:"revenueWowCritical"`
	RevenueDoDThreshold     float64 `yaml:"revenueDodThreshold"`
	RevenueDoDHigh          float64 `yaml:"revenueDodHigh"`
	SKURevenueDropThreshold float64 `yaml:"skuRevenueDropThreshold"`
	SKURevenueDropCritical  float64 `yaml:"skuRevenueDropCritical"`
	ConversionDropThreshold float64 `yaml:"conversionDropThreshold"`
	ConversionDropCritical  float64 `yaml:"conversionDropCritical"`
	ConfirmBar              float64 `yaml:"confirmBar"`
	ConfirmBarLight         float64 `yaml:"confirmBarLight"`
	InconclusiveBar         float64 `yaml:"inconclusiveBar"`
	RankInclusionConfidence float64 `yaml:"rankInclusionConfidence"`
	TopSKULimit             int     `yaml:"topSkuLimit"`
	StockoutDemandLimit     int     `yaml:"stockoutDemandLimit"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DIAGNOSE_CONFIG")
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
			StageTimeout:    2 * time.Minute,
			AllowedOrigins:  []string{"*"},
		},
		Storage:  StorageConfig{Path: "diagnose.db"},
		Logging:  LoggingConfig{Level: "info", JSON: false},
		Calendar: CalendarConfig{Path: "configs/festivals.yaml"},
		Tuning: TuningConfig{
			RevenueWoWThreshold:     -15,
			RevenueWoWCritical:      -25,
			RevenueDoDThreshold:     -10,
			RevenueDoDHigh:          -20,
			SKURevenueDropThreshold: -25,
			SKURevenueDropCritical:  -50,
			ConversionDropThreshold: -15,
			ConversionDropCritical:  -30,
			ConfirmBar:              0.5,
			ConfirmBarLight:         0.4,
			InconclusiveBar:         0.2,
			RankInclusionConfidence: 0.3,
			TopSKULimit:             20,
			StockoutDemandLimit:     50,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DIAGNOSE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("DIAGNOSE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("DIAGNOSE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("DIAGNOSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DIAGNOSE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("DIAGNOSE_CALENDAR_PATH"); v != "" {
		cfg.Calendar.Path = v
	}
	if v := os.Getenv("DIAGNOSE_STAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.StageTimeout = d
		}
	}
	if v := os.Getenv("DIAGNOSE_ALLOWED_ORIGINS"); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		cfg.Server.AllowedOrigins = origins
	}
}
