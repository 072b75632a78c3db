package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	ListenAddr string              `json:"listen_addr" yaml:"listen_addr"`
	Database   DatabaseConfig      `json:"database" yaml:"database"`
	Auth       AuthConfig          `json:"auth" yaml:"auth"`
	Security   SecurityConfig      `json:"security" yaml:"security"`
	Runs       RunsConfig          `json:"runs" yaml:"runs"`
	Observer   ObservabilityConfig `json:"observability" yaml:"observability"`
	Limits     RateLimitConfig     `json:"limits" yaml:"limits"`
}

type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
}

type AuthConfig struct {
	SessionTTL string `json:"session_ttl" yaml:"session_ttl"`
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
}

type SecurityConfig struct {
	AdminAllowedDomains []string `json:"admin_allowed_domains" yaml:"admin_allowed_domains"`
	AdminToken          string   `json:"admin_token" yaml:"admin_token"`
}

// RunsConfig bounds evaluation runs launched through the API. Each run
// spawns a server subprocess, so parallelism stays low by default.
type RunsConfig struct {
	DefaultTimeoutSec int     `json:"default_timeout_sec" yaml:"default_timeout_sec"`
	MaxParallelRuns   int     `json:"max_parallel_runs" yaml:"max_parallel_runs"`
	PassThreshold     float64 `json:"pass_threshold" yaml:"pass_threshold"`
	AllowedTargetRoot string  `json:"allowed_target_root" yaml:"allowed_target_root"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

type RateLimitConfig struct {
	EvaluateRPM int `json:"evaluate_rpm" yaml:"evaluate_rpm"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrationsPath: "./migrations",
		},
		Auth: AuthConfig{
			SessionTTL: "8h",
			CookieName: "cert_session",
		},
		Runs: RunsConfig{
			DefaultTimeoutSec: 300,
			MaxParallelRuns:   2,
			PassThreshold:     60,
		},
		Observer: ObservabilityConfig{
			ServiceName: "cert-api",
			SampleRatio: 1,
		},
		Limits: RateLimitConfig{
			EvaluateRPM: 6,
		},
	}
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		var yamlErr error
		if yamlErr = yaml.Unmarshal(data, &cfg); yamlErr == nil {
			break
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New("config format not recognized (expected yaml/json)")
		}
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func normalizeConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if strings.TrimSpace(cfg.Database.MigrationsPath) == "" {
		cfg.Database.MigrationsPath = "./migrations"
	}
	if strings.TrimSpace(cfg.Auth.CookieName) == "" {
		cfg.Auth.CookieName = "cert_session"
	}
	if strings.TrimSpace(cfg.Auth.SessionTTL) == "" {
		cfg.Auth.SessionTTL = "8h"
	}
	if cfg.Runs.DefaultTimeoutSec <= 0 {
		cfg.Runs.DefaultTimeoutSec = 300
	}
	if cfg.Runs.MaxParallelRuns <= 0 {
		cfg.Runs.MaxParallelRuns = 2
	}
	if cfg.Runs.PassThreshold <= 0 || cfg.Runs.PassThreshold > 100 {
		cfg.Runs.PassThreshold = 60
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "cert-api"
	}
	if cfg.Limits.EvaluateRPM <= 0 {
		cfg.Limits.EvaluateRPM = 6
	}
}
