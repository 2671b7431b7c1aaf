// internal/config/config.go - YAML configuration for the aggregation daemon
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend types supported by the adapter factory.
const (
	TypeCheckmk      = "checkmk"
	TypeAlertmanager = "alertmanager"
)

// ConfigError marks configuration rejected at load time. Load-time rejection
// is final; nothing retries a bad config file.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Polling    PollingConfig    `yaml:"polling"`
	Logging    LoggingConfig    `yaml:"logging"`
	Backends   []BackendConfig  `yaml:"backends"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type PollingConfig struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BackendConfig describes one monitor backend. The label mapping fields are
// comma-separated priority lists evaluated first-match-wins against an
// alert's labels/annotations; they only apply to the alertmanager type.
type BackendConfig struct {
	Name     string        `yaml:"name"`
	Type     string        `yaml:"type"`
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Interval time.Duration `yaml:"interval"`

	InsecureTLS  bool `yaml:"insecure_tls"`
	ConnectByDNS bool `yaml:"connect_by_dns"`

	// Checkmk specific
	ViewHosts         string `yaml:"view_hosts"`
	ViewServices      string `yaml:"view_services"`
	ForceAuthuser     bool   `yaml:"force_authuser"`
	FilterUnreachable bool   `yaml:"filter_services_on_unreachable_hosts"`

	// Alertmanager specific
	Filter            string `yaml:"filter"`
	HostnameLabels    string `yaml:"map_to_hostname"`
	ServicenameLabels string `yaml:"map_to_servicename"`
	StatusInfoLabels  string `yaml:"map_to_status_information"`
}

func Load(filename string) (*Config, error) {
	config, err := loadConfigFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	setDefaults(config)

	if err := validate(config); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("invalid configuration: %w", err)}
	}

	return config, nil
}

func loadConfigFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

func setDefaults(config *Config) {
	if config.Server.Port == "" {
		config.Server.Port = ":8080"
	}
	if config.Server.ReadTimeout == 0 {
		config.Server.ReadTimeout = 15 * time.Second
	}
	if config.Server.WriteTimeout == 0 {
		config.Server.WriteTimeout = 15 * time.Second
	}
	if config.Database.Path == "" {
		config.Database.Path = "data/nagstamon.db"
	}
	if config.Prometheus.MetricsPath == "" {
		config.Prometheus.MetricsPath = "/metrics"
	}
	if config.Polling.DefaultInterval == 0 {
		config.Polling.DefaultInterval = 30 * time.Second
	}
	if config.Polling.RequestTimeout == 0 {
		config.Polling.RequestTimeout = 30 * time.Second
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	for i := range config.Backends {
		backend := &config.Backends[i]

		// A trailing slash would double up when request paths are appended
		backend.URL = strings.TrimRight(backend.URL, "/")

		if backend.Interval == 0 {
			backend.Interval = config.Polling.DefaultInterval
		}

		switch backend.Type {
		case TypeCheckmk:
			if backend.ViewHosts == "" {
				backend.ViewHosts = "nagstamon_hosts"
			}
			if backend.ViewServices == "" {
				backend.ViewServices = "nagstamon_svc"
			}
		case TypeAlertmanager:
			if backend.HostnameLabels == "" {
				backend.HostnameLabels = "pod_name,namespace,instance"
			}
			if backend.ServicenameLabels == "" {
				backend.ServicenameLabels = "alertname"
			}
			if backend.StatusInfoLabels == "" {
				backend.StatusInfoLabels = "message,summary,description"
			}
		}
	}
}

func validate(config *Config) error {
	if len(config.Backends) == 0 {
		return fmt.Errorf("no backends configured")
	}

	seen := make(map[string]bool)
	for i := range config.Backends {
		backend := &config.Backends[i]

		if backend.Name == "" {
			return fmt.Errorf("backend %d: name is required", i)
		}
		if seen[backend.Name] {
			return fmt.Errorf("backend %q: duplicate name", backend.Name)
		}
		seen[backend.Name] = true

		if backend.URL == "" {
			return fmt.Errorf("backend %q: url is required", backend.Name)
		}

		switch backend.Type {
		case TypeCheckmk:
		case TypeAlertmanager:
			if err := validateLabelList(backend.HostnameLabels); err != nil {
				return fmt.Errorf("backend %q: map_to_hostname: %w", backend.Name, err)
			}
			if err := validateLabelList(backend.ServicenameLabels); err != nil {
				return fmt.Errorf("backend %q: map_to_servicename: %w", backend.Name, err)
			}
			if err := validateLabelList(backend.StatusInfoLabels); err != nil {
				return fmt.Errorf("backend %q: map_to_status_information: %w", backend.Name, err)
			}
		default:
			return fmt.Errorf("backend %q: unknown type %q", backend.Name, backend.Type)
		}
	}

	return nil
}

// validateLabelList rejects broken priority lists (empty entries from stray
// commas) at load time so misconfiguration never surfaces mid-cycle.
func validateLabelList(list string) error {
	if list == "" {
		return fmt.Errorf("label priority list is empty")
	}
	for _, entry := range strings.Split(list, ",") {
		if strings.TrimSpace(entry) == "" {
			return fmt.Errorf("label priority list %q contains an empty entry", list)
		}
	}
	return nil
}
