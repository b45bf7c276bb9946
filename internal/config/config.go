package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/valksor/go-taskrunner/internal/agent"
	"github.com/valksor/go-taskrunner/internal/apiserver"
	"github.com/valksor/go-taskrunner/internal/arbiter"
	"github.com/valksor/go-taskrunner/internal/supervisor"
)

// Config holds all application configuration
type Config struct {
	// APIServer is the base URL of the task service.
	APIServer string `yaml:"api_server"`
	Secret    string `yaml:"secret"`
	ClientID  int64  `yaml:"client_id"`

	// CacheRoot holds repository mirrors and working copies.
	CacheRoot   string `yaml:"cache_root"`
	MetricsAddr string `yaml:"metrics_addr"`

	Log        LogConfig              `yaml:"log"`
	Retry      RetryConfig            `yaml:"retry"`
	Supervisor SupervisorConfig       `yaml:"supervisor"`
	Agents     map[string]AgentConfig `yaml:"agents"`
	Hosts      []HostConfig           `yaml:"hosts"`
	Arbiter    ArbiterConfig          `yaml:"arbiter"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RetryConfig holds task service retry settings
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Delay      time.Duration `yaml:"delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SupervisorConfig holds worker loop intervals
type SupervisorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	UnitInterval time.Duration `yaml:"unit_interval"`
	// AgentTimeout, when set, replaces every agent's own timeout.
	AgentTimeout time.Duration `yaml:"agent_timeout"`
}

// AgentConfig holds local overrides for one agent, keyed by its registry
// name ("Claude Code", "Open Code").
type AgentConfig struct {
	Command []string          `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Timeout time.Duration     `yaml:"timeout"`
}

// HostConfig points a repository host at a non-default API endpoint and
// holds the token used for repositories bound without one.
type HostConfig struct {
	Host   string `yaml:"host"`
	Kind   string `yaml:"kind"` // github or gitlab
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"token"`
}

// ArbiterConfig holds settings of the arbitration service
type ArbiterConfig struct {
	Listen   string        `yaml:"listen"`
	Store    string        `yaml:"store"` // memory, sqlite or redis
	DSN      string        `yaml:"dsn"`   // sqlite path or redis address
	Policy   string        `yaml:"policy"`
	Cooldown time.Duration `yaml:"cooldown"`
	// Owners maps client secrets to owner ids.
	Owners map[string]int64 `yaml:"owners"`
}

// NewDefault creates a Config with default values
func NewDefault() *Config {
	home, _ := os.UserHomeDir()
	retry := apiserver.DefaultRetryConfig()
	return &Config{
		CacheRoot: filepath.Join(home, ConfigDir, "cache"),
		Log: LogConfig{
			Level: "info",
		},
		Retry: RetryConfig{
			MaxRetries: retry.MaxRetries,
			Delay:      retry.Delay,
			Timeout:    apiserver.DefaultTimeout,
		},
		Supervisor: SupervisorConfig{
			PollInterval: supervisor.DefaultPollInterval,
			UnitInterval: supervisor.DefaultUnitInterval,
		},
		Agents: make(map[string]AgentConfig),
		Arbiter: ArbiterConfig{
			Listen:   ":8080",
			Store:    "memory",
			Policy:   string(arbiter.PolicyLease),
			Cooldown: arbiter.DefaultCooldown,
			Owners:   make(map[string]int64),
		},
	}
}

// AgentOverrides converts the agents section to registry overrides.
func (c *Config) AgentOverrides() map[string]agent.Config {
	out := make(map[string]agent.Config, len(c.Agents))
	for name, a := range c.Agents {
		out[name] = agent.Config{
			Command:     a.Command,
			Args:        a.Args,
			Environment: a.Env,
			Timeout:     a.Timeout,
		}
	}
	return out
}

// APIOptions returns the task service client options for instanceToken.
func (c *Config) APIOptions(instanceToken string) apiserver.Options {
	return apiserver.Options{
		BaseURL:       c.APIServer,
		Secret:        c.Secret,
		ClientID:      c.ClientID,
		InstanceToken: instanceToken,
		Timeout:       c.Retry.Timeout,
		Retry: &apiserver.RetryConfig{
			MaxRetries: c.Retry.MaxRetries,
			Delay:      c.Retry.Delay,
		},
	}
}
