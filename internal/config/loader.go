package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valksor/go-taskrunner/internal/arbiter"
	"github.com/valksor/go-taskrunner/internal/log"
)

// DefaultConfigFile is read when no --config flag is given and it exists
// in the working directory.
const DefaultConfigFile = "taskrunner.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TASKRUNNER_"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Load builds the configuration from defaults, the YAML file at path and
// TASKRUNNER_* environment variables, in increasing priority. An empty
// path reads DefaultConfigFile when present.
func Load(path string) (*Config, error) {
	cfg := NewDefault()

	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type envSetter func(c *Config, v string) error

// envOverrides lists the settings that can be set from the environment,
// without the prefix.
var envOverrides = map[string]envSetter{
	"API_SERVER":       func(c *Config, v string) error { c.APIServer = v; return nil },
	"SECRET":           func(c *Config, v string) error { c.Secret = v; return nil },
	"CLIENT_ID":        func(c *Config, v string) error { return setInt(&c.ClientID, v) },
	"CACHE_ROOT":       func(c *Config, v string) error { c.CacheRoot = v; return nil },
	"METRICS_ADDR":     func(c *Config, v string) error { c.MetricsAddr = v; return nil },
	"LOG_LEVEL":        func(c *Config, v string) error { c.Log.Level = v; return nil },
	"LOG_JSON":         func(c *Config, v string) error { return setBool(&c.Log.JSON, v) },
	"POLL_INTERVAL":    func(c *Config, v string) error { return setDuration(&c.Supervisor.PollInterval, v) },
	"UNIT_INTERVAL":    func(c *Config, v string) error { return setDuration(&c.Supervisor.UnitInterval, v) },
	"AGENT_TIMEOUT":    func(c *Config, v string) error { return setDuration(&c.Supervisor.AgentTimeout, v) },
	"ARBITER_LISTEN":   func(c *Config, v string) error { c.Arbiter.Listen = v; return nil },
	"ARBITER_STORE":    func(c *Config, v string) error { c.Arbiter.Store = v; return nil },
	"ARBITER_DSN":      func(c *Config, v string) error { c.Arbiter.DSN = v; return nil },
	"ARBITER_POLICY":   func(c *Config, v string) error { c.Arbiter.Policy = v; return nil },
	"ARBITER_COOLDOWN": func(c *Config, v string) error { return setDuration(&c.Arbiter.Cooldown, v) },
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for name, set := range envOverrides {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := set(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
	}
	return nil
}

func setInt(dst *int64, v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// Validate checks the settings needed to talk to the task service.
func (c *Config) Validate() error {
	var errs []error
	if c.APIServer == "" {
		errs = append(errs, errors.New("api_server is required"))
	} else if u, err := url.Parse(c.APIServer); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api_server %q is not an http(s) URL", c.APIServer))
	}
	if c.Secret == "" {
		errs = append(errs, errors.New("secret is required"))
	}
	if c.ClientID <= 0 {
		errs = append(errs, errors.New("client_id must be positive"))
	}
	if c.CacheRoot == "" {
		errs = append(errs, errors.New("cache_root is required"))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Supervisor.PollInterval <= 0 || c.Supervisor.UnitInterval <= 0 {
		errs = append(errs, errors.New("supervisor intervals must be positive"))
	}
	for _, h := range c.Hosts {
		if h.Kind != "github" && h.Kind != "gitlab" {
			errs = append(errs, fmt.Errorf("host %s: kind must be github or gitlab, got %q", h.Host, h.Kind))
		}
	}
	return joinInvalid(errs)
}

// ValidateArbiter checks the settings of the arbitration service.
func (c *Config) ValidateArbiter() error {
	var errs []error
	if c.Arbiter.Listen == "" {
		errs = append(errs, errors.New("arbiter.listen is required"))
	}
	switch c.Arbiter.Store {
	case "memory":
	case "sqlite", "redis":
		if c.Arbiter.DSN == "" {
			errs = append(errs, fmt.Errorf("arbiter.dsn is required for the %s store", c.Arbiter.Store))
		}
	default:
		errs = append(errs, fmt.Errorf("arbiter.store must be memory, sqlite or redis, got %q", c.Arbiter.Store))
	}
	if _, err := arbiter.ParsePolicy(c.Arbiter.Policy); err != nil {
		errs = append(errs, err)
	}
	if c.Arbiter.Cooldown <= 0 {
		errs = append(errs, errors.New("arbiter.cooldown must be positive"))
	}
	if len(c.Arbiter.Owners) == 0 {
		errs = append(errs, errors.New("arbiter.owners must map at least one secret"))
	}
	return joinInvalid(errs)
}

func joinInvalid(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
