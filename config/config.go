// Package config loads process configuration from a YAML file, an
// optional .env file and the environment, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/batch"
	"github.com/hirelane/taskcore/logging"
	"github.com/hirelane/taskcore/queue"
	"github.com/hirelane/taskcore/store"
)

// Primary store drivers.
const (
	PrimaryMemory   = "memory"
	PrimaryPostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Runtime taskcore.Config `yaml:"runtime"`
	Queues  []queue.Policy  `yaml:"-"`
	Broker  Store           `yaml:"broker"`
	Primary Store           `yaml:"primary"`
	Redis   Redis           `yaml:"redis"`
	HTTP    HTTP            `yaml:"http"`
	Logging logging.Config  `yaml:"logging"`
	Mail    Mail            `yaml:"mail"`
}

// Store selects a backend.
type Store struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Redis configures the shared client used for start-rate windows and sync
// watermarks. An empty URL keeps both in process memory.
type Redis struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// HTTP configures the operator API.
type HTTP struct {
	Addr string `yaml:"addr"`
}

// Mail configures outgoing email.
type Mail struct {
	From string `yaml:"from"`
}

// file is the YAML shape. Queues are keyed by name and decoded onto the
// defaults so a file only lists the fields it changes.
type file struct {
	Config `yaml:",inline"`
	Queues map[string]yaml.Node `yaml:"queues"`
}

// Default returns the baseline configuration with every production queue.
func Default() Config {
	return Config{
		Runtime: taskcore.DefaultConfig(),
		Queues:  queue.DefaultPolicies(),
		Broker:  Store{Driver: store.DriverMemory},
		Primary: Store{Driver: PrimaryMemory},
		Redis:   Redis{Prefix: "taskcore:"},
		HTTP:    HTTP{Addr: ":8080"},
		Logging: logging.Default(),
		Mail:    Mail{From: "no-reply@hirelane.io"},
	}
}

// Load reads the YAML file at path (skipped when empty), loads envFiles
// into the environment when they exist, applies environment overrides and
// validates the result.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, err
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML onto the defaults.
func Parse(data []byte) (Config, error) {
	f := file{Config: Default()}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	cfg := f.Config
	for name, node := range f.Queues {
		i := indexOf(cfg.Queues, name)
		if i < 0 {
			cfg.Queues = append(cfg.Queues, queue.Policy{Name: name})
			i = len(cfg.Queues) - 1
		}
		if err := node.Decode(&cfg.Queues[i]); err != nil {
			return Config{}, fmt.Errorf("config: queue %s: %w", name, err)
		}
		cfg.Queues[i].Name = name
	}
	return cfg, nil
}

func indexOf(policies []queue.Policy, name string) int {
	for i, p := range policies {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Policy returns the policy of queue name.
func (c Config) Policy(name string) (queue.Policy, bool) {
	if i := indexOf(c.Queues, name); i >= 0 {
		return c.Queues[i], true
	}
	return queue.Policy{}, false
}

// ApplyEnv overrides fields from lookup. Per queue, with the name in upper
// snake case (OFFER_EMAIL for offer-email): <Q>_CONCURRENCY,
// <Q>_RATE_LIMIT_MAX, <Q>_RATE_LIMIT_WINDOW_MS, <Q>_MAX_ATTEMPTS and
// <Q>_BACKOFF_BASE_MS. Globally BATCH_SIZE, SYNC_ENABLED,
// EXTERNAL_CALL_CEILING, RECONCILE_SCHEDULE, BROKER_DRIVER, BROKER_DSN,
// PRIMARY_DRIVER, PRIMARY_DSN, REDIS_URL, HTTP_ADDR, LOG_LEVEL,
// LOG_FORMAT and MAIL_FROM.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	for i := range c.Queues {
		p := &c.Queues[i]
		prefix := queue.EnvPrefix(p.Name) + "_"
		e.int(prefix+"CONCURRENCY", &p.Concurrency)
		e.int(prefix+"RATE_LIMIT_MAX", &p.RateLimit.Max)
		e.millis(prefix+"RATE_LIMIT_WINDOW_MS", &p.RateLimit.Window)
		e.int(prefix+"MAX_ATTEMPTS", &p.MaxAttempts)
		e.millis(prefix+"BACKOFF_BASE_MS", &p.Backoff.BaseDelay)
	}

	e.int("BATCH_SIZE", &c.Runtime.BatchSize)
	e.bool("SYNC_ENABLED", &c.Runtime.SyncEnabled)
	e.int("EXTERNAL_CALL_CEILING", &c.Runtime.ExternalCallCeiling)
	e.string("RECONCILE_SCHEDULE", &c.Runtime.ReconcileSchedule)
	e.string("BROKER_DRIVER", &c.Broker.Driver)
	e.string("BROKER_DSN", &c.Broker.DSN)
	e.string("PRIMARY_DRIVER", &c.Primary.Driver)
	e.string("PRIMARY_DSN", &c.Primary.DSN)
	e.string("REDIS_URL", &c.Redis.URL)
	e.string("HTTP_ADDR", &c.HTTP.Addr)
	e.string("LOG_LEVEL", &c.Logging.Level)
	e.string("LOG_FORMAT", &c.Logging.Format)
	e.string("MAIL_FROM", &c.Mail.From)

	return errors.Join(e.errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	for _, p := range c.Queues {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if p, ok := c.Policy(queue.Analysis); ok {
		budget := batch.Budget{Concurrency: p.Concurrency, BatchSize: c.Runtime.BatchSize, Ceiling: c.Runtime.ExternalCallCeiling}
		if err := budget.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Runtime.SyncBuffer < 1 || c.Runtime.SyncWorkers < 1 {
		errs = append(errs, fmt.Errorf("config: sync buffer and workers must be >= 1"))
	}
	switch c.Broker.Driver {
	case store.DriverMemory, store.DriverPostgres, store.DriverRedis:
	default:
		errs = append(errs, fmt.Errorf("config: unknown broker driver %q", c.Broker.Driver))
	}
	switch c.Primary.Driver {
	case PrimaryMemory, PrimaryPostgres:
	default:
		errs = append(errs, fmt.Errorf("config: unknown primary driver %q", c.Primary.Driver))
	}
	if c.Broker.Driver != store.DriverMemory && c.Broker.DSN == "" {
		errs = append(errs, fmt.Errorf("config: broker %s needs a dsn", c.Broker.Driver))
	}
	if c.Primary.Driver == PrimaryPostgres && c.Primary.DSN == "" {
		errs = append(errs, fmt.Errorf("config: primary postgres needs a dsn"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	return v, ok && v != ""
}

func (e *envReader) string(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) millis(key string, dst *time.Duration) {
	var n int
	before := len(e.errs)
	e.int(key, &n)
	if _, ok := e.get(key); ok && len(e.errs) == before {
		*dst = time.Duration(n) * time.Millisecond
	}
}

func (e *envReader) bool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = b
}
