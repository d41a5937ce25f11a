package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/router"
	"github.com/goliatone/go-biocore/scoring"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration. Zero values fall back to Defaults.
type Config struct {
	Router    RouterConfig        `json:"router" yaml:"router"`
	Routes    map[string][]string `json:"routes,omitempty" yaml:"routes,omitempty"`
	Conflict  ConflictConfig      `json:"conflict" yaml:"conflict"`
	Scoring   ScoringConfig       `json:"scoring" yaml:"scoring"`
	Dashboard DashboardConfig     `json:"dashboard" yaml:"dashboard"`
	Scheduler SchedulerConfig     `json:"scheduler" yaml:"scheduler"`
	Store     StoreConfig         `json:"store" yaml:"store"`
	Logging   LoggingConfig       `json:"logging" yaml:"logging"`
}

type RouterConfig struct {
	HandlerTimeout time.Duration `json:"handler_timeout" yaml:"handler_timeout"`
	MaxConcurrency int           `json:"max_concurrency" yaml:"max_concurrency"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	RetryBackoff   time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
}

type ConflictConfig struct {
	Retention     int      `json:"retention" yaml:"retention"`
	SafetyModules []string `json:"safety_modules" yaml:"safety_modules"`
}

type ScoringConfig struct {
	EscalationThreshold float64 `json:"escalation_threshold" yaml:"escalation_threshold"`
}

type DashboardConfig struct {
	RecentLimit   int    `json:"recent_limit" yaml:"recent_limit"`
	ConflictLimit int    `json:"conflict_limit" yaml:"conflict_limit"`
	Namespace     string `json:"namespace" yaml:"namespace"`
	MetricsAddr   string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
}

type SchedulerConfig struct {
	OverdueSweep     string `json:"overdue_sweep" yaml:"overdue_sweep"`
	SnapshotInterval string `json:"snapshot_interval" yaml:"snapshot_interval"`
	Location         string `json:"location,omitempty" yaml:"location,omitempty"`
}

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type StoreConfig struct {
	Driver string      `json:"driver" yaml:"driver"`
	Redis  RedisConfig `json:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr      string        `json:"addr" yaml:"addr"`
	Password  string        `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int           `json:"db" yaml:"db"`
	KeyPrefix string        `json:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Defaults returns a configuration that runs everything in memory.
func Defaults() Config {
	return Config{
		Router: RouterConfig{
			HandlerTimeout: 2 * time.Second,
			MaxConcurrency: 8,
			RetryBackoff:   50 * time.Millisecond,
		},
		Routes: DefaultRoutes(),
		Conflict: ConflictConfig{
			Retention:     100,
			SafetyModules: []string{router.Arachnid.String(), router.Tardigrade.String()},
		},
		Scoring: ScoringConfig{EscalationThreshold: scoring.EscalationThreshold},
		Dashboard: DashboardConfig{
			RecentLimit:   50,
			ConflictLimit: 20,
			Namespace:     "biocore",
		},
		Scheduler: SchedulerConfig{
			OverdueSweep:     "@every 1h",
			SnapshotInterval: "@every 5m",
		},
		Store: StoreConfig{
			Driver: StoreMemory,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "biocore:",
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// DefaultRoutes maps transition topics to the modules that care about them.
func DefaultRoutes() map[string][]string {
	return map[string][]string{
		"order.#":         {"arachnid", "ant_colony"},
		"shipment.#":      {"cephalopod"},
		"invoice.overdue": {"mycelium", "arachnid"},
		"return.#":        {"ant_colony", "arachnid"},
		"product.#":       {"chameleon", "arachnid"},
		"user.suspended":  {"arachnid"},
		"subscription.#":  {"swarm"},
		"system.#":        {"tardigrade", "swarm"},
	}
}

// Load reads a YAML (or JSON) file over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, biocore.NewError(biocore.ErrInvalidConfig, "read config "+path, err, map[string]any{"path": path})
	}
	return Parse(data)
}

// Parse decodes YAML (or JSON) over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Defaults()
	routes := cfg.Routes
	cfg.Routes = nil
	// yaml can handle JSON too, so a single attempt is fine
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, biocore.NewError(biocore.ErrInvalidConfig, "decode config", err, nil)
	}
	if cfg.Routes == nil {
		cfg.Routes = routes
	}
	return cfg, cfg.Validate()
}

// Validate checks every section and reports the first problem.
func (c Config) Validate() error {
	if c.Router.HandlerTimeout < 0 {
		return invalid("router.handler_timeout cannot be negative")
	}
	if c.Router.MaxConcurrency < 0 {
		return invalid("router.max_concurrency cannot be negative")
	}
	if c.Router.MaxRetries < 0 {
		return invalid("router.max_retries cannot be negative")
	}
	if c.Conflict.Retention < 1 {
		return invalid("conflict.retention must be at least 1")
	}
	if _, err := c.SafetyModules(); err != nil {
		return err
	}
	if _, err := c.RouteTable(); err != nil {
		return err
	}
	if t := c.Scoring.EscalationThreshold; t < 0 || t > 100 {
		return invalid(fmt.Sprintf("scoring.escalation_threshold %v outside [0, 100]", t))
	}
	if c.Dashboard.RecentLimit < 1 || c.Dashboard.ConflictLimit < 1 {
		return invalid("dashboard limits must be at least 1")
	}
	if c.Scheduler.Location != "" {
		if _, err := time.LoadLocation(c.Scheduler.Location); err != nil {
			return biocore.NewError(biocore.ErrInvalidConfig, "scheduler.location is not a known zone", err, nil)
		}
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreRedis:
		if strings.TrimSpace(c.Store.Redis.Addr) == "" {
			return invalid("store.redis.addr is required for the redis driver")
		}
	default:
		return invalid(fmt.Sprintf("store.driver %q is not one of memory, redis", c.Store.Driver))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return invalid(fmt.Sprintf("logging.format %q is not one of console, json", c.Logging.Format))
	}
	return nil
}

// SafetyModules parses conflict.safety_modules.
func (c Config) SafetyModules() ([]router.Module, error) {
	out := make([]router.Module, 0, len(c.Conflict.SafetyModules))
	for _, name := range c.Conflict.SafetyModules {
		m, err := router.ParseModule(name)
		if err != nil {
			return nil, biocore.NewError(biocore.ErrInvalidConfig, "conflict.safety_modules: unknown module "+name, err, nil)
		}
		out = append(out, m)
	}
	return out, nil
}

// RouteTable builds the topic routes.
func (c Config) RouteTable() (*router.TopicRoutes, error) {
	routes := router.NewTopicRoutes()
	patterns := make([]string, 0, len(c.Routes))
	for p := range c.Routes {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	for _, pattern := range patterns {
		if strings.TrimSpace(pattern) == "" {
			return nil, invalid("routes: empty topic pattern")
		}
		modules := make([]router.Module, 0, len(c.Routes[pattern]))
		for _, name := range c.Routes[pattern] {
			m, err := router.ParseModule(name)
			if err != nil {
				return nil, biocore.NewError(biocore.ErrInvalidConfig, "routes."+pattern+": unknown module "+name, err, nil)
			}
			modules = append(modules, m)
		}
		routes.Add(pattern, modules...)
	}
	return routes, nil
}

// JSONLogs reports whether logs should be emitted as JSON.
func (c Config) JSONLogs() bool {
	return strings.EqualFold(c.Logging.Format, "json")
}

func invalid(msg string) error {
	return biocore.NewError(biocore.ErrInvalidConfig, msg, nil, nil)
}
