package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bridgewatch/bridgewatch/internal/alert"
	"github.com/bridgewatch/bridgewatch/internal/detect"
	"github.com/bridgewatch/bridgewatch/internal/escalate"
	"github.com/bridgewatch/bridgewatch/internal/health"
	"github.com/bridgewatch/bridgewatch/internal/metrics"
	"github.com/bridgewatch/bridgewatch/internal/notify"
	"github.com/bridgewatch/bridgewatch/internal/rules"
)

// Default values for the configuration.
const (
	DefaultHTTPPort     = 8080
	DefaultEventHistory = 1000
	DefaultAuditHistory = 1000
)

// Config is the full configuration parsed from config.yaml. Missing fields
// are filled with defaults before validation.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Detector   DetectorConfig  `yaml:"detector"`
	Health     HealthConfig    `yaml:"health"`
	Evaluation EvalConfig      `yaml:"evaluation"`
	Rules      []RuleConfig    `yaml:"rules"`
	Channels   []ChannelConfig `yaml:"channels"`
	Audit      AuditConfig     `yaml:"audit"`
}

// ServerConfig holds the HTTP listener settings. The REST API, the WebSocket
// stream and the Prometheus endpoint share one port.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`

	// EventHistory is how many recent events the in-memory ring retains.
	EventHistory int `yaml:"event_history"`

	// IdleTTL is how long a user entity may go without events before its
	// per-entity counters are evicted. Default: 1h.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// DetectorConfig controls the silent-failure detector.
type DetectorConfig struct {
	// Window is how long a tracked operation may stay pending before it is
	// reported as a silent failure. Default: 60s.
	Window time.Duration `yaml:"window"`

	// SweepInterval is how often expired operations are collected. Default: 60s.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// HealthConfig controls health checking and the per-check circuit breaker.
type HealthConfig struct {
	// Interval is how often all registered checks run. Default: 30s.
	Interval time.Duration `yaml:"interval"`

	// CheckTimeout bounds a single check invocation. Default: 5s.
	CheckTimeout time.Duration `yaml:"check_timeout"`

	Breaker BreakerConfig `yaml:"breaker"`

	// Probes are collaborator /metrics endpoints scraped as health checks.
	Probes []ProbeConfig `yaml:"probes"`
}

// BreakerConfig holds circuit breaker thresholds applied to every check.
type BreakerConfig struct {
	// FailureThreshold is how many consecutive failures open the circuit.
	// Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is how long an open circuit waits before probing the
	// check again. Default: 30s.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
}

// ProbeConfig defines one Prometheus-format endpoint probed for health.
// When ErrorMetric and TotalMetric are set, the score is derived from their
// ratio; otherwise reachability alone decides.
type ProbeConfig struct {
	Component   string `yaml:"component"`
	Endpoint    string `yaml:"endpoint"`
	ErrorMetric string `yaml:"error_metric"`
	TotalMetric string `yaml:"total_metric"`
}

// EvalConfig controls the rule evaluation and escalation loops.
type EvalConfig struct {
	// RuleInterval is how often rules are evaluated. Default: 30s.
	RuleInterval time.Duration `yaml:"rule_interval"`

	// EscalationInterval is how often escalation and auto-resolution sweeps
	// run. Default: 60s.
	EscalationInterval time.Duration `yaml:"escalation_interval"`
}

// RuleConfig is the YAML shape of one alert rule. String fields are parsed
// into their typed counterparts by Rule().
type RuleConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Scope is one of: system | user.
	Scope string `yaml:"scope"`

	// Metric names the observed value, e.g. "error_rate", "silent_failures",
	// "consecutive_failures".
	Metric string `yaml:"metric"`

	// Op is one of: gt | lt | eq | gte | lte.
	Op        string  `yaml:"op"`
	Threshold float64 `yaml:"threshold"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	Window     time.Duration `yaml:"window"`
	Cooldown   time.Duration `yaml:"cooldown"`
	MaxPerHour int           `yaml:"max_per_hour"`

	// EntryTier and MaxTier are tier names:
	// operations | engineering | management | executive.
	EntryTier       string        `yaml:"entry_tier"`
	MaxTier         string        `yaml:"max_tier"`
	EscalationDelay time.Duration `yaml:"escalation_delay"`
	AutoResolve     bool          `yaml:"auto_resolve"`

	Channels []string `yaml:"channels"`

	// Disabled skips the rule without deleting it from the file.
	Disabled bool `yaml:"disabled"`
}

// Rule parses the YAML shape into an engine rule.
func (rc RuleConfig) Rule() (rules.Rule, error) {
	scope, err := rules.ParseScope(rc.Scope)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule %s: %w", rc.ID, err)
	}
	metric, err := rules.ParseMetric(rc.Metric)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule %s: %w", rc.ID, err)
	}
	op, err := rules.ParseOp(rc.Op)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule %s: %w", rc.ID, err)
	}
	cond, err := rules.NewCondition(scope, metric, op, rc.Threshold)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule %s: %w", rc.ID, err)
	}
	sev, err := alert.ParseSeverity(rc.Severity)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule %s: %w", rc.ID, err)
	}
	entry := alert.TierOperations
	if rc.EntryTier != "" {
		if entry, err = alert.ParseTier(rc.EntryTier); err != nil {
			return rules.Rule{}, fmt.Errorf("rule %s: %w", rc.ID, err)
		}
	}
	max := alert.MaxTier
	if rc.MaxTier != "" {
		if max, err = alert.ParseTier(rc.MaxTier); err != nil {
			return rules.Rule{}, fmt.Errorf("rule %s: %w", rc.ID, err)
		}
	}

	return rules.Rule{
		ID:              rc.ID,
		Name:            rc.Name,
		Description:     rc.Description,
		Condition:       cond,
		Severity:        sev,
		Window:          rc.Window,
		Cooldown:        rc.Cooldown,
		MaxPerHour:      rc.MaxPerHour,
		EntryTier:       entry,
		MaxTier:         max,
		EscalationDelay: rc.EscalationDelay,
		AutoResolve:     rc.AutoResolve,
		Channels:        rc.Channels,
		Enabled:         !rc.Disabled,
	}, nil
}

// ChannelConfig is the YAML shape of one notification channel. Secrets are
// never stored in the file; URLEnv, TokenEnv and ChatIDEnv name environment
// variables resolved at load time.
type ChannelConfig struct {
	Name string `yaml:"name"`

	// Kind is one of: log | audit | slack | teams | http | telegram.
	Kind string `yaml:"kind"`

	// MinSeverity drops notifications below this level. Default: info.
	MinSeverity string `yaml:"min_severity"`

	RateLimitPerHour int `yaml:"rate_limit_per_hour"`

	URLEnv    string `yaml:"url_env"`
	TokenEnv  string `yaml:"token_env"`
	ChatIDEnv string `yaml:"chat_id_env"`

	Disabled bool `yaml:"disabled"`
}

// Channel resolves the YAML shape, including environment secrets, into a
// dispatcher channel.
func (cc ChannelConfig) Channel() (notify.ChannelConfig, error) {
	minSev := alert.SeverityInfo
	if cc.MinSeverity != "" {
		var err error
		if minSev, err = alert.ParseSeverity(cc.MinSeverity); err != nil {
			return notify.ChannelConfig{}, fmt.Errorf("channel %s: %w", cc.Name, err)
		}
	}
	return notify.ChannelConfig{
		Name:             cc.Name,
		Kind:             cc.Kind,
		Enabled:          !cc.Disabled,
		MinSeverity:      minSev,
		RateLimitPerHour: cc.RateLimitPerHour,
		URL:              envOrEmpty(cc.URLEnv),
		Token:            envOrEmpty(cc.TokenEnv),
		ChatID:           envOrEmpty(cc.ChatIDEnv),
	}, nil
}

// AuditConfig controls durable notification audit storage.
type AuditConfig struct {
	// History is the size of the in-memory audit ring. Default: 1000.
	History int `yaml:"history"`

	// PostgresDSNEnv names the environment variable holding the Postgres DSN
	// for the durable audit sink. Empty disables the sink.
	PostgresDSNEnv string `yaml:"postgres_dsn_env"`
}

// PostgresDSN returns the audit DSN resolved from the environment.
func (a AuditConfig) PostgresDSN() string {
	return envOrEmpty(a.PostgresDSNEnv)
}

func envOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// EngineRules parses every configured rule.
func (c *Config) EngineRules() ([]rules.Rule, error) {
	out := make([]rules.Rule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		r, err := rc.Rule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// NotifyChannels resolves every configured channel.
func (c *Config) NotifyChannels() ([]notify.ChannelConfig, error) {
	out := make([]notify.ChannelConfig, 0, len(c.Channels))
	for _, cc := range c.Channels {
		ch, err := cc.Channel()
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     DefaultHTTPPort,
			EventHistory: DefaultEventHistory,
			IdleTTL:      metrics.DefaultIdleTTL,
		},
		Detector: DetectorConfig{
			Window:        detect.DefaultWindow,
			SweepInterval: detect.DefaultSweepInterval,
		},
		Health: HealthConfig{
			Interval:     30 * time.Second,
			CheckTimeout: health.DefaultCheckTimeout,
			Breaker: BreakerConfig{
				FailureThreshold: health.DefaultFailureThreshold,
				RecoveryTimeout:  health.DefaultRecoveryTimeout,
			},
		},
		Evaluation: EvalConfig{
			RuleInterval:       rules.DefaultInterval,
			EscalationInterval: escalate.DefaultInterval,
		},
		Audit: AuditConfig{
			History: DefaultAuditHistory,
		},
	}
}

// validate checks structural constraints on the parsed configuration. Rule
// conditions and channel kinds are validated by parsing them in full.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.EventHistory <= 0 {
		return fmt.Errorf("server.event_history must be positive")
	}
	if cfg.Detector.Window <= 0 {
		return fmt.Errorf("detector.window must be positive")
	}
	if cfg.Detector.SweepInterval <= 0 {
		return fmt.Errorf("detector.sweep_interval must be positive")
	}
	if cfg.Health.CheckTimeout <= 0 {
		return fmt.Errorf("health.check_timeout must be positive")
	}
	if cfg.Health.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("health.breaker.failure_threshold must be positive")
	}
	for _, p := range cfg.Health.Probes {
		if p.Component == "" || p.Endpoint == "" {
			return fmt.Errorf("health.probes entries need component and endpoint")
		}
		if (p.ErrorMetric == "") != (p.TotalMetric == "") {
			return fmt.Errorf("health.probes %s: error_metric and total_metric go together", p.Component)
		}
	}
	if _, err := cfg.EngineRules(); err != nil {
		return err
	}
	if _, err := cfg.NotifyChannels(); err != nil {
		return err
	}
	return nil
}
