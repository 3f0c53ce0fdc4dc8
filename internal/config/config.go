package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonny/sentinel/internal/domain/model"
)

type Config struct {
	Server         ServerConfig           `yaml:"server"`
	API            APIConfig              `yaml:"api"`
	Monitoring     MonitoringConfig       `yaml:"monitoring"`
	LLM            LLMConfig              `yaml:"llm"`
	Rollback       RollbackConfig         `yaml:"rollback"`
	Kubernetes     KubernetesConfig       `yaml:"kubernetes"`
	Slack          SlackConfig            `yaml:"slack"`
	Database       DatabaseConfig         `yaml:"database"`
	Logging        LoggingConfig          `yaml:"logging"`
	Metrics        MetricsConfig          `yaml:"metrics"`
	ApprovalPolicy []ApprovalPolicyConfig `yaml:"approvalPolicy"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	MetricsPort     int           `yaml:"metricsPort"`
}

type APIConfig struct {
	Tokens []APIToken `yaml:"tokens"`
	// IngestSecret switches activity ingestion to HMAC-signed bodies.
	IngestSecret   string          `yaml:"ingestSecret"`
	MaxBodyBytes   int64           `yaml:"maxBodyBytes"`
	RequestTimeout time.Duration   `yaml:"requestTimeout"`
	TrustProxy     bool            `yaml:"trustProxy"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
}

// APIToken is a bearer token. A named token fixes the actor for commands
// made with it.
type APIToken struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	Burst             int `yaml:"burst"`
}

type MonitoringConfig struct {
	Enabled       bool           `yaml:"enabled"`
	Interval      time.Duration  `yaml:"interval"`
	QueryLookback time.Duration  `yaml:"queryLookback"`
	Debounce      DebounceConfig `yaml:"debounce"`
	Export        ExportConfig   `yaml:"export"`
	Login         LoginConfig    `yaml:"login"`
	Baseline      BaselineConfig `yaml:"baseline"`
	Watch         WatchConfig    `yaml:"watch"`
}

// DebounceConfig holds per-rule windows. Negative disables debouncing.
type DebounceConfig struct {
	Export time.Duration `yaml:"export"`
	Login  time.Duration `yaml:"login"`
	Config time.Duration `yaml:"config"`
}

type ExportConfig struct {
	MediumMultiplier float64 `yaml:"mediumMultiplier"`
	HighMultiplier   float64 `yaml:"highMultiplier"`
	AbsoluteFloor    int64   `yaml:"absoluteFloor"`
	MinRows          int64   `yaml:"minRows"`
}

type LoginConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	FailureWindow    time.Duration `yaml:"failureWindow"`
}

type BaselineConfig struct {
	Window        time.Duration `yaml:"window"`
	Windows       int           `yaml:"windows"`
	HistoryPeriod time.Duration `yaml:"historyPeriod"`
	MinHistory    int           `yaml:"minHistory"`
}

// WatchConfig controls filesystem notifications for registered config files.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
	Refresh  time.Duration `yaml:"refresh"`
}

type LLMConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ExplainTimeout time.Duration `yaml:"explainTimeout"`
	Ollama         OllamaConfig  `yaml:"ollama"`
}

type OllamaConfig struct {
	BaseURL      string        `yaml:"baseURL"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Temperature  float64       `yaml:"temperature"`
}

type RollbackConfig struct {
	RestoreTimeout time.Duration `yaml:"restoreTimeout"`
	// PendingExpiry of zero keeps pending requests until decided.
	PendingExpiry time.Duration `yaml:"pendingExpiry"`
}

type KubernetesConfig struct {
	Enabled           bool                    `yaml:"enabled"`
	InCluster         bool                    `yaml:"inCluster"`
	Kubeconfig        string                  `yaml:"kubeconfig"`
	Targets           map[string]TargetConfig `yaml:"targets"`
	BlockedNamespaces []string                `yaml:"blockedNamespaces"`
	RolloutTimeout    time.Duration           `yaml:"rolloutTimeout"`
	PollInterval      time.Duration           `yaml:"pollInterval"`
	RestoreJobImage   string                  `yaml:"restoreJobImage"`
}

// TargetConfig names the workload restored for one environment.
type TargetConfig struct {
	Namespace  string `yaml:"namespace"`
	Deployment string `yaml:"deployment"`
	Container  string `yaml:"container"`
	Image      string `yaml:"image"`
}

type SlackConfig struct {
	Enabled        bool              `yaml:"enabled"`
	BotToken       string            `yaml:"botToken"`
	AppToken       string            `yaml:"appToken"`
	AlertChannel   string            `yaml:"alertChannel"`
	DefaultChannel string            `yaml:"defaultChannel"`
	Channels       map[string]string `yaml:"channels"`
	Command        string            `yaml:"command"`
}

type DatabaseConfig struct {
	SQLite SQLiteConfig `yaml:"sqlite"`
}

type SQLiteConfig struct {
	Path              string `yaml:"path"`
	MaxOpenConns      int    `yaml:"maxOpenConns"`
	PragmaJournalMode string `yaml:"pragmaJournalMode"`
	PragmaBusyTimeout int    `yaml:"pragmaBusyTimeout"`
}

// LoggingConfig selects the slog handler. Output is stdout, stderr or a file
// path; files rotate with the size and age limits.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ApprovalPolicyConfig struct {
	Environment       string   `yaml:"environment"`
	Approvers         []string `yaml:"approvers"`
	AllowSelfApproval bool     `yaml:"allowSelfApproval"`
}

// Load reads a YAML config file and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse overlays YAML onto the defaults after expanding ${VAR} references,
// then validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    90 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MetricsPort:     9090,
		},
		API: APIConfig{
			MaxBodyBytes:   1 << 20,
			RequestTimeout: 60 * time.Second,
			RateLimit:      RateLimitConfig{RequestsPerMinute: 120, Burst: 30},
		},
		Monitoring: MonitoringConfig{
			Enabled:       true,
			Interval:      60 * time.Second,
			QueryLookback: 5 * time.Minute,
			Debounce: DebounceConfig{
				Export: 15 * time.Minute,
				Login:  15 * time.Minute,
				Config: time.Hour,
			},
			Export: ExportConfig{
				MediumMultiplier: 1.5,
				HighMultiplier:   3.0,
				AbsoluteFloor:    100000,
			},
			Login: LoginConfig{
				FailureThreshold: 5,
				FailureWindow:    5 * time.Minute,
			},
			Baseline: BaselineConfig{
				Window:        5 * time.Minute,
				Windows:       24,
				HistoryPeriod: 30 * 24 * time.Hour,
				MinHistory:    10,
			},
			Watch: WatchConfig{
				Enabled:  true,
				Debounce: 500 * time.Millisecond,
				Refresh:  time.Minute,
			},
		},
		LLM: LLMConfig{
			Enabled:        true,
			ExplainTimeout: 20 * time.Second,
			Ollama: OllamaConfig{
				BaseURL:     "http://localhost:11434",
				Model:       "llama3:8b",
				Timeout:     60 * time.Second,
				MaxRetries:  2,
				Temperature: 0.1,
			},
		},
		Rollback: RollbackConfig{
			RestoreTimeout: 10 * time.Minute,
		},
		Kubernetes: KubernetesConfig{
			InCluster:         true,
			BlockedNamespaces: []string{"kube-system", "kube-public", "kube-node-lease"},
			RolloutTimeout:    5 * time.Minute,
			PollInterval:      2 * time.Second,
		},
		Slack: SlackConfig{
			DefaultChannel: "#security",
			Command:        "/sentinel",
		},
		Database: DatabaseConfig{
			SQLite: SQLiteConfig{
				Path:              "/data/sentinel.db",
				MaxOpenConns:      1,
				PragmaJournalMode: "wal",
				PragmaBusyTimeout: 5000,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left as written.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "${" + key + "}"
	})
}

// ApprovalPolicies converts the configured policies to domain values.
func (c *Config) ApprovalPolicies() ([]model.ApprovalPolicy, error) {
	out := make([]model.ApprovalPolicy, 0, len(c.ApprovalPolicy))
	for _, p := range c.ApprovalPolicy {
		env, err := model.ParseEnvironment(p.Environment)
		if err != nil {
			return nil, err
		}
		out = append(out, model.ApprovalPolicy{
			Environment:       env,
			Approvers:         p.Approvers,
			AllowSelfApproval: p.AllowSelfApproval,
		})
	}
	return out, nil
}

// EnvironmentChannels returns the Slack channel map keyed by canonical
// environment name.
func (c *SlackConfig) EnvironmentChannels() map[string]string {
	out := make(map[string]string, len(c.Channels))
	for name, ch := range c.Channels {
		if env, err := model.ParseEnvironment(name); err == nil {
			out[string(env)] = ch
		}
	}
	return out
}
