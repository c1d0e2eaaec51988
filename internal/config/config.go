// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Backend    BackendConfig    `mapstructure:"backend" yaml:"backend"`
	Loop       LoopConfig       `mapstructure:"loop" yaml:"loop"`
	Guard      GuardConfig      `mapstructure:"guard" yaml:"guard"`
	Capture    CaptureConfig    `mapstructure:"capture" yaml:"capture"`
	Executor   ExecutorConfig   `mapstructure:"executor" yaml:"executor"`
	Transcript TranscriptConfig `mapstructure:"transcript" yaml:"transcript"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BackendConfig configures the reasoning backend client. The API key is never
// read from a config file; it is bound to the ANTHROPIC_API_KEY environment
// variable at load time.
type BackendConfig struct {
	Model             string        `mapstructure:"model" yaml:"model"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryBaseInterval time.Duration `mapstructure:"retry_base_interval" yaml:"retry_base_interval"`
	RetryMultiplier   float64       `mapstructure:"retry_multiplier" yaml:"retry_multiplier"`
	SystemPrompt      string        `mapstructure:"system_prompt" yaml:"system_prompt"`
}

// LoopConfig bounds the control loop.
type LoopConfig struct {
	MaxTurns    int           `mapstructure:"max_turns" yaml:"max_turns"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// KeepTurns is how many recent turns the projection policy passes to the
	// backend in full; older turns are dropped from the projection only, the
	// stored history keeps everything.
	KeepTurns int `mapstructure:"keep_turns" yaml:"keep_turns"`
}

// GuardConfig configures the safety guard.
type GuardConfig struct {
	// ActionsPerSecond caps executed actions per rolling second. Excess
	// requests queue on the limiter rather than being dropped.
	ActionsPerSecond float64  `mapstructure:"actions_per_second" yaml:"actions_per_second"`
	DenyCommands     []string `mapstructure:"deny_commands" yaml:"deny_commands"`
	// AllowedRoot, when set, confines read-file/write-file targets to paths
	// under this directory.
	AllowedRoot string `mapstructure:"allowed_root" yaml:"allowed_root"`
}

// CaptureConfig configures perception.
type CaptureConfig struct {
	// MaxEdge caps the longest edge of a snapshot in pixels before it is
	// sent to the backend.
	MaxEdge int `mapstructure:"max_edge" yaml:"max_edge"`
	// AuditDir, when set, receives a PNG copy of every captured frame.
	AuditDir string `mapstructure:"audit_dir" yaml:"audit_dir"`
}

// ExecutorConfig configures action execution.
type ExecutorConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	TypingDelay    time.Duration `mapstructure:"typing_delay" yaml:"typing_delay"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
}

// TranscriptConfig configures the optional persisted turn log.
type TranscriptConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deskpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Backend --
	v.SetDefault("backend.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("backend.endpoint", "")
	v.SetDefault("backend.api_timeout", "60s")
	v.SetDefault("backend.max_tokens", 4096)
	v.SetDefault("backend.max_attempts", 3)
	v.SetDefault("backend.retry_base_interval", "1s")
	v.SetDefault("backend.retry_multiplier", 2.0)
	v.SetDefault("backend.system_prompt", "")

	// -- Loop --
	v.SetDefault("loop.max_turns", 50)
	v.SetDefault("loop.settle_delay", "2s")
	v.SetDefault("loop.keep_turns", 20)

	// -- Guard --
	v.SetDefault("guard.actions_per_second", 10.0)
	v.SetDefault("guard.deny_commands", []string{
		`(?i)\brm\s+(-[a-z]*\s+)*(/|~)`,
		`(?i)\bmkfs\b`,
		`(?i)\bdd\s+.*of=/dev/`,
		`(?i):\(\)\s*\{\s*:\|:&\s*\};:`,
		`(?i)\bshutdown\b|\breboot\b`,
	})
	v.SetDefault("guard.allowed_root", "")

	// -- Capture --
	v.SetDefault("capture.max_edge", 1280)
	v.SetDefault("capture.audit_dir", "")

	// -- Executor --
	v.SetDefault("executor.command_timeout", "120s")
	v.SetDefault("executor.typing_delay", "12ms")
	v.SetDefault("executor.max_output_bytes", 16000)

	// -- Transcript --
	v.SetDefault("transcript.path", "")
}

// NewConfigFromViper builds and validates a Config from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Sensitive values come from the environment only.
	v.BindEnv("backend.api_key", "ANTHROPIC_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ~ in user supplied paths.
	for _, p := range []*string{&cfg.Transcript.Path, &cfg.Capture.AuditDir, &cfg.Guard.AllowedRoot, &cfg.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, fmt.Errorf("cannot expand path %q: %w", *p, err)
		}
		*p = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Loop.MaxTurns <= 0 {
		return fmt.Errorf("loop.max_turns must be a positive integer")
	}
	if c.Loop.KeepTurns <= 0 {
		return fmt.Errorf("loop.keep_turns must be a positive integer")
	}
	if c.Guard.ActionsPerSecond <= 0 {
		return fmt.Errorf("guard.actions_per_second must be positive")
	}
	if c.Capture.MaxEdge <= 0 {
		return fmt.Errorf("capture.max_edge must be positive")
	}
	if c.Backend.MaxAttempts <= 0 {
		return fmt.Errorf("backend.max_attempts must be positive")
	}
	if c.Backend.RetryMultiplier < 1 {
		return fmt.Errorf("backend.retry_multiplier must be >= 1")
	}
	if c.Executor.MaxOutputBytes <= 0 {
		return fmt.Errorf("executor.max_output_bytes must be positive")
	}
	return nil
}
