package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface is the read/write view of the configuration handed to components.
type Interface interface {
	Logger() LoggerConfig
	Ledger() LedgerConfig
	Navigation() NavigationConfig
	Oracle() OracleConfig
	Retry() RetryConfig
	Worker() WorkerConfig
	Orchestrator() OrchestratorConfig
	Device() DeviceConfig
	Automation() AutomationConfig
	Humanoid() HumanoidConfig
	Database() DatabaseConfig

	SetOrchestratorWorkers(int)
	SetLedgerPath(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	LedgerCfg       LedgerConfig       `mapstructure:"ledger" yaml:"ledger"`
	NavigationCfg   NavigationConfig   `mapstructure:"navigation" yaml:"navigation"`
	OracleCfg       OracleConfig       `mapstructure:"oracle" yaml:"oracle"`
	RetryCfg        RetryConfig        `mapstructure:"retry" yaml:"retry"`
	WorkerCfg       WorkerConfig       `mapstructure:"worker" yaml:"worker"`
	OrchestratorCfg OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	DeviceCfg       DeviceConfig       `mapstructure:"device" yaml:"device"`
	AutomationCfg   AutomationConfig   `mapstructure:"automation" yaml:"automation"`
	HumanoidCfg     HumanoidConfig     `mapstructure:"humanoid" yaml:"humanoid"`
	DatabaseCfg     DatabaseConfig     `mapstructure:"database" yaml:"database"`
}

// Getters.

func (c *Config) Logger() LoggerConfig             { return c.LoggerCfg }
func (c *Config) Ledger() LedgerConfig             { return c.LedgerCfg }
func (c *Config) Navigation() NavigationConfig     { return c.NavigationCfg }
func (c *Config) Oracle() OracleConfig             { return c.OracleCfg }
func (c *Config) Retry() RetryConfig               { return c.RetryCfg }
func (c *Config) Worker() WorkerConfig             { return c.WorkerCfg }
func (c *Config) Orchestrator() OrchestratorConfig { return c.OrchestratorCfg }
func (c *Config) Device() DeviceConfig             { return c.DeviceCfg }
func (c *Config) Automation() AutomationConfig     { return c.AutomationCfg }
func (c *Config) Humanoid() HumanoidConfig         { return c.HumanoidCfg }
func (c *Config) Database() DatabaseConfig         { return c.DatabaseCfg }

// Setters.

func (c *Config) SetOrchestratorWorkers(n int) { c.OrchestratorCfg.Workers = n }
func (c *Config) SetLedgerPath(p string)       { c.LedgerCfg.Path = p }

// LoggerConfig controls the console stream and the rotated JSON file.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names a console color (red, green, ...) per level.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// LedgerConfig locates the shared progress ledger and tunes access to it.
type LedgerConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	// LockTimeout bounds how long an operation waits for the cross-process lock.
	LockTimeout time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	DailyCap    int           `mapstructure:"daily_cap" yaml:"daily_cap"`
	// Timezone defines the calendar day the daily cap is counted in. "Local" or an IANA name.
	Timezone           string `mapstructure:"timezone" yaml:"timezone"`
	DefaultMaxAttempts int    `mapstructure:"default_max_attempts" yaml:"default_max_attempts"`
}

// Location resolves the configured time zone.
func (l LedgerConfig) Location() (*time.Location, error) {
	if l.Timezone == "" || l.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(l.Timezone)
}

// NavigationConfig bounds a single navigation session.
type NavigationConfig struct {
	MaxSteps            int           `mapstructure:"max_steps" yaml:"max_steps"`
	WallClock           time.Duration `mapstructure:"wall_clock" yaml:"wall_clock"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	HistorySize         int           `mapstructure:"history_size" yaml:"history_size"`
	OracleTimeout       time.Duration `mapstructure:"oracle_timeout" yaml:"oracle_timeout"`
	OracleRetries       int           `mapstructure:"oracle_retries" yaml:"oracle_retries"`
	SampleRetries       int           `mapstructure:"sample_retries" yaml:"sample_retries"`
	StepDelay           time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
}

// OracleConfig configures the LLM fallback consulted on low classifier confidence.
type OracleConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	APIKey            string  `mapstructure:"api_key" yaml:"-"`
	Model             string  `mapstructure:"model" yaml:"model"`
	Temperature       float32 `mapstructure:"temperature" yaml:"temperature"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	// BreakerFailures consecutive failures open the circuit for BreakerCooldown.
	BreakerFailures uint32        `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
	MaxElements     int           `mapstructure:"max_elements" yaml:"max_elements"`
}

// RetryConfig shapes the delay before a transiently failed job is retried.
type RetryConfig struct {
	BaseDelay     time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	Multiplier    float64       `mapstructure:"multiplier" yaml:"multiplier"`
	MaxDelay      time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	ShutdownDelay time.Duration `mapstructure:"shutdown_delay" yaml:"shutdown_delay"`
}

// WorkerConfig tunes a single worker process.
type WorkerConfig struct {
	IdleMin time.Duration `mapstructure:"idle_min" yaml:"idle_min"`
	IdleMax time.Duration `mapstructure:"idle_max" yaml:"idle_max"`
	// FinalizeTimeout bounds the ledger write after a job ends, including on shutdown.
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout" yaml:"finalize_timeout"`
	// DeviceNames maps an account to the device that is logged into it.
	// Accounts without an entry use a device named after the account.
	DeviceNames map[string]string `mapstructure:"device_names" yaml:"device_names"`
	PayloadRoot string            `mapstructure:"payload_root" yaml:"payload_root"`
	StopDevice  bool              `mapstructure:"stop_device" yaml:"stop_device"`
	// ReviewDir receives a device screenshot for every job that fails for an
	// account reason. Empty disables the capture.
	ReviewDir string `mapstructure:"review_dir" yaml:"review_dir"`
}

// OrchestratorConfig configures the worker pool and its supervisor.
type OrchestratorConfig struct {
	Workers            int           `mapstructure:"workers" yaml:"workers"`
	StateDir           string        `mapstructure:"state_dir" yaml:"state_dir"`
	AutomationBasePort int           `mapstructure:"automation_base_port" yaml:"automation_base_port"`
	DevicePortBase     int           `mapstructure:"device_port_base" yaml:"device_port_base"`
	DevicePortSpan     int           `mapstructure:"device_port_span" yaml:"device_port_span"`
	GracePeriod        time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	RestartLimit       int           `mapstructure:"restart_limit" yaml:"restart_limit"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	StaleClaimAfter    time.Duration `mapstructure:"stale_claim_after" yaml:"stale_claim_after"`
	MetricsAddr        string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	TeardownDevices    bool          `mapstructure:"teardown_devices" yaml:"teardown_devices"`
	SeedFile           string        `mapstructure:"seed_file" yaml:"seed_file"`
}

// DeviceConfig points at the remote device provider.
type DeviceConfig struct {
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	Token        string        `mapstructure:"token" yaml:"-"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	BootTimeout  time.Duration `mapstructure:"boot_timeout" yaml:"boot_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RemoteDir    string        `mapstructure:"remote_dir" yaml:"remote_dir"`
	MaxRetries   uint64        `mapstructure:"max_retries" yaml:"max_retries"`
}

// AutomationConfig configures the UI automation transport each worker talks to.
type AutomationConfig struct {
	Host       string        `mapstructure:"host" yaml:"host"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	AppPackage string        `mapstructure:"app_package" yaml:"app_package"`
	MaxRetries uint64        `mapstructure:"max_retries" yaml:"max_retries"`
}

// DatabaseConfig holds the database connection details. An empty URL disables the archive.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig returns the configuration with every default applied.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// defaults always decode
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers the default of every known key on v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidpilot")
	v.SetDefault("logger.log_file", "droidpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Ledger --
	v.SetDefault("ledger.path", "./state/ledger.csv")
	v.SetDefault("ledger.lock_timeout", "30s")
	v.SetDefault("ledger.daily_cap", 1)
	v.SetDefault("ledger.timezone", "Local")
	v.SetDefault("ledger.default_max_attempts", 3)

	// -- Navigation --
	v.SetDefault("navigation.max_steps", 30)
	v.SetDefault("navigation.wall_clock", "10m")
	v.SetDefault("navigation.confidence_threshold", 0.6)
	v.SetDefault("navigation.history_size", 3)
	v.SetDefault("navigation.oracle_timeout", "20s")
	v.SetDefault("navigation.oracle_retries", 2)
	v.SetDefault("navigation.sample_retries", 3)
	v.SetDefault("navigation.step_delay", "1500ms")

	// -- Oracle --
	v.SetDefault("oracle.enabled", false)
	v.SetDefault("oracle.model", "gemini-2.5-flash")
	v.SetDefault("oracle.temperature", 0.2)
	v.SetDefault("oracle.requests_per_minute", 30)
	v.SetDefault("oracle.breaker_failures", 5)
	v.SetDefault("oracle.breaker_cooldown", "1m")
	v.SetDefault("oracle.max_elements", 80)

	// -- Retry --
	v.SetDefault("retry.base_delay", "2m")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.max_delay", "1h")
	v.SetDefault("retry.shutdown_delay", "30s")

	// -- Worker --
	v.SetDefault("worker.idle_min", "5s")
	v.SetDefault("worker.idle_max", "2m")
	v.SetDefault("worker.finalize_timeout", "30s")
	v.SetDefault("worker.review_dir", "./state/review")
	v.SetDefault("worker.payload_root", ".")
	v.SetDefault("worker.stop_device", false)

	// -- Orchestrator --
	v.SetDefault("orchestrator.workers", 2)
	v.SetDefault("orchestrator.state_dir", "./state")
	v.SetDefault("orchestrator.automation_base_port", 7912)
	v.SetDefault("orchestrator.device_port_base", 20000)
	v.SetDefault("orchestrator.device_port_span", 100)
	v.SetDefault("orchestrator.grace_period", "45s")
	v.SetDefault("orchestrator.restart_limit", 3)
	v.SetDefault("orchestrator.sweep_interval", "1m")
	v.SetDefault("orchestrator.stale_claim_after", "20m")
	v.SetDefault("orchestrator.metrics_addr", "")
	v.SetDefault("orchestrator.teardown_devices", true)

	// -- Device --
	v.SetDefault("device.base_url", "http://127.0.0.1:8800/api/v1")
	v.SetDefault("device.timeout", "30s")
	v.SetDefault("device.boot_timeout", "3m")
	v.SetDefault("device.poll_interval", "5s")
	v.SetDefault("device.remote_dir", "/sdcard/DCIM/droidpilot")
	v.SetDefault("device.max_retries", 4)

	// -- Automation --
	v.SetDefault("automation.host", "127.0.0.1")
	v.SetDefault("automation.timeout", "15s")
	v.SetDefault("automation.app_package", "com.zhiliaoapp.musically")
	v.SetDefault("automation.max_retries", 3)

	setHumanoidDefaults(v)
}

// Load applies defaults to v and builds a validated configuration from it.
// Values already set in v win over the defaults.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	return NewConfigFromViper(v)
}

// NewConfigFromViper decodes and validates whatever v has loaded.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// secrets usually arrive through the environment
	_ = v.BindEnv("oracle.api_key", "DROIDPILOT_ORACLE_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("device.token", "DROIDPILOT_DEVICE_TOKEN")
	_ = v.BindEnv("database.url", "DROIDPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in every filesystem path.
func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.LedgerCfg.Path,
		&c.OrchestratorCfg.StateDir,
		&c.OrchestratorCfg.SeedFile,
		&c.LoggerCfg.LogFile,
		&c.WorkerCfg.PayloadRoot,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expanding path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.LedgerCfg.Path == "" {
		return fmt.Errorf("ledger.path is a required configuration field")
	}
	if c.LedgerCfg.LockTimeout <= 0 {
		return fmt.Errorf("ledger.lock_timeout must be a positive duration")
	}
	if c.LedgerCfg.DailyCap <= 0 {
		return fmt.Errorf("ledger.daily_cap must be a positive integer")
	}
	if c.LedgerCfg.DefaultMaxAttempts <= 0 {
		return fmt.Errorf("ledger.default_max_attempts must be a positive integer")
	}
	if _, err := c.LedgerCfg.Location(); err != nil {
		return fmt.Errorf("ledger.timezone is invalid: %w", err)
	}
	if err := c.NavigationCfg.Validate(); err != nil {
		return fmt.Errorf("navigation configuration invalid: %w", err)
	}
	if c.OracleCfg.Enabled && c.OracleCfg.APIKey == "" {
		return fmt.Errorf("oracle.api_key is required when the oracle is enabled. Ensure DROIDPILOT_ORACLE_API_KEY is set")
	}
	if c.RetryCfg.BaseDelay <= 0 || c.RetryCfg.MaxDelay < c.RetryCfg.BaseDelay {
		return fmt.Errorf("retry.base_delay must be positive and not exceed retry.max_delay")
	}
	if c.RetryCfg.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1.0")
	}
	if c.WorkerCfg.IdleMin <= 0 || c.WorkerCfg.IdleMax < c.WorkerCfg.IdleMin {
		return fmt.Errorf("worker.idle_min must be positive and not exceed worker.idle_max")
	}
	if c.OrchestratorCfg.Workers <= 0 {
		return fmt.Errorf("orchestrator.workers must be a positive integer")
	}
	if c.OrchestratorCfg.DevicePortSpan <= 0 {
		return fmt.Errorf("orchestrator.device_port_span must be a positive integer")
	}
	if held := c.ClaimBudget(); c.OrchestratorCfg.StaleClaimAfter <= held {
		return fmt.Errorf("orchestrator.stale_claim_after (%s) must exceed the longest a worker can hold a claim (%s: "+
			"device.boot_timeout + navigation.wall_clock + navigation.oracle_timeout*(oracle_retries+1) + worker.finalize_timeout)",
			c.OrchestratorCfg.StaleClaimAfter, held)
	}
	if err := c.HumanoidCfg.Validate(); err != nil {
		return err
	}
	return nil
}

// ClaimBudget is the longest a live worker can hold a claim: device boot, the
// session wall clock plus one in-flight oracle step past it, and the final
// ledger write. The sweep must not release claims younger than this.
func (c *Config) ClaimBudget() time.Duration {
	n := c.NavigationCfg
	oracleStep := n.OracleTimeout * time.Duration(max(n.OracleRetries, 0)+1)
	return c.DeviceCfg.BootTimeout + n.WallClock + oracleStep + c.WorkerCfg.FinalizeTimeout
}

// Validate checks the navigation bounds.
func (n *NavigationConfig) Validate() error {
	if n.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be greater than 0")
	}
	if n.WallClock <= 0 {
		return fmt.Errorf("wall_clock must be a positive duration")
	}
	if n.ConfidenceThreshold < 0 || n.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0.0 and 1.0")
	}
	if n.HistorySize < 2 {
		return fmt.Errorf("history_size must be at least 2")
	}
	if n.OracleTimeout <= 0 {
		return fmt.Errorf("oracle_timeout must be a positive duration")
	}
	if n.OracleRetries < 0 || n.SampleRetries < 0 {
		return fmt.Errorf("oracle_retries and sample_retries must not be negative")
	}
	return nil
}
