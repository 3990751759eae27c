package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	MySQL        MySQLConfig        `yaml:"mysql"`
	Worker       WorkerConfig       `yaml:"worker"`
	Idempotency  IdempotencyConfig  `yaml:"idempotency"`
	Policy       PolicyConfig       `yaml:"policy"`
	SLO          SLOConfig          `yaml:"slo"`
	Transport    TransportConfig    `yaml:"transport"`
	Notification NotificationConfig `yaml:"notification"`
	Logger       LoggerConfig       `yaml:"logger"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

// RedisConfig Redis configuration (idempotency cache backend)
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration (audit store, optional)
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// WorkerConfig worker liveness thresholds
type WorkerConfig struct {
	HeartbeatInterval int `yaml:"heartbeat_interval_seconds"` // Expected heartbeat cadence; also the sweep interval
	HealthThreshold   int `yaml:"health_threshold_seconds"`   // Excluded from routing beyond this
	StaleThreshold    int `yaml:"stale_threshold_seconds"`    // Purged from the registry beyond this
}

// IdempotencyConfig idempotency cache configuration
type IdempotencyConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	MaxEntries int `yaml:"max_entries"`
}

// PolicyConfig policy evaluator configuration
type PolicyConfig struct {
	File                  string `yaml:"file"`                    // Policy table (identities + exceptions)
	EvalTimeoutMs         int    `yaml:"eval_timeout_ms"`         // Budget for one source consultation
	ReloadIntervalSeconds int    `yaml:"reload_interval_seconds"` // 0 disables hot reload
}

// SLOConfig SLO store configuration
type SLOConfig struct {
	Dir string `yaml:"dir"` // Directory of per-capability definition files
}

// TransportConfig worker transport configuration
type TransportConfig struct {
	InvokeTimeoutSeconds int `yaml:"invoke_timeout_seconds"`
}

// NotificationConfig alerting configuration
type NotificationConfig struct {
	FeishuWebhookURL     string `yaml:"feishu_webhook_url"`
	CheckIntervalSeconds int    `yaml:"check_interval_seconds"` // SLO violation scan cadence, 0 uses the default
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// Defaults documented in the operations guide. Invalid or missing values
// always fall back to these so a partial config file still boots.
const (
	DefaultHeartbeatInterval     = 30
	DefaultHealthThreshold       = 60
	DefaultStaleThreshold        = 120
	DefaultIdempotencyTTL        = 3600
	DefaultIdempotencyMaxEntries = 10000
	DefaultPolicyEvalTimeoutMs   = 100
	DefaultInvokeTimeoutSeconds  = 30
	DefaultAlertCheckInterval    = 60
	DefaultServerPort            = 8080
)

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	cfg, err := Parse(data)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// Parse unmarshals a config document and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	validateAndApplyDefaults(&cfg)
	return &cfg, nil
}

// validateAndApplyDefaults replaces zero or nonsensical values with defaults.
func validateAndApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Worker.HeartbeatInterval <= 0 {
		cfg.Worker.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Worker.HealthThreshold <= 0 {
		cfg.Worker.HealthThreshold = DefaultHealthThreshold
	}
	if cfg.Worker.StaleThreshold <= 0 {
		cfg.Worker.StaleThreshold = DefaultStaleThreshold
	}
	// The health window must close before the purge window, or a worker
	// could be routed to after it is already gone.
	if cfg.Worker.HealthThreshold > cfg.Worker.StaleThreshold {
		cfg.Worker.HealthThreshold = cfg.Worker.StaleThreshold
	}
	if cfg.Idempotency.TTLSeconds <= 0 {
		cfg.Idempotency.TTLSeconds = DefaultIdempotencyTTL
	}
	if cfg.Idempotency.MaxEntries <= 0 {
		cfg.Idempotency.MaxEntries = DefaultIdempotencyMaxEntries
	}
	if cfg.Policy.EvalTimeoutMs <= 0 {
		cfg.Policy.EvalTimeoutMs = DefaultPolicyEvalTimeoutMs
	}
	if cfg.Policy.ReloadIntervalSeconds < 0 {
		cfg.Policy.ReloadIntervalSeconds = 0
	}
	if cfg.Transport.InvokeTimeoutSeconds <= 0 {
		cfg.Transport.InvokeTimeoutSeconds = DefaultInvokeTimeoutSeconds
	}
	if cfg.Notification.CheckIntervalSeconds <= 0 {
		cfg.Notification.CheckIntervalSeconds = DefaultAlertCheckInterval
	}
}
