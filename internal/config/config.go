package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Engine     EngineConfig     `mapstructure:"engine"`
	CallBridge CallBridgeConfig `mapstructure:"call_bridge"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database" validate:"required"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts" validate:"required,min=1"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace" validate:"required"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers" validate:"required,min=1"`
	ClientID        string        `mapstructure:"client_id"`
	EventTopic      string        `mapstructure:"event_topic" validate:"required"`
	EventPartitions int           `mapstructure:"event_partitions"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address" validate:"required"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceVersion  string        `mapstructure:"service_version"`
	SampleRatio     float64       `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Port is used by processes without an HTTP API (engine, status worker).
	Port int `mapstructure:"port"`
}

type SchedulerConfig struct {
	TickInterval   time.Duration `mapstructure:"tick_interval" validate:"gt=0"`
	FetchLimit     int           `mapstructure:"fetch_limit"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	LockKeyPrefix  string        `mapstructure:"lock_key_prefix"`
	ErrorThreshold int           `mapstructure:"error_threshold" validate:"gte=0"`
}

// EngineConfig tunes the replenish and dispatch pipeline.
type EngineConfig struct {
	BatchSize     int           `mapstructure:"batch_size" validate:"min=1"`
	LowWaterMark  int           `mapstructure:"low_water_mark" validate:"gte=0"`
	DispatchDelay time.Duration `mapstructure:"dispatch_delay" validate:"gte=0"`
	RequireTrunk  bool          `mapstructure:"require_trunk"`
}

type CallBridgeConfig struct {
	ProviderName   string        `mapstructure:"provider_name" validate:"oneof=livekit mock"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	AgentName      string        `mapstructure:"agent_name"`
	// MockSuccessRate only applies to the mock provider.
	MockSuccessRate float64 `mapstructure:"mock_success_rate" validate:"gte=0,lte=1"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("OUTBOUND")
	v.SetEnvKeyReplacer(NewEnvReplacer())
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints declared in struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	if cfg.CallBridge.ProviderName == "livekit" && (cfg.CallBridge.URL == "" || cfg.CallBridge.APIKey == "" || cfg.CallBridge.APISecret == "") {
		return fmt.Errorf("config: call_bridge url, api_key and api_secret are required for livekit")
	}
	return nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "campaign-engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", 8080)
	v.SetDefault("kafka.event_topic", "campaign.call-events")
	v.SetDefault("kafka.event_partitions", 12)
	v.SetDefault("kafka.consumer_group_id", "campaign-engine")
	v.SetDefault("scheduler.tick_interval", 30*time.Second)
	v.SetDefault("scheduler.fetch_limit", 200)
	v.SetDefault("scheduler.lock_ttl", 5*time.Minute)
	v.SetDefault("scheduler.error_threshold", 0)
	v.SetDefault("scheduler.lock_key_prefix", "outbound:engine:")
	v.SetDefault("engine.batch_size", 5)
	v.SetDefault("engine.low_water_mark", 10)
	v.SetDefault("engine.dispatch_delay", 2*time.Second)
	v.SetDefault("engine.require_trunk", true)
	v.SetDefault("call_bridge.provider_name", "livekit")
	v.SetDefault("call_bridge.request_timeout", 10*time.Second)
	v.SetDefault("call_bridge.agent_name", "ai")
	v.SetDefault("call_bridge.mock_success_rate", 0.8)
}
