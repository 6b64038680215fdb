package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	LogLevel     string             `mapstructure:"log_level"`
	TenantID     string             `mapstructure:"tenant_id"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Mirror       MirrorConfig       `mapstructure:"mirror"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Categories   []CategoryConfig   `mapstructure:"categories"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

type EngineConfig struct {
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchWindow    time.Duration `mapstructure:"batch_window"`
	CooldownWindow time.Duration `mapstructure:"cooldown_window"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	CachePrefix  string        `mapstructure:"cache_prefix"`
	AlertChannel string        `mapstructure:"alert_channel"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	TopicPrefix    string   `mapstructure:"topic_prefix"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
	FailThreshold  int      `mapstructure:"fail_threshold"`
}

type MirrorConfig struct {
	Path        string        `mapstructure:"path"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

type ConnectivityConfig struct {
	ProbeAddr     string        `mapstructure:"probe_addr"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type AlertConfig struct {
	Audible bool `mapstructure:"audible"`
	Visual  bool `mapstructure:"visual"`
}

type CategoryConfig struct {
	Name        string      `mapstructure:"name"`
	Priority    string      `mapstructure:"priority"`
	Operations  []string    `mapstructure:"operations"`
	Invalidates []string    `mapstructure:"invalidates"`
	Alert       AlertConfig `mapstructure:"alert"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (LIVESYNC_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (LIVESYNC_*)
	v.SetEnvPrefix("LIVESYNC")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
