package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BearBump/parcelwatch/internal/models"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig           `yaml:"database"`
	Kafka       KafkaConfig              `yaml:"kafka"`
	Redis       RedisConfig              `yaml:"redis"`
	Browser     BrowserConfig            `yaml:"browser"`
	Carriers    map[string]CarrierConfig `yaml:"carriers"`
	Refresh     RefreshConfig            `yaml:"refresh"`
	ParcelWatch ParcelWatchConfig        `yaml:"parcelwatch"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                      string `yaml:"host"`
	Port                      int    `yaml:"port"`
	PackageRefreshedTopicName string `yaml:"package_refreshed_topic_name"`
}

// Enabled is false when no broker is configured; processes then run
// without refresh events.
func (k KafkaConfig) Enabled() bool { return k.Host != "" }

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (r RedisConfig) Enabled() bool { return r.Host != "" }

func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

type BrowserConfig struct {
	Driver    string `yaml:"driver"` // "chromedp" | "http" | "fake"
	ExecPath  string `yaml:"exec_path"`
	RemoteURL string `yaml:"remote_url"`
	PoolSize  int    `yaml:"pool_size"`
	UserAgent string `yaml:"user_agent"`
	// Headless defaults to true when unset.
	Headless *bool `yaml:"headless"`
	// FakeDelayMs slows the fake driver down, for demos.
	FakeDelayMs int `yaml:"fake_delay_ms"`
}

func (b BrowserConfig) IsHeadless() bool { return b.Headless == nil || *b.Headless }

type CarrierConfig struct {
	URLTemplate        string `yaml:"url_template"`
	RateLimitPerMinute int64  `yaml:"rate_limit_per_minute"`
}

type RefreshConfig struct {
	ScrapeTimeoutSeconds       int   `yaml:"scrape_timeout_seconds"`
	StaleAfterSeconds          int   `yaml:"stale_after_seconds"`
	StaleJitterSeconds         int   `yaml:"stale_jitter_seconds"`
	DeliveredStaleAfterSeconds int   `yaml:"delivered_stale_after_seconds"`
	ParseTargetCooldownSeconds int   `yaml:"parse_target_cooldown_seconds"`
	Backoff1Seconds            int   `yaml:"backoff_1_seconds"`
	Backoff2Seconds            int   `yaml:"backoff_2_seconds"`
	Backoff3Seconds            int   `yaml:"backoff_3_seconds"`
	Backoff4Seconds            int   `yaml:"backoff_4_seconds"`
	Concurrency                int   `yaml:"concurrency"`
	InitialWaitMs              int   `yaml:"initial_wait_ms"`
	DetailWaitMs               int   `yaml:"detail_wait_ms"`
	LockEnabled                bool  `yaml:"lock_enabled"`
	RateLimitPerMinute         int64 `yaml:"rate_limit_per_minute"`
}

type ParcelWatchConfig struct {
	HTTPAddr               string `yaml:"http_addr"`
	WorkerHTTPAddr         string `yaml:"worker_http_addr"`
	KafkaConsumerGroup     string `yaml:"kafka_consumer_group"`
	LogLevel               string `yaml:"log_level"`
	ListCacheTTLSeconds    int    `yaml:"list_cache_ttl_seconds"`
	CurrentCacheTTLSeconds int    `yaml:"current_cache_ttl_seconds"`

	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int `yaml:"worker_batch_size"`
	WorkerConcurrency         int `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int `yaml:"worker_lease_seconds"`
}

// CarrierLimits returns the per-carrier rate limit overrides keyed by carrier.
func (c *Config) CarrierLimits() map[models.Carrier]int64 {
	out := make(map[models.Carrier]int64, len(c.Carriers))
	for name, cc := range c.Carriers {
		cr := models.ParseCarrier(strings.ToUpper(name))
		if cr == models.CarrierUnknown || cc.RateLimitPerMinute <= 0 {
			continue
		}
		out[cr] = cc.RateLimitPerMinute
	}
	return out
}

// CarrierURLTemplates returns the configured status page URL overrides.
func (c *Config) CarrierURLTemplates() map[models.Carrier]string {
	out := make(map[models.Carrier]string, len(c.Carriers))
	for name, cc := range c.Carriers {
		cr := models.ParseCarrier(strings.ToUpper(name))
		if cr == models.CarrierUnknown || cc.URLTemplate == "" {
			continue
		}
		out[cr] = cc.URLTemplate
	}
	return out
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
