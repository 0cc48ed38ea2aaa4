// Package config loads and validates run configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. VENDORCRAWL_CRAWLER_CONCURRENCY.
const EnvPrefix = "VENDORCRAWL"

// Config captures every knob of a crawl run.
type Config struct {
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Render     RenderConfig     `mapstructure:"render"`
	Signatures SignaturesConfig `mapstructure:"signatures"`
	Input      InputConfig      `mapstructure:"input"`
	Output     OutputConfig     `mapstructure:"output"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
}

// CrawlerConfig governs visits, politeness and reporting.
type CrawlerConfig struct {
	Concurrency          int           `mapstructure:"concurrency"`
	UserAgent            string        `mapstructure:"user_agent"`
	RespectRobots        bool          `mapstructure:"respect_robots"`
	PolitenessDelay      time.Duration `mapstructure:"politeness_delay"`
	PolitenessJitter     time.Duration `mapstructure:"politeness_jitter"`
	BackoffBase          time.Duration `mapstructure:"backoff_base"`
	BackoffMax           time.Duration `mapstructure:"backoff_max"`
	Subpaths             []string      `mapstructure:"subpaths"`
	SkipDomains          []string      `mapstructure:"skip_domains"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	MaxEvidenceURLs      int           `mapstructure:"max_evidence_urls"`
	ServiceURLLimit      int           `mapstructure:"service_url_limit"`
	ProgressEvery        int           `mapstructure:"progress_every"`
	ProgressInterval     time.Duration `mapstructure:"progress_interval"`
	FailAlertPct         float64       `mapstructure:"fail_alert_pct"`
}

// HTTPConfig configures plain fetches and robots lookups.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRedirects  int           `mapstructure:"max_redirects"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
	RobotsTimeout time.Duration `mapstructure:"robots_timeout"`
}

// RenderConfig configures the rendering fallback.
type RenderConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Engine           string        `mapstructure:"engine"`
	Timeout          time.Duration `mapstructure:"timeout"`
	Settle           time.Duration `mapstructure:"settle"`
	MaxParallel      int           `mapstructure:"max_parallel"`
	MinContentLength int           `mapstructure:"min_content_length"`
	HostQPS          float64       `mapstructure:"host_qps"`
	HostBurst        int           `mapstructure:"host_burst"`
}

// SignaturesConfig locates the vendor rule files.
type SignaturesConfig struct {
	Dir   string   `mapstructure:"dir"`
	Files []string `mapstructure:"files"`
}

// InputConfig locates the roster.
type InputConfig struct {
	Roster string `mapstructure:"roster"`
}

// OutputConfig names the run outputs. Relative file names resolve against Dir.
type OutputConfig struct {
	Dir          string `mapstructure:"dir"`
	JSONL        string `mapstructure:"jsonl"`
	CSV          string `mapstructure:"csv"`
	DomainReport string `mapstructure:"domain_report"`
	Resume       bool   `mapstructure:"resume"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
}

// DBConfig enables the relational record mirrors.
type DBConfig struct {
	PostgresDSN  string `mapstructure:"postgres_dsn"`
	MySQLDSN     string `mapstructure:"mysql_dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// PubSubConfig enables record publication.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig selects where run outputs are copied when the run ends.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	Dir      string `mapstructure:"dir"`
	Prefix   string `mapstructure:"prefix"`
	// Endpoint points the gcs provider at an emulator.
	Endpoint string `mapstructure:"endpoint"`
}

// Archive providers.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveGCS   = "gcs"
)

// Render engines.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// New returns a Viper instance with defaults and environment binding, ready
// for flags to be bound onto it.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from an optional file plus the environment.
func Load(path string) (Config, error) {
	return LoadViper(New(), path)
}

// LoadViper reads path, if set, into v and decodes the result.
func LoadViper(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.concurrency", 20)
	v.SetDefault("crawler.user_agent", "PracticeVendorCrawler/1.0 (+https://github.com/JakeFAU/practice-vendor-crawler)")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.politeness_delay", "1s")
	v.SetDefault("crawler.politeness_jitter", "0s")
	v.SetDefault("crawler.backoff_base", "2s")
	v.SetDefault("crawler.backoff_max", "60s")
	v.SetDefault("crawler.subpaths", crawler.DefaultSubpaths)
	v.SetDefault("crawler.skip_domains", []string{
		".facebook.com", ".instagram.com", ".yelp.com", ".linkedin.com",
		".twitter.com", ".x.com", ".google.com", ".healthgrades.com",
	})
	v.SetDefault("crawler.max_consecutive_errors", 3)
	v.SetDefault("crawler.max_evidence_urls", 5)
	v.SetDefault("crawler.service_url_limit", 5)
	v.SetDefault("crawler.progress_every", 50)
	v.SetDefault("crawler.progress_interval", "30s")
	v.SetDefault("crawler.fail_alert_pct", 15)
	v.SetDefault("http.timeout", "20s")
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.max_body_bytes", 5*1024*1024)
	v.SetDefault("http.robots_timeout", "10s")
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.engine", EngineChromedp)
	v.SetDefault("render.timeout", "45s")
	v.SetDefault("render.settle", "500ms")
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.min_content_length", 512)
	v.SetDefault("render.host_qps", 0.5)
	v.SetDefault("render.host_burst", 1)
	v.SetDefault("output.dir", "data")
	v.SetDefault("output.jsonl", "detections.jsonl")
	v.SetDefault("output.csv", "detections.csv")
	v.SetDefault("output.resume", false)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("db.max_idle_conns", 2)
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.prefix", "runs")
	v.SetDefault("archive.endpoint", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Crawler.Concurrency <= 0 {
		errs = append(errs, errors.New("crawler.concurrency must be > 0"))
	}
	if c.Crawler.PolitenessDelay < 0 {
		errs = append(errs, errors.New("crawler.politeness_delay must be >= 0"))
	}
	if c.Crawler.FailAlertPct <= 0 || c.Crawler.FailAlertPct > 100 {
		errs = append(errs, errors.New("crawler.fail_alert_pct must be in (0, 100]"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	if c.Render.Enabled {
		if c.Render.Engine != EngineChromedp && c.Render.Engine != EngineRod {
			errs = append(errs, fmt.Errorf("render.engine must be %q or %q", EngineChromedp, EngineRod))
		}
		if c.Render.MaxParallel <= 0 {
			errs = append(errs, errors.New("render.max_parallel must be > 0 when rendering is enabled"))
		}
	}
	if c.Output.Dir == "" || c.Output.JSONL == "" || c.Output.CSV == "" {
		errs = append(errs, errors.New("output.dir, output.jsonl and output.csv must be set"))
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0 when the server is enabled"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id must be set when pubsub.topic_name is"))
	}
	switch c.Archive.Provider {
	case "", ArchiveNone:
	case ArchiveLocal:
		if c.Archive.Dir == "" {
			errs = append(errs, errors.New("archive.dir must be set for the local archive"))
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket must be set for the gcs archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.provider %q is not one of none, local, gcs", c.Archive.Provider))
	}
	return errors.Join(errs...)
}

// OutputPath resolves an output file name against the output directory.
func (c Config) OutputPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Output.Dir, name)
}
