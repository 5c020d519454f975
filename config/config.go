package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"auction_scraper/models"
)

type Config struct {
	Database      DatabaseConfig
	Browser       BrowserConfig
	AI            AIConfig
	Sessions      SessionConfig
	Proxy         ProxyConfig
	ExpressVPN    ExpressVPNConfig
	Scheduler     SchedulerConfig
	API           APIConfig
	StaleRunAfter time.Duration
	LogPath       string
	LogLevel      string
	SitesDir      string
	Sites         map[string]*SiteConfig
}

type DatabaseConfig struct {
	Driver string // postgres | sqlite
	URL    string
	Path   string
}

type BrowserConfig struct {
	Engine   string // playwright | rod
	Bin      string
	Headless bool
}

type AIConfig struct {
	APIKey            string
	Model             string
	BaseURL           string
	RequestsPerMinute int
}

func (c AIConfig) Enabled() bool {
	return c.APIKey != ""
}

type SessionConfig struct {
	Dir string
	S3  S3Config
}

type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type ProxyConfig struct {
	URL string
}

type ExpressVPNConfig struct {
	ActivationCode string
	AutoConnect    bool
	Region         string
}

type SchedulerConfig struct {
	Cron           string
	Interval       time.Duration
	DetailInterval time.Duration
	DetailBatch    int
}

type APIConfig struct {
	Addr string
	Mode string
}

// SiteConfig is the per-site bag loaded from config/sites/<id>.yaml. The core
// reads URLs, Timeouts and RateLimit; Selectors belong to the adapter.
type SiteConfig struct {
	ID        string                       `yaml:"id"`
	Name      string                       `yaml:"name"`
	Adapter   string                       `yaml:"adapter"`
	URLs      map[string]string            `yaml:"urls"`
	Selectors map[string]map[string]string `yaml:"selectors"`
	Timeouts  map[string]int               `yaml:"timeouts"`
	RateLimit RateLimit                    `yaml:"rate_limit"`
	Schedule  *SiteSchedule                `yaml:"schedule"`
}

type RateLimit struct {
	MinDelayMS int `yaml:"min_delay_ms"`
	MaxDelayMS int `yaml:"max_delay_ms"`
}

type SiteSchedule struct {
	Cron     string                  `yaml:"cron"`
	MaxPages int                     `yaml:"max_pages"`
	Searches []models.SearchCriteria `yaml:"searches"`
}

const (
	DefaultMinDelayMS        = 2000
	DefaultMaxDelayMS        = 5000
	DefaultNavigationTimeout = 30000
	DefaultElementTimeout    = 10000
	DefaultPageLoadTimeout   = 60000
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			Driver: getEnv("DATABASE_DRIVER", "postgres"),
			URL:    os.Getenv("DATABASE_URL"),
			Path:   getEnv("DB_PATH", "scraper.db"),
		},
		Browser: BrowserConfig{
			Engine:   getEnv("BROWSER_ENGINE", "playwright"),
			Bin:      os.Getenv("BROWSER_BIN"),
			Headless: getEnvBool("HEADLESS", true),
		},
		AI: AIConfig{
			APIKey:            os.Getenv("ANTHROPIC_API_KEY"),
			Model:             getEnv("AI_MODEL", "claude-sonnet-4-5"),
			BaseURL:           getEnv("AI_BASE_URL", "https://api.anthropic.com"),
			RequestsPerMinute: getEnvInt("AI_REQUESTS_PER_MINUTE", 30),
		},
		Sessions: SessionConfig{
			Dir: getEnv("SESSION_DIR", "sessions"),
			S3: S3Config{
				Bucket:          os.Getenv("SESSION_S3_BUCKET"),
				Prefix:          getEnv("SESSION_S3_PREFIX", "sessions/"),
				Region:          getEnv("S3_REGION", "us-east-1"),
				Endpoint:        os.Getenv("S3_ENDPOINT"),
				AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			},
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		ExpressVPN: ExpressVPNConfig{
			ActivationCode: os.Getenv("EXPRESSVPN_ACTIVATION_CODE"),
			AutoConnect:    os.Getenv("EXPRESSVPN_AUTOCONNECT") == "true",
			Region:         getEnv("EXPRESSVPN_REGION", "smart"),
		},
		Scheduler: SchedulerConfig{
			Cron:           os.Getenv("SCRAPE_CRON"),
			Interval:       getEnvDuration("SCRAPE_INTERVAL", 0),
			DetailInterval: getEnvDuration("DETAIL_INTERVAL", 30*time.Minute),
			DetailBatch:    getEnvInt("DETAIL_BATCH", 50),
		},
		API: APIConfig{
			Addr: os.Getenv("API_ADDR"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		StaleRunAfter: getEnvDuration("STALE_RUN_AFTER", 6*time.Hour),
		LogPath:       getEnv("LOG_PATH", "scraper.log"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		SitesDir:      getEnv("SITES_DIR", "config/sites"),
		Sites:         make(map[string]*SiteConfig),
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSiteConfigs() error {
	entries, err := os.ReadDir(c.SitesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		site, err := LoadSiteConfig(filepath.Join(c.SitesDir, entry.Name()))
		if err != nil {
			return err
		}
		c.Sites[site.ID] = site
	}

	return nil
}

// LoadSiteConfig reads one site file and fills defaults.
func LoadSiteConfig(path string) (*SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var site SiteConfig
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if site.ID == "" {
		site.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if site.Adapter == "" {
		site.Adapter = site.ID
	}
	if site.Name == "" {
		site.Name = site.ID
	}
	site.applyDefaults()
	return &site, nil
}

func (s *SiteConfig) applyDefaults() {
	if s.RateLimit.MinDelayMS <= 0 {
		s.RateLimit.MinDelayMS = DefaultMinDelayMS
	}
	if s.RateLimit.MaxDelayMS < s.RateLimit.MinDelayMS {
		s.RateLimit.MaxDelayMS = max(DefaultMaxDelayMS, s.RateLimit.MinDelayMS)
	}
	if s.Timeouts == nil {
		s.Timeouts = make(map[string]int)
	}
	for key, def := range map[string]int{
		"navigation": DefaultNavigationTimeout,
		"element":    DefaultElementTimeout,
		"page_load":  DefaultPageLoadTimeout,
	} {
		if s.Timeouts[key] <= 0 {
			s.Timeouts[key] = def
		}
	}
	if s.URLs == nil {
		s.URLs = make(map[string]string)
	}
	if s.Selectors == nil {
		s.Selectors = make(map[string]map[string]string)
	}
}

func (s *SiteConfig) Timeout(name string) time.Duration {
	return time.Duration(s.Timeouts[name]) * time.Millisecond
}

func (s *SiteConfig) URL(name string) string {
	return s.URLs[name]
}

// Selector returns selectors[group][name], or "".
func (s *SiteConfig) Selector(group, name string) string {
	return s.Selectors[group][name]
}

// Credentials reads <ID>_USERNAME and <ID>_PASSWORD.
func (s *SiteConfig) Credentials() models.Credentials {
	prefix := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(s.ID))
	return models.Credentials{
		Username: os.Getenv(prefix + "_USERNAME"),
		Password: os.Getenv(prefix + "_PASSWORD"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
