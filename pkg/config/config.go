package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the optional YAML file decoded before the environment
const ConfigFileEnv = "AFFSYNC_CONFIG_FILE"

// DefaultUserAgent is sent when fetching images; some origins reject
// non-browser clients
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Application settings
type Config struct {
	Server  ServerConfig  `env:",prefix=SERVER_" yaml:"server"`
	Logging LoggingConfig `env:",prefix=LOG_" yaml:"logging"`
	Store   StoreConfig   `env:",prefix=STORE_" yaml:"store"`
	Sync    SyncConfig    `env:",prefix=SYNC_" yaml:"sync"`
	Images  ImagesConfig  `env:",prefix=IMAGES_" yaml:"images"`
	Brand   BrandConfig   `env:",prefix=BRAND_" yaml:"brand"`
	Awin    AwinConfig    `env:",prefix=AWIN_" yaml:"awin"`
	CJ      CJConfig      `env:",prefix=CJ_" yaml:"cj"`
	Rakuten RakutenConfig `env:",prefix=RAKUTEN_" yaml:"rakuten"`
	Impact  ImpactConfig  `env:",prefix=IMPACT_" yaml:"impact"`
}

// Server settings
type ServerConfig struct {
	Host           string        `env:"HOST,default=0.0.0.0" yaml:"host"`
	Port           string        `env:"PORT,default=8080" yaml:"port"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT,default=30s" yaml:"read_timeout"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT,default=30s" yaml:"write_timeout"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT,default=30s" yaml:"request_timeout"`
}

// Logging settings
type LoggingConfig struct {
	Level string `env:"LEVEL,default=info" yaml:"level"`
}

type StoreConfig struct {
	// postgres, sqlite or memory
	Driver   string `env:"DRIVER,default=sqlite" yaml:"driver"`
	DSN      string `env:"DSN,default=affsync.db" yaml:"dsn"`
	MaxConns int    `env:"MAX_CONNS,default=10" yaml:"max_conns"`
	MinConns int    `env:"MIN_CONNS,default=2" yaml:"min_conns"`
}

type SyncConfig struct {
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT,default=60s" yaml:"request_timeout"`
	PruneBatchSize     int           `env:"PRUNE_BATCH_SIZE,default=400" yaml:"prune_batch_size"`
	ReconcileChunkSize int           `env:"RECONCILE_CHUNK_SIZE,default=10" yaml:"reconcile_chunk_size"`
	LogoLookupQuota    int           `env:"LOGO_LOOKUP_QUOTA,default=50" yaml:"logo_lookup_quota"`
	CacheProductImages bool          `env:"CACHE_PRODUCT_IMAGES,default=false" yaml:"cache_product_images"`
	HistoryLimit       int           `env:"HISTORY_LIMIT,default=20" yaml:"history_limit"`
}

type ImagesConfig struct {
	// s3 or local
	Backend        string        `env:"BACKEND,default=local" yaml:"backend"`
	Endpoint       string        `env:"ENDPOINT" yaml:"endpoint"`
	Region         string        `env:"REGION" yaml:"region"`
	Bucket         string        `env:"BUCKET" yaml:"bucket"`
	AccessKey      string        `env:"ACCESS_KEY" yaml:"access_key"`
	SecretKey      string        `env:"SECRET_KEY" yaml:"secret_key"`
	UseSSL         bool          `env:"USE_SSL,default=true" yaml:"use_ssl"`
	PublicBaseURL  string        `env:"PUBLIC_BASE_URL" yaml:"public_base_url"`
	LocalDir       string        `env:"LOCAL_DIR,default=uploads" yaml:"local_dir"`
	LocalURLPrefix string        `env:"LOCAL_URL_PREFIX,default=/uploads" yaml:"local_url_prefix"`
	MaxDimension   int           `env:"MAX_DIMENSION,default=800" yaml:"max_dimension"`
	JPEGQuality    int           `env:"JPEG_QUALITY,default=85" yaml:"jpeg_quality"`
	FetchTimeout   time.Duration `env:"FETCH_TIMEOUT,default=15s" yaml:"fetch_timeout"`
	UserAgent      string        `env:"USER_AGENT" yaml:"user_agent"`
	LogoFolder     string        `env:"LOGO_FOLDER,default=logos" yaml:"logo_folder"`
	ProductFolder  string        `env:"PRODUCT_FOLDER,default=products" yaml:"product_folder"`
}

type BrandConfig struct {
	APIURL  string        `env:"API_URL,default=https://api.brandfetch.io/v2/brands" yaml:"api_url"`
	APIKey  string        `env:"API_KEY" yaml:"api_key"`
	Timeout time.Duration `env:"TIMEOUT,default=10s" yaml:"timeout"`
}

type AwinConfig struct {
	Token       string        `env:"TOKEN" yaml:"token"`
	PublisherID string        `env:"PUBLISHER_ID" yaml:"publisher_id"`
	BaseURL     string        `env:"BASE_URL,default=https://api.awin.com" yaml:"base_url"`
	FeedURL     string        `env:"FEED_URL,default=https://productdata.awin.com" yaml:"feed_url"`
	FeedKey     string        `env:"FEED_KEY" yaml:"feed_key"`
	Delay       time.Duration `env:"DELAY,default=3s" yaml:"delay"`
	PageSize    int           `env:"PAGE_SIZE,default=200" yaml:"page_size"`
}

type CJConfig struct {
	Token         string        `env:"TOKEN" yaml:"token"`
	CompanyID     string        `env:"COMPANY_ID" yaml:"company_id"`
	WebsiteID     string        `env:"WEBSITE_ID" yaml:"website_id"`
	LookupURL     string        `env:"LOOKUP_URL,default=https://advertiser-lookup.api.cj.com" yaml:"lookup_url"`
	LinkSearchURL string        `env:"LINK_SEARCH_URL,default=https://link-search.api.cj.com" yaml:"link_search_url"`
	GraphQLURL    string        `env:"GRAPHQL_URL,default=https://ads.api.cj.com/query" yaml:"graphql_url"`
	Delay         time.Duration `env:"DELAY,default=2500ms" yaml:"delay"`
	PageSize      int           `env:"PAGE_SIZE,default=100" yaml:"page_size"`
	ProductLimit  int           `env:"PRODUCT_LIMIT,default=500" yaml:"product_limit"`
}

type RakutenConfig struct {
	ClientID        string        `env:"CLIENT_ID" yaml:"client_id"`
	ClientSecret    string        `env:"CLIENT_SECRET" yaml:"client_secret"`
	SID             string        `env:"SID" yaml:"sid"`
	BaseURL         string        `env:"BASE_URL,default=https://api.linksynergy.com" yaml:"base_url"`
	Delay           time.Duration `env:"DELAY,default=1s" yaml:"delay"`
	PageSize        int           `env:"PAGE_SIZE,default=500" yaml:"page_size"`
	ProductPageSize int           `env:"PRODUCT_PAGE_SIZE,default=100" yaml:"product_page_size"`
}

type ImpactConfig struct {
	AccountSID string        `env:"ACCOUNT_SID" yaml:"account_sid"`
	AuthToken  string        `env:"AUTH_TOKEN" yaml:"auth_token"`
	BaseURL    string        `env:"BASE_URL,default=https://api.impact.com" yaml:"base_url"`
	Delay      time.Duration `env:"DELAY,default=1s" yaml:"delay"`
	PageSize   int           `env:"PAGE_SIZE,default=100" yaml:"page_size"`
}

// Load reads the optional YAML file named by AFFSYNC_CONFIG_FILE, then fills
// every field the file left empty from the environment or its default.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper(), os.Getenv(ConfigFileEnv))
}

// LoadWith is Load with an explicit lookuper and file path
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper, path string) (*Config, error) {
	var cfg Config

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	if cfg.Images.UserAgent == "" {
		cfg.Images.UserAgent = DefaultUserAgent
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	switch c.Images.Backend {
	case "s3", "local":
	default:
		return fmt.Errorf("unsupported image backend %q", c.Images.Backend)
	}
	if c.Images.Backend == "s3" && (c.Images.Endpoint == "" || c.Images.Bucket == "") {
		return fmt.Errorf("s3 image backend needs IMAGES_ENDPOINT and IMAGES_BUCKET")
	}
	// deletes are batched below the backend's 500-write limit
	if c.Sync.PruneBatchSize < 1 || c.Sync.PruneBatchSize >= 500 {
		return fmt.Errorf("prune batch size must be between 1 and 499, got %d", c.Sync.PruneBatchSize)
	}
	if c.Sync.ReconcileChunkSize < 1 {
		return fmt.Errorf("reconcile chunk size must be positive, got %d", c.Sync.ReconcileChunkSize)
	}
	return nil
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}
