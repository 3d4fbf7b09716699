// Package config loads the service and pipeline settings from
// config/pipeline.yaml, .env files and ADDRNORM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ADDRNORM_APP_PORT.
const EnvPrefix = "ADDRNORM"

type AppCfg struct {
	Port string `mapstructure:"port" json:"port"`
	Env  string `mapstructure:"env" json:"env"`
}

type MongoCfg struct {
	URL      string `mapstructure:"url" json:"url"`
	Database string `mapstructure:"database" json:"database"`
}

type RedisCfg struct {
	URL string `mapstructure:"url" json:"url"`
}

type MeiliCfg struct {
	URL       string        `mapstructure:"url" json:"url"`
	MasterKey string        `mapstructure:"master_key" json:"-"`
	Index     string        `mapstructure:"index" json:"index"`
	Timeout   time.Duration `mapstructure:"timeout" json:"timeout"`
	Enabled   bool          `mapstructure:"enabled" json:"enabled"`
}

type PipelineCfg struct {
	Workers        int    `mapstructure:"workers" json:"workers"`
	TargetLanguage string `mapstructure:"target_language" json:"target_language"`
	CountryHint    string `mapstructure:"country_hint" json:"country_hint"`
}

type TaxonomyCfg struct {
	// File overrides the embedded taxonomy when set.
	File string `mapstructure:"file" json:"file"`
	// Source is "file" (embedded or File) or "mongo".
	Source string `mapstructure:"source" json:"source"`
}

type ResolverCfg struct {
	Scorer        string  `mapstructure:"scorer" json:"scorer"`
	Threshold     float64 `mapstructure:"threshold" json:"threshold"`
	MinMargin     float64 `mapstructure:"min_margin" json:"min_margin"`
	ReviewFloor   float64 `mapstructure:"review_floor" json:"review_floor"`
	MaxCandidates int     `mapstructure:"max_candidates" json:"max_candidates"`
	WordMatch     bool    `mapstructure:"word_match" json:"word_match"`
}

type TranslatorCfg struct {
	Enabled       bool          `mapstructure:"enabled" json:"enabled"`
	APIKey        string        `mapstructure:"api_key" json:"-"`
	Endpoint      string        `mapstructure:"endpoint" json:"endpoint"`
	MaxChars      int           `mapstructure:"max_chars" json:"max_chars"`
	MaxSegments   int           `mapstructure:"max_segments" json:"max_segments"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second" json:"rate_per_second"`
}

// AdapterCfg is shared by the HTTP geocoders.
type AdapterCfg struct {
	Enabled       bool          `mapstructure:"enabled" json:"enabled"`
	BaseURL       string        `mapstructure:"base_url" json:"base_url"`
	APIKey        string        `mapstructure:"api_key" json:"-"`
	Timeout       time.Duration `mapstructure:"timeout" json:"timeout"`
	Limit         int           `mapstructure:"limit" json:"limit"`
	RatePerSecond float64       `mapstructure:"rate_per_second" json:"rate_per_second"`
}

type LibpostalCfg struct {
	// Mode is "embedded" (needs the libpostal build tag), "http" or "off".
	Mode    string        `mapstructure:"mode" json:"mode"`
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

type GeocodersCfg struct {
	// Order is the chain, tried first to last.
	Order        []string     `mapstructure:"order" json:"order"`
	UserAgent    string       `mapstructure:"user_agent" json:"user_agent"`
	CountryCodes string       `mapstructure:"country_codes" json:"country_codes"`
	Nominatim    AdapterCfg   `mapstructure:"nominatim" json:"nominatim"`
	Yandex       AdapterCfg   `mapstructure:"yandex" json:"yandex"`
	Azure        AdapterCfg   `mapstructure:"azure" json:"azure"`
	Libpostal    LibpostalCfg `mapstructure:"libpostal" json:"libpostal"`
	YandexBBox   string       `mapstructure:"yandex_bbox" json:"yandex_bbox"`
	Districts    []string     `mapstructure:"districts" json:"districts"`
}

type RetryCfg struct {
	Attempts   int           `mapstructure:"attempts" json:"attempts"`
	BaseDelay  time.Duration `mapstructure:"base_delay" json:"base_delay"`
	Multiplier float64       `mapstructure:"multiplier" json:"multiplier"`
	Jitter     float64       `mapstructure:"jitter" json:"jitter"`
}

type CacheCfg struct {
	// Backend is memory, redis, mongo, sqlite or hybrid (redis over mongo).
	Backend    string        `mapstructure:"backend" json:"backend"`
	SQLitePath string        `mapstructure:"sqlite_path" json:"sqlite_path"`
	L1Size     int           `mapstructure:"l1_size" json:"l1_size"`
	TTL        time.Duration `mapstructure:"ttl" json:"ttl"`
	WarmUp     int           `mapstructure:"warm_up" json:"warm_up"`
}

type ReviewCfg struct {
	// Store is memory or mongo.
	Store string `mapstructure:"store" json:"store"`
}

type QueueCfg struct {
	Name        string `mapstructure:"name" json:"name"`
	Concurrency int    `mapstructure:"concurrency" json:"concurrency"`
}

// Config is the whole configuration tree.
type Config struct {
	App        AppCfg        `mapstructure:"app" json:"app"`
	Mongo      MongoCfg      `mapstructure:"mongo" json:"mongo"`
	Redis      RedisCfg      `mapstructure:"redis" json:"redis"`
	Meili      MeiliCfg      `mapstructure:"meilisearch" json:"meilisearch"`
	Pipeline   PipelineCfg   `mapstructure:"pipeline" json:"pipeline"`
	Taxonomy   TaxonomyCfg   `mapstructure:"taxonomy" json:"taxonomy"`
	Resolver   ResolverCfg   `mapstructure:"resolver" json:"resolver"`
	Translator TranslatorCfg `mapstructure:"translator" json:"translator"`
	Geocoders  GeocodersCfg  `mapstructure:"geocoders" json:"geocoders"`
	Retry      RetryCfg      `mapstructure:"retry" json:"retry"`
	Cache      CacheCfg      `mapstructure:"cache" json:"cache"`
	Review     ReviewCfg     `mapstructure:"review" json:"review"`
	Queue      QueueCfg      `mapstructure:"queue" json:"queue"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("mongo.url", "mongodb://localhost:27017/address_normalizer")
	v.SetDefault("mongo.database", "address_normalizer")
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("meilisearch.url", "http://meili:7700")
	v.SetDefault("meilisearch.master_key", "")
	v.SetDefault("meilisearch.index", "admin_units")
	v.SetDefault("meilisearch.timeout", "30s")
	v.SetDefault("meilisearch.enabled", false)

	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.target_language", "en")
	v.SetDefault("pipeline.country_hint", "Armenia")

	v.SetDefault("taxonomy.file", "")
	v.SetDefault("taxonomy.source", "file")

	v.SetDefault("resolver.scorer", "blended")
	v.SetDefault("resolver.threshold", 0.90)
	v.SetDefault("resolver.min_margin", 0.02)
	v.SetDefault("resolver.review_floor", 0.50)
	v.SetDefault("resolver.max_candidates", 5)
	v.SetDefault("resolver.word_match", true)

	v.SetDefault("translator.enabled", true)
	v.SetDefault("translator.api_key", "")
	v.SetDefault("translator.endpoint", "")
	v.SetDefault("translator.max_chars", 30000)
	v.SetDefault("translator.max_segments", 128)
	v.SetDefault("translator.timeout", "10s")
	v.SetDefault("translator.rate_per_second", 5.0)

	v.SetDefault("geocoders.order", []string{"nominatim", "yandex", "azure"})
	v.SetDefault("geocoders.user_agent", "address-normalizer/1.0")
	v.SetDefault("geocoders.country_codes", "am")
	v.SetDefault("geocoders.yandex_bbox", "43.4,38.8~46.7,41.4")
	v.SetDefault("geocoders.districts", []string{})
	for _, name := range []string{"nominatim", "yandex", "azure"} {
		v.SetDefault("geocoders."+name+".enabled", true)
		v.SetDefault("geocoders."+name+".base_url", "")
		v.SetDefault("geocoders."+name+".api_key", "")
		v.SetDefault("geocoders."+name+".timeout", "10s")
		v.SetDefault("geocoders."+name+".limit", 5)
		v.SetDefault("geocoders."+name+".rate_per_second", 5.0)
	}
	v.SetDefault("geocoders.nominatim.rate_per_second", 1.0)
	v.SetDefault("geocoders.libpostal.mode", "off")
	v.SetDefault("geocoders.libpostal.base_url", "http://localhost:4400")
	v.SetDefault("geocoders.libpostal.timeout", "5s")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.2)

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.sqlite_path", "addrnorm-cache.db")
	v.SetDefault("cache.l1_size", 10000)
	v.SetDefault("cache.ttl", "0s")
	v.SetDefault("cache.warm_up", 5000)

	v.SetDefault("review.store", "memory")

	v.SetDefault("queue.name", "addrnorm")
	v.SetDefault("queue.concurrency", 4)
}

// Default returns the built-in settings, without files or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads .env, then path (skipped when empty or missing), then the
// environment. Missing API keys fall back to YANDEX_API_KEY, AZURE_API_KEY
// and GOOGLE_TRANSLATE_API_KEY.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.mirrorKeys()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) mirrorKeys() {
	fill := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fill(&c.Geocoders.Yandex.APIKey, "YANDEX_API_KEY")
	fill(&c.Geocoders.Azure.APIKey, "AZURE_API_KEY")
	fill(&c.Translator.APIKey, "GOOGLE_TRANSLATE_API_KEY")
}

var (
	cacheBackends  = map[string]bool{"memory": true, "redis": true, "mongo": true, "sqlite": true, "hybrid": true}
	reviewStores   = map[string]bool{"memory": true, "mongo": true}
	libpostalModes = map[string]bool{"off": true, "http": true, "embedded": true}
	adapterNames   = map[string]bool{"nominatim": true, "yandex": true, "azure": true}
)

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers))
	}
	if c.Queue.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("queue.concurrency must be positive, got %d", c.Queue.Concurrency))
	}
	r := c.Resolver
	if r.Threshold <= 0 || r.Threshold > 1 {
		errs = append(errs, fmt.Errorf("resolver.threshold %v out of (0, 1]", r.Threshold))
	}
	if r.MinMargin < 0 || r.MinMargin >= 1 {
		errs = append(errs, fmt.Errorf("resolver.min_margin %v out of [0, 1)", r.MinMargin))
	}
	if r.ReviewFloor < 0 || r.ReviewFloor > r.Threshold {
		errs = append(errs, fmt.Errorf("resolver.review_floor %v out of [0, threshold]", r.ReviewFloor))
	}
	if !cacheBackends[c.Cache.Backend] {
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of memory, redis, mongo, sqlite, hybrid", c.Cache.Backend))
	}
	if !reviewStores[c.Review.Store] {
		errs = append(errs, fmt.Errorf("review.store %q is not one of memory, mongo", c.Review.Store))
	}
	if !libpostalModes[c.Geocoders.Libpostal.Mode] {
		errs = append(errs, fmt.Errorf("geocoders.libpostal.mode %q is not one of off, http, embedded", c.Geocoders.Libpostal.Mode))
	}
	for _, name := range c.Geocoders.Order {
		if !adapterNames[name] {
			errs = append(errs, fmt.Errorf("geocoders.order: unknown adapter %q", name))
		}
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Adapter returns the settings of a named HTTP geocoder.
func (g GeocodersCfg) Adapter(name string) (AdapterCfg, bool) {
	switch name {
	case "nominatim":
		return g.Nominatim, true
	case "yandex":
		return g.Yandex, true
	case "azure":
		return g.Azure, true
	}
	return AdapterCfg{}, false
}

// RequestTimeout bounds one HTTP normalize request.
func (c *Config) RequestTimeout() time.Duration { return 30 * time.Second }
