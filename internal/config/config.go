package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfig marks an invalid configuration.
var ErrConfig = errors.New("configuration error")

// Config holds all application configuration
type Config struct {
	App         App         `mapstructure:"app"`
	Logging     Logging     `mapstructure:"logging"`
	Sources     Sources     `mapstructure:"sources"`
	Filters     Filters     `mapstructure:"filters"`
	Fetch       Fetch       `mapstructure:"fetch"`
	Extraction  Extraction  `mapstructure:"extraction"`
	Prefs       Prefs       `mapstructure:"prefs"`
	Keywords    Keywords    `mapstructure:"keywords"`
	Boilerplate Boilerplate `mapstructure:"boilerplate"`
	LLM         LLM         `mapstructure:"llm"`
	Digest      Digest      `mapstructure:"digest"`
	Social      Social      `mapstructure:"social"`
	Output      Output      `mapstructure:"output"`
	Cache       Cache       `mapstructure:"cache"`
	Redis       Redis       `mapstructure:"redis"`
	Storage     Storage     `mapstructure:"storage"`
	Server      Server      `mapstructure:"server"`
}

// App holds general application configuration
type App struct {
	Debug   bool   `mapstructure:"debug"`
	DataDir string `mapstructure:"data_dir"`
}

// Logging configures the process logger
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// Sources points at the sources CSV
type Sources struct {
	File string `mapstructure:"file"`
}

// Filters drop candidates before fetching
type Filters struct {
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// Fetch configures the HTTP fetcher and discovery
type Fetch struct {
	Timeout           string  `mapstructure:"timeout"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	AllowExternal     bool    `mapstructure:"allow_external"`
}

// Extraction holds the text acceptance thresholds
type Extraction struct {
	MinChars   int  `mapstructure:"min_chars"`
	MinWords   int  `mapstructure:"min_words"`
	PDFEnabled bool `mapstructure:"pdf_enabled"`
}

// Prefs holds the method preference policy
type Prefs struct {
	MinAttempts    int     `mapstructure:"min_attempts"`
	CooldownHours  int     `mapstructure:"cooldown_hours"`
	PromoteMargin  float64 `mapstructure:"promote_margin"`
	MinSuccessRate float64 `mapstructure:"min_success_rate"`
}

// Keywords configures the keyword gate
type Keywords struct {
	File     string  `mapstructure:"file"`
	MinScore float64 `mapstructure:"min_score"`
}

// Boilerplate points at the boilerplate rules
type Boilerplate struct {
	File string `mapstructure:"file"`
}

// LLM configures the model stages
type LLM struct {
	Mode            string `mapstructure:"mode"`
	Backend         string `mapstructure:"backend"` // ollama, gemini, or anthropic
	RelevanceModel  string `mapstructure:"relevance_model"`
	ClassifyModel   string `mapstructure:"classify_model"`
	SummariseModel  string `mapstructure:"summarise_model"`
	Timeout         string `mapstructure:"timeout"`
	MaxAttempts     int    `mapstructure:"max_attempts"`
	Tier            string `mapstructure:"tier"`
	OllamaHost      string `mapstructure:"ollama_host"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	MaxTokens       int    `mapstructure:"max_tokens"`
}

// Digest holds the assembly limits
type Digest struct {
	PerDomainCap        int     `mapstructure:"per_domain_cap"`
	MinRelevance        float64 `mapstructure:"min_relevance"`
	MaxItems            int     `mapstructure:"max_items"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// Social configures the social view
type Social struct {
	Limit     int `mapstructure:"limit"`
	MinLondon int `mapstructure:"min_london"`
}

// Output controls rendering
type Output struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
}

// Cache controls the fetch and LLM caches
type Cache struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"` // store or redis
	TTL     string `mapstructure:"ttl"`
	MaxAge  string `mapstructure:"max_age"`
}

// Redis connection settings
type Redis struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Storage selects the statistics backend
type Storage struct {
	Backend  string   `mapstructure:"backend"` // sqlite or postgres
	Postgres Postgres `mapstructure:"postgres"`
}

// Postgres connection settings
type Postgres struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	DB       string `mapstructure:"db"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// Lookup resolves POSTGRES_* names against the configured values.
func (p Postgres) Lookup(name string) (string, bool) {
	values := map[string]string{
		"POSTGRES_HOST":     p.Host,
		"POSTGRES_PORT":     p.Port,
		"POSTGRES_DB":       p.DB,
		"POSTGRES_USER":     p.User,
		"POSTGRES_PASSWORD": p.Password,
	}
	v, ok := values[name]
	return v, ok && v != ""
}

// Server configures the operator API
type Server struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
}

var globalConfig *Config

// Load reads configuration from file, .env and environment.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".lloydsdigest")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".lloydsdigest")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("sources.file", "sources.csv")
	viper.SetDefault("filters.max_age_days", 7)

	viper.SetDefault("fetch.timeout", "20s")
	viper.SetDefault("fetch.max_attempts", 3)
	viper.SetDefault("fetch.requests_per_second", 2.0)
	viper.SetDefault("fetch.burst", 2)
	viper.SetDefault("fetch.allow_external", false)

	viper.SetDefault("extraction.min_chars", 400)
	viper.SetDefault("extraction.min_words", 60)
	viper.SetDefault("extraction.pdf_enabled", false)

	viper.SetDefault("prefs.min_attempts", 3)
	viper.SetDefault("prefs.cooldown_hours", 24)
	viper.SetDefault("prefs.promote_margin", 0.15)
	viper.SetDefault("prefs.min_success_rate", 0.4)

	viper.SetDefault("keywords.file", "relevant_keywords.yaml")
	viper.SetDefault("keywords.min_score", 2.5)
	viper.SetDefault("boilerplate.file", "boilerplate.yaml")

	viper.SetDefault("llm.mode", "on")
	viper.SetDefault("llm.backend", "ollama")
	viper.SetDefault("llm.relevance_model", "qwen3:14b")
	viper.SetDefault("llm.classify_model", "qwen2.5-coder")
	viper.SetDefault("llm.summarise_model", "qwen2.5-coder")
	viper.SetDefault("llm.timeout", "120s")
	viper.SetDefault("llm.max_attempts", 3)
	viper.SetDefault("llm.tier", "standard")
	viper.SetDefault("llm.ollama_host", "http://localhost:11434")
	viper.SetDefault("llm.max_tokens", 1024)

	viper.SetDefault("digest.per_domain_cap", 5)
	viper.SetDefault("digest.min_relevance", 0.4)
	viper.SetDefault("digest.max_items", 40)
	viper.SetDefault("digest.similarity_threshold", 0.92)

	viper.SetDefault("social.limit", 12)
	viper.SetDefault("social.min_london", 3)

	viper.SetDefault("output.enabled", true)
	viper.SetDefault("output.directory", "output")

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.backend", "store")
	viper.SetDefault("cache.ttl", "168h")
	viper.SetDefault("cache.max_age", "720h")

	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("storage.backend", "sqlite")
	viper.SetDefault("storage.postgres.port", "5432")

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")
}

// bindEnvironmentVariables honours the variable names of the original
// deployment
func bindEnvironmentVariables() {
	bindEnvKeys("llm.mode", []string{"LLOYDS_DIGEST_LLM_MODE"})
	bindEnvKeys("llm.relevance_model", []string{"LLOYDS_DIGEST_LLM_RELEVANCE_MODEL"})
	bindEnvKeys("llm.classify_model", []string{"LLOYDS_DIGEST_LLM_CLASSIFY_MODEL"})
	bindEnvKeys("llm.summarise_model", []string{"LLOYDS_DIGEST_LLM_SUMMARISE_MODEL", "LLOYDS_DIGEST_LLM_SUMMARIZE_MODEL"})
	bindEnvKeys("llm.ollama_host", []string{"OLLAMA_HOST"})
	bindEnvKeys("llm.gemini_api_key", []string{"GEMINI_API_KEY", "GOOGLE_GEMINI_API_KEY"})
	bindEnvKeys("llm.anthropic_api_key", []string{"ANTHROPIC_API_KEY"})

	bindEnvKeys("keywords.file", []string{"LLOYDS_DIGEST_KEYWORDS_FILE"})
	bindEnvKeys("keywords.min_score", []string{"LLOYDS_DIGEST_KEYWORDS_MIN_SCORE"})

	bindEnvKeys("storage.postgres.host", []string{"POSTGRES_HOST"})
	bindEnvKeys("storage.postgres.port", []string{"POSTGRES_PORT"})
	bindEnvKeys("storage.postgres.db", []string{"POSTGRES_DB"})
	bindEnvKeys("storage.postgres.user", []string{"POSTGRES_USER"})
	bindEnvKeys("storage.postgres.password", []string{"POSTGRES_PASSWORD"})

	bindEnvKeys("redis.address", []string{"REDIS_ADDRESS", "REDIS_ADDR"})
	bindEnvKeys("redis.password", []string{"REDIS_PASSWORD"})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

// postProcessConfig expands paths and checks durations
func postProcessConfig(config *Config) error {
	config.App.DataDir = expandPath(config.App.DataDir)
	config.Output.Directory = expandPath(config.Output.Directory)
	config.Sources.File = expandPath(config.Sources.File)
	config.Keywords.File = expandPath(config.Keywords.File)
	config.Boilerplate.File = expandPath(config.Boilerplate.File)

	durations := map[string]string{
		"fetch.timeout":        config.Fetch.Timeout,
		"llm.timeout":          config.LLM.Timeout,
		"cache.ttl":            config.Cache.TTL,
		"cache.max_age":        config.Cache.MaxAge,
		"server.read_timeout":  config.Server.ReadTimeout,
		"server.write_timeout": config.Server.WriteTimeout,
	}
	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("%w: invalid duration for %s: %s", ErrConfig, key, duration)
			}
		}
	}
	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig rejects values no component can work with
func validateConfig(config *Config) error {
	var problems []string

	switch strings.ToLower(config.Storage.Backend) {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("unknown storage backend %q (supported: sqlite, postgres)", config.Storage.Backend))
	}
	switch strings.ToLower(config.LLM.Backend) {
	case "", "ollama", "gemini", "anthropic":
	default:
		problems = append(problems, fmt.Sprintf("unknown llm backend %q (supported: ollama, gemini, anthropic)", config.LLM.Backend))
	}
	switch strings.ToLower(config.Cache.Backend) {
	case "", "store", "redis":
	default:
		problems = append(problems, fmt.Sprintf("unknown cache backend %q (supported: store, redis)", config.Cache.Backend))
	}
	if config.Extraction.MinChars <= 0 || config.Extraction.MinWords <= 0 {
		problems = append(problems, "extraction.min_chars and extraction.min_words must be positive")
	}
	if config.Prefs.PromoteMargin < 0 || config.Prefs.MinSuccessRate < 0 || config.Prefs.MinSuccessRate > 1 {
		problems = append(problems, "prefs.promote_margin must be >= 0 and prefs.min_success_rate within [0, 1]")
	}
	if config.Digest.SimilarityThreshold <= 0 || config.Digest.SimilarityThreshold > 1 {
		problems = append(problems, "digest.similarity_threshold must be within (0, 1]")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n- %s", ErrConfig, strings.Join(problems, "\n- "))
	}
	return nil
}

// Duration parses a validated duration string, falling back to def.
func Duration(value string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return def
}

// Addr returns the server listen address.
func (s Server) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// Convenience getters for commonly used configuration values
func GetLogging() Logging        { return Get().Logging }
func GetStorage() Storage        { return Get().Storage }
func GetOutputDirectory() string { return Get().Output.Directory }
func IsDebugMode() bool          { return Get().App.Debug }

// Reset clears the global configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viper.Reset()
}
