package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Optimizer  OptimizerConfig  `mapstructure:"optimizer"`
	Data       DataConfig       `mapstructure:"data"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // json or console
}

// OptimizerConfig contains the genetic search hyperparameters
type OptimizerConfig struct {
	Markets        []string `mapstructure:"markets"`
	IncludeCash    bool     `mapstructure:"include_cash"` // prepend the CASH pseudo-asset
	Lookback       int      `mapstructure:"lookback"`
	PopulationSize int      `mapstructure:"population_size"`
	TournamentSize int      `mapstructure:"tournament_size"`
	CrossoverRate  float64  `mapstructure:"crossover_rate"`
	MutationRate   float64  `mapstructure:"mutation_rate"`
	Iterations     int      `mapstructure:"n_iter"`
	Budget         float64  `mapstructure:"budget"`
	Seed           int64    `mapstructure:"seed"`
	Parallelism    int      `mapstructure:"parallelism"` // concurrent runs in a batch
}

// DataConfig selects where close prices come from
type DataConfig struct {
	Source   string `mapstructure:"source"` // "file" or "postgres"
	Path     string `mapstructure:"path"`   // .csv or .json when source is file
	Interval string `mapstructure:"interval"`
	Start    string `mapstructure:"start"` // YYYY-MM-DD
	End      string `mapstructure:"end"`   // YYYY-MM-DD
}

// DatabaseConfig contains PostgreSQL/TimescaleDB settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`

	RecordRuns bool `mapstructure:"record_runs"` // persist finished runs to optimization_runs
	Migrate    bool `mapstructure:"migrate"`     // apply schema migrations at startup
}

// DatabaseEnabled reports whether any component needs the database
func (c *Config) DatabaseEnabled() bool {
	return c.Data.Source == "postgres" || c.Database.RecordRuns
}

// RedisConfig contains Redis settings for the result cache
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      int    `mapstructure:"ttl"` // seconds
}

// NATSConfig contains signal publication settings
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Prefix  string `mapstructure:"prefix"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host      string  `mapstructure:"host"`
	Port      int     `mapstructure:"port"`
	RateLimit float64 `mapstructure:"rate_limit"` // optimize requests per second
	Burst     int     `mapstructure:"burst"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables.
// A .env file in the working directory is applied to the environment first.
func Load(configPath string) (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GASIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadEnvFile applies a dotenv file to the process environment.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "gasignal")
	v.SetDefault("app.version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Optimizer defaults
	v.SetDefault("optimizer.markets", []string{"CASH"})
	v.SetDefault("optimizer.include_cash", false)
	v.SetDefault("optimizer.lookback", genetic.DefaultLookback)
	v.SetDefault("optimizer.population_size", genetic.DefaultPopulationSize)
	v.SetDefault("optimizer.tournament_size", genetic.DefaultTournamentSize)
	v.SetDefault("optimizer.crossover_rate", genetic.DefaultCrossoverRate)
	v.SetDefault("optimizer.mutation_rate", genetic.DefaultMutationRate)
	v.SetDefault("optimizer.n_iter", genetic.DefaultIterations)
	v.SetDefault("optimizer.budget", genetic.DefaultBudget)
	v.SetDefault("optimizer.seed", 42)
	v.SetDefault("optimizer.parallelism", 4)

	// Data defaults
	v.SetDefault("data.source", "file")
	v.SetDefault("data.interval", "1d")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "gasignal")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.record_runs", false)
	v.SetDefault("database.migrate", false)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 3600)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.prefix", "signals.")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.rate_limit", 5.0)
	v.SetDefault("api.burst", 10)

	// Monitoring defaults
	v.SetDefault("monitoring.enable_metrics", true)
}

// GeneticConfig converts the optimizer section into the core hyperparameter set
func (c *OptimizerConfig) GeneticConfig() genetic.Config {
	markets := append([]string(nil), c.Markets...)
	if c.IncludeCash && (len(markets) == 0 || markets[0] != "CASH") {
		markets = append([]string{"CASH"}, markets...)
	}

	return genetic.Config{
		Markets:        markets,
		Lookback:       c.Lookback,
		PopulationSize: c.PopulationSize,
		TournamentSize: c.TournamentSize,
		CrossoverRate:  c.CrossoverRate,
		MutationRate:   c.MutationRate,
		Iterations:     c.Iterations,
		Budget:         c.Budget,
	}
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.PoolSize,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAddr returns the API listen address
func (c *APIConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
