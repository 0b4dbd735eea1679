package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateOptimizer()...)
	errors = append(errors, c.validateData()...)
	if c.DatabaseEnabled() {
		errors = append(errors, c.validateDatabase()...)
	}
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateAPI()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	validEnvs := []string{"development", "staging", "production"}
	if !contains(validEnvs, c.App.Environment) {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
		})
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: "Log level is required (debug, info, warn, error)",
		})
	}

	if c.App.LogFormat != "" && c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errors = append(errors, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("Invalid log format '%s'. Must be json or console", c.App.LogFormat),
		})
	}

	return errors
}

// validateOptimizer reuses the core hyperparameter checks under the optimizer prefix
func (c *Config) validateOptimizer() ValidationErrors {
	var errors ValidationErrors

	err := c.Optimizer.GeneticConfig().Validate()
	var coreErrors genetic.ValidationErrors
	if asValidationErrors(err, &coreErrors) {
		for _, e := range coreErrors {
			errors = append(errors, ValidationError{
				Field:   "optimizer." + e.Field,
				Message: e.Message,
			})
		}
	}

	if c.Optimizer.Parallelism < 1 {
		errors = append(errors, ValidationError{
			Field:   "optimizer.parallelism",
			Message: "Parallelism must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateData() ValidationErrors {
	var errors ValidationErrors

	switch c.Data.Source {
	case "file":
		// The path may also be supplied on the command line
	case "postgres":
		if c.Data.Interval == "" {
			errors = append(errors, ValidationError{
				Field:   "data.interval",
				Message: "Candle interval is required for the postgres source",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "data.source",
			Message: fmt.Sprintf("Invalid data source '%s'. Must be file or postgres", c.Data.Source),
		})
	}

	for field, value := range map[string]string{"data.start": c.Data.Start, "data.end": c.Data.End} {
		if value == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", value); err != nil {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("Invalid date '%s' (use YYYY-MM-DD)", value),
			})
		}
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "database.host",
			Message: "Database host is required",
		})
	}

	if !validPort(c.Database.Port) {
		errors = append(errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Database.Port),
		})
	}

	if c.Database.Database == "" {
		errors = append(errors, ValidationError{
			Field:   "database.database",
			Message: "Database name is required",
		})
	}

	if c.Database.Password == "" && c.App.Environment != "development" {
		errors = append(errors, ValidationError{
			Field:   "database.password",
			Message: "Database password is required in non-development environments",
		})
	}

	if c.Database.PoolSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.pool_size",
			Message: "Database pool size must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if !c.Redis.Enabled {
		return errors
	}

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "redis.host",
			Message: "Redis host is required",
		})
	}

	if !validPort(c.Redis.Port) {
		errors = append(errors, ValidationError{
			Field:   "redis.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port),
		})
	}

	if c.Redis.TTL < 0 {
		errors = append(errors, ValidationError{
			Field:   "redis.ttl",
			Message: "Redis TTL must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if !c.NATS.Enabled {
		return errors
	}

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL is required",
		})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS URL must start with 'nats://'",
		})
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if !validPort(c.API.Port) {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.API.Port),
		})
	}

	if c.API.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "api.rate_limit",
			Message: "Rate limit must be positive",
		})
	}

	if c.API.Burst < 1 {
		errors = append(errors, ValidationError{
			Field:   "api.burst",
			Message: "Burst must be at least 1",
		})
	}

	return errors
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func asValidationErrors(err error, target *genetic.ValidationErrors) bool {
	return err != nil && errors.As(err, target)
}
