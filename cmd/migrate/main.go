// Database migration CLI tool
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ajitpratap0/gasignal/internal/config"
	"github.com/ajitpratap0/gasignal/internal/db"
)

func main() {
	command := flag.String("command", "migrate", "Command to run: migrate or status")
	configPath := flag.String("config", "", "Path to config file")
	dbURL := flag.String("db", os.Getenv("DATABASE_URL"), "Database connection URL (overrides the database section)")
	flag.Parse()

	dsn := *dbURL
	if dsn == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		dsn = cfg.Database.GetDSN()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	database, err := db.New(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	switch *command {
	case "migrate":
		applied, err := database.Migrate(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Applied %d migration(s)\n", applied)
	case "status":
		if err := printStatus(ctx, database); err != nil {
			fmt.Fprintf(os.Stderr, "Status check failed: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		fmt.Fprintf(os.Stderr, "Usage: migrate -command=[migrate|status]\n")
		os.Exit(1)
	}
}

func printStatus(ctx context.Context, database *db.DB) error {
	current, err := database.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	migrations, err := db.LoadMigrations()
	if err != nil {
		return err
	}

	fmt.Printf("Current version: %d\n", current)
	for _, m := range migrations {
		state := "pending"
		if m.Version <= current {
			state = "applied"
		}
		fmt.Printf("  %-32s %s\n", m.Filename, state)
	}
	return nil
}
