package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/gasignal/internal/config"
	"github.com/ajitpratap0/gasignal/internal/runner"
	"github.com/ajitpratap0/gasignal/pkg/genetic"
	"github.com/ajitpratap0/gasignal/pkg/marketdata"
)

// batchSpec names one job and, optionally, its market subset
type batchSpec struct {
	Name    string
	Markets []string
}

// parseBatch reads "name=M1,M2;name2=M3". An empty string is one default job
// over the configured markets.
func parseBatch(s string) ([]batchSpec, error) {
	if strings.TrimSpace(s) == "" {
		return []batchSpec{{Name: "default"}}, nil
	}

	var specs []batchSpec
	seen := make(map[string]bool)
	for _, part := range splitList(s, ";") {
		name, list, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid batch job %q (expected name=M1,M2)", part)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate batch job %q", name)
		}
		seen[name] = true

		markets := splitList(list, ",")
		if len(markets) == 0 {
			return nil, fmt.Errorf("batch job %q has no markets", name)
		}
		specs = append(specs, batchSpec{Name: name, Markets: markets})
	}
	return specs, nil
}

// resolveMarkets decides the market columns of a job. Explicit markets win;
// a configuration naming only CASH (or nothing) means every symbol available.
// CASH leads the list when includeCash is set or it was configured.
func resolveMarkets(explicit []string, includeCash bool, available []string) []string {
	var futures []string
	wantCash := includeCash
	for _, m := range explicit {
		if m == marketdata.CashMarket {
			wantCash = true
			continue
		}
		futures = append(futures, m)
	}
	if len(futures) == 0 {
		futures = append(futures, available...)
	}

	var out []string
	if wantCash {
		out = append(out, marketdata.CashMarket)
	}
	for _, m := range futures {
		if m != marketdata.CashMarket {
			out = append(out, m)
		}
	}
	return out
}

// loadJobs builds one runner job per spec from the configured data source
func loadJobs(ctx context.Context, cfg *config.Config, deps *dependencies, specs []batchSpec) ([]runner.Job, error) {
	switch cfg.Data.Source {
	case "file":
		return loadFileJobs(cfg, specs)
	case "postgres":
		if deps.database == nil {
			return nil, fmt.Errorf("postgres data source requires a database connection")
		}
		return loadStoreJobs(ctx, cfg, marketdata.NewStore(deps.database.Querier()), specs)
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}
}

func loadFileJobs(cfg *config.Config, specs []batchSpec) ([]runner.Job, error) {
	if cfg.Data.Path == "" {
		return nil, fmt.Errorf("no price file given (use -data or data.path)")
	}

	candles, err := marketdata.Load(cfg.Data.Path)
	if err != nil {
		return nil, err
	}
	available := marketdata.Symbols(candles)

	jobs := make([]runner.Job, 0, len(specs))
	for _, spec := range specs {
		explicit := spec.Markets
		if explicit == nil {
			explicit = cfg.Optimizer.Markets
		}
		markets := resolveMarkets(explicit, cfg.Optimizer.IncludeCash, available)

		snapshot, _, err := marketdata.BuildSnapshot(candles, markets)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", spec.Name, err)
		}
		jobs = append(jobs, runner.Job{Name: spec.Name, Markets: markets, Snapshot: snapshot})
	}
	return jobs, nil
}

// snapshotLoader is satisfied by marketdata.Store
type snapshotLoader interface {
	LoadSnapshot(ctx context.Context, markets []string, interval string, start, end time.Time) (genetic.PriceSnapshot, error)
}

func loadStoreJobs(ctx context.Context, cfg *config.Config, store snapshotLoader, specs []batchSpec) ([]runner.Job, error) {
	start, end, err := dateRange(cfg.Data)
	if err != nil {
		return nil, err
	}

	jobs := make([]runner.Job, 0, len(specs))
	for _, spec := range specs {
		explicit := spec.Markets
		if explicit == nil {
			explicit = cfg.Optimizer.Markets
		}
		markets := resolveMarkets(explicit, cfg.Optimizer.IncludeCash, nil)
		if len(markets) == 0 || (len(markets) == 1 && markets[0] == marketdata.CashMarket) {
			return nil, fmt.Errorf("job %q: the postgres source needs explicit markets", spec.Name)
		}

		snapshot, err := store.LoadSnapshot(ctx, markets, cfg.Data.Interval, start, end)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", spec.Name, err)
		}
		jobs = append(jobs, runner.Job{Name: spec.Name, Markets: markets, Snapshot: snapshot})
	}
	return jobs, nil
}

// dateRange parses data.start/data.end; open ends default to the epoch and now
func dateRange(d config.DataConfig) (time.Time, time.Time, error) {
	start := time.Unix(0, 0).UTC()
	end := time.Now().UTC()

	if d.Start != "" {
		t, err := time.Parse("2006-01-02", d.Start)
		if err != nil {
			return start, end, fmt.Errorf("invalid start date %q (use YYYY-MM-DD): %w", d.Start, err)
		}
		start = t
	}
	if d.End != "" {
		t, err := time.Parse("2006-01-02", d.End)
		if err != nil {
			return start, end, fmt.Errorf("invalid end date %q (use YYYY-MM-DD): %w", d.End, err)
		}
		end = t.Add(24*time.Hour - time.Nanosecond)
	}
	return start, end, nil
}
