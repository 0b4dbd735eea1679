package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/gasignal/internal/runner"
	"github.com/ajitpratap0/gasignal/pkg/genetic"
)

// exportRecord is the file format of one run's result
type exportRecord struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	Name        string         `json:"name" yaml:"name"`
	Seed        int64          `json:"seed" yaml:"seed"`
	Cached      bool           `json:"cached" yaml:"cached"`
	Markets     []string       `json:"markets" yaml:"markets"`
	Signals     []int          `json:"signals" yaml:"signals,flow"`
	Positions   []float64      `json:"positions" yaml:"positions,flow"`
	Score       float64        `json:"score" yaml:"score"`
	Generations int            `json:"generations" yaml:"generations"`
	History     []float64      `json:"history" yaml:"history,flow"`
	DurationMs  int64          `json:"duration_ms" yaml:"duration_ms"`
	Config      genetic.Config `json:"config" yaml:"config"`
}

func toExport(outputs []*runner.Output) []exportRecord {
	records := make([]exportRecord, 0, len(outputs))
	for _, out := range outputs {
		records = append(records, exportRecord{
			RunID:       out.RunID,
			Name:        out.Name,
			Seed:        out.Seed,
			Cached:      out.Cached,
			Markets:     out.Result.Config.Markets,
			Signals:     []int(out.Result.Best),
			Positions:   out.Result.Positions,
			Score:       out.Result.Score,
			Generations: out.Result.Generations,
			History:     out.Result.History,
			DurationMs:  out.Result.Duration.Milliseconds(),
			Config:      out.Result.Config,
		})
	}
	return records
}

// encodeOutput serialises results as YAML for .yaml/.yml paths and JSON otherwise
func encodeOutput(path string, outputs []*runner.Output) ([]byte, error) {
	records := toExport(outputs)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := yaml.Marshal(map[string]interface{}{"runs": records})
		if err != nil {
			return nil, fmt.Errorf("failed to encode YAML: %w", err)
		}
		return data, nil
	default:
		data, err := json.MarshalIndent(map[string]interface{}{"runs": records}, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode JSON: %w", err)
		}
		return append(data, '\n'), nil
	}
}

func writeOutput(path string, outputs []*runner.Output) error {
	data, err := encodeOutput(path, outputs)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// formatReport renders a plain text summary for stdout
func formatReport(outputs []*runner.Output) string {
	var sb strings.Builder
	for i, out := range outputs {
		if i > 0 {
			sb.WriteString("\n")
		}
		cached := ""
		if out.Cached {
			cached = " (cached)"
		}
		sb.WriteString(fmt.Sprintf("Job %s  seed=%d  score=%.6g  generations=%d%s\n",
			out.Name, out.Seed, out.Result.Score, out.Result.Generations, cached))
		for m, market := range out.Result.Config.Markets {
			sb.WriteString(fmt.Sprintf("  %-16s %+d  %g\n", market, out.Result.Best[m], out.Result.Positions[m]))
		}
	}
	return sb.String()
}
