// Package report renders mining results for operators: a summary table,
// status banners and a YAML export.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/screa/create3-miner/internal/crypto"
	"github.com/screa/create3-miner/pkg/pattern"
	"github.com/screa/create3-miner/pkg/types"
)

var (
	successStyle = color.New(color.FgGreen, color.Bold)
	warnStyle    = color.New(color.FgYellow, color.Bold)
	labelStyle   = color.New(color.Faint)
)

// FormatRate renders a hash rate, e.g. "12.34 MH/s".
func FormatRate(rate float64) string {
	return humanize.SIWithDigits(rate, 2, "H/s")
}

// FormatCount renders a hash count with thousands separators.
func FormatCount(n uint64) string {
	return humanize.Comma(int64(n))
}

// MatchEntry is one exported match
type MatchEntry struct {
	Salt    string `yaml:"salt"`
	Address string `yaml:"address"`
}

// Summary describes one finished or interrupted run
type Summary struct {
	RunID                string       `yaml:"run_id"`
	Backend              string       `yaml:"backend"`
	Deployer             string       `yaml:"deployer"`
	BaseSalt             string       `yaml:"base_salt"`
	BaseSaltHash         string       `yaml:"base_salt_hash"`
	Pattern              string       `yaml:"pattern"`
	ProxyInitCodeVersion string       `yaml:"proxy_init_code_version"`
	ProxyInitCodeHash    string       `yaml:"proxy_init_code_hash"`
	Seed                 uint64       `yaml:"seed,omitempty"`
	Limit                int          `yaml:"limit"`
	Interrupted          bool         `yaml:"interrupted"`
	Hashes               uint64       `yaml:"hashes"`
	DurationSeconds      float64      `yaml:"duration_seconds"`
	HashRate             float64      `yaml:"hash_rate"`
	Matches              []MatchEntry `yaml:"matches"`
}

// NewSummary builds the summary of result for job. Addresses are rendered
// EIP-55 checksummed.
func NewSummary(runID string, job *types.Job, result *types.Result, interrupted bool) *Summary {
	s := &Summary{
		RunID:                runID,
		Backend:              string(job.Backend),
		Deployer:             job.Deployer.Hex(),
		BaseSalt:             job.BaseSaltText,
		BaseSaltHash:         job.BaseSalt.Hex(),
		Pattern:              pattern.Describe(job.Pattern),
		ProxyInitCodeVersion: crypto.ProxyInitCodeVersion,
		ProxyInitCodeHash:    crypto.ProxyInitCodeHash.Hex(),
		Limit:                job.Limit,
		Interrupted:          interrupted,
		Matches:              make([]MatchEntry, 0, len(result.Matches)),
	}
	if job.Backend == types.BackendCPU {
		s.Seed = job.Seed
	}
	s.Hashes = result.Hashes
	s.DurationSeconds = result.Duration.Seconds()
	s.HashRate = result.Rate()
	for _, m := range result.Matches {
		s.Matches = append(s.Matches, MatchEntry{Salt: m.Salt.Hex(), Address: m.Address.Hex()})
	}
	return s
}

// Print writes the status banner, the match table and the totals to w.
func Print(w io.Writer, s *Summary) {
	if s.Interrupted {
		warnStyle.Fprintf(w, "Interrupted: %d of %d matches found\n", len(s.Matches), s.Limit)
	} else {
		successStyle.Fprintf(w, "Found %d matching salts\n", len(s.Matches))
	}

	labelStyle.Fprint(w, "Pattern:  ")
	fmt.Fprintln(w, s.Pattern)
	labelStyle.Fprint(w, "Deployer: ")
	fmt.Fprintln(w, s.Deployer)

	if len(s.Matches) > 0 {
		fmt.Fprintln(w, MatchTable(s.Matches))
	}

	labelStyle.Fprint(w, "Total:    ")
	fmt.Fprintf(w, "%s hashes in %.2fs (%s)\n", FormatCount(s.Hashes), s.DurationSeconds, FormatRate(s.HashRate))
}

// MatchTable renders matches as a numbered table.
func MatchTable(matches []MatchEntry) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.AppendHeader(table.Row{"#", "Salt", "Address"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignLeft},
		{Number: 3, Align: text.AlignLeft},
	})
	for i, m := range matches {
		t.AppendRow(table.Row{i + 1, m.Salt, m.Address})
	}
	return t.Render()
}

// WriteYAML exports s to path.
func WriteYAML(path string, s *Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write results to %s: %w", path, err)
	}
	return nil
}
