package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"relock/internal/manager"
)

var extractFormat string

// extractCmd parses manifests and prints their dependencies
var extractCmd = &cobra.Command{
	Use:   "extract [file]...",
	Short: "Extract dependencies from build manifests",
	Long: `Detects the manager for each file by name, parses the manifest, and
prints every dependency found. Sibling lock files are consulted for
locked versions.

Examples:
  relock extract WORKSPACE
  relock extract services/*/pyproject.toml --format yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

// extractReport is the per-file output record.
type extractReport struct {
	File         string                      `json:"file" yaml:"file"`
	Manager      string                      `json:"manager,omitempty" yaml:"manager,omitempty"`
	Dependencies []manager.PackageDependency `json:"deps,omitempty" yaml:"deps,omitempty"`
	Error        string                      `json:"error,omitempty" yaml:"error,omitempty"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	if extractFormat != "json" && extractFormat != "yaml" {
		return fmt.Errorf("unknown format %q (expected json or yaml)", extractFormat)
	}

	start := time.Now()
	reports := make([]extractReport, len(args))

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(cfg.Extract.Concurrency)
	for i, path := range args {
		i, path := i, path
		g.Go(func() error {
			reports[i] = extractOne(ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	var out []byte
	var err error
	if extractFormat == "yaml" {
		out, err = yaml.Marshal(reports)
	} else {
		out, err = json.MarshalIndent(reports, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	fmt.Println(string(out))

	logger.Debug("extraction complete",
		zap.Int("files", len(args)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// extractOne never fails the whole run; per-file problems land in the
// report so one bad manifest does not hide the others.
func extractOne(ctx context.Context, path string) extractReport {
	report := extractReport{File: path}

	m := registry.Detect(path)
	if m == nil {
		report.Error = "no manager matches this file"
		return report
	}
	report.Manager = m.Name()

	content, err := os.ReadFile(path)
	if err != nil {
		report.Error = err.Error()
		return report
	}

	deps, err := m.Extract(ctx, content, path)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.Dependencies = deps
	return report
}
