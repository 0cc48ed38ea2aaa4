// Package cmd defines and implements the CLI commands for the vendorcrawl executable.
package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/app"
)

// newCrawlCmd creates the 'crawl' subcommand. Its flags are bound onto v so
// they override the config file and environment.
func newCrawlCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Profiles every practice in a roster",
		Long: `Reads the roster CSV, visits each practice website and its common
subpages, and writes one detection record per practice to JSONL and CSV.
Interrupting the run keeps every record written so far; rerun with --resume
to pick up where it stopped.`,
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.String("in", "", "roster CSV with id, name and website columns")
	flags.String("out-dir", "", "directory for run outputs")
	flags.Int("concurrency", 0, "number of practices visited in parallel")
	flags.Bool("render", false, "escalate thin or failed pages to a headless browser")
	flags.Bool("resume", false, "skip practices already present in the JSONL output")

	for flag, key := range map[string]string{
		"in":          "input.roster",
		"out-dir":     "output.dir",
		"concurrency": "crawler.concurrency",
		"render":      "render.enabled",
		"resume":      "output.resume",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	if e.cfg.Input.Roster == "" {
		return errors.New("a roster is required: pass --in or set input.roster")
	}

	runner, err := buildApp(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("initialize crawl: %w", err)
	}
	defer runner.Close()

	summary, err := runner.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}

	printSummary(cmd.OutOrStdout(), summary)
	e.logger.Info("Crawl command finished.",
		zap.String("run_id", summary.RunID),
		zap.Bool("interrupted", summary.Interrupted),
	)
	return nil
}

func printSummary(w io.Writer, s app.Summary) {
	state := "complete"
	if s.Interrupted {
		state = "interrupted"
	}
	fmt.Fprintf(w, "run %s %s\n", s.RunID, state)
	fmt.Fprintf(w, "  processed   %d/%d (skipped %d)\n", s.Snapshot.Processed, s.Snapshot.Total, s.Skipped)
	fmt.Fprintf(w, "  profiled    %d\n", s.Snapshot.Profiled)
	fmt.Fprintf(w, "  unreachable %d\n", s.Snapshot.Unreachable)
	fmt.Fprintf(w, "  partial     %d\n", s.Snapshot.Partial)
	fmt.Fprintf(w, "  failure     %.1f%%\n", s.Snapshot.FailureRate)
	fmt.Fprintf(w, "  jsonl       %s\n", s.JSONLPath)
	fmt.Fprintf(w, "  csv         %s\n", s.CSVPath)
	if s.ReportPath != "" {
		fmt.Fprintf(w, "  hosts       %s\n", s.ReportPath)
	}
	if s.AlertPath != "" {
		fmt.Fprintf(w, "  ALERT       %s\n", s.AlertPath)
	}
	for _, obj := range s.Archived {
		fmt.Fprintf(w, "  archived    %s\n", obj)
	}
}
