package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// AlertFileName is written next to the outputs when too many sites fail.
const AlertFileName = "crawl_alert.txt"

// DefaultFailAlertPct is the failure rate that raises an alert.
const DefaultFailAlertPct = 15.0

// WriteAlert writes AlertFileName into dir when the snapshot's failure rate
// reaches thresholdPct. It returns the file path, or "" when no alert was
// needed.
func WriteAlert(dir string, snap Snapshot, thresholdPct float64, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if thresholdPct <= 0 {
		thresholdPct = DefaultFailAlertPct
	}
	if snap.Processed == 0 || snap.FailureRate < thresholdPct {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "crawl failure rate %.1f%% reached the %.1f%% alert threshold\n", snap.FailureRate, thresholdPct)
	fmt.Fprintf(&b, "run_id: %s\n", snap.RunID)
	fmt.Fprintf(&b, "processed: %d of %d\n", snap.Processed, snap.Total)
	fmt.Fprintf(&b, "profiled: %d\n", snap.Profiled)
	fmt.Fprintf(&b, "unreachable: %d\n", snap.Unreachable)
	fmt.Fprintf(&b, "partial: %d\n", snap.Partial)

	path := filepath.Join(dir, AlertFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil { //nolint:gosec // operators read the alert
		return "", fmt.Errorf("write alert %s: %w", path, err)
	}
	logger.Warn("crawl failure rate above threshold",
		zap.Float64("failure_rate_pct", snap.FailureRate),
		zap.Float64("threshold_pct", thresholdPct),
		zap.String("alert_file", path),
	)
	return path, nil
}
