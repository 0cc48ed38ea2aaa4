// Package roster reads the input list of practices.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

var errNoHeader = errors.New("roster has no header row")

// ReadFile reads a CSV roster from path.
func ReadFile(path string, logger *zap.Logger) ([]crawler.InputSite, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied roster path
	if err != nil {
		return nil, fmt.Errorf("open roster %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	sites, err := Read(f, logger)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", path, err)
	}
	return sites, nil
}

// Read parses a CSV roster with a header row naming at least id and
// website; name, phone and address are optional and extra columns are
// ignored. Rows without an id get one from their row number. Repeated ids
// keep the first row.
func Read(r io.Reader, logger *zap.Logger) ([]crawler.InputSite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := cols["website"]; !ok {
		return nil, errors.New("roster header is missing a website column")
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var sites []crawler.InputSite
	seen := make(map[string]struct{})
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		site := crawler.InputSite{
			ID:      field(row, "id"),
			Name:    field(row, "name"),
			Website: field(row, "website"),
			Phone:   field(row, "phone"),
			Address: field(row, "address"),
		}
		if site.ID == "" {
			site.ID = "row-" + strconv.Itoa(line)
		}
		if _, dup := seen[site.ID]; dup {
			logger.Warn("duplicate roster id; keeping first row", zap.String("id", site.ID), zap.Int("line", line))
			continue
		}
		seen[site.ID] = struct{}{}
		sites = append(sites, site)
	}
	logger.Info("roster loaded", zap.Int("sites", len(sites)))
	return sites, nil
}

// Exclude drops sites whose id is in written, keeping roster order.
func Exclude(sites []crawler.InputSite, written map[string]struct{}) []crawler.InputSite {
	if len(written) == 0 {
		return sites
	}
	out := make([]crawler.InputSite, 0, len(sites))
	for _, s := range sites {
		if _, done := written[s.ID]; done {
			continue
		}
		out = append(out, s)
	}
	return out
}
