package sink

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/practice-vendor-crawler/internal/record"
)

// Recovered describes the outputs a resumed run continues from.
type Recovered struct {
	// Written holds the ids whose final record is present in both files.
	Written map[string]struct{}
	// Partial counts records dropped because the visit was cut short. Those
	// sites are visited again.
	Partial int
	// Torn counts lines that did not decode or had no partner in the other
	// file, such as the tail of a crash between the two writes.
	Torn int
	// Superseded counts older records for an id written again later.
	Superseded int
}

type jsonlEntry struct {
	ID      string `json:"id"`
	Partial bool   `json:"partial"`
	line    []byte
}

// Recover compacts the JSONL and CSV outputs of an earlier run before it is
// resumed. A record survives only if it decodes, is not partial, is the last
// one for its id and has a CSV row with the same id. Both files are then
// rewritten atomically in JSONL order, so they hold the same records and end
// on a line boundary. Missing files are treated as empty.
func Recover(opts Options, logger *zap.Logger) (Recovered, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rec := Recovered{Written: make(map[string]struct{})}

	entries, torn, jsonlFound, err := readJSONL(opts.JSONLPath)
	if err != nil {
		return rec, err
	}
	rows, csvTorn, csvFound, err := readCSVRows(opts.CSVPath)
	if err != nil {
		return rec, err
	}
	rec.Torn = torn + csvTorn
	if !jsonlFound && !csvFound {
		return rec, nil
	}

	last := make(map[string]int, len(entries))
	for i, e := range entries {
		last[e.ID] = i
	}
	var jsonlOut, csvOut bytes.Buffer
	header, err := encodeRow(record.Columns())
	if err != nil {
		return rec, fmt.Errorf("encode csv header: %w", err)
	}
	csvOut.Write(header)
	for i, e := range entries {
		switch {
		case last[e.ID] != i:
			rec.Superseded++
			continue
		case e.Partial:
			rec.Partial++
			continue
		}
		row, ok := rows[e.ID]
		if !ok {
			rec.Torn++
			continue
		}
		encoded, err := encodeRow(row)
		if err != nil {
			return rec, fmt.Errorf("encode csv row %s: %w", e.ID, err)
		}
		jsonlOut.Write(e.line)
		jsonlOut.WriteByte('\n')
		csvOut.Write(encoded)
		rec.Written[e.ID] = struct{}{}
	}

	if err := replaceFile(opts.JSONLPath, jsonlOut.Bytes()); err != nil {
		return rec, err
	}
	if err := replaceFile(opts.CSVPath, csvOut.Bytes()); err != nil {
		return rec, err
	}
	logger.Info("outputs recovered for resume",
		zap.Int("kept", len(rec.Written)),
		zap.Int("partial", rec.Partial),
		zap.Int("torn", rec.Torn),
		zap.Int("superseded", rec.Superseded),
	)
	return rec, nil
}

// readJSONL returns the decodable complete lines. A trailing line without a
// newline is counted as torn.
func readJSONL(path string) ([]jsonlEntry, int, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied output path
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("read %s: %w", path, err)
	}
	torn := 0
	if cut := bytes.LastIndexByte(data, '\n') + 1; cut < len(data) {
		if len(bytes.TrimSpace(data[cut:])) > 0 {
			torn++
		}
		data = data[:cut]
	}
	var entries []jsonlEntry
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e jsonlEntry
		if err := json.Unmarshal(line, &e); err != nil || e.ID == "" {
			torn++
			continue
		}
		e.line = line
		entries = append(entries, e)
	}
	return entries, torn, true, nil
}

// readCSVRows maps the id column to the last row written for it. Reading
// stops at the first malformed record, which can only be a torn tail.
func readCSVRows(path string) (map[string][]string, int, bool, error) {
	rows := make(map[string][]string)
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied output path
	if errors.Is(err, os.ErrNotExist) {
		return rows, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("read %s: %w", path, err)
	}
	torn := 0
	if cut := bytes.LastIndexByte(data, '\n') + 1; cut < len(data) {
		torn++
		data = data[:cut]
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header := true
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			torn++
			break
		}
		if header {
			header = false
			if len(fields) > 0 && fields[0] == "id" {
				continue
			}
		}
		if len(fields) == 0 || fields[0] == "" {
			torn++
			continue
		}
		rows[fields[0]] = fields
	}
	return rows, torn, true, nil
}

// replaceFile swaps data in through a synced temp file in the same directory.
func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil { //nolint:gosec // outputs are meant to be shared
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
