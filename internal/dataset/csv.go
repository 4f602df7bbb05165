// Package dataset loads training records from CSV exports, spice SQLite
// databases and OFX/QFX bank statements.
package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/model"
)

// Columns is the canonical CSV header.
var Columns = []string{"id", "merchant", "description", "amount", "direction", "date", "category"}

const dataHashLength = 16

// Load picks a reader from the file extension.
func Load(ctx context.Context, path string) ([]model.Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(path)
	case ".db", ".sqlite", ".sqlite3":
		return LoadSpiceDB(ctx, path)
	case ".ofx", ".qfx":
		return LoadOFX(ctx, path)
	default:
		return nil, fmt.Errorf("%w: unsupported training data file %q", common.ErrInvalidConfig, path)
	}
}

// LoadCSV reads records from a CSV file.
func LoadCSV(path string) ([]model.Record, error) {
	// #nosec G304 - path is supplied by the operator
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("failed to close CSV file", "path", path, "error", closeErr)
		}
	}()
	return ReadCSV(f)
}

// ReadCSV parses a headed CSV. Columns may appear in any order and any of
// them may be missing; rows with an unparseable amount are skipped.
func ReadCSV(r io.Reader) ([]model.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []model.Record{}, nil
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, col := range Columns {
		if _, ok := index[col]; !ok && col != "id" {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		slog.Warn("CSV is missing columns, using what is available", "missing", missing)
	}

	field := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	records := []model.Record{}
	skipped := 0
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		amount, err := strconv.ParseFloat(field(row, "amount"), 64)
		if err != nil {
			skipped++
			continue
		}

		id := field(row, "id")
		if id == "" {
			id = fmt.Sprintf("row-%d", line-1)
		}
		records = append(records, model.Record{
			ID:          id,
			Merchant:    field(row, "merchant"),
			Description: field(row, "description"),
			Amount:      amount,
			Direction:   model.Direction(strings.ToUpper(field(row, "direction"))),
			Date:        field(row, "date"),
			Category:    field(row, "category"),
		})
	}

	if skipped > 0 {
		slog.Warn("skipped CSV rows without a numeric amount", "count", skipped)
	}
	return records, nil
}

// WriteCSV writes records in the canonical column order.
func WriteCSV(w io.Writer, records []model.Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.ID,
			r.Merchant,
			r.Description,
			strconv.FormatFloat(r.Amount, 'f', -1, 64),
			string(r.Direction),
			r.Date,
			r.Category,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row %s: %w", r.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// Hash fingerprints a training set: the first 16 hex characters of the
// SHA-256 of its canonical CSV form.
func Hash(records []model.Record) (string, error) {
	h := sha256.New()
	if err := WriteCSV(h, records); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:dataHashLength], nil
}

// ReadIDs reads one transaction id per line, ignoring blanks and # comments.
func ReadIDs(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read id list: %w", err)
	}
	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, nil
}
