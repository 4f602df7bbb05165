package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/Veraticus/the-spice-must-score/internal/model"
)

// spiceQuery pulls classified transactions out of a spice database. Only
// confirmed classifications count as labels.
const spiceQuery = `
	SELECT t.id, t.name, COALESCE(t.merchant_name, ''), t.amount,
	       COALESCE(t.direction, ''), t.date, COALESCE(c.category, '')
	FROM transactions t
	LEFT JOIN classifications c
	  ON c.transaction_id = t.id AND c.status != 'unclassified'
	ORDER BY t.date, t.id`

// LoadSpiceDB reads transactions and their classifications from a spice
// SQLite database. Income rows become credits; everything else is a debit.
func LoadSpiceDB(ctx context.Context, path string) ([]model.Record, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open spice database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Warn("failed to close spice database", "error", closeErr)
		}
	}()

	rows, err := db.QueryContext(ctx, spiceQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close rows", "error", closeErr)
		}
	}()

	records := []model.Record{}
	for rows.Next() {
		var (
			r         model.Record
			direction string
			date      sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Description, &r.Merchant, &r.Amount, &direction, &date, &r.Category); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		r.Direction = model.DirectionDebit
		if strings.EqualFold(direction, "income") || r.Amount < 0 {
			r.Direction = model.DirectionCredit
		}
		r.Amount = math.Abs(r.Amount)
		if r.Merchant == "" {
			r.Merchant = r.Description
		}
		if t, ok := model.ParseDate(date.String); ok {
			r.Date = t.Format("2006-01-02")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	slog.Info("loaded spice database", "path", path, "transactions", len(records))
	return records, nil
}
