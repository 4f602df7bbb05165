package dataset

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-spice-must-score/internal/model"
)

func createSpiceDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spice.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	stmts := []string{
		`CREATE TABLE transactions (
			id TEXT PRIMARY KEY,
			hash TEXT UNIQUE NOT NULL,
			date DATETIME NOT NULL,
			name TEXT NOT NULL,
			merchant_name TEXT,
			amount REAL NOT NULL,
			direction TEXT
		)`,
		`CREATE TABLE classifications (
			transaction_id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			status TEXT NOT NULL
		)`,
		`INSERT INTO transactions VALUES ('t1', 'h1', '2024-01-15 10:00:00', 'TESCO STORES 1234', 'Tesco', 42.10, 'expense')`,
		`INSERT INTO transactions VALUES ('t2', 'h2', '2024-01-28 09:00:00', 'SALARY', NULL, 2500, 'income')`,
		`INSERT INTO transactions VALUES ('t3', 'h3', '2024-01-30 12:00:00', 'PRET A MANGER', 'Pret', 6.5, NULL)`,
		`INSERT INTO classifications VALUES ('t1', 'Groceries', 'user_modified')`,
		`INSERT INTO classifications VALUES ('t3', 'Dining', 'unclassified')`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

func TestLoadSpiceDB(t *testing.T) {
	records, err := LoadSpiceDB(context.Background(), createSpiceDB(t))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, model.Record{
		ID:          "t1",
		Merchant:    "Tesco",
		Description: "TESCO STORES 1234",
		Amount:      42.10,
		Direction:   model.DirectionDebit,
		Date:        "2024-01-15",
		Category:    "Groceries",
	}, records[0])

	assert.Equal(t, model.DirectionCredit, records[1].Direction)
	assert.Equal(t, "SALARY", records[1].Merchant)
	assert.Empty(t, records[1].Category)

	assert.Equal(t, "Pret", records[2].Merchant)
	assert.Empty(t, records[2].Category, "unclassified rows carry no label")
}
