package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rl1809/storefront/internal/port"
)

var (
	ErrRowCountMismatch = errors.New("row count mismatch after write")
	ErrInvalidTableName = errors.New("invalid table name")
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MySQLAdapter keeps the catalog in a single MySQL table, one row per item,
// ordered by position.
type MySQLAdapter struct {
	db    *sql.DB
	table string
}

func NewMySQLAdapter(db *sql.DB, table string) (*MySQLAdapter, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}
	return &MySQLAdapter{db: db, table: table}, nil
}

func (m *MySQLAdapter) Name() string {
	return "mysql:" + m.table
}

// EnsureSchema creates the catalog table when it does not exist.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT NOT NULL PRIMARY KEY,
			position INT NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			category VARCHAR(255) NOT NULL DEFAULT '',
			price DECIMAL(12,2) NOT NULL DEFAULT 0,
			stock INT NOT NULL DEFAULT 0,
			image_url VARCHAR(1024) NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`, m.table))
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Fetch(ctx context.Context) (*port.Sheet, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, name, category, price, stock, image_url
		FROM %s ORDER BY position, id`, m.table))
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	sheet := &port.Sheet{Columns: append([]string(nil), port.CatalogColumns...)}
	for rows.Next() {
		var (
			id                       int64
			name, category, imageURL sql.NullString
			price                    string
			stock                    int64
		)
		if err := rows.Scan(&id, &name, &category, &price, &stock, &imageURL); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		sheet.Rows = append(sheet.Rows, port.Row{
			Line: len(sheet.Rows) + 2,
			Values: map[string]string{
				"id":        strconv.FormatInt(id, 10),
				"name":      name.String,
				"category":  category.String,
				"price":     price,
				"stock":     strconv.FormatInt(stock, 10),
				"image_url": imageURL.String,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}
	return sheet, nil
}

// Store replaces every row in one transaction. The row count is checked
// before commit; any failure rolls back and leaves the table as it was.
func (m *MySQLAdapter) Store(ctx context.Context, sheet *port.Sheet) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, m.table)); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}

	if len(sheet.Rows) > 0 {
		query, args := m.insertQuery(sheet)
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("insert catalog: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows != int64(len(sheet.Rows)) {
			return fmt.Errorf("%w: inserted %d of %d", ErrRowCountMismatch, rows, len(sheet.Rows))
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, m.table)).Scan(&count); err != nil {
		return fmt.Errorf("count catalog: %w", err)
	}
	if count != len(sheet.Rows) {
		return fmt.Errorf("%w: table has %d rows, want %d", ErrRowCountMismatch, count, len(sheet.Rows))
	}

	return tx.Commit()
}

func (m *MySQLAdapter) insertQuery(sheet *port.Sheet) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, `INSERT INTO %s (id, position, name, category, price, stock, image_url) VALUES `, m.table)

	args := make([]any, 0, len(sheet.Rows)*7)
	for i, r := range sheet.Rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			r.Values["id"], i, r.Values["name"], r.Values["category"],
			orZero(r.Values["price"]), orZero(r.Values["stock"]), r.Values["image_url"],
		)
	}
	return b.String(), args
}

func orZero(v string) string {
	if strings.TrimSpace(v) == "" {
		return "0"
	}
	return v
}
