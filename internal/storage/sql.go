package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const sentTable = "sent_news"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sent_news (
	id SERIAL PRIMARY KEY,
	hash VARCHAR(64) UNIQUE NOT NULL,
	title TEXT NOT NULL,
	link TEXT NOT NULL,
	source VARCHAR(100),
	sent_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_sent_news_sent_at ON sent_news(sent_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sent_news (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hash TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL,
	link TEXT NOT NULL,
	source TEXT,
	sent_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLBackend records deliveries in the sent_news table of a PostgreSQL or
// SQLite database.
type SQLBackend struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// OpenPostgres connects with lib/pq and creates the table when missing.
func OpenPostgres(ctx context.Context, dsn string) (*SQLBackend, error) {
	return openSQL(ctx, "postgres", dsn, postgresSchema, sq.Dollar)
}

// OpenSQLite opens (or creates) a database file with the pure-Go driver.
func OpenSQLite(ctx context.Context, path string) (*SQLBackend, error) {
	b, err := openSQL(ctx, "sqlite", path, sqliteSchema, sq.Question)
	if err != nil {
		return nil, err
	}
	if _, err := b.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		b.db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	return b, nil
}

func openSQL(ctx context.Context, driver, dsn, schema string, ph sq.PlaceholderFormat) (*SQLBackend, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLBackend{db: db, sb: sq.StatementBuilder.PlaceholderFormat(ph)}, nil
}

func (b *SQLBackend) LoadAll(ctx context.Context) ([]string, error) {
	query, args, err := b.sb.Select("hash").From(sentTable).OrderBy("id").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", sentTable, err)
	}
	defer rows.Close()

	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

func (b *SQLBackend) Append(ctx context.Context, e Entry) error {
	query, args, err := b.insert(e).ToSql()
	if err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark as sent: %w", err)
	}
	return nil
}

func (b *SQLBackend) insert(e Entry) sq.InsertBuilder {
	return b.sb.Insert(sentTable).
		Columns("hash", "title", "link", "source").
		Values(e.Fingerprint, e.Title, e.Link, e.Source).
		Suffix("ON CONFLICT (hash) DO NOTHING")
}

func (b *SQLBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
