package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const documentsDDL = `CREATE TABLE IF NOT EXISTS documents (
	name       VARCHAR(128) NOT NULL PRIMARY KEY,
	body       LONGBLOB     NOT NULL,
	updated_at DATETIME(3)  NOT NULL
)`

// SQLDocumentStore keeps documents as rows of a MySQL/TiDB table
type SQLDocumentStore struct {
	db *sql.DB
}

// NewTiDBDocumentStore opens a MySQL-protocol connection and migrates the schema
func NewTiDBDocumentStore(ctx context.Context, dsn string) (*SQLDocumentStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	store, err := NewSQLDocumentStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLDocumentStore wraps an open database and creates the documents table
func NewSQLDocumentStore(ctx context.Context, db *sql.DB) (*SQLDocumentStore, error) {
	if _, err := db.ExecContext(ctx, documentsDDL); err != nil {
		return nil, fmt.Errorf("failed to migrate documents table: %w", err)
	}
	return &SQLDocumentStore{db: db}, nil
}

// Close closes the database connection
func (sd *SQLDocumentStore) Close() error {
	return sd.db.Close()
}

// Load retrieves a document body by name
func (sd *SQLDocumentStore) Load(ctx context.Context, name string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "tidb.load_document",
		trace.WithAttributes(attribute.String("document", name)),
	)
	defer span.End()

	var body []byte
	err := sd.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query document %s: %w", name, err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return body, nil
}

// Save upserts a document body
func (sd *SQLDocumentStore) Save(ctx context.Context, name string, data []byte) error {
	ctx, span := tracer.Start(ctx, "tidb.save_document",
		trace.WithAttributes(
			attribute.String("document", name),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	query := `INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
			  ON DUPLICATE KEY UPDATE body = VALUES(body), updated_at = VALUES(updated_at)`

	if _, err := sd.db.ExecContext(ctx, query, name, data, time.Now().UTC()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save document %s: %w", name, err)
	}

	span.SetAttributes(attribute.Bool("save_success", true))
	return nil
}
