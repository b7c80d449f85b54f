// Package pgvector stores chunk embeddings in PostgreSQL with the pgvector
// extension.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/prepdocs/ai"
	"github.com/poiesic/prepdocs/core"
	"github.com/poiesic/prepdocs/sink"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Sink writes chunks into a PostgreSQL table with a vector column.
type Sink struct {
	db         *sql.DB
	ownsDB     bool
	table      string
	quoted     string
	dimensions int
	embedder   ai.Embedder
	logger     *slog.Logger
}

var (
	_ sink.Sink     = (*Sink)(nil)
	_ sink.Resetter = (*Sink)(nil)
)

// Option configures a Sink.
type Option func(*Sink) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// Open connects to dsn, creates the schema if needed and returns a sink that
// closes the connection pool on Close.
func Open(ctx context.Context, dsn, table string, dimensions int, embedder ai.Embedder, opts ...Option) (*Sink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: database URL is required", core.ErrConfiguration)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s, err := New(db, table, dimensions, embedder, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true

	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New returns a sink on an open database. The caller keeps ownership of db.
func New(db *sql.DB, table string, dimensions int, embedder ai.Embedder, opts ...Option) (*Sink, error) {
	if embedder == nil {
		return nil, sink.ErrEmbedderRequired
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", core.ErrConfiguration, table)
	}
	if dimensions < 1 {
		return nil, fmt.Errorf("%w: vector dimensions must be positive", core.ErrConfiguration)
	}

	s := &Sink{
		db:         db,
		table:      table,
		quoted:     pgx.Identifier{table}.Sanitize(),
		dimensions: dimensions,
		embedder:   embedder,
		logger:     slog.Default().With("component", "pgvector-sink"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// schema returns the statements that create the extension, table and index.
func (s *Sink) schema() []string {
	index := pgx.Identifier{s.table + "_source_idx"}.Sanitize()
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS ` + s.quoted + ` (
			id           uuid PRIMARY KEY,
			source       text NOT NULL,
			chunk_number integer NOT NULL,
			content      text NOT NULL,
			metadata     jsonb NOT NULL,
			embedding    vector(` + strconv.Itoa(s.dimensions) + `) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + s.quoted + ` (source)`,
	}
}

// EnsureSchema creates the vector extension, table and source index.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range s.schema() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return tx.Commit()
}

// Add embeds the chunks, then replaces the source's rows in one transaction.
func (s *Sink) Add(ctx context.Context, src core.Source, chunks []core.Chunk) error {
	docs := sink.Documents(src, chunks)

	var vectors [][]float32
	if len(docs) > 0 {
		var err error
		vectors, err = s.embedder.EmbedTexts(ctx, sink.Texts(docs))
		if err != nil {
			return fmt.Errorf("embed %s: %w", src.Name, err)
		}
		if err := sink.CheckEmbeddings(docs, vectors); err != nil {
			return err
		}
		for i, v := range vectors {
			if len(v) != s.dimensions {
				return fmt.Errorf("%w: chunk %d has %d dimensions, table expects %d",
					sink.ErrEmbeddingCount, i, len(v), s.dimensions)
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+s.quoted+` WHERE source = $1`, src.ID); err != nil {
		_ = tx.Rollback()
		return err
	}

	if len(docs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO `+s.quoted+` (id, source, chunk_number, content, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)`)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		defer stmt.Close()

		for i, d := range docs {
			metadata, err := json.Marshal(d.Metadata)
			if err != nil {
				_ = tx.Rollback()
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				d.ID, d.Source, chunks[i].Index+1, d.Content, string(metadata), pgvector.NewVector(vectors[i]),
			); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Debug("stored chunks", "source", src.ID, "rows", len(docs))
	return nil
}

// Reset removes every row from the table.
func (s *Sink) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE `+s.quoted); err != nil {
		return err
	}
	s.logger.Info("vector table reset", "table", s.table)
	return nil
}

// Count returns the number of stored rows for a source, or for all sources
// when sourceID is empty.
func (s *Sink) Count(ctx context.Context, sourceID string) (int, error) {
	var (
		n   int
		err error
	)
	if sourceID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+s.quoted).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+s.quoted+` WHERE source = $1`, sourceID).Scan(&n)
	}
	return n, err
}

// Close closes the connection pool when the sink opened it.
func (s *Sink) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
