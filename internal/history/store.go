// Package history persists per-chunk upload outcomes in PostgreSQL.
//
// The ledger answers "which chunks of upload X reached the server" after a
// partial failure, since accepted chunks are never rolled back remotely.
package history

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/upstream/internal/config"
	"github.com/JonMunkholm/upstream/internal/core"
)

// DefaultRecentLimit is used by Recent when limit is not positive.
const DefaultRecentLimit = 20

// DBTX is the subset of pgx used by Store. *pgxpool.Pool, pgx.Tx and
// pgxmock pools satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the chunk_uploads ledger.
type Store struct {
	db DBTX
}

var _ core.HistoryRecorder = (*Store)(nil)

// New creates a Store on db.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// Connect opens and pings a connection pool sized from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if !cfg.Enabled() {
		return nil, errors.New("database URL is not configured")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// DatabaseName returns the database name in a connection URL, or "".
func DatabaseName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chunk_uploads (
		id          BIGSERIAL PRIMARY KEY,
		upload_id   UUID        NOT NULL,
		campaign_id INTEGER     NOT NULL,
		station_id  INTEGER     NOT NULL,
		chunk_index INTEGER     NOT NULL,
		chunk_total INTEGER     NOT NULL,
		file_name   TEXT        NOT NULL,
		rows        INTEGER     NOT NULL,
		bytes       INTEGER     NOT NULL,
		fingerprint BIGINT      NOT NULL,
		status      TEXT        NOT NULL,
		error       TEXT,
		duration_ms BIGINT      NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS chunk_uploads_upload_id_idx ON chunk_uploads (upload_id, chunk_index)`,
	`CREATE INDEX IF NOT EXISTS chunk_uploads_created_at_idx ON chunk_uploads (created_at DESC)`,
}

// EnsureSchema creates the ledger table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure chunk_uploads schema: %w", err)
		}
	}
	return nil
}

const insertChunk = `
	INSERT INTO chunk_uploads (
		upload_id, campaign_id, station_id, chunk_index, chunk_total,
		file_name, rows, bytes, fingerprint, status, error, duration_ms, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// RecordChunk appends one chunk outcome.
func (s *Store) RecordChunk(ctx context.Context, rec core.ChunkRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx, insertChunk,
		rec.UploadID,
		rec.CampaignID,
		rec.StationID,
		rec.ChunkIndex,
		rec.ChunkTotal,
		rec.FileName,
		rec.Rows,
		rec.Bytes,
		int64(rec.Fingerprint), // stored as the same 64 bits
		rec.Status,
		nullString(rec.Error),
		rec.Duration.Milliseconds(),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("record chunk %d of upload %s: %w", rec.ChunkIndex, rec.UploadID, err)
	}
	return nil
}

const selectColumns = `
	SELECT upload_id::text, campaign_id, station_id, chunk_index, chunk_total,
		file_name, rows, bytes, fingerprint, status, error, duration_ms, created_at
	FROM chunk_uploads`

// ListUpload returns every recorded chunk of one upload in chunk order.
func (s *Store) ListUpload(ctx context.Context, uploadID string) ([]core.ChunkRecord, error) {
	rows, err := s.db.Query(ctx, selectColumns+`
		WHERE upload_id = $1
		ORDER BY chunk_index, created_at`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("query upload %s: %w", uploadID, err)
	}
	return collect(rows)
}

// Recent returns the latest chunk records across uploads, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]core.ChunkRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.db.Query(ctx, selectColumns+`
		ORDER BY created_at DESC, chunk_index DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent chunks: %w", err)
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]core.ChunkRecord, error) {
	defer rows.Close()

	out := make([]core.ChunkRecord, 0)
	for rows.Next() {
		var (
			rec         core.ChunkRecord
			fingerprint int64
			errText     *string
			durationMS  int64
		)
		if err := rows.Scan(
			&rec.UploadID,
			&rec.CampaignID,
			&rec.StationID,
			&rec.ChunkIndex,
			&rec.ChunkTotal,
			&rec.FileName,
			&rec.Rows,
			&rec.Bytes,
			&fingerprint,
			&rec.Status,
			&errText,
			&durationMS,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}

		rec.Fingerprint = uint64(fingerprint)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if errText != nil {
			rec.Error = *errText
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
