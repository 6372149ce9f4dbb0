package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/miradorstack/agentic-reviewer/internal/models"
	"github.com/miradorstack/agentic-reviewer/internal/utils"
)

// ErrNotFound is returned when a pass summary does not exist.
var ErrNotFound = models.ErrNotFound

const defaultListLimit = 50

// ResultStore persists review results and pass summaries in SQLite.
type ResultStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewResultStore opens (or creates) the database at path and migrates it.
func NewResultStore(path string, logger *slog.Logger) (*ResultStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	s := &ResultStore{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.Info("result store initialised", slog.String("db_path", path))
	return s, nil
}

func (s *ResultStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pass_id TEXT NOT NULL,
		sample_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		verdict TEXT NOT NULL,
		reasoning TEXT NOT NULL,
		suggested_label TEXT,
		explanation TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		cached BOOLEAN NOT NULL DEFAULT 0,
		tokens_used INTEGER,
		latency_ms INTEGER,
		model TEXT,
		reviewed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reviews_sample_id ON reviews(sample_id);
	CREATE INDEX IF NOT EXISTS idx_reviews_pass_id ON reviews(pass_id);

	CREATE TABLE IF NOT EXISTS pass_summaries (
		pass_id TEXT PRIMARY KEY,
		summary TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save writes results for one pass in a single transaction.
func (s *ResultStore) Save(ctx context.Context, passID string, mode models.AgentMode, results []models.ReviewResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reviews (
			pass_id, sample_id, mode, verdict, reasoning, suggested_label,
			explanation, success, attempts, cached, tokens_used, latency_ms,
			model, reviewed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}
	defer stmt.Close()

	createdAt := utils.FormatTimestamp(s.now())
	for _, res := range results {
		var reviewedAt sql.NullString
		if res.Metadata.ReviewedAt != nil {
			reviewedAt = sql.NullString{String: utils.FormatTimestamp(*res.Metadata.ReviewedAt), Valid: true}
		}
		rowMode := mode
		if res.Metadata.Mode != "" {
			rowMode = res.Metadata.Mode
		}
		if _, err := stmt.ExecContext(ctx,
			passID,
			res.SampleID,
			string(rowMode),
			string(res.Verdict),
			res.Reasoning,
			nullString(res.SuggestedLabel),
			res.Explanation,
			res.Success,
			res.Metadata.Attempts,
			res.Metadata.Cached,
			nullInt(res.Metadata.TokensUsed),
			nullInt64(res.Metadata.LatencyMS),
			res.Metadata.Model,
			reviewedAt,
			createdAt,
		); err != nil {
			return fmt.Errorf("save review %s: %w", res.SampleID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// ListBySample returns the newest reviews for sampleID first.
func (s *ResultStore) ListBySample(ctx context.Context, sampleID string, limit int) ([]models.ReviewRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT pass_id, sample_id, mode, verdict, reasoning, suggested_label,
		       explanation, success, attempts, cached, tokens_used, latency_ms,
		       model, reviewed_at, created_at
		FROM reviews
		WHERE sample_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, sampleID, limit)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var records []models.ReviewRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return records, nil
}

// StoreSummary upserts the summary of a pass.
func (s *ResultStore) StoreSummary(ctx context.Context, passID string, summary models.PassSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pass_summaries (pass_id, summary, created_at) VALUES (?, ?, ?)
		ON CONFLICT(pass_id) DO UPDATE SET summary = excluded.summary
	`, passID, string(payload), utils.FormatTimestamp(s.now()))
	if err != nil {
		return fmt.Errorf("save summary %s: %w", passID, err)
	}
	return nil
}

// LoadSummary fetches a stored pass summary.
func (s *ResultStore) LoadSummary(ctx context.Context, passID string) (models.PassSummary, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM pass_summaries WHERE pass_id = ?`, passID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PassSummary{}, fmt.Errorf("pass %s: %w", passID, ErrNotFound)
	}
	if err != nil {
		return models.PassSummary{}, fmt.Errorf("load summary %s: %w", passID, err)
	}
	var summary models.PassSummary
	if err := json.Unmarshal([]byte(payload), &summary); err != nil {
		return models.PassSummary{}, fmt.Errorf("decode summary %s: %w", passID, err)
	}
	return summary, nil
}

// Close releases the database handle.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

func scanRecord(rows *sql.Rows) (models.ReviewRecord, error) {
	var (
		rec        models.ReviewRecord
		res        models.ReviewResult
		mode       string
		verdict    string
		suggested  sql.NullString
		tokens     sql.NullInt64
		latency    sql.NullInt64
		model      sql.NullString
		reviewedAt sql.NullString
		createdAt  string
	)
	if err := rows.Scan(
		&rec.PassID,
		&res.SampleID,
		&mode,
		&verdict,
		&res.Reasoning,
		&suggested,
		&res.Explanation,
		&res.Success,
		&res.Metadata.Attempts,
		&res.Metadata.Cached,
		&tokens,
		&latency,
		&model,
		&reviewedAt,
		&createdAt,
	); err != nil {
		return rec, fmt.Errorf("scan review: %w", err)
	}

	rec.Mode = models.AgentMode(mode)
	res.Verdict = models.Verdict(verdict)
	res.Metadata.Mode = rec.Mode
	res.Metadata.Model = model.String
	if suggested.Valid {
		res.SuggestedLabel = models.StringPtr(suggested.String)
	}
	if tokens.Valid {
		n := int(tokens.Int64)
		res.Metadata.TokensUsed = &n
	}
	if latency.Valid {
		ms := latency.Int64
		res.Metadata.LatencyMS = &ms
	}
	if reviewedAt.Valid {
		ts, err := utils.ParseTimestamp(reviewedAt.String)
		if err != nil {
			return rec, fmt.Errorf("reviewed_at: %w", err)
		}
		res.Metadata.ReviewedAt = &ts
	}
	ts, err := utils.ParseTimestamp(createdAt)
	if err != nil {
		return rec, fmt.Errorf("created_at: %w", err)
	}
	rec.CreatedAt = ts
	rec.Result = res
	return rec, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
