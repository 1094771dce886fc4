// Package store persists classified items in SQLite and tracks their
// notification and digest lifecycle.
//
// One table per item kind (release_records, post_records) with identical
// columns; RecordStore binds the shared queries to a table. Timestamps are
// stored as RFC3339 UTC text.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"aiwatch/internal/model"
	"aiwatch/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

// importanceRank orders high before medium before low in SQL. The string
// column alone would sort lexicographically (high < low < medium).
const importanceRank = `CASE importance WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END`

const recordColumns = `source_id, origin, origin_category, title, version, url, summary,
	published_at, notify_as, relevant, importance, category,
	title_translated, summary_translated, fetched_at, notified_at, digest_included_at`

// Store owns the database handle and exposes one RecordStore per kind.
type Store struct {
	db  *sql.DB
	log logx.Logger

	releases *RecordStore
	posts    *RecordStore
}

// RecordStore runs the record lifecycle queries against one table.
type RecordStore struct {
	db    *sql.DB
	table string
	log   logx.Logger
}

// Open creates (or opens) the SQLite database at path and applies the
// schema. The parent directory is created if missing.
func Open(path string, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(context.Background(), string(schema)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	s := &Store{db: db, log: log}
	s.releases = &RecordStore{db: db, table: "release_records", log: log.With(logx.String("table", "release_records"))}
	s.posts = &RecordStore{db: db, table: "post_records", log: log.With(logx.String("table", "post_records"))}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ForKind returns the RecordStore for a storage kind.
func (s *Store) ForKind(k model.Kind) *RecordStore {
	if k == model.KindPost {
		return s.posts
	}
	return s.releases
}

func (s *Store) Releases() *RecordStore { return s.releases }
func (s *Store) Posts() *RecordStore   { return s.posts }

// Seen reports whether a source ID is already stored.
func (r *RecordStore) Seen(ctx context.Context, sourceID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM `+r.table+` WHERE source_id = ?`, sourceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Upsert writes a record by source ID. Replacing an existing row resets
// its notification and digest lifecycle.
func (r *RecordStore) Upsert(ctx context.Context, rec model.Record) error {
	if strings.TrimSpace(rec.SourceID) == "" {
		return errors.New("store: record missing source_id")
	}
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+r.table+` (`+recordColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.SourceID, rec.Origin, nullStr(rec.OriginCategory), rec.Title, nullStr(rec.Version),
		rec.URL, nullStr(rec.Summary), nullTime(rec.Published),
		nullStr(string(rec.NotifyAs)), boolInt(rec.Relevant), string(rec.Importance), nullStr(rec.Category),
		nullStr(rec.TitleTranslated), nullStr(rec.SummaryTranslated),
		rec.FetchedAt.UTC().Format(time.RFC3339), nullTime(rec.NotifiedAt), nullTime(rec.DigestIncludedAt),
	)
	return err
}

// MarkNotified stamps a record as pushed. Already-notified records keep
// their original timestamp.
func (r *RecordStore) MarkNotified(ctx context.Context, sourceID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE `+r.table+` SET notified_at = ? WHERE source_id = ? AND notified_at IS NULL`,
		at.UTC().Format(time.RFC3339), sourceID)
	return err
}

// ListUndigested returns relevant records fetched at or after since that
// have not yet been rolled into a digest, ordered importance-first then
// newest-first.
func (r *RecordStore) ListUndigested(ctx context.Context, since time.Time) ([]model.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM `+r.table+`
		 WHERE digest_included_at IS NULL AND relevant = 1 AND fetched_at >= ?
		 ORDER BY `+importanceRank+`, fetched_at DESC`,
		since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkDigested stamps the given records as included in a digest.
func (r *RecordStore) MarkDigested(ctx context.Context, sourceIDs []string, at time.Time) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	ts := at.UTC().Format(time.RFC3339)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`UPDATE `+r.table+` SET digest_included_at = ? WHERE source_id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range sourceIDs {
		if _, err := stmt.ExecContext(ctx, ts, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Purge deletes records fetched strictly before cutoff and returns the
// number removed.
func (r *RecordStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM `+r.table+` WHERE fetched_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Get fetches a single record by source ID.
func (r *RecordStore) Get(ctx context.Context, sourceID string) (model.Record, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM `+r.table+` WHERE source_id = ?`, sourceID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, err
	}
	return rec, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.Record, error) {
	var (
		rec                    model.Record
		originCat, version     sql.NullString
		summary                sql.NullString
		notifyAs, category     sql.NullString
		titleTr, summaryTr     sql.NullString
		published              sql.NullString
		fetchedAt              string
		notifiedAt, digestedAt sql.NullString
		relevant               int
		importance             string
	)
	err := row.Scan(
		&rec.SourceID, &rec.Origin, &originCat, &rec.Title, &version, &rec.URL, &summary,
		&published, &notifyAs, &relevant, &importance, &category,
		&titleTr, &summaryTr, &fetchedAt, &notifiedAt, &digestedAt,
	)
	if err != nil {
		return model.Record{}, err
	}
	rec.OriginCategory = originCat.String
	rec.Version = version.String
	rec.Summary = summary.String
	rec.NotifyAs = model.Kind(notifyAs.String)
	rec.Relevant = relevant != 0
	rec.Importance = model.ParseImportance(importance)
	rec.Category = category.String
	rec.TitleTranslated = titleTr.String
	rec.SummaryTranslated = summaryTr.String
	rec.Published = parseNullTime(published)
	rec.NotifiedAt = parseNullTime(notifiedAt)
	rec.DigestIncludedAt = parseNullTime(digestedAt)
	if t, perr := time.Parse(time.RFC3339, fetchedAt); perr == nil {
		rec.FetchedAt = t
	}
	return rec, nil
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
