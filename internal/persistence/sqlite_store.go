package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/jobs"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/release"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore keeps job history and extractor install history.
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	raw, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	raw.SetMaxOpenConns(1)
	raw.SetMaxIdleConns(1)

	if err := initDB(context.Background(), raw); err != nil {
		_ = raw.Close()
		return nil, err
	}
	// sqlx only uses the driver name to pick the bind style.
	return &SQLiteStore{db: sqlx.NewDb(raw, "sqlite3")}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initDB(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	goose.SetBaseFS(migrationFiles)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...any) {
	log.Debug(strings.TrimSuffix(format, "\n"), v...)
}

func (gooseLogger) Fatalf(format string, v ...any) {
	log.Fatal(strings.TrimSuffix(format, "\n"), v...)
}

type jobRow struct {
	ID          string    `db:"id"`
	SessionID   string    `db:"session_id"`
	URL         string    `db:"url"`
	OutputRoot  string    `db:"output_root"`
	CookieFile  string    `db:"cookie_file"`
	VideoFormat string    `db:"video_format"`
	Channel     string    `db:"channel"`
	DedupeKey   string    `db:"dedupe_key"`
	Status      string    `db:"status"`
	Message     string    `db:"message"`
	OutputDir   string    `db:"output_dir"`
	Error       string    `db:"error"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toJobRow(job *jobs.Job) jobRow {
	return jobRow{
		ID:          job.ID,
		SessionID:   job.SessionID,
		URL:         job.Request.URL,
		OutputRoot:  job.Request.OutputRoot,
		CookieFile:  job.Request.CookieFile,
		VideoFormat: job.Request.VideoFormat,
		Channel:     job.Request.Channel,
		DedupeKey:   job.DedupeKey,
		Status:      string(job.Status),
		Message:     job.Message,
		OutputDir:   job.OutputDir,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt.UTC(),
		UpdatedAt:   job.UpdatedAt.UTC(),
	}
}

func (r jobRow) job() *jobs.Job {
	return &jobs.Job{
		ID:        r.ID,
		SessionID: r.SessionID,
		Request: jobs.Request{
			URL:         r.URL,
			OutputRoot:  r.OutputRoot,
			CookieFile:  r.CookieFile,
			VideoFormat: r.VideoFormat,
			Channel:     r.Channel,
		},
		DedupeKey: r.DedupeKey,
		Status:    jobs.Status(r.Status),
		Message:   r.Message,
		OutputDir: r.OutputDir,
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM jobs ORDER BY created_at ASC`); err != nil {
		return nil, err
	}
	ret := make([]*jobs.Job, 0, len(rows))
	for _, r := range rows {
		ret = append(ret, r.job())
	}
	return ret, nil
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO jobs (
			id, session_id, url, output_root, cookie_file, video_format, channel,
			dedupe_key, status, message, output_dir, error, created_at, updated_at
		) VALUES (
			:id, :session_id, :url, :output_root, :cookie_file, :video_format, :channel,
			:dedupe_key, :status, :message, :output_dir, :error, :created_at, :updated_at
		)
		ON CONFLICT(id) DO UPDATE SET
			session_id=excluded.session_id,
			dedupe_key=excluded.dedupe_key,
			status=excluded.status,
			message=excluded.message,
			output_dir=excluded.output_dir,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		toJobRow(job),
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

type installRow struct {
	Channel     string    `db:"channel"`
	Tag         string    `db:"tag"`
	Version     string    `db:"version"`
	ArchiveURL  string    `db:"archive_url"`
	InstalledAt time.Time `db:"installed_at"`
}

func (s *SQLiteStore) RecordInstall(ctx context.Context, rec release.InstallRecord) error {
	installedAt := rec.InstalledAt.UTC()
	if installedAt.IsZero() {
		installedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO installs (channel, tag, version, archive_url, installed_at)
		 VALUES (:channel, :tag, :version, :archive_url, :installed_at)`,
		installRow{
			Channel:     rec.Channel,
			Tag:         rec.Tag,
			Version:     rec.Version,
			ArchiveURL:  rec.ArchiveURL,
			InstalledAt: installedAt,
		},
	)
	return err
}

// ListInstalls returns the newest installs first. An empty channel lists every
// channel; limit <= 0 means no limit.
func (s *SQLiteStore) ListInstalls(ctx context.Context, channel string, limit int) ([]release.InstallRecord, error) {
	query := `SELECT channel, tag, version, archive_url, installed_at FROM installs`
	args := []any{}
	if channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, channel)
	}
	query += ` ORDER BY installed_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []installRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	ret := make([]release.InstallRecord, 0, len(rows))
	for _, r := range rows {
		ret = append(ret, release.InstallRecord{
			Channel:     r.Channel,
			Tag:         r.Tag,
			Version:     r.Version,
			ArchiveURL:  r.ArchiveURL,
			InstalledAt: r.InstalledAt,
		})
	}
	return ret, nil
}
