package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

type Submission struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Filename  string    `json:"filename,omitempty"`
	TimeRange string    `json:"time_range"`
	Words     int       `json:"words"`
	Chunks    int       `json:"chunks"`
	Status    Status    `json:"status"`
	Report    string    `json:"report,omitempty"`
	Metadata  string    `json:"-"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Signup struct {
	Email        string    `json:"email"`
	SubmissionID string    `json:"submission_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS submissions (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL DEFAULT 'text',
	filename    TEXT NOT NULL DEFAULT '',
	time_range  TEXT NOT NULL DEFAULT 'all',
	word_count  INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'pending',
	report      TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS email_signups (
	email         TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signups_created ON email_signups (created_at);
`

// Store persists submissions and newsletter signups in SQLite.
type Store struct {
	db    *sqlx.DB
	clock func() time.Time
	newID func() string
}

type Config struct {
	Path  string
	Clock func() time.Time
}

func Open(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = "greenlight.db"
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: db, clock: clock, newID: uuid.NewString}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) now() string { return s.clock().UTC().Format(time.RFC3339Nano) }

type NewSubmission struct {
	Source    string
	Filename  string
	TimeRange string
	Words     int
}

// CreateSubmission records a pending analysis and returns its id.
func (s *Store) CreateSubmission(ctx context.Context, in NewSubmission) (Submission, error) {
	if in.Source == "" {
		in.Source = "text"
	}
	now := s.now()
	sub := Submission{
		ID:        s.newID(),
		Source:    in.Source,
		Filename:  in.Filename,
		TimeRange: in.TimeRange,
		Words:     in.Words,
		Status:    StatusPending,
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO submissions
		(id, source, filename, time_range, word_count, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Source, sub.Filename, sub.TimeRange, sub.Words, sub.Status, now, now)
	if err != nil {
		return Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, now)
	sub.UpdatedAt = sub.CreatedAt
	return sub, nil
}

func (s *Store) CompleteSubmission(ctx context.Context, id, report, metadata string, chunks int) error {
	return s.updateSubmission(ctx, `UPDATE submissions
		SET status = ?, report = ?, metadata = ?, chunk_count = ?, error = '', updated_at = ?
		WHERE id = ?`, StatusCompleted, report, metadata, chunks, s.now(), id)
}

func (s *Store) FailSubmission(ctx context.Context, id, message string) error {
	return s.updateSubmission(ctx, `UPDATE submissions
		SET status = ?, error = ?, updated_at = ?
		WHERE id = ?`, StatusError, message, s.now(), id)
}

func (s *Store) updateSubmission(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type submissionRow struct {
	ID        string `db:"id"`
	Source    string `db:"source"`
	Filename  string `db:"filename"`
	TimeRange string `db:"time_range"`
	Words     int    `db:"word_count"`
	Chunks    int    `db:"chunk_count"`
	Status    string `db:"status"`
	Report    string `db:"report"`
	Metadata  string `db:"metadata"`
	Error     string `db:"error"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (s *Store) GetSubmission(ctx context.Context, id string) (Submission, error) {
	var row submissionRow
	err := s.db.GetContext(ctx, &row, `SELECT id, source, filename, time_range, word_count, chunk_count,
		status, report, metadata, error, created_at, updated_at FROM submissions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, fmt.Errorf("get submission: %w", err)
	}
	sub := Submission{
		ID:        row.ID,
		Source:    row.Source,
		Filename:  row.Filename,
		TimeRange: row.TimeRange,
		Words:     row.Words,
		Chunks:    row.Chunks,
		Status:    Status(row.Status),
		Report:    row.Report,
		Metadata:  row.Metadata,
		Error:     row.Error,
	}
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, row.CreatedAt)
	sub.UpdatedAt, _ = time.Parse(time.RFC3339Nano, row.UpdatedAt)
	return sub, nil
}

// AddSignup stores an email once. created is false when the address was
// already on the list.
func (s *Store) AddSignup(ctx context.Context, email, submissionID string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, errors.New("email is required")
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO email_signups (email, submission_id, created_at)
		VALUES (?, ?, ?) ON CONFLICT(email) DO NOTHING`, email, submissionID, s.now())
	if err != nil {
		return false, fmt.Errorf("insert signup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert signup: %w", err)
	}
	return n == 1, nil
}

type signupRow struct {
	Email        string `db:"email"`
	SubmissionID string `db:"submission_id"`
	CreatedAt    string `db:"created_at"`
}

func (s *Store) ListSignups(ctx context.Context) ([]Signup, error) {
	var rows []signupRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT email, submission_id, created_at
		FROM email_signups ORDER BY created_at, email`); err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	out := make([]Signup, 0, len(rows))
	for _, r := range rows {
		su := Signup{Email: r.Email, SubmissionID: r.SubmissionID}
		su.CreatedAt, _ = time.Parse(time.RFC3339Nano, r.CreatedAt)
		out = append(out, su)
	}
	return out, nil
}

// WriteSignupsCSV writes every signup with a header row. Cells that a
// spreadsheet would read as a formula are prefixed with a quote.
func (s *Store) WriteSignupsCSV(ctx context.Context, w io.Writer) (int, error) {
	signups, err := s.ListSignups(ctx)
	if err != nil {
		return 0, err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"email", "submission_id", "created_at"}); err != nil {
		return 0, err
	}
	for _, su := range signups {
		if err := cw.Write([]string{csvSafe(su.Email), csvSafe(su.SubmissionID), su.CreatedAt.UTC().Format(time.RFC3339)}); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(signups), cw.Error()
}

func csvSafe(cell string) string {
	if cell != "" && strings.ContainsRune("=+-@\t\r", rune(cell[0])) {
		return "'" + cell
	}
	return cell
}
