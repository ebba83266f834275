package task

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stint-dev/stint-core/taskid"
)

// SQLitePrefix is the qualified-id prefix of the file-database backend.
const SQLitePrefix = "db"

// SQLiteBackend stores tasks in a single sqlite database file.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite parent dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	b, err := NewSQLiteBackendFromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewSQLiteBackendFromDB wraps an existing database handle (for testing).
func NewSQLiteBackendFromDB(db *sql.DB) (*SQLiteBackend, error) {
	b := &SQLiteBackend{db: db}
	if err := b.migrate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			local_id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			spec_path TEXT NOT NULL DEFAULT '',
			spec_content TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			merge_commit TEXT,
			merged_at TEXT,
			merged_by TEXT,
			merge_base TEXT,
			merge_pr TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}

	for _, statement := range statements {
		if _, err := b.db.Exec(statement); err != nil {
			return fmt.Errorf("migrate sqlite schema: %w", err)
		}
	}
	return nil
}

// Prefix returns "db".
func (b *SQLiteBackend) Prefix() string { return SQLitePrefix }

// Name returns the human-readable backend name.
func (b *SQLiteBackend) Name() string { return "Task database" }

// Available reports whether the backend holds an open database.
func (b *SQLiteBackend) Available() bool { return b.db != nil }

const taskColumns = `local_id, title, status, spec_path, spec_content, description,
	merge_commit, merged_at, merged_by, merge_base, merge_pr`

func (b *SQLiteBackend) scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var (
		localID                                     int64
		title, status, specPath, specContent, descr string
		mCommit, mAt, mBy, mBase, mPR               sql.NullString
	)
	if err := row.Scan(&localID, &title, &status, &specPath, &specContent, &descr,
		&mCommit, &mAt, &mBy, &mBase, &mPR); err != nil {
		return nil, err
	}

	t := &Task{
		ID:          taskid.ID{Backend: SQLitePrefix, Local: strconv.FormatInt(localID, 10)},
		Title:       title,
		Status:      Status(status),
		SpecPath:    specPath,
		Description: descr,
	}
	if mCommit.Valid && mCommit.String != "" {
		merge := &MergeMetadata{
			Commit:     mCommit.String,
			MergedBy:   mBy.String,
			BaseBranch: mBase.String,
			PRBranch:   mPR.String,
		}
		if mAt.Valid {
			if ts, err := time.Parse(time.RFC3339, mAt.String); err == nil {
				merge.MergedAt = ts
			}
		}
		t.Merge = merge
	}
	return t, nil
}

func localInt(id taskid.ID) (int64, error) {
	n, err := strconv.ParseInt(id.Local, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s (database ids are numeric)", ErrNotFound, id.String())
	}
	return n, nil
}

// List returns tasks passing the filter, in id order.
func (b *SQLiteBackend) List(filter Filter) ([]Task, error) {
	rows, err := b.db.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY local_id`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := b.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if filter.Matches(*t) {
			out = append(out, *t)
		}
	}
	return out, rows.Err()
}

// Get returns the task with the given id, or ErrNotFound.
func (b *SQLiteBackend) Get(id taskid.ID) (*Task, error) {
	n, err := localInt(id)
	if err != nil {
		return nil, err
	}

	row := b.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE local_id = ?`, n)
	t, err := b.scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id.String(), err)
	}
	return t, nil
}

// GetStatus returns the task's current status.
func (b *SQLiteBackend) GetStatus(id taskid.ID) (Status, error) {
	t, err := b.Get(id)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

// SetStatus transitions the task.
func (b *SQLiteBackend) SetStatus(id taskid.ID, status Status) error {
	n, err := localInt(id)
	if err != nil {
		return err
	}

	res, err := b.db.Exec(`UPDATE tasks SET status = ?, updated_at = ? WHERE local_id = ?`,
		string(status), now(), n)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return requireRow(res, id)
}

// SetMergeMetadata records merge details on the task.
func (b *SQLiteBackend) SetMergeMetadata(id taskid.ID, merge MergeMetadata) error {
	n, err := localInt(id)
	if err != nil {
		return err
	}

	res, err := b.db.Exec(
		`UPDATE tasks SET merge_commit = ?, merged_at = ?, merged_by = ?, merge_base = ?, merge_pr = ?, updated_at = ?
		 WHERE local_id = ?`,
		merge.Commit, merge.MergedAt.UTC().Format(time.RFC3339), merge.MergedBy,
		merge.BaseBranch, merge.PRBranch, now(), n)
	if err != nil {
		return fmt.Errorf("update task merge metadata: %w", err)
	}
	return requireRow(res, id)
}

// Create inserts a task from a specification file. The spec content is
// copied into the database so the task is self-contained.
func (b *SQLiteBackend) Create(specSource string) (*Task, error) {
	title := titleFromSpec(specSource)
	var content string
	if data, err := os.ReadFile(specSource); err == nil {
		content = string(data)
	}

	res, err := b.db.Exec(
		`INSERT INTO tasks (title, status, spec_path, spec_content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		title, string(StatusTodo), specSource, content, now(), now())
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	localID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read new task id: %w", err)
	}

	return &Task{
		ID:       taskid.ID{Backend: SQLitePrefix, Local: strconv.FormatInt(localID, 10)},
		Title:    title,
		Status:   StatusTodo,
		SpecPath: specSource,
	}, nil
}

// Delete removes the task.
func (b *SQLiteBackend) Delete(id taskid.ID) error {
	n, err := localInt(id)
	if err != nil {
		return err
	}

	res, err := b.db.Exec(`DELETE FROM tasks WHERE local_id = ?`, n)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRow(res, id)
}

// SpecContent returns the stored specification content.
func (b *SQLiteBackend) SpecContent(id taskid.ID) (string, error) {
	n, err := localInt(id)
	if err != nil {
		return "", err
	}

	var content string
	err = b.db.QueryRow(`SELECT spec_content FROM tasks WHERE local_id = ?`, n).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id.String())
	}
	if err != nil {
		return "", fmt.Errorf("get spec content: %w", err)
	}
	return content, nil
}

func requireRow(res sql.Result, id taskid.ID) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id.String())
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

var _ Backend = (*SQLiteBackend)(nil)
