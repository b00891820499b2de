package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

// Store persists task state and results in SQLite so status queries
// survive a restart. The in-memory registry remains authoritative for
// live tasks.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed initializes) the task database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL UNIQUE,
		request_name TEXT NOT NULL,
		source_type TEXT NOT NULL,
		state TEXT NOT NULL,
		error TEXT,
		error_kind TEXT,
		result_json TEXT,
		retries INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
	CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create tasks table: %w", err)
	}

	return &Store{db: db}, nil
}

// SaveTask inserts a new task row.
func (s *Store) SaveTask(t *Task) error {
	query := `
	INSERT INTO tasks (task_id, request_name, source_type, state, error, error_kind, result_json, retries, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	resultJSON, err := marshalResult(t.Result)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(query, t.ID, t.RequestName, t.SourceType, t.State,
		t.Error, t.ErrorKind, resultJSON, t.RetriesUsed, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// UpdateTask writes the mutable fields of an existing task row.
func (s *Store) UpdateTask(t *Task) error {
	query := `
	UPDATE tasks SET state = ?, error = ?, error_kind = ?, result_json = ?, retries = ?, updated_at = ?
	WHERE task_id = ?
	`

	resultJSON, err := marshalResult(t.Result)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(query, t.State, t.Error, t.ErrorKind, resultJSON,
		t.RetriesUsed, time.Now(), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// GetTask retrieves a persisted task snapshot by ID.
func (s *Store) GetTask(taskID string) (*Snapshot, error) {
	query := `
	SELECT task_id, request_name, source_type, state, error, error_kind, result_json, retries, created_at, updated_at
	FROM tasks WHERE task_id = ?
	`
	return scanSnapshot(s.db.QueryRow(query, taskID))
}

// ListTasks returns the most recent tasks.
func (s *Store) ListTasks(limit int) ([]Snapshot, error) {
	query := `
	SELECT task_id, request_name, source_type, state, error, error_kind, result_json, retries, created_at, updated_at
	FROM tasks ORDER BY created_at DESC LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, *snap)
	}
	return snapshots, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var (
		snap       Snapshot
		errStr     sql.NullString
		errKind    sql.NullString
		resultJSON sql.NullString
	)

	err := row.Scan(&snap.ID, &snap.RequestName, &snap.SourceType, &snap.State,
		&errStr, &errKind, &resultJSON, &snap.RetriesUsed, &snap.CreatedAt, &snap.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	snap.Error = errStr.String
	snap.ErrorKind = errKind.String
	if resultJSON.Valid && resultJSON.String != "" {
		var resp types.TranscriptionResponse
		if err := json.Unmarshal([]byte(resultJSON.String), &resp); err == nil {
			snap.Result = &resp
		}
	}
	return &snap, nil
}

func marshalResult(result *types.TranscriptionResponse) (string, error) {
	if result == nil {
		return "", nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}
