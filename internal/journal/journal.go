package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tetherdev/tether/internal/syncq"
)

// Entry is one recorded sync outcome.
type Entry struct {
	ID         int64
	OpID       string
	Kind       string
	LocalPath  string
	RemotePath string
	Outcome    string // "done" | "failed"
	Attempts   int
	Error      string
	Timestamp  time.Time
}

// Journal persists terminal sync outcomes so a failed sync is visible and
// resumable after the fact. Queue state itself is never persisted.
type Journal struct {
	db *sql.DB
}

func Open(dsn string) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`CREATE TABLE IF NOT EXISTS sync_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		op_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		local_path TEXT NOT NULL,
		remote_path TEXT NOT NULL,
		outcome TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		error TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

// Record stores the terminal outcome of one queue operation.
func (j *Journal) Record(res syncq.Result) error {
	outcome := "done"
	errMsg := ""
	if res.Err != nil {
		outcome = "failed"
		errMsg = res.Err.Error()
	}
	_, err := j.db.Exec(
		`INSERT INTO sync_log (op_id, kind, local_path, remote_path, outcome, attempts, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.Op.ID, string(res.Op.Kind), res.Op.LocalPath, res.Op.RemotePath,
		outcome, res.Attempts, errMsg)
	if err != nil {
		return fmt.Errorf("record sync outcome: %w", err)
	}
	return nil
}

// Recent returns the latest n entries, newest first.
func (j *Journal) Recent(n int) ([]*Entry, error) {
	rows, err := j.db.Query(
		`SELECT id, op_id, kind, local_path, remote_path, outcome, attempts, error, timestamp
		FROM sync_log ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Failures returns entries whose operation exhausted its retries.
func (j *Journal) Failures(n int) ([]*Entry, error) {
	rows, err := j.db.Query(
		`SELECT id, op_id, kind, local_path, remote_path, outcome, attempts, error, timestamp
		FROM sync_log WHERE outcome = 'failed' ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.OpID, &e.Kind, &e.LocalPath, &e.RemotePath,
			&e.Outcome, &e.Attempts, &errMsg, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Error = errMsg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
