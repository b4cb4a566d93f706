package archive

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"shadowrunner/capture"
)

// Archive is the long-term sqlite history of captured traffic. The JSON
// session store stays the system of record for sessions; the archive keeps
// every observed interaction, captured or filtered, so frequency analysis
// can run over the full stream later.
type Archive struct {
	db *sql.DB
}

func NewArchive(dbPath string) (*Archive, error) {
	if len(dbPath) == 0 {
		return nil, fmt.Errorf("archive path cannot be empty")
	}

	if dbPath[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, dbPath[1:])
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	// WAL mode supports multiple readers and one writer simultaneously
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	a := &Archive{db: db}
	if err := a.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return a, nil
}

func (a *Archive) createTables() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS capture_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`

	interactionsTable := `
	CREATE TABLE IF NOT EXISTS interactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		interaction_id TEXT UNIQUE NOT NULL,
		session_id TEXT,
		protocol TEXT NOT NULL CHECK(protocol IN ('http', 'grpc')),
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		request_headers TEXT,
		request_body BLOB,
		response_status INTEGER,
		response_headers TEXT,
		response_body BLOB,
		latency_ms INTEGER DEFAULT 0,
		sequence_number INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES capture_runs(id)
	);`

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_run_sequence ON interactions(run_id, sequence_number);",
		"CREATE INDEX IF NOT EXISTS idx_method_path ON interactions(method, path);",
		"CREATE INDEX IF NOT EXISTS idx_created_at ON interactions(created_at);",
	}

	if _, err := a.db.Exec(runsTable); err != nil {
		return fmt.Errorf("failed to create capture_runs table: %w", err)
	}

	if _, err := a.db.Exec(interactionsTable); err != nil {
		return fmt.Errorf("failed to create interactions table: %w", err)
	}

	for _, index := range indexes {
		if _, err := a.db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// BeginRun opens a new recording window.
func (a *Archive) BeginRun(label string) (*CaptureRun, error) {
	query := `INSERT INTO capture_runs (label) VALUES (?)`
	result, err := a.db.Exec(query, label)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get run ID: %w", err)
	}

	return &CaptureRun{
		ID:        id,
		Label:     label,
		StartedAt: time.Now(),
	}, nil
}

// Runs lists recording windows, newest first.
func (a *Archive) Runs() ([]CaptureRun, error) {
	query := `SELECT id, label, started_at FROM capture_runs ORDER BY started_at DESC, id DESC`
	rows, err := a.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture runs: %w", err)
	}
	defer rows.Close()

	var runs []CaptureRun
	for rows.Next() {
		var run CaptureRun
		if err := rows.Scan(&run.ID, &run.Label, &run.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan capture run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// RecordInteraction archives one interaction under a run. Interactions that
// already carry a sequence number keep it; otherwise the next number within
// the run is assigned inside the same transaction.
func (a *Archive) RecordInteraction(runID int64, ix *capture.CapturedInteraction) error {
	row, err := fromCaptured(runID, ix)
	if err != nil {
		return err
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if row.SequenceNumber <= 0 {
		sequenceNumber, err := nextSequenceNumber(tx, runID)
		if err != nil {
			return fmt.Errorf("failed to get sequence number: %w", err)
		}
		row.SequenceNumber = sequenceNumber
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO interactions (
			run_id, interaction_id, session_id, protocol, method, path,
			request_headers, request_body, response_status, response_headers,
			response_body, latency_ms, sequence_number, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var responseStatus interface{}
	if row.ResponseStatus != 0 {
		responseStatus = row.ResponseStatus
	}

	_, err = tx.Exec(query,
		row.RunID,
		row.InteractionID,
		row.SessionID,
		row.Protocol,
		row.Method,
		row.Path,
		row.RequestHeaders,
		row.RequestBody,
		responseStatus,
		row.ResponseHeaders,
		row.ResponseBody,
		row.LatencyMS,
		row.SequenceNumber,
		row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}

	return tx.Commit()
}

func nextSequenceNumber(tx *sql.Tx, runID int64) (int64, error) {
	query := `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM interactions WHERE run_id = ?`
	row := tx.QueryRow(query, runID)

	var sequenceNumber int64
	if err := row.Scan(&sequenceNumber); err != nil {
		return 0, fmt.Errorf("failed to get next sequence number: %w", err)
	}

	return sequenceNumber, nil
}

const interactionColumns = `id, run_id, interaction_id, session_id, protocol, method, path,
	request_headers, request_body, COALESCE(response_status, 0), response_headers,
	response_body, latency_ms, sequence_number, created_at`

// InteractionsByRun returns a run's interactions in capture order.
func (a *Archive) InteractionsByRun(runID int64) ([]StoredInteraction, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM interactions
		WHERE run_id = ?
		ORDER BY sequence_number ASC`

	rows, err := a.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get interactions by run: %w", err)
	}
	defer rows.Close()

	return scanInteractions(rows)
}

// RecentInteractions returns the newest interactions across all runs.
func (a *Archive) RecentInteractions(limit int) ([]StoredInteraction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + interactionColumns + `
		FROM interactions
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := a.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent interactions: %w", err)
	}
	defer rows.Close()

	return scanInteractions(rows)
}

func scanInteractions(rows *sql.Rows) ([]StoredInteraction, error) {
	var interactions []StoredInteraction
	for rows.Next() {
		var ix StoredInteraction
		err := rows.Scan(
			&ix.ID,
			&ix.RunID,
			&ix.InteractionID,
			&ix.SessionID,
			&ix.Protocol,
			&ix.Method,
			&ix.Path,
			&ix.RequestHeaders,
			&ix.RequestBody,
			&ix.ResponseStatus,
			&ix.ResponseHeaders,
			&ix.ResponseBody,
			&ix.LatencyMS,
			&ix.SequenceNumber,
			&ix.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		interactions = append(interactions, ix)
	}

	return interactions, rows.Err()
}

// EndpointCounts aggregates archived traffic per method+path.
func (a *Archive) EndpointCounts() (map[string]int64, error) {
	query := `SELECT method, path, COUNT(*) FROM interactions GROUP BY method, path`
	rows, err := a.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to count endpoints: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var method, path string
		var count int64
		if err := rows.Scan(&method, &path, &count); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint count: %w", err)
		}
		counts[method+" "+path] = count
	}

	return counts, rows.Err()
}

// Prune drops interactions archived before the cutoff, then any runs left
// empty. It returns the number of interactions removed.
func (a *Archive) Prune(before time.Time) (int64, error) {
	tx, err := a.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`DELETE FROM interactions WHERE created_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune interactions: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned interactions: %w", err)
	}

	_, err = tx.Exec(`
		DELETE FROM capture_runs
		WHERE started_at < ?
		  AND id NOT IN (SELECT DISTINCT run_id FROM interactions)`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune empty runs: %w", err)
	}

	return removed, tx.Commit()
}
