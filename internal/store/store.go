// Package store persists completed sessions in a SQLite archive. Sessions
// are append-only: once written they are never updated, matching the
// immutability of the attempt log they carry.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"vrlforge/internal/vrl"
)

// Store is the session archive.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Summary is a compact listing row.
type Summary struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Attempts   int       `json:"attempts"`
	FieldCount int       `json:"field_count"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// AggregateStats are archive-wide counters.
type AggregateStats struct {
	Sessions      int            `json:"sessions"`
	ByStatus      map[string]int `json:"by_status"`
	TotalAttempts int            `json:"total_attempts"`
	ErrorKinds    map[string]int `json:"error_kinds"`
}

// Open creates or opens the archive at path, creating parent directories
// as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating archive dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		final_script TEXT,
		field_count INTEGER,
		infra_cause TEXT,
		sample_json TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS attempts (
		session_id TEXT NOT NULL REFERENCES sessions(id),
		idx INTEGER NOT NULL,
		provenance TEXT NOT NULL,
		repair_of INTEGER NOT NULL,
		script TEXT NOT NULL,
		outcome_status TEXT NOT NULL,
		exit_code INTEGER,
		stderr TEXT,
		field_count INTEGER,
		error_kind TEXT,
		error_symbol TEXT,
		error_line INTEGER,
		error_column INTEGER,
		raw_message TEXT,
		suggested_fix TEXT,
		PRIMARY KEY (session_id, idx)
	);`)
	return err
}

// Save archives one finished session with all its attempts, atomically.
func (s *Store) Save(session *vrl.Session) error {
	if session.Status == vrl.SessionRunning {
		return fmt.Errorf("refusing to archive a running session")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sampleJSON, err := json.Marshal(session.Sample)
	if err != nil {
		return fmt.Errorf("encoding sample: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO sessions
		(id, status, final_script, field_count, infra_cause, sample_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.Status.String(),
		session.FinalScript,
		session.ExtractedFieldCount,
		session.InfraCause,
		string(sampleJSON),
		session.StartedAt.Format(time.RFC3339Nano),
		session.FinishedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	for _, a := range session.Attempts {
		var kind, symbol, rawMsg, fix string
		var line, column int
		if a.Error != nil {
			kind = a.Error.Kind.String()
			symbol = a.Error.Symbol
			rawMsg = a.Error.RawMessage
			fix = a.Error.SuggestedFix
			if a.Error.Location != nil {
				line = a.Error.Location.Line
				column = a.Error.Location.Column
			}
		}
		_, err = tx.Exec(`INSERT INTO attempts
			(session_id, idx, provenance, repair_of, script, outcome_status, exit_code, stderr, field_count, error_kind, error_symbol, error_line, error_column, raw_message, suggested_fix)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID,
			a.Candidate.Index,
			a.Candidate.Provenance.String(),
			a.Candidate.RepairOf,
			a.Candidate.Script,
			a.Outcome.Status.String(),
			a.Outcome.ExitCode,
			a.Outcome.Stderr,
			a.Outcome.ExtractedFieldCount,
			kind,
			symbol,
			line,
			column,
			rawMsg,
			fix,
		)
		if err != nil {
			return fmt.Errorf("inserting attempt %d: %w", a.Candidate.Index, err)
		}
	}
	return tx.Commit()
}

// List returns the newest sessions first, up to limit (0 means all).
func (s *Store) List(limit int) ([]Summary, error) {
	q := `SELECT s.id, s.status, s.field_count, s.started_at, s.finished_at,
		(SELECT COUNT(*) FROM attempts a WHERE a.session_id = s.id)
		FROM sessions s ORDER BY datetime(s.started_at) DESC`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var started, finished string
		if err := rows.Scan(&sum.ID, &sum.Status, &sum.FieldCount, &started, &finished, &sum.Attempts); err != nil {
			return nil, err
		}
		sum.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		sum.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Get loads one archived session with its full attempt log.
func (s *Store) Get(id string) (*vrl.Session, error) {
	row := s.db.QueryRow(`SELECT id, status, final_script, field_count, infra_cause, sample_json, started_at, finished_at
		FROM sessions WHERE id = ?`, id)

	var session vrl.Session
	var status, sampleJSON, started, finished string
	err := row.Scan(&session.ID, &status, &session.FinalScript, &session.ExtractedFieldCount,
		&session.InfraCause, &sampleJSON, &started, &finished)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	session.Status = parseStatus(status)
	session.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	session.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
	if err := json.Unmarshal([]byte(sampleJSON), &session.Sample); err != nil {
		return nil, fmt.Errorf("decoding sample: %w", err)
	}

	rows, err := s.db.Query(`SELECT idx, provenance, repair_of, script, outcome_status, exit_code, stderr, field_count, error_kind, error_symbol, error_line, error_column, raw_message, suggested_fix
		FROM attempts WHERE session_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a vrl.Attempt
		var provenance, outStatus, kind, symbol, rawMsg, fix string
		var line, column int
		if err := rows.Scan(&a.Candidate.Index, &provenance, &a.Candidate.RepairOf,
			&a.Candidate.Script, &outStatus, &a.Outcome.ExitCode, &a.Outcome.Stderr,
			&a.Outcome.ExtractedFieldCount, &kind, &symbol, &line, &column, &rawMsg, &fix); err != nil {
			return nil, err
		}
		if provenance == vrl.ProvenanceRepair.String() {
			a.Candidate.Provenance = vrl.ProvenanceRepair
		}
		a.Outcome.Status = parseOutcomeStatus(outStatus)
		if kind != "" {
			a.Error = &vrl.ErrorRecord{
				Kind:         parseKind(kind),
				RawMessage:   rawMsg,
				Symbol:       symbol,
				SuggestedFix: fix,
			}
			if line > 0 {
				a.Error.Location = &vrl.Location{Line: line, Column: column}
			}
		}
		session.Attempts = append(session.Attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if last := session.LastAttempt(); last != nil && session.Status == vrl.SessionExhausted {
		session.LastError = last.Error
	}
	return &session, nil
}

// Stats computes archive-wide counters.
func (s *Store) Stats() (AggregateStats, error) {
	stats := AggregateStats{
		ByStatus:   make(map[string]int),
		ErrorKinds: make(map[string]int),
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByStatus[status] = n
		stats.Sessions += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM attempts`).Scan(&stats.TotalAttempts); err != nil {
		return stats, err
	}

	rows, err = s.db.Query(`SELECT error_kind, COUNT(*) FROM attempts WHERE error_kind != '' GROUP BY error_kind`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return stats, err
		}
		stats.ErrorKinds[kind] = n
	}
	return stats, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func parseStatus(s string) vrl.SessionStatus {
	for _, st := range []vrl.SessionStatus{
		vrl.SessionSucceeded, vrl.SessionExhausted, vrl.SessionCancelled, vrl.SessionInfraError,
	} {
		if st.String() == s {
			return st
		}
	}
	return vrl.SessionRunning
}

func parseOutcomeStatus(s string) vrl.OutcomeStatus {
	switch s {
	case vrl.StatusTimeout.String():
		return vrl.StatusTimeout
	case vrl.StatusFailure.String():
		return vrl.StatusFailure
	default:
		return vrl.StatusSuccess
	}
}

func parseKind(s string) vrl.ErrorKind {
	for k := vrl.KindUndefinedSymbol; k <= vrl.KindUnclassified; k++ {
		if k.String() == s {
			return k
		}
	}
	return vrl.KindUnclassified
}
