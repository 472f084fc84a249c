package audit

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/glebarez/go-sqlite"
)

// sqliteIndex provides fast queries over the decision ledger using
// SQLite. The JSONL files are the source of truth; the SQLite index is
// a queryable projection that can be rebuilt from the JSONL files.
//
// The index is stored at <ledger dir>/index.db.
type sqliteIndex struct {
	db *sql.DB
}

// openIndex opens (or creates) the SQLite index database.
// Creates the decisions table and indexes if they don't exist.
func openIndex(path string) (*sqliteIndex, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite index %s: %w", path, err)
	}

	// WAL mode is used for concurrent read/write (hooks write, the
	// serve command and CLI read).
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS decisions (
			seq      INTEGER PRIMARY KEY,
			ts       TEXT NOT NULL,
			session  TEXT NOT NULL DEFAULT '',
			hook     TEXT NOT NULL DEFAULT '',
			tool     TEXT NOT NULL DEFAULT '',
			path     TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL DEFAULT '',
			reason   TEXT NOT NULL DEFAULT '',
			hash     TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_session ON decisions(session);
		CREATE INDEX IF NOT EXISTS idx_decision ON decisions(decision);
		CREATE INDEX IF NOT EXISTS idx_ts ON decisions(ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sqlite schema: %w", err)
	}

	return &sqliteIndex{db: db}, nil
}

// insert adds an entry to the SQLite index. Non-blocking — errors are
// logged but don't affect the primary JSONL ledger.
func (idx *sqliteIndex) insert(e *Entry) {
	_, err := idx.db.Exec(
		`INSERT OR REPLACE INTO decisions (seq, ts, session, hook, tool, path, decision, reason, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Seq, e.Timestamp, e.Session, e.Hook, e.Tool, e.Path,
		e.Decision, e.Reason, e.Hash,
	)
	if err != nil {
		slog.Error("sqlite index insert failed", "seq", e.Seq, "error", err)
	}
}

// query retrieves entries from the SQLite index matching the given params.
func (idx *sqliteIndex) query(params QueryParams) ([]Entry, error) {
	query := "SELECT seq, ts, session, hook, tool, path, decision, reason, hash FROM decisions WHERE 1=1"
	var args []any

	if params.Session != "" {
		query += " AND session = ?"
		args = append(args, params.Session)
	}
	if params.Tool != "" {
		query += " AND tool = ?"
		args = append(args, params.Tool)
	}
	if params.Decision != "" {
		query += " AND decision = ?"
		args = append(args, params.Decision)
	}
	if params.Since != "" {
		// Since is an ISO timestamp string, computed by the caller.
		query += " AND ts >= ?"
		args = append(args, params.Since)
	}

	query += " ORDER BY seq DESC"

	if params.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, params.Limit)
	}

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sqlite index: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		err := rows.Scan(
			&e.Seq, &e.Timestamp, &e.Session, &e.Hook, &e.Tool,
			&e.Path, &e.Decision, &e.Reason, &e.Hash,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sqlite row: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// tail returns the N most recent entries from the index.
func (idx *sqliteIndex) tail(limit int) ([]Entry, error) {
	return idx.query(QueryParams{Limit: limit})
}

// sessionStats aggregates the index by session, most recently active
// first. Denies are counted separately so the CLI and dashboard can
// surface sessions that keep hitting the gate.
func (idx *sqliteIndex) sessionStats() ([]SessionStat, error) {
	rows, err := idx.db.Query(`
		SELECT session,
		       COUNT(*),
		       SUM(CASE WHEN decision = 'deny' THEN 1 ELSE 0 END),
		       MIN(ts),
		       MAX(ts)
		FROM decisions
		WHERE session != ''
		GROUP BY session
		ORDER BY MAX(seq) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying session stats: %w", err)
	}
	defer rows.Close()

	var stats []SessionStat
	for rows.Next() {
		var s SessionStat
		if err := rows.Scan(&s.Session, &s.Events, &s.Denied, &s.FirstSeen, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning session stats row: %w", err)
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// lastSeq returns the highest sequence number in the index.
// Returns 0 if the index is empty.
func (idx *sqliteIndex) lastSeq() uint64 {
	var seq sql.NullInt64
	err := idx.db.QueryRow("SELECT MAX(seq) FROM decisions").Scan(&seq)
	if err != nil || !seq.Valid {
		return 0
	}
	return uint64(seq.Int64)
}

// close closes the SQLite database connection.
func (idx *sqliteIndex) close() error {
	return idx.db.Close()
}
