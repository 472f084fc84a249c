package audit

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// Entry is a single decision-ledger record: one gate decision or
// lifecycle event, hash-chained to its predecessor.
type Entry struct {
	Seq       uint64 `json:"seq"`
	Timestamp string `json:"ts"`
	Session   string `json:"session,omitempty"`
	Hook      string `json:"hook,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Path      string `json:"path,omitempty"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason,omitempty"`
	PrevHash  string `json:"prev_hash"`
	Hash      string `json:"hash"`
}

// QueryParams defines filters for querying the ledger.
// All fields are optional — empty/zero values mean "no filter".
type QueryParams struct {
	Session  string // Filter by session ID (exact match).
	Tool     string // Filter by tool name (exact match).
	Decision string // Filter by decision: "allow", "deny", or "info".
	Since    string // ISO timestamp or duration string (e.g. "1h", "24h").
	PathGlob string // Glob pattern matched against the entry's file path.
	Limit    int    // Maximum entries to return.
}

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid          bool   `json:"valid"`
	EntriesChecked int    `json:"entries_checked"`
	BrokenAt       int    `json:"broken_at,omitempty"`
	ExpectedHash   string `json:"expected_hash,omitempty"`
	ActualHash     string `json:"actual_hash,omitempty"`
}

// SessionStat is a per-session aggregate computed from the ledger.
type SessionStat struct {
	Session   string `json:"session"`
	Events    int64  `json:"events"`
	Denied    int64  `json:"denied"`
	FirstSeen string `json:"first_seen"`
	LastSeen  string `json:"last_seen"`
}

// Ledger manages the hash-chained, append-only decision log.
//
// Storage layout under <project>/.claude/revgate/ledger/:
//
//	genesis.json        # First entry, establishes chain
//	2026-08-22.jsonl    # Today's entries (append-only)
//	index.db            # SQLite index for fast queries
//
// Thread-safe, though hook invocations are short-lived single-writer
// processes; the mutex matters for the serve command, which reads while
// hooks append.
type Ledger struct {
	mu       sync.Mutex
	dir      string       // Path to the ledger directory.
	seq      uint64       // Next sequence number.
	lastHash string       // Hash of the last entry (for chain continuity).
	index    *sqliteIndex // SQLite index for fast queries.
	file     *os.File     // Currently open daily JSONL file.
	fileDate string       // Date string of the currently open file (YYYY-MM-DD).
}

// Open opens or creates a ledger in the given directory.
// If the directory doesn't exist, it's created. If no genesis block
// exists, one is created to establish the hash chain.
func Open(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory %s: %w", dir, err)
	}

	l := &Ledger{
		dir:      dir,
		lastHash: "sha256:genesis",
	}

	idx, err := openIndex(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("opening ledger index: %w", err)
	}
	l.index = idx

	// Load the genesis block to establish chain continuity.
	if err := l.loadGenesis(); err != nil {
		idx.close()
		return nil, err
	}

	// Scan existing JSONL files to find the last sequence number and
	// hash, so the chain continues correctly across invocations.
	if err := l.recoverState(); err != nil {
		idx.close()
		return nil, err
	}

	// Debug level: the ledger opens on every hook invocation and must
	// stay quiet on stderr.
	slog.Debug("decision ledger opened", "dir", dir, "seq", l.seq)
	return l, nil
}

// Close flushes and closes the ledger and its SQLite index.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if l.index != nil {
		if err := l.index.close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("closing ledger: %v", errs)
	}
	return nil
}

// LogDecision records one gate decision for a tool action.
// Called by both hook pipelines after their per-invocation work.
func (l *Ledger) LogDecision(session, hook, tool, path, decision, reason string) {
	l.append(Entry{
		Session:  session,
		Hook:     hook,
		Tool:     tool,
		Path:     path,
		Decision: decision,
		Reason:   reason,
	})
}

// LogLifecycle records a revgate lifecycle event (serve start/stop).
func (l *Ledger) LogLifecycle(event string) {
	l.append(Entry{
		Tool:     event,
		Decision: "info",
	})
}

// Tail returns the N most recent ledger entries.
func (l *Ledger) Tail(limit int) ([]Entry, error) {
	if l.index != nil {
		return l.index.tail(limit)
	}
	// Fallback: read from JSONL files (slower).
	return l.readAllEntries(limit)
}

// Follow watches for new ledger entries, calling the callback for each.
// Blocks until the context is cancelled. Similar to `tail -f`.
// The serve command uses fsnotify instead; polling is fine for the CLI.
func (l *Ledger) Follow(ctx context.Context, callback func(Entry)) error {
	lastSeq := l.seq
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			entries, err := l.EntriesAfter(lastSeq)
			if err != nil {
				slog.Error("follow: error reading entries", "error", err)
				continue
			}
			for _, e := range entries {
				callback(e)
				if e.Seq > lastSeq {
					lastSeq = e.Seq
				}
			}
		}
	}
}

// Query retrieves entries matching the given filter parameters.
// Uses the SQLite index; the path glob is applied in memory afterward
// since SQL has no glob semantics to match the CLI's.
func (l *Ledger) Query(params QueryParams) ([]Entry, error) {
	// Convert "since" duration strings (e.g. "1h", "24h") to timestamps.
	if params.Since != "" && !strings.Contains(params.Since, "T") {
		d, err := time.ParseDuration(params.Since)
		if err != nil {
			return nil, fmt.Errorf("invalid since duration %q: %w", params.Since, err)
		}
		params.Since = time.Now().UTC().Add(-d).Format(time.RFC3339Nano)
	}

	var pathGlob glob.Glob
	if params.PathGlob != "" {
		g, err := glob.Compile(params.PathGlob)
		if err != nil {
			return nil, fmt.Errorf("invalid path glob %q: %w", params.PathGlob, err)
		}
		pathGlob = g
	}

	var entries []Entry
	var err error
	if l.index != nil {
		entries, err = l.index.query(params)
	} else {
		entries, err = l.readAllEntriesFiltered(params)
	}
	if err != nil {
		return nil, err
	}

	if pathGlob == nil {
		return entries, nil
	}
	filtered := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Path != "" && pathGlob.Match(e.Path) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// SessionStats returns per-session aggregates, most recently active first.
func (l *Ledger) SessionStats() ([]SessionStat, error) {
	if l.index != nil {
		return l.index.sessionStats()
	}

	entries, err := l.readAllEntries(0)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*SessionStat)
	lastSeq := make(map[string]uint64)
	for _, e := range entries {
		if e.Session == "" {
			continue
		}
		st, ok := byID[e.Session]
		if !ok {
			st = &SessionStat{Session: e.Session, FirstSeen: e.Timestamp}
			byID[e.Session] = st
		}
		st.Events++
		if e.Decision == "deny" {
			st.Denied++
		}
		st.LastSeen = e.Timestamp
		lastSeq[e.Session] = e.Seq
	}
	stats := make([]SessionStat, 0, len(byID))
	for _, st := range byID {
		stats = append(stats, *st)
	}
	// Most recently active first, matching the index path.
	sort.Slice(stats, func(i, j int) bool {
		return lastSeq[stats[i].Session] > lastSeq[stats[j].Session]
	})
	return stats, nil
}

// VerifyChain reads all ledger entries and verifies hash chain integrity.
// Returns the verification result, including where the chain broke.
func (l *Ledger) VerifyChain() (VerifyResult, error) {
	entries, err := l.readAllEntries(0) // 0 = no limit, read all
	if err != nil {
		return VerifyResult{}, fmt.Errorf("reading entries for verification: %w", err)
	}

	if len(entries) == 0 {
		return VerifyResult{Valid: true, EntriesChecked: 0}, nil
	}

	for i, e := range entries {
		expected := computeHash(&e)
		if e.Hash != expected {
			return VerifyResult{
				Valid:          false,
				EntriesChecked: i + 1,
				BrokenAt:       i,
				ExpectedHash:   expected,
				ActualHash:     e.Hash,
			}, nil
		}

		// Also verify chain linkage: each entry's PrevHash must match
		// the previous entry's Hash (except the first).
		if i > 0 && e.PrevHash != entries[i-1].Hash {
			return VerifyResult{
				Valid:          false,
				EntriesChecked: i + 1,
				BrokenAt:       i,
				ExpectedHash:   entries[i-1].Hash,
				ActualHash:     e.PrevHash,
			}, nil
		}
	}

	return VerifyResult{Valid: true, EntriesChecked: len(entries)}, nil
}

// Export writes all ledger entries to w in the specified format.
// Supported formats: "jsonl" (default), "json", "csv".
func (l *Ledger) Export(w io.Writer, format string) error {
	entries, err := l.readAllEntries(0)
	if err != nil {
		return fmt.Errorf("reading entries for export: %w", err)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)

	case "csv":
		cw := csv.NewWriter(w)
		defer cw.Flush()
		if err := cw.Write([]string{"seq", "ts", "session", "hook", "tool", "path", "decision", "hash"}); err != nil {
			return err
		}
		for _, e := range entries {
			if err := cw.Write([]string{
				fmt.Sprintf("%d", e.Seq),
				e.Timestamp,
				e.Session,
				e.Hook,
				e.Tool,
				e.Path,
				e.Decision,
				e.Hash,
			}); err != nil {
				return err
			}
		}
		return nil

	case "jsonl", "":
		enc := json.NewEncoder(w)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unsupported export format: %s (use json, jsonl, or csv)", format)
	}
}

// LastSeq returns the sequence number of the most recent entry.
func (l *Ledger) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// EntriesAfter reads entries with seq > afterSeq from today's JSONL file.
// Used by Follow and by the serve command's fsnotify-driven feed.
func (l *Ledger) EntriesAfter(afterSeq uint64) ([]Entry, error) {
	today := time.Now().UTC().Format("2006-01-02")
	path := filepath.Join(l.dir, today+".jsonl")

	entries, err := readEntriesFromFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var result []Entry
	for _, e := range entries {
		if e.Seq > afterSeq {
			result = append(result, e)
		}
	}
	return result, nil
}

// append adds an entry to the ledger. Thread-safe.
// Computes the hash chain, writes to the daily JSONL file, and updates
// the SQLite index.
func (l *Ledger) append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Hook invocations are separate short-lived processes, so a
	// long-running holder (the serve command) can have stale in-memory
	// chain state. Re-adopt the on-disk tail before extending it.
	l.resyncTail()

	// Fill in chain fields.
	l.seq++
	e.Seq = l.seq
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	e.PrevHash = l.lastHash
	e.Hash = computeHash(&e)

	// Write to the daily JSONL file.
	if err := l.writeToFile(&e); err != nil {
		slog.Error("ledger write failed", "seq", e.Seq, "error", err)
		return
	}

	// Update the SQLite index (non-blocking, errors logged internally).
	if l.index != nil {
		l.index.insert(&e)
	}

	// Update chain state.
	l.lastHash = e.Hash
}

// resyncTail picks up entries another process appended since this
// ledger last wrote. Without it, the next append would reuse a seq and
// fork the chain. Caller holds l.mu.
func (l *Ledger) resyncTail() {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil || len(files) == 0 {
		return
	}
	// Files are date-named, so the glob's last file holds the tail.
	last, err := readLastEntry(files[len(files)-1])
	if err != nil || last == nil {
		return
	}
	if last.Seq > l.seq {
		l.seq = last.Seq
		l.lastHash = last.Hash
	}
}

// writeToFile appends the entry as a single JSON line to today's JSONL
// file, opening a new file if the date has changed.
func (l *Ledger) writeToFile(e *Entry) error {
	today := time.Now().UTC().Format("2006-01-02")

	if l.file == nil || l.fileDate != today {
		if l.file != nil {
			l.file.Close()
		}

		path := filepath.Join(l.dir, today+".jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening ledger file %s: %w", path, err)
		}
		l.file = f
		l.fileDate = today
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling ledger entry: %w", err)
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing ledger entry: %w", err)
	}

	// Flush immediately — the chain state must survive crashes.
	return l.file.Sync()
}

// loadGenesis loads or creates the genesis block that establishes the
// chain. The genesis block has seq=0 and a fixed prev_hash.
func (l *Ledger) loadGenesis() error {
	genesisPath := filepath.Join(l.dir, "genesis.json")

	data, err := os.ReadFile(genesisPath)
	if err != nil {
		if os.IsNotExist(err) {
			return l.createGenesis(genesisPath)
		}
		return fmt.Errorf("reading genesis: %w", err)
	}

	var genesis Entry
	if err := json.Unmarshal(data, &genesis); err != nil {
		return fmt.Errorf("parsing genesis: %w", err)
	}

	l.lastHash = genesis.Hash
	l.seq = genesis.Seq
	return nil
}

// createGenesis writes the genesis block that starts the hash chain.
func (l *Ledger) createGenesis(path string) error {
	genesis := Entry{
		Seq:       0,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Tool:      "genesis",
		Decision:  "info",
		PrevHash:  "sha256:genesis",
	}
	genesis.Hash = computeHash(&genesis)

	data, err := json.MarshalIndent(genesis, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing genesis: %w", err)
	}

	l.lastHash = genesis.Hash
	l.seq = 0

	slog.Debug("ledger genesis created", "hash", genesis.Hash)
	return nil
}

// recoverState scans existing JSONL files to find the last seq and hash,
// so the chain continues correctly across invocations.
func (l *Ledger) recoverState() error {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("listing ledger files: %w", err)
	}

	if len(files) == 0 {
		return nil
	}

	// Read the last entry from the most recent file (files are
	// date-sorted). Only its seq and hash are needed to continue.
	lastFile := files[len(files)-1]
	lastEntry, err := readLastEntry(lastFile)
	if err != nil {
		return fmt.Errorf("recovering ledger state from %s: %w", lastFile, err)
	}

	if lastEntry != nil {
		l.seq = lastEntry.Seq
		l.lastHash = lastEntry.Hash

		// Re-index entries that might be missing from the SQLite index
		// (e.g. if a hook process died before indexing).
		if l.index != nil {
			l.reindex(files)
		}
	}

	return nil
}

// reindex scans JSONL files and inserts any entries missing from the
// SQLite index. Called on open to recover from incomplete indexing.
func (l *Ledger) reindex(files []string) {
	indexLastSeq := l.index.lastSeq()

	for _, file := range files {
		entries, err := readEntriesFromFile(file)
		if err != nil {
			slog.Debug("reindex: error reading file", "file", file, "error", err)
			continue
		}
		for _, e := range entries {
			if e.Seq > indexLastSeq {
				l.index.insert(&e)
			}
		}
	}
}

// readLastEntry reads the last non-empty line from a JSONL file and
// parses it as an Entry. Returns nil if the file is empty.
func readLastEntry(path string) (*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lastLine string
	scanner := bufio.NewScanner(f)
	// Set a large buffer for potentially long deny reasons.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			lastLine = line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if lastLine == "" {
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(lastLine), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// readEntriesFromFile reads all entries from a single JSONL file.
func readEntriesFromFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			slog.Warn("skipping malformed ledger entry", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// readAllEntries reads entries from all JSONL files. If limit > 0,
// returns only the last N entries.
func (l *Ledger) readAllEntries(limit int) ([]Entry, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("listing ledger files: %w", err)
	}

	var all []Entry
	for _, file := range files {
		entries, err := readEntriesFromFile(file)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// readAllEntriesFiltered reads all entries and applies filters in memory.
// Used as a fallback when the SQLite index is unavailable.
func (l *Ledger) readAllEntriesFiltered(params QueryParams) ([]Entry, error) {
	entries, err := l.readAllEntries(0)
	if err != nil {
		return nil, err
	}

	var filtered []Entry
	for _, e := range entries {
		if params.Session != "" && e.Session != params.Session {
			continue
		}
		if params.Tool != "" && e.Tool != params.Tool {
			continue
		}
		if params.Decision != "" && e.Decision != params.Decision {
			continue
		}
		if params.Since != "" && e.Timestamp < params.Since {
			continue
		}
		filtered = append(filtered, e)
	}

	if params.Limit > 0 && len(filtered) > params.Limit {
		filtered = filtered[len(filtered)-params.Limit:]
	}
	return filtered, nil
}
