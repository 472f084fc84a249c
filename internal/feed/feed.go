// Package feed serves the revgate live review feed: a single-page HTML
// view over the decision ledger, with new entries pushed to connected
// browsers over WebSocket as hook invocations append them.
//
//   - Web UI:     GET /                — Single-page HTML feed
//   - WebSocket:  GET /ws              — Live decision stream
//   - REST API:   GET /api/status      — Server and ledger status
//                 GET /api/decisions   — Recent ledger entries (filterable)
//                 GET /api/sessions    — Per-session aggregates
//                 GET /api/guidelines  — Guideline catalog
//
// The page is embedded HTML (no build step, no framework). The API is
// read-only: the feed observes hook activity, it never drives it. Hook
// invocations run in separate processes, so new entries reach the feed
// through the filesystem — the serve command watches the ledger
// directory and calls PublishNew on each append.
package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/revgate/revgate/internal/audit"
	"github.com/revgate/revgate/internal/guideline"
)

// Options holds the dependencies injected into the feed server.
type Options struct {
	Ledger     *audit.Ledger
	ProjectDir string
}

// Server serves the feed page, the REST API, and the WebSocket stream.
type Server struct {
	ledger     *audit.Ledger
	projectDir string
	hub        *wsHub

	mu      sync.Mutex
	lastSeq uint64 // Highest ledger seq already published to clients.
}

// New creates a feed server over the given ledger and starts its
// WebSocket broadcast hub.
func New(opts Options) *Server {
	s := &Server{
		ledger:     opts.Ledger,
		projectDir: opts.ProjectDir,
		hub:        newWSHub(),
		lastSeq:    opts.Ledger.LastSeq(),
	}

	go s.hub.run()

	return s
}

// Handler returns the full route table for the feed listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/status", s.handleAPIStatus)
	mux.HandleFunc("/api/decisions", s.handleAPIDecisions)
	mux.HandleFunc("/api/sessions", s.handleAPISessions)
	mux.HandleFunc("/api/guidelines", s.handleAPIGuidelines)

	return mux
}

// PublishNew reads ledger entries appended since the last publish and
// broadcasts them to connected WebSocket clients. Called when the
// ledger directory watcher reports an append. Safe to call from any
// goroutine; a publish that finds nothing new is a no-op.
func (s *Server) PublishNew() {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.ledger.EntriesAfter(s.lastSeq)
	if err != nil {
		slog.Error("reading new ledger entries failed", "error", err)
		return
	}

	for _, e := range entries {
		if e.Seq > s.lastSeq {
			s.lastSeq = e.Seq
		}
		s.broadcastEntry(e)
	}
}

// broadcastEntry sends one ledger entry to all connected WebSocket
// clients. Non-blocking — with no clients connected, the entry is
// dropped.
func (s *Server) broadcastEntry(e audit.Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("failed to marshal feed entry", "error", err)
		return
	}
	s.hub.broadcast(data)
}

// handleIndex serves the embedded HTML feed page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(feedHTML))
}

// --- REST API Handlers ---

// handleAPIStatus returns server and ledger status information.
// GET /api/status
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	status := map[string]any{
		"status":      "running",
		"project_dir": s.projectDir,
		"last_seq":    s.ledger.LastSeq(),
		"guidelines":  len(guideline.Catalog()),
	}

	writeJSON(w, http.StatusOK, status)
}

// handleAPIDecisions returns recent decision ledger entries.
// GET /api/decisions?limit=50&session=abc&tool=Edit&decision=deny&since=1h&path=*.go
func (s *Server) handleAPIDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	params := audit.QueryParams{
		Session:  r.URL.Query().Get("session"),
		Tool:     r.URL.Query().Get("tool"),
		Decision: r.URL.Query().Get("decision"),
		Since:    r.URL.Query().Get("since"),
		PathGlob: r.URL.Query().Get("path"),
		Limit:    limit,
	}

	entries, err := s.ledger.Query(params)
	if err != nil {
		slog.Error("ledger query failed", "error", err)
		http.Error(w, "ledger query failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// handleAPISessions returns per-session aggregates from the ledger.
// GET /api/sessions
func (s *Server) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.ledger.SessionStats()
	if err != nil {
		slog.Error("session stats failed", "error", err)
		http.Error(w, "session stats failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleAPIGuidelines returns the guideline catalog.
// GET /api/guidelines
func (s *Server) handleAPIGuidelines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, guideline.Catalog())
}

// --- Helpers ---

// writeJSON sends a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// feedHTML is the embedded HTML for the live review feed. Minimal
// single-page UI showing per-session stats, the guideline catalog, and
// a live decision stream. Refreshes via periodic fetch + WebSocket.
const feedHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Revgate Review Feed</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
         background: #0f1117; color: #e1e4e8; padding: 24px; }
  h1 { font-size: 24px; margin-bottom: 8px; }
  .subtitle { color: #8b949e; margin-bottom: 24px; }
  .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; margin-bottom: 24px; }
  .card { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 16px; }
  .card h2 { font-size: 14px; color: #8b949e; text-transform: uppercase; margin-bottom: 12px; }
  table { width: 100%; border-collapse: collapse; font-size: 13px; }
  th { text-align: left; color: #8b949e; padding: 6px 8px; border-bottom: 1px solid #30363d; }
  td { padding: 6px 8px; border-bottom: 1px solid #21262d; }
  .denied { color: #f85149; }
  .decision-deny { color: #f85149; font-weight: bold; }
  .decision-allow { color: #3fb950; }
  .decision-info { color: #58a6ff; }
  #live-feed { max-height: 300px; overflow-y: auto; font-family: monospace; font-size: 12px; }
  .feed-entry { padding: 4px 0; border-bottom: 1px solid #21262d; }
</style>
</head>
<body>
<h1>Revgate Review Feed</h1>
<p class="subtitle">Lifecycle hooks for coding agents — guideline findings, test gate, decision ledger</p>

<div class="grid">
  <div class="card">
    <h2>Sessions</h2>
    <table>
      <thead><tr><th>Session</th><th>Events</th><th>Denied</th><th>Last Seen</th></tr></thead>
      <tbody id="sessions-tbody"><tr><td colspan="4">Loading...</td></tr></tbody>
    </table>
  </div>
  <div class="card">
    <h2>Guidelines</h2>
    <table>
      <thead><tr><th>Category</th><th>Title</th><th>Reference</th></tr></thead>
      <tbody id="guidelines-tbody"><tr><td colspan="3">Loading...</td></tr></tbody>
    </table>
  </div>
</div>

<div class="card">
  <h2>Live Decision Feed</h2>
  <div id="live-feed"><div class="feed-entry">Connecting...</div></div>
</div>

<script>
function esc(s) {
  if (s == null) return '';
  return String(s).replace(/&/g,'&amp;').replace(/</g,'&lt;').replace(/>/g,'&gt;').replace(/"/g,'&quot;').replace(/'/g,'&#39;');
}

function entryLine(e) {
  const cls = e.decision === 'deny' ? 'decision-deny' : e.decision === 'allow' ? 'decision-allow' : 'decision-info';
  return '[' + esc(e.ts) + '] session=' + esc(e.session||'-') +
    ' tool=' + esc(e.tool||'-') + ' <span class="' + cls + '">' + esc(e.decision) + '</span>' +
    (e.path ? ' path=' + esc(e.path) : '');
}

async function refresh() {
  try {
    const [sessionsRes, guidelinesRes, decisionsRes] = await Promise.all([
      fetch('/api/sessions'), fetch('/api/guidelines'), fetch('/api/decisions?limit=20')
    ]);
    const sessions = await sessionsRes.json();
    const guidelines = await guidelinesRes.json();
    const decisions = await decisionsRes.json();
    renderSessions(sessions);
    renderGuidelines(guidelines);
    renderDecisions(decisions);
  } catch(e) { console.error('refresh failed:', e); }
}

function renderSessions(sessions) {
  const tbody = document.getElementById('sessions-tbody');
  if (!sessions || sessions.length === 0) { tbody.innerHTML = '<tr><td colspan="4">No sessions yet</td></tr>'; return; }
  tbody.innerHTML = sessions.map(s => {
    const denied = s.denied > 0 ? '<span class="denied">' + s.denied + '</span>' : s.denied;
    return '<tr><td>' + esc(s.session) + '</td><td>' + s.events +
      '</td><td>' + denied + '</td><td>' + esc(s.last_seen) + '</td></tr>';
  }).join('');
}

function renderGuidelines(guidelines) {
  const tbody = document.getElementById('guidelines-tbody');
  if (!guidelines || guidelines.length === 0) { tbody.innerHTML = '<tr><td colspan="3">No guidelines</td></tr>'; return; }
  tbody.innerHTML = guidelines.map(g =>
    '<tr><td>' + esc(g.category) + '</td><td>' + esc(g.title) + '</td><td>' + esc(g.reference) + '</td></tr>'
  ).join('');
}

function renderDecisions(entries) {
  const feed = document.getElementById('live-feed');
  if (!entries || entries.length === 0) { feed.innerHTML = '<div class="feed-entry">No decisions yet</div>'; return; }
  feed.innerHTML = entries.map(e => '<div class="feed-entry">' + entryLine(e) + '</div>').join('');
}

// WebSocket for live updates.
function connectWS() {
  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/ws');
  ws.onmessage = function(e) {
    try {
      const entry = JSON.parse(e.data);
      const feed = document.getElementById('live-feed');
      const div = document.createElement('div');
      div.className = 'feed-entry';
      div.innerHTML = entryLine(entry);
      feed.insertBefore(div, feed.firstChild);
      // Keep feed under 100 entries.
      while (feed.children.length > 100) feed.removeChild(feed.lastChild);
      refreshSessionsSoon();
    } catch(err) { console.error('ws parse error:', err); }
  };
  ws.onclose = function() { setTimeout(connectWS, 3000); };
  ws.onerror = function() { ws.close(); };
}

// Debounced session-table refresh after live entries arrive.
let sessionsTimer = null;
function refreshSessionsSoon() {
  if (sessionsTimer) return;
  sessionsTimer = setTimeout(async function() {
    sessionsTimer = null;
    try {
      const res = await fetch('/api/sessions');
      renderSessions(await res.json());
    } catch(e) { console.error('sessions refresh failed:', e); }
  }, 1000);
}

refresh();
setInterval(refresh, 5000);
connectWS();
</script>
</body>
</html>`
