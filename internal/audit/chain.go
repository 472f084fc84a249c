// Package audit persists the hook audit trail.
//
// Two surfaces live here. The Writer appends the per-invocation hook
// records (preflight.jsonl, cycle.jsonl) under the event's working
// directory — plain best-effort JSONL whose shape is a contract with
// other tooling. The Ledger is the project's decision trail: every gate
// decision is an Entry in an append-only, hash-chained JSONL log with a
// SQLite index for queries. Each ledger entry's hash is computed as
// SHA-256(prev_hash | seq | ts | session | tool | decision), so
// tampering with any entry breaks the chain from that point forward.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// computeHash calculates the SHA-256 hash for a ledger entry.
// The hash depends on the previous entry's hash, creating a chain
// where modifying any entry invalidates all subsequent entries.
//
// Returns a prefixed hash string: "sha256:<hex>".
func computeHash(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s",
		e.PrevHash, e.Seq, e.Timestamp,
		e.Session, e.Tool, e.Decision)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// verifyEntry checks whether an entry's hash is valid given its contents.
// Returns true if the stored hash matches the computed hash.
func verifyEntry(e *Entry) bool {
	expected := computeHash(e)
	return e.Hash == expected
}
