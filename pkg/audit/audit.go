// Package audit implements the tamper-evident, hash-chained event journal.
//
// Every entry's hash covers the previous entry's hash for the same
// execution, so any later mutation of a stored row breaks verification at
// that row and every row after it.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/opsgate/opsgate/pkg/models"
)

// Event is the input for one audit write.
type Event struct {
	ExecutionID string
	RunbookID   string
	Type        models.AuditEventType
	Actor       string
	Details     map[string]any
}

// DefaultActor is recorded when an event has no explicit human actor.
const DefaultActor = "engine"

// Recorder appends events to the journal. The scheduler and queue executor
// depend on this interface rather than the SQL-backed logger directly.
type Recorder interface {
	Record(ctx context.Context, event Event) (*models.AuditEntry, error)
}

// ComputeHash derives an entry hash from the chain fields:
// SHA-256(prev_hash|event_type|execution_id|details_json|timestamp).
func ComputeHash(prevHash string, eventType models.AuditEventType, executionID string, detailsJSON []byte, timestamp string) string {
	payload := strings.Join([]string{
		prevHash,
		string(eventType),
		executionID,
		string(detailsJSON),
		timestamp,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// marshalDetails renders event details as the canonical details_json.
// A nil map serializes as an empty JSON object so hashing is stable.
func marshalDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		details = map[string]any{}
	}
	return json.Marshal(details)
}

// VerifyResult reports the outcome of an audit chain verification pass.
type VerifyResult struct {
	Valid bool

	// FirstInvalid is the index (into the verified slice) of the first
	// entry whose hash or prev_hash link does not replay; -1 when valid.
	FirstInvalid int
}

// VerifyChain replays the hash chain over entries, which must be one
// execution's log in insertion order. The first mismatching row identifies
// the tamper point; all subsequent rows are considered invalid.
func VerifyChain(entries []models.AuditEntry) VerifyResult {
	prevHash := ""
	for i, entry := range entries {
		if entry.PrevHash != prevHash {
			return VerifyResult{Valid: false, FirstInvalid: i}
		}
		expected := ComputeHash(entry.PrevHash, entry.EventType, entry.ExecutionID, entry.Details, entry.Timestamp)
		if entry.Hash != expected {
			return VerifyResult{Valid: false, FirstInvalid: i}
		}
		prevHash = entry.Hash
	}
	return VerifyResult{Valid: true, FirstInvalid: -1}
}
