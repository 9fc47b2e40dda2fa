package audit

import (
	"context"
	"sync"
	"time"

	"github.com/opsgate/opsgate/pkg/models"
)

// MemoryLog is an in-memory Recorder maintaining the same hash chain as the
// SQL-backed Logger. Intended for tests and dry runs.
type MemoryLog struct {
	mu      sync.Mutex
	nextID  int64
	entries map[string][]models.AuditEntry
}

// NewMemoryLog creates an empty in-memory journal.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: make(map[string][]models.AuditEntry)}
}

// Record appends one entry, chaining off the previous entry for the same
// execution.
func (m *MemoryLog) Record(_ context.Context, event Event) (*models.AuditEntry, error) {
	detailsJSON, err := marshalDetails(event.Details)
	if err != nil {
		return nil, err
	}

	actor := event.Actor
	if actor == "" {
		actor = DefaultActor
	}
	timestamp := models.FormatTimestamp(time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	var prevHash string
	if chain := m.entries[event.ExecutionID]; len(chain) > 0 {
		prevHash = chain[len(chain)-1].Hash
	}

	m.nextID++
	entry := models.AuditEntry{
		ID:          m.nextID,
		Timestamp:   timestamp,
		ExecutionID: event.ExecutionID,
		RunbookID:   event.RunbookID,
		EventType:   event.Type,
		Actor:       actor,
		Details:     detailsJSON,
		Success:     event.Type.Success(),
		PrevHash:    prevHash,
		Hash:        ComputeHash(prevHash, event.Type, event.ExecutionID, detailsJSON, timestamp),
	}
	m.entries[event.ExecutionID] = append(m.entries[event.ExecutionID], entry)
	return &entry, nil
}

// GetExecutionLog returns the chain for one execution in insertion order.
func (m *MemoryLog) GetExecutionLog(executionID string) []models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.entries[executionID]
	out := make([]models.AuditEntry, len(chain))
	copy(out, chain)
	return out
}

// EventTypes returns the chain's event types in order, for assertions.
func (m *MemoryLog) EventTypes(executionID string) []models.AuditEventType {
	entries := m.GetExecutionLog(executionID)
	out := make([]models.AuditEventType, len(entries))
	for i, e := range entries {
		out[i] = e.EventType
	}
	return out
}
