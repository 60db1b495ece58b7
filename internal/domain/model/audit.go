package model

import "time"

// AuditContext identifies who performed a mutation and from where.
type AuditContext struct {
	ActorID   string
	IPAddress string
	UserAgent string
}

// AuditEvent is one entry in the audit trail. Data maps carry metadata only:
// never plaintext or ciphertext.
type AuditEvent struct {
	Action       AuditAction
	EntityType   string
	EntityID     string
	PreviousData map[string]any
	NewData      map[string]any
	Details      map[string]any
	OccurredAt   time.Time
}

// AuditEntityCredential is the entity type recorded for credential events.
const AuditEntityCredential = "credential"

// AuditRecord is a persisted audit event together with its context.
type AuditRecord struct {
	ID      int64
	Context AuditContext
	Event   AuditEvent
}
