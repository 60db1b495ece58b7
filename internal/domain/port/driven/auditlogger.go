package driven

import (
	"context"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
)

// AuditLogger records credential mutations. Callers treat failures as
// observability loss, not as a reason to undo the mutation.
type AuditLogger interface {
	Log(ctx context.Context, actx model.AuditContext, event model.AuditEvent) error
}
