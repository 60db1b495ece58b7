package driven

import (
	"context"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
)

// ChangeNotifier is told after a credential's resolvable value may have
// changed, so caches can drop stale entries.
type ChangeNotifier interface {
	CredentialChanged(ctx context.Context, provider model.ProviderID, env model.Environment) error
}

// ResolutionMetrics records resolution outcomes and inventory state.
type ResolutionMetrics interface {
	ObserveResolution(provider model.ProviderID, source model.Source, cached bool)
	ObserveStoreFailure(provider model.ProviderID)
	ObserveKeyStats(stats model.KeyStats)
}
