package driven

import "github.com/ericfisherdev/syskeys/internal/domain/model"

// FallbackTable supplies bootstrap secrets from process configuration for
// the closed set of known providers.
type FallbackTable interface {
	// Lookup returns the configured value and whether it is non-empty.
	Lookup(provider model.ProviderID) (string, bool)

	// EnvVar names the configuration key consulted for provider, or "" if
	// provider has no fallback.
	EnvVar(provider model.ProviderID) string

	// Providers returns every provider the table declares.
	Providers() []model.ProviderID
}
