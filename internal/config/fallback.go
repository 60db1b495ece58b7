package config

import (
	"os"
	"strings"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.FallbackTable = (*FallbackTable)(nil)

// providerEnvVars is the bootstrap fallback for every known provider.
// TestProviderEnvVars_Total keeps it in step with model.Providers.
var providerEnvVars = map[model.ProviderID]string{
	model.ProviderDeepgram:       "DEEPGRAM_API_KEY",
	model.ProviderAssemblyAI:     "ASSEMBLYAI_API_KEY",
	model.ProviderOpenAI:         "OPENAI_API_KEY",
	model.ProviderAnthropic:      "ANTHROPIC_API_KEY",
	model.ProviderStripe:         "STRIPE_SECRET_KEY",
	model.ProviderStripeWebhook:  "STRIPE_WEBHOOK_SECRET",
	model.ProviderGoogleOAuth:    "GOOGLE_CLIENT_SECRET",
	model.ProviderMicrosoftOAuth: "MICROSOFT_CLIENT_SECRET",
	model.ProviderResend:         "RESEND_API_KEY",
}

// FallbackTable resolves provider secrets from process configuration.
type FallbackTable struct {
	lookup func(string) (string, bool)
}

// NewFallbackTable returns a table reading the process environment.
func NewFallbackTable() *FallbackTable {
	return NewFallbackTableWithLookup(os.LookupEnv)
}

// NewFallbackTableWithLookup returns a table reading values through lookup.
func NewFallbackTableWithLookup(lookup func(string) (string, bool)) *FallbackTable {
	return &FallbackTable{lookup: lookup}
}

// Lookup returns the trimmed configured value for provider. Blank values
// and providers without a mapping report false.
func (t *FallbackTable) Lookup(provider model.ProviderID) (string, bool) {
	key, ok := providerEnvVars[provider]
	if !ok {
		return "", false
	}
	v, ok := t.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// EnvVar names the environment variable consulted for provider.
func (t *FallbackTable) EnvVar(provider model.ProviderID) string {
	return providerEnvVars[provider]
}

// Providers returns the providers declared by the table, in model order.
func (t *FallbackTable) Providers() []model.ProviderID {
	providers := make([]model.ProviderID, 0, len(providerEnvVars))
	for _, p := range model.Providers() {
		if _, ok := providerEnvVars[p]; ok {
			providers = append(providers, p)
		}
	}
	return providers
}
