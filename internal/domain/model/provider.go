package model

// ProviderID identifies a third-party integration whose secret is managed.
type ProviderID string

const (
	ProviderDeepgram       ProviderID = "deepgram"
	ProviderAssemblyAI     ProviderID = "assemblyai"
	ProviderOpenAI         ProviderID = "openai"
	ProviderAnthropic      ProviderID = "anthropic"
	ProviderStripe         ProviderID = "stripe"
	ProviderStripeWebhook  ProviderID = "stripe_webhook"
	ProviderGoogleOAuth    ProviderID = "google_oauth"
	ProviderMicrosoftOAuth ProviderID = "microsoft_oauth"
	ProviderResend         ProviderID = "resend"
)

// Providers returns the closed set of known integrations in display order.
func Providers() []ProviderID {
	return []ProviderID{
		ProviderDeepgram,
		ProviderAssemblyAI,
		ProviderOpenAI,
		ProviderAnthropic,
		ProviderStripe,
		ProviderStripeWebhook,
		ProviderGoogleOAuth,
		ProviderMicrosoftOAuth,
		ProviderResend,
	}
}

// Valid reports whether p is a known provider. Matching is case-sensitive.
func (p ProviderID) Valid() bool {
	for _, known := range Providers() {
		if p == known {
			return true
		}
	}
	return false
}

// ProviderStatus reports whether a provider currently resolves and from where.
type ProviderStatus struct {
	Provider   ProviderID
	Configured bool
	Source     Source
}
