// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
)

// Sentinel errors returned by CredentialRepository implementations and the
// services built on them.
var (
	// ErrCredentialNotFound indicates no credential exists with the given ID.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialExists indicates a credential already exists for the
	// same (provider, environment) pair.
	ErrCredentialExists = errors.New("credential already exists for provider and environment")

	// ErrInvalidInput indicates a create or update request failed validation.
	ErrInvalidInput = errors.New("invalid credential input")
)

// CredentialRepository defines the driven port for encrypted credential
// persistence. Implementations store ciphertext as given; they never see
// plaintext.
type CredentialRepository interface {
	// Insert stores a new credential. Returns ErrCredentialExists when the
	// (provider, environment) pair is taken.
	Insert(ctx context.Context, cred model.Credential) error

	// Update replaces every mutable column of an existing credential in a
	// single statement. Returns ErrCredentialNotFound if the ID is unknown.
	Update(ctx context.Context, cred model.Credential) error

	// GetByID returns the credential, or (nil, nil) if it does not exist.
	GetByID(ctx context.Context, id string) (*model.Credential, error)

	// FindResolvable returns the active, non-expired credential for the pair
	// at now, or (nil, nil) if there is none.
	FindResolvable(ctx context.Context, provider model.ProviderID, env model.Environment, now time.Time) (*model.Credential, error)

	// ListAll returns every credential ordered by provider then environment.
	ListAll(ctx context.Context) ([]model.Credential, error)

	// ListDueForRotation returns active credentials with rotation_due <= now.
	ListDueForRotation(ctx context.Context, now time.Time) ([]model.Credential, error)

	// ListExpired returns active credentials with expires_at < now.
	ListExpired(ctx context.Context, now time.Time) ([]model.Credential, error)

	// RecordUsage bumps usage_count and sets last_used_at. Best effort.
	RecordUsage(ctx context.Context, id string, now time.Time) error

	// Delete permanently removes a credential. Returns ErrCredentialNotFound
	// if the ID is unknown.
	Delete(ctx context.Context, id string) error
}
