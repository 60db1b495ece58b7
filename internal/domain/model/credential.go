package model

import "time"

// Credential is a persisted system API key for one (provider, environment) pair.
// EncryptedSecret holds the cipher envelope and never leaves the application layer.
type Credential struct {
	ID              string
	Name            string
	Provider        ProviderID
	Environment     Environment
	EncryptedSecret string
	Hint            string
	IsActive        bool
	ExpiresAt       *time.Time
	RotatedAt       *time.Time
	RotationDue     *time.Time
	LastUsedAt      *time.Time
	UsageCount      int64
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsExpired reports whether the credential has a past expiry at now.
// Expiry is an exclusion, not a state: the record itself is never mutated.
func (c Credential) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// IsDueForRotation reports whether the rotation schedule has been reached at now.
func (c Credential) IsDueForRotation(now time.Time) bool {
	return c.RotationDue != nil && !c.RotationDue.After(now)
}

// IsResolvable reports whether the credential may be handed out at now.
func (c Credential) IsResolvable(now time.Time) bool {
	return c.IsActive && !c.IsExpired(now)
}

// Info returns the redacted projection of the credential.
func (c Credential) Info() CredentialInfo {
	return CredentialInfo{
		ID:          c.ID,
		Name:        c.Name,
		Provider:    c.Provider,
		Environment: c.Environment,
		Hint:        c.Hint,
		IsActive:    c.IsActive,
		ExpiresAt:   c.ExpiresAt,
		RotatedAt:   c.RotatedAt,
		RotationDue: c.RotationDue,
		LastUsedAt:  c.LastUsedAt,
		UsageCount:  c.UsageCount,
		CreatedBy:   c.CreatedBy,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// CredentialInfo is the view of a credential that is safe to return to
// callers outside the store: it carries a hint but no secret material.
type CredentialInfo struct {
	ID          string
	Name        string
	Provider    ProviderID
	Environment Environment
	Hint        string
	IsActive    bool
	ExpiresAt   *time.Time
	RotatedAt   *time.Time
	RotationDue *time.Time
	LastUsedAt  *time.Time
	UsageCount  int64
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateKeyInput carries the operator-supplied fields for a new credential.
type CreateKeyInput struct {
	Name         string
	Provider     ProviderID
	Environment  Environment
	Secret       string
	ExpiresAt    *time.Time
	RotationDays *int
}

// UpdateKeyInput is a partial update. Nil fields are left untouched.
// A non-nil Secret is a value rotation. RotationDays of zero clears the
// schedule; ClearExpiresAt removes any expiry.
type UpdateKeyInput struct {
	Name           *string
	Secret         *string
	IsActive       *bool
	ExpiresAt      *time.Time
	ClearExpiresAt bool
	RotationDays   *int
}

// VerifyResult is the outcome of a non-mutating decrypt check.
type VerifyResult struct {
	Valid bool
	Error string
}

// KeyStats aggregates the credential inventory.
type KeyStats struct {
	Total          int
	Active         int
	Expired        int
	DueForRotation int
	ByProvider     map[ProviderID]int
}
