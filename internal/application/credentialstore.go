// Package application contains use-case orchestration services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

// StoreOption configures a CredentialStore.
type StoreOption func(*CredentialStore)

// WithStoreClock overrides the wall clock used for timestamps and
// expiry/rotation comparisons.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *CredentialStore) { s.now = now }
}

// WithChangeNotifier registers a notifier told about every successful mutation.
func WithChangeNotifier(n driven.ChangeNotifier) StoreOption {
	return func(s *CredentialStore) { s.OnChange(n) }
}

// CredentialStore manages the lifecycle of system API keys: creation,
// rotation, deactivation and deletion, plus the expiry and rotation queries
// used by operators. Plaintext only exists inside this service and the
// Cipher; everything it returns to the admin surface is a CredentialInfo.
type CredentialStore struct {
	repo     driven.CredentialRepository
	cipher   driven.Cipher
	audit    driven.AuditLogger
	notifier Notifiers
	now      func() time.Time
	logger   *slog.Logger
}

// NewCredentialStore creates a CredentialStore with the required dependencies.
func NewCredentialStore(
	repo driven.CredentialRepository,
	cipher driven.Cipher,
	audit driven.AuditLogger,
	logger *slog.Logger,
	opts ...StoreOption,
) *CredentialStore {
	s := &CredentialStore{
		repo:   repo,
		cipher: cipher,
		audit:  audit,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateKey encrypts and persists a new credential for the input's
// (provider, environment) pair. The audit context's actor becomes createdBy.
// Returns driven.ErrCredentialExists if the pair is already taken.
func (s *CredentialStore) CreateKey(ctx context.Context, in model.CreateKeyInput, actx model.AuditContext) (model.CredentialInfo, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateCreate(in); err != nil {
		return model.CredentialInfo{}, err
	}

	envelope, err := s.cipher.Encrypt(in.Secret)
	if err != nil {
		return model.CredentialInfo{}, fmt.Errorf("encrypt credential: %w", err)
	}

	now := s.now().UTC()
	cred := model.Credential{
		ID:              uuid.NewString(),
		Name:            in.Name,
		Provider:        in.Provider,
		Environment:     in.Environment,
		EncryptedSecret: envelope,
		Hint:            s.cipher.Hint(in.Secret),
		IsActive:        true,
		ExpiresAt:       utcPtr(in.ExpiresAt),
		CreatedBy:       actx.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.RotationDays != nil && *in.RotationDays > 0 {
		cred.RotationDue = rotationDueFrom(now, *in.RotationDays)
	}

	if err := s.repo.Insert(ctx, cred); err != nil {
		return model.CredentialInfo{}, fmt.Errorf("create key: %w", err)
	}

	s.logger.Info("credential created",
		"id", cred.ID,
		"provider", cred.Provider,
		"environment", cred.Environment,
		"hint", cred.Hint,
	)

	s.recordAudit(ctx, actx, model.AuditEvent{
		Action:  model.AuditActionCreated,
		NewData: credentialMetadata(cred),
	}, cred.ID)
	s.notifyChange(ctx, cred)

	return cred.Info(), nil
}

// UpdateKey applies a partial update. A supplied secret is a value rotation:
// it is re-encrypted, the hint recomputed and rotatedAt set. rotationDue only
// changes when RotationDays is supplied in the same call.
func (s *CredentialStore) UpdateKey(ctx context.Context, id string, in model.UpdateKeyInput, actx model.AuditContext) (model.CredentialInfo, error) {
	if err := validateUpdate(in); err != nil {
		return model.CredentialInfo{}, err
	}

	existing, err := s.getExisting(ctx, id)
	if err != nil {
		return model.CredentialInfo{}, err
	}

	now := s.now().UTC()
	updated := *existing
	var changed []string

	if in.Name != nil {
		updated.Name = strings.TrimSpace(*in.Name)
		changed = append(changed, "name")
	}
	if in.IsActive != nil {
		updated.IsActive = *in.IsActive
		changed = append(changed, "isActive")
	}
	if in.ClearExpiresAt {
		updated.ExpiresAt = nil
		changed = append(changed, "expiresAt")
	} else if in.ExpiresAt != nil {
		updated.ExpiresAt = utcPtr(in.ExpiresAt)
		changed = append(changed, "expiresAt")
	}
	if in.RotationDays != nil {
		if *in.RotationDays == 0 {
			updated.RotationDue = nil
		} else {
			updated.RotationDue = rotationDueFrom(now, *in.RotationDays)
		}
		changed = append(changed, "rotationDue")
	}

	rotated := in.Secret != nil
	if rotated {
		envelope, err := s.cipher.Encrypt(*in.Secret)
		if err != nil {
			return model.CredentialInfo{}, fmt.Errorf("encrypt credential: %w", err)
		}
		updated.EncryptedSecret = envelope
		updated.Hint = s.cipher.Hint(*in.Secret)
		updated.RotatedAt = &now
		changed = append(changed, "secret")
	}
	updated.UpdatedAt = now

	if err := s.repo.Update(ctx, updated); err != nil {
		return model.CredentialInfo{}, fmt.Errorf("update key: %w", err)
	}

	action := model.AuditActionUpdated
	if rotated {
		action = model.AuditActionRotated
		s.logger.Info("credential rotated",
			"id", updated.ID,
			"provider", updated.Provider,
			"environment", updated.Environment,
			"hint", updated.Hint,
		)
	}

	s.recordAudit(ctx, actx, model.AuditEvent{
		Action:       action,
		PreviousData: credentialMetadata(*existing),
		NewData:      credentialMetadata(updated),
		Details:      map[string]any{"fieldsChanged": changed},
	}, updated.ID)
	s.notifyChange(ctx, updated)

	return updated.Info(), nil
}

// RotateKey replaces the secret value of an existing credential.
func (s *CredentialStore) RotateKey(ctx context.Context, id, newSecret string, actx model.AuditContext) (model.CredentialInfo, error) {
	return s.UpdateKey(ctx, id, model.UpdateKeyInput{Secret: &newSecret}, actx)
}

// DeactivateKey permanently excludes the credential from resolution.
// Deactivating an inactive credential succeeds without writing anything.
func (s *CredentialStore) DeactivateKey(ctx context.Context, id string, actx model.AuditContext) error {
	existing, err := s.getExisting(ctx, id)
	if err != nil {
		return err
	}
	if !existing.IsActive {
		return nil
	}

	updated := *existing
	updated.IsActive = false
	updated.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, updated); err != nil {
		return fmt.Errorf("deactivate key: %w", err)
	}

	s.logger.Info("credential deactivated", "id", id, "provider", updated.Provider, "environment", updated.Environment)

	s.recordAudit(ctx, actx, model.AuditEvent{
		Action:       model.AuditActionDeactivated,
		PreviousData: credentialMetadata(*existing),
		NewData:      credentialMetadata(updated),
	}, id)
	s.notifyChange(ctx, updated)

	return nil
}

// DeleteKey hard-deletes the credential. The audit event keeps the
// pre-delete metadata.
func (s *CredentialStore) DeleteKey(ctx context.Context, id string, actx model.AuditContext) error {
	existing, err := s.getExisting(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}

	s.logger.Info("credential deleted", "id", id, "provider", existing.Provider, "environment", existing.Environment)

	s.recordAudit(ctx, actx, model.AuditEvent{
		Action:       model.AuditActionDeleted,
		PreviousData: credentialMetadata(*existing),
	}, id)
	s.notifyChange(ctx, *existing)

	return nil
}

// GetDecryptedKey returns the plaintext of the active, non-expired credential
// for the pair, or ("", nil) if there is none. Decryption failures are
// returned wrapping driven.ErrDecryption. Usage tracking is best effort.
func (s *CredentialStore) GetDecryptedKey(ctx context.Context, provider model.ProviderID, env model.Environment) (string, error) {
	now := s.now().UTC()

	cred, err := s.repo.FindResolvable(ctx, provider, env, now)
	if err != nil {
		return "", fmt.Errorf("get decrypted key: %w", err)
	}
	if cred == nil {
		return "", nil
	}

	plaintext, err := s.cipher.Decrypt(cred.EncryptedSecret)
	if err != nil {
		return "", fmt.Errorf("decrypt credential %s: %w", cred.ID, err)
	}

	if err := s.repo.RecordUsage(ctx, cred.ID, now); err != nil {
		s.logger.Warn("failed to record credential usage", "id", cred.ID, "error", err)
	}

	return plaintext, nil
}

// VerifyKey checks that the stored envelope still decrypts, without touching
// usage counters. Decryption failures are reported in the result.
func (s *CredentialStore) VerifyKey(ctx context.Context, id string) (model.VerifyResult, error) {
	cred, err := s.getExisting(ctx, id)
	if err != nil {
		return model.VerifyResult{}, err
	}

	if _, err := s.cipher.Decrypt(cred.EncryptedSecret); err != nil {
		s.logger.Warn("credential failed verification", "id", id, "provider", cred.Provider, "error", err)
		return model.VerifyResult{Valid: false, Error: err.Error()}, nil
	}
	return model.VerifyResult{Valid: true}, nil
}

// GetKey returns the redacted view of one credential.
func (s *CredentialStore) GetKey(ctx context.Context, id string) (model.CredentialInfo, error) {
	cred, err := s.getExisting(ctx, id)
	if err != nil {
		return model.CredentialInfo{}, err
	}
	return cred.Info(), nil
}

// ListKeys returns the redacted view of every credential.
func (s *CredentialStore) ListKeys(ctx context.Context) ([]model.CredentialInfo, error) {
	creds, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return infos(creds), nil
}

// GetKeysDueForRotation returns active credentials whose rotationDue <= now.
func (s *CredentialStore) GetKeysDueForRotation(ctx context.Context) ([]model.CredentialInfo, error) {
	creds, err := s.repo.ListDueForRotation(ctx, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("keys due for rotation: %w", err)
	}
	return infos(creds), nil
}

// GetExpiredKeys returns active credentials whose expiresAt < now.
func (s *CredentialStore) GetExpiredKeys(ctx context.Context) ([]model.CredentialInfo, error) {
	creds, err := s.repo.ListExpired(ctx, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("expired keys: %w", err)
	}
	return infos(creds), nil
}

// GetKeyStats aggregates the inventory in a single scan. Expired and
// due-for-rotation counts use the same active-only rules as the queries above.
func (s *CredentialStore) GetKeyStats(ctx context.Context) (model.KeyStats, error) {
	creds, err := s.repo.ListAll(ctx)
	if err != nil {
		return model.KeyStats{}, fmt.Errorf("key stats: %w", err)
	}

	now := s.now().UTC()
	stats := model.KeyStats{ByProvider: make(map[model.ProviderID]int)}
	for _, c := range creds {
		stats.Total++
		stats.ByProvider[c.Provider]++
		if !c.IsActive {
			continue
		}
		stats.Active++
		if c.IsExpired(now) {
			stats.Expired++
		}
		if c.IsDueForRotation(now) {
			stats.DueForRotation++
		}
	}
	return stats, nil
}

// OnChange adds a notifier after construction, for notifiers that themselves
// depend on the store. It must be called before the store is shared.
func (s *CredentialStore) OnChange(n driven.ChangeNotifier) {
	s.notifier = append(s.notifier, n)
}

func (s *CredentialStore) getExisting(ctx context.Context, id string) (*model.Credential, error) {
	cred, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get key %s: %w", id, err)
	}
	if cred == nil {
		return nil, fmt.Errorf("get key %s: %w", id, driven.ErrCredentialNotFound)
	}
	return cred, nil
}

// recordAudit writes the event. Failures are logged and swallowed: the
// mutation has already been committed.
func (s *CredentialStore) recordAudit(ctx context.Context, actx model.AuditContext, event model.AuditEvent, id string) {
	if s.audit == nil {
		return
	}
	event.EntityType = model.AuditEntityCredential
	event.EntityID = id
	event.OccurredAt = s.now().UTC()

	if err := s.audit.Log(ctx, actx, event); err != nil {
		s.logger.Warn("failed to write audit event", "action", event.Action, "id", id, "error", err)
	}
}

func (s *CredentialStore) notifyChange(ctx context.Context, cred model.Credential) {
	if len(s.notifier) == 0 {
		return
	}
	if err := s.notifier.CredentialChanged(ctx, cred.Provider, cred.Environment); err != nil {
		s.logger.Warn("failed to publish credential change",
			"provider", cred.Provider,
			"environment", cred.Environment,
			"error", err,
		)
	}
}

// MaxRotationDays bounds a rotation schedule to one hundred years.
const MaxRotationDays = 36500

func validateCreate(in model.CreateKeyInput) error {
	switch {
	case in.Name == "":
		return fmt.Errorf("%w: name is required", driven.ErrInvalidInput)
	case !in.Provider.Valid():
		return fmt.Errorf("%w: unknown provider %q", driven.ErrInvalidInput, in.Provider)
	case !in.Environment.Valid():
		return fmt.Errorf("%w: unknown environment %q", driven.ErrInvalidInput, in.Environment)
	case in.Secret == "":
		return fmt.Errorf("%w: key is required", driven.ErrInvalidInput)
	case in.RotationDays != nil && *in.RotationDays < 0:
		return fmt.Errorf("%w: rotationDays must not be negative", driven.ErrInvalidInput)
	case in.RotationDays != nil && *in.RotationDays > MaxRotationDays:
		return fmt.Errorf("%w: rotationDays must be at most %d", driven.ErrInvalidInput, MaxRotationDays)
	}
	return nil
}

func validateUpdate(in model.UpdateKeyInput) error {
	switch {
	case in.Name != nil && strings.TrimSpace(*in.Name) == "":
		return fmt.Errorf("%w: name must not be empty", driven.ErrInvalidInput)
	case in.Secret != nil && *in.Secret == "":
		return fmt.Errorf("%w: key must not be empty", driven.ErrInvalidInput)
	case in.RotationDays != nil && *in.RotationDays < 0:
		return fmt.Errorf("%w: rotationDays must not be negative", driven.ErrInvalidInput)
	case in.RotationDays != nil && *in.RotationDays > MaxRotationDays:
		return fmt.Errorf("%w: rotationDays must be at most %d", driven.ErrInvalidInput, MaxRotationDays)
	}
	return nil
}

// credentialMetadata is the audit payload for a credential: never the
// secret, ciphertext or hint.
func credentialMetadata(c model.Credential) map[string]any {
	m := map[string]any{
		"name":        c.Name,
		"provider":    string(c.Provider),
		"environment": string(c.Environment),
		"isActive":    c.IsActive,
	}
	if c.ExpiresAt != nil {
		m["expiresAt"] = c.ExpiresAt.Format(time.RFC3339)
	}
	if c.RotatedAt != nil {
		m["rotatedAt"] = c.RotatedAt.Format(time.RFC3339)
	}
	if c.RotationDue != nil {
		m["rotationDue"] = c.RotationDue.Format(time.RFC3339)
	}
	return m
}

func rotationDueFrom(now time.Time, days int) *time.Time {
	due := now.AddDate(0, 0, days)
	return &due
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func infos(creds []model.Credential) []model.CredentialInfo {
	out := make([]model.CredentialInfo, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.Info())
	}
	return out
}
