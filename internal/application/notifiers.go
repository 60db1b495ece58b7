package application

import (
	"context"
	"errors"

	"github.com/ericfisherdev/syskeys/internal/domain/model"
	"github.com/ericfisherdev/syskeys/internal/domain/port/driven"
)

// Notifiers fans a change out to every notifier, in order. A failing
// notifier does not stop the rest; their errors are joined.
type Notifiers []driven.ChangeNotifier

// CredentialChanged implements driven.ChangeNotifier.
func (n Notifiers) CredentialChanged(ctx context.Context, provider model.ProviderID, env model.Environment) error {
	var errs []error
	for _, notifier := range n {
		if notifier == nil {
			continue
		}
		if err := notifier.CredentialChanged(ctx, provider, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
