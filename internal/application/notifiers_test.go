package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/syskeys/internal/application"
	"github.com/ericfisherdev/syskeys/internal/domain/model"
)

func TestNotifiers_FanOutContinuesPastFailures(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("publish failed")}
	ok := &recordingNotifier{}

	n := application.Notifiers{failing, nil, ok}
	err := n.CredentialChanged(context.Background(), model.ProviderOpenAI, model.EnvironmentStaging)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish failed")
	assert.Len(t, failing.calls, 1)
	assert.Equal(t, []changeCall{{model.ProviderOpenAI, model.EnvironmentStaging}}, ok.calls)
}

func TestNotifiers_Empty(t *testing.T) {
	var n application.Notifiers
	assert.NoError(t, n.CredentialChanged(context.Background(), model.ProviderOpenAI, model.EnvironmentProduction))
}
