package extensions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	atomo "github.com/atomo-fn/atomo-go"
)

func TestLoggingExtension_LogsResolutions(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	scope := atomo.NewScope(atomo.WithExtension(NewLoggingExtension(zap.New(core))))

	exec := atomo.Provide(func(rc *atomo.ResolveCtx) (int, error) {
		return 1, nil
	}, atomo.WithName("answer"))

	_, err := atomo.Resolve(scope, exec)
	require.NoError(t, err)

	entries := logs.FilterMessage("resolved").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "answer", entries[0].ContextMap()["atom"])
	assert.Equal(t, false, entries[0].ContextMap()["invalidated"])

	scope.Dispose()
}

func TestLoggingExtension_LogsFlowFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	scope := atomo.NewScope(atomo.WithExtension(NewLoggingExtension(zap.New(core))))
	defer scope.Dispose()

	flow := atomo.NewFlow("doomed", func(e *atomo.ExecCtx, _ struct{}) (struct{}, error) {
		return struct{}{}, errors.New("nope")
	})

	_, err := atomo.Exec(scope, context.Background(), flow, struct{}{})
	require.Error(t, err)

	entries := logs.FilterMessage("flow failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "doomed", entries[0].ContextMap()["flow"])
}

func TestLoggingExtension_LogsCleanupFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	scope := atomo.NewScope(atomo.WithExtension(NewLoggingExtension(zap.New(core))))
	defer scope.Dispose()

	exec := atomo.Provide(func(rc *atomo.ResolveCtx) (int, error) {
		rc.OnCleanup(func() error {
			return errors.New("leak")
		})
		return 1, nil
	}, atomo.WithName("leaky"))

	_, err := atomo.Resolve(scope, exec)
	require.NoError(t, err)

	atomo.Invalidate(scope, exec)
	scope.Settle()

	entries := logs.FilterMessage("cleanup failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "leaky", entries[0].ContextMap()["atom"])
	assert.Equal(t, "invalidate", entries[0].ContextMap()["context"])
}
