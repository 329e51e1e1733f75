package shell

import (
	"context"
	"testing"

	"github.com/Swind/go-render-pipeline/core"
	"github.com/stretchr/testify/require"
)

func newTestEnvironment(t *testing.T) *Environment {
	t.Helper()
	env := NewEnvironment(&EnvironmentConfig{
		Registry: core.NewMessageLoopTaskQueues(),
		Logger:   core.NewNoOpLogger(),
	})
	t.Cleanup(env.Shutdown)
	return env
}

// newTestPipeline starts the UI thread and builds a manufactor for strategy.
func newTestPipeline(t *testing.T, strategy ThreadStrategyForRendering) (*Environment, *TaskRunnerManufactor) {
	t.Helper()
	env := newTestEnvironment(t)
	env.InitUIThread()
	m := env.NewTaskRunnerManufactor(ManufactorOptions{Strategy: strategy})
	t.Cleanup(m.Release)
	return env, m
}

func runSync(t *testing.T, runner *core.SingleThreadTaskRunner, fn func()) {
	t.Helper()
	require.NoError(t, runner.PostSyncTask(func(context.Context) { fn() }))
}
