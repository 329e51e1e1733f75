package renderpipeline

import (
	"sync"

	"github.com/Swind/go-render-pipeline/core"
	"github.com/Swind/go-render-pipeline/shell"
)

// =============================================================================
// Process Environment Helper (Singleton)
// =============================================================================

var (
	globalEnv *shell.Environment
	globalMu  sync.Mutex
)

// InitUIThread starts the process UI thread on the default registry and
// returns its runner. Later calls return the same runner.
func InitUIThread() *SingleThreadTaskRunner {
	globalMu.Lock()
	if globalEnv == nil {
		globalEnv = shell.NewEnvironment(&shell.EnvironmentConfig{Registry: core.DefaultTaskQueues()})
	}
	env := globalEnv
	globalMu.Unlock()
	return env.InitUIThread()
}

// GetEnvironment returns the process environment.
// It panics with ErrUIThreadNotInitialized if InitUIThread has not been called.
func GetEnvironment() *shell.Environment {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalEnv == nil {
		panic(ErrUIThreadNotInitialized)
	}
	return globalEnv
}

// UITaskRunner returns the process UI runner.
func UITaskRunner() *SingleThreadTaskRunner {
	return GetEnvironment().UITaskRunner()
}

// NewTaskRunnerManufactor builds pipeline runners on the process environment.
func NewTaskRunnerManufactor(opts ManufactorOptions) *TaskRunnerManufactor {
	return GetEnvironment().NewTaskRunnerManufactor(opts)
}

// GetJSRunner returns the JS runner of groupKey on the process environment.
func GetJSRunner(groupKey string) *SingleThreadTaskRunner {
	return GetEnvironment().GetJSRunner(groupKey)
}

// NewDynamicUIOperationQueue creates a UI operation queue draining on the
// process UI thread.
func NewDynamicUIOperationQueue(strategy ThreadStrategyForRendering, opts *QueueOptions) *DynamicUIOperationQueue {
	return shell.NewDynamicUIOperationQueue(strategy, UITaskRunner(), opts)
}

// Shutdown joins every thread of the process environment. InitUIThread may
// be called again afterwards.
func Shutdown() {
	globalMu.Lock()
	env := globalEnv
	globalEnv = nil
	globalMu.Unlock()

	if env != nil {
		env.Shutdown()
	}
}
