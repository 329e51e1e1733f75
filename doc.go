// Package renderpipeline schedules the threads of a UI rendering pipeline.
//
// A pipeline has four roles: TASM (template execution), Layout, UI and JS.
// Every role posts work to a TaskRunner bound to a thread-affine MessageLoop.
// A ThreadStrategyForRendering decides which roles share a physical thread,
// and UI operations produced by the engine travel to the UI thread through a
// DynamicUIOperationQueue that can change strategy at runtime.
//
// # Quick Start
//
// Start the UI thread once at application startup:
//
//	renderpipeline.InitUIThread()
//	defer renderpipeline.Shutdown()
//
// Build the runners of one pipeline and a queue for its UI operations:
//
//	m := renderpipeline.NewTaskRunnerManufactor(renderpipeline.ManufactorOptions{
//		Strategy: renderpipeline.MultiThreads,
//	})
//	defer m.Release()
//	queue := renderpipeline.NewDynamicUIOperationQueue(m.Strategy(), nil)
//
//	m.GetTASMTaskRunner().PostTask(func(ctx context.Context) {
//		queue.EnqueueUIOperation(func() { fmt.Println("mutate view") })
//		queue.UpdateStatus(renderpipeline.UIOperationStatusTASMFinish)
//		queue.Flush()
//	})
//
// # Key Concepts
//
// MessageLoopTaskQueues: the registry of task queues. Queues can be merged so
// that one thread services another's tasks, which is how the pipeline falls
// back to synchronous rendering (ThreadModeAutoSwitch) and how raster work
// joins the platform thread (RasterThreadMerger).
//
// MessageLoopVSync: a wake policy that lets a loop flush on display vsync
// within a frame budget instead of on its own timer.
//
// For lower level control use the core and shell packages directly.
package renderpipeline
