package engine

// Dispatcher runs one kernel pass over a netlist's Buffers. Every method
// blocks until its pass has fully completed, matching Driver's assumption
// that each pass observes the prior pass's output before the next one
// starts. CPUDispatcher is the default, in-process implementation;
// pkg/accel.SubprocessDispatcher is an out-of-process alternative talking
// the same contract over a pipe.
type Dispatcher interface {
	DispatchComponents(b *Buffers) error
	DispatchWires(b *Buffers, iteration uint32) error
	DispatchReset(b *Buffers, mask uint32) error
	Close() error
}

// CPUDispatcher runs each kernel with a local WorkerPool. It never
// returns an error.
type CPUDispatcher struct {
	pool *WorkerPool
}

// NewCPUDispatcher returns a CPUDispatcher sized to numWorkers (<=0 uses
// runtime.NumCPU(), per NewWorkerPool).
func NewCPUDispatcher(numWorkers int) *CPUDispatcher {
	return &CPUDispatcher{pool: NewWorkerPool(numWorkers)}
}

func (c *CPUDispatcher) DispatchComponents(b *Buffers) error {
	ComponentKernel(c.pool, b)
	return nil
}

func (c *CPUDispatcher) DispatchWires(b *Buffers, iteration uint32) error {
	WireKernel(c.pool, b, iteration)
	return nil
}

func (c *CPUDispatcher) DispatchReset(b *Buffers, mask uint32) error {
	ResetKernel(b, mask)
	return nil
}

func (c *CPUDispatcher) Close() error { return nil }
