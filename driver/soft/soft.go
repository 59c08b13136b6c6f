// Package soft implements a driver which simulates a GPU on the CPU.
//
// Work submitted to the simulated queue completes in submission order, either
// after a fixed latency on a background goroutine or when the owner calls
// Complete (manual mode). Memory which is not host coherent keeps a separate
// host copy, so missing flushes and invalidations are observable. Misuse that
// a real driver would leave undefined, such as resetting a fence with a
// pending signal, is recorded and can be inspected with Violations.
package soft

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
)

// Name is the name the driver registers under.
const Name = "soft"

// Options configures the simulated device.
type Options struct {
	// Latency is how long each submission takes to execute.
	Latency time.Duration

	// Manual disables the background queue. Submissions then complete only
	// through GPU.Complete, GPU.CompleteAll or GPU.WaitIdle.
	Manual bool

	// MemoryBudget caps the bytes of buffer and image memory that can be
	// allocated at once. Zero means no limit.
	MemoryBudget int64

	// Limits overrides the reported device limits. Zero fields take the
	// defaults of DefaultLimits.
	Limits driver.Limits

	// PresentModes are the modes surfaces report as supported. PresentFIFO is
	// always added.
	PresentModes []driver.PresentMode
}

// DefaultLimits are the limits reported when Options.Limits leaves a field
// unset.
var DefaultLimits = driver.Limits{
	MinUniformBufferOffsetAlignment: 256,
	MinStorageBufferOffsetAlignment: 64,
	NonCoherentAtomSize:             64,
	MaxImageDimension1D:             16384,
	MaxImageDimension2D:             16384,
	MaxImageDimension3D:             2048,
}

// Commands is the command buffer type of this driver. The function runs on the
// simulated queue when the submission containing it executes.
type Commands func()

// Driver is the software driver.
type Driver struct {
	opts Options
}

// New returns a software driver configured with opts.
func New(opts Options) *Driver {
	return &Driver{opts: opts}
}

// Name returns Name.
func (d *Driver) Name() string { return Name }

// Adapters returns the single simulated adapter.
func (d *Driver) Adapters() ([]driver.AdapterInfo, error) {
	return []driver.AdapterInfo{d.adapter()}, nil
}

func (d *Driver) adapter() driver.AdapterInfo {
	return driver.AdapterInfo{
		Driver:     Name,
		Index:      0,
		Name:       "Software queue",
		Type:       driver.AdapterCPU,
		APIVersion: "1.0",
	}
}

// Open creates a simulated device. When cfg.Window is set the returned GPU also
// implements driver.Presenter.
func (d *Driver) Open(cfg driver.Config) (driver.GPU, error) {
	if cfg.Adapter > 0 {
		return nil, errors.Wrapf(driver.ErrNoDevice, "soft: adapter %d", cfg.Adapter)
	}

	g := newGPU(d)
	if cfg.Window == nil {
		return g, nil
	}
	return &PresentGPU{GPU: g, win: cfg.Window}, nil
}

// GPU is a simulated device with a single in-order queue.
type GPU struct {
	drv    *Driver
	limits driver.Limits

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []*op
	used       int64
	violations []string
	submitted  uint64
	executed   uint64
	closed     bool

	// completing serializes executing the head of the queue.
	completing sync.Mutex
	worker     sync.WaitGroup
}

type opKind int

const (
	opSubmit opKind = iota
	opPresent
)

type op struct {
	kind   opKind
	cmds   []Commands
	fence  *fence
	sc     *swapchain
	image  int
	serial uint64
}

func newGPU(d *Driver) *GPU {
	g := &GPU{
		drv:    d,
		limits: withDefaults(d.opts.Limits),
	}
	g.cond = sync.NewCond(&g.mu)

	if !d.opts.Manual {
		g.worker.Add(1)
		go g.run()
	}
	return g
}

func withDefaults(l driver.Limits) driver.Limits {
	if l.MinUniformBufferOffsetAlignment <= 0 {
		l.MinUniformBufferOffsetAlignment = DefaultLimits.MinUniformBufferOffsetAlignment
	}
	if l.MinStorageBufferOffsetAlignment <= 0 {
		l.MinStorageBufferOffsetAlignment = DefaultLimits.MinStorageBufferOffsetAlignment
	}
	if l.NonCoherentAtomSize <= 0 {
		l.NonCoherentAtomSize = DefaultLimits.NonCoherentAtomSize
	}
	if l.MaxImageDimension1D <= 0 {
		l.MaxImageDimension1D = DefaultLimits.MaxImageDimension1D
	}
	if l.MaxImageDimension2D <= 0 {
		l.MaxImageDimension2D = DefaultLimits.MaxImageDimension2D
	}
	if l.MaxImageDimension3D <= 0 {
		l.MaxImageDimension3D = DefaultLimits.MaxImageDimension3D
	}
	return l
}

// Driver returns the driver which opened g.
func (g *GPU) Driver() driver.Driver { return g.drv }

// Adapter describes the simulated adapter.
func (g *GPU) Adapter() driver.AdapterInfo { return g.drv.adapter() }

// Limits returns the device limits.
func (g *GPU) Limits() driver.Limits { return g.limits }

// Submit queues sub. Semaphore and fence usage is validated when the
// submission is queued, the same point a real driver would reject it.
func (g *GPU) Submit(sub driver.Submission) error {
	cmds := make([]Commands, 0, len(sub.Cmds))
	for _, c := range sub.Cmds {
		switch c := c.(type) {
		case Commands:
			cmds = append(cmds, c)
		case func():
			cmds = append(cmds, c)
		case nil:
		default:
			return errors.Newf("soft: unsupported command buffer type %T", c)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return driver.ErrDeviceLost
	}
	for _, s := range sub.Wait {
		g.waitSemaphoreLocked(s)
	}
	for _, s := range sub.Signal {
		g.signalSemaphoreLocked(s)
	}

	o := &op{kind: opSubmit, cmds: cmds}
	if sub.Fence != nil {
		f := sub.Fence.(*fence)
		if f.signaled {
			g.violationLocked("submit with a signaled fence")
		}
		if f.pending > 0 {
			g.violationLocked("submit with a fence which already has a pending signal")
		}
		f.pending++
		o.fence = f
	}

	g.submitted++
	o.serial = g.submitted
	g.queue = append(g.queue, o)
	g.cond.Broadcast()
	return nil
}

// WaitIdle blocks until the queue is empty. In manual mode it executes the
// pending work itself.
func (g *GPU) WaitIdle() error {
	if g.drv.opts.Manual {
		g.CompleteAll()
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for len(g.queue) > 0 {
		g.cond.Wait()
	}
	return nil
}

// Complete executes up to n pending submissions, together with the
// presentation requests queued behind them, and returns how many submissions
// ran.
func (g *GPU) Complete(n int) int {
	done := 0
	for done < n {
		kind, ok := g.executeHead()
		if !ok {
			break
		}
		if kind == opSubmit {
			done++
		}
	}
	// Presentation requests which are now at the head need no GPU work.
	for g.headIs(opPresent) {
		g.executeHead()
	}
	return done
}

// CompleteAll executes everything which is queued.
func (g *GPU) CompleteAll() int {
	done := 0
	for {
		kind, ok := g.executeHead()
		if !ok {
			return done
		}
		if kind == opSubmit {
			done++
		}
	}
}

// Pending returns the number of queued operations which have not executed.
func (g *GPU) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Executed returns the number of submissions which have completed.
func (g *GPU) Executed() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.executed
}

// MemoryInUse returns the bytes currently allocated.
func (g *GPU) MemoryInUse() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used
}

// Violations returns the misuse recorded so far.
func (g *GPU) Violations() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.violations))
	copy(out, g.violations)
	return out
}

// Destroy stops the queue after the queued work has executed.
func (g *GPU) Destroy() {
	if g.drv.opts.Manual {
		g.CompleteAll()
	}

	g.mu.Lock()
	g.closed = true
	g.cond.Broadcast()
	g.mu.Unlock()

	g.worker.Wait()
}

func (g *GPU) run() {
	defer g.worker.Done()

	for {
		g.mu.Lock()
		for len(g.queue) == 0 && !g.closed {
			g.cond.Wait()
		}
		if len(g.queue) == 0 {
			g.mu.Unlock()
			return
		}
		kind := g.queue[0].kind
		g.mu.Unlock()

		if kind == opSubmit && g.drv.opts.Latency > 0 {
			time.Sleep(g.drv.opts.Latency)
		}
		g.executeHead()
	}
}

func (g *GPU) headIs(kind opKind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue) > 0 && g.queue[0].kind == kind
}

// executeHead runs the oldest queued operation. Command functions run without
// g.mu held so they are free to use buffers.
func (g *GPU) executeHead() (opKind, bool) {
	g.completing.Lock()
	defer g.completing.Unlock()

	g.mu.Lock()
	if len(g.queue) == 0 {
		g.mu.Unlock()
		return 0, false
	}
	o := g.queue[0]
	g.mu.Unlock()

	for _, c := range o.cmds {
		c()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.queue = g.queue[1:]
	switch o.kind {
	case opSubmit:
		g.executed++
		if o.fence != nil {
			o.fence.pending--
			o.fence.signaled = true
		}
	case opPresent:
		o.sc.releaseLocked(o.image)
	}
	g.cond.Broadcast()
	return o.kind, true
}

func (g *GPU) violationLocked(format string, args ...interface{}) {
	g.violations = append(g.violations, fmt.Sprintf(format, args...))
}

// waitLocked blocks on g.cond until ready returns true or the timeout expires.
// A negative timeout waits forever. It reports whether ready returned true.
func (g *GPU) waitLocked(ready func() bool, timeout time.Duration) bool {
	if ready() {
		return true
	}
	if timeout == 0 {
		return false
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		t := time.AfterFunc(timeout, func() {
			g.mu.Lock()
			g.cond.Broadcast()
			g.mu.Unlock()
		})
		defer t.Stop()
	}

	for !ready() {
		if timeout > 0 && !time.Now().Before(deadline) {
			return false
		}
		g.cond.Wait()
	}
	return true
}
