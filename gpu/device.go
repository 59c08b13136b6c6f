// Package gpu manages the lifetime of GPU resources and paces frames between
// the host and the device.
//
// A Device wraps an opened driver.GPU. It creates buffers, images, fences,
// semaphores and swapchains, remembers which fence last covered each resource
// and releases destroyed resources only after that fence has signaled. Release
// requests go through a deferred.Queue that is applied at safe points: once per
// frame, right after the swapchain has waited for the frame slot being reused,
// and when the device is destroyed.
//
// Device, SwapChain and Fence methods must be called from a single goroutine.
// Destroy methods of resources may be called from any goroutine.
package gpu

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/deferred"
	"github.com/ironsmile/vkframe/driver"
	"github.com/ironsmile/vkframe/internal/logging"
	"github.com/sirupsen/logrus"
)

// MaxFramesInFlight is the number of frames the host may queue before waiting
// for the device.
const MaxFramesInFlight = 2

// Forever is a timeout which never expires.
const Forever time.Duration = -1

// WholeSize selects the rest of a buffer from the given offset.
const WholeSize int64 = -1

const (
	defaultBacklog  = 256
	maxDrainPasses  = 8
	logComponentKey = "component"
)

// Options configures a Device.
type Options struct {
	// Logger receives the device's messages. The process logger is used when
	// it is nil.
	Logger logrus.FieldLogger

	// Debug logs every contract violation together with its stack.
	Debug bool

	// DeferredBacklogWarn is the number of pending release requests above which
	// the device warns at each safe point. Zero selects a default.
	DeferredBacklogWarn int
}

// Resource is an object whose release has to wait for the GPU work using it.
type Resource interface {
	// Destroy schedules the release of the resource.
	Destroy()

	release()
}

// Submission is a batch of work for Device.Submit.
type Submission struct {
	Wait   []*Semaphore
	Cmds   []driver.CmdBuffer
	Signal []*Semaphore

	// Fence is signaled when the batch completes. It is required when Uses
	// is not empty.
	Fence *Fence

	// Uses lists the resources the command buffers reference. They are not
	// released before Fence signals.
	Uses []Resource
}

// Device owns an opened driver.GPU and everything created from it.
type Device struct {
	gpu  driver.GPU
	log  logrus.FieldLogger
	opts Options

	requests deferred.Queue
	lastUse  map[Resource]*Fence

	buffers    map[*Buffer]struct{}
	images     map[*Image]struct{}
	fences     map[*Fence]struct{}
	semaphores map[*Semaphore]struct{}
	swapchains map[*SwapChain]struct{}

	frame      uint64
	frameIndex int
	frameUses  []Resource
	released   int
	destroyed  bool
}

// New takes ownership of g and returns a device managing it.
func New(g driver.GPU, opts Options) *Device {
	if opts.Logger == nil {
		opts.Logger = logging.Get()
	}
	if opts.DeferredBacklogWarn <= 0 {
		opts.DeferredBacklogWarn = defaultBacklog
	}

	adapter := g.Adapter()
	d := &Device{
		gpu:  g,
		opts: opts,
		log: opts.Logger.WithFields(logrus.Fields{
			logComponentKey: "gpu",
			"driver":        adapter.Driver,
		}),
		lastUse:    make(map[Resource]*Fence),
		buffers:    make(map[*Buffer]struct{}),
		images:     make(map[*Image]struct{}),
		fences:     make(map[*Fence]struct{}),
		semaphores: make(map[*Semaphore]struct{}),
		swapchains: make(map[*SwapChain]struct{}),
	}
	d.log.Infof("device opened on %s (%s)", adapter.Name, adapter.Type)
	return d
}

// Open opens a GPU with the named driver from reg and returns a device for it.
func Open(reg *driver.Registry, name string, cfg driver.Config, opts Options) (*Device, error) {
	g, err := reg.Open(name, cfg)
	if err != nil {
		return nil, classify(err, "opening driver")
	}
	return New(g, opts), nil
}

// GPU returns the driver object behind the device, for layers which record
// commands with the backend API.
func (d *Device) GPU() driver.GPU { return d.gpu }

// Limits returns the device limits.
func (d *Device) Limits() driver.Limits { return d.gpu.Limits() }

// CurrentFrame returns the number of frames presented so far.
func (d *Device) CurrentFrame() uint64 { return d.frame }

// FrameIndex returns the frame slot of the frame being recorded, in
// [0, MaxFramesInFlight).
func (d *Device) FrameIndex() int { return d.frameIndex }

// PendingRequests returns the number of release requests waiting for a safe
// point.
func (d *Device) PendingRequests() int { return d.requests.AmountOfRequests() }

// Use records that the frame being recorded references resources. They will
// not be released before the frame's fence signals.
func (d *Device) Use(resources ...Resource) {
	d.frameUses = append(d.frameUses, resources...)
}

// Submit queues work outside of a swapchain frame, such as uploads.
func (d *Device) Submit(sub Submission) error {
	if d.destroyed {
		return d.misuse("submit on a destroyed device")
	}
	if len(sub.Uses) > 0 && sub.Fence == nil {
		return d.misuse("submission references %d resources but has no fence", len(sub.Uses))
	}
	return d.submit(sub)
}

func (d *Device) submit(sub Submission) error {
	ds := driver.Submission{Cmds: sub.Cmds}
	for _, s := range sub.Wait {
		ds.Wait = append(ds.Wait, s.s)
	}
	for _, s := range sub.Signal {
		ds.Signal = append(ds.Signal, s.s)
	}

	f := sub.Fence
	if f != nil {
		if f.released {
			return d.misuse("submit with a destroyed fence")
		}
		if f.busy() {
			return d.misuse("submit with a fence that pending work will signal")
		}
		ds.Fence = f.f
	}

	if err := d.gpu.Submit(ds); err != nil {
		return classify(err, "submit")
	}
	if f == nil {
		return nil
	}

	f.inFlight = true
	for _, r := range sub.Uses {
		d.lastUse[r] = f
	}
	for _, s := range sub.Wait {
		d.lastUse[s] = f
	}
	for _, s := range sub.Signal {
		d.lastUse[s] = f
	}
	return nil
}

// beginFrame is called by a swapchain once the fence of slot has signaled. It
// is the per-frame safe point.
func (d *Device) beginFrame(slot int) {
	d.frameIndex = slot
	d.Collect()
}

// takeFrameUses returns and forgets the resources recorded with Use.
func (d *Device) takeFrameUses() []Resource {
	uses := d.frameUses
	d.frameUses = nil
	return uses
}

func (d *Device) endFrame() {
	d.frame++
}

// Collect applies the pending release requests. Requests whose resources are
// still referenced by unfinished work are put back and retried at the next
// call. It returns the number of releases which ran.
func (d *Device) Collect() int {
	before := d.released
	d.requests.ApplyRequests()
	n := d.released - before
	if n > 0 {
		d.log.Debugf("released %d deferred resources", n)
	}
	if left := d.requests.AmountOfRequests(); left > d.opts.DeferredBacklogWarn {
		d.log.Warnf("%d deferred requests are waiting for GPU work to retire", left)
	}
	return n
}

// WaitIdle blocks until the device has executed all submitted work.
func (d *Device) WaitIdle() error {
	return classify(d.gpu.WaitIdle(), "waiting for device idle")
}

// Destroy waits for all work to finish, releases everything still alive and
// closes the driver GPU.
func (d *Device) Destroy() {
	if d.destroyed {
		return
	}

	for sc := range d.swapchains {
		d.log.Warn("destroying device with a live swapchain")
		sc.Destroy()
	}
	if err := d.WaitIdle(); err != nil {
		d.log.Errorf("device teardown: %s", err)
	}
	d.frameUses = nil

	for i := 0; i < maxDrainPasses && d.requests.AmountOfRequests() > 0; i++ {
		d.requests.ApplyRequests()
	}
	if n := d.requests.ClearRequests(); n > 0 {
		d.log.Warnf("discarded %d deferred requests at teardown", n)
	}

	leaked := len(d.buffers) + len(d.images) + len(d.fences) + len(d.semaphores)
	if leaked > 0 {
		d.log.Warnf("releasing %d resources which were never destroyed", leaked)
	}
	for b := range d.buffers {
		b.release()
	}
	for img := range d.images {
		img.release()
	}
	for s := range d.semaphores {
		s.release()
	}
	for f := range d.fences {
		f.release()
	}

	d.gpu.Destroy()
	d.destroyed = true
	d.log.Info("device closed")
}

// deferRelease schedules fn once the fence that last covered owner has
// signaled. The fence is looked up when the request is applied, so work
// recorded after the call is taken into account. A resource recorded with Use
// for a frame which has not been submitted yet is busy as well.
func (d *Device) deferRelease(owner Resource, fn func()) {
	d.deferWhile(func() bool {
		if d.usedByFrame(owner) {
			return true
		}
		f := d.lastUse[owner]
		return f != nil && f.busy()
	}, fn)
}

func (d *Device) usedByFrame(r Resource) bool {
	for _, u := range d.frameUses {
		if u == r {
			return true
		}
	}
	return false
}

// deferWhile schedules fn for the next safe point at which busy returns false.
// Until then the request puts itself back into the queue.
func (d *Device) deferWhile(busy func() bool, fn func()) {
	var req func()
	req = func() {
		if busy() {
			d.requests.AddRequest(req)
			return
		}
		fn()
		d.released++
	}
	d.requests.AddRequest(req)
}

// retire schedules the release of r and forgets about it afterwards.
func (d *Device) retire(r Resource) {
	d.deferRelease(r, func() {
		delete(d.lastUse, r)
		r.release()
	})
}

// forgetFence drops every tracking entry that refers to f. It runs before the
// driver fence is destroyed.
func (d *Device) forgetFence(f *Fence) {
	for r, last := range d.lastUse {
		if last == f {
			delete(d.lastUse, r)
		}
	}
	for sc := range d.swapchains {
		sc.forgetFence(f)
	}
}

func (d *Device) misuse(format string, args ...interface{}) error {
	err := errors.AssertionFailedf(format, args...)
	if d.opts.Debug {
		d.log.Errorf("%+v", err)
	}
	return err
}
