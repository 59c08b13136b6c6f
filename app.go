package main

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/ironsmile/vkframe/driver"
	"github.com/ironsmile/vkframe/driver/soft"
	"github.com/ironsmile/vkframe/driver/vulkan"
	"github.com/ironsmile/vkframe/gpu"
	"github.com/ironsmile/vkframe/internal/config"
	"github.com/ironsmile/vkframe/internal/logging"
	"github.com/ironsmile/vkframe/unsafer"
	"github.com/loov/hrtime"
	"github.com/sirupsen/logrus"
	"github.com/xlab/linmath"
)

// defaultSoftFrames is how many frames a soft run draws when the
// configuration does not limit them. The soft window never closes.
const defaultSoftFrames = 600

// renderer records the commands which draw one frame.
type renderer interface {
	// Record returns the commands drawing into img for frame slot slot. The
	// slot's previous commands are known to have completed.
	Record(slot int, img *gpu.Image) ([]driver.CmdBuffer, error)

	Destroy()
}

// UniformBufferObject is the per-frame data written for the shaders.
type UniformBufferObject struct {
	model linmath.Mat4x4
	view  linmath.Mat4x4
	proj  linmath.Mat4x4
}

// app presents frames on a swapchain until its window closes or the frame
// limit is reached.
type app struct {
	cfg *config.Config
	log *logrus.Entry

	// window is nil when running on the soft driver, which uses softWindow.
	window     *glfw.Window
	softWindow *soft.Window
	win        driver.Window

	dev         *gpu.Device
	sc          *gpu.SwapChain
	ubo         *gpu.Buffer
	rend        renderer
	presentMode driver.PresentMode
	frames      uint64

	frameBufferResized bool
	startTime          time.Duration
	lastStats          uint64

	stop      atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newApp(cfg *config.Config) (*app, error) {
	mode, err := cfg.PresentMode()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		log:         logging.WithComponent("app"),
		presentMode: mode,
		frames:      uint64(cfg.Run.Frames),
		done:        make(chan struct{}),
	}

	if err := a.initWindow(); err != nil {
		return nil, errors.Wrap(err, "initWindow")
	}

	if err := a.initDevice(); err != nil {
		a.cleanWindow()
		return nil, errors.Wrap(err, "initDevice")
	}

	return a, nil
}

func (a *app) initWindow() error {
	if a.cfg.Driver.Name == soft.Name {
		a.softWindow = soft.NewWindow(a.cfg.Window.Width, a.cfg.Window.Height)
		a.win = a.softWindow
		if a.frames == 0 {
			a.frames = defaultSoftFrames
			a.log.Infof("no frame limit set, the soft driver stops after %d frames", a.frames)
		}
		return nil
	}

	if err := glfw.Init(); err != nil {
		return errors.Wrap(err, "glfw.Init")
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	resizable := glfw.False
	if a.cfg.Window.Resizable {
		resizable = glfw.True
	}
	glfw.WindowHint(glfw.Resizable, resizable)

	window, err := glfw.CreateWindow(a.cfg.Window.Width, a.cfg.Window.Height, a.cfg.Window.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return errors.Wrap(err, "creating window")
	}
	window.SetFramebufferSizeCallback(a.frameBufferResizeCallback)

	a.window = window
	a.win = window
	return nil
}

func (a *app) frameBufferResizeCallback(w *glfw.Window, width int, height int) {
	a.frameBufferResized = true
}

func (a *app) cleanWindow() {
	if a.window == nil {
		return
	}
	a.window.Destroy()
	glfw.Terminate()
	a.window = nil
}

func (a *app) registry() *driver.Registry {
	reg := driver.NewRegistry(logging.WithComponent("registry"))
	reg.Register(soft.New(soft.Options{
		Latency:      a.cfg.Driver.SoftLatency,
		MemoryBudget: a.cfg.Driver.SoftMemoryBudget,
		PresentModes: []driver.PresentMode{
			driver.PresentMailbox,
			driver.PresentImmediate,
			driver.PresentFIFORelaxed,
		},
	}))

	opts := vulkan.Options{Logger: logging.WithComponent("vulkan")}
	if a.window != nil {
		opts.ProcAddr = glfw.GetVulkanGetInstanceProcAddress()
	}
	reg.Register(vulkan.New(opts))
	return reg
}

func (a *app) initDevice() error {
	dev, err := gpu.Open(a.registry(), a.cfg.Driver.Name, driver.Config{
		AppName:    a.cfg.Window.Title,
		Adapter:    a.cfg.Driver.Adapter,
		Validation: a.cfg.Driver.Validation,
		Window:     a.win,
	}, gpu.Options{
		Logger: logging.WithComponent("gpu"),
		Debug:  a.cfg.Logging.Debug,
	})
	if err != nil {
		return err
	}
	a.dev = dev

	width, height := a.win.GetFramebufferSize()
	a.sc, err = dev.NewSwapChain(gpu.SwapChainDesc{
		Width:          width,
		Height:         height,
		PresentMode:    a.presentMode,
		ImageCount:     a.cfg.SwapChain.ImageCount,
		AcquireTimeout: a.cfg.SwapChain.AcquireTimeout,
	})
	if err != nil {
		dev.Destroy()
		return errors.Wrap(err, "createSwapChain")
	}

	if err := a.createUniformBuffers(); err != nil {
		a.sc.Destroy()
		dev.Destroy()
		return errors.Wrap(err, "createUniformBuffers")
	}

	a.rend, err = a.createRenderer()
	if err != nil {
		a.ubo.Destroy()
		a.sc.Destroy()
		dev.Destroy()
		return errors.Wrap(err, "createRenderer")
	}
	return nil
}

// createUniformBuffers allocates one uniform instance per frame slot in a
// single host visible buffer which stays mapped.
func (a *app) createUniformBuffers() error {
	ubo, err := a.dev.NewBuffer(gpu.BufferDesc{
		Usage:         driver.UsageUniform,
		Memory:        driver.MemoryHostVisible,
		InstanceCount: gpu.MaxFramesInFlight,
		InstanceSize:  int64(unsafe.Sizeof(UniformBufferObject{})),
	})
	if err != nil {
		return err
	}

	if _, err := ubo.Map(gpu.WholeSize, 0); err != nil {
		ubo.Destroy()
		return err
	}
	a.ubo = ubo
	return nil
}

func (a *app) createRenderer() (renderer, error) {
	var color [4]float32
	copy(color[:], a.cfg.Run.ClearColor)

	if g, ok := a.dev.GPU().(*vulkan.PresentGPU); ok {
		return newVulkanRenderer(g.GPU, color)
	}
	return newSoftRenderer(a.ubo), nil
}

// Run draws frames until the window is closed, the frame limit is reached or
// Stop is called.
func (a *app) Run() error {
	a.log.Infof("presenting on %s", a.dev.GPU().Adapter().Name)
	a.startTime = hrtime.Now()

	for !a.shouldClose() {
		if err := a.drawFrame(); err != nil {
			return errors.Wrap(err, "error drawing a frame")
		}
		a.pollEvents()
		a.logStats()
	}

	return a.sc.WaitIdle()
}

func (a *app) shouldClose() bool {
	if a.stop.Load() {
		return true
	}
	if a.frames > 0 && a.dev.CurrentFrame() >= a.frames {
		return true
	}
	return a.window != nil && a.window.ShouldClose()
}

func (a *app) pollEvents() {
	if a.window != nil {
		glfw.PollEvents()
	}
}

func (a *app) drawFrame() error {
	ok, err := a.sc.AcquireNextImage()
	if err != nil {
		return errors.Wrap(err, "failed to acquire swap chain image")
	}
	if !ok {
		return a.recreateSwapChain()
	}

	slot := a.dev.FrameIndex()
	if err := a.updateUniformBuffer(slot); err != nil {
		return errors.Wrap(err, "updating uniform buffer")
	}

	cmds, err := a.rend.Record(slot, a.sc.Images()[a.sc.CurrentImage()])
	if err != nil {
		return errors.Wrap(err, "recording command buffer")
	}
	a.dev.Use(a.ubo)

	ok, err = a.sc.SubmitCommandBuffers(cmds)
	if err != nil {
		return errors.Wrap(err, "submitting frame")
	}
	if !ok || a.frameBufferResized {
		a.frameBufferResized = false
		return a.recreateSwapChain()
	}
	return nil
}

func (a *app) recreateSwapChain() error {
	width, height := a.win.GetFramebufferSize()
	for width == 0 || height == 0 {
		if a.window == nil || a.window.ShouldClose() {
			return nil
		}
		glfw.WaitEvents()
		width, height = a.win.GetFramebufferSize()
	}

	if err := a.sc.Recreate(width, height, a.presentMode); err != nil {
		return errors.Wrap(err, "recreating swapchain")
	}
	return nil
}

func (a *app) updateUniformBuffer(slot int) error {
	frameTime := hrtime.Since(a.startTime)
	ubo := UniformBufferObject{}

	ubo.model.Identity()
	ubo.model.RotateZ(&ubo.model, float32(frameTime.Seconds()))
	ubo.view.LookAt(
		&linmath.Vec3{2, 2, 2},
		&linmath.Vec3{0, 0, 0},
		&linmath.Vec3{0, 0, 1},
	)
	ubo.proj.Perspective(45, a.sc.AspectRatio(), 0.1, 10)

	ubo.proj[1][1] *= -1

	if err := a.ubo.WriteToIndex(unsafer.StructToBytes(&ubo), slot); err != nil {
		return err
	}
	return a.ubo.FlushIndex(slot)
}

func (a *app) logStats() {
	every := uint64(a.cfg.Run.StatsEvery)
	frame := a.dev.CurrentFrame()
	if every == 0 || frame == a.lastStats || frame%every != 0 {
		return
	}
	a.lastStats = frame

	stats, err := a.dev.StatsJSON()
	if err != nil {
		a.log.Warnf("collecting stats: %s", err)
		return
	}
	a.log.Infof("frame %d: %s", frame, stats)
}

// Stop asks Run to return and blocks until the app has been cleaned up. It
// may be called from any goroutine.
func (a *app) Stop() {
	a.stop.Store(true)
	<-a.done
}

// cleanup releases everything newApp created. It must run on the goroutine
// which called Run.
func (a *app) cleanup() {
	a.closeOnce.Do(func() {
		defer close(a.done)

		if err := a.sc.WaitIdle(); err != nil {
			a.log.Warnf("waiting for the swapchain: %s", err)
		}
		a.rend.Destroy()
		a.ubo.Destroy()
		a.sc.Destroy()
		a.dev.Destroy()
		a.cleanWindow()
	})
}
