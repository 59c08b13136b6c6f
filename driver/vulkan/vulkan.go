// Package vulkan implements the driver interfaces on top of the Vulkan API.
//
// The Vulkan loader is located either through a GetInstanceProcAddr pointer
// supplied in Options (GLFW's, for example) or through the default loader of
// the platform. When neither works, Adapters and Open fail with
// driver.ErrNotInstalled.
package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
	"github.com/sirupsen/logrus"
	vk "github.com/vulkan-go/vulkan"
)

// Name is the name the driver registers under.
const Name = "vulkan"

const validationLayer = "VK_LAYER_KHRONOS_validation\x00"

// Options configures the Vulkan driver.
type Options struct {
	// ProcAddr is the vkGetInstanceProcAddr function used to load Vulkan.
	// When nil the platform's default loader is used.
	ProcAddr unsafe.Pointer

	// Logger receives adapter selection and validation messages. A nil
	// Logger discards them.
	Logger logrus.FieldLogger
}

// Driver is the Vulkan driver.
type Driver struct {
	opts Options
	log  logrus.FieldLogger

	once    sync.Once
	initErr error
}

// New returns a Vulkan driver. The loader is not touched until the driver is
// used.
func New(opts Options) *Driver {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Driver{
		opts: opts,
		log:  log.WithField("driver", Name),
	}
}

// Name returns Name.
func (d *Driver) Name() string { return Name }

func (d *Driver) init() error {
	d.once.Do(func() {
		if d.opts.ProcAddr != nil {
			vk.SetGetInstanceProcAddr(d.opts.ProcAddr)
		} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			d.initErr = errors.Mark(errors.Wrap(err, "vulkan: locating loader"), driver.ErrNotInstalled)
			return
		}
		if err := vk.Init(); err != nil {
			d.initErr = errors.Mark(errors.Wrap(err, "vulkan: initializing"), driver.ErrNotInstalled)
		}
	})
	return d.initErr
}

// Adapters creates a short-lived instance and describes every physical device
// it enumerates.
func (d *Driver) Adapters() ([]driver.AdapterInfo, error) {
	if err := d.init(); err != nil {
		return nil, err
	}

	instance, err := d.createInstance(driver.Config{AppName: "vkframe"}, nil)
	if err != nil {
		return nil, err
	}
	defer vk.DestroyInstance(instance, nil)

	devices, err := physicalDevices(instance)
	if err != nil {
		return nil, err
	}

	infos := make([]driver.AdapterInfo, 0, len(devices))
	for i, dev := range devices {
		infos = append(infos, adapterInfo(i, dev))
	}
	return infos, nil
}

// Open creates an instance and a logical device on the adapter selected by
// cfg. When cfg.Window is set it must implement Surface, and the returned GPU
// also implements driver.Presenter.
func (d *Driver) Open(cfg driver.Config) (driver.GPU, error) {
	if err := d.init(); err != nil {
		return nil, err
	}

	var surface Surface
	if cfg.Window != nil {
		s, ok := cfg.Window.(Surface)
		if !ok {
			return nil, errors.Wrapf(driver.ErrCannotPresent,
				"vulkan: window of type %T cannot create surfaces", cfg.Window)
		}
		surface = s
	}

	if cfg.Validation && !checkValidationSupport() {
		d.log.Warnf("validation layers requested but not available")
		cfg.Validation = false
	}

	instance, err := d.createInstance(cfg, surface)
	if err != nil {
		return nil, err
	}

	g, err := d.openGPU(instance, cfg, surface)
	if err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, err
	}
	if surface == nil {
		return g, nil
	}
	return &PresentGPU{GPU: g, win: surface}, nil
}

func (d *Driver) createInstance(cfg driver.Config, surface Surface) (vk.Instance, error) {
	appName := cfg.AppName
	if appName == "" {
		appName = "vkframe"
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   cstr(appName),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "vkframe\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.ApiVersion10,
	}

	var extensions []string
	if surface != nil {
		for _, ext := range surface.GetRequiredInstanceExtensions() {
			extensions = append(extensions, cstr(ext))
		}
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}
	if cfg.Validation {
		createInfo.EnabledLayerCount = 1
		createInfo.PpEnabledLayerNames = []string{validationLayer}
		d.log.Infof("validation layers enabled")
	}

	var instance vk.Instance
	if err := check(vk.CreateInstance(&createInfo, nil, &instance), "vulkan: creating instance"); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return nil, errors.Wrap(err, "vulkan: loading instance functions")
	}
	return instance, nil
}

func physicalDevices(instance vk.Instance) ([]vk.PhysicalDevice, error) {
	var deviceCount uint32
	err := check(vk.EnumeratePhysicalDevices(instance, &deviceCount, nil),
		"vulkan: counting physical devices")
	if err != nil {
		return nil, err
	}
	if deviceCount == 0 {
		return nil, errors.Wrap(driver.ErrNoDevice, "vulkan: no GPUs with Vulkan support")
	}

	devices := make([]vk.PhysicalDevice, deviceCount)
	err = check(vk.EnumeratePhysicalDevices(instance, &deviceCount, devices),
		"vulkan: enumerating physical devices")
	if err != nil {
		return nil, err
	}
	return devices[:deviceCount], nil
}

func adapterInfo(index int, dev vk.PhysicalDevice) driver.AdapterInfo {
	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(dev, &properties)
	properties.Deref()

	return driver.AdapterInfo{
		Driver:     Name,
		Index:      index,
		Name:       vk.ToString(properties.DeviceName[:]),
		Type:       adapterType(properties.DeviceType),
		APIVersion: versionString(properties.ApiVersion),
	}
}

func adapterType(t vk.PhysicalDeviceType) driver.AdapterType {
	switch t {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return driver.AdapterDiscrete
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return driver.AdapterIntegrated
	case vk.PhysicalDeviceTypeVirtualGpu:
		return driver.AdapterVirtual
	case vk.PhysicalDeviceTypeCpu:
		return driver.AdapterCPU
	}
	return driver.AdapterOther
}

func versionString(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>22, (v>>12)&0x3ff, v&0xfff)
}

func checkValidationSupport() bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return false
	}
	availableLayers := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, availableLayers) != vk.Success {
		return false
	}

	for _, layer := range availableLayers {
		layer.Deref()
		if cstr(vk.ToString(layer.LayerName[:])) == validationLayer {
			return true
		}
	}
	return false
}

// cstr returns s terminated by a NUL byte, which is how the Vulkan bindings
// expect names.
func cstr(s string) string {
	if len(s) > 0 && s[len(s)-1] == 0 {
		return s
	}
	return s + "\x00"
}

// check converts a Vulkan result into an error. Results which correspond to a
// driver sentinel are marked with it.
func check(res vk.Result, msg string) error {
	if res == vk.Success {
		return nil
	}

	cause := vk.Error(res)
	if cause == nil {
		cause = errors.Newf("vulkan result %d", int32(res))
	}
	err := errors.Wrap(cause, msg)
	switch res {
	case vk.ErrorOutOfHostMemory:
		return errors.Mark(err, driver.ErrNoHostMemory)
	case vk.ErrorOutOfDeviceMemory:
		return errors.Mark(err, driver.ErrNoDeviceMemory)
	case vk.ErrorDeviceLost:
		return errors.Mark(err, driver.ErrDeviceLost)
	case vk.ErrorOutOfDate:
		return errors.Mark(err, driver.ErrOutOfDate)
	case vk.Suboptimal:
		return errors.Mark(err, driver.ErrSuboptimal)
	case vk.ErrorSurfaceLost:
		return errors.Mark(err, driver.ErrSurfaceLost)
	case vk.Timeout, vk.NotReady:
		return errors.Mark(err, driver.ErrTimeout)
	case vk.ErrorIncompatibleDriver, vk.ErrorInitializationFailed:
		return errors.Mark(err, driver.ErrNotInstalled)
	}
	return err
}
