package driver

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// ErrUnknownDriver is returned by Registry.Open for names nobody registered.
var ErrUnknownDriver = errors.New("driver: unknown driver")

// Registry holds the drivers an application chose to make available and the
// adapters they enumerate. It is created explicitly by the application; there
// is no process-wide instance.
//
// Adapters are enumerated once, on the first call to Adapters, and cached
// until Reset. Registering a driver also drops the cache.
type Registry struct {
	mu       sync.Mutex
	log      logrus.FieldLogger
	drivers  []Driver
	adapters []AdapterInfo
	scanned  bool
}

// NewRegistry returns an empty registry. A nil log discards registry messages.
func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Registry{log: log}
}

// Register adds drv to the registry. A driver with the same name is replaced.
func (r *Registry) Register(drv Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters, r.scanned = nil, false
	for i := range r.drivers {
		if r.drivers[i].Name() == drv.Name() {
			r.drivers[i] = drv
			r.log.Warnf("driver '%s' replaced", drv.Name())
			return
		}
	}
	r.drivers = append(r.drivers, drv)
	r.log.Debugf("driver '%s' registered", drv.Name())
}

// Drivers returns the registered drivers in registration order.
func (r *Registry) Drivers() []Driver {
	r.mu.Lock()
	defer r.mu.Unlock()

	drv := make([]Driver, len(r.drivers))
	copy(drv, r.drivers)
	return drv
}

// Lookup returns the driver registered under name.
func (r *Registry) Lookup(name string) (Driver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, drv := range r.drivers {
		if drv.Name() == name {
			return drv, true
		}
	}
	return nil, false
}

// Adapters returns the adapters of every registered driver. Drivers which fail
// to enumerate are logged and skipped; an error is returned only when none of
// them produced an adapter.
func (r *Registry) Adapters() ([]AdapterInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.scanned {
		out := make([]AdapterInfo, len(r.adapters))
		copy(out, r.adapters)
		return out, nil
	}

	var errs error
	for _, drv := range r.drivers {
		infos, err := drv.Adapters()
		if err != nil {
			r.log.Warnf("enumerating adapters of driver '%s': %s", drv.Name(), err)
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "driver %s", drv.Name()))
			continue
		}
		r.adapters = append(r.adapters, infos...)
	}
	if len(r.adapters) == 0 {
		if errs == nil {
			errs = ErrNoDevice
		}
		return nil, errs
	}
	r.scanned = true

	out := make([]AdapterInfo, len(r.adapters))
	copy(out, r.adapters)
	return out, nil
}

// Open opens a GPU with the driver registered under name.
func (r *Registry) Open(name string, cfg Config) (GPU, error) {
	drv, ok := r.Lookup(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDriver, "%q", name)
	}
	return drv.Open(cfg)
}

// Reset forgets every driver and the cached adapters. The registry can be
// populated again afterwards.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drivers = nil
	r.adapters = nil
	r.scanned = false
}
