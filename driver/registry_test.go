package driver_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ironsmile/vkframe/driver"
	"github.com/ironsmile/vkframe/driver/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingDriver counts adapter enumerations of the driver it wraps.
type countingDriver struct {
	driver.Driver
	name  string
	scans int
	err   error
}

func (d *countingDriver) Name() string { return d.name }

func (d *countingDriver) Adapters() ([]driver.AdapterInfo, error) {
	d.scans++
	if d.err != nil {
		return nil, d.err
	}
	return d.Driver.Adapters()
}

func TestRegistryEnumeratesOnce(t *testing.T) {
	drv := &countingDriver{Driver: soft.New(soft.Options{Manual: true}), name: "counting"}
	reg := driver.NewRegistry(nil)
	reg.Register(drv)

	for i := 0; i < 3; i++ {
		infos, err := reg.Adapters()
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, driver.AdapterCPU, infos[0].Type)
	}
	assert.Equal(t, 1, drv.scans)

	reg.Reset()
	_, err := reg.Adapters()
	assert.True(t, errors.Is(err, driver.ErrNoDevice))

	reg.Register(drv)
	_, err = reg.Adapters()
	require.NoError(t, err)
	assert.Equal(t, 2, drv.scans)
}

func TestRegistrySkipsFailingDrivers(t *testing.T) {
	broken := &countingDriver{
		Driver: soft.New(soft.Options{}),
		name:   "broken",
		err:    driver.ErrNotInstalled,
	}
	reg := driver.NewRegistry(nil)
	reg.Register(broken)

	_, err := reg.Adapters()
	assert.True(t, errors.Is(err, driver.ErrNotInstalled))

	reg.Register(soft.New(soft.Options{Manual: true}))
	infos, err := reg.Adapters()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, soft.Name, infos[0].Driver)
}

func TestRegistryLookupAndOpen(t *testing.T) {
	reg := driver.NewRegistry(nil)
	first := soft.New(soft.Options{Manual: true})
	second := soft.New(soft.Options{Manual: true})
	reg.Register(first)
	reg.Register(second)

	require.Len(t, reg.Drivers(), 1)
	drv, ok := reg.Lookup(soft.Name)
	require.True(t, ok)
	assert.Same(t, second, drv)

	_, err := reg.Open("metal", driver.Config{})
	assert.True(t, errors.Is(err, driver.ErrUnknownDriver))

	g, err := reg.Open(soft.Name, driver.Config{Adapter: -1})
	require.NoError(t, err)
	defer g.Destroy()

	_, presents := g.(driver.Presenter)
	assert.False(t, presents, "headless devices cannot present")
	assert.Equal(t, soft.Name, g.Adapter().Driver)
}

func TestParsePresentMode(t *testing.T) {
	for _, m := range []driver.PresentMode{
		driver.PresentFIFO, driver.PresentFIFORelaxed, driver.PresentMailbox, driver.PresentImmediate,
	} {
		parsed, err := driver.ParsePresentMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}

	_, err := driver.ParsePresentMode("vsync")
	assert.Error(t, err)
}

func TestFormatAspect(t *testing.T) {
	assert.Equal(t, driver.AspectColor, driver.FormatBGRA8SRGB.Aspect())
	assert.Equal(t, driver.AspectDepth, driver.FormatD32Float.Aspect())
	assert.Equal(t, driver.AspectDepth|driver.AspectStencil, driver.FormatD24UnormS8Uint.Aspect())
	assert.Equal(t, driver.Aspect(0), driver.FormatUndefined.Aspect())
}
