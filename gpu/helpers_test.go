package gpu

import (
	"strings"

	"github.com/ironsmile/vkframe/driver"
	"github.com/ironsmile/vkframe/driver/soft"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

// openTestDevice opens a device on the software driver. win may be nil for a
// headless device.
func openTestDevice(opts soft.Options, win *soft.Window, devOpts Options) (*Device, *soft.GPU, *logtest.Hook) {
	cfg := driver.Config{Adapter: -1}
	if win != nil {
		cfg.Window = win
	}
	g, err := soft.New(opts).Open(cfg)
	if err != nil {
		panic(err)
	}

	var sg *soft.GPU
	switch g := g.(type) {
	case *soft.GPU:
		sg = g
	case *soft.PresentGPU:
		sg = g.GPU
	}

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	devOpts.Logger = logger
	return New(g, devOpts), sg, hook
}

func hasEntry(hook *logtest.Hook, level logrus.Level, substr string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
