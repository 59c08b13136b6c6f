package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vkframe.log")
	require.NoError(t, Init("debug", path, false))
	defer Close()

	assert.Equal(t, logrus.DebugLevel, Get().GetLevel())
	Debugf("frame %d", 7)
	WithComponent("gpu").Info("swapchain created")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "frame 7")
	assert.Contains(t, string(data), "component=gpu")
}

func TestInitUnknownLevel(t *testing.T) {
	require.NoError(t, Init("chatty", "", false))
	defer Close()

	assert.Equal(t, logrus.InfoLevel, Get().GetLevel())
}

func TestGetWithoutInit(t *testing.T) {
	mu.Lock()
	log = nil
	mu.Unlock()

	l := Get()
	require.NotNil(t, l)
	assert.Same(t, l, Get())
}
