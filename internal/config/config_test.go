package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ironsmile/vkframe/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	mode, err := cfg.PresentMode()
	require.NoError(t, err)
	assert.Equal(t, driver.PresentMailbox, mode)
	assert.Equal(t, -1, cfg.Driver.Adapter)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkframe.yaml")
	data := []byte(`
driver:
  name: soft
  soft_latency: 2ms
window:
  width: 1024
  height: 768
swapchain:
  present_mode: fifo
  image_count: 2
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "soft", cfg.Driver.Name)
	assert.Equal(t, 2*time.Millisecond, cfg.Driver.SoftLatency)
	assert.Equal(t, 1024, cfg.Window.Width)
	assert.Equal(t, 768, cfg.Window.Height)
	assert.Equal(t, 2, cfg.SwapChain.ImageCount)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, "vkframe", cfg.Window.Title)
	assert.Equal(t, []float32{0, 0, 0, 1}, cfg.Run.ClearColor)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkframe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("window:\n  width: 640\n"), 0644))
	t.Setenv("VKFRAME_WINDOW_WIDTH", "1280")
	t.Setenv("VKFRAME_DRIVER_NAME", "soft")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1280, cfg.Window.Width)
	assert.Equal(t, "soft", cfg.Driver.Name)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkframe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("swapchain:\n  present_mode: vsync\n"), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "swapchain.present_mode")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Driver.Name = "metal" }},
		{"zero width", func(c *Config) { c.Window.Width = 0 }},
		{"negative latency", func(c *Config) { c.Driver.SoftLatency = -time.Second }},
		{"negative image count", func(c *Config) { c.SwapChain.ImageCount = -1 }},
		{"short clear color", func(c *Config) { c.Run.ClearColor = []float32{1} }},
		{"unknown level", func(c *Config) { c.Logging.Level = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs", "vkframe.log"), expandPath("~/logs/vkframe.log"))

	t.Setenv("VKFRAME_TEST_DIR", "/tmp/vk")
	assert.Equal(t, "/tmp/vk/out.log", expandPath("$VKFRAME_TEST_DIR/out.log"))
}
