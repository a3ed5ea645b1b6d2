package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 406, cfg.Output.Width)
	assert.Equal(t, 270, cfg.Output.Height)
	assert.Equal(t, 128, cfg.Compositor.AlphaThreshold)
	assert.Equal(t, 300*time.Millisecond, cfg.Transition.Duration)
	assert.InDelta(t, 0.9, cfg.Presentation.Opacity, 1e-9)
	assert.True(t, cfg.Presentation.Mirror)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
output:
  width: 320
  height: 240
transition:
  duration: 450ms
engine:
  kind: remote
  url: ws://segmenter:9000/ws
`), 0644))

	t.Setenv("CUTOUTCAM_SERVER_PORT", "9191")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 320, cfg.Output.Width)
	assert.Equal(t, 240, cfg.Output.Height)
	assert.Equal(t, 450*time.Millisecond, cfg.Transition.Duration)
	assert.Equal(t, EngineRemote, cfg.Engine.Kind)
	assert.Equal(t, "ws://segmenter:9000/ws", cfg.Engine.URL)
	assert.Equal(t, 9191, cfg.Server.Port)
	// untouched keys keep their defaults
	assert.Equal(t, 128, cfg.Compositor.AlphaThreshold)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compositor:\n  alpha_threshold: 300\n"), 0644))

	_, err := Load(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha_threshold")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero width", func(c *Config) { c.Output.Width = 0 }, "output size"},
		{"opacity above one", func(c *Config) { c.Presentation.Opacity = 1.5 }, "presentation.opacity"},
		{"negative duration", func(c *Config) { c.Transition.Duration = -time.Second }, "transition.duration"},
		{"unknown source", func(c *Config) { c.Capture.Source = "floppy" }, "capture.source"},
		{"unknown engine", func(c *Config) { c.Engine.Kind = "oracle" }, "engine.kind"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"canvas too small", func(c *Config) { c.Presentation.CanvasWidth = 100 }, "canvas"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Defaults()
	cfg.Server.Port = 7070
	cfg.Transition.Duration = 1200 * time.Millisecond

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
