package config

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/CutoutCam/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. CUTOUTCAM_SERVER_PORT.
const EnvPrefix = "CUTOUTCAM"

// Config represents the application configuration
type Config struct {
	Output       OutputConfig       `json:"output" yaml:"output" mapstructure:"output"`
	Compositor   CompositorConfig   `json:"compositor" yaml:"compositor" mapstructure:"compositor"`
	Transition   TransitionConfig   `json:"transition" yaml:"transition" mapstructure:"transition"`
	Presentation PresentationConfig `json:"presentation" yaml:"presentation" mapstructure:"presentation"`
	Placeholder  PlaceholderConfig  `json:"placeholder" yaml:"placeholder" mapstructure:"placeholder"`
	Capture      CaptureConfig      `json:"capture" yaml:"capture" mapstructure:"capture"`
	Engine       EngineConfig       `json:"engine" yaml:"engine" mapstructure:"engine"`
	Server       ServerConfig       `json:"server" yaml:"server" mapstructure:"server"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	LogLevel     string             `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty    bool               `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
}

// OutputConfig is the fixed compositing resolution and the render rate
type OutputConfig struct {
	Width  int  `json:"width" yaml:"width" mapstructure:"width"`
	Height int  `json:"height" yaml:"height" mapstructure:"height"`
	FPS    int  `json:"fps" yaml:"fps" mapstructure:"fps"`
	X11    bool `json:"x11" yaml:"x11" mapstructure:"x11"`
}

// CompositorConfig tunes the mask compositor
type CompositorConfig struct {
	AlphaThreshold int  `json:"alpha_threshold" yaml:"alpha_threshold" mapstructure:"alpha_threshold"`
	ResampleInputs bool `json:"resample_inputs" yaml:"resample_inputs" mapstructure:"resample_inputs"`
}

// TransitionConfig tunes the placeholder-to-live crossfade
type TransitionConfig struct {
	Duration time.Duration `json:"duration" yaml:"duration" mapstructure:"duration"`
}

// PresentationConfig holds the cosmetic constants applied before display
type PresentationConfig struct {
	BlurRadius   float64 `json:"blur_radius" yaml:"blur_radius" mapstructure:"blur_radius"`
	Contrast     float64 `json:"contrast" yaml:"contrast" mapstructure:"contrast"`
	Saturation   float64 `json:"saturation" yaml:"saturation" mapstructure:"saturation"`
	Opacity      float64 `json:"opacity" yaml:"opacity" mapstructure:"opacity"`
	Mirror       bool    `json:"mirror" yaml:"mirror" mapstructure:"mirror"`
	CornerRadius float64 `json:"corner_radius" yaml:"corner_radius" mapstructure:"corner_radius"`
	CanvasWidth  int     `json:"canvas_width" yaml:"canvas_width" mapstructure:"canvas_width"`
	CanvasHeight int     `json:"canvas_height" yaml:"canvas_height" mapstructure:"canvas_height"`
	OffsetX      int     `json:"offset_x" yaml:"offset_x" mapstructure:"offset_x"`
	OffsetY      int     `json:"offset_y" yaml:"offset_y" mapstructure:"offset_y"`
}

// PlaceholderConfig points at the static image shown until the live feed is revealed
type PlaceholderConfig struct {
	Path  string `json:"path" yaml:"path" mapstructure:"path"`
	Label string `json:"label" yaml:"label" mapstructure:"label"`
}

// CaptureSource names a capture backend
type CaptureSource string

const (
	CaptureSynthetic CaptureSource = "synthetic"
	CaptureImages    CaptureSource = "images"
	CaptureGStreamer CaptureSource = "gstreamer"
	CaptureX11       CaptureSource = "x11"
)

// CaptureConfig selects and configures the capture source
type CaptureConfig struct {
	Source CaptureSource `json:"source" yaml:"source" mapstructure:"source"`
	FPS    int           `json:"fps" yaml:"fps" mapstructure:"fps"`
	Device string        `json:"device" yaml:"device" mapstructure:"device"`
	Path   string        `json:"path" yaml:"path" mapstructure:"path"`
	Region RegionConfig  `json:"region" yaml:"region" mapstructure:"region"`
}

// RegionConfig is the screen area grabbed by the x11 source. A zero width
// or height grabs the whole screen.
type RegionConfig struct {
	X      int `json:"x" yaml:"x" mapstructure:"x"`
	Y      int `json:"y" yaml:"y" mapstructure:"y"`
	Width  int `json:"width" yaml:"width" mapstructure:"width"`
	Height int `json:"height" yaml:"height" mapstructure:"height"`
}

// Rect returns the region as a rectangle
func (r RegionConfig) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// EngineKind names a segmentation engine
type EngineKind string

const (
	EngineChromaKey EngineKind = "chromakey"
	EngineRemote    EngineKind = "remote"
)

// EngineConfig selects and configures the segmentation engine
type EngineConfig struct {
	Kind           EngineKind    `json:"kind" yaml:"kind" mapstructure:"kind"`
	SendTimeout    time.Duration `json:"send_timeout" yaml:"send_timeout" mapstructure:"send_timeout"`
	URL            string        `json:"url" yaml:"url" mapstructure:"url"`
	ModelSelection int           `json:"model_selection" yaml:"model_selection" mapstructure:"model_selection"`
	SelfieMode     bool          `json:"selfie_mode" yaml:"selfie_mode" mapstructure:"selfie_mode"`
	KeyColor       string        `json:"key_color" yaml:"key_color" mapstructure:"key_color"`
	Tolerance      float64       `json:"tolerance" yaml:"tolerance" mapstructure:"tolerance"`
	Softness       float64       `json:"softness" yaml:"softness" mapstructure:"softness"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port int `json:"port" yaml:"port" mapstructure:"port"`
}

// MetricsConfig toggles the prometheus endpoint
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// Defaults returns the deployment configuration
func Defaults() *Config {
	return &Config{
		Output: OutputConfig{
			Width:  406,
			Height: 270,
			FPS:    30,
		},
		Compositor: CompositorConfig{
			AlphaThreshold: 128,
		},
		Transition: TransitionConfig{
			Duration: 300 * time.Millisecond,
		},
		Presentation: PresentationConfig{
			BlurRadius:   30,
			Contrast:     1.3,
			Saturation:   0.9,
			Opacity:      0.9,
			Mirror:       true,
			CornerRadius: 133.5,
			CanvasWidth:  523,
			CanvasHeight: 380,
			OffsetX:      58,
			OffsetY:      55,
		},
		Placeholder: PlaceholderConfig{
			Label: "camera starting",
		},
		Capture: CaptureConfig{
			Source: CaptureSynthetic,
			FPS:    30,
			Device: "/dev/video0",
		},
		Engine: EngineConfig{
			Kind:           EngineChromaKey,
			SendTimeout:    5 * time.Second,
			URL:            "ws://localhost:8765/segment",
			ModelSelection: 1,
			KeyColor:       "#00b140",
			Tolerance:      60,
			Softness:       80,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		LogLevel: "info",
	}
}

// DefaultPath returns $HOME/.config/cutoutcam/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "cutoutcam", "config.yaml"), nil
}

// SetDefaults registers every default on v so env overrides and flags
// resolve against known keys.
func SetDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("output.width", d.Output.Width)
	v.SetDefault("output.height", d.Output.Height)
	v.SetDefault("output.fps", d.Output.FPS)
	v.SetDefault("output.x11", d.Output.X11)

	v.SetDefault("compositor.alpha_threshold", d.Compositor.AlphaThreshold)
	v.SetDefault("compositor.resample_inputs", d.Compositor.ResampleInputs)

	v.SetDefault("transition.duration", d.Transition.Duration)

	v.SetDefault("presentation.blur_radius", d.Presentation.BlurRadius)
	v.SetDefault("presentation.contrast", d.Presentation.Contrast)
	v.SetDefault("presentation.saturation", d.Presentation.Saturation)
	v.SetDefault("presentation.opacity", d.Presentation.Opacity)
	v.SetDefault("presentation.mirror", d.Presentation.Mirror)
	v.SetDefault("presentation.corner_radius", d.Presentation.CornerRadius)
	v.SetDefault("presentation.canvas_width", d.Presentation.CanvasWidth)
	v.SetDefault("presentation.canvas_height", d.Presentation.CanvasHeight)
	v.SetDefault("presentation.offset_x", d.Presentation.OffsetX)
	v.SetDefault("presentation.offset_y", d.Presentation.OffsetY)

	v.SetDefault("placeholder.path", d.Placeholder.Path)
	v.SetDefault("placeholder.label", d.Placeholder.Label)

	v.SetDefault("capture.source", string(d.Capture.Source))
	v.SetDefault("capture.fps", d.Capture.FPS)
	v.SetDefault("capture.device", d.Capture.Device)
	v.SetDefault("capture.path", d.Capture.Path)
	v.SetDefault("capture.region.x", d.Capture.Region.X)
	v.SetDefault("capture.region.y", d.Capture.Region.Y)
	v.SetDefault("capture.region.width", d.Capture.Region.Width)
	v.SetDefault("capture.region.height", d.Capture.Region.Height)

	v.SetDefault("engine.kind", string(d.Engine.Kind))
	v.SetDefault("engine.send_timeout", d.Engine.SendTimeout)
	v.SetDefault("engine.url", d.Engine.URL)
	v.SetDefault("engine.model_selection", d.Engine.ModelSelection)
	v.SetDefault("engine.selfie_mode", d.Engine.SelfieMode)
	v.SetDefault("engine.key_color", d.Engine.KeyColor)
	v.SetDefault("engine.tolerance", d.Engine.Tolerance)
	v.SetDefault("engine.softness", d.Engine.Softness)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
}

// Load reads configuration through v. A missing file is not an error: the
// defaults and any CUTOUTCAM_* environment overrides apply. When path is
// empty the default location is tried.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		if p, err := DefaultPath(); err == nil {
			path = p
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			logger.WithComponent("config").Debug().
				Str("path", path).
				Msg("Config file not found, using defaults")
		} else {
			logger.WithComponent("config").Info().
				Str("path", v.ConfigFileUsed()).
				Msg("Config loaded")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Output.Width <= 0 || c.Output.Height <= 0 {
		errs = append(errs, fmt.Errorf("output size must be positive, got %dx%d", c.Output.Width, c.Output.Height))
	}
	if c.Output.FPS <= 0 {
		errs = append(errs, fmt.Errorf("output.fps must be positive, got %d", c.Output.FPS))
	}
	if c.Compositor.AlphaThreshold < 0 || c.Compositor.AlphaThreshold > 255 {
		errs = append(errs, fmt.Errorf("compositor.alpha_threshold must be within [0,255], got %d", c.Compositor.AlphaThreshold))
	}
	if c.Transition.Duration < 0 {
		errs = append(errs, fmt.Errorf("transition.duration must not be negative, got %s", c.Transition.Duration))
	}
	if c.Presentation.Opacity < 0 || c.Presentation.Opacity > 1 {
		errs = append(errs, fmt.Errorf("presentation.opacity must be within [0,1], got %g", c.Presentation.Opacity))
	}
	if c.Presentation.BlurRadius < 0 || c.Presentation.Contrast < 0 || c.Presentation.Saturation < 0 {
		errs = append(errs, errors.New("presentation blur_radius, contrast and saturation must not be negative"))
	}
	if c.Presentation.CanvasWidth < c.Output.Width+c.Presentation.OffsetX ||
		c.Presentation.CanvasHeight < c.Output.Height+c.Presentation.OffsetY {
		errs = append(errs, fmt.Errorf("presentation canvas %dx%d cannot hold output %dx%d at offset (%d,%d)",
			c.Presentation.CanvasWidth, c.Presentation.CanvasHeight,
			c.Output.Width, c.Output.Height,
			c.Presentation.OffsetX, c.Presentation.OffsetY))
	}
	switch c.Capture.Source {
	case CaptureSynthetic, CaptureImages, CaptureGStreamer, CaptureX11:
	default:
		errs = append(errs, fmt.Errorf("unknown capture.source %q", c.Capture.Source))
	}
	if c.Capture.Region.Width < 0 || c.Capture.Region.Height < 0 {
		errs = append(errs, fmt.Errorf("capture.region size must not be negative"))
	}
	if c.Capture.FPS <= 0 {
		errs = append(errs, fmt.Errorf("capture.fps must be positive, got %d", c.Capture.FPS))
	}
	switch c.Engine.Kind {
	case EngineChromaKey, EngineRemote:
	default:
		errs = append(errs, fmt.Errorf("unknown engine.kind %q", c.Engine.Kind))
	}
	if c.Engine.SendTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.send_timeout must not be negative, got %s", c.Engine.SendTimeout))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if !logger.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid log_level %q (use: debug, info, warn, error)", c.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Save writes cfg to path as YAML, creating the directory if needed
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	logger.WithComponent("config").Info().
		Str("path", path).
		Msg("Config saved")
	return nil
}
