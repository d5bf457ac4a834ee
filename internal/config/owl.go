// Package config loads the rig configuration. Every field is optional: a
// nil field falls back to the default returned by its Get* accessor, so
// partial files are safe.
package config

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/owl-rig/owl/internal/control"
	"github.com/owl-rig/owl/internal/link"
	"github.com/owl-rig/owl/internal/rig"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/owl.defaults.json"

// Transport names accepted by link_transport.
const (
	TransportTCP    = "tcp"
	TransportSerial = "serial"
)

// Rect is a pixel rectangle given by its origin and size.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Image converts r to an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// OwlConfig is the root configuration document.
type OwlConfig struct {
	// Actuator link
	LinkTransport *string           `json:"link_transport,omitempty"` // "tcp" or "serial"
	ActuatorAddr  *string           `json:"actuator_addr,omitempty"`
	SerialPort    *string           `json:"serial_port,omitempty"`
	Serial        *link.PortOptions `json:"serial,omitempty"`
	LinkTimeout   *string           `json:"link_timeout,omitempty"` // duration string like "2s"

	// Frames
	FrameTimeout  *string `json:"frame_timeout,omitempty"`
	FrameInterval *string `json:"frame_interval,omitempty"`

	// Control
	Kpx            *float64      `json:"kpx,omitempty"`
	Kpy            *float64      `json:"kpy,omitempty"`
	ActuatorRangeX *float64      `json:"actuator_range_x,omitempty"`
	ActuatorRangeY *float64      `json:"actuator_range_y,omitempty"`
	Limits         *rig.Limits   `json:"limits,omitempty"`
	Home           *rig.Setpoint `json:"home,omitempty"`
	Clamp          *bool         `json:"clamp,omitempty"`
	Target         *Rect         `json:"target,omitempty"`

	// Observation
	OverlayEvery *int `json:"overlay_every,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a config with every field unset.
func EmptyConfig() *OwlConfig {
	return &OwlConfig{}
}

// DefaultConfig returns a config with every field set to its default.
func DefaultConfig() *OwlConfig {
	c := EmptyConfig()
	limits := c.GetLimits()
	home := c.GetHome()
	target := Rect{X: 288, Y: 208, W: 64, H: 64}
	serial := c.GetSerial()
	return &OwlConfig{
		LinkTransport:  ptrString(c.GetLinkTransport()),
		ActuatorAddr:   ptrString(c.GetActuatorAddr()),
		SerialPort:     ptrString(c.GetSerialPort()),
		Serial:         &serial,
		LinkTimeout:    ptrString(c.GetLinkTimeout().String()),
		FrameTimeout:   ptrString(c.GetFrameTimeout().String()),
		FrameInterval:  ptrString(c.GetFrameInterval().String()),
		Kpx:            ptrFloat64(c.GetKpx()),
		Kpy:            ptrFloat64(c.GetKpy()),
		ActuatorRangeX: ptrFloat64(c.GetActuatorRangeX()),
		ActuatorRangeY: ptrFloat64(c.GetActuatorRangeY()),
		Limits:         &limits,
		Home:           &home,
		Clamp:          ptrBool(c.GetClamp()),
		Target:         &target,
		OverlayEvery:   ptrInt(c.GetOverlayEvery()),
	}
}

// LoadConfig loads an OwlConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadConfig(path string) (*OwlConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *OwlConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable.
func (c *OwlConfig) Validate() error {
	if c.LinkTransport != nil {
		switch strings.ToLower(*c.LinkTransport) {
		case TransportTCP, TransportSerial:
		default:
			return fmt.Errorf("link_transport must be %q or %q, got %q", TransportTCP, TransportSerial, *c.LinkTransport)
		}
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}

	for name, v := range map[string]*string{
		"link_timeout":   c.LinkTimeout,
		"frame_timeout":  c.FrameTimeout,
		"frame_interval": c.FrameInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}

	for name, v := range map[string]*float64{"kpx": c.Kpx, "kpy": c.Kpy} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}
	for name, v := range map[string]*float64{"actuator_range_x": c.ActuatorRangeX, "actuator_range_y": c.ActuatorRangeY} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	if c.Limits != nil {
		if err := c.Limits.Validate(); err != nil {
			return fmt.Errorf("limits: %w", err)
		}
		if c.Limits.Lx.Span() == 0 && c.ActuatorRangeX == nil {
			return fmt.Errorf("limits: lx span is zero and actuator_range_x is not set")
		}
		if c.Limits.Ly.Span() == 0 && c.ActuatorRangeY == nil {
			return fmt.Errorf("limits: ly span is zero and actuator_range_y is not set")
		}
	}

	if c.Target != nil {
		if c.Target.X < 0 || c.Target.Y < 0 {
			return fmt.Errorf("target must have a non-negative origin, got %+v", *c.Target)
		}
		if c.Target.W != control.TemplateSize || c.Target.H != control.TemplateSize {
			return fmt.Errorf("target must be %dx%d, got %dx%d", control.TemplateSize, control.TemplateSize, c.Target.W, c.Target.H)
		}
	}
	if c.OverlayEvery != nil && *c.OverlayEvery < 0 {
		return fmt.Errorf("overlay_every must be non-negative, got %d", *c.OverlayEvery)
	}
	return nil
}

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetLinkTransport returns the link transport name or "tcp".
func (c *OwlConfig) GetLinkTransport() string {
	if c.LinkTransport == nil || *c.LinkTransport == "" {
		return TransportTCP
	}
	return strings.ToLower(*c.LinkTransport)
}

// GetActuatorAddr returns the actuator host address.
func (c *OwlConfig) GetActuatorAddr() string {
	if c.ActuatorAddr == nil || *c.ActuatorAddr == "" {
		return fmt.Sprintf("10.0.0.10:%d", link.DefaultPort)
	}
	return *c.ActuatorAddr
}

// GetSerialPort returns the serial device path.
func (c *OwlConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

// GetSerial returns the normalised serial options.
func (c *OwlConfig) GetSerial() link.PortOptions {
	var opts link.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	normalized, err := opts.Normalize()
	if err != nil {
		normalized, _ = link.PortOptions{}.Normalize()
	}
	return normalized
}

// GetLinkTimeout bounds one request/reply exchange.
func (c *OwlConfig) GetLinkTimeout() time.Duration {
	return parseDuration(c.LinkTimeout, link.DefaultTimeout)
}

// GetFrameTimeout bounds one frame acquisition.
func (c *OwlConfig) GetFrameTimeout() time.Duration {
	return parseDuration(c.FrameTimeout, 2*time.Second)
}

// GetFrameInterval paces file-backed frame sources.
func (c *OwlConfig) GetFrameInterval() time.Duration {
	return parseDuration(c.FrameInterval, 33*time.Millisecond)
}

// GetKpx returns the horizontal track rate.
func (c *OwlConfig) GetKpx() float64 {
	if c.Kpx == nil {
		return 0.05
	}
	return *c.Kpx
}

// GetKpy returns the vertical track rate.
func (c *OwlConfig) GetKpy() float64 {
	if c.Kpy == nil {
		return 0.05
	}
	return *c.Kpy
}

// GetLimits returns the per-channel PWM limits.
func (c *OwlConfig) GetLimits() rig.Limits {
	if c.Limits == nil {
		return rig.DefaultLimits()
	}
	return *c.Limits
}

// GetActuatorRangeX returns the horizontal actuator range in PWM units,
// defaulting to the span of the Lx limits.
func (c *OwlConfig) GetActuatorRangeX() float64 {
	if c.ActuatorRangeX == nil {
		return float64(c.GetLimits().Lx.Span())
	}
	return *c.ActuatorRangeX
}

// GetActuatorRangeY returns the vertical actuator range in PWM units,
// defaulting to the span of the Ly limits.
func (c *OwlConfig) GetActuatorRangeY() float64 {
	if c.ActuatorRangeY == nil {
		return float64(c.GetLimits().Ly.Span())
	}
	return *c.ActuatorRangeY
}

// GetHome returns the setpoint sent when a session starts.
func (c *OwlConfig) GetHome() rig.Setpoint {
	if c.Home == nil {
		return rig.Home
	}
	return *c.Home
}

// GetClamp reports whether setpoints are clamped to limits before
// transmission.
func (c *OwlConfig) GetClamp() bool {
	if c.Clamp == nil {
		return true
	}
	return *c.Clamp
}

// GetTarget returns the template capture rectangle. Only its origin is
// configurable; the size is always control.TemplateSize.
func (c *OwlConfig) GetTarget() image.Rectangle {
	if c.Target == nil {
		return control.DefaultTarget
	}
	return c.Target.Image()
}

// GetOverlayEvery returns how many tracking cycles pass between overlay
// dumps. Zero disables overlays.
func (c *OwlConfig) GetOverlayEvery() int {
	if c.OverlayEvery == nil {
		return 10
	}
	return *c.OverlayEvery
}
