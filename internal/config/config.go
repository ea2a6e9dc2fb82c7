// Package config handles configuration loading, validation, and hot reload
// for molecules widgets and tooling.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"

	"molecules/internal/grab"
	"molecules/internal/hover"
	"molecules/internal/input"
	"molecules/internal/lines"
	"molecules/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MOLECULES_"

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	Grab    GrabConfig    `toml:"grab" json:"grab" yaml:"grab" envPrefix:"GRAB_"`
	Hover   HoverConfig   `toml:"hover" json:"hover" yaml:"hover" envPrefix:"HOVER_"`
	Input   InputConfig   `toml:"input" json:"input" yaml:"input" envPrefix:"INPUT_"`
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging" envPrefix:"LOG_"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Replay  ReplayConfig  `toml:"replay" json:"replay" yaml:"replay" envPrefix:"REPLAY_"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// GrabConfig configures grab manipulators.
type GrabConfig struct {
	// MaxDistance is the field distance below which a source may grab.
	MaxDistance float32 `toml:"max_distance" json:"max_distance" yaml:"max_distance" env:"MAX_DISTANCE"`

	// PinchThreshold applies to hands, GrabThreshold to everything else.
	PinchThreshold float32 `toml:"pinch_threshold" json:"pinch_threshold" yaml:"pinch_threshold" env:"PINCH_THRESHOLD"`
	GrabThreshold  float32 `toml:"grab_threshold" json:"grab_threshold" yaml:"grab_threshold" env:"GRAB_THRESHOLD"`
}

// Range is a closed output interval. Min may exceed Max to flip an axis.
type Range struct {
	Min float32 `toml:"min" json:"min" yaml:"min"`
	Max float32 `toml:"max" json:"max" yaml:"max"`
}

// HoverConfig configures hover surfaces.
type HoverConfig struct {
	Width     float32 `toml:"width" json:"width" yaml:"width" env:"WIDTH"`
	Height    float32 `toml:"height" json:"height" yaml:"height" env:"HEIGHT"`
	Thickness float32 `toml:"thickness" json:"thickness" yaml:"thickness" env:"THICKNESS"`

	XRange Range `toml:"x_range" json:"x_range" yaml:"x_range"`
	YRange Range `toml:"y_range" json:"y_range" yaml:"y_range"`

	PinchThreshold  float32 `toml:"pinch_threshold" json:"pinch_threshold" yaml:"pinch_threshold" env:"PINCH_THRESHOLD"`
	SelectThreshold float32 `toml:"select_threshold" json:"select_threshold" yaml:"select_threshold" env:"SELECT_THRESHOLD"`

	Lines LineConfig `toml:"lines" json:"lines" yaml:"lines"`
}

// LineConfig styles the hover feedback lines.
type LineConfig struct {
	StartThickness     float32     `toml:"start_thickness" json:"start_thickness" yaml:"start_thickness"`
	EndThickness       float32     `toml:"end_thickness" json:"end_thickness" yaml:"end_thickness"`
	StartColorHover    lines.Color `toml:"start_color_hover" json:"start_color_hover" yaml:"start_color_hover"`
	StartColorInteract lines.Color `toml:"start_color_interact" json:"start_color_interact" yaml:"start_color_interact"`
	EndColorHover      lines.Color `toml:"end_color_hover" json:"end_color_hover" yaml:"end_color_hover"`
	EndColorInteract   lines.Color `toml:"end_color_interact" json:"end_color_interact" yaml:"end_color_interact"`
}

// InputConfig maps datamap key names.
type InputConfig struct {
	PinchKey  string `toml:"pinch_key" json:"pinch_key" yaml:"pinch_key" env:"PINCH_KEY"`
	GrabKey   string `toml:"grab_key" json:"grab_key" yaml:"grab_key" env:"GRAB_KEY"`
	SelectKey string `toml:"select_key" json:"select_key" yaml:"select_key" env:"SELECT_KEY"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level" env:"LEVEL"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format" env:"FORMAT"`

	// Output is stdout, stderr, file or discard.
	Output string `toml:"output" json:"output" yaml:"output" env:"OUTPUT"`

	FilePath  string `toml:"file_path" json:"file_path" yaml:"file_path" env:"PATH"`
	AddSource bool   `toml:"add_source" json:"add_source" yaml:"add_source" env:"ADD_SOURCE"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled" json:"enabled" yaml:"enabled" env:"ENABLED"`
	Namespace string `toml:"namespace" json:"namespace" yaml:"namespace" env:"NAMESPACE"`

	// Format is prometheus or json.
	Format string `toml:"format" json:"format" yaml:"format" env:"FORMAT"`
}

// StorageConfig holds anchor persistence configuration.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path          string `toml:"path" json:"path" yaml:"path" env:"PATH"`
	BusyTimeoutMs int    `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms" env:"BUSY_TIMEOUT_MS"`
}

// ReplayConfig holds replay tool configuration.
type ReplayConfig struct {
	// FixtureDir is searched for relative fixture paths.
	FixtureDir string `toml:"fixture_dir" json:"fixture_dir" yaml:"fixture_dir" env:"FIXTURE_DIR"`

	// SaveAnchors persists each widget's anchor after a replay.
	SaveAnchors bool `toml:"save_anchors" json:"save_anchors" yaml:"save_anchors" env:"SAVE_ANCHORS"`
}

// DataDir returns the base data directory, honoring MOLECULES_DATA_DIR.
func DataDir() string {
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "molecules")
	}
	return filepath.Join(os.TempDir(), "molecules")
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dir := DataDir()
	return &Config{
		Version: Version,
		Grab: GrabConfig{
			MaxDistance:    0.05,
			PinchThreshold: 0.90,
			GrabThreshold:  0.90,
		},
		Hover: HoverConfig{
			Width:           0.1,
			Height:          0.1,
			Thickness:       0.01,
			XRange:          Range{Min: 0, Max: 1},
			YRange:          Range{Min: 0, Max: 1},
			PinchThreshold:  0.90,
			SelectThreshold: 0.50,
			Lines: LineConfig{
				StartThickness:     0.0,
				EndThickness:       0.005,
				StartColorHover:    lines.RGBA(1, 1, 1, 1),
				StartColorInteract: lines.RGBA(0, 1, 0.75, 1),
				EndColorHover:      lines.RGBA(1, 1, 1, 0),
				EndColorInteract:   lines.RGBA(0, 1, 0.75, 0),
			},
		},
		Input: InputConfig{
			PinchKey:  input.KeyPinchStrength,
			GrabKey:   input.KeyGrab,
			SelectKey: input.KeySelect,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "text",
			Output:   "stderr",
			FilePath: filepath.Join(dir, "molecules.log"),
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "molecules",
			Format:    "prometheus",
		},
		Storage: StorageConfig{
			Path:          filepath.Join(dir, "anchors.db"),
			BusyTimeoutMs: 5000,
		},
	}
}

// Load reads configuration from path, or ConfigPath when empty. A missing
// file yields the defaults. The format follows the extension; unknown
// extensions are tried as TOML, JSON, then YAML. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	return cfg, nil
}

func autoDetectAndParse(data []byte, cfg *Config) error {
	if _, err := toml.Decode(string(data), cfg); err == nil {
		return nil
	}
	*cfg = *DefaultConfig()
	if err := json.Unmarshal(data, cfg); err == nil {
		return nil
	}
	*cfg = *DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	return fmt.Errorf("unable to parse config file (tried TOML, JSON, YAML)")
}

// ApplyEnvOverrides applies MOLECULES_* environment variables, e.g.
// MOLECULES_GRAB_MAX_DISTANCE or MOLECULES_LOG_LEVEL. Unset variables leave
// the current value alone.
func (c *Config) ApplyEnvOverrides() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// Save writes the configuration to path in the format implied by its
// extension, TOML by default.
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = c.encodeTOML()
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// TOML renders the configuration as TOML.
func (c *Config) TOML() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.encodeTOML()
}

func (c *Config) encodeTOML() ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# molecules configuration\n# Version %d\n\n", c.Version)
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Config{
		Version: c.Version,
		Grab:    c.Grab,
		Hover:   c.Hover,
		Input:   c.Input,
		Logging: c.Logging,
		Metrics: c.Metrics,
		Storage: c.Storage,
		Replay:  c.Replay,
	}
}

// GrabSettings returns the manipulator settings this configuration selects.
func (c *Config) GrabSettings() grab.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return grab.Settings{
		MaxDistance:    c.Grab.MaxDistance,
		PinchKey:       c.Input.PinchKey,
		GrabKey:        c.Input.GrabKey,
		PinchThreshold: c.Grab.PinchThreshold,
		GrabThreshold:  c.Grab.GrabThreshold,
	}
}

// HoverSettings returns the surface settings this configuration selects.
func (c *Config) HoverSettings() hover.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.Hover
	return hover.Settings{
		Size:            mgl32.Vec2{h.Width, h.Height},
		Thickness:       h.Thickness,
		XRange:          hover.Range{Min: h.XRange.Min, Max: h.XRange.Max},
		YRange:          hover.Range{Min: h.YRange.Min, Max: h.YRange.Max},
		PinchKey:        c.Input.PinchKey,
		SelectKey:       c.Input.SelectKey,
		PinchThreshold:  h.PinchThreshold,
		SelectThreshold: h.SelectThreshold,
		Lines: hover.LineSettings{
			StartThickness:     h.Lines.StartThickness,
			EndThickness:       h.Lines.EndThickness,
			StartColorHover:    h.Lines.StartColorHover,
			StartColorInteract: h.Lines.StartColorInteract,
			EndColorHover:      h.Lines.EndColorHover,
			EndColorInteract:   h.Lines.EndColorInteract,
		},
	}
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:     level,
		Format:    format,
		Output:    c.Logging.Output,
		FilePath:  c.Logging.FilePath,
		AddSource: c.Logging.AddSource,
		Component: "molecules",
	}, nil
}
