package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"molecules/internal/input"
	"molecules/internal/logging"
)

func TestDefaultConfigIsValid(t *testing.T) {
	t.Setenv("MOLECULES_DATA_DIR", t.TempDir())
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, float32(0.90), cfg.Grab.PinchThreshold)
	assert.Equal(t, float32(0.50), cfg.Hover.SelectThreshold)
	assert.Equal(t, input.KeyPinchStrength, cfg.Input.PinchKey)
	assert.Equal(t, filepath.Join(DataDir(), "anchors.db"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(DataDir(), "config.toml"), ConfigPath())
}

func TestLoadFormats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"c.toml": "[grab]\nmax_distance = 0.2\n[hover.x_range]\nmin = 10\nmax = 20\n",
		"c.json": `{"grab": {"max_distance": 0.2}, "hover": {"x_range": {"min": 10, "max": 20}}}`,
		"c.yaml": "grab:\n  max_distance: 0.2\nhover:\n  x_range:\n    min: 10\n    max: 20\n",
		"c.conf": "[grab]\nmax_distance = 0.2\n[hover.x_range]\nmin = 10\nmax = 20\n",
	}
	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, float32(0.2), cfg.Grab.MaxDistance)
			assert.Equal(t, Range{Min: 10, Max: 20}, cfg.Hover.XRange)
			assert.Equal(t, float32(0.90), cfg.Grab.GrabThreshold, "unset fields keep defaults")
			require.NoError(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Version, cfg.Version)
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[grab\nmax_distance = "), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MOLECULES_GRAB_MAX_DISTANCE", "0.25")
	t.Setenv("MOLECULES_LOG_LEVEL", "debug")
	t.Setenv("MOLECULES_INPUT_PINCH_KEY", "pinch")
	t.Setenv("MOLECULES_STORAGE_PATH", "/tmp/x.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, float32(0.25), cfg.Grab.MaxDistance)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "pinch", cfg.Input.PinchKey)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.Path)
	assert.Equal(t, float32(0.90), cfg.Grab.PinchThreshold)

	t.Setenv("MOLECULES_GRAB_MAX_DISTANCE", "far")
	_, err = Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = 9
	cfg.Grab.MaxDistance = 0
	cfg.Hover.PinchThreshold = 1.5
	cfg.Hover.YRange = Range{Min: 1, Max: 1}
	cfg.Hover.Lines.EndColorHover.A = 2
	cfg.Input.SelectKey = " "
	cfg.Logging.Output = "syslog"
	cfg.Metrics.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.ElementsMatch(t, []string{
		"version",
		"grab.max_distance",
		"hover.y_range",
		"hover.pinch_threshold",
		"hover.lines.end_color_hover",
		"input.select_key",
		"logging.output",
		"metrics.format",
	}, verrs.Fields())
	assert.Contains(t, err.Error(), "config: grab.max_distance")
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Hover.Width = 0.3
	cfg.Hover.Lines.StartColorInteract.G = 0.5
	cfg.Replay.SaveAnchors = true

	for _, name := range []string{"out.toml", "out.json", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "nested", name)
			require.NoError(t, cfg.Save(path))

			back, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Hover, back.Hover)
			assert.True(t, back.Replay.SaveAnchors)
		})
	}

	text, err := cfg.TOML()
	require.NoError(t, err)
	assert.Contains(t, string(text), "# molecules configuration")
	assert.Contains(t, string(text), "[grab]")
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	out := Merge(base, &Config{
		Grab:    GrabConfig{MaxDistance: 0.3},
		Hover:   HoverConfig{YRange: Range{Min: 100, Max: 0}},
		Logging: LoggingConfig{Level: "warn"},
	})
	assert.Equal(t, float32(0.3), out.Grab.MaxDistance)
	assert.Equal(t, base.Grab.PinchThreshold, out.Grab.PinchThreshold)
	assert.Equal(t, Range{Min: 100, Max: 0}, out.Hover.YRange)
	assert.Equal(t, "warn", out.Logging.Level)
	assert.Equal(t, float32(0.05), base.Grab.MaxDistance, "dst is not modified")
}

func TestLoaderAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molecules.toml")
	require.NoError(t, os.WriteFile(path, []byte("[grab]\nmax_distance = 0.1\n[logging]\nlevel = \"debug\"\n"), 0600))

	l := NewLoader(path)
	l.SetOverrides(&Config{
		Logging: LoggingConfig{Level: "error"},
		Replay:  ReplayConfig{FixtureDir: "/srv/fixtures"},
	})
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, float32(0.1), cfg.Grab.MaxDistance, "file values without an override stay")
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "/srv/fixtures", cfg.Replay.FixtureDir)

	l.SetOverrides(&Config{Grab: GrabConfig{MaxDistance: -1}})
	_, err = l.Load()
	require.Error(t, err, "overrides are validated with the file")
	assert.Equal(t, "error", l.Config().Logging.Level)
}

func TestWidgetSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input.GrabKey = "trigger"
	cfg.Hover.YRange = Range{Min: 1, Max: 0}

	g := cfg.GrabSettings()
	assert.Equal(t, cfg.Grab.MaxDistance, g.MaxDistance)
	assert.Equal(t, "trigger", g.GrabKey)

	h := cfg.HoverSettings()
	assert.Equal(t, mgl32.Vec2{0.1, 0.1}, h.Size)
	assert.Equal(t, float32(1), h.YRange.Min)
	assert.Equal(t, cfg.Hover.Lines.EndColorInteract, h.Lines.EndColorInteract)

	lc, err := cfg.LoggerConfig()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelInfo, lc.Level)

	cfg.Logging.Format = "xml"
	_, err = cfg.LoggerConfig()
	assert.Error(t, err)
}

func TestLoaderHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molecules.toml")
	require.NoError(t, os.WriteFile(path, []byte("[grab]\nmax_distance = 0.1\n"), 0600))

	l := NewLoader(path)
	l.Debounce = 50 * time.Millisecond
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, float32(0.1), cfg.Grab.MaxDistance)

	changed := make(chan [2]float32, 1)
	l.OnChange(func(old, new *Config) {
		changed <- [2]float32{old.Grab.MaxDistance, new.Grab.MaxDistance}
	})
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte("[grab]\nmax_distance = 0.4\n"), 0600))

	select {
	case got := <-changed:
		assert.Equal(t, [2]float32{0.1, 0.4}, got)
	case err := <-l.Errors():
		t.Fatalf("reload failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
	}
	assert.Equal(t, float32(0.4), l.Config().Grab.MaxDistance)
}

func TestLoaderKeepsConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molecules.toml")
	require.NoError(t, os.WriteFile(path, []byte("[grab]\nmax_distance = 0.1\n"), 0600))

	l := NewLoader(path)
	l.Debounce = 50 * time.Millisecond
	_, err := l.Load()
	require.NoError(t, err)
	require.NoError(t, l.Watch())
	defer l.Close()

	require.NoError(t, os.WriteFile(path, []byte("[grab]\nmax_distance = -1\n"), 0600))

	select {
	case err := <-l.Errors():
		assert.Contains(t, err.Error(), "grab.max_distance")
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
	assert.Equal(t, float32(0.1), l.Config().Grab.MaxDistance)
}
