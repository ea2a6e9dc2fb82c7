// Package replay loads recorded input frames and drives widgets with them on
// an in-memory scene.
package replay

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"molecules/internal/input"
	"molecules/internal/spatial"
)

// ErrInvalidFixture indicates a fixture that cannot be parsed or does not
// match the fixture schema.
var ErrInvalidFixture = errors.New("replay: invalid fixture")

// Widget kinds.
const (
	KindGrab  = "grab"
	KindHover = "hover"
)

//go:embed fixture.schema.json
var schemaJSON []byte

const schemaURL = "fixture.schema.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(schemaURL)
})

// Schema returns the raw fixture schema.
func Schema() []byte { return append([]byte(nil), schemaJSON...) }

// Fixture is a recorded session.
type Fixture struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Widgets     []WidgetSpec `json:"widgets"`
	Frames      []Frame      `json:"frames"`
}

// Range mirrors hover.Range in fixture form.
type Range struct {
	Min float32 `json:"min"`
	Max float32 `json:"max"`
}

// WidgetSpec places one widget in the scene. Unset fields fall back to the
// driver's defaults.
type WidgetSpec struct {
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	Position []float32 `json:"position,omitempty"`
	Rotation []float32 `json:"rotation,omitempty"`

	MaxDistance *float32 `json:"max_distance,omitempty"`

	Size      []float32 `json:"size,omitempty"`
	Thickness *float32  `json:"thickness,omitempty"`
	XRange    *Range    `json:"x_range,omitempty"`
	YRange    *Range    `json:"y_range,omitempty"`
}

// Frame is one frame of input.
type Frame struct {
	Sources []SourceSpec `json:"sources"`
}

// SourceSpec is a source as recorded. Poses are in the receiving widget's
// local space. Distances overrides Distance per widget name.
type SourceSpec struct {
	ID        uint64             `json:"id"`
	Kind      string             `json:"kind"`
	Distance  float32            `json:"distance,omitempty"`
	Distances map[string]float32 `json:"distances,omitempty"`
	Position  []float32          `json:"position,omitempty"`
	Rotation  []float32          `json:"rotation,omitempty"`
	Right     bool               `json:"right,omitempty"`
	Thumb     []float32          `json:"thumb,omitempty"`
	Index     []float32          `json:"index,omitempty"`
	Data      map[string]float32 `json:"data,omitempty"`
}

// Transform returns the widget's placement.
func (w WidgetSpec) Transform() spatial.Transform {
	return spatial.FromPose(vec3(w.Position), quat(w.Rotation))
}

// Source builds the snapshot a widget named widget receives.
func (s SourceSpec) Source(widget string) (*input.Source, error) {
	var c input.Capability
	switch s.Kind {
	case input.KindHand:
		thumb, index := vec3(s.Thumb), vec3(s.Index)
		c = input.Hand{
			Right:        s.Right,
			ThumbTip:     thumb,
			IndexTip:     index,
			PalmPosition: thumb.Add(index).Mul(0.5),
			PalmRotation: quat(s.Rotation),
		}
	case input.KindPointer:
		c = input.Pointer{Origin: vec3(s.Position), Orientation: quat(s.Rotation)}
	case input.KindTip:
		c = input.Tip{Origin: vec3(s.Position), Orientation: quat(s.Rotation)}
	default:
		return nil, fmt.Errorf("source %d kind %q: %w", s.ID, s.Kind, input.ErrUnknownCapability)
	}

	distance := s.Distance
	if d, ok := s.Distances[widget]; ok {
		distance = d
	}
	dm := make(input.Datamap, len(s.Data))
	for k, v := range s.Data {
		dm[k] = v
	}
	return input.NewSource(input.ID(s.ID), c, distance, dm)
}

func vec3(v []float32) mgl32.Vec3 {
	if len(v) != 3 {
		return mgl32.Vec3{}
	}
	return mgl32.Vec3{v[0], v[1], v[2]}
}

// quat reads w, x, y, z. Missing rotations are the identity.
func quat(v []float32) mgl32.Quat {
	if len(v) != 4 {
		return mgl32.QuatIdent()
	}
	return mgl32.Quat{W: v[0], V: mgl32.Vec3{v[1], v[2], v[3]}}.Normalize()
}

// LoadFixture reads a fixture from a .json, .yaml or .yml file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	f, err := ParseFixture(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return f, nil
}

// ParseFixture validates data against the fixture schema and decodes it. ext
// selects YAML for ".yaml" and ".yml"; anything else is read as JSON.
func ParseFixture(data []byte, ext string) (*Fixture, error) {
	doc, err := toJSON(data, ext)
	if err != nil {
		return nil, err
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}

	var f Fixture
	if err := json.Unmarshal(doc, &f); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidFixture, err)
	}
	if err := f.check(); err != nil {
		return nil, err
	}
	return &f, nil
}

// toJSON normalises YAML fixtures to JSON so both go through one schema.
func toJSON(data []byte, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: parse yaml: %v", ErrInvalidFixture, err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("%w: convert yaml: %v", ErrInvalidFixture, err)
		}
		return out, nil
	default:
		return data, nil
	}
}

// Validate checks a JSON document against the fixture schema.
func Validate(doc []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("compile fixture schema: %w", err)
	}
	var instance any
	if err := json.Unmarshal(doc, &instance); err != nil {
		return fmt.Errorf("%w: parse json: %v", ErrInvalidFixture, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	return nil
}

// check enforces what the schema cannot express.
func (f *Fixture) check() error {
	seen := make(map[string]bool, len(f.Widgets))
	for _, w := range f.Widgets {
		if seen[w.Name] {
			return fmt.Errorf("%w: duplicate widget %q", ErrInvalidFixture, w.Name)
		}
		seen[w.Name] = true
	}
	for i, fr := range f.Frames {
		ids := make(map[uint64]bool, len(fr.Sources))
		for _, s := range fr.Sources {
			if ids[s.ID] {
				return fmt.Errorf("%w: frame %d: duplicate source %d", ErrInvalidFixture, i, s.ID)
			}
			ids[s.ID] = true
		}
	}
	return nil
}
