package grab

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"molecules/internal/input"
	"molecules/internal/metrics"
	"molecules/internal/spatial"
)

const eps = 1e-4

func hand(id input.ID, at mgl32.Vec3, distance, pinch float32) *input.Source {
	return &input.Source{
		ID: id,
		Capability: input.Hand{
			ThumbTip:     at.Add(mgl32.Vec3{0.01, 0, 0}),
			IndexTip:     at.Sub(mgl32.Vec3{0.01, 0, 0}),
			PalmRotation: mgl32.QuatIdent(),
		},
		Distance: distance,
		Datamap:  input.Datamap{input.KeyPinchStrength: pinch},
	}
}

func pointer(id input.ID, origin mgl32.Vec3, rot mgl32.Quat, distance, grab float32) *input.Source {
	return &input.Source{
		ID:         id,
		Capability: input.Pointer{Origin: origin, Orientation: rot},
		Distance:   distance,
		Datamap:    input.Datamap{input.KeyGrab: grab},
	}
}

func newManipulator(t *testing.T, opts ...Option) (*spatial.Graph, *Manipulator, *spatial.Spatial) {
	t.Helper()
	g := spatial.NewGraph()
	m, err := New(g, g.Root(), DefaultSettings(0.05), opts...)
	require.NoError(t, err)
	return g, m, m.ContentParent().(*spatial.Spatial)
}

func TestNewBuildsNodeTree(t *testing.T) {
	_, m, cp := newManipulator(t)

	assert.Same(t, m.HandlerNode(), cp.Parent())
	assert.Same(t, m.HandlerNode(), m.Root().Parent())
	assert.True(t, cp.Zoneable())
	assert.False(t, m.Root().(*spatial.Spatial).Zoneable())
	assert.True(t, math.IsInf(float64(m.MinDistance()), 1))
	assert.False(t, m.Grabbed())
}

func TestNewPropagatesSceneErrors(t *testing.T) {
	g1, g2 := spatial.NewGraph(), spatial.NewGraph()
	_, err := New(g1, g2.Root(), DefaultSettings(0.05))
	require.Error(t, err)
	assert.True(t, errors.Is(err, spatial.ErrNodeNotFound))
}

func TestGrabRoundTrip(t *testing.T) {
	_, m, cp := newManipulator(t)
	before := cp.World()
	at := mgl32.Vec3{0, 0, 0.02}

	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.5)}))
	assert.False(t, m.Grabbed())

	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.95)}))
	require.True(t, m.GrabAction().ActorStarted())
	assert.Same(t, m.Root(), cp.Parent())
	assert.False(t, cp.Zoneable())
	assert.True(t, before.ApproxEqual(cp.World(), eps), "attaching does not move content")

	require.NoError(t, m.Update([]*input.Source{hand(1, at.Add(mgl32.Vec3{0.1, 0, 0}), 0.01, 0.95)}))
	assert.True(t, m.GrabAction().ActorActing())
	assert.False(t, m.GrabAction().ActorStarted())
	assert.True(t, cp.World().Position.ApproxEqualThreshold(before.Position.Add(mgl32.Vec3{0.1, 0, 0}), eps))

	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.95)}))
	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.1)}))
	require.True(t, m.GrabAction().ActorStopped())
	assert.False(t, m.Grabbed())
	assert.Same(t, m.HandlerNode(), cp.Parent())
	assert.True(t, cp.Zoneable())
	assert.True(t, before.ApproxEqual(cp.World(), eps))
}

func TestReleaseKeepsCarriedPose(t *testing.T) {
	_, m, cp := newManipulator(t)
	at := mgl32.Vec3{0, 0, 0.02}
	moved := at.Add(mgl32.Vec3{0, 0.3, 0})

	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.5)}))
	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.95)}))
	require.NoError(t, m.Update([]*input.Source{hand(1, moved, 0.01, 0.95)}))
	require.NoError(t, m.Update([]*input.Source{hand(1, moved, 0.01, 0.0)}))

	saved, err := m.SaveState()
	require.NoError(t, err)
	assert.True(t, saved.Position.ApproxEqualThreshold(mgl32.Vec3{0, 0.3, 0}, eps))
	assert.True(t, cp.World().Position.ApproxEqualThreshold(mgl32.Vec3{0, 0.3, 0}, eps))
}

func TestTriggerInSameFrameAsArrivalDoesNotGrab(t *testing.T) {
	_, m, _ := newManipulator(t)
	at := mgl32.Vec3{}

	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.95)}))
	assert.False(t, m.Grabbed(), "entered range already pinching")

	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.95)}))
	assert.False(t, m.Grabbed(), "holding the pinch does not retrigger")

	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.2)}))
	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.95)}))
	assert.True(t, m.GrabAction().ActorStarted())
}

func TestOutOfRangeDoesNotGrab(t *testing.T) {
	_, m, _ := newManipulator(t)
	require.NoError(t, m.Update([]*input.Source{hand(1, mgl32.Vec3{}, 0.2, 0.5)}))
	require.NoError(t, m.Update([]*input.Source{hand(1, mgl32.Vec3{}, 0.2, 0.95)}))
	assert.False(t, m.Grabbed())
	assert.Equal(t, 0, m.ProximityAction().CurrentlyActing().Len())
}

func TestGrabIsSticky(t *testing.T) {
	_, m, _ := newManipulator(t)
	rot := mgl32.QuatIdent()
	frame := func(pinch, grab float32) []*input.Source {
		return []*input.Source{
			hand(1, mgl32.Vec3{}, 0.01, pinch),
			pointer(2, mgl32.Vec3{0, 0, 1}, rot, 0.02, grab),
		}
	}

	require.NoError(t, m.Update(frame(0, 0)))
	require.NoError(t, m.Update(frame(0.95, 0)))
	require.Equal(t, input.ID(1), m.GrabAction().Actor().ID)

	require.NoError(t, m.Update(frame(0.95, 0.95)))
	assert.Equal(t, input.ID(1), m.GrabAction().Actor().ID)
	assert.False(t, m.GrabAction().ActorChanged())
	assert.Equal(t, []input.ID{1, 2}, m.Captured(), "every triggered source in range is claimed")

	require.NoError(t, m.Update(frame(0, 0.95)))
	assert.True(t, m.GrabAction().ActorStopped())
	assert.False(t, m.Grabbed(), "an already-triggered pointer does not take over")
}

func TestPointerPoseDrivesRoot(t *testing.T) {
	_, m, _ := newManipulator(t)
	origin := mgl32.Vec3{0.2, 0.1, 0}
	rot := mgl32.QuatRotate(math.Pi/2, mgl32.Vec3{0, 1, 0})

	require.NoError(t, m.Update([]*input.Source{pointer(7, origin, rot, 0, 0)}))
	require.NoError(t, m.Update([]*input.Source{pointer(7, origin, rot, 0, 1)}))
	require.True(t, m.Grabbed())

	world := m.Root().(*spatial.Spatial).World()
	assert.True(t, world.ApproxEqual(spatial.FromPose(origin, rot), eps), "got %+v", world)
}

func TestMinDistance(t *testing.T) {
	_, m, _ := newManipulator(t)
	rot := mgl32.QuatIdent()

	require.NoError(t, m.Update([]*input.Source{
		pointer(1, mgl32.Vec3{}, rot, 0.3, 0),
		pointer(2, mgl32.Vec3{}, rot, -0.1, 0),
	}))
	assert.Equal(t, float32(-0.1), m.MinDistance())

	require.NoError(t, m.Update(nil))
	assert.True(t, math.IsInf(float64(m.MinDistance()), 1))
}

func TestMissingKeyIsReported(t *testing.T) {
	_, m, _ := newManipulator(t)
	at := mgl32.Vec3{}
	broken := &input.Source{ID: 9, Capability: input.Tip{Origin: at, Orientation: mgl32.QuatIdent()}, Distance: 0.01}

	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.5)}))
	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.95)}))
	require.True(t, m.Grabbed())

	err := m.Update([]*input.Source{hand(1, at, 0.01, 0.95), broken})
	require.Error(t, err)
	assert.True(t, errors.Is(err, input.ErrMissingKey))
	assert.Contains(t, err.Error(), "tip#9")
	assert.True(t, m.Grabbed(), "only the failing source is skipped")
	assert.False(t, m.GrabAction().ActorStopped())
}


func TestMissingKeyOnOtherSourceDoesNotHoldGrab(t *testing.T) {
	_, m, _ := newManipulator(t)
	at := mgl32.Vec3{}
	far := &input.Source{ID: 9, Capability: input.Tip{Origin: mgl32.Vec3{1, 0, 0}, Orientation: mgl32.QuatIdent()}, Distance: 1}

	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.5)}))
	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.95)}))
	require.True(t, m.Grabbed())

	moved := mgl32.Vec3{0.02, 0, 0}
	err := m.Update([]*input.Source{hand(1, moved, 0.01, 0.95), far})
	require.Error(t, err)
	assert.True(t, errors.Is(err, input.ErrMissingKey))
	require.True(t, m.Grabbed())
	assert.True(t, m.Root().(*spatial.Spatial).World().Position.ApproxEqualThreshold(moved, eps),
		"the actor keeps driving the root")

	err = m.Update([]*input.Source{hand(1, moved, 0.01, 0.2), far})
	require.Error(t, err)
	assert.False(t, m.Grabbed())
	assert.True(t, m.GrabAction().ActorStopped())
}
func TestSceneFailuresDoNotStopArbitration(t *testing.T) {
	g, m, cp := newManipulator(t)
	boom := errors.New("boom")
	at := mgl32.Vec3{}

	require.NoError(t, m.Update([]*input.Source{hand(1, at, 0.01, 0.5)}))

	g.FailOps = map[string]error{"set_parent": boom, "set_transform": boom}
	err := m.Update([]*input.Source{hand(1, at, 0.01, 0.95)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.True(t, m.Grabbed())
	assert.True(t, m.GrabAction().ActorStarted())
	assert.False(t, cp.Zoneable(), "operations after the failed one still ran")
	assert.Same(t, m.HandlerNode(), cp.Parent())
}

func TestWithAnchorRestoresContentParent(t *testing.T) {
	anchor := spatial.FromPose(mgl32.Vec3{0, 0.5, -0.2}, mgl32.QuatRotate(0.3, mgl32.Vec3{0, 0, 1}))
	_, m, _ := newManipulator(t, WithAnchor(anchor))

	saved, err := m.SaveState()
	require.NoError(t, err)
	assert.True(t, anchor.ApproxEqual(saved, eps))
}

func TestSettingsUpdateAppliesNextFrame(t *testing.T) {
	_, m, _ := newManipulator(t)
	src := []*input.Source{hand(1, mgl32.Vec3{}, 0.1, 0)}

	require.NoError(t, m.Update(src))
	assert.Equal(t, 0, m.ProximityAction().CurrentlyActing().Len())

	s := m.Settings()
	s.MaxDistance = 0.2
	m.SetSettings(s)
	require.NoError(t, m.Update(src))
	assert.Equal(t, 1, m.ProximityAction().CurrentlyActing().Len())
}

func TestLoggingAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	reg := metrics.NewRegistry("t")
	wm := metrics.NewWidgetMetrics(reg, "grab")
	_, m, _ := newManipulator(t, WithLogger(logger), WithMetrics(wm))

	require.NoError(t, m.Update([]*input.Source{hand(1, mgl32.Vec3{}, 0.01, 0.5)}))
	require.NoError(t, m.Update([]*input.Source{hand(1, mgl32.Vec3{}, 0.01, 0.95)}))

	assert.Contains(t, buf.String(), "grab started")
	assert.Contains(t, buf.String(), "source=hand#1")
	assert.Equal(t, uint64(2), wm.FramesTotal.Value())
	assert.Equal(t, uint64(1), wm.ActorStartedTotal.Value())
	assert.Equal(t, int64(1), wm.ActingSources.Value())
}
