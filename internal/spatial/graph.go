package spatial

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"molecules/internal/lines"
)

// Graph is an in-memory scene graph. It backs tests, fixture replay and
// anything else that needs the widget logic without a compositor.
type Graph struct {
	mu     sync.RWMutex
	root   *Spatial
	nextID uint64

	// FailOps makes the named operations fail, for exercising error paths.
	// Keys are "set_transform", "set_parent", "set_zoneable", "set_lines".
	FailOps map[string]error
}

// NewGraph returns a graph with a single root node.
func NewGraph() *Graph {
	g := &Graph{}
	g.root = &Spatial{graph: g, id: g.allocID(), local: Identity(), zoneable: false}
	return g
}

// Root returns the scene root.
func (g *Graph) Root() *Spatial {
	return g.root
}

func (g *Graph) allocID() uint64 {
	g.nextID++
	return g.nextID
}

func (g *Graph) fail(op string) error {
	if g.FailOps == nil {
		return nil
	}
	if err, ok := g.FailOps[op]; ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (g *Graph) own(n Node) (*Spatial, error) {
	if n == nil {
		return nil, nil
	}
	s, ok := n.(*Spatial)
	if !ok {
		return nil, fmt.Errorf("%T: %w", n, ErrNodeNotFound)
	}
	if s == nil {
		return nil, nil
	}
	if s.graph != g {
		return nil, fmt.Errorf("node %d: %w", s.id, ErrNodeNotFound)
	}
	if s.destroyed {
		return nil, fmt.Errorf("node %d: %w", s.id, ErrDetached)
	}
	return s, nil
}

// CreateSpatial implements Scene.
func (g *Graph) CreateSpatial(parent Node, t Transform, zoneable bool) (Node, error) {
	return g.NewSpatial(parent, t, zoneable)
}

// NewSpatial is CreateSpatial returning the concrete type.
func (g *Graph) NewSpatial(parent Node, t Transform, zoneable bool) (*Spatial, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.own(parent)
	if err != nil {
		return nil, fmt.Errorf("create spatial: %w", err)
	}
	if p == nil {
		p = g.root
	}
	return &Spatial{graph: g, id: g.allocID(), parent: p, local: t, zoneable: zoneable}, nil
}

// CreateBoxField implements Scene.
func (g *Graph) CreateBoxField(parent Node, t Transform, size mgl32.Vec3) (BoxField, error) {
	n, err := g.NewSpatial(parent, t, false)
	if err != nil {
		return nil, fmt.Errorf("create box field: %w", err)
	}
	return &Box{node: n, size: size}, nil
}

// CreateLines implements Scene.
func (g *Graph) CreateLines(parent Node, t Transform) (lines.Sink, error) {
	n, err := g.NewSpatial(parent, t, false)
	if err != nil {
		return nil, fmt.Errorf("create lines: %w", err)
	}
	return &Lines{node: n}, nil
}

// Spatial is a node of a Graph.
type Spatial struct {
	graph     *Graph
	id        uint64
	parent    *Spatial
	local     Transform
	zoneable  bool
	destroyed bool
}

// ID returns the node's scene-unique identifier.
func (s *Spatial) ID() uint64 { return s.id }

// Parent implements Node.
func (s *Spatial) Parent() Node {
	s.graph.mu.RLock()
	defer s.graph.mu.RUnlock()
	if s.parent == nil {
		return nil
	}
	return s.parent
}

// Local returns the transform relative to the parent.
func (s *Spatial) Local() Transform {
	s.graph.mu.RLock()
	defer s.graph.mu.RUnlock()
	return s.local
}

// Zoneable reports the zoneable flag.
func (s *Spatial) Zoneable() bool {
	s.graph.mu.RLock()
	defer s.graph.mu.RUnlock()
	return s.zoneable
}

// World returns the transform relative to the scene root.
func (s *Spatial) World() Transform {
	s.graph.mu.RLock()
	defer s.graph.mu.RUnlock()
	return FromMat4(s.worldMat())
}

func (s *Spatial) worldMat() mgl32.Mat4 {
	m := s.local.Mat4()
	for p := s.parent; p != nil; p = p.parent {
		m = p.local.Mat4().Mul4(m)
	}
	return m
}

func worldOf(s *Spatial) mgl32.Mat4 {
	if s == nil {
		return mgl32.Ident4()
	}
	return s.worldMat()
}

// SetTransform implements Node.
func (s *Spatial) SetTransform(relativeTo Node, t Transform) error {
	g := s.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.fail("set_transform"); err != nil {
		return err
	}
	if _, err := g.own(s); err != nil {
		return err
	}
	rel, err := g.own(relativeTo)
	if err != nil {
		return fmt.Errorf("set transform: %w", err)
	}
	if rel == nil || rel == s.parent {
		s.local = t
		return nil
	}
	world := worldOf(rel).Mul4(t.Mat4())
	s.local = FromMat4(worldOf(s.parent).Inv().Mul4(world))
	return nil
}

// SetParentInPlace implements Node.
func (s *Spatial) SetParentInPlace(parent Node) error {
	g := s.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.fail("set_parent"); err != nil {
		return err
	}
	if _, err := g.own(s); err != nil {
		return err
	}
	p, err := g.own(parent)
	if err != nil {
		return fmt.Errorf("set parent: %w", err)
	}
	if p == nil {
		p = g.root
	}
	for a := p; a != nil; a = a.parent {
		if a == s {
			return fmt.Errorf("node %d under %d: %w", s.id, p.id, ErrCycle)
		}
	}
	world := s.worldMat()
	s.parent = p
	s.local = FromMat4(worldOf(p).Inv().Mul4(world))
	return nil
}

// SetZoneable implements Node.
func (s *Spatial) SetZoneable(zoneable bool) error {
	g := s.graph
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.fail("set_zoneable"); err != nil {
		return err
	}
	if _, err := g.own(s); err != nil {
		return err
	}
	s.zoneable = zoneable
	return nil
}

// TransformRelativeTo implements Node.
func (s *Spatial) TransformRelativeTo(other Node) (Transform, error) {
	g := s.graph
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, err := g.own(s); err != nil {
		return Transform{}, err
	}
	o, err := g.own(other)
	if err != nil {
		return Transform{}, fmt.Errorf("relative transform: %w", err)
	}
	return FromMat4(worldOf(o).Inv().Mul4(s.worldMat())), nil
}

// Destroy detaches the node; later operations on it fail with ErrDetached.
func (s *Spatial) Destroy() {
	s.graph.mu.Lock()
	defer s.graph.mu.Unlock()
	s.destroyed = true
}

// Box is an in-memory BoxField.
type Box struct {
	node *Spatial
	size mgl32.Vec3
}

// Node returns the field's spatial node.
func (b *Box) Node() *Spatial { return b.node }

// Size returns the current box size.
func (b *Box) Size() mgl32.Vec3 {
	b.node.graph.mu.RLock()
	defer b.node.graph.mu.RUnlock()
	return b.size
}

// SetSize implements BoxField.
func (b *Box) SetSize(size mgl32.Vec3) error {
	b.node.graph.mu.Lock()
	defer b.node.graph.mu.Unlock()
	b.size = size
	return nil
}

// SetTransform implements BoxField.
func (b *Box) SetTransform(relativeTo Node, t Transform) error {
	return b.node.SetTransform(relativeTo, t)
}

// Lines is an in-memory line sink that keeps the last pushed list.
type Lines struct {
	node  *Spatial
	mu    sync.Mutex
	last  []lines.Line
	count int
}

// SetLines implements lines.Sink.
func (l *Lines) SetLines(ls []lines.Line) error {
	if err := l.node.graph.failLocked("set_lines"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = append(l.last[:0], ls...)
	l.count++
	return nil
}

// Last returns a copy of the most recent list.
func (l *Lines) Last() []lines.Line {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]lines.Line(nil), l.last...)
}

// Pushes returns how many times SetLines succeeded.
func (l *Lines) Pushes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (g *Graph) failLocked(op string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.fail(op)
}
