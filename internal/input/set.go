package input

// Set is an insertion-ordered set of sources keyed by ID.
// Iteration follows the order sources were added, which for action sets is
// the order the input collaborator delivered them in the frame.
type Set struct {
	order []ID
	byID  map[ID]*Source
}

// NewSet returns a set holding the given sources. Later duplicates replace
// the snapshot of earlier ones without changing their position.
func NewSet(sources ...*Source) Set {
	s := Set{}
	for _, src := range sources {
		s.Add(src)
	}
	return s
}

// Add inserts or refreshes src.
func (s *Set) Add(src *Source) {
	if s.byID == nil {
		s.byID = make(map[ID]*Source)
	}
	if _, ok := s.byID[src.ID]; !ok {
		s.order = append(s.order, src.ID)
	}
	s.byID[src.ID] = src
}

// Len returns the number of members.
func (s Set) Len() int {
	return len(s.order)
}

// Empty reports whether the set has no members.
func (s Set) Empty() bool {
	return len(s.order) == 0
}

// Contains reports whether a source with id is a member.
func (s Set) Contains(id ID) bool {
	_, ok := s.byID[id]
	return ok
}

// Get returns the member snapshot for id.
func (s Set) Get(id ID) (*Source, bool) {
	src, ok := s.byID[id]
	return src, ok
}

// Sources returns the members in order.
func (s Set) Sources() []*Source {
	out := make([]*Source, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// IDs returns the member IDs in order.
func (s Set) IDs() []ID {
	return append([]ID(nil), s.order...)
}

// First returns the first member, if any.
func (s Set) First() (*Source, bool) {
	if len(s.order) == 0 {
		return nil, false
	}
	return s.byID[s.order[0]], true
}

// Difference returns members of s that are not in other, in s's order.
func (s Set) Difference(other Set) Set {
	out := Set{}
	for _, id := range s.order {
		if !other.Contains(id) {
			out.Add(s.byID[id])
		}
	}
	return out
}

// Intersection returns members of s that are also in other, in s's order.
// Snapshots are taken from s.
func (s Set) Intersection(other Set) Set {
	out := Set{}
	for _, id := range s.order {
		if other.Contains(id) {
			out.Add(s.byID[id])
		}
	}
	return out
}

// Union returns s followed by the members of other not already in s.
func (s Set) Union(other Set) Set {
	out := Set{}
	for _, id := range s.order {
		out.Add(s.byID[id])
	}
	for _, id := range other.order {
		if !out.Contains(id) {
			out.Add(other.byID[id])
		}
	}
	return out
}
