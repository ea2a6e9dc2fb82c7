package action

import "molecules/internal/input"

// SingleActorSelector grants one source at a time exclusive control.
//
// The selector owns its eligibility action; the owning handler advances that
// action alongside its siblings, then calls Update with the optional gate.
type SingleActorSelector[S any] struct {
	base             *ConditionAction[S]
	captureOnTrigger bool
	changeActor      bool

	actor *input.Source

	started bool
	changed bool
	acting  bool
	stopped bool
}

// NewSingleActorSelector creates a selector. When changeActor is false the
// actor keeps control until it stops satisfying the condition.
func NewSingleActorSelector[S any](captureOnTrigger bool, condition Predicate[S], changeActor bool) *SingleActorSelector[S] {
	return &SingleActorSelector[S]{
		base:             NewConditionAction(false, condition),
		captureOnTrigger: captureOnTrigger,
		changeActor:      changeActor,
	}
}

// Base returns the eligibility action.
func (s *SingleActorSelector[S]) Base() *ConditionAction[S] {
	return s.base
}

// Update resolves the actor for this frame. gate may be nil.
func (s *SingleActorSelector[S]) Update(gate Gate) {
	old := s.actor

	if s.actor != nil && s.base.StoppedActing().Contains(s.actor.ID) {
		s.actor = nil
	}

	var candidates input.Set
	if gate != nil {
		// Sources that only reached the gate this frame cannot claim the action yet.
		established := gate.CurrentlyActing().Difference(gate.StartedActing())
		candidates = s.base.StartedActing().Intersection(established)
		s.base.SetCaptureOnTrigger(s.captureOnTrigger && !established.Empty())
	} else {
		candidates = s.base.StartedActing()
		s.base.SetCaptureOnTrigger(s.captureOnTrigger)
	}

	candidate, found := candidates.First()
	switch {
	case found && (s.actor == nil || s.changeActor):
		s.actor = candidate
	case s.actor != nil:
		if live, ok := s.base.CurrentlyActing().Get(s.actor.ID); ok {
			s.actor = live
		}
	}

	s.started = old == nil && s.actor != nil
	s.changed = old != nil && s.actor != nil && old.ID != s.actor.ID
	s.acting = s.actor != nil
	s.stopped = old != nil && s.actor == nil
}

// Actor returns the current actor's snapshot for this frame, or nil.
func (s *SingleActorSelector[S]) Actor() *input.Source { return s.actor }

// IsActor reports whether id is the current actor.
func (s *SingleActorSelector[S]) IsActor(id input.ID) bool {
	return s.actor != nil && s.actor.ID == id
}

// ActorStarted is true on the frame an actor appears where there was none.
func (s *SingleActorSelector[S]) ActorStarted() bool { return s.started }

// ActorChanged is true on the frame control moves to a different source.
func (s *SingleActorSelector[S]) ActorChanged() bool { return s.changed }

// ActorActing is true while any actor holds control.
func (s *SingleActorSelector[S]) ActorActing() bool { return s.acting }

// ActorStopped is true on the frame the actor is released.
func (s *SingleActorSelector[S]) ActorStopped() bool { return s.stopped }
