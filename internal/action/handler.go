package action

import (
	"errors"
	"sync"

	"molecules/internal/input"
)

// Handler holds the shared state that predicates read and advances a group of
// actions with the same frame.
type Handler[S any] struct {
	state   S
	actions []Action[S]
}

// NewHandler creates a handler around state.
func NewHandler[S any](state S) *Handler[S] {
	return &Handler[S]{state: state}
}

// State returns the current shared state.
func (h *Handler[S]) State() S {
	return h.state
}

// UpdateState replaces the shared state used from the next frame on.
func (h *Handler[S]) UpdateState(state S) {
	h.state = state
}

// UpdateActions advances every action with the frame's sources. An action
// whose predicate fails keeps its previous sets; the rest still advance.
func (h *Handler[S]) UpdateActions(sources []*input.Source, actions ...Action[S]) error {
	h.actions = actions
	var errs []error
	for _, a := range actions {
		if err := a.Update(sources, &h.state); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Captured returns the IDs claimed by capturing actions, in action order.
// Call it after any selector has adjusted its capture flag for the frame.
func (h *Handler[S]) Captured() []input.ID {
	var (
		ids  []input.ID
		seen = make(map[input.ID]bool)
	)
	for _, a := range h.actions {
		if !a.CaptureOnTrigger() {
			continue
		}
		for _, id := range a.CurrentlyActing().IDs() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// CaptureLedger records which handler owns which source so that a captured
// source is withheld from sibling handlers on the following frame.
type CaptureLedger struct {
	mu     sync.Mutex
	owners map[input.ID]string
}

// NewCaptureLedger creates an empty ledger.
func NewCaptureLedger() *CaptureLedger {
	return &CaptureLedger{owners: make(map[input.ID]string)}
}

// Filter returns the sources owner may see: those unclaimed or claimed by
// owner itself.
func (l *CaptureLedger) Filter(owner string, sources []*input.Source) []*input.Source {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*input.Source, 0, len(sources))
	for _, src := range sources {
		if o, ok := l.owners[src.ID]; ok && o != owner {
			continue
		}
		out = append(out, src)
	}
	return out
}

// Commit replaces owner's claims with ids. IDs already held by another owner
// stay with that owner.
func (l *CaptureLedger) Commit(owner string, ids []input.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, o := range l.owners {
		if o == owner {
			delete(l.owners, id)
		}
	}
	for _, id := range ids {
		if _, taken := l.owners[id]; !taken {
			l.owners[id] = owner
		}
	}
}

// Owner returns the handler that holds id.
func (l *CaptureLedger) Owner(id input.ID) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.owners[id]
	return o, ok
}
