// Package action tracks which input sources satisfy per-frame conditions and
// narrows them down to a single exclusive actor.
//
// Everything in this package is updated synchronously once per frame by the
// widget that owns it. No locking is done; callers must not share an action
// between goroutines.
package action

import (
	"errors"
	"fmt"

	"molecules/internal/input"
)

// Predicate decides whether a source satisfies a condition this frame.
// It must not keep the source. Missing datamap keys are returned as errors.
type Predicate[S any] func(src *input.Source, state *S) (bool, error)

// Capturer is implemented by actions whose exclusivity flag can be toggled by
// whatever composes them.
type Capturer interface {
	CaptureOnTrigger() bool
	SetCaptureOnTrigger(capture bool)
}

// Gate is the view a selector needs of the action that gates it.
type Gate interface {
	CurrentlyActing() input.Set
	StartedActing() input.Set
}

// Action is anything a Handler can advance with a frame of sources.
type Action[S any] interface {
	Capturer
	Update(sources []*input.Source, state *S) error
	CurrentlyActing() input.Set
}

// ConditionAction tracks the sources satisfying a predicate and the
// differences against the previous frame.
type ConditionAction[S any] struct {
	captureOnTrigger bool
	condition        Predicate[S]

	currently input.Set
	started   input.Set
	stopped   input.Set
}

// NewConditionAction creates an action evaluating condition every frame.
func NewConditionAction[S any](captureOnTrigger bool, condition Predicate[S]) *ConditionAction[S] {
	return &ConditionAction[S]{
		captureOnTrigger: captureOnTrigger,
		condition:        condition,
	}
}

// Always is a predicate satisfied by every source.
func Always[S any](*input.Source, *S) (bool, error) {
	return true, nil
}

// Update re-evaluates the predicate over the whole frame.
//
// A source whose predicate fails counts as not acting this frame; every
// other source advances normally. The failures are joined and returned.
func (a *ConditionAction[S]) Update(sources []*input.Source, state *S) error {
	var (
		next input.Set
		errs []error
	)
	for _, src := range sources {
		ok, err := a.condition(src, state)
		if err != nil {
			errs = append(errs, fmt.Errorf("evaluate %s: %w", src, err))
			continue
		}
		if ok {
			next.Add(src)
		}
	}

	a.started = next.Difference(a.currently)
	a.stopped = a.currently.Difference(next)
	a.currently = next
	return errors.Join(errs...)
}

// CurrentlyActing returns the sources satisfying the condition this frame.
func (a *ConditionAction[S]) CurrentlyActing() input.Set { return a.currently }

// StartedActing returns the sources that satisfy the condition this frame but
// did not last frame.
func (a *ConditionAction[S]) StartedActing() input.Set { return a.started }

// StoppedActing returns the sources that satisfied the condition last frame
// but no longer do.
func (a *ConditionAction[S]) StoppedActing() input.Set { return a.stopped }

// CaptureOnTrigger reports whether acting sources are claimed exclusively.
func (a *ConditionAction[S]) CaptureOnTrigger() bool { return a.captureOnTrigger }

// SetCaptureOnTrigger toggles exclusive claiming.
func (a *ConditionAction[S]) SetCaptureOnTrigger(capture bool) { a.captureOnTrigger = capture }

// Captured returns the IDs this action claims this frame.
func (a *ConditionAction[S]) Captured() []input.ID {
	if !a.captureOnTrigger {
		return nil
	}
	return a.currently.IDs()
}
