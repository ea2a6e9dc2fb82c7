// Package store persists widget anchors and replay runs in SQLite.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"molecules/internal/spatial"
)

// ErrAnchorNotFound indicates no anchor is saved under the requested widget.
var ErrAnchorNotFound = errors.New("store: anchor not found")

// Anchor is a widget's saved transform.
type Anchor struct {
	ID        uuid.UUID
	Widget    string
	Kind      string
	Transform spatial.Transform
	UpdatedAt time.Time
}

// Run summarises one replay session.
type Run struct {
	ID          uuid.UUID
	Fixture     string
	Frames      int
	Errors      int
	StartedAt   time.Time
	CompletedAt time.Time
}
