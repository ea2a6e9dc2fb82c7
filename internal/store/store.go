package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"molecules/internal/spatial"
)

// DefaultBusyTimeout is how long a write waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Store is the SQLite anchor store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path with the default busy timeout.
func Open(path string) (*Store, error) {
	return OpenWithTimeout(path, DefaultBusyTimeout)
}

// OpenWithTimeout opens or creates the database at path and applies pending
// migrations.
func OpenWithTimeout(path string, busy time.Duration) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busy.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for migration tooling.
func (s *Store) DB() *sql.DB { return s.db }

// SaveAnchor inserts or replaces the anchor for a.Widget. A zero ID is
// assigned on first save; an existing row keeps its ID.
func (s *Store) SaveAnchor(a *Anchor) error {
	if a.Widget == "" {
		return errors.New("save anchor: empty widget name")
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	t := a.Transform
	_, err := s.db.Exec(`
		INSERT INTO anchors (id, widget, kind, pos_x, pos_y, pos_z, rot_w, rot_x, rot_y, rot_z, scale_x, scale_y, scale_z, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(widget) DO UPDATE SET
			kind = excluded.kind,
			pos_x = excluded.pos_x, pos_y = excluded.pos_y, pos_z = excluded.pos_z,
			rot_w = excluded.rot_w, rot_x = excluded.rot_x, rot_y = excluded.rot_y, rot_z = excluded.rot_z,
			scale_x = excluded.scale_x, scale_y = excluded.scale_y, scale_z = excluded.scale_z,
			updated_at = excluded.updated_at`,
		a.ID.String(), a.Widget, a.Kind,
		t.Position.X(), t.Position.Y(), t.Position.Z(),
		t.Rotation.W, t.Rotation.V.X(), t.Rotation.V.Y(), t.Rotation.V.Z(),
		t.Scale.X(), t.Scale.Y(), t.Scale.Z(),
		a.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save anchor %q: %w", a.Widget, err)
	}

	var id string
	if err := s.db.QueryRow("SELECT id FROM anchors WHERE widget = ?", a.Widget).Scan(&id); err != nil {
		return fmt.Errorf("reload anchor id: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("parse anchor id: %w", err)
	}
	a.ID = parsed
	return nil
}

const anchorColumns = `id, widget, kind, pos_x, pos_y, pos_z, rot_w, rot_x, rot_y, rot_z, scale_x, scale_y, scale_z, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAnchor(row scanner) (*Anchor, error) {
	var (
		a              Anchor
		id             string
		px, py, pz     float64
		rw, rx, ry, rz float64
		sx, sy, sz     float64
		updatedAt      int64
	)
	if err := row.Scan(&id, &a.Widget, &a.Kind, &px, &py, &pz, &rw, &rx, &ry, &rz, &sx, &sy, &sz, &updatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse anchor id: %w", err)
	}
	a.ID = parsed
	a.Transform = spatial.Transform{
		Position: mgl32.Vec3{float32(px), float32(py), float32(pz)},
		Rotation: mgl32.Quat{W: float32(rw), V: mgl32.Vec3{float32(rx), float32(ry), float32(rz)}},
		Scale:    mgl32.Vec3{float32(sx), float32(sy), float32(sz)},
	}
	a.UpdatedAt = time.Unix(0, updatedAt)
	return &a, nil
}

// LoadAnchor returns the anchor saved for widget, or ErrAnchorNotFound.
func (s *Store) LoadAnchor(widget string) (*Anchor, error) {
	row := s.db.QueryRow("SELECT "+anchorColumns+" FROM anchors WHERE widget = ?", widget)
	a, err := scanAnchor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", widget, ErrAnchorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load anchor %q: %w", widget, err)
	}
	return a, nil
}

// ListAnchors returns every saved anchor ordered by widget name.
func (s *Store) ListAnchors() ([]*Anchor, error) {
	rows, err := s.db.Query("SELECT " + anchorColumns + " FROM anchors ORDER BY widget")
	if err != nil {
		return nil, fmt.Errorf("list anchors: %w", err)
	}
	defer rows.Close()

	var out []*Anchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anchor: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAnchor removes the anchor for widget.
func (s *Store) DeleteAnchor(widget string) error {
	res, err := s.db.Exec("DELETE FROM anchors WHERE widget = ?", widget)
	if err != nil {
		return fmt.Errorf("delete anchor %q: %w", widget, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete anchor %q: %w", widget, err)
	}
	if n == 0 {
		return fmt.Errorf("%q: %w", widget, ErrAnchorNotFound)
	}
	return nil
}

// RecordRun stores a replay session summary.
func (s *Store) RecordRun(r *Run) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.db.Exec(`
		INSERT INTO replay_runs (id, fixture, frames, errors, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Fixture, r.Frames, r.Errors, r.StartedAt.UnixNano(), r.CompletedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first, at most limit of them.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, fixture, frames, errors, started_at, completed_at
		FROM replay_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		var (
			r                    Run
			id                   string
			startedAt, completed int64
		)
		if err := rows.Scan(&id, &r.Fixture, &r.Frames, &r.Errors, &startedAt, &completed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		r.StartedAt = time.Unix(0, startedAt)
		r.CompletedAt = time.Unix(0, completed)
		out = append(out, &r)
	}
	return out, rows.Err()
}
