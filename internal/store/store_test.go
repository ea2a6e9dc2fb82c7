package store

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"molecules/internal/spatial"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "anchors.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "subdir", "nested", "anchors.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if err := ValidateSchema(s.DB()); err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestSaveAndLoadAnchor(t *testing.T) {
	s := openTemp(t)

	tr := spatial.Transform{
		Position: mgl32.Vec3{0.1, 1.2, -0.3},
		Rotation: mgl32.QuatRotate(math.Pi/3, mgl32.Vec3{0, 1, 0}),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
	a := &Anchor{Widget: "panel", Kind: "grab", Transform: tr}
	if err := s.SaveAnchor(a); err != nil {
		t.Fatalf("SaveAnchor failed: %v", err)
	}
	if a.ID == uuid.Nil {
		t.Fatal("expected an ID to be assigned")
	}

	got, err := s.LoadAnchor("panel")
	if err != nil {
		t.Fatalf("LoadAnchor failed: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("ID mismatch: %s != %s", got.ID, a.ID)
	}
	if got.Kind != "grab" {
		t.Errorf("Kind = %q", got.Kind)
	}
	if !got.Transform.ApproxEqual(tr, 1e-6) {
		t.Errorf("transform mismatch: %+v", got.Transform)
	}
}

func TestSaveAnchorKeepsID(t *testing.T) {
	s := openTemp(t)

	first := &Anchor{Widget: "panel", Kind: "grab", Transform: spatial.Identity()}
	if err := s.SaveAnchor(first); err != nil {
		t.Fatalf("SaveAnchor failed: %v", err)
	}

	second := &Anchor{
		Widget:    "panel",
		Kind:      "grab",
		Transform: spatial.FromTranslation(mgl32.Vec3{0, 0, 1}),
		UpdatedAt: time.Now().Add(time.Minute),
	}
	if err := s.SaveAnchor(second); err != nil {
		t.Fatalf("SaveAnchor failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("row ID changed on update: %s -> %s", first.ID, second.ID)
	}

	got, err := s.LoadAnchor("panel")
	if err != nil {
		t.Fatalf("LoadAnchor failed: %v", err)
	}
	if got.Transform.Position.Z() != 1 {
		t.Errorf("expected updated position, got %v", got.Transform.Position)
	}
}

func TestAnchorNotFound(t *testing.T) {
	s := openTemp(t)

	if _, err := s.LoadAnchor("missing"); !errors.Is(err, ErrAnchorNotFound) {
		t.Errorf("LoadAnchor: expected ErrAnchorNotFound, got %v", err)
	}
	if err := s.DeleteAnchor("missing"); !errors.Is(err, ErrAnchorNotFound) {
		t.Errorf("DeleteAnchor: expected ErrAnchorNotFound, got %v", err)
	}
	if err := s.SaveAnchor(&Anchor{}); err == nil {
		t.Error("expected error for empty widget name")
	}
}

func TestListAndDeleteAnchors(t *testing.T) {
	s := openTemp(t)

	for _, name := range []string{"surface", "handle", "panel"} {
		if err := s.SaveAnchor(&Anchor{Widget: name, Kind: "hover", Transform: spatial.Identity()}); err != nil {
			t.Fatalf("SaveAnchor(%s) failed: %v", name, err)
		}
	}

	list, err := s.ListAnchors()
	if err != nil {
		t.Fatalf("ListAnchors failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 anchors, got %d", len(list))
	}
	if list[0].Widget != "handle" || list[2].Widget != "surface" {
		t.Errorf("unexpected order: %s, %s, %s", list[0].Widget, list[1].Widget, list[2].Widget)
	}

	if err := s.DeleteAnchor("panel"); err != nil {
		t.Fatalf("DeleteAnchor failed: %v", err)
	}
	list, _ = s.ListAnchors()
	if len(list) != 2 {
		t.Errorf("expected 2 anchors after delete, got %d", len(list))
	}
}

func TestRecordAndListRuns(t *testing.T) {
	s := openTemp(t)
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		r := &Run{
			Fixture:     "drag.yaml",
			Frames:      10 + i,
			StartedAt:   base.Add(time.Duration(i) * time.Second),
			CompletedAt: base.Add(time.Duration(i)*time.Second + time.Millisecond),
		}
		if err := s.RecordRun(r); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	runs, err := s.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Frames != 12 {
		t.Errorf("expected newest run first, got frames=%d", runs[0].Frames)
	}
	if !runs[0].StartedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("StartedAt = %v", runs[0].StartedAt)
	}
}

func TestMigrations(t *testing.T) {
	s := openTemp(t)

	status, err := GetMigrationStatus(s.DB())
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if status.CurrentVersion != status.LatestVersion || len(status.Pending) != 0 {
		t.Errorf("unexpected status: %+v", status)
	}

	if err := RollbackMigration(s.DB()); err != nil {
		t.Fatalf("RollbackMigration failed: %v", err)
	}
	if err := ValidateSchema(s.DB()); err == nil {
		t.Error("expected replay_runs to be missing after rollback")
	}

	if err := MigrateDB(s.DB()); err != nil {
		t.Fatalf("MigrateDB failed: %v", err)
	}
	if err := ValidateSchema(s.DB()); err != nil {
		t.Errorf("ValidateSchema after re-migrate: %v", err)
	}
}
