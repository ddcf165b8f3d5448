package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "registry", "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------- RecordSession / GetSession ----------

func TestRecordAndGetSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := SessionRecord{
		Folder:     "20260115_103000",
		CreatedAt:  time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		PhotoCount: 2,
		Regions:    [4]int{100, 50, 0, 0},
		Location:   "removable",
		SavedPath:  "/media/usb0/test_strip_images/20260115_103000",
	}
	if err := s.RecordSession(ctx, rec); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}

	got, err := s.GetSession(ctx, rec.Folder)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Folder != rec.Folder || got.PhotoCount != rec.PhotoCount ||
		got.Regions != rec.Regions || got.Location != rec.Location ||
		got.SavedPath != rec.SavedPath {
		t.Errorf("got %+v, want %+v", got, rec)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("got created_at %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestGetSession_Unknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSession(context.Background(), "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("want sql.ErrNoRows, got: %v", err)
	}
}

func TestRecordSession_UpsertOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := SessionRecord{
		Folder:     "f",
		CreatedAt:  time.Now().UTC(),
		PhotoCount: 2,
		Regions:    [4]int{1, 1, 1, 1},
		Location:   "fallback",
		SavedPath:  "/home/pi/rpi_uv_photos_backup/f",
	}
	if err := s.RecordSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Regions = [4]int{2, 2, 2, 2}
	rec.Location = "removable"
	if err := s.RecordSession(ctx, rec); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d rows, want 1", len(all))
	}
	if all[0].Regions != rec.Regions || all[0].Location != "removable" {
		t.Errorf("got %+v, want overwritten values", all[0])
	}
}

// ---------- ListSessions ----------

func TestListSessions_MostRecentFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	for i, folder := range []string{"a", "b", "c"} {
		rec := SessionRecord{
			Folder:     folder,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
			PhotoCount: 1,
			Location:   "fallback",
			SavedPath:  "/tmp/" + folder,
		}
		if err := s.RecordSession(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d rows, want 3", len(all))
	}
	for i, want := range []string{"c", "b", "a"} {
		if all[i].Folder != want {
			t.Errorf("row %d: got %q, want %q", i, all[i].Folder, want)
		}
	}
}

func TestListSessions_Empty(t *testing.T) {
	s := openTestStore(t)
	all, err := s.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("got %d rows, want none", len(all))
	}
}
