package retention

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestSweeper() *Sweeper {
	logger := log.New()
	logger.SetOutput(io.Discard)
	s := NewSweeper(logger)
	s.now = func() time.Time { return fixedNow }
	return s
}

func writeAged(t *testing.T, dir, name string, age time.Duration, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := fixedNow.Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSweepRetentionWindow(t *testing.T) {
	dir := t.TempDir()
	old := writeAged(t, dir, "vm1_20250401_020000.ova", 31*24*time.Hour, 100)
	fresh := writeAged(t, dir, "vm2_20250510_020000.ova", 29*24*time.Hour, 100)

	result, err := newTestSweeper().Sweep(dir, 30)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if result.DeletedCount != 1 || result.FreedBytes != 100 {
		t.Errorf("result = %+v, want 1 deletion freeing 100 bytes", result)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("31-day-old artifact should be deleted")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("29-day-old artifact should be retained")
	}
}

func TestSweepIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	notes := writeAged(t, dir, "notes.txt", 400*24*time.Hour, 10)
	iso := writeAged(t, dir, "installer.iso", 400*24*time.Hour, 10)

	result, err := newTestSweeper().Sweep(dir, 30)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if result.DeletedCount != 0 {
		t.Errorf("deleted %d files, foreign suffixes must never be touched", result.DeletedCount)
	}
	for _, path := range []string{notes, iso} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("%s should survive the sweep", filepath.Base(path))
		}
	}
}

func TestSweepCoversAllArtifactKinds(t *testing.T) {
	dir := t.TempDir()
	age := 31 * 24 * time.Hour
	writeAged(t, dir, "a_20250401_020000.ova", age, 1)
	writeAged(t, dir, "a_20250401_020000.mf", age, 1)
	writeAged(t, dir, "b_20250401_020000.tar.gz", age, 1)
	writeAged(t, dir, "c_20250401_020000.tar.gz.age", age, 1)

	result, err := newTestSweeper().Sweep(dir, 30)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if result.DeletedCount != 4 {
		t.Errorf("deleted = %d, want all 4 artifact kinds", result.DeletedCount)
	}
}

func TestSweepSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested.ova")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	mtime := fixedNow.Add(-400 * 24 * time.Hour)
	if err := os.Chtimes(sub, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	result, err := newTestSweeper().Sweep(dir, 30)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if result.DeletedCount != 0 {
		t.Error("directories must never be deleted")
	}
	if _, err := os.Stat(sub); err != nil {
		t.Error("directory should survive the sweep")
	}
}

func TestSweepZeroRetentionDeletesEverythingOlderThanNow(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, "x_20250531_020000.ova", time.Hour, 1)

	result, err := newTestSweeper().Sweep(dir, 0)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if result.DeletedCount != 1 {
		t.Errorf("retention_days=0 should delete artifacts older than now, got %+v", result)
	}
}

func TestSweepContinuesPastDeletionFailure(t *testing.T) {
	dir := t.TempDir()
	stuck := writeAged(t, dir, "a_stuck_20250401_020000.ova", 31*24*time.Hour, 7)
	writeAged(t, dir, "b_ok_20250401_020000.ova", 31*24*time.Hour, 5)

	s := newTestSweeper()
	s.remove = func(path string) error {
		if path == stuck {
			return &os.PathError{Op: "remove", Path: path, Err: os.ErrPermission}
		}
		return os.Remove(path)
	}

	result, err := s.Sweep(dir, 30)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	// The failed deletion is excluded from the tally and the sweep goes on.
	if result.DeletedCount != 1 || result.FreedBytes != 5 {
		t.Errorf("result = %+v, want 1 deletion freeing 5 bytes", result)
	}
	if _, err := os.Stat(stuck); err != nil {
		t.Error("stuck artifact should still exist")
	}
}
