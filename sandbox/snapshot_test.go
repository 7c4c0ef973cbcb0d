package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotDiff_CreatedModifiedDeleted(t *testing.T) {
	wd := t.TempDir()

	mustWrite(t, filepath.Join(wd, "keep.txt"), "same")
	mustWrite(t, filepath.Join(wd, "change.txt"), "before")
	mustWrite(t, filepath.Join(wd, "gone.txt"), "bye")

	snap, err := takeSnapshot(wd)
	if err != nil {
		t.Fatalf("takeSnapshot: %v", err)
	}

	if err := os.Remove(filepath.Join(wd, "gone.txt")); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(wd, "change.txt"), "after")
	mustWrite(t, filepath.Join(wd, "new.txt"), "hello")

	entries, err := snap.diff(wd)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}

	want := map[string]DiffKind{
		"gone.txt":   DiffDeleted,
		"change.txt": DiffModified,
		"new.txt":    DiffCreated,
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d: %+v", len(want), len(entries), entries)
	}
	for _, e := range entries {
		if want[e.Path] != e.Kind {
			t.Fatalf("entry %+v did not match expected kind %v", e, want[e.Path])
		}
	}

	for i := 1; i < len(entries); i++ {
		if entries[i-1].Path > entries[i].Path {
			t.Fatalf("entries not lexicographically ordered: %+v", entries)
		}
	}
}

func TestSnapshotDiff_NoChanges(t *testing.T) {
	wd := t.TempDir()
	mustWrite(t, filepath.Join(wd, "a.txt"), "content")

	snap, err := takeSnapshot(wd)
	if err != nil {
		t.Fatalf("takeSnapshot: %v", err)
	}

	entries, err := snap.diff(wd)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no diff entries, got %+v", entries)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
