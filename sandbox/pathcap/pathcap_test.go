package pathcap

import (
	"os"
	"path/filepath"
	"testing"
)

func mustValidator(t *testing.T, wd string) *Validator {
	t.Helper()
	v, err := New(wd, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestValidate_WithinWorkDir(t *testing.T) {
	wd := t.TempDir()
	if err := os.WriteFile(filepath.Join(wd, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	v := mustValidator(t, wd)

	got, err := v.Validate("a.txt", false)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want, _ := filepath.EvalSymlinks(filepath.Join(wd, "a.txt"))
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestValidate_GuestMountPrefix(t *testing.T) {
	wd := t.TempDir()
	v := mustValidator(t, wd)

	got, err := v.Validate("/work/sub/file.txt", true)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	wantDir, _ := filepath.EvalSymlinks(wd)
	if filepath.Dir(filepath.Dir(got)) != wantDir {
		t.Fatalf("got %q not under %q", got, wantDir)
	}
}

func TestValidate_RejectsDotDot(t *testing.T) {
	wd := t.TempDir()
	v := mustValidator(t, wd)

	if _, err := v.Validate("../../../etc/passwd", false); err == nil {
		t.Fatal("expected traversal error")
	} else if _, ok := err.(*ErrTraversal); !ok {
		t.Fatalf("expected *ErrTraversal, got %T: %v", err, err)
	}
}

func TestValidate_RejectsSymlinkEscape(t *testing.T) {
	wd := t.TempDir()
	target := t.TempDir() // a different directory, plays the role of "outside"
	if err := os.Symlink(target, filepath.Join(wd, "escape_link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	v := mustValidator(t, wd)

	if _, err := v.Validate("escape_link/passwd", false); err == nil {
		t.Fatal("expected traversal error for symlink escape")
	}
}

func TestValidate_RejectsNUL(t *testing.T) {
	wd := t.TempDir()
	v := mustValidator(t, wd)

	if _, err := v.Validate("a\x00b", false); err == nil {
		t.Fatal("expected traversal error for embedded NUL")
	}
}

func TestValidate_EmptyInputIsWorkDir(t *testing.T) {
	wd := t.TempDir()
	v := mustValidator(t, wd)

	got, err := v.Validate("", false)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want, _ := filepath.EvalSymlinks(wd)
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestValidate_NonexistentWriteTarget(t *testing.T) {
	wd := t.TempDir()
	v := mustValidator(t, wd)

	got, err := v.Validate("new/nested/file.txt", true)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want, _ := filepath.EvalSymlinks(wd)
	if filepath.Dir(filepath.Dir(filepath.Dir(got))) != want {
		t.Fatalf("got %q not rooted at %q", got, want)
	}
}

func TestValidate_ReadOnlyMountRejectsWrite(t *testing.T) {
	wd := t.TempDir()
	roMount := t.TempDir()
	v, err := New(wd, []Root{{GuestPath: "/ro", RealPath: roMount, Writable: false}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.Validate("/ro/file.txt", true); err == nil {
		t.Fatal("expected traversal error writing to read-only mount")
	}
	if _, err := v.Validate("/ro/file.txt", false); err != nil {
		t.Fatalf("expected read to succeed: %v", err)
	}
}
