package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestSandbox(t *testing.T) (*Sandbox, string) {
	t.Helper()
	wd := t.TempDir()
	sb, err := New(context.Background(), Config{WorkDir: wd})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(sb.Destroy)
	return sb, wd
}

func TestNew_RejectsEmptyWorkDir(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected an error for an empty work dir")
	}
}

func TestReadWriteFile_Roundtrip(t *testing.T) {
	sb, _ := newTestSandbox(t)

	if err := sb.WriteFile("hello.txt", []byte("world")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := sb.ReadFile("hello.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("expected %q, got %q", "world", got)
	}
}

func TestReadFile_RejectsTraversal(t *testing.T) {
	sb, _ := newTestSandbox(t)
	if _, err := sb.ReadFile("../outside.txt"); err == nil {
		t.Fatal("expected a traversal error")
	} else {
		var sbErr *Error
		if !errors.As(err, &sbErr) || sbErr.Kind != KindPathTraversal {
			t.Fatalf("expected KindPathTraversal, got %v", err)
		}
	}
}

func TestListDir_ReportsEntries(t *testing.T) {
	sb, wd := newTestSandbox(t)
	if err := os.WriteFile(filepath.Join(wd, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(wd, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	entries, err := sb.ListDir("")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	var sawFile, sawDir bool
	for _, e := range entries {
		if e.Name == "a.txt" && e.IsFile {
			sawFile = true
		}
		if e.Name == "sub" && e.IsDir {
			sawDir = true
		}
	}
	if !sawFile || !sawDir {
		t.Fatalf("expected to see both a.txt and sub, got %+v", entries)
	}
}

func TestDiff_ReflectsWrites(t *testing.T) {
	sb, _ := newTestSandbox(t)
	if err := sb.WriteFile("new.txt", []byte("content")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	entries, err := sb.Diff()
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "new.txt" || entries[0].Kind != DiffCreated {
		t.Fatalf("unexpected diff: %+v", entries)
	}
}

func TestExec_UnknownCommandNotFound(t *testing.T) {
	sb, _ := newTestSandbox(t)
	_, err := sb.Exec(context.Background(), "not-a-real-tool", nil)
	var sbErr *Error
	if !errors.As(err, &sbErr) || sbErr.Kind != KindCommandNotFound {
		t.Fatalf("expected KindCommandNotFound, got %v", err)
	}
}

func TestExec_CurlWithoutFetchPolicyIsNetworkingDisabled(t *testing.T) {
	sb, _ := newTestSandbox(t)
	_, err := sb.Exec(context.Background(), "curl", []string{"https://example.com"})
	var sbErr *Error
	if !errors.As(err, &sbErr) || sbErr.Kind != KindNetworkingDisabled {
		t.Fatalf("expected KindNetworkingDisabled, got %v", err)
	}
}

func TestFetch_WithoutPolicyIsNetworkingDisabled(t *testing.T) {
	sb, _ := newTestSandbox(t)
	_, err := sb.Fetch(context.Background(), FetchRequest{URL: "https://example.com"})
	var sbErr *Error
	if !errors.As(err, &sbErr) || sbErr.Kind != KindNetworkingDisabled {
		t.Fatalf("expected KindNetworkingDisabled, got %v", err)
	}
}

func TestDestroy_IsIdempotentAndPoisonsFurtherCalls(t *testing.T) {
	sb, _ := newTestSandbox(t)
	sb.Destroy()
	sb.Destroy()

	_, err := sb.ReadFile("anything.txt")
	var sbErr *Error
	if !errors.As(err, &sbErr) || sbErr.Kind != KindDestroyed {
		t.Fatalf("expected KindDestroyed, got %v", err)
	}
}

func TestExec_GuestInvocationWiring(t *testing.T) {
	sb, _ := newTestSandbox(t)
	result, err := sb.Exec(context.Background(), "echo", []string{"hi"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
	if !strings.Contains(string(result.Stdout), "hi") {
		t.Fatalf("expected the guest to echo its arg back, got %q", result.Stdout)
	}
}

func TestExecJS_DispatchesToNode(t *testing.T) {
	sb, _ := newTestSandbox(t)
	result, err := sb.ExecJS(context.Background(), "console.log(1)")
	if err != nil {
		t.Fatalf("ExecJS: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
	if !strings.Contains(string(result.Stdout), "console.log(1)") {
		t.Fatalf("expected the guest to receive the JS source as an arg, got %q", result.Stdout)
	}
}
