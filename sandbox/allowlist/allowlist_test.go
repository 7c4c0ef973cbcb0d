package allowlist

import "testing"

func TestIsAvailable_BuiltIn(t *testing.T) {
	l := New(nil)
	if !l.IsAvailable("cat") {
		t.Fatal("expected cat to be available")
	}
	if l.IsAvailable("python") {
		t.Fatal("expected python to be rejected")
	}
}

func TestIsAvailable_Extra(t *testing.T) {
	l := New([]string{"mytool"})
	if !l.IsAvailable("mytool") {
		t.Fatal("expected extra command to be available")
	}
	if l.IsAvailable("othertool") {
		t.Fatal("expected unlisted command to be rejected")
	}
}

func TestIsAvailable_Node(t *testing.T) {
	l := New(nil)
	if !l.IsAvailable("node") {
		t.Fatal("expected node to be available out of the box for Sandbox.ExecJS")
	}
	if l.IsHostIntercepted("node") {
		t.Fatal("expected node to be dispatched to the guest, not host-intercepted")
	}
	if l.IsWriteCommand("node") {
		t.Fatal("expected node not to be a write command")
	}
}

func TestIsHostIntercepted_Curl(t *testing.T) {
	l := New(nil)
	if !l.IsAvailable("curl") {
		t.Fatal("expected curl to be a member of the allowlist")
	}
	if !l.IsHostIntercepted("curl") {
		t.Fatal("expected curl to be flagged host-intercepted")
	}
	if l.IsHostIntercepted("cat") {
		t.Fatal("expected cat not to be host-intercepted")
	}
}

func TestIsWriteCommand(t *testing.T) {
	l := New(nil)
	for _, name := range []string{"rm", "mv", "cp", "mkdir", "chmod", "touch", "ln", "sed"} {
		if !l.IsWriteCommand(name) {
			t.Fatalf("expected %s to be a write command", name)
		}
	}
	for _, name := range []string{"cat", "ls", "grep"} {
		if l.IsWriteCommand(name) {
			t.Fatalf("expected %s not to be a write command", name)
		}
	}
}

func TestExtraCommandsNeverWriteOrIntercepted(t *testing.T) {
	l := New([]string{"rm"}) // duplicate of a built-in, should behave as built-in
	if !l.IsWriteCommand("rm") {
		t.Fatal("expected rm to remain a write command")
	}

	l2 := New([]string{"mytool"})
	if l2.IsWriteCommand("mytool") {
		t.Fatal("expected extra command to not be a write command by default")
	}
	if l2.IsHostIntercepted("mytool") {
		t.Fatal("expected extra command to not be host-intercepted")
	}
}
