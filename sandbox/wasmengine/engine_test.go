package wasmengine

import (
	"context"
	"testing"
)

func TestGet_ReturnsSameInstance(t *testing.T) {
	ctx := context.Background()
	a, err := Get(ctx, 4096)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := Get(ctx, 4096)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Fatal("expected Get to return the same cached Engine instance")
	}
	if a.Runtime == nil || a.Compiled == nil {
		t.Fatal("expected a fully initialized Engine")
	}
}
