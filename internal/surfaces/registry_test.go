package surfaces

import (
	"testing"

	kit "clanbot/internal/transport"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	ref1 := kit.MessageRef{ChatID: 10, MessageID: 100}
	ref2 := kit.MessageRef{ChatID: 10, MessageID: 200}

	r.Attach(1, ref1)
	if got, ok := r.RefFor(1); !ok || got != ref1 {
		t.Fatalf("RefFor = %+v, %v", got, ok)
	}
	if id, ok := r.EventFor(ref1); !ok || id != 1 {
		t.Fatalf("EventFor = %d, %v", id, ok)
	}

	// rebinding replaces the old ref
	r.Attach(1, ref2)
	if _, ok := r.EventFor(ref1); ok {
		t.Fatal("stale ref still bound")
	}
	if id, ok := r.EventFor(ref2); !ok || id != 1 {
		t.Fatalf("rebound EventFor = %d, %v", id, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d", r.Len())
	}

	r.Detach(1)
	if r.Len() != 0 {
		t.Fatalf("Len after detach = %d", r.Len())
	}
	if _, ok := r.RefFor(1); ok {
		t.Fatal("detached event still bound")
	}

	// zero refs are ignored
	r.Attach(2, kit.MessageRef{})
	if r.Len() != 0 {
		t.Fatal("zero ref attached")
	}
}
