package observer

import (
	"context"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/event"
)

type nopRuntime struct{ id string }

func (n *nopRuntime) Invoke(context.Context, Descriptor, *event.NoteEvent) (Result, error) {
	return Result{Status: Unchanged}, nil
}

func names(bindings []Binding) []string {
	out := make([]string, len(bindings))
	for i, b := range bindings {
		out[i] = b.Descriptor.Name
	}
	return out
}

func TestListForPriorityOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "late", Priority: 90}, &nopRuntime{})
	r.Register(Descriptor{Name: "early", Priority: 10}, &nopRuntime{})
	r.Register(Descriptor{Name: "mid", Priority: 50}, &nopRuntime{})

	got := names(r.ListFor(event.Updated))
	want := []string{"early", "mid", "late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestListForRegistrationOrderTieBreak(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "first", Priority: 50}, &nopRuntime{})
	r.Register(Descriptor{Name: "second", Priority: 50}, &nopRuntime{})
	r.Register(Descriptor{Name: "third", Priority: 50}, &nopRuntime{})

	got := names(r.ListFor(event.Updated))
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestListForFiltersByEventKind(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "create-only", Events: []event.Kind{event.Created}}, &nopRuntime{})
	r.Register(Descriptor{Name: "all"}, &nopRuntime{})

	got := names(r.ListFor(event.Deleted))
	if len(got) != 1 || got[0] != "all" {
		t.Errorf("ListFor(Deleted) = %v", got)
	}
	got = names(r.ListFor(event.Created))
	if len(got) != 2 {
		t.Errorf("ListFor(Created) = %v", got)
	}
}

func TestRegisterReplaceKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "a", Priority: 50}, &nopRuntime{id: "a1"})
	r.Register(Descriptor{Name: "b", Priority: 50}, &nopRuntime{})

	// Reload "a" with new source; it must keep its slot before "b".
	r.Register(Descriptor{Name: "a", Priority: 50}, &nopRuntime{id: "a2"})

	got := names(r.ListFor(event.Updated))
	if got[0] != "a" || got[1] != "b" {
		t.Fatalf("order after replace = %v", got)
	}
	rt := r.ListFor(event.Updated)[0].Runtime.(*nopRuntime)
	if rt.id != "a2" {
		t.Errorf("runtime not replaced: %q", rt.id)
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "x"}, &nopRuntime{})
	if !r.Unregister("x") {
		t.Error("Unregister should report existing observer")
	}
	if r.Unregister("x") {
		t.Error("second Unregister should report missing")
	}
	if len(r.All()) != 0 {
		t.Errorf("All = %v", names(r.All()))
	}
}

func TestEffectiveTimeout(t *testing.T) {
	d := Descriptor{}
	if d.EffectiveTimeout() != DefaultTimeout {
		t.Errorf("default timeout = %v", d.EffectiveTimeout())
	}
	d.Timeout = time.Second
	if d.EffectiveTimeout() != time.Second {
		t.Errorf("explicit timeout = %v", d.EffectiveTimeout())
	}
}

func TestCapabilityHas(t *testing.T) {
	c := CapMetadata | CapBody
	if !c.Has(CapMetadata) || !c.Has(CapBody) {
		t.Error("combined capability should include both")
	}
	if c.Has(CapFiles) {
		t.Error("CapFiles not granted")
	}
}
