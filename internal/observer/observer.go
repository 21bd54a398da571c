// Package observer defines the observer contract: descriptors, results, the
// runtime abstraction, and the registry that binds them.
package observer

import (
	"context"
	"slices"
	"time"

	"github.com/starford/ansuz/internal/event"
)

// RuntimeKind names the execution backend hosting an observer.
type RuntimeKind string

const (
	// RuntimeLua is the restricted script runtime: pure standard
	// operations only, print captured, no file/network/process access.
	RuntimeLua RuntimeKind = "lua"
	// RuntimeJS is the embedded general-purpose interpreter; calls into
	// it are globally serialized.
	RuntimeJS RuntimeKind = "js"
	// RuntimeNative is compiled-in logic; runs freely concurrently.
	RuntimeNative RuntimeKind = "native"
)

// Capability declares what an observer is allowed to mutate. The dispatcher
// drops anything a result proposes beyond its descriptor's capabilities.
type Capability uint8

const (
	// CapMetadata allows metadata patches.
	CapMetadata Capability = 1 << iota
	// CapBody allows body replacement.
	CapBody
	// CapFiles allows writing derived vault files through the store.
	CapFiles
)

// Has reports whether c includes want.
func (c Capability) Has(want Capability) bool { return c&want == want }

// DefaultTimeout bounds an observer invocation when the descriptor does not
// set one.
const DefaultTimeout = 5 * time.Second

// Descriptor identifies a registered observer. Priority orders invocation:
// lower values run first and their mutations are visible to later observers.
type Descriptor struct {
	Name         string
	Runtime      RuntimeKind
	Events       []event.Kind // empty means every kind
	Capabilities Capability
	Timeout      time.Duration
	Priority     int
}

// Interested reports whether the observer wants events of kind k.
func (d Descriptor) Interested(k event.Kind) bool {
	return len(d.Events) == 0 || slices.Contains(d.Events, k)
}

// EffectiveTimeout returns the descriptor timeout or the default.
func (d Descriptor) EffectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// Status classifies an invocation outcome.
type Status int

const (
	Unchanged Status = iota
	Modified
	Failed
)

func (s Status) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Modified:
		return "modified"
	default:
		return "failed"
	}
}

// Tombstone is the metadata patch value that deletes a key.
const Tombstone = "\x00"

// Result is an observer's proposed mutation, returned by value. Keys absent
// from Metadata mean "no change"; a Tombstone value deletes the key. A nil
// Content leaves the body alone.
type Result struct {
	Metadata map[string]string
	Content  *string
	Status   Status
	Reason   string // set when Status == Failed
}

// FailedResult builds a Failed result with the given reason.
func FailedResult(reason string) Result {
	return Result{Status: Failed, Reason: reason}
}

// Runtime is the polymorphic execution backend. Invoke must respect ctx (the
// dispatcher derives it from the descriptor timeout); on timeout the call is
// reported as Failed("timeout") and the backing instance recycled rather
// than trusted to self-terminate.
type Runtime interface {
	Invoke(ctx context.Context, d Descriptor, ev *event.NoteEvent) (Result, error)
}
