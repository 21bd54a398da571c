package runtime

import (
	"context"
	"fmt"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/observer"
)

// Func is compiled-in observer logic implementing the call contract
// directly. Native observers run concurrently with each other; the only
// bound is the dispatcher's worker budget.
type Func func(ctx context.Context, ev *event.NoteEvent) (observer.Result, error)

// Native adapts a Func to the observer.Runtime interface.
type Native struct {
	fn Func
}

// NewNative wraps fn.
func NewNative(fn Func) *Native {
	return &Native{fn: fn}
}

// Invoke runs fn under the descriptor timeout. A function that outlives its
// deadline is abandoned; its late result is discarded, never merged.
func (n *Native) Invoke(ctx context.Context, d observer.Descriptor, ev *event.NoteEvent) (observer.Result, error) {
	type outcome struct {
		res observer.Result
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{res: observer.FailedResult(fmt.Sprintf("panic: %v", r))}
			}
		}()
		res, err := n.fn(ctx, ev)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			return observer.FailedResult(out.err.Error()), nil
		}
		return out.res, nil
	case <-ctx.Done():
		return observer.FailedResult("timeout"), nil
	}
}
