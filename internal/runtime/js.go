package runtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dop251/goja"

	"github.com/starford/ansuz/internal/event"
	"github.com/starford/ansuz/internal/observer"
)

// JSWorker owns the embedded JavaScript interpreter. The interpreter
// enforces a single active execution context, so every call, regardless of
// script or note, is serialized through this one worker goroutine.
// A fresh VM is built per call; a timed-out VM is interrupted and discarded.
type JSWorker struct {
	reqs   chan jsRequest
	stop   chan struct{}
	done   chan struct{}
	logger *slog.Logger
}

type jsRequest struct {
	source  string
	timeout time.Duration
	ev      *event.NoteEvent
	resp    chan jsResponse
}

type jsResponse struct {
	res observer.Result
	err error
}

// NewJSWorker starts the worker loop.
func NewJSWorker(logger *slog.Logger) *JSWorker {
	w := &JSWorker{
		reqs:   make(chan jsRequest),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go w.loop()
	return w
}

// Close stops the worker after the in-flight call (if any) finishes.
func (w *JSWorker) Close() {
	close(w.stop)
	<-w.done
}

func (w *JSWorker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case req := <-w.reqs:
			req.resp <- w.exec(req)
		}
	}
}

func (w *JSWorker) exec(req jsRequest) jsResponse {
	vm := goja.New()

	timer := time.AfterFunc(req.timeout, func() { vm.Interrupt("timeout") })
	defer timer.Stop()

	if _, err := vm.RunString(req.source); err != nil {
		return jsResponse{res: jsFailure(err)}
	}

	fn, ok := goja.AssertFunction(vm.Get("on_event"))
	if !ok {
		return jsResponse{res: observer.FailedResult("script defines no on_event function")}
	}

	evMap, err := eventValue(req.ev)
	if err != nil {
		return jsResponse{err: err}
	}

	ret, err := fn(goja.Undefined(), vm.ToValue(evMap))
	if err != nil {
		return jsResponse{res: jsFailure(err)}
	}
	if ret == nil || goja.IsNull(ret) || goja.IsUndefined(ret) {
		return jsResponse{res: observer.Result{Status: observer.Unchanged}}
	}

	res, err := resultFromExport(ret.Export())
	if err != nil {
		return jsResponse{res: observer.FailedResult(err.Error())}
	}
	return jsResponse{res: res}
}

func jsFailure(err error) observer.Result {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return observer.FailedResult("timeout")
	}
	return observer.FailedResult(err.Error())
}

// JSScript hosts one user-supplied script as an observer, executing through
// the shared serialized worker.
type JSScript struct {
	worker *JSWorker
	source string
}

// NewJSScript binds script source to the worker.
func NewJSScript(worker *JSWorker, source string) *JSScript {
	return &JSScript{worker: worker, source: source}
}

// Invoke implements observer.Runtime. Queueing behind the worker counts
// against the observer's timeout.
func (s *JSScript) Invoke(ctx context.Context, d observer.Descriptor, ev *event.NoteEvent) (observer.Result, error) {
	req := jsRequest{
		source:  s.source,
		timeout: d.EffectiveTimeout(),
		ev:      ev,
		resp:    make(chan jsResponse, 1),
	}

	select {
	case s.worker.reqs <- req:
	case <-ctx.Done():
		return observer.FailedResult("timeout"), nil
	case <-s.worker.stop:
		return observer.FailedResult("interpreter shut down"), nil
	}

	select {
	case resp := <-req.resp:
		return resp.res, resp.err
	case <-ctx.Done():
		// The worker's own interrupt timer reclaims the VM.
		return observer.FailedResult("timeout"), nil
	}
}
