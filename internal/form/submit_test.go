package form

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSubmit_Success(t *testing.T) {
	var got map[string]any
	f := newTestForm(t, map[string]any{"name": "John"}, nil,
		WithSubmitHandler(func(_ context.Context, data map[string]any) error {
			got = data
			return nil
		}))
	rec := &recorder{}
	f.On(SubmitSuccess, rec.add)

	if !f.Submit(context.Background()) {
		t.Fatal("Submit() = false")
	}
	if got["name"] != "John" {
		t.Errorf("handler data = %v", got)
	}
	ev := rec.ofType(SubmitSuccess)
	if len(ev) != 1 || ev[0].Form != f {
		t.Errorf("submit_success = %+v", ev)
	}
	if f.SubmitCount() != 1 || f.LastSubmitError() != nil || f.SubmitStatus() != SubmitIdle {
		t.Error("submission bookkeeping wrong")
	}
}

func TestSubmit_HandlerError(t *testing.T) {
	f := newTestForm(t, nil, nil,
		WithSubmitHandler(func(context.Context, map[string]any) error {
			return errors.New("x")
		}))
	rec := &recorder{}
	f.On(SubmitError, rec.add)

	if f.Submit(context.Background()) {
		t.Fatal("Submit() = true for failing handler")
	}
	ev := rec.ofType(SubmitError)
	if len(ev) != 1 || ev[0].Err == nil || ev[0].Err.Error() != "x" {
		t.Errorf("submit_error = %+v", ev)
	}
}

func TestSubmit_HandlerPanic(t *testing.T) {
	f := newTestForm(t, nil, nil,
		WithSubmitHandler(func(context.Context, map[string]any) error {
			panic("boom")
		}))
	rec := &recorder{}
	f.On(SubmitError, rec.add)

	if f.Submit(context.Background()) {
		t.Fatal("Submit() = true for panicking handler")
	}
	if len(rec.ofType(SubmitError)) != 1 {
		t.Error("panic not routed to submit_error")
	}
}

func TestSubmit_InvalidSkipsHandler(t *testing.T) {
	v := newFake()
	v.checks["email"] = required
	called := false
	f := newTestForm(t, nil, v,
		WithSubmitHandler(func(context.Context, map[string]any) error {
			called = true
			return nil
		}))
	f.Register("email")
	rec := &recorder{}
	f.OnAny(rec.add)

	if f.Submit(context.Background()) {
		t.Fatal("Submit() = true for invalid form")
	}
	if called {
		t.Error("handler called for invalid form")
	}
	if len(rec.ofType(ValidationFail)) != 1 || len(rec.ofType(SubmitSuccess)) != 0 {
		t.Errorf("events = %+v", rec.events)
	}
	if !errors.Is(f.LastSubmitError(), ErrInvalid) {
		t.Errorf("LastSubmitError() = %v", f.LastSubmitError())
	}
	if len(f.ErrorsFor("email")) != 1 {
		t.Error("submit validation did not populate field errors")
	}
}

func TestSubmit_ValidationDisabled(t *testing.T) {
	v := newFake()
	v.checks["email"] = required
	f := newTestForm(t, nil, v,
		WithValidateOnSubmit(false),
		WithSubmitHandler(func(context.Context, map[string]any) error { return nil }))

	if !f.Submit(context.Background()) {
		t.Error("Submit() validated although disabled")
	}
}

func TestSubmit_ConcurrentRunsHandlerOnce(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newTestForm(t, nil, nil,
		WithSubmitHandler(func(context.Context, map[string]any) error {
			if calls.Add(1) == 1 {
				close(entered)
			}
			<-release
			return nil
		}))

	results := make([]bool, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = f.Submit(context.Background())
	}()
	<-entered
	if f.SubmitStatus() != SubmitSubmitting {
		t.Error("status not submitting while handler runs")
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = f.Submit(context.Background())
	}()
	for {
		f.submitMu.Lock()
		waiting := f.submitWaiters
		f.submitMu.Unlock()
		if waiting == 1 {
			break
		}
		runtime.Gosched()
	}
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("handler ran %d times", calls.Load())
	}
	if !results[0] || !results[1] {
		t.Errorf("results = %v", results)
	}
}
