// internal/form/submit.go
package form

import (
	"context"
	"errors"
	"fmt"
)

// SubmitStatus is the submission lifecycle state.
type SubmitStatus string

const (
	SubmitIdle       SubmitStatus = "idle"
	SubmitSubmitting SubmitStatus = "submitting"
)

type submitCall struct {
	done chan struct{}
	ok   bool
}

// ErrInvalid is recorded as the last submit error when validation blocked
// a submission.
var ErrInvalid = errors.New("form is invalid")

// Submit validates (when the policy asks for it) and hands a copy of the
// data to the submit handler. It reports whether the submission succeeded.
// Failures never escape as errors: validation failures emit validation_fail,
// handler errors and panics emit submit_error. A Submit issued while another
// is in flight waits for it and returns its outcome.
func (f *Form) Submit(ctx context.Context) bool {
	f.submitMu.Lock()
	if call := f.submitting; call != nil {
		f.submitWaiters++
		f.submitMu.Unlock()
		defer func() {
			f.submitMu.Lock()
			f.submitWaiters--
			f.submitMu.Unlock()
		}()
		select {
		case <-call.done:
			return call.ok
		case <-ctx.Done():
			return false
		}
	}
	call := &submitCall{done: make(chan struct{})}
	f.submitting = call
	f.submitMu.Unlock()

	err := f.submit(ctx)

	f.submitMu.Lock()
	call.ok = err == nil
	f.submitting = nil
	f.submitCount++
	f.lastSubmit = err
	f.submitMu.Unlock()
	close(call.done)
	return call.ok
}

func (f *Form) submit(ctx context.Context) error {
	if f.opts.validateOnSubmit {
		valid, err := f.Validate(ctx)
		if err != nil {
			f.metrics.RecordSubmit("error")
			f.emit(Event{Type: SubmitError, Err: err})
			return err
		}
		if !valid {
			f.metrics.RecordSubmit("invalid")
			return ErrInvalid
		}
	}

	if f.opts.submit != nil {
		if err := f.callHandler(ctx); err != nil {
			f.metrics.RecordSubmit("error")
			f.logger.Warn().Err(err).Msg("submit handler failed")
			f.emit(Event{Type: SubmitError, Err: err})
			return err
		}
	}

	f.metrics.RecordSubmit("success")
	f.emit(Event{Type: SubmitSuccess})
	return nil
}

func (f *Form) callHandler(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("submit handler panicked: %v", r)
		}
	}()
	return f.opts.submit(ctx, f.Data())
}

// SubmitStatus reports whether a submission is in flight.
func (f *Form) SubmitStatus() SubmitStatus {
	f.submitMu.Lock()
	defer f.submitMu.Unlock()
	if f.submitting != nil {
		return SubmitSubmitting
	}
	return SubmitIdle
}

// SubmitCount returns the number of completed submissions.
func (f *Form) SubmitCount() int {
	f.submitMu.Lock()
	defer f.submitMu.Unlock()
	return f.submitCount
}

// LastSubmitError returns the error of the last completed submission, nil
// when it succeeded or none has completed.
func (f *Form) LastSubmitError() error {
	f.submitMu.Lock()
	defer f.submitMu.Unlock()
	return f.lastSubmit
}
