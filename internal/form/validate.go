// internal/form/validate.go
package form

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/solatis/formkeeper/internal/fieldpath"
)

/*
 * Validation scheduling.
 *
 * Every validation takes the next value of a form-wide generation counter.
 * A path result is applied only when it is still the latest issued for its
 * path and no full validation was issued after it. A full result is applied
 * only when it is the latest full validation, and only to paths without a
 * newer path validation. Everything else is discarded and counted. Reset
 * and RemoveField bump or drop bookkeeping so in-flight results die.
 */

type pathJob struct {
	path string
	gen  uint64
	data map[string]any
}

// issueLocked assigns generations to paths and marks them in flight.
func (f *Form) issueLocked(paths []string) []pathJob {
	if len(paths) == 0 {
		return nil
	}
	data := fieldpath.CloneMap(f.data)
	jobs := make([]pathJob, 0, len(paths))
	for _, p := range paths {
		f.gen++
		f.lastIssued[p] = f.gen
		f.markInflightLocked(p, f.gen)
		f.wg.Add(1)
		jobs = append(jobs, pathJob{path: p, gen: f.gen, data: data})
	}
	return jobs
}

func (f *Form) markInflightLocked(p string, g uint64) {
	set, ok := f.inflight[p]
	if !ok {
		set = make(map[uint64]struct{})
		f.inflight[p] = set
	}
	set[g] = struct{}{}
}

func (f *Form) doneLocked(p string, g uint64) {
	if set, ok := f.inflight[p]; ok {
		delete(set, g)
		if len(set) == 0 {
			delete(f.inflight, p)
		}
	}
}

// launch runs jobs in the background; the primary path is first.
func (f *Form) launch(jobs []pathJob) {
	for _, job := range jobs {
		go func(job pathJob) {
			_, _ = f.runPath(f.ctx, job)
		}(job)
	}
}

func (f *Form) runPath(ctx context.Context, job pathJob) (bool, error) {
	defer f.wg.Done()

	start := time.Now()
	valid, msgs, err := f.checkPath(ctx, job.path, job.data)

	f.mu.Lock()
	f.doneLocked(job.path, job.gen)
	if f.lastIssued[job.path] != job.gen || f.fullIssued > job.gen {
		f.mu.Unlock()
		f.metrics.RecordDiscarded("path")
		f.logger.Debug().Str("path", job.path).Uint64("generation", job.gen).Msg("stale validation discarded")
		if err != nil {
			return false, fmt.Errorf("validate %s: %w", job.path, err)
		}
		return valid, nil
	}

	if err != nil {
		f.mu.Unlock()
		f.metrics.RecordValidationError("path")
		f.logger.Error().Err(err).Str("path", job.path).Msg("validator failed")
		err = fmt.Errorf("validate %s: %w", job.path, err)
		f.emit(Event{Type: ValidationFail, Path: job.path, Err: err})
		return false, err
	}

	if st, ok := f.fields[job.path]; ok {
		st.errors = msgs
		st.result = StatusValid
		if !valid {
			st.result = StatusInvalid
		}
		st.version++
	}
	f.mu.Unlock()

	f.metrics.RecordValidation("path", valid, time.Since(start))
	if !valid {
		f.emit(Event{
			Type:   ValidationFail,
			Path:   job.path,
			Errors: map[string][]string{job.path: append([]string(nil), msgs...)},
		})
	}
	return valid, nil
}

// ValidatePath validates one path and blocks until the validator returns.
// The result is applied to the field unless a newer validation superseded it.
func (f *Form) ValidatePath(ctx context.Context, path string) (bool, error) {
	key := fieldpath.Normalize(path)
	f.mu.Lock()
	jobs := f.issueLocked([]string{key})
	f.mu.Unlock()
	return f.runPath(ctx, jobs[0])
}

// Validate runs the validator over the whole data tree. On failure it emits
// validation_fail and fills the errors of every registered field; on
// success it clears them. Validator errors are returned wrapped.
func (f *Form) Validate(ctx context.Context) (bool, error) {
	f.mu.Lock()
	f.gen++
	g := f.gen
	f.fullIssued = g
	data := fieldpath.CloneMap(f.data)
	paths := make([]string, 0, len(f.fields))
	for p := range f.fields {
		paths = append(paths, p)
		f.markInflightLocked(p, g)
	}
	f.mu.Unlock()

	start := time.Now()
	valid, errs, err := f.checkAll(ctx, data)

	f.mu.Lock()
	for _, p := range paths {
		f.doneLocked(p, g)
	}
	if f.fullIssued != g {
		f.mu.Unlock()
		f.metrics.RecordDiscarded("form")
		if err != nil {
			return false, fmt.Errorf("validate form: %w", err)
		}
		return valid, nil
	}
	if err != nil {
		f.mu.Unlock()
		f.metrics.RecordValidationError("form")
		f.logger.Error().Err(err).Msg("validator failed")
		err = fmt.Errorf("validate form: %w", err)
		f.emit(Event{Type: ValidationFail, Err: err})
		return false, err
	}
	for p, st := range f.fields {
		if f.lastIssued[p] > g {
			continue
		}
		var msgs []string
		if !valid {
			msgs = append([]string(nil), errs[p]...)
		}
		st.errors = msgs
		st.result = StatusValid
		if len(msgs) > 0 {
			st.result = StatusInvalid
		}
		st.version++
	}
	f.mu.Unlock()

	f.metrics.RecordValidation("form", valid, time.Since(start))
	if !valid {
		f.emit(Event{Type: ValidationFail, Errors: errs})
	}
	return valid, nil
}

// readbackAttempts bounds how often a failed check is repeated when its
// messages were cleared by a concurrent check before they could be read.
const readbackAttempts = 3

// errUnreported stands in for messages a validator never reported.
const errUnreported = "validation failed"

// checkPath returns the outcome of one path check with its messages. A
// failed outcome always carries at least one message.
func (f *Form) checkPath(ctx context.Context, path string, data map[string]any) (bool, []string, error) {
	if mv, ok := f.validator.(MessageValidator); ok {
		msgs, err := mv.CheckPath(ctx, path, data)
		if err != nil {
			return false, nil, err
		}
		return len(msgs) == 0, append([]string(nil), msgs...), nil
	}
	for attempt := 1; ; attempt++ {
		valid, err := f.validator.ValidatePath(ctx, path, data)
		if err != nil || valid {
			return valid, nil, err
		}
		if msgs := f.validator.ErrorsForPath(path); len(msgs) > 0 {
			return false, append([]string(nil), msgs...), nil
		}
		if attempt == readbackAttempts {
			f.logger.Warn().Str("path", path).Msg("validator reported failure without messages")
			return false, []string{errUnreported}, nil
		}
	}
}

// checkAll returns the outcome of a full check with its messages.
func (f *Form) checkAll(ctx context.Context, data map[string]any) (bool, map[string][]string, error) {
	if mv, ok := f.validator.(MessageValidator); ok {
		errs, err := mv.Check(ctx, data)
		if err != nil {
			return false, nil, err
		}
		errs = cloneErrors(errs)
		return len(errs) == 0, errs, nil
	}
	for attempt := 1; ; attempt++ {
		valid, err := f.validator.Validate(ctx, data)
		if err != nil {
			return false, nil, err
		}
		if valid {
			return true, map[string][]string{}, nil
		}
		if errs := cloneErrors(f.validator.Errors()); len(errs) > 0 || attempt == readbackAttempts {
			return false, errs, nil
		}
	}
}

// Dependents returns the concrete paths revalidated when path changes,
// transitively and without path itself.
func (f *Form) Dependents(path string) []string {
	key := fieldpath.Normalize(path)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.withDependentsLocked(key)[1:]
}

// withDependentsLocked returns path followed by every path transitively
// dependent on it, breadth first. Cycles terminate on the visited set.
func (f *Form) withDependentsLocked(path string) []string {
	out := []string{path}
	visited := map[string]bool{path: true}
	queue := []string{path}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, d := range f.dependentsOfLocked(p) {
			for _, c := range f.concreteLocked(d) {
				if visited[c] {
					continue
				}
				visited[c] = true
				out = append(out, c)
				queue = append(queue, c)
			}
		}
	}
	return out
}

func (f *Form) dependentsOfLocked(p string) []string {
	deps := append([]string(nil), f.validator.DependentFields(p)...)

	sources := make([]string, 0, len(f.opts.dependencies))
	for src := range f.opts.dependencies {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		captures, ok := fieldpath.Match(src, p)
		if !ok {
			continue
		}
		for _, target := range f.opts.dependencies[src] {
			concrete, _ := fieldpath.Substitute(target, captures)
			deps = append(deps, concrete)
		}
	}
	return deps
}

// concreteLocked expands a dependent that still carries wildcards.
func (f *Form) concreteLocked(dep string) []string {
	dep = fieldpath.Normalize(dep)
	if dep == "" {
		return nil
	}
	if fieldpath.HasWildcard(dep) {
		return fieldpath.Expand(dep, f.data)
	}
	return []string{dep}
}

func cloneErrors(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
