package tagger

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Params are the transactional parameters a Scope hands to its Primitive
// unchanged.
type Params struct {
	// Using names the connection or database alias; empty means default.
	Using string

	// Savepoint asks nested scopes to create a savepoint.
	Savepoint bool

	// Durable requires the scope to be the outermost transaction.
	Durable bool
}

// Primitive is the transactional machinery a Scope delegates to, such as
// a database transaction or savepoint.
type Primitive interface {
	// Begin opens the transactional unit and returns a context bound to it.
	Begin(ctx context.Context, p Params) (context.Context, error)

	// End closes the unit opened by Begin. cause is the error that ended the
	// scope body, nil on success; implementations commit or release on nil
	// and roll back otherwise, returning the error the scope should report.
	End(ctx context.Context, cause error) error
}

// RetryPolicy re-runs a whole scope when it fails with a retryable error,
// e.g. a serialization failure reported on commit.
type RetryPolicy struct {
	// BackOff paces the attempts. Defaults to an exponential backoff.
	BackOff backoff.BackOff

	// MaxTries bounds the number of attempts, the first included.
	// Zero means 3.
	MaxTries uint

	// MaxElapsedTime bounds the total retry duration. Zero means no bound
	// beyond the library default.
	MaxElapsedTime time.Duration

	// Retryable decides whether an attempt's error warrants another attempt.
	Retryable func(error) bool
}

// ScopeOption configures a Scope.
type ScopeOption func(*Scope)

// WithTag labels the scope; the label is rendered as "T=<tag>".
func WithTag(tag string) ScopeOption {
	return func(s *Scope) {
		s.tag = tag
	}
}

// Using selects the connection alias handed to the Primitive.
func Using(alias string) ScopeOption {
	return func(s *Scope) {
		s.params.Using = alias
	}
}

// WithSavepoint controls whether nested entries create savepoints.
// Savepoints are enabled by default.
func WithSavepoint(enabled bool) ScopeOption {
	return func(s *Scope) {
		s.params.Savepoint = enabled
	}
}

// WithDurable requires the scope to be the outermost transactional unit.
func WithDurable() ScopeOption {
	return func(s *Scope) {
		s.params.Durable = true
	}
}

// WithRetry re-runs the scope according to p.
func WithRetry(p RetryPolicy) ScopeOption {
	return func(s *Scope) {
		s.retry = &p
	}
}

// Scope is a reentrant, nestable transactional unit that records where it
// was entered. The record is visible to every query issued with the context
// handed to the scope body, and disappears when the body returns.
//
// A Scope holds configuration only; each entry keeps its own state, so the
// same Scope may be entered recursively or concurrently.
type Scope struct {
	tagger    *Tagger
	primitive Primitive
	tag       string
	params    Params
	retry     *RetryPolicy
}

// Scope returns a new scope delegating to p; a nil p only records the
// call site.
//
// Context-manager form:
//
//	err := t.Scope(p, tagger.WithTag("checkout")).Do(ctx, func(ctx context.Context) error {
//	    // queries issued with ctx carry "T=checkout <this file>:<line of Do>"
//	    return nil
//	})
//
// Decorator form:
//
//	var checkout = t.Scope(p).Wrap(func(ctx context.Context) error {
//	    // the scope is attributed to the first line of this function
//	    return nil
//	})
func (t *Tagger) Scope(p Primitive, opts ...ScopeOption) *Scope {
	s := &Scope{
		tagger:    t,
		primitive: p,
		params:    Params{Savepoint: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tag returns the scope label.
func (s *Scope) Tag() string {
	return s.tag
}

// Params returns the parameters handed to the Primitive.
func (s *Scope) Params() Params {
	return s.params
}

// Do runs fn inside the scope. The scope is attributed to the line calling Do.
func (s *Scope) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	// 0: Do, 1: its caller.
	return s.run(ctx, captureStack(1), nil, fn)
}

// Wrap returns fn wrapped in the scope. Entries through the returned
// function are attributed to the first line of fn.
func (s *Scope) Wrap(fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return s.run(ctx, nil, fn, fn)
	}
}

// callSite picks the location recorded for one entry: the definition of
// decorated when entered through Wrap, frames[0] otherwise. frames[0] is the
// immediate caller of Do.
//
// Only the code root decides. A data-access method opening a scope is still
// the scope's origin, unlike when it issues a query.
func (s *Scope) callSite(frames []Frame, decorated any) (Frame, bool) {
	if s.tagger == nil {
		return Frame{}, false
	}

	if decorated != nil {
		if def, ok := funcFrame(decorated); ok && s.tagger.paths.IsCodeOurs(def.File) {
			return def, true
		}
		return Frame{}, false
	}

	if len(frames) > 0 && s.tagger.paths.IsCodeOurs(frames[0].File) {
		return frames[0], true
	}

	// Entered from outside application code: the occurrence is not recorded.
	return Frame{}, false
}

func (s *Scope) run(ctx context.Context, frames []Frame, decorated any, fn func(ctx context.Context) error) error {
	site, capturing := s.callSite(frames, decorated)
	var info TransactionInfo
	if capturing {
		info = TransactionInfo{File: s.tagger.Normalize(site.File), Line: site.Line, Tag: s.tag}
	}

	if s.retry == nil {
		return s.once(ctx, info, capturing, fn)
	}
	return s.withRetry(ctx, func() error {
		return s.once(ctx, info, capturing, fn)
	})
}

// once performs a single entry: push, Begin, body, pop, End.
func (s *Scope) once(
	ctx context.Context,
	info TransactionInfo,
	capturing bool,
	fn func(ctx context.Context) error,
) (err error) {
	if capturing {
		ctx = ContextWithStack(ctx, StackFromContext(ctx).Push(info))
	}

	if s.primitive != nil {
		ctx, err = s.primitive.Begin(ctx, s.params)
		if err != nil {
			return err
		}
	}

	defer func() {
		r := recover()
		if r != nil {
			err = fmt.Errorf("tagger: panic in scope: %v", r)
		}

		exitCtx := ctx
		if capturing {
			exitCtx = ContextWithStack(ctx, StackFromContext(ctx).Pop())
		}
		if s.primitive != nil {
			err = s.primitive.End(exitCtx, err)
		}

		if r != nil {
			panic(r)
		}
	}()

	return fn(ctx)
}

func (s *Scope) withRetry(ctx context.Context, attempt func() error) error {
	p := s.retry

	b := p.BackOff
	if b == nil {
		b = backoff.NewExponentialBackOff()
	}
	b.Reset()

	maxTries := p.MaxTries
	if maxTries == 0 {
		maxTries = 3
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(maxTries),
	}
	if p.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsedTime))
	}
	if s.tagger != nil {
		opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
			s.tagger.logger.Debug().
				Err(err).
				Str("tag", s.tag).
				Dur("next", next).
				Msg("retrying scope")
		}))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := attempt()
		if err != nil && (p.Retryable == nil || !p.Retryable(err)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, opts...)
	return err
}
