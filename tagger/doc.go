// Package tagger prefixes SQL statements with a comment naming the
// application line that issued them and the transactional scopes that were
// active at the time:
//
//	/* T=checkout orders/service.go:88 |> orders/payment.go:41 |> orders/payment.go:57 */ UPDATE ...
//
// A slow-query log entry then leads straight back to the source.
//
// The origin of a statement is found by walking the call stack from the
// point of execution toward callers, skipping frames outside the code root
// (runtime, drivers, third-party packages) and frames belonging to
// registered data-access types. IgnoreBelow and IgnoreBelowFunc pin the walk
// start for helpers that should never be blamed themselves.
//
// Scopes are entered with Scope.Do or Scope.Wrap. The set of active scopes
// travels in the context.Context: entering a scope derives a new context,
// so goroutines never observe each other's scopes and there is nothing to
// clean up on exit.
//
// Transaction-control statements (BEGIN, COMMIT, SAVEPOINT, ...) are sent
// unchanged.
//
// The sql and sqlx packages of this module install the interceptor into
// database/sql and jmoiron/sqlx respectively.
package tagger
