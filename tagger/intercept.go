package tagger

import (
	"context"
	"database/sql/driver"
	"regexp"
	"strconv"
	"strings"
)

// controlRegex matches statements that open, close or checkpoint a transaction.
// The match is anchored at the first byte; leading whitespace defeats it.
var controlRegex = regexp.MustCompile(
	`(?i)^(BEGIN|COMMIT|SAVEPOINT|RELEASE\s+SAVEPOINT|ROLLBACK|ROLLBACK\s+TO\s+SAVEPOINT)\b`,
)

// IsTransactionControl reports whether query is a BEGIN, COMMIT, SAVEPOINT,
// RELEASE SAVEPOINT, ROLLBACK or ROLLBACK TO SAVEPOINT statement. Such
// statements are never annotated.
func IsTransactionControl(query string) bool {
	return controlRegex.MatchString(query)
}

// Annotation describes how a statement was tagged.
type Annotation struct {
	// Query is the statement as sent to the database, comment included.
	Query string

	// Comment is the rendered "/* ... */" block.
	Comment string

	// Origin is the attributed frame with File in display form.
	Origin Frame

	// Scopes lists the active scopes, outermost first.
	Scopes []TransactionInfo
}

type annotationKey struct{}

// AnnotationFromContext returns the annotation Intercept attached to the
// context it handed to the next stage.
func AnnotationFromContext(ctx context.Context) (Annotation, bool) {
	a, ok := ctx.Value(annotationKey{}).(Annotation)
	return a, ok
}

// Next is the downstream stage of statement execution.
type Next[R any] func(ctx context.Context, query string, args []driver.NamedValue, batch bool) (R, error)

// Intercept annotates query and hands it to next with args and batch unchanged.
// Transaction-control statements and a nil Tagger pass through untouched.
//
// It is meant to be called from a driver or execution wrapper, which should
// register its own types with WithDataAccessTypes so that the walk skips them:
//
//	func (c *conn) ExecContext(ctx context.Context, q string, args []driver.NamedValue) (driver.Result, error) {
//	    return tagger.Intercept(ctx, c.tagger, q, args, false, c.exec)
//	}
func Intercept[R any](
	ctx context.Context,
	t *Tagger,
	query string,
	args []driver.NamedValue,
	batch bool,
	next Next[R],
) (R, error) {
	if t == nil || IsTransactionControl(query) {
		return next(ctx, query, args, batch)
	}

	// 0: Intercept, 1: its caller.
	a := t.annotate(ctx, query, startFrames(ctx, 1))
	t.emit(a)

	return next(context.WithValue(ctx, annotationKey{}, a), a.Query, args, batch)
}

// Tag returns query prefixed with its call-site comment. Transaction-control
// statements are returned unchanged.
func (t *Tagger) Tag(ctx context.Context, query string) string {
	if t == nil || IsTransactionControl(query) {
		return query
	}
	a := t.annotate(ctx, query, startFrames(ctx, 1))
	t.emit(a)
	return a.Query
}

// Annotate is like Tag but returns the full annotation and does not log it.
// Transaction-control statements yield an annotation with no comment.
func (t *Tagger) Annotate(ctx context.Context, query string) Annotation {
	if t == nil || IsTransactionControl(query) {
		return Annotation{Query: query}
	}
	return t.annotate(ctx, query, startFrames(ctx, 1))
}

// startFrames returns the stack the attribution walk starts from: the pinned
// stack of an ignore region, or the stack of the caller's caller.
func startFrames(ctx context.Context, skip int) []Frame {
	if frames := ignoredFrames(ctx); frames != nil {
		return frames
	}
	return captureStack(skip + 1)
}

func (t *Tagger) annotate(ctx context.Context, query string, frames []Frame) Annotation {
	origin := t.Attribute(frames)
	origin.File = t.Normalize(origin.File)

	stack := StackFromContext(ctx)

	var b strings.Builder
	b.WriteString("/* ")
	stack.Render(&b)
	b.WriteString(origin.File)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(origin.Line))
	b.WriteString(" */")
	comment := b.String()

	return Annotation{
		Query:   comment + " " + query,
		Comment: comment,
		Origin:  origin,
		Scopes:  stack.Entries(),
	}
}

func (t *Tagger) emit(a Annotation) {
	t.logger.Debug().
		Str("origin", a.Origin.File+":"+strconv.Itoa(a.Origin.Line)).
		Int("scopes", len(a.Scopes)).
		Msg(a.Comment)
}
