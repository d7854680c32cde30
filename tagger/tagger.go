package tagger

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

// ErrMissingCodeRoot is returned when a Tagger is built without a code root.
var ErrMissingCodeRoot = errors.New("tagger: code root is required")

// Tagger renders call-site annotations for SQL statements.
//
// A Tagger is immutable after construction and safe for concurrent use.
// Per-call state (active scopes, ignore regions) travels in the
// context.Context handed to Tag, Annotate, Intercept and Scope.Do.
//
// Example:
//
//	t, err := tagger.New(
//	    tagger.WithCodeRoot("/srv/app"),
//	    tagger.WithPathReplacements(tagger.Replacement{Pattern: `^internal/`, Replacement: "i/"}),
//	    tagger.WithLogger(logger),
//	)
type Tagger struct {
	paths  *PathNormalizer
	logger zerolog.Logger

	// dataAccessTypes holds "pkgpath.TypeName" keys of receiver types whose
	// methods never count as the origin of a query.
	dataAccessTypes map[string]struct{}

	// dataAccessFuncs holds fully qualified function names that never count
	// as the origin of a query.
	dataAccessFuncs map[string]struct{}

	// dataAccessNames maps the bare name of every registered type and
	// function to the packages declaring it, for closures of inlined calls.
	dataAccessNames map[string][]string

	opts options
}

// options holds the raw construction parameters.
type options struct {
	codeRoot        string
	replacements    []Replacement
	logger          zerolog.Logger
	dataAccessTypes []any
	dataAccessFuncs []any
}

// Option configures a Tagger.
type Option func(*options)

// WithCodeRoot sets the absolute path prefix identifying application code.
// Frames outside this prefix are treated as library or runtime code.
//
// Example:
//
//	tagger.New(tagger.WithCodeRoot("/home/deploy/app"))
func WithCodeRoot(root string) Option {
	return func(o *options) {
		o.codeRoot = root
	}
}

// WithPathReplacements appends ordered regex rewrites applied to every
// displayed path after the code root has been stripped.
//
// Example:
//
//	// "internal/billing/invoice.go" is displayed as "i/billing/invoice.go"
//	tagger.New(
//	    tagger.WithCodeRoot(root),
//	    tagger.WithPathReplacements(tagger.Replacement{Pattern: `^internal/`, Replacement: "i/"}),
//	)
func WithPathReplacements(r ...Replacement) Option {
	return func(o *options) {
		o.replacements = append(o.replacements, r...)
	}
}

// WithLogger sets the logger used to emit every rendered comment at debug level.
// If not called, a no-op logger is used.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithDataAccessTypes registers receiver types whose methods are skipped
// while looking for the origin of a query. Pass a zero value or a pointer of
// each type; generic instantiations match regardless of type arguments.
//
// Use this for repository or wrapper types so that their internals never
// show up as the origin:
//
//	type UserStore struct{ db *sqltagsqlx.DB }
//
//	tagger.New(
//	    tagger.WithCodeRoot(root),
//	    tagger.WithDataAccessTypes(UserStore{}),
//	)
func WithDataAccessTypes(values ...any) Option {
	return func(o *options) {
		o.dataAccessTypes = append(o.dataAccessTypes, values...)
	}
}

// WithDataAccessFuncs registers package-level functions that act on behalf
// of data-access types and must be skipped like their methods.
func WithDataAccessFuncs(fns ...any) Option {
	return func(o *options) {
		o.dataAccessFuncs = append(o.dataAccessFuncs, fns...)
	}
}

// New builds a Tagger. It fails when the code root is missing or when any
// path replacement does not compile.
func New(opts ...Option) (*Tagger, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return build(o)
}

// NewFromConfig builds a Tagger from a loaded Config. Additional options are
// applied after the configuration.
func NewFromConfig(cfg Config, opts ...Option) (*Tagger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := []Option{
		WithCodeRoot(cfg.CodeRoot),
		WithPathReplacements(cfg.PathReplacements...),
	}
	return New(append(base, opts...)...)
}

// With returns a copy of t with additional options applied. Integrations use
// it to register their own wrapper types on a user-supplied Tagger.
//
// It panics when a registration is invalid, such as an unnamed type passed
// to WithDataAccessTypes, or when opts reset the code root to empty.
func (t *Tagger) With(opts ...Option) *Tagger {
	if t == nil {
		return nil
	}
	o := t.opts
	o.replacements = append([]Replacement(nil), t.opts.replacements...)
	o.dataAccessTypes = append([]any(nil), t.opts.dataAccessTypes...)
	o.dataAccessFuncs = append([]any(nil), t.opts.dataAccessFuncs...)
	for _, opt := range opts {
		opt(&o)
	}
	clone, err := build(o)
	if err != nil {
		panic(err)
	}
	return clone
}

// Normalize maps an absolute source path to its display form.
func (t *Tagger) Normalize(path string) string {
	return t.paths.Normalize(path)
}

func build(o options) (*Tagger, error) {
	if strings.TrimSpace(o.codeRoot) == "" {
		return nil, ErrMissingCodeRoot
	}

	paths, err := NewPathNormalizer(o.codeRoot, o.replacements)
	if err != nil {
		return nil, err
	}

	t := &Tagger{
		paths:           paths,
		logger:          o.logger,
		dataAccessTypes: make(map[string]struct{}),
		dataAccessFuncs: make(map[string]struct{}),
		dataAccessNames: make(map[string][]string),
		opts:            o,
	}

	for _, v := range append([]any{Tagger{}, Scope{}}, o.dataAccessTypes...) {
		key, err := typeKey(v)
		if err != nil {
			return nil, err
		}
		t.dataAccessTypes[key] = struct{}{}
		t.addName(key)
	}

	for _, fn := range o.dataAccessFuncs {
		name, err := funcName(fn)
		if err != nil {
			return nil, err
		}
		t.dataAccessFuncs[name] = struct{}{}
		t.addName(name)
	}

	return t, nil
}

// addName indexes a "pkgpath.Name" key by its bare name. Keys whose symbol
// has more than one segment, such as method values, are not indexed.
func (t *Tagger) addName(key string) {
	pkg, segs := splitFuncName(key)
	if len(segs) != 1 {
		return
	}
	t.dataAccessNames[segs[0]] = append(t.dataAccessNames[segs[0]], pkg)
}

// typeKey returns "pkgpath.TypeName" for a value or pointer.
func typeKey(v any) (string, error) {
	rt := reflect.TypeOf(v)
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == nil || rt.Name() == "" {
		return "", fmt.Errorf("tagger: data-access type must be a named type, got %T", v)
	}
	name := rt.Name()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return rt.PkgPath() + "." + name, nil
}

// funcName returns the fully qualified runtime name of a function value.
func funcName(fn any) (string, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return "", fmt.Errorf("tagger: data-access func must be a non-nil function, got %T", fn)
	}
	f := runtime.FuncForPC(rv.Pointer())
	if f == nil {
		return "", fmt.Errorf("tagger: cannot resolve function %T", fn)
	}
	return f.Name(), nil
}
