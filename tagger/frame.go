package tagger

import (
	"path"
	"reflect"
	"runtime"
	"strconv"
	"strings"
)

// initialStackDepth sizes the first capture buffer. Deeper stacks are
// recaptured with a larger one.
const initialStackDepth = 64

// Frame is a read-only view of one call-stack frame.
type Frame struct {
	// File is the absolute source file path as reported by the runtime.
	File string

	// Line is the 1-based line being executed in File.
	Line int

	// Function is the fully qualified function name,
	// e.g. "github.com/acme/app/store.(*Users).Find.func1".
	Function string
}

// IsZero reports whether f carries no location.
func (f Frame) IsZero() bool {
	return f.File == "" && f.Line == 0
}

// captureStack returns the caller's stack, innermost first. skip=0 starts
// at the function calling captureStack.
func captureStack(skip int) []Frame {
	pcs := make([]uintptr, initialStackDepth)
	n := runtime.Callers(skip+2, pcs)
	for n == len(pcs) {
		pcs = make([]uintptr, 2*len(pcs))
		n = runtime.Callers(skip+2, pcs)
	}
	if n == 0 {
		return nil
	}

	frames := make([]Frame, 0, n)
	iter := runtime.CallersFrames(pcs[:n])
	for {
		f, more := iter.Next()
		frames = append(frames, Frame{File: f.File, Line: f.Line, Function: f.Function})
		if !more {
			break
		}
	}
	return frames
}

// funcFrame returns the definition site of a function value: its file and
// the line of its first instruction.
func funcFrame(fn any) (Frame, bool) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return Frame{}, false
	}
	f := runtime.FuncForPC(rv.Pointer())
	if f == nil {
		return Frame{}, false
	}
	file, line := f.FileLine(f.Entry())
	return Frame{File: file, Line: line, Function: f.Name()}, true
}

// splitFuncName splits a runtime function name into its package path and
// the dot-separated segments of the symbol. Dots inside parentheses or
// brackets do not split.
//
//	"example.com/app/store.(*Cache[...]).Get.func1" -> "example.com/app/store", ["(*Cache[...])", "Get", "func1"]
func splitFuncName(function string) (string, []string) {
	slash := strings.LastIndexByte(function, '/')
	dot := strings.IndexByte(function[slash+1:], '.')
	if dot < 0 {
		return "", nil
	}
	pkg := function[:slash+1+dot]
	rest := function[slash+1+dot+1:]

	var segs []string
	depth, from := 0, 0
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case '.':
			if depth == 0 {
				segs = append(segs, rest[from:i])
				from = i + 1
			}
		}
	}
	return pkg, append(segs, rest[from:])
}

// receiverName returns the type named by a symbol segment that is followed
// by a method or closure segment.
func receiverName(seg string) (string, bool) {
	if strings.HasPrefix(seg, "(*") && strings.HasSuffix(seg, ")") {
		seg = seg[2 : len(seg)-1]
	} else if isClosureName(seg) {
		return "", false
	}
	if i := strings.IndexByte(seg, '['); i >= 0 {
		seg = seg[:i]
	}
	return seg, seg != ""
}

// receiverKey extracts "pkgpath.TypeName" from a method's runtime name.
// It returns "" for plain functions. Closures of a plain function yield the
// function's name, which never collides with a registered type.
//
//	"example.com/app/store.(*Users).Find"       -> "example.com/app/store.Users"
//	"example.com/app/store.Users.Count.func1"   -> "example.com/app/store.Users"
//	"example.com/app/store.(*Cache[...]).Get"   -> "example.com/app/store.Cache"
//	"example.com/app/store.Open"                -> ""
//	"example.com/app/store.Open.func1"          -> "example.com/app/store.Open"
func receiverKey(function string) string {
	pkg, segs := splitFuncName(function)
	if len(segs) < 2 {
		return ""
	}
	name, ok := receiverName(segs[0])
	if !ok {
		return ""
	}
	return pkg + "." + name
}

// inlinedNames returns the segments after the first one that may name a
// method receiver or an enclosing function. The compiler names a closure
// of an inlined function after the function it was inlined into, so
//
//	"example.com/app.(*Service).Handle.(*DB).GetContext.func4"
//
// is a closure of (*DB).GetContext and yields "Handle", "DB" and
// "GetContext". The package of those names is lost.
func inlinedNames(segs []string) []string {
	var out []string
	for i := 1; i+1 < len(segs); i++ {
		if name, ok := receiverName(segs[i]); ok {
			out = append(out, name)
		}
	}
	return out
}

// isClosureName reports names like "func1" generated for anonymous
// functions, and the "1" of nested ones like "func1.1".
func isClosureName(s string) bool {
	s = strings.TrimPrefix(s, "func")
	if s == "" {
		return false
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

// inPackageDir reports whether file plausibly belongs to pkgPath, judged by
// the directory it sits in. It stands in for the package qualifier that
// inlined closure names lack.
func inPackageDir(pkgPath, file string) bool {
	if pkgPath == "main" {
		return true
	}
	dir := path.Base(path.Dir(file))
	if i := strings.IndexByte(dir, '@'); i >= 0 {
		dir = dir[:i]
	}
	pkgPath = strings.TrimSuffix(pkgPath, "_test")
	return pkgPath == dir || strings.HasSuffix(pkgPath, "/"+dir)
}

// isDataAccess reports whether f runs on behalf of a registered data-access
// type or function.
func (t *Tagger) isDataAccess(f Frame) bool {
	if key := receiverKey(f.Function); key != "" {
		if _, ok := t.dataAccessTypes[key]; ok {
			return true
		}
	}
	if _, ok := t.dataAccessFuncs[f.Function]; ok {
		return true
	}
	for name := range t.dataAccessFuncs {
		// Closures declared inside a registered function.
		if strings.HasPrefix(f.Function, name+".func") {
			return true
		}
	}

	_, segs := splitFuncName(f.Function)
	for _, name := range inlinedNames(segs) {
		for _, pkg := range t.dataAccessNames[name] {
			if inPackageDir(pkg, f.File) {
				return true
			}
		}
	}
	return false
}

// interesting reports whether f is application code that may be blamed for a query.
func (t *Tagger) interesting(f Frame) bool {
	return t.paths.IsCodeOurs(f.File) && !t.isDataAccess(f)
}

// Attribute returns the frame responsible for a query. It starts at
// frames[0] and walks toward callers while the current frame is outside
// the code root or belongs to a data-access type, stopping at the outermost
// frame when nothing better is found.
func (t *Tagger) Attribute(frames []Frame) Frame {
	if len(frames) == 0 {
		return Frame{}
	}

	i := 0
	for i+1 < len(frames) && !t.interesting(frames[i]) {
		i++
	}
	return frames[i]
}
