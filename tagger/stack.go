package tagger

import (
	"context"
	"errors"
	"io"
	"strconv"
)

// ErrUnbalancedScope is the panic value raised when a scope is exited more
// times than it was entered.
var ErrUnbalancedScope = errors.New("tagger: pop on empty context stack")

// trailSeparator follows every rendered scope entry, including the last.
const trailSeparator = " |> "

// TransactionInfo records where a scope was entered.
type TransactionInfo struct {
	File string
	Line int

	// Tag is an optional user label; empty means untagged.
	Tag string
}

// ContextStack is an immutable stack of active scopes. Push and Pop return
// new stacks and never modify the receiver, so a stack can be handed to
// other goroutines through a context without locking.
//
// The nil *ContextStack is the empty stack.
type ContextStack struct {
	info   TransactionInfo
	parent *ContextStack
	depth  int
}

// Push returns a stack with info on top.
func (s *ContextStack) Push(info TransactionInfo) *ContextStack {
	return &ContextStack{info: info, parent: s, depth: s.Len() + 1}
}

// Pop returns the stack without its top entry. Popping the empty stack means
// a scope was closed twice or leaked, and panics with ErrUnbalancedScope.
func (s *ContextStack) Pop() *ContextStack {
	if s == nil {
		panic(ErrUnbalancedScope)
	}
	return s.parent
}

// Top returns the innermost entry.
func (s *ContextStack) Top() (TransactionInfo, bool) {
	if s == nil {
		return TransactionInfo{}, false
	}
	return s.info, true
}

// Len returns the number of active scopes.
func (s *ContextStack) Len() int {
	if s == nil {
		return 0
	}
	return s.depth
}

// Entries returns the active scopes, outermost first.
func (s *ContextStack) Entries() []TransactionInfo {
	out := make([]TransactionInfo, s.Len())
	for n := s; n != nil; n = n.parent {
		out[n.depth-1] = n.info
	}
	return out
}

// Render writes every entry, outermost first, as "[T=<tag> ]<file>:<line> |> ".
func (s *ContextStack) Render(w io.StringWriter) {
	for _, info := range s.Entries() {
		if info.Tag != "" {
			w.WriteString("T=" + info.Tag + " ")
		}
		w.WriteString(info.File + ":" + strconv.Itoa(info.Line))
		w.WriteString(trailSeparator)
	}
}

type stackKey struct{}

// StackFromContext returns the scopes active in ctx, or nil outside any scope.
func StackFromContext(ctx context.Context) *ContextStack {
	s, _ := ctx.Value(stackKey{}).(*ContextStack)
	return s
}

// ContextWithStack returns a copy of ctx carrying s.
func ContextWithStack(ctx context.Context, s *ContextStack) context.Context {
	return context.WithValue(ctx, stackKey{}, s)
}
