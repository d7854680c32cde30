package tagger

import "context"

type ignoreKey struct{}

// ignoreRegion pins the start of the attribution walk.
type ignoreRegion struct {
	frames []Frame
}

// IgnoreBelow marks the calling helper and everything it calls as
// uninteresting. Queries issued with the returned context are attributed
// starting from the helper's caller. Call it first thing in the helper:
//
//	func (s *UserStore) Save(ctx context.Context, u *User) error {
//	    ctx = tagger.IgnoreBelow(ctx)
//	    // ... several layers of helpers issuing queries ...
//	}
//
// Only the outermost marked helper counts: when ctx already carries a
// marker it is returned unchanged.
func IgnoreBelow(ctx context.Context) context.Context {
	if ctx.Value(ignoreKey{}) != nil {
		return ctx
	}
	// 0: IgnoreBelow, 1: the helper, 2: its caller.
	return context.WithValue(ctx, ignoreKey{}, &ignoreRegion{frames: captureStack(2)})
}

// IgnoreBelowFunc wraps fn so that queries it issues, directly or through
// any depth of calls, are attributed to the line calling the wrapper.
//
//	save := tagger.IgnoreBelowFunc(func(ctx context.Context) error {
//	    return store.saveWithAudit(ctx, user)
//	})
//	err := save(ctx) // queries inside are tagged with this line
func IgnoreBelowFunc(fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if ctx.Value(ignoreKey{}) == nil {
			ctx = context.WithValue(ctx, ignoreKey{}, &ignoreRegion{frames: captureStack(1)})
		}
		return fn(ctx)
	}
}

// ignoredFrames returns the pinned stack of ctx, if any.
func ignoredFrames(ctx context.Context) []Frame {
	r, _ := ctx.Value(ignoreKey{}).(*ignoreRegion)
	if r == nil {
		return nil
	}
	return r.frames
}
