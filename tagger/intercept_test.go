package tagger

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransactionControl(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{query: "BEGIN", want: true},
		{query: "begin transaction", want: true},
		{query: "COMMIT", want: true},
		{query: "SAVEPOINT s1", want: true},
		{query: "RELEASE SAVEPOINT s1", want: true},
		{query: "release  savepoint s1", want: true},
		{query: "ROLLBACK", want: true},
		{query: "ROLLBACK TO SAVEPOINT s1", want: true},
		{query: "SELECT 1", want: false},
		{query: " BEGIN", want: false},
		{query: "BEGINNING", want: false},
		{query: "COMMITTED_READS", want: false},
		{query: "RELEASE s1", want: false},
		{query: "", want: false},
	}

	for _, tt := range tests {
		t.Run("given "+tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransactionControl(tt.query))
		})
	}
}

type call struct {
	query string
	args  []driver.NamedValue
	batch bool
	ann   Annotation
	ok    bool
}

func recorder(calls *[]call) Next[int] {
	return func(ctx context.Context, query string, args []driver.NamedValue, batch bool) (int, error) {
		a, ok := AnnotationFromContext(ctx)
		*calls = append(*calls, call{query: query, args: args, batch: batch, ann: a, ok: ok})
		return len(*calls), nil
	}
}

func TestIntercept(t *testing.T) {
	ctx := t.Context()
	args := []driver.NamedValue{{Ordinal: 1, Value: int64(7)}}

	t.Run("given control statement, then passes it through byte-identical", func(t *testing.T) {
		tg := newTestTagger(t)
		var calls []call

		for _, q := range []string{"BEGIN", "COMMIT", "SAVEPOINT s_1", "RELEASE SAVEPOINT s_1", "ROLLBACK TO SAVEPOINT s_1"} {
			_, err := Intercept(ctx, tg, q, nil, false, recorder(&calls))
			require.NoError(t, err)
		}

		require.Len(t, calls, 5)
		assert.Equal(t, "BEGIN", calls[0].query)
		assert.Equal(t, "ROLLBACK TO SAVEPOINT s_1", calls[4].query)
		for _, c := range calls {
			assert.False(t, c.ok)
		}
	})

	t.Run("given plain statement, then prefixes the comment and keeps args", func(t *testing.T) {
		tg := newTestTagger(t)
		var calls []call

		line, _ := currentLine(), must(Intercept(ctx, tg, "SELECT $1", args, true, recorder(&calls)))

		require.Len(t, calls, 1)
		comment := "/* tg/intercept_test.go:" + itoa(line) + " */"
		assert.Equal(t, comment+" SELECT $1", calls[0].query)
		assert.Equal(t, args, calls[0].args)
		assert.True(t, calls[0].batch)
		require.True(t, calls[0].ok)
		assert.Equal(t, comment, calls[0].ann.Comment)
		assert.Equal(t, line, calls[0].ann.Origin.Line)
		assert.Equal(t, "tg/intercept_test.go", calls[0].ann.Origin.File)
	})

	t.Run("given nil tagger, then passes through", func(t *testing.T) {
		var calls []call
		_, err := Intercept(ctx, nil, "SELECT 1", nil, false, recorder(&calls))
		require.NoError(t, err)
		assert.Equal(t, "SELECT 1", calls[0].query)
	})
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func TestTagger_Tag(t *testing.T) {
	ctx := t.Context()

	t.Run("given no scope, then tags with the query line", func(t *testing.T) {
		tg := newTestTagger(t)
		line, got := currentLine(), tg.Tag(ctx, "SELECT 1")
		assert.Equal(t, "/* tg/intercept_test.go:"+itoa(line)+" */ SELECT 1", got)
	})

	t.Run("given control statement, then returns it unchanged", func(t *testing.T) {
		tg := newTestTagger(t)
		assert.Equal(t, "COMMIT", tg.Tag(ctx, "COMMIT"))
	})

	t.Run("given nil tagger, then returns query unchanged", func(t *testing.T) {
		var tg *Tagger
		assert.Equal(t, "SELECT 1", tg.Tag(ctx, "SELECT 1"))
		assert.Equal(t, Annotation{Query: "SELECT 1"}, tg.Annotate(ctx, "SELECT 1"))
	})

	t.Run("given two nested scopes with inner tag, then renders both in order", func(t *testing.T) {
		tg := newTestTagger(t)

		var got string
		var innerLine, queryLine int
		inner := func(ctx context.Context) error {
			queryLine, got = currentLine(), tg.Tag(ctx, "SELECT 1")
			return nil
		}
		outer := func(ctx context.Context) error {
			innerLine = currentLine() + 1
			return tg.Scope(nil, WithTag("xxx")).Do(ctx, inner)
		}

		outerLine, err := currentLine(), tg.Scope(nil).Do(ctx, outer)
		require.NoError(t, err)

		want := "/* tg/intercept_test.go:" + itoa(outerLine) +
			" |> T=xxx tg/intercept_test.go:" + itoa(innerLine) +
			" |> tg/intercept_test.go:" + itoa(queryLine) + " */ SELECT 1"
		assert.Equal(t, want, got)
	})

	t.Run("given decorated function, then renders its first line as the scope", func(t *testing.T) {
		tg := newTestTagger(t)

		var got string
		var queryLine int
		defLine := currentLine() + 1
		transfer := tg.Scope(nil).Wrap(func(ctx context.Context) error {
			queryLine, got = currentLine(), tg.Tag(ctx, "UPDATE accounts SET balance = 0")
			return nil
		})

		require.NoError(t, transfer(ctx))
		want := "/* tg/intercept_test.go:" + itoa(defLine) +
			" |> tg/intercept_test.go:" + itoa(queryLine) + " */ UPDATE accounts SET balance = 0"
		assert.Equal(t, want, got)
	})

	t.Run("given ignored helper inside a scope, then keeps the scope and blames the caller", func(t *testing.T) {
		tg := newTestTagger(t)

		var got string
		var callLine int
		body := func(ctx context.Context) error {
			callLine, got = currentLine(), saveUser(ctx, tg)
			return nil
		}
		scopeLine, err := currentLine(), tg.Scope(nil, WithTag("user")).Do(ctx, body)
		require.NoError(t, err)

		want := "/* T=user tg/intercept_test.go:" + itoa(scopeLine) +
			" |> tg/intercept_test.go:" + itoa(callLine) + " */ INSERT INTO audit VALUES (1)"
		assert.Equal(t, want, got)
	})

	t.Run("given scope exited, then later queries carry no scope", func(t *testing.T) {
		tg := newTestTagger(t)
		require.NoError(t, tg.Scope(nil).Do(ctx, func(context.Context) error { return nil }))

		got := tg.Tag(ctx, "SELECT 1")
		assert.False(t, strings.Contains(got, trailSeparator))
	})
}

func TestTagger_Annotate(t *testing.T) {
	tg := newTestTagger(t)
	ctx := t.Context()

	var a Annotation
	body := func(ctx context.Context) error {
		a = tg.Annotate(ctx, "DELETE FROM carts")
		return nil
	}
	line, err := currentLine(), tg.Scope(nil, WithTag("cleanup")).Do(ctx, body)
	require.NoError(t, err)

	require.Len(t, a.Scopes, 1)
	assert.Equal(t, TransactionInfo{File: "tg/intercept_test.go", Line: line, Tag: "cleanup"}, a.Scopes[0])
	assert.True(t, strings.HasSuffix(a.Query, a.Comment+" DELETE FROM carts"))
	assert.True(t, strings.HasPrefix(a.Comment, "/* T=cleanup tg/intercept_test.go:"))
}
