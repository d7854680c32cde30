package tagger_test

import (
	"context"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/sqltag-go/tagger"
)

// ledger stands for a repository type that opens its own scopes, the way a
// model's save method wraps its writes in a transaction.
type ledger struct {
	tg *tagger.Tagger
}

func (l *ledger) record(ctx context.Context) (got string, scopeLine int, err error) {
	scopeLine = currentLine() + 1
	err = l.tg.Scope(nil, tagger.WithTag("ledger")).Do(ctx, func(ctx context.Context) error {
		got = l.tg.Tag(ctx, "INSERT INTO ledger VALUES (1)")
		return nil
	})
	return got, scopeLine, err
}

func currentLine() int {
	_, _, line, _ := runtime.Caller(1)
	return line
}

func newTagger(t *testing.T, opts ...tagger.Option) *tagger.Tagger {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)

	base := []tagger.Option{
		tagger.WithCodeRoot(filepath.Dir(filepath.Dir(file))),
		tagger.WithPathReplacements(tagger.Replacement{Pattern: `^tagger/`, Replacement: "tg/"}),
	}
	tg, err := tagger.New(append(base, opts...)...)
	require.NoError(t, err)
	return tg
}

func at(line int) string {
	return "tg/external_test.go:" + strconv.Itoa(line)
}

func TestScope_FromAnotherPackage(t *testing.T) {
	ctx := t.Context()

	t.Run("given decorated function, then renders its first line as the scope", func(t *testing.T) {
		tg := newTagger(t)

		var got string
		var queryLine int
		defLine := currentLine() + 1
		archive := tg.Scope(nil, tagger.WithTag("archive")).Wrap(func(ctx context.Context) error {
			queryLine, got = currentLine(), tg.Tag(ctx, "DELETE FROM drafts")
			return nil
		})

		require.NoError(t, archive(ctx))
		want := "/* T=archive " + at(defLine) + " |> " + at(queryLine) + " */ DELETE FROM drafts"
		assert.Equal(t, want, got)
	})

	t.Run("given scope opened by a registered data-access method, then keeps the scope", func(t *testing.T) {
		l := &ledger{tg: newTagger(t, tagger.WithDataAccessTypes(ledger{}))}

		callLine := currentLine() + 1
		got, scopeLine, err := l.record(ctx)

		require.NoError(t, err)
		want := "/* T=ledger " + at(scopeLine) + " |> " + at(callLine) + " */ INSERT INTO ledger VALUES (1)"
		assert.Equal(t, want, got)
	})

	t.Run("given unregistered repository method, then blames the query line", func(t *testing.T) {
		l := &ledger{tg: newTagger(t)}

		got, scopeLine, err := l.record(ctx)

		require.NoError(t, err)
		want := "/* T=ledger " + at(scopeLine) + " |> " + at(scopeLine+1) + " */ INSERT INTO ledger VALUES (1)"
		assert.Equal(t, want, got)
	})
}
