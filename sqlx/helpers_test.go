package sqlx

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/sqltag-go/tagger"
)

// sentQueries records the statements that reached the mock connection.
type sentQueries struct {
	mu      sync.Mutex
	queries []string
}

func (s *sentQueries) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func (s *sentQueries) last() string {
	all := s.all()
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}

// matcher records every statement that matched an expectation. A statement
// matches when it contains the expected text, so expectations need neither
// the call-site comment nor the generated savepoint name.
func (s *sentQueries) matcher() sqlmock.QueryMatcher {
	return sqlmock.QueryMatcherFunc(func(expectedSQL, actualSQL string) error {
		if !strings.Contains(actualSQL, expectedSQL) {
			return fmt.Errorf("query %q does not contain %q", actualSQL, expectedSQL)
		}
		s.mu.Lock()
		s.queries = append(s.queries, actualSQL)
		s.mu.Unlock()
		return nil
	})
}

// newMockDB opens a DB on top of a fresh sqlmock connection, with call-site
// tagging rooted at the module.
func newMockDB(t *testing.T, opts ...Option) (*DB, sqlmock.Sqlmock, *sentQueries) {
	t.Helper()

	sent := &sentQueries{}
	dsn := "sqltagx_" + uuid.NewString()
	mockDB, mock, err := sqlmock.NewWithDSN(dsn, sqlmock.QueryMatcherOption(sent.matcher()))
	require.NoError(t, err)

	opts = append([]Option{WithTagger(newTestTagger(t))}, opts...)
	db, err := OpenDB(mockDB.Driver(), "postgres", dsn, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
		_ = mockDB.Close()
	})
	return db, mock, sent
}

func newTestTagger(t *testing.T) *tagger.Tagger {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)

	tg, err := tagger.New(tagger.WithCodeRoot(filepath.Dir(filepath.Dir(file))))
	require.NoError(t, err)
	return tg
}

// currentLine returns the line it is called from.
func currentLine() int {
	_, _, line, _ := runtime.Caller(1)
	return line
}

// site renders a location of file in this package.
func site(file string, line int) string {
	return fmt.Sprintf("sqlx/%s:%d", file, line)
}
