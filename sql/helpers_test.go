package sql

import (
	"database/sql"
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

// matcher records every statement that matched an expectation. Expectations
// match by suffix, so they can be written without the call-site comment.
func (s *sentQueries) matcher() sqlmock.QueryMatcher {
	return sqlmock.QueryMatcherFunc(func(expectedSQL, actualSQL string) error {
		if !strings.HasSuffix(actualSQL, expectedSQL) {
			return fmt.Errorf("query %q does not end with %q", actualSQL, expectedSQL)
		}
		s.mu.Lock()
		s.queries = append(s.queries, actualSQL)
		s.mu.Unlock()
		return nil
	})
}

// newMockDB opens a wrapped database on top of a fresh sqlmock connection.
func newMockDB(t *testing.T, opts ...Option) (*sql.DB, sqlmock.Sqlmock, *sentQueries) {
	t.Helper()

	sent := &sentQueries{}
	dsn := "sqltag_" + uuid.NewString()
	mockDB, mock, err := sqlmock.NewWithDSN(dsn, sqlmock.QueryMatcherOption(sent.matcher()))
	require.NoError(t, err)

	db, err := OpenDB(mockDB.Driver(), dsn, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
		_ = mockDB.Close()
	})
	return db, mock, sent
}

// newTestTagger returns a tagger rooted at the module.
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

// comment renders the call-site comment expected for a line of file.
func comment(file string, line int) string {
	return fmt.Sprintf("/* sql/%s:%d */", file, line)
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
