package sqlx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	ID   int    `db:"id"`
	Name string `db:"name"`
}

func TestOpen(t *testing.T) {
	t.Run("given unknown driver, then returns error", func(t *testing.T) {
		db, err := Open("nonexistent_driver", "some_dsn")
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("given unknown driver, then Connect returns error", func(t *testing.T) {
		db, err := Connect(t.Context(), "nonexistent_driver", "some_dsn")
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("given unknown driver, then MustOpen panics", func(t *testing.T) {
		assert.Panics(t, func() {
			MustOpen("nonexistent_driver", "some_dsn")
		})
	})
}

func TestNewDB(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want *config
	}{
		{
			name: "given options, then applies all",
			opts: []Option{
				WithDBSystem("postgresql"),
				WithDBName("testdb"),
				WithInstanceName("primary"),
			},
			want: &config{DBSystem: "postgresql", DBName: "testdb", InstanceName: "primary"},
		},
		{
			name: "given no options, then leaves tagging disabled",
			opts: nil,
			want: &config{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDB, _, err := sqlmock.New()
			require.NoError(t, err)
			defer mockDB.Close()

			db := NewDB(mockDB, "postgres", tt.opts...)

			require.NotNil(t, db)
			assert.Equal(t, tt.want.DBSystem, db.cfg.DBSystem)
			assert.Equal(t, tt.want.DBName, db.cfg.DBName)
			assert.Equal(t, tt.want.InstanceName, db.cfg.InstanceName)
			assert.Nil(t, db.cfg.Tagger)
			assert.Equal(t, "postgres", db.DriverName())
		})
	}
}

func TestDB_GetContext(t *testing.T) {
	ctx := t.Context()

	t.Run("given row, then scans it and tags the caller line", func(t *testing.T) {
		db, mock, sent := newMockDB(t)
		mock.ExpectQuery("SELECT id, name FROM users WHERE id = $1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "ann"))

		var got user
		line := currentLine() + 1
		err := db.GetContext(ctx, &got, "SELECT id, name FROM users WHERE id = $1", 1)

		require.NoError(t, err)
		assert.Equal(t, user{ID: 1, Name: "ann"}, got)
		assert.Equal(t, "/* "+site("db_test.go", line)+" */ SELECT id, name FROM users WHERE id = $1", sent.last())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("given no rows, then returns sql.ErrNoRows", func(t *testing.T) {
		db, mock, _ := newMockDB(t)
		mock.ExpectQuery("SELECT id, name FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

		var got user
		err := db.GetContext(ctx, &got, "SELECT id, name FROM users")

		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestDB_SelectContext(t *testing.T) {
	db, mock, sent := newMockDB(t)
	mock.ExpectQuery("SELECT id, name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "ann").AddRow(2, "bea"))

	var got []user
	line := currentLine() + 1
	err := db.SelectContext(t.Context(), &got, "SELECT id, name FROM users")

	require.NoError(t, err)
	assert.Equal(t, []user{{ID: 1, Name: "ann"}, {ID: 2, Name: "bea"}}, got)
	assert.Equal(t, "/* "+site("db_test.go", line)+" */ SELECT id, name FROM users", sent.last())
}

func TestDB_NamedExecContext(t *testing.T) {
	db, mock, sent := newMockDB(t)
	mock.ExpectExec("INSERT INTO users (name) VALUES ($1)").
		WithArgs("ann").
		WillReturnResult(sqlmock.NewResult(1, 1))

	line := currentLine() + 1
	res, err := db.NamedExecContext(t.Context(), "INSERT INTO users (name) VALUES (:name)", user{Name: "ann"})

	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "/* "+site("db_test.go", line)+" */ INSERT INTO users (name) VALUES ($1)", sent.last())
}

func TestDB_QueryxContext(t *testing.T) {
	db, mock, _ := newMockDB(t)
	mock.ExpectQuery("SELECT id, name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(7, "cid"))

	rows, err := db.QueryxContext(t.Context(), "SELECT id, name FROM users")
	require.NoError(t, err)
	defer rows.Close()

	var got []user
	for rows.Next() {
		var u user
		require.NoError(t, rows.StructScan(&u))
		got = append(got, u)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []user{{ID: 7, Name: "cid"}}, got)
}

func TestDB_QueryRowxContext(t *testing.T) {
	db, mock, sent := newMockDB(t)
	mock.ExpectQuery("SELECT name FROM users WHERE id = $1").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("dee"))

	var name string
	line := currentLine() + 1
	err := db.QueryRowxContext(t.Context(), "SELECT name FROM users WHERE id = $1", 3).Scan(&name)

	require.NoError(t, err)
	assert.Equal(t, "dee", name)
	assert.Equal(t, "/* "+site("db_test.go", line)+" */ SELECT name FROM users WHERE id = $1", sent.last())
}

func TestDB_BeginTxx(t *testing.T) {
	ctx := t.Context()

	t.Run("given manual transaction, then statements inside are tagged", func(t *testing.T) {
		db, mock, sent := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM carts").WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		tx, err := db.BeginTxx(ctx, nil)
		require.NoError(t, err)
		line := currentLine() + 1
		_, err = tx.ExecContext(ctx, "DELETE FROM carts")
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.Equal(t, []string{"/* " + site("db_test.go", line) + " */ DELETE FROM carts"}, sent.all())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("given begin error, then returns it", func(t *testing.T) {
		db, mock, _ := newMockDB(t)
		mock.ExpectBegin().WillReturnError(assert.AnError)

		_, err := db.BeginTxx(ctx, nil)
		assert.ErrorIs(t, err, assert.AnError)

		assert.Panics(t, func() {
			mock.ExpectBegin().WillReturnError(assert.AnError)
			db.MustBegin()
		})
	})
}

func TestDB_Unsafe(t *testing.T) {
	db, _, _ := newMockDB(t)

	unsafe := db.Unsafe()

	require.NotNil(t, unsafe)
	assert.Same(t, db.cfg, unsafe.cfg)
}

func TestDB_Rebind(t *testing.T) {
	db, _, _ := newMockDB(t)
	assert.Equal(t, "SELECT * FROM users WHERE id = $1 AND name = $2",
		db.Rebind("SELECT * FROM users WHERE id = ? AND name = ?"))
}

func TestTx_GetContext(t *testing.T) {
	ctx := context.Background()
	db, mock, sent := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name FROM users WHERE id = $1").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(5, "eve"))
	mock.ExpectRollback()

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)

	var got user
	line := currentLine() + 1
	require.NoError(t, tx.GetContext(ctx, &got, "SELECT id, name FROM users WHERE id = $1", 5))
	require.NoError(t, tx.Rollback())

	assert.Equal(t, user{ID: 5, Name: "eve"}, got)
	assert.Equal(t, "/* "+site("db_test.go", line)+" */ SELECT id, name FROM users WHERE id = $1", sent.last())
	require.NoError(t, mock.ExpectationsWereMet())
}
