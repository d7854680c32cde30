// Package sql wraps database/sql drivers so that every statement is
// prefixed with the application line that issued it, and traced and
// metered with OpenTelemetry.
//
// # Quick Start
//
//	import sqltagsql "github.com/kroma-labs/sqltag-go/sql"
//
//	tg, err := tagger.New(tagger.WithCodeRoot("/srv/app"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	db, err := sqltagsql.Open("postgres", dsn,
//	    sqltagsql.WithTagger(tg),
//	    sqltagsql.WithDBSystem("postgresql"),
//	    sqltagsql.WithDBName("myapp"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Sent as "/* cmd/server/main.go:31 */ SELECT * FROM users"
//	rows, err := db.QueryContext(ctx, "SELECT * FROM users")
//
// Only context-aware calls carry scopes and ignore regions; Query without
// a context is still attributed to its call site.
//
// # Driver Registration
//
// For more control, register a wrapped driver:
//
//	driver := sqltagsql.WrapDriver(pq.Driver{},
//	    sqltagsql.WithTagger(tg),
//	)
//	sql.Register("postgres-tagged", driver)
//
//	db, _ := sql.Open("postgres-tagged", dsn)
//
// # Prepared Statements
//
// A prepared statement is tagged once, with the line that prepared it.
// Executions of the statement reuse that comment.
//
// # Observability
//
// Traces:
//   - Span per statement named after its verb
//   - Attributes: db.system, db.name, db.instance, db.statement, db.operation
//   - Call site: code.filepath, code.lineno, db.sqltag.scope_depth
//   - BEGIN, COMMIT and ROLLBACK spans carry db.sqltag.scope
//
// Metrics:
//   - db.client.operation.duration (histogram by operation and status)
//   - db.client.statements.tagged (counter by tagged=true|false)
package sql
