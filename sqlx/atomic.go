package sqlx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kroma-labs/sqltag-go/tagger"
)

var (
	// ErrNestedDurable is returned when a durable scope is entered inside
	// another atomic scope of the same database.
	ErrNestedDurable = errors.New("sqlx: durable atomic scope cannot be nested")

	// ErrMarkedForRollback is returned by the outermost scope when a nested
	// scope without a savepoint failed and the transaction was rolled back.
	ErrMarkedForRollback = errors.New("sqlx: transaction marked for rollback by a nested scope")

	// ErrUsingMismatch is returned when tagger.Using names another instance.
	ErrUsingMismatch = errors.New("sqlx: atomic scope alias does not match database instance")
)

// Atomic returns a scope that runs its body in a transaction. The outermost
// entry begins the transaction and commits it when the body succeeds. Nested
// entries create a savepoint, unless tagger.WithSavepoint(false) is given, in
// which case a failure marks the whole transaction for rollback.
//
// Queries issued through db with the scope's context run in the transaction
// and carry the scope in their call-site comment.
//
//	err := db.Atomic(tagger.WithTag("checkout")).Do(ctx, func(ctx context.Context) error {
//	    if _, err := db.ExecContext(ctx, "UPDATE stock SET n = n - 1 WHERE id = $1", id); err != nil {
//	        return err
//	    }
//	    return db.Atomic().Do(ctx, chargeCard) // SAVEPOINT
//	})
func (db *DB) Atomic(opts ...tagger.ScopeOption) *tagger.Scope {
	return db.cfg.Tagger.Scope(atomicBlock{db: db}, opts...)
}

// atomicBlock implements tagger.Primitive on top of a DB.
type atomicBlock struct {
	db *DB
}

// txKey scopes context values to the config shared by a DB and its Unsafe copies.
type txKey struct {
	cfg *config
}

// txState is shared by every entry of one transaction.
type txState struct {
	start        time.Time
	rollbackOnly atomic.Bool
}

// atomicEntry is one Begin of an atomic scope.
type atomicEntry struct {
	tx        *Tx
	state     *txState
	outermost bool

	// savepoint is empty when the entry did not create one.
	savepoint string
}

func entryFromContext(ctx context.Context, cfg *config) (*atomicEntry, bool) {
	e, ok := ctx.Value(txKey{cfg: cfg}).(*atomicEntry)
	return e, ok
}

// Begin implements tagger.Primitive.
func (a atomicBlock) Begin(ctx context.Context, p tagger.Params) (context.Context, error) {
	cfg := a.db.cfg
	if p.Using != "" && p.Using != cfg.InstanceName {
		return ctx, fmt.Errorf("%w: %q", ErrUsingMismatch, p.Using)
	}

	parent, nested := entryFromContext(ctx, cfg)
	if !nested {
		started := time.Now()
		tx, err := a.db.BeginTxx(ctx, cfg.TxOptions)
		if err != nil {
			return ctx, err
		}
		e := &atomicEntry{tx: tx, state: &txState{start: started}, outermost: true}
		return context.WithValue(ctx, txKey{cfg: cfg}, e), nil
	}

	if p.Durable {
		return ctx, ErrNestedDurable
	}

	e := &atomicEntry{tx: parent.tx, state: parent.state}
	if p.Savepoint {
		e.savepoint = savepointName()
		if _, err := e.tx.ExecContext(ctx, "SAVEPOINT "+e.savepoint); err != nil {
			return ctx, err
		}
	}
	return context.WithValue(ctx, txKey{cfg: cfg}, e), nil
}

// End implements tagger.Primitive.
func (a atomicBlock) End(ctx context.Context, cause error) error {
	e, ok := entryFromContext(ctx, a.db.cfg)
	if !ok {
		return cause
	}

	switch {
	case e.savepoint != "":
		return a.endSavepoint(ctx, e, cause)
	case !e.outermost:
		if cause != nil {
			e.state.rollbackOnly.Store(true)
		}
		return cause
	default:
		return a.endTransaction(ctx, e, cause)
	}
}

func (a atomicBlock) endSavepoint(ctx context.Context, e *atomicEntry, cause error) error {
	if cause != nil {
		if _, err := e.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+e.savepoint); err != nil {
			return errors.Join(cause, err)
		}
		return cause
	}
	_, err := e.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+e.savepoint)
	return err
}

func (a atomicBlock) endTransaction(ctx context.Context, e *atomicEntry, cause error) error {
	cfg := a.db.cfg
	if cause == nil && e.state.rollbackOnly.Load() {
		cause = ErrMarkedForRollback
	}

	if cause != nil {
		err := e.tx.Rollback()
		cfg.Metrics.recordTransaction(ctx, time.Since(e.state.start), outcomeRollback, cfg.baseAttributes(), err)
		if err != nil {
			return errors.Join(cause, err)
		}
		return cause
	}

	err := e.tx.Commit()
	cfg.Metrics.recordTransaction(ctx, time.Since(e.state.start), outcomeCommit, cfg.baseAttributes(), err)
	return err
}

// savepointName returns a unique identifier usable without quoting.
func savepointName() string {
	return "s_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
