// Package reader provides item readers over external resources.
package reader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// SqlCursorReader reads rows of a query one at a time through a database cursor.
//
// It is restartable: Update stores the number of rows consumed under "<name>.read.count",
// and Open skips that many rows of the (deterministically ordered) query.
type SqlCursorReader[T any] struct {
	db     *sql.DB                    // db is the database connection.
	name   string                     // name is the unique name of the reader, used for storing state in the ExecutionContext.
	query  string                     // query must return rows in a stable order for restarts to be correct.
	args   []any                      // args are the arguments for the query.
	mapper func(*sql.Rows) (T, error) // mapper maps the current row to a value of type T.

	mu        sync.Mutex
	rows      *sql.Rows
	readCount int
	exhausted bool
}

// NewSqlCursorReader creates a new SqlCursorReader.
func NewSqlCursorReader[T any](db *sql.DB, name string, query string, args []any, mapper func(*sql.Rows) (T, error)) *SqlCursorReader[T] {
	return &SqlCursorReader[T]{
		db:     db,
		name:   name,
		query:  query,
		args:   args,
		mapper: mapper,
	}
}

func (r *SqlCursorReader[T]) readCountKey() string {
	return r.name + ".read.count"
}

// Open executes the query and skips the rows consumed by a previous run.
func (r *SqlCursorReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	startOffset, _ := ec.GetInt(r.readCountKey())

	rows, err := r.db.QueryContext(ctx, r.query, r.args...)
	if err != nil {
		return exception.NewBatchError("reader", fmt.Sprintf("failed to execute query for SqlCursorReader '%s'", r.name), err, false, false)
	}
	r.rows = rows
	r.readCount = 0
	r.exhausted = false

	for r.readCount < startOffset {
		if !rows.Next() {
			r.exhausted = true
			break
		}
		r.readCount++
	}
	if startOffset > 0 {
		logger.Infof("SqlCursorReader '%s': resuming after %d rows.", r.name, r.readCount)
	} else {
		logger.Infof("SqlCursorReader '%s': starting new read.", r.name)
	}
	return nil
}

// Read maps the next row. It returns port.ErrNoMoreItems after the last row.
func (r *SqlCursorReader[T]) Read(ctx context.Context) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var item T
	if r.rows == nil {
		return item, exception.NewBatchError("reader", fmt.Sprintf("SqlCursorReader '%s': reader not opened or already closed", r.name), errors.New("reader not initialized"), false, false)
	}
	if r.exhausted {
		return item, port.ErrNoMoreItems
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return item, exception.NewBatchError("reader", fmt.Sprintf("error during row iteration for SqlCursorReader '%s'", r.name), err, false, false)
		}
		r.exhausted = true
		return item, port.ErrNoMoreItems
	}

	mapped, err := r.mapper(r.rows)
	if err != nil {
		return item, exception.NewBatchError("reader", fmt.Sprintf("failed to map row for SqlCursorReader '%s'", r.name), err, false, false)
	}
	r.readCount++
	return mapped, nil
}

// Update stores the number of rows read so far.
func (r *SqlCursorReader[T]) Update(ctx context.Context, ec model.ExecutionContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ec.Put(r.readCountKey(), r.readCount)
	return nil
}

// Close closes the cursor.
func (r *SqlCursorReader[T]) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows != nil {
		err := r.rows.Close()
		r.rows = nil
		if err != nil {
			return exception.NewBatchError("reader", fmt.Sprintf("failed to close rows for SqlCursorReader '%s'", r.name), err, false, false)
		}
	}
	logger.Infof("SqlCursorReader '%s': resources closed.", r.name)
	return nil
}

var (
	_ port.ItemReader[any] = (*SqlCursorReader[any])(nil)
	_ port.ItemStream      = (*SqlCursorReader[any])(nil)
)
