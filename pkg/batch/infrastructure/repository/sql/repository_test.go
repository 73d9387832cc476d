package sql_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/config"
	gormadaptor "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm"
	_ "github.com/tigerroll/chunkflow/pkg/batch/adaptor/database/gorm/sqlite"
	"github.com/tigerroll/chunkflow/pkg/batch/component/item"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkflow/pkg/batch/core/task"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/tasklet"
	sqlrepo "github.com/tigerroll/chunkflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkflow/pkg/batch/test"
)

func openConn(t *testing.T, migrate bool) *gormadaptor.GormDBAdapter {
	t.Helper()
	conn, err := gormadaptor.OpenDB("metadata", dbconfig.DatabaseConfig{Type: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	if migrate {
		require.NoError(t, sqlrepo.Migrate(conn))
	}
	return conn
}

func contribution(se *model.StepExecution, reads, writes int) *model.StepContribution {
	c := model.NewStepContribution(se)
	for i := 0; i < reads; i++ {
		c.IncrementReadCount()
	}
	c.IncrementWriteCount(writes)
	return c
}

func TestGormJobRepository_RecordsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := sqlrepo.NewGormJobRepository(openConn(t, true))

	je := test.NewTestJobExecution("roundTripJob")
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	assert.Error(t, repo.SaveJobExecution(ctx, je), "duplicate IDs are rejected")

	se, err := repo.CreateStepExecution(ctx, je, "firstStep")
	require.NoError(t, err)
	assert.Error(t, repo.SaveStepExecution(ctx, se))

	se.MarkAsStarted()
	se.Apply(contribution(se, 3, 3))
	se.ExecutionContext.Put("reader.read.count", 3)
	require.NoError(t, repo.UpdateStepExecution(ctx, se))
	require.NoError(t, repo.UpdateExecutionContext(ctx, se))

	stored, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarted, stored.Status)
	assert.Equal(t, 3, stored.ReadCount)
	assert.Equal(t, 1, stored.CommitCount)
	assert.Equal(t, je.ID, stored.JobExecutionID)
	count, ok := stored.ExecutionContext.GetInt("reader.read.count")
	require.True(t, ok)
	assert.Equal(t, 3, count)

	je.MarkAsStarted()
	require.NoError(t, repo.UpdateJobExecution(ctx, je))
	loaded, err := repo.FindJobExecutionByID(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusStarted, loaded.Status)
	require.Len(t, loaded.StepExecutions, 1)
	assert.Equal(t, "firstStep", loaded.StepExecutions[0].StepName)
	assert.Same(t, loaded, loaded.StepExecutions[0].JobExecution)

	data, err := repo.FindCheckpointData(ctx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, se.ID, data.StepExecutionID)
}

func TestGormJobRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := sqlrepo.NewGormJobRepository(openConn(t, true))

	_, err := repo.FindJobExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrJobExecutionNotFound)
	_, err = repo.FindStepExecutionByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)
	_, err = repo.FindCheckpointData(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)
	assert.ErrorIs(t, repo.UpdateJobExecution(ctx, test.NewTestJobExecution("ghost")), repository.ErrJobExecutionNotFound)

	steps, err := repo.FindStepExecutionsByJobExecutionID(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestGormJobRepository_MissingSchema(t *testing.T) {
	ctx := context.Background()
	repo := sqlrepo.NewGormJobRepository(openConn(t, false))

	err := repo.SaveJobExecution(ctx, test.NewTestJobExecution("noSchema"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run the migrations")

	_, err = repo.FindStepExecutionByID(ctx, "any")
	assert.ErrorIs(t, err, repository.ErrStepExecutionNotFound)
}

func TestGormJobRepository_JoinsChunkTransaction(t *testing.T) {
	ctx := context.Background()
	conn := openConn(t, true)
	repo := sqlrepo.NewGormJobRepository(conn)
	tm := gormadaptor.NewGormTransactionManager(conn)

	je := test.NewTestJobExecution("txJob")
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se, err := repo.CreateStepExecution(ctx, je, "txStep")
	require.NoError(t, err)

	current, err := tm.Begin(ctx)
	require.NoError(t, err)
	txCtx := tx.WithTx(ctx, current)
	se.Apply(contribution(se, 2, 2))
	require.NoError(t, repo.UpdateStepExecution(txCtx, se))

	inTx, err := repo.FindStepExecutionByID(txCtx, se.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, inTx.CommitCount, "reads inside the transaction see its writes")

	require.NoError(t, tm.Rollback(current))
	stored, err := repo.FindStepExecutionByID(ctx, se.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.CommitCount)
}

func TestGormJobRepository_DefersUnderForeignTransaction(t *testing.T) {
	ctx := context.Background()
	repo := sqlrepo.NewGormJobRepository(openConn(t, true))
	tm := tx.NewResourcelessTransactionManager()

	je := test.NewTestJobExecution("deferredJob")
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se, err := repo.CreateStepExecution(ctx, je, "deferredStep")
	require.NoError(t, err)

	current, err := tm.Begin(ctx)
	require.NoError(t, err)
	se.ExecutionContext.Put("offset", 7)
	require.NoError(t, repo.UpdateExecutionContext(tx.WithTx(ctx, current), se))

	_, err = repo.FindCheckpointData(ctx, se.ID)
	assert.ErrorIs(t, err, repository.ErrCheckpointDataNotFound)

	require.NoError(t, tm.Commit(current))
	data, err := repo.FindCheckpointData(ctx, se.ID)
	require.NoError(t, err)
	offset, _ := data.ExecutionContext.GetInt("offset")
	assert.Equal(t, 7, offset)
}

func TestGormJobRepository_ChunkedStep(t *testing.T) {
	cases := []struct {
		name       string
		concurrent bool
	}{
		{name: "sync"},
		{name: "concurrent", concurrent: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			conn := openConn(t, true)
			repo := sqlrepo.NewGormJobRepository(conn)

			items := make([]int, 25)
			for i := range items {
				items[i] = i + 1
			}
			je := test.NewTestJobExecution("numbersJob")
			require.NoError(t, repo.SaveJobExecution(ctx, je))
			se, err := repo.CreateStepExecution(ctx, je, "numbersStep")
			require.NoError(t, err)

			writer := item.NewListItemWriter[int]()
			b := tasklet.NewStepBuilder[int]("numbersStep").
				Reader(item.NewListItemReader("numbers", items)).
				Writer(writer).
				ChunkSize(2).
				Repository(repo).
				TransactionManager(gormadaptor.NewGormTransactionManager(conn))
			if tc.concurrent {
				b.TaskExecutor(task.NewBoundedWorkerPool(4), 4)
			}
			step, err := b.Build()
			require.NoError(t, err)
			require.NoError(t, step.Execute(ctx, se))

			stored, err := repo.FindStepExecutionByID(ctx, se.ID)
			require.NoError(t, err)
			assert.Equal(t, model.BatchStatusCompleted, stored.Status)
			assert.Equal(t, 25, stored.ReadCount)
			assert.Equal(t, 25, stored.WriteCount)
			assert.Equal(t, 13, stored.CommitCount)
			assert.Zero(t, stored.RollbackCount)
			readCount, ok := stored.ExecutionContext.GetInt("numbers.read.count")
			require.True(t, ok)
			assert.Equal(t, 25, readCount)
			assert.ElementsMatch(t, items, writer.Items())
		})
	}
}
