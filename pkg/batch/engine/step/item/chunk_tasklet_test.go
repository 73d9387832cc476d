package item_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/repeat"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

type sliceReader struct {
	mu    sync.Mutex
	items []int
	pos   int
	reads int
	err   error
	errAt int
}

func (r *sliceReader) Read(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.err != nil && r.pos == r.errAt {
		return 0, r.err
	}
	if r.pos >= len(r.items) {
		return 0, port.ErrNoMoreItems
	}
	v := r.items[r.pos]
	r.pos++
	return v, nil
}

type recordingWriter struct {
	mu     sync.Mutex
	chunks [][]int
	txs    []tx.Tx
	err    error
}

func (w *recordingWriter) Write(ctx context.Context, t tx.Tx, items []int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.chunks = append(w.chunks, append([]int(nil), items...))
	w.txs = append(w.txs, t)
	return nil
}

func itemsUpTo(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i + 1
	}
	return items
}

func newTasklet(t *testing.T, r port.ItemReader[int], w port.ItemWriter[int], size int, opts ...item.Option) *item.ChunkOrientedTasklet[int] {
	t.Helper()
	policy, err := repeat.NewCountCompletionPolicy(size)
	require.NoError(t, err)
	tasklet, err := item.NewChunkOrientedTasklet[int]("numbers", r, w, policy, opts...)
	require.NoError(t, err)
	return tasklet
}

// runAll calls Execute until the tasklet reports FINISHED and returns the number of calls.
func runAll(t *testing.T, tasklet port.Tasklet, se *model.StepExecution) int {
	t.Helper()
	calls := 0
	for {
		calls++
		c := model.NewStepContribution(se)
		status, err := tasklet.Execute(context.Background(), c)
		require.NoError(t, err)
		se.Apply(c)
		if !status.IsContinuable() {
			return calls
		}
	}
}

func TestNewChunkOrientedTasklet_RequiresCollaborators(t *testing.T) {
	policy, _ := repeat.NewCountCompletionPolicy(2)
	var cfgErr *exception.ConfigurationError

	_, err := item.NewChunkOrientedTasklet[int]("s", nil, &recordingWriter{}, policy)
	assert.ErrorAs(t, err, &cfgErr)
	_, err = item.NewChunkOrientedTasklet[int]("s", &sliceReader{}, nil, policy)
	assert.ErrorAs(t, err, &cfgErr)
	_, err = item.NewChunkOrientedTasklet[int]("s", &sliceReader{}, &recordingWriter{}, nil)
	assert.ErrorAs(t, err, &cfgErr)
}

func TestChunkOrientedTasklet_TwentyFiveItemsInChunksOfTwo(t *testing.T) {
	reader := &sliceReader{items: itemsUpTo(25)}
	writer := &recordingWriter{}
	tasklet := newTasklet(t, reader, writer, 2)
	se := model.NewStepExecution("se-1", nil, "numbers")

	calls := runAll(t, tasklet, se)

	assert.Equal(t, 13, calls)
	require.Len(t, writer.chunks, 13)
	for i := 0; i < 12; i++ {
		assert.Len(t, writer.chunks[i], 2)
	}
	assert.Equal(t, []int{25}, writer.chunks[12])

	counters := se.Counters()
	assert.Equal(t, 25, counters.ReadCount)
	assert.Equal(t, 25, counters.WriteCount)
}

func TestChunkOrientedTasklet_EmptyChunkWriteRule(t *testing.T) {
	cases := []struct {
		name         string
		n            int
		writeEmpty   bool
		wantWrites   int
		wantLastSize int
	}{
		{name: "exact multiple, suppressed", n: 4, writeEmpty: false, wantWrites: 2, wantLastSize: 2},
		{name: "exact multiple, written", n: 4, writeEmpty: true, wantWrites: 3, wantLastSize: 0},
		{name: "remainder, written", n: 5, writeEmpty: true, wantWrites: 3, wantLastSize: 1},
		{name: "empty source, suppressed", n: 0, writeEmpty: false, wantWrites: 0},
		{name: "empty source, written", n: 0, writeEmpty: true, wantWrites: 1, wantLastSize: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			writer := &recordingWriter{}
			tasklet := newTasklet(t, &sliceReader{items: itemsUpTo(tc.n)}, writer, 2, item.WithWriteEmptyChunks(tc.writeEmpty))
			se := model.NewStepExecution("se", nil, "numbers")

			runAll(t, tasklet, se)

			require.Len(t, writer.chunks, tc.wantWrites)
			if tc.wantWrites > 0 {
				assert.Len(t, writer.chunks[len(writer.chunks)-1], tc.wantLastSize)
			}
			assert.Equal(t, tc.n, se.Counters().WriteCount)
		})
	}
}

func TestChunkOrientedTasklet_EmptySourceSingleInvocation(t *testing.T) {
	reader := &sliceReader{}
	writer := &recordingWriter{}
	tasklet := newTasklet(t, reader, writer, 3)
	se := model.NewStepExecution("se", nil, "numbers")

	assert.Equal(t, 1, runAll(t, tasklet, se))
	assert.Empty(t, writer.chunks)
	assert.Equal(t, 1, reader.reads)
}

func TestChunkOrientedTasklet_ExhaustedReaderIsIdempotent(t *testing.T) {
	reader := &sliceReader{items: itemsUpTo(1)}
	tasklet := newTasklet(t, reader, &recordingWriter{}, 5)
	se := model.NewStepExecution("se", nil, "numbers")
	runAll(t, tasklet, se)

	for i := 0; i < 3; i++ {
		c := model.NewStepContribution(se)
		status, err := tasklet.Execute(context.Background(), c)
		require.NoError(t, err)
		assert.Equal(t, model.RepeatStatusFinished, status)
		assert.True(t, c.IsEmpty())
	}
	assert.Equal(t, 1, se.Counters().ReadCount)
}

func TestChunkOrientedTasklet_AcceptsEOF(t *testing.T) {
	reader := port.ItemReader[int](eofReader{})
	tasklet := newTasklet(t, reader, &recordingWriter{}, 2)
	status, err := tasklet.Execute(context.Background(), model.NewStepContribution(nil))
	require.NoError(t, err)
	assert.Equal(t, model.RepeatStatusFinished, status)
}

type eofReader struct{}

func (eofReader) Read(context.Context) (int, error) { return 0, io.EOF }

func TestChunkOrientedTasklet_ReadAndWriteErrors(t *testing.T) {
	boom := errors.New("disk on fire")

	reader := &sliceReader{items: itemsUpTo(5), err: boom, errAt: 1}
	tasklet := newTasklet(t, reader, &recordingWriter{}, 3)
	_, err := tasklet.Execute(context.Background(), model.NewStepContribution(nil))
	var readErr *exception.ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, 1, readErr.ItemIndex)
	assert.ErrorIs(t, err, boom)

	writer := &recordingWriter{err: boom}
	tasklet = newTasklet(t, &sliceReader{items: itemsUpTo(5)}, writer, 3)
	c := model.NewStepContribution(nil)
	_, err = tasklet.Execute(context.Background(), c)
	var writeErr *exception.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, 3, writeErr.ItemCount)
	assert.Equal(t, 0, c.WriteCount())
}

func TestChunkOrientedTasklet_WritesWithContextTransaction(t *testing.T) {
	writer := &recordingWriter{}
	tasklet := newTasklet(t, &sliceReader{items: itemsUpTo(2)}, writer, 2)

	manager := tx.NewResourcelessTransactionManager()
	current, err := manager.Begin(context.Background())
	require.NoError(t, err)

	_, err = tasklet.Execute(tx.WithTx(context.Background(), current), model.NewStepContribution(nil))
	require.NoError(t, err)
	require.Len(t, writer.txs, 1)
	assert.Same(t, current, writer.txs[0])
}

func TestChunkOrientedTasklet_ConcurrentChunksNeverShareItems(t *testing.T) {
	writer := &recordingWriter{}
	tasklet := newTasklet(t, &sliceReader{items: itemsUpTo(100)}, writer, 3)
	se := model.NewStepExecution("se", nil, "numbers")

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				c := model.NewStepContribution(se)
				status, err := tasklet.Execute(context.Background(), c)
				if !assert.NoError(t, err) {
					return
				}
				se.Apply(c)
				if !status.IsContinuable() {
					return
				}
			}
		}()
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, chunk := range writer.chunks {
		for i, v := range chunk {
			assert.False(t, seen[v], "item %d written twice", v)
			seen[v] = true
			if i > 0 {
				assert.Equal(t, chunk[i-1]+1, v, "chunk items are contiguous")
			}
		}
	}
	assert.Len(t, seen, 100)
	assert.Equal(t, 100, se.Counters().ReadCount)
}

func TestChunkOrientedTasklet_Streams(t *testing.T) {
	tasklet := newTasklet(t, &sliceReader{}, &recordingWriter{}, 1)
	assert.Empty(t, tasklet.Streams())
}
