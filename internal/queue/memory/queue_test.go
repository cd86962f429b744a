package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type job struct {
	ID string
}

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue[job](1)
	result := make(chan job, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), job{ID: "job-1"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "job-1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue[job](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := qDequeue.Dequeue(ctx)
	require.EqualError(t, err, "dequeue canceled: context canceled")

	qEnqueue := NewQueue[job](1)
	require.NoError(t, qEnqueue.Enqueue(context.Background(), job{ID: "primed"}))
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	require.EqualError(t, qEnqueue.Enqueue(ctx, job{}), "enqueue canceled: context canceled")
}

func TestQueueDrainsAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](3)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(context.Background(), i))
	}
	require.Equal(t, 3, q.Len())
	q.Close()
	// Closing twice should be safe.
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), 4), ErrClosed)

	var got []int
	for {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			require.ErrorIs(t, err, ErrClosed)
			break
		}
		got = append(got, item)
	}
	require.Equal(t, []int{1, 2, 3}, got)
}
