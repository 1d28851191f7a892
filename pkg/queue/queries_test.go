package queue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/queueworks/jobq/pkg/queue"
)

type mockQueriesRepo struct {
	mock.Mock
}

func (m *mockQueriesRepo) CreateJobs(ctx context.Context, specs []queue.JobSpec) ([]uuid.UUID, error) {
	args := m.Called(ctx, specs)
	if ids, ok := args.Get(0).([]uuid.UUID); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueriesRepo) MarkCancelled(ctx context.Context, ids []uuid.UUID) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *mockQueriesRepo) QueueSize(ctx context.Context) ([]queue.QueueSizeEntry, error) {
	args := m.Called(ctx)
	if entries, ok := args.Get(0).([]queue.QueueSizeEntry); ok {
		return entries, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueriesRepo) LogStatistics(ctx context.Context, tail int) ([]queue.StatisticsEntry, error) {
	args := m.Called(ctx, tail)
	if entries, ok := args.Get(0).([]queue.StatisticsEntry); ok {
		return entries, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestNewQueries(t *testing.T) {
	t.Parallel()

	t.Run("nil repository", func(t *testing.T) {
		t.Parallel()

		_, err := queue.NewQueries(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	})
}

func TestQueries_Enqueue(t *testing.T) {
	t.Parallel()

	t.Run("passes specs through in input order", func(t *testing.T) {
		t.Parallel()

		repo := new(mockQueriesRepo)
		want := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
		repo.On("CreateJobs", mock.Anything, []queue.JobSpec{
			{Entrypoint: "first", Payload: []byte("a"), Priority: 0},
			{Entrypoint: "second", Payload: []byte("b"), Priority: 5},
			{Entrypoint: "third", Payload: nil, Priority: -1},
		}).Return(want, nil).Once()

		q, err := queue.NewQueries(repo)
		require.NoError(t, err)

		ids, err := q.Enqueue(context.Background(),
			[]string{"first", "second", "third"},
			[][]byte{[]byte("a"), []byte("b"), nil},
			[]int{0, 5, -1},
		)
		require.NoError(t, err)
		assert.Equal(t, want, ids)
		repo.AssertExpectations(t)
	})

	t.Run("length mismatch fails before persistence", func(t *testing.T) {
		t.Parallel()

		repo := new(mockQueriesRepo)
		q, err := queue.NewQueries(repo)
		require.NoError(t, err)

		_, err = q.Enqueue(context.Background(),
			[]string{"one", "two"},
			[][]byte{[]byte("a")},
			[]int{0, 0},
		)
		assert.ErrorIs(t, err, queue.ErrLengthMismatch)
		repo.AssertNotCalled(t, "CreateJobs", mock.Anything, mock.Anything)
	})

	t.Run("empty batch", func(t *testing.T) {
		t.Parallel()

		repo := new(mockQueriesRepo)
		q, err := queue.NewQueries(repo)
		require.NoError(t, err)

		_, err = q.Enqueue(context.Background(), nil, nil, nil)
		assert.ErrorIs(t, err, queue.ErrNothingToEnqueue)
		repo.AssertNotCalled(t, "CreateJobs", mock.Anything, mock.Anything)
	})

	t.Run("empty entrypoint name", func(t *testing.T) {
		t.Parallel()

		repo := new(mockQueriesRepo)
		q, err := queue.NewQueries(repo)
		require.NoError(t, err)

		_, err = q.Enqueue(context.Background(),
			[]string{"ok", ""},
			[][]byte{nil, nil},
			[]int{0, 0},
		)
		assert.ErrorIs(t, err, queue.ErrEntrypointEmpty)
		repo.AssertNotCalled(t, "CreateJobs", mock.Anything, mock.Anything)
	})

	t.Run("repository errors are wrapped", func(t *testing.T) {
		t.Parallel()

		repo := new(mockQueriesRepo)
		errStore := errors.New("store unavailable")
		repo.On("CreateJobs", mock.Anything, mock.Anything).Return(nil, errStore).Once()

		q, err := queue.NewQueries(repo)
		require.NoError(t, err)

		_, err = q.Enqueue(context.Background(), []string{"job"}, [][]byte{nil}, []int{0})
		assert.ErrorIs(t, err, errStore)
		repo.AssertExpectations(t)
	})
}

func TestQueries_MarkJobAsCancelled(t *testing.T) {
	t.Parallel()

	t.Run("forwards all ids", func(t *testing.T) {
		t.Parallel()

		repo := new(mockQueriesRepo)
		ids := []uuid.UUID{uuid.New(), uuid.New()}
		repo.On("MarkCancelled", mock.Anything, ids).Return(nil).Once()

		q, err := queue.NewQueries(repo)
		require.NoError(t, err)

		require.NoError(t, q.MarkJobAsCancelled(context.Background(), ids...))
		repo.AssertExpectations(t)
	})

	t.Run("no ids is a no-op", func(t *testing.T) {
		t.Parallel()

		repo := new(mockQueriesRepo)
		q, err := queue.NewQueries(repo)
		require.NoError(t, err)

		require.NoError(t, q.MarkJobAsCancelled(context.Background()))
		repo.AssertNotCalled(t, "MarkCancelled", mock.Anything, mock.Anything)
	})
}

func TestQueries_Inspection(t *testing.T) {
	t.Parallel()

	t.Run("queue size", func(t *testing.T) {
		t.Parallel()

		repo := new(mockQueriesRepo)
		want := []queue.QueueSizeEntry{{Status: queue.StatusQueued, Count: 3}}
		repo.On("QueueSize", mock.Anything).Return(want, nil).Once()

		q, err := queue.NewQueries(repo)
		require.NoError(t, err)

		got, err := q.QueueSize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got)
		repo.AssertExpectations(t)
	})

	t.Run("negative tail is refused before the store is asked", func(t *testing.T) {
		t.Parallel()

		repo := new(mockQueriesRepo)
		q, err := queue.NewQueries(repo)
		require.NoError(t, err)

		_, err = q.LogStatistics(context.Background(), -1)
		assert.ErrorIs(t, err, queue.ErrNegativeTail)
		repo.AssertNotCalled(t, "LogStatistics", mock.Anything, mock.Anything)
	})

	t.Run("log statistics respects tail", func(t *testing.T) {
		t.Parallel()

		repo := new(mockQueriesRepo)
		want := []queue.StatisticsEntry{{Status: queue.StatusCanceled, Count: 32}}
		repo.On("LogStatistics", mock.Anything, 1000).Return(want, nil).Once()

		q, err := queue.NewQueries(repo)
		require.NoError(t, err)

		got, err := q.LogStatistics(context.Background(), 1000)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		repo.AssertExpectations(t)
	})
}
