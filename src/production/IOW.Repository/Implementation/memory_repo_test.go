package implementation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iowmodels "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Models"
	interfaces "gitlab.com/maplesense1/iotwatch.server/src/production/IOW.Repository/Interfaces"
)

func replaceMemory(t *testing.T, repo *MemoryThresholdRepository, th iowmodels.Threshold) {
	t.Helper()
	err := repo.WithinTx(context.Background(), func(tx interfaces.ThresholdTx) error {
		if err := tx.DeleteAll(context.Background()); err != nil {
			return err
		}
		return tx.Insert(context.Background(), th)
	})
	require.NoError(t, err)
}

func TestMemoryThresholdRepository_ReplaceKeepsOneRow(t *testing.T) {
	repo := NewMemoryThresholdRepository()
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	replaceMemory(t, repo, iowmodels.Threshold{ID: "a", Value: 25, CreatedAt: base})
	replaceMemory(t, repo, iowmodels.Threshold{ID: "b", Value: 30, CreatedAt: base.Add(time.Minute)})

	current, err := repo.GetCurrent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", current.ID)

	history, err := repo.History(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMemoryThresholdRepository_FailedTxLeavesRowsUntouched(t *testing.T) {
	repo := NewMemoryThresholdRepository()
	replaceMemory(t, repo, iowmodels.Threshold{ID: "a", Value: 25, CreatedAt: time.Now()})

	boom := errors.New("boom")
	err := repo.WithinTx(context.Background(), func(tx interfaces.ThresholdTx) error {
		_ = tx.DeleteAll(context.Background())
		return boom
	})
	assert.ErrorIs(t, err, boom)

	current, err := repo.GetCurrent(context.Background())
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "a", current.ID)
}

func TestMemoryThresholdRepository_ConcurrentReplaces(t *testing.T) {
	repo := NewMemoryThresholdRepository()
	base := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replaceMemory(t, repo, iowmodels.Threshold{
				ID:        fmt.Sprintf("t%02d", i),
				Value:     float64(i),
				CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
			})
		}(i)
	}
	wg.Wait()

	history, err := repo.History(context.Background(), 100)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMemoryThresholdRepository_Delete(t *testing.T) {
	repo := NewMemoryThresholdRepository()
	replaceMemory(t, repo, iowmodels.Threshold{ID: "a", Value: 25, CreatedAt: time.Now()})

	assert.ErrorIs(t, repo.Delete(context.Background(), "missing"), interfaces.ErrNotFound)
	require.NoError(t, repo.Delete(context.Background(), "a"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "a"), interfaces.ErrNotFound)

	current, err := repo.GetCurrent(context.Background())
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestMemoryEventRepository_Paging(t *testing.T) {
	repo := NewMemoryEventRepository()
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	// out of order on purpose
	for _, i := range []int{3, 0, 6, 1, 5, 2, 4} {
		require.NoError(t, repo.Append(context.Background(), iowmodels.TriggeredEvent{
			ID:         fmt.Sprintf("e%d", i),
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	// duplicate delivery of the same event is absorbed
	require.NoError(t, repo.Append(context.Background(), iowmodels.TriggeredEvent{ID: "e6", RecordedAt: base.Add(6 * time.Minute)}))

	first, err := repo.Page(context.Background(), 0, iowmodels.EventPageSize)
	require.NoError(t, err)
	require.Len(t, first, 5)
	assert.Equal(t, []string{"e6", "e5", "e4", "e3", "e2"}, eventIDs(first))

	second, err := repo.Page(context.Background(), 5, iowmodels.EventPageSize)
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e0"}, eventIDs(second))

	third, err := repo.Page(context.Background(), 10, iowmodels.EventPageSize)
	require.NoError(t, err)
	assert.NotNil(t, third)
	assert.Empty(t, third)
}

func TestMemoryEventRepository_TieBreakByID(t *testing.T) {
	repo := NewMemoryEventRepository()
	at := time.Now()

	require.NoError(t, repo.Append(context.Background(), iowmodels.TriggeredEvent{ID: "a", RecordedAt: at}))
	require.NoError(t, repo.Append(context.Background(), iowmodels.TriggeredEvent{ID: "b", RecordedAt: at}))

	page, err := repo.Page(context.Background(), 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, eventIDs(page))
}

func eventIDs(events []iowmodels.TriggeredEvent) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return ids
}
