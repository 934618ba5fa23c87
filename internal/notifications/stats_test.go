package notifications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_Totals(t *testing.T) {
	f := newFixture(t, 500)
	ctx := context.Background()
	tracker := NewTracker(f.store)
	agg := NewAggregator(f.store)

	a := sendTo(t, f, "A", RoleTarget{Role: "driver"})
	sendTo(t, f, "B", AllTarget{})
	require.NoError(t, tracker.MarkRead(ctx, a, "u01"))
	require.NoError(t, tracker.MarkRead(ctx, a, "u03"))

	stats, err := agg.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, 12, stats.TotalDeliveries)
	assert.Equal(t, 2, stats.TotalRead)
	assert.Nil(t, stats.Message)

	stats, err = agg.Stats(ctx, &a)
	require.NoError(t, err)
	require.NotNil(t, stats.Message)
	assert.Equal(t, a, stats.Message.MessageID)
	assert.Equal(t, 3, stats.Message.SentCount)
	assert.Equal(t, 2, stats.Message.ReadCount)
}

func TestAggregator_UnknownMessage(t *testing.T) {
	agg := NewAggregator(NewMemoryStore())
	id := "missing"

	_, err := agg.Stats(context.Background(), &id)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestAggregator_ConsistentWithFanoutUnderConcurrentSends(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Send(ctx, newMessage("burst"), AllTarget{})
			assert.NoError(t, err)
			mu.Lock()
			created += res.Created
			mu.Unlock()
		}()
	}
	wg.Wait()

	stats, err := NewAggregator(f.store).Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalMessages)
	assert.Equal(t, created, stats.TotalDeliveries)
	assert.Equal(t, 90, stats.TotalDeliveries)
}

func TestListMessages_SummariesNewestFirst(t *testing.T) {
	f := newFixture(t, 500)
	ctx := context.Background()
	clk := newClock()
	f.engine.now = clk.Now

	old := sendTo(t, f, "old", RoleTarget{Role: "driver"})
	clk.Advance(time.Minute)
	recent := sendTo(t, f, "recent", UserTarget{UserID: "u02"})
	require.NoError(t, NewTracker(f.store).MarkRead(ctx, recent, "u02"))

	summaries, total, err := f.store.ListMessages(ctx, ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, summaries, 2)
	assert.Equal(t, recent, summaries[0].Message.ID)
	assert.Equal(t, 1, summaries[0].SentCount)
	assert.Equal(t, 1, summaries[0].ReadCount)
	assert.Equal(t, old, summaries[1].Message.ID)
	assert.Equal(t, 3, summaries[1].SentCount)

	page, _, err := f.store.ListMessages(ctx, ListParams{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, old, page[0].Message.ID)
}
