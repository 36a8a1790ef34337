package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/brojonat/walletsync/service/reconciler"
	"github.com/brojonat/walletsync/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testView(pending, confirmed int) reconciler.View {
	v := reconciler.View{
		Address:      "1addr",
		Balance:      txn.MustParseAmount("1000000000000000000"),
		TotalCount:   confirmed,
		PendingCount: pending,
		AllLoaded:    true,
	}
	for i := 0; i < pending; i++ {
		v.Rows = append(v.Rows, txn.Row{ID: fmt.Sprintf("p%d", i), Pending: true, Direction: txn.DirectionOut})
	}
	for i := 0; i < confirmed; i++ {
		v.Rows = append(v.Rows, txn.Row{ID: fmt.Sprintf("c%d", i), Direction: txn.DirectionIn})
	}
	return v
}

func TestFromView(t *testing.T) {
	event := FromView(testView(2, 3), "poll")

	assert.Equal(t, "1addr", event.Address)
	assert.Equal(t, "views.1addr", event.Subject())
	assert.Equal(t, 2, event.PendingCount)
	assert.Equal(t, 3, event.LoadedCount)
	assert.Equal(t, "c0", event.HeadHash)
	assert.Equal(t, "poll", event.Source)
	assert.Len(t, event.Rows, 5)
	assert.WithinDuration(t, time.Now(), event.PublishedAt, time.Minute)
}

func TestFromView_TruncatesRows(t *testing.T) {
	event := FromView(testView(0, MaxEventRows+5), "refresh")
	assert.Len(t, event.Rows, MaxEventRows)
	assert.Equal(t, MaxEventRows+5, event.LoadedCount)
}

func TestFromView_Empty(t *testing.T) {
	event := FromView(reconciler.View{Address: "1addr"}, "refresh")
	assert.Empty(t, event.HeadHash)
	assert.Empty(t, event.Rows)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"balance":"0"`)
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, m.PublishView(ctx, FromView(testView(0, 1), "poll")))
	other := testView(0, 1)
	other.Address = "1other"
	require.NoError(t, m.PublishView(ctx, FromView(other, "poll")))

	assert.Equal(t, 2, m.GetPublishedEventCount())
	assert.Len(t, m.GetPublishedEventsForAddress("1other"), 1)

	m.SetPublishError(errors.New("nats down"))
	assert.Error(t, m.PublishView(ctx, FromView(testView(0, 1), "poll")))
	assert.Equal(t, 2, m.GetPublishedEventCount())

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())

	m.Reset()
	assert.Zero(t, m.GetPublishedEventCount())
	assert.False(t, m.IsClosed())
}
