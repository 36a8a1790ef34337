package server

import (
	"fmt"
	"testing"

	"github.com/brojonat/walletsync/service/reconciler"
	"github.com/brojonat/walletsync/service/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEQueueCoalescesViews(t *testing.T) {
	q := newSSEQueue()
	for i := 1; i <= 100; i++ {
		q.pushView(reconciler.View{Address: testAddress, PendingCount: i})
	}

	<-q.ready
	events := q.drain()
	require.Len(t, events, 1)
	assert.Equal(t, "view", events[0].name)
	assert.Equal(t, 100, events[0].data.(reconciler.View).PendingCount)

	assert.Empty(t, q.drain())
	assert.Len(t, q.ready, 0)
}

func TestSSEQueueKeepsEveryNotice(t *testing.T) {
	q := newSSEQueue()
	q.pushView(reconciler.View{PendingCount: 1})
	for i := 0; i < 100; i++ {
		q.pushNotice(session.Notice{Text: fmt.Sprintf("notice %d", i), Type: session.NoticeAlert})
	}
	q.pushView(reconciler.View{PendingCount: 2})

	events := q.drain()
	require.Len(t, events, 101)
	for i := 0; i < 100; i++ {
		assert.Equal(t, "notice", events[i].name)
		assert.Equal(t, fmt.Sprintf("notice %d", i), events[i].data.(session.Notice).Text)
	}
	last := events[100]
	assert.Equal(t, "view", last.name)
	assert.Equal(t, 2, last.data.(reconciler.View).PendingCount)
}
