package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quotehive/quotehive/internal/notification/domain"
	"github.com/quotehive/quotehive/pkg/db/pagination"
)

func newTestService(t *testing.T) (domain.Service, *snowflake.Node) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:notification_"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Notification{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	// No hub wired; persistence still works and Subscribe degrades.
	svc := New(Params{DB: db, Log: zap.NewNop(), GenID: node})
	return svc, node
}

func TestDeliverAndList(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	notification, err := svc.Deliver(ctx, domain.DeliverRequest{
		UserID: userID,
		Kind:   "quote_received",
		Title:  "New quote",
		Body:   "A provider quoted £150.00.",
		Data:   map[string]string{"quote_id": "123"},
	})
	require.NoError(t, err)
	assert.False(t, notification.Read)
	assert.Equal(t, "123", notification.Data["quote_id"])

	_, err = svc.Deliver(ctx, domain.DeliverRequest{UserID: userID, Kind: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidKind)

	list, _, err := svc.List(ctx, domain.ListRequest{UserID: userID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "quote_received", list[0].Kind)

	// Another user's inbox stays empty.
	other, _, err := svc.List(ctx, domain.ListRequest{UserID: node.Generate()})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	var first *domain.Notification
	for i := 0; i < 3; i++ {
		n, err := svc.Deliver(ctx, domain.DeliverRequest{UserID: userID, Kind: "booking_paid", Title: "Paid"})
		require.NoError(t, err)
		if first == nil {
			first = n
		}
	}

	count, err := svc.UnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, svc.MarkRead(ctx, first.ID, userID))
	count, err = svc.UnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Marking an already-read row again is fine; someone else's row is not.
	require.NoError(t, svc.MarkRead(ctx, first.ID, userID))
	assert.ErrorIs(t, svc.MarkRead(ctx, first.ID, node.Generate()), domain.ErrNotFound)
	assert.ErrorIs(t, svc.MarkRead(ctx, node.Generate(), userID), domain.ErrNotFound)

	updated, err := svc.MarkAllRead(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	count, err = svc.UnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Nothing unread left.
	updated, err = svc.MarkAllRead(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

func TestListUnreadOnly(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	read, err := svc.Deliver(ctx, domain.DeliverRequest{UserID: userID, Kind: "booking_paid", Title: "Paid"})
	require.NoError(t, err)
	unread, err := svc.Deliver(ctx, domain.DeliverRequest{UserID: userID, Kind: "booking_completed", Title: "Done"})
	require.NoError(t, err)
	require.NoError(t, svc.MarkRead(ctx, read.ID, userID))

	list, _, err := svc.List(ctx, domain.ListRequest{
		UserID:     userID,
		UnreadOnly: true,
		Pagination: pagination.Pagination{PageSize: 10},
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, unread.ID, list[0].ID)
}

func TestSubscribeWithoutHub(t *testing.T) {
	svc, node := newTestService(t)

	ch, err := svc.Subscribe(context.Background(), node.Generate())
	require.NoError(t, err)

	// The channel is closed immediately so SSE handlers exit cleanly.
	_, open := <-ch
	assert.False(t, open)
}
