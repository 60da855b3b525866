package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/database/databasetest"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/models"
)

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	deleted := time.Unix(100, 0).UTC()
	ts := time.Unix(50, 0).UTC()

	creators := []models.Creator{
		{ServiceObjectID: "0xs1", CreatorAddress: "0xa1", Name: "alice", CreatedAt: ts, UpdatedAt: ts},
		{ServiceObjectID: "0xs2", CreatorAddress: "0xa2", Name: "bob", CreatedAt: ts, UpdatedAt: ts},
		{ServiceObjectID: "0xs3", CreatorAddress: "0xa1", Name: "gone", CreatedAt: ts, UpdatedAt: ts, DeletedAt: &deleted},
	}
	require.NoError(t, db.Create(&creators).Error)

	posts := []models.Post{
		{ServiceObjectID: "0xs1", PostID: 1, Title: "old", CreatedAtMs: 10, UpdatedAt: ts},
		{ServiceObjectID: "0xs1", PostID: 2, Title: "new", CreatedAtMs: 30, UpdatedAt: ts},
		{ServiceObjectID: "0xs1", PostID: 3, Title: "removed", CreatedAtMs: 20, UpdatedAt: ts, DeletedAt: &deleted},
		{ServiceObjectID: "0xs2", PostID: 1, Title: "other", CreatedAtMs: 5, UpdatedAt: ts},
	}
	require.NoError(t, db.Create(&posts).Error)

	subs := []models.Subscription{
		{SubscriberAddress: "0xc1", ServiceObjectID: "0xs1", TierLevel: 1, ExpiresAtMs: 2_000, UpdatedAt: ts},
		{SubscriberAddress: "0xc1", ServiceObjectID: "0xs2", TierLevel: 2, ExpiresAtMs: 500, UpdatedAt: ts},
		{SubscriberAddress: "0xc2", ServiceObjectID: "0xs1", TierLevel: 3, ExpiresAtMs: 3_000, UpdatedAt: ts},
	}
	require.NoError(t, db.Create(&subs).Error)
}

func TestCreatorRepository(t *testing.T) {
	db := databasetest.New(t)
	seed(t, db)
	repo := NewCreatorRepository(db, db)
	ctx := context.Background()

	all, err := repo.ListActive(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].Name)
	assert.Equal(t, "bob", all[1].Name)

	byAddr, err := repo.ListActive(ctx, "0xa1")
	require.NoError(t, err)
	require.Len(t, byAddr, 1)
	assert.Equal(t, "0xs1", byAddr[0].ServiceObjectID)

	none, err := repo.ListActive(ctx, "0xunknown")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	c, err := repo.GetActive(ctx, "0xs2")
	require.NoError(t, err)
	assert.Equal(t, "bob", c.Name)

	_, err = repo.GetActive(ctx, "0xs3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindForSync(t *testing.T) {
	db := databasetest.New(t)
	seed(t, db)
	repo := NewCreatorRepository(db, db)
	ctx := context.Background()

	none, err := repo.FindForSync(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	byAddr, err := repo.FindForSync(ctx, nil, []string{"0xa1"})
	require.NoError(t, err)
	require.Len(t, byAddr, 2, "deleted creators are included")

	both, err := repo.FindForSync(ctx, []string{"0xs2"}, []string{"0xa1"})
	require.NoError(t, err)
	assert.Len(t, both, 3)

	posts := NewPostRepository(db, db)
	post, err := posts.GetForSync(ctx, "0xs1", 3)
	require.NoError(t, err)
	assert.NotNil(t, post.DeletedAt)

	_, err = posts.GetForSync(ctx, "0xs1", 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReconcileCounts(t *testing.T) {
	db := databasetest.New(t)
	seed(t, db)
	repo := NewCreatorRepository(db, db)

	rows, err := repo.ReconcileCounts(context.Background(), 1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)

	var alice, bob models.Creator
	require.NoError(t, db.Where("service_object_id = ?", "0xs1").First(&alice).Error)
	require.NoError(t, db.Where("service_object_id = ?", "0xs2").First(&bob).Error)
	assert.Equal(t, 2, alice.TotalPosts)
	assert.Equal(t, 2, alice.TotalSubscribers)
	assert.Equal(t, 1, bob.TotalPosts)
	assert.Equal(t, 0, bob.TotalSubscribers, "expired subscriptions are not counted")
	assert.True(t, alice.UpdatedAt.Equal(time.Unix(50, 0)), "reconcile does not touch updated_at")
}

func TestPostRepositoryListByCreator(t *testing.T) {
	db := databasetest.New(t)
	seed(t, db)
	repo := NewPostRepository(db, db)

	posts, err := repo.ListByCreator(context.Background(), "0xs1")
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "new", posts[0].Title)
	assert.Equal(t, "old", posts[1].Title)
}

func TestSubscriptionRepository(t *testing.T) {
	db := databasetest.New(t)
	seed(t, db)
	repo := NewSubscriptionRepository(db, db)
	ctx := context.Background()
	now := time.UnixMilli(1_000)

	subs, err := repo.ListActive(ctx, "0xc1", now)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "0xs1", subs[0].ServiceObjectID)

	sub, err := repo.GetActive(ctx, "0xc1", "0xs1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sub.TierLevel)
	assert.Equal(t, int64(2_000), sub.ExpiresAtMs)

	_, err = repo.GetActive(ctx, "0xc1", "0xs2", now)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetActive(ctx, "0xc1", "0xs1", time.UnixMilli(2_000))
	assert.ErrorIs(t, err, ErrNotFound, "expiry equal to now is not active")
}

func TestWatermarkRepository(t *testing.T) {
	db := databasetest.New(t)
	repo := NewWatermarkRepository(db)
	ctx := context.Background()

	_, ok, err := repo.Get(ctx, nil, "main")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Advance(ctx, db, "main", 10, 1_000))
	hi, ok, err := repo.Get(ctx, nil, "main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(10), hi)

	require.NoError(t, repo.Advance(ctx, db, "main", 7, 700))
	hi, _, err = repo.Get(ctx, nil, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(10), hi, "watermark never moves backwards")

	require.NoError(t, repo.Advance(ctx, db, "main", 11, 1_100))
	hi, _, err = repo.Get(ctx, db, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(11), hi)

	_, ok, err = repo.Get(ctx, nil, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}
