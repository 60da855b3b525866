package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs/bcstest"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/checkpoint"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/checkpoint/checkpointtest"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/database/databasetest"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/events"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/models"
)

var (
	creatorAddr    = bcstest.Addr(0xAA)
	serviceID      = bcstest.Addr(0xBB)
	subscriberAddr = bcstest.Addr(0xCC)
)

func process(cp *checkpoint.Checkpoint) *checkpoint.Result {
	return checkpoint.NewProcessor(checkpointtest.Namespace).Process(cp)
}

func commit(t *testing.T, db *gorm.DB, cp *checkpoint.Checkpoint) int64 {
	t.Helper()
	n, err := NewWriter().Commit(context.Background(), db, process(cp))
	require.NoError(t, err)
	return n
}

func registerCheckpoint(seq uint64) *checkpoint.Checkpoint {
	return checkpointtest.Checkpoint(seq, checkpointtest.Tx(
		"reg",
		[]events.Raw{checkpointtest.CreatorRegistered(creatorAddr, "alice")},
		nil,
		[]checkpoint.Object{checkpointtest.ServiceObject(checkpointtest.EmptyService(serviceID, creatorAddr))},
	))
}

func loadCreators(t *testing.T, db *gorm.DB) []models.Creator {
	t.Helper()
	var creators []models.Creator
	require.NoError(t, db.Order("id").Find(&creators).Error)
	return creators
}

func TestCommitCreatorRegistered(t *testing.T) {
	db := databasetest.New(t)

	rows := commit(t, db, registerCheckpoint(1))
	assert.Equal(t, int64(2), rows)

	creators := loadCreators(t, db)
	require.Len(t, creators, 1)
	c := creators[0]
	assert.Equal(t, serviceID.String(), c.ServiceObjectID)
	assert.Equal(t, creatorAddr.String(), c.CreatorAddress)
	assert.Equal(t, "alice", c.Name)
	assert.Equal(t, "", c.Description)
	assert.Nil(t, c.AvatarBlobID)
	assert.Nil(t, c.SuinsName)
	assert.Nil(t, c.DeletedAt)

	var logs []models.EventLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, models.EventTypeTransactionProcessed, logs[0].EventType)
	assert.Equal(t, int64(1), logs[0].Checkpoint)
	assert.Equal(t, "reg", logs[0].TxDigest)
	assert.Equal(t, models.EventLogID(1, "reg"), logs[0].ID)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(logs[0].Data, &data))
	assert.Equal(t, "reg", data["tx_digest"])
	assert.EqualValues(t, 1, data["checkpoint"])
}

func TestCommitSoftDeleteKeepsRow(t *testing.T) {
	db := databasetest.New(t)
	commit(t, db, registerCheckpoint(1))

	del := checkpointtest.Checkpoint(2, checkpointtest.Tx("del",
		[]events.Raw{checkpointtest.CreatorDeleted(creatorAddr)}, nil, nil))
	commit(t, db, del)

	creators := loadCreators(t, db)
	require.Len(t, creators, 1)
	require.NotNil(t, creators[0].DeletedAt)
	assert.True(t, creators[0].DeletedAt.Equal(del.Time()))

	// A second delete at a later checkpoint keeps the first stamp
	commit(t, db, checkpointtest.Checkpoint(3, checkpointtest.Tx("del-again",
		[]events.Raw{checkpointtest.CreatorDeleted(creatorAddr)}, nil, nil)))
	creators = loadCreators(t, db)
	assert.True(t, creators[0].DeletedAt.Equal(del.Time()))
}

func TestCommitPatchLeavesOtherFields(t *testing.T) {
	db := databasetest.New(t)
	commit(t, db, registerCheckpoint(1))

	commit(t, db, checkpointtest.Checkpoint(2, checkpointtest.Tx("alias",
		[]events.Raw{checkpointtest.SuinsNameLinked(creatorAddr, "alice.sui", serviceID)}, nil, nil)))
	require.NoError(t, db.Model(&models.Creator{}).
		Where("creator_address = ?", creatorAddr.String()).
		UpdateColumn("description", "about alice").Error)

	commit(t, db, checkpointtest.Checkpoint(3, checkpointtest.Tx("rename",
		[]events.Raw{checkpointtest.ProfileUpdated(creatorAddr, "alice2")}, nil, nil)))

	c := loadCreators(t, db)[0]
	assert.Equal(t, "alice2", c.Name)
	assert.Equal(t, "about alice", c.Description)
	assert.Nil(t, c.AvatarBlobID)
	require.NotNil(t, c.SuinsName)
	assert.Equal(t, "alice.sui", *c.SuinsName)
}

func TestApplySkipsEmptyPatch(t *testing.T) {
	db := databasetest.New(t)
	commit(t, db, registerCheckpoint(1))

	res := &checkpoint.Result{
		Sequence:  2,
		Timestamp: checkpointtest.Checkpoint(2).Time(),
		Mutations: []checkpoint.Mutation{checkpoint.CreatorPatch{CreatorAddress: creatorAddr.String()}},
	}
	rows, err := NewWriter().Commit(context.Background(), db, res)
	require.NoError(t, err)
	assert.Zero(t, rows)
}

func TestCommitPostLifecycle(t *testing.T) {
	db := databasetest.New(t)
	commit(t, db, registerCheckpoint(1))

	svc := checkpointtest.EmptyService(serviceID, creatorAddr)
	svc.Posts = []bcstest.Post{
		{ID: 7, Title: "draft", MetadataRef: "m0", DataRef: "d0", RequiredTier: 9, CreatedAtMs: 100},
		{ID: 7, Title: "hello", MetadataRef: "m1", DataRef: "d1", RequiredTier: 9, CreatedAtMs: 200},
	}
	commit(t, db, checkpointtest.Checkpoint(2, checkpointtest.Tx("publish",
		[]events.Raw{checkpointtest.PostPublished(creatorAddr, 7, 2)}, nil,
		[]checkpoint.Object{checkpointtest.ServiceObject(svc)})))

	var post models.Post
	require.NoError(t, db.First(&post).Error)
	assert.Equal(t, int64(7), post.PostID)
	assert.Equal(t, "hello", post.Title)
	assert.Equal(t, int64(2), post.RequiredTier)
	assert.Equal(t, int64(200), post.CreatedAtMs)
	require.NotNil(t, post.MetadataBlobID)
	assert.Equal(t, "m1", *post.MetadataBlobID)

	svc.Posts = []bcstest.Post{{ID: 7, Title: "edited", MetadataRef: "m2", DataRef: "d2", RequiredTier: 3, CreatedAtMs: 999}}
	commit(t, db, checkpointtest.Checkpoint(3, checkpointtest.Tx("update",
		[]events.Raw{checkpointtest.PostUpdated(creatorAddr, 7)}, nil,
		[]checkpoint.Object{checkpointtest.ServiceObject(svc)})))

	require.NoError(t, db.First(&post).Error)
	assert.Equal(t, "edited", post.Title)
	assert.Equal(t, int64(3), post.RequiredTier)
	assert.Equal(t, int64(200), post.CreatedAtMs, "created_at_ms is set on insert only")
	assert.Nil(t, post.DeletedAt)

	del := checkpointtest.Checkpoint(4, checkpointtest.Tx("delete",
		[]events.Raw{checkpointtest.PostDeleted(creatorAddr, 7)}, nil,
		[]checkpoint.Object{checkpointtest.ServiceObject(svc)}))
	commit(t, db, del)

	require.NoError(t, db.First(&post).Error)
	require.NotNil(t, post.DeletedAt)
	assert.True(t, post.DeletedAt.Equal(del.Time()))

	var count int64
	require.NoError(t, db.Model(&models.Post{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCommitSubscriptionRenewalIsLastWriteWins(t *testing.T) {
	db := databasetest.New(t)
	commit(t, db, registerCheckpoint(1))

	svc := []checkpoint.Object{checkpointtest.ServiceObject(checkpointtest.EmptyService(serviceID, creatorAddr))}
	commit(t, db, checkpointtest.Checkpoint(2, checkpointtest.Tx("buy",
		[]events.Raw{checkpointtest.SubscriptionPurchased(subscriberAddr, creatorAddr, 2, 1000)}, svc, nil)))
	commit(t, db, checkpointtest.Checkpoint(3, checkpointtest.Tx("renew",
		[]events.Raw{checkpointtest.SubscriptionRenewed(subscriberAddr, creatorAddr, 2, 500)}, svc, nil)))

	var subs []models.Subscription
	require.NoError(t, db.Find(&subs).Error)
	require.Len(t, subs, 1)
	assert.Equal(t, subscriberAddr.String(), subs[0].SubscriberAddress)
	assert.Equal(t, serviceID.String(), subs[0].ServiceObjectID)
	assert.Equal(t, int64(2), subs[0].TierLevel)
	assert.Equal(t, int64(500), subs[0].ExpiresAtMs)
}

func TestCommitIsIdempotent(t *testing.T) {
	svc := checkpointtest.EmptyService(serviceID, creatorAddr)
	svc.Posts = []bcstest.Post{{ID: 1, Title: "first", MetadataRef: "m", DataRef: "d", RequiredTier: 1, CreatedAtMs: 10}}
	obj := []checkpoint.Object{checkpointtest.ServiceObject(svc)}

	cp := checkpointtest.Checkpoint(5,
		checkpointtest.Tx("a", []events.Raw{checkpointtest.CreatorRegistered(creatorAddr, "alice")}, nil, obj),
		checkpointtest.Tx("b", []events.Raw{
			checkpointtest.ProfileUpdated(creatorAddr, "alice-renamed"),
			checkpointtest.PostPublished(creatorAddr, 1, 1),
		}, nil, obj),
		checkpointtest.Tx("c", []events.Raw{checkpointtest.SubscriptionPurchased(subscriberAddr, creatorAddr, 1, 5000)}, obj, nil),
		checkpointtest.Tx("d", []events.Raw{checkpointtest.PostDeleted(creatorAddr, 1)}, nil, obj),
	)

	once := databasetest.New(t)
	commit(t, once, cp)

	twice := databasetest.New(t)
	commit(t, twice, cp)
	commit(t, twice, cp)

	assert.Equal(t, snapshot(t, once), snapshot(t, twice))
}

type state struct {
	Creators      []models.Creator
	Posts         []models.Post
	Subscriptions []models.Subscription
	Logs          []models.EventLog
}

func snapshot(t *testing.T, db *gorm.DB) state {
	t.Helper()
	var s state
	require.NoError(t, db.Order("id").Find(&s.Creators).Error)
	require.NoError(t, db.Order("id").Find(&s.Posts).Error)
	require.NoError(t, db.Order("id").Find(&s.Subscriptions).Error)
	require.NoError(t, db.Order("checkpoint, tx_digest").Find(&s.Logs).Error)

	// Normalize time zones so equal instants compare equal
	for i := range s.Creators {
		s.Creators[i].CreatedAt = s.Creators[i].CreatedAt.UTC()
		s.Creators[i].UpdatedAt = s.Creators[i].UpdatedAt.UTC()
		if s.Creators[i].DeletedAt != nil {
			d := s.Creators[i].DeletedAt.UTC()
			s.Creators[i].DeletedAt = &d
		}
	}
	for i := range s.Posts {
		s.Posts[i].UpdatedAt = s.Posts[i].UpdatedAt.UTC()
		if s.Posts[i].DeletedAt != nil {
			d := s.Posts[i].DeletedAt.UTC()
			s.Posts[i].DeletedAt = &d
		}
	}
	for i := range s.Subscriptions {
		s.Subscriptions[i].UpdatedAt = s.Subscriptions[i].UpdatedAt.UTC()
	}
	for i := range s.Logs {
		s.Logs[i].Timestamp = s.Logs[i].Timestamp.UTC()
	}
	return s
}

func TestCommitLargeCheckpointLedger(t *testing.T) {
	db := databasetest.New(t)

	const txCount = 6000
	txs := make([]checkpoint.Transaction, 0, txCount)
	for i := 0; i < txCount; i++ {
		txs = append(txs, checkpointtest.Tx(fmt.Sprintf("tx-%d", i), nil, nil, nil))
	}
	cp := checkpointtest.Checkpoint(1, txs...)

	rows := commit(t, db, cp)
	assert.Equal(t, int64(txCount), rows)

	var count int64
	require.NoError(t, db.Model(&models.EventLog{}).Count(&count).Error)
	assert.Equal(t, int64(txCount), count)

	// Redelivery inserts nothing new
	assert.Equal(t, int64(0), commit(t, db, cp))
}

func TestCommitFailureRollsBack(t *testing.T) {
	db := databasetest.New(t)
	require.NoError(t, db.Migrator().DropTable(&models.Subscription{}))

	svc := []checkpoint.Object{checkpointtest.ServiceObject(checkpointtest.EmptyService(serviceID, creatorAddr))}
	cp := checkpointtest.Checkpoint(1,
		checkpointtest.Tx("reg", []events.Raw{checkpointtest.CreatorRegistered(creatorAddr, "alice")}, nil, svc),
		checkpointtest.Tx("buy", []events.Raw{checkpointtest.SubscriptionPurchased(subscriberAddr, creatorAddr, 1, 10)}, svc, nil),
	)

	_, err := NewWriter().Commit(context.Background(), db, process(cp))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreFailure)

	var creators, logs int64
	require.NoError(t, db.Model(&models.Creator{}).Count(&creators).Error)
	require.NoError(t, db.Model(&models.EventLog{}).Count(&logs).Error)
	assert.Zero(t, creators)
	assert.Zero(t, logs)
}
