// Package projection applies checkpoint mutations to the relational store
package projection

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/checkpoint"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/models"
)

// eventLogBatchSize keeps multi-row ledger inserts under the drivers' bind
// parameter limits (999 variables on older SQLite, 65535 on Postgres).
const eventLogBatchSize = 100

// ErrStoreFailure wraps every error returned by the store while committing
var ErrStoreFailure = errors.New("store failure")

// Writer applies mutations with idempotent insert, merge and soft delete
// statements. Re-applying the same result leaves the store unchanged.
type Writer struct{}

// NewWriter creates a new projection writer
func NewWriter() *Writer {
	return &Writer{}
}

// batch holds one checkpoint's mutations grouped by kind, each group in
// emission order.
type batch struct {
	eventLogs     []checkpoint.EventLogInsert
	creators      []checkpoint.CreatorCreate
	creatorDels   []checkpoint.CreatorSoftDelete
	creatorPatch  []checkpoint.CreatorPatch
	posts         []checkpoint.PostUpsert
	postDels      []checkpoint.PostSoftDelete
	subscriptions []checkpoint.SubscriptionUpsert
}

func group(mutations []checkpoint.Mutation) batch {
	var b batch
	for _, m := range mutations {
		switch v := m.(type) {
		case checkpoint.EventLogInsert:
			b.eventLogs = append(b.eventLogs, v)
		case checkpoint.CreatorCreate:
			b.creators = append(b.creators, v)
		case checkpoint.CreatorSoftDelete:
			b.creatorDels = append(b.creatorDels, v)
		case checkpoint.CreatorPatch:
			b.creatorPatch = append(b.creatorPatch, v)
		case checkpoint.PostUpsert:
			b.posts = append(b.posts, v)
		case checkpoint.PostSoftDelete:
			b.postDels = append(b.postDels, v)
		case checkpoint.SubscriptionUpsert:
			b.subscriptions = append(b.subscriptions, v)
		}
	}
	return b
}

// Commit applies res inside its own database transaction and returns the
// number of rows touched. On error nothing is committed.
func (w *Writer) Commit(ctx context.Context, db *gorm.DB, res *checkpoint.Result) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := w.Apply(ctx, tx, res)
		total = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Apply applies res using tx without managing a transaction. Callers must run
// it inside one so that a failure leaves no partial checkpoint behind.
//
// Groups are applied in a fixed order: ledger, creator creates, creator soft
// deletes, creator patches, post upserts, post soft deletes, subscriptions.
// Row timestamps come from the checkpoint, not the wall clock.
func (w *Writer) Apply(ctx context.Context, tx *gorm.DB, res *checkpoint.Result) (int64, error) {
	tx = tx.WithContext(ctx)
	b := group(res.Mutations)
	ts := res.Timestamp

	steps := []struct {
		name string
		fn   func(*gorm.DB, batch, time.Time) (int64, error)
	}{
		{"insert event log", insertEventLogs},
		{"upsert creators", upsertCreators},
		{"soft delete creators", softDeleteCreators},
		{"patch creators", patchCreators},
		{"upsert posts", upsertPosts},
		{"soft delete posts", softDeletePosts},
		{"upsert subscriptions", upsertSubscriptions},
	}

	var total int64
	for _, step := range steps {
		n, err := step.fn(tx, b, ts)
		if err != nil {
			return total, errors.Wrapf(storeFailure{err}, "%s for checkpoint %d", step.name, res.Sequence)
		}
		total += n
	}

	log.Debug().
		Uint64("checkpoint", res.Sequence).
		Int("mutations", len(res.Mutations)).
		Int64("rows", total).
		Msg("Checkpoint mutations applied")

	return total, nil
}

// storeFailure marks an underlying store error as ErrStoreFailure while
// keeping it reachable through errors.Is/As.
type storeFailure struct {
	err error
}

func (e storeFailure) Error() string {
	return ErrStoreFailure.Error() + ": " + e.err.Error()
}

func (e storeFailure) Is(target error) bool {
	return target == ErrStoreFailure
}

func (e storeFailure) Unwrap() error {
	return e.err
}

// StoreFailure marks err as ErrStoreFailure. A nil err stays nil
func StoreFailure(err error) error {
	if err == nil {
		return nil
	}
	return storeFailure{err}
}

func insertEventLogs(tx *gorm.DB, b batch, ts time.Time) (int64, error) {
	if len(b.eventLogs) == 0 {
		return 0, nil
	}

	rows := make([]models.EventLog, 0, len(b.eventLogs))
	for _, e := range b.eventLogs {
		seq := clampInt64(e.Checkpoint)
		data, err := json.Marshal(map[string]interface{}{
			"tx_digest":  e.TxDigest,
			"checkpoint": seq,
		})
		if err != nil {
			return 0, err
		}
		rows = append(rows, models.EventLog{
			ID:         models.EventLogID(seq, e.TxDigest),
			EventType:  models.EventTypeTransactionProcessed,
			Checkpoint: seq,
			TxDigest:   e.TxDigest,
			Data:       data,
			Timestamp:  ts,
		})
	}

	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).CreateInBatches(&rows, eventLogBatchSize)
	return result.RowsAffected, result.Error
}

func upsertCreators(tx *gorm.DB, b batch, ts time.Time) (int64, error) {
	var total int64
	for _, c := range b.creators {
		creator := models.Creator{
			ServiceObjectID: c.ServiceObjectID,
			CreatorAddress:  c.CreatorAddress,
			Name:            c.Name,
			Description:     "",
			CreatedAt:       ts,
			UpdatedAt:       ts,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "service_object_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name",
				"description",
				"avatar_blob_id",
				"suins_name",
				"updated_at",
			}),
		}).Create(&creator).Error
		if err != nil {
			return total, err
		}
		total++
	}
	return total, nil
}

func softDeleteCreators(tx *gorm.DB, b batch, ts time.Time) (int64, error) {
	var total int64
	for _, d := range b.creatorDels {
		result := tx.Model(&models.Creator{}).
			Where("creator_address = ? AND deleted_at IS NULL", d.CreatorAddress).
			UpdateColumns(map[string]interface{}{
				"deleted_at": ts,
				"updated_at": ts,
			})
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
	}
	return total, nil
}

func patchCreators(tx *gorm.DB, b batch, ts time.Time) (int64, error) {
	var total int64
	for _, p := range b.creatorPatch {
		if p.Empty() {
			continue
		}
		updates := map[string]interface{}{"updated_at": ts}
		if p.Name != nil {
			updates["name"] = *p.Name
		}
		if p.Description != nil {
			updates["description"] = *p.Description
		}
		if p.AvatarBlobID != nil {
			updates["avatar_blob_id"] = *p.AvatarBlobID
		}
		if p.SuinsName != nil {
			updates["suins_name"] = *p.SuinsName
		}

		result := tx.Model(&models.Creator{}).
			Where("creator_address = ?", p.CreatorAddress).
			UpdateColumns(updates)
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
	}
	return total, nil
}

func upsertPosts(tx *gorm.DB, b batch, ts time.Time) (int64, error) {
	var total int64
	for _, p := range b.posts {
		metadata := p.MetadataBlobID
		data := p.DataBlobID
		post := models.Post{
			ServiceObjectID: p.ServiceObjectID,
			PostID:          clampInt64(p.PostID),
			Title:           p.Title,
			MetadataBlobID:  &metadata,
			DataBlobID:      &data,
			RequiredTier:    clampInt64(p.RequiredTier),
			CreatedAtMs:     clampInt64(p.CreatedAtMs),
			UpdatedAt:       ts,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "service_object_id"}, {Name: "post_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"title",
				"metadata_blob_id",
				"data_blob_id",
				"required_tier",
				"updated_at",
			}),
		}).Create(&post).Error
		if err != nil {
			return total, err
		}
		total++
	}
	return total, nil
}

func softDeletePosts(tx *gorm.DB, b batch, ts time.Time) (int64, error) {
	var total int64
	for _, d := range b.postDels {
		result := tx.Model(&models.Post{}).
			Where("service_object_id = ? AND post_id = ? AND deleted_at IS NULL", d.ServiceObjectID, clampInt64(d.PostID)).
			UpdateColumns(map[string]interface{}{
				"deleted_at": ts,
				"updated_at": ts,
			})
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
	}
	return total, nil
}

func upsertSubscriptions(tx *gorm.DB, b batch, ts time.Time) (int64, error) {
	var total int64
	for _, s := range b.subscriptions {
		sub := models.Subscription{
			SubscriberAddress: s.SubscriberAddress,
			ServiceObjectID:   s.ServiceObjectID,
			TierLevel:         clampInt64(s.TierLevel),
			ExpiresAtMs:       clampInt64(s.ExpiresAtMs),
			UpdatedAt:         ts,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "subscriber_address"}, {Name: "service_object_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"tier_level",
				"expires_at_ms",
				"updated_at",
			}),
		}).Create(&sub).Error
		if err != nil {
			return total, err
		}
		total++
	}
	return total, nil
}

// clampInt64 maps on-chain u64 values onto signed columns
func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
