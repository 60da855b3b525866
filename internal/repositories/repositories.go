package repositories

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/models"
)

// ErrNotFound is returned when a single-row lookup matches nothing
var ErrNotFound = errors.New("record not found")

// CreatorRepository provides access to creator profiles
type CreatorRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewCreatorRepository creates a new creator repository
func NewCreatorRepository(db *gorm.DB, readOnlyDB *gorm.DB) *CreatorRepository {
	return &CreatorRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ListActive lists creators that are not soft deleted, optionally filtered by
// owning address
func (r *CreatorRepository) ListActive(ctx context.Context, creatorAddress string) ([]models.Creator, error) {
	query := r.readOnlyDB.WithContext(ctx).Where("deleted_at IS NULL")
	if creatorAddress != "" {
		query = query.Where("creator_address = ?", creatorAddress)
	}

	creators := []models.Creator{}
	if err := query.Order("id").Find(&creators).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list creators")
	}
	return creators, nil
}

// GetActive gets an active creator by service object id
func (r *CreatorRepository) GetActive(ctx context.Context, serviceObjectID string) (*models.Creator, error) {
	var creator models.Creator
	err := r.readOnlyDB.WithContext(ctx).
		Where("service_object_id = ? AND deleted_at IS NULL", serviceObjectID).
		First(&creator).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get creator")
	}
	return &creator, nil
}

// FindForSync loads creators matching any of the service object ids or
// owning addresses, deleted ones included. It reads the write database so
// that rows committed a moment ago are visible.
func (r *CreatorRepository) FindForSync(ctx context.Context, serviceObjectIDs, creatorAddresses []string) ([]models.Creator, error) {
	if len(serviceObjectIDs) == 0 && len(creatorAddresses) == 0 {
		return nil, nil
	}

	query := r.db.WithContext(ctx)
	switch {
	case len(serviceObjectIDs) > 0 && len(creatorAddresses) > 0:
		query = query.Where("service_object_id IN ? OR creator_address IN ?", serviceObjectIDs, creatorAddresses)
	case len(serviceObjectIDs) > 0:
		query = query.Where("service_object_id IN ?", serviceObjectIDs)
	default:
		query = query.Where("creator_address IN ?", creatorAddresses)
	}

	var creators []models.Creator
	if err := query.Order("id").Find(&creators).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load creators")
	}
	return creators, nil
}

// ReconcileCounts recomputes total_posts from active posts and
// total_subscribers from subscriptions expiring after nowMs
func (r *CreatorRepository) ReconcileCounts(ctx context.Context, nowMs int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Creator{}).
		Where("deleted_at IS NULL").
		UpdateColumns(map[string]interface{}{
			"total_posts": gorm.Expr(
				"(SELECT COUNT(*) FROM posts WHERE posts.service_object_id = creators.service_object_id AND posts.deleted_at IS NULL)"),
			"total_subscribers": gorm.Expr(
				"(SELECT COUNT(*) FROM subscriptions WHERE subscriptions.service_object_id = creators.service_object_id AND subscriptions.expires_at_ms > ?)", nowMs),
		})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to reconcile creator counts")
	}
	return result.RowsAffected, nil
}

// PostRepository provides access to posts
type PostRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB, readOnlyDB *gorm.DB) *PostRepository {
	return &PostRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ListByCreator lists a service object's active posts, newest first
func (r *PostRepository) ListByCreator(ctx context.Context, serviceObjectID string) ([]models.Post, error) {
	posts := []models.Post{}
	err := r.readOnlyDB.WithContext(ctx).
		Where("service_object_id = ? AND deleted_at IS NULL", serviceObjectID).
		Order("created_at_ms DESC").
		Find(&posts).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list posts")
	}
	return posts, nil
}

// GetForSync gets a post, deleted or not, from the write database
func (r *PostRepository) GetForSync(ctx context.Context, serviceObjectID string, postID int64) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).
		Where("service_object_id = ? AND post_id = ?", serviceObjectID, postID).
		First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get post")
	}
	return &post, nil
}

// SubscriptionRepository provides access to subscriptions
type SubscriptionRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *gorm.DB, readOnlyDB *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// ListActive lists a subscriber's subscriptions that expire after now
func (r *SubscriptionRepository) ListActive(ctx context.Context, subscriber string, now time.Time) ([]models.Subscription, error) {
	subs := []models.Subscription{}
	err := r.readOnlyDB.WithContext(ctx).
		Where("subscriber_address = ? AND expires_at_ms > ?", subscriber, now.UnixMilli()).
		Order("id").
		Find(&subs).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list subscriptions")
	}
	return subs, nil
}

// GetActive gets the subscription of subscriber to a service object if it
// expires after now
func (r *SubscriptionRepository) GetActive(ctx context.Context, subscriber, serviceObjectID string, now time.Time) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.readOnlyDB.WithContext(ctx).
		Where("subscriber_address = ? AND service_object_id = ? AND expires_at_ms > ?",
			subscriber, serviceObjectID, now.UnixMilli()).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get subscription")
	}
	return &sub, nil
}

// WatermarkRepository tracks the highest committed checkpoint per pipeline
type WatermarkRepository struct {
	db *gorm.DB
}

// NewWatermarkRepository creates a new watermark repository
func NewWatermarkRepository(db *gorm.DB) *WatermarkRepository {
	return &WatermarkRepository{db: db}
}

// Get returns the pipeline's watermark. ok is false when nothing has been
// committed yet. A non-nil tx reads inside that transaction.
func (r *WatermarkRepository) Get(ctx context.Context, tx *gorm.DB, pipeline string) (hi int64, ok bool, err error) {
	if tx == nil {
		tx = r.db
	}

	var wm models.Watermark
	err = tx.WithContext(ctx).Where("pipeline = ?", pipeline).Limit(1).Find(&wm).Error
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to get watermark")
	}
	if wm.Pipeline == "" {
		return 0, false, nil
	}
	return wm.CheckpointHi, true, nil
}

// Advance moves the pipeline's watermark to checkpoint inside tx. The stored
// value never decreases.
func (r *WatermarkRepository) Advance(ctx context.Context, tx *gorm.DB, pipeline string, checkpoint, timestampMs int64) error {
	wm := models.Watermark{
		Pipeline:     pipeline,
		CheckpointHi: checkpoint,
		TimestampMs:  timestampMs,
		UpdatedAt:    time.Now().UTC(),
	}
	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "pipeline"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"checkpoint_hi",
			"timestamp_ms",
			"updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "watermarks.checkpoint_hi < excluded.checkpoint_hi"},
		}},
	}).Create(&wm).Error
	if err != nil {
		return errors.Wrap(err, "failed to advance watermark")
	}
	return nil
}
