package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Creator is a creator profile projected from its on-chain service object
type Creator struct {
	ID               uint       `gorm:"primaryKey" json:"-"`
	ServiceObjectID  string     `gorm:"type:varchar(66);not null;uniqueIndex" json:"service_object_id"`
	CreatorAddress   string     `gorm:"type:varchar(66);not null;index" json:"creator_address"`
	Name             string     `gorm:"not null" json:"name"`
	Description      string     `gorm:"not null;default:''" json:"description"`
	AvatarBlobID     *string    `json:"avatar_blob_id"`
	SuinsName        *string    `json:"suins_name"`
	TotalSubscribers int        `gorm:"not null;default:0" json:"total_subscribers"`
	TotalPosts       int        `gorm:"not null;default:0" json:"total_posts"`
	CreatedAt        time.Time  `json:"-"`
	UpdatedAt        time.Time  `json:"-"`
	DeletedAt        *time.Time `gorm:"index" json:"-"`
}

// Post is a post published on a service object
type Post struct {
	ID              uint       `gorm:"primaryKey" json:"-"`
	ServiceObjectID string     `gorm:"type:varchar(66);not null;uniqueIndex:idx_posts_service_post" json:"serviceObjectId"`
	PostID          int64      `gorm:"not null;uniqueIndex:idx_posts_service_post" json:"postId"`
	Title           string     `gorm:"not null" json:"title"`
	MetadataBlobID  *string    `json:"metadataBlobId"`
	DataBlobID      *string    `json:"dataBlobId"`
	RequiredTier    int64      `gorm:"not null;default:0" json:"requiredTier"`
	CreatedAtMs     int64      `gorm:"not null;index" json:"createdAtMs"`
	UpdatedAt       time.Time  `json:"-"`
	DeletedAt       *time.Time `gorm:"index" json:"-"`
}

// Subscription is a subscriber's current tier and expiry on a service object
type Subscription struct {
	ID                uint      `gorm:"primaryKey" json:"-"`
	SubscriberAddress string    `gorm:"type:varchar(66);not null;uniqueIndex:idx_subscriptions_subscriber_service" json:"subscriberAddress"`
	ServiceObjectID   string    `gorm:"type:varchar(66);not null;uniqueIndex:idx_subscriptions_subscriber_service;index" json:"serviceObjectId"`
	TierLevel         int64     `gorm:"not null" json:"tierLevel"`
	ExpiresAtMs       int64     `gorm:"not null;index" json:"expiresAtMs"`
	UpdatedAt         time.Time `json:"-"`
}

// EventLog is the append-only ledger of processed transactions
type EventLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EventType  string         `gorm:"not null" json:"event_type"`
	Checkpoint int64          `gorm:"not null;index" json:"checkpoint"`
	TxDigest   string         `gorm:"not null;index" json:"tx_digest"`
	Data       datatypes.JSON `json:"data"`
	Timestamp  time.Time      `gorm:"not null" json:"timestamp"`
}

// TableName keeps the ledger table name stable
func (EventLog) TableName() string {
	return "events_log"
}

// Watermark is the highest checkpoint committed by a pipeline
type Watermark struct {
	Pipeline     string    `gorm:"primaryKey" json:"pipeline"`
	CheckpointHi int64     `gorm:"not null" json:"checkpoint_hi"`
	TimestampMs  int64     `gorm:"not null" json:"timestamp_ms"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EventTypeTransactionProcessed is the event type of ledger rows
const EventTypeTransactionProcessed = "TransactionProcessed"

// EventLogID derives a stable ledger id from a checkpoint and transaction digest
func EventLogID(checkpoint int64, txDigest string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strconv.FormatInt(checkpoint, 10)+"/"+txDigest))
}

// SetupModels runs migrations for all projected tables
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Creator{},
		&Post{},
		&Subscription{},
		&EventLog{},
		&Watermark{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
