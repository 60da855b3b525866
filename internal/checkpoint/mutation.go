package checkpoint

import (
	"time"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/events"
)

// MutationKind groups mutations for the writer
type MutationKind int

// Kinds are listed in the order the writer applies them
const (
	KindEventLog MutationKind = iota
	KindCreatorCreate
	KindCreatorSoftDelete
	KindCreatorPatch
	KindPostUpsert
	KindPostSoftDelete
	KindSubscriptionUpsert
)

var kindNames = map[MutationKind]string{
	KindEventLog:           "event_log",
	KindCreatorCreate:      "creator_create",
	KindCreatorSoftDelete:  "creator_soft_delete",
	KindCreatorPatch:       "creator_patch",
	KindPostUpsert:         "post_upsert",
	KindPostSoftDelete:     "post_soft_delete",
	KindSubscriptionUpsert: "subscription_upsert",
}

func (k MutationKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Mutation is a pending change to the store
type Mutation interface {
	Kind() MutationKind
}

// EventLogInsert records that a transaction was processed
type EventLogInsert struct {
	Checkpoint uint64
	TxDigest   string
}

// CreatorCreate inserts a creator, merging on an existing service object id
type CreatorCreate struct {
	ServiceObjectID string
	CreatorAddress  string
	Name            string
}

// CreatorSoftDelete marks every creator row of an address as deleted
type CreatorSoftDelete struct {
	CreatorAddress string
}

// CreatorPatch updates only the non-nil fields of the creator rows of an address
type CreatorPatch struct {
	CreatorAddress string
	Name           *string
	Description    *string
	AvatarBlobID   *string
	SuinsName      *string
}

// Empty reports whether the patch sets no field
func (p CreatorPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.AvatarBlobID == nil && p.SuinsName == nil
}

// PostUpsert inserts a post or overwrites it wholesale
type PostUpsert struct {
	ServiceObjectID string
	PostID          uint64
	Title           string
	MetadataBlobID  string
	DataBlobID      string
	RequiredTier    uint64
	CreatedAtMs     uint64
}

// PostSoftDelete marks one post as deleted
type PostSoftDelete struct {
	ServiceObjectID string
	PostID          uint64
}

// SubscriptionUpsert inserts a subscription or overwrites its tier and expiry
type SubscriptionUpsert struct {
	SubscriberAddress string
	ServiceObjectID   string
	TierLevel         uint64
	ExpiresAtMs       uint64
}

func (EventLogInsert) Kind() MutationKind     { return KindEventLog }
func (CreatorCreate) Kind() MutationKind      { return KindCreatorCreate }
func (CreatorSoftDelete) Kind() MutationKind  { return KindCreatorSoftDelete }
func (CreatorPatch) Kind() MutationKind       { return KindCreatorPatch }
func (PostUpsert) Kind() MutationKind         { return KindPostUpsert }
func (PostSoftDelete) Kind() MutationKind     { return KindPostSoftDelete }
func (SubscriptionUpsert) Kind() MutationKind { return KindSubscriptionUpsert }

// Stats summarizes what happened while processing one checkpoint
type Stats struct {
	Transactions int
	Events       int
	Decoded      map[events.Kind]int
	DecodeErrors int
	Unresolved   int
}

// Result is the output of processing one checkpoint
type Result struct {
	Sequence  uint64
	Timestamp time.Time
	Mutations []Mutation
	Stats     Stats
}
