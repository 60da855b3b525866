// Package events decodes the creator platform's Move events from their raw
// on-chain encoding into typed values.
package events

import (
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs"
)

// Kind names one of the known event schemas
type Kind string

// Event kinds, named after the Move struct of each event
const (
	KindCreatorRegistered     Kind = "CreatorRegistered"
	KindCreatorDeleted        Kind = "CreatorDeleted"
	KindProfileUpdated        Kind = "ProfileUpdated"
	KindPostPublished         Kind = "PostPublished"
	KindPostUpdated           Kind = "PostUpdated"
	KindPostDeleted           Kind = "PostDeleted"
	KindSubscriptionPurchased Kind = "SubscriptionPurchased"
	KindSubscriptionRenewed   Kind = "SubscriptionRenewed"
	KindSuinsNameLinked       Kind = "SuinsNameLinked"
)

// Raw is an event as emitted by a transaction: its fully qualified Move type
// and its encoded contents.
type Raw struct {
	Type     string `json:"type"`
	Contents []byte `json:"contents"`
}

// Event is implemented by the nine decoded event types only
type Event interface {
	Kind() Kind
	isEvent()
}

// CreatorRegistered is emitted when an address creates its service
type CreatorRegistered struct {
	Creator bcs.Address
	Name    string
}

// CreatorDeleted is emitted when a creator removes their service
type CreatorDeleted struct {
	Creator bcs.Address
}

// ProfileUpdated carries the new display name of a creator
type ProfileUpdated struct {
	Creator bcs.Address
	Name    string
}

// PostPublished announces a post; its tier overrides the one stored on the object
type PostPublished struct {
	Creator      bcs.Address
	PostID       uint64
	RequiredTier uint64
}

// PostUpdated signals that a post changed; the new fields live on the service object
type PostUpdated struct {
	Creator bcs.Address
	PostID  uint64
}

// PostDeleted removes one post of a creator
type PostDeleted struct {
	Creator bcs.Address
	PostID  uint64
}

// SubscriptionPurchased is a first subscription of subscriber to creator
type SubscriptionPurchased struct {
	Subscriber  bcs.Address
	Creator     bcs.Address
	Tier        uint64
	ExpiresAtMs uint64
}

// SubscriptionRenewed replaces the tier and expiry of a subscription
type SubscriptionRenewed struct {
	Subscriber     bcs.Address
	Creator        bcs.Address
	Tier           uint64
	NewExpiresAtMs uint64
}

// SuinsNameLinked links a SuiNS name to the creator of ServiceID
type SuinsNameLinked struct {
	Creator   bcs.Address
	SuinsName string
	ServiceID bcs.Address
}

func (CreatorRegistered) Kind() Kind     { return KindCreatorRegistered }
func (CreatorDeleted) Kind() Kind        { return KindCreatorDeleted }
func (ProfileUpdated) Kind() Kind        { return KindProfileUpdated }
func (PostPublished) Kind() Kind         { return KindPostPublished }
func (PostUpdated) Kind() Kind           { return KindPostUpdated }
func (PostDeleted) Kind() Kind           { return KindPostDeleted }
func (SubscriptionPurchased) Kind() Kind { return KindSubscriptionPurchased }
func (SubscriptionRenewed) Kind() Kind   { return KindSubscriptionRenewed }
func (SuinsNameLinked) Kind() Kind       { return KindSuinsNameLinked }

func (CreatorRegistered) isEvent()     {}
func (CreatorDeleted) isEvent()        {}
func (ProfileUpdated) isEvent()        {}
func (PostPublished) isEvent()         {}
func (PostUpdated) isEvent()           {}
func (PostDeleted) isEvent()           {}
func (SubscriptionPurchased) isEvent() {}
func (SubscriptionRenewed) isEvent()   {}
func (SuinsNameLinked) isEvent()       {}
