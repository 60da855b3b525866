// Package checkpointtest builds checkpoints and raw events for tests
package checkpointtest

import (
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs/bcstest"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/checkpoint"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/events"
)

// PackageID is the package the fixtures are published under
const PackageID = "0x778ecde37896bf33ce157208cbd90a3d7e42475de59875d66f9db34031258d12"

// Namespace is the namespace for PackageID
var Namespace = events.MustNamespace(PackageID)

// Type returns a fully qualified type tag in the fixture package
func Type(module, name string) string {
	return Namespace.Prefix() + module + "::" + name
}

// ServiceType is the fixture package's service object type
var ServiceType = Type("service", "Service")

func CreatorRegistered(creator bcs.Address, name string) events.Raw {
	return events.Raw{Type: Type("service", "CreatorRegistered"), Contents: bcstest.New().Address(creator).String(name).Bytes()}
}

func CreatorDeleted(creator bcs.Address) events.Raw {
	return events.Raw{Type: Type("service", "CreatorDeleted"), Contents: bcstest.New().Address(creator).Bytes()}
}

func ProfileUpdated(creator bcs.Address, name string) events.Raw {
	return events.Raw{Type: Type("service", "ProfileUpdated"), Contents: bcstest.New().Address(creator).String(name).Bytes()}
}

func PostPublished(creator bcs.Address, postID, tier uint64) events.Raw {
	return events.Raw{Type: Type("service", "PostPublished"), Contents: bcstest.New().Address(creator).Varint(postID).Varint(tier).Bytes()}
}

func PostUpdated(creator bcs.Address, postID uint64) events.Raw {
	return events.Raw{Type: Type("service", "PostUpdated"), Contents: bcstest.New().Address(creator).Varint(postID).Bytes()}
}

func PostDeleted(creator bcs.Address, postID uint64) events.Raw {
	return events.Raw{Type: Type("service", "PostDeleted"), Contents: bcstest.New().Address(creator).Varint(postID).Bytes()}
}

func SubscriptionPurchased(subscriber, creator bcs.Address, tier, expiresAtMs uint64) events.Raw {
	return events.Raw{Type: Type("subscription", "SubscriptionPurchased"), Contents: bcstest.New().Address(subscriber).Address(creator).Varint(tier).Varint(expiresAtMs).Bytes()}
}

func SubscriptionRenewed(subscriber, creator bcs.Address, tier, expiresAtMs uint64) events.Raw {
	return events.Raw{Type: Type("subscription", "SubscriptionRenewed"), Contents: bcstest.New().Address(subscriber).Address(creator).Varint(tier).Varint(expiresAtMs).Bytes()}
}

func SuinsNameLinked(creator bcs.Address, name string, service bcs.Address) events.Raw {
	return events.Raw{Type: Type("service", "SuinsNameLinked"), Contents: bcstest.New().Address(creator).String(name).Address(service).Bytes()}
}

// ServiceObject wraps an encoded service object as a transaction object
func ServiceObject(obj bcstest.ServiceObject) checkpoint.Object {
	return checkpoint.Object{ID: obj.ID, Type: ServiceType, Contents: obj.Encode()}
}

// EmptyService returns a service object with no tiers or posts
func EmptyService(id, owner bcs.Address) bcstest.ServiceObject {
	return bcstest.ServiceObject{ID: id, Owner: owner, Name: "creator"}
}

// Tx builds a transaction
func Tx(digest string, evs []events.Raw, inputs, outputs []checkpoint.Object) checkpoint.Transaction {
	return checkpoint.Transaction{Digest: digest, Events: evs, Inputs: inputs, Outputs: outputs}
}

// Checkpoint builds a checkpoint whose timestamp is derived from seq
func Checkpoint(seq uint64, txs ...checkpoint.Transaction) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{SequenceNumber: seq, TimestampMs: 1_700_000_000_000 + seq*1000, Transactions: txs}
}
