// Package checkpoint turns finalized checkpoints into ordered store mutations
package checkpoint

import (
	"time"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/events"
)

// Object is an on-chain object as seen by one transaction. Contents is nil
// for objects that are not Move structs.
type Object struct {
	ID       bcs.Address `json:"id"`
	Type     string      `json:"type"`
	Contents []byte      `json:"contents,omitempty"`
}

// Transaction is an executed transaction with its emitted events and the
// objects it read and produced.
type Transaction struct {
	Digest  string       `json:"digest"`
	Events  []events.Raw `json:"events"`
	Inputs  []Object     `json:"inputs"`
	Outputs []Object     `json:"outputs"`
}

// InputObjects returns the objects read by the transaction
func (t *Transaction) InputObjects() []Object {
	return t.Inputs
}

// OutputObjects returns the objects created or mutated by the transaction
func (t *Transaction) OutputObjects() []Object {
	return t.Outputs
}

// Checkpoint is one finalized batch of transactions
type Checkpoint struct {
	SequenceNumber uint64        `json:"sequence_number"`
	TimestampMs    uint64        `json:"timestamp_ms"`
	Transactions   []Transaction `json:"transactions"`
}

// Time returns the checkpoint timestamp
func (c *Checkpoint) Time() time.Time {
	return time.UnixMilli(int64(c.TimestampMs)).UTC()
}
