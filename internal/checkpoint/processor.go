package checkpoint

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/events"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/onchain"
)

// ErrUnresolvedObject is returned when an event's supporting object is not
// in the expected object set, or cannot be decoded.
var ErrUnresolvedObject = errors.New("supporting object not resolved")

// Processor converts checkpoints into mutations. It holds no mutable state and
// is safe to call from several goroutines.
type Processor struct {
	ns      events.Namespace
	decoder *events.Decoder
}

// NewProcessor returns a processor scoped to the package in ns
func NewProcessor(ns events.Namespace) *Processor {
	return &Processor{
		ns:      ns,
		decoder: events.NewDecoder(ns),
	}
}

// Process returns the mutations for one checkpoint, in transaction order and,
// within a transaction, in event emission order.
func (p *Processor) Process(cp *Checkpoint) *Result {
	res := &Result{
		Sequence:  cp.SequenceNumber,
		Timestamp: cp.Time(),
		Stats:     Stats{Decoded: make(map[events.Kind]int)},
	}

	for i := range cp.Transactions {
		tx := &cp.Transactions[i]
		res.Stats.Transactions++
		res.Mutations = append(res.Mutations, EventLogInsert{
			Checkpoint: cp.SequenceNumber,
			TxDigest:   tx.Digest,
		})

		for _, raw := range tx.Events {
			res.Stats.Events++
			ev, ok, err := p.decoder.Decode(raw, tx.Digest)
			if !ok {
				continue
			}
			if err != nil {
				res.Stats.DecodeErrors++
				log.Warn().
					Err(err).
					Str("event_type", raw.Type).
					Str("tx_digest", tx.Digest).
					Uint64("checkpoint", cp.SequenceNumber).
					Msg("Dropping undecodable event")
				continue
			}
			res.Stats.Decoded[ev.Kind()]++

			m, err := p.mutationFor(ev, tx)
			if err != nil {
				res.Stats.Unresolved++
				log.Debug().
					Err(err).
					Str("event_type", string(ev.Kind())).
					Str("tx_digest", tx.Digest).
					Uint64("checkpoint", cp.SequenceNumber).
					Msg("Dropping event without supporting object")
				continue
			}
			res.Mutations = append(res.Mutations, m)
		}
	}

	return res
}

func (p *Processor) mutationFor(ev events.Event, tx *Transaction) (Mutation, error) {
	switch e := ev.(type) {
	case events.CreatorRegistered:
		obj, err := p.serviceObject(tx.OutputObjects(), tx.Digest)
		if err != nil {
			return nil, err
		}
		return CreatorCreate{
			ServiceObjectID: obj.ID.String(),
			CreatorAddress:  e.Creator.String(),
			Name:            e.Name,
		}, nil

	case events.CreatorDeleted:
		return CreatorSoftDelete{CreatorAddress: e.Creator.String()}, nil

	case events.ProfileUpdated:
		name := e.Name
		return CreatorPatch{CreatorAddress: e.Creator.String(), Name: &name}, nil

	case events.SuinsNameLinked:
		alias := e.SuinsName
		return CreatorPatch{CreatorAddress: e.Creator.String(), SuinsName: &alias}, nil

	case events.PostPublished:
		obj, svc, err := p.decodedServiceObject(tx.OutputObjects(), tx.Digest)
		if err != nil {
			return nil, err
		}
		post, ok := svc.FindLatestByID(e.PostID, e.RequiredTier)
		if !ok {
			return nil, errors.Wrapf(ErrUnresolvedObject, "post %d not on service object %s", e.PostID, obj.ID)
		}
		return postUpsert(obj.ID.String(), post), nil

	case events.PostUpdated:
		obj, svc, err := p.decodedServiceObject(tx.OutputObjects(), tx.Digest)
		if err != nil {
			return nil, err
		}
		post, ok := svc.FindByID(e.PostID)
		if !ok {
			return nil, errors.Wrapf(ErrUnresolvedObject, "post %d not on service object %s", e.PostID, obj.ID)
		}
		return postUpsert(obj.ID.String(), post), nil

	case events.PostDeleted:
		obj, err := p.serviceObject(tx.OutputObjects(), tx.Digest)
		if err != nil {
			return nil, err
		}
		return PostSoftDelete{ServiceObjectID: obj.ID.String(), PostID: e.PostID}, nil

	case events.SubscriptionPurchased:
		obj, err := p.serviceObject(tx.InputObjects(), tx.Digest)
		if err != nil {
			return nil, err
		}
		return SubscriptionUpsert{
			SubscriberAddress: e.Subscriber.String(),
			ServiceObjectID:   obj.ID.String(),
			TierLevel:         e.Tier,
			ExpiresAtMs:       e.ExpiresAtMs,
		}, nil

	case events.SubscriptionRenewed:
		obj, err := p.serviceObject(tx.InputObjects(), tx.Digest)
		if err != nil {
			return nil, err
		}
		return SubscriptionUpsert{
			SubscriberAddress: e.Subscriber.String(),
			ServiceObjectID:   obj.ID.String(),
			TierLevel:         e.Tier,
			ExpiresAtMs:       e.NewExpiresAtMs,
		}, nil
	}

	return nil, errors.Errorf("unhandled event kind %s", ev.Kind())
}

// serviceObject returns the first service object in set order
func (p *Processor) serviceObject(objects []Object, txDigest string) (*Object, error) {
	var found *Object
	matches := 0
	for i := range objects {
		if p.ns.Matches(objects[i].Type, onchain.ServiceTypeSuffix) {
			if found == nil {
				found = &objects[i]
			}
			matches++
		}
	}
	if found == nil {
		return nil, errors.Wrap(ErrUnresolvedObject, "no service object in transaction")
	}
	if matches > 1 {
		log.Warn().
			Str("tx_digest", txDigest).
			Int("matches", matches).
			Str("object_id", found.ID.String()).
			Msg("Multiple service objects in transaction, using the first")
	}
	return found, nil
}

func (p *Processor) decodedServiceObject(objects []Object, txDigest string) (*Object, *onchain.ServiceObject, error) {
	obj, err := p.serviceObject(objects, txDigest)
	if err != nil {
		return nil, nil, err
	}
	if obj.Contents == nil {
		return nil, nil, errors.Wrapf(ErrUnresolvedObject, "service object %s has no contents", obj.ID)
	}
	svc, err := onchain.DecodeServiceObject(obj.Contents)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrUnresolvedObject, "decode service object %s: %v", obj.ID, err)
	}
	return obj, svc, nil
}

func postUpsert(serviceObjectID string, post onchain.Post) PostUpsert {
	return PostUpsert{
		ServiceObjectID: serviceObjectID,
		PostID:          post.PostID,
		Title:           post.Title,
		MetadataBlobID:  post.MetadataRef,
		DataBlobID:      post.DataRef,
		RequiredTier:    post.RequiredTier,
		CreatedAtMs:     post.CreatedAtMs,
	}
}
