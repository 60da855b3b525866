package events

import (
	"fmt"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs"
)

// DecodeError reports a malformed payload for a recognised event type
type DecodeError struct {
	EventType string
	TxDigest  string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s in tx %s: %v", e.EventType, e.TxDigest, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type schema struct {
	suffix string
	kind   Kind
	decode func(r *bcs.Reader) (Event, error)
}

// schemas maps type tag suffixes to their field layouts
var schemas = []schema{
	{"::service::CreatorRegistered", KindCreatorRegistered, decodeCreatorRegistered},
	{"::service::CreatorDeleted", KindCreatorDeleted, decodeCreatorDeleted},
	{"::service::ProfileUpdated", KindProfileUpdated, decodeProfileUpdated},
	{"::service::PostPublished", KindPostPublished, decodePostPublished},
	{"::service::PostUpdated", KindPostUpdated, decodePostUpdated},
	{"::service::PostDeleted", KindPostDeleted, decodePostDeleted},
	{"::subscription::SubscriptionPurchased", KindSubscriptionPurchased, decodeSubscriptionPurchased},
	{"::subscription::SubscriptionRenewed", KindSubscriptionRenewed, decodeSubscriptionRenewed},
	{"::service::SuinsNameLinked", KindSuinsNameLinked, decodeSuinsNameLinked},
}

// Decoder turns raw events of one namespace into typed events
type Decoder struct {
	ns Namespace
}

// NewDecoder returns a decoder for events published by ns
func NewDecoder(ns Namespace) *Decoder {
	return &Decoder{ns: ns}
}

// Namespace returns the namespace the decoder was built with
func (d *Decoder) Namespace() Namespace {
	return d.ns
}

// Decode returns ok=false for events outside the namespace or of an unknown
// type. A recognised event with a malformed payload yields a *DecodeError.
func (d *Decoder) Decode(raw Raw, txDigest string) (ev Event, ok bool, err error) {
	if !d.ns.Owns(raw.Type) {
		return nil, false, nil
	}
	for _, s := range schemas {
		if !d.ns.Matches(raw.Type, s.suffix) {
			continue
		}
		ev, err := s.decode(bcs.NewReader(raw.Contents))
		if err != nil {
			return nil, true, &DecodeError{EventType: raw.Type, TxDigest: txDigest, Err: err}
		}
		return ev, true, nil
	}
	return nil, false, nil
}

func decodeCreatorRegistered(r *bcs.Reader) (Event, error) {
	var ev CreatorRegistered
	var err error
	if ev.Creator, err = r.ReadAddress(); err != nil {
		return nil, err
	}
	if ev.Name, err = r.ReadString(); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeCreatorDeleted(r *bcs.Reader) (Event, error) {
	creator, err := r.ReadAddress()
	if err != nil {
		return nil, err
	}
	return CreatorDeleted{Creator: creator}, nil
}

func decodeProfileUpdated(r *bcs.Reader) (Event, error) {
	var ev ProfileUpdated
	var err error
	if ev.Creator, err = r.ReadAddress(); err != nil {
		return nil, err
	}
	if ev.Name, err = r.ReadString(); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodePostPublished(r *bcs.Reader) (Event, error) {
	var ev PostPublished
	var err error
	if ev.Creator, err = r.ReadAddress(); err != nil {
		return nil, err
	}
	if ev.PostID, err = r.ReadVarint(); err != nil {
		return nil, err
	}
	if ev.RequiredTier, err = r.ReadVarint(); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodePostUpdated(r *bcs.Reader) (Event, error) {
	var ev PostUpdated
	var err error
	if ev.Creator, err = r.ReadAddress(); err != nil {
		return nil, err
	}
	if ev.PostID, err = r.ReadVarint(); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodePostDeleted(r *bcs.Reader) (Event, error) {
	var ev PostDeleted
	var err error
	if ev.Creator, err = r.ReadAddress(); err != nil {
		return nil, err
	}
	if ev.PostID, err = r.ReadVarint(); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeSubscriptionPurchased(r *bcs.Reader) (Event, error) {
	var ev SubscriptionPurchased
	var err error
	if ev.Subscriber, err = r.ReadAddress(); err != nil {
		return nil, err
	}
	if ev.Creator, err = r.ReadAddress(); err != nil {
		return nil, err
	}
	if ev.Tier, err = r.ReadVarint(); err != nil {
		return nil, err
	}
	if ev.ExpiresAtMs, err = r.ReadVarint(); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeSubscriptionRenewed(r *bcs.Reader) (Event, error) {
	var ev SubscriptionRenewed
	var err error
	if ev.Subscriber, err = r.ReadAddress(); err != nil {
		return nil, err
	}
	if ev.Creator, err = r.ReadAddress(); err != nil {
		return nil, err
	}
	if ev.Tier, err = r.ReadVarint(); err != nil {
		return nil, err
	}
	if ev.NewExpiresAtMs, err = r.ReadVarint(); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeSuinsNameLinked(r *bcs.Reader) (Event, error) {
	var ev SuinsNameLinked
	var err error
	if ev.Creator, err = r.ReadAddress(); err != nil {
		return nil, err
	}
	if ev.SuinsName, err = r.ReadString(); err != nil {
		return nil, err
	}
	if ev.ServiceID, err = r.ReadAddress(); err != nil {
		return nil, err
	}
	return ev, nil
}
