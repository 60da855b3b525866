// Package onchain decodes the creator platform's on-chain objects
package onchain

import (
	"github.com/pkg/errors"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs"
)

// ServiceTypeSuffix identifies the service object type within a package
const ServiceTypeSuffix = "::service::Service"

// Tier is a subscription tier as stored on the service object. Only Level is
// used downstream; the rest is decoded to keep the cursor aligned.
type Tier struct {
	Level uint64
	Name  string
	Price uint64
	Flags uint64
}

// Post is a post record as stored on the service object
type Post struct {
	PostID       uint64
	Title        string
	MetadataRef  string
	DataRef      string
	RequiredTier uint64
	CreatedAtMs  uint64
}

// ServiceObject is a decoded snapshot of a creator's service object
type ServiceObject struct {
	ID          bcs.Address
	Owner       bcs.Address
	Name        string
	Description string
	Avatar      string
	Tiers       []Tier
	Posts       []Post
}

// DecodeServiceObject decodes the full object layout. Any malformed field
// fails the whole decode.
func DecodeServiceObject(contents []byte) (*ServiceObject, error) {
	r := bcs.NewReader(contents)
	obj := &ServiceObject{}

	var err error
	if obj.ID, err = r.ReadAddress(); err != nil {
		return nil, errors.Wrap(err, "service object id")
	}
	if obj.Owner, err = r.ReadAddress(); err != nil {
		return nil, errors.Wrap(err, "service object owner")
	}
	if obj.Name, err = r.ReadString(); err != nil {
		return nil, errors.Wrap(err, "service object name")
	}
	if obj.Description, err = r.ReadString(); err != nil {
		return nil, errors.Wrap(err, "service object description")
	}
	if obj.Avatar, err = r.ReadString(); err != nil {
		return nil, errors.Wrap(err, "service object avatar")
	}

	tierCount, err := r.ReadLength()
	if err != nil {
		return nil, errors.Wrap(err, "tier count")
	}
	obj.Tiers = make([]Tier, 0, tierCount)
	for i := 0; i < tierCount; i++ {
		tier, err := readTier(r)
		if err != nil {
			return nil, errors.Wrapf(err, "tier %d", i)
		}
		obj.Tiers = append(obj.Tiers, tier)
	}

	postCount, err := r.ReadLength()
	if err != nil {
		return nil, errors.Wrap(err, "post count")
	}
	obj.Posts = make([]Post, 0, postCount)
	for i := 0; i < postCount; i++ {
		post, err := readPost(r)
		if err != nil {
			return nil, errors.Wrapf(err, "post %d", i)
		}
		obj.Posts = append(obj.Posts, post)
	}

	return obj, nil
}

func readTier(r *bcs.Reader) (Tier, error) {
	var t Tier
	var err error
	if t.Level, err = r.ReadVarint(); err != nil {
		return t, err
	}
	if t.Name, err = r.ReadString(); err != nil {
		return t, err
	}
	if t.Price, err = r.ReadVarint(); err != nil {
		return t, err
	}
	if t.Flags, err = r.ReadVarint(); err != nil {
		return t, err
	}
	return t, nil
}

func readPost(r *bcs.Reader) (Post, error) {
	var p Post
	var err error
	if p.PostID, err = r.ReadVarint(); err != nil {
		return p, err
	}
	if p.Title, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.MetadataRef, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.DataRef, err = r.ReadString(); err != nil {
		return p, err
	}
	if p.RequiredTier, err = r.ReadVarint(); err != nil {
		return p, err
	}
	if p.CreatedAtMs, err = r.ReadVarint(); err != nil {
		return p, err
	}
	return p, nil
}

// FindByID returns the first post with the given id
func (s *ServiceObject) FindByID(postID uint64) (Post, bool) {
	for _, p := range s.Posts {
		if p.PostID == postID {
			return p, true
		}
	}
	return Post{}, false
}

// FindLatestByID returns the last post with the given id, with its required
// tier replaced by requiredTier. Later records supersede earlier ones.
func (s *ServiceObject) FindLatestByID(postID, requiredTier uint64) (Post, bool) {
	for i := len(s.Posts) - 1; i >= 0; i-- {
		if s.Posts[i].PostID == postID {
			p := s.Posts[i]
			p.RequiredTier = requiredTier
			return p, true
		}
	}
	return Post{}, false
}
