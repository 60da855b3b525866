package events_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs/bcstest"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/events"
)

const testPackage = "0x778ecde37896bf33ce157208cbd90a3d7e42475de59875d66f9db34031258d12"

func tag(module, name string) string {
	return testPackage + "::" + module + "::" + name
}

func TestDecodeAllSchemas(t *testing.T) {
	creator := bcstest.Addr(0xaa)
	subscriber := bcstest.Addr(0xcc)
	service := bcstest.Addr(0xbb)

	tests := []struct {
		name string
		raw  events.Raw
		want events.Event
	}{
		{
			"creator registered",
			events.Raw{Type: tag("service", "CreatorRegistered"), Contents: bcstest.New().Address(creator).String("alice").Bytes()},
			events.CreatorRegistered{Creator: creator, Name: "alice"},
		},
		{
			"creator deleted",
			events.Raw{Type: tag("service", "CreatorDeleted"), Contents: bcstest.New().Address(creator).Bytes()},
			events.CreatorDeleted{Creator: creator},
		},
		{
			"profile updated",
			events.Raw{Type: tag("service", "ProfileUpdated"), Contents: bcstest.New().Address(creator).String("alice2").Bytes()},
			events.ProfileUpdated{Creator: creator, Name: "alice2"},
		},
		{
			"post published",
			events.Raw{Type: tag("service", "PostPublished"), Contents: bcstest.New().Address(creator).Varint(300).Varint(2).Bytes()},
			events.PostPublished{Creator: creator, PostID: 300, RequiredTier: 2},
		},
		{
			"post updated",
			events.Raw{Type: tag("service", "PostUpdated"), Contents: bcstest.New().Address(creator).Varint(4).Bytes()},
			events.PostUpdated{Creator: creator, PostID: 4},
		},
		{
			"post deleted",
			events.Raw{Type: tag("service", "PostDeleted"), Contents: bcstest.New().Address(creator).Varint(5).Bytes()},
			events.PostDeleted{Creator: creator, PostID: 5},
		},
		{
			"subscription purchased",
			events.Raw{Type: tag("subscription", "SubscriptionPurchased"), Contents: bcstest.New().Address(subscriber).Address(creator).Varint(2).Varint(1000).Bytes()},
			events.SubscriptionPurchased{Subscriber: subscriber, Creator: creator, Tier: 2, ExpiresAtMs: 1000},
		},
		{
			"subscription renewed",
			events.Raw{Type: tag("subscription", "SubscriptionRenewed"), Contents: bcstest.New().Address(subscriber).Address(creator).Varint(2).Varint(500).Bytes()},
			events.SubscriptionRenewed{Subscriber: subscriber, Creator: creator, Tier: 2, NewExpiresAtMs: 500},
		},
		{
			"suins name linked",
			events.Raw{Type: tag("service", "SuinsNameLinked"), Contents: bcstest.New().Address(creator).String("alice.sui").Address(service).Bytes()},
			events.SuinsNameLinked{Creator: creator, SuinsName: "alice.sui", ServiceID: service},
		},
	}

	dec := events.NewDecoder(events.MustNamespace(testPackage))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := dec.Decode(tt.raw, "digest")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Kind(), got.Kind())
		})
	}
}

func TestDecodeIgnoresForeignEvents(t *testing.T) {
	dec := events.NewDecoder(events.MustNamespace(testPackage))

	foreign := []string{
		"0x2::coin::CoinCreated",
		"0x0000000000000000000000000000000000000000000000000000000000000abc::service::CreatorRegistered",
		tag("service", "SomethingElse"),
		tag("service", "Service"),
	}
	for _, typ := range foreign {
		ev, ok, err := dec.Decode(events.Raw{Type: typ, Contents: []byte{0xff}}, "digest")
		assert.NoError(t, err, typ)
		assert.False(t, ok, typ)
		assert.Nil(t, ev, typ)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	dec := events.NewDecoder(events.MustNamespace(testPackage))
	creator := bcstest.Addr(0xaa)

	tests := []struct {
		name    string
		raw     events.Raw
		wantErr error
	}{
		{"short address", events.Raw{Type: tag("service", "CreatorDeleted"), Contents: make([]byte, 10)}, bcs.ErrTruncated},
		{"missing varint", events.Raw{Type: tag("service", "PostPublished"), Contents: bcstest.New().Address(creator).Varint(1).Bytes()}, bcs.ErrTruncated},
		{"varint overflow", events.Raw{Type: tag("service", "PostDeleted"), Contents: bcstest.New().Address(creator).Raw(0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01).Bytes()}, bcs.ErrOverflow},
		{"bad utf8", events.Raw{Type: tag("service", "ProfileUpdated"), Contents: bcstest.New().Address(creator).Varint(1).Raw(0xff).Bytes()}, bcs.ErrInvalidEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok, err := dec.Decode(tt.raw, "tx-1")
			require.Error(t, err)
			assert.True(t, ok)
			assert.Nil(t, ev)
			assert.True(t, errors.Is(err, tt.wantErr), err.Error())

			var decodeErr *events.DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tt.raw.Type, decodeErr.EventType)
			assert.Equal(t, "tx-1", decodeErr.TxDigest)
		})
	}
}

func TestNamespace(t *testing.T) {
	ns, err := events.NewNamespace("0x2")
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000000002", ns.PackageID())
	assert.Equal(t, ns.PackageID()+"::", ns.Prefix())
	assert.True(t, ns.Matches(ns.Prefix()+"service::Service", "::service::Service"))
	assert.False(t, ns.Matches("0x3::service::Service", "::service::Service"))

	assert.True(t, ns.Owns("0x2::service::Service"))
	assert.True(t, ns.Owns("0x02::service::Service"))
	assert.False(t, ns.Owns("service::Service"))
	assert.False(t, ns.Owns("0xzz::service::Service"))

	_, err = events.NewNamespace("")
	assert.Error(t, err)
	_, err = events.NewNamespace("not-hex")
	assert.Error(t, err)
}

func TestDecodeShortFormTypeTags(t *testing.T) {
	creator := bcstest.Addr(0xaa)
	payload := bcstest.New().Address(creator).Bytes()

	tests := []struct {
		name      string
		packageID string
		typeTag   string
	}{
		{"short package", "0x2", "0x2::service::CreatorDeleted"},
		{"leading zeros stripped", "0x0abc", "0xabc::service::CreatorDeleted"},
		{"same spelling as configured", "0x0abc", "0x0abc::service::CreatorDeleted"},
		{"padded tag, short config", "0xabc", "0x0000000000000000000000000000000000000000000000000000000000000abc::service::CreatorDeleted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := events.NewDecoder(events.MustNamespace(tt.packageID))
			ev, ok, err := dec.Decode(events.Raw{Type: tt.typeTag, Contents: payload}, "tx-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, events.CreatorDeleted{Creator: creator}, ev)
		})
	}

	ev, ok, err := events.NewDecoder(events.MustNamespace("0x2")).Decode(events.Raw{Type: "0x3::service::CreatorDeleted", Contents: payload}, "tx-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ev)
}
