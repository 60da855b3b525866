package cmd

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/bcs/bcstest"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/checkpoint"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/checkpoint/checkpointtest"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/events"
)

func resetDecodeFlags(t *testing.T) {
	t.Cleanup(func() {
		decodeType = ""
		decodePackage = ""
		cfg.Indexer.PackageID = ""
	})
}

func TestNamespaceForFallsBackToTypeTag(t *testing.T) {
	resetDecodeFlags(t)

	ns, err := namespaceFor(checkpointtest.Type("service", "PostDeleted"))
	require.NoError(t, err)
	assert.Equal(t, checkpointtest.PackageID, ns.PackageID())

	decodePackage = "0x2"
	ns, err = namespaceFor(checkpointtest.Type("service", "PostDeleted"))
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000000002", ns.PackageID())

	decodePackage = ""
	_, err = namespaceFor("")
	assert.Error(t, err)
}

func TestDecodeHex(t *testing.T) {
	b, err := decodeHex(" 0x0a0b ")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x0b}, b)

	_, err = decodeHex("zz")
	assert.Error(t, err)
}

func TestDecodeEventCommand(t *testing.T) {
	resetDecodeFlags(t)

	raw := checkpointtest.CreatorRegistered(bcstest.Addr(0xaa), "alice")
	decodeType = raw.Type

	var out bytes.Buffer
	decodeEventCmd.SetOut(&out)
	require.NoError(t, decodeEventCmd.RunE(decodeEventCmd, []string{hex.EncodeToString(raw.Contents)}))

	var got struct {
		Kind  string                 `json:"kind"`
		Event map[string]interface{} `json:"event"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "CreatorRegistered", got.Kind)
	assert.Equal(t, "alice", got.Event["Name"])
	assert.Equal(t, bcstest.Addr(0xaa).String(), got.Event["Creator"])
}

func TestDecodeEventCommandRejectsUnknownType(t *testing.T) {
	resetDecodeFlags(t)

	decodeType = checkpointtest.Type("service", "Unknown")
	var out bytes.Buffer
	decodeEventCmd.SetOut(&out)
	assert.Error(t, decodeEventCmd.RunE(decodeEventCmd, []string{"00"}))
}

func TestDecodeCheckpointCommand(t *testing.T) {
	resetDecodeFlags(t)
	cfg.Indexer.PackageID = checkpointtest.PackageID

	creator := bcstest.Addr(0xaa)
	service := checkpointtest.ServiceObject(checkpointtest.EmptyService(bcstest.Addr(0xbb), creator))
	cp := checkpointtest.Checkpoint(7,
		checkpointtest.Tx("digest-1",
			[]events.Raw{checkpointtest.CreatorRegistered(creator, "alice")},
			nil, []checkpoint.Object{service}),
	)

	raw, err := json.Marshal(cp)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cp.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	var out bytes.Buffer
	decodeCheckpointCmd.SetOut(&out)
	require.NoError(t, decodeCheckpointCmd.RunE(decodeCheckpointCmd, []string{path}))

	var got struct {
		Checkpoint uint64 `json:"checkpoint"`
		Mutations  []struct {
			Kind string `json:"kind"`
		} `json:"mutations"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, uint64(7), got.Checkpoint)

	var kinds []string
	for _, m := range got.Mutations {
		kinds = append(kinds, m.Kind)
	}
	assert.ElementsMatch(t, []string{"event_log", "creator_create"}, kinds)
}

func TestReadCheckpointFileErrors(t *testing.T) {
	_, err := readCheckpointFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = readCheckpointFile(path)
	assert.Error(t, err)
}
