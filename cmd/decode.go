package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/checkpoint"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/events"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/onchain"
)

var (
	decodeType    string
	decodePackage string
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode raw payloads offline",
}

var decodeEventCmd = &cobra.Command{
	Use:   "event <hex>",
	Short: "Decode one event payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if decodeType == "" {
			return errors.New("--type is required")
		}
		payload, err := decodeHex(args[0])
		if err != nil {
			return err
		}
		ns, err := namespaceFor(decodeType)
		if err != nil {
			return err
		}

		ev, ok, err := events.NewDecoder(ns).Decode(events.Raw{Type: decodeType, Contents: payload}, "")
		if err != nil {
			return err
		}
		if !ok {
			return errors.Errorf("%s is not a known event type of package %s", decodeType, ns.PackageID())
		}
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"kind":  ev.Kind(),
			"event": ev,
		})
	},
}

var decodeObjectCmd = &cobra.Command{
	Use:   "object <hex>",
	Short: "Decode the contents of a service object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contents, err := decodeHex(args[0])
		if err != nil {
			return err
		}
		obj, err := onchain.DecodeServiceObject(contents)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), obj)
	},
}

var decodeCheckpointCmd = &cobra.Command{
	Use:   "checkpoint <file>",
	Short: "Print the mutations a checkpoint file would produce, without writing them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cp, err := readCheckpointFile(args[0])
		if err != nil {
			return err
		}
		ns, err := namespaceFor("")
		if err != nil {
			return err
		}

		res := checkpoint.NewProcessor(ns).Process(cp)
		mutations := make([]map[string]interface{}, 0, len(res.Mutations))
		for _, m := range res.Mutations {
			mutations = append(mutations, map[string]interface{}{
				"kind":     m.Kind().String(),
				"mutation": m,
			})
		}
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"checkpoint": res.Sequence,
			"timestamp":  res.Timestamp,
			"stats":      res.Stats,
			"mutations":  mutations,
		})
	},
}

func init() {
	decodeCmd.PersistentFlags().StringVar(&decodePackage, "package", "", "package id (defaults to indexer.package_id)")
	decodeEventCmd.Flags().StringVar(&decodeType, "type", "", "fully qualified event type, e.g. 0x2::service::PostPublished")

	decodeCmd.AddCommand(decodeEventCmd, decodeObjectCmd, decodeCheckpointCmd)
	rootCmd.AddCommand(decodeCmd)
}

// namespaceFor picks the package from --package, then config, then the
// address part of typeTag
func namespaceFor(typeTag string) (events.Namespace, error) {
	pkg := decodePackage
	if pkg == "" {
		pkg = cfg.Indexer.PackageID
	}
	if pkg == "" {
		if i := strings.Index(typeTag, "::"); i > 0 {
			pkg = typeTag[:i]
		}
	}
	return events.NewNamespace(pkg)
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "payload is not hex")
	}
	return b, nil
}

func readCheckpointFile(path string) (*checkpoint.Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &cp, nil
}

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
