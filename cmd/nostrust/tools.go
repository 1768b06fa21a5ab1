package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/spf13/cobra"

	"github.com/karipov/nostrust/pkg/attestation"
	"github.com/karipov/nostrust/pkg/event"
	"github.com/karipov/nostrust/pkg/message"
)

func newMeasureCmd() *cobra.Command {
	var (
		path    string
		gramine string
	)
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Print the code measurement published in the relay descriptor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var m attestation.Measurer = attestation.ExecutableMeasurer{Path: path}
			if gramine != "" {
				m = attestation.GramineMeasurer{Dir: gramine}
			}
			sum, err := m.Measure(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), attestation.Hex(sum))
			return err
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "binary to measure (default: this executable)")
	cmd.Flags().StringVar(&gramine, "gramine-dir", "", "read MRENCLAVE from this attestation directory instead")
	return cmd
}

func newSignCmd() *cobra.Command {
	var (
		keyHex    string
		kind      int
		content   string
		tags      []string
		createdAt int64
		wrap      bool
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Build a signed event for manual testing",
		Long: `Build a signed event. Without --key a fresh key is generated and its
private half is printed to stderr. Tags are given as name=value.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, err := signingKey(cmd, keyHex)
			if err != nil {
				return err
			}
			tagList, err := parseTags(tags)
			if err != nil {
				return err
			}
			if createdAt == 0 {
				createdAt = time.Now().Unix()
			}
			e, err := event.NewSigned(priv, kind, tagList, content, createdAt)
			if err != nil {
				return err
			}

			var out any = e
			if wrap {
				out = message.Event{Event: e}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&keyHex, "key", os.Getenv("NOSTRUST_SIGNING_KEY"), "hex private key")
	cmd.Flags().IntVar(&kind, "kind", 1, "event kind")
	cmd.Flags().StringVar(&content, "content", "", "event content")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag as name=value (repeatable)")
	cmd.Flags().Int64Var(&createdAt, "created-at", 0, "unix timestamp (default: now)")
	cmd.Flags().BoolVar(&wrap, "message", false, "wrap the event in an Event client message")
	return cmd
}

// signingKey parses keyHex, or generates a key and reports it on stderr.
func signingKey(cmd *cobra.Command, keyHex string) (*btcec.PrivateKey, error) {
	if keyHex != "" {
		return event.ParsePrivateKey(keyHex)
	}
	priv, err := event.GenerateKey()
	if err != nil {
		return nil, err
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "generated key %s\n", hex.EncodeToString(priv.Serialize()))
	return priv, nil
}

func parseTags(raw []string) ([][]string, error) {
	tags := make([][]string, 0, len(raw))
	for _, t := range raw {
		name, value, ok := strings.Cut(t, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("tag %q must be name=value", t)
		}
		tags = append(tags, []string{name, value})
	}
	return tags, nil
}
