package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/engine"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/kms"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/pii"
)

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Data-subject requests",
	}

	export := &cobra.Command{
		Use:   "export <user-id>",
		Short: "Export every item owned by a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				data, err := e.SecureStore.ExportUserData(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), data)
			})
		},
	}

	erase := &cobra.Command{
		Use:   "erase <user-id>",
		Short: "Erase every item owned by a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				n, err := e.SecureStore.DeleteUserData(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "erased %d item(s) for %s\n", n, args[0])
				return err
			})
		},
	}

	cmd.AddCommand(export, erase)
	return cmd
}

func newStoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect the secure store",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List live keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				keys, err := e.SecureStore.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, k := range keys {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), k); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	record := &cobra.Command{
		Use:   "record <key>",
		Short: "Show the processing record of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				rec, err := e.SecureStore.GetProcessingRecord(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			})
		},
	}

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Remove expired items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				p, err := e.Coordinator.RunOnce(cmd.Context(), engine.ExpirySweepProcess, e.SecureStore.PurgeExpired)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired item(s)\n", p.Processed)
				return err
			})
		},
	}

	cmd.AddCommand(list, record, purge)
	return cmd
}

func readRecord(cmd *cobra.Command, path string) (map[string]any, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var record map[string]any
	if err := json.NewDecoder(r).Decode(&record); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return record, nil
}

func newPIICmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pii",
		Short: "Inspect PII in JSON records",
	}

	scan := &cobra.Command{
		Use:   "scan <file|->",
		Short: "Detect PII and derive a classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := readRecord(cmd, args[0])
			if err != nil {
				return err
			}
			detections := pii.NewDetector().DetectPII(record)
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"detections":     detections,
				"classification": pii.Classify(pii.Types(detections)),
			})
		},
	}

	var salt string
	anonymize := &cobra.Command{
		Use:   "anonymize <file|->",
		Short: "Mask PII in a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := readRecord(cmd, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), pii.NewAnonymizer(salt).Anonymize(record))
		},
	}
	anonymize.Flags().StringVar(&salt, "salt", "", "salt for stable pseudonyms (values are redacted without it)")

	var keyContext string
	pseudonymize := &cobra.Command{
		Use:   "pseudonymize <file|->",
		Short: "Replace PII with tokens backed by encrypted envelopes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := readRecord(cmd, args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				out, tokens, err := e.Pseudonymizer.Pseudonymize(cmd.Context(), record, keyContext)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"record": out, "tokens": tokens})
			})
		},
	}
	pseudonymize.Flags().StringVar(&keyContext, "context", "pseudonym", "key context for the envelopes")

	cmd.AddCommand(scan, anonymize, pseudonymize)
	return cmd
}

func newKMSCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kms",
		Short: "Manage the KMS-wrapped application secret",
	}

	wrap := &cobra.Command{
		Use:   "wrap-secret",
		Short: "Wrap a secret read from stdin with the configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadSettings(); err != nil {
				return err
			}
			secret, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			p, err := kms.NewProvider(cmd.Context(), a.settings.Secret.ToConfig())
			if err != nil {
				return err
			}
			wrapped, err := kms.WrapSecret(cmd.Context(), p, trimNewline(secret))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), wrapped)
			return err
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the secret settings with credentials masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadSettings(); err != nil {
				return err
			}
			s := a.settings.Secret
			out := map[string]any{
				"provider":      s.Provider,
				"keyId":         s.KeyID,
				"region":        s.Region,
				"vaultAddress":  s.VaultAddress,
				"wrappedSecret": s.WrappedSecret != "",
				"plainSecret":   s.Secret != "",
			}
			if s.Credentials != nil {
				out["credentials"] = s.Credentials.Masked()
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Round-trip a test value through the configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadSettings(); err != nil {
				return err
			}
			p, err := kms.NewProvider(cmd.Context(), a.settings.Secret.ToConfig())
			if err != nil {
				return err
			}
			if err := p.Check(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s provider ok (key %s)\n", p.Type(), p.KeyID())
			return err
		},
	}

	cmd.AddCommand(wrap, check, show)
	return cmd
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
