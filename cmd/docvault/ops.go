package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/haukened/docvault/internal/app"
	"github.com/haukened/docvault/internal/cipher"
	"github.com/haukened/docvault/internal/config"
)

// errNoKey is returned by put and get when no encryption key is configured.
// Only serve falls back to a random key.
var errNoKey = errors.New("put and get require " + config.EnvPrefix + "ENCRYPTION_KEY (or --encryption-key)")

// withService opens the runtime and cipher for the duration of fn.
func (c *cli) withService(ctx context.Context, fn func(*app.Service, *runtime) error) error {
	if c.cfg.EncryptionKey == "" {
		return &configError{err: errNoKey}
	}
	rt, err := openRuntime(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer rt.Close()
	ciph, err := buildCipher(c.cfg, c.log)
	if err != nil {
		return err
	}
	return fn(app.New(rt.backend, ciph, nil), rt)
}

func (c *cli) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <document|->",
		Short: "Store a JSON document under key",
		Long: `Store a JSON document under key, replacing any existing document.
Pass "-" as the document to read it from standard input. A single trailing
newline (as added by echo or a here-doc) is removed; everything else is
stored verbatim.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, doc := args[0], args[1]
			if doc == "-" {
				b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), c.cfg.MaxBytes.Int64()+1))
				if err != nil {
					return fmt.Errorf("read document: %w", err)
				}
				if int64(len(b)) > c.cfg.MaxBytes.Int64() {
					return fmt.Errorf("document exceeds %d bytes", c.cfg.MaxBytes.Int64())
				}
				doc = trimFinalNewline(string(b))
			}
			return c.withService(cmd.Context(), func(svc *app.Service, _ *runtime) error {
				if err := svc.StoreDocument(cmd.Context(), key, doc); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓"), "document stored for key:", color.CyanString(key))
				return nil
			})
		},
	}
}

func trimFinalNewline(s string) string {
	if t, ok := strings.CutSuffix(s, "\r\n"); ok {
		return t
	}
	return strings.TrimSuffix(s, "\n")
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the document stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			return c.withService(cmd.Context(), func(svc *app.Service, _ *runtime) error {
				doc, found, err := svc.FetchDocument(cmd.Context(), key)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no document found for key: %s", key)
				}
				fmt.Fprintln(cmd.OutOrStdout(), doc)
				return nil
			})
		},
	}
}

func (c *cli) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <key>",
		Short: "Show record metadata without decrypting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			rt, err := openRuntime(cmd.Context(), c.cfg, c.log)
			if err != nil {
				return err
			}
			defer rt.Close()
			rec, found, err := rt.backend.Record(cmd.Context(), key)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no document found for key: %s", key)
			}
			out := cmd.OutOrStdout()
			label := color.New(color.FgCyan).SprintFunc()
			fmt.Fprintf(out, "%s %s\n", label("key:       "), rec.Key)
			fmt.Fprintf(out, "%s %s\n", label("created_at:"), rec.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "%s %s\n", label("updated_at:"), rec.UpdatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "%s %d bytes\n", label("sealed:    "), len(rec.Value))
			if n := len(rec.Value) - cipher.NonceSize - cipher.TagSize; n >= 0 {
				fmt.Fprintf(out, "%s %d bytes\n", label("plaintext: "), n)
			} else {
				fmt.Fprintf(out, "%s %s\n", label("plaintext: "), color.RedString("malformed blob"))
			}
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a random encryption key",
		Long: `Print a random 32-character key suitable for DOCVAULT_ENCRYPTION_KEY.
Keep it secret: anyone holding it can read every stored document.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seed, err := cipher.NewSeed(rand.Reader)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), seed)
			return nil
		},
	}
}
