package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/haukened/docvault/internal/config"
)

// configError marks failures to load or validate configuration.
type configError struct{ err error }

func (e *configError) Error() string { return "configuration error: " + e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// cli carries state resolved once in PersistentPreRunE and shared by every
// subcommand.
type cli struct {
	cfg *config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "docvault",
		Short: "Encrypted document store",
		Long: `docvault stores JSON documents under string keys, sealed with AES-256-GCM
before they reach storage. Storing a key again replaces its document.

Run without a subcommand to start the HTTP service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	bindConfigFlags(root.PersistentFlags())
	root.AddCommand(c.serveCmd(), c.putCmd(), c.getCmd(), c.inspectCmd(), keygenCmd())
	return root
}

// bindConfigFlags declares one string flag per configuration key. Defaults
// are empty so only flags the user actually set override lower layers.
func bindConfigFlags(fs *pflag.FlagSet) {
	flags := []struct{ name, usage string }{
		{"addr", "listen address, e.g. :8080"},
		{"data-dir", "directory for the local SQLite database"},
		{"backend", "record store backend: sqlite or dynamodb"},
		{"encryption-key", "process secret; a random key is generated when empty"},
		{"key-derivation", "how the key is built from the secret: pad or hkdf"},
		{"max-bytes", "maximum request body size, e.g. 1MiB"},
		{"request-timeout", "per-request deadline, e.g. 10s"},
		{"log-level", "debug, info, warn or error"},
		{"log-format", "text or json"},
		{"metrics-token", "bearer token required by /metrics"},
		{"metrics-flush", "metrics flush interval, e.g. 5s"},
		{"dynamo-table", "DynamoDB table name"},
		{"dynamo-region", "DynamoDB region"},
		{"dynamo-endpoint", "DynamoDB endpoint override, e.g. http://localhost:8000"},
	}
	for _, f := range flags {
		fs.String(f.name, "", f.usage+" (env "+config.EnvPrefix+strings.ToUpper(strings.ReplaceAll(f.name, "-", "_"))+")")
	}
}

func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := config.LoadWithFlags(cmd.Flags())
	if err != nil {
		return &configError{err: err}
	}
	c.cfg = cfg
	c.log = newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(c.log)
	return nil
}

// newLogger builds the process logger. Unknown levels fall back to info.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
}
