package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/prefetch"
	"github.com/roach88/strata/internal/snapshot"
)

// PrefetchOptions holds flags for the prefetch command.
type PrefetchOptions struct {
	*RootOptions
	Database string
	Defs     string
	Handler  string
}

// PrefetchResult reports what a prefetch imported and saved.
type PrefetchResult struct {
	File     string           `json:"file"`
	Imported prefetch.Summary `json:"imported"`
	Saved    snapshot.Summary `json:"saved"`
}

func (r PrefetchResult) String() string {
	return fmt.Sprintf("✓ Prefetched %s: %d entr(ies), %d query(ies)\n  snapshot: %d store(s), %d slot(s), %d query(ies)",
		r.File, r.Imported.Entries, r.Imported.Queries, r.Saved.Stores, r.Saved.Slots, r.Saved.Queries)
}

// NewPrefetchCommand creates the prefetch command.
func NewPrefetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PrefetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prefetch <file>",
		Short: "Import a prefetch document into the snapshot",
		Long: `Import the entries and queries of a YAML or JSON prefetch document
into the cache and save it to the SQLite snapshot. The existing snapshot
is loaded first, so prefetches accumulate.

Types without a definition become shadow stores. Pass --defs to import
into defined stores instead.

Example:
  strata prefetch ./seed.yaml --db ./cache.db
  strata prefetch ./seed.json --db ./cache.db --defs ./defs`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.setup(cmd); err != nil {
				return err
			}
			return runPrefetch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite snapshot (default $STRATA_DB)")
	cmd.Flags().StringVar(&opts.Defs, "defs", "", "definitions directory")
	cmd.Flags().StringVar(&opts.Handler, "handler", "", "import strategy nested|unnested (default $STRATA_IMPORT_HANDLER)")

	return cmd
}

func runPrefetch(opts *PrefetchOptions, file string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := newFormatter(opts.RootOptions, cmd)
	cfg := opts.settings()
	logger := opts.log()

	dbPath := pick(opts.Database, cfg.DB)
	if dbPath == "" {
		return formatter.Fail(ExitCommandError, ErrCodeBadArgs, fmt.Errorf("--db is required (or set STRATA_DB)"), nil)
	}

	s, err := newSession(logger, sessionConfig{
		defsDir: opts.Defs,
		handler: pick(opts.Handler, cfg.ImportHandler),
	})
	if err != nil {
		return loadFailure(formatter, err)
	}

	db, err := openSnapshot(dbPath, false, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeSnapshot, err, nil)
	}
	defer db.Close()

	if _, err := s.warm(ctx, db); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSnapshot, err, nil)
	}

	loader := prefetch.New(s.registry, prefetch.WithImporter(s.importer), prefetch.WithLogger(logger))
	imported, err := loader.LoadFile(file)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodePrefetch, err, nil)
	}

	saved, err := db.Save(ctx, s.registry)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSnapshot, err, nil)
	}
	return formatter.Success(PrefetchResult{File: file, Imported: imported, Saved: saved})
}
