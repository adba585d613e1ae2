package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/fragment"
	"github.com/roach88/strata/internal/invoke"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/reduce"
	"github.com/roach88/strata/internal/snapshot"
	"github.com/roach88/strata/internal/transport"
)

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	*RootOptions
	Params   []string
	Payload  []string
	Action   string
	Host     string
	BaseURL  string
	Database string
	Handler  string
}

// FetchResult is the outcome of one invoked action.
type FetchResult struct {
	Dataset  string            `json:"dataset"`
	Action   string            `json:"action"`
	Resolver string            `json:"resolver,omitempty"`
	Path     string            `json:"path"`
	ID       string            `json:"id,omitempty"`
	Cached   bool              `json:"cached"`
	Status   ir.Status         `json:"status,omitempty"`
	Data     any               `json:"data"`
	Loaded   *snapshot.Summary `json:"loaded,omitempty"`
	Saved    *snapshot.Summary `json:"saved,omitempty"`
}

func (r FetchResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.%s", r.Dataset, r.Action)
	if r.Resolver != "" {
		fmt.Fprintf(&b, " -> %s", r.Resolver)
	}
	fmt.Fprintf(&b, " %s", r.Path)
	if r.Cached {
		b.WriteString(" (cached)")
	}
	if r.Status != "" {
		fmt.Fprintf(&b, "\nstatus: %s", r.Status)
	}
	if r.Data != nil {
		data, err := json.MarshalIndent(r.Data, "", "  ")
		if err != nil {
			data = []byte(fmt.Sprint(r.Data))
		}
		fmt.Fprintf(&b, "\n%s", data)
	}
	if r.Saved != nil {
		fmt.Fprintf(&b, "\nsnapshot saved: %d store(s), %d slot(s), %d query(ies)",
			r.Saved.Stores, r.Saved.Slots, r.Saved.Queries)
	}
	return b.String()
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch <defs-dir> <dataset>",
		Short: "Invoke a dataset action against the backend",
		Long: `Invoke an action on a dataset and wait for its request to settle.

With --db the cache is loaded from the SQLite snapshot first and saved
back afterwards, so a fetch resolver can answer from a previous run.

Exit codes:
  0 - The action succeeded
  1 - The request failed or the stack could not be reduced
  2 - Command error (bad flags, unknown dataset, unreadable database)

Examples:
  strata fetch ./defs project --param projectId=7 --base-url https://api.example.com
  strata fetch ./defs project --param projectId=7 --action load --db ./cache.db
  strata fetch ./defs project --param projectId=7 --action update --set name=renamed`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.setup(cmd); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runFetch(ctx, opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "route param as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Payload, "set", nil, "payload field as key=value (repeatable)")
	cmd.Flags().StringVarP(&opts.Action, "action", "a", "get", "action to invoke")
	cmd.Flags().StringVar(&opts.Host, "host", "", "path prefix (default $STRATA_HOST)")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "backend base URL (default $STRATA_BASE_URL)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite snapshot to load and save (default $STRATA_DB)")
	cmd.Flags().StringVar(&opts.Handler, "handler", "", "import strategy nested|unnested (default $STRATA_IMPORT_HANDLER)")

	return cmd
}

func runFetch(ctx context.Context, opts *FetchOptions, defsDir, name string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	cfg := opts.settings()
	logger := opts.log()

	params, err := parseKeyValues(opts.Params)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadArgs, fmt.Errorf("--param: %w", err), nil)
	}
	payload, err := parseKeyValues(opts.Payload)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadArgs, fmt.Errorf("--set: %w", err), nil)
	}

	tr, err := newTransport(pick(opts.BaseURL, cfg.BaseURL), opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadArgs, err, nil)
	}

	s, err := newSession(logger, sessionConfig{
		defsDir:   defsDir,
		host:      pick(opts.Host, cfg.Host),
		handler:   pick(opts.Handler, cfg.ImportHandler),
		transport: tr,
	})
	if err != nil {
		return loadFailure(formatter, err)
	}

	node, err := s.node(name)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeUnknown, err, nil)
	}

	result := FetchResult{Dataset: name, Action: opts.Action}

	var db *snapshot.DB
	if dbPath := pick(opts.Database, cfg.DB); dbPath != "" {
		db, err = openSnapshot(dbPath, false, logger)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeSnapshot, err, nil)
		}
		defer db.Close()

		loaded, err := s.warm(ctx, db)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeSnapshot, err, nil)
		}
		result.Loaded = &loaded
		formatter.VerboseLog("Loaded snapshot %s: %d store(s), %d slot(s)", dbPath, loaded.Stores, loaded.Slots)
	}

	res, err := node.Invoke(ctx, opts.Action, params, payload)
	if err != nil {
		return invokeFailure(formatter, err)
	}
	result.Resolver = res.Resolver
	if res.Descriptor != nil {
		result.Path = res.Descriptor.Path
		result.ID = res.Descriptor.ID
	}

	if res.Resolver == "fetch" && res.Future == nil {
		result.Cached = true
		result.Status = res.Snapshot.Status
		result.Data = res.Snapshot.Data
	} else {
		value, err := res.Wait(ctx)
		if err != nil {
			return invokeFailure(formatter, err)
		}
		result.Data = value
		if res.Descriptor != nil {
			if st, ok := s.registry.Lookup(res.Descriptor.Type); ok {
				if snap, err := st.Fetch(res.Descriptor); err == nil {
					result.Status = snap.Status
				}
			}
		}
	}

	if db != nil {
		saved, err := db.Save(ctx, s.registry)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeSnapshot, err, nil)
		}
		result.Saved = &saved
	}

	return formatter.Success(result)
}

// invokeFailure reports an error from invoking or awaiting an action.
func invokeFailure(f *OutputFormatter, err error) error {
	var (
		re      *reduce.ResolutionError
		httpErr *transport.HTTPError
	)
	switch {
	case errors.As(err, &re):
		return resolveFailure(f, err)
	case errors.As(err, &httpErr):
		return f.Fail(ExitFailure, ErrCodeRequest, err, map[string]any{"status": httpErr.StatusCode, "body": httpErr.JSON})
	case fragment.IsIntegrityError(err):
		return f.Fail(ExitFailure, ErrCodeSnapshot, err, nil)
	case errors.Is(err, invoke.ErrNoTransport):
		return f.Fail(ExitCommandError, ErrCodeBadArgs, fmt.Errorf("%w (set --base-url or STRATA_BASE_URL)", err), nil)
	}
	return f.Fail(ExitFailure, ErrCodeRequest, err, nil)
}
