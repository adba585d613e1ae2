package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/fragment"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/snapshot"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Type     string
}

// InspectResult lists the stores of a snapshot.
type InspectResult struct {
	SavedAt int64                `json:"saved_at,omitempty"`
	Stores  []snapshot.StoreInfo `json:"stores"`
}

func (r InspectResult) String() string {
	var b strings.Builder
	if r.SavedAt > 0 {
		fmt.Fprintf(&b, "saved at %s\n", time.UnixMilli(r.SavedAt).UTC().Format(time.RFC3339))
	}
	if len(r.Stores) == 0 {
		b.WriteString("No stores in snapshot.")
		return b.String()
	}
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSHADOW\tPARAM\tSLOTS\tTOMBSTONES\tQUERIES")
	for _, s := range r.Stores {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%d\t%d\n", s.Type, s.Shadow, s.ParamID, s.Slots, s.Tombstones, s.Queries)
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// StoreState is the persisted cache of one store type.
type StoreState struct {
	Type string         `json:"type"`
	fragment.State
}

func (s StoreState) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "store %s: %d slot(s), %d query(ies)\n", s.Type, len(s.Slots), len(s.Queries))
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	for _, rec := range s.Slots {
		if rec.Tombstoned {
			fmt.Fprintf(tw, "  %s/%s\tdeleted\t%s\n", rec.Fragment, rec.ID, stamp(rec.Timestamp))
			continue
		}
		fmt.Fprintf(tw, "  %s/%s\t%s\t%s\t%s\n", rec.Fragment, rec.ID, rec.Status, stamp(rec.Timestamp), compact(rec.Data))
	}
	for _, rec := range s.Queries {
		if rec.Tombstoned {
			fmt.Fprintf(tw, "  %s\tdeleted\t%s\n", rec.Path, stamp(rec.Timestamp))
			continue
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", rec.Path, rec.Status, stamp(rec.Timestamp), strings.Join(rec.IDs, ","))
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func stamp(ts int64) string {
	switch ts {
	case ir.TimestampStale:
		return "stale"
	case ir.TimestampLoading:
		return "loading"
	}
	return fmt.Sprint(ts)
}

func compact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the contents of a cache snapshot",
		Long: `List the stores persisted in a SQLite snapshot with their slot,
tombstone and query counts. With --type, print every slot and query
of that store.

Examples:
  strata inspect --db ./cache.db
  strata inspect --db ./cache.db --type projects --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.setup(cmd); err != nil {
				return err
			}
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite snapshot (default $STRATA_DB)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "store type to dump")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := newFormatter(opts.RootOptions, cmd)

	dbPath := pick(opts.Database, opts.settings().DB)
	if dbPath == "" {
		return formatter.Fail(ExitCommandError, ErrCodeBadArgs, fmt.Errorf("--db is required (or set STRATA_DB)"), nil)
	}
	db, err := openSnapshot(dbPath, true, opts.log())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err, nil)
	}
	defer db.Close()

	stores, err := db.Stores(ctx)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSnapshot, err, nil)
	}

	if opts.Type == "" {
		savedAt, _, err := db.SavedAt(ctx)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeSnapshot, err, nil)
		}
		return formatter.Success(InspectResult{SavedAt: savedAt, Stores: stores})
	}

	known := false
	for _, s := range stores {
		known = known || s.Type == opts.Type
	}
	if !known {
		return formatter.Fail(ExitCommandError, ErrCodeUnknown, fmt.Errorf("store %q not in snapshot", opts.Type), nil)
	}

	st, err := db.ReadState(ctx, opts.Type)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSnapshot, err, nil)
	}
	return formatter.Success(StoreState{Type: opts.Type, State: st})
}
