package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/reduce"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	Params []string
	Host   string
}

// DescriptorView is the printable form of a reduced descriptor.
type DescriptorView struct {
	Dataset   string         `json:"dataset"`
	Type      string         `json:"type"`
	Path      string         `json:"path"`
	ID        string         `json:"id,omitempty"`
	Partial   string         `json:"partial,omitempty"`
	Fragments []string       `json:"fragments,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Actions   []string       `json:"actions"`
}

func newDescriptorView(dataset string, d *ir.Descriptor) DescriptorView {
	return DescriptorView{
		Dataset:   dataset,
		Type:      d.Type,
		Path:      d.Path,
		ID:        d.ID,
		Partial:   d.Partial,
		Fragments: d.Fragments,
		Params:    d.Params,
		Payload:   d.Payload,
		Actions:   d.Actions.Names(),
	}
}

func (v DescriptorView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "dataset:  %s\n", v.Dataset)
	fmt.Fprintf(&b, "type:     %s\n", v.Type)
	fmt.Fprintf(&b, "path:     %s\n", v.Path)
	if v.ID != "" {
		fmt.Fprintf(&b, "id:       %s\n", v.ID)
	}
	if v.Partial != "" {
		fmt.Fprintf(&b, "partial:  %s\n", v.Partial)
	}
	if len(v.Fragments) > 0 {
		fmt.Fprintf(&b, "fragments: %s\n", strings.Join(v.Fragments, ", "))
	}
	fmt.Fprintf(&b, "actions:  %s", strings.Join(v.Actions, ", "))
	return b.String()
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <defs-dir> <dataset>",
		Short: "Reduce a dataset into its request descriptor",
		Long: `Flatten a dataset's chain, reduce it with the given params and
print the resulting descriptor. Nothing is requested.

Examples:
  strata resolve ./defs project --param projectId=7
  strata resolve ./defs tasks --param projectId=7 --host /api --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.setup(cmd); err != nil {
				return err
			}
			return runResolve(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "route param as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Host, "host", "", "path prefix (default $STRATA_HOST)")

	return cmd
}

func runResolve(opts *ResolveOptions, defsDir, name string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	params, err := parseKeyValues(opts.Params)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadArgs, fmt.Errorf("--param: %w", err), nil)
	}

	s, err := newSession(opts.log(), sessionConfig{
		defsDir: defsDir,
		host:    pick(opts.Host, opts.settings().Host),
		handler: opts.settings().ImportHandler,
	})
	if err != nil {
		return loadFailure(formatter, err)
	}

	node, err := s.node(name)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeUnknown, err, nil)
	}

	d, err := node.Descriptor(params)
	if err != nil {
		return resolveFailure(formatter, err)
	}
	return formatter.Success(newDescriptorView(name, d))
}

// resolveFailure reports a reduction error with its details.
func resolveFailure(f *OutputFormatter, err error) error {
	var re *reduce.ResolutionError
	if errors.As(err, &re) {
		return f.Fail(ExitFailure, ErrCodeResolve, err, re.Details)
	}
	return f.Fail(ExitFailure, ErrCodeResolve, err, nil)
}
