package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	GoldenDir string // golden trace directory
}

func (o *TestOptions) goldenDir(scenariosDir string) string {
	if o.GoldenDir != "" {
		return o.GoldenDir
	}
	return filepath.Join(scenariosDir, "golden")
}

// TestResult wraps a suite result for text output.
type TestResult struct {
	*harness.SuiteResult
	Golden string `json:"golden,omitempty"`
}

func (r TestResult) String() string {
	var b strings.Builder
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "✗ %s (%s)\n", f.Scenario, f.Path)
		for _, e := range f.Errors {
			for _, line := range strings.Split(e, "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	fmt.Fprintf(&b, "%d passed, %d failed, %d total", r.Passed, r.Failed, r.Total)
	if r.Updated > 0 {
		fmt.Fprintf(&b, " (%d golden file(s) updated in %s)", r.Updated, r.Golden)
	}
	return b.String()
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run every YAML scenario in a directory against a scripted backend.

Each scenario loads its definitions, replays its flow of dataset
actions, and checks its assertions. When a golden directory exists
(default <scenarios-dir>/golden) each run's request trace is compared
with <name>.golden; --update rewrites those files.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  strata test ./scenarios
  strata test ./scenarios --update
  strata test ./scenarios --golden ./testdata/golden --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.setup(cmd); err != nil {
				return err
			}
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden trace directory (default <scenarios-dir>/golden)")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if info, err := os.Stat(scenariosDir); err != nil || !info.IsDir() {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("scenarios directory not found: %s", scenariosDir), nil)
	}

	sopts := harness.SuiteOptions{Update: opts.Update}
	golden := opts.goldenDir(scenariosDir)
	if _, err := os.Stat(golden); err == nil || opts.Update {
		sopts.GoldenDir = golden
	}
	formatter.VerboseLog("Running scenarios in %s (golden: %q)", scenariosDir, sopts.GoldenDir)

	suite, err := harness.RunDir(cmd.Context(), scenariosDir, sopts, harness.WithLogger(opts.log()))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err, nil)
	}

	result := TestResult{SuiteResult: suite, Golden: sopts.GoldenDir}
	if err := formatter.Success(result); err != nil {
		return err
	}
	if !suite.Pass() {
		return &ExitError{
			Code:    ExitFailure,
			ErrCode: ErrCodeScenario,
			Message: fmt.Sprintf("%d of %d scenario(s) failed", suite.Failed, suite.Total),
		}
	}
	return nil
}
