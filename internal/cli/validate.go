package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/definition"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                         `json:"valid"`
	Files    int                          `json:"files"`
	Stores   []string                     `json:"stores,omitempty"`
	Datasets []string                     `json:"datasets,omitempty"`
	Errors   []definition.ValidationError `json:"errors,omitempty"`
}

func (r ValidationResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ All definitions valid (%d file(s))\n", r.Files)
	fmt.Fprintf(&b, "  stores:   %s\n", strings.Join(r.Stores, ", "))
	fmt.Fprintf(&b, "  datasets: %s", strings.Join(r.Datasets, ", "))
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <defs-dir>",
		Short: "Validate store and dataset definitions",
		Long: `Load every .cue, .yaml, .yml and .json definition file in a
directory and check the merged catalog: option keys and types, action
shapes, store and parent references, and parent cycles.

Exit codes:
  0 - Definitions are valid
  1 - One or more definitions are invalid
  2 - Command error (directory not found, unreadable file)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.setup(cmd); err != nil {
				return err
			}
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, defsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	files, _ := definition.FindFiles(defsDir)
	formatter.VerboseLog("Found %d definition file(s) in %s", len(files), defsDir)

	cat, err := definition.LoadDir(defsDir)
	if err != nil {
		errs := validationErrors(err)
		if len(errs) == 0 {
			return loadFailure(formatter, err)
		}
		return outputValidationErrors(formatter, errs)
	}

	result := ValidationResult{Valid: true, Files: len(files), Datasets: cat.DatasetNames()}
	for _, s := range cat.Stores {
		result.Stores = append(result.Stores, s.Name)
	}
	return formatter.Success(result)
}

// validationErrors flattens the definition package's error types into a
// list. Errors of other kinds yield nil.
func validationErrors(err error) []definition.ValidationError {
	var (
		checkErr   *definition.CheckError
		decodeErr  *definition.DecodeError
		compileErr *definition.CompileError
		single     definition.ValidationError
	)
	switch {
	case errors.As(err, &checkErr):
		return checkErr.Errors
	case errors.As(err, &decodeErr):
		return decodeErr.Errors
	case errors.As(err, &compileErr):
		code := compileErr.Code
		if code == "" {
			code = ErrCodeLoadFailed
		}
		return []definition.ValidationError{{Field: compileErr.Field, Message: compileErr.Message, Code: code}}
	case errors.As(err, &single):
		return []definition.ValidationError{single}
	}
	return nil
}

func outputValidationErrors(f *OutputFormatter, errs []definition.ValidationError) error {
	err := fmt.Errorf("%d validation error(s)", len(errs))
	if f.Format == "json" {
		return f.Fail(ExitFailure, ErrCodeInvalid, err, errs)
	}

	fmt.Fprintf(f.Writer, "✗ %s\n", err)
	for _, ve := range errs {
		fmt.Fprintf(f.Writer, "  [%s] %s: %s\n", ve.Code, ve.Field, ve.Message)
	}
	return &ExitError{Code: ExitFailure, ErrCode: ErrCodeInvalid, Err: err}
}
