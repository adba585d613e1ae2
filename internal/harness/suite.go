package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarises a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Updated  int               `json:"updated,omitempty"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure is one failed scenario of a suite.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// Pass reports whether every scenario passed.
func (r *SuiteResult) Pass() bool {
	return r.Failed == 0
}

func (r *SuiteResult) fail(name, path string, errs ...string) {
	r.Failed++
	r.Failures = append(r.Failures, ScenarioFailure{Scenario: name, Path: path, Errors: errs})
}

// SuiteOptions controls golden trace handling for RunDir.
type SuiteOptions struct {
	// GoldenDir holds <scenario>.golden traces. Empty disables golden
	// comparison.
	GoldenDir string

	// Update rewrites golden traces instead of comparing them.
	Update bool
}

// FindScenarios returns the .yaml and .yml files directly inside dir,
// sorted.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// RunDir loads and runs every scenario in dir. A scenario that fails to
// load or run counts as failed; the returned error is only for an
// unreadable directory.
func RunDir(ctx context.Context, dir string, sopts SuiteOptions, opts ...Option) (*SuiteResult, error) {
	paths, err := FindScenarios(dir)
	if err != nil {
		return nil, fmt.Errorf("scan scenarios: %w", err)
	}

	result := &SuiteResult{}
	for _, path := range paths {
		result.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.fail(filepath.Base(path), path, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		run, err := RunContext(ctx, scenario, opts...)
		if err != nil {
			result.fail(scenario.Name, path, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}

		errs := append([]string(nil), run.Errors...)
		if sopts.GoldenDir != "" {
			updated, gerr := compareGolden(sopts, scenario.Name, run)
			if gerr != nil {
				errs = append(errs, gerr.Error())
			}
			if updated {
				result.Updated++
			}
		}

		if len(errs) > 0 {
			result.fail(scenario.Name, path, errs...)
			continue
		}
		result.Passed++
	}
	return result, nil
}

// compareGolden checks or rewrites the golden trace of one run.
func compareGolden(sopts SuiteOptions, name string, run *Result) (bool, error) {
	got, err := MarshalTrace(name, run)
	if err != nil {
		return false, fmt.Errorf("marshal trace: %w", err)
	}
	path := filepath.Join(sopts.GoldenDir, name+".golden")

	if sopts.Update {
		if err := os.MkdirAll(sopts.GoldenDir, 0o755); err != nil {
			return false, fmt.Errorf("create golden dir: %w", err)
		}
		if err := os.WriteFile(path, got, 0o644); err != nil {
			return false, fmt.Errorf("write golden file: %w", err)
		}
		return true, nil
	}

	want, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, fmt.Errorf("golden file %s missing (run with --update)", path)
	}
	if err != nil {
		return false, fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(bytes.TrimSpace(want), got) {
		return false, fmt.Errorf("trace differs from golden file %s", path)
	}
	return false, nil
}
