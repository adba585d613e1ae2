package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/dataset"
	"github.com/roach88/strata/internal/definition"
	"github.com/roach88/strata/internal/ingest"
	"github.com/roach88/strata/internal/invoke"
	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/reduce"
	"github.com/roach88/strata/internal/snapshot"
	"github.com/roach88/strata/internal/store"
	"github.com/roach88/strata/internal/transport"
)

// session is the object graph one command works on: a registry, the
// importer and invoker over it, and the dataset tree built from a
// definitions directory.
type session struct {
	registry *store.Registry
	importer *ingest.Importer
	invoker  *invoke.Invoker
	tree     *dataset.Tree
	catalog  *definition.Catalog
	logger   *slog.Logger
}

type sessionConfig struct {
	defsDir   string
	host      string
	handler   string
	transport ir.Transport
}

// newSession builds a session. An empty defsDir yields a session with
// no datasets, which prefetch uses to import into shadow stores.
func newSession(logger *slog.Logger, sc sessionConfig) (*session, error) {
	strategy, err := ingest.ParseStrategy(sc.handler)
	if err != nil {
		return nil, err
	}

	s := &session{logger: logger}
	s.registry = store.NewRegistry(store.WithLogger(logger))
	s.importer = ingest.New(s.registry, ingest.WithStrategy(strategy), ingest.WithLogger(logger))

	host := reduce.WithHost(sc.host)
	invOpts := []invoke.Option{
		invoke.WithImporter(s.importer),
		invoke.WithReduceOptions(host),
		invoke.WithLogger(logger),
	}
	if sc.transport != nil {
		invOpts = append(invOpts, invoke.WithTransport(sc.transport))
	}
	s.invoker = invoke.New(s.registry, invOpts...)
	s.tree = dataset.New(s.registry,
		dataset.WithInvoker(s.invoker),
		dataset.WithReduceOptions(host),
		dataset.WithLogger(logger),
	)

	if sc.defsDir == "" {
		return s, nil
	}
	s.catalog, err = definition.LoadDir(sc.defsDir)
	if err != nil {
		return nil, err
	}
	if err := s.tree.Load(s.catalog); err != nil {
		return nil, fmt.Errorf("build datasets: %w", err)
	}
	logger.Debug("definitions loaded", "dir", sc.defsDir,
		"stores", len(s.catalog.Stores), "datasets", len(s.catalog.Datasets))
	return s, nil
}

// node looks up a dataset by name.
func (s *session) node(name string) (*dataset.Node, error) {
	n, ok := s.tree.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q (have %s)", name, strings.Join(s.tree.Names(), ", "))
	}
	return n, nil
}

// newTransport returns the HTTP transport for baseURL, or nil when no
// base URL is configured.
func newTransport(baseURL string, opts *RootOptions) (ir.Transport, error) {
	if baseURL == "" {
		return nil, nil
	}
	return transport.New(baseURL, transport.WithTimeout(opts.settings().HTTPTimeout))
}

// openSnapshot opens the database at path. When mustExist is set a
// missing file is an error instead of a new empty snapshot.
func openSnapshot(path string, mustExist bool, logger *slog.Logger) (*snapshot.DB, error) {
	if mustExist {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("database not found: %s", path)
		}
	}
	return snapshot.Open(path, snapshot.WithLogger(logger))
}

// warm loads the snapshot into the session's registry.
func (s *session) warm(ctx context.Context, db *snapshot.DB) (snapshot.Summary, error) {
	return db.Load(ctx, s.registry)
}

// parseKeyValues turns k=v pairs into a map. Values are read as YAML
// scalars, so 7 is an int, true a bool and anything else a string.
func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		switch value.(type) {
		case map[string]any, []any:
			value = raw
		}
		out[key] = value
	}
	return out, nil
}

// loadFailure classifies an error from newSession.
func loadFailure(f *OutputFormatter, err error) error {
	var le *definition.LoadError
	if errors.As(err, &le) {
		if le.Code == definition.ErrNotFound || le.Code == definition.ErrNoFiles {
			return f.Fail(ExitCommandError, ErrCodeNotFound, err, nil)
		}
		return f.Fail(ExitCommandError, ErrCodeLoadFailed, err, nil)
	}
	if errs := validationErrors(err); len(errs) > 0 {
		return f.Fail(ExitFailure, ErrCodeInvalid, err, errs)
	}
	return f.Fail(ExitCommandError, ErrCodeLoadFailed, err, nil)
}
