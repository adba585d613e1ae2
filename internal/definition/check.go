package definition

import (
	"fmt"
	"sort"
	"strings"
)

// CheckError lists every problem found in a catalog.
type CheckError struct {
	Errors []ValidationError
}

func (e *CheckError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return "invalid catalog: " + strings.Join(msgs, "; ")
}

// Check validates the references between catalog entries: unique names,
// every dataset anchored on exactly one store or parent, known targets,
// and no cycles through parent or include links. All problems are
// reported together.
func Check(cat *Catalog) error {
	var errs []ValidationError
	fail := func(field, code, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg, Code: code})
	}

	stores := make(map[string]bool, len(cat.Stores))
	for _, s := range cat.Stores {
		if stores[s.Name] {
			fail("store."+s.Name, ErrDuplicateName, "store defined more than once")
		}
		stores[s.Name] = true
	}

	datasets := make(map[string]bool, len(cat.Datasets))
	for _, ds := range cat.Datasets {
		if datasets[ds.Name] {
			fail("dataset."+ds.Name, ErrDuplicateName, "dataset defined more than once")
		}
		datasets[ds.Name] = true
	}

	graph := make(refGraph, len(cat.Datasets))
	for _, ds := range cat.Datasets {
		field := "dataset." + ds.Name
		graph[ds.Name] = nil

		switch {
		case ds.Store != "" && ds.Parent != "":
			fail(field, ErrConflictingRoot, "store and parent are mutually exclusive")
		case ds.Store == "" && ds.Parent == "":
			fail(field, ErrMissingAnchor, "dataset needs a store or a parent")
		case ds.Store != "" && !stores[ds.Store]:
			fail(field+".store", ErrUnknownRef, fmt.Sprintf("unknown store %q", ds.Store))
		case ds.Parent != "" && !datasets[ds.Parent]:
			fail(field+".parent", ErrUnknownRef, fmt.Sprintf("unknown dataset %q", ds.Parent))
		case ds.Parent != "":
			graph[ds.Name] = append(graph[ds.Name], ds.Parent)
		}

		for _, inc := range ds.Includes {
			if !datasets[inc] {
				fail(field+".include", ErrUnknownRef, fmt.Sprintf("unknown dataset %q", inc))
				continue
			}
			graph[ds.Name] = append(graph[ds.Name], inc)
		}
	}

	for _, path := range findCycles(graph) {
		fail("dataset."+path[0], ErrParentCycle, "reference cycle: "+strings.Join(path, " -> "))
	}

	if len(errs) > 0 {
		return &CheckError{Errors: errs}
	}
	return nil
}

// refGraph maps a dataset to the datasets its chain depends on.
type refGraph map[string][]string

// findCycles returns one closed path per strongly connected component that
// forms a cycle, e.g. ["a", "b", "a"]. Output is deterministic.
func findCycles(graph refGraph) [][]string {
	var cycles [][]string
	for _, scc := range tarjanSCC(graph) {
		if len(scc) == 1 && !hasSelfLoop(scc[0], graph) {
			continue
		}
		sort.Strings(scc)
		cycles = append(cycles, cyclePath(scc, graph))
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
func tarjanSCC(graph refGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

func hasSelfLoop(node string, graph refGraph) bool {
	for _, n := range graph[node] {
		if n == node {
			return true
		}
	}
	return false
}

// cyclePath walks edges inside scc from its first member back to itself.
func cyclePath(scc []string, graph refGraph) []string {
	start := scc[0]
	if len(scc) == 1 {
		return []string{start, start}
	}

	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, n := range graph[current] {
			if n == start && len(path) > 1 {
				return append(path, start)
			}
			if members[n] && !visited[n] && next == "" {
				next = n
			}
		}
		if next == "" {
			// Every member is visited; close the loop.
			return append(path, start)
		}
		visited[next] = true
		path = append(path, next)
		current = next
	}
}
