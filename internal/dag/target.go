package dag

import (
	"sort"
	"strings"

	"github.com/exactbuild/exact/internal/walk"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph"
)

// Target is one thing the user asked to build or test.
type Target struct {
	kind targetKind
	arg  string // output path or test name; empty for the _all kinds
}

type targetKind int

const (
	// targetOutput builds one file and everything it depends on.
	targetOutput targetKind = iota
	// targetOutputDependencies rebuilds every build command downstream of
	// a file, plus the dependencies of those commands.
	targetOutputDependencies
	// targetAllOutputs builds every build command. Tests are excluded.
	targetAllOutputs
	// targetTest runs one test and builds its dependencies.
	targetTest
	// targetTestDependencies runs every test downstream of a file, plus
	// the dependencies of those tests.
	targetTestDependencies
	// targetAllTests runs every test and builds their dependencies. Not
	// the same as targetAllOutputs: outputs no test reads stay untouched.
	targetAllTests
)

// ParseTarget parses a target argument of the form kind or kind:arg, split
// on the first colon.
func ParseTarget(s string) (Target, error) {
	var kind, arg string
	if idx := strings.Index(s, ":"); idx >= 0 {
		kind, arg = s[:idx], s[idx+1:]
	} else {
		kind = s
	}
	switch {
	case kind == "output_all" && arg == "":
		return Target{kind: targetAllOutputs}, nil
	case kind == "test_all" && arg == "":
		return Target{kind: targetAllTests}, nil
	case kind == "output":
		return Target{kind: targetOutput, arg: arg}, nil
	case kind == "test":
		return Target{kind: targetTest, arg: arg}, nil
	case kind == "output_dependencies":
		return Target{kind: targetOutputDependencies, arg: arg}, nil
	case kind == "test_dependencies":
		return Target{kind: targetTestDependencies, arg: arg}, nil
	}
	return Target{}, xerrors.Errorf("unknown target %q", s)
}

// addTargetCommands adds the nodes implied by target to the selected set.
// Every variant that selects a node also selects the node's transitive
// dependencies, so the scheduler can count unfiltered in-edges.
func (d *DAG) addTargetCommands(t Target, selected map[int64]*node) error {
	insert := func(g graph.Node) bool {
		n := g.(*node)
		if _, ok := selected[n.id]; ok {
			return false
		}
		selected[n.id] = n
		return true
	}

	switch t.kind {
	case targetOutput:
		gen, ok := d.producers[t.arg]
		if !ok {
			return xerrors.Errorf("no command generates output %q", t.arg)
		}
		walk.Walk(d.g, gen, walk.Upstream, insert)

	case targetOutputDependencies:
		consumers, ok := d.consumers[t.arg]
		if !ok {
			return xerrors.Errorf("no command reads file %q", t.arg)
		}
		for _, consumer := range consumers {
			walk.Walk(d.g, consumer, walk.Downstream, func(g graph.Node) bool {
				n := g.(*node)
				if n.kind == testNode {
					// Tests produce nothing; stop propagating.
					return false
				}
				if !insert(n) {
					return false
				}
				// The downstream command needs its own inputs built, too.
				// n is already selected, so start from its producers.
				for it := d.g.To(n.id); it.Next(); {
					walk.Walk(d.g, it.Node(), walk.Upstream, insert)
				}
				return true
			})
		}

	case targetAllOutputs:
		for _, n := range d.buildNodes {
			selected[n.id] = n
		}

	case targetTest:
		i := sort.SearchStrings(d.testNames, t.arg)
		if i >= len(d.testNames) || d.testNames[i] != t.arg {
			return xerrors.Errorf("test %q not found", t.arg)
		}
		walk.Walk(d.g, d.testNodes[i], walk.Upstream, insert)

	case targetTestDependencies:
		// Collect the tests downstream of every command that reads the
		// file, then add each test with its dependencies. Build commands
		// along the way are walked through but not selected: they are only
		// built if some selected test depends on them. Note this does not
		// necessarily build every output downstream of the file, because
		// some of them may not be tested.
		consumers, ok := d.consumers[t.arg]
		if !ok {
			return xerrors.Errorf("no command reads file %q", t.arg)
		}
		testsToRun := make(map[int64]*node)
		for _, consumer := range consumers {
			seen := make(map[int64]bool)
			walk.Walk(d.g, consumer, walk.Downstream, func(g graph.Node) bool {
				n := g.(*node)
				if seen[n.id] {
					return false
				}
				seen[n.id] = true
				if n.kind == testNode {
					testsToRun[n.id] = n
				}
				return true
			})
		}
		for _, tn := range testsToRun {
			walk.Walk(d.g, tn, walk.Upstream, insert)
		}

	case targetAllTests:
		for _, tn := range d.testNodes {
			walk.Walk(d.g, tn, walk.Upstream, insert)
		}
	}
	return nil
}
