// Package dag turns a build description into the command dependency graph
// and drives it: target resolution, scheduling, up-to-date detection and
// sandboxed execution.
//
// Nodes are commands. Edges are the files one command produces and another
// consumes; each edge carries the index of the consumed file within the
// consumer's input list. Files no command produces are source files: they
// take part in mtime comparisons but yield no edge.
package dag

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/exactbuild/exact/internal/buildinfo"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/multi"
	"gonum.org/v1/gonum/graph/topo"
)

type nodeKind int

const (
	buildNode nodeKind = iota
	testNode
)

// node is one command in the graph: an index either into the description's
// command list or into the stable test-name ordering.
type node struct {
	id    int64
	kind  nodeKind
	index int
}

func (n *node) ID() int64 { return n.id }

// inputLine is a graph edge annotated with the index, within the
// consumer's input list, of the file the producer writes.
type inputLine struct {
	multi.Line
	input int
}

// DAG is the dependency graph of one build description plus the indexes
// that target resolution and execution need. It is immutable once
// constructed and discarded after the run.
type DAG struct {
	info *buildinfo.BuildInfo
	g    *multi.DirectedGraph

	// producers maps each declared output file to the node that writes it.
	producers map[string]*node
	// consumers maps each declared input file to the nodes that read it.
	consumers map[string][]*node
	// testNames pins an order onto the description's tests map; it defines
	// the test node indices for the remainder of the run.
	testNames []string

	buildNodes []*node
	testNodes  []*node

	log *zap.SugaredLogger
}

// New constructs the graph from a freshly parsed description: one node per
// build command in description order, one node per test in sorted name
// order, and one edge per consumed input that some command produces.
func New(info *buildinfo.BuildInfo, log *zap.SugaredLogger) (*DAG, error) {
	if err := checkPaths(info); err != nil {
		return nil, err
	}

	d := &DAG{
		info:      info,
		g:         multi.NewDirectedGraph(),
		producers: make(map[string]*node),
		consumers: make(map[string][]*node),
		log:       log,
	}

	// Register all output files first: edges can point at later commands.
	for i := range info.Commands {
		n := &node{id: int64(i), kind: buildNode, index: i}
		d.g.AddNode(n)
		d.buildNodes = append(d.buildNodes, n)
		for _, output := range info.Commands[i].Outputs {
			if _, ok := d.producers[output]; ok {
				return nil, xerrors.Errorf("file %q is specified as the output of more than one command", output)
			}
			d.producers[output] = n
		}
	}

	for i := range info.Commands {
		if err := d.addInputEdges(d.buildNodes[i], info.Commands[i].Inputs); err != nil {
			return nil, err
		}
	}

	d.testNames = make([]string, 0, len(info.Tests))
	for name := range info.Tests {
		d.testNames = append(d.testNames, name)
	}
	sort.Strings(d.testNames)

	for i, name := range d.testNames {
		n := &node{id: int64(len(info.Commands) + i), kind: testNode, index: i}
		d.g.AddNode(n)
		d.testNodes = append(d.testNodes, n)
		if err := d.addInputEdges(n, info.Tests[name].Inputs); err != nil {
			return nil, err
		}
	}

	// The schema permits a command to consume its own output, or a chain of
	// commands to feed each other. Neither can be scheduled.
	if _, err := topo.Sort(d.g); err != nil {
		return nil, xerrors.New("build graph is cyclic")
	}

	return d, nil
}

// addInputEdges wires consumer to the producer of each of its inputs and
// records it in the consumers index. Inputs nobody produces are source
// files and get no edge.
func (d *DAG) addInputEdges(consumer *node, inputs []string) error {
	for i, input := range inputs {
		if p, ok := d.producers[input]; ok {
			if p.id == consumer.id {
				// The smallest cycle; multi graphs cannot even represent
				// the self loop, so reject it here rather than in topo.Sort.
				return xerrors.New("build graph is cyclic")
			}
			d.g.SetLine(inputLine{Line: d.g.NewLine(p, consumer).(multi.Line), input: i})
		}
		d.consumers[input] = append(d.consumers[input], consumer)
	}
	return nil
}

// checkPaths verifies that every path in the description is absolute and
// canonical. The producer is expected to normalize paths; rejecting
// anything else keeps the mtime and sandbox bookkeeping trivial.
func checkPaths(info *buildinfo.BuildInfo) error {
	check := func(p string) error {
		if !filepath.IsAbs(p) {
			return xerrors.Errorf("path %q must be absolute", p)
		}
		for _, component := range strings.Split(p, "/") {
			if component == "." || component == ".." {
				return xerrors.Errorf("path %q must be canonical (no . or ..)", p)
			}
		}
		return nil
	}
	checkAll := func(paths []string) error {
		for _, p := range paths {
			if err := check(p); err != nil {
				return err
			}
		}
		return nil
	}

	for _, cmd := range info.Commands {
		if err := checkAll(cmd.Inputs); err != nil {
			return err
		}
		if err := checkAll(cmd.Outputs); err != nil {
			return err
		}
		if err := check(cmd.WorkingDir); err != nil {
			return err
		}
	}
	for _, tc := range info.Tests {
		if err := checkAll(tc.Inputs); err != nil {
			return err
		}
		if err := check(tc.WorkingDir); err != nil {
			return err
		}
	}
	return checkAll(info.SandboxedDirs)
}

// buildCommand returns the description record behind a build node.
func (d *DAG) buildCommand(n *node) *buildinfo.BuildCommand {
	return &d.info.Commands[n.index]
}

// testName returns the name behind a test node.
func (d *DAG) testName(n *node) string {
	return d.testNames[n.index]
}

// inputPath returns the i-th declared input of n.
func (d *DAG) inputPath(n *node, i int) string {
	if n.kind == buildNode {
		return d.buildCommand(n).Inputs[i]
	}
	return d.info.Tests[d.testName(n)].Inputs[i]
}
