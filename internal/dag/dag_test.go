package dag

import (
	"strings"
	"testing"

	"github.com/exactbuild/exact/internal/buildinfo"
	"go.uber.org/zap/zaptest"
)

func testDAG(t *testing.T, info *buildinfo.BuildInfo) *DAG {
	t.Helper()
	d, err := New(info, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

// chainDescription is a three-command pipeline with one test:
//
//	/b/src → A → /b/mid → B → /b/final → final_test
//	/b/src → C → /b/other (read by nothing)
func chainDescription() *buildinfo.BuildInfo {
	return &buildinfo.BuildInfo{
		Commands: []buildinfo.BuildCommand{
			{
				Command:    []string{"A"},
				Inputs:     []string{"/b/src"},
				Outputs:    []string{"/b/mid"},
				WorkingDir: "/b",
			},
			{
				Command:    []string{"B"},
				Inputs:     []string{"/b/mid"},
				Outputs:    []string{"/b/final"},
				WorkingDir: "/b",
			},
			{
				Command:    []string{"C"},
				Inputs:     []string{"/b/src"},
				Outputs:    []string{"/b/other"},
				WorkingDir: "/b",
			},
		},
		Tests: map[string]buildinfo.TestCommand{
			"final_test": {
				Command:    []string{"final_test"},
				Inputs:     []string{"/b/final"},
				WorkingDir: "/b",
			},
		},
		SandboxedDirs: []string{"/b"},
	}
}

func wantConstructionError(t *testing.T, info *buildinfo.BuildInfo, substr string) {
	t.Helper()
	_, err := New(info, zaptest.NewLogger(t).Sugar())
	if err == nil {
		t.Fatalf("New succeeded, want error containing %q", substr)
	}
	if !strings.Contains(err.Error(), substr) {
		t.Errorf("New: error %q does not contain %q", err, substr)
	}
}

func TestRejectsRelativePath(t *testing.T) {
	info := chainDescription()
	info.Commands[0].Inputs = []string{"b/src"}
	wantConstructionError(t, info, "must be absolute")
}

func TestRejectsNonCanonicalPath(t *testing.T) {
	info := chainDescription()
	info.Commands[0].Outputs = []string{"/b/../b/mid"}
	wantConstructionError(t, info, "must be canonical")
}

func TestRejectsNonCanonicalTestWorkingDir(t *testing.T) {
	info := chainDescription()
	tc := info.Tests["final_test"]
	tc.WorkingDir = "/b/."
	info.Tests["final_test"] = tc
	wantConstructionError(t, info, "must be canonical")
}

func TestRejectsDuplicateOutput(t *testing.T) {
	info := chainDescription()
	info.Commands[2].Outputs = []string{"/b/mid"}
	wantConstructionError(t, info, "specified as the output of more than one command")
}

func TestRejectsCyclicGraph(t *testing.T) {
	info := &buildinfo.BuildInfo{
		Commands: []buildinfo.BuildCommand{
			{Command: []string{"A"}, Inputs: []string{"/x/2"}, Outputs: []string{"/x/1"}, WorkingDir: "/x"},
			{Command: []string{"B"}, Inputs: []string{"/x/1"}, Outputs: []string{"/x/2"}, WorkingDir: "/x"},
		},
		SandboxedDirs: []string{"/x"},
	}
	wantConstructionError(t, info, "build graph is cyclic")
}

func TestRejectsSelfCycle(t *testing.T) {
	info := &buildinfo.BuildInfo{
		Commands: []buildinfo.BuildCommand{
			{Command: []string{"A"}, Inputs: []string{"/x/1"}, Outputs: []string{"/x/1"}, WorkingDir: "/x"},
		},
		SandboxedDirs: []string{"/x"},
	}
	wantConstructionError(t, info, "build graph is cyclic")
}

func TestIndexes(t *testing.T) {
	d := testDAG(t, chainDescription())

	if got, want := len(d.buildNodes), 3; got != want {
		t.Errorf("got %d build nodes, want %d", got, want)
	}
	if got, want := len(d.testNodes), 1; got != want {
		t.Errorf("got %d test nodes, want %d", got, want)
	}
	if p := d.producers["/b/mid"]; p == nil || p.index != 0 {
		t.Errorf("producer of /b/mid = %+v, want command 0", p)
	}
	if p := d.producers["/b/src"]; p != nil {
		t.Errorf("source file /b/src has a producer: %+v", p)
	}
	// /b/src is read by A and C, in description order.
	consumers := d.consumers["/b/src"]
	if len(consumers) != 2 || consumers[0].index != 0 || consumers[1].index != 2 {
		t.Errorf("consumers of /b/src = %+v, want commands 0 and 2", consumers)
	}
	// The test consumes /b/final alongside nothing else.
	consumers = d.consumers["/b/final"]
	if len(consumers) != 1 || consumers[0].kind != testNode {
		t.Errorf("consumers of /b/final = %+v, want the test node", consumers)
	}
}

func TestSourceFilesHaveNoEdge(t *testing.T) {
	d := testDAG(t, chainDescription())
	// A consumes only the source file, so it must have no in-edges.
	a := d.buildNodes[0]
	if n := d.g.To(a.id).Len(); n != 0 {
		t.Errorf("command A has %d in-edges, want 0", n)
	}
	// B consumes /b/mid which A produces.
	b := d.buildNodes[1]
	if n := d.g.To(b.id).Len(); n != 1 {
		t.Errorf("command B has %d in-edges, want 1", n)
	}
}

func TestDotHighlightsSelection(t *testing.T) {
	d := testDAG(t, chainDescription())
	selected := map[int64]*node{d.buildNodes[0].id: d.buildNodes[0]}
	dot := d.dot(selected)

	for _, want := range []string{
		"rankdir=LR",
		`label="A"`,
		`label="final_test"`,
		"fillcolor=yellow",
		"color=red",
		`[label="mid"]`, // edge labeled with the consumed file's basename
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("dot output missing %q:\n%s", want, dot)
		}
	}
	if n := strings.Count(dot, "color=red"); n != 1 {
		t.Errorf("dot output highlights %d nodes, want 1", n)
	}
}
