package dag

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// visualise renders the graph with the selected nodes highlighted, writes
// the PNG to the temp dir and hands it to an image viewer, best effort.
func (d *DAG) visualise(ctx context.Context, selected map[int64]*node) error {
	png, err := renderGraphviz(ctx, d.dot(selected))
	if err != nil {
		return err
	}
	path := filepath.Join(os.TempDir(), "exact-dag.png")
	if err := renameio.WriteFile(path, png, 0644); err != nil {
		return xerrors.Errorf("writing %s: %w", path, err)
	}
	d.log.Infof("build graph rendered to %s", path)
	if err := exec.Command("xdg-open", path).Start(); err != nil {
		d.log.Debugf("xdg-open: %v", err)
	}
	return nil
}

// dot emits the full graph in dot syntax: build commands as rounded boxes,
// tests filled yellow, the selection in red, edges labeled with the
// consumed file's basename.
func (d *DAG) dot(selected map[int64]*node) string {
	var b strings.Builder
	b.WriteString("digraph {\n")
	b.WriteString("    rankdir=LR;\n")

	nodes := append(append([]*node(nil), d.buildNodes...), d.testNodes...)
	for _, n := range nodes {
		var label, attrs string
		if n.kind == buildNode {
			label = strings.Join(d.buildCommand(n).Command, " ")
			attrs = "shape=box, style=rounded"
		} else {
			label = d.testName(n)
			attrs = `shape=box, style="rounded,filled", fillcolor=yellow`
		}
		if _, ok := selected[n.id]; ok {
			attrs += ", color=red"
		}
		fmt.Fprintf(&b, "    %d [label=%q, %s];\n", n.id, label, attrs)
	}
	for _, n := range nodes {
		for it := d.g.From(n.id); it.Next(); {
			child := it.Node().(*node)
			for lines := d.g.Lines(n.id, child.id); lines.Next(); {
				l := lines.Line().(inputLine)
				file := d.inputPath(child, l.input)
				fmt.Fprintf(&b, "    %d -> %d [label=%q];\n", n.id, child.id, filepath.Base(file))
			}
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// renderGraphviz pipes dot syntax through graphviz and returns the PNG.
func renderGraphviz(ctx context.Context, dot string) ([]byte, error) {
	c := exec.CommandContext(ctx, "dot", "-Tpng", "-Gdpi=150")
	c.Stdin = strings.NewReader(dot)
	c.Stderr = os.Stderr
	png, err := c.Output()
	if err != nil {
		return nil, xerrors.Errorf("could not run graphviz, ensure dot is on your path: %w", err)
	}
	return png, nil
}
