package dag

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/exactbuild/exact/internal/buildinfo"
	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"
)

// commandPriority orders the ready heap; higher pops first. Identity on
// the node id for now; estimated duration or critical-path depth would
// slot in here.
type commandPriority int64

func priority(n *node) commandPriority { return commandPriority(n.id) }

// readyHeap is a max-heap of runnable nodes.
type readyHeap []*node

func (h readyHeap) Len() int            { return len(h) }
func (h readyHeap) Less(i, j int) bool  { return priority(h[i]) > priority(h[j]) }
func (h readyHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{}) { *h = append(*h, x.(*node)) }
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

var stdoutIsTerminal = isatty.IsTerminal(os.Stdout.Fd())

// Build resolves targets to the selected node set and executes it in
// dependency order. One command runs at a time; the ready heap and the
// per-node dependency counts are the hook for running more concurrently.
func (d *DAG) Build(ctx context.Context, targets []Target, noSandbox, visualise bool) error {
	selected := make(map[int64]*node)
	for _, t := range targets {
		if err := d.addTargetCommands(t, selected); err != nil {
			return err
		}
	}

	// Dependency counts are seeded from all in-edges, not just those from
	// selected producers: target resolution pulls in the upstream closure
	// of whatever it selects, so every counted producer will run. The
	// emptiness assertion below guards that assumption.
	remaining := make(map[int64]int, len(selected))
	ready := &readyHeap{}
	for _, n := range selected {
		deps := 0
		for it := d.g.To(n.id); it.Next(); {
			deps += d.g.Lines(it.Node().ID(), n.id).Len()
		}
		if deps == 0 {
			heap.Push(ready, n)
		} else {
			remaining[n.id] = deps
		}
	}

	if visualise {
		if err := d.visualise(ctx, selected); err != nil {
			return err
		}
	}

	done := 0
	for ready.Len() > 0 {
		n := heap.Pop(ready).(*node)

		switch n.kind {
		case buildNode:
			if err := d.runCommandIfNecessary(ctx, d.buildCommand(n), noSandbox); err != nil {
				return err
			}
		case testNode:
			name := d.testName(n)
			state, err := d.runTest(ctx, name, noSandbox)
			if err != nil {
				return err
			}
			if !state.Success() {
				d.log.Errorf("test %s failed: exit status %d", name, state.ExitCode())
			}
		}

		done++
		d.progress(done, len(selected))

		for it := d.g.From(n.id); it.Next(); {
			child := it.Node().(*node)
			if _, ok := selected[child.id]; !ok {
				continue
			}
			for lines := d.g.Lines(n.id, child.id); lines.Next(); {
				remaining[child.id]--
			}
			if remaining[child.id] == 0 {
				delete(remaining, child.id)
				heap.Push(ready, child)
			}
		}
	}

	if len(remaining) != 0 {
		panic(fmt.Sprintf("BUG: %d selected commands still waiting on dependencies", len(remaining)))
	}
	return nil
}

// runCommandIfNecessary runs cmd unless its newest output is at least as new
// as every one of its inputs. A non-zero exit is fatal.
func (d *DAG) runCommandIfNecessary(ctx context.Context, cmd *buildinfo.BuildCommand, noSandbox bool) error {
	if !rerunNecessary(cmd) {
		d.log.Debugf("skipping command (output is already up to date): %v", cmd.Command)
		return nil
	}
	d.log.Infof("running command: %v", cmd.Command)
	c, err := d.child(ctx, cmd.Command, cmd.Inputs, cmd.Outputs, cmd.WorkingDir, cmd.Env, noSandbox, true)
	if err != nil {
		return err
	}
	if err := c.Run(); err != nil {
		return xerrors.Errorf("build command %v: %w", cmd.Command, err)
	}
	return nil
}

// runTest always runs the test (tests have no outputs to compare against)
// and returns its process state. Only failing to start the child is an
// error; a non-zero exit is the caller's to report.
func (d *DAG) runTest(ctx context.Context, name string, noSandbox bool) (*os.ProcessState, error) {
	tc := d.info.Tests[name]
	d.log.Infof("running test %s: %v", name, tc.Command)
	c, err := d.child(ctx, tc.Command, tc.Inputs, nil, tc.WorkingDir, tc.Env, noSandbox, false)
	if err != nil {
		return nil, err
	}
	if err := c.Run(); err != nil {
		var ee *exec.ExitError
		if !errors.As(err, &ee) {
			return nil, xerrors.Errorf("%v: %w", c.Args, err)
		}
	}
	return c.ProcessState, nil
}

// child prepares argv for execution, rewritten to run under the external
// sandbox program unless noSandbox is set. allowWrite is set for build
// commands only; tests get no --allow-write.
func (d *DAG) child(ctx context.Context, argv, inputs, outputs []string, workingDir string, env map[string]string, noSandbox, allowWrite bool) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, xerrors.New("command is empty")
	}
	var c *exec.Cmd
	if noSandbox {
		c = exec.CommandContext(ctx, argv[0], argv[1:]...)
	} else {
		args := []string{"--sandbox"}
		args = append(args, d.info.SandboxedDirs...)
		args = append(args, "--allow-read")
		args = append(args, inputs...)
		if allowWrite {
			args = append(args, "--allow-write")
			args = append(args, outputs...)
		}
		args = append(args, "--")
		args = append(args, argv...)
		c = exec.CommandContext(ctx, "sandbox", args...)
		d.log.Debugf("sandboxed command: %v", c.Args)
	}
	c.Dir = workingDir
	c.Env = append(os.Environ(), envv(env)...)
	c.Stderr = os.Stderr
	return c, nil
}

// envv flattens env into NAME=value pairs in sorted order, to be layered
// over the ambient environment.
func envv(env map[string]string) []string {
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	vv := make([]string, 0, len(env))
	for _, name := range names {
		vv = append(vv, name+"="+env[name])
	}
	return vv
}

// progress overwrites a single status line on terminals. Child stderr is
// inherited, so the line is best effort.
func (d *DAG) progress(done, total int) {
	if !stdoutIsTerminal {
		return
	}
	fmt.Printf("\r%d of %d commands", done, total)
	if done == total {
		fmt.Println()
	}
}
