// Package buildinfo contains the build description schema: the commands,
// tests and sandboxed directories that the description producer emits as a
// JSON document on its standard output.
package buildinfo

import (
	"encoding/json"

	"golang.org/x/xerrors"
)

// BuildCommand is one executable invocation in the build graph. All paths
// are absolute.
type BuildCommand struct {
	// Command is the argv to run; the first token is the executable.
	Command []string `json:"command"`
	// Inputs are all files the command reads inside the sandboxed dirs.
	Inputs []string `json:"inputs"`
	// Outputs are all files the command writes inside the sandboxed dirs
	// (it can also read these).
	Outputs []string `json:"outputs"`
	// WorkingDir is the directory the command runs in.
	WorkingDir string `json:"workingDir"`
	// Env is layered over the ambient environment.
	Env map[string]string `json:"env"`
}

// TestCommand is a BuildCommand without outputs. Tests are leaf nodes of
// the graph and are always considered stale.
type TestCommand struct {
	Command    []string          `json:"command"`
	Inputs     []string          `json:"inputs"`
	WorkingDir string            `json:"workingDir"`
	Env        map[string]string `json:"env"`
}

// BuildInfo is the top-level build description.
type BuildInfo struct {
	// Commands are the nodes of the build graph, in description order.
	Commands []BuildCommand `json:"commands"`
	// Tests, keyed by unique test name.
	Tests map[string]TestCommand `json:"tests"`
	// SandboxedDirs are the directories inside which every read and write
	// must be declared. Everything outside them is unrestricted.
	SandboxedDirs []string `json:"sandboxedDirs"`
}

// Parse decodes a build description document.
func Parse(b []byte) (*BuildInfo, error) {
	var info BuildInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, xerrors.Errorf("parsing build description: %w", err)
	}
	return &info, nil
}
