// Package producer runs the external build description producer and
// decodes the document it emits.
package producer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"

	"github.com/exactbuild/exact/internal/buildinfo"
	"golang.org/x/xerrors"
)

// Run executes the producer program and decodes the build description it
// writes to stdout. stderr is inherited so that the producer can report
// its own errors. A non-zero exit is fatal.
func Run(ctx context.Context, path string) (*buildinfo.BuildInfo, error) {
	cmd := exec.CommandContext(ctx, path)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", cmd.Args, err)
	}
	return buildinfo.Parse(out)
}

// Hash returns a content hash of the producer program.
//
// TODO: persist the hash and skip re-running the producer when it is
// unchanged. Until then the description is re-evaluated on every run.
func Hash(path string) (string, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return "", xerrors.Errorf("hashing %s: %w", path, err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(b)), nil
}
