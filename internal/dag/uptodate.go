package dag

import (
	"os"
	"time"

	"github.com/exactbuild/exact/internal/buildinfo"
)

// rerunNecessary reports whether cmd has to run. A command with no
// declared outputs leaves no record of having run, so it always does;
// missing files and stat failures likewise force a run. An input whose
// mtime equals the newest output's counts as up to date.
func rerunNecessary(cmd *buildinfo.BuildCommand) bool {
	if len(cmd.Outputs) == 0 {
		return true
	}

	var maxOutput time.Time
	for _, f := range cmd.Outputs {
		fi, err := os.Stat(f)
		if err != nil {
			return true // probably doesn't exist yet
		}
		if m := fi.ModTime(); m.After(maxOutput) {
			maxOutput = m
		}
	}

	for _, f := range cmd.Inputs {
		fi, err := os.Stat(f)
		if err != nil {
			return true
		}
		if fi.ModTime().After(maxOutput) {
			return true
		}
	}
	return false
}
