package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/exactbuild/exact"
	"github.com/exactbuild/exact/internal/buildinfo"
	"github.com/exactbuild/exact/internal/dag"
	"github.com/exactbuild/exact/internal/logging"
	"github.com/exactbuild/exact/internal/producer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const exactHelp = `exact [-flags] <producer> [target...]

Build with exact dependency tracking.

The producer program is run to emit the build description as JSON on its
stdout. Targets select what to build or test:

  output_all                  build everything
  test_all                    run every test
  output:<path>               build one output file
  test:<name>                 run one test
  output_dependencies:<path>  rebuild everything downstream of a file
  test_dependencies:<path>    run every test downstream of a file

Example:
  % exact -log info,dag=debug ./buildinfo output_all
`

var (
	logFilter = flag.String("log", "", "log level filter, e.g. debug or info,dag=debug")
	noSandbox = flag.Bool("no-sandbox", false, "execute commands directly instead of via the sandbox program")
	visualise = flag.Bool("visualise", false, "display the selected build graph before executing")
)

// bumpRlimitNOFILE raises the open file limit to its hard maximum. Builds
// routinely fan out into children that open many files at once.
func bumpRlimitNOFILE() error {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return err
	}
	lim.Cur = lim.Max
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &lim)
}

func funcmain() error {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, exactHelp)
		fmt.Fprintln(os.Stderr, "Flags:")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := logging.New(*logFilter)
	if err != nil {
		return err
	}
	exact.RegisterAtExit(logger.Sync)
	logger.Sugar().Debugf("exact %s", exact.Version)

	if err := bumpRlimitNOFILE(); err != nil {
		logger.Sugar().Warnf("bumping RLIMIT_NOFILE failed: %v", err)
	}

	ctx, canc := exact.InterruptibleContext()
	defer canc()

	config := flag.Arg(0)
	plog := logger.Named("producer").Sugar()

	// The hash only needs the producer source, so compute it while the
	// producer runs.
	var (
		info *buildinfo.BuildInfo
		hash string
	)
	var eg errgroup.Group
	eg.Go(func() error {
		var err error
		hash, err = producer.Hash(config)
		return err
	})
	eg.Go(func() error {
		var err error
		info, err = producer.Run(ctx, config)
		return err
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	// TODO: skip re-running the producer when the stored hash matches.
	plog.Infof("build description hash %s", hash)

	targets := make([]dag.Target, 0, flag.NArg()-1)
	for _, arg := range flag.Args()[1:] {
		t, err := dag.ParseTarget(arg)
		if err != nil {
			return err
		}
		targets = append(targets, t)
	}

	d, err := dag.New(info, logger.Named("dag").Sugar())
	if err != nil {
		return err
	}

	if len(targets) == 0 {
		logger.Sugar().Warnf("no targets selected, try adding output_all")
		return exact.RunAtExit()
	}

	if err := d.Build(ctx, targets, *noSandbox, *visualise); err != nil {
		return err
	}

	return exact.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
