package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/ktopiwo/psi/internal/config"
	"github.com/ktopiwo/psi/internal/metrics"
	"github.com/ktopiwo/psi/pkg/log"
	"github.com/ktopiwo/psi/pkg/math/group"
	"github.com/ktopiwo/psi/pkg/pool"
	"github.com/ktopiwo/psi/pkg/set"
	"github.com/urfave/cli/v2"
)

// output of the commands; logs go to stderr.
var output io.Writer = os.Stdout

// Automatically set through -ldflags
// Example: go install -ldflags "-X main.version=`git describe --tags`"
var version = "master"

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Read settings from `FILE` (toml, yaml or json). PSI_* environment variables override it.",
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "If set, verbosity is at the debug level",
}

var workersFlag = &cli.IntFlag{
	Name:  "workers",
	Usage: "Number of goroutines exponentiating in parallel, 0 for one per CPU.",
}

var metricsFlag = &cli.StringFlag{
	Name:  "metrics",
	Usage: "Launch a metrics server at the specified (host:)port.",
}

var progressFlag = &cli.BoolFlag{
	Name:  "progress",
	Usage: "Show a progress bar while blinding.",
}

// env is shared by every command, and built by setup.
type env struct {
	cfg   *config.Config
	group *group.Group
	rand  io.Reader
	pool  *pool.Pool
	log   log.Logger
}

func CLI() *cli.App {
	app := cli.NewApp()
	app.Name = "psi"
	app.Version = version
	app.Usage = "two-party private set intersection"
	app.Writer = output
	app.Flags = toArray(configFlag, verboseFlag, workersFlag, metricsFlag)
	app.Commands = []*cli.Command{
		{
			Name:   "modulus",
			Usage:  "Print the group both parties must share.",
			Action: modulusCmd,
		},
		{
			Name:   "demo",
			Usage:  "Intersect the three sample sets pairwise, in process.",
			Flags:  toArray(progressFlag),
			Action: demoCmd,
		},
		{
			Name: "intersect",
			Usage: "Run the Diffie-Hellman PSI between two in-process parties and print " +
				"what each of them learns.",
			Flags:  toArray(setAFlag, setBFlag, fileAFlag, fileBFlag, progressFlag),
			Action: intersectCmd,
		},
		{
			Name: "emptiness",
			Usage: "Join a gossipsub network and learn whether our set intersects the " +
				"set of a peer (--start), or answer the peers (--respond).",
			Flags: toArray(elementsFlag, fileFlag, startFlag, respondFlag, timeoutFlag,
				retriesFlag, listenFlag, peersFlag, namespaceFlag, schemeFlag, idFlag),
			Action: emptinessCmd,
		},
	}
	return app
}

func toArray(flags ...cli.Flag) []cli.Flag {
	return flags
}

// setup loads the configuration and applies the global flags on top of it.
func setup(c *cli.Context) (*env, func(), error) {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	if c.IsSet(workersFlag.Name) {
		cfg.Workers = c.Int(workersFlag.Name)
	}
	if c.IsSet(metricsFlag.Name) {
		cfg.Metrics.Listen = c.String(metricsFlag.Name)
	}
	if c.Bool(verboseFlag.Name) {
		cfg.Log.Level = "debug"
	}
	if err = cfg.Validate(); err != nil {
		return nil, nil, err
	}

	e := &env{cfg: cfg, log: cfg.Logger()}
	if e.group, err = cfg.Group(); err != nil {
		return nil, nil, err
	}
	if e.rand, err = cfg.Rand(); err != nil {
		return nil, nil, err
	}
	e.pool = pool.NewPool(cfg.Workers)

	ctx, cancel := context.WithCancel(c.Context)
	if cfg.Metrics.Listen != "" {
		if _, err = metrics.Start(ctx, cfg.Metrics.Listen, e.log); err != nil {
			cancel()
			e.pool.TearDown()
			return nil, nil, fmt.Errorf("metrics: %w", err)
		}
	}
	return e, func() {
		cancel()
		e.pool.TearDown()
		_ = e.log.Sync()
	}, nil
}

func modulusCmd(c *cli.Context) error {
	e, done, err := setup(c)
	if err != nil {
		return err
	}
	defer done()
	fmt.Fprintf(output, "group:   %s\n", e.group.Name())
	fmt.Fprintf(output, "bits:    %d\n", e.group.BitLen())
	fmt.Fprintf(output, "modulus: %s\n", e.group.Modulus())
	return nil
}

// readSet returns the non empty lines of path, skipping # comments.
func readSet(path string) (*set.Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var elements []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		elements = append(elements, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return set.New(elements...), nil
}

// setFrom reads the set given inline or, if set, from a file.
func setFrom(c *cli.Context, inline, file string) (*set.Set, error) {
	if path := c.String(file); path != "" {
		return readSet(path)
	}
	return set.New(c.StringSlice(inline)...), nil
}

func printResult(who string, s *set.Set) {
	label := color.New(color.FgCyan, color.Bold).SprintFunc()
	if s.Empty() {
		fmt.Fprintf(output, "%s %s\n", label(who+":"), color.YellowString("empty intersection"))
		return
	}
	fmt.Fprintf(output, "%s %s\n", label(who+":"), color.GreenString(s.String()))
}
