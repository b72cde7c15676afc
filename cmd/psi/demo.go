package main

import (
	"fmt"

	"github.com/ktopiwo/psi/pkg/set"
	"github.com/ktopiwo/psi/pkg/transport/memory"
	"github.com/ktopiwo/psi/protocols/emptiness"
	"github.com/urfave/cli/v2"
)

// Sample sets intersected by the demo command.
var demoSets = []struct {
	name     string
	elements []string
}{
	{"set1", []string{"alice", "bob", "charlie"}},
	{"set2", []string{"bob", "oscar"}},
	{"set3", []string{"greta", "donald", "oscar"}},
}

func demoCmd(c *cli.Context) error {
	e, done, err := setup(c)
	if err != nil {
		return err
	}
	defer done()
	scheme, err := emptiness.SchemeByName(e.cfg.Emptiness.Scheme, e.group)
	if err != nil {
		return err
	}
	for i := range demoSets {
		for j := i + 1; j < len(demoSets); j++ {
			x, y := demoSets[i], demoSets[j]
			fmt.Fprintf(output, "%s %v ∩ %s %v\n", x.name, x.elements, y.name, y.elements)
			resX, resY, err := e.intersect(c.Context, "x", set.New(x.elements...), "y", set.New(y.elements...), c.Bool(progressFlag.Name))
			if err != nil {
				return err
			}
			printResult("  "+x.name, resX)
			printResult("  "+y.name, resY)

			empty, err := e.emptiness(c, scheme, set.New(x.elements...), set.New(y.elements...))
			if err != nil {
				return err
			}
			fmt.Fprintf(output, "  emptiness (%s): empty=%t\n", scheme.Name(), empty)
		}
	}
	return nil
}

// emptiness asks, as x, whether x and y intersect, with y responding over an in-memory bus.
func (e *env) emptiness(c *cli.Context, scheme emptiness.Scheme, x, y *set.Set) (bool, error) {
	bus := memory.New()
	defer bus.Close()
	initiator, err := emptiness.New(emptiness.Config{
		SelfID: "x", Set: x, Transport: bus, Scheme: scheme,
		Rand: e.rand, Pool: e.pool, Logger: e.log,
	})
	if err != nil {
		return false, err
	}
	defer initiator.Close()
	responder, err := emptiness.New(emptiness.Config{
		SelfID: "y", Set: y, Transport: bus, Scheme: scheme,
		Rand: e.rand, Pool: e.pool, Logger: e.log, Respond: true,
	})
	if err != nil {
		return false, err
	}
	defer responder.Close()
	return initiator.Run(c.Context, e.cfg.Emptiness.Timeout, e.cfg.Emptiness.Retries)
}
