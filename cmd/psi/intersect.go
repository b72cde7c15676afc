package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ktopiwo/psi/pkg/party"
	"github.com/ktopiwo/psi/pkg/set"
	"github.com/ktopiwo/psi/pkg/transport/memory"
	"github.com/ktopiwo/psi/protocols/dhpsi"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var setAFlag = &cli.StringSliceFlag{
	Name:  "a",
	Usage: "Elements of the first party, comma separated.",
}

var setBFlag = &cli.StringSliceFlag{
	Name:  "b",
	Usage: "Elements of the second party, comma separated.",
}

var fileAFlag = &cli.StringFlag{
	Name:  "a-file",
	Usage: "Read the elements of the first party from `FILE`, one per line.",
}

var fileBFlag = &cli.StringFlag{
	Name:  "b-file",
	Usage: "Read the elements of the second party from `FILE`, one per line.",
}

func intersectCmd(c *cli.Context) error {
	e, done, err := setup(c)
	if err != nil {
		return err
	}
	defer done()
	a, err := setFrom(c, setAFlag.Name, fileAFlag.Name)
	if err != nil {
		return err
	}
	b, err := setFrom(c, setBFlag.Name, fileBFlag.Name)
	if err != nil {
		return err
	}
	resA, resB, err := e.intersect(c.Context, "a", a, "b", b, c.Bool(progressFlag.Name))
	if err != nil {
		return err
	}
	printResult("a", resA)
	printResult("b", resB)
	return nil
}

// intersect runs both parties of the DH-PSI over an in-memory bus.
func (e *env) intersect(ctx context.Context, idA party.ID, a *set.Set, idB party.ID, b *set.Set, progress bool) (*set.Set, *set.Set, error) {
	bus := memory.New()
	defer bus.Close()
	sid := []byte(uuid.New().String())

	var optsA []dhpsi.Option
	if progress {
		optsA = append(optsA, dhpsi.WithProgress(newProgress(string(idA))))
	}
	pa, err := dhpsi.NewParty(dhpsi.Start(e.group, idA, idB, a, e.rand, e.pool, optsA...), sid, bus, e.log.With("party", string(idA)))
	if err != nil {
		return nil, nil, err
	}
	pb, err := dhpsi.NewParty(dhpsi.Start(e.group, idB, idA, b, e.rand, e.pool), sid, bus, e.log.With("party", string(idB)))
	if err != nil {
		return nil, nil, err
	}

	var resA, resB *set.Set
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		resA, err = pa.Run(ctx)
		return err
	})
	eg.Go(func() (err error) {
		resB, err = pb.Run(ctx)
		return err
	})
	if err = eg.Wait(); err != nil {
		return nil, nil, fmt.Errorf("intersect: %w", err)
	}
	return resA, resB, nil
}

// newProgress returns a callback drawing one bar per blinding step.
func newProgress(name string) func(done, total int) {
	var (
		mtx       sync.Mutex
		bar       *progressbar.ProgressBar
		step      int
		remaining int
	)
	steps := []string{"blinding", "re-blinding"}
	return func(done, total int) {
		mtx.Lock()
		defer mtx.Unlock()
		if remaining == 0 {
			desc := steps[len(steps)-1]
			if step < len(steps) {
				desc = steps[step]
			}
			step++
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(output),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(20),
				progressbar.OptionSetDescription(fmt.Sprintf("[cyan][%s] %s...[reset]", name, desc)),
				progressbar.OptionShowCount(),
				progressbar.OptionOnCompletion(func() { fmt.Fprintln(output) }),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}))
			remaining = total
		}
		remaining--
		_ = bar.Add(1)
	}
}
