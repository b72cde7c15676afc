package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/ktopiwo/psi/pkg/party"
	"github.com/ktopiwo/psi/pkg/transport/gossip"
	"github.com/ktopiwo/psi/protocols/emptiness"
	"github.com/urfave/cli/v2"
)

var elementsFlag = &cli.StringSliceFlag{
	Name:  "elements",
	Usage: "Elements of our set, comma separated.",
}

var fileFlag = &cli.StringFlag{
	Name:  "file",
	Usage: "Read our elements from `FILE`, one per line.",
}

var startFlag = &cli.BoolFlag{
	Name:  "start",
	Usage: "Ask the peers whether our sets intersect, then exit.",
}

var respondFlag = &cli.BoolFlag{
	Name:  "respond",
	Usage: "Answer the questions of the peers until interrupted.",
}

var timeoutFlag = &cli.DurationFlag{
	Name:  "timeout",
	Usage: "How long to wait for an answer before starting over. Overrides emptiness.timeout.",
}

var retriesFlag = &cli.IntFlag{
	Name:  "retries",
	Usage: "How many times to start over without an answer. Overrides emptiness.retries.",
}

var listenFlag = &cli.StringFlag{
	Name:  "listen",
	Usage: "Multiaddr to listen on. Overrides gossip.listen.",
}

var peersFlag = &cli.StringSliceFlag{
	Name:  "peer",
	Usage: "Multiaddr of a peer, ending in /p2p/<id>. Can be repeated. Overrides gossip.peers.",
}

var namespaceFlag = &cli.StringFlag{
	Name:  "namespace",
	Usage: "Only talk to the peers using the same namespace. Overrides gossip.namespace.",
}

var schemeFlag = &cli.StringFlag{
	Name:  "scheme",
	Usage: "Labelling scheme, commutative or keyed-hash. Overrides emptiness.scheme.",
}

var idFlag = &cli.StringFlag{
	Name:  "id",
	Usage: "Name of this party on the wire. Defaults to the libp2p peer ID.",
}

func emptinessCmd(c *cli.Context) error {
	if !c.Bool(startFlag.Name) && !c.Bool(respondFlag.Name) {
		return errors.New("emptiness: nothing to do, pass --start and/or --respond")
	}
	e, done, err := setup(c)
	if err != nil {
		return err
	}
	defer done()
	cfg := e.cfg
	if c.IsSet(timeoutFlag.Name) {
		cfg.Emptiness.Timeout = c.Duration(timeoutFlag.Name)
	}
	if c.IsSet(retriesFlag.Name) {
		cfg.Emptiness.Retries = c.Int(retriesFlag.Name)
	}
	if c.IsSet(listenFlag.Name) {
		cfg.Gossip.Listen = c.String(listenFlag.Name)
	}
	if c.IsSet(peersFlag.Name) {
		cfg.Gossip.Peers = c.StringSlice(peersFlag.Name)
	}
	if c.IsSet(namespaceFlag.Name) {
		cfg.Gossip.Namespace = c.String(namespaceFlag.Name)
	}
	if c.IsSet(schemeFlag.Name) {
		cfg.Emptiness.Scheme = c.String(schemeFlag.Name)
	}
	if err = cfg.Validate(); err != nil {
		return err
	}
	own, err := setFrom(c, elementsFlag.Name, fileFlag.Name)
	if err != nil {
		return err
	}
	scheme, err := emptiness.SchemeByName(cfg.Emptiness.Scheme, e.group)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, ps, err := gossip.NewHost(ctx, cfg.Gossip.Listen, cfg.Gossip.Peers, e.log)
	if err != nil {
		return err
	}
	defer h.Close()
	tr := gossip.New(ps, h.ID(), cfg.Gossip.Namespace, e.log)
	defer tr.Close()
	for _, addr := range gossip.Addrs(h) {
		fmt.Fprintf(output, "listening on %s\n", addr)
	}

	id := party.ID(c.String(idFlag.Name))
	if id == "" {
		id = party.ID(h.ID().String())
	}
	p, err := emptiness.New(emptiness.Config{
		SelfID:    id,
		Set:       own,
		Transport: tr,
		Scheme:    scheme,
		Rand:      e.rand,
		Pool:      e.pool,
		Logger:    e.log,
		Respond:   c.Bool(respondFlag.Name),
	})
	if err != nil {
		return err
	}
	defer p.Close()

	if !c.Bool(startFlag.Name) {
		<-ctx.Done()
		return nil
	}
	// gossipsub needs a moment to graft the mesh before the first publish
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}
	empty, err := p.Run(ctx, cfg.Emptiness.Timeout, cfg.Emptiness.Retries)
	if err != nil {
		return err
	}
	if empty {
		fmt.Fprintln(output, color.YellowString("intersection is empty"))
	} else {
		fmt.Fprintln(output, color.GreenString("intersection is not empty"))
	}
	if c.Bool(respondFlag.Name) {
		<-ctx.Done()
	}
	return nil
}

