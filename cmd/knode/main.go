// Copyright 2026 The knode Authors
// This file is part of the knode library.
//
// The knode library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// knode is the CLI entry point for a single DHT node: flag parsing follows
// cmd/classic/main.go's gopkg.in/urfave/cli.v1 pattern (the teacher's
// cmd/bootnode/main.go is the closer domain match for a bare discovery
// daemon, but uses the stdlib flag package; this CLI keeps the
// urfave/cli.v1 surface consistently for all of SPEC_FULL.md's CLI
// components), and the REPL replaces the Rust original's hand-rolled
// terminal.rs stdin loop with a peterh/liner line editor per SPEC_FULL.md's
// DOMAIN STACK.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"github.com/knode/knode/log"
	"github.com/knode/knode/node"
)

var (
	addrFlag = cli.StringFlag{
		Name:  "addr",
		Usage: "UDP listen address",
		Value: "0.0.0.0:16700",
	}
	stateDirFlag = cli.StringFlag{
		Name:  "statedir",
		Usage: "directory holding the persisted node identity and snapshot",
		Value: "./data",
	}
	bootstrapFlag = cli.StringFlag{
		Name:  "bootstrap",
		Usage: "comma-separated host:port peers to ping at startup",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "sets the log verbosity level (0=crit .. 5=trace)",
		Value: int(log.Info),
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "knode"
	app.Usage = "a Kademlia DHT node"
	app.Flags = []cli.Flag{addrFlag, stateDirFlag, bootstrapFlag, verbosityFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	logger := log.New("knode", os.Stderr, log.Level(ctx.GlobalInt(verbosityFlag.Name)))

	n, err := node.New(node.Config{
		ListenAddr: ctx.GlobalString(addrFlag.Name),
		StateDir:   ctx.GlobalString(stateDirFlag.Name),
		Logger:     logger,
	})
	if err != nil {
		logger.Critf("startup failed: %v", err)
		return cli.NewExitError(err.Error(), 1)
	}

	logger.Infof("node id %s listening on %s", n.Self(), ctx.GlobalString(addrFlag.Name))
	n.Run()

	if bs := ctx.GlobalString(bootstrapFlag.Name); bs != "" {
		bootstrap(n, bs, logger)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		runRepl(n, logger)
		close(done)
	}()

	select {
	case <-sigc:
	case <-done:
	}

	if err := n.Shutdown(); err != nil {
		logger.Errorf("shutdown: %v", err)
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}

func bootstrap(n *node.Node, csv string, logger *log.Logger) {
	for _, hostport := range strings.Split(csv, ",") {
		hostport = strings.TrimSpace(hostport)
		if hostport == "" {
			continue
		}
		if err := n.SendPing(mustResolve(hostport)); err != nil {
			logger.Warnf("bootstrap ping to %s: %v", hostport, err)
		}
	}
}

// runRepl drives the operator surface (§4.9) over a liner line editor,
// the idiomatic Go replacement for terminal.rs's blocking stdin reader.
func runRepl(n *node.Node, logger *log.Logger) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("knode> ")
		if err != nil {
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if !dispatchCommand(n, logger, input) {
			return
		}
	}
}

func dispatchCommand(n *node.Node, logger *log.Logger, input string) (keepRunning bool) {
	fields := strings.Fields(input)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "quit", "exit":
		return false
	case "help":
		printHelp()
	case "ping":
		runPing(n, logger, args)
	case "add-peer":
		runAddPeer(n, logger, args)
	case "list-peers":
		runListPeers(n)
	case "lookup":
		runLookup(n, logger, args)
	case "store":
		runStore(n, logger, args)
	case "get":
		runGet(n, args)
	default:
		fmt.Printf("unrecognized command %q (try \"help\")\n", cmd)
	}
	return true
}

func printHelp() {
	fmt.Println(wrapHelp())
}
