// Copyright 2026 The knode Authors
// This file is part of the knode library.

package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mitchellh/go-wordwrap"

	"github.com/knode/knode/id"
	"github.com/knode/knode/log"
	"github.com/knode/knode/node"
	"github.com/knode/knode/routing"
)

const helpText = `Commands:
  ping <host:port>                send a PING and wait for PONG
  add-peer <host:port> <node_id>  register a peer reference without a round trip
  list-peers                      print the routing table snapshot
  lookup [target_node_id]         run an iterative lookup (defaults to self)
  store <key_hex> <value>         store a value under a 40-hex-char key id
  get <key_hex>                   fetch a value, falling back to FIND_VALUE
  help                            print this text
  quit | exit                     shut down and leave`

func wrapHelp() string {
	return wordwrap.WrapString(helpText, 78)
}

func mustResolve(hostport string) routing.Endpoint {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return routing.Endpoint{}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return routing.Endpoint{}
	}
	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.LookupIP(host)
		if err != nil || len(addrs) == 0 {
			return routing.Endpoint{}
		}
		ip = addrs[0]
	}
	return routing.Endpoint{IP: ip, Port: uint16(port)}
}

func runPing(n *node.Node, logger *log.Logger, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: ping <host:port>")
		return
	}
	ep := mustResolve(args[0])
	if ep.IP == nil {
		color.Red("could not resolve %s", args[0])
		return
	}
	if err := n.SendPing(ep); err != nil {
		color.Red("ping failed: %v", err)
		return
	}
	color.Green("pong from %s", args[0])
}

func runAddPeer(n *node.Node, logger *log.Logger, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: add-peer <host:port> <node_id>")
		return
	}
	ep := mustResolve(args[0])
	if ep.IP == nil {
		color.Red("could not resolve %s", args[0])
		return
	}
	nid, err := id.Parse(args[1])
	if err != nil {
		color.Red("bad node id: %v", err)
		return
	}
	if err := n.AddPeer(ep, nid); err != nil {
		color.Red("add-peer failed: %v", err)
		return
	}
	color.Green("added %s at %s", nid, args[0])
}

func runListPeers(n *node.Node) {
	peers := n.ListPeers()
	if len(peers) == 0 {
		fmt.Println("(no peers)")
		return
	}
	for _, p := range peers {
		state := "inactive"
		if p.Active {
			state = "active"
		}
		fmt.Printf("%s  %s:%d  %s\n", p.NodeId, p.Endpoint.IP, p.Endpoint.Port, state)
	}
}

func runLookup(n *node.Node, logger *log.Logger, args []string) {
	target := n.Self()
	if len(args) == 1 {
		parsed, err := id.Parse(args[0])
		if err != nil {
			color.Red("bad target id: %v", err)
			return
		}
		target = parsed
	}
	gained := n.Lookup(target)
	color.Green("lookup gained %d new peers", gained)
}

func runStore(n *node.Node, logger *log.Logger, args []string) {
	if len(args) < 2 {
		fmt.Println("usage: store <key_hex> <value>")
		return
	}
	key, err := id.Parse(args[0])
	if err != nil {
		color.Red("bad key id: %v", err)
		return
	}
	value := strings.Join(args[1:], " ")
	n.Store(key, []byte(value))
	color.Green("stored")
}

func runGet(n *node.Node, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <key_hex>")
		return
	}
	key, err := id.Parse(args[0])
	if err != nil {
		color.Red("bad key id: %v", err)
		return
	}
	v, ok := n.Get(key)
	if !ok {
		fmt.Println("(not found)")
		return
	}
	fmt.Println(string(v))
}
