// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tc generates the traffic-control scripts that apply and revert a
// network impairment on one node.
//
// Scripts are built as ordered typed actions (see Action) and only rendered
// to shell at the end, so the apply/revert pairing can be checked without
// parsing shell text.
package tc

import (
	"fmt"
	"time"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
)

// DefaultGrace is the pause between teardown and the final qdisc listing.
const DefaultGrace = 20 * time.Second

// DefaultIFBPrefix names ingress redirect devices. It stays clear of the
// ifb0, ifb1 devices the ifb module creates on load.
const DefaultIFBPrefix = "ncifb"

// Options tunes Generate.
type Options struct {
	// Grace overrides DefaultGrace when positive.
	Grace time.Duration

	// IFBPrefix names the ingress redirect devices; default DefaultIFBPrefix.
	// With the device index appended it must stay a valid interface name.
	IFBPrefix string

	// AutoLimit adds a netem "limit" sized by NetemLimit when the unit sets
	// a bandwidth. Off, netem keeps its 1000 packet queue.
	AutoLimit bool
}

// Generate builds the impairment script for one execution unit.
//
// # Description
//
// Egress attaches a root netem qdisc to every interface. Ingress loads the
// ifb module, creates one ifb device per interface, redirects the
// interface's ingress traffic to it, and attaches netem to the ifb device.
// Teardown reverts in the reverse order of setup.
//
// # Inputs
//
//   - ifaces: target interfaces, non-empty, valid Linux names
//   - params: ordered parameters (the subset for this unit)
//   - dir: Egress or Ingress
//   - hold: how long the impairment stays applied, at least one second
//
// # Outputs
//
// A Script whose pairing has been checked, or a chaoserr configuration error.
//
// # Example
//
//	s, err := tc.Generate([]string{"eth0"}, tc.Params{{Name: "latency", Value: "50ms"}},
//	    tc.Egress, 2*time.Minute, tc.Options{})
//	// s.Render():
//	//   tc qdisc add dev eth0 root netem delay 50ms || { revert; exit 1; }
//	//   ...
func Generate(ifaces []string, params Params, dir Direction, hold time.Duration, opts Options) (*Script, error) {
	if !dir.Valid() {
		return nil, chaoserr.Configurationf("generate command", "unknown direction %q", dir)
	}
	if err := validateInterfaces(ifaces); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if hold < time.Second {
		return nil, chaoserr.Configurationf("generate command", "hold %v is shorter than one second", hold)
	}

	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	prefix := opts.IFBPrefix
	if prefix == "" {
		prefix = DefaultIFBPrefix
	}
	if dir == Ingress && !ValidInterfaceName(fmt.Sprintf("%s%d", prefix, len(ifaces)-1)) {
		return nil, chaoserr.Configurationf("generate command", "ifb prefix %q does not form a valid interface name", prefix)
	}

	s := &Script{
		Direction:  dir,
		Interfaces: append([]string(nil), ifaces...),
		Params:     append(Params(nil), params...),
		Hold:       hold,
		Grace:      grace,
	}
	netem := netemArgs(params, opts.AutoLimit)

	switch dir {
	case Egress:
		for _, iface := range ifaces {
			s.Setup = append(s.Setup, Action{Kind: ActAddNetem, Dev: iface, Netem: netem})
			s.Inspect = append(s.Inspect, Action{Kind: ActShow, Dev: iface})
		}
		for i := len(ifaces) - 1; i >= 0; i-- {
			s.Teardown = append(s.Teardown, Action{Kind: ActDelRoot, Dev: ifaces[i]})
		}

	case Ingress:
		s.Setup = append(s.Setup, Action{Kind: ActLoadModule, BestEffort: true})
		for i, iface := range ifaces {
			ifb := fmt.Sprintf("%s%d", prefix, i)
			s.Setup = append(s.Setup,
				Action{Kind: ActAddDevice, Dev: ifb},
				Action{Kind: ActLinkUp, Dev: ifb},
				Action{Kind: ActAddIngress, Dev: iface},
				Action{Kind: ActAddRedirect, Dev: iface, Peer: ifb},
				Action{Kind: ActAddNetem, Dev: ifb, Netem: netem},
			)
			s.Inspect = append(s.Inspect, Action{Kind: ActShow, Dev: iface}, Action{Kind: ActShow, Dev: ifb})
		}
		for i := len(ifaces) - 1; i >= 0; i-- {
			iface, ifb := ifaces[i], fmt.Sprintf("%s%d", prefix, i)
			s.Teardown = append(s.Teardown,
				Action{Kind: ActDelRoot, Dev: ifb},
				Action{Kind: ActDelRedirect, Dev: iface},
				Action{Kind: ActDelIngress, Dev: iface},
				Action{Kind: ActDelDevice, Dev: ifb},
			)
		}
	}

	if err := s.CheckPairing(); err != nil {
		return nil, chaoserr.Configuration("generate command", err)
	}
	return s, nil
}
