// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tc

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
)

// =============================================================================
// Direction
// =============================================================================

// Direction selects which side of an interface is impaired.
type Direction string

const (
	// Egress impairs packets leaving the interface with a root netem qdisc.
	Egress Direction = "egress"

	// Ingress impairs packets arriving on the interface by redirecting them
	// through an ifb device that carries the netem qdisc.
	Ingress Direction = "ingress"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Egress || d == Ingress
}

// =============================================================================
// Parameters
// =============================================================================

// Parameter names accepted in scenarios.
const (
	ParamLatency   = "latency"
	ParamLoss      = "loss"
	ParamBandwidth = "bandwidth"
)

// netemKeywords maps scenario parameter names to netem keywords. The table is
// closed: anything else is a configuration error.
var netemKeywords = map[string]string{
	ParamLatency:   "delay",
	ParamLoss:      "loss",
	ParamBandwidth: "rate",
}

var (
	timeValue = regexp.MustCompile(`^\d+(\.\d+)?(us|ms|s)$`)
	lossValue = regexp.MustCompile(`^\d+(\.\d+)?%?$`)
	rateValue = regexp.MustCompile(`^(\d+(\.\d+)?)(bit|kbit|mbit|gbit|tbit|bps|kbps|mbps|gbps|tbps)$`)
)

// Param is one impairment parameter, e.g. {latency 50ms}.
type Param struct {
	Name  string
	Value string
}

// String returns "name=value".
func (p Param) String() string {
	return p.Name + "=" + p.Value
}

// Keyword returns the netem keyword for p, or "" if p.Name is unknown.
func (p Param) Keyword() string {
	return netemKeywords[p.Name]
}

// Validate checks that p has a known name and a well-formed value.
func (p Param) Validate() error {
	switch p.Name {
	case ParamLatency:
		if !timeValue.MatchString(p.Value) {
			return chaoserr.Configurationf("validate parameter",
				"latency %q: want a number followed by us, ms or s", p.Value)
		}
	case ParamLoss:
		if !lossValue.MatchString(p.Value) {
			return chaoserr.Configurationf("validate parameter",
				"loss %q: want a percentage such as 2%% or 0.5", p.Value)
		}
		f, _ := strconv.ParseFloat(strings.TrimSuffix(p.Value, "%"), 64)
		if f > 100 {
			return chaoserr.Configurationf("validate parameter", "loss %q exceeds 100%%", p.Value)
		}
	case ParamBandwidth:
		if !rateValue.MatchString(p.Value) {
			return chaoserr.Configurationf("validate parameter",
				"bandwidth %q: want a number followed by a rate unit such as mbit", p.Value)
		}
	default:
		return chaoserr.Configurationf("validate parameter",
			"unknown parameter %q (known: %s)", p.Name, strings.Join(KnownParams(), ", "))
	}
	return nil
}

// Params is an ordered parameter set. Order is significant: serial mode runs
// one round per parameter in this order.
type Params []Param

// Names returns the parameter names in order.
func (ps Params) Names() []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

// Get returns the value for name.
func (ps Params) Get(name string) (string, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// String returns "name=value,name=value".
func (ps Params) String() string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

// Validate checks every parameter and rejects empty sets and duplicates.
func (ps Params) Validate() error {
	if len(ps) == 0 {
		return chaoserr.Configurationf("validate parameters", "no impairment parameters")
	}
	seen := make(map[string]bool, len(ps))
	for _, p := range ps {
		if seen[p.Name] {
			return chaoserr.Configurationf("validate parameters", "duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// KnownParams returns the accepted parameter names, sorted.
func KnownParams() []string {
	out := make([]string, 0, len(netemKeywords))
	for k := range netemKeywords {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Interface names
// =============================================================================

var ifaceName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,14}$`)

// ValidInterfaceName reports whether s is a Linux interface name that is safe
// to embed in a script (at most 15 bytes, no whitespace or shell metacharacters).
func ValidInterfaceName(s string) bool {
	return ifaceName.MatchString(s)
}

func validateInterfaces(ifaces []string) error {
	if len(ifaces) == 0 {
		return chaoserr.Configurationf("generate command", "no interfaces")
	}
	seen := make(map[string]bool, len(ifaces))
	for _, name := range ifaces {
		if !ValidInterfaceName(name) {
			return chaoserr.Configurationf("generate command", "invalid interface name %q", name)
		}
		if seen[name] {
			return chaoserr.Configurationf("generate command", "duplicate interface %q", name)
		}
		seen[name] = true
	}
	return nil
}

// netemArgs returns the netem argument list for ps, e.g.
// ["delay", "50ms", "rate", "10mbit", "limit", "62"].
func netemArgs(ps Params, autoLimit bool) []string {
	args := make([]string, 0, 2*len(ps)+2)
	for _, p := range ps {
		args = append(args, p.Keyword(), p.Value)
	}
	if rate, ok := ps.Get(ParamBandwidth); ok && autoLimit {
		delay, _ := ps.Get(ParamLatency)
		args = append(args, "limit", fmt.Sprint(NetemLimit(rate, delay)))
	}
	return args
}
