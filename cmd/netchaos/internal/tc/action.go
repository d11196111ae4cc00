// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tc

import (
	"regexp"
	"strconv"
	"strings"
)

// ActionKind identifies one typed traffic-control or link operation.
type ActionKind int

const (
	// ActLoadModule loads the ifb kernel module without creating devices.
	ActLoadModule ActionKind = iota
	// ActAddDevice creates an ifb device.
	ActAddDevice
	// ActLinkUp brings a device up.
	ActLinkUp
	// ActDelDevice deletes a device created by ActAddDevice.
	ActDelDevice
	// ActAddIngress attaches the ingress qdisc (handle ffff:).
	ActAddIngress
	// ActDelIngress removes the ingress qdisc.
	ActDelIngress
	// ActAddRedirect adds a u32 filter mirroring all ingress traffic to Peer.
	ActAddRedirect
	// ActDelRedirect removes the filters under parent ffff:.
	ActDelRedirect
	// ActAddNetem attaches a root netem qdisc.
	ActAddNetem
	// ActDelRoot removes the root qdisc.
	ActDelRoot
	// ActShow lists the qdiscs on a device.
	ActShow
	// ActSleep pauses the script.
	ActSleep
)

var actionNames = map[ActionKind]string{
	ActLoadModule:  "load-module",
	ActAddDevice:   "add-device",
	ActLinkUp:      "link-up",
	ActDelDevice:   "del-device",
	ActAddIngress:  "add-ingress",
	ActDelIngress:  "del-ingress",
	ActAddRedirect: "add-redirect",
	ActDelRedirect: "del-redirect",
	ActAddNetem:    "add-netem",
	ActDelRoot:     "del-root",
	ActShow:        "show",
	ActSleep:       "sleep",
}

func (k ActionKind) String() string {
	if s, ok := actionNames[k]; ok {
		return s
	}
	return "unknown"
}

// revertOf pairs every impairment-applying kind with the kind that undoes it.
var revertOf = map[ActionKind]ActionKind{
	ActAddDevice:   ActDelDevice,
	ActAddIngress:  ActDelIngress,
	ActAddRedirect: ActDelRedirect,
	ActAddNetem:    ActDelRoot,
}

// Revert returns the kind that undoes k, and false when k applies nothing
// that needs undoing.
func (k ActionKind) Revert() (ActionKind, bool) {
	r, ok := revertOf[k]
	return r, ok
}

// IsRevert reports whether k undoes some applying kind.
func (k ActionKind) IsRevert() bool {
	for _, r := range revertOf {
		if r == k {
			return true
		}
	}
	return false
}

// Action is one typed step of a generated script.
type Action struct {
	Kind ActionKind

	// Dev is the device the action operates on.
	Dev string

	// Peer is the ifb device targeted by ActAddRedirect.
	Peer string

	// Netem holds the netem arguments for ActAddNetem.
	Netem []string

	// Seconds is the ActSleep duration.
	Seconds int

	// BestEffort actions never fail the script.
	BestEffort bool
}

// Args returns the argv for the action.
func (a Action) Args() []string {
	switch a.Kind {
	case ActLoadModule:
		return []string{"modprobe", "ifb", "numifbs=0"}
	case ActAddDevice:
		return []string{"ip", "link", "add", a.Dev, "type", "ifb"}
	case ActLinkUp:
		return []string{"ip", "link", "set", "dev", a.Dev, "up"}
	case ActDelDevice:
		return []string{"ip", "link", "delete", a.Dev, "type", "ifb"}
	case ActAddIngress:
		return []string{"tc", "qdisc", "add", "dev", a.Dev, "handle", "ffff:", "ingress"}
	case ActDelIngress:
		return []string{"tc", "qdisc", "del", "dev", a.Dev, "handle", "ffff:", "ingress"}
	case ActAddRedirect:
		return []string{"tc", "filter", "add", "dev", a.Dev, "parent", "ffff:", "protocol", "ip",
			"u32", "match", "u32", "0", "0", "action", "mirred", "egress", "redirect", "dev", a.Peer}
	case ActDelRedirect:
		return []string{"tc", "filter", "del", "dev", a.Dev, "parent", "ffff:"}
	case ActAddNetem:
		return append([]string{"tc", "qdisc", "add", "dev", a.Dev, "root", "netem"}, a.Netem...)
	case ActDelRoot:
		return []string{"tc", "qdisc", "del", "dev", a.Dev, "root"}
	case ActShow:
		return []string{"tc", "qdisc", "show", "dev", a.Dev}
	case ActSleep:
		return []string{"sleep", strconv.Itoa(a.Seconds)}
	default:
		return nil
	}
}

// String returns the action as a shell command line.
func (a Action) String() string {
	args := a.Args()
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_.:%=@/+-]+$`)

func shellQuote(s string) string {
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
