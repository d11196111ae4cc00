// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scenario defines the network chaos scenario schema, loads it from
// YAML and validates it once, producing an immutable Experiment.
//
// A scenario file has a single top-level block:
//
//	network_chaos:
//	  duration: 120           # seconds the impairment is held, default 300
//	  wait_duration: 60       # grace after each round, default 300
//	  node_name: node-a,node-b
//	  label_selector: ""      # used when no node names are given
//	  instance_count: 1
//	  interfaces: [eth0]      # empty means the default-route interface
//	  node_interfaces:        # per-node override
//	    node-b: [ens5]
//	  execution: serial       # serial | parallel
//	  egress:                 # or ingress:, not both
//	    latency: 50ms
//	    loss: 2%
//
// Parameter order under egress/ingress is preserved; serial execution runs
// one round per parameter in that order.
package scenario

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/tc"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultDuration      = 300
	DefaultWaitDuration  = 300
	DefaultInstanceCount = 1
	DefaultBandwidth     = "100mbit"
)

// =============================================================================
// Mode
// =============================================================================

// Mode is the execution policy.
type Mode string

const (
	// Serial runs one round per parameter, each round fully completed and
	// cleaned up before the next.
	Serial Mode = "serial"

	// Parallel runs a single round carrying all parameters.
	Parallel Mode = "parallel"
)

// =============================================================================
// Raw schema
// =============================================================================

// File is the on-disk document.
type File struct {
	NetworkChaos *Config `yaml:"network_chaos"`
}

// Config is the network_chaos block as written by the user. It is validated
// by Validate and converted into an Experiment; nothing downstream reads it.
type Config struct {
	Duration       *int                `yaml:"duration" validate:"omitempty,gte=1"`
	WaitDuration   *int                `yaml:"wait_duration" validate:"omitempty,gte=0"`
	NodeName       NodeList            `yaml:"node_name" validate:"omitempty,dive,k8sname"`
	NodeInterfaces map[string][]string `yaml:"node_interfaces" validate:"omitempty,dive,keys,k8sname,endkeys,dive,ifname"`
	LabelSelector  string              `yaml:"label_selector" validate:"required_without_all=NodeName NodeInterfaces"`
	InstanceCount  *int                `yaml:"instance_count" validate:"omitempty,gte=1"`
	Interfaces     []string            `yaml:"interfaces" validate:"omitempty,dive,ifname"`
	Execution      string              `yaml:"execution" validate:"omitempty,oneof=serial parallel"`
	Egress         *ParamBlock         `yaml:"egress"`
	Ingress        *ParamBlock         `yaml:"ingress"`
}

// NodeList accepts either a comma-separated string or a YAML sequence.
type NodeList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (n *NodeList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*n = splitNames(node.Value)
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		*n = names
		return nil
	default:
		return fmt.Errorf("line %d: node_name must be a string or a list", node.Line)
	}
}

// ParamBlock is an ordered parameter mapping such as {latency: 50ms, loss: 2%}.
type ParamBlock struct {
	Params tc.Params
}

// UnmarshalYAML implements yaml.Unmarshaler, keeping key order.
func (p *ParamBlock) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: parameter block must be a mapping", node.Line)
	}
	p.Params = make(tc.Params, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: parameter %q must be a scalar", v.Line, k.Value)
		}
		p.Params = append(p.Params, tc.Param{Name: k.Value, Value: v.Value})
	}
	return nil
}

// =============================================================================
// Experiment
// =============================================================================

// Experiment is a validated scenario. Treat it as read-only: the orchestrator
// relies on node and interface selection not changing once a run starts.
type Experiment struct {
	// Name identifies the scenario in logs and reports, usually the file name.
	Name string

	Duration     time.Duration
	WaitDuration time.Duration

	NodeNames      []string
	NodeInterfaces map[string][]string
	LabelSelector  string
	InstanceCount  int
	Interfaces     []string

	Mode      Mode
	Direction tc.Direction
	Params    tc.Params
}

// InterfacesFor returns the requested interfaces for node: the per-node
// override when present, otherwise the global list. Empty means auto-detect.
func (e *Experiment) InterfacesFor(node string) []string {
	if ifaces, ok := e.NodeInterfaces[node]; ok {
		return append([]string(nil), ifaces...)
	}
	return append([]string(nil), e.Interfaces...)
}

// Summary is a one-line description for logs.
func (e *Experiment) Summary() string {
	target := e.LabelSelector
	if len(e.NodeNames) > 0 {
		target = fmt.Sprint(e.NodeNames)
	}
	return fmt.Sprintf("%s %s %s on %s for %v", e.Mode, e.Direction, e.Params, target, e.Duration)
}
