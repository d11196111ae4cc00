// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scenario

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/tc"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// scenarioValidate reports field errors by their yaml names.
var scenarioValidate *validator.Validate

func init() {
	scenarioValidate = validator.New(validator.WithRequiredStructEnabled())
	scenarioValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = scenarioValidate.RegisterValidation("ifname", validateIfName)
	_ = scenarioValidate.RegisterValidation("k8sname", validateK8sName)
}

func validateIfName(fl validator.FieldLevel) bool {
	return tc.ValidInterfaceName(fl.Field().String())
}

// validateK8sName accepts DNS-1123 subdomains, the format of node names.
func validateK8sName(fl validator.FieldLevel) bool {
	return len(validation.IsDNS1123Subdomain(fl.Field().String())) == 0
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks the raw block. It returns a chaoserr configuration error
// listing every problem found by the struct rules, or the first semantic
// problem (direction blocks, selector syntax, parameter values).
func (c *Config) Validate() error {
	if err := scenarioValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return chaoserr.Configurationf("validate scenario", "%s", strings.Join(msgs, "; "))
		}
		return chaoserr.Configuration("validate scenario", err)
	}

	if c.Egress != nil && c.Ingress != nil {
		return chaoserr.Configurationf("validate scenario", "egress and ingress are mutually exclusive")
	}
	if c.LabelSelector != "" {
		if _, err := labels.Parse(c.LabelSelector); err != nil {
			return chaoserr.Configuration("validate scenario", fmt.Errorf("label_selector: %w", err))
		}
	}
	if block := c.block(); block != nil {
		if err := block.Params.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) block() *ParamBlock {
	if c.Ingress != nil {
		return c.Ingress
	}
	return c.Egress
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required_without_all":
		return "one of node_name, node_interfaces or label_selector is required"
	case "oneof":
		return fmt.Sprintf("%s: %q is not one of [%s]", field, fe.Value(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s: must be at least %s", field, fe.Param())
	case "ifname":
		return fmt.Sprintf("%s: %q is not a valid interface name", field, fe.Value())
	case "k8sname":
		return fmt.Sprintf("%s: %q is not a valid node name", field, fe.Value())
	default:
		return fmt.Sprintf("%s: failed %s", field, fe.Tag())
	}
}

// =============================================================================
// Conversion
// =============================================================================

// Experiment validates c and converts it, applying defaults.
//
// Explicit node names take precedence over a label selector. When neither
// node names nor a selector is given, the node_interfaces keys name the
// target nodes. With no egress or ingress block the experiment limits egress
// bandwidth to DefaultBandwidth.
func (c *Config) Experiment(name string) (*Experiment, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	e := &Experiment{
		Name:          name,
		Duration:      seconds(c.Duration, DefaultDuration),
		WaitDuration:  seconds(c.WaitDuration, DefaultWaitDuration),
		InstanceCount: DefaultInstanceCount,
		Interfaces:    append([]string(nil), c.Interfaces...),
		Mode:          Serial,
		Direction:     tc.Egress,
	}
	if c.InstanceCount != nil {
		e.InstanceCount = *c.InstanceCount
	}
	if c.Execution != "" {
		e.Mode = Mode(c.Execution)
	}

	switch {
	case c.Ingress != nil:
		e.Direction = tc.Ingress
		e.Params = append(tc.Params(nil), c.Ingress.Params...)
	case c.Egress != nil:
		e.Params = append(tc.Params(nil), c.Egress.Params...)
	default:
		e.Params = tc.Params{{Name: tc.ParamBandwidth, Value: DefaultBandwidth}}
	}

	if len(c.NodeInterfaces) > 0 {
		e.NodeInterfaces = make(map[string][]string, len(c.NodeInterfaces))
		for node, ifaces := range c.NodeInterfaces {
			e.NodeInterfaces[node] = append([]string(nil), ifaces...)
		}
	}

	e.NodeNames = dedupe(c.NodeName)
	switch {
	case len(e.NodeNames) > 0:
	case c.LabelSelector != "":
		e.LabelSelector = c.LabelSelector
	default:
		keys := make([]string, 0, len(c.NodeInterfaces))
		for node := range c.NodeInterfaces {
			keys = append(keys, node)
		}
		sort.Strings(keys)
		e.NodeNames = keys
	}
	return e, nil
}

func seconds(v *int, def int) time.Duration {
	if v == nil {
		return time.Duration(def) * time.Second
	}
	return time.Duration(*v) * time.Second
}

func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
