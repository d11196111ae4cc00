// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/netchaos/cmd/netchaos/internal/chaoserr"
)

// Parse decodes and validates one scenario document. Unknown keys are
// rejected.
func Parse(name string, data []byte) (*Experiment, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, chaoserr.Configurationf("parse scenario", "%s: empty document", name)
		}
		return nil, chaoserr.Configuration("parse scenario", fmt.Errorf("%s: %w", name, err))
	}
	if f.NetworkChaos == nil {
		return nil, chaoserr.Configurationf("parse scenario", "%s: missing network_chaos block", name)
	}
	return f.NetworkChaos.Experiment(name)
}

// Load reads and parses the scenario at path. The experiment is named after
// the file.
func Load(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, chaoserr.Configuration("read scenario", err)
	}
	return Parse(filepath.Base(path), data)
}

// LoadAll loads every path, failing on the first invalid scenario so that a
// run never starts with a partially valid list.
func LoadAll(paths []string) ([]*Experiment, error) {
	if len(paths) == 0 {
		return nil, chaoserr.Configurationf("load scenarios", "no scenario files given")
	}
	out := make([]*Experiment, 0, len(paths))
	for _, p := range paths {
		e, err := Load(p)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
