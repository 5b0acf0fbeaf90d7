// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ruleengine

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/homelab/thermostatd/internal/hvac"
)

// Load reads and decodes a TimedRuleSet from a JSON file at path — the
// config.Keys.RuleEngine.Path this decision source is opt-in to (see
// SPEC_FULL.md §3).
func Load(path string) (*TimedRuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ruleengine: reading %s: %w", path, err)
	}

	var set TimedRuleSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("ruleengine: decoding %s: %w", path, err)
	}
	return &set, nil
}

// Evaluate is the decision-engine-facing entry point: it stands in for
// script.Evaluate in the same precedence slot (spec.md §4.G step 3) when
// config.Keys.RuleEngine.Enabled is true.
func Evaluate(set *TimedRuleSet, mode hvac.Call, probes ProbeLookup, probeNames []string) (hvac.Call, bool) {
	return set.Evaluate(mode, probes, probeNames, time.Now())
}
