// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ruleengine

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/homelab/thermostatd/internal/hvac"
)

// DaySet is a bitmask of enabled weekdays, Sunday at bit 0, matching
// timed_rule.rs's DaySet::flag_for (time.Sunday == 0 in Go too).
type DaySet uint8

// AllDays enables every day of the week.
const AllDays DaySet = 0b0111_1111

// Enabled reports whether day is set.
func (d DaySet) Enabled(day time.Weekday) bool {
	return d&(1<<uint(day)) != 0
}

// TimedRule is one schedule entry: a start time, the days it is active, the
// set points it mixes, and (extension beyond the original, SPEC_FULL.md §3)
// a list of expr-lang boolean gate expressions that must all pass for the
// rule to be eligible.
type TimedRule struct {
	SetPoints    []SetPoint `json:"-"`
	RawSetPoints []json.RawMessage `json:"set_points"`
	StartTime    string     `json:"start_time"` // "HH:MM"
	DaysEnabled  DaySet     `json:"days_enabled"`
	Requirements []string   `json:"requirements"`

	compiledReqs []*vm.Program
}

// UnmarshalJSON decodes set points via UnmarshalSetPoint (each may be
// tagged basic/gradient or untagged-basic) and compiles Requirements.
func (r *TimedRule) UnmarshalJSON(data []byte) error {
	type alias TimedRule
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = TimedRule(a)

	r.SetPoints = make([]SetPoint, 0, len(r.RawSetPoints))
	for _, raw := range r.RawSetPoints {
		sp, err := UnmarshalSetPoint(raw)
		if err != nil {
			return err
		}
		r.SetPoints = append(r.SetPoints, sp)
	}

	return r.compileRequirements()
}

func (r *TimedRule) compileRequirements() error {
	r.compiledReqs = make([]*vm.Program, 0, len(r.Requirements))
	for _, src := range r.Requirements {
		prog, err := expr.Compile(src, expr.AsBool())
		if err != nil {
			return fmt.Errorf("ruleengine: compiling requirement %q: %w", src, err)
		}
		r.compiledReqs = append(r.compiledReqs, prog)
	}
	return nil
}

// requirementEnv builds the expr-lang environment a TimedRule's Requirements
// are evaluated against — the same map[string]any shape classifyJob.go
// builds per job, here built per decision cycle instead.
func requirementEnv(mode hvac.Call, now time.Time, probes ProbeLookup, probeNames []string) map[string]any {
	env := map[string]any{
		"mode":    mode.Payload(),
		"hour":    now.Hour(),
		"minute":  now.Minute(),
		"weekday": int(now.Weekday()),
	}
	probeVals := make(map[string]float64, len(probeNames))
	for _, name := range probeNames {
		if v, ok := probes(name); ok {
			probeVals[name] = v
		}
	}
	env["probes"] = probeVals
	return env
}

func (r *TimedRule) requirementsMet(env map[string]any) (bool, error) {
	for i, prog := range r.compiledReqs {
		out, err := expr.Run(prog, env)
		if err != nil {
			return false, fmt.Errorf("ruleengine: running requirement %q: %w", r.Requirements[i], err)
		}
		ok, _ := out.(bool)
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func parseStartTime(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("ruleengine: malformed start_time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// TimedRuleSet is the ordered collection of TimedRules plus the on/off
// decision threshold, ported from models/src/timed_rule.rs.
type TimedRuleSet struct {
	Rules     []TimedRule `json:"rules"`
	Threshold float64     `json:"threshold"`
}

// UnmarshalJSON decodes the rule set and sorts Rules ascending by StartTime,
// mirroring TimedRuleSet::new's ruleset.rules.sort_by_key(|rule|
// rule.start_time) in original_source/src/hvac/mixer/timed_rule.rs:29.
// findApplicableRule assumes this ascending order and breaks its scan early.
func (s *TimedRuleSet) UnmarshalJSON(data []byte) error {
	type alias TimedRuleSet
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = TimedRuleSet(a)

	sort.SliceStable(s.Rules, func(i, j int) bool {
		ti, erri := parseStartTime(s.Rules[i].StartTime)
		tj, errj := parseStartTime(s.Rules[j].StartTime)
		if erri != nil || errj != nil {
			return s.Rules[i].StartTime < s.Rules[j].StartTime
		}
		return ti < tj
	})
	return nil
}

// Evaluate finds the applicable rule for now, mixes its (gated) set points'
// weights, and returns a call if one side's averaged weight exceeds both the
// other side's and Threshold; equal weights give no call — ported from
// TimedRuleSet::evaluate.
func (s *TimedRuleSet) Evaluate(mode hvac.Call, probes ProbeLookup, probeNames []string, now time.Time) (hvac.Call, bool) {
	rule := s.findApplicableRule(now, mode, probes, probeNames)
	if rule == nil {
		return hvac.Off, false
	}

	var onWeight, offWeight float64
	total := 0
	for _, sp := range rule.SetPoints {
		heat, cool := sp.Evaluate(probes)
		total++
		switch mode {
		case hvac.Off:
			offWeight += heat + cool
		case hvac.Heat:
			onWeight += heat
			offWeight += cool
		case hvac.Cool:
			onWeight += cool
			offWeight += heat
		}
	}
	if total > 0 {
		onWeight /= float64(total)
		offWeight /= float64(total)
	}

	switch {
	case onWeight > offWeight && onWeight > s.Threshold:
		return mode, true
	case offWeight > onWeight && offWeight > s.Threshold:
		return hvac.Off, true
	default:
		return hvac.Off, false
	}
}

// findApplicableRule mirrors TimedRuleSet::find_applicable_rule: the last
// rule today whose start time is at-or-before now, or the last enabled rule
// on the most recent previous day with one, skipping any rule whose
// Requirements don't currently hold.
func (s *TimedRuleSet) findApplicableRule(now time.Time, mode hvac.Call, probes ProbeLookup, probeNames []string) *TimedRule {
	today := now.Weekday()
	timeOfDay := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute

	env := requirementEnv(mode, now, probes, probeNames)

	eligible := func(r *TimedRule) bool {
		ok, err := r.requirementsMet(env)
		return err == nil && ok
	}

	firstIdx := -1
	for i := range s.Rules {
		if s.Rules[i].DaysEnabled.Enabled(today) && eligible(&s.Rules[i]) {
			firstIdx = i
			break
		}
	}

	if firstIdx == -1 {
		return s.lastRuleBefore(today, eligible)
	}

	firstStart, err := parseStartTime(s.Rules[firstIdx].StartTime)
	if err != nil {
		return s.lastRuleBefore(today, eligible)
	}
	if firstStart > timeOfDay {
		return s.lastRuleBefore(today, eligible)
	}

	result := firstIdx
	for i := firstIdx; i < len(s.Rules); i++ {
		if !s.Rules[i].DaysEnabled.Enabled(today) || !eligible(&s.Rules[i]) {
			continue
		}
		start, err := parseStartTime(s.Rules[i].StartTime)
		if err != nil {
			continue
		}
		if start <= timeOfDay {
			result = i
		} else {
			break
		}
	}
	return &s.Rules[result]
}

func (s *TimedRuleSet) lastRuleFor(day time.Weekday, eligible func(*TimedRule) bool) *TimedRule {
	for i := len(s.Rules) - 1; i >= 0; i-- {
		if s.Rules[i].DaysEnabled.Enabled(day) && eligible(&s.Rules[i]) {
			return &s.Rules[i]
		}
	}
	return nil
}

func (s *TimedRuleSet) lastRuleBefore(day time.Weekday, eligible func(*TimedRule) bool) *TimedRule {
	curr := day
	for i := 0; i < 7; i++ {
		curr = (curr + 6) % 7 // previous day, wrapping Sunday->Saturday
		if curr == day {
			return nil
		}
		if rule := s.lastRuleFor(curr, eligible); rule != nil {
			return rule
		}
	}
	return nil
}
