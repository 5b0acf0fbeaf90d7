// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ruleengine is the supplemented legacy decision path (SPEC_FULL.md
// §3): a port of original_source's dormant SetPoint/TimedRuleSet rule
// engine, offered as an opt-in alternative to the script sandbox in the same
// precedence slot. Each SetPoint nudges a shared heat/cool "weight" pair
// from a probe reading; a TimedRuleSet picks the active rule for the time of
// day and averages its set points' weights into a call.
package ruleengine

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ProbeLookup resolves a probe name to its current value.
type ProbeLookup func(name string) (float64, bool)

// SetPoint contributes a (heat, cool) weight pair toward the rule's
// decision, ported from models/src/set_point/{basic,gradient}.rs.
type SetPoint interface {
	Evaluate(probes ProbeLookup) (heat, cool float64)
}

// BasicSetPoint ramps linearly outside [MinTemp, MaxTemp], weighted by
// Weight — ported verbatim from set_point/basic.rs.
type BasicSetPoint struct {
	Probe   string  `json:"probe"`
	Weight  float64 `json:"weight"`
	MinTemp float64 `json:"min_temp"`
	MaxTemp float64 `json:"max_temp"`
}

// Evaluate implements SetPoint.
func (b BasicSetPoint) Evaluate(probes ProbeLookup) (heat, cool float64) {
	temp, ok := probes(b.Probe)
	if !ok {
		return 0, 0
	}

	switch {
	case temp < b.MinTemp:
		return (b.MinTemp - temp) * b.Weight, 0
	case temp > b.MaxTemp:
		return 0, (temp - b.MaxTemp) * b.Weight
	default:
		return 0, 0
	}
}

// StopPoint is one control point of a GradientSetPoint.
type StopPoint struct {
	Temp      float64 `json:"temp"`
	HeatValue float64 `json:"heat_value"`
	CoolValue float64 `json:"cool_value"`
}

// GradientSetPoint linearly interpolates heat/cool weights between the two
// stop points bracketing the current temperature — ported from
// set_point/gradient.rs.
type GradientSetPoint struct {
	Probe      string      `json:"probe"`
	Weight     float64     `json:"weight"`
	StopPoints []StopPoint `json:"stop_points"`
}

// UnmarshalJSON filters non-finite stop points and sorts the rest by
// temperature, mirroring gradient.rs's UnsortedGradientSetPoint conversion
// (there implemented via a bit-twiddled NaN-safe sort key; here via a plain
// finite check + stable float sort, which is equivalent for our purposes
// since Go JSON numbers can't encode NaN/Inf in the first place).
func (g *GradientSetPoint) UnmarshalJSON(data []byte) error {
	type alias GradientSetPoint
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	finite := a.StopPoints[:0]
	for _, p := range a.StopPoints {
		if isFinite(p.Temp) {
			finite = append(finite, p)
		}
	}
	sort.SliceStable(finite, func(i, j int) bool { return finite[i].Temp < finite[j].Temp })

	a.StopPoints = finite
	*g = GradientSetPoint(a)
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Evaluate implements SetPoint.
func (g GradientSetPoint) Evaluate(probes ProbeLookup) (heat, cool float64) {
	switch len(g.StopPoints) {
	case 0:
		return 0, 0
	case 1:
		p := g.StopPoints[0]
		return p.HeatValue * g.Weight, p.CoolValue * g.Weight
	}

	temp, ok := probes(g.Probe)
	if !ok {
		return 0, 0
	}

	right := len(g.StopPoints)
	for i, p := range g.StopPoints {
		if p.Temp > temp {
			right = i
			break
		}
	}

	var left, rightPoint StopPoint
	switch {
	case right == 0:
		left, rightPoint = g.StopPoints[0], g.StopPoints[1]
	case right == len(g.StopPoints):
		left, rightPoint = g.StopPoints[right-2], g.StopPoints[right-1]
	default:
		left, rightPoint = g.StopPoints[right-1], g.StopPoints[right]
	}

	return g.interpolate(temp, left, rightPoint)
}

func (g GradientSetPoint) interpolate(temp float64, left, right StopPoint) (heat, cool float64) {
	dt := right.Temp - left.Temp
	dh := right.HeatValue - left.HeatValue
	dc := right.CoolValue - left.CoolValue
	t := (temp - left.Temp) / dt

	return (left.HeatValue + dh*t) * g.Weight, (left.CoolValue + dc*t) * g.Weight
}

// UnmarshalSetPoint decodes one SetPoint from its tagged JSON wire form,
// falling back to BasicSetPoint when no "type" tag is present — the Go
// rendering of set_point/mod.rs's "cursed" untagged-deserialize fallback.
func UnmarshalSetPoint(data []byte) (SetPoint, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("ruleengine: invalid set point JSON: %w", err)
	}

	switch probe.Type {
	case "", "basic":
		var b BasicSetPoint
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("ruleengine: decoding basic set point: %w", err)
		}
		return b, nil
	case "gradient":
		var g GradientSetPoint
		if err := json.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("ruleengine: decoding gradient set point: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("ruleengine: unknown set point type %q", probe.Type)
	}
}
