// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ruleengine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/homelab/thermostatd/internal/hvac"
)

func probeLookup(values map[string]float64) ProbeLookup {
	return func(name string) (float64, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestBasicSetPointBelowMin(t *testing.T) {
	sp := BasicSetPoint{Probe: "primary", Weight: 2, MinTemp: 68, MaxTemp: 72}
	heat, cool := sp.Evaluate(probeLookup(map[string]float64{"primary": 65}))
	require.Equal(t, 6.0, heat)
	require.Equal(t, 0.0, cool)
}

func TestBasicSetPointWithinBand(t *testing.T) {
	sp := BasicSetPoint{Probe: "primary", Weight: 2, MinTemp: 68, MaxTemp: 72}
	heat, cool := sp.Evaluate(probeLookup(map[string]float64{"primary": 70}))
	require.Zero(t, heat)
	require.Zero(t, cool)
}

func TestGradientSetPointInterpolates(t *testing.T) {
	sp := GradientSetPoint{
		Probe:  "primary",
		Weight: 1,
		StopPoints: []StopPoint{
			{Temp: 60, HeatValue: 10, CoolValue: 0},
			{Temp: 80, HeatValue: 0, CoolValue: 10},
		},
	}
	heat, cool := sp.Evaluate(probeLookup(map[string]float64{"primary": 70}))
	require.InDelta(t, 5.0, heat, 0.001)
	require.InDelta(t, 5.0, cool, 0.001)
}

func TestGradientSetPointSingleStopPoint(t *testing.T) {
	sp := GradientSetPoint{Weight: 2, StopPoints: []StopPoint{{HeatValue: 3, CoolValue: 4}}}
	heat, cool := sp.Evaluate(probeLookup(nil))
	require.Equal(t, 6.0, heat)
	require.Equal(t, 8.0, cool)
}

func TestDaySetEnabled(t *testing.T) {
	var d DaySet
	d = d | (1 << uint(time.Monday))
	require.True(t, d.Enabled(time.Monday))
	require.False(t, d.Enabled(time.Tuesday))
}

func TestTimedRuleSetEvaluateHeatAboveThreshold(t *testing.T) {
	set := &TimedRuleSet{
		Threshold: 1.0,
		Rules: []TimedRule{
			{
				StartTime:   "00:00",
				DaysEnabled: AllDays,
				SetPoints: []SetPoint{
					BasicSetPoint{Probe: "primary", Weight: 5, MinTemp: 68, MaxTemp: 72},
				},
			},
		},
	}

	call, has := set.Evaluate(hvac.Heat, probeLookup(map[string]float64{"primary": 60}), []string{"primary"}, time.Now())
	require.True(t, has)
	require.Equal(t, hvac.Heat, call)
}

func TestTimedRuleSetRequirementGatesRule(t *testing.T) {
	set := &TimedRuleSet{
		Threshold: 1.0,
		Rules: []TimedRule{
			{
				StartTime:    "00:00",
				DaysEnabled:  AllDays,
				Requirements: []string{`mode == "cool"`},
				SetPoints: []SetPoint{
					BasicSetPoint{Probe: "primary", Weight: 5, MinTemp: 68, MaxTemp: 72},
				},
			},
		},
	}
	if err := set.Rules[0].compileRequirements(); err != nil {
		t.Fatalf("compiling requirements: %s", err)
	}

	// mode is "heat", rule requires "cool" -> not eligible -> no prior day rule either -> no call.
	_, has := set.Evaluate(hvac.Heat, probeLookup(map[string]float64{"primary": 60}), []string{"primary"}, time.Now())
	require.False(t, has)
}

func TestTimedRuleSetUnmarshalSortsRulesByStartTime(t *testing.T) {
	raw := []byte(`{
		"threshold": 1.0,
		"rules": [
			{"start_time": "21:00", "days_enabled": 127, "set_points": []},
			{"start_time": "06:00", "days_enabled": 127, "set_points": []},
			{"start_time": "09:00", "days_enabled": 127, "set_points": []}
		]
	}`)

	var set TimedRuleSet
	require.NoError(t, json.Unmarshal(raw, &set))
	require.Len(t, set.Rules, 3)
	require.Equal(t, "06:00", set.Rules[0].StartTime)
	require.Equal(t, "09:00", set.Rules[1].StartTime)
	require.Equal(t, "21:00", set.Rules[2].StartTime)
}
