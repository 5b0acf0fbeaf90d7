// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package script

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/homelab/thermostatd/internal/hvac"
)

func testDeps() Deps {
	return Deps{
		ProbeValue: func(name string) (float64, bool) {
			if name == "primary" {
				return 20.0, true
			}
			return 0, false
		},
	}
}

func TestValidateBasicHeatCall(t *testing.T) {
	s := New(testDeps(), 8)
	defer s.Close()

	src := `function evaluate(s) if s.probes.primary.temperature < 22 then return 'heat' end end`
	call, has, issues, err := s.Validate(src, Snapshot{Mode: hvac.Heat})
	require.NoError(t, err)
	require.True(t, has)
	require.Equal(t, hvac.Heat, call)
	require.Empty(t, issues)
}

func TestValidateSyntaxErrorReturnsError(t *testing.T) {
	s := New(testDeps(), 8)
	defer s.Close()

	_, _, _, err := s.Validate("function evaluate(", Snapshot{})
	require.Error(t, err)
}

func TestLoadThenEvaluate(t *testing.T) {
	s := New(testDeps(), 8)
	defer s.Close()

	src := `function evaluate(s) return 'cool' end`
	require.NoError(t, s.Load(src, Snapshot{}))

	call, has, err := s.Evaluate(Snapshot{})
	require.NoError(t, err)
	require.True(t, has)
	require.Equal(t, hvac.Cool, call)
}

func TestEvaluateNilLeavesCallUnset(t *testing.T) {
	s := New(testDeps(), 8)
	defer s.Close()

	require.NoError(t, s.Load(`function evaluate(s) end`, Snapshot{}))
	_, has, err := s.Evaluate(Snapshot{})
	require.NoError(t, err)
	require.False(t, has)
}

func TestTimedProgramWraparound(t *testing.T) {
	s := New(testDeps(), 8)
	defer s.Close()

	src := `
		result = nil
		function evaluate(s)
			return s:timed_program({
				["00:00"] = function() return "off" end,
				["23:59"] = function() return "heat" end,
			})
		end
	`
	require.NoError(t, s.Load(src, Snapshot{}))
	call, has, err := s.Evaluate(Snapshot{})
	require.NoError(t, err)
	require.True(t, has)
	require.Contains(t, []hvac.Call{hvac.Off, hvac.Heat}, call)
}

func TestLoadFailedInitKeepsPreviousScriptServing(t *testing.T) {
	s := New(testDeps(), 8)
	defer s.Close()

	require.NoError(t, s.Load(`function evaluate(s) return 'heat' end`, Snapshot{}))

	err := s.Load(`function init(s) error("boom") end function evaluate(s) return 'cool' end`, Snapshot{})
	require.Error(t, err)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "init_script", stepErr.Step)

	call, has, evalErr := s.Evaluate(Snapshot{})
	require.NoError(t, evalErr)
	require.True(t, has)
	require.Equal(t, hvac.Heat, call)
}

func TestLoadSyntaxErrorReportsLoadStep(t *testing.T) {
	s := New(testDeps(), 8)
	defer s.Close()

	err := s.Load("function evaluate(", Snapshot{})
	require.Error(t, err)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "load_script", stepErr.Step)
}

func TestTimedProgramMalformedKeyRecordsIssue(t *testing.T) {
	s := New(testDeps(), 8)
	defer s.Close()

	src := `function evaluate(s) return s:timed_program({ ["not-a-time"] = function() return "off" end }) end`
	call, has, issues, err := s.Validate(src, Snapshot{})
	require.NoError(t, err)
	require.False(t, has)
	require.NotEmpty(t, issues)
	_ = call
}
