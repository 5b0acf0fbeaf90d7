// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestScalarGetSetDel(t *testing.T) {
	st := openTestStore(t)

	_, ok, err := st.Get("saved_script")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.Set("saved_script", "function evaluate(s) return 'off' end"))
	v, ok, err := st.Get("saved_script")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "function evaluate(s) return 'off' end", v)

	require.NoError(t, st.Set("saved_script", "function evaluate(s) return 'heat' end"))
	v, ok, err = st.Get("saved_script")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "function evaluate(s) return 'heat' end", v)

	require.NoError(t, st.Del("saved_script"))
	_, ok, err = st.Get("saved_script")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashOperations(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.HSet("probe_endpoints", "primary", "home/thermostat/temp"))
	require.NoError(t, st.HSet("probe_endpoints", "outdoor", "home/outdoor/temp"))

	v, ok, err := st.HGet("probe_endpoints", "primary")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "home/thermostat/temp", v)

	all, err := st.HGetAll("probe_endpoints")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"primary": "home/thermostat/temp", "outdoor": "home/outdoor/temp"}, all)

	require.NoError(t, st.HDel("probe_endpoints", "outdoor"))
	_, ok, err = st.HGet("probe_endpoints", "outdoor")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListPushHeadRange(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.LPush("probe_history:primary", "68.0:1000"))
	require.NoError(t, st.LPush("probe_history:primary", "68.5:2000"))
	require.NoError(t, st.LPush("probe_history:primary", "69.0:3000"))

	head, ok, err := st.LHead("probe_history:primary")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "69.0:3000", head)

	all, err := st.LRange("probe_history:primary", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"69.0:3000", "68.5:2000", "68.0:1000"}, all)

	some, err := st.LRange("probe_history:primary", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"69.0:3000", "68.5:2000"}, some)
}

func TestListTrimKeepsNewestEntries(t *testing.T) {
	st := openTestStore(t)

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, st.LPush("pinstate_history", v))
	}

	require.NoError(t, st.LTrim("pinstate_history", 3))

	all, err := st.LRange("pinstate_history", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"e", "d", "c"}, all)
}

func TestListTrimNoopWhenUnderLimit(t *testing.T) {
	st := openTestStore(t)

	require.NoError(t, st.LPush("pinstate_history", "a"))
	require.NoError(t, st.LTrim("pinstate_history", 100))

	all, err := st.LRange("pinstate_history", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, all)
}
