// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

type ctxKey string

const beginKey ctxKey = "begin"

// hooks satisfies sqlhooks.Hooks, ported from the teacher's
// internal/repository/hooks.go query-logging wrapper.
type hooks struct{}

// Before logs the query and args, and stashes the start time for After.
func (h *hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	cclog.Debugf("store: query %s %q", query, args)
	return context.WithValue(ctx, beginKey, time.Now()), nil
}

// After logs the elapsed time since Before.
func (h *hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(beginKey).(time.Time); ok {
		cclog.Debugf("store: took %s", time.Since(begin))
	}
	return ctx, nil
}
