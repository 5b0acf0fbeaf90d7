// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package probe

import (
	"math"
	"sync/atomic"
)

// atomicFloat stores a float64 behind an atomic bit-pattern swap, the same
// technique original_source/src/hvac/probe.rs uses (there: an AtomicU32
// holding an f32's bits) so probe reads never block a writer and vice versa.
type atomicFloat struct {
	bits atomic.Uint64
}

func (a *atomicFloat) store(v float64) {
	a.bits.Store(math.Float64bits(v))
}

func (a *atomicFloat) load() float64 {
	return math.Float64frombits(a.bits.Load())
}

// atomicInt64 is a thin wrapper kept for symmetry with atomicFloat and to
// make Probe's field declarations read uniformly.
type atomicInt64 struct {
	v atomic.Int64
}

func (a *atomicInt64) store(v int64) {
	a.v.Store(v)
}

func (a *atomicInt64) load() int64 {
	return a.v.Load()
}
