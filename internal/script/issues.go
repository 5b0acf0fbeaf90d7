// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package script

import "sync"

// issueSet is the process-wide diagnostic-string collector described in
// spec.md §4.F: cleared at the start of each Validate, appended to by
// helpers (malformed timed_program entries), and queryable externally.
type issueSet struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func newIssueSet() *issueSet {
	return &issueSet{m: make(map[string]struct{})}
}

func (s *issueSet) add(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[msg] = struct{}{}
}

func (s *issueSet) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = make(map[string]struct{})
}

func (s *issueSet) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	return out
}
