// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bus

import "strings"

// Handler processes one dispatched message. topic is the full, literal topic
// the message arrived on (not the pattern it was registered under).
type Handler func(topic string, payload []byte)

// Router is a "/"-separated topic-prefix trie, one node per path segment.
// Dispatch descends the literal topic segment-by-segment; at every node
// visited, handlers registered on that node's "*" child also fire, receiving
// the full original topic. This mirrors the single-level-wildcard router in
// the predecessor's src/mqtt/handler.rs, translated to Go.
type Router struct {
	root *routeNode
}

type routeNode struct {
	handlers []Handler
	children map[string]*routeNode
}

func newNode() *routeNode {
	return &routeNode{children: make(map[string]*routeNode)}
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{root: newNode()}
}

// Insert registers handler under the "/"-separated path. Multiple handlers
// may be registered on the same path; they run in insertion order.
func (r *Router) Insert(path string, handler Handler) {
	node := r.root
	if path != "" {
		for _, seg := range strings.Split(path, "/") {
			child, ok := node.children[seg]
			if !ok {
				child = newNode()
				node.children[seg] = child
			}
			node = child
		}
	}
	node.handlers = append(node.handlers, handler)
}

// Dispatch runs every handler registered under the literal topic's segments
// plus every "*" wildcard sibling encountered along the way.
func (r *Router) Dispatch(topic string, payload []byte) {
	segs := strings.Split(topic, "/")
	dispatch(r.root, segs, topic, payload)
}

func dispatch(node *routeNode, segs []string, topic string, payload []byte) {
	if len(segs) == 0 {
		execute(node, topic, payload)
		return
	}

	if wildcard, ok := node.children["*"]; ok {
		execute(wildcard, topic, payload)
	}

	if next, ok := node.children[segs[0]]; ok {
		dispatch(next, segs[1:], topic, payload)
	}
}

func execute(node *routeNode, topic string, payload []byte) {
	for _, h := range node.handlers {
		h(topic, payload)
	}
}
