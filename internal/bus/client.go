// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bus is the message-bus adapter (spec.md §4.A): a single long-lived
// NATS connection, a topic-prefix handler trie, and retained-message
// emulation (NATS has no native retained-message concept, unlike the MQTT
// broker the predecessor spoke to). The wrapping style (singleton-free here,
// since thermostatd runs a single bus for its whole process lifetime) follows
// pkg/nats/client.go in the teacher.
package bus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// Bus wraps a NATS connection with idempotent subscription tracking, a
// dispatch trie (Router), and a retained-message cache.
type Bus struct {
	conn   *nats.Conn
	router *Router

	mu         sync.Mutex
	subscribed map[string]*nats.Subscription

	retainedMu sync.RWMutex
	retained   map[string][]byte
}

// Config mirrors pkg/nats.NatsConfig, trimmed to what thermostatd needs.
type Config struct {
	Address  string
	Username string
	Password string
}

// Connect opens the NATS connection and returns a ready Bus. Reconnection
// and subscription replay are handled by nats.go itself (spec.md §4.A's
// failure model); this wrapper just logs the transitions.
func Connect(cfg Config) (*Bus, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("bus: address is required")
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	opts = append(opts,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				cclog.Warnf("bus: disconnected: %s", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			cclog.Infof("bus: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			cclog.Errorf("bus: error: %s", err.Error())
		}),
	)

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect failed: %w", err)
	}

	cclog.Infof("bus: connected to %s", cfg.Address)
	return &Bus{
		conn:       nc,
		router:     NewRouter(),
		subscribed: make(map[string]*nats.Subscription),
		retained:   make(map[string][]byte),
	}, nil
}

// natsSubject maps a "/"-separated thermostatd topic onto a NATS subject.
// NATS tokens are "."-separated and already treat a bare "*" token as a
// single-level wildcard, so the translation is a straight separator swap.
func natsSubject(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

func fromNatsSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// Handle registers callback on the dispatch trie under pattern. It does not,
// by itself, create a broker subscription — see Subscribe.
func (b *Bus) Handle(pattern string, callback Handler) {
	b.router.Insert(pattern, callback)
}

// Subscribe opens a broker-level subscription for topic, idempotently: a
// topic already subscribed is a no-op, matching spec.md §4.A's "idempotent;
// durable across reconnects" contract. If a retained payload is already
// cached for topic, it is replayed to the handlers registered for it
// immediately, emulating the broker-level "new subscriber gets the last
// retained message" delivery the Glossary describes.
func (b *Bus) Subscribe(topic string) error {
	b.mu.Lock()
	if _, already := b.subscribed[topic]; already {
		b.mu.Unlock()
		return nil
	}

	sub, err := b.conn.Subscribe(natsSubject(topic), func(msg *nats.Msg) {
		b.router.Dispatch(fromNatsSubject(msg.Subject), msg.Data)
	})
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("bus: subscribe to %s failed: %w", topic, err)
	}

	b.subscribed[topic] = sub
	b.mu.Unlock()

	cclog.Infof("bus: subscribed to %s", topic)

	if payload, ok := b.GetRetained(topic); ok {
		b.router.Dispatch(topic, payload)
	}

	return nil
}

// Publish fires-and-forgets payload on topic. Errors are logged, not
// returned, per spec.md §4.A. When retained is true the payload is cached so
// it can be replayed to late subscribers via GetRetained (this process emulates
// retained delivery itself; NATS core has no such semantics).
func (b *Bus) Publish(topic string, payload []byte, retained bool, qos int) {
	if retained {
		b.retainedMu.Lock()
		cp := make([]byte, len(payload))
		copy(cp, payload)
		b.retained[topic] = cp
		b.retainedMu.Unlock()
	}

	if err := b.conn.Publish(natsSubject(topic), payload); err != nil {
		cclog.Errorf("bus: publish to %s failed: %s", topic, err.Error())
	}
}

// GetRetained returns the last payload published with retained=true on topic.
func (b *Bus) GetRetained(topic string) ([]byte, bool) {
	b.retainedMu.RLock()
	defer b.retainedMu.RUnlock()
	v, ok := b.retained[topic]
	return v, ok
}

// Close unsubscribes everything and closes the connection.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, sub := range b.subscribed {
		if err := sub.Unsubscribe(); err != nil {
			cclog.Warnf("bus: unsubscribe %s failed: %s", topic, err.Error())
		}
	}
	b.subscribed = make(map[string]*nats.Subscription)

	if b.conn != nil {
		b.conn.Close()
		cclog.Info("bus: connection closed")
	}
}
