// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store is the durable key/value store client (spec.md §4.B): a thin
// wrapper exposing get/set/hget/hset/hgetall/lpush/ltrim/lrange, backed by
// sqlite through sqlx + squirrel, the same stack internal/repository uses in
// the teacher. No transactional composition is offered; callers tolerate
// interleaving, as spec.md §4.B requires.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// registerDriverOnce guards sql.Register, which panics if called twice with
// the same driver name — relevant once tests open more than one Store per
// process, matching the teacher's dbConnOnce in dbConnection.go.
var registerDriverOnce sync.Once

const sqliteHookedDriver = "sqlite3WithHooks"

// Store wraps a *sqlx.DB with the string/hash/list primitives thermostatd
// needs. sqlite serializes writes internally; a single open connection is
// used, matching the teacher's "sqlite does not multithread" comment in
// dbConnection.go.
type Store struct {
	db  *sqlx.DB
	bld sq.StatementBuilderType
}

// Open connects to the sqlite file at path, running migrations before
// returning. Errors here are fatal startup errors (spec.md §4.I); once open,
// individual operation errors propagate to callers rather than being
// swallowed (spec.md §4.B).
func Open(path string) (*Store, error) {
	registerDriverOnce.Do(func() {
		sql.Register(sqliteHookedDriver, sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &hooks{}))
	})

	db, err := sqlx.Open(sqliteHookedDriver, fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	cclog.Infof("store: opened %s", path)
	return &Store{db: db, bld: sq.StatementBuilder.PlaceholderFormat(sq.Question)}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the scalar value at key. ok is false when the key is absent.
func (s *Store) Get(key string) (value string, ok bool, err error) {
	query, args, err := s.bld.Select("value").From("kv_scalar").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("store: Get building query: %w", err)
	}

	err = s.db.Get(&value, query, args...)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: Get(%s): %w", key, err)
	}
	return value, true, nil
}

// Set upserts the scalar value at key.
func (s *Store) Set(key, value string) error {
	query, args, err := s.bld.
		Insert("kv_scalar").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value=excluded.value").
		ToSql()
	if err != nil {
		return fmt.Errorf("store: Set building query: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("store: Set(%s): %w", key, err)
	}
	return nil
}

// Del removes the scalar value at key, if present. Used when a persisted
// value fails to deserialize (spec.md §7).
func (s *Store) Del(key string) error {
	query, args, err := s.bld.Delete("kv_scalar").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("store: Del building query: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("store: Del(%s): %w", key, err)
	}
	return nil
}

// HGet returns one field of the hash at key.
func (s *Store) HGet(key, field string) (value string, ok bool, err error) {
	query, args, err := s.bld.
		Select("value").From("kv_hash").
		Where(sq.Eq{"key": key, "field": field}).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("store: HGet building query: %w", err)
	}

	err = s.db.Get(&value, query, args...)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: HGet(%s,%s): %w", key, field, err)
	}
	return value, true, nil
}

// HSet upserts one field of the hash at key.
func (s *Store) HSet(key, field, value string) error {
	query, args, err := s.bld.
		Insert("kv_hash").
		Columns("key", "field", "value").
		Values(key, field, value).
		Suffix("ON CONFLICT(key, field) DO UPDATE SET value=excluded.value").
		ToSql()
	if err != nil {
		return fmt.Errorf("store: HSet building query: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("store: HSet(%s,%s): %w", key, field, err)
	}
	return nil
}

// HDel removes one field of the hash at key.
func (s *Store) HDel(key, field string) error {
	query, args, err := s.bld.Delete("kv_hash").Where(sq.Eq{"key": key, "field": field}).ToSql()
	if err != nil {
		return fmt.Errorf("store: HDel building query: %w", err)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("store: HDel(%s,%s): %w", key, field, err)
	}
	return nil
}

// HGetAll returns every field/value pair of the hash at key.
func (s *Store) HGetAll(key string) (map[string]string, error) {
	query, args, err := s.bld.Select("field", "value").From("kv_hash").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: HGetAll building query: %w", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: HGetAll(%s): %w", key, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("store: HGetAll(%s) scan: %w", key, err)
		}
		out[field] = value
	}
	return out, rows.Err()
}

// LPush prepends value to the list at key. Newest entries carry the highest
// seq and LRange orders by seq descending, so index 0 is always the head.
func (s *Store) LPush(key, value string) error {
	var maxSeq sql.NullInt64
	query, args, err := s.bld.Select("MAX(seq)").From("kv_list").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("store: LPush building select: %w", err)
	}
	if err := s.db.Get(&maxSeq, query, args...); err != nil {
		return fmt.Errorf("store: LPush(%s) reading max seq: %w", key, err)
	}

	nextSeq := int64(1)
	if maxSeq.Valid {
		nextSeq = maxSeq.Int64 + 1
	}

	insQuery, insArgs, err := s.bld.
		Insert("kv_list").Columns("key", "seq", "value").
		Values(key, nextSeq, value).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: LPush building insert: %w", err)
	}
	if _, err := s.db.Exec(insQuery, insArgs...); err != nil {
		return fmt.Errorf("store: LPush(%s): %w", key, err)
	}
	return nil
}

// LTrim keeps only the newest maxLen entries of the list at key, matching
// the bounded-history semantics of spec.md §3/§4.D.
func (s *Store) LTrim(key string, maxLen int) error {
	query, args, err := s.bld.
		Select("seq").From("kv_list").
		Where(sq.Eq{"key": key}).
		OrderBy("seq DESC").
		Limit(1).Offset(uint64(maxLen)).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: LTrim building select: %w", err)
	}

	var cutoff sql.NullInt64
	err = s.db.Get(&cutoff, query, args...)
	if err == sql.ErrNoRows || (err == nil && !cutoff.Valid) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: LTrim(%s) finding cutoff: %w", key, err)
	}

	delQuery, delArgs, err := s.bld.
		Delete("kv_list").
		Where(sq.And{sq.Eq{"key": key}, sq.LtOrEq{"seq": cutoff.Int64}}).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: LTrim building delete: %w", err)
	}
	if _, err := s.db.Exec(delQuery, delArgs...); err != nil {
		return fmt.Errorf("store: LTrim(%s): %w", key, err)
	}
	return nil
}

// LHead returns the newest entry of the list at key, or ok=false if empty.
// Used by the history recorder's head-deduplication check.
func (s *Store) LHead(key string) (value string, ok bool, err error) {
	query, args, err := s.bld.
		Select("value").From("kv_list").
		Where(sq.Eq{"key": key}).
		OrderBy("seq DESC").Limit(1).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("store: LHead building query: %w", err)
	}

	err = s.db.Get(&value, query, args...)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: LHead(%s): %w", key, err)
	}
	return value, true, nil
}

// LRange returns up to count entries starting at the head (newest first).
func (s *Store) LRange(key string, count int) ([]string, error) {
	query, args, err := s.bld.
		Select("value").From("kv_list").
		Where(sq.Eq{"key": key}).
		OrderBy("seq DESC").Limit(uint64(count)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: LRange building query: %w", err)
	}

	var out []string
	if err := s.db.Select(&out, query, args...); err != nil {
		return nil, fmt.Errorf("store: LRange(%s): %w", key, err)
	}
	return out, nil
}
