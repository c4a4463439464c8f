// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb holds types to fake an in-memory DB.
//
// Each query run against a "fakedb" database consumes the next result
// set provided to Run.
package fakedb // import "github.com/go-lpc/cryo/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
)

// ErrNoResult is returned by a query when all result sets were consumed.
var ErrNoResult = errors.New("fakedb: no result set")

var state struct {
	run sync.Mutex // serializes Run calls

	mu      sync.Mutex
	results []Rows
	queries []Query
}

// Query is a query run against the fake database.
type Query struct {
	SQL  string
	Args []driver.Value
}

// Run runs f with the provided result sets, one per query issued by f.
// Run returns the queries issued by f.
func Run(ctx context.Context, results []Rows, f func(ctx context.Context) error) ([]Query, error) {
	state.run.Lock()
	defer state.run.Unlock()

	state.mu.Lock()
	state.results = append([]Rows(nil), results...)
	state.queries = nil
	state.mu.Unlock()

	err := f(ctx)

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.queries, err
}

func init() {
	sql.Register("fakedb", &Driver{})
}

type Driver struct{}

// Open returns a new connection to the database.
func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

// Prepare returns a prepared statement, bound to this connection.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{query: query}, nil
}

// Close invalidates the connection.
func (c *Conn) Close() error {
	return nil
}

// Begin starts and returns a new transaction.
func (c *Conn) Begin() (driver.Tx, error) {
	return nil, errors.New("fakedb: transactions not supported")
}

type Stmt struct {
	query string
}

// Close closes the statement.
func (stmt *Stmt) Close() error {
	return nil
}

// NumInput returns -1: arguments are not checked.
func (stmt *Stmt) NumInput() int {
	return -1
}

// Exec executes a query that doesn't return rows.
func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return nil, errors.New("fakedb: exec not supported")
}

// Query records the query and returns the next result set.
func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.queries = append(state.queries, Query{
		SQL:  stmt.query,
		Args: append([]driver.Value(nil), args...),
	})
	if len(state.results) == 0 {
		return nil, ErrNoResult
	}
	rows := state.results[0]
	state.results = state.results[1:]
	if rows.Err != nil && len(rows.Values) == 0 && rows.Names == nil {
		return nil, rows.Err
	}
	return &rows, nil
}

// Rows is a result set.
//
// When Names is nil and Err is set, the query itself fails with Err.
// Otherwise, Err is returned after all values were iterated over.
type Rows struct {
	Names  []string
	Values [][]driver.Value
	Err    error
}

// Columns returns the names of the columns.
func (rows *Rows) Columns() []string {
	return rows.Names
}

// Close closes the rows iterator.
func (rows *Rows) Close() error {
	return nil
}

// Next populates dest with the next row of data.
func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		if rows.Err != nil {
			return rows.Err
		}
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
