/*
 * COPYRIGHT 2024 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package otaregistry is the Postgres-backed registry of artifacts, deploy
// targets, and deploy jobs.
package otaregistry

import (
	"context"
	"database/sql"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	// As per pq documentation
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// DBX describes the subset of *sql.DB / *sql.Tx / *sqlx.Tx used by the
// registry's query helpers, so callers can pass either a pooled handle or
// an open transaction.
type DBX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
}

// Store is the registry's handle onto Postgres. It embeds *sqlx.DB so
// callers get both the raw database/sql surface and sqlx's SelectContext
// helper for list queries.
type Store struct {
	*sqlx.DB
}

// Connect opens a connection pool to the given Postgres DSN.
func Connect(dataSource string) (*Store, error) {
	db, err := sqlx.Open("postgres", dataSource)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// Limit concurrent connections; unbounded pools have been observed to
	// overload a connection-pooling proxy sitting in front of Postgres.
	db.SetMaxOpenConns(16)
	return &Store{db}, nil
}

// LoadSchema executes every .sql file in schemaDir, in directory-sort
// order, so that numbered migration files apply in sequence.
func (s *Store) LoadSchema(ctx context.Context, schemaDir string) error {
	files, err := ioutil.ReadDir(schemaDir)
	if err != nil {
		return errors.Wrap(err, "could not scan schema dir")
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}
		path := filepath.Join(schemaDir, file.Name())
		bytes, err := ioutil.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "failed to read sql in file %s", path)
		}
		if _, err := s.ExecContext(ctx, string(bytes)); err != nil {
			return errors.Wrapf(err, "failed to exec sql in file %s", path)
		}
	}
	return nil
}

// BeginTx opens a new transaction against the store.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}
