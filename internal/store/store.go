// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package store persists the control plane's indexed metadata: the cache
// entry index, state change events, webhooks, and recovery history. The
// filesystem remains the source of truth for app state and the URL book.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	// enable the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore abstracts access to the database.
type SQLStore struct {
	db     *sqlx.DB
	logger logrus.FieldLogger
}

// New constructs a new instance of SQLStore.
func New(dsn string, logger logrus.FieldLogger) (*SQLStore, error) {
	// https://github.com/golang/go/issues/33633
	if strings.Contains(dsn, "file:") {
		dsn = strings.Replace(dsn, "file:", "fileColonPlaceholder", 1)
	}
	dsnURL, err := url.Parse(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse dsn as an url")
	}
	dsnURL.Host = strings.Replace(dsnURL.Host, "fileColonPlaceholder", "file:", 1)

	switch strings.ToLower(dsnURL.Scheme) {
	case "sqlite", "sqlite3":
	default:
		return nil, errors.Errorf("unsupported dsn scheme %s", dsnURL.Scheme)
	}

	db, err := sqlx.Connect("sqlite3", fmt.Sprintf("%s?%s", dsnURL.Host, dsnURL.RawQuery))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to sqlite database")
	}

	// Serialize all access to the database. Sqlite3 doesn't allow multiple writers.
	db.SetMaxOpenConns(1)

	// Override the default mapper to use the field names "as-is".
	db.MapperFunc(func(s string) string { return s })

	return &SQLStore{
		db,
		logger,
	}, nil
}

// Close closes the underlying database handle.
func (sqlStore *SQLStore) Close() error {
	return sqlStore.db.Close()
}

// queryer is an interface describing a resource that can query.
type queryer interface {
	sqlx.Queryer
}

// builder is an interface describing a resource that can construct SQL and
// arguments; it exists to allow consuming any squirrel.*Builder type.
type builder interface {
	ToSql() (string, []interface{}, error)
}

// getBuilder queries for a single row, building the sql, and writing the
// result into dest.
func (sqlStore *SQLStore) getBuilder(q sqlx.Queryer, dest interface{}, b builder) error {
	sql, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build sql")
	}

	sql = sqlStore.db.Rebind(sql)

	return sqlx.Get(q, dest, sql, args...)
}

// selectBuilder queries for one or more rows, building the sql, and writing
// the result into dest.
func (sqlStore *SQLStore) selectBuilder(q sqlx.Queryer, dest interface{}, b builder) error {
	sql, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "failed to build sql")
	}

	sql = sqlStore.db.Rebind(sql)

	return sqlx.Select(q, dest, sql, args...)
}

// execer is an interface describing a resource that can execute write
// queries. It allows the use of *sqlx.Db and *sqlx.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	DriverName() string
}

// exec executes the given query using positional arguments, automatically
// rebinding for the db.
func (sqlStore *SQLStore) exec(e execer, sql string, args ...interface{}) (sql.Result, error) {
	sql = sqlStore.db.Rebind(sql)
	return e.Exec(sql, args...)
}

// execBuilder executes the given query, building the necessary sql.
func (sqlStore *SQLStore) execBuilder(e execer, b builder) (sql.Result, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build sql")
	}

	return sqlStore.exec(e, sql, args...)
}

type transactionStarter interface {
	BeginTxx(context.Context, *sql.TxOptions) (*sqlx.Tx, error)
}

func (sqlStore *SQLStore) beginTransaction(tr transactionStarter) (*Transaction, error) {
	tx, err := tr.BeginTxx(context.Background(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}

	return &Transaction{
		Tx:        tx,
		sqlStore:  sqlStore,
		committed: false,
	}, nil
}

// Transaction is a wrapper around *sqlx.Tx providing convenience methods.
type Transaction struct {
	*sqlx.Tx
	sqlStore  *SQLStore
	committed bool
}

// Commit commits the pending transaction.
func (t *Transaction) Commit() error {
	err := t.Tx.Commit()
	if err != nil {
		return errors.Wrap(err, "failed to commit the transaction")
	}
	t.committed = true
	return nil
}

// RollbackUnlessCommitted rolls the transaction back if it is not committed.
func (t *Transaction) RollbackUnlessCommitted() {
	if !t.committed {
		err := t.Tx.Rollback()
		if err != nil {
			t.sqlStore.logger.Errorf("error: failed to rollback uncommitted transaction: %s", err.Error())
		}
	}
}

// tableExists determines if the given table exists.
func (sqlStore *SQLStore) tableExists(tableName string) (bool, error) {
	var count int
	err := sqlStore.getBuilder(sqlStore.db, &count,
		sq.Select("COUNT(*)").From("sqlite_master").Where("type = 'table' AND name = ?", tableName),
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check if %s table exists", tableName)
	}

	return count > 0, nil
}
