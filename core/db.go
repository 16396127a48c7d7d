package core

import (
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/putto11262002/chatrooms/migrations"
)

type SQLiteDBOption struct {
	// mode can be ro | rw | rwc | memory
	Mode string
	// cache can be shared | private
	Cache string
	// JournalMode be DELETE | TRUNCATE | PERSIST | MEMORY | WAL | OFF
	JournalMode string
	// ForeignKeys turns on foreign key enforcement for every connection.
	ForeignKeys bool
}

func (config *SQLiteDBOption) DSN(sb *strings.Builder) {
	if config == nil {
		return
	}

	params := make([]string, 0, 4)
	if config.Mode != "" {
		params = append(params, "mode="+config.Mode)
	}
	if config.Cache != "" {
		params = append(params, "cache="+config.Cache)
	}
	if config.JournalMode != "" {
		params = append(params, "_journal_mode="+config.JournalMode)
	}
	if config.ForeignKeys {
		params = append(params, "_foreign_keys=on")
	}
	if len(params) == 0 {
		return
	}
	sb.WriteString("?")
	sb.WriteString(strings.Join(params, "&"))
}

type SQLiteDB struct {
	*sql.DB
	config     *SQLiteDBOption
	file       string
	migrations fs.FS
}

// NewSQLiteDB opens the database file. The pool is limited to a single connection:
// sqlite serialises writers anyway and a single connection keeps shared-cache
// in-memory databases free of table lock errors.
func NewSQLiteDB(file string, config *SQLiteDBOption) (*SQLiteDB, error) {
	db := &SQLiteDB{config: config, file: file, migrations: migrations.FS}

	var dsn strings.Builder
	dsn.WriteString("file:")
	dsn.WriteString(db.file)
	config.DSN(&dsn)

	d, err := sql.Open("sqlite3", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	d.SetMaxOpenConns(1)

	db.DB = d
	return db, nil
}

// Migrate applies every pending migration embedded in the migrations package.
func (db *SQLiteDB) Migrate() error {
	goose.SetBaseFS(db.migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose.SetDialect: %w", err)
	}

	if err := goose.Up(db.DB, "."); err != nil {
		return fmt.Errorf("goose.Up: %w", err)
	}
	return nil
}
