package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Dialect は接続先ストアの種類。
// SQL文はPostgreSQLの$n形式で書き、Rebindで各ドライバの形式に変換する。
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect は設定値からDialectを解釈する。空の場合はPostgresとする。
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", s)
	}
}

// DriverName はdatabase/sqlに登録されたドライバ名を返す。
func (d Dialect) DriverName() string {
	if d == SQLite {
		return "sqlite"
	}
	return "postgres"
}

// Rebind は$n形式のプレースホルダをダイアレクトに合わせて書き換える。
// SQLiteでは?nに置き換える。
func (d Dialect) Rebind(query string) string {
	if d != SQLite || !strings.Contains(query, "$") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// IsUniqueViolation は一意制約違反のエラーかを判定する。
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// ledgerDDL はマイグレーション台帳テーブルの作成文を返す。
// filenameの一意制約により、並行実行時の二重適用は台帳INSERTの失敗として表面化する。
func (d Dialect) ledgerDDL() string {
	if d == SQLite {
		return `CREATE TABLE IF NOT EXISTS ` + ledgerTable + ` (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    filename TEXT NOT NULL UNIQUE,
    applied_at INTEGER NOT NULL
)`
	}
	return `CREATE TABLE IF NOT EXISTS ` + ledgerTable + ` (
    id SERIAL PRIMARY KEY,
    filename TEXT NOT NULL UNIQUE,
    applied_at BIGINT NOT NULL
)`
}
