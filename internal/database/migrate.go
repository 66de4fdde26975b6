// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hitoshi/authd/internal/model"
)

// ledgerTable は適用済みスクリプトを記録する台帳テーブル。
const ledgerTable = "__migrations"

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// Scripts はダイアレクトに対応するマイグレーションスクリプト群を返す。
// dirが指定された場合は埋め込みスクリプトの代わりにそのディレクトリを使う。
func Scripts(dialect Dialect, dir string) (fs.FS, error) {
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open migrations dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("migrations path is not a directory: %s", dir)
		}
		return os.DirFS(dir), nil
	}

	sub, err := fs.Sub(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return sub, nil
}

// MigrationError はスクリプトの適用失敗を表す。
// errors.Is で model.ErrMigrationFailure と原因エラーの両方に一致する。
type MigrationError struct {
	Filename string
	Err      error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed: %v", e.Filename, e.Err)
}

func (e *MigrationError) Unwrap() []error {
	return []error{model.ErrMigrationFailure, e.Err}
}

// ScriptStatus はスクリプト1件の適用状況。
type ScriptStatus struct {
	Filename  string
	Applied   bool
	AppliedAt *time.Time
}

// Runner はスクリプトをファイル名の昇順に、1件ずつ独立したトランザクションで適用する。
// 台帳のfilename一意制約が唯一の正であり、doneフラグは同一プロセス内の再実行を省くだけに使う。
type Runner struct {
	db      *sql.DB
	dialect Dialect
	scripts fs.FS
	now     func() time.Time
	done    atomic.Bool
}

// NewRunner はRunnerを生成する。
func NewRunner(db *sql.DB, dialect Dialect, scripts fs.FS) *Runner {
	return &Runner{
		db:      db,
		dialect: dialect,
		scripts: scripts,
		now:     time.Now,
	}
}

// Run は未適用のスクリプトをすべて適用し、適用したファイル名を順に返す。
// いずれかのスクリプトが失敗した場合、そのトランザクションをロールバックして以降を中断し、
// *MigrationError を返す。それまでに適用したスクリプトは台帳に残る。
func (r *Runner) Run(ctx context.Context) ([]string, error) {
	if r.done.Load() {
		return nil, nil
	}

	if err := r.ensureLedger(ctx); err != nil {
		return nil, err
	}

	files, err := r.listScripts()
	if err != nil {
		return nil, err
	}

	applied, err := r.appliedSet(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, file := range files {
		if _, ok := applied[file]; ok {
			continue
		}
		if err := r.apply(ctx, file); err != nil {
			slog.Error("migration failed",
				slog.String("filename", file),
				slog.String("error", err.Error()),
			)
			return done, err
		}
		slog.Info("migration applied", slog.String("filename", file))
		done = append(done, file)
	}

	r.done.Store(true)
	return done, nil
}

// Status はすべてのスクリプトの適用状況をファイル名の昇順で返す。
func (r *Runner) Status(ctx context.Context) ([]ScriptStatus, error) {
	if err := r.ensureLedger(ctx); err != nil {
		return nil, err
	}

	files, err := r.listScripts()
	if err != nil {
		return nil, err
	}

	applied, err := r.appliedSet(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]ScriptStatus, 0, len(files))
	for _, file := range files {
		st := ScriptStatus{Filename: file}
		if at, ok := applied[file]; ok {
			st.Applied = true
			st.AppliedAt = &at
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Pending は未適用のスクリプト名を返す。
func (r *Runner) Pending(ctx context.Context) ([]string, error) {
	statuses, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, st := range statuses {
		if !st.Applied {
			pending = append(pending, st.Filename)
		}
	}
	return pending, nil
}

func (r *Runner) ensureLedger(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, r.dialect.ledgerDDL()); err != nil {
		return fmt.Errorf("failed to ensure migration ledger: %w", err)
	}
	return nil
}

func (r *Runner) listScripts() ([]string, error) {
	entries, err := fs.ReadDir(r.scripts, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func (r *Runner) appliedSet(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT filename, applied_at FROM "+ledgerTable)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration ledger: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var name string
		var at int64
		if err := rows.Scan(&name, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration ledger: %w", err)
		}
		applied[name] = time.UnixMilli(at).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read migration ledger: %w", err)
	}
	return applied, nil
}

// apply はスクリプトの実行と台帳への記録を同一トランザクションで行う。
func (r *Runner) apply(ctx context.Context, file string) (err error) {
	content, err := fs.ReadFile(r.scripts, file)
	if err != nil {
		return &MigrationError{Filename: file, Err: err}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &MigrationError{Filename: file, Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if script := string(content); strings.TrimSpace(script) != "" {
		if _, err := tx.ExecContext(ctx, script); err != nil {
			return &MigrationError{Filename: file, Err: err}
		}
	}

	_, err = tx.ExecContext(ctx,
		r.dialect.Rebind("INSERT INTO "+ledgerTable+" (filename, applied_at) VALUES ($1, $2)"),
		file, r.now().UnixMilli(),
	)
	if err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return &MigrationError{Filename: file, Err: fmt.Errorf("already recorded by another runner: %w", model.ErrConflict)}
		}
		return &MigrationError{Filename: file, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &MigrationError{Filename: file, Err: err}
	}
	return nil
}

// IsMigrationFailure はマイグレーション失敗を表すエラーかを判定する。
func IsMigrationFailure(err error) bool {
	return errors.Is(err, model.ErrMigrationFailure)
}
