package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hitoshi/authd/internal/database"
	"github.com/hitoshi/authd/internal/model"
)

// setupSQLite はマイグレーション適用済みのインメモリSQLiteを返す。
func setupSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	scripts, err := database.Scripts(database.SQLite, "")
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if _, err := database.NewRunner(db, database.SQLite, scripts).Run(context.Background()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

// fixedClock は呼び出しごとにstepずつ進む時計を返す。
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	current := start
	return func() time.Time {
		now := current
		current = current.Add(step)
		return now
	}
}

func newPasswordIdentity(email string) *model.Identity {
	return &model.Identity{
		Name:       "Test User",
		Email:      email,
		Provider:   model.ProviderPassword,
		Credential: &model.PasswordCredential{Salt: "$2a$10$abcdefghijklmnopqrstuv", Hash: "$2a$10$abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHIJKLMNO"},
		LoginCount: 1,
	}
}

func strPtr(s string) *string { return &s }
