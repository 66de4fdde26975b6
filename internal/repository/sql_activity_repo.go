package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authd/internal/database"
	"github.com/hitoshi/authd/internal/model"
)

// SQLActivityRepo はdatabase/sqlを使用した監査イベントリポジトリ。
// 同一ミリ秒のイベントは挿入順(seq)で並べる。
type SQLActivityRepo struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

// NewSQLActivityRepo はSQLActivityRepoを生成する。
func NewSQLActivityRepo(db *sql.DB, dialect database.Dialect) *SQLActivityRepo {
	return &SQLActivityRepo{db: db, dialect: dialect, now: time.Now}
}

// Append は監査イベントを追記する。
// atは同じ操作で書き込んだアカウントの時刻と揃えるため呼び出し元が渡す。
func (r *SQLActivityRepo) Append(ctx context.Context, userID string, typ model.ActivityType, message string, at time.Time) (*model.AuditEvent, error) {
	if at.IsZero() {
		at = r.now()
	}
	event := &model.AuditEvent{
		ID:      uuid.NewString(),
		UserID:  userID,
		Type:    typ,
		Message: message,
		At:      fromMillis(at.UnixMilli()),
	}

	_, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO activities (id, user_id, type, message, at)
		 VALUES ($1, $2, $3, $4, $5)`),
		event.ID, event.UserID, string(event.Type), event.Message, event.At.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append activity: %w", err)
	}
	return event, nil
}

// List はユーザーの監査イベントを新しい順にページ単位で返す。
func (r *SQLActivityRepo) List(ctx context.Context, userID string, page, pageSize int) (*model.ActivityPage, error) {
	pageSize = model.ClampPageSize(pageSize)

	var total int
	err := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT COUNT(*) FROM activities WHERE user_id = $1`),
		userID,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count activities: %w", err)
	}

	totalPages := model.TotalPages(total, pageSize)
	page = model.ClampPage(page, totalPages)

	result := &model.ActivityPage{
		Items:      []model.AuditEvent{},
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
	if total == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		r.dialect.Rebind(`SELECT id, user_id, type, message, at
		 FROM activities
		 WHERE user_id = $1
		 ORDER BY at DESC, seq DESC
		 LIMIT $2 OFFSET $3`),
		userID, pageSize, (page-1)*pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			event model.AuditEvent
			typ   string
			at    int64
		)
		if err := rows.Scan(&event.ID, &event.UserID, &typ, &event.Message, &at); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		event.Type = model.ActivityType(typ)
		event.At = fromMillis(at)
		result.Items = append(result.Items, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}

	return result, nil
}

// compile-time interface check
var _ ActivityRepository = (*SQLActivityRepo)(nil)
