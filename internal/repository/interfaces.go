// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/authd/internal/model"
)

// IdentityRepository はアカウントの永続化インターフェース。
// メールアドレスの一意性はストアの一意制約で保証する。
type IdentityRepository interface {
	// FindByEmail は正規化済みメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)

	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Identity, error)

	// Insert はアカウントを作成する。
	// メールアドレスが既に使われている場合はmodel.ErrConflictを返す。
	Insert(ctx context.Context, identity *model.Identity) error

	// Update は指定されたフィールドのみを更新し、更新後のアカウントを返す。
	// 存在しない場合はmodel.ErrNotFound、メールアドレスが他のアカウントと衝突した場合はmodel.ErrConflictを返す。
	Update(ctx context.Context, id string, update model.IdentityUpdate) (*model.Identity, error)
}

// ActivityRepository は監査イベントの永続化インターフェース。
type ActivityRepository interface {
	// Append は監査イベントを追記する。atがゼロ値の場合はリポジトリの現在時刻を使う。
	Append(ctx context.Context, userID string, typ model.ActivityType, message string, at time.Time) (*model.AuditEvent, error)

	// List はユーザーの監査イベントを新しい順にページ単位で返す。
	// page・pageSizeは丸められ、最終ページを超えるpageは最終ページになる。
	List(ctx context.Context, userID string, page, pageSize int) (*model.ActivityPage, error)
}
