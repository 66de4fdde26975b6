package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authd/internal/database"
	"github.com/hitoshi/authd/internal/model"
)

const identityColumns = `id, name, email, avatar_url, provider, salt, password_hash,
	email_verified, login_count, last_login_at, created_at, updated_at`

// SQLIdentityRepo はdatabase/sqlを使用したアカウントリポジトリ。
// タイムスタンプはUnixミリ秒で保存する。
type SQLIdentityRepo struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time
}

// NewSQLIdentityRepo はSQLIdentityRepoを生成する。
func NewSQLIdentityRepo(db *sql.DB, dialect database.Dialect) *SQLIdentityRepo {
	return &SQLIdentityRepo{db: db, dialect: dialect, now: time.Now}
}

// FindByEmail は正規化済みメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
func (r *SQLIdentityRepo) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT `+identityColumns+` FROM users WHERE email = $1`),
		model.NormalizeEmail(email),
	)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by email: %w", err)
	}
	return identity, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *SQLIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		// UUID型の列に不正な値を渡すとPostgreSQLではエラーになるため、存在しない扱いにする
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT `+identityColumns+` FROM users WHERE id = $1`),
		id,
	)
	identity, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by ID: %w", err)
	}
	return identity, nil
}

// Insert はアカウントを作成する。IDが空の場合は採番する。
// 一意性の判定は事前の読み取りではなくINSERT時の一意制約で行う。
func (r *SQLIdentityRepo) Insert(ctx context.Context, identity *model.Identity) error {
	if !identity.Provider.Valid() {
		return fmt.Errorf("unknown provider %q: %w", identity.Provider, model.ErrInvalidInput)
	}
	if identity.Provider == model.ProviderPassword && identity.Credential == nil {
		return fmt.Errorf("password identity requires a credential: %w", model.ErrInvalidInput)
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	identity.Email = model.NormalizeEmail(identity.Email)

	now := r.now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	if identity.UpdatedAt.IsZero() {
		identity.UpdatedAt = identity.CreatedAt
	}

	var salt, hash sql.NullString
	if identity.Provider == model.ProviderPassword {
		salt = sql.NullString{String: identity.Credential.Salt, Valid: true}
		hash = sql.NullString{String: identity.Credential.Hash, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`INSERT INTO users (`+identityColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`),
		identity.ID, identity.Name, identity.Email, nullString(identity.AvatarURL),
		string(identity.Provider), salt, hash,
		identity.EmailVerified, identity.LoginCount, nullMillis(identity.LastLoginAt),
		identity.CreatedAt.UnixMilli(), identity.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("email %s is already in use: %w", identity.Email, model.ErrConflict)
		}
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

// Update は指定されたフィールドのみを1つのUPDATE文で更新する。
// 指定のない列には触れないため、異なるフィールドへの並行更新は互いを上書きしない。
func (r *SQLIdentityRepo) Update(ctx context.Context, id string, update model.IdentityUpdate) (*model.Identity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("identity %s: %w", id, model.ErrNotFound)
	}

	var sets []string
	var args []any
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Name != nil {
		set("name", *update.Name)
	}
	if update.Email != nil {
		set("email", model.NormalizeEmail(*update.Email))
	}
	if update.AvatarURL != nil {
		set("avatar_url", nullString(*update.AvatarURL))
	}
	if update.Credential != nil {
		set("salt", update.Credential.Salt)
		set("password_hash", update.Credential.Hash)
	}
	if update.LastLoginAt != nil {
		set("last_login_at", update.LastLoginAt.UnixMilli())
	}
	if update.IncrementLoginCount {
		sets = append(sets, "login_count = login_count + 1")
	}

	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now()
	}
	// updated_atは単調非減少に保つ
	args = append(args, updatedAt.UnixMilli())
	sets = append(sets, fmt.Sprintf("updated_at = %s(updated_at, $%d)", r.greatest(), len(args)))

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), identityColumns)

	identity, err := scanIdentity(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		if r.dialect.IsUniqueViolation(err) {
			return nil, fmt.Errorf("email is already in use: %w", model.ErrConflict)
		}
		return nil, fmt.Errorf("failed to update identity: %w", err)
	}
	return identity, nil
}

func (r *SQLIdentityRepo) greatest() string {
	if r.dialect == database.SQLite {
		return "MAX"
	}
	return "GREATEST"
}

func scanIdentity(row *sql.Row) (*model.Identity, error) {
	var (
		identity             model.Identity
		avatarURL            sql.NullString
		provider             string
		salt, hash           sql.NullString
		lastLoginAt          sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&identity.ID, &identity.Name, &identity.Email, &avatarURL, &provider, &salt, &hash,
		&identity.EmailVerified, &identity.LoginCount, &lastLoginAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	identity.AvatarURL = avatarURL.String
	identity.Provider = model.Provider(provider)
	if identity.Provider == model.ProviderPassword && salt.Valid && hash.Valid {
		identity.Credential = &model.PasswordCredential{Salt: salt.String, Hash: hash.String}
	}
	if lastLoginAt.Valid {
		t := fromMillis(lastLoginAt.Int64)
		identity.LastLoginAt = &t
	}
	identity.CreatedAt = fromMillis(createdAt)
	identity.UpdatedAt = fromMillis(updatedAt)
	return &identity, nil
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// compile-time interface check
var _ IdentityRepository = (*SQLIdentityRepo)(nil)
