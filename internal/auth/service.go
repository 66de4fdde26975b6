// Package auth はサインアップ・サインイン・プロフィール更新などの認証操作を提供する。
// セッション状態はサーバーに保持せず、提示されたトークンから毎回復元する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/authd/internal/metrics"
	"github.com/hitoshi/authd/internal/model"
	"github.com/hitoshi/authd/internal/password"
	"github.com/hitoshi/authd/internal/repository"
)

// 監査イベントのメッセージ
const (
	msgAccountCreated       = "Account created"
	msgAccountCreatedGoogle = "Account created (Google)"
	msgSignedIn             = "Signed in"
	msgSignedInGoogle       = "Signed in with Google"
	msgSignedOut            = "Signed out"
	msgUpdatedProfile       = "Updated profile"
	msgChangedPassword      = "Changed password"
)

// サインイン方式（メトリクスのラベル）
const (
	methodPassword = "password"
	methodGoogle   = "google"
)

// PasswordHasher はパスワードのハッシュ化と検証のインターフェース。
type PasswordHasher interface {
	Hash(password string) (salt, digest string, err error)
	Verify(password, salt, digest string) bool
}

// TokenService はセッショントークンの発行と検証のインターフェース。
type TokenService interface {
	Issue(userID string) (string, error)
	Verify(raw string) (*model.SessionInfo, error)
}

// ExternalVerifier は外部IdPのIDトークンを検証するインターフェース。
type ExternalVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*model.ExternalProfile, error)
}

// NameSanitizer は表示名のサニタイズのインターフェース。
type NameSanitizer interface {
	SanitizeName(raw string) string
}

// AvatarValidator はアバターURLの検証のインターフェース。
type AvatarValidator interface {
	ValidateAvatarURL(rawURL string) error
}

// Deps はServiceの依存。Federation・Metrics・Clockは省略できる。
type Deps struct {
	Identities repository.IdentityRepository
	Activities repository.ActivityRepository
	Hasher     PasswordHasher
	Tokens     TokenService
	Federation ExternalVerifier
	Names      NameSanitizer
	Avatars    AvatarValidator
	Metrics    metrics.MetricsCollector
	Policy     password.Policy
	Clock      func() time.Time
}

// Result は認証成功時のアカウントと発行したトークン。
type Result struct {
	Identity *model.Identity
	Token    string
}

// ProfileUpdate はプロフィール更新の入力。nilのフィールドは変更しない。
type ProfileUpdate struct {
	Name      *string
	Email     *string
	AvatarURL *string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	identities repository.IdentityRepository
	activities repository.ActivityRepository
	hasher     PasswordHasher
	tokens     TokenService
	federation ExternalVerifier
	names      NameSanitizer
	avatars    AvatarValidator
	metrics    metrics.MetricsCollector
	policy     password.Policy
	now        func() time.Time

	// 存在しないメールアドレスでのサインインでも照合コストを揃えるためのダミー資格情報
	dummyOnce sync.Once
	dummy     *model.PasswordCredential
}

// NewService はServiceを生成する。
func NewService(deps Deps) *Service {
	s := &Service{
		identities: deps.Identities,
		activities: deps.Activities,
		hasher:     deps.Hasher,
		tokens:     deps.Tokens,
		federation: deps.Federation,
		names:      deps.Names,
		avatars:    deps.Avatars,
		metrics:    deps.Metrics,
		policy:     deps.Policy,
		now:        deps.Clock,
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SignUp はパスワード認証のアカウントを作成し、サインイン済みのトークンを発行する。
func (s *Service) SignUp(ctx context.Context, name, email, pw string) (*Result, error) {
	email = model.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	name = s.sanitizeName(name)
	if name == "" {
		return nil, model.NewInputError("name is required")
	}
	if err := s.policy.Validate(pw); err != nil {
		return nil, err
	}

	existing, err := s.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("email %s is already in use: %w", email, model.ErrConflict)
	}

	salt, digest, err := s.hasher.Hash(pw)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	identity := &model.Identity{
		Name:          name,
		Email:         email,
		Provider:      model.ProviderPassword,
		Credential:    &model.PasswordCredential{Salt: salt, Hash: digest},
		EmailVerified: false,
		LoginCount:    1,
		LastLoginAt:   &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// 同時サインアップはストアの一意制約でErrConflictになる
	if err := s.identities.Insert(ctx, identity); err != nil {
		return nil, err
	}

	s.metrics.RecordSignUp(string(model.ProviderPassword))
	slog.Info("account created",
		slog.String("user_id", identity.ID),
		slog.String("provider", string(identity.Provider)),
	)
	s.audit(ctx, identity.ID, model.ActivityAccount, msgAccountCreated)
	s.audit(ctx, identity.ID, model.ActivityAuth, msgSignedIn)

	return s.issue(identity)
}

// SignIn はメールアドレスとパスワードでサインインする。
// メールアドレスの不一致とパスワードの不一致は同じErrUnauthorizedを返す。
func (s *Service) SignIn(ctx context.Context, email, pw string) (*Result, error) {
	email = model.NormalizeEmail(email)

	identity, err := s.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}

	if identity == nil || !identity.HasPassword() {
		// パスワードを持たないアカウントでも照合時間を揃える
		dummy := s.dummyCredential()
		if dummy != nil {
			s.hasher.Verify(pw, dummy.Salt, dummy.Hash)
		}
		s.metrics.RecordSignIn(methodPassword, metrics.ResultFailure)
		return nil, fmt.Errorf("invalid credentials: %w", model.ErrUnauthorized)
	}
	if !s.hasher.Verify(pw, identity.Credential.Salt, identity.Credential.Hash) {
		s.metrics.RecordSignIn(methodPassword, metrics.ResultFailure)
		return nil, fmt.Errorf("invalid credentials: %w", model.ErrUnauthorized)
	}

	updated, err := s.recordLogin(ctx, identity.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSignIn(methodPassword, metrics.ResultSuccess)
	s.audit(ctx, updated.ID, model.ActivityAuth, msgSignedIn)

	return s.issue(updated)
}

// SignOut はトークンが有効なアカウントに紐づく場合にサインアウトを記録する。
// トークンの破棄は呼び出し元の責務であり、この操作は失敗しない。
func (s *Service) SignOut(ctx context.Context, rawToken string) {
	identity := s.GetCurrentIdentity(ctx, rawToken)
	if identity == nil {
		return
	}
	s.metrics.RecordSignOut()
	s.audit(ctx, identity.ID, model.ActivityAuth, msgSignedOut)
}

// GetCurrentIdentity はトークンに対応するアカウントを返す。
// 未認証・無効なトークン・取得失敗のいずれもnilを返す。
func (s *Service) GetCurrentIdentity(ctx context.Context, rawToken string) *model.Identity {
	identity, _, err := s.resolve(ctx, rawToken)
	if err != nil {
		if !errors.Is(err, model.ErrUnauthorized) {
			slog.Error("failed to resolve session", slog.String("error", err.Error()))
		}
		return nil
	}
	return identity
}

// GetSession はトークンのセッション開始時刻を返す。無効なトークンの場合はnilを返す。
func (s *Service) GetSession(_ context.Context, rawToken string) *model.SessionInfo {
	if rawToken == "" {
		return nil
	}
	info, err := s.tokens.Verify(rawToken)
	if err != nil {
		return nil
	}
	return info
}

// UpdateProfile は指定されたフィールドのみを更新する。
func (s *Service) UpdateProfile(ctx context.Context, rawToken string, in ProfileUpdate) (*model.Identity, error) {
	identity, _, err := s.resolve(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	update := model.IdentityUpdate{UpdatedAt: s.now().UTC()}

	if in.Name != nil {
		name := s.sanitizeName(*in.Name)
		if name == "" {
			return nil, model.NewInputError("name must not be empty")
		}
		update.Name = &name
	}

	if in.Email != nil {
		email := model.NormalizeEmail(*in.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		if email != identity.Email {
			other, err := s.identities.FindByEmail(ctx, email)
			if err != nil {
				return nil, fmt.Errorf("failed to look up email: %w", err)
			}
			if other != nil && other.ID != identity.ID {
				return nil, fmt.Errorf("email %s is already in use: %w", email, model.ErrConflict)
			}
		}
		update.Email = &email
	}

	if in.AvatarURL != nil {
		avatar := strings.TrimSpace(*in.AvatarURL)
		if s.avatars != nil {
			if err := s.avatars.ValidateAvatarURL(avatar); err != nil {
				return nil, model.NewInputError("invalid avatar URL")
			}
		}
		update.AvatarURL = &avatar
	}

	updated, err := s.identities.Update(ctx, identity.ID, update)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, updated.ID, model.ActivityProfile, msgUpdatedProfile)
	return updated, nil
}

// ChangePassword は現在のパスワードを確認して新しいパスワードに変更する。
// 現在のパスワードが一致しない場合、資格情報は変更せず監査イベントも記録しない。
func (s *Service) ChangePassword(ctx context.Context, rawToken, currentPassword, newPassword string) error {
	identity, _, err := s.resolve(ctx, rawToken)
	if err != nil {
		return err
	}

	// フェデレーションアカウントはローカルの資格情報を持たない
	if !identity.HasPassword() {
		return fmt.Errorf("account has no local password: %w", model.ErrInvalidCredential)
	}
	if !s.hasher.Verify(currentPassword, identity.Credential.Salt, identity.Credential.Hash) {
		return fmt.Errorf("current password does not match: %w", model.ErrInvalidCredential)
	}
	if err := s.policy.Validate(newPassword); err != nil {
		return err
	}

	salt, digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if _, err := s.identities.Update(ctx, identity.ID, model.IdentityUpdate{
		Credential: &model.PasswordCredential{Salt: salt, Hash: digest},
		UpdatedAt:  s.now().UTC(),
	}); err != nil {
		return err
	}

	slog.Info("password changed", slog.String("user_id", identity.ID))
	s.audit(ctx, identity.ID, model.ActivitySecurity, msgChangedPassword)
	return nil
}

// SignInWithFederatedToken は外部IdPのIDトークンでサインインする。
// メールアドレスに対応するアカウントがなければprovider=googleで作成する。
func (s *Service) SignInWithFederatedToken(ctx context.Context, rawIDToken string) (*Result, error) {
	if s.federation == nil {
		return nil, fmt.Errorf("federation is not configured: %w", model.ErrUnconfigured)
	}

	profile, err := s.federation.Verify(ctx, rawIDToken)
	if err != nil {
		s.metrics.RecordSignIn(methodGoogle, metrics.ResultFailure)
		if errors.Is(err, model.ErrUnconfigured) || errors.Is(err, model.ErrInvalidExternalToken) {
			return nil, err
		}
		return nil, fmt.Errorf("%v: %w", err, model.ErrInvalidExternalToken)
	}

	email := model.NormalizeEmail(profile.Email)
	if err := validateEmail(email); err != nil {
		s.metrics.RecordSignIn(methodGoogle, metrics.ResultFailure)
		return nil, fmt.Errorf("external token carries an invalid email: %w", model.ErrInvalidExternalToken)
	}

	identity, err := s.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}

	if identity == nil {
		identity, err = s.createFederated(ctx, email, profile)
		if err != nil {
			return nil, err
		}
	}
	// 未確認のメールアドレスで既存のパスワードアカウントに入らせない。
	// 同時作成で競合し既存アカウントを取得した場合も同じ扱いにする。
	if identity.Provider != model.ProviderGoogle && !profile.EmailVerified {
		s.metrics.RecordSignIn(methodGoogle, metrics.ResultFailure)
		return nil, fmt.Errorf("unverified external email for existing account: %w", model.ErrInvalidExternalToken)
	}

	updated, err := s.recordLogin(ctx, identity.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSignIn(methodGoogle, metrics.ResultSuccess)
	s.audit(ctx, updated.ID, model.ActivityAuth, msgSignedInGoogle)

	return s.issue(updated)
}

// createFederated はフェデレーションアカウントを作成する。
// 同じメールアドレスで同時に作成された場合は、先に作成されたアカウントを返す。
func (s *Service) createFederated(ctx context.Context, email string, profile *model.ExternalProfile) (*model.Identity, error) {
	name := s.sanitizeName(profile.Name)
	if name == "" {
		name = email[:strings.Index(email, "@")]
	}

	avatar := profile.Picture
	if s.avatars != nil && s.avatars.ValidateAvatarURL(avatar) != nil {
		avatar = ""
	}

	now := s.now().UTC()
	identity := &model.Identity{
		Name:          name,
		Email:         email,
		AvatarURL:     avatar,
		Provider:      model.ProviderGoogle,
		EmailVerified: profile.EmailVerified,
		LoginCount:    0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.identities.Insert(ctx, identity)
	if errors.Is(err, model.ErrConflict) {
		existing, findErr := s.identities.FindByEmail(ctx, email)
		if findErr != nil {
			return nil, fmt.Errorf("failed to look up email: %w", findErr)
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSignUp(string(model.ProviderGoogle))
	slog.Info("account created",
		slog.String("user_id", identity.ID),
		slog.String("provider", string(identity.Provider)),
	)
	s.audit(ctx, identity.ID, model.ActivityAccount, msgAccountCreatedGoogle)
	return identity, nil
}

// GetActivity は監査イベントをページ単位で返す。
func (s *Service) GetActivity(ctx context.Context, rawToken string, page, pageSize int) (*model.ActivityPage, error) {
	identity, _, err := s.resolve(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	result, err := s.activities.List(ctx, identity.ID, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return result, nil
}

// GetMeta はアカウントのメタ情報を返す。
func (s *Service) GetMeta(ctx context.Context, rawToken string) (*model.AccountMeta, error) {
	identity, _, err := s.resolve(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	meta := identity.Meta()
	return &meta, nil
}

// resolve はトークンを検証し、対応するアカウントを取得する。
// トークンが無効、またはアカウントが存在しない場合はErrUnauthorizedを返す。
func (s *Service) resolve(ctx context.Context, rawToken string) (*model.Identity, *model.SessionInfo, error) {
	if rawToken == "" {
		return nil, nil, fmt.Errorf("no session token: %w", model.ErrUnauthorized)
	}
	info, err := s.tokens.Verify(rawToken)
	if err != nil {
		return nil, nil, err
	}
	identity, err := s.identities.FindByID(ctx, info.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if identity == nil {
		return nil, nil, fmt.Errorf("identity for session no longer exists: %w", model.ErrUnauthorized)
	}
	return identity, info, nil
}

// recordLogin はログイン回数と最終ログイン時刻を更新する。
func (s *Service) recordLogin(ctx context.Context, id string) (*model.Identity, error) {
	now := s.now().UTC()
	updated, err := s.identities.Update(ctx, id, model.IdentityUpdate{
		LastLoginAt:         &now,
		IncrementLoginCount: true,
		UpdatedAt:           now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	return updated, nil
}

func (s *Service) issue(identity *model.Identity) (*Result, error) {
	token, err := s.tokens.Issue(identity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}
	return &Result{Identity: identity, Token: token}, nil
}

// audit は監査イベントを追記する。失敗しても主操作は失敗させない。
func (s *Service) audit(ctx context.Context, userID string, typ model.ActivityType, message string) {
	if _, err := s.activities.Append(ctx, userID, typ, message, s.now().UTC()); err != nil {
		s.metrics.RecordAuditFailure()
		slog.Warn("failed to append activity",
			slog.String("user_id", userID),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) sanitizeName(raw string) string {
	if s.names == nil {
		return strings.TrimSpace(raw)
	}
	return s.names.SanitizeName(raw)
}

func (s *Service) dummyCredential() *model.PasswordCredential {
	s.dummyOnce.Do(func() {
		salt, digest, err := s.hasher.Hash("dummy-password-for-timing")
		if err != nil {
			slog.Warn("failed to prepare dummy credential", slog.String("error", err.Error()))
			return
		}
		s.dummy = &model.PasswordCredential{Salt: salt, Hash: digest}
	})
	return s.dummy
}

// validateEmail は正規化済みメールアドレスの最低限の形式を検証する。
func validateEmail(email string) error {
	if email == "" {
		return model.NewInputError("email is required")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at != strings.LastIndex(email, "@") || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		return model.NewInputError("email is invalid")
	}
	return nil
}
