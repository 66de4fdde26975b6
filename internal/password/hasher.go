// Package password はパスワードの一方向ハッシュ化と検証、パスワードポリシーを提供する。
package password

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/authd/internal/model"
)

// DefaultCost はbcryptのデフォルトコスト。
const DefaultCost = 10

// bcryptのハッシュ文字列 "$2a$10$" + 22文字のソルト部分の長さ。
const saltPrefixLen = 29

// maxPasswordBytes はbcryptが扱える入力長の上限。
const maxPasswordBytes = 72

// Hasher はbcryptによるパスワードハッシュ化を提供する。
type Hasher struct {
	cost int
}

// NewHasher はHasherを生成する。costが範囲外の場合はDefaultCostを使う。
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash は新しいランダムソルトでパスワードをハッシュ化し、ソルトとダイジェストを返す。
// ソルトはダイジェスト先頭のbcryptソルト部分であり、Verifyで整合性を確認する。
func (h *Hasher) Hash(password string) (salt, digest string, err error) {
	if len(password) > maxPasswordBytes {
		return "", "", model.NewInputError("password must be at most 72 bytes")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", "", model.NewInputError("password must be at most 72 bytes")
		}
		return "", "", fmt.Errorf("failed to hash password: %w", err)
	}
	digest = string(b)
	return digest[:saltPrefixLen], digest, nil
}

// Verify はパスワードが保存済みのソルトとダイジェストに一致するかを返す。
// 不正な形式のソルト・ダイジェストはエラーにせずfalseを返す。
// bcryptは72バイトを超える入力を切り詰めるため、それより長いパスワードは常に不一致とする。
func (h *Hasher) Verify(password, salt, digest string) bool {
	if len(password) > maxPasswordBytes {
		return false
	}
	if len(digest) <= saltPrefixLen || len(salt) != saltPrefixLen {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(digest[:saltPrefixLen]), []byte(salt)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// Policy はサーバー側で強制するパスワードポリシー。
// ゼロ値は何も強制しない。
type Policy struct {
	MinLength int
	// RequireMixed は英字と数字の両方を必須にする。
	RequireMixed bool
}

// Validate はパスワードがポリシーを満たすか検証する。
func (p Policy) Validate(password string) error {
	if password == "" {
		return model.NewInputError("password is required")
	}
	if len(password) > maxPasswordBytes {
		return model.NewInputError("password must be at most 72 bytes")
	}
	if p.MinLength > 0 && len([]rune(password)) < p.MinLength {
		return model.NewInputError(fmt.Sprintf("password must be at least %d characters", p.MinLength))
	}
	if p.RequireMixed {
		var letter, digit bool
		for _, r := range password {
			switch {
			case unicode.IsLetter(r):
				letter = true
			case unicode.IsDigit(r):
				digit = true
			}
		}
		if !letter || !digit {
			return model.NewInputError("password must contain letters and digits")
		}
	}
	return nil
}
