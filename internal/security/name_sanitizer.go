// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer は表示名からマークアップと制御文字を取り除く。
// SSRFGuardService はアバターURLの検証と、外部IdPへの安全なHTTPクライアントを提供する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength は表示名の最大文字数（rune数）。
const MaxNameLength = 100

// NameSanitizer は表示名のサニタイズ機能のインターフェース。
type NameSanitizer interface {
	// SanitizeName はタグを除去し、空白を正規化した表示名を返す。
	// 結果が空になる場合は空文字列を返す。
	SanitizeName(raw string) string
}

// nameSanitizer はNameSanitizerの実装。
// bluemondayのStrictPolicyは全てのタグを除去する。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeName は表示名をサニタイズする。
// StrictPolicyがエスケープした実体参照は元に戻し、山括弧は残さない。
func (s *nameSanitizer) SanitizeName(raw string) string {
	text := html.UnescapeString(s.policy.Sanitize(raw))

	var b strings.Builder
	space := false
	count := 0
	for _, r := range text {
		if count >= MaxNameLength {
			break
		}
		switch {
		case r == '<' || r == '>':
			continue
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsControl(r):
			continue
		}
		if space {
			if count+2 > MaxNameLength {
				break
			}
			b.WriteByte(' ')
			count++
			space = false
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}
