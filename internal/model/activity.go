package model

import "time"

// ActivityType は監査イベントの種別を表す。
type ActivityType string

const (
	ActivityAuth     ActivityType = "auth"
	ActivityProfile  ActivityType = "profile"
	ActivitySecurity ActivityType = "security"
	ActivityAccount  ActivityType = "account"
)

// AuditEvent はセキュリティ上重要な操作の不変な記録。
// 追記のみで、更新・削除はされない。
type AuditEvent struct {
	ID      string       `json:"id"`
	UserID  string       `json:"userId"`
	Type    ActivityType `json:"type"`
	Message string       `json:"message"`
	At      time.Time    `json:"at"`
}

const (
	// DefaultActivityPageSize はpageSize未指定時の件数。
	DefaultActivityPageSize = 10
	// MaxActivityPageSize はpageSizeの上限。
	MaxActivityPageSize = 100
)

// ActivityPage は監査イベント一覧の1ページ分。
type ActivityPage struct {
	Items      []AuditEvent `json:"items"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
	TotalPages int          `json:"totalPages"`
}

// ClampPageSize はpageSizeを1..MaxActivityPageSizeに丸める。
func ClampPageSize(pageSize int) int {
	if pageSize < 1 {
		return 1
	}
	if pageSize > MaxActivityPageSize {
		return MaxActivityPageSize
	}
	return pageSize
}

// TotalPages は総件数からページ数を計算する。0件でも1ページとする。
func TotalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// ClampPage はpageを1..totalPagesに丸める。
func ClampPage(page, totalPages int) int {
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	return page
}
