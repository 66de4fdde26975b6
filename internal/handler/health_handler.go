package handler

import (
	"net/http"
	"time"
)

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string `json:"status"`
	Env    string `json:"env"`
	Time   int64  `json:"time"`
}

// NewHealthHandler はヘルスチェックハンドラーを返す。
// GET /api/health
func NewHealthHandler(env string, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Env: env, Time: now().UnixMilli()})
	}
}
