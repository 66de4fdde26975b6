package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/authd/internal/model"
)

// --- モック定義 ---

type mockIdentityRepo struct {
	findByEmailFn func(ctx context.Context, email string) (*model.Identity, error)
	findByIDFn    func(ctx context.Context, id string) (*model.Identity, error)
	insertFn      func(ctx context.Context, identity *model.Identity) error
	updateFn      func(ctx context.Context, id string, update model.IdentityUpdate) (*model.Identity, error)
}

func (m *mockIdentityRepo) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockIdentityRepo) Insert(ctx context.Context, identity *model.Identity) error {
	if m.insertFn != nil {
		return m.insertFn(ctx, identity)
	}
	if identity.ID == "" {
		identity.ID = "generated-id"
	}
	return nil
}

func (m *mockIdentityRepo) Update(ctx context.Context, id string, update model.IdentityUpdate) (*model.Identity, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, update)
	}
	return &model.Identity{ID: id}, nil
}

// recordingActivityRepo は追記された監査イベントを記録する。
type recordingActivityRepo struct {
	mu       sync.Mutex
	events   []model.AuditEvent
	appendFn func(ctx context.Context, userID string, typ model.ActivityType, message string) error
	listFn   func(ctx context.Context, userID string, page, pageSize int) (*model.ActivityPage, error)
}

func (r *recordingActivityRepo) Append(ctx context.Context, userID string, typ model.ActivityType, message string, at time.Time) (*model.AuditEvent, error) {
	if r.appendFn != nil {
		if err := r.appendFn(ctx, userID, typ, message); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	event := model.AuditEvent{UserID: userID, Type: typ, Message: message, At: at}
	r.events = append(r.events, event)
	return &event, nil
}

func (r *recordingActivityRepo) List(ctx context.Context, userID string, page, pageSize int) (*model.ActivityPage, error) {
	if r.listFn != nil {
		return r.listFn(ctx, userID, page, pageSize)
	}
	return &model.ActivityPage{Items: []model.AuditEvent{}, Page: 1, PageSize: pageSize, TotalPages: 1}, nil
}

func (r *recordingActivityRepo) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, string(e.Type)+":"+e.Message)
	}
	return out
}

// plainHasher はテスト用の高速なハッシュ実装。
type plainHasher struct {
	mu    sync.Mutex
	calls int
}

func (h *plainHasher) Hash(pw string) (string, string, error) {
	h.mu.Lock()
	h.calls++
	n := h.calls
	h.mu.Unlock()
	salt := "salt-" + strings.Repeat("x", n)
	return salt, salt + ":" + pw, nil
}

func (h *plainHasher) Verify(pw, salt, digest string) bool {
	return digest == salt+":"+pw
}

type mockVerifier struct {
	verifyFn func(ctx context.Context, raw string) (*model.ExternalProfile, error)
}

func (m *mockVerifier) Verify(ctx context.Context, raw string) (*model.ExternalProfile, error) {
	return m.verifyFn(ctx, raw)
}

type mockAvatarValidator struct {
	err error
}

func (m *mockAvatarValidator) ValidateAvatarURL(string) error { return m.err }

// recordingMetrics は記録されたメトリクスを数える。
type recordingMetrics struct {
	mu            sync.Mutex
	signUps       map[string]int
	signIns       map[string]int
	signOuts      int
	auditFailures int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{signUps: map[string]int{}, signIns: map[string]int{}}
}

func (m *recordingMetrics) RecordSignUp(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signUps[provider]++
}

func (m *recordingMetrics) RecordSignIn(method, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signIns[method+"/"+result]++
}

func (m *recordingMetrics) RecordSignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signOuts++
}

func (m *recordingMetrics) RecordAuditFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditFailures++
}

func (m *recordingMetrics) RecordHTTPStatus(int)               {}
func (m *recordingMetrics) RecordRequestLatency(time.Duration) {}
func (m *recordingMetrics) RecordMigrationsApplied(int)        {}
