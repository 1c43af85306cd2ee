package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/service"
	"github.com/heraldhq/herald/internal/store"
)

// mockService is a scripted NotificationService.
type mockService struct {
	notifications []*store.Notification
	users         []*store.User
	createdID     int64
	markedRead    int64
	unread        int64

	err error

	createCalls int
	deleteCalls int
	lastUserID  int64
	lastDelete  int64
}

func (m *mockService) Create(ctx context.Context, recipientID int64, title, message string, channel store.Channel) (int64, error) {
	m.createCalls++
	m.lastUserID = recipientID
	if m.err != nil {
		return 0, m.err
	}
	return m.createdID, nil
}

func (m *mockService) ListAll(ctx context.Context) ([]*store.Notification, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.notifications, nil
}

func (m *mockService) ListForUser(ctx context.Context, userID int64) ([]*store.Notification, error) {
	m.lastUserID = userID
	if m.err != nil {
		return nil, m.err
	}
	return m.notifications, nil
}

func (m *mockService) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	m.lastUserID = userID
	if m.err != nil {
		return 0, m.err
	}
	return m.markedRead, nil
}

func (m *mockService) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	m.lastUserID = userID
	if m.err != nil {
		return 0, m.err
	}
	return m.unread, nil
}

func (m *mockService) Delete(ctx context.Context, userID, id int64) error {
	m.deleteCalls++
	m.lastUserID = userID
	m.lastDelete = id
	return m.err
}

func (m *mockService) ListUsers(ctx context.Context) ([]*store.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users, nil
}

func newTestHandler(svc *mockService) *Handler {
	return NewHandler(zap.NewNop(), svc)
}

func asUser(req *http.Request, userID int64) *http.Request {
	ctx := context.WithValue(req.Context(), userIDKey{}, userID)
	return req.WithContext(ctx)
}

func TestCreateNotification(t *testing.T) {
	svc := &mockService{createdID: 42}
	handler := newTestHandler(svc)

	body, _ := json.Marshal(CreateNotificationRequest{
		UserID:  4,
		Title:   "System Alert",
		Message: "maintenance window tonight",
		Channel: "email",
	})
	req := asUser(httptest.NewRequest("POST", "/v1/notifications", bytes.NewReader(body)), 1)
	rec := httptest.NewRecorder()

	handler.CreateNotification(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp CreateNotificationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 42 {
		t.Errorf("expected id 42, got %d", resp.ID)
	}
	if svc.lastUserID != 4 {
		t.Errorf("expected recipient 4 passed through, got %d", svc.lastUserID)
	}
}

func TestCreateNotification_Unauthenticated(t *testing.T) {
	svc := &mockService{createdID: 42}
	handler := newTestHandler(svc)

	body, _ := json.Marshal(CreateNotificationRequest{UserID: 4, Title: "t", Message: "m", Channel: "email"})
	req := httptest.NewRequest("POST", "/v1/notifications", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	handler.CreateNotification(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if svc.createCalls != 0 {
		t.Errorf("service must not be called, got %d calls", svc.createCalls)
	}
}

func TestCreateNotification_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"missing user", `{"title":"t","message":"m","channel":"email"}`},
		{"missing title", `{"userId":4,"message":"m","channel":"email"}`},
		{"missing message", `{"userId":4,"title":"t","channel":"email"}`},
		{"missing channel", `{"userId":4,"title":"t","message":"m"}`},
		{"bad channel", `{"userId":4,"title":"t","message":"m","channel":"carrier-pigeon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{createdID: 42}
			handler := newTestHandler(svc)

			req := asUser(httptest.NewRequest("POST", "/v1/notifications", bytes.NewReader([]byte(tt.body))), 1)
			rec := httptest.NewRecorder()

			handler.CreateNotification(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			if svc.createCalls != 0 {
				t.Errorf("service must not be called for invalid body")
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("expected problem+json, got %q", ct)
			}
		})
	}
}

func TestCreateNotification_ServiceRejects(t *testing.T) {
	svc := &mockService{err: fmt.Errorf("%w: recipient 99 does not exist", service.ErrInvalidInput)}
	handler := newTestHandler(svc)

	body, _ := json.Marshal(CreateNotificationRequest{UserID: 99, Title: "t", Message: "m", Channel: "email"})
	req := asUser(httptest.NewRequest("POST", "/v1/notifications", bytes.NewReader(body)), 1)
	rec := httptest.NewRecorder()

	handler.CreateNotification(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCreateNotification_ServiceUnavailable(t *testing.T) {
	svc := &mockService{err: fmt.Errorf("%w: connection refused", service.ErrStoreUnavailable)}
	handler := newTestHandler(svc)

	body, _ := json.Marshal(CreateNotificationRequest{UserID: 4, Title: "t", Message: "m", Channel: "email"})
	req := asUser(httptest.NewRequest("POST", "/v1/notifications", bytes.NewReader(body)), 1)
	rec := httptest.NewRecorder()

	handler.CreateNotification(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestListNotifications(t *testing.T) {
	svc := &mockService{notifications: []*store.Notification{
		{ID: 2, RecipientID: 4, Title: "second"},
		{ID: 1, RecipientID: 7, Title: "first"},
	}}
	handler := newTestHandler(svc)

	req := httptest.NewRequest("GET", "/v1/notifications", nil)
	rec := httptest.NewRecorder()

	handler.ListNotifications(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data  []*store.Notification `json:"data"`
		Count int                   `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Data) != 2 {
		t.Errorf("expected 2 notifications, got count=%d len=%d", resp.Count, len(resp.Data))
	}
}

func TestListNotifications_EmptyIsArray(t *testing.T) {
	handler := newTestHandler(&mockService{})

	req := httptest.NewRequest("GET", "/v1/notifications", nil)
	rec := httptest.NewRecorder()

	handler.ListNotifications(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"data":[]`)) {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestListUserNotifications(t *testing.T) {
	svc := &mockService{notifications: []*store.Notification{{ID: 1, RecipientID: 4}}}
	handler := newTestHandler(svc)

	req := httptest.NewRequest("GET", "/v1/notifications/user?userId=4", nil)
	rec := httptest.NewRecorder()

	handler.ListUserNotifications(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.lastUserID != 4 {
		t.Errorf("expected user 4 queried, got %d", svc.lastUserID)
	}
}

func TestListUserNotifications_BadQuery(t *testing.T) {
	for _, target := range []string{
		"/v1/notifications/user",
		"/v1/notifications/user?userId=abc",
	} {
		handler := newTestHandler(&mockService{})
		req := httptest.NewRequest("GET", target, nil)
		rec := httptest.NewRecorder()

		handler.ListUserNotifications(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestMarkAllRead(t *testing.T) {
	svc := &mockService{markedRead: 3}
	handler := newTestHandler(svc)

	req := asUser(httptest.NewRequest("PATCH", "/v1/notifications/mark-read", nil), 4)
	rec := httptest.NewRecorder()

	handler.MarkAllRead(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["updated"] != 3 {
		t.Errorf("expected 3 updated, got %d", resp["updated"])
	}
	if svc.lastUserID != 4 {
		t.Errorf("expected caller 4, got %d", svc.lastUserID)
	}
}

func TestUnreadCount(t *testing.T) {
	svc := &mockService{unread: 5}
	handler := newTestHandler(svc)

	req := asUser(httptest.NewRequest("GET", "/v1/notifications/unread-count", nil), 4)
	rec := httptest.NewRecorder()

	handler.UnreadCount(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["count"] != 5 {
		t.Errorf("expected count 5, got %d", resp["count"])
	}
}

func TestDeleteNotification(t *testing.T) {
	svc := &mockService{}
	handler := newTestHandler(svc)

	req := asUser(httptest.NewRequest("DELETE", "/v1/notifications", bytes.NewReader([]byte(`{"id":7}`))), 4)
	rec := httptest.NewRecorder()

	handler.DeleteNotification(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if svc.lastUserID != 4 || svc.lastDelete != 7 {
		t.Errorf("expected delete(4, 7), got delete(%d, %d)", svc.lastUserID, svc.lastDelete)
	}
}

func TestDeleteNotification_NotFound(t *testing.T) {
	svc := &mockService{err: service.ErrNotFound}
	handler := newTestHandler(svc)

	req := asUser(httptest.NewRequest("DELETE", "/v1/notifications", bytes.NewReader([]byte(`{"id":7}`))), 4)
	rec := httptest.NewRecorder()

	handler.DeleteNotification(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteNotification_BadBody(t *testing.T) {
	for _, body := range []string{`{}`, `{"id":0}`, `{"id":-1}`, `{broken`} {
		svc := &mockService{}
		handler := newTestHandler(svc)

		req := asUser(httptest.NewRequest("DELETE", "/v1/notifications", bytes.NewReader([]byte(body))), 4)
		rec := httptest.NewRecorder()

		handler.DeleteNotification(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, rec.Code)
		}
		if svc.deleteCalls != 0 {
			t.Errorf("body %s: service must not be called", body)
		}
	}
}

func TestListUsers(t *testing.T) {
	svc := &mockService{users: []*store.User{
		{ID: 4, Name: "Amara Okafor", Email: "amara@example.com"},
		{ID: 7, Name: "Jonas Lindqvist", Email: "jonas@example.com"},
	}}
	handler := newTestHandler(svc)

	req := httptest.NewRequest("GET", "/v1/users", nil)
	rec := httptest.NewRecorder()

	handler.ListUsers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data  []*store.User `json:"data"`
		Count int           `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("expected 2 users, got %d", resp.Count)
	}
}
