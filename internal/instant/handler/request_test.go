package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "tutordesk/pkg/errors"
	"tutordesk/pkg/logger"
	"tutordesk/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type mockRequestService struct {
	createFunc      func(ctx context.Context, request *model.InstantRequest) error
	cancelFunc      func(ctx context.Context, id string, requesterID string) (*model.InstantRequest, error)
	tryAcceptFunc   func(ctx context.Context, id string, tutorID string) (*model.InstantRequest, error)
	listPendingFunc func(ctx context.Context) ([]*model.InstantRequest, error)
}

func (m *mockRequestService) Create(ctx context.Context, request *model.InstantRequest) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, request)
	}
	return nil
}

func (m *mockRequestService) Cancel(ctx context.Context, id string, requesterID string) (*model.InstantRequest, error) {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, id, requesterID)
	}
	return nil, nil
}

func (m *mockRequestService) TryAccept(ctx context.Context, id string, tutorID string) (*model.InstantRequest, error) {
	if m.tryAcceptFunc != nil {
		return m.tryAcceptFunc(ctx, id, tutorID)
	}
	return nil, nil
}

func (m *mockRequestService) ListPending(ctx context.Context) ([]*model.InstantRequest, error) {
	if m.listPendingFunc != nil {
		return m.listPendingFunc(ctx)
	}
	return nil, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{
		Level:   "info",
		Format:  logger.JSON,
		Service: "test",
	})
}

func TestCreate_InvalidBody(t *testing.T) {
	handler := NewRequestHandler(&mockRequestService{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/instant-requests", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	handler.Create(w, req, httprouter.Params{})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestAccept_PassesIDAndTutorToService(t *testing.T) {
	var gotID, gotTutor string
	service := &mockRequestService{
		tryAcceptFunc: func(ctx context.Context, id string, tutorID string) (*model.InstantRequest, error) {
			gotID, gotTutor = id, tutorID
			return &model.InstantRequest{ID: id, Status: model.RequestAccepted, AcceptedBy: tutorID}, nil
		},
	}
	handler := NewRequestHandler(service, testLogger())

	body := strings.NewReader(`{"tutor_id": "tutor_7"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instant-requests/id/abc123/accept", body)
	w := httptest.NewRecorder()

	handler.Accept(w, req, httprouter.Params{{Key: "id", Value: "abc123"}})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if gotID != "abc123" || gotTutor != "tutor_7" {
		t.Errorf("service received id=%q tutor=%q", gotID, gotTutor)
	}
}

func TestAccept_LostRaceMapsToConflict(t *testing.T) {
	service := &mockRequestService{
		tryAcceptFunc: func(ctx context.Context, id string, tutorID string) (*model.InstantRequest, error) {
			return nil, apperrors.AlreadyResolved(id)
		},
	}
	handler := NewRequestHandler(service, testLogger())

	body := strings.NewReader(`{"tutor_id": "tutor_7"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instant-requests/id/abc123/accept", body)
	w := httptest.NewRecorder()

	handler.Accept(w, req, httprouter.Params{{Key: "id", Value: "abc123"}})

	if w.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, w.Code)
	}
}

func TestCancel_ForbiddenForNonOwner(t *testing.T) {
	service := &mockRequestService{
		cancelFunc: func(ctx context.Context, id string, requesterID string) (*model.InstantRequest, error) {
			return nil, apperrors.Forbidden("Only the requester may cancel")
		},
	}
	handler := NewRequestHandler(service, testLogger())

	body := strings.NewReader(`{"requester_id": "stranger"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instant-requests/id/abc123/cancel", body)
	w := httptest.NewRecorder()

	handler.Cancel(w, req, httprouter.Params{{Key: "id", Value: "abc123"}})

	if w.Code != http.StatusForbidden {
		t.Errorf("expected status %d, got %d", http.StatusForbidden, w.Code)
	}
}

func TestListPending_NilSliceRendersEmptyArray(t *testing.T) {
	handler := NewRequestHandler(&mockRequestService{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/instant-requests/pending", nil)
	w := httptest.NewRecorder()

	handler.ListPending(w, req, httprouter.Params{})

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var envelope struct {
		Data []model.InstantRequest `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if envelope.Data == nil {
		t.Error("expected an empty array, got null")
	}
}

func TestStream_RequiresOnlineTrue(t *testing.T) {
	handler := NewStreamHandler(&mockRequestService{}, nil, time.Second, testLogger())

	tests := []struct {
		name  string
		query string
	}{
		{name: "missing online flag", query: "?tutor_id=tutor_1"},
		{name: "online false", query: "?online=false&tutor_id=tutor_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/instant-requests/stream"+tt.query, nil)
			w := httptest.NewRecorder()

			handler.Stream(w, req, httprouter.Params{})

			if w.Code != http.StatusForbidden {
				t.Errorf("expected status %d, got %d", http.StatusForbidden, w.Code)
			}
		})
	}
}

func TestStream_RequiresTutorID(t *testing.T) {
	handler := NewStreamHandler(&mockRequestService{}, nil, time.Second, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/instant-requests/stream?online=true", nil)
	w := httptest.NewRecorder()

	handler.Stream(w, req, httprouter.Params{})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}
