package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "envledger/internal/errors"
	"envledger/internal/models"
	"envledger/internal/services"
)

// --- mock envelope service ---

type mockEnvelopeService struct {
	createEnvelopeFn   func(principal, budgetID string, in services.CreateEnvelopeInput) (*services.EnvelopeResult, error)
	listEnvelopesFn    func(principal, budgetID string, includeInactive bool) ([]models.Envelope, error)
	updateEnvelopeFn   func(principal, budgetID, envelopeID string, in services.UpdateEnvelopeInput) (*models.Envelope, error)
	allocateEnvelopeFn func(principal, budgetID, envelopeID string, allocated int64) (*services.EnvelopeResult, error)
	pauseEnvelopeFn    func(principal, budgetID, envelopeID string) (*models.Envelope, error)
	deleteEnvelopeFn   func(principal, budgetID, envelopeID string) error
}

func (m *mockEnvelopeService) CreateEnvelope(_ context.Context, principal, budgetID string, in services.CreateEnvelopeInput) (*services.EnvelopeResult, error) {
	if m.createEnvelopeFn != nil {
		return m.createEnvelopeFn(principal, budgetID, in)
	}
	return &services.EnvelopeResult{Envelope: &models.Envelope{}}, nil
}

func (m *mockEnvelopeService) GetEnvelope(_ context.Context, _, budgetID, envelopeID string) (*models.Envelope, error) {
	return &models.Envelope{Base: models.Base{ID: envelopeID}, BudgetID: budgetID}, nil
}

func (m *mockEnvelopeService) ListEnvelopes(_ context.Context, principal, budgetID string, includeInactive bool) ([]models.Envelope, error) {
	if m.listEnvelopesFn != nil {
		return m.listEnvelopesFn(principal, budgetID, includeInactive)
	}
	return []models.Envelope{}, nil
}

func (m *mockEnvelopeService) UpdateEnvelope(_ context.Context, principal, budgetID, envelopeID string, in services.UpdateEnvelopeInput) (*models.Envelope, error) {
	if m.updateEnvelopeFn != nil {
		return m.updateEnvelopeFn(principal, budgetID, envelopeID, in)
	}
	return &models.Envelope{}, nil
}

func (m *mockEnvelopeService) AllocateEnvelope(_ context.Context, principal, budgetID, envelopeID string, allocated int64) (*services.EnvelopeResult, error) {
	if m.allocateEnvelopeFn != nil {
		return m.allocateEnvelopeFn(principal, budgetID, envelopeID, allocated)
	}
	return &services.EnvelopeResult{Envelope: &models.Envelope{AllocatedAmount: allocated}}, nil
}

func (m *mockEnvelopeService) PauseEnvelope(_ context.Context, principal, budgetID, envelopeID string) (*models.Envelope, error) {
	if m.pauseEnvelopeFn != nil {
		return m.pauseEnvelopeFn(principal, budgetID, envelopeID)
	}
	return &models.Envelope{Status: models.EnvelopeStatusPaused}, nil
}

func (m *mockEnvelopeService) ResumeEnvelope(_ context.Context, _, _, _ string) (*models.Envelope, error) {
	return &models.Envelope{Status: models.EnvelopeStatusActive}, nil
}

func (m *mockEnvelopeService) CloseEnvelope(_ context.Context, _, _, _ string) (*models.Envelope, error) {
	return &models.Envelope{Status: models.EnvelopeStatusClosed}, nil
}

func (m *mockEnvelopeService) DeleteEnvelope(_ context.Context, principal, budgetID, envelopeID string) error {
	if m.deleteEnvelopeFn != nil {
		return m.deleteEnvelopeFn(principal, budgetID, envelopeID)
	}
	return nil
}

var _ services.EnvelopeServicer = (*mockEnvelopeService)(nil)

func setupEnvelopeRouter(handler *EnvelopeHandler) *gin.Engine {
	r := gin.New()
	auth := r.Group("/budgets/:id/envelopes", injectUserID("p1"))
	auth.POST("", handler.CreateEnvelope)
	auth.GET("", handler.GetEnvelopes)
	auth.GET("/:envelopeId", handler.GetEnvelope)
	auth.PUT("/:envelopeId", handler.UpdateEnvelope)
	auth.DELETE("/:envelopeId", handler.DeleteEnvelope)
	auth.POST("/:envelopeId/allocate", handler.AllocateEnvelope)
	auth.POST("/:envelopeId/pause", handler.PauseEnvelope)
	auth.POST("/:envelopeId/resume", handler.ResumeEnvelope)
	auth.POST("/:envelopeId/close", handler.CloseEnvelope)
	return r
}

func TestEnvelopeHandler_CreateEnvelope(t *testing.T) {
	t.Run("returns 201 with warnings", func(t *testing.T) {
		var capturedBudget string
		var captured services.CreateEnvelopeInput
		svc := &mockEnvelopeService{
			createEnvelopeFn: func(_, budgetID string, in services.CreateEnvelopeInput) (*services.EnvelopeResult, error) {
				capturedBudget, captured = budgetID, in
				return &services.EnvelopeResult{
					Envelope: &models.Envelope{Name: in.Name, AllocatedAmount: in.AllocatedAmount},
					Warnings: []string{"allocated exceeds income"},
				}, nil
			},
		}
		r := setupEnvelopeRouter(NewEnvelopeHandler(svc, testMutator()))

		rec := doRequest(r, http.MethodPost, "/budgets/b1/envelopes",
			`{"name":"Groceries","category":"essential","color":"#00ff00","allocatedAmount":60000,"isRecurring":true}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if capturedBudget != "b1" || captured.Category != models.EnvelopeCategoryEssential || !captured.IsRecurring {
			t.Errorf("unexpected input %q %+v", capturedBudget, captured)
		}
		if w, _ := parseJSON(t, rec)["warnings"].([]interface{}); len(w) != 1 {
			t.Errorf("expected 1 warning, got %v", w)
		}
	})

	tests := []struct {
		name string
		body string
	}{
		{"unknown category", `{"name":"Fun","category":"luxury"}`},
		{"bad color", `{"name":"Fun","category":"discretionary","color":"green"}`},
		{"negative allocation", `{"name":"Fun","category":"discretionary","allocatedAmount":-1}`},
		{"missing name", `{"category":"discretionary"}`},
	}
	for _, tt := range tests {
		t.Run("returns 400 on "+tt.name, func(t *testing.T) {
			r := setupEnvelopeRouter(NewEnvelopeHandler(&mockEnvelopeService{}, testMutator()))

			rec := doRequest(r, http.MethodPost, "/budgets/b1/envelopes", tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			assertErrorCode(t, parseJSON(t, rec), "INVALID_INPUT")
		})
	}

	t.Run("maps duplicate to 400", func(t *testing.T) {
		svc := &mockEnvelopeService{
			createEnvelopeFn: func(string, string, services.CreateEnvelopeInput) (*services.EnvelopeResult, error) {
				return nil, apperrors.ErrDuplicateEnvelope
			},
		}
		r := setupEnvelopeRouter(NewEnvelopeHandler(svc, testMutator()))

		rec := doRequest(r, http.MethodPost, "/budgets/b1/envelopes", `{"name":"Groceries","category":"essential"}`)

		assertErrorCode(t, parseJSON(t, rec), "DUPLICATE_ENVELOPE")
	})
}

func TestEnvelopeHandler_GetEnvelopes(t *testing.T) {
	var captured bool
	svc := &mockEnvelopeService{
		listEnvelopesFn: func(_, _ string, includeInactive bool) ([]models.Envelope, error) {
			captured = includeInactive
			return []models.Envelope{{Name: "Groceries"}, {Name: "Rent"}}, nil
		},
	}
	r := setupEnvelopeRouter(NewEnvelopeHandler(svc, testMutator()))

	rec := doRequest(r, http.MethodGet, "/budgets/b1/envelopes?include_inactive=true", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !captured {
		t.Error("expected include_inactive to reach the service")
	}
	if envs, _ := parseJSON(t, rec)["envelopes"].([]interface{}); len(envs) != 2 {
		t.Errorf("expected 2 envelopes, got %v", envs)
	}
}

func TestEnvelopeHandler_GetEnvelope(t *testing.T) {
	r := setupEnvelopeRouter(NewEnvelopeHandler(&mockEnvelopeService{}, testMutator()))

	rec := doRequest(r, http.MethodGet, "/budgets/b1/envelopes/e1", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	env := parseJSON(t, rec)["envelope"].(map[string]interface{})
	if env["id"] != "e1" || env["budgetId"] != "b1" {
		t.Errorf("unexpected envelope %v", env)
	}
}

func TestEnvelopeHandler_UpdateEnvelope(t *testing.T) {
	var captured services.UpdateEnvelopeInput
	svc := &mockEnvelopeService{
		updateEnvelopeFn: func(_, _, _ string, in services.UpdateEnvelopeInput) (*models.Envelope, error) {
			captured = in
			return &models.Envelope{}, nil
		},
	}
	r := setupEnvelopeRouter(NewEnvelopeHandler(svc, testMutator()))

	rec := doRequest(r, http.MethodPut, "/budgets/b1/envelopes/e1",
		`{"isOverspendAllowed":true,"maxOverspendAmount":5000}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.IsOverspendAllowed == nil || !*captured.IsOverspendAllowed {
		t.Error("expected isOverspendAllowed to be set")
	}
	if captured.MaxOverspendAmount == nil || *captured.MaxOverspendAmount != 5000 {
		t.Errorf("unexpected maxOverspendAmount %v", captured.MaxOverspendAmount)
	}
	if captured.Name != nil {
		t.Error("expected name to stay unset")
	}
}

func TestEnvelopeHandler_AllocateEnvelope(t *testing.T) {
	t.Run("passes the amount", func(t *testing.T) {
		var captured int64 = -1
		svc := &mockEnvelopeService{
			allocateEnvelopeFn: func(_, _, _ string, allocated int64) (*services.EnvelopeResult, error) {
				captured = allocated
				return &services.EnvelopeResult{Envelope: &models.Envelope{AllocatedAmount: allocated}}, nil
			},
		}
		r := setupEnvelopeRouter(NewEnvelopeHandler(svc, testMutator()))

		rec := doRequest(r, http.MethodPost, "/budgets/b1/envelopes/e1/allocate", `{"allocatedAmount":0}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if captured != 0 {
			t.Errorf("expected 0, got %d", captured)
		}
	})

	t.Run("requires an amount", func(t *testing.T) {
		r := setupEnvelopeRouter(NewEnvelopeHandler(&mockEnvelopeService{}, testMutator()))

		rec := doRequest(r, http.MethodPost, "/budgets/b1/envelopes/e1/allocate", `{}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestEnvelopeHandler_Lifecycle(t *testing.T) {
	tests := []struct {
		path   string
		status string
	}{
		{"pause", "paused"},
		{"resume", "active"},
		{"close", "closed"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r := setupEnvelopeRouter(NewEnvelopeHandler(&mockEnvelopeService{}, testMutator()))

			rec := doRequest(r, http.MethodPost, "/budgets/b1/envelopes/e1/"+tt.path, "")

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			env := parseJSON(t, rec)["envelope"].(map[string]interface{})
			if env["status"] != tt.status {
				t.Errorf("expected %s, got %v", tt.status, env["status"])
			}
		})
	}

	t.Run("pause maps invalid transition", func(t *testing.T) {
		svc := &mockEnvelopeService{
			pauseEnvelopeFn: func(string, string, string) (*models.Envelope, error) {
				return nil, apperrors.ErrInvalidStatusTransition
			},
		}
		r := setupEnvelopeRouter(NewEnvelopeHandler(svc, testMutator()))

		rec := doRequest(r, http.MethodPost, "/budgets/b1/envelopes/e1/pause", "")

		assertErrorCode(t, parseJSON(t, rec), "INVALID_STATUS_TRANSITION")
	})
}

func TestEnvelopeHandler_DeleteEnvelope(t *testing.T) {
	t.Run("returns 200 on success", func(t *testing.T) {
		r := setupEnvelopeRouter(NewEnvelopeHandler(&mockEnvelopeService{}, testMutator()))

		rec := doRequest(r, http.MethodDelete, "/budgets/b1/envelopes/e1", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("maps open envelope to 400", func(t *testing.T) {
		svc := &mockEnvelopeService{
			deleteEnvelopeFn: func(string, string, string) error { return apperrors.ErrEnvelopeNotClosed },
		}
		r := setupEnvelopeRouter(NewEnvelopeHandler(svc, testMutator()))

		rec := doRequest(r, http.MethodDelete, "/budgets/b1/envelopes/e1", "")

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "ENVELOPE_NOT_CLOSED")
	})
}
