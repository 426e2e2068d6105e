package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "envledger/internal/errors"
	"envledger/internal/logger"
	"envledger/internal/observability"
	"envledger/internal/resilience"
	"envledger/internal/validator"
)

// --- test helpers ---

func init() {
	gin.SetMode(gin.TestMode)
	logger.Init("test")
	validator.Register()
}

func injectUserID(uid string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", uid)
		c.Next()
	}
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func parseJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nbody: %s", err, rec.Body.String())
	}
	return result
}

func assertErrorCode(t *testing.T, result map[string]interface{}, code string) {
	t.Helper()
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object in response, got: %v", result)
	}
	if errObj["code"] != code {
		t.Errorf("expected error code %q, got %q", code, errObj["code"])
	}
}

func testMutator() *Mutator {
	return NewMutator(resilience.Config{MaxRetries: 2}, observability.NewMetrics())
}

// --- tests ---

func TestRespondWithError(t *testing.T) {
	t.Run("app error carries code and kind", func(t *testing.T) {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) { respondWithError(c, apperrors.ErrInsufficientBalance) })

		rec := doRequest(r, http.MethodGet, "/x", "")

		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		result := parseJSON(t, rec)
		assertErrorCode(t, result, "INSUFFICIENT_BALANCE")
		if kind := result["error"].(map[string]interface{})["kind"]; kind != "INSUFFICIENT_BALANCE" {
			t.Errorf("expected kind INSUFFICIENT_BALANCE, got %v", kind)
		}
	})

	t.Run("unexpected error is hidden", func(t *testing.T) {
		r := gin.New()
		r.GET("/x", func(c *gin.Context) { respondWithError(c, context.Canceled) })

		rec := doRequest(r, http.MethodGet, "/x", "")

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		assertErrorCode(t, parseJSON(t, rec), "INTERNAL_ERROR")
	})
}

func TestMutator_Run(t *testing.T) {
	t.Run("retries conflicts until success", func(t *testing.T) {
		calls := 0
		err := testMutator().Run(context.Background(), "op", func(context.Context) error {
			calls++
			if calls < 3 {
				return apperrors.ErrConcurrencyConflict
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		calls := 0
		err := testMutator().Run(context.Background(), "op", func(context.Context) error {
			calls++
			return apperrors.ErrConcurrencyConflict
		})
		if !apperrors.IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		err := testMutator().Run(context.Background(), "op", func(context.Context) error {
			calls++
			return apperrors.ErrInsufficientBalance
		})
		if !apperrors.IsKind(err, apperrors.KindInsufficientBalance) {
			t.Fatalf("expected insufficient balance, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("nil mutator runs once", func(t *testing.T) {
		var m *Mutator
		calls := 0
		_ = m.Run(context.Background(), "op", func(context.Context) error {
			calls++
			return apperrors.ErrConcurrencyConflict
		})
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})
}

func TestParseFlexibleTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2026-03-14", time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), false},
		{"2026-03-14T10:30:00Z", time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC), false},
		{"14/03/2026", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFlexibleTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
