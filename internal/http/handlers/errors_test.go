package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/microlearn-backend/internal/services"
)

func recordServiceError(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/lesson", nil)
	respondServiceError(c, err)
	return w
}

func TestRespondServiceErrorRetryableSignals(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("%w: synthesis in flight", services.ErrGenerating),
		fmt.Errorf("%w: junk model output", services.ErrInvalidFormat),
	} {
		w := recordServiceError(t, err)
		if w.Code != http.StatusAccepted {
			t.Fatalf("%v: status = %d, want %d", err, w.Code, http.StatusAccepted)
		}
		if w.Header().Get("Retry-After") == "" {
			t.Fatalf("%v: missing Retry-After header", err)
		}
		var body struct {
			Status       string `json:"status"`
			RetryAfterMs int    `json:"retryAfterMs"`
		}
		if jErr := json.Unmarshal(w.Body.Bytes(), &body); jErr != nil {
			t.Fatalf("decode body: %v", jErr)
		}
		if body.Status != "generating" || body.RetryAfterMs != generatingRetryAfterMs {
			t.Fatalf("%v: body = %+v", err, body)
		}
	}
}

func TestRespondServiceErrorTerminalStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{services.ErrNoSubject, http.StatusBadRequest},
		{services.ErrNotReady, http.StatusConflict},
		{services.ErrUsageLimit, http.StatusForbidden},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if w := recordServiceError(t, tc.err); w.Code != tc.want {
			t.Fatalf("%v: status = %d, want %d", tc.err, w.Code, tc.want)
		}
	}
}
