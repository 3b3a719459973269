package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWithDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorWithDetails(rec, http.StatusConflict, "Invalid transition", "boom", map[string]any{"current": "CLOSED"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "CLOSED", body.Details["current"])
}

func TestSuccessOmitsErrorFields(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusOK, "ok", map[string]int{"n": 1})

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "error")
	assert.NotContains(t, raw, "details")
	assert.Equal(t, "success", raw["status"])
}
