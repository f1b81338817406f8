package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"bulk-mailer/logger"
)

func TestRespondWithJSON_MarshalFailureUsesInjectedLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithFormat("json"))

	rec := httptest.NewRecorder()
	successResponse(rec, log, map[string]any{"ch": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
	assert.Contains(t, buf.String(), `"msg":"Error marshalling JSON"`)
	assert.Contains(t, buf.String(), "unsupported type")
}

func TestErrorResponseShape(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithOutput(&buf), logger.WithFormat("json"))

	rec := httptest.NewRecorder()
	errorResponse(rec, log, "nope", http.StatusForbidden)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"nope"}`, rec.Body.String())
	assert.Empty(t, buf.String())
}
