package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationID(t *testing.T) {
	handler := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := r.Context().Value(CorrelationKey).(string)
		if !ok || id == "" {
			t.Error("correlation id missing from context")
		}
	}))

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Header().Get(CorrelationHeader) == "" {
		t.Error("header missing")
	}
}

func TestCorrelationID_PropagatesIncoming(t *testing.T) {
	var seen string
	handler := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(CorrelationHeader, "abc-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(CorrelationHeader))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestGetCorrelationID_Unknown(t *testing.T) {
	assert.Equal(t, "unknown", GetCorrelationID(context.Background()))
}

func TestNewBackgroundContext(t *testing.T) {
	ctx := NewBackgroundContext(context.Background(), "")
	assert.NotEqual(t, "unknown", GetCorrelationID(ctx))

	ctx = NewBackgroundContext(context.Background(), "fixed")
	assert.Equal(t, "fixed", GetCorrelationID(ctx))
}

func TestCapability(t *testing.T) {
	var got string
	h := Capability("tool", func(w http.ResponseWriter, r *http.Request) {
		got = GetCapability(r.Context())
	})
	h(httptest.NewRecorder(), httptest.NewRequest("POST", "/tool/vectorizer", nil))
	assert.Equal(t, "tool", got)
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(func(w http.ResponseWriter, r *http.Request) { called = true })

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodOptions, "/prompt/doc_chat", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestTimeout_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	h := Timeout(time.Second, func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	})
	h(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.True(t, hasDeadline)

	h = Timeout(0, func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	})
	h(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.False(t, hasDeadline)
}
