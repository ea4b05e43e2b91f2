package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incredoc/internal/middleware"
)

func TestRouter_ForwardsByFirstSegment(t *testing.T) {
	var gotPath, gotMethod, gotBody, gotCookie, gotCustom string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
		gotCustom = r.Header.Get("X-Custom")

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "tool")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer upstream.Close()

	rt, err := New(map[string]string{"tool": upstream.URL}, time.Second)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tool/vectorizer?async=true", strings.NewReader(`{"x":1}`))
	req.Header.Set("X-Custom", "yes")
	req.AddCookie(&http.Cookie{Name: "session", Value: "abc"})
	w := httptest.NewRecorder()

	rt.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "tool", w.Header().Get("X-Upstream"))
	assert.Equal(t, "/tool/vectorizer?async=true", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"x":1}`, gotBody)
	assert.Equal(t, "abc", gotCookie)
	assert.Equal(t, "yes", gotCustom)
}

func TestRouter_StripsHopByHopResponseHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2")
		w.Header().Set("X-Kept", "1")
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	rt, err := New(map[string]string{"resource": upstream.URL}, time.Second)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/resource/documents", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "1", w.Header().Get("X-Kept"))
	for _, h := range strippedResponseHeaders {
		assert.Empty(t, w.Header().Get(h), h)
	}
}

func TestRouter_UnknownService(t *testing.T) {
	rt, err := New(map[string]string{"prompt": "http://localhost:1"}, time.Second)
	require.NoError(t, err)

	for _, path := range []string{"/admin/x", "/", "/promptx/doc_chat"} {
		w := httptest.NewRecorder()
		rt.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Contains(t, w.Body.String(), "Service not found")
	}
}

func TestRouter_UnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	rt, err := New(map[string]string{"prompt": addr}, time.Second)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/prompt/doc_chat", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "Downstream service connection error")
}

func TestRouter_UpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer upstream.Close()
	defer close(release)

	rt, err := New(map[string]string{"tool": upstream.URL}, 50*time.Millisecond)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	rt.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tool/vectorizer", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestNew_InvalidUpstream(t *testing.T) {
	_, err := New(map[string]string{"tool": "not a url"}, time.Second)
	assert.Error(t, err)
}

func TestRouter_PropagatesCorrelationID(t *testing.T) {
	var got string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(middleware.CorrelationHeader)
	}))
	defer upstream.Close()

	rt, err := New(map[string]string{"resource": upstream.URL}, time.Second)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/resource/incredoc.resource.doc_intake", nil)
	req.Header.Set(middleware.CorrelationHeader, "corr-42")
	middleware.CorrelationID(rt).ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "corr-42", got)
}
