package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incredoc/internal/middleware"
)

func TestHandler_HandleMessage_MissingSessionID(t *testing.T) {
	handler := NewHandler(Deps{})

	req := httptest.NewRequest(http.MethodPost, "/mcp/messages", nil)
	rec := httptest.NewRecorder()
	handler.HandleMessage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp["status"])
	errMap, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "Expected error object in response")
	assert.Equal(t, "VALIDATION_ERROR", errMap["code"])
}

func TestHandler_HandleMessage_SessionNotFound(t *testing.T) {
	handler := NewHandler(Deps{})

	req := httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId=unknown-session", nil)
	rec := httptest.NewRecorder()
	handler.HandleMessage(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_HandleMessage_InvalidJSON(t *testing.T) {
	handler := NewHandler(Deps{})
	sessionID := "test-session"
	handler.sessions[sessionID] = make(chan string, 1)

	req := httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId="+sessionID, bytes.NewBufferString("{invalid-json"))
	req = req.WithContext(middleware.WithCorrelationID(req.Context(), "corr-42"))
	rec := httptest.NewRecorder()
	handler.HandleMessage(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "corr-42", resp["correlationId"])
	assert.Equal(t, "INVALID_JSON", resp["error"].(map[string]interface{})["code"])
}

func TestHandler_HandleMessage_DeliversToSession(t *testing.T) {
	handler := NewHandler(Deps{})
	sessionID := "test-session"
	ch := make(chan string, 1)
	handler.sessions[sessionID] = ch

	body := `{"jsonrpc":"2.0","method":"tools/list","id":7}`
	req := httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId="+sessionID, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.HandleMessage(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case msg := <-ch:
		assert.Contains(t, msg, `"id":7`)
		assert.Contains(t, msg, ToolDocChat)
	case <-time.After(2 * time.Second):
		t.Fatal("no response delivered to session")
	}
}

func TestHandler_Deliver_ClosedSession(t *testing.T) {
	handler := NewHandler(Deps{})
	// Must not panic on a session that is gone.
	handler.deliver("gone", "{}", "")
}

func TestHandler_SSE_RoundTrip(t *testing.T) {
	handler := NewHandler(Deps{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mcp/sse", handler.HandleSSE)
	mux.HandleFunc("POST /mcp/messages", handler.HandleMessage)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/mcp/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan [2]string, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		var event string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				events <- [2]string{event, strings.TrimPrefix(line, "data: ")}
			}
		}
	}()

	next := func(want string) string {
		for {
			select {
			case ev := <-events:
				if ev[0] == want {
					return ev[1]
				}
			case <-ctx.Done():
				t.Fatalf("timeout waiting for %s event", want)
				return ""
			}
		}
	}

	endpoint := next("endpoint")
	assert.Contains(t, endpoint, "/mcp/messages?sessionId=")
	sessionID := next("id")
	require.NotEmpty(t, sessionID)

	post, err := http.Post(ts.URL+"/mcp/messages?sessionId="+sessionID, "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"initialize","id":1}`))
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusAccepted, post.StatusCode)

	msg := next("message")
	var rpc JSONRPCResponse
	require.NoError(t, json.Unmarshal([]byte(msg), &rpc))
	assert.EqualValues(t, 1, rpc.ID)
	assert.Contains(t, msg, "incredoc-mcp")
}

func TestHandler_ServeHTTP(t *testing.T) {
	handler := NewHandler(Deps{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"initialize","id":"a"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"protocolVersion":"2024-11-05"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`nope`)))
	assert.Contains(t, rec.Body.String(), `-32700`)
}
