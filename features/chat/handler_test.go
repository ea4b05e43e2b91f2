package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"incredoc/internal/apperr"
	"incredoc/internal/retrieval"
)

type MockAnswerer struct{ mock.Mock }

func (m *MockAnswerer) Answer(ctx context.Context, question, scope string) (*retrieval.Answer, error) {
	args := m.Called(ctx, question, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.Answer), args.Error(1)
}

func TestHandler_Ask(t *testing.T) {
	svc := new(MockAnswerer)
	svc.On("Answer", mock.Anything, "What?", "a.pdf").Return(&retrieval.Answer{Answer: "That.", Sources: []string{"a.pdf"}}, nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/prompt/doc_chat", strings.NewReader(`{"question":"What?","filename":"a.pdf"}`))
	NewHandler(svc).Ask(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"answer":"That.","sources":["a.pdf"]}`, w.Body.String())
	svc.AssertExpectations(t)
}

func TestHandler_Ask_BadBodies(t *testing.T) {
	for name, body := range map[string]string{
		"empty":    "",
		"not json": "question=hi",
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/prompt/doc_chat", strings.NewReader(body))
			NewHandler(new(MockAnswerer)).Ask(w, r)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "validation_error", resp["kind"])
		})
	}
}

func TestHandler_Ask_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"validation", apperr.Validation("Question is required."), http.StatusBadRequest, "validation_error"},
		{"backend", apperr.Backend(apperr.StageRetrieve, "", assert.AnError), http.StatusInternalServerError, "backend_error"},
		{"timeout", apperr.Backend(apperr.StageSynthesize, "", context.DeadlineExceeded), http.StatusInternalServerError, "backend_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAnswerer)
			svc.On("Answer", mock.Anything, "q", "").Return(nil, tt.err)

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/prompt/doc_chat", strings.NewReader(`{"question":"q"}`))
			NewHandler(svc).Ask(w, r)

			assert.Equal(t, tt.status, w.Code)
			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.kind, resp["kind"])
		})
	}
}
