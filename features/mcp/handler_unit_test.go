package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"incredoc/features/intake"
	"incredoc/features/mcp"
	"incredoc/features/vectorizer"
	"incredoc/internal/apperr"
	"incredoc/internal/manifest"
	"incredoc/internal/retrieval"
	"incredoc/internal/testutils"
)

type MockAnswerer struct {
	mock.Mock
}

func (m *MockAnswerer) Answer(ctx context.Context, question, scope string) (*retrieval.Answer, error) {
	args := m.Called(ctx, question, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.Answer), args.Error(1)
}

type stack struct {
	handler     *mcp.Handler
	dir         string
	synthesizer *testutils.Synthesizer
}

// newStack wires the tool surface to real services over in-memory backends.
func newStack(t *testing.T, texts map[string]string) *stack {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "source_docs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name := range texts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF"), 0o600))
	}

	store := manifest.NewStore(manifest.NewFileBackend(filepath.Join(root, "manifest.json")))
	extractor := &testutils.Extractor{Texts: texts, Errs: map[string]error{}}
	embedder := &testutils.Embedder{}
	index := testutils.NewIndex()
	syn := &testutils.Synthesizer{Reply: "The answer."}

	h := mcp.NewHandler(mcp.Deps{
		Intake:     intake.NewService(store, dir, nil, nil),
		Vectorizer: vectorizer.NewService(store, dir, extractor, embedder, index, nil),
		Chat:       retrieval.NewService(embedder, index, syn, nil, nil, nil),
		Documents: func(ctx context.Context) ([]intake.DocumentView, error) {
			return intake.ListDocuments(ctx, store)
		},
	})
	return &stack{handler: h, dir: dir, synthesizer: syn}
}

func call(t *testing.T, h *mcp.Handler, name string, args interface{}) (*mcp.JSONRPCResponse, mcp.ToolResult) {
	t.Helper()
	params := map[string]interface{}{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	raw, err := json.Marshal(params)
	require.NoError(t, err)

	resp := h.ProcessRequest(context.Background(), mcp.JSONRPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: raw, ID: 1})
	require.NotNil(t, resp)
	res, _ := resp.Result.(mcp.ToolResult)
	return resp, res
}

func TestProcessRequest_Initialize(t *testing.T) {
	handler := mcp.NewHandler(mcp.Deps{})

	resp := handler.ProcessRequest(context.Background(), mcp.JSONRPCRequest{JSONRPC: "2.0", Method: "initialize", ID: 1})

	require.NotNil(t, resp)
	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.Equal(t, 1, resp.ID)

	result := resp.Result.(map[string]interface{})
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	assert.NotNil(t, result["capabilities"])
	assert.NotNil(t, result["serverInfo"])
}

func TestProcessRequest_NotificationsInitialized(t *testing.T) {
	handler := mcp.NewHandler(mcp.Deps{})
	resp := handler.ProcessRequest(context.Background(), mcp.JSONRPCRequest{JSONRPC: "2.0", Method: "notifications/initialized"})
	assert.Nil(t, resp)
}

func TestProcessRequest_ToolsList(t *testing.T) {
	handler := mcp.NewHandler(mcp.Deps{})
	resp := handler.ProcessRequest(context.Background(), mcp.JSONRPCRequest{JSONRPC: "2.0", Method: "tools/list", ID: 2})

	require.NotNil(t, resp)
	result := resp.Result.(mcp.ListToolsResult)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
		assert.NotEmpty(t, tool.Description)
		assert.NotNil(t, tool.InputSchema)
	}
	assert.Equal(t, []string{mcp.ToolDocIntake, mcp.ToolVectorizer, mcp.ToolDocChat, mcp.ToolListDocuments}, names)
}

func TestProcessRequest_FullLifecycle(t *testing.T) {
	s := newStack(t, map[string]string{
		"apples.pdf": "Apples are red and grow on trees.",
		"zebras.pdf": "Zebras have black and white stripes.",
	})

	_, res := call(t, s.handler, mcp.ToolDocIntake, nil)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content[0].Text, "Processed (2): apples.pdf, zebras.pdf")

	_, res = call(t, s.handler, mcp.ToolDocIntake, nil)
	assert.Contains(t, res.Content[0].Text, "Processed (0): none")
	assert.Contains(t, res.Content[0].Text, "Skipped (2)")

	_, res = call(t, s.handler, mcp.ToolVectorizer, nil)
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content[0].Text, "Vectorized (2)")

	_, res = call(t, s.handler, mcp.ToolListDocuments, nil)
	var docs []intake.DocumentView
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &docs))
	require.Len(t, docs, 2)
	assert.True(t, docs[0].Vectorized)
	assert.Equal(t, 1, docs[0].ChunkCount)

	_, res = call(t, s.handler, mcp.ToolDocChat, mcp.ChatArgs{Question: "stripes", Filename: "zebras.pdf"})
	require.False(t, res.IsError, res.Content)
	assert.Contains(t, res.Content[0].Text, "The answer.")
	assert.Contains(t, res.Content[0].Text, "- zebras.pdf")
	assert.NotContains(t, res.Content[0].Text, "apples.pdf")
	assert.Contains(t, s.synthesizer.LastPassages, "Zebras")
}

func TestProcessRequest_VectorizeBeforeIntake(t *testing.T) {
	s := newStack(t, map[string]string{"a.pdf": "alpha"})

	_, res := call(t, s.handler, mcp.ToolVectorizer, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, string(apperr.KindConfiguration))
	assert.Contains(t, res.Content[0].Text, "Run intake first")
}

func TestProcessRequest_ListDocuments_Empty(t *testing.T) {
	s := newStack(t, nil)
	_, res := call(t, s.handler, mcp.ToolListDocuments, nil)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "No documents registered")
}

func TestProcessRequest_DocChat(t *testing.T) {
	tests := []struct {
		name      string
		args      interface{}
		setup     func(*MockAnswerer)
		wantRPC   int
		wantError bool
		wantText  string
	}{
		{
			name:    "missing question",
			args:    map[string]string{"filename": "a.pdf"},
			wantRPC: mcp.ErrInvalidParams,
		},
		{
			name:    "invalid arguments",
			args:    "not-an-object",
			wantRPC: mcp.ErrInvalidParams,
		},
		{
			name: "all documents scope",
			args: mcp.ChatArgs{Question: "q", Filename: retrieval.AllDocuments},
			setup: func(m *MockAnswerer) {
				m.On("Answer", mock.Anything, "q", retrieval.AllDocuments).Return(&retrieval.Answer{Answer: "A", Sources: []string{}}, nil)
			},
			wantText: "A",
		},
		{
			name: "backend failure",
			args: mcp.ChatArgs{Question: "q"},
			setup: func(m *MockAnswerer) {
				m.On("Answer", mock.Anything, "q", "").Return(nil, apperr.Backend(apperr.StageRetrieve, "", errors.New("index down")))
			},
			wantError: true,
			wantText:  "backend_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockAnswerer)
			if tt.setup != nil {
				tt.setup(m)
			}
			h := mcp.NewHandler(mcp.Deps{Chat: m})

			resp, res := call(t, h, mcp.ToolDocChat, tt.args)
			if tt.wantRPC != 0 {
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.wantRPC, resp.Error.(map[string]interface{})["code"])
				m.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything, mock.Anything)
				return
			}
			assert.Equal(t, tt.wantError, res.IsError)
			assert.Contains(t, res.Content[0].Text, tt.wantText)
			m.AssertExpectations(t)
		})
	}
}

func TestProcessRequest_UnconfiguredTool(t *testing.T) {
	h := mcp.NewHandler(mcp.Deps{})
	_, res := call(t, h, mcp.ToolVectorizer, nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "not configured")
}

func TestProcessRequest_UnknownTool(t *testing.T) {
	h := mcp.NewHandler(mcp.Deps{})
	resp, _ := call(t, h, "incredoc_delete", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.ErrMethodNotFound, resp.Error.(map[string]interface{})["code"])
}

func TestProcessRequest_UnknownMethod(t *testing.T) {
	h := mcp.NewHandler(mcp.Deps{})
	resp := h.ProcessRequest(context.Background(), mcp.JSONRPCRequest{JSONRPC: "2.0", Method: "resources/list", ID: 3})
	require.NotNil(t, resp)
	assert.Equal(t, mcp.ErrMethodNotFound, resp.Error.(map[string]interface{})["code"])
}

func TestProcessRequest_InvalidParams(t *testing.T) {
	h := mcp.NewHandler(mcp.Deps{})
	resp := h.ProcessRequest(context.Background(), mcp.JSONRPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: json.RawMessage(`[1,2]`), ID: 4})
	assert.Equal(t, mcp.ErrInvalidParams, resp.Error.(map[string]interface{})["code"])
}
