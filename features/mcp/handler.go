package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"incredoc/features/intake"
	"incredoc/features/vectorizer"
	"incredoc/internal/apperr"
	"incredoc/internal/middleware"
	"incredoc/internal/retrieval"
)

type Intaker interface {
	Scan(ctx context.Context) (*intake.Result, error)
}

type Vectorizer interface {
	Vectorize(ctx context.Context) (*vectorizer.Result, error)
}

type Answerer interface {
	Answer(ctx context.Context, question, scope string) (*retrieval.Answer, error)
}

type DocumentLister func(ctx context.Context) ([]intake.DocumentView, error)

// Timeouts bound each tool call. Zero means no extra deadline.
type Timeouts struct {
	Intake    time.Duration
	Vectorize time.Duration
	Query     time.Duration
}

type Deps struct {
	Intake     Intaker
	Vectorizer Vectorizer
	Chat       Answerer
	Documents  DocumentLister
	Timeouts   Timeouts
}

type Handler struct {
	deps         Deps
	sessions     map[string]chan string // sessionId -> message channel (serialized JSON-RPC response)
	sessionsLock sync.RWMutex
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		deps:     d,
		sessions: make(map[string]chan string),
	}
}

// JSON-RPC Request types
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ChatArgs struct {
	Question string `json:"question"`
	Filename string `json:"filename,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// JSON-RPC Response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

const (
	ToolDocIntake     = "incredoc_doc_intake"
	ToolVectorizer    = "incredoc_vectorizer"
	ToolDocChat       = "incredoc_doc_chat"
	ToolListDocuments = "incredoc_list_documents"
)

var emptySchema = map[string]interface{}{
	"type":       "object",
	"properties": map[string]interface{}{},
}

var tools = []Tool{
	{
		Name: ToolDocIntake,
		Description: `Registers new PDF files found in the source documents directory. Files already known are skipped. Run this before incredoc_vectorizer when documents were added.

USAGE EXAMPLE:
incredoc_doc_intake()`,
		InputSchema: emptySchema,
	},
	{
		Name: ToolVectorizer,
		Description: `Extracts, chunks, embeds and indexes every registered document that is not yet vectorized. The run is all or nothing: if one document fails, no document is marked as vectorized.

USAGE EXAMPLE:
incredoc_vectorizer()`,
		InputSchema: emptySchema,
	},
	{
		Name: ToolDocChat,
		Description: `Answers a question from the indexed documents and lists the source files used. Pass filename to restrict the search to one document, or omit it (or pass "All Documents") to search everything.

USAGE EXAMPLES:
- incredoc_doc_chat(question="What is the notice period?")
- incredoc_doc_chat(question="Who signed it?", filename="contract.pdf")`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"question": map[string]string{
					"type":        "string",
					"description": "The question to answer",
				},
				"filename": map[string]string{
					"type":        "string",
					"description": "Optional document to restrict the search to",
				},
			},
			"required": []string{"question"},
		},
	},
	{
		Name: ToolListDocuments,
		Description: `Lists registered documents with their vectorization status and chunk counts. Use it to find valid filename values for incredoc_doc_chat.

USAGE EXAMPLE:
incredoc_list_documents()`,
		InputSchema: emptySchema,
	},
}

// processRequest processes the JSON-RPC request and returns a response.
// Returns nil if no response should be sent (e.g. for notifications).
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "incredoc-mcp",
					"version": "1.0.0",
				},
			},
		}

	case "notifications/initialized":
		// Notifications must not generate a response
		return nil

	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}

	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			return makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		}
		return h.callTool(ctx, req.ID, params)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	return makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
}

func (h *Handler) callTool(ctx context.Context, id interface{}, params CallParams) *JSONRPCResponse {
	var (
		text string
		err  error
	)

	switch params.Name {
	case ToolDocIntake:
		text, err = h.runIntake(ctx)
	case ToolVectorizer:
		text, err = h.runVectorizer(ctx)
	case ToolDocChat:
		var args ChatArgs
		if len(params.Arguments) > 0 {
			if uErr := json.Unmarshal(params.Arguments, &args); uErr != nil {
				slog.WarnContext(ctx, "invalid chat arguments", "error", uErr)
				return makeErrorResponse(id, ErrInvalidParams, "Invalid chat arguments")
			}
		}
		if strings.TrimSpace(args.Question) == "" {
			return makeErrorResponse(id, ErrInvalidParams, "question is required")
		}
		text, err = h.runChat(ctx, args)
	case ToolListDocuments:
		text, err = h.runListDocuments(ctx)
	default:
		slog.WarnContext(ctx, "tool not found", "tool", params.Name)
		return makeErrorResponse(id, ErrMethodNotFound, "Method not found: "+params.Name)
	}

	if err != nil {
		slog.ErrorContext(ctx, "tool execution failed", "tool", params.Name, "error", err)
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      id,
			Result: ToolResult{
				Content: []ToolContent{{Type: "text", Text: fmt.Sprintf("Error (%s): %s", apperr.KindOf(err), err.Error())}},
				IsError: true,
			},
		}
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", params.Name)
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: text}}},
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func unavailable(tool string) error {
	return apperr.Configuration(tool + " is not configured on this server.")
}

func (h *Handler) runIntake(ctx context.Context) (string, error) {
	if h.deps.Intake == nil {
		return "", unavailable(ToolDocIntake)
	}
	ctx, cancel := withTimeout(ctx, h.deps.Timeouts.Intake)
	defer cancel()

	res, err := h.deps.Intake.Scan(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Intake scan complete.\nProcessed (%d): %s\nSkipped (%d): %s",
		len(res.Processed), joinOrNone(res.Processed), len(res.Skipped), joinOrNone(res.Skipped)), nil
}

func (h *Handler) runVectorizer(ctx context.Context) (string, error) {
	if h.deps.Vectorizer == nil {
		return "", unavailable(ToolVectorizer)
	}
	ctx, cancel := withTimeout(ctx, h.deps.Timeouts.Vectorize)
	defer cancel()

	res, err := h.deps.Vectorizer.Vectorize(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Vectorization complete.\nVectorized (%d): %s", res.TotalProcessed, joinOrNone(res.Vectorized)), nil
}

func (h *Handler) runChat(ctx context.Context, args ChatArgs) (string, error) {
	if h.deps.Chat == nil {
		return "", unavailable(ToolDocChat)
	}
	ctx, cancel := withTimeout(ctx, h.deps.Timeouts.Query)
	defer cancel()

	ans, err := h.deps.Chat.Answer(ctx, args.Question, args.Filename)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(ans.Answer)
	if len(ans.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for _, s := range ans.Sources {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *Handler) runListDocuments(ctx context.Context) (string, error) {
	if h.deps.Documents == nil {
		return "", unavailable(ToolListDocuments)
	}
	docs, err := h.deps.Documents(ctx)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "No documents registered. Run incredoc_doc_intake first.", nil
	}
	jsonBytes, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

func makeErrorResponse(id interface{}, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "mcp request received", "method", r.Method, "path", r.URL.Path, "correlationId", middleware.GetCorrelationID(ctx))

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.processRequest(ctx, req)
	if resp != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	} else {
		// Notification, just return OK
		w.WriteHeader(http.StatusOK)
	}
}

// HandleSSE establishes the SSE connection and manages the session
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeHttpError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported", middleware.GetCorrelationID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		close(msgChan)
		h.sessionsLock.Unlock()
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)

	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	fmt.Fprintf(w, "event: id\ndata: %s\n\n", html.EscapeString(sessionID))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			// Keep-alive comment
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts POST messages associated with a session
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	slog.InfoContext(r.Context(), "mcp message received", "method", r.Method, "path", r.URL.Path, "correlationId", correlationID)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		slog.Warn("missing sessionId in message request", "correlationId", correlationID)
		h.writeHttpError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()

	if !exists {
		slog.Warn("session not found", "session_id", sessionID, "correlationId", correlationID)
		h.writeHttpError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("invalid json in message request", "error", err, "correlationId", correlationID)
		h.writeHttpError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// Keep request values but outlive the POST.
	bgCtx := context.WithoutCancel(r.Context())

	go func() {
		resp := h.processRequest(bgCtx, req)
		if resp == nil {
			return
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.Error("failed to marshal response", "error", err, "correlationId", correlationID)
			return
		}
		h.deliver(sessionID, string(respBytes), correlationID)
	}()
}

// deliver sends msg to a live session. The session may have ended while the
// request was processed.
func (h *Handler) deliver(sessionID, msg, correlationID string) {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.Warn("session closed before response", "session_id", sessionID, "correlationId", correlationID)
		return
	}
	select {
	case msgChan <- msg:
	default:
		slog.Warn("session channel full, dropping message", "session_id", sessionID, "correlationId", correlationID)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	// JSON-RPC over HTTP reports errors in the body with 200 OK.
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(makeErrorResponse(id, code, message))
}

func (h *Handler) writeHttpError(w http.ResponseWriter, status int, code string, message string, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"status": "error",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	json.NewEncoder(w).Encode(resp)
}
