package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

const (
	mcpProtocolVersion = "2024-11-05"

	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// isNotification reports whether the request carries no id.
func (r *jsonrpcRequest) isNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

func rpcResult(id json.RawMessage, result any) *jsonrpcResponse {
	return &jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func rpcError(id json.RawMessage, code int, message string) *jsonrpcResponse {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &jsonrpcResponse{JSONRPC: "2.0", ID: id, Error: &jsonrpcError{Code: code, Message: message}}
}

// sseSession is one open SSE stream. Responses to POSTs against the session
// are duplicated onto the stream as message events.
type sseSession struct {
	customerID uuid.UUID
	messages   chan []byte
	done       chan struct{}
	closeOnce  sync.Once
}

func (s *sseSession) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

type MCPHandlers struct {
	runner *toolRunner

	mu       sync.Mutex
	sessions map[string]*sseSession
}

func NewMCPHandlers(documents services.DocumentService, search services.SearchService, vectors services.VectorStore) *MCPHandlers {
	return &MCPHandlers{
		runner:   newToolRunner(documents, search, vectors),
		sessions: make(map[string]*sseSession),
	}
}

// HandleHTTP is the streamable-HTTP transport: a single message or a batch
// is POSTed and answered inline. Pure notifications get a 202.
func (h *MCPHandlers) HandleHTTP(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 4<<20))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusOK, rpcError(nil, codeParseError, "empty or unreadable body"))
		return
	}

	responses, isBatch, ok := h.dispatchPayload(c, customer, body)
	if !ok {
		return
	}

	if len(responses) == 0 {
		c.Status(http.StatusAccepted)
		return
	}
	if isBatch {
		c.JSON(http.StatusOK, responses)
		return
	}
	c.JSON(http.StatusOK, responses[0])
}

// dispatchPayload parses a single-or-batch payload and runs every request in
// it. The bool result is false when a parse error was already written.
func (h *MCPHandlers) dispatchPayload(c *gin.Context, customer *models.Customer, body []byte) ([]*jsonrpcResponse, bool, bool) {
	trimmed := firstNonSpace(body)

	if trimmed == '[' {
		var batch []jsonrpcRequest
		if err := json.Unmarshal(body, &batch); err != nil {
			c.JSON(http.StatusOK, rpcError(nil, codeParseError, "malformed JSON"))
			return nil, false, false
		}
		if len(batch) == 0 {
			c.JSON(http.StatusOK, rpcError(nil, codeInvalidRequest, "empty batch"))
			return nil, false, false
		}
		var responses []*jsonrpcResponse
		for i := range batch {
			if resp := h.dispatch(c, customer, &batch[i]); resp != nil {
				responses = append(responses, resp)
			}
		}
		return responses, true, true
	}

	var req jsonrpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusOK, rpcError(nil, codeParseError, "malformed JSON"))
		return nil, false, false
	}
	if resp := h.dispatch(c, customer, &req); resp != nil {
		return []*jsonrpcResponse{resp}, false, true
	}
	return nil, false, true
}

func firstNonSpace(body []byte) byte {
	for _, b := range body {
		if b != ' ' && b != '\t' && b != '\n' && b != '\r' {
			return b
		}
	}
	return 0
}

// dispatch runs one JSON-RPC request. Notifications return nil.
func (h *MCPHandlers) dispatch(c *gin.Context, customer *models.Customer, req *jsonrpcRequest) *jsonrpcResponse {
	if req.JSONRPC != "2.0" || req.Method == "" {
		if req.isNotification() {
			return nil
		}
		return rpcError(req.ID, codeInvalidRequest, "invalid request")
	}

	switch req.Method {
	case "initialize":
		result := map[string]any{
			"protocolVersion": mcpProtocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			"serverInfo": map[string]any{
				"name":    "corpusvault",
				"version": "1.0.0",
			},
		}
		if req.isNotification() {
			return nil
		}
		return rpcResult(req.ID, result)

	case "ping":
		if req.isNotification() {
			return nil
		}
		return rpcResult(req.ID, map[string]any{})

	case "tools/list":
		if req.isNotification() {
			return nil
		}
		return rpcResult(req.ID, map[string]any{"tools": toolCatalog()})

	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				if req.isNotification() {
					return nil
				}
				return rpcError(req.ID, codeInvalidParams, "malformed params")
			}
		}
		if params.Name == "" {
			if req.isNotification() {
				return nil
			}
			return rpcError(req.ID, codeInvalidParams, "tool name is required")
		}

		result, err := h.runner.Call(c.Request.Context(), customer, params.Name, params.Arguments)
		if req.isNotification() {
			return nil
		}
		if err != nil {
			var tErr *toolError
			if errors.As(err, &tErr) {
				return rpcError(req.ID, tErr.Code, tErr.Message)
			}
			return rpcError(req.ID, codeInternalError, "internal error")
		}
		return rpcResult(req.ID, result)

	case "notifications/initialized", "notifications/cancelled":
		return nil

	default:
		if req.isNotification() {
			return nil
		}
		return rpcError(req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// HandleSSE opens an SSE stream: the first frame is an endpoint event naming
// the POST target for this session; responses to those POSTs are then
// duplicated as message events until the client disconnects.
func (h *MCPHandlers) HandleSSE(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	sessionID := uuid.New().String()
	session := &sseSession{
		customerID: customer.ID,
		messages:   make(chan []byte, 16),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[sessionID] = session
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.sessions, sessionID)
		h.mu.Unlock()
		session.close()
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	endpoint := fmt.Sprintf("/api/mcp/messages?session_id=%s", sessionID)
	fmt.Fprintf(c.Writer, "event: endpoint\ndata: %s\n\n", endpoint)
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-session.done:
			return
		case msg := <-session.messages:
			fmt.Fprintf(c.Writer, "event: message\ndata: %s\n\n", msg)
			c.Writer.Flush()
		}
	}
}

// HandleSSEMessage receives JSON-RPC POSTs for an open SSE session. The
// response goes back inline and is mirrored onto the stream.
func (h *MCPHandlers) HandleSSEMessage(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	sessionID := c.Query("session_id")
	h.mu.Lock()
	session, exists := h.sessions[sessionID]
	h.mu.Unlock()
	if !exists {
		respondError(c, models.NewNotFoundError("Unknown session"))
		return
	}
	if session.customerID != customer.ID {
		respondError(c, models.NewForbiddenError("Session belongs to another tenant"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 4<<20))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusOK, rpcError(nil, codeParseError, "empty or unreadable body"))
		return
	}

	responses, isBatch, ok := h.dispatchPayload(c, customer, body)
	if !ok {
		return
	}

	if len(responses) == 0 {
		c.Status(http.StatusAccepted)
		return
	}

	var payload any = responses[0]
	if isBatch {
		payload = responses
	}

	if encoded, err := json.Marshal(payload); err == nil {
		select {
		case session.messages <- encoded:
		case <-session.done:
		default:
			// Slow consumer; the inline response still carries the result.
		}
	}

	c.JSON(http.StatusOK, payload)
}
