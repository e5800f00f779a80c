package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusvault/corpusvault/models"
)

func setupMCPRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := NewMCPHandlers(nil, nil, nil)
	customer := &models.Customer{
		ID:     uuid.New(),
		Email:  "tenant@example.com",
		Status: models.CustomerStatusActive,
	}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(customerContextKey, customer)
		c.Next()
	})
	router.POST("/api/mcp", h.HandleHTTP)
	return router
}

func postMCP(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/mcp", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeRPC(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestMCP_Initialize(t *testing.T) {
	router := setupMCPRouter()

	w := postMCP(t, router, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeRPC(t, w)
	result := resp["result"].(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])

	capabilities := result["capabilities"].(map[string]any)
	tools := capabilities["tools"].(map[string]any)
	assert.Equal(t, false, tools["listChanged"])
}

func TestMCP_Ping(t *testing.T) {
	router := setupMCPRouter()

	w := postMCP(t, router, `{"jsonrpc":"2.0","id":"p1","method":"ping"}`)
	resp := decodeRPC(t, w)

	assert.Equal(t, "p1", resp["id"])
	assert.NotNil(t, resp["result"])
	assert.Nil(t, resp["error"])
}

func TestMCP_ToolsList(t *testing.T) {
	router := setupMCPRouter()

	w := postMCP(t, router, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	resp := decodeRPC(t, w)

	result := resp["result"].(map[string]any)
	tools := result["tools"].([]any)
	require.Len(t, tools, 6)

	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool.(map[string]any)["name"].(string)] = true
	}
	for _, expected := range []string{
		"search_documents", "list_documents", "get_document",
		"get_stats", "get_document_overview", "compare_documents",
	} {
		assert.True(t, names[expected], expected)
	}
}

func TestMCP_UnknownMethod(t *testing.T) {
	router := setupMCPRouter()

	w := postMCP(t, router, `{"jsonrpc":"2.0","id":3,"method":"resources/list"}`)
	resp := decodeRPC(t, w)

	rpcErr := resp["error"].(map[string]any)
	assert.Equal(t, float64(-32601), rpcErr["code"])
}

func TestMCP_MissingRequiredParam(t *testing.T) {
	router := setupMCPRouter()

	// search_documents without query.
	w := postMCP(t, router, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"search_documents","arguments":{}}}`)
	resp := decodeRPC(t, w)

	rpcErr := resp["error"].(map[string]any)
	assert.Equal(t, float64(-32602), rpcErr["code"])
}

func TestMCP_UnknownTool(t *testing.T) {
	router := setupMCPRouter()

	w := postMCP(t, router, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"drop_tables"}}`)
	resp := decodeRPC(t, w)

	rpcErr := resp["error"].(map[string]any)
	assert.Equal(t, float64(-32602), rpcErr["code"])
}

func TestMCP_CompareDocuments_IDBounds(t *testing.T) {
	router := setupMCPRouter()

	oneID := `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"compare_documents","arguments":{"query":"q","document_ids":["` + uuid.NewString() + `"]}}}`
	w := postMCP(t, router, oneID)
	resp := decodeRPC(t, w)
	rpcErr := resp["error"].(map[string]any)
	assert.Equal(t, float64(-32602), rpcErr["code"])
}

func TestMCP_SearchArgBounds(t *testing.T) {
	router := setupMCPRouter()

	cases := []string{
		`{"query":"q","limit":51}`,
		`{"query":"q","context_chunks":4}`,
		`{"query":"q","min_score":1.5}`,
		`{"query":"q","output_format":"xml"}`,
		`{"query":"q","document_id":"not-a-uuid"}`,
	}
	for i, args := range cases {
		body := `{"jsonrpc":"2.0","id":` + string(rune('1'+i)) + `,"method":"tools/call","params":{"name":"search_documents","arguments":` + args + `}}`
		w := postMCP(t, router, body)
		resp := decodeRPC(t, w)
		rpcErr, ok := resp["error"].(map[string]any)
		require.True(t, ok, args)
		assert.Equal(t, float64(-32602), rpcErr["code"], args)
	}
}

func TestMCP_NotificationReturns202(t *testing.T) {
	router := setupMCPRouter()

	w := postMCP(t, router, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestMCP_Batch(t *testing.T) {
	router := setupMCPRouter()

	body := `[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":2,"method":"nope"}
	]`
	w := postMCP(t, router, body)
	require.Equal(t, http.StatusOK, w.Code)

	var responses []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &responses))
	// The notification contributes no response entry.
	require.Len(t, responses, 2)
	assert.NotNil(t, responses[0]["result"])
	rpcErr := responses[1]["error"].(map[string]any)
	assert.Equal(t, float64(-32601), rpcErr["code"])
}

func TestMCP_MalformedJSON(t *testing.T) {
	router := setupMCPRouter()

	w := postMCP(t, router, `{"jsonrpc":`)
	resp := decodeRPC(t, w)

	rpcErr := resp["error"].(map[string]any)
	assert.Equal(t, float64(-32700), rpcErr["code"])
}

func TestSampleIndices(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, sampleIndices(3, 5))
	assert.Len(t, sampleIndices(100, 5), 5)

	indices := sampleIndices(100, 5)
	assert.Equal(t, 0, indices[0])
	assert.Equal(t, 99, indices[len(indices)-1])
	for i := 1; i < len(indices); i++ {
		assert.Greater(t, indices[i], indices[i-1])
	}
}
