package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotrecall/pkg/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.MemStore) {
	t.Helper()
	store := memory.NewMemStore()
	completer := memory.CompleterFunc(func(ctx context.Context, systemPrompt, userPrompt string, opts memory.CompleteOptions) (string, error) {
		if systemPrompt != "" {
			return "- the user is planning a trip", nil
		}
		return "Happy to help.", nil
	})
	svc, err := memory.NewService(memory.Config{}, store, completer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ts := httptest.NewServer(New(svc, Options{AllowedOrigins: []string{"https://app.example"}}).Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func do(t *testing.T, ts *httptest.Server, method, path, user string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := do(t, ts, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestChat_CreatesSessionAndReturnsDebug(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/chat", "alice", map[string]string{"message": "Do you remember my trip?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Happy to help.", body["response"])
	sessionID, _ := body["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	debug, ok := body["debug"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), debug["stmCount"])
	assert.Equal(t, true, debug["recallTriggered"])

	resp, body = do(t, ts, http.MethodPost, "/chat", "alice", map[string]string{"sessionId": sessionID, "message": "Next week"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sessionID, body["sessionId"])
	assert.Equal(t, float64(4), body["debug"].(map[string]interface{})["stmCount"])
}

func TestChat_Validation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := do(t, ts, http.MethodPost, "/chat", "", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := do(t, ts, http.MethodPost, "/chat", "alice", map[string]string{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "message is required", body["error"])

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/chat", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	req.Header.Set(UserHeader, "alice")
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestChat_OwnershipAndStoreErrors(t *testing.T) {
	ts, store := newTestServer(t)

	_, body := do(t, ts, http.MethodPost, "/chat", "alice", map[string]string{"sessionId": "s-1", "message": "mine"})
	require.Equal(t, "s-1", body["sessionId"])

	resp, _ := do(t, ts, http.MethodPost, "/chat", "mallory", map[string]string{"sessionId": "s-1", "message": "let me in"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	store.FailOn("GetOrCreateSession", errors.New("disk gone"))
	resp, body = do(t, ts, http.MethodPost, "/chat", "alice", map[string]string{"sessionId": "s-1", "message": "again"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "Service Unavailable", body["error"])
}

func TestSessions_ListAndDetail(t *testing.T) {
	ts, _ := newTestServer(t)

	do(t, ts, http.MethodPost, "/chat", "alice", map[string]string{"sessionId": "s-a", "message": "Plan a trip to Kyoto"})
	do(t, ts, http.MethodPost, "/chat", "bob", map[string]string{"sessionId": "s-b", "message": "Bob's session"})

	resp, body := do(t, ts, http.MethodGet, "/sessions", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions, ok := body["sessions"].([]interface{})
	require.True(t, ok)
	require.Len(t, sessions, 1)
	first := sessions[0].(map[string]interface{})
	assert.Equal(t, "s-a", first["sessionId"])
	assert.Equal(t, "Plan a trip to Kyoto", first["title"])

	resp, body = do(t, ts, http.MethodGet, "/sessions/s-a", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stm, ok := body["stm"].([]interface{})
	require.True(t, ok)
	assert.Len(t, stm, 2)

	resp, _ = do(t, ts, http.MethodGet, "/sessions/s-b", "alice", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = do(t, ts, http.MethodGet, "/sessions/missing", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", UserHeader)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(memory.ErrInvalidTurn))
	assert.Equal(t, http.StatusNotFound, statusFor(memory.ErrSessionNotFound))
	assert.Equal(t, http.StatusForbidden, statusFor(memory.ErrSessionOwnership))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(memory.ErrStoreUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("other")))
}
