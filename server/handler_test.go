package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/vultisig-mediator/model"
	"github.com/vultisig/vultisig-mediator/relay"
	"github.com/vultisig/vultisig-mediator/storage"
)

func newTestServer(t *testing.T) (*Server, *relay.Stores) {
	t.Helper()
	logger := log.New("test")
	logger.SetOutput(io.Discard)
	stores := relay.NewStores(storage.NewMemoryBackend(0))
	return NewServer(0, "1K", stores, logger), stores
}

func do(t *testing.T, s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if strings.HasPrefix(body, "[") || strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestPing(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")
}

func TestSessionEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/abc", "").Code)

	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/abc", `["A"]`).Code)
	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/abc", `["B"]`).Code)
	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/abc/", `["A"]`).Code)

	rec := do(t, s, http.MethodGet, "/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"A", "B"}, decode[[]string](t, rec))

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodDelete, "/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/abc", "").Code)
}

func TestSessionBadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/abc", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/abc", `["A", " "]`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/%20", `["A"]`).Code)
	rec := do(t, s, http.MethodGet, "/%20", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "session ID")
}

func TestStartEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/start/abc", "").Code)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/start/abc", `["A","B"]`).Code)
	rec := do(t, s, http.MethodGet, "/start/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"A", "B"}, decode[[]string](t, rec))

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/start/abc", `["A"]`).Code)
	rec = do(t, s, http.MethodGet, "/start/abc", "")
	assert.Equal(t, []string{"A"}, decode[[]string](t, rec))

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/abc", "").Code,
		"started participants live in their own namespace")
}

func TestCompleteEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/complete/abc", "").Code)
	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/complete/abc", `["A"]`).Code)
	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/complete/abc", `["B"]`).Code)
	rec := do(t, s, http.MethodGet, "/complete/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"A", "B"}, decode[[]string](t, rec))
}

func TestKeysignEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/complete/abc/keysign", "", MessageIDHeader, "m1").Code)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/complete/abc/keysign", "sig-1", MessageIDHeader, "m1").Code)
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/complete/abc/keysign", "sig-2", MessageIDHeader, "m1").Code)
	rec := do(t, s, http.MethodGet, "/complete/abc/keysign", "", MessageIDHeader, "m1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sig-2", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/complete/abc/keysign", "", MessageIDHeader, "m2").Code)
}

func TestMessageEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"session_id":"abc","from":"A","to":["B","C"],"body":"cipher","hash":"H","sequence_no":3}`
	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/message/abc", body).Code)

	for _, recipient := range []string{"B", "C"} {
		rec := do(t, s, http.MethodGet, "/message/abc/"+recipient, "")
		require.Equal(t, http.StatusOK, rec.Code)
		messages := decode[[]model.Message](t, rec)
		require.Len(t, messages, 1)
		assert.Equal(t, model.Message{SessionID: "abc", From: "A", To: []string{"B", "C"}, Body: "cipher", Hash: "H", SequenceNo: 3}, messages[0])
	}
	rec := do(t, s, http.MethodGet, "/message/abc/D", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodDelete, "/message/abc/B/H", "").Code)
	assert.Empty(t, decode[[]model.Message](t, do(t, s, http.MethodGet, "/message/abc/B", "")))
	assert.Len(t, decode[[]model.Message](t, do(t, s, http.MethodGet, "/message/abc/C", "")), 1)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodDelete, "/message/abc/C?all=true", "").Code)
	assert.Empty(t, decode[[]model.Message](t, do(t, s, http.MethodGet, "/message/abc/C", "")))
}

func TestMessageRoundTagAndEscapedParticipant(t *testing.T) {
	s, _ := newTestServer(t)
	body := `{"to":["iPhone 15 Pro-1234"],"body":"cipher","hash":"H"}`
	assert.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/message/abc/iPhone%2015-9999", body, MessageIDHeader, "m1").Code)

	rec := do(t, s, http.MethodGet, "/message/abc/iPhone%2015%20Pro-1234", "")
	assert.JSONEq(t, `[]`, rec.Body.String(), "untagged mailbox must stay empty")

	rec = do(t, s, http.MethodGet, "/message/abc/iPhone%2015%20Pro-1234", "", MessageIDHeader, "m1")
	messages := decode[[]model.Message](t, rec)
	require.Len(t, messages, 1)
	assert.Equal(t, "iPhone 15-9999", messages[0].From, "path participant fills a missing sender")

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodDelete, "/message/abc/iPhone%2015%20Pro-1234/H", "", MessageIDHeader, "m1").Code)
	rec = do(t, s, http.MethodGet, "/message/abc/iPhone%2015%20Pro-1234", "", MessageIDHeader, "m1")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMessageBadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/message/abc", `{"to":["B"],"body":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/message/abc", `{"to":[],"hash":"H"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPost, "/message/abc", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/message/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/message/abc/%20", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodDelete, "/message/abc/B/%20", "").Code)
}

func TestPayloadEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := relay.Hash("hello")
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/payload/"+h, "").Code)

	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/payload/"+h, "hello").Code)
	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/payload/"+h, "hello").Code)
	rec := do(t, s, http.MethodGet, "/payload/"+h, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())

	rec = do(t, s, http.MethodPost, "/payload/"+h, "world")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "hash mismatch", rec.Body.String())
	assert.Equal(t, "hello", do(t, s, http.MethodGet, "/payload/"+h, "").Body.String())
}

func TestSetupMessageEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/setup-message/abc", "").Code)
	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/setup-message/abc", "X").Code)
	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/setup-message/abc", "Y").Code)
	rec := do(t, s, http.MethodGet, "/setup-message/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Y", rec.Body.String())

	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/setup-message/abc", "Z", MessageIDHeader, "r2").Code)
	assert.Equal(t, "Z", do(t, s, http.MethodGet, "/setup-message/abc", "", MessageIDHeader, "r2").Body.String())
	assert.Equal(t, "Y", do(t, s, http.MethodGet, "/setup-message/abc", "").Body.String())
}

func TestBodyLimit(t *testing.T) {
	s, _ := newTestServer(t)
	big := strings.Repeat("x", 2048)
	assert.Equal(t, http.StatusRequestEntityTooLarge, do(t, s, http.MethodPost, "/payload/"+relay.Hash(big), big).Code)
}

func TestTeardownReadsNotFound(t *testing.T) {
	s, stores := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/abc", `["A","B"]`).Code)
	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/setup-message/abc", "X").Code)
	require.NoError(t, stores.Clear(context.Background()))
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/setup-message/abc", "").Code)
}

func TestDeleteMessageBlankHashKeepsMailbox(t *testing.T) {
	s, _ := newTestServer(t)
	for _, hash := range []string{"h1", "h2"} {
		body := `{"from":"A","to":["B"],"body":"x","hash":"` + hash + `"}`
		require.Equal(t, http.StatusAccepted, do(t, s, http.MethodPost, "/message/abc", body).Code)
	}

	for _, path := range []string{"/message/abc/B/", "/message/abc/B"} {
		rec := do(t, s, http.MethodDelete, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "message hash is required", path)
	}
	assert.Len(t, decode[[]model.Message](t, do(t, s, http.MethodGet, "/message/abc/B", "")), 2)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodDelete, "/message/abc/B?all=true", "").Code)
	assert.Empty(t, decode[[]model.Message](t, do(t, s, http.MethodGet, "/message/abc/B", "")))
}

func TestBlankParamOnPrefixedRoutes(t *testing.T) {
	s, stores := newTestServer(t)
	tests := []struct {
		method string
		path   string
		body   string
		want   string
	}{
		{http.MethodPost, "/start/", `["A"]`, "session ID is required"},
		{http.MethodGet, "/start/", "", "session ID is required"},
		{http.MethodGet, "/start", "", "session ID is required"},
		{http.MethodPost, "/complete/", `["A"]`, "session ID is required"},
		{http.MethodGet, "/complete", "", "session ID is required"},
		{http.MethodPost, "/message/", `{"to":["B"],"hash":"H"}`, "session ID is required"},
		{http.MethodGet, "/message/", "", "session ID is required"},
		{http.MethodDelete, "/message", "", "session ID is required"},
		{http.MethodPost, "/setup-message/", "setup", "session ID is required"},
		{http.MethodGet, "/setup-message", "", "session ID is required"},
		{http.MethodPost, "/payload/", "content", "payload hash is required"},
		{http.MethodGet, "/payload", "", "payload hash is required"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
	for _, sessionID := range []string{"start", "complete", "message", "setup-message", "payload"} {
		_, err := stores.Sessions.Participants(context.Background(), sessionID)
		assert.ErrorIs(t, err, storage.ErrNotFound, sessionID)
	}
}

func TestReservedSessionIDs(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/ping", `["A"]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "reserved")
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodDelete, "/ping", "").Code)

	rec = do(t, s, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Vultisig mediator is running", rec.Body.String())
}

func TestParticipantsNeedJSONContentType(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/abc", strings.NewReader(`["A"]`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/abc", `["A"]`).Code)
}
