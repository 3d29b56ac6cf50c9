package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/agent"
	"github.com/askdb-io/askdb-engine/pkg/apperrors"
	"github.com/askdb-io/askdb-engine/pkg/endpoint"
)

type fakeRunner struct {
	requests []agent.Request
	respond  func(agent.Request) (*agent.Response, error)
}

func (f *fakeRunner) Run(_ context.Context, req agent.Request) (*agent.Response, error) {
	f.requests = append(f.requests, req)
	if f.respond != nil {
		return f.respond(req)
	}
	return &agent.Response{Success: true, Message: "Retrieved 1 record(s)"}, nil
}

type fakeFeedback struct {
	recordID string
	feedback string
	err      error
}

func (f *fakeFeedback) SetFeedback(_ context.Context, recordID, feedback string) error {
	f.recordID = recordID
	f.feedback = feedback
	return f.err
}

func newTestMux(runner Runner, feedback FeedbackSetter) *http.ServeMux {
	mux := http.NewServeMux()
	NewQueryHandler(runner, feedback, false, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func postJSON(t *testing.T, mux *http.ServeMux, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestQueryEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	mux := newTestMux(runner, &fakeFeedback{})

	rec := postJSON(t, mux, "/api/query", "alice",
		`{"query":"show me all users","dbUrl":"mongodb://localhost:27017/shop","dryRun":true,"insight":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.requests, 1)
	got := runner.requests[0]
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "show me all users", got.Text)
	assert.Equal(t, endpoint.KindDocument, got.Endpoint.Kind)
	assert.True(t, got.DryRun)
	assert.True(t, got.Verbose)

	var resp agent.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestQueryRequiresUserIdentity(t *testing.T) {
	mux := newTestMux(&fakeRunner{}, &fakeFeedback{})

	rec := postJSON(t, mux, "/api/query", "", `{"query":"show users","dbUrl":"mongodb://localhost/db"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestQueryRejectsUnknownDBType(t *testing.T) {
	mux := newTestMux(&fakeRunner{}, &fakeFeedback{})

	rec := postJSON(t, mux, "/api/query", "alice",
		`{"query":"show users","dbUrl":"mongodb://localhost/db","dbType":"oracle"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["message"], "BadInput:")
}

func TestQueryValidationErrorShape(t *testing.T) {
	runner := &fakeRunner{
		respond: func(agent.Request) (*agent.Response, error) {
			return nil, fmt.Errorf("%w: query must be 3 to 500 characters", apperrors.ErrBadInput)
		},
	}
	mux := newTestMux(runner, &fakeFeedback{})

	rec := postJSON(t, mux, "/api/query", "alice", `{"query":"hi","dbUrl":"mongodb://localhost/db"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "BadInput: query must be 3 to 500 characters", body["message"])
}

func TestQueryConnectionFailureIsBadGateway(t *testing.T) {
	runner := &fakeRunner{
		respond: func(agent.Request) (*agent.Response, error) {
			return nil, apperrors.ConnectionFailed("preflight probe failed")
		},
	}
	mux := newTestMux(runner, &fakeFeedback{})

	rec := postJSON(t, mux, "/api/query", "alice", `{"query":"show users","dbUrl":"mongodb://localhost/db"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestFeedbackEndpoint(t *testing.T) {
	feedback := &fakeFeedback{}
	mux := newTestMux(&fakeRunner{}, feedback)

	rec := postJSON(t, mux, "/api/feedback", "alice", `{"queryId":"abc123","feedback":"+"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", feedback.recordID)
	assert.Equal(t, "+", feedback.feedback)
}

func TestFeedbackRejectsBadValue(t *testing.T) {
	mux := newTestMux(&fakeRunner{}, &fakeFeedback{})

	rec := postJSON(t, mux, "/api/feedback", "alice", `{"queryId":"abc123","feedback":"meh"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackUnknownRecord(t *testing.T) {
	feedback := &fakeFeedback{err: errors.New("memory record abc123 not found")}
	mux := newTestMux(&fakeRunner{}, feedback)

	rec := postJSON(t, mux, "/api/feedback", "alice", `{"queryId":"abc123","feedback":"-"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	mux := newTestMux(&fakeRunner{}, &fakeFeedback{})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Contains(t, resp.DBTypes, "document")
	assert.Contains(t, resp.Capabilities, "dryRun")
	assert.False(t, resp.LLMEnabled)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: nope", apperrors.ErrBadInput), http.StatusBadRequest},
		{fmt.Errorf("%w: scheme", apperrors.ErrUnsupportedEndpoint), http.StatusBadRequest},
		{fmt.Errorf("%w: other user", apperrors.ErrUnauthorized), http.StatusForbidden},
		{fmt.Errorf("%w: s1", apperrors.ErrSessionNotFound), http.StatusNotFound},
		{apperrors.ErrTimeout, http.StatusGatewayTimeout},
		{apperrors.ConnectionFailed("down"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
