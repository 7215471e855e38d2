package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mocks "github.com/cbodonnell/apsync/mocks/github.com/cbodonnell/apsync/pkg/api/handlers"
	"github.com/cbodonnell/apsync/pkg/catalog"
	"github.com/cbodonnell/apsync/pkg/core"
	"github.com/cbodonnell/apsync/pkg/engine"
	"github.com/cbodonnell/apsync/pkg/log"
	"github.com/cbodonnell/apsync/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, controller *mocks.Controller, token string, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	NewRouter(controller, token).ServeHTTP(rec, req)
	return rec
}

func TestRouter_status(t *testing.T) {
	controller := mocks.NewController(t)
	controller.On("Status").Return(&core.Status{
		State:      "synced",
		Generation: 2,
		Sync:       engine.Stats{Connected: true, Checked: 4},
	}).Once()

	rec := serve(t, controller, "", httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	var status core.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "synced", status.State)
	assert.Equal(t, 4, status.Sync.Checked)
}

func TestRouter_state(t *testing.T) {
	controller := mocks.NewController(t)
	controller.On("Snapshot", mock.Anything).Return(&state.Snapshot{
		Key:              state.SessionKey{Seed: "83712", Slot: "Player 1"},
		CheckedLocations: []catalog.NormalizedID{3780001},
	}, nil).Once()
	controller.On("Snapshot", mock.Anything).Return(nil, errors.New("boom")).Once()

	rec := serve(t, controller, "", httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"checked_locations":[3780001]`)

	rec = serve(t, controller, "", httptest.NewRequest(http.MethodGet, "/state", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRouter_logs(t *testing.T) {
	controller := mocks.NewController(t)
	controller.On("Logs").Return([]log.Entry{{Message: "Received Estus Flask from player 2"}}).Once()

	rec := serve(t, controller, "", httptest.NewRequest(http.MethodGet, "/logs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []log.Entry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Received Estus Flask from player 2", entries[0].Message)
}

func TestRouter_actions(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		setup    func(c *mocks.Controller)
		wantCode int
	}{
		{
			name:     "reconnect",
			method:   http.MethodPost,
			path:     "/reconnect",
			setup:    func(c *mocks.Controller) { c.On("Reconnect").Return(nil).Once() },
			wantCode: http.StatusAccepted,
		},
		{
			name:     "reconnect failure",
			method:   http.MethodPost,
			path:     "/reconnect",
			setup:    func(c *mocks.Controller) { c.On("Reconnect").Return(errors.New("session not started")).Once() },
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "update url",
			method:   http.MethodPost,
			path:     "/url",
			body:     `{"url": "archipelago.gg:38281"}`,
			setup:    func(c *mocks.Controller) { c.On("UpdateURL", "archipelago.gg:38281").Return(nil).Once() },
			wantCode: http.StatusAccepted,
		},
		{
			name:     "update url without url",
			method:   http.MethodPost,
			path:     "/url",
			body:     `{"url": " "}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "update url with bad body",
			method:   http.MethodPost,
			path:     "/url",
			body:     `url=archipelago.gg`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "say",
			method:   http.MethodPost,
			path:     "/say",
			body:     `{"text": "!hint Estus Flask"}`,
			setup:    func(c *mocks.Controller) { c.On("Say", mock.Anything, "!hint Estus Flask").Return(nil).Once() },
			wantCode: http.StatusNoContent,
		},
		{
			name:     "say while offline",
			method:   http.MethodPost,
			path:     "/say",
			body:     `{"text": "hello"}`,
			setup:    func(c *mocks.Controller) { c.On("Say", mock.Anything, "hello").Return(errors.New("not connected")).Once() },
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "reset",
			method:   http.MethodPost,
			path:     "/reset",
			setup:    func(c *mocks.Controller) { c.On("ResetSession", mock.Anything).Return(nil).Once() },
			wantCode: http.StatusNoContent,
		},
		{
			name:     "wrong method",
			method:   http.MethodGet,
			path:     "/reconnect",
			wantCode: http.StatusMethodNotAllowed,
		},
		{
			name:     "preflight",
			method:   http.MethodOptions,
			path:     "/url",
			wantCode: http.StatusNoContent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			controller := mocks.NewController(t)
			if tt.setup != nil {
				tt.setup(controller)
			}
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := serve(t, controller, "", req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestRouter_token(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantCode int
	}{
		{name: "missing", wantCode: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic c2VjcmV0", wantCode: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer nope", wantCode: http.StatusUnauthorized},
		{name: "valid", header: "Bearer secret", wantCode: http.StatusOK},
		{name: "lowercase scheme", header: "bearer secret", wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			controller := mocks.NewController(t)
			if tt.wantCode == http.StatusOK {
				controller.On("Status").Return(&core.Status{}).Once()
			}
			req := httptest.NewRequest(http.MethodGet, "/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := serve(t, controller, "secret", req)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}

	// preflight requests carry no credentials
	rec := serve(t, mocks.NewController(t), "secret", httptest.NewRequest(http.MethodOptions, "/status", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
