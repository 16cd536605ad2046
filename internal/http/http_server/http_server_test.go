package http_server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/auth"
	"taskflow/internal/http/taskhandler"
	"taskflow/internal/services/directory"
	"taskflow/internal/services/tasks"
	"taskflow/internal/ws"
)

var testSecret = []byte("http-server-test-secret-0123456789")

type wireFrame struct {
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body"`
}

func newTestStack(t *testing.T) (*httpServer, sqlmock.Sqlmock, *auth.Issuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	verifier, err := auth.NewVerifier(auth.Config{SigningSecret: testSecret})
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(auth.Config{SigningSecret: testSecret})
	require.NoError(t, err)

	dir := directory.NewDirectoryService(db, nil, 0)
	reg := ws.NewRegistry(nil)
	wsSrv := ws.NewWsServer(reg, verifier, dir, dir, ws.Options{})
	taskSvc := tasks.NewTaskService(db, reg)
	handler := taskhandler.New(taskSvc, dir, reg, verifier)

	srv := NewHttpServer(context.Background(), 0, wsSrv, handler, []string{"http://localhost:5173"})
	return srv, mock, issuer
}

func TestCorsConfig(t *testing.T) {
	cfg := corsConfig([]string{"*"})
	assert.True(t, cfg.AllowAllOrigins)
	assert.Empty(t, cfg.AllowOrigins)

	cfg = corsConfig(nil)
	assert.True(t, cfg.AllowAllOrigins)

	cfg = corsConfig([]string{"http://localhost:5173", "", "https://app.taskflow.dev"})
	assert.False(t, cfg.AllowAllOrigins)
	assert.True(t, cfg.AllowCredentials)
	assert.Equal(t, []string{"http://localhost:5173", "https://app.taskflow.dev"}, cfg.AllowOrigins)
}

func TestRouterServesHealthWithCors(t *testing.T) {
	srv, _, _ := newTestStack(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	var body taskhandler.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Zero(t, body.Realtime.TotalConnections)
}

func TestTaskPatchReachesProjectRoom(t *testing.T) {
	srv, mock, issuer := newTestStack(t)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	token, err := issuer.Issue("u1", "ada@example.com", time.Hour)
	require.NoError(t, err)

	// admission
	mock.ExpectQuery(`FROM users WHERE id = \$1`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "role", "avatar_url"}).
			AddRow("u1", "ada@example.com", "Ada", "authenticated", ""))
	// join:project
	mock.ExpectQuery(`FROM project_members`).WithArgs("P1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("owner"))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() wireFrame {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var f wireFrame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	assert.Equal(t, ws.EventConnected, read().Event)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"event": ws.EventJoinProject,
		"body":  map[string]string{"projectId": "P1"},
	}))
	assert.Equal(t, ws.EventJoinedProject, read().Event)

	// PATCH /tasks/T1
	mock.ExpectQuery(`SELECT project_id FROM tasks`).WithArgs("T1").
		WillReturnRows(sqlmock.NewRows([]string{"project_id"}).AddRow("P1"))
	mock.ExpectQuery(`FROM project_members`).WithArgs("P1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("owner"))
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM tasks WHERE id = \$1 FOR UPDATE`).WithArgs("T1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "title", "description", "status", "priority", "assignee_id", "story_points", "updated_at"}).
			AddRow("T1", "P1", "Write docs", "", "todo", "medium", nil, nil, time.Now()))
	mock.ExpectExec(`UPDATE tasks`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	req, err := http.NewRequest(http.MethodPatch, ts.URL+"/tasks/T1", strings.NewReader(`{"status":"in_progress"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f := read()
	require.Equal(t, ws.EventTaskUpdated, f.Event)
	var body struct {
		Task    tasks.TaskDTO `json:"task"`
		Changes tasks.Changes `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(f.Body, &body))
	assert.Equal(t, "in_progress", body.Task.Status)
	assert.Equal(t, "todo", body.Changes["status"].From)
	require.NoError(t, mock.ExpectationsWereMet())
}
