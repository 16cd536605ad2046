package taskhandler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskflow/internal/auth"
	"taskflow/internal/services/directory"
	"taskflow/internal/services/tasks"
	"taskflow/internal/ws"
)

const userIDContextKey = "taskflow_user_id"

type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

type MembershipChecker interface {
	ProjectRole(ctx context.Context, projectID, userID string) (string, error)
}

// Realtime is the read side of the session registry.
type Realtime interface {
	OnlineUsersForProject(projectID string) []directory.User
	Stats() ws.Stats
}

type Handler struct {
	svc      tasks.ITaskService
	members  MembershipChecker
	rt       Realtime
	verifier TokenVerifier
}

func New(svc tasks.ITaskService, members MembershipChecker, rt Realtime, verifier TokenVerifier) *Handler {
	return &Handler{svc: svc, members: members, rt: rt, verifier: verifier}
}

func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.health)

	protected := r.Group("/")
	protected.Use(h.authorize)
	protected.GET("/realtime/stats", h.realtimeStats)
	protected.GET("/projects/:id/online-users", h.onlineUsers)
	protected.PATCH("/projects/:id", h.updateProject)
	protected.PATCH("/tasks/:id", h.updateTask)
	protected.POST("/tasks/:id/comments", h.addComment)
}

func (h *Handler) authorize(c *gin.Context) {
	claims, err := h.verifier.Verify(auth.BearerToken(c.GetHeader("Authorization")))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Next()
}

// requireMember writes the error response itself and reports whether the
// caller may continue.
func (h *Handler) requireMember(c *gin.Context, projectID string) bool {
	_, err := h.members.ProjectRole(c.Request.Context(), projectID, c.GetString(userIDContextKey))
	switch {
	case err == nil:
		return true
	case errors.Is(err, directory.ErrNotMember):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "access denied to project"})
	default:
		zap.L().Error("taskhandler.membership", zap.String("project_id", projectID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "membership check failed"})
	}
	return false
}

// @Summary		Health check
// @Description	Liveness plus realtime connection counters.
// @Tags			Ops
// @Success		200	{object}	HealthResponse
// @Router			/health [get]
func (h *Handler) health(c *gin.Context) {
	stats := h.rt.Stats()
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Realtime: RealtimeCounters{
			TotalConnections: stats.TotalConnections,
			UniqueUsers:      stats.UniqueUsers,
			TotalRooms:       stats.TotalRooms,
		},
	})
}

// @Summary		Realtime connection details
// @Description	Counters plus one entry per live connection.
// @Tags			Ops
// @Security		BearerAuth
// @Success		200	{object}	RealtimeStatsResponse
// @Failure		401	{object}	ErrorResponse
// @Router			/realtime/stats [get]
func (h *Handler) realtimeStats(c *gin.Context) {
	c.JSON(http.StatusOK, RealtimeStatsResponse{Stats: h.rt.Stats()})
}

// @Summary		Online users of a project
// @Description	Distinct users currently connected to the project's realtime room.
// @Tags			Projects
// @Param			id	path		string	true	"Project ID"
// @Success		200	{object}	OnlineUsersResponse
// @Failure		403	{object}	ErrorResponse
// @Router			/projects/{id}/online-users [get]
func (h *Handler) onlineUsers(c *gin.Context) {
	projectID := c.Param("id")
	if !h.requireMember(c, projectID) {
		return
	}
	users := h.rt.OnlineUsersForProject(projectID)
	c.JSON(http.StatusOK, OnlineUsersResponse{ProjectID: projectID, Count: len(users), Users: users})
}

// @Summary		Update a project
// @Description	Updates name, description or color and notifies the project room.
// @Tags			Projects
// @Param			id		path		string				true	"Project ID"
// @Param			body	body		tasks.ProjectPatch	true	"Fields to change"
// @Success		200		{object}	ProjectUpdateResponse
// @Failure		400		{object}	ErrorResponse
// @Failure		403		{object}	ErrorResponse
// @Failure		404		{object}	ErrorResponse
// @Router			/projects/{id} [patch]
func (h *Handler) updateProject(c *gin.Context) {
	var patch tasks.ProjectPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	projectID := c.Param("id")
	if !h.requireMember(c, projectID) {
		return
	}

	project, changes, err := h.svc.UpdateProject(c.Request.Context(), projectID, patch)
	if err != nil {
		h.fail(c, "taskhandler.update_project", err)
		return
	}
	c.JSON(http.StatusOK, ProjectUpdateResponse{Project: project, Changes: changes})
}

// @Summary		Update a task
// @Description	Applies a partial update and broadcasts the diff to the task and project rooms.
// @Tags			Tasks
// @Param			id		path		string			true	"Task ID"
// @Param			body	body		tasks.TaskPatch	true	"Fields to change"
// @Success		200		{object}	TaskUpdateResponse
// @Failure		400		{object}	ErrorResponse
// @Failure		403		{object}	ErrorResponse
// @Failure		404		{object}	ErrorResponse
// @Router			/tasks/{id} [patch]
func (h *Handler) updateTask(c *gin.Context) {
	var patch tasks.TaskPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	taskID := c.Param("id")
	projectID, err := h.svc.TaskProject(c.Request.Context(), taskID)
	if err != nil {
		h.fail(c, "taskhandler.task_project", err)
		return
	}
	if !h.requireMember(c, projectID) {
		return
	}

	task, changes, err := h.svc.UpdateTask(c.Request.Context(), taskID, patch)
	if err != nil {
		h.fail(c, "taskhandler.update_task", err)
		return
	}
	c.JSON(http.StatusOK, TaskUpdateResponse{Task: task, Changes: changes})
}

// @Summary		Comment on a task
// @Description	Adds a comment and notifies the task and project rooms.
// @Tags			Tasks
// @Param			id		path		string		true	"Task ID"
// @Param			body	body		CommentBody	true	"Comment payload"
// @Success		201		{object}	tasks.CommentDTO
// @Failure		400		{object}	ErrorResponse
// @Failure		403		{object}	ErrorResponse
// @Failure		404		{object}	ErrorResponse
// @Router			/tasks/{id}/comments [post]
func (h *Handler) addComment(c *gin.Context) {
	var body CommentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	taskID := c.Param("id")
	projectID, err := h.svc.TaskProject(c.Request.Context(), taskID)
	if err != nil {
		h.fail(c, "taskhandler.task_project", err)
		return
	}
	if !h.requireMember(c, projectID) {
		return
	}

	comment, err := h.svc.AddComment(c.Request.Context(), taskID, c.GetString(userIDContextKey), body.Content)
	if err != nil {
		h.fail(c, "taskhandler.add_comment", err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound), errors.Is(err, tasks.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, tasks.ErrEmptyComment):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		zap.L().Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
