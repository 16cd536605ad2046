package taskhandler

import (
	"taskflow/internal/services/directory"
	"taskflow/internal/ws"
)

type CommentBody struct {
	Content string `json:"content" binding:"required,min=1,max=5000" example:"Looks good to me"`
} // @name AddCommentRequest

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

// RealtimeCounters is the aggregate part of ws.Stats, safe to expose
// without authentication.
type RealtimeCounters struct {
	TotalConnections int `json:"totalConnections"`
	UniqueUsers      int `json:"uniqueUsers"`
	TotalRooms       int `json:"totalRooms"`
} // @name RealtimeCounters

type HealthResponse struct {
	Status   string           `json:"status" example:"ok"`
	Realtime RealtimeCounters `json:"realtime"`
} // @name HealthResponse

type RealtimeStatsResponse struct {
	ws.Stats
} // @name RealtimeStatsResponse

type OnlineUsersResponse struct {
	ProjectID string           `json:"project_id"`
	Count     int              `json:"count"`
	Users     []directory.User `json:"users"`
} // @name OnlineUsersResponse

type TaskUpdateResponse struct {
	Task    any `json:"task"`
	Changes any `json:"changes"`
} // @name TaskUpdateResponse

type ProjectUpdateResponse struct {
	Project any `json:"project"`
	Changes any `json:"changes"`
} // @name ProjectUpdateResponse
