package ws

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"taskflow/internal/services/directory"
)

const (
	projectRoomPrefix = "project:"
	taskRoomPrefix    = "task:"
)

var (
	ErrConnectionClosed    = errors.New("connection is not registered")
	ErrDuplicateConnection = errors.New("connection is already registered")
)

func ProjectRoom(projectID string) string { return projectRoomPrefix + projectID }
func TaskRoom(taskID string) string       { return taskRoomPrefix + taskID }

type ConnectionInfo struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

type Stats struct {
	TotalConnections int              `json:"totalConnections"`
	UniqueUsers      int              `json:"uniqueUsers"`
	TotalRooms       int              `json:"totalRooms"`
	Connections      []ConnectionInfo `json:"connections"`
}

// Registry owns every live connection, the user -> connections index, the
// room -> connections index and its reverse (connection -> rooms).
//
// One mutex guards all four maps, so each join, leave, unregister and
// broadcast is a single atomic step. Broadcast frames are queued while the
// lock is held, which gives every member of a room the same delivery order.
// Empty sets are pruned as soon as they become empty.
type Registry struct {
	mu        sync.Mutex
	conns     map[string]*clientConn
	users     map[string]map[string]*clientConn
	rooms     map[string]map[string]*clientConn
	connRooms map[string]map[string]struct{}

	now func() time.Time
}

// NewRegistry returns an empty registry. A nil clock means time.Now.
func NewRegistry(clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		conns:     make(map[string]*clientConn),
		users:     make(map[string]map[string]*clientConn),
		rooms:     make(map[string]map[string]*clientConn),
		connRooms: make(map[string]map[string]struct{}),
		now:       clock,
	}
}

// ─────────────────────────────── lifecycle ───────────────────────────────────

func (r *Registry) Register(c *clientConn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.id]; ok {
		return ErrDuplicateConnection
	}
	r.conns[c.id] = c
	set, ok := r.users[c.user.ID]
	if !ok {
		set = make(map[string]*clientConn)
		r.users[c.user.ID] = set
	}
	set[c.id] = c
	return nil
}

// Unregister removes the connection from every index and tells the remaining
// members of each project room it was in. Task rooms are left silently.
// Calling it for an unknown connection is a no-op.
func (r *Registry) Unregister(connID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	delete(r.conns, connID)

	if set, ok := r.users[c.user.ID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, c.user.ID)
		}
	}

	var leftProjects []string
	for room := range r.connRooms[connID] {
		r.removeMemberLocked(room, connID)
		if projectID, ok := strings.CutPrefix(room, projectRoomPrefix); ok {
			leftProjects = append(leftProjects, projectID)
		}
	}
	delete(r.connRooms, connID)

	sort.Strings(leftProjects)
	for _, projectID := range leftProjects {
		r.broadcastLocked(ProjectRoom(projectID), "", EventUserLeft, UserLeftBody{
			User:      c.user,
			ProjectID: projectID,
			Reason:    reason,
		})
	}

	zap.L().Debug("ws.unregister",
		zap.String("conn_id", connID),
		zap.String("user_id", c.user.ID),
		zap.String("reason", reason),
		zap.Int("project_rooms_left", len(leftProjects)))
	return true
}

// CloseAll asks every connection to close. Cleanup happens as each
// connection's reader exits.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		c.close(reason)
	}
}

// Touch refreshes the connection's last-activity time.
func (r *Registry) Touch(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if ok {
		c.lastActivity = r.now()
	}
	return ok
}

// ─────────────────────────────── rooms ───────────────────────────────────────

// JoinProject adds the connection to the project room, notifies the other
// members with "user:joined" and acks the joiner with "joined:project".
// A connection already in the room is only re-acked.
func (r *Registry) JoinProject(connID, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return ErrConnectionClosed
	}
	room := ProjectRoom(projectID)
	if r.addMemberLocked(room, c) {
		r.broadcastLocked(room, connID, EventUserJoined, UserJoinedBody{User: c.user, ProjectID: projectID})
	}
	r.sendLocked(c, EventJoinedProject, ProjectAckBody{ProjectID: projectID})
	return nil
}

// LeaveProject removes the connection from the project room and acks the
// leaver. Remaining members are not notified.
func (r *Registry) LeaveProject(connID, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return ErrConnectionClosed
	}
	r.removeMemberLocked(ProjectRoom(projectID), connID)
	r.sendLocked(c, EventLeftProject, ProjectAckBody{ProjectID: projectID})
	return nil
}

func (r *Registry) SubscribeTask(connID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return ErrConnectionClosed
	}
	r.addMemberLocked(TaskRoom(taskID), c)
	r.sendLocked(c, EventSubscribedTask, TaskAckBody{TaskID: taskID})
	return nil
}

func (r *Registry) UnsubscribeTask(connID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return ErrConnectionClosed
	}
	r.removeMemberLocked(TaskRoom(taskID), connID)
	r.sendLocked(c, EventUnsubscribedTask, TaskAckBody{TaskID: taskID})
	return nil
}

// RoomsOf returns the rooms the connection is in, sorted.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.connRooms[connID]))
	for room := range r.connRooms[connID] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// ─────────────────────────────── signaling ───────────────────────────────────

// RelayTyping forwards a typing start/stop to every other member of the
// task room. Nothing is remembered.
func (r *Registry) RelayTyping(connID, event, taskID, commentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return 0
	}
	return r.broadcastLocked(TaskRoom(taskID), connID, event, TypingBody{
		User:      c.user,
		TaskID:    taskID,
		CommentID: commentID,
	})
}

// RelayPresence forwards the status to the other members of every project
// room the connection is in.
func (r *Registry) RelayPresence(connID, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return 0
	}
	body := PresenceBody{User: c.user, Status: status}
	delivered := 0
	for room := range r.connRooms[connID] {
		if strings.HasPrefix(room, projectRoomPrefix) {
			delivered += r.broadcastLocked(room, connID, EventPresenceUpdate, body)
		}
	}
	return delivered
}

// PingIdle sends a "ping" to every connection idle for longer than threshold.
func (r *Registry) PingIdle(threshold time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-threshold)
	pinged := 0
	for _, c := range r.conns {
		if c.lastActivity.Before(cutoff) && r.sendLocked(c, EventPing, nil) {
			pinged++
		}
	}
	return pinged
}

// SendTo queues an event for a single connection.
func (r *Registry) SendTo(connID, event string, body any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	return r.sendLocked(c, event, body)
}

// ─────────────────────────────── broadcast API ───────────────────────────────
//
// None of these fail: a room or user without live connections is a no-op.
// The return value is the number of connections the event was queued to.

func (r *Registry) BroadcastToProject(projectID, event string, body any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(ProjectRoom(projectID), "", event, body)
}

func (r *Registry) BroadcastToTask(taskID, event string, body any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(TaskRoom(taskID), "", event, body)
}

func (r *Registry) BroadcastToUser(userID, event string, body any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fanoutLocked(r.users[userID], "", event, body)
}

// BroadcastTaskUpdate delivers "task:updated" to the task room and then to
// the owning project's room. A connection in both receives it twice.
func (r *Registry) BroadcastTaskUpdate(taskID, projectID string, task, changes any) int {
	body := TaskUpdatedBody{Task: task, Changes: changes}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.broadcastLocked(TaskRoom(taskID), "", EventTaskUpdated, body)
	return n + r.broadcastLocked(ProjectRoom(projectID), "", EventTaskUpdated, body)
}

func (r *Registry) BroadcastCommentAdded(taskID, projectID string, comment any) int {
	body := CommentAddedBody{Comment: comment, TaskID: taskID}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.broadcastLocked(TaskRoom(taskID), "", EventCommentAdded, body)
	return n + r.broadcastLocked(ProjectRoom(projectID), "", EventCommentAdded, body)
}

func (r *Registry) BroadcastProjectUpdate(projectID string, project any) int {
	return r.BroadcastToProject(projectID, EventProjectUpdated, ProjectUpdatedBody{Project: project})
}

// ─────────────────────────────── queries ─────────────────────────────────────

// OnlineUsersForProject returns the distinct users currently in the project
// room, sorted by id.
func (r *Registry) OnlineUsersForProject(projectID string) []directory.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{})
	users := make([]directory.User, 0)
	for _, c := range r.rooms[ProjectRoom(projectID)] {
		if _, dup := seen[c.user.ID]; dup {
			continue
		}
		seen[c.user.ID] = struct{}{}
		users = append(users, c.user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Stats{
		TotalConnections: len(r.conns),
		UniqueUsers:      len(r.users),
		TotalRooms:       len(r.rooms),
		Connections:      make([]ConnectionInfo, 0, len(r.conns)),
	}
	for _, c := range r.conns {
		st.Connections = append(st.Connections, ConnectionInfo{
			ConnectionID: c.id,
			UserID:       c.user.ID,
			JoinedAt:     c.joinedAt,
			LastActivity: c.lastActivity,
		})
	}
	sort.Slice(st.Connections, func(i, j int) bool {
		return st.Connections[i].JoinedAt.Before(st.Connections[j].JoinedAt) ||
			(st.Connections[i].JoinedAt.Equal(st.Connections[j].JoinedAt) &&
				st.Connections[i].ConnectionID < st.Connections[j].ConnectionID)
	})
	return st
}

// ─────────────────────────────── helpers (mu held) ───────────────────────────

// addMemberLocked reports whether the connection was newly added.
func (r *Registry) addMemberLocked(room string, c *clientConn) bool {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*clientConn)
		r.rooms[room] = members
	}
	if _, already := members[c.id]; already {
		return false
	}
	members[c.id] = c

	rooms, ok := r.connRooms[c.id]
	if !ok {
		rooms = make(map[string]struct{})
		r.connRooms[c.id] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

func (r *Registry) removeMemberLocked(room, connID string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, ok := r.connRooms[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.connRooms, connID)
		}
	}
}

func (r *Registry) broadcastLocked(room, exceptConnID, event string, body any) int {
	return r.fanoutLocked(r.rooms[room], exceptConnID, event, body)
}

func (r *Registry) fanoutLocked(targets map[string]*clientConn, exceptConnID, event string, body any) int {
	if len(targets) == 0 {
		return 0
	}
	msg, err := encodeFrame(event, body, r.now())
	if err != nil {
		zap.L().Error("ws.encode_frame", zap.String("event", event), zap.Error(err))
		return 0
	}
	delivered := 0
	for id, c := range targets {
		if id == exceptConnID {
			continue
		}
		if c.enqueue(msg) {
			delivered++
		}
	}
	return delivered
}

func (r *Registry) sendLocked(c *clientConn, event string, body any) bool {
	msg, err := encodeFrame(event, body, r.now())
	if err != nil {
		zap.L().Error("ws.encode_frame", zap.String("event", event), zap.Error(err))
		return false
	}
	return c.enqueue(msg)
}
