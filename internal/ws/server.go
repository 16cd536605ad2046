package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"taskflow/internal/auth"
	"taskflow/internal/services/directory"
)

const (
	dispatchTimeout  = 5 * time.Second
	admissionTimeout = 5 * time.Second
)

type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*directory.User, error)
}

type MembershipChecker interface {
	ProjectRole(ctx context.Context, projectID, userID string) (string, error)
}

type Options struct {
	SendBuffer     int
	AllowedOrigins []string
}

type WsServer struct {
	registry *Registry
	router   *Router
	verifier TokenVerifier
	users    UserDirectory
	members  MembershipChecker
	upgrader websocket.Upgrader
	opts     Options
}

func NewWsServer(reg *Registry, verifier TokenVerifier, users UserDirectory, members MembershipChecker, opts Options) *WsServer {
	srv := &WsServer{
		registry: reg,
		router:   NewRouter(),
		verifier: verifier,
		users:    users,
		members:  members,
		opts:     opts,
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	srv.registerHandlers() // ← all WS endpoints configured here
	return srv
}

func (s *WsServer) Registry() *Registry { return s.registry }

// Shutdown closes every live connection.
func (s *WsServer) Shutdown() {
	s.registry.CloseAll(ReasonServerShutdown)
}

// ---------------------------------------------------------------------------
//  Public: Gin entry‑point
// ---------------------------------------------------------------------------

// Handle admits a connection. The credential is checked before the upgrade,
// so a rejected client never gets a session.
func (s *WsServer) Handle(ginCtx *gin.Context) {
	token := strings.TrimSpace(ginCtx.Query("token"))
	if token == "" {
		token = auth.BearerToken(ginCtx.GetHeader("Authorization"))
	}
	if token == "" {
		ginCtx.JSON(http.StatusUnauthorized, gin.H{"error": "authentication token required"})
		return
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		zap.L().Debug("ws.admission_token", zap.Error(err))
		ginCtx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authentication token"})
		return
	}

	ctx, cancel := context.WithTimeout(ginCtx.Request.Context(), admissionTimeout)
	user, err := s.users.GetUser(ctx, claims.Subject)
	cancel()
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			ginCtx.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		zap.L().Error("ws.admission_lookup", zap.String("user_id", claims.Subject), zap.Error(err))
		ginCtx.JSON(http.StatusInternalServerError, gin.H{"error": "authentication failed"})
		return
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}

	// ─────────────────── Client admitted ────────────────────────
	conn := newClientConn(rawConn, *user, s.opts.SendBuffer, s.registry.now())
	if err := s.registry.Register(conn); err != nil {
		zap.L().Error("ws.register", zap.String("conn_id", conn.id), zap.Error(err))
		_ = rawConn.Close()
		return
	}
	s.registry.SendTo(conn.id, EventConnected, ConnectedBody{ConnectionID: conn.id, User: conn.user})

	zap.L().Info("ws.connected",
		zap.String("conn_id", conn.id),
		zap.String("user_id", conn.user.ID),
		zap.String("remote", ginCtx.ClientIP()))

	go conn.writePump()
	go s.reader(conn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	// 🔹 project rooms --------------------------------------------------------
	Register(s.router, EventJoinProject, s.joinProject)
	Register(s.router, EventLeaveProject,
		func(_ context.Context, cc *ConnContext, req ProjectRequest) error {
			return ignoreClosed(s.registry.LeaveProject(cc.ConnID, req.ProjectID))
		},
	)

	// 🔹 task rooms -----------------------------------------------------------
	Register(s.router, EventSubscribeTask,
		func(_ context.Context, cc *ConnContext, req TaskRequest) error {
			return ignoreClosed(s.registry.SubscribeTask(cc.ConnID, req.TaskID))
		},
	)
	Register(s.router, EventUnsubscribeTask,
		func(_ context.Context, cc *ConnContext, req TaskRequest) error {
			return ignoreClosed(s.registry.UnsubscribeTask(cc.ConnID, req.TaskID))
		},
	)

	// 🔹 ephemeral signaling --------------------------------------------------
	for _, event := range []string{EventTypingStart, EventTypingStop} {
		Register(s.router, event,
			func(_ context.Context, cc *ConnContext, req TypingRequest) error {
				s.registry.RelayTyping(cc.ConnID, event, req.TaskID, req.CommentID)
				return nil
			},
		)
	}
	Register(s.router, EventPresenceUpdate,
		func(_ context.Context, cc *ConnContext, req PresenceRequest) error {
			s.registry.RelayPresence(cc.ConnID, req.Status)
			return nil
		},
	)
	Register(s.router, EventActivityHeartbeat,
		func(_ context.Context, cc *ConnContext, _ HeartbeatRequest) error {
			s.registry.Touch(cc.ConnID)
			return nil
		},
	)
}

// joinProject gates the room on project membership. The lookup happens
// without the registry lock; if the connection went away meanwhile the
// registry refuses the join and nothing is emitted.
func (s *WsServer) joinProject(ctx context.Context, cc *ConnContext, req ProjectRequest) error {
	if _, err := s.members.ProjectRole(ctx, req.ProjectID, cc.User.ID); err != nil {
		if errors.Is(err, directory.ErrNotMember) {
			return &EventError{Code: CodeAccessDenied, Message: "Access denied to project"}
		}
		zap.L().Warn("ws.join_project",
			zap.String("conn_id", cc.ConnID),
			zap.String("user_id", cc.User.ID),
			zap.String("project_id", req.ProjectID),
			zap.Error(err))
		return &EventError{Code: CodeJoinProjectError, Message: "Failed to join project"}
	}
	return ignoreClosed(s.registry.JoinProject(cc.ConnID, req.ProjectID))
}

func (s *WsServer) reader(conn *clientConn) {
	reason := ReasonTransportError
	defer func() {
		conn.close(reason)
		s.registry.Unregister(conn.id, conn.closeReason())
		zap.L().Info("ws.disconnected",
			zap.String("conn_id", conn.id),
			zap.String("user_id", conn.user.ID),
			zap.String("reason", conn.closeReason()))
	}()

	conn.rawConn.SetReadLimit(maxMessageSize)
	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cc := &ConnContext{ConnID: conn.id, User: conn.user}

	for {
		_, data, err := conn.rawConn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				reason = ReasonClientDisconnect
			}
			return // client closed or errored
		}
		_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleFrame(cc, data)
	}
}

// handleFrame decodes and dispatches one inbound frame. Frames from one
// connection are handled in arrival order.
func (s *WsServer) handleFrame(cc *ConnContext, data []byte) {
	s.registry.Touch(cc.ConnID)

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError(cc, "", &EventError{Code: CodeInvalidPayload, Message: "malformed frame"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	err := s.router.dispatch(ctx, cc, env)
	cancel()

	// ---- error -> {"event":"error", "body":{...}} ---------------
	if err != nil {
		s.sendError(cc, env.Event, err)
	}
}

func (s *WsServer) sendError(cc *ConnContext, event string, err error) {
	body := ErrorBody{Event: event}

	var evErr *EventError
	if errors.As(err, &evErr) {
		body.Code, body.Message = evErr.Code, evErr.Message
	} else {
		zap.L().Error("ws.handler_failed",
			zap.String("conn_id", cc.ConnID),
			zap.String("user_id", cc.User.ID),
			zap.String("event", event),
			zap.Error(err))
		body.Code, body.Message = CodeInternalError, "internal error"
		if event == EventJoinProject {
			body.Code, body.Message = CodeJoinProjectError, "Failed to join project"
		}
	}
	s.registry.SendTo(cc.ConnID, EventErrorFrame, body)
}

func ignoreClosed(err error) error {
	if errors.Is(err, ErrConnectionClosed) {
		return nil
	}
	return err
}

// originChecker allows requests without an Origin header (non-browser
// clients), a "*" wildcard, or an exact host match against the list.
func originChecker(allowed []string) func(r *http.Request) bool {
	hosts := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			wildcard = true
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts[strings.ToLower(u.Host)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := hosts[strings.ToLower(u.Host)]
		return ok
	}
}
