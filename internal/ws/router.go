package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"taskflow/internal/services/directory"
)

// ConnContext identifies the connection a frame arrived on.
type ConnContext struct {
	ConnID string
	User   directory.User
}

// internal (untyped) handler signature.
type rawHandler func(ctx context.Context, c *ConnContext, body json.RawMessage) error

// Router keeps a map[event]handler, à‑la gin.Engine.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
	validate *validator.Validate
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]rawHandler),
		validate: validator.New(),
	}
}

// Register binds an event to a strongly‑typed handler. The body is decoded
// into Req and validated with its `validate` tags before h runs; decode and
// validation failures surface as INVALID_PAYLOAD.
func Register[Req any](
	r *Router,
	event string,
	h func(ctx context.Context, c *ConnContext, req Req) error,
) {
	if event == "" {
		panic("ws router: empty event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = func(ctx context.Context, c *ConnContext, body json.RawMessage) error {
		var req Req
		if len(body) > 0 && string(body) != "null" {
			if err := json.Unmarshal(body, &req); err != nil {
				return &EventError{Code: CodeInvalidPayload, Message: "malformed body"}
			}
		}
		if err := r.validate.Struct(req); err != nil {
			return &EventError{Code: CodeInvalidPayload, Message: err.Error()}
		}
		return h(ctx, c, req)
	}
}

// dispatch is called by the server's reader loop. A panicking handler is
// turned into an error so one bad frame cannot take the process down.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, env Envelope) (err error) {
	r.mu.RLock()
	h, ok := r.handlers[env.Event]
	r.mu.RUnlock()
	if !ok {
		return &EventError{Code: CodeUnknownEvent, Message: "unknown event " + env.Event}
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, c, env.Body)
}
