package tasks

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TaskDTO struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"       example:"in_progress"`
	Priority    string    `json:"priority"     example:"high"`
	AssigneeID  *string   `json:"assignee_id"`
	StoryPoints *int      `json:"story_points"`
	UpdatedAt   time.Time `json:"updated_at"   example:"2025-07-27T16:05:05Z"`
}

type CommentDTO struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at" example:"2025-07-27T16:05:05Z"`
}

type ProjectDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Color       string    `json:"color" example:"#3b82f6"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FieldChange is one entry of the diff sent with "task:updated".
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Changes maps a field name (JSON name) to its before/after values.
type Changes map[string]FieldChange

// TaskPatch carries the fields a client wants to change. Nil means
// "leave as is"; an empty assignee clears the assignment.
type TaskPatch struct {
	Title       *string `json:"title"        binding:"omitempty,min=1,max=200"`
	Description *string `json:"description"  binding:"omitempty,max=10000"`
	Status      *string `json:"status"       binding:"omitempty,oneof=todo in_progress in_review done"`
	Priority    *string `json:"priority"     binding:"omitempty,oneof=low medium high urgent"`
	AssigneeID  *string `json:"assignee_id"`
	StoryPoints *int    `json:"story_points" binding:"omitempty,min=0,max=100"`
} // @name TaskPatch

type ProjectPatch struct {
	Name        *string `json:"name"        binding:"omitempty,min=1,max=120"`
	Description *string `json:"description" binding:"omitempty,max=5000"`
	Color       *string `json:"color"       binding:"omitempty,hexcolor"`
} // @name ProjectPatch

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrEmptyComment    = errors.New("comment content required")
)

// Notifier is the realtime broadcast surface called after a commit.
type Notifier interface {
	BroadcastTaskUpdate(taskID, projectID string, task, changes any) int
	BroadcastCommentAdded(taskID, projectID string, comment any) int
	BroadcastProjectUpdate(projectID string, project any) int
}

type ITaskService interface {
	TaskProject(ctx context.Context, taskID string) (string, error)
	UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (*TaskDTO, Changes, error)
	AddComment(ctx context.Context, taskID, userID, content string) (*CommentDTO, error)
	UpdateProject(ctx context.Context, projectID string, patch ProjectPatch) (*ProjectDTO, Changes, error)
}

type taskService struct {
	db       *sql.DB
	notifier Notifier
	now      func() time.Time
}

var _ ITaskService = (*taskService)(nil)

func NewTaskService(db *sql.DB, notifier Notifier) ITaskService {
	return &taskService{
		db:       db,
		notifier: notifier,
		now:      time.Now,
	}
}

// TaskProject returns the id of the project owning the task.
func (svc *taskService) TaskProject(ctx context.Context, taskID string) (string, error) {
	var projectID string
	err := svc.db.QueryRowContext(ctx, `SELECT project_id FROM tasks WHERE id = $1`, taskID).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTaskNotFound
	}
	return projectID, err
}

// UpdateTask applies the patch under a row lock, and after commit notifies
// the task and project rooms with the diff. A patch that changes nothing is
// neither written nor broadcast.
func (svc *taskService) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (*TaskDTO, Changes, error) {
	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	const selectQ = `
	  SELECT id, project_id, title, coalesce(description,''), status, priority,
	         assignee_id, story_points, updated_at
	    FROM tasks WHERE id = $1 FOR UPDATE`

	var (
		task     TaskDTO
		assignee sql.NullString
		points   sql.NullInt64
	)
	err = tx.QueryRowContext(ctx, selectQ, taskID).Scan(
		&task.ID, &task.ProjectID, &task.Title, &task.Description,
		&task.Status, &task.Priority, &assignee, &points, &task.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrTaskNotFound
		}
		return nil, nil, err
	}
	if assignee.Valid {
		task.AssigneeID = &assignee.String
	}
	if points.Valid {
		p := int(points.Int64)
		task.StoryPoints = &p
	}

	changes := applyTaskPatch(&task, patch)
	if len(changes) == 0 {
		return &task, changes, nil
	}

	const updateQ = `
	  UPDATE tasks
	     SET title = $2, description = $3, status = $4, priority = $5,
	         assignee_id = $6, story_points = $7, updated_at = $8
	   WHERE id = $1`

	task.UpdatedAt = svc.now().UTC()
	if _, err = tx.ExecContext(ctx, updateQ,
		task.ID, task.Title, task.Description, task.Status, task.Priority,
		nullString(task.AssigneeID), nullInt(task.StoryPoints), task.UpdatedAt,
	); err != nil {
		return nil, nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, nil, err
	}

	n := svc.notifier.BroadcastTaskUpdate(task.ID, task.ProjectID, task, changes)
	zap.L().Debug("tasks.update",
		zap.String("task_id", task.ID),
		zap.Int("changed_fields", len(changes)),
		zap.Int("delivered", n))
	return &task, changes, nil
}

func (svc *taskService) AddComment(ctx context.Context, taskID, userID, content string) (*CommentDTO, error) {
	if content == "" {
		return nil, ErrEmptyComment
	}
	projectID, err := svc.TaskProject(ctx, taskID)
	if err != nil {
		return nil, err
	}

	c := &CommentDTO{
		ID:      uuid.NewString(),
		TaskID:  taskID,
		UserID:  userID,
		Content: content,
	}
	const ins = `INSERT INTO comments (id, task_id, user_id, content)
	             VALUES ($1, $2, $3, $4) RETURNING created_at`
	if err := svc.db.QueryRowContext(ctx, ins, c.ID, c.TaskID, c.UserID, c.Content).Scan(&c.CreatedAt); err != nil {
		return nil, err
	}

	svc.notifier.BroadcastCommentAdded(taskID, projectID, c)
	return c, nil
}

func (svc *taskService) UpdateProject(ctx context.Context, projectID string, patch ProjectPatch) (*ProjectDTO, Changes, error) {
	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	const selectQ = `
	  SELECT id, name, coalesce(description,''), coalesce(color,''), updated_at
	    FROM projects WHERE id = $1 FOR UPDATE`

	var p ProjectDTO
	if err := tx.QueryRowContext(ctx, selectQ, projectID).Scan(
		&p.ID, &p.Name, &p.Description, &p.Color, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrProjectNotFound
		}
		return nil, nil, err
	}

	changes := Changes{}
	setString(changes, "name", &p.Name, patch.Name)
	setString(changes, "description", &p.Description, patch.Description)
	setString(changes, "color", &p.Color, patch.Color)
	if len(changes) == 0 {
		return &p, changes, nil
	}

	p.UpdatedAt = svc.now().UTC()
	const updateQ = `UPDATE projects SET name = $2, description = $3, color = $4, updated_at = $5 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateQ, p.ID, p.Name, p.Description, p.Color, p.UpdatedAt); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	svc.notifier.BroadcastProjectUpdate(p.ID, p)
	return &p, changes, nil
}

// helpers

func applyTaskPatch(task *TaskDTO, patch TaskPatch) Changes {
	changes := Changes{}
	setString(changes, "title", &task.Title, patch.Title)
	setString(changes, "description", &task.Description, patch.Description)
	setString(changes, "status", &task.Status, patch.Status)
	setString(changes, "priority", &task.Priority, patch.Priority)

	if patch.AssigneeID != nil {
		next := patch.AssigneeID
		if *next == "" {
			next = nil
		}
		if !equalPtr(task.AssigneeID, next) {
			changes["assignee_id"] = FieldChange{From: derefAny(task.AssigneeID), To: derefAny(next)}
			task.AssigneeID = next
		}
	}
	if patch.StoryPoints != nil && !equalPtr(task.StoryPoints, patch.StoryPoints) {
		changes["story_points"] = FieldChange{From: derefAny(task.StoryPoints), To: *patch.StoryPoints}
		v := *patch.StoryPoints
		task.StoryPoints = &v
	}
	return changes
}

func setString(changes Changes, name string, field *string, next *string) {
	if next == nil || *field == *next {
		return
	}
	changes[name] = FieldChange{From: *field, To: *next}
	*field = *next
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func derefAny[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
