package directory

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

const redisMemberKeyPrefix = "tf:member:"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrNotMember    = errors.New("not a project member")
)

type IDirectoryService interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	ProjectRole(ctx context.Context, projectID, userID string) (string, error)
}

type directoryService struct {
	db       *sql.DB
	rdc      *redis.Client
	cacheTTL time.Duration
}

var _ IDirectoryService = (*directoryService)(nil)

// NewDirectoryService reads users and project members from Postgres.
// When rdc is non-nil and cacheTTL > 0, positive membership lookups are
// cached in Redis for cacheTTL.
func NewDirectoryService(db *sql.DB, rdc *redis.Client, cacheTTL time.Duration) IDirectoryService {
	return &directoryService{
		db:       db,
		rdc:      rdc,
		cacheTTL: cacheTTL,
	}
}

func (svc *directoryService) GetUser(ctx context.Context, userID string) (*User, error) {
	const q = `SELECT id, email, coalesce(full_name,''), coalesce(role,''), coalesce(avatar_url,'')
	             FROM users WHERE id = $1`
	u := &User{}
	err := svc.db.QueryRowContext(ctx, q, userID).Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.AvatarURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// ProjectRole returns the user's role in the project or ErrNotMember.
func (svc *directoryService) ProjectRole(ctx context.Context, projectID, userID string) (string, error) {
	key := redisMemberKeyPrefix + projectID + ":" + userID
	if svc.cacheEnabled() {
		role, err := svc.rdc.Get(ctx, key).Result()
		switch {
		case err == nil:
			return role, nil
		case !errors.Is(err, redis.Nil):
			// cache trouble only costs a database round-trip
			zap.L().Warn("directory.cache_get", zap.String("key", key), zap.Error(err))
		}
	}

	const q = `SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`
	var role string
	if err := svc.db.QueryRowContext(ctx, q, projectID, userID).Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotMember
		}
		return "", err
	}

	if svc.cacheEnabled() {
		if err := svc.rdc.Set(ctx, key, role, svc.cacheTTL).Err(); err != nil {
			zap.L().Warn("directory.cache_set", zap.String("key", key), zap.Error(err))
		}
	}
	return role, nil
}

func (svc *directoryService) cacheEnabled() bool {
	return svc.rdc != nil && svc.cacheTTL > 0
}
