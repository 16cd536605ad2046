package directory

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	userQuery   = `SELECT id, email, .* FROM users WHERE id = \$1`
	memberQuery = `SELECT role FROM project_members WHERE project_id = \$1 AND user_id = \$2`
)

func TestGetUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(userQuery).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "role", "avatar_url"}).
			AddRow("u1", "u1@example.com", "User One", "developer", "https://cdn/u1.png"))

	svc := NewDirectoryService(db, nil, 0)
	u, err := svc.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, &User{ID: "u1", Email: "u1@example.com", Name: "User One", Role: "developer", AvatarURL: "https://cdn/u1.png"}, u)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(userQuery).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	svc := NewDirectoryService(db, nil, 0)
	_, err = svc.GetUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestProjectRoleWithoutCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(memberQuery).
		WithArgs("p1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("owner"))
	mock.ExpectQuery(memberQuery).
		WithArgs("p1", "u2").
		WillReturnError(sql.ErrNoRows)

	svc := NewDirectoryService(db, nil, time.Minute)

	role, err := svc.ProjectRole(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "owner", role)

	_, err = svc.ProjectRole(context.Background(), "p1", "u2")
	assert.ErrorIs(t, err, ErrNotMember)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectRoleCacheHit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rdc, rmock := redismock.NewClientMock()
	rmock.ExpectGet("tf:member:p1:u1").SetVal("member")

	svc := NewDirectoryService(db, rdc, time.Minute)
	role, err := svc.ProjectRole(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "member", role)

	require.NoError(t, rmock.ExpectationsWereMet())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectRoleCacheMissFillsCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rdc, rmock := redismock.NewClientMock()
	rmock.ExpectGet("tf:member:p1:u1").RedisNil()
	rmock.ExpectSet("tf:member:p1:u1", "admin", time.Minute).SetVal("OK")

	mock.ExpectQuery(memberQuery).
		WithArgs("p1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("admin"))

	svc := NewDirectoryService(db, rdc, time.Minute)
	role, err := svc.ProjectRole(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "admin", role)

	require.NoError(t, rmock.ExpectationsWereMet())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectRoleCacheErrorFallsBackToDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rdc, rmock := redismock.NewClientMock()
	rmock.ExpectGet("tf:member:p1:u1").SetErr(errors.New("connection refused"))
	rmock.ExpectSet("tf:member:p1:u1", "member", time.Minute).SetErr(errors.New("connection refused"))

	mock.ExpectQuery(memberQuery).
		WithArgs("p1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("member"))

	svc := NewDirectoryService(db, rdc, time.Minute)
	role, err := svc.ProjectRole(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "member", role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProjectRoleNonMemberIsNotCached(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rdc, rmock := redismock.NewClientMock()
	rmock.ExpectGet("tf:member:p1:u9").RedisNil()

	mock.ExpectQuery(memberQuery).WithArgs("p1", "u9").WillReturnError(sql.ErrNoRows)

	svc := NewDirectoryService(db, rdc, time.Minute)
	_, err = svc.ProjectRole(context.Background(), "p1", "u9")
	assert.ErrorIs(t, err, ErrNotMember)
	require.NoError(t, rmock.ExpectationsWereMet())
}
