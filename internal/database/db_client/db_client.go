package db_client

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

type Options struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

func (o Options) dsn() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(o.User, o.Password),
		Host:   fmt.Sprintf("%s:%s", o.Host, o.Port),
		Path:   "/" + o.Database,
	}
	return u.String()
}

// Open connects to Postgres through the pgx stdlib driver and pings it.
func Open(opts Options) (*sql.DB, error) {
	db, err := sql.Open("pgx", opts.dsn())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		zap.L().Error("pg_connect", zap.String("host", opts.Host), zap.Error(err))
		return nil, fmt.Errorf("postgres connection failed: %w", err)
	}
	return db, nil
}
