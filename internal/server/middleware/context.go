package middleware

import (
	"context"

	"github.com/OFFIS-RIT/biorel/backend/internal/queue"
	"github.com/OFFIS-RIT/biorel/backend/internal/server/sessions"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// QueryRunner answers a question with extracted relationships.
type QueryRunner interface {
	Run(ctx context.Context, q string, topK int) (common.Extraction, error)
}

// App holds the long-lived dependencies shared by all handlers. Queue and
// Locker are optional.
type App struct {
	Ingestor   queue.Ingester
	Pipeline   QueryRunner
	Graph      store.GraphStore
	Sessions   *sessions.Registry
	Queue      queue.Publisher
	Locker     queue.RunLocker
	Keyfunc    jwt.Keyfunc
	PendingDir string
	TopK       int

	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app, nil})
		}
	}
}
