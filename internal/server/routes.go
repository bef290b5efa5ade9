package server

import (
	"net/http"

	"github.com/OFFIS-RIT/biorel/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/biorel/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Ingestion routes
	apiRoutes.POST("/ingest", routes.IngestHandler, middleware.RequirePermission(middleware.PermIngestRun))
	apiRoutes.POST("/ingest/jobs", routes.EnqueueIngestHandler, middleware.RequirePermission(middleware.PermIngestEnqueue))
	apiRoutes.POST("/documents", routes.AddDocumentHandler, middleware.RequirePermission(middleware.PermDocumentAdd))

	// Query routes
	apiRoutes.POST("/query", routes.QueryHandler, middleware.RequirePermission(middleware.PermQueryRun))

	// Review session routes
	review := middleware.RequirePermission(middleware.PermSessionReview)
	apiRoutes.POST("/sessions", routes.CreateSessionHandler, review)
	apiRoutes.GET("/sessions/:id", routes.GetSessionHandler, review)
	apiRoutes.POST("/sessions/:id/confirm", routes.ConfirmHandler, review)
	apiRoutes.POST("/sessions/:id/reject", routes.RejectHandler, review)
	apiRoutes.POST("/sessions/:id/skip", routes.SkipHandler, review)
	apiRoutes.POST("/sessions/:id/restart", routes.RestartSessionHandler, review)
	apiRoutes.GET("/sessions/:id/decisions", routes.GetDecisionsHandler, review)
	apiRoutes.DELETE("/sessions/:id", routes.DeleteSessionHandler, review)

	// Graph routes
	view := middleware.RequirePermission(middleware.PermGraphView)
	apiRoutes.GET("/graph/edges", routes.ListEdgesHandler, view)
	apiRoutes.GET("/graph/edges.csv", routes.ExportEdgesHandler, view)
	apiRoutes.GET("/relations", routes.ListRelationsHandler)
}
