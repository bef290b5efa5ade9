package routes

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/OFFIS-RIT/biorel/backend/internal/queue"
	"github.com/OFFIS-RIT/biorel/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/ingest"
	"github.com/OFFIS-RIT/biorel/backend/pkg/leaselock"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type ingestBody struct {
	Directory string `json:"directory" validate:"omitempty,max=255"`
}

// pendingDir resolves an optional subdirectory below the configured
// pending directory. Paths cannot escape it.
func pendingDir(app *middleware.App, sub string) string {
	if sub == "" {
		return app.PendingDir
	}
	return filepath.Join(app.PendingDir, filepath.Clean("/"+sub))
}

// IngestHandler runs an ingestion of the pending directory and waits for
// it to finish.
func IngestHandler(c echo.Context) error {
	type ingestResponse struct {
		Message string        `json:"message"`
		Result  ingest.Result `json:"result"`
	}

	data := new(ingestBody)
	if err := bindAndValidate(c, data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	app, _ := appOf(c)
	dir := pendingDir(app, data.Directory)

	var res ingest.Result
	run := func(ctx context.Context) error {
		var err error
		res, err = app.Ingestor.Ingest(ctx, dir)
		return err
	}

	var err error
	if app.Locker != nil {
		err = app.Locker.WithLease(c.Request().Context(), leaselock.IngestKey, leaselock.Options{Owner: "http:"}, run)
	} else {
		err = run(c.Request().Context())
	}

	switch {
	case errors.Is(err, common.ErrNoDocuments):
		return c.JSON(http.StatusOK, ingestResponse{Message: "No pending documents", Result: ingest.Result{}})
	case err != nil:
		return fail(c, "Ingestion failed", err)
	}
	return c.JSON(http.StatusOK, ingestResponse{Message: "Ingestion finished", Result: res})
}

// EnqueueIngestHandler schedules an ingestion run on the worker queue.
func EnqueueIngestHandler(c echo.Context) error {
	type enqueueResponse struct {
		Message string `json:"message"`
		JobID   string `json:"job_id,omitempty"`
	}

	data := new(ingestBody)
	if err := bindAndValidate(c, data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	app, user := appOf(c)
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, enqueueResponse{Message: "Job queue is not configured"})
	}

	id, err := queue.EnqueueIngest(c.Request().Context(), app.Queue, queue.IngestJobMsg{
		Directory:   pendingDir(app, data.Directory),
		RequestedBy: user.UserID,
	})
	if err != nil {
		return fail(c, "Failed to enqueue ingestion", err)
	}
	return c.JSON(http.StatusAccepted, enqueueResponse{Message: "Ingestion job queued", JobID: id})
}

// AddDocumentHandler embeds a document submitted in the request body.
func AddDocumentHandler(c echo.Context) error {
	type addDocumentBody struct {
		ID       string            `json:"id" validate:"omitempty,max=255"`
		Text     string            `json:"text" validate:"required"`
		Metadata map[string]string `json:"metadata"`
	}

	type addDocumentResponse struct {
		Message string        `json:"message"`
		Result  ingest.Result `json:"result"`
	}

	data := new(addDocumentBody)
	if err := bindAndValidate(c, data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	doc := common.Document{ID: data.ID, Text: data.Text, Metadata: data.Metadata}
	if doc.ID == "" && doc.Metadata[common.MetaSourceID] == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fail(c, "Failed to add document", err)
		}
		doc.ID = id
	}

	app, _ := appOf(c)
	res, err := app.Ingestor.AddDocument(c.Request().Context(), doc)
	if errors.Is(err, common.ErrNoDocuments) {
		return badRequest(c, "Document text is empty")
	}
	if err != nil {
		return fail(c, "Failed to add document", err)
	}
	return c.JSON(http.StatusCreated, addDocumentResponse{Message: "Document added", Result: res})
}
