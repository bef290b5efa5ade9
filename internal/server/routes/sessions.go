package routes

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/biorel/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/curation"

	"github.com/labstack/echo/v4"
)

type sessionParams struct {
	ID string `param:"id" validate:"required"`
}

type sessionResponse struct {
	Message    string             `json:"message,omitempty"`
	Progress   curation.Progress  `json:"progress"`
	Current    *common.Candidate  `json:"current,omitempty"`
	Duplicate  bool               `json:"duplicate"`
	Skipped    *errorResponse     `json:"skipped,omitempty"`
	Outcome    *curation.Outcome  `json:"outcome,omitempty"`
	Extraction *common.Extraction `json:"extraction,omitempty"`
}

func sessionFor(c echo.Context) (*curation.Session, error) {
	params := new(sessionParams)
	if err := c.Bind(params); err != nil {
		return nil, err
	}
	if err := c.Validate(params); err != nil {
		return nil, err
	}
	app, user := appOf(c)
	return app.Sessions.Get(params.ID, user.UserID, middleware.IsAdmin(user))
}

// CreateSessionHandler starts a review session either from a question,
// whose extracted relationships become the candidates, or from an explicit
// candidate list.
func CreateSessionHandler(c echo.Context) error {
	type createSessionBody struct {
		Query      string             `json:"query" validate:"omitempty,max=2000"`
		TopK       int                `json:"top_k" validate:"omitempty,min=1,max=50"`
		Candidates []common.Candidate `json:"candidates"`
	}

	data := new(createSessionBody)
	if err := bindAndValidate(c, data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	q := strings.TrimSpace(data.Query)
	if (q == "") == (data.Candidates == nil) {
		return badRequest(c, "Provide either a query or a candidate list")
	}

	app, user := appOf(c)
	res := sessionResponse{}
	candidates := data.Candidates
	if q != "" {
		topK := data.TopK
		if topK == 0 {
			topK = app.TopK
		}
		extraction, err := app.Pipeline.Run(c.Request().Context(), q, topK)
		if err != nil {
			return fail(c, "Query failed", err)
		}
		candidates = curation.CandidatesFromExtraction(extraction)
		res.Extraction = &extraction
	}

	_, progress, err := app.Sessions.Create(user.UserID, candidates)
	if err != nil {
		return fail(c, "Failed to create session", err)
	}
	res.Message = "Session created"
	res.Progress = progress
	res.Current = progress.Current
	return c.JSON(http.StatusCreated, res)
}

// GetSessionHandler returns the candidate under review. Incomplete
// candidates are skipped on the way and reported in the response.
func GetSessionHandler(c echo.Context) error {
	s, err := sessionFor(c)
	if err != nil {
		return fail(c, "Session not found", err)
	}

	app, _ := appOf(c)
	ctx := c.Request().Context()
	res := sessionResponse{}

	_, err = s.Current(ctx)
	var missing *common.MissingFieldsError
	switch {
	case errors.As(err, &missing):
		res.Skipped = &errorResponse{Message: "Skipped candidate with missing fields", Error: missing.CandidateID, Fields: missing.Fields}
	case err != nil && !errors.Is(err, curation.ErrComplete) && !errors.Is(err, curation.ErrNoBatch):
		return fail(c, "Failed to load candidate", err)
	}

	res.Progress = s.Progress()
	res.Current = res.Progress.Current
	if res.Current != nil {
		duplicate, err := curation.IsDuplicate(ctx, app.Graph, *res.Current)
		if err != nil {
			return fail(c, "Duplicate check failed", err)
		}
		if duplicate {
			res.Duplicate = true
			res.Message = "This relationship already exists in the graph"
		}
	}
	return c.JSON(http.StatusOK, res)
}

func ConfirmHandler(c echo.Context) error {
	return sessionAction(c, (*curation.Session).Confirm)
}

func RejectHandler(c echo.Context) error {
	return sessionAction(c, (*curation.Session).Reject)
}

func SkipHandler(c echo.Context) error {
	return sessionAction(c, (*curation.Session).Skip)
}

func sessionAction(c echo.Context, action func(*curation.Session, context.Context) (curation.Outcome, error)) error {
	s, err := sessionFor(c)
	if err != nil {
		return fail(c, "Session not found", err)
	}

	out, err := action(s, c.Request().Context())
	var missing *common.MissingFieldsError
	if errors.As(err, &missing) {
		p := s.Progress()
		return c.JSON(http.StatusUnprocessableEntity, sessionResponse{
			Message:  "Candidate is missing required fields and was skipped",
			Progress: p,
			Current:  p.Current,
			Skipped:  &errorResponse{Message: missing.Error(), Error: missing.CandidateID, Fields: missing.Fields},
		})
	}
	if err != nil {
		return fail(c, "Review action failed", err)
	}

	res := sessionResponse{Progress: out.Progress, Current: out.Progress.Current, Duplicate: out.Duplicate, Outcome: &out}
	if out.Duplicate {
		res.Message = "Relationship already existed in the graph and was updated"
	}
	return c.JSON(http.StatusOK, res)
}

func RestartSessionHandler(c echo.Context) error {
	s, err := sessionFor(c)
	if err != nil {
		return fail(c, "Session not found", err)
	}
	p, err := s.StartOver()
	if err != nil {
		return fail(c, "Cannot start over", err)
	}
	return c.JSON(http.StatusOK, sessionResponse{Message: "Starting over", Progress: p, Current: p.Current})
}

func GetDecisionsHandler(c echo.Context) error {
	s, err := sessionFor(c)
	if err != nil {
		return fail(c, "Session not found", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": s.ID(),
		"decisions":  s.Decisions(),
	})
}

func DeleteSessionHandler(c echo.Context) error {
	params := new(sessionParams)
	if err := bindAndValidate(c, params); err != nil {
		return badRequest(c, "Invalid request params")
	}
	app, user := appOf(c)
	if err := app.Sessions.Delete(params.ID, user.UserID, middleware.IsAdmin(user)); err != nil {
		return fail(c, "Session not found", err)
	}
	return c.NoContent(http.StatusNoContent)
}
