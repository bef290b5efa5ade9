package routes

import (
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"

	"github.com/labstack/echo/v4"
)

type queryBody struct {
	Query string `json:"query" validate:"required,max=2000"`
	TopK  int    `json:"top_k" validate:"omitempty,min=1,max=50"`
}

func (b *queryBody) topK(fallback int) int {
	if b.TopK > 0 {
		return b.TopK
	}
	return fallback
}

// QueryHandler retrieves context for a question and extracts typed
// relationships from it.
func QueryHandler(c echo.Context) error {
	data := new(queryBody)
	if err := bindAndValidate(c, data); err != nil || strings.TrimSpace(data.Query) == "" {
		return badRequest(c, "Invalid request body")
	}

	app, _ := appOf(c)
	extraction, err := app.Pipeline.Run(c.Request().Context(), strings.TrimSpace(data.Query), data.topK(app.TopK))
	if err != nil {
		return fail(c, "Query failed", err)
	}
	return c.JSON(http.StatusOK, struct {
		common.Extraction
		Found bool `json:"found"`
	}{extraction, len(extraction.Relationships) > 0})
}
