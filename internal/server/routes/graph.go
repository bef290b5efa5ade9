package routes

import (
	"bytes"
	"net/http"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"

	"github.com/labstack/echo/v4"
)

type edgesQuery struct {
	Relation   string `query:"relation" validate:"omitempty,max=64"`
	EntityType string `query:"entity_type" validate:"omitempty,max=64"`
	Keyword    string `query:"keyword" validate:"omitempty,max=255"`
	Limit      int    `query:"limit" validate:"omitempty,min=1,max=5000"`
}

func edgeFilter(c echo.Context) (common.EdgeFilter, error) {
	q := new(edgesQuery)
	if err := bindAndValidate(c, q); err != nil {
		return common.EdgeFilter{}, err
	}
	filter := common.EdgeFilter{Keyword: q.Keyword, Limit: q.Limit}
	if q.Relation != "" {
		kind, err := common.ParseRelationKind(q.Relation)
		if err != nil {
			return common.EdgeFilter{}, err
		}
		filter.Relation = kind
	}
	if q.EntityType != "" {
		filter.EntityType = common.ParseEntityType(q.EntityType)
	}
	return filter, nil
}

// ListEdgesHandler browses committed relationships.
func ListEdgesHandler(c echo.Context) error {
	filter, err := edgeFilter(c)
	if err != nil {
		return badRequest(c, "Invalid filter")
	}
	app, _ := appOf(c)
	edges, err := app.Graph.ListEdges(c.Request().Context(), filter)
	if err != nil {
		return fail(c, "Failed to list edges", err)
	}
	if edges == nil {
		edges = []common.Edge{}
	}
	return c.JSON(http.StatusOK, map[string]any{"edges": edges, "count": len(edges)})
}

// ExportEdgesHandler downloads the filtered relationships as CSV.
func ExportEdgesHandler(c echo.Context) error {
	filter, err := edgeFilter(c)
	if err != nil {
		return badRequest(c, "Invalid filter")
	}
	app, _ := appOf(c)
	edges, err := app.Graph.ListEdges(c.Request().Context(), filter)
	if err != nil {
		return fail(c, "Failed to list edges", err)
	}

	var buf bytes.Buffer
	if err := common.WriteEdgesCSV(&buf, edges); err != nil {
		return fail(c, "Failed to export edges", err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="relationships.csv"`)
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// ListRelationsHandler returns the relationship vocabulary with its
// direction rules.
func ListRelationsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"version":      common.RelationKindsVersion,
		"relations":    common.RelationRules(),
		"entity_types": common.EntityTypes(),
	})
}
