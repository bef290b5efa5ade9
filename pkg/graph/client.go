package graph

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/OFFIS-RIT/biorel/backend/pkg/ai"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
)

// maxAttempts allows exactly one retry after a schema violation.
const maxAttempts = 2

// GraphClient extracts typed relationships from retrieved context with a
// single structured completion per query.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	aiClient    ai.GraphAIClient
	prompt      *template.Template
	model       string
	temperature float64
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// PromptTemplate replaces the built-in extraction prompt. It is a
// text/template that can use the join and inc functions.
// Model overrides the adapter's default extraction model.
type NewGraphClientParams struct {
	AIClient       ai.GraphAIClient
	PromptTemplate string
	Model          string
	Temperature    float64
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		AIClient: aiClient,
//		Model:    "gpt-4.1-mini",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Returns an error wrapping common.ErrConfiguration when the prompt
// template does not parse.
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.AIClient == nil {
		return nil, fmt.Errorf("%w: graph client needs an ai client", common.ErrConfiguration)
	}
	text := params.PromptTemplate
	if strings.TrimSpace(text) == "" {
		text = ai.ExtractPromptTemplate
	}
	prompt, err := ParsePromptTemplate(text)
	if err != nil {
		return nil, err
	}

	return &GraphClient{
		aiClient:    params.AIClient,
		prompt:      prompt,
		model:       params.Model,
		temperature: params.Temperature,
	}, nil
}

// ParsePromptTemplate parses an extraction prompt template.
func ParsePromptTemplate(text string) (*template.Template, error) {
	t, err := template.New("extract").Funcs(template.FuncMap{
		"join": func(types []common.EntityType, sep string) string {
			parts := make([]string, len(types))
			for i, t := range types {
				parts[i] = string(t)
			}
			return strings.Join(parts, sep)
		},
		"inc": func(i int) int { return i + 1 },
	}).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid extraction prompt template: %v", common.ErrConfiguration, err)
	}
	return t, nil
}
