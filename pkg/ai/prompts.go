package ai

// ExtractSystemPrompt frames every relationship extraction request.
const ExtractSystemPrompt = `You are a biomedical knowledge extraction assistant. You extract typed relationships between biological and chemical entities from scientific literature and only report what the provided context supports.`

// ExtractPromptTemplate is the default text/template used to render the
// extraction prompt. It receives the relation rules, entity types, context
// chunks, the query and the not-found sentence.
const ExtractPromptTemplate = `
# Task Context
You are given excerpts from scientific papers and a question. Identify the relationships between entities that answer the question.

# Relationship Types (version {{ .Version }})
Use only these relationship types. Entity1 is always the subject and Entity2 the object:
{{- range .Rules }}
- {{ .Kind }}: {{ .Description }}
{{- end }}

# Entity Types
Classify every entity as one of: {{ join .EntityTypes ", " }}.

# Detailed Task Description & Rules
- Use the exact entity names as they appear in the context. Do not paraphrase, abbreviate or expand them.
- Respect the direction of each relationship type. Never report a relationship with subject and object swapped.
- If an entity is isolated from an organism (ISOLATED_FROM), check whether the same organism produces it (PRODUCES).
- If a chemical is a metabolite (METABOLITE_OF) or precursor (PRECURSOR_OF), check for related biosynthetic relationships (BIOSYNTHESIZED_BY, PRODUCES).
- Only report relationships stated or directly implied by the context.
- Give each relationship a one sentence explanation of the evidence for it.
- Give a concise natural language explanation of the relationships you found.
- If the context does not contain the answer, return an empty list of relationships and the explanation "{{ .NotFound }}"

# Context
{{- range $i, $c := .Chunks }}

## Excerpt {{ inc $i }}{{ if $c.Title }} ({{ $c.Title }}){{ end }}
{{ $c.Text }}
{{- end }}

# Query
{{ .Query }}

# Output Formatting
Return a JSON object that conforms to the provided schema:
{
  "relationships": [
    {
      "entity1": "<subject name>",
      "entity1_type": "<entity type>",
      "relation": "<relationship type>",
      "entity2": "<object name>",
      "entity2_type": "<entity type>",
      "explanation": "<evidence for this relationship>"
    }
  ],
  "explanation": "<concise explanation>"
}
`
